package model

import "time"

// GroupKind discriminates the two node kinds in a tenant's group tree.
type GroupKind string

const (
	// KindHub is a geographic hub. Hub leaves are the unit of direct
	// geographic/text assignment.
	KindHub GroupKind = "hub"
	// KindCommunity is an interest or community group ranked by engagement.
	KindCommunity GroupKind = "community"
)

// Group is a single node in a tenant's group forest.
type Group struct {
	ID        int64      `json:"id"`
	TenantID  string     `json:"tenant_id"`
	Name      string     `json:"name"`
	ParentID  *int64     `json:"parent_id,omitempty"`
	Kind      GroupKind  `json:"kind"`
	Latitude  *float64   `json:"latitude,omitempty"`
	Longitude *float64   `json:"longitude,omitempty"`
	Visible   bool       `json:"visible"`
	Featured  bool       `json:"featured"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsRoot reports whether the group has no parent.
func (g *Group) IsRoot() bool {
	return g.ParentID == nil
}

// HasCoordinates reports whether both latitude and longitude are set.
func (g *Group) HasCoordinates() bool {
	return g.Latitude != nil && g.Longitude != nil
}
