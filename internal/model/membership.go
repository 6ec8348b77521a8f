package model

import "time"

// MembershipStatus is the lifecycle state of a membership edge. Only
// active edges count toward aggregates.
type MembershipStatus string

const (
	StatusActive  MembershipStatus = "active"
	StatusPending MembershipStatus = "pending"
	StatusLeft    MembershipStatus = "left"
)

// Membership origins. Auto-created edges come from the resolver; manual
// joins and federated imports are created by flows outside this tool.
const (
	OriginAuto      = "auto"
	OriginManual    = "manual"
	OriginFederated = "federated"
)

// Membership is a user-to-group edge.
type Membership struct {
	ID       string           `json:"id"`
	GroupID  int64            `json:"group_id"`
	UserID   int64            `json:"user_id"`
	Status   MembershipStatus `json:"status"`
	Origin   string           `json:"origin,omitempty"`
	JoinedAt time.Time        `json:"joined_at"`
}
