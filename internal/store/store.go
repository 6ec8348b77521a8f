// Package store persists group nodes, membership edges, and the ranking log.
package store

import (
	"context"
	"time"

	"github.com/nexus-community/groups-cli/internal/model"
)

// Ranking run statuses recorded in the ranking log.
const (
	RunComplete = "complete"
	RunFailed   = "failed"
)

// RankingRun is one append-only entry in the featured-ranking log.
type RankingRun struct {
	ID        int64     `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Category  string    `json:"category"`
	Algorithm string    `json:"algorithm"`
	Status    string    `json:"status"`
	Cleared   int64     `json:"cleared"`
	Featured  int       `json:"featured"`
	Selected  []int64   `json:"selected,omitempty"`
	Error     string    `json:"error,omitempty"`
	RunAt     time.Time `json:"run_at"`
}

// GroupStore is the persistence interface for the group tree, membership
// edges, and featured flags. Implementations must be safe for concurrent use.
type GroupStore interface {
	// Nodes
	FetchAllNodes(ctx context.Context, tenantID string) ([]model.Group, error)
	GetNode(ctx context.Context, tenantID string, id int64) (*model.Group, error)
	// UpdateParent reparents a single node. Passing nil makes it a root.
	// Cycle checking belongs to the tree engine, not the store.
	UpdateParent(ctx context.Context, tenantID string, nodeID int64, newParentID *int64) error

	// Membership edges. Only status-active edges count toward aggregates.
	FetchActiveMemberships(ctx context.Context, groupID int64) ([]int64, error)
	FetchMembershipsForGroups(ctx context.Context, groupIDs []int64) (map[int64][]int64, error)
	HasMembership(ctx context.Context, groupID, userID int64) (bool, error)
	CreateMembership(ctx context.Context, groupID, userID int64, origin string) error
	CountRecentMemberships(ctx context.Context, groupIDs []int64, since time.Time) (map[int64]int, error)

	// Featured flags
	// ReplaceFeatured atomically clears every featured flag on nodes of the
	// given kind, then sets it on ids. Returns the number of cleared nodes.
	ReplaceFeatured(ctx context.Context, tenantID string, kind model.GroupKind, ids []int64) (int64, error)
	SetFeatured(ctx context.Context, tenantID string, ids []int64, featured bool) error

	// Ranking log (advisory; callers tolerate append failures)
	AppendRankingRun(ctx context.Context, run *RankingRun) error
	LastRankingRun(ctx context.Context, tenantID, category string) (*RankingRun, error)
	ListRankingRuns(ctx context.Context, tenantID string, limit int) ([]RankingRun, error)

	// Capabilities returns the schema capabilities resolved at connect time.
	Capabilities() Capabilities

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
