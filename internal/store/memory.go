package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nexus-community/groups-cli/internal/model"
)

// MemoryStore is a mutex-guarded in-memory GroupStore. It backs engine and
// resolver tests and doubles as a throwaway dev backend.
type MemoryStore struct {
	mu      sync.RWMutex
	nextID  int64
	groups  map[int64]*model.Group
	members map[int64]map[int64]*model.Membership // group id -> user id -> edge
	runs    []RankingRun
}

// NewMemory creates an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		nextID:  1,
		groups:  make(map[int64]*model.Group),
		members: make(map[int64]map[int64]*model.Membership),
	}
}

// AddGroup inserts a group, assigning an ID if unset. Test seeding helper.
func (s *MemoryStore) AddGroup(g model.Group) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if g.ID == 0 {
		g.ID = s.nextID
	}
	if g.ID >= s.nextID {
		s.nextID = g.ID + 1
	}
	if g.Kind == "" {
		g.Kind = model.KindHub
	}
	now := time.Now()
	g.CreatedAt = now
	g.UpdatedAt = now
	g.Visible = true
	s.groups[g.ID] = &g
	return g.ID
}

// Migrate implements GroupStore.
func (s *MemoryStore) Migrate(ctx context.Context) error { return nil }

// Capabilities implements GroupStore.
func (s *MemoryStore) Capabilities() Capabilities {
	return Capabilities{HasFederatedOrigin: true, HasVisibility: true}
}

// Ping implements GroupStore.
func (s *MemoryStore) Ping(ctx context.Context) error { return nil }

// Close implements GroupStore.
func (s *MemoryStore) Close() error { return nil }

// FetchAllNodes implements GroupStore.
func (s *MemoryStore) FetchAllNodes(ctx context.Context, tenantID string) ([]model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var groups []model.Group
	for _, g := range s.groups {
		if g.TenantID == tenantID {
			groups = append(groups, *g)
		}
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].Name < groups[j].Name })
	return groups, nil
}

// GetNode implements GroupStore.
func (s *MemoryStore) GetNode(ctx context.Context, tenantID string, id int64) (*model.Group, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[id]
	if !ok || g.TenantID != tenantID {
		return nil, model.ErrNotFound
	}
	cp := *g
	return &cp, nil
}

// UpdateParent implements GroupStore.
func (s *MemoryStore) UpdateParent(ctx context.Context, tenantID string, nodeID int64, newParentID *int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.groups[nodeID]
	if !ok || g.TenantID != tenantID {
		return model.ErrNotFound
	}
	if newParentID == nil {
		g.ParentID = nil
	} else {
		pid := *newParentID
		g.ParentID = &pid
	}
	g.UpdatedAt = time.Now()
	return nil
}

// FetchActiveMemberships implements GroupStore.
func (s *MemoryStore) FetchActiveMemberships(ctx context.Context, groupID int64) ([]int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var users []int64
	for userID, m := range s.members[groupID] {
		if m.Status == model.StatusActive {
			users = append(users, userID)
		}
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users, nil
}

// FetchMembershipsForGroups implements GroupStore.
func (s *MemoryStore) FetchMembershipsForGroups(ctx context.Context, groupIDs []int64) (map[int64][]int64, error) {
	out := make(map[int64][]int64, len(groupIDs))
	for _, id := range groupIDs {
		users, _ := s.FetchActiveMemberships(ctx, id)
		if len(users) > 0 {
			out[id] = users
		}
	}
	return out, nil
}

// HasMembership implements GroupStore.
func (s *MemoryStore) HasMembership(ctx context.Context, groupID, userID int64) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.members[groupID][userID]
	return ok, nil
}

// CreateMembership implements GroupStore.
func (s *MemoryStore) CreateMembership(ctx context.Context, groupID, userID int64, origin string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.members[groupID] == nil {
		s.members[groupID] = make(map[int64]*model.Membership)
	}
	if _, exists := s.members[groupID][userID]; exists {
		return nil
	}
	s.members[groupID][userID] = &model.Membership{
		ID:       uuid.NewString(),
		GroupID:  groupID,
		UserID:   userID,
		Status:   model.StatusActive,
		Origin:   origin,
		JoinedAt: time.Now(),
	}
	return nil
}

// SetJoinedAt backdates an edge. Test seeding helper for recency scoring.
func (s *MemoryStore) SetJoinedAt(groupID, userID int64, joinedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m, ok := s.members[groupID][userID]; ok {
		m.JoinedAt = joinedAt
	}
}

// CountRecentMemberships implements GroupStore.
func (s *MemoryStore) CountRecentMemberships(ctx context.Context, groupIDs []int64, since time.Time) (map[int64]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	counts := make(map[int64]int, len(groupIDs))
	for _, id := range groupIDs {
		for _, m := range s.members[id] {
			if m.Status == model.StatusActive && !m.JoinedAt.Before(since) {
				counts[id]++
			}
		}
	}
	return counts, nil
}

// ReplaceFeatured implements GroupStore.
func (s *MemoryStore) ReplaceFeatured(ctx context.Context, tenantID string, kind model.GroupKind, ids []int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var cleared int64
	for _, g := range s.groups {
		if g.TenantID == tenantID && g.Kind == kind && g.Featured {
			g.Featured = false
			cleared++
		}
	}
	for _, id := range ids {
		if g, ok := s.groups[id]; ok && g.TenantID == tenantID {
			g.Featured = true
		}
	}
	return cleared, nil
}

// SetFeatured implements GroupStore.
func (s *MemoryStore) SetFeatured(ctx context.Context, tenantID string, ids []int64, featured bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if g, ok := s.groups[id]; ok && g.TenantID == tenantID {
			g.Featured = featured
		}
	}
	return nil
}

// AppendRankingRun implements GroupStore.
func (s *MemoryStore) AppendRankingRun(ctx context.Context, run *RankingRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r := *run
	r.ID = int64(len(s.runs) + 1)
	if r.RunAt.IsZero() {
		r.RunAt = time.Now()
	}
	s.runs = append(s.runs, r)
	return nil
}

// LastRankingRun implements GroupStore.
func (s *MemoryStore) LastRankingRun(ctx context.Context, tenantID, category string) (*RankingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for i := len(s.runs) - 1; i >= 0; i-- {
		r := s.runs[i]
		if r.TenantID == tenantID && r.Category == category && r.Status == RunComplete {
			return &r, nil
		}
	}
	return nil, nil
}

// ListRankingRuns implements GroupStore.
func (s *MemoryStore) ListRankingRuns(ctx context.Context, tenantID string, limit int) ([]RankingRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if limit <= 0 {
		limit = 50
	}
	var runs []RankingRun
	for i := len(s.runs) - 1; i >= 0 && len(runs) < limit; i-- {
		if s.runs[i].TenantID == tenantID {
			runs = append(runs, s.runs[i])
		}
	}
	return runs, nil
}
