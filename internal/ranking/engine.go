// Package ranking periodically recomputes the bounded featured-group sets.
package ranking

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/nexus-community/groups-cli/internal/model"
	"github.com/nexus-community/groups-cli/internal/store"
	"github.com/nexus-community/groups-cli/internal/tree"
)

// Ranking categories. Each category clears and selects independently.
const (
	CategoryLocalHubs = "local_hubs"
	CategoryCommunity = "community_groups"
)

// Algorithm names recorded in the ranking log.
const (
	algLeafPopularity = "leaf_popularity_diversity_v2"
	algEngagement     = "engagement_score_v1"
)

// Engagement score weights: score = active*3 + joined-last-7-days*10.
const (
	activeWeight = 3
	recentWeight = 10
)

// Config holds the selection bounds for both categories.
type Config struct {
	// HubLimit caps the featured local-hub set. Zero selects 6.
	HubLimit int
	// HubMaxPerParent caps how many selected leaves may share an immediate
	// parent. Zero selects 2.
	HubMaxPerParent int
	// CommunityLimit caps the featured community set. Zero selects 6.
	CommunityLimit int
	// RecentWindow is the new-member lookback. Zero selects 7 days.
	RecentWindow time.Duration
}

func (c Config) withDefaults() Config {
	if c.HubLimit <= 0 {
		c.HubLimit = 6
	}
	if c.HubMaxPerParent <= 0 {
		c.HubMaxPerParent = 2
	}
	if c.CommunityLimit <= 0 {
		c.CommunityLimit = 6
	}
	if c.RecentWindow <= 0 {
		c.RecentWindow = 7 * 24 * time.Hour
	}
	return c
}

// CategoryStats summarizes one completed ranking run.
type CategoryStats struct {
	Category  string    `json:"category"`
	Algorithm string    `json:"algorithm"`
	Cleared   int64     `json:"cleared"`
	Featured  int       `json:"featured"`
	Selected  []int64   `json:"selected"`
	RunAt     time.Time `json:"run_at"`
}

// Engine recomputes featured sets. Runs are batch jobs; the CLEAR and SET
// happen in one store transaction so readers never observe a half-complete
// category during normal operation.
type Engine struct {
	store store.GroupStore
	tree  *tree.Engine
	cfg   Config
}

// NewEngine creates a ranking Engine.
func NewEngine(st store.GroupStore, tr *tree.Engine, cfg Config) *Engine {
	return &Engine{store: st, tree: tr, cfg: cfg.withDefaults()}
}

// UpdateFeaturedLeafGroups recomputes the featured local-hub set: leaves of
// the hub kind ranked by active member count descending, with at most
// HubMaxPerParent selections sharing an immediate parent so one county
// cannot monopolize the featured slate.
func (e *Engine) UpdateFeaturedLeafGroups(ctx context.Context, tenantID string) (*CategoryStats, error) {
	leaves, err := e.tree.GetLeafGroups(ctx, tenantID, model.KindHub, 0)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: fetch hub leaves")
	}

	perParent := make(map[int64]int)
	var selected []int64
	for _, leaf := range leaves {
		if len(selected) >= e.cfg.HubLimit {
			break
		}
		parent := int64(0) // roots share one diversity bucket
		if leaf.Group.ParentID != nil {
			parent = *leaf.Group.ParentID
		}
		if perParent[parent] >= e.cfg.HubMaxPerParent {
			continue
		}
		perParent[parent]++
		selected = append(selected, leaf.Group.ID)
	}

	return e.commit(ctx, tenantID, CategoryLocalHubs, algLeafPopularity, model.KindHub, selected)
}

// UpdateFeaturedCommunityGroups recomputes the featured community set using
// the engagement score over all non-hub groups.
func (e *Engine) UpdateFeaturedCommunityGroups(ctx context.Context, tenantID string) (*CategoryStats, error) {
	v, err := e.tree.ViewFor(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: build tenant view")
	}

	type scored struct {
		id    int64
		name  string
		score int
	}
	var groups []scored
	var ids []int64
	for _, root := range v.Roots() {
		for _, g := range v.Subtree(root.ID) {
			if g.Kind == model.KindHub {
				continue
			}
			groups = append(groups, scored{id: g.ID, name: g.Name})
			ids = append(ids, g.ID)
		}
	}

	members, err := e.store.FetchMembershipsForGroups(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: fetch community memberships")
	}
	recent, err := e.store.CountRecentMemberships(ctx, ids, time.Now().Add(-e.cfg.RecentWindow))
	if err != nil {
		return nil, eris.Wrap(err, "ranking: count recent memberships")
	}

	for i := range groups {
		groups[i].score = len(members[groups[i].id])*activeWeight + recent[groups[i].id]*recentWeight
	}
	sort.Slice(groups, func(i, j int) bool {
		if groups[i].score != groups[j].score {
			return groups[i].score > groups[j].score
		}
		return groups[i].name < groups[j].name
	})

	var selected []int64
	for _, g := range groups {
		if len(selected) >= e.cfg.CommunityLimit {
			break
		}
		selected = append(selected, g.id)
	}

	return e.commit(ctx, tenantID, CategoryCommunity, algEngagement, model.KindCommunity, selected)
}

// commit atomically replaces the category's featured set, then appends the
// advisory log entry. Log failures are logged and swallowed; the featured
// flags are already durable at that point.
func (e *Engine) commit(ctx context.Context, tenantID, category, algorithm string, kind model.GroupKind, selected []int64) (*CategoryStats, error) {
	cleared, err := e.store.ReplaceFeatured(ctx, tenantID, kind, selected)
	if err != nil {
		logErr := e.store.AppendRankingRun(ctx, &store.RankingRun{
			TenantID: tenantID, Category: category, Algorithm: algorithm,
			Status: store.RunFailed, Error: err.Error(), RunAt: time.Now(),
		})
		if logErr != nil {
			zap.L().Warn("ranking log append failed", zap.String("category", category), zap.Error(logErr))
		}
		return nil, eris.Wrapf(err, "ranking: replace featured for %s", category)
	}

	stats := &CategoryStats{
		Category:  category,
		Algorithm: algorithm,
		Cleared:   cleared,
		Featured:  len(selected),
		Selected:  selected,
		RunAt:     time.Now(),
	}
	e.tree.Invalidate(tenantID)

	if err := e.store.AppendRankingRun(ctx, &store.RankingRun{
		TenantID: tenantID, Category: category, Algorithm: algorithm,
		Status: store.RunComplete, Cleared: cleared, Featured: len(selected),
		Selected: selected, RunAt: stats.RunAt,
	}); err != nil {
		zap.L().Warn("ranking log append failed", zap.String("category", category), zap.Error(err))
	}

	zap.L().Info("featured set updated",
		zap.String("tenant", tenantID),
		zap.String("category", category),
		zap.String("algorithm", algorithm),
		zap.Int64("cleared", cleared),
		zap.Int("featured", len(selected)),
		zap.Int64s("selected", selected),
	)
	return stats, nil
}

// UpdateAllFeaturedGroups runs both categories. One category's failure does
// not abort the other; the joined error reports whichever failed.
func (e *Engine) UpdateAllFeaturedGroups(ctx context.Context, tenantID string) (map[string]*CategoryStats, error) {
	stats := make(map[string]*CategoryStats, 2)
	var errs []error

	if s, err := e.UpdateFeaturedLeafGroups(ctx, tenantID); err != nil {
		errs = append(errs, err)
	} else {
		stats[CategoryLocalHubs] = s
	}
	if s, err := e.UpdateFeaturedCommunityGroups(ctx, tenantID); err != nil {
		errs = append(errs, err)
	} else {
		stats[CategoryCommunity] = s
	}
	return stats, errors.Join(errs...)
}

// FeaturedGroup pairs a currently-featured group with its score inputs.
type FeaturedGroup struct {
	Group       model.Group `json:"group"`
	MemberCount int         `json:"member_count"`
	RecentCount int         `json:"recent_count"`
	Score       int         `json:"score"`
}

// GetFeaturedGroupsWithScores returns the current featured set for a
// category with member counts and scores, for read-back and audit.
func (e *Engine) GetFeaturedGroupsWithScores(ctx context.Context, tenantID, category string) ([]FeaturedGroup, error) {
	kind := model.KindHub
	if category == CategoryCommunity {
		kind = model.KindCommunity
	}

	v, err := e.tree.ViewFor(ctx, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: build tenant view")
	}

	var featured []model.Group
	var ids []int64
	for _, root := range v.Roots() {
		for _, g := range v.Subtree(root.ID) {
			if g.Kind == kind && g.Featured {
				featured = append(featured, *g)
				ids = append(ids, g.ID)
			}
		}
	}

	members, err := e.store.FetchMembershipsForGroups(ctx, ids)
	if err != nil {
		return nil, eris.Wrap(err, "ranking: fetch featured memberships")
	}
	recent, err := e.store.CountRecentMemberships(ctx, ids, time.Now().Add(-e.cfg.RecentWindow))
	if err != nil {
		return nil, eris.Wrap(err, "ranking: count featured recent memberships")
	}

	out := make([]FeaturedGroup, len(featured))
	for i, g := range featured {
		active := len(members[g.ID])
		out[i] = FeaturedGroup{
			Group:       g,
			MemberCount: active,
			RecentCount: recent[g.ID],
			Score:       active*activeWeight + recent[g.ID]*recentWeight,
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Group.Name < out[j].Group.Name
	})
	return out, nil
}

// SetFeaturedStatus manually pins or unpins a single group, outside the
// periodic selection.
func (e *Engine) SetFeaturedStatus(ctx context.Context, tenantID string, groupID int64, featured bool) error {
	if _, err := e.store.GetNode(ctx, tenantID, groupID); err != nil {
		return err
	}
	if err := e.store.SetFeatured(ctx, tenantID, []int64{groupID}, featured); err != nil {
		return eris.Wrapf(err, "ranking: pin group %d", groupID)
	}
	e.tree.Invalidate(tenantID)
	zap.L().Info("featured flag pinned",
		zap.String("tenant", tenantID),
		zap.Int64("group", groupID),
		zap.Bool("featured", featured),
	)
	return nil
}

// LastUpdateTime returns when the category last completed successfully, or
// nil if it never has.
func (e *Engine) LastUpdateTime(ctx context.Context, tenantID, category string) (*time.Time, error) {
	run, err := e.store.LastRankingRun(ctx, tenantID, category)
	if err != nil {
		return nil, eris.Wrapf(err, "ranking: last run for %s", category)
	}
	if run == nil {
		return nil, nil
	}
	t := run.RunAt
	return &t, nil
}
