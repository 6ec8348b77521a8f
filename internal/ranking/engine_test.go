package ranking

import (
	"context"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexus-community/groups-cli/internal/model"
	"github.com/nexus-community/groups-cli/internal/store"
	"github.com/nexus-community/groups-cli/internal/tree"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

const testTenant = "t1"

func join(t *testing.T, st *store.MemoryStore, groupID int64, users ...int64) {
	t.Helper()
	for _, u := range users {
		require.NoError(t, st.CreateMembership(context.Background(), groupID, u, model.OriginManual))
	}
}

// backdate pushes the users' join dates outside the recency window.
func backdate(st *store.MemoryStore, groupID int64, users ...int64) {
	old := time.Now().Add(-30 * 24 * time.Hour)
	for _, u := range users {
		st.SetJoinedAt(groupID, u, old)
	}
}

func newTestEngine(st store.GroupStore, cfg Config) *Engine {
	return NewEngine(st, tree.NewEngine(st), cfg)
}

// seedHubLeaves builds one root with two counties and five leaves:
//
//	State
//	  North County: A(50), B(40), C(30)
//	  South County: D(20), E(10)
func seedHubLeaves(t *testing.T) (*store.MemoryStore, map[string]int64) {
	t.Helper()
	st := store.NewMemory()
	ids := make(map[string]int64)

	state := st.AddGroup(model.Group{TenantID: testTenant, Name: "State"})
	north := st.AddGroup(model.Group{TenantID: testTenant, Name: "North County", ParentID: &state})
	south := st.AddGroup(model.Group{TenantID: testTenant, Name: "South County", ParentID: &state})
	ids["state"], ids["north"], ids["south"] = state, north, south

	counts := []struct {
		name    string
		parent  *int64
		members int
	}{
		{"A", &north, 50}, {"B", &north, 40}, {"C", &north, 30},
		{"D", &south, 20}, {"E", &south, 10},
	}
	user := int64(1000)
	for _, c := range counts {
		id := st.AddGroup(model.Group{TenantID: testTenant, Name: c.name, ParentID: c.parent})
		ids[c.name] = id
		for i := 0; i < c.members; i++ {
			join(t, st, id, user)
			user++
		}
	}
	return st, ids
}

func featuredIDs(t *testing.T, st *store.MemoryStore, kind model.GroupKind) map[int64]bool {
	t.Helper()
	groups, err := st.FetchAllNodes(context.Background(), testTenant)
	require.NoError(t, err)
	out := make(map[int64]bool)
	for _, g := range groups {
		if g.Kind == kind && g.Featured {
			out[g.ID] = true
		}
	}
	return out
}

func TestUpdateFeaturedLeafGroups_PerParentDiversityCap(t *testing.T) {
	st, ids := seedHubLeaves(t)
	e := newTestEngine(st, Config{HubLimit: 4, HubMaxPerParent: 2})

	stats, err := e.UpdateFeaturedLeafGroups(context.Background(), testTenant)
	require.NoError(t, err)

	// A and B take North County's two slots; C is skipped; D and E fill in.
	assert.Equal(t, []int64{ids["A"], ids["B"], ids["D"], ids["E"]}, stats.Selected)
	assert.Equal(t, 4, stats.Featured)
	assert.Equal(t, algLeafPopularity, stats.Algorithm)

	featured := featuredIDs(t, st, model.KindHub)
	assert.True(t, featured[ids["A"]])
	assert.True(t, featured[ids["B"]])
	assert.False(t, featured[ids["C"]], "third North County leaf must be skipped")
	assert.True(t, featured[ids["D"]])
	assert.True(t, featured[ids["E"]])
}

func TestUpdateFeaturedLeafGroups_LimitBounds(t *testing.T) {
	st, ids := seedHubLeaves(t)
	e := newTestEngine(st, Config{HubLimit: 2, HubMaxPerParent: 2})

	stats, err := e.UpdateFeaturedLeafGroups(context.Background(), testTenant)
	require.NoError(t, err)
	assert.Equal(t, []int64{ids["A"], ids["B"]}, stats.Selected)
}

func TestUpdateFeaturedLeafGroups_ClearsPreviousSet(t *testing.T) {
	st, ids := seedHubLeaves(t)
	e := newTestEngine(st, Config{HubLimit: 2, HubMaxPerParent: 2})
	ctx := context.Background()

	_, err := e.UpdateFeaturedLeafGroups(ctx, testTenant)
	require.NoError(t, err)

	// E overtakes everyone.
	for u := int64(2000); u < 2100; u++ {
		join(t, st, ids["E"], u)
	}

	stats, err := e.UpdateFeaturedLeafGroups(ctx, testTenant)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.Cleared)
	assert.Equal(t, []int64{ids["E"], ids["A"]}, stats.Selected)

	featured := featuredIDs(t, st, model.KindHub)
	assert.False(t, featured[ids["B"]], "previous selection must be cleared")
}

func TestUpdateFeaturedCommunityGroups_EngagementScore(t *testing.T) {
	st := store.NewMemory()
	// Established: 20 active members, none recent. Score 60.
	established := st.AddGroup(model.Group{TenantID: testTenant, Name: "Established", Kind: model.KindCommunity})
	// Rising: 5 active members, all joined this week. Score 5*3 + 5*10 = 65.
	rising := st.AddGroup(model.Group{TenantID: testTenant, Name: "Rising", Kind: model.KindCommunity})

	for u := int64(1); u <= 20; u++ {
		join(t, st, established, u)
	}
	backdate(st, established, func() []int64 {
		var us []int64
		for u := int64(1); u <= 20; u++ {
			us = append(us, u)
		}
		return us
	}()...)
	for u := int64(100); u < 105; u++ {
		join(t, st, rising, u)
	}

	e := newTestEngine(st, Config{CommunityLimit: 1})
	stats, err := e.UpdateFeaturedCommunityGroups(context.Background(), testTenant)
	require.NoError(t, err)

	assert.Equal(t, algEngagement, stats.Algorithm)
	assert.Equal(t, []int64{rising}, stats.Selected, "recency weight must beat raw size")
}

func TestUpdateFeatured_CategoryIsolation(t *testing.T) {
	st, ids := seedHubLeaves(t)
	club := st.AddGroup(model.Group{TenantID: testTenant, Name: "Chess Club", Kind: model.KindCommunity})
	join(t, st, club, 1, 2, 3)

	e := newTestEngine(st, Config{HubLimit: 2, HubMaxPerParent: 2, CommunityLimit: 6})
	ctx := context.Background()

	_, err := e.UpdateFeaturedCommunityGroups(ctx, testTenant)
	require.NoError(t, err)
	_, err = e.UpdateFeaturedLeafGroups(ctx, testTenant)
	require.NoError(t, err)

	// The hub run must not clear the community selection.
	assert.True(t, featuredIDs(t, st, model.KindCommunity)[club])
	assert.True(t, featuredIDs(t, st, model.KindHub)[ids["A"]])
}

func TestUpdateAllFeaturedGroups(t *testing.T) {
	st, _ := seedHubLeaves(t)
	club := st.AddGroup(model.Group{TenantID: testTenant, Name: "Chess Club", Kind: model.KindCommunity})
	join(t, st, club, 1)

	e := newTestEngine(st, Config{})
	stats, err := e.UpdateAllFeaturedGroups(context.Background(), testTenant)
	require.NoError(t, err)
	require.Contains(t, stats, CategoryLocalHubs)
	require.Contains(t, stats, CategoryCommunity)
	assert.Equal(t, []int64{club}, stats[CategoryCommunity].Selected)
}

// brokenStore fails featured replacement for one kind.
type brokenStore struct {
	store.GroupStore
	failKind model.GroupKind
}

func (b *brokenStore) ReplaceFeatured(ctx context.Context, tenantID string, kind model.GroupKind, ids []int64) (int64, error) {
	if kind == b.failKind {
		return 0, eris.New("deadlock detected")
	}
	return b.GroupStore.ReplaceFeatured(ctx, tenantID, kind, ids)
}

func TestUpdateAllFeaturedGroups_FailureIsolated(t *testing.T) {
	st, _ := seedHubLeaves(t)
	club := st.AddGroup(model.Group{TenantID: testTenant, Name: "Chess Club", Kind: model.KindCommunity})
	join(t, st, club, 1)

	broken := &brokenStore{GroupStore: st, failKind: model.KindHub}
	e := newTestEngine(broken, Config{})
	ctx := context.Background()

	stats, err := e.UpdateAllFeaturedGroups(ctx, testTenant)
	require.Error(t, err)
	assert.NotContains(t, stats, CategoryLocalHubs)
	require.Contains(t, stats, CategoryCommunity)

	// The failed category left a failure entry; the good one a completion.
	runs, listErr := st.ListRankingRuns(ctx, testTenant, 10)
	require.NoError(t, listErr)
	require.Len(t, runs, 2)
	statusByCategory := map[string]string{}
	for _, r := range runs {
		statusByCategory[r.Category] = r.Status
	}
	assert.Equal(t, store.RunFailed, statusByCategory[CategoryLocalHubs])
	assert.Equal(t, store.RunComplete, statusByCategory[CategoryCommunity])
}

func TestRankingLog_AppendedOnSuccess(t *testing.T) {
	st, ids := seedHubLeaves(t)
	e := newTestEngine(st, Config{HubLimit: 2, HubMaxPerParent: 2})
	ctx := context.Background()

	stats, err := e.UpdateFeaturedLeafGroups(ctx, testTenant)
	require.NoError(t, err)

	run, err := st.LastRankingRun(ctx, testTenant, CategoryLocalHubs)
	require.NoError(t, err)
	require.NotNil(t, run)
	assert.Equal(t, store.RunComplete, run.Status)
	assert.Equal(t, stats.Selected, run.Selected)
	assert.Equal(t, []int64{ids["A"], ids["B"]}, run.Selected)
}

func TestSetFeaturedStatus_ManualPin(t *testing.T) {
	st, ids := seedHubLeaves(t)
	e := newTestEngine(st, Config{})
	ctx := context.Background()

	require.NoError(t, e.SetFeaturedStatus(ctx, testTenant, ids["C"], true))
	assert.True(t, featuredIDs(t, st, model.KindHub)[ids["C"]])

	require.NoError(t, e.SetFeaturedStatus(ctx, testTenant, ids["C"], false))
	assert.False(t, featuredIDs(t, st, model.KindHub)[ids["C"]])

	err := e.SetFeaturedStatus(ctx, testTenant, 9999, true)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestLastUpdateTime(t *testing.T) {
	st, _ := seedHubLeaves(t)
	e := newTestEngine(st, Config{})
	ctx := context.Background()

	ts, err := e.LastUpdateTime(ctx, testTenant, CategoryLocalHubs)
	require.NoError(t, err)
	assert.Nil(t, ts, "no run recorded yet")

	_, err = e.UpdateFeaturedLeafGroups(ctx, testTenant)
	require.NoError(t, err)

	ts, err = e.LastUpdateTime(ctx, testTenant, CategoryLocalHubs)
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.WithinDuration(t, time.Now(), *ts, time.Minute)
}

func TestGetFeaturedGroupsWithScores(t *testing.T) {
	st, ids := seedHubLeaves(t)
	e := newTestEngine(st, Config{HubLimit: 2, HubMaxPerParent: 2})
	ctx := context.Background()

	_, err := e.UpdateFeaturedLeafGroups(ctx, testTenant)
	require.NoError(t, err)

	featured, err := e.GetFeaturedGroupsWithScores(ctx, testTenant, CategoryLocalHubs)
	require.NoError(t, err)
	require.Len(t, featured, 2)
	assert.Equal(t, ids["A"], featured[0].Group.ID)
	assert.Equal(t, 50, featured[0].MemberCount)
	assert.Greater(t, featured[0].Score, featured[1].Score)
}
