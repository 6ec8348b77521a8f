package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/nexus-community/groups-cli/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newMockStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	st := NewPostgresFromPool(mock, Capabilities{HasFederatedOrigin: true, HasVisibility: true})
	return st, mock
}

func groupRows() *pgxmock.Rows {
	return pgxmock.NewRows([]string{
		"id", "tenant_id", "name", "parent_id", "kind",
		"latitude", "longitude", "visible", "featured", "created_at", "updated_at",
	})
}

func TestPostgres_FetchAllNodes(t *testing.T) {
	st, mock := newMockStore(t)
	now := time.Now()
	parent := int64(1)

	mock.ExpectQuery("SELECT .* FROM groups WHERE tenant_id = \\$1 ORDER BY name").
		WithArgs("t1").
		WillReturnRows(groupRows().
			AddRow(int64(1), "t1", "Illinois", nil, "hub", nil, nil, true, false, now, now).
			AddRow(int64(2), "t1", "Springfield", &parent, "hub", nil, nil, true, true, now, now))

	groups, err := st.FetchAllNodes(context.Background(), "t1")
	require.NoError(t, err)
	require.Len(t, groups, 2)
	assert.Equal(t, "Illinois", groups[0].Name)
	assert.Nil(t, groups[0].ParentID)
	require.NotNil(t, groups[1].ParentID)
	assert.Equal(t, int64(1), *groups[1].ParentID)
	assert.True(t, groups[1].Featured)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_GetNode_NotFound(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM groups WHERE tenant_id = \\$1 AND id = \\$2").
		WithArgs("t1", int64(42)).
		WillReturnRows(groupRows())

	_, err := st.GetNode(context.Background(), "t1", 42)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateParent(t *testing.T) {
	st, mock := newMockStore(t)
	newParent := int64(7)

	mock.ExpectExec("UPDATE groups SET parent_id").
		WithArgs(&newParent, "t1", int64(3)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	err := st.UpdateParent(context.Background(), "t1", 3, &newParent)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_UpdateParent_MissingNode(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("UPDATE groups SET parent_id").
		WithArgs((*int64)(nil), "t1", int64(99)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := st.UpdateParent(context.Background(), "t1", 99, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_HasMembership(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT EXISTS").
		WithArgs(int64(5), int64(100)).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))

	has, err := st.HasMembership(context.Background(), 5, 100)
	require.NoError(t, err)
	assert.True(t, has)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateMembership_WithOriginColumn(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO group_members .*ON CONFLICT \\(group_id, user_id\\) DO NOTHING").
		WithArgs(pgxmock.AnyArg(), int64(5), int64(100), model.OriginAuto).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := st.CreateMembership(context.Background(), 5, 100, model.OriginAuto)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_CreateMembership_LegacySchemaOmitsOrigin(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()
	st := NewPostgresFromPool(mock, Capabilities{HasFederatedOrigin: false})

	// Three args only: the origin column does not exist on this schema.
	mock.ExpectExec("INSERT INTO group_members").
		WithArgs(pgxmock.AnyArg(), int64(5), int64(100)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = st.CreateMembership(context.Background(), 5, 100, model.OriginAuto)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceFeatured_SingleTransaction(t *testing.T) {
	st, mock := newMockStore(t)
	ids := []int64{10, 11}

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE groups SET featured = FALSE").
		WithArgs("t1", model.KindHub).
		WillReturnResult(pgxmock.NewResult("UPDATE", 3))
	mock.ExpectExec("UPDATE groups SET featured = TRUE").
		WithArgs("t1", ids).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	cleared, err := st.ReplaceFeatured(context.Background(), "t1", model.KindHub, ids)
	require.NoError(t, err)
	assert.Equal(t, int64(3), cleared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceFeatured_EmptySelectionOnlyClears(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE groups SET featured = FALSE").
		WithArgs("t1", model.KindCommunity).
		WillReturnResult(pgxmock.NewResult("UPDATE", 6))
	mock.ExpectCommit()

	cleared, err := st.ReplaceFeatured(context.Background(), "t1", model.KindCommunity, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(6), cleared)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_ReplaceFeatured_SetFailureRollsBack(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectExec("UPDATE groups SET featured = FALSE").
		WithArgs("t1", model.KindHub).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE groups SET featured = TRUE").
		WithArgs("t1", []int64{10}).
		WillReturnError(errors.New("deadlock detected"))
	mock.ExpectRollback()

	_, err := st.ReplaceFeatured(context.Background(), "t1", model.KindHub, []int64{10})
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_AppendRankingRun(t *testing.T) {
	st, mock := newMockStore(t)
	run := &RankingRun{
		TenantID: "t1", Category: "local_hubs", Algorithm: "leaf_popularity_diversity_v2",
		Status: RunComplete, Cleared: 2, Featured: 3, Selected: []int64{1, 2, 3},
		RunAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO featured_ranking_log").
		WithArgs(run.TenantID, run.Category, run.Algorithm, run.Status,
			run.Cleared, run.Featured, run.Selected, run.Error, run.RunAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	assert.NoError(t, st.AppendRankingRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_LastRankingRun_NoneIsNotAnError(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectQuery("SELECT .* FROM featured_ranking_log").
		WithArgs("t1", "local_hubs").
		WillReturnRows(pgxmock.NewRows([]string{
			"id", "tenant_id", "category", "algorithm", "status",
			"cleared", "featured", "selected", "error", "run_at",
		}))

	run, err := st.LastRankingRun(context.Background(), "t1", "local_hubs")
	require.NoError(t, err)
	assert.Nil(t, run)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_Migrate(t *testing.T) {
	st, mock := newMockStore(t)

	mock.ExpectExec("CREATE TABLE IF NOT EXISTS groups").
		WillReturnResult(pgxmock.NewResult("CREATE", 0))
	mock.ExpectQuery("SELECT table_name, column_name").
		WillReturnRows(pgxmock.NewRows([]string{"table_name", "column_name"}).
			AddRow("group_members", "origin").
			AddRow("groups", "visible"))

	require.NoError(t, st.Migrate(context.Background()))
	caps := st.Capabilities()
	assert.True(t, caps.HasFederatedOrigin)
	assert.True(t, caps.HasVisibility)
	assert.NoError(t, mock.ExpectationsWereMet())
}
