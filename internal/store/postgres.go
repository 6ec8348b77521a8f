package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/nexus-community/groups-cli/internal/db"
	"github.com/nexus-community/groups-cli/internal/model"
)

// PostgresStore implements GroupStore using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	caps    Capabilities
	closeFn func()
}

// NewPostgres creates a PostgresStore with a connection pool and resolves
// schema capabilities once up front.
func NewPostgres(ctx context.Context, connString string, poolCfg *db.PoolConfig) (*PostgresStore, error) {
	pool, err := db.Connect(ctx, connString, poolCfg)
	if err != nil {
		return nil, err
	}
	caps, err := DetectCapabilities(ctx, pool)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return &PostgresStore{pool: pool, caps: caps, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool, caps Capabilities) *PostgresStore {
	return &PostgresStore{pool: pool, caps: caps}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS groups (
	id         BIGSERIAL PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	parent_id  BIGINT REFERENCES groups(id),
	kind       TEXT NOT NULL DEFAULT 'hub',
	latitude   DOUBLE PRECISION,
	longitude  DOUBLE PRECISION,
	visible    BOOLEAN NOT NULL DEFAULT TRUE,
	featured   BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_groups_tenant ON groups (tenant_id);
CREATE INDEX IF NOT EXISTS idx_groups_parent ON groups (parent_id);
CREATE INDEX IF NOT EXISTS idx_groups_featured ON groups (tenant_id, kind) WHERE featured;

CREATE TABLE IF NOT EXISTS group_members (
	id        TEXT PRIMARY KEY,
	group_id  BIGINT NOT NULL REFERENCES groups(id),
	user_id   BIGINT NOT NULL,
	status    TEXT NOT NULL DEFAULT 'active',
	origin    TEXT NOT NULL DEFAULT 'auto',
	joined_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (group_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members (user_id);
CREATE INDEX IF NOT EXISTS idx_group_members_joined ON group_members (group_id, joined_at);

CREATE TABLE IF NOT EXISTS featured_ranking_log (
	id        BIGSERIAL PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	category  TEXT NOT NULL,
	algorithm TEXT NOT NULL,
	status    TEXT NOT NULL,
	cleared   BIGINT NOT NULL DEFAULT 0,
	featured  INTEGER NOT NULL DEFAULT 0,
	selected  BIGINT[],
	error     TEXT,
	run_at    TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_ranking_log_tenant ON featured_ranking_log (tenant_id, category, run_at DESC);
`

// Migrate creates the schema if it does not exist and refreshes capabilities.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, postgresMigration); err != nil {
		return eris.Wrap(err, "postgres: migrate")
	}
	caps, err := DetectCapabilities(ctx, s.pool)
	if err != nil {
		return err
	}
	s.caps = caps
	return nil
}

// Capabilities implements GroupStore.
func (s *PostgresStore) Capabilities() Capabilities { return s.caps }

// Close implements GroupStore.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return eris.Wrap(err, "postgres: ping")
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

const groupColumns = `id, tenant_id, name, parent_id, kind, latitude, longitude, visible, featured, created_at, updated_at`

func scanGroup(row pgx.Row) (*model.Group, error) {
	var g model.Group
	err := row.Scan(
		&g.ID, &g.TenantID, &g.Name, &g.ParentID, &g.Kind,
		&g.Latitude, &g.Longitude, &g.Visible, &g.Featured,
		&g.CreatedAt, &g.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &g, nil
}

// FetchAllNodes implements GroupStore.
func (s *PostgresStore) FetchAllNodes(ctx context.Context, tenantID string) ([]model.Group, error) {
	sql := `SELECT ` + groupColumns + ` FROM groups WHERE tenant_id = $1 ORDER BY name`
	rows, err := s.pool.Query(ctx, sql, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch all nodes")
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan group row")
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// GetNode implements GroupStore.
func (s *PostgresStore) GetNode(ctx context.Context, tenantID string, id int64) (*model.Group, error) {
	sql := `SELECT ` + groupColumns + ` FROM groups WHERE tenant_id = $1 AND id = $2`
	g, err := scanGroup(s.pool.QueryRow(ctx, sql, tenantID, id))
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, eris.Wrapf(err, "postgres: get node %d", id)
	}
	return g, nil
}

// UpdateParent implements GroupStore.
func (s *PostgresStore) UpdateParent(ctx context.Context, tenantID string, nodeID int64, newParentID *int64) error {
	sql := `UPDATE groups SET parent_id = $1, updated_at = now() WHERE tenant_id = $2 AND id = $3`
	tag, err := s.pool.Exec(ctx, sql, newParentID, tenantID, nodeID)
	if err != nil {
		return eris.Wrapf(err, "postgres: update parent of %d", nodeID)
	}
	if tag.RowsAffected() == 0 {
		return model.ErrNotFound
	}
	return nil
}

// FetchActiveMemberships implements GroupStore.
func (s *PostgresStore) FetchActiveMemberships(ctx context.Context, groupID int64) ([]int64, error) {
	sql := `SELECT user_id FROM group_members WHERE group_id = $1 AND status = 'active'`
	rows, err := s.pool.Query(ctx, sql, groupID)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: fetch memberships for %d", groupID)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan membership row")
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// FetchMembershipsForGroups implements GroupStore.
func (s *PostgresStore) FetchMembershipsForGroups(ctx context.Context, groupIDs []int64) (map[int64][]int64, error) {
	if len(groupIDs) == 0 {
		return map[int64][]int64{}, nil
	}
	sql := `SELECT group_id, user_id FROM group_members WHERE status = 'active' AND group_id = ANY($1)`
	rows, err := s.pool.Query(ctx, sql, groupIDs)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: fetch memberships for groups")
	}
	defer rows.Close()

	members := make(map[int64][]int64, len(groupIDs))
	for rows.Next() {
		var groupID, userID int64
		if err := rows.Scan(&groupID, &userID); err != nil {
			return nil, eris.Wrap(err, "postgres: scan membership row")
		}
		members[groupID] = append(members[groupID], userID)
	}
	return members, rows.Err()
}

// HasMembership implements GroupStore.
func (s *PostgresStore) HasMembership(ctx context.Context, groupID, userID int64) (bool, error) {
	sql := `SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = $1 AND user_id = $2)`
	var exists bool
	if err := s.pool.QueryRow(ctx, sql, groupID, userID).Scan(&exists); err != nil {
		return false, eris.Wrapf(err, "postgres: has membership %d/%d", groupID, userID)
	}
	return exists, nil
}

// CreateMembership implements GroupStore. The unique constraint makes
// creation idempotent under concurrent callers.
func (s *PostgresStore) CreateMembership(ctx context.Context, groupID, userID int64, origin string) error {
	var sql string
	var args []any
	if s.caps.HasFederatedOrigin {
		sql = `
			INSERT INTO group_members (id, group_id, user_id, status, origin, joined_at)
			VALUES ($1, $2, $3, 'active', $4, now())
			ON CONFLICT (group_id, user_id) DO NOTHING`
		args = []any{uuid.NewString(), groupID, userID, origin}
	} else {
		sql = `
			INSERT INTO group_members (id, group_id, user_id, status, joined_at)
			VALUES ($1, $2, $3, 'active', now())
			ON CONFLICT (group_id, user_id) DO NOTHING`
		args = []any{uuid.NewString(), groupID, userID}
	}
	if _, err := s.pool.Exec(ctx, sql, args...); err != nil {
		return eris.Wrapf(err, "postgres: create membership %d/%d", groupID, userID)
	}
	return nil
}

// CountRecentMemberships implements GroupStore.
func (s *PostgresStore) CountRecentMemberships(ctx context.Context, groupIDs []int64, since time.Time) (map[int64]int, error) {
	if len(groupIDs) == 0 {
		return map[int64]int{}, nil
	}
	sql := `
		SELECT group_id, COUNT(*) FROM group_members
		WHERE status = 'active' AND group_id = ANY($1) AND joined_at >= $2
		GROUP BY group_id`
	rows, err := s.pool.Query(ctx, sql, groupIDs, since)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: count recent memberships")
	}
	defer rows.Close()

	counts := make(map[int64]int, len(groupIDs))
	for rows.Next() {
		var groupID int64
		var n int
		if err := rows.Scan(&groupID, &n); err != nil {
			return nil, eris.Wrap(err, "postgres: scan recent count row")
		}
		counts[groupID] = n
	}
	return counts, rows.Err()
}

// ReplaceFeatured implements GroupStore. The clear and set run in one
// transaction so readers never observe a half-complete category.
func (s *PostgresStore) ReplaceFeatured(ctx context.Context, tenantID string, kind model.GroupKind, ids []int64) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace featured: begin tx")
	}
	defer tx.Rollback(ctx)

	clearSQL := `UPDATE groups SET featured = FALSE, updated_at = now() WHERE tenant_id = $1 AND kind = $2 AND featured`
	tag, err := tx.Exec(ctx, clearSQL, tenantID, kind)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: replace featured: clear")
	}
	cleared := tag.RowsAffected()

	if len(ids) > 0 {
		setSQL := `UPDATE groups SET featured = TRUE, updated_at = now() WHERE tenant_id = $1 AND id = ANY($2)`
		if _, err := tx.Exec(ctx, setSQL, tenantID, ids); err != nil {
			return 0, eris.Wrap(err, "postgres: replace featured: set")
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: replace featured: commit")
	}
	return cleared, nil
}

// SetFeatured implements GroupStore.
func (s *PostgresStore) SetFeatured(ctx context.Context, tenantID string, ids []int64, featured bool) error {
	if len(ids) == 0 {
		return nil
	}
	sql := `UPDATE groups SET featured = $1, updated_at = now() WHERE tenant_id = $2 AND id = ANY($3)`
	if _, err := s.pool.Exec(ctx, sql, featured, tenantID, ids); err != nil {
		return eris.Wrap(err, "postgres: set featured")
	}
	return nil
}

// AppendRankingRun implements GroupStore.
func (s *PostgresStore) AppendRankingRun(ctx context.Context, run *RankingRun) error {
	sql := `
		INSERT INTO featured_ranking_log (tenant_id, category, algorithm, status, cleared, featured, selected, error, run_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`
	runAt := run.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}
	_, err := s.pool.Exec(ctx, sql,
		run.TenantID, run.Category, run.Algorithm, run.Status,
		run.Cleared, run.Featured, run.Selected, run.Error, runAt,
	)
	if err != nil {
		return eris.Wrap(err, "postgres: append ranking run")
	}
	return nil
}

const rankingRunColumns = `id, tenant_id, category, algorithm, status, cleared, featured, selected, error, run_at`

func scanRankingRun(row pgx.Row) (*RankingRun, error) {
	var r RankingRun
	var errStr *string
	err := row.Scan(
		&r.ID, &r.TenantID, &r.Category, &r.Algorithm, &r.Status,
		&r.Cleared, &r.Featured, &r.Selected, &errStr, &r.RunAt,
	)
	if err != nil {
		return nil, err
	}
	if errStr != nil {
		r.Error = *errStr
	}
	return &r, nil
}

// LastRankingRun implements GroupStore. Returns nil when the category has
// never completed a run.
func (s *PostgresStore) LastRankingRun(ctx context.Context, tenantID, category string) (*RankingRun, error) {
	sql := `
		SELECT ` + rankingRunColumns + ` FROM featured_ranking_log
		WHERE tenant_id = $1 AND category = $2 AND status = 'complete'
		ORDER BY run_at DESC LIMIT 1`
	r, err := scanRankingRun(s.pool.QueryRow(ctx, sql, tenantID, category))
	if err != nil {
		if eris.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: last ranking run for %s", category)
	}
	return r, nil
}

// ListRankingRuns implements GroupStore.
func (s *PostgresStore) ListRankingRuns(ctx context.Context, tenantID string, limit int) ([]RankingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	sql := `
		SELECT ` + rankingRunColumns + ` FROM featured_ranking_log
		WHERE tenant_id = $1 ORDER BY run_at DESC LIMIT $2`
	rows, err := s.pool.Query(ctx, sql, tenantID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list ranking runs")
	}
	defer rows.Close()

	var runs []RankingRun
	for rows.Next() {
		r, err := scanRankingRun(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan ranking run row")
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
