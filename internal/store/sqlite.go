package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/nexus-community/groups-cli/internal/model"
)

// SQLiteStore implements GroupStore using modernc.org/sqlite. It is the
// light single-file backend for local and dev use.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sdb, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := sdb.Exec(pragma); err != nil {
			sdb.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sdb}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS groups (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	parent_id  INTEGER REFERENCES groups(id),
	kind       TEXT NOT NULL DEFAULT 'hub',
	latitude   REAL,
	longitude  REAL,
	visible    INTEGER NOT NULL DEFAULT 1,
	featured   INTEGER NOT NULL DEFAULT 0,
	created_at DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_groups_tenant ON groups (tenant_id);
CREATE INDEX IF NOT EXISTS idx_groups_parent ON groups (parent_id);

CREATE TABLE IF NOT EXISTS group_members (
	id        TEXT PRIMARY KEY,
	group_id  INTEGER NOT NULL REFERENCES groups(id),
	user_id   INTEGER NOT NULL,
	status    TEXT NOT NULL DEFAULT 'active',
	origin    TEXT NOT NULL DEFAULT 'auto',
	joined_at DATETIME NOT NULL DEFAULT (datetime('now')),
	UNIQUE (group_id, user_id)
);

CREATE INDEX IF NOT EXISTS idx_group_members_user ON group_members (user_id);

CREATE TABLE IF NOT EXISTS featured_ranking_log (
	id        INTEGER PRIMARY KEY AUTOINCREMENT,
	tenant_id TEXT NOT NULL,
	category  TEXT NOT NULL,
	algorithm TEXT NOT NULL,
	status    TEXT NOT NULL,
	cleared   INTEGER NOT NULL DEFAULT 0,
	featured  INTEGER NOT NULL DEFAULT 0,
	selected  TEXT,
	error     TEXT,
	run_at    DATETIME NOT NULL DEFAULT (datetime('now'))
);
`

// Migrate implements GroupStore.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteMigration); err != nil {
		return eris.Wrap(err, "sqlite: migrate")
	}
	return nil
}

// Capabilities implements GroupStore. The bundled schema always carries
// both optional columns.
func (s *SQLiteStore) Capabilities() Capabilities {
	return Capabilities{HasFederatedOrigin: true, HasVisibility: true}
}

// Close implements GroupStore.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return eris.Wrap(err, "sqlite: ping")
	}
	return nil
}

func (s *SQLiteStore) Close() error { return s.db.Close() }

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func scanGroupSQL(row interface{ Scan(...any) error }) (*model.Group, error) {
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
func (s *SQLiteStore) FetchAllNodes(ctx context.Context, tenantID string) ([]model.Group, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE tenant_id = ? ORDER BY name`, tenantID)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch all nodes")
	}
	defer rows.Close()

	var groups []model.Group
	for rows.Next() {
		g, err := scanGroupSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan group row")
		}
		groups = append(groups, *g)
	}
	return groups, rows.Err()
}

// GetNode implements GroupStore.
func (s *SQLiteStore) GetNode(ctx context.Context, tenantID string, id int64) (*model.Group, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+groupColumns+` FROM groups WHERE tenant_id = ? AND id = ?`, tenantID, id)
	g, err := scanGroupSQL(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, model.ErrNotFound
		}
		return nil, eris.Wrapf(err, "sqlite: get node %d", id)
	}
	return g, nil
}

// UpdateParent implements GroupStore.
func (s *SQLiteStore) UpdateParent(ctx context.Context, tenantID string, nodeID int64, newParentID *int64) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE groups SET parent_id = ?, updated_at = datetime('now') WHERE tenant_id = ? AND id = ?`,
		newParentID, tenantID, nodeID)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update parent of %d", nodeID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return model.ErrNotFound
	}
	return nil
}

// FetchActiveMemberships implements GroupStore.
func (s *SQLiteStore) FetchActiveMemberships(ctx context.Context, groupID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id FROM group_members WHERE group_id = ? AND status = 'active'`, groupID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: fetch memberships for %d", groupID)
	}
	defer rows.Close()

	var users []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan membership row")
		}
		users = append(users, id)
	}
	return users, rows.Err()
}

// FetchMembershipsForGroups implements GroupStore.
func (s *SQLiteStore) FetchMembershipsForGroups(ctx context.Context, groupIDs []int64) (map[int64][]int64, error) {
	if len(groupIDs) == 0 {
		return map[int64][]int64{}, nil
	}
	query := `SELECT group_id, user_id FROM group_members WHERE status = 'active' AND group_id IN (` +
		placeholders(len(groupIDs)) + `)`
	rows, err := s.db.QueryContext(ctx, query, int64Args(groupIDs)...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: fetch memberships for groups")
	}
	defer rows.Close()

	members := make(map[int64][]int64, len(groupIDs))
	for rows.Next() {
		var groupID, userID int64
		if err := rows.Scan(&groupID, &userID); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan membership row")
		}
		members[groupID] = append(members[groupID], userID)
	}
	return members, rows.Err()
}

// HasMembership implements GroupStore.
func (s *SQLiteStore) HasMembership(ctx context.Context, groupID, userID int64) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM group_members WHERE group_id = ? AND user_id = ?)`,
		groupID, userID).Scan(&exists)
	if err != nil {
		return false, eris.Wrapf(err, "sqlite: has membership %d/%d", groupID, userID)
	}
	return exists, nil
}

// CreateMembership implements GroupStore.
func (s *SQLiteStore) CreateMembership(ctx context.Context, groupID, userID int64, origin string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO group_members (id, group_id, user_id, status, origin, joined_at)
		 VALUES (?, ?, ?, 'active', ?, datetime('now'))
		 ON CONFLICT (group_id, user_id) DO NOTHING`,
		uuid.NewString(), groupID, userID, origin)
	if err != nil {
		return eris.Wrapf(err, "sqlite: create membership %d/%d", groupID, userID)
	}
	return nil
}

// CountRecentMemberships implements GroupStore.
func (s *SQLiteStore) CountRecentMemberships(ctx context.Context, groupIDs []int64, since time.Time) (map[int64]int, error) {
	if len(groupIDs) == 0 {
		return map[int64]int{}, nil
	}
	query := `SELECT group_id, COUNT(*) FROM group_members
		WHERE status = 'active' AND joined_at >= ? AND group_id IN (` +
		placeholders(len(groupIDs)) + `) GROUP BY group_id`
	args := append([]any{since.UTC().Format("2006-01-02 15:04:05")}, int64Args(groupIDs)...)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: count recent memberships")
	}
	defer rows.Close()

	counts := make(map[int64]int, len(groupIDs))
	for rows.Next() {
		var groupID int64
		var n int
		if err := rows.Scan(&groupID, &n); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan recent count row")
		}
		counts[groupID] = n
	}
	return counts, rows.Err()
}

// ReplaceFeatured implements GroupStore.
func (s *SQLiteStore) ReplaceFeatured(ctx context.Context, tenantID string, kind model.GroupKind, ids []int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: replace featured: begin tx")
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx,
		`UPDATE groups SET featured = 0, updated_at = datetime('now')
		 WHERE tenant_id = ? AND kind = ? AND featured = 1`, tenantID, kind)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: replace featured: clear")
	}
	cleared, _ := res.RowsAffected()

	if len(ids) > 0 {
		query := `UPDATE groups SET featured = 1, updated_at = datetime('now')
			WHERE tenant_id = ? AND id IN (` + placeholders(len(ids)) + `)`
		args := append([]any{tenantID}, int64Args(ids)...)
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return 0, eris.Wrap(err, "sqlite: replace featured: set")
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: replace featured: commit")
	}
	return cleared, nil
}

// SetFeatured implements GroupStore.
func (s *SQLiteStore) SetFeatured(ctx context.Context, tenantID string, ids []int64, featured bool) error {
	if len(ids) == 0 {
		return nil
	}
	query := `UPDATE groups SET featured = ?, updated_at = datetime('now')
		WHERE tenant_id = ? AND id IN (` + placeholders(len(ids)) + `)`
	args := append([]any{featured, tenantID}, int64Args(ids)...)
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return eris.Wrap(err, "sqlite: set featured")
	}
	return nil
}

// AppendRankingRun implements GroupStore.
func (s *SQLiteStore) AppendRankingRun(ctx context.Context, run *RankingRun) error {
	selected, err := json.Marshal(run.Selected)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal selected ids")
	}
	runAt := run.RunAt
	if runAt.IsZero() {
		runAt = time.Now()
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO featured_ranking_log (tenant_id, category, algorithm, status, cleared, featured, selected, error, run_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.TenantID, run.Category, run.Algorithm, run.Status,
		run.Cleared, run.Featured, string(selected), run.Error,
		runAt.UTC().Format("2006-01-02 15:04:05"))
	if err != nil {
		return eris.Wrap(err, "sqlite: append ranking run")
	}
	return nil
}

func scanRankingRunSQL(row interface{ Scan(...any) error }) (*RankingRun, error) {
	var r RankingRun
	var selected, errStr sql.NullString
	err := row.Scan(
		&r.ID, &r.TenantID, &r.Category, &r.Algorithm, &r.Status,
		&r.Cleared, &r.Featured, &selected, &errStr, &r.RunAt,
	)
	if err != nil {
		return nil, err
	}
	if selected.Valid && selected.String != "" {
		_ = json.Unmarshal([]byte(selected.String), &r.Selected)
	}
	if errStr.Valid {
		r.Error = errStr.String
	}
	return &r, nil
}

// LastRankingRun implements GroupStore.
func (s *SQLiteStore) LastRankingRun(ctx context.Context, tenantID, category string) (*RankingRun, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+rankingRunColumns+` FROM featured_ranking_log
		 WHERE tenant_id = ? AND category = ? AND status = 'complete'
		 ORDER BY run_at DESC, id DESC LIMIT 1`, tenantID, category)
	r, err := scanRankingRunSQL(row)
	if err != nil {
		if eris.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "sqlite: last ranking run for %s", category)
	}
	return r, nil
}

// ListRankingRuns implements GroupStore.
func (s *SQLiteStore) ListRankingRuns(ctx context.Context, tenantID string, limit int) ([]RankingRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+rankingRunColumns+` FROM featured_ranking_log
		 WHERE tenant_id = ? ORDER BY run_at DESC, id DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list ranking runs")
	}
	defer rows.Close()

	var runs []RankingRun
	for rows.Next() {
		r, err := scanRankingRunSQL(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan ranking run row")
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}
