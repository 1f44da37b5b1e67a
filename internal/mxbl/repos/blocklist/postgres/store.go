package postgres

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/repos/blocklist"
)

//go:embed schema.sql
var schema string

// DB is the subset of *pgxpool.Pool the store uses; pgxmock pools satisfy it too.
type DB interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

const ruleColumns = `id, pattern, pattern_type, reason, active, added, added_by, hits, last_hit`

const (
	sqlListRules = `SELECT ` + ruleColumns + ` FROM mxbl WHERE active OR $1 ORDER BY active DESC, id`
	sqlListPage  = `SELECT ` + ruleColumns + ` FROM mxbl ORDER BY id LIMIT $1 OFFSET $2`
	sqlGetRule   = `SELECT ` + ruleColumns + ` FROM mxbl WHERE id = $1`
	sqlAddRule   = `INSERT INTO mxbl (pattern, pattern_type, reason, active, added, added_by)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING id`
	sqlDeleteRule   = `DELETE FROM mxbl WHERE id = $1 RETURNING ` + ruleColumns
	sqlEditPattern  = `UPDATE mxbl SET pattern = $2, pattern_type = $3 WHERE id = $1 RETURNING ` + ruleColumns
	sqlEditReason   = `UPDATE mxbl SET reason = $2 WHERE id = $1 RETURNING ` + ruleColumns
	sqlToggleRule   = `UPDATE mxbl SET active = NOT active WHERE id = $1 RETURNING ` + ruleColumns
	sqlIncrementHit = `UPDATE mxbl SET hits = hits + 1, last_hit = $2 WHERE id = $1 RETURNING hits`
	sqlSettings     = `SELECT name, value FROM settings`
	sqlSetSetting   = `INSERT INTO settings (name, value) VALUES ($1, $2)
		ON CONFLICT (name) DO UPDATE SET value = EXCLUDED.value`
)

// store implements blocklist.Store on PostgreSQL.
type store struct {
	db DB
}

// New connects a pool to dsn and verifies the connection.
func New(ctx context.Context, dsn string) (blocklist.Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return NewWithDB(pool), nil
}

// NewWithDB wraps an existing connection pool.
func NewWithDB(db DB) blocklist.Store {
	return &store{db: db}
}

func (s *store) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

func (s *store) Close() error {
	s.db.Close()
	return nil
}

func (s *store) ListRules(ctx context.Context, includeInactive bool) ([]domain.Rule, error) {
	return s.queryRules(ctx, sqlListRules, includeInactive)
}

func (s *store) ListPage(ctx context.Context, limit, offset int) ([]domain.Rule, error) {
	if limit <= 0 {
		return nil, nil
	}
	if offset < 0 {
		offset = 0
	}
	return s.queryRules(ctx, sqlListPage, limit, offset)
}

func (s *store) GetRule(ctx context.Context, id int64) (domain.Rule, error) {
	return s.queryRule(ctx, sqlGetRule, id)
}

func (s *store) AddRule(ctx context.Context, r domain.Rule) (domain.Rule, error) {
	if r.Pattern == nil {
		return domain.Rule{}, errors.New("rule pattern must be set")
	}
	err := s.db.QueryRow(ctx, sqlAddRule,
		r.Pattern.Raw(), int16(r.Pattern.Kind()), r.Reason, r.Active, r.AddedAt.UTC(), r.AddedBy,
	).Scan(&r.ID)
	if err != nil {
		return domain.Rule{}, fmt.Errorf("insert rule: %w", err)
	}
	return r, nil
}

func (s *store) DeleteRule(ctx context.Context, id int64) (domain.Rule, error) {
	return s.queryRule(ctx, sqlDeleteRule, id)
}

func (s *store) EditPattern(ctx context.Context, id int64, p domain.Pattern) (domain.Rule, error) {
	if p == nil {
		return domain.Rule{}, errors.New("rule pattern must be set")
	}
	return s.queryRule(ctx, sqlEditPattern, id, p.Raw(), int16(p.Kind()))
}

func (s *store) EditReason(ctx context.Context, id int64, reason string) (domain.Rule, error) {
	return s.queryRule(ctx, sqlEditReason, id, reason)
}

func (s *store) ToggleRule(ctx context.Context, id int64) (domain.Rule, error) {
	return s.queryRule(ctx, sqlToggleRule, id)
}

func (s *store) IncrementHit(ctx context.Context, id int64, at time.Time) (int64, error) {
	var hits int64
	err := s.db.QueryRow(ctx, sqlIncrementHit, id, at.UTC()).Scan(&hits)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, blocklist.ErrRuleNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("increment hit for rule %d: %w", id, err)
	}
	return hits, nil
}

func (s *store) Settings(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.Query(ctx, sqlSettings)
	if err != nil {
		return nil, fmt.Errorf("query settings: %w", err)
	}
	defer rows.Close()

	out := map[string]string{}
	for rows.Next() {
		var name, value string
		if err := rows.Scan(&name, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out[name] = value
	}
	return out, rows.Err()
}

func (s *store) SetSetting(ctx context.Context, name, value string) error {
	if _, err := s.db.Exec(ctx, sqlSetSetting, name, value); err != nil {
		return fmt.Errorf("set setting %s: %w", name, err)
	}
	return nil
}

func (s *store) queryRule(ctx context.Context, sql string, args ...any) (domain.Rule, error) {
	r, err := scanRule(s.db.QueryRow(ctx, sql, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.Rule{}, blocklist.ErrRuleNotFound
	}
	return r, err
}

func (s *store) queryRules(ctx context.Context, sql string, args ...any) ([]domain.Rule, error) {
	rows, err := s.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []domain.Rule
	for rows.Next() {
		r, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

func scanRule(row pgx.Row) (domain.Rule, error) {
	var (
		r       domain.Rule
		raw     string
		kind    int16
		lastHit *time.Time
	)
	if err := row.Scan(&r.ID, &raw, &kind, &r.Reason, &r.Active, &r.AddedAt, &r.AddedBy, &r.Hits, &lastHit); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Rule{}, err
		}
		return domain.Rule{}, fmt.Errorf("scan rule: %w", err)
	}
	p, err := domain.NewPattern(raw, domain.PatternKind(kind))
	if err != nil {
		return domain.Rule{}, fmt.Errorf("decode rule %d: %w", r.ID, err)
	}
	r.Pattern = p
	r.LastHit = lastHit
	return r, nil
}

var _ blocklist.Store = (*store)(nil)
