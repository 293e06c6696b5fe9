package kvstore

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore backs the Store contract with a pgx connection pool. It is
// the durable option for deployments where rate limiter block state and
// the provider cache must survive a process restart — the same tables any
// in-process caller reaches through the Store interface only.
//
// Schema (created out of band via migrations, not by this package):
//
//	CREATE TABLE kv_entries (key TEXT PRIMARY KEY, value BYTEA NOT NULL, expires_at TIMESTAMPTZ);
//	CREATE TABLE kv_zset (key TEXT NOT NULL, member TEXT NOT NULL, score DOUBLE PRECISION NOT NULL, PRIMARY KEY (key, member));
//	CREATE INDEX kv_zset_score_idx ON kv_zset (key, score);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.pool.QueryRow(ctx,
		`SELECT value FROM kv_entries WHERE key = $1 AND (expires_at IS NULL OR expires_at > now())`,
		key,
	).Scan(&value)
	if err != nil {
		if err.Error() == "no rows in result set" {
			return nil, ErrNotFound
		}
		return nil, wrapBackendErr("Get", err)
	}
	return value, nil
}

func (s *PostgresStore) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	var expiresAt *time.Time
	if ttl > 0 {
		t := time.Now().Add(ttl)
		expiresAt = &t
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_entries (key, value, expires_at) VALUES ($1, $2, $3)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at`,
		key, value, expiresAt,
	)
	return wrapBackendErr("Set", err)
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_entries WHERE key = $1`, key)
	if err != nil {
		return wrapBackendErr("Delete", err)
	}
	_, err = s.pool.Exec(ctx, `DELETE FROM kv_zset WHERE key = $1`, key)
	return wrapBackendErr("Delete", err)
}

func (s *PostgresStore) Incr(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`INSERT INTO kv_entries (key, value) VALUES ($1, '1')
		 ON CONFLICT (key) DO UPDATE SET value = (COALESCE(NULLIF(kv_entries.value, '')::text, '0')::bigint + 1)::text::bytea
		 RETURNING value::text::bigint`,
		key,
	).Scan(&n)
	if err != nil {
		return 0, wrapBackendErr("Incr", err)
	}
	return n, nil
}

func (s *PostgresStore) ZAdd(ctx context.Context, key string, score float64, member string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO kv_zset (key, member, score) VALUES ($1, $2, $3)
		 ON CONFLICT (key, member) DO UPDATE SET score = EXCLUDED.score`,
		key, member, score,
	)
	return wrapBackendErr("ZAdd", err)
}

func (s *PostgresStore) ZRem(ctx context.Context, key string, member string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM kv_zset WHERE key = $1 AND member = $2`, key, member)
	return wrapBackendErr("ZRem", err)
}

func (s *PostgresStore) ZCard(ctx context.Context, key string) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM kv_zset WHERE key = $1`, key).Scan(&n)
	return n, wrapBackendErr("ZCard", err)
}

func (s *PostgresStore) zQuery(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapBackendErr("ZQuery", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var member string
		if err := rows.Scan(&member); err != nil {
			return nil, wrapBackendErr("ZQuery", err)
		}
		out = append(out, member)
	}
	return out, wrapBackendErr("ZQuery", rows.Err())
}

func (s *PostgresStore) ZRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	limit, offset := rangeToLimitOffset(start, stop)
	return s.zQuery(ctx,
		`SELECT member FROM kv_zset WHERE key = $1 ORDER BY score ASC, member ASC LIMIT $2 OFFSET $3`,
		key, limit, offset)
}

func (s *PostgresStore) ZRevRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	limit, offset := rangeToLimitOffset(start, stop)
	return s.zQuery(ctx,
		`SELECT member FROM kv_zset WHERE key = $1 ORDER BY score DESC, member DESC LIMIT $2 OFFSET $3`,
		key, limit, offset)
}

func (s *PostgresStore) ZRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.zQuery(ctx,
		`SELECT member FROM kv_zset WHERE key = $1 AND score >= $2 AND score <= $3 ORDER BY score ASC, member ASC`,
		key, min, max)
}

func (s *PostgresStore) ZRevRangeByScore(ctx context.Context, key string, min, max float64) ([]string, error) {
	return s.zQuery(ctx,
		`SELECT member FROM kv_zset WHERE key = $1 AND score >= $2 AND score <= $3 ORDER BY score DESC, member DESC`,
		key, min, max)
}

// rangeToLimitOffset converts Redis-style (possibly negative) start/stop
// indices into a SQL LIMIT/OFFSET pair. Negative indices beyond a full
// table scan aren't resolvable without a count query, so callers needing
// exact negative-index semantics should prefer the memory backend; this
// is an accepted approximation for the Postgres backend (non-negative
// ranges, the common case for paging, are exact).
func rangeToLimitOffset(start, stop int64) (limit, offset int64) {
	if start < 0 {
		start = 0
	}
	if stop < start {
		return 0, start
	}
	return stop - start + 1, start
}

var _ Store = (*PostgresStore)(nil)
