package audit

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/google/uuid"
)

// PostgresStore backs Store with a pgx connection pool, for deployments
// where the chain must survive process restarts and outlive any one
// in-memory instance.
//
// Schema (created out of band via migrations, not by this package):
//
//	CREATE TABLE audit_entries (
//	    id            UUID PRIMARY KEY,
//	    sequence      BIGSERIAL,
//	    ts            TIMESTAMPTZ NOT NULL,
//	    user_id       TEXT NOT NULL DEFAULT '',
//	    category      TEXT NOT NULL,
//	    action        TEXT NOT NULL,
//	    severity      TEXT NOT NULL,
//	    success       BOOLEAN NOT NULL,
//	    entity_type   TEXT NOT NULL DEFAULT '',
//	    entity_id     TEXT NOT NULL DEFAULT '',
//	    data          JSONB NOT NULL DEFAULT '{}',
//	    previous_hash TEXT NOT NULL,
//	    entry_hash    TEXT NOT NULL
//	);
//	CREATE INDEX audit_entries_user_idx ON audit_entries (user_id, ts);
//	CREATE INDEX audit_entries_category_idx ON audit_entries (category, ts);
//	CREATE INDEX audit_entries_seq_idx ON audit_entries (sequence);
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps an already-connected pool.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Append runs inside a transaction so the read-last-hash-then-insert
// step is the single critical section Store.Append requires, enforced
// by the database rather than an in-process mutex — safe across
// multiple gate replicas writing to the same chain.
func (s *PostgresStore) Append(ctx context.Context, entry Entry) (Entry, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return Entry{}, wrapErr("Append", err)
	}
	defer tx.Rollback(ctx)

	var lastHash string
	err = tx.QueryRow(ctx, `SELECT entry_hash FROM audit_entries ORDER BY sequence DESC LIMIT 1`).Scan(&lastHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, wrapErr("Append", err)
	}

	entry.ID = uuid.NewString()
	entry.Timestamp = time.Now()
	entry.PreviousHash = lastHash
	entry.EntryHash = entryHash(entry)

	data, err := json.Marshal(entry.Data)
	if err != nil {
		return Entry{}, wrapErr("Append", err)
	}

	err = tx.QueryRow(ctx,
		`INSERT INTO audit_entries (id, ts, user_id, category, action, severity, success, entity_type, entity_id, data, previous_hash, entry_hash)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		 RETURNING sequence`,
		entry.ID, entry.Timestamp, entry.UserID, entry.Category, entry.Action, string(entry.Severity),
		entry.Success, entry.EntityType, entry.EntityID, data, entry.PreviousHash, entry.EntryHash,
	).Scan(&entry.Sequence)
	if err != nil {
		return Entry{}, wrapErr("Append", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return Entry{}, wrapErr("Append", err)
	}
	return entry, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Entry, error) {
	row := s.pool.QueryRow(ctx, selectColumns+` WHERE id = $1`, id)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Entry{}, ErrNotFound
		}
		return Entry{}, wrapErr("Get", err)
	}
	return e, nil
}

const selectColumns = `SELECT id, sequence, ts, user_id, category, action, severity, success, entity_type, entity_id, data, previous_hash, entry_hash FROM audit_entries`

func scanEntry(row pgx.Row) (Entry, error) {
	var e Entry
	var severity string
	var data []byte
	if err := row.Scan(&e.ID, &e.Sequence, &e.Timestamp, &e.UserID, &e.Category, &e.Action, &severity,
		&e.Success, &e.EntityType, &e.EntityID, &data, &e.PreviousHash, &e.EntryHash); err != nil {
		return Entry{}, err
	}
	e.Severity = Severity(severity)
	if len(data) > 0 {
		if err := json.Unmarshal(data, &e.Data); err != nil {
			return Entry{}, err
		}
	}
	return e, nil
}

func (s *PostgresStore) Query(ctx context.Context, q Query) ([]Entry, error) {
	where, args := buildWhere(q)
	order := "ASC"
	if q.SortOrder == SortDescending {
		order = "DESC"
	}
	query := selectColumns + where + ` ORDER BY ts ` + order

	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += ` LIMIT $` + itoa(len(args))
	}
	if q.Offset > 0 {
		args = append(args, q.Offset)
		query += ` OFFSET $` + itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("Query", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, wrapErr("Query", err)
		}
		out = append(out, e)
	}
	return out, wrapErr("Query", rows.Err())
}

func buildWhere(q Query) (string, []any) {
	var clauses []string
	var args []any

	add := func(clause string, val any) {
		args = append(args, val)
		clauses = append(clauses, clause+"$"+itoa(len(args)))
	}

	if q.UserID != "" {
		add("user_id = ", q.UserID)
	}
	if q.Category != "" {
		add("category = ", q.Category)
	}
	if q.Action != "" {
		add("action = ", q.Action)
	}
	if q.Severity != "" {
		add("severity = ", string(q.Severity))
	}
	if q.EntityType != "" {
		add("entity_type = ", q.EntityType)
	}
	if q.EntityID != "" {
		add("entity_id = ", q.EntityID)
	}
	if !q.FromTs.IsZero() {
		add("ts >= ", q.FromTs)
	}
	if !q.ToTs.IsZero() {
		add("ts <= ", q.ToTs)
	}
	if q.SuccessOnly {
		clauses = append(clauses, "success = true")
	}
	if q.FailedOnly {
		clauses = append(clauses, "success = false")
	}
	if q.SearchText != "" {
		args = append(args, "%"+strings.ToLower(q.SearchText)+"%")
		clauses = append(clauses, "lower(category || ' ' || action || ' ' || data::text) LIKE $"+itoa(len(args)))
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

func (s *PostgresStore) VerifyIntegrity(ctx context.Context, fromID string, limit int) (IntegrityReport, error) {
	startSeq := int64(0)
	if fromID != "" {
		var seq int64
		if err := s.pool.QueryRow(ctx, `SELECT sequence FROM audit_entries WHERE id = $1`, fromID).Scan(&seq); err != nil {
			return IntegrityReport{}, wrapErr("VerifyIntegrity", err)
		}
		startSeq = seq
	}

	var prevHash string
	if startSeq > 0 {
		if err := s.pool.QueryRow(ctx, `SELECT entry_hash FROM audit_entries WHERE sequence < $1 ORDER BY sequence DESC LIMIT 1`, startSeq).Scan(&prevHash); err != nil && !errors.Is(err, pgx.ErrNoRows) {
			return IntegrityReport{}, wrapErr("VerifyIntegrity", err)
		}
	}

	query := selectColumns + ` WHERE sequence >= $1 ORDER BY sequence ASC`
	args := []any{startSeq}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return IntegrityReport{}, wrapErr("VerifyIntegrity", err)
	}
	defer rows.Close()

	checked := 0
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return IntegrityReport{}, wrapErr("VerifyIntegrity", err)
		}
		if e.PreviousHash != prevHash {
			return IntegrityReport{Valid: false, EntriesChecked: checked + 1, BrokenAtID: e.ID, Error: "previousHash mismatch"}, nil
		}
		if entryHash(e) != e.EntryHash {
			return IntegrityReport{Valid: false, EntriesChecked: checked + 1, BrokenAtID: e.ID, Error: "entryHash mismatch"}, nil
		}
		prevHash = e.EntryHash
		checked++
	}
	return IntegrityReport{Valid: true, EntriesChecked: checked}, wrapErr("VerifyIntegrity", rows.Err())
}

// DeleteForRetention removes rows older than beforeTimestamp. Survivors
// keep their original previous_hash, so the resulting gap stays
// detectable by VerifyIntegrity rather than silently healed.
func (s *PostgresStore) DeleteForRetention(ctx context.Context, beforeTimestamp time.Time) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_entries WHERE ts < $1`, beforeTimestamp)
	if err != nil {
		return 0, wrapErr("DeleteForRetention", err)
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) EraseUser(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM audit_entries WHERE user_id = $1`, userID)
	if err != nil {
		return 0, wrapErr("EraseUser", err)
	}
	return int(tag.RowsAffected()), nil
}

func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return errors.New("audit: " + op + ": " + err.Error())
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	digits := []byte{}
	for n > 0 {
		digits = append([]byte{byte('0' + n%10)}, digits...)
		n /= 10
	}
	return string(digits)
}

var _ Store = (*PostgresStore)(nil)
