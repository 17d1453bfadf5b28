package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"path/filepath"
	"sort"
	"strings"

	msqlite "modernc.org/sqlite"
	sqlite3lib "modernc.org/sqlite/lib"

	"github.com/custodia-mx/custodia/internal/ledger"
)

// sqliteSchema is applied on Open. Payloads and timestamps live in TEXT
// columns: digest recomputation needs the exact stored bytes back, and any
// richer column type would renormalise them.
const sqliteSchema = `
CREATE TABLE IF NOT EXISTS custody_cases (
	case_id    TEXT PRIMARY KEY,
	difficulty INTEGER NOT NULL,
	opened_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS custody_entries (
	case_id         TEXT NOT NULL REFERENCES custody_cases(case_id),
	position        INTEGER NOT NULL,
	entry_id        TEXT NOT NULL,
	created_at      TEXT NOT NULL,
	payload         TEXT NOT NULL,
	previous_digest TEXT NOT NULL,
	digest          TEXT NOT NULL,
	nonce           TEXT NOT NULL,
	PRIMARY KEY (case_id, position)
);

CREATE INDEX IF NOT EXISTS custody_entries_entry_id ON custody_entries (entry_id);
`

// SQLite persists custody chains to an embedded SQLite database. It suits
// single-instance deployments that want durability without running Postgres.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens (creating it if needed) a SQLite store at path and
// applies the schema.
func OpenSQLite(path string) (*SQLite, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("sqlite path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

// CreateCase implements Store.
func (s *SQLite) CreateCase(ctx context.Context, doc *ledger.Document) error {
	if len(doc.Entries) == 0 {
		return fmt.Errorf("document has no entries")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	caseKey := doc.CaseID.String()
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO custody_cases (case_id, difficulty, opened_at) VALUES (?, ?, ?)`,
		caseKey, doc.Difficulty, formatTime(doc.Entries[0].CreatedAt),
	); err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("case %s: %w", caseKey, ErrCaseExists)
		}
		return fmt.Errorf("insert case: %w", err)
	}

	for i, e := range doc.Entries {
		if err := insertEntrySQLite(ctx, tx, caseKey, i, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit case tx: %w", err)
	}
	return nil
}

// AppendEntry implements Store. The write transaction gives the same
// read-tail-then-insert shape as the Postgres store; SQLite serialises
// writers on its own.
func (s *SQLite) AppendEntry(ctx context.Context, caseID *big.Int, position int, e *ledger.Entry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	caseKey := caseID.String()

	var tipPos int
	var tipDigest string
	err = tx.QueryRowContext(ctx,
		`SELECT position, digest FROM custody_entries WHERE case_id = ? ORDER BY position DESC LIMIT 1`,
		caseKey,
	).Scan(&tipPos, &tipDigest)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("case %s: %w", caseKey, ErrCaseNotFound)
		}
		return fmt.Errorf("read chain tail: %w", err)
	}
	if position != tipPos+1 || e.PrevDigest != tipDigest {
		return fmt.Errorf("case %s: append at position %d does not extend tail %d", caseKey, position, tipPos)
	}

	if err := insertEntrySQLite(ctx, tx, caseKey, position, e); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}
	return nil
}

func insertEntrySQLite(ctx context.Context, tx *sql.Tx, caseKey string, position int, e *ledger.Entry) error {
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO custody_entries (case_id, position, entry_id, created_at, payload, previous_digest, digest, nonce)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		caseKey, position, e.EntryID.String(), formatTime(e.CreatedAt),
		string(e.Payload), e.PrevDigest, e.Digest, e.Nonce.String(),
	); err != nil {
		return fmt.Errorf("insert entry %d: %w", position, err)
	}
	return nil
}

// LoadCase implements Store.
func (s *SQLite) LoadCase(ctx context.Context, caseID *big.Int) (*ledger.Document, error) {
	caseKey := caseID.String()

	doc := &ledger.Document{CaseID: new(big.Int).Set(caseID)}
	if err := s.db.QueryRowContext(ctx,
		`SELECT difficulty FROM custody_cases WHERE case_id = ?`, caseKey,
	).Scan(&doc.Difficulty); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("case %s: %w", caseKey, ErrCaseNotFound)
		}
		return nil, fmt.Errorf("get case %s: %w", caseKey, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id, created_at, payload, previous_digest, digest, nonce
		 FROM custody_entries WHERE case_id = ? ORDER BY position ASC`,
		caseKey,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		e, err := scanEntry(rows, caseID)
		if err != nil {
			return nil, err
		}
		doc.Entries = append(doc.Entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entries: %w", err)
	}
	return doc, nil
}

// ListCases implements Store. Ids are sorted numerically in Go because the
// TEXT column would sort "10" before "2".
func (s *SQLite) ListCases(ctx context.Context) ([]*big.Int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT case_id FROM custody_cases`)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}
	defer rows.Close()

	var ids []*big.Int
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan case id: %w", err)
		}
		id, ok := new(big.Int).SetString(key, 10)
		if !ok {
			return nil, fmt.Errorf("parse case id %q", key)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate cases: %w", err)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
	return ids, nil
}

// DeleteCase implements Store.
func (s *SQLite) DeleteCase(ctx context.Context, caseID *big.Int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	caseKey := caseID.String()
	if _, err := tx.ExecContext(ctx, `DELETE FROM custody_entries WHERE case_id = ?`, caseKey); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM custody_cases WHERE case_id = ?`, caseKey)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("case %s: %w", caseKey, ErrCaseNotFound)
	}
	return tx.Commit()
}

// Close implements Store.
func (s *SQLite) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func isSQLiteUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3lib.SQLITE_CONSTRAINT_PRIMARYKEY, sqlite3lib.SQLITE_CONSTRAINT_UNIQUE:
			return true
		}
	}
	return strings.Contains(strings.ToLower(err.Error()), "unique constraint failed")
}
