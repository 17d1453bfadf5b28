package store

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math/big"
	"sort"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/custodia-mx/custodia/internal/ledger"
)

// Postgres persists custody chains to a PostgreSQL database. Appends to a
// case are serialised with a transaction-scoped advisory lock so multiple
// daemon instances sharing the database cannot fork a chain.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPostgres creates a Postgres store backed by the given connection pool.
func NewPostgres(pool *pgxpool.Pool, logger *zap.Logger) *Postgres {
	return &Postgres{pool: pool, logger: logger}
}

// caseLockKey derives a stable advisory lock key from the case id, so
// appends to different cases do not contend with each other.
func caseLockKey(caseID *big.Int) int64 {
	sum := sha256.Sum256([]byte(caseID.String()))
	return int64(binary.BigEndian.Uint64(sum[:8]))
}

// CreateCase implements Store. The case row and every entry are written in
// a single transaction.
func (s *Postgres) CreateCase(ctx context.Context, doc *ledger.Document) error {
	if len(doc.Entries) == 0 {
		return fmt.Errorf("document has no entries")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	caseKey := doc.CaseID.String()
	if _, err := tx.Exec(ctx,
		`INSERT INTO custody_cases (case_id, difficulty, opened_at) VALUES ($1, $2, $3)`,
		caseKey, doc.Difficulty, formatTime(doc.Entries[0].CreatedAt),
	); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return fmt.Errorf("case %s: %w", caseKey, ErrCaseExists)
		}
		return fmt.Errorf("insert case: %w", err)
	}

	for i, e := range doc.Entries {
		if err := s.insertEntry(ctx, tx, caseKey, i, e); err != nil {
			return err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit case tx: %w", err)
	}

	s.logger.Debug("case created",
		zap.String("case_id", caseKey),
		zap.Int("entries", len(doc.Entries)),
	)
	return nil
}

// AppendEntry implements Store. It acquires the case's advisory lock, reads
// the chain tail, checks that the new entry extends it, and inserts — all
// within a single transaction.
func (s *Postgres) AppendEntry(ctx context.Context, caseID *big.Int, position int, e *ledger.Entry) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	caseKey := caseID.String()

	// The lock is automatically released when the transaction commits or
	// rolls back.
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", caseLockKey(caseID)); err != nil {
		return fmt.Errorf("acquire advisory lock: %w", err)
	}

	var tipPos int
	var tipDigest string
	err = tx.QueryRow(ctx,
		`SELECT position, digest FROM custody_entries WHERE case_id = $1 ORDER BY position DESC LIMIT 1`,
		caseKey,
	).Scan(&tipPos, &tipDigest)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("case %s: %w", caseKey, ErrCaseNotFound)
		}
		return fmt.Errorf("read chain tail: %w", err)
	}
	if position != tipPos+1 || e.PrevDigest != tipDigest {
		return fmt.Errorf("case %s: append at position %d does not extend tail %d", caseKey, position, tipPos)
	}

	if err := s.insertEntry(ctx, tx, caseKey, position, e); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit append tx: %w", err)
	}

	s.logger.Debug("entry appended",
		zap.String("case_id", caseKey),
		zap.Int("position", position),
		zap.String("entry_id", e.EntryID.String()),
	)
	return nil
}

func (s *Postgres) insertEntry(ctx context.Context, tx pgx.Tx, caseKey string, position int, e *ledger.Entry) error {
	if _, err := tx.Exec(ctx,
		`INSERT INTO custody_entries (case_id, position, entry_id, created_at, payload, previous_digest, digest, nonce)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		caseKey, position, e.EntryID.String(), formatTime(e.CreatedAt),
		string(e.Payload), e.PrevDigest, e.Digest, e.Nonce.String(),
	); err != nil {
		return fmt.Errorf("insert entry %d: %w", position, err)
	}
	return nil
}

// LoadCase implements Store.
func (s *Postgres) LoadCase(ctx context.Context, caseID *big.Int) (*ledger.Document, error) {
	caseKey := caseID.String()

	doc := &ledger.Document{CaseID: new(big.Int).Set(caseID)}
	if err := s.pool.QueryRow(ctx,
		`SELECT difficulty FROM custody_cases WHERE case_id = $1`, caseKey,
	).Scan(&doc.Difficulty); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("case %s: %w", caseKey, ErrCaseNotFound)
		}
		return nil, fmt.Errorf("get case %s: %w", caseKey, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT entry_id, created_at, payload, previous_digest, digest, nonce
		 FROM custody_entries WHERE case_id = $1 ORDER BY position ASC`,
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
func (s *Postgres) ListCases(ctx context.Context) ([]*big.Int, error) {
	rows, err := s.pool.Query(ctx, `SELECT case_id FROM custody_cases`)
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

// DeleteCase implements Store. Entries are removed explicitly rather than
// through the foreign key so the two backends behave identically.
func (s *Postgres) DeleteCase(ctx context.Context, caseID *big.Int) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	caseKey := caseID.String()
	if _, err := tx.Exec(ctx, `DELETE FROM custody_entries WHERE case_id = $1`, caseKey); err != nil {
		return fmt.Errorf("delete entries: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM custody_cases WHERE case_id = $1`, caseKey)
	if err != nil {
		return fmt.Errorf("delete case: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("case %s: %w", caseKey, ErrCaseNotFound)
	}
	return tx.Commit(ctx)
}

// Close implements Store.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
