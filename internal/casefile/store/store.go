// Package store persists custody cases and their chain entries.
//
// A stored case is exactly a ledger.Document: the case id, the proof-of-work
// difficulty, and the ordered entries. Implementations must hand back the
// same bytes they were given — payloads and timestamps feed digest
// recomputation, so any renormalisation by the backend would make an intact
// chain look tampered with.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/custodia-mx/custodia/internal/ledger"
)

var (
	// ErrCaseNotFound is returned when no case with the given id exists.
	ErrCaseNotFound = errors.New("case not found")

	// ErrCaseExists is returned when creating a case whose id is taken.
	ErrCaseExists = errors.New("case already exists")
)

// Store is the persistence interface for custody chains.
// Memory, Postgres and SQLite implement it.
type Store interface {
	// CreateCase persists a whole chain document atomically. It backs both
	// opening a case (a lone genesis entry) and importing a full chain.
	CreateCase(ctx context.Context, doc *ledger.Document) error

	// AppendEntry persists one entry at the given zero-based position,
	// which must extend the stored tail.
	AppendEntry(ctx context.Context, caseID *big.Int, position int, e *ledger.Entry) error

	// LoadCase returns the full document for a case, entries in position
	// order.
	LoadCase(ctx context.Context, caseID *big.Int) (*ledger.Document, error)

	// ListCases returns every stored case id in ascending numeric order.
	ListCases(ctx context.Context) ([]*big.Int, error)

	// DeleteCase removes a case and all of its entries.
	DeleteCase(ctx context.Context, caseID *big.Int) error

	// Close releases the backing resources.
	Close() error
}

// formatTime renders a timestamp the same way the digest preimage does, so
// the stored text reproduces the exact time that was hashed.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// rowScanner is the subset of pgx.Rows and sql.Rows the entry codec needs.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanEntry reads one entry row in column order entry_id, created_at,
// payload, previous_digest, digest, nonce.
func scanEntry(row rowScanner, caseID *big.Int) (*ledger.Entry, error) {
	var entryID, createdAt, payload, nonce string
	e := &ledger.Entry{CaseID: new(big.Int).Set(caseID)}
	if err := row.Scan(&entryID, &createdAt, &payload, &e.PrevDigest, &e.Digest, &nonce); err != nil {
		return nil, fmt.Errorf("scan entry: %w", err)
	}

	id, ok := new(big.Int).SetString(entryID, 10)
	if !ok {
		return nil, fmt.Errorf("parse entry id %q", entryID)
	}
	e.EntryID = id

	n, ok := new(big.Int).SetString(nonce, 10)
	if !ok {
		return nil, fmt.Errorf("parse nonce %q", nonce)
	}
	e.Nonce = n

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = t.UTC()

	e.Payload = json.RawMessage(payload)
	return e, nil
}
