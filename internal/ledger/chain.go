package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/custodia-mx/custodia/internal/prime"
)

// DefaultDifficulty is the number of leading zero hex digits a mined
// digest must carry when a chain is built without WithDifficulty.
const DefaultDifficulty = 4

// DefaultMaxAttempts bounds a single proof-of-work search when no
// WithMaxAttempts option is given.
const DefaultMaxAttempts = 10_000_000

// Chain is the append-only custody chain for one case. A Chain is not safe
// for concurrent use; callers serialise access per chain (the casefile
// service holds one writer lock per case).
type Chain struct {
	caseID      *big.Int
	difficulty  int
	entries     []*Entry
	oracle      *prime.Oracle
	maxAttempts uint64
	workers     int
}

type chainOptions struct {
	caseID      *big.Int
	difficulty  int
	maxAttempts uint64
	workers     int
}

// Option adjusts chain construction.
type Option func(*chainOptions)

// WithCaseID fixes the case identifier instead of allocating one from the
// oracle. NewChain fails with ErrInvalidCaseID when id is not prime.
func WithCaseID(id *big.Int) Option {
	return func(o *chainOptions) { o.caseID = id }
}

// WithDifficulty sets the proof-of-work difficulty in leading zero hex
// digits. Zero is legal and makes every digest qualify.
func WithDifficulty(d int) Option {
	return func(o *chainOptions) { o.difficulty = d }
}

// WithMaxAttempts bounds each mining search. Zero keeps DefaultMaxAttempts.
func WithMaxAttempts(n uint64) Option {
	return func(o *chainOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithWorkers sets miner parallelism. Zero or one means sequential.
func WithWorkers(n int) Option {
	return func(o *chainOptions) {
		if n > 1 {
			o.workers = n
		}
	}
}

// NewChain builds a chain for a case and synchronously mines its genesis
// entry, whose previous digest is ZeroDigest. With no options the chain
// allocates a fresh prime case id from the oracle and works at
// DefaultDifficulty. A nil oracle gets a private one.
func NewChain(ctx context.Context, o *prime.Oracle, opts ...Option) (*Chain, error) {
	if o == nil {
		o = prime.NewOracle(prime.Config{})
	}
	cfg := chainOptions{
		difficulty:  DefaultDifficulty,
		maxAttempts: DefaultMaxAttempts,
		workers:     1,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.difficulty < 0 {
		return nil, fmt.Errorf("ledger: difficulty %d is negative", cfg.difficulty)
	}

	var caseID *big.Int
	if cfg.caseID != nil {
		if !o.IsPrime(cfg.caseID) {
			return nil, fmt.Errorf("%w: got %s", ErrInvalidCaseID, cfg.caseID)
		}
		caseID = new(big.Int).Set(cfg.caseID)
	} else {
		caseID = o.Next()
	}

	c := &Chain{
		caseID:      caseID,
		difficulty:  cfg.difficulty,
		oracle:      o,
		maxAttempts: cfg.maxAttempts,
		workers:     cfg.workers,
	}
	if _, err := c.appendMined(ctx, genesisPayload(caseID), ZeroDigest); err != nil {
		return nil, fmt.Errorf("mine genesis: %w", err)
	}
	return c, nil
}

// Append canonicalises payload, allocates the next prime entry id, mines a
// non-prime nonce until the digest meets the chain difficulty, and links
// the entry to the current tip. The returned entry is a copy.
func (c *Chain) Append(ctx context.Context, payload []byte) (*Entry, error) {
	canonical, err := canonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	prev := c.entries[len(c.entries)-1].Digest
	return c.appendMined(ctx, canonical, prev)
}

func (c *Chain) appendMined(ctx context.Context, payload json.RawMessage, prevDigest string) (*Entry, error) {
	e := &Entry{
		EntryID:    c.oracle.Next(),
		CaseID:     new(big.Int).Set(c.caseID),
		CreatedAt:  time.Now().UTC(),
		Payload:    payload,
		PrevDigest: prevDigest,
	}
	if err := c.mine(ctx, e); err != nil {
		return nil, err
	}
	c.entries = append(c.entries, e)
	return e.Clone(), nil
}

// Entry returns the entry with the given id, or false. Lookup is a linear
// scan over the case's entries.
func (c *Chain) Entry(id *big.Int) (*Entry, bool) {
	if id == nil {
		return nil, false
	}
	for _, e := range c.entries {
		if e.EntryID.Cmp(id) == 0 {
			return e.Clone(), true
		}
	}
	return nil, false
}

// Entries returns a deep copy of all entries in chain order.
func (c *Chain) Entries() []*Entry {
	out := make([]*Entry, len(c.entries))
	for i, e := range c.entries {
		out[i] = e.Clone()
	}
	return out
}

// CaseID returns the chain's case identifier.
func (c *Chain) CaseID() *big.Int { return new(big.Int).Set(c.caseID) }

// Difficulty returns the proof-of-work difficulty in leading zero hex digits.
func (c *Chain) Difficulty() int { return c.difficulty }

// Len returns the number of entries, genesis included.
func (c *Chain) Len() int { return len(c.entries) }

// SetMaxAttempts bounds subsequent mining searches. Zero is ignored.
func (c *Chain) SetMaxAttempts(n uint64) {
	if n > 0 {
		c.maxAttempts = n
	}
}

// SetWorkers sets miner parallelism for subsequent appends.
func (c *Chain) SetWorkers(n int) {
	if n > 1 {
		c.workers = n
	} else {
		c.workers = 1
	}
}

// Summary is the one-screen view of a chain's state.
type Summary struct {
	CaseID            *big.Int  `json:"case_id"`
	CaseIDPrime       bool      `json:"case_id_prime"`
	Difficulty        int       `json:"difficulty"`
	EntryCount        int       `json:"entry_count"`
	AllIDsPrime       bool      `json:"all_entry_ids_prime"`
	AllNoncesNonPrime bool      `json:"all_nonces_non_prime"`
	GenesisDigest     string    `json:"genesis_digest"`
	TipDigest         string    `json:"tip_digest"`
	LastEntryAt       time.Time `json:"last_entry_at"`
	Valid             bool      `json:"valid"`
}

// Summary reports the chain's shape and standing checks. The genesis nonce
// is exempt from the non-prime rule, as in Validate.
func (c *Chain) Summary() *Summary {
	s := &Summary{
		CaseID:            new(big.Int).Set(c.caseID),
		CaseIDPrime:       c.oracle.IsPrime(c.caseID),
		Difficulty:        c.difficulty,
		EntryCount:        len(c.entries),
		AllIDsPrime:       true,
		AllNoncesNonPrime: true,
		GenesisDigest:     c.entries[0].Digest,
		TipDigest:         c.entries[len(c.entries)-1].Digest,
		LastEntryAt:       c.entries[len(c.entries)-1].CreatedAt,
	}
	for i, e := range c.entries {
		if !c.oracle.IsPrime(e.EntryID) {
			s.AllIDsPrime = false
		}
		if i > 0 && c.oracle.IsPrime(e.Nonce) {
			s.AllNoncesNonPrime = false
		}
	}
	s.Valid = c.Validate().Valid
	return s
}

// genesisPayload is the canonical payload of a chain's first entry.
func genesisPayload(caseID *big.Int) json.RawMessage {
	raw, _ := json.Marshal(map[string]string{
		"type":    "genesis",
		"case_id": caseID.String(),
	})
	return raw
}
