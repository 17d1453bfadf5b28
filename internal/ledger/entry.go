package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"time"
)

// ZeroDigest is the well-known previous digest of every genesis entry.
// Chains anchor on this constant rather than on a computed value.
const ZeroDigest = "0000000000000000000000000000000000000000000000000000000000000000"

// Entry is a single custody record. Every field except Digest itself
// participates in the digest, so tampering with any of them is detectable.
type Entry struct {
	EntryID    *big.Int        `json:"entry_id"`
	CaseID     *big.Int        `json:"case_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Payload    json.RawMessage `json:"payload"`
	PrevDigest string          `json:"previous_digest"`
	Digest     string          `json:"digest"`
	Nonce      *big.Int        `json:"nonce"`
}

// ComputeDigest returns the hex SHA-256 over the entry's identifying
// fields. The stored Digest is not an input; validation recomputes and
// compares.
func (e *Entry) ComputeDigest() string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s|%s|%s|%s",
		e.EntryID, e.CaseID, e.CreatedAt.UTC().Format(time.RFC3339Nano),
		e.Payload, e.PrevDigest, e.Nonce,
	)
	return hex.EncodeToString(h.Sum(nil))
}

// Clone returns a deep copy; big.Ints and payload bytes are not shared.
func (e *Entry) Clone() *Entry {
	c := &Entry{
		CreatedAt:  e.CreatedAt,
		PrevDigest: e.PrevDigest,
		Digest:     e.Digest,
	}
	if e.EntryID != nil {
		c.EntryID = new(big.Int).Set(e.EntryID)
	}
	if e.CaseID != nil {
		c.CaseID = new(big.Int).Set(e.CaseID)
	}
	if e.Nonce != nil {
		c.Nonce = new(big.Int).Set(e.Nonce)
	}
	if e.Payload != nil {
		c.Payload = bytes.Clone(e.Payload)
	}
	return c
}

// canonicalPayload re-encodes raw JSON into canonical bytes: object keys
// sorted, whitespace stripped, number literals preserved digit for digit.
// Semantically equal payloads therefore produce identical digests.
func canonicalPayload(raw []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if dec.More() {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrInvalidPayload)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return out, nil
}

// meetsDifficulty reports whether digest carries at least difficulty
// leading zero hex digits.
func meetsDifficulty(digest string, difficulty int) bool {
	if difficulty > len(digest) {
		return false
	}
	for i := 0; i < difficulty; i++ {
		if digest[i] != '0' {
			return false
		}
	}
	return true
}
