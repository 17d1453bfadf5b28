package ledger

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"math/big"
	"time"
)

// custodyStandards are the digital-evidence provisions a custody proof
// cites: electronic document conservation, chain-of-custody rules and the
// admissibility of electronic records.
var custodyStandards = []string{
	"NOM-151-SCFI-2016",
	"CNPP Art. 227",
	"CFPC Art. 210-A",
}

// proofDocumentType labels exported custody proofs.
const proofDocumentType = "chain-of-custody-certificate"

// ProofEntry is one chain entry annotated for legal review. Positions are
// 1-based for citation.
type ProofEntry struct {
	Position      int             `json:"position"`
	EntryID       *big.Int        `json:"entry_id"`
	EntryIDPrime  bool            `json:"entry_id_prime"`
	CreatedAt     time.Time       `json:"created_at"`
	Payload       json.RawMessage `json:"payload"`
	PrevDigest    string          `json:"previous_digest"`
	Digest        string          `json:"digest"`
	Nonce         *big.Int        `json:"nonce"`
	NonceNonPrime bool            `json:"nonce_non_prime"`
}

// Proof is a court-ready custody certificate: every entry with its
// primality facts, the full validation report, and a signature binding
// entry content and order.
type Proof struct {
	DocumentType string       `json:"document_type"`
	Standards    []string     `json:"applicable_standards"`
	CaseID       *big.Int     `json:"case_id"`
	CaseIDPrime  bool         `json:"case_id_prime"`
	GeneratedAt  time.Time    `json:"generated_at"`
	Difficulty   int          `json:"difficulty"`
	EntryCount   int          `json:"entry_count"`
	OpenedAt     time.Time    `json:"opened_at"`
	LastEntryAt  time.Time    `json:"last_entry_at"`
	Entries      []ProofEntry `json:"entries"`
	Valid        bool         `json:"valid"`
	Violations   []Violation  `json:"violations"`
	Signature    string       `json:"chain_signature"`
}

// Signature returns the chain signature: the hex SHA-256 over the in-order
// concatenation of every entry digest. Reordering entries changes it even
// when each digest individually survives.
func (c *Chain) Signature() string {
	h := sha256.New()
	for _, e := range c.entries {
		h.Write([]byte(e.Digest))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// CustodyProof assembles the certificate for the chain as it stands now.
func (c *Chain) CustodyProof() *Proof {
	report := c.Validate()
	p := &Proof{
		DocumentType: proofDocumentType,
		Standards:    append([]string(nil), custodyStandards...),
		CaseID:       new(big.Int).Set(c.caseID),
		CaseIDPrime:  c.oracle.IsPrime(c.caseID),
		GeneratedAt:  time.Now().UTC(),
		Difficulty:   c.difficulty,
		EntryCount:   len(c.entries),
		OpenedAt:     c.entries[0].CreatedAt,
		LastEntryAt:  c.entries[len(c.entries)-1].CreatedAt,
		Valid:        report.Valid,
		Violations:   report.Violations,
		Signature:    c.Signature(),
	}
	for i, e := range c.entries {
		p.Entries = append(p.Entries, ProofEntry{
			Position:      i + 1,
			EntryID:       new(big.Int).Set(e.EntryID),
			EntryIDPrime:  c.oracle.IsPrime(e.EntryID),
			CreatedAt:     e.CreatedAt,
			Payload:       bytes.Clone(e.Payload),
			PrevDigest:    e.PrevDigest,
			Digest:        e.Digest,
			Nonce:         new(big.Int).Set(e.Nonce),
			NonceNonPrime: !c.oracle.IsPrime(e.Nonce),
		})
	}
	return p
}
