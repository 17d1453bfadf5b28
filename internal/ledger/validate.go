package ledger

import (
	"fmt"
	"math/big"
)

// ViolationCode names the chain predicate a violation breaks.
type ViolationCode string

const (
	ViolationEntryIDNotPrime  ViolationCode = "entry_id_not_prime"
	ViolationNoncePrime       ViolationCode = "nonce_prime"
	ViolationDigestMismatch   ViolationCode = "digest_mismatch"
	ViolationDifficultyNotMet ViolationCode = "difficulty_not_met"
	ViolationBrokenLink       ViolationCode = "broken_link"
)

// Violation is one failed predicate at one position.
type Violation struct {
	Position int           `json:"position"`
	EntryID  *big.Int      `json:"entry_id"`
	Code     ViolationCode `json:"code"`
	Detail   string        `json:"detail"`
}

// Report is the outcome of validating a chain. An invalid chain is data,
// not an error: callers always get the complete violation list.
type Report struct {
	CaseID     *big.Int    `json:"case_id"`
	EntryCount int         `json:"entry_count"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// Validate checks every entry against the chain predicates and collects
// every violation. The predicates are independent: one corrupted field
// surfaces each failure it causes, and a broken entry never hides damage
// further down the chain.
//
// The genesis nonce is exempt from the non-prime rule; everything else
// about genesis, including its mined digest, is checked like any entry.
func (c *Chain) Validate() *Report {
	r := &Report{
		CaseID:     new(big.Int).Set(c.caseID),
		EntryCount: len(c.entries),
		Violations: []Violation{},
	}

	for i, e := range c.entries {
		add := func(code ViolationCode, detail string) {
			var id *big.Int
			if e.EntryID != nil {
				id = new(big.Int).Set(e.EntryID)
			}
			r.Violations = append(r.Violations, Violation{
				Position: i,
				EntryID:  id,
				Code:     code,
				Detail:   detail,
			})
		}

		if !c.oracle.IsPrime(e.EntryID) {
			add(ViolationEntryIDNotPrime, fmt.Sprintf("entry id %s is not prime", e.EntryID))
		}
		if i > 0 && c.oracle.IsPrime(e.Nonce) {
			add(ViolationNoncePrime, fmt.Sprintf("nonce %s is prime", e.Nonce))
		}
		if got := e.ComputeDigest(); got != e.Digest {
			add(ViolationDigestMismatch, fmt.Sprintf("stored digest %s, recomputed %s", e.Digest, got))
		}
		if !meetsDifficulty(e.Digest, c.difficulty) {
			add(ViolationDifficultyNotMet, fmt.Sprintf("digest lacks %d leading zeros", c.difficulty))
		}
		if i == 0 {
			if e.PrevDigest != ZeroDigest {
				add(ViolationBrokenLink, "genesis previous digest is not the zero sentinel")
			}
		} else if e.PrevDigest != c.entries[i-1].Digest {
			add(ViolationBrokenLink, fmt.Sprintf("previous digest %s does not match predecessor digest %s",
				e.PrevDigest, c.entries[i-1].Digest))
		}
	}

	r.Valid = len(r.Violations) == 0
	return r
}
