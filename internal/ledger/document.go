package ledger

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/custodia-mx/custodia/internal/prime"
)

// Document is the interchange form of a chain: everything needed to
// reconstruct it exactly. Export then import then export again yields
// byte-identical JSON.
type Document struct {
	CaseID     *big.Int `json:"case_id"`
	Difficulty int      `json:"difficulty"`
	Entries    []*Entry `json:"entries"`
}

// Export captures the chain as a Document. The copy is deep; a held
// document never aliases live chain state.
func (c *Chain) Export() *Document {
	return &Document{
		CaseID:     new(big.Int).Set(c.caseID),
		Difficulty: c.difficulty,
		Entries:    c.Entries(),
	}
}

// FromDocument reconstructs a chain from a document. Structure is checked
// strictly and rejected with ErrInvalidDocument; integrity deliberately is
// not, because a tampered chain must still reconstruct so Validate can
// testify about it. The oracle's allocation floor advances past every
// entry id in the document, keeping later allocations collision-free.
func FromDocument(doc *Document, o *prime.Oracle) (*Chain, error) {
	if o == nil {
		o = prime.NewOracle(prime.Config{})
	}
	if err := checkDocument(doc); err != nil {
		return nil, err
	}

	c := &Chain{
		caseID:      new(big.Int).Set(doc.CaseID),
		difficulty:  doc.Difficulty,
		oracle:      o,
		maxAttempts: DefaultMaxAttempts,
		workers:     1,
		entries:     make([]*Entry, 0, len(doc.Entries)),
	}
	for i, e := range doc.Entries {
		kept := e.Clone()
		kept.CreatedAt = kept.CreatedAt.UTC()

		var buf bytes.Buffer
		if err := json.Compact(&buf, kept.Payload); err != nil {
			return nil, fmt.Errorf("%w: entry %d payload: %v", ErrInvalidDocument, i, err)
		}
		kept.Payload = buf.Bytes()

		c.entries = append(c.entries, kept)
		o.Advance(kept.EntryID)
	}
	return c, nil
}

func checkDocument(doc *Document) error {
	switch {
	case doc == nil:
		return fmt.Errorf("%w: no document", ErrInvalidDocument)
	case doc.CaseID == nil:
		return fmt.Errorf("%w: missing case id", ErrInvalidDocument)
	case doc.CaseID.Sign() <= 0:
		return fmt.Errorf("%w: case id must be positive", ErrInvalidDocument)
	case doc.Difficulty < 0:
		return fmt.Errorf("%w: negative difficulty", ErrInvalidDocument)
	case len(doc.Entries) == 0:
		return fmt.Errorf("%w: no entries", ErrInvalidDocument)
	}
	for i, e := range doc.Entries {
		switch {
		case e == nil:
			return fmt.Errorf("%w: entry %d is null", ErrInvalidDocument, i)
		case e.EntryID == nil:
			return fmt.Errorf("%w: entry %d has no entry id", ErrInvalidDocument, i)
		case e.CaseID == nil:
			return fmt.Errorf("%w: entry %d has no case id", ErrInvalidDocument, i)
		case e.Nonce == nil:
			return fmt.Errorf("%w: entry %d has no nonce", ErrInvalidDocument, i)
		case e.CreatedAt.IsZero():
			return fmt.Errorf("%w: entry %d has no timestamp", ErrInvalidDocument, i)
		case e.Digest == "":
			return fmt.Errorf("%w: entry %d has no digest", ErrInvalidDocument, i)
		case !json.Valid(e.Payload):
			return fmt.Errorf("%w: entry %d payload is not valid JSON", ErrInvalidDocument, i)
		}
	}
	return nil
}
