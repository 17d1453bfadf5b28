package ledger

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrInvalidCaseID rejects chain construction with a non-prime case id.
	ErrInvalidCaseID = errors.New("ledger: case id must be prime")

	// ErrInvalidPayload rejects payloads that are not a single well-formed
	// JSON value.
	ErrInvalidPayload = errors.New("ledger: invalid payload")

	// ErrInvalidDocument rejects structurally broken chain documents at
	// import. Tampered but well-formed documents import fine; Validate is
	// the witness for those.
	ErrInvalidDocument = errors.New("ledger: invalid chain document")
)

// MiningTimeoutError reports that a proof-of-work search exhausted its
// attempt budget before finding a qualifying digest.
type MiningTimeoutError struct {
	Attempts   uint64
	Elapsed    time.Duration
	Difficulty int
}

func (e *MiningTimeoutError) Error() string {
	return fmt.Sprintf("ledger: mining gave up after %d attempts in %s (difficulty %d)",
		e.Attempts, e.Elapsed, e.Difficulty)
}
