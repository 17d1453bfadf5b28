package prime

import "math/big"

// Sequencer walks the non-prime integers in increasing order. Zero and one
// count as non-prime, so the search space is dense from the very bottom.
// A Sequencer is not safe for concurrent use; each mining session owns one.
type Sequencer struct {
	oracle *Oracle
	cur    big.Int
}

// NewSequencer returns a Sequencer positioned at zero: the first Next
// yields 1.
func NewSequencer(o *Oracle) *Sequencer {
	return &Sequencer{oracle: o}
}

// Next returns the smallest non-prime strictly greater than the last value
// returned (or than the Reset base).
func (s *Sequencer) Next() *big.Int {
	for {
		s.cur.Add(&s.cur, one)
		if !s.oracle.IsPrime(&s.cur) {
			return new(big.Int).Set(&s.cur)
		}
	}
}

// Reset rebases the walk: the next value is the smallest non-prime
// strictly greater than start.
func (s *Sequencer) Reset(start *big.Int) {
	s.cur.Set(start)
}
