// Package prime partitions the integers into the two identifier spaces the
// custody ledger runs on: primes, which are spent as case and entry
// identifiers, and non-primes, which mining consumes as nonce candidates.
//
// An Oracle answers primality queries with Miller-Rabin and allocates
// primes in strictly increasing order. A Sequencer walks the non-prime
// complement for proof-of-work searches. Everything operates on math/big
// integers; nothing assumes an identifier fits in a machine word.
package prime

import (
	"crypto/rand"
	"io"
	"math/big"
	"sync"
)

// DefaultRounds is the Miller-Rabin witness count used when Config.Rounds
// is zero. Five rounds bound the chance of declaring a composite prime at
// 4^-5 per query.
const DefaultRounds = 5

// warmupCount is how many small primes an Oracle precomputes before the
// first allocation. Case setup burns through the low primes quickly.
const warmupCount = 100

var (
	one   = big.NewInt(1)
	two   = big.NewInt(2)
	three = big.NewInt(3)
)

// smallPrimes are trial-division candidates checked before the witness
// loop. They settle every value up to 37 outright and reject the bulk of
// composites without a modular exponentiation.
var smallPrimes = []int64{2, 3, 5, 7, 11, 13, 17, 19, 23, 29, 31, 37}

// Config holds Oracle tuning knobs. The zero value is ready to use.
type Config struct {
	// Rounds is the Miller-Rabin witness count. Zero means DefaultRounds.
	Rounds int
	// Rand supplies witness bases. Zero means crypto/rand.Reader.
	Rand io.Reader
}

// Oracle answers primality queries and hands out primes in strictly
// increasing order. It is safe for concurrent use; chains sharing an
// Oracle share one allocation sequence.
type Oracle struct {
	rounds int
	rand   io.Reader

	mu     sync.Mutex
	buffer []*big.Int // warmed-up primes not yet handed out
	last   *big.Int   // allocation floor; nil before first use
}

// NewOracle creates an Oracle. Zero-value fields of cfg fall back to the
// package defaults.
func NewOracle(cfg Config) *Oracle {
	if cfg.Rounds <= 0 {
		cfg.Rounds = DefaultRounds
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
	return &Oracle{rounds: cfg.Rounds, rand: cfg.Rand}
}

// IsPrime reports whether n is prime. Values below two, including nil,
// zero and negatives, are never prime. Small inputs are settled by trial
// division; the rest go through the Miller-Rabin witness loop.
func (o *Oracle) IsPrime(n *big.Int) bool {
	if n == nil || n.Sign() <= 0 {
		return false
	}
	if n.IsInt64() {
		v := n.Int64()
		for _, p := range smallPrimes {
			if v == p {
				return true
			}
		}
		if v <= smallPrimes[len(smallPrimes)-1] {
			return false
		}
	}

	var m, d big.Int
	for _, p := range smallPrimes {
		d.SetInt64(p)
		if m.Mod(n, &d).Sign() == 0 {
			return false
		}
	}
	return o.millerRabin(n)
}

// millerRabin runs the witness loop. Callers guarantee n is odd, greater
// than 37 and has no factor among smallPrimes.
func (o *Oracle) millerRabin(n *big.Int) bool {
	// Decompose n-1 = d * 2^r with d odd.
	nMinusOne := new(big.Int).Sub(n, one)
	d := new(big.Int).Set(nMinusOne)
	r := 0
	for d.Bit(0) == 0 {
		d.Rsh(d, 1)
		r++
	}

	span := new(big.Int).Sub(n, three) // bases are uniform over [2, n-2]
	x := new(big.Int)
	y := new(big.Int)
	for i := 0; i < o.rounds; i++ {
		a, err := rand.Int(o.rand, span)
		if err != nil {
			// A dead randomness source must not misreport compositeness;
			// fall back to a fixed small witness.
			a = big.NewInt(smallPrimes[i%len(smallPrimes)] - 2)
		}
		a.Add(a, two)

		x.Exp(a, d, n)
		if x.Cmp(one) == 0 || x.Cmp(nMinusOne) == 0 {
			continue
		}
		witness := true
		for j := 0; j < r-1; j++ {
			y.Mul(x, x)
			x.Mod(y, n)
			if x.Cmp(nMinusOne) == 0 {
				witness = false
				break
			}
		}
		if witness {
			return false
		}
	}
	return true
}

// NextPrime returns the smallest prime strictly greater than after.
// For after below two (or nil) the answer is 2.
func (o *Oracle) NextPrime(after *big.Int) *big.Int {
	if after == nil || after.Cmp(two) < 0 {
		return big.NewInt(2)
	}
	n := new(big.Int).Add(after, one)
	if n.Bit(0) == 0 {
		n.Add(n, one)
	}
	for !o.IsPrime(n) {
		n.Add(n, two)
	}
	return n
}

// Next allocates the next unissued prime. Successive calls return strictly
// increasing primes and the sequence never repeats for the lifetime of the
// Oracle, across any number of goroutines.
func (o *Oracle) Next() *big.Int {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.last == nil && o.buffer == nil {
		o.warmup()
	}
	for len(o.buffer) > 0 {
		p := o.buffer[0]
		o.buffer = o.buffer[1:]
		if o.last == nil || p.Cmp(o.last) > 0 {
			o.last = p
			return new(big.Int).Set(p)
		}
	}
	o.last = o.NextPrime(o.last)
	return new(big.Int).Set(o.last)
}

// Advance raises the allocation floor: every subsequent Next returns a
// prime strictly greater than n. Reconstructing a persisted chain calls
// this so fresh allocations never collide with recorded identifiers.
func (o *Oracle) Advance(n *big.Int) {
	if n == nil {
		return
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil || n.Cmp(o.last) > 0 {
		o.last = new(big.Int).Set(n)
	}
}

// warmup precomputes the first warmupCount primes. Every composite in that
// range has a factor among smallPrimes, so the buffer is exact.
func (o *Oracle) warmup() {
	o.buffer = make([]*big.Int, 0, warmupCount)
	p := big.NewInt(2)
	for len(o.buffer) < warmupCount {
		o.buffer = append(o.buffer, new(big.Int).Set(p))
		p = o.NextPrime(p)
	}
}
