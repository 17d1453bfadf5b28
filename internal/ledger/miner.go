package ledger

import (
	"context"
	"math/big"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/custodia-mx/custodia/internal/prime"
)

// ctxCheckEvery is how many candidates a mining loop tries between context
// checks.
const ctxCheckEvery = 2048

// workerWindow is the nonce block size each parallel worker claims at a
// time. Workers walk disjoint windows, so no candidate is tried twice.
const workerWindow = 4096

// mine searches the non-prime space for a nonce that gives e a digest with
// the chain's difficulty. On success e.Nonce and e.Digest are set.
func (c *Chain) mine(ctx context.Context, e *Entry) error {
	start := time.Now()
	if c.workers > 1 && c.difficulty > 0 {
		return c.mineParallel(ctx, e, start)
	}

	seq := prime.NewSequencer(c.oracle)
	var attempts uint64
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for i := 0; i < ctxCheckEvery; i++ {
			if attempts >= c.maxAttempts {
				return &MiningTimeoutError{
					Attempts:   attempts,
					Elapsed:    time.Since(start),
					Difficulty: c.difficulty,
				}
			}
			attempts++
			e.Nonce = seq.Next()
			digest := e.ComputeDigest()
			if meetsDifficulty(digest, c.difficulty) {
				e.Digest = digest
				return nil
			}
		}
	}
}

// mineParallel fans the search out over c.workers goroutines. Worker w
// starts at window w and advances by the combined stride, keeping the
// candidate sets disjoint. The first qualifying nonce wins; which worker
// finds it is irrelevant, since any non-prime nonce meeting the difficulty
// is equally valid.
func (c *Chain) mineParallel(ctx context.Context, e *Entry, start time.Time) error {
	type result struct {
		nonce  *big.Int
		digest string
	}

	mctx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, wctx := errgroup.WithContext(mctx)

	found := make(chan result, c.workers)
	var attempts atomic.Uint64

	window := big.NewInt(workerWindow)
	stride := new(big.Int).Mul(window, big.NewInt(int64(c.workers)))

	for w := 0; w < c.workers; w++ {
		lo := new(big.Int).Mul(window, big.NewInt(int64(w)))
		g.Go(func() error {
			hi := new(big.Int).Add(lo, window)
			seq := prime.NewSequencer(c.oracle)
			seq.Reset(lo)

			// Each worker mutates its own copy; Entry is not safe to share.
			local := e.Clone()

			for {
				if wctx.Err() != nil {
					return nil
				}
				for i := 0; i < ctxCheckEvery; i++ {
					if n := attempts.Add(1); n > c.maxAttempts {
						return &MiningTimeoutError{
							Attempts:   n - 1,
							Elapsed:    time.Since(start),
							Difficulty: c.difficulty,
						}
					}
					nonce := seq.Next()
					if nonce.Cmp(hi) > 0 {
						lo.Add(lo, stride)
						hi.Add(lo, window)
						seq.Reset(lo)
						nonce = seq.Next()
					}
					local.Nonce = nonce
					digest := local.ComputeDigest()
					if meetsDifficulty(digest, c.difficulty) {
						select {
						case found <- result{nonce, digest}:
						default:
						}
						cancel()
						return nil
					}
				}
			}
		})
	}

	err := g.Wait()

	select {
	case r := <-found:
		e.Nonce = r.nonce
		e.Digest = r.digest
		return nil
	default:
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}
