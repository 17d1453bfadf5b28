// Package casefile coordinates custody chains for many cases at once: one
// shared prime oracle, per-case single-writer chains, and persistence
// through a store.Store.
package casefile

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-mx/custodia/internal/casefile/store"
	"github.com/custodia-mx/custodia/internal/ledger"
	"github.com/custodia-mx/custodia/internal/prime"
)

// ErrEntryNotFound is returned when a case has no entry with the given id.
var ErrEntryNotFound = errors.New("entry not found")

// Config holds the service-wide chain defaults. Zero values fall back to
// difficulty 4, the default attempt bound, and sequential mining.
type Config struct {
	// Difficulty is the default number of leading zero hex digits for new
	// cases. Requests may override it per case, including down to zero.
	Difficulty int

	// MaxAttempts bounds every proof-of-work search.
	MaxAttempts uint64

	// Workers sets miner parallelism per append.
	Workers int

	// AppendTimeout bounds the wall clock of one append, mining included.
	// Zero leaves appends bounded by MaxAttempts alone.
	AppendTimeout time.Duration
}

// OpenCaseParams configures a new case. A nil CaseID allocates the next
// prime from the service oracle; a nil Difficulty applies the service
// default.
type OpenCaseParams struct {
	CaseID     *big.Int
	Difficulty *int
}

// Service owns the oracle every chain allocates from, so entry and case ids
// are strictly increasing across the whole process, never just per case.
type Service struct {
	st     store.Store
	oracle *prime.Oracle
	logger *zap.Logger

	difficulty    int
	maxAttempts   uint64
	workers       int
	appendTimeout time.Duration

	mu    sync.Mutex
	cases map[string]*caseState
}

// caseState serialises all access to one chain. The lock is held across the
// whole read-mine-persist critical section, which is what makes appends to
// a case single-writer.
type caseState struct {
	mu    sync.Mutex
	chain *ledger.Chain
}

// NewService creates a Service on top of st.
func NewService(st store.Store, logger *zap.Logger, cfg Config) *Service {
	if cfg.Difficulty <= 0 {
		cfg.Difficulty = ledger.DefaultDifficulty
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = ledger.DefaultMaxAttempts
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Service{
		st:            st,
		oracle:        prime.NewOracle(prime.Config{}),
		logger:        logger,
		difficulty:    cfg.Difficulty,
		maxAttempts:   cfg.MaxAttempts,
		workers:       cfg.Workers,
		appendTimeout: cfg.AppendTimeout,
		cases:         make(map[string]*caseState),
	}
}

// chainFor returns the case's state with its lock held; the caller must
// unlock. A cache miss rebuilds the chain from the store, which also
// advances the oracle's allocation floor past every persisted entry id.
func (s *Service) chainFor(ctx context.Context, caseID *big.Int) (*caseState, error) {
	if caseID == nil {
		return nil, store.ErrCaseNotFound
	}
	cs := s.state(caseID.String())

	cs.mu.Lock()
	if cs.chain == nil {
		doc, err := s.st.LoadCase(ctx, caseID)
		if err != nil {
			cs.mu.Unlock()
			return nil, err
		}
		chain, err := ledger.FromDocument(doc, s.oracle)
		if err != nil {
			cs.mu.Unlock()
			return nil, fmt.Errorf("rebuild case %s: %w", caseID, err)
		}
		chain.SetMaxAttempts(s.maxAttempts)
		chain.SetWorkers(s.workers)
		cs.chain = chain
	}
	return cs, nil
}

// state returns the caseState for key, creating it on first sight.
func (s *Service) state(key string) *caseState {
	s.mu.Lock()
	defer s.mu.Unlock()
	cs, ok := s.cases[key]
	if !ok {
		cs = &caseState{}
		s.cases[key] = cs
	}
	return cs
}

// OpenCase mines a genesis entry for a new case and persists the chain.
// The store is the arbiter of uniqueness: opening an id that exists fails
// with store.ErrCaseExists.
func (s *Service) OpenCase(ctx context.Context, p OpenCaseParams) (*ledger.Summary, error) {
	difficulty := s.difficulty
	if p.Difficulty != nil {
		difficulty = *p.Difficulty
	}

	opts := []ledger.Option{
		ledger.WithDifficulty(difficulty),
		ledger.WithMaxAttempts(s.maxAttempts),
		ledger.WithWorkers(s.workers),
	}
	if p.CaseID != nil {
		// Refuse to mine a genesis for an id that is already taken.
		if _, err := s.st.LoadCase(ctx, p.CaseID); err == nil {
			return nil, fmt.Errorf("case %s: %w", p.CaseID, store.ErrCaseExists)
		} else if !errors.Is(err, store.ErrCaseNotFound) {
			return nil, err
		}
		opts = append(opts, ledger.WithCaseID(p.CaseID))
	}

	chain, err := ledger.NewChain(ctx, s.oracle, opts...)
	if err != nil {
		return nil, err
	}
	if err := s.st.CreateCase(ctx, chain.Export()); err != nil {
		return nil, err
	}

	key := chain.CaseID().String()
	cs := s.state(key)
	cs.mu.Lock()
	cs.chain = chain
	cs.mu.Unlock()

	s.logger.Info("case opened",
		zap.String("case_id", key),
		zap.Int("difficulty", chain.Difficulty()),
	)
	return chain.Summary(), nil
}

// AppendRecord canonicalises payload, mines the next entry of the case, and
// persists it. A persistence failure drops the cached chain, which is then
// rebuilt from the store on the next call, so the store stays the source of
// truth.
func (s *Service) AppendRecord(ctx context.Context, caseID *big.Int, payload []byte) (*ledger.Entry, error) {
	if s.appendTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.appendTimeout)
		defer cancel()
	}

	cs, err := s.chainFor(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer cs.mu.Unlock()

	e, err := cs.chain.Append(ctx, payload)
	if err != nil {
		return nil, err
	}
	if err := s.st.AppendEntry(ctx, caseID, cs.chain.Len()-1, e); err != nil {
		cs.chain = nil
		s.logger.Error("persist entry failed, dropping cached chain",
			zap.String("case_id", caseID.String()),
			zap.Error(err),
		)
		return nil, fmt.Errorf("persist entry: %w", err)
	}

	s.logger.Info("entry appended",
		zap.String("case_id", caseID.String()),
		zap.String("entry_id", e.EntryID.String()),
		zap.String("digest", e.Digest),
	)
	return e, nil
}

// ValidateCase re-checks every invariant of the case and reports all
// violations. An invalid chain is a result, not an error.
func (s *Service) ValidateCase(ctx context.Context, caseID *big.Int) (*ledger.Report, error) {
	cs, err := s.chainFor(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer cs.mu.Unlock()

	report := cs.chain.Validate()
	if !report.Valid {
		s.logger.Warn("case failed validation",
			zap.String("case_id", caseID.String()),
			zap.Int("violations", len(report.Violations)),
		)
	}
	return report, nil
}

// CaseSummary returns the one-screen view of a case.
func (s *Service) CaseSummary(ctx context.Context, caseID *big.Int) (*ledger.Summary, error) {
	cs, err := s.chainFor(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer cs.mu.Unlock()
	return cs.chain.Summary(), nil
}

// CustodyProof assembles the court-facing certificate for a case.
func (s *Service) CustodyProof(ctx context.Context, caseID *big.Int) (*ledger.Proof, error) {
	cs, err := s.chainFor(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer cs.mu.Unlock()
	return cs.chain.CustodyProof(), nil
}

// GetEntry returns one entry of a case by its prime id.
func (s *Service) GetEntry(ctx context.Context, caseID, entryID *big.Int) (*ledger.Entry, error) {
	cs, err := s.chainFor(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer cs.mu.Unlock()

	e, ok := cs.chain.Entry(entryID)
	if !ok {
		return nil, fmt.Errorf("entry %s in case %s: %w", entryID, caseID, ErrEntryNotFound)
	}
	return e, nil
}

// ExportCase returns the case as an interchange document.
func (s *Service) ExportCase(ctx context.Context, caseID *big.Int) (*ledger.Document, error) {
	cs, err := s.chainFor(ctx, caseID)
	if err != nil {
		return nil, err
	}
	defer cs.mu.Unlock()
	return cs.chain.Export(), nil
}

// ImportCase reconstructs a chain from doc and persists it. Structure is
// checked strictly (ledger.ErrInvalidDocument); integrity deliberately is
// not, so a tampered chain can be imported and then testified about by
// ValidateCase. Importing an id that exists fails with store.ErrCaseExists.
func (s *Service) ImportCase(ctx context.Context, doc *ledger.Document) (*ledger.Summary, error) {
	chain, err := ledger.FromDocument(doc, s.oracle)
	if err != nil {
		return nil, err
	}
	chain.SetMaxAttempts(s.maxAttempts)
	chain.SetWorkers(s.workers)

	if err := s.st.CreateCase(ctx, chain.Export()); err != nil {
		return nil, err
	}

	key := chain.CaseID().String()
	cs := s.state(key)
	cs.mu.Lock()
	cs.chain = chain
	cs.mu.Unlock()

	summary := chain.Summary()
	s.logger.Info("case imported",
		zap.String("case_id", key),
		zap.Int("entries", summary.EntryCount),
		zap.Bool("valid", summary.Valid),
	)
	return summary, nil
}

// ListCases returns every stored case id in ascending order.
func (s *Service) ListCases(ctx context.Context) ([]*big.Int, error) {
	return s.st.ListCases(ctx)
}

// ReverifyAll validates every stored case and returns the reports. It also
// rebuilds each chain, advancing the oracle's allocation floor past every
// persisted id, so the daemon runs it at startup before serving. Per-case
// failures are joined into the returned error; surviving reports are still
// returned.
func (s *Service) ReverifyAll(ctx context.Context) ([]*ledger.Report, error) {
	ids, err := s.st.ListCases(ctx)
	if err != nil {
		return nil, fmt.Errorf("list cases: %w", err)
	}

	var reports []*ledger.Report
	var errs []error
	for _, id := range ids {
		report, err := s.ValidateCase(ctx, id)
		if err != nil {
			s.logger.Error("reverify case failed",
				zap.String("case_id", id.String()),
				zap.Error(err),
			)
			errs = append(errs, fmt.Errorf("case %s: %w", id, err))
			continue
		}
		reports = append(reports, report)
	}
	return reports, errors.Join(errs...)
}
