// Package auditor re-verifies stored custody chains in the background.
// It is purely observational: tampering is logged and surfaced through
// callbacks, never repaired.
package auditor

import (
	"context"
	"math/big"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/custodia-mx/custodia/internal/ledger"
)

// Config holds audit sweep configuration.
type Config struct {
	SweepInterval time.Duration
	Concurrency   int
}

// CaseValidator is the slice of the case service the auditor needs.
type CaseValidator interface {
	ListCases(ctx context.Context) ([]*big.Int, error)
	ValidateCase(ctx context.Context, caseID *big.Int) (*ledger.Report, error)
}

// ReportFunc is an optional callback invoked with every validation report.
type ReportFunc func(report *ledger.Report)

// CaseCountFunc is an optional callback invoked with the number of cases
// covered by a sweep.
type CaseCountFunc func(n int)

// Auditor runs periodic integrity sweeps over every stored case.
type Auditor struct {
	validator CaseValidator
	cfg       Config
	onReport  ReportFunc
	onCount   CaseCountFunc
	logger    *zap.Logger
}

// New creates a new Auditor.
func New(validator CaseValidator, cfg Config, logger *zap.Logger) *Auditor {
	if cfg.SweepInterval == 0 {
		cfg.SweepInterval = 10 * time.Minute
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	return &Auditor{
		validator: validator,
		cfg:       cfg,
		logger:    logger,
	}
}

// SetReportFunc configures the per-report callback.
func (a *Auditor) SetReportFunc(fn ReportFunc) {
	a.onReport = fn
}

// SetCaseCountFunc configures the sweep-size callback.
func (a *Auditor) SetCaseCountFunc(fn CaseCountFunc) {
	a.onCount = fn
}

// Start runs the sweep loop until quit is signalled.
func (a *Auditor) Start(quit <-chan os.Signal) {
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), a.cfg.SweepInterval-time.Second)
			a.SweepAll(ctx)
			cancel()
		case <-quit:
			return
		}
	}
}

// SweepAll validates every stored case with bounded concurrency. Validation
// of distinct cases is independent; the service serialises per-case access
// on its own.
func (a *Auditor) SweepAll(ctx context.Context) {
	ids, err := a.validator.ListCases(ctx)
	if err != nil {
		a.logger.Error("audit: list cases", zap.Error(err))
		return
	}

	if a.onCount != nil {
		a.onCount(len(ids))
	}

	sem := make(chan struct{}, a.cfg.Concurrency)
	var wg sync.WaitGroup

	for _, id := range ids {
		wg.Add(1)
		go func(caseID *big.Int) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			report, err := a.validator.ValidateCase(ctx, caseID)
			if err != nil {
				a.logger.Error("audit: validate case",
					zap.String("case_id", caseID.String()),
					zap.Error(err),
				)
				return
			}

			if a.onReport != nil {
				a.onReport(report)
			}

			if !report.Valid {
				a.logger.Warn("audit: chain integrity violated",
					zap.String("case_id", caseID.String()),
					zap.Int("violations", len(report.Violations)),
				)
			}
		}(id)
	}

	wg.Wait()
}
