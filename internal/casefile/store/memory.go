package store

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/custodia-mx/custodia/internal/ledger"
)

// Memory is an in-memory, thread-safe Store implementation. It is primarily
// useful for testing and for single-process deployments that do not require
// durable persistence across restarts.
type Memory struct {
	mu    sync.RWMutex
	cases map[string]*memCase
}

type memCase struct {
	caseID     *big.Int
	difficulty int
	entries    []*ledger.Entry
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{cases: make(map[string]*memCase)}
}

// CreateCase implements Store.
func (m *Memory) CreateCase(_ context.Context, doc *ledger.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := doc.CaseID.String()
	if _, ok := m.cases[key]; ok {
		return fmt.Errorf("case %s: %w", key, ErrCaseExists)
	}

	mc := &memCase{
		caseID:     new(big.Int).Set(doc.CaseID),
		difficulty: doc.Difficulty,
		entries:    make([]*ledger.Entry, 0, len(doc.Entries)),
	}
	for _, e := range doc.Entries {
		mc.entries = append(mc.entries, e.Clone())
	}
	m.cases[key] = mc
	return nil
}

// AppendEntry implements Store.
func (m *Memory) AppendEntry(_ context.Context, caseID *big.Int, position int, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := caseID.String()
	mc, ok := m.cases[key]
	if !ok {
		return fmt.Errorf("case %s: %w", key, ErrCaseNotFound)
	}
	if position != len(mc.entries) {
		return fmt.Errorf("case %s: append at position %d does not extend tail %d", key, position, len(mc.entries))
	}
	mc.entries = append(mc.entries, e.Clone())
	return nil
}

// LoadCase implements Store.
func (m *Memory) LoadCase(_ context.Context, caseID *big.Int) (*ledger.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	key := caseID.String()
	mc, ok := m.cases[key]
	if !ok {
		return nil, fmt.Errorf("case %s: %w", key, ErrCaseNotFound)
	}

	doc := &ledger.Document{
		CaseID:     new(big.Int).Set(mc.caseID),
		Difficulty: mc.difficulty,
		Entries:    make([]*ledger.Entry, 0, len(mc.entries)),
	}
	for _, e := range mc.entries {
		doc.Entries = append(doc.Entries, e.Clone())
	}
	return doc, nil
}

// ListCases implements Store.
func (m *Memory) ListCases(_ context.Context) ([]*big.Int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ids := make([]*big.Int, 0, len(m.cases))
	for _, mc := range m.cases {
		ids = append(ids, new(big.Int).Set(mc.caseID))
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i].Cmp(ids[j]) < 0 })
	return ids, nil
}

// DeleteCase implements Store.
func (m *Memory) DeleteCase(_ context.Context, caseID *big.Int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := caseID.String()
	if _, ok := m.cases[key]; !ok {
		return fmt.Errorf("case %s: %w", key, ErrCaseNotFound)
	}
	delete(m.cases, key)
	return nil
}

// Close implements Store. There is nothing to release.
func (m *Memory) Close() error { return nil }
