package store_test

import (
	"bytes"
	"encoding/json"
	"errors"
	"math/big"
	"path/filepath"
	"testing"

	"github.com/custodia-mx/custodia/internal/casefile/store"
	"github.com/custodia-mx/custodia/internal/ledger"
)

func openSQLite(t *testing.T, path string) *store.SQLite {
	t.Helper()
	s, err := store.OpenSQLite(path)
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	return s
}

func TestSQLiteOpenRequiresPath(t *testing.T) {
	if _, err := store.OpenSQLite("  "); err == nil {
		t.Fatal("OpenSQLite with blank path succeeded, want error")
	}
}

func TestSQLiteRoundTripAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custodia.db")
	doc := exportedCase(t, 7)

	s := openSQLite(t, path)
	if err := s.CreateCase(ctx, doc); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// A fresh handle must hand back the exact bytes that were stored.
	s = openSQLite(t, path)
	defer s.Close()

	got, err := s.LoadCase(ctx, doc.CaseID)
	if err != nil {
		t.Fatalf("LoadCase: %v", err)
	}
	want, err := json.Marshal(doc)
	if err != nil {
		t.Fatalf("marshal original: %v", err)
	}
	have, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal loaded: %v", err)
	}
	if !bytes.Equal(want, have) {
		t.Fatalf("reloaded document differs\nwant %s\nhave %s", want, have)
	}

	chain, err := ledger.FromDocument(got, nil)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	if report := chain.Validate(); !report.Valid {
		t.Fatalf("reloaded chain is invalid: %+v", report.Violations)
	}
}

func TestSQLiteCreateDuplicateCase(t *testing.T) {
	s := openSQLite(t, filepath.Join(t.TempDir(), "custodia.db"))
	defer s.Close()

	doc := exportedCase(t, 7)
	if err := s.CreateCase(ctx, doc); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if err := s.CreateCase(ctx, doc); !errors.Is(err, store.ErrCaseExists) {
		t.Fatalf("duplicate CreateCase error = %v, want ErrCaseExists", err)
	}
}

func TestSQLiteAppendEntryExtendsCase(t *testing.T) {
	s := openSQLite(t, filepath.Join(t.TempDir(), "custodia.db"))
	defer s.Close()

	doc := exportedCase(t, 7)
	if err := s.CreateCase(ctx, doc); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	e, pos := nextEntryFor(t, doc)
	if err := s.AppendEntry(ctx, doc.CaseID, pos, e); err != nil {
		t.Fatalf("AppendEntry: %v", err)
	}

	got, err := s.LoadCase(ctx, doc.CaseID)
	if err != nil {
		t.Fatalf("LoadCase: %v", err)
	}
	if len(got.Entries) != len(doc.Entries)+1 {
		t.Fatalf("entries = %d, want %d", len(got.Entries), len(doc.Entries)+1)
	}
	chain, err := ledger.FromDocument(got, nil)
	if err != nil {
		t.Fatalf("FromDocument: %v", err)
	}
	if report := chain.Validate(); !report.Valid {
		t.Fatalf("chain invalid after append: %+v", report.Violations)
	}
}

func TestSQLiteAppendEntryWrongPosition(t *testing.T) {
	s := openSQLite(t, filepath.Join(t.TempDir(), "custodia.db"))
	defer s.Close()

	doc := exportedCase(t, 7)
	if err := s.CreateCase(ctx, doc); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}

	e, pos := nextEntryFor(t, doc)
	err := s.AppendEntry(ctx, doc.CaseID, pos+1, e)
	if err == nil {
		t.Fatal("append past the tail succeeded, want error")
	}
	if errors.Is(err, store.ErrCaseNotFound) {
		t.Fatalf("append past the tail = ErrCaseNotFound, want position error")
	}
}

func TestSQLiteAppendEntryMissingCase(t *testing.T) {
	s := openSQLite(t, filepath.Join(t.TempDir(), "custodia.db"))
	defer s.Close()

	missing := big.NewInt(101)
	e := &ledger.Entry{EntryID: big.NewInt(2), CaseID: missing, Nonce: big.NewInt(1)}
	if err := s.AppendEntry(ctx, missing, 0, e); !errors.Is(err, store.ErrCaseNotFound) {
		t.Fatalf("AppendEntry error = %v, want ErrCaseNotFound", err)
	}
}

func TestSQLiteListCasesNumericOrder(t *testing.T) {
	s := openSQLite(t, filepath.Join(t.TempDir(), "custodia.db"))
	defer s.Close()

	// Lexicographic TEXT ordering would put "11" before "2".
	for _, id := range []int64{11, 2, 5} {
		if err := s.CreateCase(ctx, exportedCase(t, id)); err != nil {
			t.Fatalf("CreateCase(%d): %v", id, err)
		}
	}

	ids, err := s.ListCases(ctx)
	if err != nil {
		t.Fatalf("ListCases: %v", err)
	}
	want := []int64{2, 5, 11}
	if len(ids) != len(want) {
		t.Fatalf("ListCases returned %d ids, want %d", len(ids), len(want))
	}
	for i, w := range want {
		if ids[i].Int64() != w {
			t.Errorf("ids[%d] = %s, want %d", i, ids[i], w)
		}
	}
}

func TestSQLiteDeleteCase(t *testing.T) {
	s := openSQLite(t, filepath.Join(t.TempDir(), "custodia.db"))
	defer s.Close()

	doc := exportedCase(t, 7)
	if err := s.CreateCase(ctx, doc); err != nil {
		t.Fatalf("CreateCase: %v", err)
	}
	if err := s.DeleteCase(ctx, doc.CaseID); err != nil {
		t.Fatalf("DeleteCase: %v", err)
	}
	if _, err := s.LoadCase(ctx, doc.CaseID); !errors.Is(err, store.ErrCaseNotFound) {
		t.Fatalf("LoadCase after delete = %v, want ErrCaseNotFound", err)
	}
	if err := s.DeleteCase(ctx, doc.CaseID); !errors.Is(err, store.ErrCaseNotFound) {
		t.Fatalf("second DeleteCase = %v, want ErrCaseNotFound", err)
	}

	// The case id must be reusable once the old chain is gone.
	if err := s.CreateCase(ctx, exportedCase(t, 7)); err != nil {
		t.Fatalf("CreateCase after delete: %v", err)
	}
}
