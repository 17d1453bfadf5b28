package ledger_test

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/custodia-mx/custodia/internal/ledger"
)

func TestCustodyProof_signatureBindsDigests(t *testing.T) {
	c := newCaseChain(t)
	if _, err := c.Append(ctx, []byte(`{"tipo":"demanda"}`)); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Append(ctx, []byte(`{"tipo":"periciales"}`)); err != nil {
		t.Fatal(err)
	}

	proof := c.CustodyProof()

	h := sha256.New()
	for _, e := range c.Entries() {
		h.Write([]byte(e.Digest))
	}
	want := hex.EncodeToString(h.Sum(nil))
	if proof.Signature != want {
		t.Errorf("chain signature = %s, want %s", proof.Signature, want)
	}
}

func TestCustodyProof_annotatesEntries(t *testing.T) {
	c := newCaseChain(t)
	if _, err := c.Append(ctx, []byte(`{"tipo":"demanda"}`)); err != nil {
		t.Fatal(err)
	}

	proof := c.CustodyProof()

	if proof.CaseID.Int64() != 7 || !proof.CaseIDPrime {
		t.Errorf("case id %v prime=%v, want 7 prime", proof.CaseID, proof.CaseIDPrime)
	}
	if proof.EntryCount != 2 || len(proof.Entries) != 2 {
		t.Fatalf("entry count = %d/%d, want 2", proof.EntryCount, len(proof.Entries))
	}
	for i, pe := range proof.Entries {
		if pe.Position != i+1 {
			t.Errorf("entry %d position = %d, want %d", i, pe.Position, i+1)
		}
		if !pe.EntryIDPrime {
			t.Errorf("entry %d id %v not flagged prime", i, pe.EntryID)
		}
		if !pe.NonceNonPrime {
			t.Errorf("entry %d nonce %v not flagged non-prime", i, pe.Nonce)
		}
	}
	if !proof.Valid || len(proof.Violations) != 0 {
		t.Errorf("fresh chain proof invalid: %+v", proof.Violations)
	}
	if proof.OpenedAt.After(proof.LastEntryAt) {
		t.Error("opened after last entry")
	}
}

func TestCustodyProof_citesStandards(t *testing.T) {
	proof := newCaseChain(t).CustodyProof()

	want := []string{"NOM-151-SCFI-2016", "CNPP Art. 227", "CFPC Art. 210-A"}
	if len(proof.Standards) != len(want) {
		t.Fatalf("standards = %v, want %v", proof.Standards, want)
	}
	for i, s := range want {
		if proof.Standards[i] != s {
			t.Errorf("standard %d = %q, want %q", i, proof.Standards[i], s)
		}
	}
	if proof.DocumentType == "" {
		t.Error("proof has no document type")
	}
}

func TestCustodyProof_reportsTampering(t *testing.T) {
	doc := exportedCase(t)
	doc.Entries[1].Payload = json.RawMessage(`{"tipo":"alterado"}`)

	imported, err := ledger.FromDocument(doc, newOracle())
	if err != nil {
		t.Fatal(err)
	}
	proof := imported.CustodyProof()
	if proof.Valid {
		t.Fatal("proof of tampered chain reports valid")
	}
	if len(proof.Violations) == 0 {
		t.Fatal("proof carries no violations")
	}
}

func TestCustodyProof_reorderingChangesSignature(t *testing.T) {
	doc := exportedCase(t)
	before, err := ledger.FromDocument(doc, newOracle())
	if err != nil {
		t.Fatal(err)
	}
	sigBefore := before.Signature()

	doc.Entries[1], doc.Entries[2] = doc.Entries[2], doc.Entries[1]
	after, err := ledger.FromDocument(doc, newOracle())
	if err != nil {
		t.Fatal(err)
	}
	if after.Signature() == sigBefore {
		t.Error("reordering entries left the chain signature unchanged")
	}
	if after.Validate().Valid {
		t.Error("reordered chain still validates")
	}
}
