package handler_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/custodia-mx/custodia/internal/casefile"
	"github.com/custodia-mx/custodia/internal/casefile/handler"
	"github.com/custodia-mx/custodia/internal/casefile/store"
)

// Difficulty 1 keeps proof-of-work cheap enough for unit tests.
func setupCaseRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc := casefile.NewService(store.NewMemory(), zap.NewNop(), casefile.Config{Difficulty: 1})
	h := handler.NewCaseHandler(svc, zap.NewNop())
	v1 := r.Group("/api/v1")
	h.Register(v1)
	return r
}

func doJSON(t *testing.T, router *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func openCase(t *testing.T, router *gin.Engine, body string) map[string]any {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/api/v1/cases", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("open case: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

// jsonInt renders a decoded JSON number as a decimal string for URLs. The
// ids in these tests are small enough that float64 holds them exactly.
func jsonInt(t *testing.T, v any) string {
	t.Helper()
	f, ok := v.(float64)
	if !ok {
		t.Fatalf("expected a JSON number, got %T", v)
	}
	return strconv.FormatInt(int64(f), 10)
}

func TestOpenCase_201_emptyBody(t *testing.T) {
	router := setupCaseRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases", "")
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["case_id_prime"] != true {
		t.Errorf("expected prime case id, got %v", resp["case_id"])
	}
	if int(resp["entry_count"].(float64)) != 1 {
		t.Errorf("expected 1 entry (genesis), got %v", resp["entry_count"])
	}
	if resp["valid"] != true {
		t.Errorf("expected valid chain, got %v", resp["valid"])
	}
}

func TestOpenCase_201_explicitID(t *testing.T) {
	router := setupCaseRouter(t)

	resp := openCase(t, router, `{"case_id":"7"}`)
	if resp["case_id"].(float64) != 7 {
		t.Errorf("expected case id 7, got %v", resp["case_id"])
	}
}

func TestOpenCase_201_difficultyOverride(t *testing.T) {
	router := setupCaseRouter(t)

	resp := openCase(t, router, `{"difficulty":2}`)
	if int(resp["difficulty"].(float64)) != 2 {
		t.Errorf("expected difficulty 2, got %v", resp["difficulty"])
	}
	digest := resp["genesis_digest"].(string)
	if !strings.HasPrefix(digest, "00") {
		t.Errorf("genesis digest %s does not honor difficulty 2", digest)
	}
}

func TestOpenCase_400_compositeID(t *testing.T) {
	router := setupCaseRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases", `{"case_id":"100"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestOpenCase_400_nonNumericID(t *testing.T) {
	router := setupCaseRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases", `{"case_id":"expediente-12"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestOpenCase_400_badJSON(t *testing.T) {
	router := setupCaseRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases", `{invalid`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestOpenCase_409_duplicateID(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"7"}`)

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases", `{"case_id":"7"}`)
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestListCases_200(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"5"}`)
	openCase(t, router, `{"case_id":"2"}`)

	w := doJSON(t, router, http.MethodGet, "/api/v1/cases", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if int(resp["count"].(float64)) != 2 {
		t.Errorf("expected 2 cases, got %v", resp["count"])
	}
	ids := resp["cases"].([]any)
	if ids[0].(float64) != 2 || ids[1].(float64) != 5 {
		t.Errorf("expected numerically sorted [2 5], got %v", ids)
	}
}

func TestGetCase_200(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"7"}`)

	w := doJSON(t, router, http.MethodGet, "/api/v1/cases/7", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["case_id"].(float64) != 7 || resp["case_id_prime"] != true {
		t.Errorf("unexpected summary: %v", resp)
	}
}

func TestGetCase_404(t *testing.T) {
	router := setupCaseRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/cases/9973", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetCase_400_badID(t *testing.T) {
	router := setupCaseRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/cases/not-a-number", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAppendEntry_201(t *testing.T) {
	router := setupCaseRouter(t)

	summary := openCase(t, router, `{"case_id":"7"}`)
	genesisDigest := summary["genesis_digest"].(string)

	body := `{"payload":{"tipo":"oficio","folio":12}}`
	w := doJSON(t, router, http.MethodPost, "/api/v1/cases/7/entries", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", w.Code, w.Body.String())
	}

	var entry map[string]any
	json.Unmarshal(w.Body.Bytes(), &entry)
	if entry["previous_digest"] != genesisDigest {
		t.Errorf("entry does not link to genesis: %v vs %v", entry["previous_digest"], genesisDigest)
	}
	if entry["case_id"].(float64) != 7 {
		t.Errorf("expected case id 7, got %v", entry["case_id"])
	}
	if !strings.HasPrefix(entry["digest"].(string), "0") {
		t.Errorf("digest %v does not honor difficulty 1", entry["digest"])
	}
}

func TestAppendEntry_400_missingPayload(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"7"}`)

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases/7/entries", `{}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

func TestAppendEntry_400_malformedBody(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"7"}`)

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases/7/entries", `{"payload":{`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestAppendEntry_404_missingCase(t *testing.T) {
	router := setupCaseRouter(t)

	body := `{"payload":{"tipo":"oficio"}}`
	w := doJSON(t, router, http.MethodPost, "/api/v1/cases/11/entries", body)
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d: %s", w.Code, w.Body.String())
	}
}

func TestGetEntry_200(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"7"}`)
	w := doJSON(t, router, http.MethodPost, "/api/v1/cases/7/entries", `{"payload":{"folio":1}}`)
	if w.Code != http.StatusCreated {
		t.Fatalf("append: expected 201, got %d", w.Code)
	}
	var entry map[string]any
	json.Unmarshal(w.Body.Bytes(), &entry)
	entryID := jsonInt(t, entry["entry_id"])

	w = doJSON(t, router, http.MethodGet, "/api/v1/cases/7/entries/"+entryID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var got map[string]any
	json.Unmarshal(w.Body.Bytes(), &got)
	if got["digest"] != entry["digest"] {
		t.Errorf("fetched entry digest %v, want %v", got["digest"], entry["digest"])
	}
}

func TestGetEntry_404(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"7"}`)

	w := doJSON(t, router, http.MethodGet, "/api/v1/cases/7/entries/9973", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

func TestGetEntry_400_badID(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"7"}`)

	w := doJSON(t, router, http.MethodGet, "/api/v1/cases/7/entries/abc", "")
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestValidateCase_200(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"7"}`)
	doJSON(t, router, http.MethodPost, "/api/v1/cases/7/entries", `{"payload":{"folio":1}}`)
	doJSON(t, router, http.MethodPost, "/api/v1/cases/7/entries", `{"payload":{"folio":2}}`)

	w := doJSON(t, router, http.MethodGet, "/api/v1/cases/7/validate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["valid"] != true {
		t.Errorf("expected valid chain, got %v", resp)
	}
	if int(resp["entry_count"].(float64)) != 3 {
		t.Errorf("expected 3 entries, got %v", resp["entry_count"])
	}
	if len(resp["violations"].([]any)) != 0 {
		t.Errorf("expected no violations, got %v", resp["violations"])
	}
}

func TestExportImport_roundTrip(t *testing.T) {
	routerA := setupCaseRouter(t)
	routerB := setupCaseRouter(t)

	openCase(t, routerA, `{"case_id":"13"}`)
	doJSON(t, routerA, http.MethodPost, "/api/v1/cases/13/entries", `{"payload":{"estado":"abierto"}}`)

	exported := doJSON(t, routerA, http.MethodGet, "/api/v1/cases/13/export", "")
	if exported.Code != http.StatusOK {
		t.Fatalf("export: expected 200, got %d", exported.Code)
	}

	w := doJSON(t, routerB, http.MethodPost, "/api/v1/cases/import", exported.Body.String())
	if w.Code != http.StatusCreated {
		t.Fatalf("import: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var summary map[string]any
	json.Unmarshal(w.Body.Bytes(), &summary)
	if summary["case_id"].(float64) != 13 {
		t.Errorf("imported case id %v, want 13", summary["case_id"])
	}
	if summary["valid"] != true {
		t.Errorf("imported chain should be valid: %v", summary)
	}

	// Re-exporting the imported chain must reproduce the document exactly.
	reexported := doJSON(t, routerB, http.MethodGet, "/api/v1/cases/13/export", "")
	if reexported.Code != http.StatusOK {
		t.Fatalf("re-export: expected 200, got %d", reexported.Code)
	}
	if !bytes.Equal(exported.Body.Bytes(), reexported.Body.Bytes()) {
		t.Errorf("export/import round trip changed the document:\n%s\nvs\n%s",
			exported.Body.String(), reexported.Body.String())
	}
}

func TestImportCase_409_duplicate(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"13"}`)
	exported := doJSON(t, router, http.MethodGet, "/api/v1/cases/13/export", "")

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases/import", exported.Body.String())
	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", w.Code, w.Body.String())
	}
}

func TestImportCase_400_malformedDocument(t *testing.T) {
	router := setupCaseRouter(t)

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases/import",
		`{"case_id":5,"difficulty":1,"entries":[]}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
}

// A tampered document imports fine; validation is where the damage shows.
func TestImportCase_tamperedChainValidatesFalse(t *testing.T) {
	routerA := setupCaseRouter(t)
	routerB := setupCaseRouter(t)

	openCase(t, routerA, `{"case_id":"13"}`)
	doJSON(t, routerA, http.MethodPost, "/api/v1/cases/13/entries", `{"payload":{"estado":"abierto"}}`)

	exported := doJSON(t, routerA, http.MethodGet, "/api/v1/cases/13/export", "")
	tampered := strings.Replace(exported.Body.String(), "abierto", "cerrado", 1)

	w := doJSON(t, routerB, http.MethodPost, "/api/v1/cases/import", tampered)
	if w.Code != http.StatusCreated {
		t.Fatalf("import: expected 201, got %d: %s", w.Code, w.Body.String())
	}

	w = doJSON(t, routerB, http.MethodGet, "/api/v1/cases/13/validate", "")
	if w.Code != http.StatusOK {
		t.Fatalf("validate: expected 200, got %d", w.Code)
	}

	var report map[string]any
	json.Unmarshal(w.Body.Bytes(), &report)
	if report["valid"] != false {
		t.Fatalf("tampered chain reported valid: %s", w.Body.String())
	}
	violations := report["violations"].([]any)
	if len(violations) == 0 {
		t.Fatal("expected at least one violation")
	}
	found := false
	for _, v := range violations {
		if v.(map[string]any)["code"] == "digest_mismatch" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected a digest_mismatch violation, got %v", violations)
	}
}

func TestCustodyProof_200(t *testing.T) {
	router := setupCaseRouter(t)

	openCase(t, router, `{"case_id":"7"}`)
	doJSON(t, router, http.MethodPost, "/api/v1/cases/7/entries", `{"payload":{"folio":1}}`)

	w := doJSON(t, router, http.MethodGet, "/api/v1/cases/7/proof", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var proof map[string]any
	json.Unmarshal(w.Body.Bytes(), &proof)
	if proof["case_id_prime"] != true || proof["valid"] != true {
		t.Errorf("unexpected proof flags: %s", w.Body.String())
	}
	sig := proof["chain_signature"].(string)
	if len(sig) != 64 {
		t.Errorf("chain signature length %d, want 64", len(sig))
	}
	entries := proof["entries"].([]any)
	if len(entries) != 2 {
		t.Fatalf("expected 2 proof entries, got %d", len(entries))
	}
	for i, e := range entries {
		pe := e.(map[string]any)
		if pe["entry_id_prime"] != true {
			t.Errorf("entry %d: id not flagged prime: %v", i, pe["entry_id"])
		}
		if i > 0 && pe["nonce_non_prime"] != true {
			t.Errorf("entry %d: nonce not flagged non-prime: %v", i, pe["nonce"])
		}
	}
}

func TestCustodyProof_404(t *testing.T) {
	router := setupCaseRouter(t)

	w := doJSON(t, router, http.MethodGet, "/api/v1/cases/9973/proof", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
}

// An exhausted attempt budget surfaces as a gateway timeout carrying the
// attempt count. Difficulty 8 with 3 attempts cannot plausibly succeed.
func TestOpenCase_504_miningTimeout(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	svc := casefile.NewService(store.NewMemory(), zap.NewNop(), casefile.Config{
		Difficulty:  8,
		MaxAttempts: 3,
	})
	h := handler.NewCaseHandler(svc, zap.NewNop())
	h.Register(router.Group("/api/v1"))

	w := doJSON(t, router, http.MethodPost, "/api/v1/cases", "")
	if w.Code != http.StatusGatewayTimeout {
		t.Fatalf("expected 504, got %d: %s", w.Code, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["attempts"].(float64) != 3 {
		t.Errorf("attempts = %v, want 3", resp["attempts"])
	}
	if resp["elapsed"] == nil {
		t.Error("response missing elapsed")
	}
}
