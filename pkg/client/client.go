package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Summary mirrors the case summary returned by the API. Ids and nonces are
// json.Number so arbitrary-precision values survive decoding.
type Summary struct {
	CaseID            json.Number `json:"case_id"`
	CaseIDPrime       bool        `json:"case_id_prime"`
	Difficulty        int         `json:"difficulty"`
	EntryCount        int         `json:"entry_count"`
	AllIDsPrime       bool        `json:"all_entry_ids_prime"`
	AllNoncesNonPrime bool        `json:"all_nonces_non_prime"`
	GenesisDigest     string      `json:"genesis_digest"`
	TipDigest         string      `json:"tip_digest"`
	LastEntryAt       time.Time   `json:"last_entry_at"`
	Valid             bool        `json:"valid"`
}

// Entry mirrors one custody entry.
type Entry struct {
	EntryID    json.Number     `json:"entry_id"`
	CaseID     json.Number     `json:"case_id"`
	CreatedAt  time.Time       `json:"created_at"`
	Payload    json.RawMessage `json:"payload"`
	PrevDigest string          `json:"previous_digest"`
	Digest     string          `json:"digest"`
	Nonce      json.Number     `json:"nonce"`
}

// Violation is one failed chain predicate at one position.
type Violation struct {
	Position int         `json:"position"`
	EntryID  json.Number `json:"entry_id"`
	Code     string      `json:"code"`
	Detail   string      `json:"detail"`
}

// Report is the outcome of validating a case. Valid=false is data, not an
// error: the server answers 200 either way.
type Report struct {
	CaseID     json.Number `json:"case_id"`
	EntryCount int         `json:"entry_count"`
	Valid      bool        `json:"valid"`
	Violations []Violation `json:"violations"`
}

// ProofEntry is one entry of a custody proof, with its primality flags.
type ProofEntry struct {
	Position      int             `json:"position"`
	EntryID       json.Number     `json:"entry_id"`
	EntryIDPrime  bool            `json:"entry_id_prime"`
	CreatedAt     time.Time       `json:"created_at"`
	Payload       json.RawMessage `json:"payload"`
	PrevDigest    string          `json:"previous_digest"`
	Digest        string          `json:"digest"`
	Nonce         json.Number     `json:"nonce"`
	NonceNonPrime bool            `json:"nonce_non_prime"`
}

// Proof is the court-facing custody certificate for a case.
type Proof struct {
	DocumentType string       `json:"document_type"`
	Standards    []string     `json:"applicable_standards"`
	CaseID       json.Number  `json:"case_id"`
	CaseIDPrime  bool         `json:"case_id_prime"`
	GeneratedAt  time.Time    `json:"generated_at"`
	Difficulty   int          `json:"difficulty"`
	EntryCount   int          `json:"entry_count"`
	OpenedAt     time.Time    `json:"opened_at"`
	LastEntryAt  time.Time    `json:"last_entry_at"`
	Entries      []ProofEntry `json:"entries"`
	Valid        bool         `json:"valid"`
	Violations   []Violation  `json:"violations"`
	Signature    string       `json:"chain_signature"`
}

// OpenCaseRequest is the payload for OpenCase. Both fields are optional:
// an empty request opens a case with a server-allocated prime id at the
// server's default difficulty.
type OpenCaseRequest struct {
	CaseID     string `json:"case_id,omitempty"`
	Difficulty *int   `json:"difficulty,omitempty"`
}

// Client is the custodia SDK entry point.
type Client struct {
	base       string
	httpClient *http.Client
}

// Option is a functional option for configuring a Client.
type Option func(*Client) error

// WithHTTPClient sets a custom http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) error {
		c.httpClient = hc
		return nil
	}
}

// WithTimeout sets the request timeout. Appends block on server-side
// mining, so raise this before raising the difficulty.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) error {
		if d <= 0 {
			return fmt.Errorf("timeout must be positive, got %s", d)
		}
		c.httpClient.Timeout = d
		return nil
	}
}

// New creates a new Client for the custodia API at base.
//
//	c, err := client.New("http://localhost:8080",
//	    client.WithTimeout(60*time.Second),
//	)
func New(base string, opts ...Option) (*Client, error) {
	if base == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	c := &Client{
		base:       strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		if err := o(c); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// MustNew is like New but panics on error. Useful in tests and program init.
func MustNew(base string, opts ...Option) *Client {
	c, err := New(base, opts...)
	if err != nil {
		panic(err)
	}
	return c
}

// OpenCase creates a new custody case, mining its genesis entry.
func (c *Client) OpenCase(ctx context.Context, openReq OpenCaseRequest) (*Summary, error) {
	payload, err := json.Marshal(openReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.base + "/api/v1/cases"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}

// ListCases returns the ids of every stored case, numerically ordered.
func (c *Client) ListCases(ctx context.Context) ([]json.Number, error) {
	url := c.base + "/api/v1/cases"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var wrapper struct {
		Cases []json.Number `json:"cases"`
	}
	if err := json.Unmarshal(body, &wrapper); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return wrapper.Cases, nil
}

// GetCase fetches the summary of one case. caseID is a decimal string.
func (c *Client) GetCase(ctx context.Context, caseID string) (*Summary, error) {
	url := c.base + "/api/v1/cases/" + caseID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}

// AppendEntry mines and anchors one payload in a case. The call blocks
// until the server finds a qualifying digest.
func (c *Client) AppendEntry(ctx context.Context, caseID string, payload json.RawMessage) (*Entry, error) {
	body, err := json.Marshal(map[string]json.RawMessage{"payload": payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	url := c.base + "/api/v1/cases/" + caseID + "/entries"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	respBody, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(respBody, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// GetEntry fetches one entry by its prime id.
func (c *Client) GetEntry(ctx context.Context, caseID, entryID string) (*Entry, error) {
	url := c.base + "/api/v1/cases/" + caseID + "/entries/" + entryID
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var entry Entry
	if err := json.Unmarshal(body, &entry); err != nil {
		return nil, fmt.Errorf("decode entry: %w", err)
	}
	return &entry, nil
}

// ValidateCase re-checks every chain predicate server-side and returns the
// full violation report.
func (c *Client) ValidateCase(ctx context.Context, caseID string) (*Report, error) {
	url := c.base + "/api/v1/cases/" + caseID + "/validate"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var report Report
	if err := json.Unmarshal(body, &report); err != nil {
		return nil, fmt.Errorf("decode report: %w", err)
	}
	return &report, nil
}

// ExportCase returns the case's interchange document as raw JSON. The bytes
// are passed through untouched so they can be archived or re-imported with
// full fidelity.
func (c *Client) ExportCase(ctx context.Context, caseID string) (json.RawMessage, error) {
	url := c.base + "/api/v1/cases/" + caseID + "/export"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(body), nil
}

// ImportCase reconstructs a case from an interchange document previously
// produced by ExportCase. The document is sent as-is.
func (c *Client) ImportCase(ctx context.Context, doc json.RawMessage) (*Summary, error) {
	url := c.base + "/api/v1/cases/import"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(doc))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var summary Summary
	if err := json.Unmarshal(body, &summary); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &summary, nil
}

// CustodyProof fetches the court-facing custody certificate for a case.
func (c *Client) CustodyProof(ctx context.Context, caseID string) (*Proof, error) {
	url := c.base + "/api/v1/cases/" + caseID + "/proof"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	body, err := c.do(req)
	if err != nil {
		return nil, err
	}

	var proof Proof
	if err := json.Unmarshal(body, &proof); err != nil {
		return nil, fmt.Errorf("decode proof: %w", err)
	}
	return &proof, nil
}

// do executes an HTTP request and maps error statuses to errors.
func (c *Client) do(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20)) // 1 MB limit
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("not found: %s", req.URL.Path)
	case resp.StatusCode == http.StatusConflict:
		return nil, fmt.Errorf("conflict: %s", string(body))
	case resp.StatusCode == http.StatusGatewayTimeout:
		return nil, fmt.Errorf("mining timed out: %s", string(body))
	case resp.StatusCode >= 300:
		return nil, fmt.Errorf("server error %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}
