// Package handler exposes the custody case service over HTTP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/custodia-mx/custodia/internal/casefile"
	"github.com/custodia-mx/custodia/internal/casefile/store"
	"github.com/custodia-mx/custodia/internal/ledger"
)

// CaseHandler handles HTTP requests for custody cases.
type CaseHandler struct {
	svc    *casefile.Service
	logger *zap.Logger
}

// NewCaseHandler creates a new CaseHandler.
func NewCaseHandler(svc *casefile.Service, logger *zap.Logger) *CaseHandler {
	return &CaseHandler{svc: svc, logger: logger}
}

// Register mounts the case routes on the given router group.
func (h *CaseHandler) Register(rg *gin.RouterGroup) {
	cases := rg.Group("/cases")
	{
		cases.POST("", h.OpenCase)
		cases.GET("", h.ListCases)
		cases.POST("/import", h.ImportCase)
		cases.GET("/:caseID", h.GetCase)
		cases.POST("/:caseID/entries", h.AppendEntry)
		cases.GET("/:caseID/entries/:entryID", h.GetEntry)
		cases.GET("/:caseID/validate", h.ValidateCase)
		cases.GET("/:caseID/export", h.ExportCase)
		cases.GET("/:caseID/proof", h.CustodyProof)
	}
}

// openCaseRequest carries ids as decimal strings so arbitrary-precision
// case ids survive clients that parse JSON numbers as float64.
type openCaseRequest struct {
	CaseID     string `json:"case_id"`
	Difficulty *int   `json:"difficulty"`
}

type appendEntryRequest struct {
	Payload json.RawMessage `json:"payload"`
}

// bigParam parses a positive decimal URL parameter. On failure it writes a
// 400 response and returns false.
func bigParam(c *gin.Context, name string) (*big.Int, bool) {
	raw := c.Param(name)
	id, ok := new(big.Int).SetString(raw, 10)
	if !ok || id.Sign() <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": name + " must be a positive decimal integer"})
		return nil, false
	}
	return id, true
}

// writeError maps service errors onto HTTP statuses. Chains that fail
// validation never land here; an invalid chain is a 200 with valid=false.
func (h *CaseHandler) writeError(c *gin.Context, err error) {
	var timeout *ledger.MiningTimeoutError
	switch {
	case errors.Is(err, ledger.ErrInvalidCaseID),
		errors.Is(err, ledger.ErrInvalidPayload),
		errors.Is(err, ledger.ErrInvalidDocument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrCaseNotFound),
		errors.Is(err, casefile.ErrEntryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, store.ErrCaseExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.As(err, &timeout):
		RecordMiningTimeout()
		c.JSON(http.StatusGatewayTimeout, gin.H{
			"error":    err.Error(),
			"attempts": timeout.Attempts,
			"elapsed":  timeout.Elapsed.String(),
		})
	case errors.Is(err, context.DeadlineExceeded):
		RecordMiningTimeout()
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "append deadline exceeded"})
	default:
		h.logger.Error("case operation failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}

// OpenCase handles POST /cases — mines a genesis entry for a new case.
// Both fields are optional; an empty body opens a case with an allocated
// prime id at the default difficulty.
func (h *CaseHandler) OpenCase(c *gin.Context) {
	var req openCaseRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	params := casefile.OpenCaseParams{Difficulty: req.Difficulty}
	if req.CaseID != "" {
		id, ok := new(big.Int).SetString(req.CaseID, 10)
		if !ok || id.Sign() <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "case_id must be a positive decimal integer"})
			return
		}
		params.CaseID = id
	}

	summary, err := h.svc.OpenCase(c.Request.Context(), params)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, summary)
}

// ListCases handles GET /cases.
func (h *CaseHandler) ListCases(c *gin.Context) {
	ids, err := h.svc.ListCases(c.Request.Context())
	if err != nil {
		h.writeError(c, err)
		return
	}
	SetCasesGauge(len(ids))
	c.JSON(http.StatusOK, gin.H{
		"cases": ids,
		"count": len(ids),
	})
}

// GetCase handles GET /cases/:caseID — returns the case summary.
func (h *CaseHandler) GetCase(c *gin.Context) {
	caseID, ok := bigParam(c, "caseID")
	if !ok {
		return
	}
	summary, err := h.svc.CaseSummary(c.Request.Context(), caseID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, summary)
}

// AppendEntry handles POST /cases/:caseID/entries — mines and persists one
// custody entry carrying the given payload.
func (h *CaseHandler) AppendEntry(c *gin.Context) {
	caseID, ok := bigParam(c, "caseID")
	if !ok {
		return
	}

	var req appendEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if len(req.Payload) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "payload is required"})
		return
	}

	start := time.Now()
	entry, err := h.svc.AppendRecord(c.Request.Context(), caseID, req.Payload)
	if err != nil {
		h.writeError(c, err)
		return
	}
	RecordEntryAppended(time.Since(start))
	c.JSON(http.StatusCreated, entry)
}

// GetEntry handles GET /cases/:caseID/entries/:entryID.
func (h *CaseHandler) GetEntry(c *gin.Context) {
	caseID, ok := bigParam(c, "caseID")
	if !ok {
		return
	}
	entryID, ok := bigParam(c, "entryID")
	if !ok {
		return
	}
	entry, err := h.svc.GetEntry(c.Request.Context(), caseID, entryID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, entry)
}

// ValidateCase handles GET /cases/:caseID/validate — always 200 for a case
// that exists; tampering shows up in the body, not the status code.
func (h *CaseHandler) ValidateCase(c *gin.Context) {
	caseID, ok := bigParam(c, "caseID")
	if !ok {
		return
	}
	report, err := h.svc.ValidateCase(c.Request.Context(), caseID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	RecordValidation(report)
	c.JSON(http.StatusOK, report)
}

// ExportCase handles GET /cases/:caseID/export — returns the interchange
// document for the case.
func (h *CaseHandler) ExportCase(c *gin.Context) {
	caseID, ok := bigParam(c, "caseID")
	if !ok {
		return
	}
	doc, err := h.svc.ExportCase(c.Request.Context(), caseID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, doc)
}

// ImportCase handles POST /cases/import — reconstructs a chain from an
// interchange document. A tampered chain imports fine; validation is where
// it testifies.
func (h *CaseHandler) ImportCase(c *gin.Context) {
	var doc ledger.Document
	if err := c.ShouldBindJSON(&doc); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid document: " + err.Error()})
		return
	}

	summary, err := h.svc.ImportCase(c.Request.Context(), &doc)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, summary)
}

// CustodyProof handles GET /cases/:caseID/proof — returns the court-facing
// custody certificate.
func (h *CaseHandler) CustodyProof(c *gin.Context) {
	caseID, ok := bigParam(c, "caseID")
	if !ok {
		return
	}
	proof, err := h.svc.CustodyProof(c.Request.Context(), caseID)
	if err != nil {
		h.writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, proof)
}
