// Package record builds the payload documents that get anchored in custody
// chains. The ledger treats payloads as opaque JSON; these builders are the
// intake-side convention for what goes in them.
package record

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Record kinds, carried in the "tipo" field of every payload.
const (
	KindDocument      = "documento"
	KindJurisprudence = "jurisprudencia"
	KindEvent         = "evento"
)

// Document describes a filed legal document and a fingerprint of its bytes.
// The document itself is stored elsewhere; the chain anchors its hash.
type Document struct {
	// RecordID uniquely identifies this intake record.
	RecordID string `json:"record_id"`

	// Kind is always KindDocument.
	Kind string `json:"tipo"`

	// Category classifies the filing (demanda, acuerdo, sentencia, ...).
	Category string `json:"categoria"`

	// Title is the human-readable document title.
	Title string `json:"titulo"`

	// DocketNumber is the court-assigned file number, when known.
	DocketNumber string `json:"numero_expediente,omitempty"`

	// SHA256 is the hex fingerprint of the document content.
	SHA256 string `json:"sha256"`

	// SizeBytes is the content length that was fingerprinted.
	SizeBytes int `json:"tamano_bytes"`

	// FiledAt is the RFC3339 intake timestamp.
	FiledAt string `json:"presentado_en"`
}

// Jurisprudence links a published thesis to the case.
type Jurisprudence struct {
	RecordID  string  `json:"record_id"`
	Kind      string  `json:"tipo"`
	Registry  string  `json:"numero_registro"`
	Era       string  `json:"epoca,omitempty"`
	Court     string  `json:"instancia,omitempty"`
	Thesis    string  `json:"tesis"`
	Relevance float64 `json:"relevancia,omitempty"`
	SourceURL string  `json:"url_fuente,omitempty"`
	LinkedAt  string  `json:"vinculado_en"`
}

// Event records a procedural action on the case.
type Event struct {
	RecordID   string `json:"record_id"`
	Kind       string `json:"tipo"`
	Action     string `json:"accion"`
	Actor      string `json:"actor,omitempty"`
	Notes      string `json:"notas,omitempty"`
	OccurredAt string `json:"ocurrido_en"`
}

// Fingerprint returns the hex sha256 of document content bytes.
func Fingerprint(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// NewDocument builds a document record, fingerprinting the given content.
func NewDocument(category, title string, content []byte) *Document {
	return &Document{
		RecordID:  uuid.NewString(),
		Kind:      KindDocument,
		Category:  category,
		Title:     title,
		SHA256:    Fingerprint(content),
		SizeBytes: len(content),
		FiledAt:   time.Now().UTC().Format(time.RFC3339),
	}
}

// NewJurisprudence builds a thesis-link record.
func NewJurisprudence(registry, thesis string) *Jurisprudence {
	return &Jurisprudence{
		RecordID: uuid.NewString(),
		Kind:     KindJurisprudence,
		Registry: registry,
		Thesis:   thesis,
		LinkedAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// NewEvent builds a procedural event record.
func NewEvent(action, actor string) *Event {
	return &Event{
		RecordID:   uuid.NewString(),
		Kind:       KindEvent,
		Action:     action,
		Actor:      actor,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
}

// Validate checks required document fields.
func (d *Document) Validate() error {
	if d.Category == "" {
		return fmt.Errorf("record: categoria is required")
	}
	if d.Title == "" {
		return fmt.Errorf("record: titulo is required")
	}
	if d.SHA256 == "" {
		return fmt.Errorf("record: sha256 is required")
	}
	return nil
}

// Validate checks required jurisprudence fields.
func (j *Jurisprudence) Validate() error {
	if j.Registry == "" {
		return fmt.Errorf("record: numero_registro is required")
	}
	if j.Thesis == "" {
		return fmt.Errorf("record: tesis is required")
	}
	return nil
}

// Validate checks required event fields.
func (e *Event) Validate() error {
	if e.Action == "" {
		return fmt.Errorf("record: accion is required")
	}
	return nil
}

// JSON validates the record and renders it as a chain payload.
func (d *Document) JSON() (json.RawMessage, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(d)
}

// JSON validates the record and renders it as a chain payload.
func (j *Jurisprudence) JSON() (json.RawMessage, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(j)
}

// JSON validates the record and renders it as a chain payload.
func (e *Event) JSON() (json.RawMessage, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(e)
}
