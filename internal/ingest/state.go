// Package ingest turns a captured bill image into persisted line items.
//
// A Pipeline is a small state machine:
//
//	ExtractingText -> StructuredExtraction -> Committed
//	               -> ManualReviewPending  -> Committed
//	any of the above -> Failed -> (Retry) ExtractingText
//
// The structured path commits without confirmation. The manual path waits for
// Submit with the reviewed drafts.
package ingest

import (
	"errors"

	"github.com/zombor/splyt/internal/scanning"
)

// Phase names a pipeline state
type Phase string

const (
	PhaseExtractingText       Phase = "extracting_text"
	PhaseStructuredExtraction Phase = "structured_extraction"
	PhaseManualReviewPending  Phase = "manual_review_pending"
	PhaseCommitted            Phase = "committed"
	PhaseFailed               Phase = "failed"
)

// State is one of ExtractingText, StructuredExtraction, ManualReviewPending,
// Committed or Failed
type State interface {
	Phase() Phase
}

// ExtractingText is the initial state
type ExtractingText struct{}

// StructuredExtraction means the bill model is parsing the extracted text
type StructuredExtraction struct {
	Text string
}

// ManualReviewPending waits for a human to confirm the drafts and enter the tax
type ManualReviewPending struct {
	Text   string
	Drafts []Draft
}

// Committed is terminal: line items have been persisted
type Committed struct {
	ItemCount  int
	Structured bool
}

// Failed is terminal for the current attempt; only Retry leaves it
type Failed struct {
	Err error
}

func (ExtractingText) Phase() Phase       { return PhaseExtractingText }
func (StructuredExtraction) Phase() Phase { return PhaseStructuredExtraction }
func (ManualReviewPending) Phase() Phase  { return PhaseManualReviewPending }
func (Committed) Phase() Phase            { return PhaseCommitted }
func (Failed) Phase() Phase               { return PhaseFailed }

// ErrCancelled means the caller's context ended while the pipeline was waiting on an extractor
var ErrCancelled = errors.New("processing was cancelled")

// ErrInterrupted means an attempt was lost before it finished, e.g. by a restart
var ErrInterrupted = errors.New("processing was interrupted")

// Message is the user-facing reason for the failure
func (f Failed) Message() string {
	var ue *scanning.ModelUnavailableError
	var pf *scanning.ParsingFailedError
	switch {
	case errors.As(f.Err, &ue):
		return ue.Error()
	case errors.As(f.Err, &pf):
		return pf.Error()
	case errors.Is(f.Err, scanning.ErrNoTextFound):
		return "No text could be read from the image."
	case errors.Is(f.Err, scanning.ErrImageConversionFailed):
		return "Could not process the image."
	case errors.Is(f.Err, ErrCancelled):
		return "Processing was cancelled. Please try again."
	case errors.Is(f.Err, ErrInterrupted):
		return "Processing was interrupted. Please try again."
	default:
		return "Something went wrong while saving the bill. Please try again."
	}
}

// Kind is a short machine-readable failure category
func (f Failed) Kind() string {
	var ue *scanning.ModelUnavailableError
	var pf *scanning.ParsingFailedError
	switch {
	case errors.As(f.Err, &ue):
		return "model_unavailable_" + ue.Reason.String()
	case errors.As(f.Err, &pf):
		return "parsing_failed"
	case errors.Is(f.Err, scanning.ErrNoTextFound):
		return "no_text_found"
	case errors.Is(f.Err, scanning.ErrImageConversionFailed):
		return "image_conversion_failed"
	case errors.Is(f.Err, ErrCancelled):
		return "cancelled"
	case errors.Is(f.Err, ErrInterrupted):
		return "interrupted"
	default:
		return "internal"
	}
}

// IsTerminal reports whether s ends an attempt
func IsTerminal(s State) bool {
	switch s.(type) {
	case Committed, Failed:
		return true
	}
	return false
}

// StateView is the JSON rendering of a State
type StateView struct {
	Phase      Phase   `json:"phase"`
	RawText    string  `json:"raw_text,omitempty"`
	Drafts     []Draft `json:"drafts,omitempty"`
	ItemCount  int     `json:"item_count,omitempty"`
	Structured bool    `json:"structured,omitempty"`
	Message    string  `json:"message,omitempty"`
	Reason     string  `json:"reason,omitempty"`
	Terminal   bool    `json:"terminal"`
}

// View renders a State for API responses
func View(s State) StateView {
	v := StateView{Phase: s.Phase(), Terminal: IsTerminal(s)}
	switch st := s.(type) {
	case StructuredExtraction:
		v.RawText = st.Text
	case ManualReviewPending:
		v.RawText = st.Text
		v.Drafts = st.Drafts
		if v.Drafts == nil {
			v.Drafts = []Draft{}
		}
	case Committed:
		v.ItemCount = st.ItemCount
		v.Structured = st.Structured
	case Failed:
		v.Message = st.Message()
		v.Reason = st.Kind()
	}
	return v
}
