package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/zombor/splyt/internal/scanning"
)

var (
	// ErrInvalidTransition is returned when an operation is not allowed from the current state
	ErrInvalidTransition = errors.New("invalid pipeline transition")
	// ErrPipelineBusy is returned when the pipeline is already running an operation
	ErrPipelineBusy = errors.New("pipeline is busy")
)

// Commit is everything written to the receipt when ingestion succeeds
type Commit struct {
	RestaurantName *string
	TaxAmount      float64
	Items          []Item
}

// Store persists ingestion results. Commit must be atomic: either every item is
// written along with the tax and name, or nothing is.
type Store interface {
	SaveRawText(ctx context.Context, receiptID string, text string) error
	Commit(ctx context.Context, receiptID string, c Commit) error
}

// Deps are the collaborators a Pipeline needs
type Deps struct {
	Text  scanning.TextExtractor
	Bills scanning.BillExtractor
	Store Store
}

// Pipeline ingests one captured image into one receipt. It is safe for concurrent
// use, but only one operation runs at a time; others get ErrPipelineBusy.
type Pipeline struct {
	receiptID   string
	image       []byte
	contentType string
	deps        Deps

	busy  atomic.Bool
	mu    sync.Mutex
	state State
}

// New creates a pipeline in the ExtractingText state
func New(receiptID string, image []byte, contentType string, deps Deps) *Pipeline {
	return &Pipeline{
		receiptID:   receiptID,
		image:       image,
		contentType: contentType,
		deps:        deps,
		state:       ExtractingText{},
	}
}

// ReceiptID returns the receipt this pipeline writes to
func (p *Pipeline) ReceiptID() string {
	return p.receiptID
}

// State returns the current state
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Run drives the pipeline from ExtractingText until it reaches ManualReviewPending,
// Committed or Failed.
func (p *Pipeline) Run(ctx context.Context) (State, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return p.State(), ErrPipelineBusy
	}
	defer p.busy.Store(false)

	if _, ok := p.State().(ExtractingText); !ok {
		return p.State(), fmt.Errorf("%w: run from %s", ErrInvalidTransition, p.State().Phase())
	}
	return p.advance(ctx), nil
}

// Retry restarts a failed pipeline from ExtractingText
func (p *Pipeline) Retry(ctx context.Context) (State, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return p.State(), ErrPipelineBusy
	}
	defer p.busy.Store(false)

	if _, ok := p.State().(Failed); !ok {
		return p.State(), fmt.Errorf("%w: retry from %s", ErrInvalidTransition, p.State().Phase())
	}
	slog.Info("Retrying ingestion", "receipt_id", p.receiptID)
	p.transition(ExtractingText{})
	return p.advance(ctx), nil
}

// Submit commits the reviewed drafts. Rows with a blank name or an unparseable
// price are dropped. On error the pipeline stays in ManualReviewPending.
func (p *Pipeline) Submit(ctx context.Context, review Review) (State, error) {
	if !p.busy.CompareAndSwap(false, true) {
		return p.State(), ErrPipelineBusy
	}
	defer p.busy.Store(false)

	current := p.State()
	if _, ok := current.(ManualReviewPending); !ok {
		return current, fmt.Errorf("%w: submit from %s", ErrInvalidTransition, current.Phase())
	}

	tax, err := review.taxAmount()
	if err != nil {
		return current, err
	}
	items := review.items()

	if err := ctx.Err(); err != nil {
		return current, err
	}
	if err := p.deps.Store.Commit(ctx, p.receiptID, Commit{TaxAmount: tax, Items: items}); err != nil {
		return current, fmt.Errorf("saving reviewed items: %w", err)
	}

	next := Committed{ItemCount: len(items)}
	p.transition(next)
	return next, nil
}

// advance steps through the non-waiting states
func (p *Pipeline) advance(ctx context.Context) State {
	for {
		var next State
		switch s := p.State().(type) {
		case ExtractingText:
			next = p.extractText(ctx)
		case StructuredExtraction:
			next = p.extractStructured(ctx, s.Text)
		default:
			return s
		}
		p.transition(next)
	}
}

func (p *Pipeline) extractText(ctx context.Context) State {
	start := time.Now()
	text, err := p.deps.Text.RecognizeText(ctx, p.image, p.contentType)
	observeStage("text_extraction", start)

	if ctx.Err() != nil {
		return Failed{Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
	}
	if err != nil {
		if errors.Is(err, scanning.ErrNoTextFound) {
			return Failed{Err: err}
		}
		if !errors.Is(err, scanning.ErrImageConversionFailed) {
			err = fmt.Errorf("%w: %w", scanning.ErrImageConversionFailed, err)
		}
		return Failed{Err: err}
	}
	if strings.TrimSpace(text) == "" {
		return Failed{Err: scanning.ErrNoTextFound}
	}

	if err := p.deps.Store.SaveRawText(ctx, p.receiptID, text); err != nil {
		return Failed{Err: fmt.Errorf("saving raw text: %w", err)}
	}

	if err := p.deps.Bills.Availability(ctx); err != nil {
		if ctx.Err() != nil {
			return Failed{Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
		}
		slog.Info("Bill parser unavailable, falling back to manual review",
			"receipt_id", p.receiptID,
			"reason", err,
		)
		return ManualReviewPending{
			Text:   text,
			Drafts: draftsFromMatches(scanning.MatchLineItems(text)),
		}
	}
	return StructuredExtraction{Text: text}
}

func (p *Pipeline) extractStructured(ctx context.Context, text string) State {
	start := time.Now()
	bill, err := p.deps.Bills.Parse(ctx, text)
	observeStage("structured_extraction", start)

	if ctx.Err() != nil {
		return Failed{Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
	}
	if err != nil {
		var ue *scanning.ModelUnavailableError
		var pf *scanning.ParsingFailedError
		if errors.As(err, &ue) || errors.As(err, &pf) {
			return Failed{Err: err}
		}
		return Failed{Err: &scanning.ParsingFailedError{Detail: err.Error()}}
	}
	if bill == nil {
		return Failed{Err: &scanning.ParsingFailedError{Detail: "empty result"}}
	}
	if bill.TaxAmount < 0 {
		return Failed{Err: &scanning.ParsingFailedError{Detail: "negative tax amount"}}
	}

	items := make([]Item, 0, len(bill.LineItems))
	for _, li := range bill.LineItems {
		name := strings.TrimSpace(li.Name)
		if name == "" {
			continue
		}
		if li.Price < 0 {
			return Failed{Err: &scanning.ParsingFailedError{Detail: fmt.Sprintf("negative price for %q", name)}}
		}
		items = append(items, Item{Name: name, Price: li.Price})
	}

	commit := Commit{
		RestaurantName: bill.RestaurantName,
		TaxAmount:      bill.TaxAmount,
		Items:          items,
	}
	if err := p.deps.Store.Commit(ctx, p.receiptID, commit); err != nil {
		if ctx.Err() != nil {
			return Failed{Err: fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())}
		}
		return Failed{Err: fmt.Errorf("saving line items: %w", err)}
	}
	return Committed{ItemCount: len(items), Structured: true}
}

func (p *Pipeline) transition(next State) {
	p.mu.Lock()
	prev := p.state
	p.state = next
	switch next.(type) {
	case ManualReviewPending, Committed:
		// only a retry from Failed reads the image again
		p.image = nil
	}
	p.mu.Unlock()

	slog.Debug("Ingestion transition",
		"receipt_id", p.receiptID,
		"from", prev.Phase(),
		"to", next.Phase(),
	)

	switch s := next.(type) {
	case Committed:
		slog.Info("Ingestion committed", "receipt_id", p.receiptID, "items", s.ItemCount, "structured", s.Structured)
		if s.Structured {
			recordOutcome("committed_structured")
		} else {
			recordOutcome("committed_manual")
		}
	case ManualReviewPending:
		recordOutcome("manual_review")
	case Failed:
		slog.Warn("Ingestion failed", "receipt_id", p.receiptID, "reason", s.Kind(), "error", s.Err)
		recordOutcome("failed_" + s.Kind())
	}
}
