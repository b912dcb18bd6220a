package ingest

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrAlreadyStarted is returned when a receipt already has a pipeline
	ErrAlreadyStarted = errors.New("ingestion already started for receipt")
	// ErrUnknownReceipt is returned when no pipeline exists for the receipt
	ErrUnknownReceipt = errors.New("no ingestion for receipt")
)

// Manager keeps one pipeline per receipt so two ingestions never write to the
// same receipt. Committed pipelines are dropped.
type Manager struct {
	deps Deps

	mu        sync.Mutex
	pipelines map[string]*Pipeline
}

// NewManager creates a Manager whose pipelines share deps
func NewManager(deps Deps) *Manager {
	return &Manager{
		deps:      deps,
		pipelines: make(map[string]*Pipeline),
	}
}

// Start creates and runs the pipeline for a receipt
func (m *Manager) Start(ctx context.Context, receiptID string, image []byte, contentType string) (State, error) {
	m.mu.Lock()
	if _, ok := m.pipelines[receiptID]; ok {
		m.mu.Unlock()
		return nil, ErrAlreadyStarted
	}
	p := New(receiptID, image, contentType, m.deps)
	m.pipelines[receiptID] = p
	m.mu.Unlock()

	state, err := p.Run(ctx)
	m.settle(p, state)
	return state, err
}

// Get returns the current state of a receipt's pipeline
func (m *Manager) Get(receiptID string) (State, bool) {
	p, ok := m.lookup(receiptID)
	if !ok {
		return nil, false
	}
	return p.State(), true
}

// Submit forwards a manual review to the receipt's pipeline
func (m *Manager) Submit(ctx context.Context, receiptID string, review Review) (State, error) {
	p, ok := m.lookup(receiptID)
	if !ok {
		return nil, ErrUnknownReceipt
	}
	state, err := p.Submit(ctx, review)
	m.settle(p, state)
	return state, err
}

// Retry restarts the receipt's failed pipeline
func (m *Manager) Retry(ctx context.Context, receiptID string) (State, error) {
	p, ok := m.lookup(receiptID)
	if !ok {
		return nil, ErrUnknownReceipt
	}
	state, err := p.Retry(ctx)
	m.settle(p, state)
	return state, err
}

// Forget drops the pipeline for a receipt, e.g. when the receipt is deleted
func (m *Manager) Forget(receiptID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.pipelines, receiptID)
}

// settle stops tracking a pipeline once its receipt is committed; from then on
// the receipt itself records the outcome
func (m *Manager) settle(p *Pipeline, state State) {
	if _, ok := state.(Committed); !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.pipelines[p.ReceiptID()] == p {
		delete(m.pipelines, p.ReceiptID())
	}
}

func (m *Manager) lookup(receiptID string) (*Pipeline, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pipelines[receiptID]
	return p, ok
}
