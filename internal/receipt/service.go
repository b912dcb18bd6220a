package receipt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/zombor/splyt/internal/calculator"
	"github.com/zombor/splyt/internal/ingest"
	"github.com/zombor/splyt/internal/scanning"
)

// ErrInvalidInput is returned when a value fails validation
var ErrInvalidInput = errors.New("invalid input")

// IDGenerator generates unique IDs for receipts, line items and people
type IDGenerator interface {
	Generate() string
}

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// uuidGenerator generates random UUIDs
type uuidGenerator struct{}

func (g *uuidGenerator) Generate() string {
	return uuid.NewString()
}

// defaultTimeSource provides the current time
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// Extractors are the scanning backends used by ingestion
type Extractors struct {
	Text  scanning.TextExtractor
	Bills scanning.BillExtractor
}

// Service handles receipt, line item and people operations
type Service struct {
	db          DB
	storage     Storage
	ingest      *ingest.Manager
	scanTimeout time.Duration
	idGenerator IDGenerator
	timeSource  TimeSource
}

// NewService creates a new Service with UUID ids and the wall clock
func NewService(db DB, storage Storage, extractors Extractors, scanTimeout time.Duration) *Service {
	return NewServiceWithDeps(db, storage, extractors, scanTimeout, &uuidGenerator{}, &defaultTimeSource{})
}

// NewServiceWithDeps creates a new Service with custom dependencies for testing
func NewServiceWithDeps(db DB, storage Storage, extractors Extractors, scanTimeout time.Duration, idGen IDGenerator, timeSrc TimeSource) *Service {
	s := &Service{
		db:          db,
		storage:     storage,
		scanTimeout: scanTimeout,
		idGenerator: idGen,
		timeSource:  timeSrc,
	}
	s.ingest = ingest.NewManager(ingest.Deps{
		Text:  extractors.Text,
		Bills: extractors.Bills,
		Store: &ingestStore{s},
	})
	return s
}

var (
	unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9\s\-_]`)
	repeatedSpaces      = regexp.MustCompile(`\s+`)
)

// sanitizeFilename strips phone-generated names down to something safe to store
func sanitizeFilename(filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	base := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))

	base = unsafeFilenameChars.ReplaceAllString(base, "")
	base = repeatedSpaces.ReplaceAllString(base, "_")
	base = strings.Trim(base, "_")

	if len(base) > 50 {
		base = base[:50]
	}
	if base == "" {
		base = "bill"
	}
	if unsafeFilenameChars.MatchString(strings.TrimPrefix(ext, ".")) {
		ext = ""
	}

	return base + ext
}

func (s *Service) scanContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.scanTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.scanTimeout)
}

// ScanReceipt stores the captured image as a new receipt and runs ingestion on it.
// The returned state is ManualReviewPending, Committed or Failed.
func (s *Service) ScanReceipt(ctx context.Context, filename string, data []byte, contentType string) (*Receipt, ingest.State, error) {
	if len(data) == 0 {
		return nil, nil, fmt.Errorf("%w: image is empty", ErrInvalidInput)
	}

	id := s.idGenerator.Generate()
	now := s.timeSource.Now()

	savedPath, err := s.storage.Save(fmt.Sprintf("%s_%s", id, sanitizeFilename(filename)), data)
	if err != nil {
		return nil, nil, fmt.Errorf("saving image: %w", err)
	}

	receipt := &Receipt{
		ID:          id,
		Filename:    savedPath,
		ContentType: contentType,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.db.SaveReceipt(receipt); err != nil {
		s.storage.Delete(savedPath)
		return nil, nil, fmt.Errorf("saving receipt to database: %w", err)
	}

	slog.Info("Scanning receipt",
		"receipt_id", id,
		"filename", filename,
		"content_type", contentType,
		"file_size", len(data),
	)

	scanCtx, cancel := s.scanContext(ctx)
	defer cancel()
	state, err := s.ingest.Start(scanCtx, id, data, contentType)
	if err != nil {
		return nil, nil, fmt.Errorf("starting ingestion: %w", err)
	}

	receipt, err = s.db.GetReceipt(id)
	if err != nil {
		return nil, nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, state, nil
}

// GetIngestion returns the ingestion state of a receipt. Committed pipelines are
// not tracked, so untracked receipts report Committed if their items were saved
// and an interrupted failure otherwise.
func (s *Service) GetIngestion(id string) (ingest.State, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if state, ok := s.ingest.Get(id); ok {
		return state, nil
	}
	if receipt.IngestedAt == nil {
		return ingest.Failed{Err: ingest.ErrInterrupted}, nil
	}
	items, err := s.db.ListLineItems(id)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	return ingest.Committed{ItemCount: len(items)}, nil
}

// SubmitReview commits manually reviewed drafts for a receipt
func (s *Service) SubmitReview(ctx context.Context, id string, review ingest.Review) (ingest.State, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	state, err := s.ingest.Submit(ctx, id, review)
	if errors.Is(err, ingest.ErrUnknownReceipt) && receipt.IngestedAt != nil {
		return nil, fmt.Errorf("%w: receipt already ingested", ingest.ErrInvalidTransition)
	}
	if err != nil {
		return state, fmt.Errorf("submitting review: %w", err)
	}
	return state, nil
}

// RetryIngestion restarts a failed ingestion from text extraction. A receipt
// whose pipeline was lost is re-seeded with its stored image, as long as nothing
// was committed for it.
func (s *Service) RetryIngestion(ctx context.Context, id string) (ingest.State, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}

	scanCtx, cancel := s.scanContext(ctx)
	defer cancel()

	if _, ok := s.ingest.Get(id); ok {
		state, err := s.ingest.Retry(scanCtx, id)
		if err != nil {
			return state, fmt.Errorf("retrying ingestion: %w", err)
		}
		return state, nil
	}

	if receipt.IngestedAt != nil {
		return nil, fmt.Errorf("%w: receipt already ingested", ingest.ErrInvalidTransition)
	}
	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, fmt.Errorf("getting receipt image: %w", err)
	}
	slog.Info("Re-seeding ingestion from stored image", "receipt_id", id)
	state, err := s.ingest.Start(scanCtx, id, data, receipt.ContentType)
	if err != nil {
		return state, fmt.Errorf("retrying ingestion: %w", err)
	}
	return state, nil
}

// GetReceipt retrieves a receipt by ID
func (s *Service) GetReceipt(id string) (*Receipt, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	return receipt, nil
}

// ListReceipts returns all receipts
func (s *Service) ListReceipts() ([]*Receipt, error) {
	receipts, err := s.db.ListReceipts()
	if err != nil {
		return nil, fmt.Errorf("listing receipts: %w", err)
	}
	return receipts, nil
}

// ReceiptUpdate holds the user-editable receipt fields; nil fields are left as is
type ReceiptUpdate struct {
	TaxAmount      *float64
	TipPercentage  *float64
	RestaurantName *string
}

// UpdateReceipt applies user corrections to a receipt
func (s *Service) UpdateReceipt(id string, update ReceiptUpdate) (*Receipt, error) {
	if update.TaxAmount != nil && *update.TaxAmount < 0 {
		return nil, fmt.Errorf("%w: tax amount cannot be negative", ErrInvalidInput)
	}
	if update.TipPercentage != nil && *update.TipPercentage < 0 {
		return nil, fmt.Errorf("%w: tip percentage cannot be negative", ErrInvalidInput)
	}

	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	if update.TaxAmount != nil {
		receipt.TaxAmount = *update.TaxAmount
	}
	if update.TipPercentage != nil {
		receipt.TipPercentage = *update.TipPercentage
	}
	if update.RestaurantName != nil {
		name := strings.TrimSpace(*update.RestaurantName)
		if name == "" {
			receipt.RestaurantName = nil
		} else {
			receipt.RestaurantName = &name
		}
	}
	receipt.UpdatedAt = s.timeSource.Now()

	if err := s.db.SaveReceipt(receipt); err != nil {
		return nil, fmt.Errorf("saving receipt: %w", err)
	}
	return receipt, nil
}

// DeleteReceipt removes a receipt, its line items and its image
func (s *Service) DeleteReceipt(id string) error {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return fmt.Errorf("getting receipt for deletion: %w", err)
	}

	if err := s.storage.Delete(receipt.Filename); err != nil {
		slog.Warn("Failed to delete image", "filename", receipt.Filename, "error", err)
	}

	if err := s.db.DeleteReceipt(id); err != nil {
		return fmt.Errorf("deleting receipt from database: %w", err)
	}
	s.ingest.Forget(id)
	return nil
}

// GetReceiptFile retrieves the captured image for a receipt
func (s *Service) GetReceiptFile(id string) ([]byte, string, error) {
	receipt, err := s.db.GetReceipt(id)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt: %w", err)
	}

	data, err := s.storage.Get(receipt.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("getting receipt image: %w", err)
	}

	return data, receipt.ContentType, nil
}

// ListLineItems returns a receipt's items in the order they were added
func (s *Service) ListLineItems(receiptID string) ([]*LineItem, error) {
	items, err := s.db.ListLineItems(receiptID)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	return items, nil
}

func validateItem(name string, price float64) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: item name is required", ErrInvalidInput)
	}
	if price < 0 {
		return "", fmt.Errorf("%w: price cannot be negative", ErrInvalidInput)
	}
	return name, nil
}

// AddLineItem adds an item to a receipt by hand
func (s *Service) AddLineItem(receiptID, name string, price float64, personID string) (*LineItem, error) {
	name, err := validateItem(name, price)
	if err != nil {
		return nil, err
	}

	item := &LineItem{
		ID:        s.idGenerator.Generate(),
		ReceiptID: receiptID,
		Name:      name,
		Price:     price,
		PersonID:  personID,
	}
	if err := s.db.SaveLineItem(item); err != nil {
		return nil, fmt.Errorf("saving line item: %w", err)
	}
	return item, nil
}

// LineItemUpdate holds the editable item fields; nil fields are left as is
type LineItemUpdate struct {
	Name  *string
	Price *float64
}

// UpdateLineItem edits an item's name or price
func (s *Service) UpdateLineItem(receiptID, itemID string, update LineItemUpdate) (*LineItem, error) {
	item, err := s.db.GetLineItem(receiptID, itemID)
	if err != nil {
		return nil, fmt.Errorf("getting line item: %w", err)
	}

	name, price := item.Name, item.Price
	if update.Name != nil {
		name = *update.Name
	}
	if update.Price != nil {
		price = *update.Price
	}
	if item.Name, err = validateItem(name, price); err != nil {
		return nil, err
	}
	item.Price = price

	if err := s.db.SaveLineItem(item); err != nil {
		return nil, fmt.Errorf("saving line item: %w", err)
	}
	return item, nil
}

// AssignLineItem assigns an item to a person. An empty personID unassigns it.
func (s *Service) AssignLineItem(receiptID, itemID, personID string) (*LineItem, error) {
	item, err := s.db.GetLineItem(receiptID, itemID)
	if err != nil {
		return nil, fmt.Errorf("getting line item: %w", err)
	}
	item.PersonID = personID
	if err := s.db.SaveLineItem(item); err != nil {
		return nil, fmt.Errorf("assigning line item: %w", err)
	}
	return item, nil
}

// DeleteLineItem removes an item from a receipt
func (s *Service) DeleteLineItem(receiptID, itemID string) error {
	if err := s.db.DeleteLineItem(receiptID, itemID); err != nil {
		return fmt.Errorf("deleting line item: %w", err)
	}
	return nil
}

// CreatePerson adds a person with the next palette color
func (s *Service) CreatePerson(name string) (*Person, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidInput)
	}

	person := &Person{
		ID:        s.idGenerator.Generate(),
		Name:      name,
		CreatedAt: s.timeSource.Now(),
	}
	if err := s.db.CreatePerson(person); err != nil {
		return nil, fmt.Errorf("saving person: %w", err)
	}
	return person, nil
}

// ListPeople returns everyone sorted by name
func (s *Service) ListPeople() ([]*Person, error) {
	people, err := s.db.ListPeople()
	if err != nil {
		return nil, fmt.Errorf("listing people: %w", err)
	}
	return people, nil
}

// DeletePerson removes a person. Their items stay on their receipts, unassigned.
func (s *Service) DeletePerson(id string) error {
	if err := s.db.DeletePerson(id); err != nil {
		return fmt.Errorf("deleting person: %w", err)
	}
	return nil
}

// ListPersonItems returns every item assigned to a person
func (s *Service) ListPersonItems(personID string) ([]*LineItem, error) {
	items, err := s.db.ListLineItemsForPerson(personID)
	if err != nil {
		return nil, fmt.Errorf("listing person items: %w", err)
	}
	return items, nil
}

// SplitSummary is the computed split of one receipt
type SplitSummary struct {
	ReceiptID  string                   `json:"receipt_id"`
	Splits     []calculator.PersonSplit `json:"splits"`
	Unassigned []calculator.Item        `json:"unassigned"`
	Subtotal   float64                  `json:"subtotal"`
	TaxAmount  float64                  `json:"tax_amount"`
	TipAmount  float64                  `json:"tip_amount"`
	Total      float64                  `json:"total"`
}

// Split computes each person's share of a receipt from its current items
func (s *Service) Split(receiptID string) (*SplitSummary, error) {
	receipt, err := s.db.GetReceipt(receiptID)
	if err != nil {
		return nil, fmt.Errorf("getting receipt: %w", err)
	}
	items, err := s.db.ListLineItems(receiptID)
	if err != nil {
		return nil, fmt.Errorf("listing line items: %w", err)
	}
	people, err := s.db.ListPeople()
	if err != nil {
		return nil, fmt.Errorf("listing people: %w", err)
	}

	bill := calculator.Bill{
		Items:         make([]calculator.Item, 0, len(items)),
		TaxAmount:     receipt.TaxAmount,
		TipPercentage: receipt.TipPercentage,
	}
	for _, item := range items {
		bill.Items = append(bill.Items, calculator.Item{
			ID:       item.ID,
			Name:     item.Name,
			Price:    item.Price,
			PersonID: item.PersonID,
		})
	}
	members := make([]calculator.Person, 0, len(people))
	for _, p := range people {
		members = append(members, calculator.Person{ID: p.ID, Name: p.Name, ColorHex: p.ColorHex})
	}

	return &SplitSummary{
		ReceiptID:  receiptID,
		Splits:     calculator.CalculateSplit(bill, members),
		Unassigned: calculator.Unassigned(bill, members),
		Subtotal:   bill.Subtotal(),
		TaxAmount:  bill.TaxAmount,
		TipAmount:  bill.TipAmount(),
		Total:      bill.Total(),
	}, nil
}

// ingestStore writes pipeline results through the service's DB
type ingestStore struct {
	s *Service
}

func (st *ingestStore) SaveRawText(ctx context.Context, receiptID string, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	receipt, err := st.s.db.GetReceipt(receiptID)
	if err != nil {
		return fmt.Errorf("getting receipt: %w", err)
	}
	receipt.RawText = &text
	receipt.UpdatedAt = st.s.timeSource.Now()
	return st.s.db.SaveReceipt(receipt)
}

func (st *ingestStore) Commit(ctx context.Context, receiptID string, c ingest.Commit) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	receipt, err := st.s.db.GetReceipt(receiptID)
	if err != nil {
		return fmt.Errorf("getting receipt: %w", err)
	}

	now := st.s.timeSource.Now()
	if c.RestaurantName != nil {
		receipt.RestaurantName = c.RestaurantName
	}
	receipt.TaxAmount = c.TaxAmount
	receipt.IngestedAt = &now
	receipt.UpdatedAt = now

	items := make([]*LineItem, 0, len(c.Items))
	for _, it := range c.Items {
		items = append(items, &LineItem{
			ID:        st.s.idGenerator.Generate(),
			ReceiptID: receiptID,
			Name:      it.Name,
			Price:     it.Price,
		})
	}
	return st.s.db.CommitIngestion(receipt, items)
}
