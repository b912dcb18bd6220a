package receipt

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/zombor/splyt/internal/ingest"
)

// maxUploadSize allows high-resolution phone photos
const maxUploadSize = int64(50 << 20)

// writeJSON writes v with the given status
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

// writeError writes a JSON error body
func writeError(w http.ResponseWriter, message string, code int) {
	writeJSON(w, code, map[string]string{"error": message})
}

// writeServiceError maps service errors to status codes. Validation messages are
// passed through; anything unexpected is logged and hidden.
func writeServiceError(w http.ResponseWriter, err error, action string) {
	switch {
	case errors.Is(err, ErrNotFound):
		writeError(w, "Not found", http.StatusNotFound)
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ingest.ErrInvalidTax):
		writeError(w, userMessage(err), http.StatusBadRequest)
	case errors.Is(err, ingest.ErrInvalidTransition),
		errors.Is(err, ingest.ErrUnknownReceipt),
		errors.Is(err, ingest.ErrAlreadyStarted):
		writeError(w, "The receipt is not in a state that allows this", http.StatusConflict)
	case errors.Is(err, ingest.ErrPipelineBusy):
		writeError(w, "The receipt is still being processed", http.StatusConflict)
	default:
		slog.Error("Error "+action, "error", err)
		writeError(w, "Internal server error", http.StatusInternalServerError)
	}
}

// userMessage drops the wrapping context from a validation error
func userMessage(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, ErrInvalidInput.Error()+": "); i >= 0 {
		return msg[i+len(ErrInvalidInput.Error())+2:]
	}
	if errors.Is(err, ingest.ErrInvalidTax) {
		return ingest.ErrInvalidTax.Error()
	}
	return msg
}

type scanResponse struct {
	Receipt   *Receipt         `json:"receipt"`
	Ingestion ingest.StateView `json:"ingestion"`
}

// detectContentType prefers the part header and falls back to the file extension
func detectContentType(header string, filename string) string {
	contentType := strings.ToLower(strings.TrimSpace(header))
	if contentType != "" && contentType != "application/octet-stream" {
		return contentType
	}
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".jpg", ".jpeg":
		return "image/jpeg"
	case ".png":
		return "image/png"
	case ".gif":
		return "image/gif"
	case ".pdf":
		return "application/pdf"
	case ".heic":
		return "image/heic"
	case ".heif":
		return "image/heif"
	default:
		return "application/octet-stream"
	}
}

// handleScanReceipt stores an uploaded bill image and runs ingestion on it
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, "File is too large. Maximum size is 50MB. Please compress or resize your image.", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, "Error parsing form", http.StatusBadRequest)
		return
	}

	f, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeError(w, "No file was selected. Please choose a bill image to upload.", http.StatusBadRequest)
		return
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		slog.Error("Error reading file data", "error", err, "filename", header.Filename)
		writeError(w, "Error reading file. Please try again.", http.StatusInternalServerError)
		return
	}

	contentType := detectContentType(header.Header.Get("Content-Type"), header.Filename)

	receipt, state, err := s.service.ScanReceipt(r.Context(), header.Filename, data, contentType)
	if err != nil {
		writeServiceError(w, err, "scanning receipt")
		return
	}

	writeJSON(w, http.StatusCreated, scanResponse{Receipt: receipt, Ingestion: ingest.View(state)})
}

// handleListReceipts returns a list of all receipts
func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	receipts, err := s.service.ListReceipts()
	if err != nil {
		writeServiceError(w, err, "listing receipts")
		return
	}
	writeJSON(w, http.StatusOK, receipts)
}

// handleGetReceipt returns a single receipt
func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.service.GetReceipt(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting receipt")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleUpdateReceipt(w http.ResponseWriter, r *http.Request) {
	var req updateReceiptRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeServiceError(w, err, "decoding receipt update")
		return
	}

	receipt, err := s.service.UpdateReceipt(r.PathValue("id"), ReceiptUpdate{
		TaxAmount:      req.TaxAmount,
		TipPercentage:  req.TipPercentage,
		RestaurantName: req.RestaurantName,
	})
	if err != nil {
		writeServiceError(w, err, "updating receipt")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

// handleDeleteReceipt deletes a receipt with its items and image
func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteReceipt(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "deleting receipt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleGetReceiptFile returns the captured image
func (s *Server) handleGetReceiptFile(w http.ResponseWriter, r *http.Request) {
	data, contentType, err := s.service.GetReceiptFile(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting receipt file")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Write(data)
}

func (s *Server) handleGetIngestion(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.GetIngestion(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "getting ingestion")
		return
	}
	writeJSON(w, http.StatusOK, ingest.View(state))
}

func (s *Server) handleSubmitReview(w http.ResponseWriter, r *http.Request) {
	var req reviewRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeServiceError(w, err, "decoding review")
		return
	}

	review := ingest.Review{Tax: req.Tax}
	for _, d := range req.Drafts {
		review.Drafts = append(review.Drafts, ingest.Draft{Name: d.Name, Price: d.Price})
	}

	state, err := s.service.SubmitReview(r.Context(), r.PathValue("id"), review)
	if err != nil {
		writeServiceError(w, err, "submitting review")
		return
	}
	writeJSON(w, http.StatusOK, ingest.View(state))
}

func (s *Server) handleRetryIngestion(w http.ResponseWriter, r *http.Request) {
	state, err := s.service.RetryIngestion(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "retrying ingestion")
		return
	}
	writeJSON(w, http.StatusOK, ingest.View(state))
}

// handleSplit recomputes the split from the receipt's current items
func (s *Server) handleSplit(w http.ResponseWriter, r *http.Request) {
	summary, err := s.service.Split(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "splitting receipt")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleListLineItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListLineItems(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "listing line items")
		return
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleAddLineItem(w http.ResponseWriter, r *http.Request) {
	var req addLineItemRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeServiceError(w, err, "decoding line item")
		return
	}

	item, err := s.service.AddLineItem(r.PathValue("id"), req.Name, *req.Price, req.PersonID)
	if err != nil {
		writeServiceError(w, err, "adding line item")
		return
	}
	writeJSON(w, http.StatusCreated, item)
}

func (s *Server) handleUpdateLineItem(w http.ResponseWriter, r *http.Request) {
	var req updateLineItemRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeServiceError(w, err, "decoding line item update")
		return
	}

	item, err := s.service.UpdateLineItem(r.PathValue("id"), r.PathValue("itemID"), LineItemUpdate{
		Name:  req.Name,
		Price: req.Price,
	})
	if err != nil {
		writeServiceError(w, err, "updating line item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleAssignLineItem(w http.ResponseWriter, r *http.Request) {
	var req assignRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeServiceError(w, err, "decoding assignment")
		return
	}

	item, err := s.service.AssignLineItem(r.PathValue("id"), r.PathValue("itemID"), *req.PersonID)
	if err != nil {
		writeServiceError(w, err, "assigning line item")
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleDeleteLineItem(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeleteLineItem(r.PathValue("id"), r.PathValue("itemID")); err != nil {
		writeServiceError(w, err, "deleting line item")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPeople(w http.ResponseWriter, r *http.Request) {
	people, err := s.service.ListPeople()
	if err != nil {
		writeServiceError(w, err, "listing people")
		return
	}
	writeJSON(w, http.StatusOK, people)
}

func (s *Server) handleCreatePerson(w http.ResponseWriter, r *http.Request) {
	var req createPersonRequest
	if err := decodeRequest(r.Body, &req); err != nil {
		writeServiceError(w, err, "decoding person")
		return
	}

	person, err := s.service.CreatePerson(req.Name)
	if err != nil {
		writeServiceError(w, err, "creating person")
		return
	}
	writeJSON(w, http.StatusCreated, person)
}

// handleDeletePerson deletes a person; their items become unassigned
func (s *Server) handleDeletePerson(w http.ResponseWriter, r *http.Request) {
	if err := s.service.DeletePerson(r.PathValue("id")); err != nil {
		writeServiceError(w, err, "deleting person")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListPersonItems(w http.ResponseWriter, r *http.Request) {
	items, err := s.service.ListPersonItems(r.PathValue("id"))
	if err != nil {
		writeServiceError(w, err, "listing person items")
		return
	}
	writeJSON(w, http.StatusOK, items)
}
