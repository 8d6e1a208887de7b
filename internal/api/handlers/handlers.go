// Package handlers implements the HTTP endpoints of the ledger API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/anair/spendsight/internal/api/middleware"
	"github.com/anair/spendsight/internal/domain"
	"github.com/anair/spendsight/internal/ingest"
	"github.com/anair/spendsight/internal/ledger"
)

const dayLayout = "2006-01-02"

// TransactionsHandler handles ledger endpoints.
type TransactionsHandler struct {
	ledger   *ledger.Service
	pipeline *ingest.Pipeline
	log      zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler. pipeline
// may be nil when no classifier is configured; POST /classify then
// reports the capability as unavailable.
func NewTransactionsHandler(ledger *ledger.Service, pipeline *ingest.Pipeline, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{
		ledger:   ledger,
		pipeline: pipeline,
		log:      log,
	}
}

// userID resolves the acting user from the X-User-ID header, falling
// back to the user query parameter.
func userID(r *http.Request) string {
	if id := r.Header.Get("X-User-ID"); id != "" {
		return id
	}
	return r.URL.Query().Get("user")
}

// DateRange handles POST /daterange
func (h *TransactionsHandler) DateRange(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "User is required")
		return
	}

	var req struct {
		StartDate string `json:"startDate"`
		EndDate   string `json:"endDate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	start, err := time.Parse(dayLayout, req.StartDate)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid startDate format")
		return
	}
	end, err := time.Parse(dayLayout, req.EndDate)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid endDate format")
		return
	}

	records, err := h.ledger.QueryRange(user, start, end)
	if err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("Failed to query date range")
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "Failed to query transactions")
		return
	}

	if records == nil {
		records = []domain.TransactionRecord{}
	}
	middleware.WriteJSON(w, http.StatusOK, records)
}

// Classify handles POST /classify
func (h *TransactionsHandler) Classify(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "User is required")
		return
	}
	if h.pipeline == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "internal", "No classifier configured")
		return
	}

	result, err := h.pipeline.Run(r.Context(), user)
	if err != nil {
		h.log.Error().Err(err).Str("user", user).Msg("Archive ingestion failed")
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "Archive ingestion failed")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, result)
}

// Reclassify handles POST /reclassify
func (h *TransactionsHandler) Reclassify(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "User is required")
		return
	}

	var req struct {
		Original          domain.TransactionRecord `json:"original"`
		NewClassification string                   `json:"newClassification"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if req.Original.Date == "" || req.NewClassification == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "original.Date and newClassification are required")
		return
	}

	updated, err := h.ledger.Reclassify(user, req.Original.Date, req.NewClassification)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "not_found", "Transaction not found")
			return
		}
		h.log.Error().Err(err).Str("user", user).Msg("Failed to reclassify transaction")
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "Failed to reclassify transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, updated)
}

// Normalize handles POST /normalize
func (h *TransactionsHandler) Normalize(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "User is required")
		return
	}

	var req struct {
		Date   string         `json:"date"`
		Payers []domain.Payer `json:"payers"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}
	if req.Date == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "date is required")
		return
	}

	updated, err := h.ledger.Normalize(user, req.Date, req.Payers)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			middleware.WriteError(w, http.StatusNotFound, "not_found", "Transaction not found")
			return
		}
		h.log.Error().Err(err).Str("user", user).Msg("Failed to normalize transaction")
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "Failed to normalize transaction")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, updated)
}

// AddTransaction handles POST /add-transaction
func (h *TransactionsHandler) AddTransaction(w http.ResponseWriter, r *http.Request) {
	user := userID(r)
	if user == "" {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "User is required")
		return
	}

	var record domain.TransactionRecord
	if err := json.NewDecoder(r.Body).Decode(&record); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", "Invalid request body")
		return
	}

	added, err := h.ledger.Add(user, record)
	if err != nil {
		if errors.Is(err, ledger.ErrConflict) {
			middleware.WriteError(w, http.StatusConflict, "conflict", "Transaction already exists")
			return
		}
		middleware.WriteError(w, http.StatusBadRequest, "bad_request", err.Error())
		return
	}

	middleware.WriteJSON(w, http.StatusCreated, added)
}

// ListUsers handles GET /users
func (h *TransactionsHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.ledger.ListUsers()
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to list users")
		middleware.WriteError(w, http.StatusInternalServerError, "internal", "Failed to list users")
		return
	}

	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users": users,
		"count": len(users),
	})
}
