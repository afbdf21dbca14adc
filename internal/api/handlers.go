/**
 * @description
 * HTTP handlers for the raffle-service. The public surface serves the entry
 * page and the display screen; the admin surface, guarded by the internal API
 * key, serves the booth console: token minting, balance top-ups, settings,
 * manual draws and the reset.
 *
 * @dependencies
 * - encoding/json, errors, log/slog, net/http, strconv: Standard Go libraries.
 * - github.com/go-chi/chi/v5: For URL parameter extraction.
 * - internal/app, internal/domain, internal/store: Lifecycle service, models, store errors.
 */
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/bestwai/raffle-service/internal/app"
	"github.com/bestwai/raffle-service/internal/domain"
	"github.com/bestwai/raffle-service/internal/store"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// RaffleService is the slice of the lifecycle service the HTTP layer uses.
type RaffleService interface {
	Register(ctx context.Context, tokenID string, entries int64) (*domain.EnterRaffleResponse, error)
	TokenInfo(ctx context.Context, tokenID string) (*domain.TokenInfo, error)
	CurrentRaffleInfo(ctx context.Context) (*domain.CurrentRaffleInfo, error)
	History(ctx context.Context, limit int) ([]domain.RaffleResult, error)
	LatestWinners(ctx context.Context) (*domain.RaffleResult, error)
	TriggerDraw(ctx context.Context) (*domain.RaffleResult, error)
	Reset(ctx context.Context) error
	GenerateTokens(ctx context.Context, count int, balance int64) ([]domain.GeneratedToken, error)
	ListTokens(ctx context.Context) ([]domain.Participant, error)
	SetTokenBalance(ctx context.Context, tokenID string, balance int64) (*domain.Participant, error)
	Settings() domain.Settings
	UpdateSettings(ctx context.Context, settings domain.Settings) error
}

// RaffleHandlers holds the dependencies for the HTTP handlers.
type RaffleHandlers struct {
	service RaffleService
	logger  *slog.Logger
}

// NewRaffleHandlers creates a new instance of RaffleHandlers.
func NewRaffleHandlers(service RaffleService, logger *slog.Logger) *RaffleHandlers {
	return &RaffleHandlers{service: service, logger: logger}
}

// EnterRaffleHandler handles entry purchases from the participant page.
func (h *RaffleHandlers) EnterRaffleHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.EnterRaffleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.TokenID) == "" {
		h.writeError(w, http.StatusBadRequest, "token_id is required")
		return
	}
	entries := int64(1)
	if req.Entries != nil {
		entries = *req.Entries
	}

	resp, err := h.service.Register(r.Context(), req.TokenID, entries)
	if err != nil {
		h.logger.Warn("entry rejected", "token_id", req.TokenID, "entries", entries, "error", err)
		switch {
		case errors.Is(err, store.ErrParticipantNotFound):
			h.writeError(w, http.StatusNotFound, "Token not found")
		case errors.Is(err, store.ErrInsufficientBalance):
			h.writeError(w, http.StatusPaymentRequired, "Insufficient balance")
		case errors.Is(err, app.ErrInvalidEntryCount):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrRaffleClosed):
			h.writeError(w, http.StatusConflict, "The raffle is not accepting entries right now; try again in a moment")
		default:
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, resp)
}

// GetTokenHandler returns the public view of a token.
func (h *RaffleHandlers) GetTokenHandler(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenID")
	if tokenID == "" {
		h.writeError(w, http.StatusBadRequest, "Token ID is required")
		return
	}

	info, err := h.service.TokenInfo(r.Context(), tokenID)
	if err != nil {
		if errors.Is(err, store.ErrParticipantNotFound) {
			h.writeError(w, http.StatusNotFound, "Token not found")
			return
		}
		h.logger.Error("token lookup failed", "token_id", tokenID, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, info)
}

// CurrentRaffleHandler returns the raffle currently in progress.
func (h *RaffleHandlers) CurrentRaffleHandler(w http.ResponseWriter, r *http.Request) {
	info, err := h.service.CurrentRaffleInfo(r.Context())
	if err != nil {
		if errors.Is(err, app.ErrNoOpenRaffle) {
			h.writeError(w, http.StatusNotFound, "No raffle in progress")
			return
		}
		h.logger.Error("current raffle lookup failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, info)
}

// RaffleHistoryHandler returns recently drawn raffles, newest first.
func (h *RaffleHandlers) RaffleHistoryHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultHistoryLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.writeError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	history, err := h.service.History(r.Context(), limit)
	if err != nil {
		h.logger.Error("history lookup failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if history == nil {
		history = []domain.RaffleResult{}
	}

	h.writeJSON(w, http.StatusOK, history)
}

// LatestWinnersHandler returns the result of the most recent draw, which the
// display screen polls right after the countdown hits zero.
func (h *RaffleHandlers) LatestWinnersHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.LatestWinners(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrRaffleNotFound) {
			h.writeError(w, http.StatusNotFound, "No draw has completed yet")
			return
		}
		h.logger.Error("latest winners lookup failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// GenerateTokensHandler mints a batch of fresh tokens.
func (h *RaffleHandlers) GenerateTokensHandler(w http.ResponseWriter, r *http.Request) {
	var req domain.GenerateTokensRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	tokens, err := h.service.GenerateTokens(r.Context(), req.Count, req.Balance)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidConfiguration) {
			h.writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("token generation failed", "count", req.Count, "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusCreated, tokens)
}

// ListTokensHandler returns every minted token for the admin console.
func (h *RaffleHandlers) ListTokensHandler(w http.ResponseWriter, r *http.Request) {
	tokens, err := h.service.ListTokens(r.Context())
	if err != nil {
		h.logger.Error("token listing failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if tokens == nil {
		tokens = []domain.Participant{}
	}

	h.writeJSON(w, http.StatusOK, tokens)
}

// SetTokenBalanceHandler overrides a token's balance after a cash payment.
func (h *RaffleHandlers) SetTokenBalanceHandler(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "tokenID")
	if tokenID == "" {
		h.writeError(w, http.StatusBadRequest, "Token ID is required")
		return
	}

	var req domain.SetBalanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	participant, err := h.service.SetTokenBalance(r.Context(), tokenID, req.Balance)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrParticipantNotFound):
			h.writeError(w, http.StatusNotFound, "Token not found")
		case errors.Is(err, domain.ErrInvalidConfiguration):
			h.writeError(w, http.StatusBadRequest, err.Error())
		default:
			h.logger.Error("balance override failed", "token_id", tokenID, "error", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, participant)
}

// GetSettingsHandler returns the current raffle settings.
func (h *RaffleHandlers) GetSettingsHandler(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.service.Settings())
}

// UpdateSettingsHandler validates and applies new raffle settings.
func (h *RaffleHandlers) UpdateSettingsHandler(w http.ResponseWriter, r *http.Request) {
	var settings domain.Settings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if err := h.service.UpdateSettings(r.Context(), settings); err != nil {
		switch {
		case errors.Is(err, domain.ErrInvalidConfiguration):
			h.writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, app.ErrDrawInProgress):
			h.writeError(w, http.StatusConflict, "Cannot change settings while a draw is running")
		default:
			h.logger.Error("settings update failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, h.service.Settings())
}

// TriggerDrawHandler runs the draw immediately instead of waiting for the
// scheduled time.
func (h *RaffleHandlers) TriggerDrawHandler(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.TriggerDraw(r.Context())
	if err != nil {
		switch {
		case errors.Is(err, app.ErrDrawInProgress):
			h.writeError(w, http.StatusConflict, "A draw is already in progress")
		case errors.Is(err, app.ErrNoOpenRaffle):
			h.writeError(w, http.StatusConflict, "No open raffle to draw")
		default:
			h.logger.Error("manual draw failed", "error", err)
			h.writeError(w, http.StatusInternalServerError, "Internal server error")
		}
		return
	}

	h.writeJSON(w, http.StatusOK, result)
}

// ResetHandler wipes all raffle state and opens a fresh raffle.
func (h *RaffleHandlers) ResetHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Reset(r.Context()); err != nil {
		h.logger.Error("system reset failed", "error", err)
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	h.writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

// writeJSON is a helper for writing JSON responses.
func (h *RaffleHandlers) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		json.NewEncoder(w).Encode(data)
	}
}

// writeError is a helper for writing JSON error responses.
func (h *RaffleHandlers) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
