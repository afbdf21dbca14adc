/**
 * @description
 * This file defines the core domain models for the raffle-service.
 * These structs represent the main entities and data transfer objects (DTOs)
 * used throughout the service's business logic, database interactions, and API layers.
 *
 * @notes
 * - Token balances, pots and payout amounts are `int64` token units to avoid
 *   floating-point inaccuracies with ledger data.
 * - A participant's weight in a raffle equals the number of entries they bought.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// RaffleStatus represents the lifecycle state of a raffle.
type RaffleStatus string

const (
	RaffleStatusOpen    RaffleStatus = "open"
	RaffleStatusDrawing RaffleStatus = "drawing"
	RaffleStatusClosed  RaffleStatus = "closed"
)

// Participant represents a token holder. The TokenID is the opaque id printed
// on the physical token handed out at the event (e.g. "TKN-A1B2C3").
type Participant struct {
	ID        uuid.UUID `json:"id"`
	TokenID   string    `json:"token_id"`
	Balance   int64     `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

// Raffle represents one draw cycle. Exactly one raffle is ever open or
// drawing; a closed raffle is immutable and lives on only in history.
type Raffle struct {
	ID        uuid.UUID    `json:"id"`
	Status    RaffleStatus `json:"status"`
	TotalPot  int64        `json:"total_pot"`
	DrawTime  time.Time    `json:"draw_time"`
	CreatedAt time.Time    `json:"created_at"`
}

// LedgerRow is one participant's accumulated weight in the current raffle.
type LedgerRow struct {
	ParticipantID uuid.UUID `json:"participant_id"`
	TokenID       string    `json:"token_id"`
	Weight        int64     `json:"weight"`
}

// Winner is one awarded position of a closed raffle. Winner records are
// append-only and created in position order, exactly once per raffle.
type Winner struct {
	ID            uuid.UUID `json:"id"`
	RaffleID      uuid.UUID `json:"raffle_id"`
	Position      int       `json:"position"`
	ParticipantID uuid.UUID `json:"participant_id"`
	TokenID       string    `json:"token_id"`
	Amount        int64     `json:"amount"`
	DrawnAt       time.Time `json:"drawn_at"`
}

// RaffleResult is a closed raffle together with its ordered winner records.
type RaffleResult struct {
	Raffle  Raffle   `json:"raffle"`
	Winners []Winner `json:"winners"`
}

// EnterRaffleRequest is the DTO for entry purchase API requests. Entries is
// a pointer so an absent field (defaults to one entry) stays distinguishable
// from an explicit zero (rejected).
type EnterRaffleRequest struct {
	TokenID string `json:"token_id"`
	Entries *int64 `json:"entries,omitempty"`
}

// EnterRaffleResponse is returned after a successful entry purchase.
type EnterRaffleResponse struct {
	TokenID      string `json:"token_id"`
	NewBalance   int64  `json:"new_balance"`
	TotalEntries int64  `json:"total_entries"`
	PotSize      int64  `json:"pot_size"`
}

// RegisterOutcome reports the state produced by an atomic entry registration.
type RegisterOutcome struct {
	NewBalance  int64
	TotalWeight int64
	TotalPot    int64
}

// TokenInfo is the public view of a participant's token.
type TokenInfo struct {
	TokenID        string `json:"token_id"`
	Balance        int64  `json:"balance"`
	CurrentEntries int64  `json:"current_entries"`
	TotalWins      int64  `json:"total_wins"`
	TotalWinnings  int64  `json:"total_winnings"`
}

// EntrantInfo is one participant's standing in the current raffle, as shown
// on the public display screen.
type EntrantInfo struct {
	TokenID string `json:"token_id"`
	Entries int64  `json:"entries"`
}

// CurrentRaffleInfo is the public view of the raffle currently in progress.
type CurrentRaffleInfo struct {
	RaffleID         uuid.UUID     `json:"raffle_id"`
	Status           RaffleStatus  `json:"status"`
	DrawTime         time.Time     `json:"draw_time"`
	TotalPot         int64         `json:"total_pot"`
	ParticipantCount int           `json:"participant_count"`
	TotalEntries     int64         `json:"total_entries"`
	Entrants         []EntrantInfo `json:"entrants"`
	EntryCost        int64         `json:"entry_cost"`
	ServerTime       time.Time     `json:"server_time"`
}

// GenerateTokensRequest is the admin DTO for minting new tokens.
type GenerateTokensRequest struct {
	Count   int   `json:"count"`
	Balance int64 `json:"balance"`
}

// GeneratedToken describes one freshly minted token. QRContent carries the
// string a QR image would encode; image rendering is left to the admin UI.
type GeneratedToken struct {
	TokenID   string `json:"token_id"`
	Balance   int64  `json:"balance"`
	EntryURL  string `json:"entry_url"`
	QRContent string `json:"qr_code_content"`
}

// SetBalanceRequest is the admin DTO for overriding a token's balance.
type SetBalanceRequest struct {
	Balance int64 `json:"balance"`
}
