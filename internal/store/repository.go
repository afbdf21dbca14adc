/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access operations required by the raffle-service. Keeping the interface
 * separate from the PostgreSQL implementation decouples the lifecycle logic
 * from the persistence technology and lets tests stub the whole layer.
 *
 * @dependencies
 * - context: Standard Go library.
 * - github.com/google/uuid: For primary keys.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"

	"github.com/google/uuid"

	"github.com/bestwai/raffle-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Participant methods
	CreateParticipant(ctx context.Context, p *domain.Participant) error
	FindParticipantByTokenID(ctx context.Context, tokenID string) (*domain.Participant, error)
	ListParticipants(ctx context.Context) ([]domain.Participant, error)
	SetParticipantBalance(ctx context.Context, tokenID string, balance int64) (*domain.Participant, error)
	ParticipantWinStats(ctx context.Context, participantID uuid.UUID) (wins int64, winnings int64, err error)

	// Raffle and entry methods
	CreateRaffle(ctx context.Context, r *domain.Raffle) error
	FindCurrentRaffle(ctx context.Context) (*domain.Raffle, error)
	UpdateRaffleStatus(ctx context.Context, raffleID uuid.UUID, status domain.RaffleStatus) error
	ListLedgerRows(ctx context.Context, raffleID uuid.UUID) ([]domain.LedgerRow, error)
	// RegisterEntry atomically debits the participant's balance, upserts the
	// entry row and grows the pot. Either all three land or none do.
	RegisterEntry(ctx context.Context, raffleID, participantID uuid.UUID, weight, cost int64) (*domain.RegisterOutcome, error)
	// FinalizeDraw atomically closes the drawn raffle, appends its winner
	// records, credits winner balances and inserts the next open raffle.
	FinalizeDraw(ctx context.Context, raffleID uuid.UUID, winners []domain.Winner, next *domain.Raffle) error

	// History methods
	ListRaffleHistory(ctx context.Context, limit int) ([]domain.RaffleResult, error)
	LatestRaffleResult(ctx context.Context) (*domain.RaffleResult, error)

	// Settings and administration
	LoadSettings(ctx context.Context) (*domain.Settings, error)
	SaveSettings(ctx context.Context, s domain.Settings) error
	// ResetAll wipes winners, entries, raffles and participants. Settings
	// survive a reset.
	ResetAll(ctx context.Context) error
}
