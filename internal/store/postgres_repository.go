/**
 * @description
 * This file provides the PostgreSQL implementation of the `Repository`
 * interface. It contains all the SQL for participants, raffles, entries,
 * winner records and persisted raffle settings.
 *
 * @dependencies
 * - context, encoding/json, errors, fmt: Standard Go libraries.
 * - github.com/jackc/pgx/v5: The PostgreSQL driver for database operations.
 * - internal/domain: Contains the domain models used for data transfer.
 *
 * @notes
 * - Balance mutations lock the participant row with FOR UPDATE so concurrent
 *   entry purchases and payout credits against the same token serialize.
 * - RegisterEntry and FinalizeDraw are multi-statement transactions; they are
 *   the persistence half of the lifecycle's critical sections.
 */

package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bestwai/raffle-service/internal/domain"
)

var (
	ErrParticipantNotFound = errors.New("participant not found")
	ErrDuplicateTokenID    = errors.New("token id already exists")
	ErrRaffleNotFound      = errors.New("raffle not found")
	ErrRaffleNotOpen       = errors.New("raffle is not open")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrSettingsNotFound    = errors.New("raffle settings not persisted")
)

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// PostgresRepository is a concrete implementation of the Repository interface for PostgreSQL.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new instance of PostgresRepository.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// CreateParticipant inserts a freshly minted token.
func (r *PostgresRepository) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	query := `
		INSERT INTO participants (id, token_id, balance, created_at)
		VALUES ($1, $2, $3, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, p.ID, p.TokenID, p.Balance).Scan(&p.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicateTokenID
		}
		return fmt.Errorf("create participant: %w", err)
	}
	return nil
}

// FindParticipantByTokenID retrieves a participant by their token id.
func (r *PostgresRepository) FindParticipantByTokenID(ctx context.Context, tokenID string) (*domain.Participant, error) {
	var p domain.Participant
	query := `SELECT id, token_id, balance, created_at FROM participants WHERE token_id = upper(btrim($1))`
	err := r.db.QueryRow(ctx, query, tokenID).Scan(&p.ID, &p.TokenID, &p.Balance, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ListParticipants returns every token, newest first.
func (r *PostgresRepository) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	query := `SELECT id, token_id, balance, created_at FROM participants ORDER BY created_at DESC`
	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var participants []domain.Participant
	for rows.Next() {
		var p domain.Participant
		if err := rows.Scan(&p.ID, &p.TokenID, &p.Balance, &p.CreatedAt); err != nil {
			return nil, err
		}
		participants = append(participants, p)
	}
	return participants, rows.Err()
}

// SetParticipantBalance overrides a token's balance (admin operation).
func (r *PostgresRepository) SetParticipantBalance(ctx context.Context, tokenID string, balance int64) (*domain.Participant, error) {
	var p domain.Participant
	query := `
		UPDATE participants
		SET balance = $2
		WHERE token_id = upper(btrim($1))
		RETURNING id, token_id, balance, created_at
	`
	err := r.db.QueryRow(ctx, query, tokenID, balance).Scan(&p.ID, &p.TokenID, &p.Balance, &p.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	return &p, nil
}

// ParticipantWinStats returns the all-time win count and total winnings for a participant.
func (r *PostgresRepository) ParticipantWinStats(ctx context.Context, participantID uuid.UUID) (int64, int64, error) {
	var wins, winnings int64
	query := `SELECT COUNT(*), COALESCE(SUM(amount), 0) FROM winners WHERE participant_id = $1`
	if err := r.db.QueryRow(ctx, query, participantID).Scan(&wins, &winnings); err != nil {
		return 0, 0, err
	}
	return wins, winnings, nil
}

// CreateRaffle inserts a new raffle.
func (r *PostgresRepository) CreateRaffle(ctx context.Context, raffle *domain.Raffle) error {
	query := `
		INSERT INTO raffles (id, status, total_pot, draw_time, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		RETURNING created_at
	`
	err := r.db.QueryRow(ctx, query, raffle.ID, raffle.Status, raffle.TotalPot, raffle.DrawTime).Scan(&raffle.CreatedAt)
	if err != nil {
		return fmt.Errorf("create raffle: %w", err)
	}
	return nil
}

// FindCurrentRaffle returns the single raffle that is open or drawing.
func (r *PostgresRepository) FindCurrentRaffle(ctx context.Context) (*domain.Raffle, error) {
	var raffle domain.Raffle
	query := `
		SELECT id, status, total_pot, draw_time, created_at
		FROM raffles
		WHERE status IN ('open', 'drawing')
		ORDER BY created_at DESC
		LIMIT 1
	`
	err := r.db.QueryRow(ctx, query).Scan(&raffle.ID, &raffle.Status, &raffle.TotalPot, &raffle.DrawTime, &raffle.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRaffleNotFound
		}
		return nil, err
	}
	return &raffle, nil
}

// UpdateRaffleStatus moves a raffle to the given status.
func (r *PostgresRepository) UpdateRaffleStatus(ctx context.Context, raffleID uuid.UUID, status domain.RaffleStatus) error {
	result, err := r.db.Exec(ctx, `UPDATE raffles SET status = $1 WHERE id = $2`, status, raffleID)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		return ErrRaffleNotFound
	}
	return nil
}

// ListLedgerRows returns the entry ledger of a raffle, in first-registration order.
func (r *PostgresRepository) ListLedgerRows(ctx context.Context, raffleID uuid.UUID) ([]domain.LedgerRow, error) {
	query := `
		SELECT e.participant_id, p.token_id, e.weight
		FROM entries e
		JOIN participants p ON p.id = e.participant_id
		WHERE e.raffle_id = $1
		ORDER BY e.created_at
	`
	rows, err := r.db.Query(ctx, query, raffleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ledger []domain.LedgerRow
	for rows.Next() {
		var row domain.LedgerRow
		if err := rows.Scan(&row.ParticipantID, &row.TokenID, &row.Weight); err != nil {
			return nil, err
		}
		ledger = append(ledger, row)
	}
	return ledger, rows.Err()
}

// RegisterEntry performs the atomic unit of a registration: debit the
// participant's balance, add weight to their entry row and grow the pot.
func (r *PostgresRepository) RegisterEntry(ctx context.Context, raffleID, participantID uuid.UUID, weight, cost int64) (*domain.RegisterOutcome, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin registration tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Lock the participant row so concurrent purchases and payout credits
	// against the same token serialize.
	var balance int64
	err = tx.QueryRow(ctx, `SELECT balance FROM participants WHERE id = $1 FOR UPDATE`, participantID).Scan(&balance)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrParticipantNotFound
		}
		return nil, err
	}
	if balance < cost {
		return nil, ErrInsufficientBalance
	}

	outcome := domain.RegisterOutcome{NewBalance: balance - cost}
	_, err = tx.Exec(ctx, `UPDATE participants SET balance = balance - $1 WHERE id = $2`, cost, participantID)
	if err != nil {
		return nil, fmt.Errorf("debit balance: %w", err)
	}

	entryQuery := `
		INSERT INTO entries (raffle_id, participant_id, weight, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (raffle_id, participant_id)
		DO UPDATE SET weight = entries.weight + EXCLUDED.weight, updated_at = NOW()
		RETURNING weight
	`
	if err := tx.QueryRow(ctx, entryQuery, raffleID, participantID, weight).Scan(&outcome.TotalWeight); err != nil {
		return nil, fmt.Errorf("upsert entry: %w", err)
	}

	// The status guard is a second line of defense behind the lifecycle lock:
	// a registration can never land in a raffle that already started drawing.
	potQuery := `
		UPDATE raffles
		SET total_pot = total_pot + $1
		WHERE id = $2 AND status = 'open'
		RETURNING total_pot
	`
	if err := tx.QueryRow(ctx, potQuery, cost, raffleID).Scan(&outcome.TotalPot); err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrRaffleNotOpen
		}
		return nil, fmt.Errorf("grow pot: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return &outcome, nil
}

// FinalizeDraw commits a completed draw in one transaction: close the raffle,
// append its winner records in position order, credit winner balances and
// insert the next open raffle.
func (r *PostgresRepository) FinalizeDraw(ctx context.Context, raffleID uuid.UUID, winners []domain.Winner, next *domain.Raffle) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin draw tx: %w", err)
	}
	defer tx.Rollback(ctx)

	closeQuery := `UPDATE raffles SET status = 'closed' WHERE id = $1 AND status = 'drawing'`
	result, err := tx.Exec(ctx, closeQuery, raffleID)
	if err != nil {
		return fmt.Errorf("close raffle: %w", err)
	}
	if result.RowsAffected() == 0 {
		return ErrRaffleNotFound
	}

	winnerQuery := `
		INSERT INTO winners (id, raffle_id, position, participant_id, amount, drawn_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	for _, w := range winners {
		if _, err := tx.Exec(ctx, winnerQuery, w.ID, w.RaffleID, w.Position, w.ParticipantID, w.Amount, w.DrawnAt); err != nil {
			return fmt.Errorf("append winner record for position %d: %w", w.Position, err)
		}
		if _, err := tx.Exec(ctx, `UPDATE participants SET balance = balance + $1 WHERE id = $2`, w.Amount, w.ParticipantID); err != nil {
			return fmt.Errorf("credit winner for position %d: %w", w.Position, err)
		}
	}

	nextQuery := `
		INSERT INTO raffles (id, status, total_pot, draw_time, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`
	if _, err := tx.Exec(ctx, nextQuery, next.ID, next.Status, next.TotalPot, next.DrawTime); err != nil {
		return fmt.Errorf("open next raffle: %w", err)
	}

	return tx.Commit(ctx)
}

// ListRaffleHistory returns the most recently drawn raffles with their
// winners, newest first.
func (r *PostgresRepository) ListRaffleHistory(ctx context.Context, limit int) ([]domain.RaffleResult, error) {
	if limit <= 0 {
		limit = 5
	}
	query := `
		SELECT id, status, total_pot, draw_time, created_at
		FROM raffles
		WHERE status = 'closed'
		ORDER BY draw_time DESC
		LIMIT $1
	`
	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []domain.RaffleResult
	for rows.Next() {
		var raffle domain.Raffle
		if err := rows.Scan(&raffle.ID, &raffle.Status, &raffle.TotalPot, &raffle.DrawTime, &raffle.CreatedAt); err != nil {
			return nil, err
		}
		results = append(results, domain.RaffleResult{Raffle: raffle})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range results {
		winners, err := r.listWinners(ctx, results[i].Raffle.ID)
		if err != nil {
			return nil, err
		}
		results[i].Winners = winners
	}
	return results, nil
}

// LatestRaffleResult returns the most recently closed raffle with its winners.
func (r *PostgresRepository) LatestRaffleResult(ctx context.Context) (*domain.RaffleResult, error) {
	results, err := r.ListRaffleHistory(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, ErrRaffleNotFound
	}
	return &results[0], nil
}

func (r *PostgresRepository) listWinners(ctx context.Context, raffleID uuid.UUID) ([]domain.Winner, error) {
	query := `
		SELECT w.id, w.raffle_id, w.position, w.participant_id, p.token_id, w.amount, w.drawn_at
		FROM winners w
		JOIN participants p ON p.id = w.participant_id
		WHERE w.raffle_id = $1
		ORDER BY w.position
	`
	rows, err := r.db.Query(ctx, query, raffleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var winners []domain.Winner
	for rows.Next() {
		var w domain.Winner
		if err := rows.Scan(&w.ID, &w.RaffleID, &w.Position, &w.ParticipantID, &w.TokenID, &w.Amount, &w.DrawnAt); err != nil {
			return nil, err
		}
		winners = append(winners, w)
	}
	return winners, rows.Err()
}

// LoadSettings reads the persisted raffle settings payload.
func (r *PostgresRepository) LoadSettings(ctx context.Context) (*domain.Settings, error) {
	var payload []byte
	err := r.db.QueryRow(ctx, `SELECT payload FROM raffle_settings WHERE id = 1`).Scan(&payload)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrSettingsNotFound
		}
		return nil, err
	}
	var settings domain.Settings
	if err := json.Unmarshal(payload, &settings); err != nil {
		return nil, fmt.Errorf("decode settings payload: %w", err)
	}
	return &settings, nil
}

// SaveSettings upserts the raffle settings payload.
func (r *PostgresRepository) SaveSettings(ctx context.Context, s domain.Settings) error {
	payload, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode settings payload: %w", err)
	}
	query := `
		INSERT INTO raffle_settings (id, payload, updated_at)
		VALUES (1, $1::jsonb, NOW())
		ON CONFLICT (id) DO UPDATE SET payload = EXCLUDED.payload, updated_at = NOW()
	`
	_, err = r.db.Exec(ctx, query, string(payload))
	return err
}

// ResetAll wipes all raffle state. Settings survive a reset.
func (r *PostgresRepository) ResetAll(ctx context.Context) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin reset tx: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"winners", "entries", "raffles", "participants"} {
		if _, err := tx.Exec(ctx, "DELETE FROM "+table); err != nil {
			return fmt.Errorf("reset %s: %w", table, err)
		}
	}
	return tx.Commit(ctx)
}
