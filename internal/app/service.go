/**
 * @description
 * This file contains the raffle lifecycle state machine, the core of the
 * raffle-service. The `Service` struct owns the single current raffle and its
 * entry ledger, and drives every transition: registrations into the open
 * raffle, the open -> drawing -> closed draw path, and the administrative
 * reset. The scheduler tick and the admin manual trigger share one code path,
 * so draws behave identically regardless of what fired them.
 *
 * Concurrency contract: one mutex guards {status, ledger, pot} as a unit.
 * A registration is either fully included in a draw snapshot or rejected with
 * ErrRaffleClosed; the weighted sampling and payout math run outside the lock
 * on immutable snapshot data, so registrations never wait on a draw beyond
 * the brief snapshot critical section.
 *
 * @dependencies
 * - context, errors, fmt, log/slog, sync, time: Standard Go libraries.
 * - github.com/google/uuid: For raffle and winner record ids.
 * - internal/domain, internal/draw, internal/store: Models, draw engine, persistence.
 * - pkg/rabbitmq: For publishing draw completion events.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bestwai/raffle-service/internal/domain"
	"github.com/bestwai/raffle-service/internal/draw"
	"github.com/bestwai/raffle-service/internal/store"
	"github.com/bestwai/raffle-service/pkg/rabbitmq"
)

var (
	// ErrRaffleClosed is returned when a registration arrives while the
	// current raffle is not accepting entries.
	ErrRaffleClosed = errors.New("raffle is not accepting entries")
	// ErrDrawInProgress is returned when a draw trigger races an already
	// running draw. The caller should treat it as a no-op.
	ErrDrawInProgress = errors.New("draw already in progress")
	// ErrNoOpenRaffle is returned when a draw trigger finds nothing to draw.
	ErrNoOpenRaffle = errors.New("no open raffle to draw")
	// ErrInvalidEntryCount is returned for non-positive entry purchases.
	ErrInvalidEntryCount = errors.New("entry count must be positive")
)

// Service is the raffle lifecycle state machine.
type Service struct {
	repo     store.Repository
	drawer   *draw.Drawer
	producer rabbitmq.Publisher
	logger   *slog.Logger
	baseURL  string

	// now is swappable so tests can control the clock.
	now func() time.Time

	mu       sync.Mutex
	settings domain.Settings
	current  *domain.Raffle
	ledger   *entryLedger
}

// NewService creates the lifecycle service. `defaults` seeds the raffle
// settings the first time the service ever runs; persisted settings win on
// every later start.
func NewService(repo store.Repository, drawer *draw.Drawer, producer rabbitmq.Publisher, logger *slog.Logger, defaults domain.Settings, baseURL string) *Service {
	return &Service{
		repo:     repo,
		drawer:   drawer,
		producer: producer,
		logger:   logger,
		baseURL:  baseURL,
		now:      time.Now,
		settings: defaults,
		ledger:   newEntryLedger(),
	}
}

// Start recovers state after a restart: it loads persisted settings, adopts
// the existing open raffle (rebuilding its ledger) or opens a fresh one. A
// raffle stuck in the drawing state is reverted to open, because a draw that
// never finalized committed nothing.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	persisted, err := s.repo.LoadSettings(ctx)
	switch {
	case errors.Is(err, store.ErrSettingsNotFound):
		if err := s.settings.Validate(); err != nil {
			return err
		}
		if err := s.repo.SaveSettings(ctx, s.settings); err != nil {
			return fmt.Errorf("persist default settings: %w", err)
		}
	case err != nil:
		return fmt.Errorf("load settings: %w", err)
	default:
		if err := persisted.Validate(); err != nil {
			return err
		}
		s.settings = *persisted
	}

	current, err := s.repo.FindCurrentRaffle(ctx)
	if errors.Is(err, store.ErrRaffleNotFound) {
		return s.openNewRaffleLocked(ctx)
	}
	if err != nil {
		return fmt.Errorf("find current raffle: %w", err)
	}

	if current.Status == domain.RaffleStatusDrawing {
		if err := s.repo.UpdateRaffleStatus(ctx, current.ID, domain.RaffleStatusOpen); err != nil {
			return fmt.Errorf("revert interrupted draw: %w", err)
		}
		current.Status = domain.RaffleStatusOpen
		s.logger.Warn("reverted interrupted draw to open", "raffle_id", current.ID)
	}

	rows, err := s.repo.ListLedgerRows(ctx, current.ID)
	if err != nil {
		return fmt.Errorf("rebuild entry ledger: %w", err)
	}
	s.ledger.reset()
	for _, row := range rows {
		s.ledger.add(row.ParticipantID, row.TokenID, row.Weight)
	}
	s.current = current
	s.logger.Info("adopted existing raffle", "raffle_id", current.ID, "pot", current.TotalPot, "entrants", s.ledger.size())
	return nil
}

// openNewRaffleLocked creates and persists a fresh open raffle. The caller
// holds the lifecycle lock. The draw interval is read here, which is what
// makes an interval change take effect when the next raffle opens rather
// than rescheduling the in-flight countdown.
func (s *Service) openNewRaffleLocked(ctx context.Context) error {
	now := s.now().UTC()
	raffle := &domain.Raffle{
		ID:       uuid.New(),
		Status:   domain.RaffleStatusOpen,
		TotalPot: 0,
		DrawTime: now.Add(s.settings.Interval()),
	}
	if err := s.repo.CreateRaffle(ctx, raffle); err != nil {
		return fmt.Errorf("open new raffle: %w", err)
	}
	s.current = raffle
	s.ledger.reset()
	s.logger.Info("opened new raffle", "raffle_id", raffle.ID, "draw_time", raffle.DrawTime)
	return nil
}

// Register buys weighted entries into the open raffle for a token. The
// balance debit, the entry row and the pot growth land in one database
// transaction; the in-memory ledger mirrors them only after that commits.
func (s *Service) Register(ctx context.Context, tokenID string, entries int64) (*domain.EnterRaffleResponse, error) {
	if entries <= 0 {
		return nil, ErrInvalidEntryCount
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil || s.current.Status != domain.RaffleStatusOpen {
		return nil, ErrRaffleClosed
	}

	participant, err := s.repo.FindParticipantByTokenID(ctx, tokenID)
	if err != nil {
		return nil, err
	}

	cost := entries * s.settings.EntryCost
	outcome, err := s.repo.RegisterEntry(ctx, s.current.ID, participant.ID, entries, cost)
	if err != nil {
		if errors.Is(err, store.ErrRaffleNotOpen) {
			return nil, ErrRaffleClosed
		}
		return nil, err
	}

	s.ledger.add(participant.ID, participant.TokenID, entries)
	s.current.TotalPot = outcome.TotalPot

	return &domain.EnterRaffleResponse{
		TokenID:      participant.TokenID,
		NewBalance:   outcome.NewBalance,
		TotalEntries: outcome.TotalWeight,
		PotSize:      outcome.TotalPot,
	}, nil
}

// TriggerDraw executes the draw for the open raffle. The scheduler tick and
// the admin manual trigger both land here; there is no separate path. A
// second trigger while a draw is running gets ErrDrawInProgress. Any failure
// before the finalizing transaction reverts the raffle to open, so the next
// tick retries without state corruption.
func (s *Service) TriggerDraw(ctx context.Context) (*domain.RaffleResult, error) {
	s.mu.Lock()
	if s.current == nil {
		s.mu.Unlock()
		return nil, ErrNoOpenRaffle
	}
	if s.current.Status == domain.RaffleStatusDrawing {
		s.mu.Unlock()
		return nil, ErrDrawInProgress
	}
	if s.current.Status != domain.RaffleStatusOpen {
		s.mu.Unlock()
		return nil, ErrNoOpenRaffle
	}
	s.current.Status = domain.RaffleStatusDrawing
	raffle := *s.current
	pool := s.ledger.snapshot()
	settings := s.settings
	s.mu.Unlock()

	// From here on, registrations fail with ErrRaffleClosed until the next
	// raffle opens. The snapshot is immutable, so the sampling and payout
	// math below run without the lock.
	if err := s.repo.UpdateRaffleStatus(ctx, raffle.ID, domain.RaffleStatusDrawing); err != nil {
		s.reopen(ctx, raffle.ID, false)
		return nil, fmt.Errorf("mark raffle drawing: %w", err)
	}

	entrants := make([]draw.Entrant, len(pool))
	tokenIDs := make(map[uuid.UUID]string, len(pool))
	for i, row := range pool {
		entrants[i] = draw.Entrant{ID: row.ParticipantID, Weight: row.Weight}
		tokenIDs[row.ParticipantID] = row.TokenID
	}

	winnerIDs := s.drawer.Select(entrants, settings.WinnerCount)
	amounts := draw.ComputePayouts(raffle.TotalPot, settings.HouseEdge, settings.PositionShares, len(winnerIDs))

	drawnAt := s.now().UTC()
	winners := make([]domain.Winner, len(winnerIDs))
	for i, participantID := range winnerIDs {
		winners[i] = domain.Winner{
			ID:            uuid.New(),
			RaffleID:      raffle.ID,
			Position:      i + 1,
			ParticipantID: participantID,
			TokenID:       tokenIDs[participantID],
			Amount:        amounts[i],
			DrawnAt:       drawnAt,
		}
	}

	next := &domain.Raffle{
		ID:       uuid.New(),
		Status:   domain.RaffleStatusOpen,
		TotalPot: 0,
		DrawTime: drawnAt.Add(settings.Interval()),
	}
	if err := s.repo.FinalizeDraw(ctx, raffle.ID, winners, next); err != nil {
		s.reopen(ctx, raffle.ID, true)
		return nil, fmt.Errorf("finalize draw: %w", err)
	}

	// A reset can land between the finalizing transaction and this swap,
	// wiping the drawn raffle and its successor and opening a fresh one.
	// The reset state wins: install the successor only while the drawn
	// raffle is still current.
	s.mu.Lock()
	if s.current != nil && s.current.ID == raffle.ID {
		s.current = next
		s.ledger.reset()
	} else {
		s.logger.Warn("current raffle changed during draw finalization; discarding drawn successor",
			"drawn_raffle_id", raffle.ID,
			"discarded_raffle_id", next.ID,
		)
	}
	s.mu.Unlock()

	raffle.Status = domain.RaffleStatusClosed
	result := &domain.RaffleResult{Raffle: raffle, Winners: winners}

	event := rabbitmq.DrawCompletedEvent{
		RaffleID: raffle.ID,
		TotalPot: raffle.TotalPot,
		DrawnAt:  drawnAt,
		Winners:  make([]rabbitmq.DrawCompletedPrize, len(winners)),
	}
	for i, w := range winners {
		event.Winners[i] = rabbitmq.DrawCompletedPrize{Position: w.Position, TokenID: w.TokenID, Amount: w.Amount}
	}
	if err := s.producer.PublishDrawCompleted(ctx, event); err != nil {
		s.logger.Error("draw completed event publish failed", "raffle_id", raffle.ID, "error", err)
	}

	s.logger.Info("raffle drawn",
		"raffle_id", raffle.ID,
		"pot", raffle.TotalPot,
		"winners", len(winners),
		"next_raffle_id", next.ID,
		"next_draw_time", next.DrawTime,
	)
	return result, nil
}

// reopen reverts a failed draw so the raffle accepts entries again and the
// next tick can retry. The persisted revert runs first: the in-memory status
// still reads drawing until both sides agree, so no concurrent trigger can
// start a draw whose persisted status this lagging write would overwrite.
func (s *Service) reopen(ctx context.Context, raffleID uuid.UUID, persisted bool) {
	if persisted {
		if err := s.repo.UpdateRaffleStatus(ctx, raffleID, domain.RaffleStatusOpen); err != nil {
			s.logger.Error("failed to reopen raffle after aborted draw", "raffle_id", raffleID, "error", err)
		}
	}

	s.mu.Lock()
	if s.current != nil && s.current.ID == raffleID {
		s.current.Status = domain.RaffleStatusOpen
	}
	s.mu.Unlock()
}

// TriggerDrawIfDue fires the draw only once the scheduled draw time has
// passed. It tolerates early, late and duplicate scheduler ticks: a tick
// that loses the race to a concurrent trigger is a silent no-op.
func (s *Service) TriggerDrawIfDue(ctx context.Context) (bool, error) {
	s.mu.Lock()
	due := s.current != nil &&
		s.current.Status == domain.RaffleStatusOpen &&
		!s.now().UTC().Before(s.current.DrawTime)
	s.mu.Unlock()

	if !due {
		return false, nil
	}

	if _, err := s.TriggerDraw(ctx); err != nil {
		if errors.Is(err, ErrDrawInProgress) || errors.Is(err, ErrNoOpenRaffle) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Reset is the administrative escape hatch: it wipes winners, entries,
// raffles and participants, then opens a fresh raffle. Settings survive.
// Calling it twice in a row leaves the same clean open state as once.
func (s *Service) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.repo.ResetAll(ctx); err != nil {
		return fmt.Errorf("reset raffle state: %w", err)
	}
	s.current = nil
	if err := s.openNewRaffleLocked(ctx); err != nil {
		return err
	}
	s.logger.Info("system reset complete", "raffle_id", s.current.ID)
	return nil
}

// CurrentRaffleInfo returns the public view of the raffle in progress.
func (s *Service) CurrentRaffleInfo(ctx context.Context) (*domain.CurrentRaffleInfo, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current == nil {
		return nil, ErrNoOpenRaffle
	}

	rows := s.ledger.snapshot()
	entrants := make([]domain.EntrantInfo, len(rows))
	for i, row := range rows {
		entrants[i] = domain.EntrantInfo{TokenID: row.TokenID, Entries: row.Weight}
	}

	return &domain.CurrentRaffleInfo{
		RaffleID:         s.current.ID,
		Status:           s.current.Status,
		DrawTime:         s.current.DrawTime,
		TotalPot:         s.current.TotalPot,
		ParticipantCount: len(entrants),
		TotalEntries:     s.ledger.totalWeight(),
		Entrants:         entrants,
		EntryCost:        s.settings.EntryCost,
		ServerTime:       s.now().UTC(),
	}, nil
}

// TokenInfo returns the public view of a token: balance, standing in the
// current raffle and all-time winnings.
func (s *Service) TokenInfo(ctx context.Context, tokenID string) (*domain.TokenInfo, error) {
	participant, err := s.repo.FindParticipantByTokenID(ctx, tokenID)
	if err != nil {
		return nil, err
	}
	wins, winnings, err := s.repo.ParticipantWinStats(ctx, participant.ID)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	currentEntries := s.ledger.weightOf(participant.ID)
	s.mu.Unlock()

	return &domain.TokenInfo{
		TokenID:        participant.TokenID,
		Balance:        participant.Balance,
		CurrentEntries: currentEntries,
		TotalWins:      wins,
		TotalWinnings:  winnings,
	}, nil
}

// History returns the most recently drawn raffles with their winners.
func (s *Service) History(ctx context.Context, limit int) ([]domain.RaffleResult, error) {
	return s.repo.ListRaffleHistory(ctx, limit)
}

// LatestWinners returns the result of the most recently closed raffle.
func (s *Service) LatestWinners(ctx context.Context) (*domain.RaffleResult, error) {
	return s.repo.LatestRaffleResult(ctx)
}

// ListTokens returns every participant token (admin view).
func (s *Service) ListTokens(ctx context.Context) ([]domain.Participant, error) {
	return s.repo.ListParticipants(ctx)
}

// SetTokenBalance overrides a token's balance. This is how an admin verifies
// a cash payment at the booth: credit the token, hand it over.
func (s *Service) SetTokenBalance(ctx context.Context, tokenID string, balance int64) (*domain.Participant, error) {
	if balance < 0 {
		return nil, fmt.Errorf("%w: balance must not be negative", domain.ErrInvalidConfiguration)
	}
	return s.repo.SetParticipantBalance(ctx, tokenID, balance)
}

// Settings returns a copy of the current raffle settings.
func (s *Service) Settings() domain.Settings {
	s.mu.Lock()
	defer s.mu.Unlock()
	settings := s.settings
	settings.PositionShares = append([]float64(nil), s.settings.PositionShares...)
	return settings
}

// UpdateSettings validates, persists and applies new raffle settings.
// Entry cost and shares apply to subsequent registrations and draws; a draw
// interval change only affects when the *next* raffle schedules its draw.
// Updates are rejected while a draw is running.
func (s *Service) UpdateSettings(ctx context.Context, settings domain.Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.current != nil && s.current.Status == domain.RaffleStatusDrawing {
		return ErrDrawInProgress
	}
	if err := s.repo.SaveSettings(ctx, settings); err != nil {
		return fmt.Errorf("persist settings: %w", err)
	}
	s.settings = settings
	s.logger.Info("raffle settings updated",
		"entry_cost", settings.EntryCost,
		"draw_interval_minutes", settings.DrawIntervalMinutes,
		"winner_count", settings.WinnerCount,
		"house_edge", settings.HouseEdge,
	)
	return nil
}
