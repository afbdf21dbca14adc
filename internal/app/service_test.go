package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"math/rand"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/bestwai/raffle-service/internal/domain"
	"github.com/bestwai/raffle-service/internal/draw"
	"github.com/bestwai/raffle-service/internal/store"
	"github.com/bestwai/raffle-service/pkg/rabbitmq"
)

// fakeRepo is an in-memory store.Repository for lifecycle tests. The
// statusStarted/statusRelease channels let a test pause a draw inside
// UpdateRaffleStatus to observe the drawing window from another goroutine,
// and finalizeCommitted/finalizeRelease pause it right after FinalizeDraw
// commits. onStatusUpdate fires on every status write.
type fakeRepo struct {
	mu           sync.Mutex
	participants map[uuid.UUID]*domain.Participant
	byToken      map[string]uuid.UUID
	raffles      map[uuid.UUID]*domain.Raffle
	entries      map[uuid.UUID]map[uuid.UUID]*domain.LedgerRow
	entryOrder   map[uuid.UUID][]uuid.UUID
	winners      []domain.Winner
	closedOrder  []uuid.UUID
	settings     *domain.Settings

	finalizeCalls int
	finalizeErr   error

	statusStarted chan struct{}
	statusRelease chan struct{}

	finalizeCommitted chan struct{}
	finalizeRelease   chan struct{}

	onStatusUpdate func(status domain.RaffleStatus)
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		participants: make(map[uuid.UUID]*domain.Participant),
		byToken:      make(map[string]uuid.UUID),
		raffles:      make(map[uuid.UUID]*domain.Raffle),
		entries:      make(map[uuid.UUID]map[uuid.UUID]*domain.LedgerRow),
		entryOrder:   make(map[uuid.UUID][]uuid.UUID),
	}
}

func normalizeToken(tokenID string) string {
	return strings.ToUpper(strings.TrimSpace(tokenID))
}

func (r *fakeRepo) CreateParticipant(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := normalizeToken(p.TokenID)
	if _, exists := r.byToken[key]; exists {
		return store.ErrDuplicateTokenID
	}
	cp := *p
	cp.CreatedAt = time.Now().UTC()
	r.participants[cp.ID] = &cp
	r.byToken[key] = cp.ID
	return nil
}

func (r *fakeRepo) FindParticipantByTokenID(ctx context.Context, tokenID string) (*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byToken[normalizeToken(tokenID)]
	if !ok {
		return nil, store.ErrParticipantNotFound
	}
	cp := *r.participants[id]
	return &cp, nil
}

func (r *fakeRepo) ListParticipants(ctx context.Context) ([]domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, *p)
	}
	return out, nil
}

func (r *fakeRepo) SetParticipantBalance(ctx context.Context, tokenID string, balance int64) (*domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byToken[normalizeToken(tokenID)]
	if !ok {
		return nil, store.ErrParticipantNotFound
	}
	r.participants[id].Balance = balance
	cp := *r.participants[id]
	return &cp, nil
}

func (r *fakeRepo) ParticipantWinStats(ctx context.Context, participantID uuid.UUID) (int64, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var wins, winnings int64
	for _, w := range r.winners {
		if w.ParticipantID == participantID {
			wins++
			winnings += w.Amount
		}
	}
	return wins, winnings, nil
}

func (r *fakeRepo) CreateRaffle(ctx context.Context, raffle *domain.Raffle) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *raffle
	cp.CreatedAt = time.Now().UTC()
	r.raffles[cp.ID] = &cp
	return nil
}

func (r *fakeRepo) FindCurrentRaffle(ctx context.Context) (*domain.Raffle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, raffle := range r.raffles {
		if raffle.Status == domain.RaffleStatusOpen || raffle.Status == domain.RaffleStatusDrawing {
			cp := *raffle
			return &cp, nil
		}
	}
	return nil, store.ErrRaffleNotFound
}

func (r *fakeRepo) UpdateRaffleStatus(ctx context.Context, raffleID uuid.UUID, status domain.RaffleStatus) error {
	if r.onStatusUpdate != nil {
		r.onStatusUpdate(status)
	}
	if status == domain.RaffleStatusDrawing && r.statusStarted != nil {
		r.statusStarted <- struct{}{}
		<-r.statusRelease
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	raffle, ok := r.raffles[raffleID]
	if !ok {
		return store.ErrRaffleNotFound
	}
	raffle.Status = status
	return nil
}

func (r *fakeRepo) ListLedgerRows(ctx context.Context, raffleID uuid.UUID) ([]domain.LedgerRow, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var rows []domain.LedgerRow
	for _, pid := range r.entryOrder[raffleID] {
		rows = append(rows, *r.entries[raffleID][pid])
	}
	return rows, nil
}

func (r *fakeRepo) RegisterEntry(ctx context.Context, raffleID, participantID uuid.UUID, weight, cost int64) (*domain.RegisterOutcome, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	raffle, ok := r.raffles[raffleID]
	if !ok || raffle.Status != domain.RaffleStatusOpen {
		return nil, store.ErrRaffleNotOpen
	}
	participant, ok := r.participants[participantID]
	if !ok {
		return nil, store.ErrParticipantNotFound
	}
	if participant.Balance < cost {
		return nil, store.ErrInsufficientBalance
	}
	participant.Balance -= cost

	if r.entries[raffleID] == nil {
		r.entries[raffleID] = make(map[uuid.UUID]*domain.LedgerRow)
	}
	row, ok := r.entries[raffleID][participantID]
	if !ok {
		row = &domain.LedgerRow{ParticipantID: participantID, TokenID: participant.TokenID}
		r.entries[raffleID][participantID] = row
		r.entryOrder[raffleID] = append(r.entryOrder[raffleID], participantID)
	}
	row.Weight += weight
	raffle.TotalPot += cost

	return &domain.RegisterOutcome{
		NewBalance:  participant.Balance,
		TotalWeight: row.Weight,
		TotalPot:    raffle.TotalPot,
	}, nil
}

func (r *fakeRepo) FinalizeDraw(ctx context.Context, raffleID uuid.UUID, winners []domain.Winner, next *domain.Raffle) error {
	r.mu.Lock()
	r.finalizeCalls++
	if r.finalizeErr != nil {
		r.mu.Unlock()
		return r.finalizeErr
	}
	raffle, ok := r.raffles[raffleID]
	if !ok {
		r.mu.Unlock()
		return store.ErrRaffleNotFound
	}
	raffle.Status = domain.RaffleStatusClosed
	for _, w := range winners {
		r.winners = append(r.winners, w)
		if p, ok := r.participants[w.ParticipantID]; ok {
			p.Balance += w.Amount
		}
	}
	r.closedOrder = append(r.closedOrder, raffleID)
	cp := *next
	r.raffles[cp.ID] = &cp
	r.mu.Unlock()

	// Pause after the commit so a test can act in the window before the
	// caller swaps its in-memory state.
	if r.finalizeCommitted != nil {
		r.finalizeCommitted <- struct{}{}
		<-r.finalizeRelease
	}
	return nil
}

func (r *fakeRepo) ListRaffleHistory(ctx context.Context, limit int) ([]domain.RaffleResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var results []domain.RaffleResult
	for i := len(r.closedOrder) - 1; i >= 0 && len(results) < limit; i-- {
		id := r.closedOrder[i]
		result := domain.RaffleResult{Raffle: *r.raffles[id]}
		for _, w := range r.winners {
			if w.RaffleID == id {
				result.Winners = append(result.Winners, w)
			}
		}
		results = append(results, result)
	}
	return results, nil
}

func (r *fakeRepo) LatestRaffleResult(ctx context.Context) (*domain.RaffleResult, error) {
	results, err := r.ListRaffleHistory(ctx, 1)
	if err != nil {
		return nil, err
	}
	if len(results) == 0 {
		return nil, store.ErrRaffleNotFound
	}
	return &results[0], nil
}

func (r *fakeRepo) LoadSettings(ctx context.Context) (*domain.Settings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.settings == nil {
		return nil, store.ErrSettingsNotFound
	}
	cp := *r.settings
	cp.PositionShares = append([]float64(nil), r.settings.PositionShares...)
	return &cp, nil
}

func (r *fakeRepo) SaveSettings(ctx context.Context, s domain.Settings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := s
	cp.PositionShares = append([]float64(nil), s.PositionShares...)
	r.settings = &cp
	return nil
}

func (r *fakeRepo) ResetAll(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.participants = make(map[uuid.UUID]*domain.Participant)
	r.byToken = make(map[string]uuid.UUID)
	r.raffles = make(map[uuid.UUID]*domain.Raffle)
	r.entries = make(map[uuid.UUID]map[uuid.UUID]*domain.LedgerRow)
	r.entryOrder = make(map[uuid.UUID][]uuid.UUID)
	r.winners = nil
	r.closedOrder = nil
	return nil
}

type fakePublisher struct {
	mu     sync.Mutex
	events []rabbitmq.DrawCompletedEvent
}

func (p *fakePublisher) Publish(ctx context.Context, exchange, routingKey string, body interface{}) error {
	return nil
}

func (p *fakePublisher) PublishDrawCompleted(ctx context.Context, event rabbitmq.DrawCompletedEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *fakePublisher) Close() {}

func (p *fakePublisher) published() []rabbitmq.DrawCompletedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]rabbitmq.DrawCompletedEvent(nil), p.events...)
}

func newTestService(repo store.Repository, publisher rabbitmq.Publisher) *Service {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	drawer := draw.NewDrawer(rand.NewSource(1))
	return NewService(repo, drawer, publisher, logger, domain.DefaultSettings(), "http://localhost:8080")
}

func addParticipant(t *testing.T, repo *fakeRepo, tokenID string, balance int64) *domain.Participant {
	t.Helper()
	p := &domain.Participant{ID: uuid.New(), TokenID: tokenID, Balance: balance}
	if err := repo.CreateParticipant(context.Background(), p); err != nil {
		t.Fatalf("create participant %s: %v", tokenID, err)
	}
	return p
}

func startService(t *testing.T, svc *Service) {
	t.Helper()
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("start service: %v", err)
	}
}

func TestStartOpensFirstRaffle(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)

	info, err := svc.CurrentRaffleInfo(context.Background())
	if err != nil {
		t.Fatalf("current raffle info: %v", err)
	}
	if info.Status != domain.RaffleStatusOpen {
		t.Errorf("status = %s, want open", info.Status)
	}
	if info.TotalPot != 0 || info.TotalEntries != 0 {
		t.Errorf("fresh raffle has pot %d entries %d, want 0/0", info.TotalPot, info.TotalEntries)
	}
	if repo.settings == nil {
		t.Error("default settings were not persisted")
	}
}

func TestStartAdoptsExistingRaffle(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()

	boot := newTestService(repo, &fakePublisher{})
	startService(t, boot)
	p := addParticipant(t, repo, "TKN-ADOPT1", 100)
	if _, err := boot.Register(ctx, p.TokenID, 4); err != nil {
		t.Fatalf("register: %v", err)
	}

	// A second service instance simulates a process restart.
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)

	info, err := svc.CurrentRaffleInfo(ctx)
	if err != nil {
		t.Fatalf("current raffle info: %v", err)
	}
	if info.TotalEntries != 4 {
		t.Errorf("rebuilt ledger has %d entries, want 4", info.TotalEntries)
	}
	if info.TotalPot != 40 {
		t.Errorf("adopted pot = %d, want 40", info.TotalPot)
	}
}

func TestStartRevertsInterruptedDraw(t *testing.T) {
	repo := newFakeRepo()
	ctx := context.Background()
	if err := repo.SaveSettings(ctx, domain.DefaultSettings()); err != nil {
		t.Fatalf("save settings: %v", err)
	}
	stuck := &domain.Raffle{ID: uuid.New(), Status: domain.RaffleStatusDrawing, DrawTime: time.Now().UTC()}
	if err := repo.CreateRaffle(ctx, stuck); err != nil {
		t.Fatalf("create raffle: %v", err)
	}

	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)

	info, err := svc.CurrentRaffleInfo(ctx)
	if err != nil {
		t.Fatalf("current raffle info: %v", err)
	}
	if info.RaffleID != stuck.ID {
		t.Fatalf("adopted raffle %s, want %s", info.RaffleID, stuck.ID)
	}
	if info.Status != domain.RaffleStatusOpen {
		t.Errorf("status = %s, want open after revert", info.Status)
	}
	if repo.raffles[stuck.ID].Status != domain.RaffleStatusOpen {
		t.Error("revert was not persisted")
	}
}

func TestRegisterDebitsBalanceAndGrowsPot(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()
	p := addParticipant(t, repo, "TKN-REG001", 100)

	resp, err := svc.Register(ctx, p.TokenID, 3)
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if resp.NewBalance != 70 {
		t.Errorf("new balance = %d, want 70", resp.NewBalance)
	}
	if resp.TotalEntries != 3 {
		t.Errorf("total entries = %d, want 3", resp.TotalEntries)
	}
	if resp.PotSize != 30 {
		t.Errorf("pot = %d, want 30", resp.PotSize)
	}

	// A second purchase accumulates weight instead of replacing it.
	resp, err = svc.Register(ctx, p.TokenID, 2)
	if err != nil {
		t.Fatalf("second register: %v", err)
	}
	if resp.NewBalance != 50 || resp.TotalEntries != 5 || resp.PotSize != 50 {
		t.Errorf("got balance=%d entries=%d pot=%d, want 50/5/50", resp.NewBalance, resp.TotalEntries, resp.PotSize)
	}
}

func TestRegisterInsufficientBalance(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	p := addParticipant(t, repo, "TKN-POOR01", 5)

	_, err := svc.Register(context.Background(), p.TokenID, 1)
	if !errors.Is(err, store.ErrInsufficientBalance) {
		t.Fatalf("err = %v, want ErrInsufficientBalance", err)
	}
	got, _ := repo.FindParticipantByTokenID(context.Background(), p.TokenID)
	if got.Balance != 5 {
		t.Errorf("balance changed to %d on rejected entry", got.Balance)
	}
}

func TestRegisterRejectsNonPositiveEntries(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	addParticipant(t, repo, "TKN-ZERO01", 100)

	for _, entries := range []int64{0, -1} {
		if _, err := svc.Register(context.Background(), "TKN-ZERO01", entries); !errors.Is(err, ErrInvalidEntryCount) {
			t.Errorf("entries=%d: err = %v, want ErrInvalidEntryCount", entries, err)
		}
	}
}

func TestRegisterUnknownToken(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)

	_, err := svc.Register(context.Background(), "TKN-MISSING", 1)
	if !errors.Is(err, store.ErrParticipantNotFound) {
		t.Fatalf("err = %v, want ErrParticipantNotFound", err)
	}
}

func TestTriggerDrawProducesWinnersAndPayouts(t *testing.T) {
	repo := newFakeRepo()
	publisher := &fakePublisher{}
	svc := newTestService(repo, publisher)
	startService(t, svc)
	ctx := context.Background()

	weights := map[string]int64{"TKN-DRAW01": 40, "TKN-DRAW02": 30, "TKN-DRAW03": 20, "TKN-DRAW04": 10}
	for tokenID, w := range weights {
		p := addParticipant(t, repo, tokenID, 1000)
		if _, err := svc.Register(ctx, p.TokenID, w); err != nil {
			t.Fatalf("register %s: %v", tokenID, err)
		}
	}

	before, _ := svc.CurrentRaffleInfo(ctx)
	result, err := svc.TriggerDraw(ctx)
	if err != nil {
		t.Fatalf("trigger draw: %v", err)
	}

	// Four entrants cap the five-position table at four winners.
	if len(result.Winners) != 4 {
		t.Fatalf("got %d winners, want 4", len(result.Winners))
	}
	wantAmounts := []int64{360, 225, 162, 90}
	seen := make(map[string]bool)
	for i, w := range result.Winners {
		if w.Position != i+1 {
			t.Errorf("winner %d has position %d", i, w.Position)
		}
		if w.Amount != wantAmounts[i] {
			t.Errorf("position %d amount = %d, want %d", w.Position, w.Amount, wantAmounts[i])
		}
		if seen[w.TokenID] {
			t.Errorf("token %s won twice", w.TokenID)
		}
		seen[w.TokenID] = true
		// Each winner's balance carries the credited prize.
		p, _ := repo.FindParticipantByTokenID(ctx, w.TokenID)
		wantBalance := 1000 - weights[w.TokenID]*10 + w.Amount
		if p.Balance != wantBalance {
			t.Errorf("winner %s balance = %d, want %d", w.TokenID, p.Balance, wantBalance)
		}
	}
	if result.Raffle.Status != domain.RaffleStatusClosed {
		t.Errorf("drawn raffle status = %s, want closed", result.Raffle.Status)
	}

	after, err := svc.CurrentRaffleInfo(ctx)
	if err != nil {
		t.Fatalf("current raffle info after draw: %v", err)
	}
	if after.RaffleID == before.RaffleID {
		t.Error("no new raffle opened after draw")
	}
	if after.TotalPot != 0 || after.TotalEntries != 0 {
		t.Errorf("next raffle starts with pot %d entries %d", after.TotalPot, after.TotalEntries)
	}

	events := publisher.published()
	if len(events) != 1 {
		t.Fatalf("published %d events, want 1", len(events))
	}
	if events[0].RaffleID != before.RaffleID || len(events[0].Winners) != 4 {
		t.Errorf("event carries raffle %s with %d winners", events[0].RaffleID, len(events[0].Winners))
	}
}

func TestTriggerDrawEmptyPool(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()

	result, err := svc.TriggerDraw(ctx)
	if err != nil {
		t.Fatalf("trigger draw: %v", err)
	}
	if len(result.Winners) != 0 {
		t.Errorf("empty pool produced %d winners", len(result.Winners))
	}
	if result.Raffle.Status != domain.RaffleStatusClosed {
		t.Errorf("status = %s, want closed", result.Raffle.Status)
	}
	if _, err := svc.CurrentRaffleInfo(ctx); err != nil {
		t.Errorf("no open raffle after empty draw: %v", err)
	}
}

func TestConcurrentTriggerRejected(t *testing.T) {
	repo := newFakeRepo()
	repo.statusStarted = make(chan struct{})
	repo.statusRelease = make(chan struct{})
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()

	p := addParticipant(t, repo, "TKN-RACE01", 100)
	if _, err := svc.Register(ctx, p.TokenID, 2); err != nil {
		t.Fatalf("register: %v", err)
	}

	firstErr := make(chan error, 1)
	go func() {
		_, err := svc.TriggerDraw(ctx)
		firstErr <- err
	}()

	<-repo.statusStarted
	if _, err := svc.TriggerDraw(ctx); !errors.Is(err, ErrDrawInProgress) {
		t.Errorf("second trigger err = %v, want ErrDrawInProgress", err)
	}
	if _, err := svc.Register(ctx, p.TokenID, 1); !errors.Is(err, ErrRaffleClosed) {
		t.Errorf("register during draw err = %v, want ErrRaffleClosed", err)
	}
	close(repo.statusRelease)

	if err := <-firstErr; err != nil {
		t.Fatalf("first trigger: %v", err)
	}
	if repo.finalizeCalls != 1 {
		t.Errorf("finalize ran %d times, want exactly 1", repo.finalizeCalls)
	}
}

func TestTriggerDrawFinalizeFailureReopens(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()
	p := addParticipant(t, repo, "TKN-FAIL01", 100)
	if _, err := svc.Register(ctx, p.TokenID, 2); err != nil {
		t.Fatalf("register: %v", err)
	}

	repo.finalizeErr = errors.New("storage down")
	if _, err := svc.TriggerDraw(ctx); err == nil {
		t.Fatal("expected error from failed finalize")
	}

	// The raffle reopened, so entries are accepted again and a retry draws.
	repo.finalizeErr = nil
	if _, err := svc.Register(ctx, p.TokenID, 1); err != nil {
		t.Fatalf("register after aborted draw: %v", err)
	}
	result, err := svc.TriggerDraw(ctx)
	if err != nil {
		t.Fatalf("retry draw: %v", err)
	}
	if len(result.Winners) != 1 {
		t.Errorf("retry produced %d winners, want 1", len(result.Winners))
	}
}

func TestAbortedDrawPersistsReopenBeforeReleasingState(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()
	p := addParticipant(t, repo, "TKN-ABRT01", 100)
	if _, err := svc.Register(ctx, p.TokenID, 2); err != nil {
		t.Fatalf("register: %v", err)
	}
	info, err := svc.CurrentRaffleInfo(ctx)
	if err != nil {
		t.Fatalf("current raffle info: %v", err)
	}

	// While the reopen write is still in flight the in-memory status must
	// keep reading drawing, so no new draw can start a persisted status
	// write that the lagging reopen would overwrite.
	repo.finalizeErr = errors.New("storage down")
	var duringRevert error
	reverted := false
	repo.onStatusUpdate = func(status domain.RaffleStatus) {
		if status != domain.RaffleStatusOpen || reverted {
			return
		}
		reverted = true
		_, duringRevert = svc.TriggerDraw(ctx)
	}

	if _, err := svc.TriggerDraw(ctx); err == nil {
		t.Fatal("expected error from failed finalize")
	}
	if !reverted {
		t.Fatal("reopen was never persisted")
	}
	if !errors.Is(duringRevert, ErrDrawInProgress) {
		t.Errorf("trigger during revert err = %v, want ErrDrawInProgress", duringRevert)
	}
	if got := repo.raffles[info.RaffleID].Status; got != domain.RaffleStatusOpen {
		t.Errorf("persisted status = %s after aborted draw, want open", got)
	}
	if _, err := svc.Register(ctx, p.TokenID, 1); err != nil {
		t.Errorf("register after aborted draw: %v", err)
	}
}

func TestTriggerDrawIfDue(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	base := time.Date(2026, 8, 23, 18, 0, 0, 0, time.UTC)
	clock := base
	svc.now = func() time.Time { return clock }
	startService(t, svc)
	ctx := context.Background()

	fired, err := svc.TriggerDrawIfDue(ctx)
	if err != nil || fired {
		t.Fatalf("premature tick: fired=%v err=%v", fired, err)
	}

	clock = base.Add(61 * time.Minute)
	fired, err = svc.TriggerDrawIfDue(ctx)
	if err != nil {
		t.Fatalf("due tick: %v", err)
	}
	if !fired {
		t.Fatal("due tick did not fire the draw")
	}

	// The next raffle is scheduled an interval out, so an immediate
	// duplicate tick is a no-op.
	fired, err = svc.TriggerDrawIfDue(ctx)
	if err != nil || fired {
		t.Fatalf("duplicate tick: fired=%v err=%v", fired, err)
	}

	info, _ := svc.CurrentRaffleInfo(ctx)
	if want := clock.Add(60 * time.Minute); !info.DrawTime.Equal(want) {
		t.Errorf("next draw time = %v, want %v", info.DrawTime, want)
	}
}

func TestResetWipesStateButKeepsSettings(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()

	custom := domain.DefaultSettings()
	custom.EntryCost = 25
	if err := svc.UpdateSettings(ctx, custom); err != nil {
		t.Fatalf("update settings: %v", err)
	}
	p := addParticipant(t, repo, "TKN-RST001", 100)
	if _, err := svc.Register(ctx, p.TokenID, 2); err != nil {
		t.Fatalf("register: %v", err)
	}

	if err := svc.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if _, err := repo.FindParticipantByTokenID(ctx, p.TokenID); !errors.Is(err, store.ErrParticipantNotFound) {
		t.Errorf("participant survived reset: %v", err)
	}
	info, err := svc.CurrentRaffleInfo(ctx)
	if err != nil {
		t.Fatalf("current raffle info: %v", err)
	}
	if info.TotalPot != 0 || info.TotalEntries != 0 || info.Status != domain.RaffleStatusOpen {
		t.Errorf("reset left pot=%d entries=%d status=%s", info.TotalPot, info.TotalEntries, info.Status)
	}
	if got := svc.Settings(); got.EntryCost != 25 {
		t.Errorf("entry cost = %d after reset, want 25", got.EntryCost)
	}

	// Resetting an already clean system is allowed.
	if err := svc.Reset(ctx); err != nil {
		t.Fatalf("second reset: %v", err)
	}
}

func TestResetDuringDrawFinalizationKeepsResetRaffle(t *testing.T) {
	repo := newFakeRepo()
	repo.finalizeCommitted = make(chan struct{})
	repo.finalizeRelease = make(chan struct{})
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()
	p := addParticipant(t, repo, "TKN-RSD001", 100)
	if _, err := svc.Register(ctx, p.TokenID, 2); err != nil {
		t.Fatalf("register: %v", err)
	}

	drawDone := make(chan error, 1)
	go func() {
		_, err := svc.TriggerDraw(ctx)
		drawDone <- err
	}()

	// Reset lands after the finalizing transaction committed but before the
	// draw installs its successor raffle. The reset state must win.
	<-repo.finalizeCommitted
	if err := svc.Reset(ctx); err != nil {
		t.Fatalf("reset: %v", err)
	}
	fresh, err := svc.CurrentRaffleInfo(ctx)
	if err != nil {
		t.Fatalf("current raffle info after reset: %v", err)
	}
	close(repo.finalizeRelease)
	if err := <-drawDone; err != nil {
		t.Fatalf("draw: %v", err)
	}

	info, err := svc.CurrentRaffleInfo(ctx)
	if err != nil {
		t.Fatalf("current raffle info: %v", err)
	}
	if info.RaffleID != fresh.RaffleID {
		t.Fatalf("current raffle = %s, want the reset raffle %s", info.RaffleID, fresh.RaffleID)
	}
	if _, ok := repo.raffles[info.RaffleID]; !ok {
		t.Fatal("current raffle is not in the store")
	}
	np := addParticipant(t, repo, "TKN-RSD002", 100)
	if _, err := svc.Register(ctx, np.TokenID, 1); err != nil {
		t.Errorf("register after reset: %v", err)
	}
}

func TestUpdateSettingsValidation(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)

	bad := domain.DefaultSettings()
	bad.WinnerCount = 3 // shares table still has five positions
	if err := svc.UpdateSettings(context.Background(), bad); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
}

func TestUpdateSettingsIntervalAffectsNextRaffleOnly(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	base := time.Date(2026, 8, 23, 18, 0, 0, 0, time.UTC)
	clock := base
	svc.now = func() time.Time { return clock }
	startService(t, svc)
	ctx := context.Background()

	updated := domain.DefaultSettings()
	updated.DrawIntervalMinutes = 5
	if err := svc.UpdateSettings(ctx, updated); err != nil {
		t.Fatalf("update settings: %v", err)
	}

	info, _ := svc.CurrentRaffleInfo(ctx)
	if want := base.Add(60 * time.Minute); !info.DrawTime.Equal(want) {
		t.Errorf("in-flight countdown moved to %v, want %v", info.DrawTime, want)
	}

	clock = base.Add(61 * time.Minute)
	if _, err := svc.TriggerDraw(ctx); err != nil {
		t.Fatalf("trigger draw: %v", err)
	}
	info, _ = svc.CurrentRaffleInfo(ctx)
	if want := clock.Add(5 * time.Minute); !info.DrawTime.Equal(want) {
		t.Errorf("next draw time = %v, want %v", info.DrawTime, want)
	}
}

func TestUpdateSettingsRejectedWhileDrawing(t *testing.T) {
	repo := newFakeRepo()
	repo.statusStarted = make(chan struct{})
	repo.statusRelease = make(chan struct{})
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := svc.TriggerDraw(ctx)
		done <- err
	}()

	<-repo.statusStarted
	if err := svc.UpdateSettings(ctx, domain.DefaultSettings()); !errors.Is(err, ErrDrawInProgress) {
		t.Errorf("err = %v, want ErrDrawInProgress", err)
	}
	close(repo.statusRelease)
	if err := <-done; err != nil {
		t.Fatalf("draw: %v", err)
	}
}

func TestSetTokenBalanceRejectsNegative(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	addParticipant(t, repo, "TKN-NEG001", 100)

	if _, err := svc.SetTokenBalance(context.Background(), "TKN-NEG001", -1); !errors.Is(err, domain.ErrInvalidConfiguration) {
		t.Fatalf("err = %v, want ErrInvalidConfiguration", err)
	}
}

func TestTokenInfoReflectsWinsAndCurrentEntries(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()
	p := addParticipant(t, repo, "TKN-INFO01", 1000)

	if _, err := svc.Register(ctx, p.TokenID, 10); err != nil {
		t.Fatalf("register: %v", err)
	}
	if _, err := svc.TriggerDraw(ctx); err != nil {
		t.Fatalf("trigger draw: %v", err)
	}

	// Sole entrant: pot 100, distributable 90, first position pays 36.
	info, err := svc.TokenInfo(ctx, p.TokenID)
	if err != nil {
		t.Fatalf("token info: %v", err)
	}
	if info.TotalWins != 1 {
		t.Errorf("total wins = %d, want 1", info.TotalWins)
	}
	if info.TotalWinnings != 36 {
		t.Errorf("total winnings = %d, want 36", info.TotalWinnings)
	}
	if info.Balance != 936 {
		t.Errorf("balance = %d, want 936", info.Balance)
	}
	if info.CurrentEntries != 0 {
		t.Errorf("current entries = %d after draw, want 0", info.CurrentEntries)
	}
}

func TestHistoryAndLatestWinners(t *testing.T) {
	repo := newFakeRepo()
	svc := newTestService(repo, &fakePublisher{})
	startService(t, svc)
	ctx := context.Background()
	p := addParticipant(t, repo, "TKN-HIST01", 10000)

	var lastDrawn uuid.UUID
	for i := 0; i < 3; i++ {
		if _, err := svc.Register(ctx, p.TokenID, 5); err != nil {
			t.Fatalf("register round %d: %v", i, err)
		}
		result, err := svc.TriggerDraw(ctx)
		if err != nil {
			t.Fatalf("draw round %d: %v", i, err)
		}
		lastDrawn = result.Raffle.ID
	}

	history, err := svc.History(ctx, 2)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("history length = %d, want 2", len(history))
	}
	if history[0].Raffle.ID != lastDrawn {
		t.Errorf("history is not newest-first")
	}

	latest, err := svc.LatestWinners(ctx)
	if err != nil {
		t.Fatalf("latest winners: %v", err)
	}
	if latest.Raffle.ID != lastDrawn {
		t.Errorf("latest result raffle = %s, want %s", latest.Raffle.ID, lastDrawn)
	}
	if len(latest.Winners) != 1 {
		t.Errorf("latest result has %d winners, want 1", len(latest.Winners))
	}
}
