/**
 * @description
 * The in-memory entry ledger for the currently open raffle. It tracks each
 * participant's accumulated weight and hands the lifecycle an immutable
 * snapshot at draw time. The ledger lives and dies with one raffle: it is
 * reset whenever a new raffle opens.
 *
 * @notes
 * - Not safe for concurrent use on its own; every access happens under the
 *   lifecycle lock in service.go.
 */

package app

import (
	"github.com/google/uuid"

	"github.com/bestwai/raffle-service/internal/domain"
)

type entryLedger struct {
	order []uuid.UUID
	rows  map[uuid.UUID]*domain.LedgerRow
}

func newEntryLedger() *entryLedger {
	return &entryLedger{rows: make(map[uuid.UUID]*domain.LedgerRow)}
}

// add accumulates weight for a participant. Weight is additive across
// multiple purchases within one raffle.
func (l *entryLedger) add(participantID uuid.UUID, tokenID string, weight int64) {
	row, ok := l.rows[participantID]
	if !ok {
		row = &domain.LedgerRow{ParticipantID: participantID, TokenID: tokenID}
		l.rows[participantID] = row
		l.order = append(l.order, participantID)
	}
	row.Weight += weight
}

// snapshot returns an immutable copy of the ledger in first-registration
// order. Later mutations of the ledger never leak into a taken snapshot.
func (l *entryLedger) snapshot() []domain.LedgerRow {
	rows := make([]domain.LedgerRow, 0, len(l.order))
	for _, id := range l.order {
		rows = append(rows, *l.rows[id])
	}
	return rows
}

func (l *entryLedger) weightOf(participantID uuid.UUID) int64 {
	if row, ok := l.rows[participantID]; ok {
		return row.Weight
	}
	return 0
}

func (l *entryLedger) totalWeight() int64 {
	var total int64
	for _, row := range l.rows {
		total += row.Weight
	}
	return total
}

func (l *entryLedger) size() int {
	return len(l.order)
}

// reset clears the ledger when a new raffle opens.
func (l *entryLedger) reset() {
	l.order = nil
	l.rows = make(map[uuid.UUID]*domain.LedgerRow)
}
