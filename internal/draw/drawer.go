/**
 * @description
 * Weighted winner selection for the raffle draw engine. The Drawer picks an
 * ordered sequence of distinct winners from a pool of weighted entrants,
 * sampling without replacement so that a participant's chance at each step is
 * proportional to the entries they bought, and nobody wins twice in the same
 * raffle.
 *
 * @notes
 * - The random source is injected so tests control selection
 *   deterministically; production wires a time-seeded source in cmd/main.go.
 */

package draw

import (
	"math/rand"

	"github.com/google/uuid"
)

// Entrant is one weighted candidate in the draw pool.
type Entrant struct {
	ID     uuid.UUID
	Weight int64
}

// Drawer selects winners with inverse-CDF sampling over cumulative weights.
type Drawer struct {
	rng *rand.Rand
}

// NewDrawer creates a Drawer backed by the given random source.
func NewDrawer(src rand.Source) *Drawer {
	return &Drawer{rng: rand.New(src)}
}

// Select picks up to k distinct winners from the pool, in selection order.
// Each of the k rounds draws one entrant with probability proportional to its
// weight among the entrants still in the pool, then removes it. Entrants with
// non-positive weight are never selectable. An empty (or fully zero-weight)
// pool yields no winners; a pool smaller than k yields every entrant.
func (d *Drawer) Select(pool []Entrant, k int) []uuid.UUID {
	if k <= 0 {
		return nil
	}

	remaining := make([]Entrant, 0, len(pool))
	var total int64
	for _, e := range pool {
		if e.Weight > 0 {
			remaining = append(remaining, e)
			total += e.Weight
		}
	}

	winners := make([]uuid.UUID, 0, k)
	for len(winners) < k && len(remaining) > 0 {
		r := d.rng.Int63n(total)

		idx := 0
		var cumulative int64
		for i := range remaining {
			cumulative += remaining[i].Weight
			if r < cumulative {
				idx = i
				break
			}
		}

		picked := remaining[idx]
		winners = append(winners, picked.ID)
		total -= picked.Weight
		remaining = append(remaining[:idx], remaining[idx+1:]...)
	}
	return winners
}
