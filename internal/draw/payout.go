/**
 * @description
 * Payout computation for closed raffles. The pot is reduced by the house
 * edge, then split across awarded positions by the configured share table.
 *
 * @notes
 * - All arithmetic is integer math: the edge and the shares are quantized to
 *   basis points before multiplying, and every division floors. This keeps
 *   the required payout table exact (pot 1000, edge 10%, shares
 *   40/25/18/10/7 -> 360/225/162/90/63) without float rounding surprises.
 * - Flooring means the rounding remainder stays with the house, as does the
 *   share of any position left unfilled when the pool is smaller than the
 *   configured winner count. Unclaimed shares are never redistributed.
 */

package draw

import "math"

// bpsScale is the basis-point denominator used for all share arithmetic.
const bpsScale = 10_000

func toBasisPoints(fraction float64) int64 {
	return int64(math.Round(fraction * bpsScale))
}

// DistributablePot returns the pot remaining after the house edge.
func DistributablePot(totalPot int64, houseEdge float64) int64 {
	return totalPot * (bpsScale - toBasisPoints(houseEdge)) / bpsScale
}

// ComputePayouts returns one amount per awarded position. `winners` is the
// number of positions actually filled; when it is smaller than the share
// table only the filled positions are paid. A zero pot yields zero amounts
// for every position.
func ComputePayouts(totalPot int64, houseEdge float64, shares []float64, winners int) []int64 {
	if winners <= 0 {
		return nil
	}
	if winners > len(shares) {
		winners = len(shares)
	}

	distributable := DistributablePot(totalPot, houseEdge)
	amounts := make([]int64, winners)
	for i := range amounts {
		amounts[i] = distributable * toBasisPoints(shares[i]) / bpsScale
	}
	return amounts
}
