// Package restingstate computes voxelwise resting-state maps from
// denoised signal: regional homogeneity over spatial neighborhoods and
// the amplitude of low-frequency fluctuations from the periodogram.
package restingstate

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
)

// ReHo computes Kendall's coefficient of concordance over each unit
// together with its spatial neighborhood (26-connected voxels within
// the mask, or mesh-adjacent vertices). Concordance is tie-corrected
// using average ranks. Units whose whole neighborhood is constant get
// zero.
func ReHo(signal *mat.Dense, domain *models.SpatialDomain) ([]float64, error) {
	units, frames := signal.Dims()
	if domain.Units() != units {
		return nil, fmt.Errorf("domain has %d units, signal has %d", domain.Units(), units)
	}
	if frames < 2 {
		return nil, fmt.Errorf("regional homogeneity needs at least 2 frames, got %d", frames)
	}

	// Rank each unit's series once; every unit appears in several
	// neighborhoods.
	ranks := make([][]float64, units)
	ties := make([]float64, units)
	for u := 0; u < units; u++ {
		ranks[u], ties[u] = averageRanks(signal.RawRowView(u))
	}

	out := make([]float64, units)
	for u := 0; u < units; u++ {
		group := append([]int{u}, domain.NeighborsOf(u)...)
		out[u] = concordance(ranks, ties, group, frames)
	}
	return out, nil
}

// concordance evaluates Kendall's W for the given member units.
func concordance(ranks [][]float64, ties []float64, group []int, frames int) float64 {
	m := float64(len(group))
	n := float64(frames)

	var tieSum float64
	rowSums := make([]float64, frames)
	for _, u := range group {
		tieSum += ties[u]
		for t, r := range ranks[u] {
			rowSums[t] += r
		}
	}

	mean := m * (n + 1) / 2
	var s float64
	for _, r := range rowSums {
		d := r - mean
		s += d * d
	}

	denom := m*m*(n*n*n-n) - m*tieSum
	if denom <= 0 {
		return 0
	}
	return 12 * s / denom
}

// averageRanks assigns 1-based ranks to x, averaging within tie
// groups, and returns the ranks with the tie correction term
// sum(g^3 - g) over all tie groups.
func averageRanks(x []float64) ([]float64, float64) {
	n := len(x)
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool { return x[order[a]] < x[order[b]] })

	ranks := make([]float64, n)
	var tieTerm float64
	for i := 0; i < n; {
		j := i
		for j+1 < n && x[order[j+1]] == x[order[i]] {
			j++
		}
		// Positions i..j share the same value; their rank is the mean
		// of the 1-based positions.
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[order[k]] = avg
		}
		if g := float64(j - i + 1); g > 1 {
			tieTerm += g*g*g - g
		}
		i = j + 1
	}
	return ranks, tieTerm
}
