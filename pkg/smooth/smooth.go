// Package smooth applies Gaussian spatial smoothing to per-unit maps
// and signal matrices. Volume domains use a separable truncated
// Gaussian restricted to the mask with weight renormalization at the
// edges; surface domains approximate the kernel by repeated neighbor
// averaging. NaN units are treated as missing: they contribute nothing
// to their neighbors and stay NaN themselves.
package smooth

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
)

// SigmaFromFWHM converts a kernel width from full width at half
// maximum to the Gaussian standard deviation, both in millimeters.
func SigmaFromFWHM(fwhm float64) float64 {
	return fwhm / (2 * math.Sqrt(2*math.Ln2))
}

// Map smooths one value per unit with the given FWHM in millimeters.
func Map(values []float64, domain *models.SpatialDomain, fwhm float64) ([]float64, error) {
	if fwhm <= 0 {
		return nil, fmt.Errorf("smoothing fwhm must be positive, got %v", fwhm)
	}
	if len(values) != domain.Units() {
		return nil, fmt.Errorf("map has %d units, domain has %d", len(values), domain.Units())
	}

	sigma := SigmaFromFWHM(fwhm)
	if domain.Kind == models.SurfaceDomain {
		return smoothSurface(values, domain, sigma), nil
	}

	out := append([]float64{}, values...)
	for axis := 0; axis < 3; axis++ {
		out = smoothAxis(out, domain, axis, sigma/domain.VoxelSize[axis])
	}
	return out, nil
}

// Signal smooths every frame of a units-by-frames matrix.
func Signal(signal *mat.Dense, domain *models.SpatialDomain, fwhm float64) (*mat.Dense, error) {
	units, frames := signal.Dims()
	if units != domain.Units() {
		return nil, fmt.Errorf("signal has %d units, domain has %d", units, domain.Units())
	}

	out := mat.NewDense(units, frames, nil)
	col := make([]float64, units)
	for f := 0; f < frames; f++ {
		mat.Col(col, f, signal)
		smoothed, err := Map(col, domain, fwhm)
		if err != nil {
			return nil, err
		}
		out.SetCol(f, smoothed)
	}
	return out, nil
}

// smoothAxis runs one separable pass along a grid axis. Weights of
// voxels outside the mask are dropped and the remainder renormalized,
// so the kernel never pulls signal toward the mask edge.
func smoothAxis(values []float64, domain *models.SpatialDomain, axis int, sigmaVox float64) []float64 {
	out := make([]float64, len(values))
	if sigmaVox < 1e-3 {
		copy(out, values)
		return out
	}

	radius := int(math.Ceil(3 * sigmaVox))
	weights := make([]float64, radius+1)
	for d := 0; d <= radius; d++ {
		weights[d] = math.Exp(-float64(d*d) / (2 * sigmaVox * sigmaVox))
	}

	for unit := range values {
		if math.IsNaN(values[unit]) {
			out[unit] = math.NaN()
			continue
		}
		x, y, z := domain.Coordinates(unit)
		var num, den float64
		for d := -radius; d <= radius; d++ {
			nx, ny, nz := x, y, z
			switch axis {
			case 0:
				nx += d
			case 1:
				ny += d
			case 2:
				nz += d
			}
			v := domain.UnitAt(nx, ny, nz)
			if v < 0 || math.IsNaN(values[v]) {
				continue
			}
			w := weights[abs(d)]
			num += w * values[v]
			den += w
		}
		if den == 0 {
			out[unit] = math.NaN()
			continue
		}
		out[unit] = num / den
	}
	return out
}

// smoothSurface approximates the Gaussian by repeated local averaging;
// the iteration count grows with the kernel width.
func smoothSurface(values []float64, domain *models.SpatialDomain, sigma float64) []float64 {
	iterations := int(math.Round(sigma))
	if iterations < 1 {
		iterations = 1
	}

	cur := append([]float64{}, values...)
	next := make([]float64, len(values))
	for it := 0; it < iterations; it++ {
		for i := range cur {
			if math.IsNaN(cur[i]) {
				next[i] = math.NaN()
				continue
			}
			var sum float64
			n := 0
			for _, j := range domain.Neighbors[i] {
				if math.IsNaN(cur[j]) {
					continue
				}
				sum += cur[j]
				n++
			}
			if n == 0 {
				next[i] = cur[i]
				continue
			}
			next[i] = (cur[i] + sum/float64(n)) / 2
		}
		cur, next = next, cur
	}
	return cur
}

func abs(d int) int {
	if d < 0 {
		return -d
	}
	return d
}
