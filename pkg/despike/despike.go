// Package despike removes transient spikes from BOLD series before
// nuisance regression. Each sample is compared against the median of a
// running window; samples further away than a multiple of the scaled
// median absolute deviation are pulled back to that fence.
package despike

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

const (
	// DefaultWindow is the number of frames in the running window.
	DefaultWindow = 11

	// DefaultThreshold is the fence width in scaled MAD units.
	DefaultThreshold = 3.5

	// madScale converts a median absolute deviation into a standard
	// deviation equivalent for normally distributed noise.
	madScale = 1.4826
)

// Series despikes a single time series and returns the cleaned copy
// together with the number of clamped samples. The window is centered
// on each frame and clipped at the series boundaries. NaN samples are
// passed through untouched and excluded from the window statistics;
// windows with fewer than three finite samples leave their center
// frame unchanged.
func Series(x []float64, window int, k float64) ([]float64, int, error) {
	if window < 3 || window%2 == 0 {
		return nil, 0, fmt.Errorf("despike window must be an odd count of at least 3 frames, got %d", window)
	}
	if k <= 0 {
		return nil, 0, fmt.Errorf("despike threshold must be positive, got %g", k)
	}

	out := make([]float64, len(x))
	copy(out, x)

	half := window / 2
	buf := make([]float64, 0, window)
	clamped := 0
	for t := range x {
		if math.IsNaN(x[t]) {
			continue
		}
		lo := t - half
		if lo < 0 {
			lo = 0
		}
		hi := t + half
		if hi > len(x)-1 {
			hi = len(x) - 1
		}
		buf = buf[:0]
		for i := lo; i <= hi; i++ {
			if !math.IsNaN(x[i]) {
				buf = append(buf, x[i])
			}
		}
		if len(buf) < 3 {
			continue
		}

		med := median(buf)
		for i, v := range buf {
			buf[i] = math.Abs(v - med)
		}
		sigma := madScale * median(buf)

		// A zero sigma means a perfectly stable window, so any
		// deviation collapses onto the median itself.
		dev := x[t] - med
		if math.Abs(dev) > k*sigma {
			fence := k * sigma
			if dev < 0 {
				fence = -fence
			}
			out[t] = med + fence
			clamped++
		}
	}
	return out, clamped, nil
}

// Signal despikes every unit series of a units by frames BOLD matrix
// and returns the cleaned matrix together with the total number of
// clamped samples across all units.
func Signal(bold *mat.Dense, window int, k float64) (*mat.Dense, int, error) {
	units, frames := bold.Dims()
	out := mat.NewDense(units, frames, nil)
	total := 0
	for u := 0; u < units; u++ {
		cleaned, n, err := Series(bold.RawRowView(u), window, k)
		if err != nil {
			return nil, 0, err
		}
		out.SetRow(u, cleaned)
		total += n
	}
	return out, total, nil
}

// median sorts buf in place and returns its middle value.
func median(buf []float64) float64 {
	sort.Float64s(buf)
	n := len(buf)
	if n%2 == 1 {
		return buf[n/2]
	}
	return (buf[n/2-1] + buf[n/2]) / 2
}
