package restingstate

import (
	"fmt"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// ALFF computes the fractional amplitude of low-frequency fluctuations
// for every unit: the periodogram power inside [low, high] Hz divided
// by the total power over all nonzero frequencies. Units without
// variance get NaN.
func ALFF(signal *mat.Dense, tr, low, high float64) ([]float64, error) {
	units, frames := signal.Dims()
	if tr <= 0 {
		return nil, fmt.Errorf("tr must be positive, got %v", tr)
	}
	if frames < 4 {
		return nil, fmt.Errorf("spectral estimation needs at least 4 frames, got %d", frames)
	}
	if low <= 0 || high <= low {
		return nil, fmt.Errorf("invalid frequency band [%v, %v] Hz", low, high)
	}
	rate := 1 / tr
	if high >= rate/2 {
		return nil, fmt.Errorf("band edge %v Hz is at or above the Nyquist frequency %v Hz", high, rate/2)
	}

	fft := fourier.NewFFT(frames)
	coeffs := make([]complex128, frames/2+1)
	out := make([]float64, units)

	for u := 0; u < units; u++ {
		row := signal.RawRowView(u)
		fft.Coefficients(coeffs, row)

		var band, total float64
		for k := 1; k < len(coeffs); k++ {
			power := cmplx.Abs(coeffs[k])
			power *= power
			total += power
			freq := float64(k) * rate / float64(frames)
			if freq >= low && freq <= high {
				band += power
			}
		}

		if total == 0 {
			out[u] = math.NaN()
			continue
		}
		out[u] = band / total
	}
	return out, nil
}
