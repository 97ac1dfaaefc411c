// Package bandpass implements the temporal filters applied to BOLD and
// motion time series: Butterworth low-pass, high-pass and band-pass
// cascades plus a single-notch band-stop. Filters run as cascades of
// second-order sections and are normally applied zero-phase by
// forward-backward filtering. Cutoffs are given in Hz against an
// explicit sampling rate.
package bandpass

import "fmt"

// biquad is one normalized second-order section in direct form II
// transposed. First-order sections leave b2 and a2 at zero.
type biquad struct {
	b0, b1, b2 float64
	a1, a2     float64
}

// run filters x in place, starting from rest.
func (s biquad) run(x []float64) {
	var z1, z2 float64
	for i, xi := range x {
		yi := s.b0*xi + z1
		z1 = s.b1*xi + z2 - s.a1*yi
		z2 = s.b2*xi - s.a2*yi
		x[i] = yi
	}
}

// Filter is a cascade of second-order sections together with the
// design order that sets the reflection padding for zero-phase use.
type Filter struct {
	sections []biquad
	order    int
}

// Order returns the combined design order of the cascade.
func (f *Filter) Order() int {
	return f.order
}

// Apply runs the cascade once in the forward direction and returns the
// filtered series. The input is left untouched.
func (f *Filter) Apply(x []float64) []float64 {
	out := make([]float64, len(x))
	copy(out, x)
	for _, s := range f.sections {
		s.run(out)
	}
	return out
}

// ApplyZeroPhase filters forward and backward so the result carries no
// phase shift. Both ends are extended by odd reflection before
// filtering to suppress edge transients; the extension never exceeds
// the series length.
func (f *Filter) ApplyZeroPhase(x []float64) []float64 {
	n := len(x)
	if n < 2 {
		out := make([]float64, n)
		copy(out, x)
		return out
	}

	pad := 3 * (f.order + 1)
	if pad > n-1 {
		pad = n - 1
	}

	ext := make([]float64, pad+n+pad)
	for i := 0; i < pad; i++ {
		ext[i] = 2*x[0] - x[pad-i]
		ext[pad+n+i] = 2*x[n-1] - x[n-2-i]
	}
	copy(ext[pad:], x)

	for _, s := range f.sections {
		s.run(ext)
	}
	reverse(ext)
	for _, s := range f.sections {
		s.run(ext)
	}
	reverse(ext)

	out := make([]float64, n)
	copy(out, ext[pad:pad+n])
	return out
}

func reverse(x []float64) {
	for i, j := 0, len(x)-1; i < j; i, j = i+1, j-1 {
		x[i], x[j] = x[j], x[i]
	}
}

// checkCutoff validates one corner frequency against the sampling rate.
func checkCutoff(cutoff, rate float64) error {
	if rate <= 0 {
		return fmt.Errorf("sampling rate must be positive, got %v Hz", rate)
	}
	nyquist := rate / 2
	if cutoff <= 0 {
		return fmt.Errorf("cutoff must be positive, got %v Hz", cutoff)
	}
	if cutoff >= nyquist {
		return fmt.Errorf("cutoff %v Hz is at or above the Nyquist frequency %v Hz", cutoff, nyquist)
	}
	return nil
}
