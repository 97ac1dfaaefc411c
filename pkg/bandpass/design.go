package bandpass

import (
	"fmt"
	"math"
)

// LowPass designs a Butterworth low-pass filter of the given order via
// the bilinear transform with frequency prewarping.
func LowPass(cutoff, rate float64, order int) (*Filter, error) {
	if err := checkCutoff(cutoff, rate); err != nil {
		return nil, err
	}
	if order <= 0 {
		return nil, fmt.Errorf("filter order must be positive, got %d", order)
	}

	k := math.Tan(math.Pi * cutoff / rate)
	f := &Filter{order: order}
	for p := 1; p <= order/2; p++ {
		// Pole pair p of the Butterworth prototype, s^2 + s/q + 1.
		q := 1 / (2 * math.Sin(float64(2*p-1)*math.Pi/float64(2*order)))
		norm := 1 / (1 + k/q + k*k)
		b0 := k * k * norm
		f.sections = append(f.sections, biquad{
			b0: b0,
			b1: 2 * b0,
			b2: b0,
			a1: 2 * (k*k - 1) * norm,
			a2: (1 - k/q + k*k) * norm,
		})
	}
	if order%2 == 1 {
		// Remaining real pole, s + 1.
		norm := 1 / (k + 1)
		f.sections = append(f.sections, biquad{
			b0: k * norm,
			b1: k * norm,
			a1: (k - 1) * norm,
		})
	}
	return f, nil
}

// HighPass designs a Butterworth high-pass filter of the given order.
func HighPass(cutoff, rate float64, order int) (*Filter, error) {
	if err := checkCutoff(cutoff, rate); err != nil {
		return nil, err
	}
	if order <= 0 {
		return nil, fmt.Errorf("filter order must be positive, got %d", order)
	}

	k := math.Tan(math.Pi * cutoff / rate)
	f := &Filter{order: order}
	for p := 1; p <= order/2; p++ {
		q := 1 / (2 * math.Sin(float64(2*p-1)*math.Pi/float64(2*order)))
		norm := 1 / (1 + k/q + k*k)
		f.sections = append(f.sections, biquad{
			b0: norm,
			b1: -2 * norm,
			b2: norm,
			a1: 2 * (k*k - 1) * norm,
			a2: (1 - k/q + k*k) * norm,
		})
	}
	if order%2 == 1 {
		norm := 1 / (k + 1)
		f.sections = append(f.sections, biquad{
			b0: norm,
			b1: -norm,
			a1: (k - 1) * norm,
		})
	}
	return f, nil
}

// BandPass designs a pass band between low and high Hz as a high-pass
// low-pass cascade, each half of the given order.
func BandPass(low, high, rate float64, order int) (*Filter, error) {
	if low >= high {
		return nil, fmt.Errorf("band-pass low edge %v Hz must be below the high edge %v Hz", low, high)
	}
	hp, err := HighPass(low, rate, order)
	if err != nil {
		return nil, err
	}
	lp, err := LowPass(high, rate, order)
	if err != nil {
		return nil, err
	}
	f := &Filter{order: hp.order + lp.order}
	f.sections = append(f.sections, hp.sections...)
	f.sections = append(f.sections, lp.sections...)
	return f, nil
}

// Notch designs a single second-order band-stop section centered on
// the given frequency with the given bandwidth, both in Hz.
func Notch(center, bandwidth, rate float64) (*Filter, error) {
	if err := checkCutoff(center, rate); err != nil {
		return nil, err
	}
	if bandwidth <= 0 {
		return nil, fmt.Errorf("notch bandwidth must be positive, got %v Hz", bandwidth)
	}

	w0 := 2 * math.Pi * center / rate
	q := center / bandwidth
	alpha := math.Sin(w0) / (2 * q)
	cosw0 := math.Cos(w0)
	a0 := 1 + alpha
	return &Filter{
		order: 2,
		sections: []biquad{{
			b0: 1 / a0,
			b1: -2 * cosw0 / a0,
			b2: 1 / a0,
			a1: -2 * cosw0 / a0,
			a2: (1 - alpha) / a0,
		}},
	}, nil
}
