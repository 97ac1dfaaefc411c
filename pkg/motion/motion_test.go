package motion

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
)

// paramsFromFD builds a single-translation parameter matrix whose
// framewise displacement reproduces the wanted trace.
func paramsFromFD(fd []float64) *mat.Dense {
	params := mat.NewDense(len(fd), 6, nil)
	pos := 0.0
	for t := 1; t < len(fd); t++ {
		pos += fd[t]
		params.Set(t, 0, pos)
	}
	return params
}

func TestFDKnownTrace(t *testing.T) {
	want := []float64{0, 0.1, 0.6, 0.2, 0.9}
	fd, err := FD(paramsFromFD(want), 50)
	if err != nil {
		t.Fatalf("Failed to compute FD: %v", err)
	}
	for i := range want {
		if math.Abs(fd[i]-want[i]) > 1e-12 {
			t.Errorf("Frame %d: expected FD %v, got %v", i, want[i], fd[i])
		}
	}
}

func TestFDFirstFrameIsZero(t *testing.T) {
	params := mat.NewDense(3, 6, []float64{
		1, 2, 3, 0.1, 0.2, 0.3,
		1, 2, 3, 0.1, 0.2, 0.3,
		1, 2, 3, 0.1, 0.2, 0.3,
	})
	fd, err := FD(params, 50)
	if err != nil {
		t.Fatalf("Failed to compute FD: %v", err)
	}
	if fd[0] != 0 {
		t.Errorf("Expected FD[0] = 0, got %v", fd[0])
	}
}

func TestFDScalesRotationsByRadius(t *testing.T) {
	params := mat.NewDense(2, 6, nil)
	params.Set(1, 3, 0.01) // 10 mrad rotation about x

	fd, err := FD(params, 50)
	if err != nil {
		t.Fatalf("Failed to compute FD: %v", err)
	}
	if math.Abs(fd[1]-0.5) > 1e-12 {
		t.Errorf("Expected FD 0.5 for 10 mrad at radius 50, got %v", fd[1])
	}

	fd, err = FD(params, 100)
	if err != nil {
		t.Fatalf("Failed to compute FD: %v", err)
	}
	if math.Abs(fd[1]-1.0) > 1e-12 {
		t.Errorf("Expected FD 1.0 for 10 mrad at radius 100, got %v", fd[1])
	}
}

func TestFDRejectsBadInput(t *testing.T) {
	t.Run("WrongColumnCount", func(t *testing.T) {
		if _, err := FD(mat.NewDense(4, 5, nil), 50); err == nil {
			t.Error("Expected error for 5-column parameter matrix")
		}
	})
	t.Run("NonPositiveRadius", func(t *testing.T) {
		if _, err := FD(mat.NewDense(4, 6, nil), 0); err == nil {
			t.Error("Expected error for zero head radius")
		}
	})
}

func TestFilterParamsLowPass(t *testing.T) {
	const (
		tr   = 0.8
		rate = 1 / tr
		n    = 500
		slow = 0.02
		fast = 0.35
	)
	params := mat.NewDense(n, 6, nil)
	for i := 0; i < n; i++ {
		ti := float64(i) / rate
		params.Set(i, 0, math.Sin(2*math.Pi*slow*ti)+math.Sin(2*math.Pi*fast*ti))
	}

	// 12 breaths per minute = 0.2 Hz cutoff.
	spec := FilterSpec{Type: FilterLowPass, BandStopMin: 12, Order: 4}
	filtered, err := FilterParams(params, spec, tr)
	if err != nil {
		t.Fatalf("Failed to filter parameters: %v", err)
	}

	col := make([]float64, n)
	mat.Col(col, 0, filtered)
	if amp := amplitudeAt(col, slow, rate); amp < 0.85 || amp > 1.1 {
		t.Errorf("Expected slow component preserved, got amplitude %v", amp)
	}
	if amp := amplitudeAt(col, fast, rate); amp > 0.2 {
		t.Errorf("Expected fast component attenuated, got amplitude %v", amp)
	}

	// Untouched columns stay zero.
	mat.Col(col, 3, filtered)
	for i, v := range col {
		if v != 0 {
			t.Fatalf("Expected zero column to stay zero, got %v at frame %d", v, i)
		}
	}
}

func TestFilterParamsNotch(t *testing.T) {
	const (
		tr   = 0.8
		rate = 1 / tr
		n    = 600
		keep = 0.05
	)
	center := 20.0 / 60 // 20 breaths per minute
	params := mat.NewDense(n, 6, nil)
	for i := 0; i < n; i++ {
		ti := float64(i) / rate
		params.Set(i, 2, math.Sin(2*math.Pi*center*ti)+math.Sin(2*math.Pi*keep*ti))
	}

	spec := FilterSpec{Type: FilterNotch, BandStopMin: 15, BandStopMax: 25, Order: 4}
	filtered, err := FilterParams(params, spec, tr)
	if err != nil {
		t.Fatalf("Failed to filter parameters: %v", err)
	}

	col := make([]float64, n)
	mat.Col(col, 2, filtered)
	if amp := amplitudeAt(col, center, rate); amp > 0.1 {
		t.Errorf("Expected band-stop center removed, got amplitude %v", amp)
	}
	if amp := amplitudeAt(col, keep, rate); amp < 0.85 {
		t.Errorf("Expected slow component preserved, got amplitude %v", amp)
	}
}

func TestFilterParamsRejectsSupraNyquistEdge(t *testing.T) {
	params := mat.NewDense(100, 6, nil)
	// 60 breaths per minute = 1 Hz, above Nyquist for a 0.8 s TR.
	spec := FilterSpec{Type: FilterLowPass, BandStopMin: 60, Order: 4}
	if _, err := FilterParams(params, spec, 0.8); err == nil {
		t.Error("Expected error for band edge above Nyquist")
	}
}

func TestFilterParamsRejectsUnknownType(t *testing.T) {
	params := mat.NewDense(100, 6, nil)
	if _, err := FilterParams(params, FilterSpec{Type: "hp"}, 0.8); err == nil {
		t.Error("Expected error for unknown filter type")
	}
}

func TestExtractKeepsRawAndFiltered(t *testing.T) {
	const n = 200
	params := mat.NewDense(n, 6, nil)
	for i := 0; i < n; i++ {
		ti := 0.8 * float64(i)
		params.Set(i, 1, 0.2*math.Sin(2*math.Pi*0.3*ti))
	}

	spec := &FilterSpec{Type: FilterLowPass, BandStopMin: 10, Order: 4}
	trace, err := Extract(params, 50, 0.8, spec)
	if err != nil {
		t.Fatalf("Failed to extract motion trace: %v", err)
	}

	if !trace.Filtered {
		t.Fatal("Expected trace to be marked filtered")
	}
	if len(trace.FD) != n || len(trace.FilteredFD) != n {
		t.Fatalf("Expected %d FD values in both traces", n)
	}

	var rawSum, filtSum float64
	for i := range trace.FD {
		rawSum += trace.FD[i]
		filtSum += trace.FilteredFD[i]
	}
	if filtSum >= rawSum {
		t.Errorf("Expected filtering to reduce total FD, raw %v filtered %v", rawSum, filtSum)
	}

	if got := trace.ActiveFD(); &got[0] != &trace.FilteredFD[0] {
		t.Error("Expected ActiveFD to return the filtered trace")
	}
}

func TestExtractWithoutFilter(t *testing.T) {
	trace, err := Extract(mat.NewDense(10, 6, nil), 50, 0.8, nil)
	if err != nil {
		t.Fatalf("Failed to extract motion trace: %v", err)
	}
	if trace.Filtered {
		t.Error("Expected unfiltered trace")
	}
	if trace.FilteredParams != nil {
		t.Error("Expected no filtered parameters")
	}
}

func TestEstimateHeadRadius(t *testing.T) {
	mask := make([]int, 27)
	for i := range mask {
		mask[i] = i
	}
	domain, err := models.NewVolumeDomain(3, 3, 3, [3]float64{2, 2, 2}, mask)
	if err != nil {
		t.Fatalf("Failed to create domain: %v", err)
	}

	// 216 mm^3 of mask corresponds to a 3.722 mm sphere.
	want := math.Cbrt(3 * 216 / (4 * math.Pi))
	if got := EstimateHeadRadius(domain); math.Abs(got-want) > 1e-9 {
		t.Errorf("Expected radius %v, got %v", want, got)
	}

	surface, err := models.NewSurfaceDomain([][]int{{1}, {0}})
	if err != nil {
		t.Fatalf("Failed to create surface domain: %v", err)
	}
	if got := EstimateHeadRadius(surface); got != DefaultHeadRadius {
		t.Errorf("Expected default radius for surface domain, got %v", got)
	}
	if got := EstimateHeadRadius(nil); got != DefaultHeadRadius {
		t.Errorf("Expected default radius for nil domain, got %v", got)
	}
}

// amplitudeAt recovers the amplitude of the component at freq by
// projection; freq must complete an integer number of cycles.
func amplitudeAt(x []float64, freq, rate float64) float64 {
	var sinSum, cosSum float64
	for i, v := range x {
		ti := float64(i) / rate
		sinSum += v * math.Sin(2*math.Pi*freq*ti)
		cosSum += v * math.Cos(2*math.Pi*freq*ti)
	}
	n := float64(len(x))
	return 2 * math.Hypot(sinSum, cosSum) / n
}
