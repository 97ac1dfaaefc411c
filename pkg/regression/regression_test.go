package regression

import (
	"math"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"boldpost/pkg/design"
)

// interceptDesign builds a design with an intercept and one outlier
// column per censored frame, the minimal shape regression accepts.
func interceptDesign(mask []bool) *design.Matrix {
	frames := len(mask)
	names := []string{"intercept"}
	outliers := make([]int, 0)
	for t, censored := range mask {
		if censored {
			outliers = append(outliers, t)
		}
	}
	data := mat.NewDense(frames, 1+len(outliers), nil)
	for t := 0; t < frames; t++ {
		data.Set(t, 0, 1)
	}
	for i, t := range outliers {
		names = append(names, "outlier")
		data.Set(t, 1+i, 1)
	}
	return &design.Matrix{Names: names, Data: data}
}

func TestDenoiseRecoversKnownCoefficients(t *testing.T) {
	const frames = 20
	x := mat.NewDense(frames, 3, nil)
	for i := 0; i < frames; i++ {
		x.Set(i, 0, 1)
		x.Set(i, 1, float64(i))
		x.Set(i, 2, math.Sin(float64(i)))
	}
	dm := &design.Matrix{Names: []string{"intercept", "trend", "wave"}, Data: x}

	// One unit built as an exact combination of the regressors.
	want := []float64{3, 0.5, 2}
	bold := mat.NewDense(1, frames, nil)
	for i := 0; i < frames; i++ {
		bold.Set(0, i, want[0]*x.At(i, 0)+want[1]*x.At(i, 1)+want[2]*x.At(i, 2))
	}

	result, err := Denoise(bold, dm, make([]bool, frames), false)
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	for j, w := range want {
		if got := result.Betas.At(j, 0); math.Abs(got-w) > 1e-9 {
			t.Errorf("Coefficient %d: expected %v, got %v", j, w, got)
		}
	}
	_, nr := result.Residual.Dims()
	for i := 0; i < nr; i++ {
		if r := result.Residual.At(0, i); math.Abs(r) > 1e-9 {
			t.Errorf("Expected zero residual at frame %d, got %v", i, r)
		}
	}
}

func TestDenoiseFitsRetainedFramesOnly(t *testing.T) {
	// Intercept-only fit of [1 2 100 4 8] with frame 2 censored: the
	// mean over retained frames is 3.75 and the spike never enters.
	bold := mat.NewDense(1, 5, []float64{1, 2, 100, 4, 8})
	mask := []bool{false, false, true, false, false}

	result, err := Denoise(bold, interceptDesign(mask), mask, false)
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	if got := result.Betas.At(0, 0); math.Abs(got-3.75) > 1e-9 {
		t.Errorf("Expected intercept 3.75 from retained frames, got %v", got)
	}

	_, nr := result.Residual.Dims()
	if nr != 4 {
		t.Fatalf("Expected 4 residual frames, got %d", nr)
	}
	wantIdx := []int{0, 1, 3, 4}
	for i, want := range wantIdx {
		if result.RetainedIndex[i] != want {
			t.Errorf("Retained index %d: expected %d, got %d", i, want, result.RetainedIndex[i])
		}
	}
	wantRes := []float64{-2.75, -1.75, 0.25, 4.25}
	for i, want := range wantRes {
		if got := result.Residual.At(0, i); math.Abs(got-want) > 1e-9 {
			t.Errorf("Residual %d: expected %v, got %v", i, want, got)
		}
	}
	if result.Interpolated != nil {
		t.Error("Expected no interpolated output unless requested")
	}
}

func TestDenoiseInterpolatedVariant(t *testing.T) {
	bold := mat.NewDense(1, 5, []float64{1, 2, 100, 4, 8})
	mask := []bool{false, false, true, false, false}

	result, err := Denoise(bold, interceptDesign(mask), mask, true)
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}
	if result.Interpolated == nil {
		t.Fatal("Expected interpolated output")
	}
	_, frames := result.Interpolated.Dims()
	if frames != 5 {
		t.Fatalf("Expected interpolated output over all 5 frames, got %d", frames)
	}

	// Censored frame 2 sits midway between residuals -1.75 and 0.25.
	if got := result.Interpolated.At(0, 2); math.Abs(got-(-0.75)) > 1e-9 {
		t.Errorf("Expected interpolated residual -0.75, got %v", got)
	}
	// Retained frames carry the plain residual.
	if got := result.Interpolated.At(0, 0); math.Abs(got-(-2.75)) > 1e-9 {
		t.Errorf("Expected retained residual -2.75, got %v", got)
	}
}

func TestDenoiseInterpolationClampsEdges(t *testing.T) {
	bold := mat.NewDense(1, 5, []float64{50, 1, 2, 3, 60})
	mask := []bool{true, false, false, false, true}

	result, err := Denoise(bold, interceptDesign(mask), mask, true)
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	// Retained residuals are [-1 0 1] around the mean 2; censored ends
	// clamp to their nearest retained neighbor.
	if got := result.Interpolated.At(0, 0); math.Abs(got-(-1)) > 1e-9 {
		t.Errorf("Expected leading edge clamped to -1, got %v", got)
	}
	if got := result.Interpolated.At(0, 4); math.Abs(got-1) > 1e-9 {
		t.Errorf("Expected trailing edge clamped to 1, got %v", got)
	}
}

func TestDenoiseResidualOrthogonality(t *testing.T) {
	const (
		frames = 40
		units  = 3
	)
	x := mat.NewDense(frames, 4, nil)
	for i := 0; i < frames; i++ {
		x.Set(i, 0, 1)
		x.Set(i, 1, float64(i)-float64(frames-1)/2)
		x.Set(i, 2, math.Sin(0.7*float64(i)))
		x.Set(i, 3, math.Cos(1.3*float64(i)))
	}
	dm := &design.Matrix{Names: []string{"intercept", "trend", "s", "c"}, Data: x}

	bold := mat.NewDense(units, frames, nil)
	for u := 0; u < units; u++ {
		for i := 0; i < frames; i++ {
			bold.Set(u, i, math.Sin(0.11*float64(i*(u+1)))+0.3*float64(u))
		}
	}
	mask := make([]bool, frames)
	mask[5] = true
	mask[17] = true

	result, err := Denoise(bold, dm, mask, false)
	if err != nil {
		t.Fatalf("Failed to fit: %v", err)
	}

	// Residuals must be orthogonal to every design column over the
	// retained frames.
	for j := 0; j < 4; j++ {
		for u := 0; u < units; u++ {
			var dot float64
			for i, frame := range result.RetainedIndex {
				dot += x.At(frame, j) * result.Residual.At(u, i)
			}
			if math.Abs(dot) > 1e-8 {
				t.Errorf("Column %d unit %d: expected orthogonal residual, dot %v", j, u, dot)
			}
		}
	}
}

func TestDenoiseRejectsRankDeficientDesign(t *testing.T) {
	const frames = 10
	x := mat.NewDense(frames, 3, nil)
	for i := 0; i < frames; i++ {
		x.Set(i, 0, 1)
		x.Set(i, 1, float64(i))
		x.Set(i, 2, 2*float64(i)) // exact multiple of the trend column
	}
	dm := &design.Matrix{Names: []string{"intercept", "trend", "double_trend"}, Data: x}
	bold := mat.NewDense(1, frames, nil)

	_, err := Denoise(bold, dm, make([]bool, frames), false)
	if err == nil {
		t.Fatal("Expected error for rank-deficient design")
	}
	if !strings.Contains(err.Error(), "double_trend") {
		t.Errorf("Expected suspect regressor named, got %v", err)
	}
}

func TestDenoiseRejectsImpossibleFits(t *testing.T) {
	t.Run("NoRetainedFrames", func(t *testing.T) {
		bold := mat.NewDense(1, 3, []float64{1, 2, 3})
		mask := []bool{true, true, true}
		if _, err := Denoise(bold, interceptDesign(mask), mask, false); err == nil {
			t.Error("Expected error when every frame is censored")
		}
	})

	t.Run("MoreRegressorsThanFrames", func(t *testing.T) {
		bold := mat.NewDense(1, 3, []float64{1, 2, 3})
		x := mat.NewDense(3, 4, nil)
		for i := 0; i < 3; i++ {
			for j := 0; j < 4; j++ {
				x.Set(i, j, math.Sin(float64(1+i*j)))
			}
		}
		dm := &design.Matrix{Names: []string{"a", "b", "c", "d"}, Data: x}
		if _, err := Denoise(bold, dm, make([]bool, 3), false); err == nil {
			t.Error("Expected error for underdetermined fit")
		}
	})

	t.Run("FrameMismatch", func(t *testing.T) {
		bold := mat.NewDense(1, 4, nil)
		mask := []bool{false, false, false}
		if _, err := Denoise(bold, interceptDesign(mask), mask, false); err == nil {
			t.Error("Expected error for design frame mismatch")
		}
	})
}
