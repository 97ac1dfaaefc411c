package connectivity

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
)

func seriesFromRows(rows [][]float64, valid []bool) *models.ROITimeSeries {
	p := len(rows)
	frames := len(rows[0])
	data := mat.NewDense(p, frames, nil)
	ids := make([]int, p)
	coverage := make([]float64, p)
	for i, row := range rows {
		data.SetRow(i, row)
		ids[i] = i + 1
		coverage[i] = 1
	}
	return &models.ROITimeSeries{
		AtlasName: "test",
		ParcelIDs: ids,
		Data:      data,
		Coverage:  coverage,
		Valid:     valid,
	}
}

func TestMatrixAntiCorrelatedPair(t *testing.T) {
	series := seriesFromRows([][]float64{
		{1, 2, 3, 4},
		{4, 3, 2, 1},
	}, []bool{true, true})

	m := Matrix(series)

	want := [][]float64{
		{1, -1},
		{-1, 1},
	}
	for i := range want {
		for j := range want[i] {
			if got := m.At(i, j); math.Abs(got-want[i][j]) > 1e-12 {
				t.Errorf("Entry (%d,%d): expected %v, got %v", i, j, want[i][j], got)
			}
		}
	}
}

func TestMatrixSymmetricUnitDiagonal(t *testing.T) {
	series := seriesFromRows([][]float64{
		{1, 5, 2, 8, 3},
		{2, 1, 4, 3, 9},
		{7, 2, 6, 1, 4},
	}, []bool{true, true, true})

	m := Matrix(series)

	for i := 0; i < 3; i++ {
		if got := m.At(i, i); got != 1 {
			t.Errorf("Diagonal %d: expected exactly 1, got %v", i, got)
		}
		for j := 0; j < 3; j++ {
			if m.At(i, j) != m.At(j, i) {
				t.Errorf("Entry (%d,%d) not symmetric: %v vs %v", i, j, m.At(i, j), m.At(j, i))
			}
			if v := m.At(i, j); v < -1-1e-12 || v > 1+1e-12 {
				t.Errorf("Entry (%d,%d) outside [-1,1]: %v", i, j, v)
			}
		}
	}
}

func TestMatrixInvalidParcelPropagatesNaN(t *testing.T) {
	nan := math.NaN()
	series := seriesFromRows([][]float64{
		{1, 2, 3, 4},
		{nan, nan, nan, nan},
		{2, 4, 1, 3},
	}, []bool{true, false, true})

	m := Matrix(series)

	for j := 0; j < 3; j++ {
		if !math.IsNaN(m.At(1, j)) {
			t.Errorf("Expected NaN in invalid row at column %d, got %v", j, m.At(1, j))
		}
		if !math.IsNaN(m.At(j, 1)) {
			t.Errorf("Expected NaN in invalid column at row %d, got %v", j, m.At(j, 1))
		}
	}
	if m.At(0, 0) != 1 || m.At(2, 2) != 1 {
		t.Error("Expected valid diagonal entries to stay 1")
	}
	if math.IsNaN(m.At(0, 2)) {
		t.Error("Expected valid pair unaffected by invalid parcel")
	}
}

func TestSubsampleDeterministic(t *testing.T) {
	a, err := Subsample(100, 10, 42)
	if err != nil {
		t.Fatalf("Failed to subsample: %v", err)
	}
	b, err := Subsample(100, 10, 42)
	if err != nil {
		t.Fatalf("Failed to subsample: %v", err)
	}

	if len(a) != 10 {
		t.Fatalf("Expected 10 positions, got %d", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("Expected identical draws for identical seeds, got %v vs %v", a, b)
		}
	}

	for i := 1; i < len(a); i++ {
		if a[i] <= a[i-1] {
			t.Errorf("Expected strictly increasing positions, got %v", a)
		}
	}
	for _, p := range a {
		if p < 0 || p >= 100 {
			t.Errorf("Position %d out of range", p)
		}
	}

	c, err := Subsample(100, 10, 43)
	if err != nil {
		t.Fatalf("Failed to subsample: %v", err)
	}
	same := true
	for i := range a {
		if a[i] != c[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("Expected a different seed to give a different draw")
	}
}

func TestSubsampleExactCount(t *testing.T) {
	got, err := Subsample(5, 5, 1)
	if err != nil {
		t.Fatalf("Failed to subsample: %v", err)
	}
	for i, p := range got {
		if p != i {
			t.Errorf("Expected identity draw when taking all frames, got %v", got)
		}
	}
}

func TestSubsampleInsufficientFrames(t *testing.T) {
	if _, err := Subsample(80, 100, 1); err == nil {
		t.Error("Expected error when fewer frames than requested")
	}
	if _, err := Subsample(10, 0, 1); err == nil {
		t.Error("Expected error for non-positive request")
	}
}

func TestSelectFrames(t *testing.T) {
	series := seriesFromRows([][]float64{
		{10, 20, 30, 40, 50},
		{1, 2, 3, 4, 5},
	}, []bool{true, true})

	picked := SelectFrames(series, []int{0, 2, 4})

	if _, frames := picked.Data.Dims(); frames != 3 {
		t.Fatalf("Expected 3 frames, got %d", frames)
	}
	want := [][]float64{
		{10, 30, 50},
		{1, 3, 5},
	}
	for i := range want {
		for k := range want[i] {
			if got := picked.Data.At(i, k); got != want[i][k] {
				t.Errorf("Entry (%d,%d): expected %v, got %v", i, k, want[i][k], got)
			}
		}
	}
	if picked.AtlasName != "test" || len(picked.ParcelIDs) != 2 {
		t.Error("Expected parcel metadata preserved")
	}
}
