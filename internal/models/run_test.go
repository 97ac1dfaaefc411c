package models

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"
)

func TestRunDimensions(t *testing.T) {
	run := &Run{
		TR:   2.0,
		Bold: mat.NewDense(4, 10, nil),
	}
	if run.Units() != 4 {
		t.Errorf("Expected 4 units, got %d", run.Units())
	}
	if run.Frames() != 10 {
		t.Errorf("Expected 10 frames, got %d", run.Frames())
	}
	if run.Duration() != 20 {
		t.Errorf("Expected duration 20s, got %v", run.Duration())
	}

	empty := &Run{}
	if empty.Frames() != 0 || empty.Units() != 0 {
		t.Error("Expected zero dimensions for run without data")
	}
}

func TestConfoundSetColumn(t *testing.T) {
	c := &ConfoundSet{
		Names: []string{"trans_x", "rot_z"},
		Data: mat.NewDense(3, 2, []float64{
			1, 10,
			2, 20,
			3, 30,
		}),
	}
	col, ok := c.Column("rot_z")
	if !ok {
		t.Fatal("Expected to find column rot_z")
	}
	if col[0] != 10 || col[1] != 20 || col[2] != 30 {
		t.Errorf("Expected [10 20 30], got %v", col)
	}
	if _, ok := c.Column("missing"); ok {
		t.Error("Expected missing column lookup to fail")
	}
	if c.Frames() != 3 {
		t.Errorf("Expected 3 frames, got %d", c.Frames())
	}
}

func TestMotionTraceActiveFD(t *testing.T) {
	raw := []float64{0, 0.2, 0.4}
	filtered := []float64{0, 0.1, 0.3}

	trace := &MotionTrace{FD: raw}
	if got := trace.ActiveFD(); &got[0] != &raw[0] {
		t.Error("Expected raw FD when no filter was applied")
	}

	trace = &MotionTrace{FD: raw, FilteredFD: filtered, Filtered: true}
	if got := trace.ActiveFD(); &got[0] != &filtered[0] {
		t.Error("Expected filtered FD when filter was applied")
	}
}

func TestScrubRecordRetainedIndices(t *testing.T) {
	rec := &ScrubRecord{
		Threshold:       0.5,
		Mask:            []bool{false, false, true, false, true},
		TotalFrames:     5,
		RemainingFrames: 3,
	}
	idx := rec.RetainedIndices()
	if len(idx) != 3 || idx[0] != 0 || idx[1] != 1 || idx[2] != 3 {
		t.Errorf("Expected retained indices [0 1 3], got %v", idx)
	}
	if !rec.CensoringEnabled() {
		t.Error("Expected censoring to be enabled for positive threshold")
	}

	disabled := &ScrubRecord{Threshold: 0}
	if disabled.CensoringEnabled() {
		t.Error("Expected censoring to be disabled for zero threshold")
	}
}

func TestScrubRecordAllCensored(t *testing.T) {
	rec := &ScrubRecord{
		Threshold:       0.1,
		Mask:            []bool{true, true},
		TotalFrames:     2,
		RemainingFrames: 0,
		MeanRetainedFD:  math.NaN(),
	}
	if len(rec.RetainedIndices()) != 0 {
		t.Error("Expected no retained indices when every frame is censored")
	}
	if !math.IsNaN(rec.MeanRetainedFD) {
		t.Error("Expected NaN mean FD when no frames remain")
	}
}
