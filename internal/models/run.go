package models

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// Run represents one continuous BOLD acquisition after spatial
// preprocessing: a fixed spatial domain sampled at a fixed repetition
// interval. A Run is immutable once loaded; every later stage reads from
// it and writes its own outputs.
type Run struct {
	// ID is a unique identifier minted when the run is loaded.
	ID string

	// Name is the human-readable run label (typically derived from the
	// input file name).
	Name string

	// TR is the repetition time in seconds between consecutive frames.
	TR float64

	// Space is the label of the spatial reference the data was
	// normalized to upstream (e.g. "MNI152NLin2009cAsym").
	Space string

	// Domain describes the spatial sample backing each matrix row.
	Domain *SpatialDomain

	// Bold holds the signal as a units-by-frames matrix: one row per
	// spatial unit (voxel or vertex), one column per frame.
	Bold *mat.Dense
}

// Frames returns the number of time points in the run.
func (r *Run) Frames() int {
	if r.Bold == nil {
		return 0
	}
	_, cols := r.Bold.Dims()
	return cols
}

// Units returns the number of spatial units in the run.
func (r *Run) Units() int {
	if r.Bold == nil {
		return 0
	}
	rows, _ := r.Bold.Dims()
	return rows
}

// Duration returns the total acquisition length in seconds.
func (r *Run) Duration() float64 {
	return float64(r.Frames()) * r.TR
}

// MotionTrace holds the per-frame rigid-body motion parameters of a run
// and the framewise displacement derived from them. When a motion filter
// was applied, both the raw and the filtered variants are kept so the
// persisted motion table can distinguish them.
type MotionTrace struct {
	// Params is the frames-by-6 parameter matrix: three translations in
	// millimeters followed by three rotations in radians.
	Params *mat.Dense

	// FD is the framewise displacement computed from Params, one value
	// per frame, FD[0] = 0.
	FD []float64

	// FilteredParams and FilteredFD are set only when a motion filter
	// was applied before differencing.
	FilteredParams *mat.Dense
	FilteredFD     []float64

	// Filtered reports whether the filtered variant is populated.
	Filtered bool
}

// ActiveFD returns the FD trace censoring should operate on: the
// filtered trace when a motion filter was applied, the raw one otherwise.
func (t *MotionTrace) ActiveFD() []float64 {
	if t.Filtered {
		return t.FilteredFD
	}
	return t.FD
}

// ConfoundSet is a frames-by-regressor table of nuisance signals with
// column names, same frame count as the run it belongs to.
type ConfoundSet struct {
	Names []string
	Data  *mat.Dense
}

// Frames returns the number of rows in the confound table.
func (c *ConfoundSet) Frames() int {
	if c.Data == nil {
		return 0
	}
	rows, _ := c.Data.Dims()
	return rows
}

// Column returns the named confound column, or false when absent.
func (c *ConfoundSet) Column(name string) ([]float64, bool) {
	for j, n := range c.Names {
		if n == name {
			col := make([]float64, c.Frames())
			mat.Col(col, j, c.Data)
			return col, true
		}
	}
	return nil, false
}

// ScrubRecord summarizes the outcome of volume censoring for one run.
// It is created once after censoring and never mutated.
type ScrubRecord struct {
	// Threshold is the FD threshold the mask was derived from; a value
	// of zero (or below) means censoring was disabled.
	Threshold float64

	// Mask marks censored frames with true. len(Mask) equals the total
	// frame count.
	Mask []bool

	// TotalFrames and RemainingFrames count all frames and the frames
	// that survived censoring.
	TotalFrames     int
	RemainingFrames int

	// RemainingSeconds is RemainingFrames times the TR.
	RemainingSeconds float64

	// MeanRetainedFD is the mean FD over retained frames. It is NaN when
	// no frames survived; callers must surface that as a warning rather
	// than fail.
	MeanRetainedFD float64
}

// RetainedIndices returns the frame indices that survived censoring, in
// temporal order.
func (s *ScrubRecord) RetainedIndices() []int {
	idx := make([]int, 0, s.RemainingFrames)
	for t, censored := range s.Mask {
		if !censored {
			idx = append(idx, t)
		}
	}
	return idx
}

// CensoringEnabled reports whether the record was produced with a
// positive FD threshold.
func (s *ScrubRecord) CensoringEnabled() bool {
	return s.Threshold > 0
}

// NaN is the missing-value marker used throughout result tables.
func NaN() float64 { return math.NaN() }
