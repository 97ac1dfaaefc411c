// Package motion derives framewise displacement from rigid-body motion
// parameters, optionally low-pass or notch filtering the parameters
// first to suppress respiratory artifacts.
package motion

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
	"boldpost/pkg/bandpass"
)

// DefaultHeadRadius is the assumed head radius in millimeters used to
// convert rotations into arc displacements when none is configured.
const DefaultHeadRadius = 50.0

// Filter types accepted by FilterSpec.Type.
const (
	FilterLowPass = "lp"
	FilterNotch   = "notch"
)

// FilterSpec describes the optional motion parameter filter. Band
// edges are in breaths per minute; Order is halved by the zero-phase
// application, matching the configured effective order.
type FilterSpec struct {
	Type        string
	BandStopMin float64
	BandStopMax float64
	Order       int
}

// FD computes framewise displacement from a frames-by-6 parameter
// matrix holding three translations in mm followed by three rotations
// in radians. Rotations are scaled by the head radius to arc lengths.
// The first frame has no predecessor and gets displacement zero.
func FD(params *mat.Dense, radiusMM float64) ([]float64, error) {
	frames, cols := params.Dims()
	if cols != 6 {
		return nil, fmt.Errorf("motion parameters must have 6 columns, got %d", cols)
	}
	if radiusMM <= 0 {
		return nil, fmt.Errorf("head radius must be positive, got %v", radiusMM)
	}

	fd := make([]float64, frames)
	for t := 1; t < frames; t++ {
		var trans, rot float64
		for j := 0; j < 3; j++ {
			trans += math.Abs(params.At(t, j) - params.At(t-1, j))
			rot += math.Abs(params.At(t, j+3) - params.At(t-1, j+3))
		}
		fd[t] = trans + radiusMM*rot
	}
	return fd, nil
}

// FilterParams returns a filtered copy of the parameter matrix. The
// low-pass variant applies one zero-phase pass of a half-order
// Butterworth; the notch variant applies a fixed band-stop section
// repeatedly, one zero-phase pass per halved order step.
func FilterParams(params *mat.Dense, spec FilterSpec, tr float64) (*mat.Dense, error) {
	if tr <= 0 {
		return nil, fmt.Errorf("tr must be positive, got %v", tr)
	}
	rate := 1 / tr

	var (
		filt   *bandpass.Filter
		passes int
		err    error
	)
	halfOrder := spec.Order / 2
	if halfOrder < 1 {
		halfOrder = 1
	}

	switch spec.Type {
	case FilterLowPass:
		filt, err = bandpass.LowPass(spec.BandStopMin/60, rate, halfOrder)
		passes = 1
	case FilterNotch:
		center := (spec.BandStopMin + spec.BandStopMax) / 2 / 60
		width := (spec.BandStopMax - spec.BandStopMin) / 60
		filt, err = bandpass.Notch(center, width, rate)
		passes = halfOrder
	default:
		return nil, fmt.Errorf("unknown motion filter type %q", spec.Type)
	}
	if err != nil {
		return nil, fmt.Errorf("designing %s motion filter: %w", spec.Type, err)
	}

	frames, cols := params.Dims()
	out := mat.NewDense(frames, cols, nil)
	col := make([]float64, frames)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, params)
		for p := 0; p < passes; p++ {
			col = filt.ApplyZeroPhase(col)
		}
		out.SetCol(j, col)
	}
	return out, nil
}

// Extract builds the full motion trace of a run: raw FD always, plus
// the filtered parameters and their FD when a filter is requested.
func Extract(params *mat.Dense, radiusMM, tr float64, spec *FilterSpec) (*models.MotionTrace, error) {
	fd, err := FD(params, radiusMM)
	if err != nil {
		return nil, err
	}
	trace := &models.MotionTrace{Params: params, FD: fd}

	if spec == nil || spec.Type == "" {
		return trace, nil
	}

	filtered, err := FilterParams(params, *spec, tr)
	if err != nil {
		return nil, err
	}
	filteredFD, err := FD(filtered, radiusMM)
	if err != nil {
		return nil, err
	}
	trace.FilteredParams = filtered
	trace.FilteredFD = filteredFD
	trace.Filtered = true
	return trace, nil
}

// EstimateHeadRadius returns the radius of a sphere whose volume
// matches the brain mask, in millimeters. Surface domains carry no
// volume, so they fall back to the default radius.
func EstimateHeadRadius(domain *models.SpatialDomain) float64 {
	if domain == nil || domain.Kind != models.VolumeDomain {
		return DefaultHeadRadius
	}
	volume := domain.MaskVolume()
	if volume <= 0 {
		return DefaultHeadRadius
	}
	return math.Cbrt(3 * volume / (4 * math.Pi))
}
