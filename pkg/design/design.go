// Package design assembles nuisance regression designs from confound
// tables: named confound strategies, expansion into derivatives and
// squares, and the final design matrix with intercept, trend and
// per-outlier columns.
package design

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
)

// Strategy names.
const (
	Strategy24P    = "24P"
	Strategy27P    = "27P"
	Strategy36P    = "36P"
	StrategyCustom = "custom"
	StrategyNone   = "none"
)

// Confound column names expected from the preprocessing table.
var (
	motionColumns = []string{"trans_x", "trans_y", "trans_z", "rot_x", "rot_y", "rot_z"}
	tissueColumns = []string{"csf", "white_matter", "global_signal"}
)

// Matrix is a design matrix with named columns, frames by regressors.
type Matrix struct {
	Names []string
	Data  *mat.Dense
}

// Columns returns the number of regressors.
func (m *Matrix) Columns() int {
	return len(m.Names)
}

// Expand selects and expands the named nuisance set from the confound
// table. The 24P set is the six motion parameters with their backward
// differences and the squares of both; 27P adds the three tissue mean
// signals; 36P expands those nine base signals the same way the motion
// parameters are expanded. The custom strategy takes the listed
// columns verbatim and none returns an empty set.
//
// A NaN in the first frame of a column is replaced by zero, matching
// the convention of derivative columns that have no predecessor.
func Expand(strategy string, confounds *models.ConfoundSet, custom []string) (*models.ConfoundSet, error) {
	switch strategy {
	case StrategyNone:
		return &models.ConfoundSet{}, nil
	case StrategyCustom:
		if len(custom) == 0 {
			return nil, fmt.Errorf("custom strategy requires confound names")
		}
		return pick(confounds, custom)
	case Strategy24P:
		return expandSignals(confounds, motionColumns)
	case Strategy27P:
		base, err := expandSignals(confounds, motionColumns)
		if err != nil {
			return nil, err
		}
		tissue, err := pick(confounds, tissueColumns)
		if err != nil {
			return nil, err
		}
		return concat(base, tissue), nil
	case Strategy36P:
		return expandSignals(confounds, append(append([]string{}, motionColumns...), tissueColumns...))
	default:
		return nil, fmt.Errorf("unknown nuisance strategy %q", strategy)
	}
}

// pick copies the named columns out of the confound table.
func pick(confounds *models.ConfoundSet, names []string) (*models.ConfoundSet, error) {
	if confounds == nil || confounds.Data == nil {
		return nil, fmt.Errorf("confound table is required for this strategy")
	}
	frames := confounds.Frames()
	data := mat.NewDense(frames, len(names), nil)
	for j, name := range names {
		col, ok := confounds.Column(name)
		if !ok {
			return nil, fmt.Errorf("confound table has no column %q", name)
		}
		sanitizeFirstFrame(col)
		data.SetCol(j, col)
	}
	return &models.ConfoundSet{Names: append([]string{}, names...), Data: data}, nil
}

// expandSignals builds the full expansion of the base columns: base,
// backward differences, squares, squared differences, in that block
// order.
func expandSignals(confounds *models.ConfoundSet, base []string) (*models.ConfoundSet, error) {
	picked, err := pick(confounds, base)
	if err != nil {
		return nil, err
	}
	frames := picked.Frames()
	k := len(base)

	names := make([]string, 0, 4*k)
	data := mat.NewDense(frames, 4*k, nil)
	col := make([]float64, frames)

	for j := range base {
		mat.Col(col, j, picked.Data)
		deriv := derivative(col)
		data.SetCol(j, col)
		data.SetCol(k+j, deriv)
		data.SetCol(2*k+j, square(col))
		data.SetCol(3*k+j, square(deriv))
	}
	names = append(names, base...)
	for _, name := range base {
		names = append(names, name+"_derivative1")
	}
	for _, name := range base {
		names = append(names, name+"_power2")
	}
	for _, name := range base {
		names = append(names, name+"_derivative1_power2")
	}

	return &models.ConfoundSet{Names: names, Data: data}, nil
}

// derivative returns the backward difference, zero at the first frame.
func derivative(x []float64) []float64 {
	out := make([]float64, len(x))
	for t := 1; t < len(x); t++ {
		out[t] = x[t] - x[t-1]
	}
	return out
}

func square(x []float64) []float64 {
	out := make([]float64, len(x))
	for i, v := range x {
		out[i] = v * v
	}
	return out
}

func sanitizeFirstFrame(col []float64) {
	if len(col) > 0 && math.IsNaN(col[0]) {
		col[0] = 0
	}
}

func concat(a, b *models.ConfoundSet) *models.ConfoundSet {
	frames := a.Frames()
	_, ka := a.Data.Dims()
	_, kb := b.Data.Dims()
	data := mat.NewDense(frames, ka+kb, nil)
	data.Slice(0, frames, 0, ka).(*mat.Dense).Copy(a.Data)
	data.Slice(0, frames, ka, ka+kb).(*mat.Dense).Copy(b.Data)
	return &models.ConfoundSet{
		Names: append(append([]string{}, a.Names...), b.Names...),
		Data:  data,
	}
}

// Build assembles the regression design from the expanded nuisance set
// and the censoring mask: nuisance columns verbatim, an intercept, a
// zero-centered linear trend, then one one-hot column per censored
// frame in temporal order. Each one-hot column carries a single 1 at
// its frame, so retained rows are zero across all outlier columns.
func Build(nuisance *models.ConfoundSet, mask []bool) (*Matrix, error) {
	frames := len(mask)
	if frames == 0 {
		return nil, fmt.Errorf("design needs at least one frame")
	}

	var k int
	if nuisance != nil && nuisance.Data != nil {
		if nuisance.Frames() != frames {
			return nil, fmt.Errorf("nuisance table has %d frames, mask has %d", nuisance.Frames(), frames)
		}
		_, k = nuisance.Data.Dims()
		if err := validateColumns(nuisance); err != nil {
			return nil, err
		}
	}

	outliers := make([]int, 0)
	for t, censored := range mask {
		if censored {
			outliers = append(outliers, t)
		}
	}

	total := k + 2 + len(outliers)
	names := make([]string, 0, total)
	data := mat.NewDense(frames, total, nil)

	if k > 0 {
		names = append(names, nuisance.Names...)
		data.Slice(0, frames, 0, k).(*mat.Dense).Copy(nuisance.Data)
	}

	names = append(names, "intercept")
	for t := 0; t < frames; t++ {
		data.Set(t, k, 1)
	}

	// Trend is the frame index shifted to zero mean, keeping it
	// orthogonal to the intercept.
	names = append(names, "linear_trend")
	center := float64(frames-1) / 2
	for t := 0; t < frames; t++ {
		data.Set(t, k+1, float64(t)-center)
	}

	for i, t := range outliers {
		names = append(names, fmt.Sprintf("outlier_t%d", t))
		data.Set(t, k+2+i, 1)
	}

	return &Matrix{Names: names, Data: data}, nil
}

// validateColumns rejects non-finite values, constant columns and
// exact duplicates in the nuisance set, naming every offender.
func validateColumns(nuisance *models.ConfoundSet) error {
	frames, k := nuisance.Data.Dims()

	var offenders []string
	cols := make([][]float64, k)
	for j := 0; j < k; j++ {
		col := make([]float64, frames)
		mat.Col(col, j, nuisance.Data)
		cols[j] = col

		constant := true
		for t, v := range col {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("confound %q has a non-finite value at frame %d", nuisance.Names[j], t)
			}
			if v != col[0] {
				constant = false
			}
		}
		if constant && frames > 1 {
			offenders = append(offenders, fmt.Sprintf("%s (constant)", nuisance.Names[j]))
		}
	}

	for i := 0; i < k; i++ {
		for j := i + 1; j < k; j++ {
			if equal(cols[i], cols[j]) {
				offenders = append(offenders, fmt.Sprintf("%s duplicates %s", nuisance.Names[j], nuisance.Names[i]))
			}
		}
	}

	if len(offenders) > 0 {
		return fmt.Errorf("degenerate confound columns: %s", strings.Join(offenders, ", "))
	}
	return nil
}

func equal(a, b []float64) bool {
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
