// Package censor flags high-motion frames by framewise displacement
// and gates runs on the amount of usable data left afterwards.
package censor

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
)

// NonSteadyStatePrefix marks confound columns that flag initial frames
// acquired before magnetization reached steady state.
const NonSteadyStatePrefix = "non_steady_state_outlier"

// Select builds the censoring record for a run: a frame is censored
// exactly when its framewise displacement exceeds the threshold. A
// threshold at or below zero disables censoring and every frame is
// retained. The mean retained FD is NaN when nothing survives; the
// caller is expected to surface that as a warning.
func Select(fd []float64, threshold, tr float64) *models.ScrubRecord {
	mask := make([]bool, len(fd))
	retained := 0
	var fdSum float64
	for t, v := range fd {
		if threshold > 0 && v > threshold {
			mask[t] = true
			continue
		}
		retained++
		fdSum += v
	}

	mean := math.NaN()
	if retained > 0 {
		mean = fdSum / float64(retained)
	}

	return &models.ScrubRecord{
		Threshold:        threshold,
		Mask:             mask,
		TotalFrames:      len(fd),
		RemainingFrames:  retained,
		RemainingSeconds: float64(retained) * tr,
		MeanRetainedFD:   mean,
	}
}

// CheckMinTime refuses a run whose retained duration falls below the
// required minimum seconds. A non-positive minimum disables the gate.
func CheckMinTime(rec *models.ScrubRecord, minTime float64) error {
	if minTime <= 0 {
		return nil
	}
	if rec.RemainingSeconds < minTime {
		return fmt.Errorf("run retains %.1f s after censoring, %.1f s required",
			rec.RemainingSeconds, minTime)
	}
	return nil
}

// CountNonSteadyState returns the number of non-steady-state outlier
// columns in the confound table, which is the automatic dummy scan
// count.
func CountNonSteadyState(confounds *models.ConfoundSet) int {
	if confounds == nil {
		return 0
	}
	n := 0
	for _, name := range confounds.Names {
		if strings.HasPrefix(name, NonSteadyStatePrefix) {
			n++
		}
	}
	return n
}

// DropInitialFrames removes the first n frames from the BOLD matrix
// (columns), the motion parameters and the confound table (rows),
// returning trimmed copies. With n at or below zero the inputs are
// returned unchanged.
func DropInitialFrames(bold, params *mat.Dense, confounds *models.ConfoundSet, n int) (*mat.Dense, *mat.Dense, *models.ConfoundSet, error) {
	if n <= 0 {
		return bold, params, confounds, nil
	}
	_, frames := bold.Dims()
	if n >= frames {
		return nil, nil, nil, fmt.Errorf("dropping %d dummy scans leaves no frames of %d", n, frames)
	}

	units, _ := bold.Dims()
	trimmedBold := mat.NewDense(units, frames-n, nil)
	trimmedBold.Copy(bold.Slice(0, units, n, frames))

	var trimmedParams *mat.Dense
	if params != nil {
		rows, cols := params.Dims()
		if rows != frames {
			return nil, nil, nil, fmt.Errorf("motion parameters have %d frames, signal has %d", rows, frames)
		}
		trimmedParams = mat.NewDense(rows-n, cols, nil)
		trimmedParams.Copy(params.Slice(n, rows, 0, cols))
	}

	var trimmedConfounds *models.ConfoundSet
	if confounds != nil {
		rows, cols := confounds.Data.Dims()
		if rows != frames {
			return nil, nil, nil, fmt.Errorf("confound table has %d frames, signal has %d", rows, frames)
		}
		data := mat.NewDense(rows-n, cols, nil)
		data.Copy(confounds.Data.Slice(n, rows, 0, cols))
		trimmedConfounds = &models.ConfoundSet{Names: confounds.Names, Data: data}
	}

	return trimmedBold, trimmedParams, trimmedConfounds, nil
}
