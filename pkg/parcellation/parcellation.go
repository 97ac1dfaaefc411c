// Package parcellation reduces unit-level signal to atlas parcel
// averages with per-parcel coverage bookkeeping.
package parcellation

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
)

// Extract averages each parcel's usable member units into one series
// per parcel. A unit is usable when its series is finite throughout
// and has nonzero variance. Coverage is the usable fraction of each
// parcel; parcels below minCoverage keep their coverage entry but get
// a NaN series and are marked invalid rather than dropped.
func Extract(signal *mat.Dense, atlas *models.Atlas, minCoverage float64) (*models.ROITimeSeries, error) {
	units, frames := signal.Dims()
	if len(atlas.Labels) != units {
		return nil, fmt.Errorf("atlas %q has %d labels for %d signal units", atlas.Name, len(atlas.Labels), units)
	}
	if minCoverage < 0 || minCoverage > 1 {
		return nil, fmt.Errorf("coverage threshold must be in [0, 1], got %v", minCoverage)
	}

	ids := atlas.ParcelIDs()
	groups := atlas.UnitsByParcel()

	series := &models.ROITimeSeries{
		AtlasName: atlas.Name,
		ParcelIDs: ids,
		Data:      mat.NewDense(len(ids), frames, nil),
		Coverage:  make([]float64, len(ids)),
		Valid:     make([]bool, len(ids)),
	}

	row := make([]float64, frames)
	for p, id := range ids {
		members := groups[id]
		usable := make([]int, 0, len(members))
		for _, u := range members {
			if usableSeries(signal.RawRowView(u)) {
				usable = append(usable, u)
			}
		}
		coverage := float64(len(usable)) / float64(len(members))
		series.Coverage[p] = coverage

		if coverage < minCoverage || len(usable) == 0 {
			for i := range row {
				row[i] = math.NaN()
			}
			series.Data.SetRow(p, row)
			continue
		}

		series.Valid[p] = true
		for t := 0; t < frames; t++ {
			var sum float64
			for _, u := range usable {
				sum += signal.At(u, t)
			}
			row[t] = sum / float64(len(usable))
		}
		series.Data.SetRow(p, row)
	}

	return series, nil
}

// usableSeries reports whether a unit carries analyzable signal: every
// sample finite and not all samples identical.
func usableSeries(x []float64) bool {
	if len(x) == 0 {
		return false
	}
	varying := false
	for _, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
		if v != x[0] {
			varying = true
		}
	}
	return varying
}
