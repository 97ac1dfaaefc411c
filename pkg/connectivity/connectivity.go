// Package connectivity turns parcel time series into Pearson
// correlation matrices, optionally on a fixed-size subsample of
// retained frames.
package connectivity

import (
	"fmt"
	"math"
	"math/rand"
	"sort"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"boldpost/internal/models"
)

// Matrix computes the pairwise Pearson correlation of all valid
// parcels. The result is symmetric with an exact unit diagonal for
// valid parcels; rows and columns of invalid parcels are NaN
// throughout, including the diagonal.
func Matrix(series *models.ROITimeSeries) *mat.Dense {
	p := series.Parcels()
	_, frames := series.Data.Dims()

	out := mat.NewDense(p, p, nil)
	rows := make([][]float64, p)
	for i := 0; i < p; i++ {
		if series.Valid[i] {
			row := make([]float64, frames)
			mat.Row(row, i, series.Data)
			rows[i] = row
		}
	}

	for i := 0; i < p; i++ {
		if rows[i] == nil {
			for j := 0; j < p; j++ {
				out.Set(i, j, math.NaN())
				out.Set(j, i, math.NaN())
			}
			continue
		}
		out.Set(i, i, 1)
		for j := i + 1; j < p; j++ {
			if rows[j] == nil {
				out.Set(i, j, math.NaN())
				out.Set(j, i, math.NaN())
				continue
			}
			r := stat.Correlation(rows[i], rows[j], nil)
			out.Set(i, j, r)
			out.Set(j, i, r)
		}
	}
	return out
}

// Subsample draws exactly n of total frame positions without
// replacement, seeded for reproducibility, and returns them in
// temporal order. It fails when fewer frames than requested exist.
func Subsample(total, n int, seed uint64) ([]int, error) {
	if n <= 0 {
		return nil, fmt.Errorf("subsample size must be positive, got %d", n)
	}
	if total < n {
		return nil, fmt.Errorf("%d frames retained, %d required", total, n)
	}

	rng := rand.New(rand.NewSource(int64(seed)))
	perm := rng.Perm(total)
	picked := append([]int{}, perm[:n]...)
	sort.Ints(picked)
	return picked, nil
}

// SelectFrames returns a copy of the series restricted to the given
// frame positions, preserving parcel metadata.
func SelectFrames(series *models.ROITimeSeries, frames []int) *models.ROITimeSeries {
	p := series.Parcels()
	data := mat.NewDense(p, len(frames), nil)
	for i := 0; i < p; i++ {
		for k, f := range frames {
			data.Set(i, k, series.Data.At(i, f))
		}
	}
	return &models.ROITimeSeries{
		AtlasName: series.AtlasName,
		ParcelIDs: series.ParcelIDs,
		Data:      data,
		Coverage:  series.Coverage,
		Valid:     series.Valid,
	}
}
