package models

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// Atlas assigns every spatial unit of a domain to a parcel. Label 0
// marks background units that belong to no parcel.
type Atlas struct {
	// Name identifies the parcellation scheme (e.g. "schaefer200x7").
	Name string

	// Labels holds one parcel label per spatial unit, aligned with the
	// rows of the run's BOLD matrix.
	Labels []int
}

// NewAtlas validates the label vector against the domain size.
func NewAtlas(name string, labels []int, units int) (*Atlas, error) {
	if len(labels) != units {
		return nil, fmt.Errorf("atlas %q has %d labels for a %d-unit domain", name, len(labels), units)
	}
	for i, l := range labels {
		if l < 0 {
			return nil, fmt.Errorf("atlas %q has negative label %d at unit %d", name, l, i)
		}
	}
	return &Atlas{Name: name, Labels: labels}, nil
}

// ParcelIDs returns the distinct nonzero labels in ascending order.
func (a *Atlas) ParcelIDs() []int {
	seen := make(map[int]bool)
	for _, l := range a.Labels {
		if l != 0 {
			seen[l] = true
		}
	}
	ids := make([]int, 0, len(seen))
	for l := range seen {
		ids = append(ids, l)
	}
	sort.Ints(ids)
	return ids
}

// UnitsByParcel groups unit indices by their parcel label, skipping
// background.
func (a *Atlas) UnitsByParcel() map[int][]int {
	groups := make(map[int][]int)
	for unit, l := range a.Labels {
		if l != 0 {
			groups[l] = append(groups[l], unit)
		}
	}
	return groups
}

// ROITimeSeries holds the parcel-averaged signal of one run under one
// atlas, together with the coverage bookkeeping that decides which
// parcels are trustworthy.
type ROITimeSeries struct {
	// AtlasName names the atlas the series was extracted with.
	AtlasName string

	// ParcelIDs lists the parcel labels, one per matrix row, ascending.
	ParcelIDs []int

	// Data is the parcels-by-frames mean signal. Rows of parcels that
	// failed the coverage threshold are filled with NaN.
	Data *mat.Dense

	// Coverage is the fraction of each parcel's units carrying usable
	// signal, in [0, 1].
	Coverage []float64

	// Valid marks parcels that met the coverage threshold.
	Valid []bool
}

// Parcels returns the number of parcels in the series.
func (r *ROITimeSeries) Parcels() int {
	return len(r.ParcelIDs)
}

// ValidCount returns how many parcels met the coverage threshold.
func (r *ROITimeSeries) ValidCount() int {
	n := 0
	for _, v := range r.Valid {
		if v {
			n++
		}
	}
	return n
}
