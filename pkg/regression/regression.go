// Package regression removes nuisance structure from BOLD signal by
// ordinary least squares fitted on retained frames only.
package regression

import (
	"fmt"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"

	"boldpost/pkg/design"
)

// condTolerance is the largest acceptable ratio between the extreme
// singular values of the design before the fit is refused.
const condTolerance = 1e8

// collapseTolerance is the relative norm below which a column counts
// as linearly dependent on the columns before it.
const collapseTolerance = 1e-10

// Result holds the outcome of one denoising fit.
type Result struct {
	// Betas is the regressors-by-units coefficient matrix, one row per
	// design column. Columns excluded from the fit for lack of support
	// on retained frames (the outlier indicators) carry zeros.
	Betas *mat.Dense

	// Residual is the denoised signal, units by retained frames in
	// temporal order with censored gaps closed.
	Residual *mat.Dense

	// RetainedIndex maps each residual column to its original frame.
	RetainedIndex []int

	// Interpolated is the residual over all frames with censored
	// positions linearly interpolated. Only set when requested; meant
	// for reports, never for further analysis.
	Interpolated *mat.Dense
}

// Denoise fits the design to each unit's series on the retained frames
// and returns the residuals. Censored frames contribute nothing to the
// fit; design columns that are zero at every retained frame (the
// outlier indicators, which live only on censored frames) are excluded
// from it and get zero coefficients. With interpolate set, a separate
// all-frames residual is added in which censored positions are filled
// by linear interpolation between neighboring retained residuals,
// clamped at the edges.
func Denoise(bold *mat.Dense, dm *design.Matrix, mask []bool, interpolate bool) (*Result, error) {
	units, frames := bold.Dims()
	dRows, k := dm.Data.Dims()
	if dRows != frames {
		return nil, fmt.Errorf("design has %d frames, signal has %d", dRows, frames)
	}
	if len(mask) != frames {
		return nil, fmt.Errorf("mask has %d frames, signal has %d", len(mask), frames)
	}

	retained := make([]int, 0, frames)
	for t, censored := range mask {
		if !censored {
			retained = append(retained, t)
		}
	}
	nr := len(retained)
	if nr == 0 {
		return nil, fmt.Errorf("no retained frames to fit")
	}

	active := make([]int, 0, k)
	for j := 0; j < k; j++ {
		for _, t := range retained {
			if dm.Data.At(t, j) != 0 {
				active = append(active, j)
				break
			}
		}
	}
	ka := len(active)
	if ka == 0 {
		return nil, fmt.Errorf("no design column has support on the retained frames")
	}
	if nr < ka {
		return nil, fmt.Errorf("design has %d fittable regressors but only %d retained frames", ka, nr)
	}
	activeNames := make([]string, ka)
	for i, j := range active {
		activeNames[i] = dm.Names[j]
	}

	xr := mat.NewDense(nr, ka, nil)
	yr := mat.NewDense(nr, units, nil)
	for i, t := range retained {
		for jj, j := range active {
			xr.Set(i, jj, dm.Data.At(t, j))
		}
		for u := 0; u < units; u++ {
			yr.Set(i, u, bold.At(u, t))
		}
	}

	if err := checkConditioning(xr, activeNames); err != nil {
		return nil, err
	}

	var qr mat.QR
	qr.Factorize(xr)
	activeBetas := mat.NewDense(ka, units, nil)
	if err := qr.SolveTo(activeBetas, false, yr); err != nil {
		return nil, fmt.Errorf("solving least squares: %w", err)
	}
	betas := mat.NewDense(k, units, nil)
	for i, j := range active {
		betas.SetRow(j, activeBetas.RawRowView(i))
	}

	fitted := mat.NewDense(nr, units, nil)
	fitted.Mul(xr, activeBetas)
	residual := mat.NewDense(units, nr, nil)
	for i := 0; i < nr; i++ {
		for u := 0; u < units; u++ {
			residual.Set(u, i, yr.At(i, u)-fitted.At(i, u))
		}
	}

	result := &Result{Betas: betas, Residual: residual, RetainedIndex: retained}
	if interpolate {
		result.Interpolated = interpolateAll(bold, dm.Data, betas, mask)
	}
	return result, nil
}

// checkConditioning estimates the condition number of the retained
// design and, when it is unusable, names the first column whose
// projection onto the earlier columns collapses.
func checkConditioning(x *mat.Dense, names []string) error {
	var svd mat.SVD
	if !svd.Factorize(x, mat.SVDNone) {
		return fmt.Errorf("singular value decomposition of the design failed")
	}
	values := svd.Values(nil)
	smax, smin := values[0], values[len(values)-1]
	if smin > 0 && smax/smin <= condTolerance {
		return nil
	}

	if name := collapsedColumn(x, names); name != "" {
		return fmt.Errorf("design is rank deficient: regressor %q is collinear with earlier columns", name)
	}
	return fmt.Errorf("design is ill-conditioned (condition number %.3g)", smax/smin)
}

// collapsedColumn runs modified Gram-Schmidt over the design columns
// and returns the name of the first column whose remainder vanishes.
func collapsedColumn(x *mat.Dense, names []string) string {
	rows, cols := x.Dims()
	basis := make([][]float64, 0, cols)
	col := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(col, j, x)
		v := append([]float64{}, col...)
		norm0 := floats.Norm(v, 2)
		if norm0 == 0 {
			return names[j]
		}
		for _, b := range basis {
			floats.AddScaled(v, -floats.Dot(b, v), b)
		}
		norm := floats.Norm(v, 2)
		if norm < collapseTolerance*norm0 {
			return names[j]
		}
		floats.Scale(1/norm, v)
		basis = append(basis, v)
	}
	return ""
}

// interpolateAll evaluates the residual at every frame and replaces
// censored positions by linear interpolation between the neighboring
// retained residuals, clamping at the series edges.
func interpolateAll(bold, x, betas *mat.Dense, mask []bool) *mat.Dense {
	units, frames := bold.Dims()
	fitted := mat.NewDense(frames, units, nil)
	fitted.Mul(x, betas)

	out := mat.NewDense(units, frames, nil)
	for u := 0; u < units; u++ {
		for t := 0; t < frames; t++ {
			out.Set(u, t, bold.At(u, t)-fitted.At(t, u))
		}
	}

	// prev[t] and next[t] are the nearest retained frames on each side
	// of t, -1 when none exists.
	prev := make([]int, frames)
	next := make([]int, frames)
	last := -1
	for t := 0; t < frames; t++ {
		if !mask[t] {
			last = t
		}
		prev[t] = last
	}
	last = -1
	for t := frames - 1; t >= 0; t-- {
		if !mask[t] {
			last = t
		}
		next[t] = last
	}

	for t := 0; t < frames; t++ {
		if !mask[t] {
			continue
		}
		p, n := prev[t], next[t]
		for u := 0; u < units; u++ {
			switch {
			case p < 0 && n < 0:
				out.Set(u, t, 0)
			case p < 0:
				out.Set(u, t, out.At(u, n))
			case n < 0:
				out.Set(u, t, out.At(u, p))
			default:
				w := float64(t-p) / float64(n-p)
				out.Set(u, t, (1-w)*out.At(u, p)+w*out.At(u, n))
			}
		}
	}
	return out
}
