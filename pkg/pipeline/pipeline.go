// Package pipeline runs the per-run post-processing chain: framewise
// displacement, censoring, nuisance design, denoising regression and
// temporal filtering in sequence, then the parcelwise and mapwise
// derivative stages fanned out in parallel on the filtered signal.
// Runs themselves fan out across a bounded worker pool.
package pipeline

import (
	"fmt"
	"runtime"
	"sync"

	"github.com/google/uuid"
	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
	"boldpost/pkg/bandpass"
	"boldpost/pkg/censor"
	"boldpost/pkg/config"
	"boldpost/pkg/connectivity"
	"boldpost/pkg/design"
	"boldpost/pkg/despike"
	"boldpost/pkg/motion"
	"boldpost/pkg/parcellation"
	"boldpost/pkg/qc"
	"boldpost/pkg/regression"
	"boldpost/pkg/restingstate"
	"boldpost/pkg/smooth"
)

// Inputs bundles everything one run consumes.
type Inputs struct {
	// Run carries the BOLD matrix, its spatial domain and the
	// acquisition metadata.
	Run *models.Run

	// Motion is the frames-by-6 rigid-body parameter table, three
	// translations in mm followed by three rotations in radians.
	Motion *mat.Dense

	// Confounds is the fMRIPrep-style confound table. Required by
	// every nuisance strategy except none.
	Confounds *models.ConfoundSet

	// Atlases lists the parcellations to aggregate, possibly empty.
	Atlases []*models.Atlas
}

// AtlasOutputs groups the products derived under one atlas.
type AtlasOutputs struct {
	Series       *models.ROITimeSeries
	Connectivity *mat.Dense

	// ExactConnectivity is the fixed-volume-count variant. Nil when
	// the feature is disabled or skipped for lack of retained frames.
	ExactConnectivity *mat.Dense
}

// Outputs collects everything a completed run hands to persistence.
type Outputs struct {
	RunID string

	Trace      *models.MotionTrace
	Scrub      *models.ScrubRecord
	Design     *design.Matrix
	Regression *regression.Result

	// Filtered is the band-limited residual, units by retained frames.
	// It aliases the raw residual when band-pass filtering is off.
	Filtered *mat.Dense

	// Smoothed is the spatially smoothed filtered signal, nil unless a
	// smoothing kernel is configured.
	Smoothed *mat.Dense

	Atlases map[string]*AtlasOutputs

	ReHo         []float64
	ALFF         []float64
	ALFFSmoothed []float64

	QC          *qc.Summary
	ScrubReport *qc.ScrubReport

	// Problems lists outputs dropped without failing the run, each
	// typed by kind.
	Problems []error
}

// RunResult pairs one run's outputs with its terminal error, if any.
type RunResult struct {
	RunName string
	Outputs *Outputs
	Err     error
}

// Runner executes the processing chain under one configuration. The
// configuration is expected to have passed Validate.
type Runner struct {
	cfg *config.Config
}

// NewRunner creates a runner for the given configuration.
func NewRunner(cfg *config.Config) *Runner {
	return &Runner{cfg: cfg}
}

// Process runs the full chain for one run. A nil error means the run
// completed and Outputs is publishable, short of the outputs listed in
// Problems; a non-nil error means the run was abandoned and none of
// its products may be published.
func (r *Runner) Process(in *Inputs) (*Outputs, error) {
	runID, tr, err := r.checkInputs(in)
	if err != nil {
		return nil, err
	}
	domain := in.Run.Domain

	// Step 1: Drop dummy scans acquired before steady state.
	dummy := 0
	if r.cfg.DummyScansAuto() {
		dummy = censor.CountNonSteadyState(in.Confounds)
	} else if dummy, err = r.cfg.DummyScanCount(); err != nil {
		return nil, &ConfigError{RunID: runID, Stage: "dummy scans", Err: err}
	}
	r.logf("Step 1: Dropping %d dummy scans...", dummy)
	bold, params, confounds, err := censor.DropInitialFrames(in.Run.Bold, in.Motion, in.Confounds, dummy)
	if err != nil {
		return nil, &DataError{RunID: runID, Stage: "dummy scans", Err: err}
	}
	run := &models.Run{ID: runID, Name: in.Run.Name, TR: tr, Space: in.Run.Space, Domain: domain, Bold: bold}

	// Step 2: Motion parameters to framewise displacement.
	r.logf("Step 2: Computing framewise displacement...")
	var radius float64
	if r.cfg.HeadRadiusAuto() {
		radius = motion.EstimateHeadRadius(domain)
		r.logf("Estimated head radius: %.1f mm", radius)
	} else if radius, err = r.cfg.HeadRadiusMM(); err != nil {
		return nil, &ConfigError{RunID: runID, Stage: "motion", Err: err}
	}
	var spec *motion.FilterSpec
	if r.cfg.MotionFilter.Type != config.MotionFilterNone {
		spec = &motion.FilterSpec{
			Type:        r.cfg.MotionFilter.Type,
			BandStopMin: r.cfg.MotionFilter.BandStopMin,
			BandStopMax: r.cfg.MotionFilter.BandStopMax,
			Order:       r.cfg.MotionFilter.Order,
		}
	}
	trace, err := motion.Extract(params, radius, tr, spec)
	if err != nil {
		return nil, &NumericError{RunID: runID, Stage: "motion", Err: err}
	}

	// Step 3: Censor high-motion frames.
	r.logf("Step 3: Censoring frames above FD %g mm...", r.cfg.Censoring.FDThreshold)
	scrub := censor.Select(trace.ActiveFD(), r.cfg.Censoring.FDThreshold, tr)
	r.logf("Keeping %d of %d frames (%.1f s)", scrub.RemainingFrames, scrub.TotalFrames, scrub.RemainingSeconds)
	if err := censor.CheckMinTime(scrub, r.cfg.Censoring.MinTime); err != nil {
		return nil, &InsufficientDataError{RunID: runID, Stage: "censoring", Err: err}
	}
	if scrub.RemainingFrames == 0 {
		return nil, &NumericError{RunID: runID, Stage: "censoring", Err: fmt.Errorf("zero retained frames, nothing left to denoise")}
	}

	// Step 4: Optional spike suppression before the fit.
	if r.cfg.Nuisance.Despike {
		r.logf("Step 4: Despiking BOLD series...")
		cleaned, clamped, err := despike.Signal(run.Bold, despike.DefaultWindow, despike.DefaultThreshold)
		if err != nil {
			return nil, &NumericError{RunID: runID, Stage: "despike", Err: err}
		}
		r.logf("Despiking clamped %d samples", clamped)
		run.Bold = cleaned
	}

	// Step 5: Assemble the nuisance design.
	r.logf("Step 5: Building nuisance design (strategy %s)...", r.cfg.Nuisance.Strategy)
	nuisance, err := design.Expand(r.cfg.Nuisance.Strategy, confounds, r.cfg.Nuisance.CustomConfounds)
	if err != nil {
		return nil, &DataError{RunID: runID, Stage: "design", Err: err}
	}
	dm, err := design.Build(nuisance, scrub.Mask)
	if err != nil {
		return nil, &DataError{RunID: runID, Stage: "design", Err: err}
	}

	// Step 6: Fit and remove the nuisance model.
	r.logf("Step 6: Regressing %d design columns on retained frames...", dm.Columns())
	fit, err := regression.Denoise(run.Bold, dm, scrub.Mask, r.cfg.Output.WriteInterpolated)
	if err != nil {
		return nil, &NumericError{RunID: runID, Stage: "regression", Err: err}
	}

	// Step 7: Band-limit the residual.
	filtered := fit.Residual
	if r.cfg.Bandpass.Enabled {
		r.logf("Step 7: Band-pass filtering %g-%g Hz...", r.cfg.Bandpass.Low, r.cfg.Bandpass.High)
		filter, err := bandpass.BandPass(r.cfg.Bandpass.Low, r.cfg.Bandpass.High, 1/tr, r.cfg.Bandpass.Order)
		if err != nil {
			return nil, &NumericError{RunID: runID, Stage: "bandpass", Err: err}
		}
		filtered = filterRows(filter, fit.Residual)
	}

	out := &Outputs{
		RunID:      runID,
		Trace:      trace,
		Scrub:      scrub,
		Design:     dm,
		Regression: fit,
		Filtered:   filtered,
		Atlases:    make(map[string]*AtlasOutputs, len(in.Atlases)),
	}

	// Step 8: Independent derivatives fan out in parallel; each task
	// owns its own result slot, joined below.
	r.logf("Step 8: Deriving parcel series, connectivity and maps...")
	var wg sync.WaitGroup

	atlasOuts := make([]*AtlasOutputs, len(in.Atlases))
	atlasProblems := make([][]error, len(in.Atlases))
	for i := range in.Atlases {
		wg.Add(1)
		go func(i int, atlas *models.Atlas) {
			defer wg.Done()
			series, err := parcellation.Extract(filtered, atlas, r.cfg.Connectivity.MinCoverage)
			if err != nil {
				atlasProblems[i] = append(atlasProblems[i], &NumericError{RunID: runID, Stage: "parcellation " + atlas.Name, Err: err})
				return
			}
			ao := &AtlasOutputs{Series: series, Connectivity: connectivity.Matrix(series)}
			if n := r.cfg.Connectivity.ExactVolumes; n > 0 {
				frames, err := connectivity.Subsample(scrub.RemainingFrames, n, r.cfg.Connectivity.RandomSeed)
				if err != nil {
					atlasProblems[i] = append(atlasProblems[i], &InsufficientDataError{RunID: runID, Stage: "exact-volume connectivity " + atlas.Name, Err: err})
				} else {
					ao.ExactConnectivity = connectivity.Matrix(connectivity.SelectFrames(series, frames))
				}
			}
			atlasOuts[i] = ao
		}(i, in.Atlases[i])
	}

	var smoothProblem, rehoProblem, alffProblem error
	if r.cfg.Derivatives.SmoothingFWHM > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			smoothed, err := smooth.Signal(filtered, domain, r.cfg.Derivatives.SmoothingFWHM)
			if err != nil {
				smoothProblem = &NumericError{RunID: runID, Stage: "smoothing", Err: err}
				return
			}
			out.Smoothed = smoothed
		}()
	}
	if r.cfg.Derivatives.ReHo {
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := restingstate.ReHo(filtered, domain)
			if err != nil {
				rehoProblem = &NumericError{RunID: runID, Stage: "reho", Err: err}
				return
			}
			out.ReHo = m
		}()
	}
	if r.cfg.Derivatives.ALFF {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if !r.cfg.ALFFCompatible() {
				alffProblem = &ConfigError{RunID: runID, Stage: "alff", Err: fmt.Errorf(
					"alff requires band-pass filtering enabled and censoring disabled (fdThreshold %v)",
					r.cfg.Censoring.FDThreshold)}
				return
			}
			m, err := restingstate.ALFF(filtered, tr, r.cfg.Bandpass.Low, r.cfg.Bandpass.High)
			if err != nil {
				alffProblem = &NumericError{RunID: runID, Stage: "alff", Err: err}
				return
			}
			out.ALFF = m
			if r.cfg.Derivatives.SmoothingFWHM > 0 {
				s, err := smooth.Map(m, domain, r.cfg.Derivatives.SmoothingFWHM)
				if err != nil {
					alffProblem = &NumericError{RunID: runID, Stage: "alff smoothing", Err: err}
					return
				}
				out.ALFFSmoothed = s
			}
		}()
	}
	wg.Wait()

	for i, ao := range atlasOuts {
		if ao != nil {
			out.Atlases[in.Atlases[i].Name] = ao
		}
		out.Problems = append(out.Problems, atlasProblems[i]...)
	}
	for _, p := range []error{smoothProblem, rehoProblem, alffProblem} {
		if p != nil {
			out.Problems = append(out.Problems, p)
		}
	}

	// Step 9: Aggregate quality control.
	r.logf("Step 9: Aggregating quality control...")
	rois := make(map[string]*models.ROITimeSeries, len(out.Atlases))
	for name, ao := range out.Atlases {
		rois[name] = ao.Series
	}
	summary, err := qc.Summarize(run, trace, scrub, rois)
	if err != nil {
		return nil, &NumericError{RunID: runID, Stage: "qc", Err: err}
	}
	out.QC = summary
	if r.cfg.Output.DCANQC {
		out.ScrubReport = qc.NewScrubReport(runID, scrub)
	}

	for _, p := range out.Problems {
		r.logf("Warning: %v", p)
	}
	return out, nil
}

// ProcessAll processes the runs concurrently on a worker pool bounded
// by the configured worker count. Results come back in input order; a
// failed run carries its error and nil outputs while sibling runs are
// unaffected.
func (r *Runner) ProcessAll(inputs []*Inputs) []RunResult {
	results := make([]RunResult, len(inputs))

	workers := r.cfg.Processing.Workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if workers > len(inputs) {
		workers = len(inputs)
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				outputs, err := r.Process(inputs[i])
				name := ""
				if inputs[i] != nil && inputs[i].Run != nil {
					name = inputs[i].Run.Name
				}
				results[i] = RunResult{RunName: name, Outputs: outputs, Err: err}
			}
		}()
	}
	for i := range inputs {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// checkInputs validates the input bundle and resolves the run identity
// and repetition time used by every later stage.
func (r *Runner) checkInputs(in *Inputs) (string, float64, error) {
	if in == nil || in.Run == nil {
		return "", 0, &DataError{Stage: "inputs", Err: fmt.Errorf("no run provided")}
	}
	run := in.Run
	id := run.ID
	if id == "" {
		id = uuid.NewString()
	}
	bad := func(format string, args ...any) (string, float64, error) {
		return "", 0, &DataError{RunID: id, Stage: "inputs", Err: fmt.Errorf(format, args...)}
	}

	if run.Bold == nil {
		return bad("run has no BOLD signal")
	}
	if run.Domain == nil {
		return bad("run has no spatial domain")
	}
	if run.Frames() == 0 {
		return bad("run has no frames")
	}
	if run.Units() != run.Domain.Units() {
		return bad("signal has %d spatial units, domain has %d", run.Units(), run.Domain.Units())
	}
	if in.Motion == nil {
		return bad("run has no motion parameters")
	}
	rows, cols := in.Motion.Dims()
	if cols != 6 {
		return bad("motion parameters need 6 columns, got %d", cols)
	}
	if rows != run.Frames() {
		return bad("motion parameters have %d frames, signal has %d", rows, run.Frames())
	}
	if in.Confounds != nil && in.Confounds.Frames() != run.Frames() {
		return bad("confound table has %d frames, signal has %d", in.Confounds.Frames(), run.Frames())
	}
	seen := make(map[string]bool, len(in.Atlases))
	for _, atlas := range in.Atlases {
		if atlas == nil {
			return bad("nil atlas in inputs")
		}
		if seen[atlas.Name] {
			return bad("duplicate atlas name %q", atlas.Name)
		}
		seen[atlas.Name] = true
		if len(atlas.Labels) != run.Units() {
			return bad("atlas %s labels %d units, signal has %d", atlas.Name, len(atlas.Labels), run.Units())
		}
	}

	tr := run.TR
	if tr <= 0 {
		tr = r.cfg.Processing.TR
	}
	if tr <= 0 {
		return "", 0, &DataError{RunID: id, Stage: "inputs", Err: fmt.Errorf("repetition time unknown, set tr on the run or in the configuration")}
	}
	return id, tr, nil
}

// filterRows applies the filter forward and backward over every unit
// series of a units-by-frames matrix.
func filterRows(f *bandpass.Filter, signal *mat.Dense) *mat.Dense {
	units, frames := signal.Dims()
	out := mat.NewDense(units, frames, nil)
	for u := 0; u < units; u++ {
		out.SetRow(u, f.ApplyZeroPhase(signal.RawRowView(u)))
	}
	return out
}

func (r *Runner) logf(format string, args ...any) {
	if r.cfg.Output.Verbose {
		fmt.Printf(format+"\n", args...)
	}
}
