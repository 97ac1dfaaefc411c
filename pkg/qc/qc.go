// Package qc aggregates per-run quality control metrics from the
// motion trace, the censoring record and the per-atlas coverage
// tables into a tabular summary row and an optional structured
// scrubbing report.
package qc

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"

	"boldpost/internal/models"
)

// Summary is one per-run row of the QC table. FD statistics before
// censoring cover every frame of the trace actually used for frame
// selection, so they reflect the filtered parameters when a motion
// filter was applied.
type Summary struct {
	RunID            string
	RunName          string
	TotalFrames      int
	RetainedFrames   int
	CensoredFrames   int
	FDThreshold      float64
	MeanFD           float64
	MaxFD            float64
	MeanRetainedFD   float64
	RemainingSeconds float64
	MeanCoverage     map[string]float64
}

// ScrubReport is the structured scrubbing record emitted when DCAN
// style QC output is enabled. MeanRetainedFD is nil when no frames
// survived censoring.
type ScrubReport struct {
	RunID            string   `json:"runId"`
	FDThreshold      float64  `json:"fdThreshold"`
	Mask             []int    `json:"mask"`
	TotalFrames      int      `json:"totalFrameCount"`
	RemainingFrames  int      `json:"remainingFrameCount"`
	RemainingSeconds float64  `json:"remainingSeconds"`
	MeanRetainedFD   *float64 `json:"meanRetainedFd"`
	MaskRLE          string   `json:"maskRunLength"`
}

// Summarize builds the QC row for one run. The rois map is keyed by
// atlas name; each entry contributes a mean coverage column.
func Summarize(run *models.Run, trace *models.MotionTrace, scrub *models.ScrubRecord, rois map[string]*models.ROITimeSeries) (*Summary, error) {
	fd := trace.ActiveFD()
	if len(fd) == 0 {
		return nil, fmt.Errorf("motion trace has no FD samples")
	}
	if len(fd) != scrub.TotalFrames {
		return nil, fmt.Errorf("FD length %d does not match scrub record frame count %d", len(fd), scrub.TotalFrames)
	}

	coverage := make(map[string]float64, len(rois))
	for name, roi := range rois {
		if len(roi.Coverage) == 0 {
			return nil, fmt.Errorf("atlas %q has an empty coverage table", name)
		}
		coverage[name] = stat.Mean(roi.Coverage, nil)
	}

	return &Summary{
		RunID:            run.ID,
		RunName:          run.Name,
		TotalFrames:      scrub.TotalFrames,
		RetainedFrames:   scrub.RemainingFrames,
		CensoredFrames:   scrub.TotalFrames - scrub.RemainingFrames,
		FDThreshold:      scrub.Threshold,
		MeanFD:           stat.Mean(fd, nil),
		MaxFD:            floats.Max(fd),
		MeanRetainedFD:   scrub.MeanRetainedFD,
		RemainingSeconds: scrub.RemainingSeconds,
		MeanCoverage:     coverage,
	}, nil
}

// AtlasNames returns the coverage column keys in stable sorted order.
func (s *Summary) AtlasNames() []string {
	names := make([]string, 0, len(s.MeanCoverage))
	for name := range s.MeanCoverage {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Header returns the QC table column names matching Row.
func (s *Summary) Header() []string {
	header := []string{
		"run_id", "run_name",
		"total_frames", "retained_frames", "censored_frames",
		"fd_threshold", "mean_fd", "max_fd", "mean_retained_fd",
		"remaining_seconds",
	}
	for _, name := range s.AtlasNames() {
		header = append(header, "coverage_"+name)
	}
	return header
}

// Row renders the summary as one table row. Undefined values, such as
// the mean retained FD of a fully censored run, render as "n/a".
func (s *Summary) Row() []string {
	row := []string{
		s.RunID, s.RunName,
		strconv.Itoa(s.TotalFrames), strconv.Itoa(s.RetainedFrames), strconv.Itoa(s.CensoredFrames),
		formatFloat(s.FDThreshold), formatFloat(s.MeanFD), formatFloat(s.MaxFD), formatFloat(s.MeanRetainedFD),
		formatFloat(s.RemainingSeconds),
	}
	for _, name := range s.AtlasNames() {
		row = append(row, formatFloat(s.MeanCoverage[name]))
	}
	return row
}

// NewScrubReport converts a censoring record into the seven field
// scrubbing report, including the legacy run length encoding of the
// frame mask.
func NewScrubReport(runID string, scrub *models.ScrubRecord) *ScrubReport {
	mask := make([]int, len(scrub.Mask))
	for t, censored := range scrub.Mask {
		if censored {
			mask[t] = 1
		}
	}

	report := &ScrubReport{
		RunID:            runID,
		FDThreshold:      scrub.Threshold,
		Mask:             mask,
		TotalFrames:      scrub.TotalFrames,
		RemainingFrames:  scrub.RemainingFrames,
		RemainingSeconds: scrub.RemainingSeconds,
		MaskRLE:          EncodeRLE(scrub.Mask),
	}
	if !math.IsNaN(scrub.MeanRetainedFD) {
		mean := scrub.MeanRetainedFD
		report.MeanRetainedFD = &mean
	}
	return report
}

// EncodeRLE compresses a frame mask into the legacy run length string,
// one "<count>x<bit>" token per run of equal bits, comma joined. The
// mask [false false true false true] encodes as "2x0,1x1,1x0,1x1".
func EncodeRLE(mask []bool) string {
	if len(mask) == 0 {
		return ""
	}

	var b strings.Builder
	runStart := 0
	for t := 1; t <= len(mask); t++ {
		if t < len(mask) && mask[t] == mask[runStart] {
			continue
		}
		if runStart > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Itoa(t - runStart))
		if mask[runStart] {
			b.WriteString("x1")
		} else {
			b.WriteString("x0")
		}
		runStart = t
	}
	return b.String()
}

// DecodeRLE expands a legacy run length string back into a frame mask.
func DecodeRLE(s string) ([]bool, error) {
	if s == "" {
		return []bool{}, nil
	}

	var mask []bool
	for _, token := range strings.Split(s, ",") {
		countPart, bitPart, found := strings.Cut(token, "x")
		if !found {
			return nil, fmt.Errorf("malformed run length token %q", token)
		}
		count, err := strconv.Atoi(countPart)
		if err != nil || count <= 0 {
			return nil, fmt.Errorf("malformed run length token %q", token)
		}
		var bit bool
		switch bitPart {
		case "0":
			bit = false
		case "1":
			bit = true
		default:
			return nil, fmt.Errorf("malformed run length token %q", token)
		}
		for i := 0; i < count; i++ {
			mask = append(mask, bit)
		}
	}
	return mask, nil
}

func formatFloat(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
