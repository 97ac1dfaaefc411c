package dataio

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/natefinch/atomic"
	"gonum.org/v1/gonum/mat"

	"boldpost/pkg/pipeline"
	"boldpost/pkg/qc"
)

// WriteOutputs persists every product of a completed run under dir,
// one file per product, named <prefix>_<suffix>. Products the run did
// not compute are skipped. exactVolumes names the fixed-volume
// connectivity variant's frame count in its file name.
func WriteOutputs(dir, prefix string, out *pipeline.Outputs, exactVolumes int) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating output directory %s: %v", dir, err)
	}
	target := func(suffix string) string {
		return filepath.Join(dir, prefix+"_"+suffix)
	}

	if err := writeMotionTable(target("motion.tsv"), out.Trace.Params, out.Trace.FD); err != nil {
		return err
	}
	if out.Trace.Filtered {
		if err := writeMotionTable(target("desc-filtered_motion.tsv"), out.Trace.FilteredParams, out.Trace.FilteredFD); err != nil {
			return err
		}
	}
	if err := writeOutlierTable(target("outliers.tsv"), out.Scrub.Mask); err != nil {
		return err
	}
	if err := writeDesignTable(target("design.tsv"), out.Design.Names, out.Design.Data); err != nil {
		return err
	}

	if err := WriteMatrixNPY(target("desc-denoised_bold.npy"), out.Filtered); err != nil {
		return err
	}
	if out.Regression.Interpolated != nil {
		if err := WriteMatrixNPY(target("desc-interpolated_bold.npy"), out.Regression.Interpolated); err != nil {
			return err
		}
	}
	if out.Smoothed != nil {
		if err := WriteMatrixNPY(target("desc-smoothed_bold.npy"), out.Smoothed); err != nil {
			return err
		}
	}

	names := make([]string, 0, len(out.Atlases))
	for name := range out.Atlases {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		ao := out.Atlases[name]
		if ao == nil || ao.Series == nil {
			continue
		}
		atlasTarget := func(suffix string) string {
			return target(fmt.Sprintf("atlas-%s_%s", name, suffix))
		}
		if err := writeSeriesTable(atlasTarget("timeseries.tsv"), ao.Series.ParcelIDs, ao.Series.Data); err != nil {
			return err
		}
		if err := writeCoverageTable(atlasTarget("coverage.tsv"), ao.Series.ParcelIDs, ao.Series.Coverage, ao.Series.Valid); err != nil {
			return err
		}
		if ao.Connectivity != nil {
			if err := writeConnectivityTable(atlasTarget("connectivity.tsv"), ao.Series.ParcelIDs, ao.Connectivity); err != nil {
				return err
			}
		}
		if ao.ExactConnectivity != nil {
			suffix := fmt.Sprintf("desc-exact%d_connectivity.tsv", exactVolumes)
			if err := writeConnectivityTable(atlasTarget(suffix), ao.Series.ParcelIDs, ao.ExactConnectivity); err != nil {
				return err
			}
		}
	}

	if out.ReHo != nil {
		if err := WriteVectorNPY(target("reho.npy"), out.ReHo); err != nil {
			return err
		}
	}
	if out.ALFF != nil {
		if err := WriteVectorNPY(target("alff.npy"), out.ALFF); err != nil {
			return err
		}
	}
	if out.ALFFSmoothed != nil {
		if err := WriteVectorNPY(target("desc-smoothed_alff.npy"), out.ALFFSmoothed); err != nil {
			return err
		}
	}

	if out.QC != nil {
		if err := writeTSV(target("qc.tsv"), out.QC.Header(), [][]string{out.QC.Row()}); err != nil {
			return err
		}
	}
	if out.ScrubReport != nil {
		if err := writeScrubReport(target("scrub.json"), out.ScrubReport); err != nil {
			return err
		}
	}
	return nil
}

func writeMotionTable(path string, params *mat.Dense, fd []float64) error {
	header := append(append([]string{}, motionColumns...), "framewise_displacement")
	frames, _ := params.Dims()
	rows := make([][]string, frames)
	for t := 0; t < frames; t++ {
		row := make([]string, 0, len(header))
		for j := 0; j < len(motionColumns); j++ {
			row = append(row, formatCell(params.At(t, j)))
		}
		row = append(row, formatCell(fd[t]))
		rows[t] = row
	}
	return writeTSV(path, header, rows)
}

func writeOutlierTable(path string, mask []bool) error {
	rows := make([][]string, len(mask))
	for t, censored := range mask {
		bit := "0"
		if censored {
			bit = "1"
		}
		rows[t] = []string{bit}
	}
	return writeTSV(path, []string{"censored"}, rows)
}

func writeDesignTable(path string, names []string, data *mat.Dense) error {
	frames, cols := data.Dims()
	rows := make([][]string, frames)
	for t := 0; t < frames; t++ {
		row := make([]string, cols)
		for j := 0; j < cols; j++ {
			row[j] = formatCell(data.At(t, j))
		}
		rows[t] = row
	}
	return writeTSV(path, names, rows)
}

// writeSeriesTable writes the parcel signal one frame per row, one
// parcel per column.
func writeSeriesTable(path string, parcelIDs []int, data *mat.Dense) error {
	header := make([]string, len(parcelIDs))
	for i, id := range parcelIDs {
		header[i] = "parcel-" + strconv.Itoa(id)
	}
	parcels, frames := data.Dims()
	rows := make([][]string, frames)
	for t := 0; t < frames; t++ {
		row := make([]string, parcels)
		for p := 0; p < parcels; p++ {
			row[p] = formatCell(data.At(p, t))
		}
		rows[t] = row
	}
	return writeTSV(path, header, rows)
}

func writeCoverageTable(path string, parcelIDs []int, coverage []float64, valid []bool) error {
	rows := make([][]string, len(parcelIDs))
	for i, id := range parcelIDs {
		validBit := "0"
		if valid[i] {
			validBit = "1"
		}
		rows[i] = []string{strconv.Itoa(id), formatCell(coverage[i]), validBit}
	}
	return writeTSV(path, []string{"parcel", "coverage", "valid"}, rows)
}

// writeConnectivityTable writes a square correlation matrix with a
// leading column naming the row's parcel.
func writeConnectivityTable(path string, parcelIDs []int, conn *mat.Dense) error {
	header := make([]string, 0, len(parcelIDs)+1)
	header = append(header, "parcel")
	for _, id := range parcelIDs {
		header = append(header, "parcel-"+strconv.Itoa(id))
	}
	n, _ := conn.Dims()
	rows := make([][]string, n)
	for i := 0; i < n; i++ {
		row := make([]string, 0, n+1)
		row = append(row, "parcel-"+strconv.Itoa(parcelIDs[i]))
		for j := 0; j < n; j++ {
			row = append(row, formatCell(conn.At(i, j)))
		}
		rows[i] = row
	}
	return writeTSV(path, header, rows)
}

func writeScrubReport(path string, report *qc.ScrubReport) error {
	raw, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("error encoding scrub report %s: %v", path, err)
	}
	raw = append(raw, '\n')
	if err := atomic.WriteFile(path, bytes.NewReader(raw)); err != nil {
		return fmt.Errorf("error writing scrub report %s: %v", path, err)
	}
	return nil
}
