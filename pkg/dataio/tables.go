package dataio

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/natefinch/atomic"
	"gonum.org/v1/gonum/mat"

	"boldpost/internal/models"
)

// motionColumns are the six rigid-body parameters a motion table must
// provide, in trans/rot order.
var motionColumns = []string{"trans_x", "trans_y", "trans_z", "rot_x", "rot_y", "rot_z"}

// ReadConfoundsTSV reads a tab separated confound table with a header
// row. Cells holding "n/a", "nan" or nothing parse as NaN so sparse
// columns such as outlier flags survive unchanged.
func ReadConfoundsTSV(path string) (*models.ConfoundSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening confound table %s: %v", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '\t'
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error parsing confound table %s: %v", path, err)
	}
	if len(records) < 2 {
		return nil, fmt.Errorf("confound table %s has no data rows", path)
	}

	header := records[0]
	rows := len(records) - 1
	data := mat.NewDense(rows, len(header), nil)
	for i, record := range records[1:] {
		for j, cell := range record {
			v, err := parseCell(cell)
			if err != nil {
				return nil, fmt.Errorf("confound table %s row %d column %q: %v", path, i+2, header[j], err)
			}
			data.Set(i, j, v)
		}
	}
	return &models.ConfoundSet{Names: append([]string{}, header...), Data: data}, nil
}

// ReadMotionTSV reads a tab separated motion table and returns the six
// rigid-body parameter columns as a frames-by-6 matrix.
func ReadMotionTSV(path string) (*mat.Dense, error) {
	table, err := ReadConfoundsTSV(path)
	if err != nil {
		return nil, err
	}
	motion, err := MotionFromConfounds(table)
	if err != nil {
		return nil, fmt.Errorf("motion table %s: %v", path, err)
	}
	return motion, nil
}

// MotionFromConfounds extracts the six rigid-body parameter columns
// from a confound table.
func MotionFromConfounds(confounds *models.ConfoundSet) (*mat.Dense, error) {
	frames, _ := confounds.Data.Dims()
	motion := mat.NewDense(frames, len(motionColumns), nil)
	for j, name := range motionColumns {
		col, ok := confounds.Column(name)
		if !ok {
			return nil, fmt.Errorf("missing motion parameter column %q", name)
		}
		motion.SetCol(j, col)
	}
	return motion, nil
}

func parseCell(cell string) (float64, error) {
	trimmed := strings.TrimSpace(cell)
	switch strings.ToLower(trimmed) {
	case "", "n/a", "na", "nan":
		return math.NaN(), nil
	}
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, fmt.Errorf("cannot parse value %q", cell)
	}
	return v, nil
}

// writeTSV writes a header row plus data rows through an atomic
// replace.
func writeTSV(path string, header []string, rows [][]string) error {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.Comma = '\t'
	if err := w.Write(header); err != nil {
		return fmt.Errorf("error encoding table %s: %v", path, err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("error encoding table %s: %v", path, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return fmt.Errorf("error encoding table %s: %v", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("error writing table %s: %v", path, err)
	}
	return nil
}

// formatCell renders a value for a tab separated table, using "n/a"
// for undefined entries.
func formatCell(v float64) string {
	if math.IsNaN(v) {
		return "n/a"
	}
	return strconv.FormatFloat(v, 'g', -1, 64)
}
