// Package dataio moves data between the pipeline and its collaborators:
// npy arrays for signals, masks and maps, tab separated tables for
// confounds and summaries, and a YAML manifest describing a batch of
// runs. Every file write goes through atomic replacement so a failed
// run never leaves a truncated product behind.
package dataio

import (
	"bytes"
	"fmt"
	"io"

	"github.com/kshedden/gonpy"
	"github.com/natefinch/atomic"
	"gonum.org/v1/gonum/mat"
)

// ReadArrayNPY loads an npy array of any supported numeric dtype and
// returns its shape alongside the values as float64 in row-major
// order. Arrays of up to three dimensions are supported.
func ReadArrayNPY(path string) ([]int, []float64, error) {
	r, err := gonpy.NewFileReader(path)
	if err != nil {
		return nil, nil, fmt.Errorf("error opening npy file %s: %v", path, err)
	}
	if len(r.Shape) == 0 || len(r.Shape) > 3 {
		return nil, nil, fmt.Errorf("npy file %s: expected 1 to 3 dimensions, got %d", path, len(r.Shape))
	}

	data, err := readValues(r)
	if err != nil {
		return nil, nil, fmt.Errorf("error reading npy file %s: %v", path, err)
	}
	shape := append([]int{}, r.Shape...)
	if r.ColumnMajor {
		data = toRowMajor(data, shape)
	}
	return shape, data, nil
}

// ReadMatrixNPY loads a 2-D npy array as a dense matrix.
func ReadMatrixNPY(path string) (*mat.Dense, error) {
	shape, data, err := ReadArrayNPY(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 2 {
		return nil, fmt.Errorf("npy file %s: expected a 2-D array, got %d dimensions", path, len(shape))
	}
	return mat.NewDense(shape[0], shape[1], data), nil
}

// WriteMatrixNPY writes a dense matrix as a 2-D float64 npy file.
func WriteMatrixNPY(path string, m *mat.Dense) error {
	rows, cols := m.Dims()
	data := make([]float64, 0, rows*cols)
	for i := 0; i < rows; i++ {
		data = append(data, m.RawRowView(i)...)
	}
	return writeNPY(path, []int{rows, cols}, data)
}

// WriteVectorNPY writes a slice as a 1-D float64 npy file.
func WriteVectorNPY(path string, v []float64) error {
	return writeNPY(path, []int{len(v)}, v)
}

// WriteArrayNPY writes row-major values under an arbitrary shape.
func WriteArrayNPY(path string, shape []int, data []float64) error {
	n := 1
	for _, s := range shape {
		n *= s
	}
	if len(shape) == 0 || n != len(data) {
		return fmt.Errorf("shape %v does not describe %d values", shape, len(data))
	}
	return writeNPY(path, shape, data)
}

func writeNPY(path string, shape []int, data []float64) error {
	var buf bytes.Buffer
	w, err := gonpy.NewWriter(nopCloser{&buf})
	if err != nil {
		return fmt.Errorf("error creating npy writer for %s: %v", path, err)
	}
	w.Shape = shape
	w.Version = 2
	if err := w.WriteFloat64(data); err != nil {
		return fmt.Errorf("error encoding npy file %s: %v", path, err)
	}
	if err := atomic.WriteFile(path, bytes.NewReader(buf.Bytes())); err != nil {
		return fmt.Errorf("error writing npy file %s: %v", path, err)
	}
	return nil
}

// readValues converts whichever numeric dtype the file carries into
// float64 values.
func readValues(r *gonpy.NpyReader) ([]float64, error) {
	switch r.Dtype {
	case "f8":
		return r.GetFloat64()
	case "f4":
		v, err := r.GetFloat32()
		if err != nil {
			return nil, err
		}
		return widen(v), nil
	case "i8":
		v, err := r.GetInt64()
		if err != nil {
			return nil, err
		}
		return widen(v), nil
	case "i4":
		v, err := r.GetInt32()
		if err != nil {
			return nil, err
		}
		return widen(v), nil
	case "i2":
		v, err := r.GetInt16()
		if err != nil {
			return nil, err
		}
		return widen(v), nil
	case "i1":
		v, err := r.GetInt8()
		if err != nil {
			return nil, err
		}
		return widen(v), nil
	default:
		return nil, fmt.Errorf("unsupported npy dtype %q", r.Dtype)
	}
}

func widen[T float32 | int64 | int32 | int16 | int8](v []T) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

// toRowMajor reorders column-major (Fortran order) values into row
// major order for the given shape.
func toRowMajor(data []float64, shape []int) []float64 {
	// Column-major strides grow with leading axes, row-major strides
	// with trailing ones.
	colStride := make([]int, len(shape))
	s := 1
	for i := 0; i < len(shape); i++ {
		colStride[i] = s
		s *= shape[i]
	}
	rowStride := make([]int, len(shape))
	s = 1
	for i := len(shape) - 1; i >= 0; i-- {
		rowStride[i] = s
		s *= shape[i]
	}

	out := make([]float64, len(data))
	idx := make([]int, len(shape))
	for flat := range out {
		rem := flat
		src := 0
		for i := range shape {
			idx[i] = rem / rowStride[i]
			rem %= rowStride[i]
			src += idx[i] * colStride[i]
		}
		out[flat] = data[src]
	}
	return out
}

type nopCloser struct{ io.Writer }

func (nopCloser) Close() error { return nil }
