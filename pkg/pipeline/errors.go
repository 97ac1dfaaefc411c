package pipeline

import "fmt"

// Stage failures fall into four kinds with different blast radii.
// Every kind carries the run and stage identity needed to reproduce
// the condition and unwraps to the underlying cause for errors.As.

// ConfigError marks an invalid or incompatible option combination,
// such as requesting ALFF while censoring is active. The affected
// output is dropped; the run continues for its other outputs.
type ConfigError struct {
	RunID string
	Stage string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// DataError marks missing or malformed input data, such as a confound
// table without a required column. It is fatal for the whole run.
type DataError struct {
	RunID string
	Stage string
	Err   error
}

func (e *DataError) Error() string {
	return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *DataError) Unwrap() error { return e.Err }

// NumericError marks a computation that cannot proceed, such as a
// singular design matrix, a filter cutoff beyond Nyquist or zero
// retained frames. It is fatal for the affected stage; independent
// stages with valid inputs still attempt to proceed.
type NumericError struct {
	RunID string
	Stage string
	Err   error
}

func (e *NumericError) Error() string {
	return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *NumericError) Unwrap() error { return e.Err }

// InsufficientDataError marks a request for more retained data than
// the run holds, such as an exact-volume count above the retained
// frame count. The requesting output is skipped; others proceed.
type InsufficientDataError struct {
	RunID string
	Stage string
	Err   error
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("run %s: %s: %v", e.RunID, e.Stage, e.Err)
}

func (e *InsufficientDataError) Unwrap() error { return e.Err }
