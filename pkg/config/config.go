// Package config provides configuration loading and management for boldpost.
// It handles loading configuration from YAML files, provides default values,
// and validates parameter combinations before a pipeline run starts.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Nuisance strategy names accepted by Config.Nuisance.Strategy.
const (
	Strategy24P    = "24P"
	Strategy27P    = "27P"
	Strategy36P    = "36P"
	StrategyCustom = "custom"
	StrategyNone   = "none"
)

// Motion filter types accepted by Config.MotionFilter.Type.
const (
	MotionFilterNone  = ""
	MotionFilterLP    = "lp"
	MotionFilterNotch = "notch"
)

// AutoValue requests automatic derivation of a parameter from the input
// data instead of a fixed number.
const AutoValue = "auto"

// Config represents the application configuration loaded from YAML
type Config struct {
	// Processing parameters
	Processing struct {
		// TR is the repetition time in seconds; 0 means take it from
		// the run manifest
		TR float64 `yaml:"tr"`

		// DummyScans is the number of frames dropped from the start of
		// each run, or "auto" to count non-steady-state flags in the
		// confound table
		DummyScans string `yaml:"dummyScans"`

		// Workers specifies how many runs to process in parallel
		Workers int `yaml:"workers"`
	} `yaml:"processing"`

	// Censoring parameters
	Censoring struct {
		// FDThreshold is the framewise displacement cutoff in mm above
		// which a frame is censored; 0 or below disables censoring
		FDThreshold float64 `yaml:"fdThreshold"`

		// HeadRadius is the assumed head radius in mm used to convert
		// rotations to displacements, or "auto" to estimate it from
		// the brain mask volume
		HeadRadius string `yaml:"headRadius"`

		// MinTime is the minimum seconds of retained data a run needs
		// after censoring; 0 or below disables the gate
		MinTime float64 `yaml:"minTime"`
	} `yaml:"censoring"`

	// Nuisance regression parameters
	Nuisance struct {
		// Strategy selects the confound set: 24P, 27P, 36P, custom or none
		Strategy string `yaml:"strategy"`

		// CustomConfounds lists the confound column names used by the
		// custom strategy
		CustomConfounds []string `yaml:"customConfounds"`

		// Despike enables running-median despiking before regression
		Despike bool `yaml:"despike"`
	} `yaml:"nuisance"`

	// Temporal band-pass filter parameters
	Bandpass struct {
		// Enabled toggles band-pass filtering of the denoised signal
		Enabled bool `yaml:"enabled"`

		// Low is the high-pass edge in Hz
		Low float64 `yaml:"low"`

		// High is the low-pass edge in Hz
		High float64 `yaml:"high"`

		// Order is the Butterworth filter order
		Order int `yaml:"order"`
	} `yaml:"bandpass"`

	// Motion parameter filter applied before FD computation
	MotionFilter struct {
		// Type selects the filter: "" (none), "lp" or "notch"
		Type string `yaml:"type"`

		// BandStopMin is the lower band-stop edge in breaths per minute
		BandStopMin float64 `yaml:"bandStopMin"`

		// BandStopMax is the upper band-stop edge in breaths per minute
		BandStopMax float64 `yaml:"bandStopMax"`

		// Order is the filter order
		Order int `yaml:"order"`
	} `yaml:"motionFilter"`

	// Connectivity parameters
	Connectivity struct {
		// MinCoverage is the fraction of usable units a parcel needs to
		// stay valid, in [0, 1]
		MinCoverage float64 `yaml:"minCoverage"`

		// ExactVolumes, when positive, additionally builds connectivity
		// from exactly that many randomly subsampled retained frames
		ExactVolumes int `yaml:"exactVolumes"`

		// RandomSeed seeds the exact-volume subsampling
		RandomSeed uint64 `yaml:"randomSeed"`
	} `yaml:"connectivity"`

	// Derivative map parameters
	Derivatives struct {
		// ALFF enables amplitude of low-frequency fluctuation maps
		ALFF bool `yaml:"alff"`

		// ReHo enables regional homogeneity maps
		ReHo bool `yaml:"reho"`

		// SmoothingFWHM is the Gaussian smoothing kernel in mm full
		// width at half maximum; 0 or below disables smoothing
		SmoothingFWHM float64 `yaml:"smoothingFwhm"`
	} `yaml:"derivatives"`

	// Output parameters
	Output struct {
		// DCANQC enables the executive-summary scrubbing records
		DCANQC bool `yaml:"dcanQc"`

		// WriteInterpolated additionally writes the denoised signal
		// with censored frames interpolated (report use only)
		WriteInterpolated bool `yaml:"writeInterpolated"`

		// Verbose controls the level of logging output
		Verbose bool `yaml:"verbose"`
	} `yaml:"output"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	// Set default processing parameters
	cfg.Processing.TR = 0
	cfg.Processing.DummyScans = "0"
	cfg.Processing.Workers = runtime.NumCPU() // Use all available cores by default

	// Set default censoring parameters
	cfg.Censoring.FDThreshold = 0.3
	cfg.Censoring.HeadRadius = "50"
	cfg.Censoring.MinTime = 100

	// Set default nuisance parameters
	cfg.Nuisance.Strategy = Strategy36P
	cfg.Nuisance.Despike = false

	// Set default band-pass parameters
	cfg.Bandpass.Enabled = true
	cfg.Bandpass.Low = 0.01
	cfg.Bandpass.High = 0.08
	cfg.Bandpass.Order = 2

	// Set default motion filter parameters
	cfg.MotionFilter.Type = MotionFilterNone
	cfg.MotionFilter.Order = 4

	// Set default connectivity parameters
	cfg.Connectivity.MinCoverage = 0.5
	cfg.Connectivity.ExactVolumes = 0
	cfg.Connectivity.RandomSeed = 0

	// Set default derivative parameters
	cfg.Derivatives.ALFF = false
	cfg.Derivatives.ReHo = false
	cfg.Derivatives.SmoothingFWHM = 6

	// Set default output parameters
	cfg.Output.DCANQC = false
	cfg.Output.WriteInterpolated = false
	cfg.Output.Verbose = true

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	// Check if config file exists
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	// Read config file
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	// Parse YAML
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	return cfg, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	// Create directory if it doesn't exist
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	// Marshal config to YAML
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	// Write to file
	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}

// HeadRadiusAuto reports whether the head radius should be estimated
// from the brain mask.
func (c *Config) HeadRadiusAuto() bool {
	return c.Censoring.HeadRadius == AutoValue
}

// HeadRadiusMM returns the fixed head radius in millimeters. It fails
// when the value is "auto" or not a positive number.
func (c *Config) HeadRadiusMM() (float64, error) {
	if c.HeadRadiusAuto() {
		return 0, fmt.Errorf("head radius is set to auto")
	}
	r, err := strconv.ParseFloat(c.Censoring.HeadRadius, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid head radius %q: %w", c.Censoring.HeadRadius, err)
	}
	if r <= 0 {
		return 0, fmt.Errorf("head radius must be positive, got %v", r)
	}
	return r, nil
}

// DummyScansAuto reports whether the dummy scan count should be taken
// from the non-steady-state flags of the confound table.
func (c *Config) DummyScansAuto() bool {
	return c.Processing.DummyScans == AutoValue
}

// DummyScanCount returns the fixed dummy scan count. It fails when the
// value is "auto" or not a non-negative integer.
func (c *Config) DummyScanCount() (int, error) {
	if c.DummyScansAuto() {
		return 0, fmt.Errorf("dummy scans is set to auto")
	}
	n, err := strconv.Atoi(c.Processing.DummyScans)
	if err != nil {
		return 0, fmt.Errorf("invalid dummy scan count %q: %w", c.Processing.DummyScans, err)
	}
	if n < 0 {
		return 0, fmt.Errorf("dummy scan count must not be negative, got %d", n)
	}
	return n, nil
}

// CensoringEnabled reports whether frames will be censored by FD.
func (c *Config) CensoringEnabled() bool {
	return c.Censoring.FDThreshold > 0
}

// ALFFCompatible reports whether the configured processing leaves a
// signal whose spectrum ALFF may be computed on. Censoring breaks the
// uniform sampling the spectral estimate assumes, and without the
// band-pass filter there is no pass band to integrate.
func (c *Config) ALFFCompatible() bool {
	return c.Bandpass.Enabled && !c.CensoringEnabled()
}

// Validate checks parameter combinations, normalizes dependent settings
// and returns the warnings produced along the way. It mutates the
// receiver: incompatible optional features are switched off rather than
// failing, while contradictory required settings return an error.
func (c *Config) Validate() ([]string, error) {
	var warnings []string

	if c.Processing.TR < 0 {
		return warnings, fmt.Errorf("tr must not be negative, got %v", c.Processing.TR)
	}
	if c.Processing.Workers <= 0 {
		c.Processing.Workers = runtime.NumCPU()
	}
	if !c.DummyScansAuto() {
		if _, err := c.DummyScanCount(); err != nil {
			return warnings, err
		}
	}
	if !c.HeadRadiusAuto() {
		if _, err := c.HeadRadiusMM(); err != nil {
			return warnings, err
		}
	}

	switch c.Nuisance.Strategy {
	case Strategy24P, Strategy27P, Strategy36P, StrategyNone:
	case StrategyCustom:
		if len(c.Nuisance.CustomConfounds) == 0 {
			return warnings, fmt.Errorf("nuisance strategy custom requires customConfounds")
		}
	default:
		return warnings, fmt.Errorf("unknown nuisance strategy %q", c.Nuisance.Strategy)
	}

	// Band-pass edges. Both edges at or below zero switch the filter
	// off; a crossed pair is a contradiction we refuse to guess at.
	if c.Bandpass.Enabled {
		if c.Bandpass.Low <= 0 && c.Bandpass.High <= 0 {
			warnings = append(warnings, "both band-pass edges are zero or below, disabling band-pass filtering")
			c.Bandpass.Enabled = false
		} else if c.Bandpass.Low >= c.Bandpass.High {
			return warnings, fmt.Errorf("band-pass low edge (%v Hz) must be below the high edge (%v Hz)",
				c.Bandpass.Low, c.Bandpass.High)
		} else if c.Bandpass.Order <= 0 {
			return warnings, fmt.Errorf("band-pass order must be positive, got %d", c.Bandpass.Order)
		}
	}

	// A disabled censoring threshold makes the minimum-time gate and
	// the motion filter meaningless.
	if !c.CensoringEnabled() {
		if c.Censoring.MinTime > 0 {
			warnings = append(warnings, "censoring is disabled, ignoring minTime")
			c.Censoring.MinTime = 0
		}
		if c.MotionFilter.Type != MotionFilterNone {
			warnings = append(warnings, "censoring is disabled, ignoring motion filter")
			c.MotionFilter.Type = MotionFilterNone
			c.MotionFilter.BandStopMin = 0
			c.MotionFilter.BandStopMax = 0
		}
	}

	switch c.MotionFilter.Type {
	case MotionFilterNotch:
		if c.MotionFilter.BandStopMin <= 0 || c.MotionFilter.BandStopMax <= 0 {
			return warnings, fmt.Errorf("notch motion filter requires both bandStopMin and bandStopMax")
		}
		if c.MotionFilter.BandStopMin >= c.MotionFilter.BandStopMax {
			return warnings, fmt.Errorf("bandStopMin (%v) must be below bandStopMax (%v)",
				c.MotionFilter.BandStopMin, c.MotionFilter.BandStopMax)
		}
		if c.MotionFilter.BandStopMin < 1 {
			warnings = append(warnings, fmt.Sprintf(
				"bandStopMin of %v breaths per minute is suspiciously low, expected breaths per minute not Hz",
				c.MotionFilter.BandStopMin))
		}
		if c.MotionFilter.Order <= 0 {
			return warnings, fmt.Errorf("motion filter order must be positive, got %d", c.MotionFilter.Order)
		}
	case MotionFilterLP:
		if c.MotionFilter.BandStopMin <= 0 {
			return warnings, fmt.Errorf("low-pass motion filter requires bandStopMin")
		}
		if c.MotionFilter.BandStopMax != 0 {
			warnings = append(warnings, "low-pass motion filter ignores bandStopMax")
			c.MotionFilter.BandStopMax = 0
		}
		if c.MotionFilter.BandStopMin < 1 {
			warnings = append(warnings, fmt.Sprintf(
				"bandStopMin of %v breaths per minute is suspiciously low, expected breaths per minute not Hz",
				c.MotionFilter.BandStopMin))
		}
		if c.MotionFilter.Order <= 0 {
			return warnings, fmt.Errorf("motion filter order must be positive, got %d", c.MotionFilter.Order)
		}
	case MotionFilterNone:
		if c.MotionFilter.BandStopMin != 0 || c.MotionFilter.BandStopMax != 0 {
			warnings = append(warnings, "no motion filter type selected, ignoring band-stop values")
			c.MotionFilter.BandStopMin = 0
			c.MotionFilter.BandStopMax = 0
		}
	default:
		return warnings, fmt.Errorf("unknown motion filter type %q", c.MotionFilter.Type)
	}

	if c.Connectivity.MinCoverage < 0 || c.Connectivity.MinCoverage > 1 {
		return warnings, fmt.Errorf("minCoverage must be in [0, 1], got %v", c.Connectivity.MinCoverage)
	}
	if c.Connectivity.ExactVolumes < 0 {
		return warnings, fmt.Errorf("exactVolumes must not be negative, got %d", c.Connectivity.ExactVolumes)
	}

	// ALFF interprets spectral power inside the pass band, so it needs
	// the filter on and an unbroken time axis. The stage refuses the
	// computation on its own; warn early so the operator is not
	// surprised when the map is missing.
	if c.Derivatives.ALFF && !c.ALFFCompatible() {
		if !c.Bandpass.Enabled {
			warnings = append(warnings, "alff requires band-pass filtering to be enabled, the alff output will be refused")
		}
		if c.CensoringEnabled() {
			warnings = append(warnings, fmt.Sprintf(
				"alff requires censoring to be disabled (fdThreshold %v), the alff output will be refused",
				c.Censoring.FDThreshold))
		}
	}

	return warnings, nil
}
