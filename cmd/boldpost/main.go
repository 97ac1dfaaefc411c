package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"time"

	flag "github.com/spf13/pflag"

	"boldpost/internal/models"
	"boldpost/pkg/config"
	"boldpost/pkg/dataio"
	"boldpost/pkg/pipeline"
)

func main() {
	// Parse command line arguments
	configPath := flag.String("config", "", "Path to YAML configuration file")
	initConfig := flag.String("init-config", "", "Write the default configuration to this path and exit")
	manifestPath := flag.String("manifest", "", "YAML manifest describing a batch of runs")
	outDir := flag.String("out", "boldpost_results", "Directory for output files")

	boldPath := flag.String("bold", "", "BOLD npy file (units by frames) for a single run")
	confoundsPath := flag.String("confounds", "", "fMRIPrep-style confound table for the run")
	motionPath := flag.String("motion", "", "Motion parameter table (optional when confounds carry the rigid-body columns)")
	maskPath := flag.String("mask", "", "3-D brain mask npy file")
	voxelSize := flag.Float64Slice("voxel-size", nil, "Voxel edge lengths in mm as x,y,z (required with --mask)")
	edgesPath := flag.String("surface-edges", "", "Vertex adjacency edge list for surface data")
	runTR := flag.Float64("tr", 0, "Repetition time in seconds for the single run")
	runSpace := flag.String("space", "", "Spatial reference label of the run")
	runName := flag.String("name", "", "Run label used in output file names")

	atlasSpecs := flag.StringArray("atlas", nil, "Atlas as name=labels.npy, repeatable")
	fdThreshold := flag.Float64("fd-threshold", 0, "Override the configured FD censoring threshold in mm")
	workers := flag.Int("workers", 0, "Override the configured number of parallel runs")
	flag.Parse()

	if *initConfig != "" {
		if err := config.CreateDefaultConfigFile(*initConfig); err != nil {
			log.Fatalf("Failed to write default configuration: %v", err)
		}
		fmt.Printf("Default configuration written to: %s\n", *initConfig)
		return
	}

	// Load configuration and fold in command line overrides
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if flag.CommandLine.Changed("fd-threshold") {
		cfg.Censoring.FDThreshold = *fdThreshold
	}
	if flag.CommandLine.Changed("workers") {
		cfg.Processing.Workers = *workers
	}

	warnings, err := cfg.Validate()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	for _, w := range warnings {
		fmt.Printf("Warning: %s\n", w)
	}

	manifest, err := buildManifest(*manifestPath, dataio.ManifestRun{
		Name:         *runName,
		TR:           *runTR,
		Space:        *runSpace,
		Bold:         *boldPath,
		Confounds:    *confoundsPath,
		Motion:       *motionPath,
		Mask:         *maskPath,
		VoxelSize:    *voxelSize,
		SurfaceEdges: *edgesPath,
	}, *atlasSpecs)
	if err != nil {
		log.Fatalf("Failed to assemble run list: %v", err)
	}

	fmt.Println("================================")
	fmt.Println("BOLD POST-PROCESSING: MOTION QC, NUISANCE REGRESSION AND CONNECTIVITY")
	fmt.Println("================================")

	// Load every run up front so one unreadable file cannot stall the
	// worker pool halfway through the batch.
	inputs := make([]*pipeline.Inputs, 0, len(manifest.Runs))
	failed := 0
	for _, spec := range manifest.Runs {
		in, err := loadInputs(spec, manifest.Atlases)
		if err != nil {
			fmt.Printf("  %s: FAILED to load: %v\n", spec.Name, err)
			failed++
			continue
		}
		inputs = append(inputs, in)
	}

	fmt.Printf("Starting post-processing of %d runs on %d workers...\n", len(inputs), cfg.Processing.Workers)
	startTime := time.Now()

	runner := pipeline.NewRunner(cfg)
	results := runner.ProcessAll(inputs)

	for _, res := range results {
		if res.Err != nil {
			fmt.Printf("  %s: FAILED: %v\n", res.RunName, res.Err)
			failed++
			continue
		}
		out := res.Outputs
		fmt.Printf("  %s: retained %d of %d frames\n",
			res.RunName, out.Scrub.RemainingFrames, out.Scrub.TotalFrames)
		for _, p := range out.Problems {
			fmt.Printf("    Warning: output skipped: %v\n", p)
		}
		if err := dataio.WriteOutputs(*outDir, res.RunName, out, cfg.Connectivity.ExactVolumes); err != nil {
			fmt.Printf("  %s: FAILED to write outputs: %v\n", res.RunName, err)
			failed++
		}
	}

	elapsed := time.Since(startTime)
	fmt.Printf("\nProcessed %d of %d runs in %.2f seconds\n",
		len(manifest.Runs)-failed, len(manifest.Runs), elapsed.Seconds())
	fmt.Printf("Outputs saved to: %s\n", *outDir)

	if failed > 0 {
		os.Exit(1)
	}
}

// buildManifest either loads the YAML manifest or assembles a single
// run entry from the command line flags. Atlas flags extend the
// manifest's atlas list in both modes.
func buildManifest(manifestPath string, single dataio.ManifestRun, atlasSpecs []string) (*dataio.Manifest, error) {
	var manifest *dataio.Manifest
	switch {
	case manifestPath != "":
		m, err := dataio.LoadManifest(manifestPath)
		if err != nil {
			return nil, err
		}
		manifest = m
	case single.Bold != "":
		if single.Name == "" {
			base := filepath.Base(single.Bold)
			single.Name = strings.TrimSuffix(base, filepath.Ext(base))
		}
		manifest = &dataio.Manifest{Runs: []dataio.ManifestRun{single}}
	default:
		flag.Usage()
		os.Exit(1)
	}

	for _, spec := range atlasSpecs {
		name, path, found := strings.Cut(spec, "=")
		if !found || name == "" || path == "" {
			return nil, fmt.Errorf("atlas flag %q must have the form name=labels.npy", spec)
		}
		manifest.Atlases = append(manifest.Atlases, dataio.ManifestAtlas{Name: name, Labels: path})
	}
	return manifest, nil
}

// loadInputs reads one run's files and samples every atlas onto its
// spatial domain.
func loadInputs(spec dataio.ManifestRun, atlasSpecs []dataio.ManifestAtlas) (*pipeline.Inputs, error) {
	run, motion, confounds, err := dataio.LoadRun(spec)
	if err != nil {
		return nil, err
	}
	atlases := make([]*models.Atlas, 0, len(atlasSpecs))
	for _, aspec := range atlasSpecs {
		atlas, err := dataio.ReadAtlas(aspec, run.Domain)
		if err != nil {
			return nil, err
		}
		atlases = append(atlases, atlas)
	}
	return &pipeline.Inputs{
		Run:       run,
		Motion:    motion,
		Confounds: confounds,
		Atlases:   atlases,
	}, nil
}
