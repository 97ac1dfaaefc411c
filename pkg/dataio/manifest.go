package dataio

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gopkg.in/yaml.v3"

	"boldpost/internal/models"
)

// Manifest describes a batch of runs plus the atlases to aggregate
// them with. Relative paths resolve against the manifest's own
// directory, so a manifest can travel with its data.
type Manifest struct {
	Runs    []ManifestRun   `yaml:"runs"`
	Atlases []ManifestAtlas `yaml:"atlases"`
}

// ManifestRun points at the input files of one run. Either Mask (with
// VoxelSize) or SurfaceEdges must be set to describe the geometry; the
// motion table is optional when the confound table carries the six
// rigid-body columns.
type ManifestRun struct {
	Name         string    `yaml:"name"`
	TR           float64   `yaml:"tr"`
	Space        string    `yaml:"space"`
	Bold         string    `yaml:"bold"`
	Confounds    string    `yaml:"confounds"`
	Motion       string    `yaml:"motion"`
	Mask         string    `yaml:"mask"`
	VoxelSize    []float64 `yaml:"voxelSize"`
	SurfaceEdges string    `yaml:"surfaceEdges"`
}

// ManifestAtlas points at one parcellation's label file.
type ManifestAtlas struct {
	Name   string `yaml:"name"`
	Labels string `yaml:"labels"`
}

// LoadManifest reads a YAML manifest and resolves its relative paths.
func LoadManifest(path string) (*Manifest, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading manifest %s: %v", path, err)
	}
	var m Manifest
	if err := yaml.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("error parsing manifest %s: %v", path, err)
	}
	if len(m.Runs) == 0 {
		return nil, fmt.Errorf("manifest %s lists no runs", path)
	}

	dir := filepath.Dir(path)
	for i := range m.Runs {
		r := &m.Runs[i]
		r.Bold = resolvePath(dir, r.Bold)
		r.Confounds = resolvePath(dir, r.Confounds)
		r.Motion = resolvePath(dir, r.Motion)
		r.Mask = resolvePath(dir, r.Mask)
		r.SurfaceEdges = resolvePath(dir, r.SurfaceEdges)
		if r.Name == "" {
			r.Name = runNameFromFile(r.Bold)
		}
	}
	for i := range m.Atlases {
		a := &m.Atlases[i]
		a.Labels = resolvePath(dir, a.Labels)
		if a.Name == "" {
			return nil, fmt.Errorf("manifest %s: atlas %d has no name", path, i)
		}
	}
	return &m, nil
}

func resolvePath(dir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dir, p)
}

// runNameFromFile derives a run label from a BOLD file name by
// stripping the extension.
func runNameFromFile(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// LoadRun loads one manifest entry: the BOLD matrix with its spatial
// domain, the rigid-body motion table and the optional confound table.
func LoadRun(spec ManifestRun) (*models.Run, *mat.Dense, *models.ConfoundSet, error) {
	if spec.Bold == "" {
		return nil, nil, nil, fmt.Errorf("run %q names no bold file", spec.Name)
	}
	bold, err := ReadMatrixNPY(spec.Bold)
	if err != nil {
		return nil, nil, nil, err
	}
	units, _ := bold.Dims()

	domain, err := loadDomain(spec, units)
	if err != nil {
		return nil, nil, nil, err
	}
	if domain.Units() != units {
		return nil, nil, nil, fmt.Errorf("run %q: bold file has %d rows but the domain describes %d units",
			spec.Name, units, domain.Units())
	}

	var confounds *models.ConfoundSet
	if spec.Confounds != "" {
		confounds, err = ReadConfoundsTSV(spec.Confounds)
		if err != nil {
			return nil, nil, nil, err
		}
	}

	var motion *mat.Dense
	switch {
	case spec.Motion != "":
		motion, err = ReadMotionTSV(spec.Motion)
		if err != nil {
			return nil, nil, nil, err
		}
	case confounds != nil:
		motion, err = MotionFromConfounds(confounds)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("run %q: confound table %s: %v", spec.Name, spec.Confounds, err)
		}
	default:
		return nil, nil, nil, fmt.Errorf("run %q names neither a motion table nor a confound table", spec.Name)
	}

	run := &models.Run{
		Name:   spec.Name,
		TR:     spec.TR,
		Space:  spec.Space,
		Domain: domain,
		Bold:   bold,
	}
	return run, motion, confounds, nil
}

func loadDomain(spec ManifestRun, units int) (*models.SpatialDomain, error) {
	switch {
	case spec.Mask != "" && spec.SurfaceEdges != "":
		return nil, fmt.Errorf("run %q names both a mask and surface edges", spec.Name)
	case spec.Mask != "":
		if len(spec.VoxelSize) != 3 {
			return nil, fmt.Errorf("run %q: voxelSize must list three edge lengths for a volume mask", spec.Name)
		}
		voxel := [3]float64{spec.VoxelSize[0], spec.VoxelSize[1], spec.VoxelSize[2]}
		return ReadVolumeDomain(spec.Mask, voxel)
	case spec.SurfaceEdges != "":
		return ReadSurfaceDomain(spec.SurfaceEdges, units)
	default:
		return nil, fmt.Errorf("run %q names neither a mask nor surface edges", spec.Name)
	}
}

// ReadVolumeDomain builds a volume domain from a 3-D 0/1 mask array.
// Nonzero voxels enter the mask; their linear indices x + NX*(y + NY*z)
// are sorted ascending, which is also the row order the BOLD matrix
// must follow.
func ReadVolumeDomain(path string, voxelSize [3]float64) (*models.SpatialDomain, error) {
	shape, data, err := ReadArrayNPY(path)
	if err != nil {
		return nil, err
	}
	if len(shape) != 3 {
		return nil, fmt.Errorf("mask file %s: expected a 3-D array, got %d dimensions", path, len(shape))
	}
	nx, ny, nz := shape[0], shape[1], shape[2]

	// The npy array is row-major with x slowest; the domain wants x
	// fastest, so each voxel's index is recomputed before sorting.
	indices := make([]int, 0, len(data))
	for flat, v := range data {
		if v == 0 {
			continue
		}
		x := flat / (ny * nz)
		y := (flat / nz) % ny
		z := flat % nz
		indices = append(indices, x+nx*(y+ny*z))
	}
	if len(indices) == 0 {
		return nil, fmt.Errorf("mask file %s selects no voxels", path)
	}
	sort.Ints(indices)

	domain, err := models.NewVolumeDomain(nx, ny, nz, voxelSize, indices)
	if err != nil {
		return nil, fmt.Errorf("mask file %s: %v", path, err)
	}
	return domain, nil
}

// ReadSurfaceDomain builds a surface domain from a two-column edge
// list, one undirected edge per row. A non-numeric first row is
// treated as a header.
func ReadSurfaceDomain(path string, vertices int) (*models.SpatialDomain, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening edge list %s: %v", path, err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	reader.Comma = '\t'
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("error parsing edge list %s: %v", path, err)
	}

	adjacency := make([]map[int]bool, vertices)
	for i := range adjacency {
		adjacency[i] = make(map[int]bool)
	}
	for i, record := range records {
		if len(record) != 2 {
			return nil, fmt.Errorf("edge list %s row %d: expected 2 columns, got %d", path, i+1, len(record))
		}
		a, errA := strconv.Atoi(strings.TrimSpace(record[0]))
		b, errB := strconv.Atoi(strings.TrimSpace(record[1]))
		if errA != nil || errB != nil {
			if i == 0 {
				continue
			}
			return nil, fmt.Errorf("edge list %s row %d: cannot parse vertex ids %q, %q", path, i+1, record[0], record[1])
		}
		if a < 0 || a >= vertices || b < 0 || b >= vertices {
			return nil, fmt.Errorf("edge list %s row %d: edge %d-%d outside mesh of %d vertices", path, i+1, a, b, vertices)
		}
		if a == b {
			continue
		}
		adjacency[a][b] = true
		adjacency[b][a] = true
	}

	neighbors := make([][]int, vertices)
	for i, set := range adjacency {
		adj := make([]int, 0, len(set))
		for j := range set {
			adj = append(adj, j)
		}
		sort.Ints(adj)
		neighbors[i] = adj
	}
	return models.NewSurfaceDomain(neighbors)
}

// ReadAtlas loads a parcellation's labels for the given domain. The
// label file is either a 1-D array aligned with the domain's units or,
// for volume domains, a 3-D array on the same grid as the mask that is
// sampled at each in-mask voxel.
func ReadAtlas(spec ManifestAtlas, domain *models.SpatialDomain) (*models.Atlas, error) {
	shape, data, err := ReadArrayNPY(spec.Labels)
	if err != nil {
		return nil, err
	}

	var values []float64
	switch len(shape) {
	case 1:
		values = data
	case 3:
		if domain.Kind != models.VolumeDomain {
			return nil, fmt.Errorf("atlas %q: 3-D label file %s needs a volume domain", spec.Name, spec.Labels)
		}
		if shape[0] != domain.NX || shape[1] != domain.NY || shape[2] != domain.NZ {
			return nil, fmt.Errorf("atlas %q: label grid %dx%dx%d does not match mask grid %dx%dx%d",
				spec.Name, shape[0], shape[1], shape[2], domain.NX, domain.NY, domain.NZ)
		}
		values = make([]float64, domain.Units())
		for u := range values {
			x, y, z := domain.Coordinates(u)
			values[u] = data[(x*shape[1]+y)*shape[2]+z]
		}
	default:
		return nil, fmt.Errorf("atlas %q: label file %s must be 1-D or 3-D, got %d dimensions",
			spec.Name, spec.Labels, len(shape))
	}

	labels := make([]int, len(values))
	for i, v := range values {
		rounded := math.Round(v)
		if math.IsNaN(v) || math.Abs(v-rounded) > 1e-6 {
			return nil, fmt.Errorf("atlas %q: non-integer label %v at unit %d", spec.Name, v, i)
		}
		labels[i] = int(rounded)
	}
	return models.NewAtlas(spec.Name, labels, domain.Units())
}
