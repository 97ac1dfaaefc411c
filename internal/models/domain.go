package models

import "fmt"

// DomainKind distinguishes the two spatial sample types a run can carry.
type DomainKind int

const (
	// VolumeDomain samples a regular 3D voxel grid restricted to a
	// brain mask.
	VolumeDomain DomainKind = iota

	// SurfaceDomain samples the vertices of a cortical surface mesh.
	SurfaceDomain
)

func (k DomainKind) String() string {
	switch k {
	case VolumeDomain:
		return "volume"
	case SurfaceDomain:
		return "surface"
	default:
		return fmt.Sprintf("DomainKind(%d)", int(k))
	}
}

// SpatialDomain describes the geometry behind the rows of a run's BOLD
// matrix. Unit i of the matrix maps to MaskIndices[i] (volume) or to
// vertex i (surface). Neighborhood queries answer in unit indices, so
// callers never deal with grid coordinates directly.
type SpatialDomain struct {
	Kind DomainKind

	// Volume fields. NX, NY, NZ are the grid dimensions and VoxelSize
	// the edge lengths in millimeters. MaskIndices lists the linear
	// grid index x + NX*(y + NY*z) of every in-mask voxel, one entry
	// per matrix row, strictly increasing.
	NX, NY, NZ int
	VoxelSize  [3]float64
	MaskIndices []int

	// Surface field: adjacency lists from the mesh, one per vertex.
	// Neighbors[i] holds the unit indices sharing an edge with vertex i.
	Neighbors [][]int

	// unitAt maps a linear grid index back to its matrix row, -1 when
	// the voxel is outside the mask. Built once for volume domains.
	unitAt []int
}

// NewVolumeDomain builds a volume domain from grid dimensions, voxel
// size and the linear indices of in-mask voxels.
func NewVolumeDomain(nx, ny, nz int, voxelSize [3]float64, maskIndices []int) (*SpatialDomain, error) {
	if nx <= 0 || ny <= 0 || nz <= 0 {
		return nil, fmt.Errorf("invalid grid dimensions %dx%dx%d", nx, ny, nz)
	}
	total := nx * ny * nz
	unitAt := make([]int, total)
	for i := range unitAt {
		unitAt[i] = -1
	}
	prev := -1
	for unit, idx := range maskIndices {
		if idx < 0 || idx >= total {
			return nil, fmt.Errorf("mask index %d out of range for %d-voxel grid", idx, total)
		}
		if idx <= prev {
			return nil, fmt.Errorf("mask indices must be strictly increasing, got %d after %d", idx, prev)
		}
		unitAt[idx] = unit
		prev = idx
	}
	return &SpatialDomain{
		Kind:        VolumeDomain,
		NX:          nx,
		NY:          ny,
		NZ:          nz,
		VoxelSize:   voxelSize,
		MaskIndices: maskIndices,
		unitAt:      unitAt,
	}, nil
}

// NewSurfaceDomain builds a surface domain from per-vertex adjacency
// lists.
func NewSurfaceDomain(neighbors [][]int) (*SpatialDomain, error) {
	n := len(neighbors)
	for i, adj := range neighbors {
		for _, j := range adj {
			if j < 0 || j >= n {
				return nil, fmt.Errorf("vertex %d lists neighbor %d outside mesh of %d vertices", i, j, n)
			}
		}
	}
	return &SpatialDomain{Kind: SurfaceDomain, Neighbors: neighbors}, nil
}

// Units returns the number of spatial units the domain describes.
func (d *SpatialDomain) Units() int {
	if d.Kind == VolumeDomain {
		return len(d.MaskIndices)
	}
	return len(d.Neighbors)
}

// Coordinates returns the grid coordinates of a volume unit.
func (d *SpatialDomain) Coordinates(unit int) (x, y, z int) {
	idx := d.MaskIndices[unit]
	x = idx % d.NX
	y = (idx / d.NX) % d.NY
	z = idx / (d.NX * d.NY)
	return x, y, z
}

// UnitAt returns the matrix row of the voxel at the given grid
// coordinates, or -1 when the voxel is outside the grid or the mask.
func (d *SpatialDomain) UnitAt(x, y, z int) int {
	if x < 0 || x >= d.NX || y < 0 || y >= d.NY || z < 0 || z >= d.NZ {
		return -1
	}
	return d.unitAt[x+d.NX*(y+d.NY*z)]
}

// NeighborsOf returns the unit indices adjacent to the given unit. For
// volume domains adjacency is the 26-connected cube around the voxel,
// clipped to the mask; for surface domains it is the mesh adjacency.
func (d *SpatialDomain) NeighborsOf(unit int) []int {
	if d.Kind == SurfaceDomain {
		return d.Neighbors[unit]
	}
	x, y, z := d.Coordinates(unit)
	out := make([]int, 0, 26)
	for dz := -1; dz <= 1; dz++ {
		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				if dx == 0 && dy == 0 && dz == 0 {
					continue
				}
				if u := d.UnitAt(x+dx, y+dy, z+dz); u >= 0 {
					out = append(out, u)
				}
			}
		}
	}
	return out
}

// VoxelVolume returns the volume of one voxel in cubic millimeters, or
// zero for surface domains.
func (d *SpatialDomain) VoxelVolume() float64 {
	if d.Kind != VolumeDomain {
		return 0
	}
	return d.VoxelSize[0] * d.VoxelSize[1] * d.VoxelSize[2]
}

// MaskVolume returns the total in-mask volume in cubic millimeters, or
// zero for surface domains.
func (d *SpatialDomain) MaskVolume() float64 {
	return float64(len(d.MaskIndices)) * d.VoxelVolume()
}
