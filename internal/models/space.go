package models

// Space is a named 3D coordinate system. No two spaces share coordinates
// without an explicit transform between them.
type Space string

const (
	// Fullstack is the full-resolution sample space.
	Fullstack Space = "fullstack"

	// Downsampled is the sample space scaled to the reference resolution.
	Downsampled Space = "downsampled"

	// CCF is the reference atlas space.
	CCF Space = "ccf"
)

// Edge is a directed transform between two spaces.
type Edge struct {
	From Space
	To   Space
}

// The four directed edges the pipeline resolves.
var (
	FullstackToDownsampled = Edge{From: Fullstack, To: Downsampled}
	DownsampledToFullstack = Edge{From: Downsampled, To: Fullstack}
	DownsampledToCCF       = Edge{From: Downsampled, To: CCF}
	CCFToDownsampled       = Edge{From: CCF, To: Downsampled}
)

func (e Edge) String() string {
	return string(e.From) + "-to-" + string(e.To)
}

// Role classifies an artifact within a space. Continuous-valued roles
// (template, sample image) and discrete-valued roles (annotation) need
// different interpolation when transformed.
type Role string

const (
	// RoleTemplate is a continuous-valued reference image of a space.
	RoleTemplate Role = "template"

	// RoleAnnotation is a discrete label volume; transforming it requires
	// nearest-neighbour interpolation so no fractional label values are
	// invented.
	RoleAnnotation Role = "annotation"

	// RoleSampleImage is a companion sample channel transformed alongside
	// the template.
	RoleSampleImage Role = "sample-image"
)

// Resolution is a physical voxel size in micrometres per axis.
type Resolution struct {
	X float64 `yaml:"x-um"`
	Y float64 `yaml:"y-um"`
	Z float64 `yaml:"z-um"`
}

// IsSet reports whether all three axes have a non-zero resolution.
func (r Resolution) IsSet() bool {
	return r.X != 0 && r.Y != 0 && r.Z != 0
}
