package models

import (
	"fmt"
)

// PixelType identifies the native integer representation of a volume on
// disk. Volumes are held in memory as float64 so that filtering and
// transformation can work on continuous values; the PixelType remembers
// what the voxels must be cast back to when the volume is reconciled
// and persisted.
type PixelType int

const (
	// UInt16 is the default pixel type; unrecognised source types are
	// treated as unsigned 16-bit.
	UInt16 PixelType = iota
	Int16
	UInt8
	Int8
)

// String returns the descriptor-file name of the pixel type.
func (p PixelType) String() string {
	switch p {
	case Int16:
		return "int16"
	case UInt8:
		return "uint8"
	case Int8:
		return "int8"
	default:
		return "uint16"
	}
}

// ParsePixelType maps a descriptor-file name to a PixelType.
// Unrecognised names default to UInt16.
func ParsePixelType(s string) PixelType {
	switch s {
	case "int16", "16-bit signed integer":
		return Int16
	case "uint8", "8-bit unsigned integer":
		return UInt8
	case "int8", "8-bit signed integer":
		return Int8
	default:
		return UInt16
	}
}

// Range returns the closed interval of values representable by the
// pixel type.
func (p PixelType) Range() (min, max float64) {
	switch p {
	case Int16:
		return -32768, 32767
	case UInt8:
		return 0, 255
	case Int8:
		return -128, 127
	default:
		return 0, 65535
	}
}

// BytesPerVoxel returns the on-disk width of one voxel.
func (p PixelType) BytesPerVoxel() int {
	switch p {
	case UInt8, Int8:
		return 1
	default:
		return 2
	}
}

// ClampCast clamps v into [lo, hi] and then rounds it to the nearest
// representable value of the pixel type. Clamping precedes the cast so
// out-of-range values saturate instead of wrapping.
func (p PixelType) ClampCast(v, lo, hi float64) float64 {
	if v < lo {
		v = lo
	}
	if v > hi {
		v = hi
	}
	// round half away from zero, matching integer truncation of v+0.5
	if v >= 0 {
		v = float64(int64(v + 0.5))
	} else {
		v = float64(int64(v - 0.5))
	}
	tlo, thi := p.Range()
	if v < tlo {
		v = tlo
	}
	if v > thi {
		v = thi
	}
	return v
}

// Volume is a 3D image held as a flat float64 buffer in x-fastest order.
type Volume struct {
	// Data is the voxel buffer, indexed [z*Width*Height + y*Width + x].
	Data []float64

	// Width, Height, Depth are the voxel extents along x, y, z.
	Width, Height, Depth int

	// Pixels is the native integer type the volume was loaded from and
	// will be cast back to on save.
	Pixels PixelType
}

// NewVolume allocates a zeroed volume of the given extent.
func NewVolume(width, height, depth int, pixels PixelType) *Volume {
	return &Volume{
		Data:   make([]float64, width*height*depth),
		Width:  width,
		Height: height,
		Depth:  depth,
		Pixels: pixels,
	}
}

// At returns the voxel value at (x, y, z).
func (v *Volume) At(x, y, z int) float64 {
	return v.Data[z*v.Width*v.Height+y*v.Width+x]
}

// Set writes the voxel value at (x, y, z).
func (v *Volume) Set(x, y, z int, val float64) {
	v.Data[z*v.Width*v.Height+y*v.Width+x] = val
}

// Size returns the per-axis extents as (x, y, z).
func (v *Volume) Size() (int, int, int) {
	return v.Width, v.Height, v.Depth
}

// MinMax returns the minimum and maximum voxel values.
func (v *Volume) MinMax() (min, max float64) {
	if len(v.Data) == 0 {
		return 0, 0
	}
	min = v.Data[0]
	max = v.Data[0]
	for _, val := range v.Data {
		if val < min {
			min = val
		}
		if val > max {
			max = val
		}
	}
	return min, max
}

// Clone returns a deep copy of the volume.
func (v *Volume) Clone() *Volume {
	out := &Volume{
		Data:   make([]float64, len(v.Data)),
		Width:  v.Width,
		Height: v.Height,
		Depth:  v.Depth,
		Pixels: v.Pixels,
	}
	copy(out.Data, v.Data)
	return out
}

// Release drops the backing voxel buffer. Volumes can be large, and only
// one or two need to be resident at a time, so each pipeline stage
// releases what it no longer needs instead of letting buffers accumulate
// until the end of the run.
func (v *Volume) Release() {
	if v != nil {
		v.Data = nil
	}
}

// Validate checks the buffer length against the declared extents.
func (v *Volume) Validate() error {
	want := v.Width * v.Height * v.Depth
	if len(v.Data) != want {
		return fmt.Errorf("volume buffer length %d does not match extents %dx%dx%d",
			len(v.Data), v.Width, v.Height, v.Depth)
	}
	return nil
}
