// Package reconcile restores a transformed volume's pixel values to the
// legal range and native integer type of its untransformed source.
// Registration and transform interpolation work on continuous values and
// can overshoot outside the source's range; clamping must happen before
// the cast so out-of-range voxels saturate instead of wrapping.
package reconcile

import (
	"brainregister/internal/models"
)

// Reconcile clamps every voxel of transformed into the [min, max] range
// of original's native values and casts the result to original's pixel
// type. A new volume is returned; transformed is not modified.
func Reconcile(original, transformed *models.Volume) *models.Volume {
	lo, hi := original.MinMax()

	out := models.NewVolume(transformed.Width, transformed.Height, transformed.Depth, original.Pixels)
	for i, v := range transformed.Data {
		out.Data[i] = original.Pixels.ClampCast(v, lo, hi)
	}
	return out
}
