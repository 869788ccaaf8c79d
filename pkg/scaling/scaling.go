// Package scaling derives the deterministic affine scale transforms
// between the fullstack and downsampled spaces from their physical voxel
// resolutions. No optimisation is involved: the transform is closed-form.
package scaling

import (
	"fmt"
	"math"

	"brainregister/internal/models"
	"brainregister/pkg/params"
)

// Factors holds the per-axis scale ratios between two spaces A and B.
// Each ratio is rounded to 6 decimal digits, matching the numeric
// precision the parameter-map format carries.
type Factors struct {
	AtoB [3]float64
	BtoA [3]float64
}

// ComputeScaleFactors derives the directed scale factors between two
// resolutions. For each axis, AtoB = resA/resB and BtoA = resB/resA.
func ComputeScaleFactors(resA, resB models.Resolution) Factors {
	return Factors{
		AtoB: [3]float64{
			round6(resA.X / resB.X),
			round6(resA.Y / resB.Y),
			round6(resA.Z / resB.Z),
		},
		BtoA: [3]float64{
			round6(resB.X / resA.X),
			round6(resB.Y / resA.Y),
			round6(resB.Z / resA.Z),
		},
	}
}

func round6(v float64) float64 {
	return math.Round(v*1e6) / 1e6
}

// FullstackToDownsampledMap builds the affine parameter map that moves a
// fullstack volume into downsampled space. The transform matrix carries
// the downsampled-to-fullstack ratios because the engine maps fixed
// coordinates back onto the moving image; the Size field carries the
// fullstack extent scaled by the fullstack-to-downsampled ratios, rounded
// to whole voxels, because the output grid lives in the target space.
func FullstackToDownsampledMap(f Factors, fsWidth, fsHeight, fsDepth int, imageFormat string) *params.Map {
	m := baseScalingMap(imageFormat)
	m.Set("TransformParameters", diagonal(f.BtoA)...)
	m.Set("Size",
		format6(math.Round(float64(fsWidth)*f.AtoB[0])),
		format6(math.Round(float64(fsHeight)*f.AtoB[1])),
		format6(math.Round(float64(fsDepth)*f.AtoB[2])))
	return m
}

// DownsampledToFullstackMap builds the reverse affine map. The output
// grid is the native fullstack extent, so Size is taken directly from
// the fullstack volume.
func DownsampledToFullstackMap(f Factors, fsWidth, fsHeight, fsDepth int, imageFormat string) *params.Map {
	m := baseScalingMap(imageFormat)
	m.Set("TransformParameters", diagonal(f.AtoB)...)
	m.Set("Size",
		format6(float64(fsWidth)),
		format6(float64(fsHeight)),
		format6(float64(fsDepth)))
	return m
}

// diagonal renders a 3x4 affine parameter block (row-major 3x3 matrix
// followed by translation) holding the given diagonal and zero
// translation.
func diagonal(scale [3]float64) []string {
	zero := format6(0)
	return []string{
		format6(scale[0]), zero, zero,
		zero, format6(scale[1]), zero,
		zero, zero, format6(scale[2]),
		zero, zero, zero,
	}
}

func format6(v float64) string {
	return fmt.Sprintf("%.6f", v)
}

// baseScalingMap is the template every scaling map starts from: a 3D
// affine transform with unit spacing, zero origin and identity direction,
// combined by composition with any subsequent maps.
func baseScalingMap(imageFormat string) *params.Map {
	m := params.NewMap()
	m.Set("Transform", "AffineTransform")
	m.Set("NumberOfParameters", "12")
	m.Set("TransformParameters")
	m.Set("InitialTransformParametersFileName", "NoInitialTransform")
	m.Set("HowToCombineTransforms", "Compose")
	m.Set("FixedImageDimension", "3")
	m.Set("MovingImageDimension", "3")
	m.Set("FixedInternalImagePixelType", "float")
	m.Set("MovingInternalImagePixelType", "float")
	m.Set("Size")
	m.Set("Index", "0", "0", "0")
	m.Set("Spacing", format6(1), format6(1), format6(1))
	m.Set("Origin", format6(0), format6(0), format6(0))
	m.Set("Direction",
		format6(1), format6(0), format6(0),
		format6(0), format6(1), format6(0),
		format6(0), format6(0), format6(1))
	m.Set("UseDirectionCosines", "true")
	m.Set("CenterOfRotationPoint", format6(0), format6(0), format6(0))
	m.Set("ResampleInterpolator", "FinalBSplineInterpolator")
	m.Set("FinalBSplineInterpolationOrder", "3")
	m.Set("Resampler", "DefaultResampler")
	m.Set("DefaultPixelValue", format6(0))
	m.Set("ResultImageFormat", imageFormat)
	m.Set("ResultImagePixelType", "float")
	m.Set("CompressResultImage", "true")
	return m
}
