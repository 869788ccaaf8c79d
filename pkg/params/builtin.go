package params

// Built-in registration parameter templates. These describe how the
// registration engine should optimise a stage (metric, optimiser,
// pyramid schedule), not a computed transform; the engine turns each
// template into one transform parameter map.

// DefaultAffineTemplate returns the affine registration stage template
// tuned for whole-volume alignment of sample and atlas templates.
func DefaultAffineTemplate() *Map {
	m := NewMap()
	m.Set("Registration", "MultiResolutionRegistration")
	m.Set("Transform", "AffineTransform")
	m.Set("Metric", "AdvancedMattesMutualInformation")
	m.Set("Optimizer", "AdaptiveStochasticGradientDescent")
	m.Set("Interpolator", "BSplineInterpolator")
	m.Set("ResampleInterpolator", "FinalBSplineInterpolator")
	m.Set("Resampler", "DefaultResampler")
	m.Set("FixedImagePyramid", "FixedSmoothingImagePyramid")
	m.Set("MovingImagePyramid", "MovingSmoothingImagePyramid")
	m.Set("NumberOfResolutions", "4")
	m.Set("MaximumNumberOfIterations", "1000")
	m.Set("NumberOfSpatialSamples", "4096")
	m.Set("NewSamplesEveryIteration", "true")
	m.Set("ImageSampler", "RandomCoordinate")
	m.Set("BSplineInterpolationOrder", "1")
	m.Set("FinalBSplineInterpolationOrder", "3")
	m.Set("DefaultPixelValue", "0")
	m.Set("AutomaticScalesEstimation", "true")
	m.Set("AutomaticTransformInitialization", "true")
	m.Set("HowToCombineTransforms", "Compose")
	m.Set("WriteResultImage", "false")
	return m
}

// DefaultBSplineTemplate returns the B-spline registration stage
// template, chained after the affine stage for local deformation.
func DefaultBSplineTemplate() *Map {
	m := NewMap()
	m.Set("Registration", "MultiMetricMultiResolutionRegistration")
	m.Set("Transform", "BSplineTransform")
	m.Set("Metric", "AdvancedMattesMutualInformation", "TransformBendingEnergyPenalty")
	m.Set("Metric0Weight", "1.0")
	m.Set("Metric1Weight", "1.0")
	m.Set("Optimizer", "AdaptiveStochasticGradientDescent")
	m.Set("Interpolator", "BSplineInterpolator")
	m.Set("ResampleInterpolator", "FinalBSplineInterpolator")
	m.Set("Resampler", "DefaultResampler")
	m.Set("FixedImagePyramid", "FixedSmoothingImagePyramid")
	m.Set("MovingImagePyramid", "MovingSmoothingImagePyramid")
	m.Set("NumberOfResolutions", "4")
	m.Set("FinalGridSpacingInVoxels", "25", "25", "25")
	m.Set("MaximumNumberOfIterations", "1500")
	m.Set("NumberOfSpatialSamples", "8192")
	m.Set("NewSamplesEveryIteration", "true")
	m.Set("ImageSampler", "RandomCoordinate")
	m.Set("BSplineInterpolationOrder", "1")
	m.Set("FinalBSplineInterpolationOrder", "3")
	m.Set("DefaultPixelValue", "0")
	m.Set("HowToCombineTransforms", "Compose")
	m.Set("WriteResultImage", "false")
	return m
}
