// Package metrics scores a registration result against its fixed image.
// The scores are informational, reported after each registration edge;
// they are never persisted and never gate the pipeline.
package metrics

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"brainregister/internal/models"
)

// Report holds the similarity scores between a registered moving volume
// and the fixed volume it was optimised against.
type Report struct {
	// MI is a gaussian approximation of mutual information. Higher is
	// better alignment.
	MI float64

	// RMSE is the root mean square intensity difference.
	RMSE float64

	// SSIM is the structural similarity index over the whole volume.
	SSIM float64
}

// Compare scores two volumes of equal extent. Both are normalised to
// [0, 1] by the fixed volume's pixel range before comparison, so scores
// are comparable across bit depths.
func Compare(registered, fixed *models.Volume) Report {
	n := len(fixed.Data)
	if n == 0 || len(registered.Data) != n {
		return Report{}
	}

	lo, hi := fixed.Pixels.Range()
	span := hi - lo
	a := make([]float64, n)
	b := make([]float64, n)
	for i := 0; i < n; i++ {
		a[i] = (registered.Data[i] - lo) / span
		b[i] = (fixed.Data[i] - lo) / span
	}

	return Report{
		MI:   mutualInformation(a, b),
		RMSE: rmse(a, b),
		SSIM: ssim(a, b),
	}
}

// mutualInformation approximates MI under a joint-gaussian assumption:
// MI ~= 0.5 * log(var(X)*var(Y) / (var(X)*var(Y) - cov(X,Y)^2)).
func mutualInformation(a, b []float64) float64 {
	varA := stat.Variance(a, nil)
	varB := stat.Variance(b, nil)
	covar := stat.Covariance(a, b, nil)

	if varA > 0 && varB > 0 {
		det := varA*varB - covar*covar
		if det > 0 {
			return 0.5 * math.Log(varA*varB/det)
		}
	}
	return 0
}

func rmse(a, b []float64) float64 {
	mse := 0.0
	for i := range a {
		d := a[i] - b[i]
		mse += d * d
	}
	return math.Sqrt(mse / float64(len(a)))
}

func ssim(a, b []float64) float64 {
	const L = 1.0
	const k1 = 0.01
	const k2 = 0.03

	c1 := (k1 * L) * (k1 * L)
	c2 := (k2 * L) * (k2 * L)

	muA := stat.Mean(a, nil)
	muB := stat.Mean(b, nil)
	varA := stat.Variance(a, nil)
	varB := stat.Variance(b, nil)
	covar := stat.Covariance(a, b, nil)

	num := (2*muA*muB + c1) * (2*covar + c2)
	den := (muA*muA + muB*muB + c1) * (varA + varB + c2)
	if den > 0 {
		return num / den
	}
	return 0
}
