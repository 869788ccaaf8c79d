// Package filter implements the pre-registration image filter pipeline
// and its compact spec grammar.
//
// A filter spec string is a '-'-separated list of clauses. Each clause is
// a leading uppercase code followed by 1-3 comma-separated non-negative
// integers giving the per-axis kernel radius or sigma:
//
//	M,2,2,1-GH,5,5,2
//
// parses to a median filter with radius (2,2,1) followed by a high-pass
// gaussian with sigma (5,5,2). A single integer means an isotropic
// kernel. Unknown codes are ignored; malformed kernels are a parse error.
package filter

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"brainregister/internal/models"
)

// Kind identifies a filter operation.
type Kind string

const (
	Median           Kind = "Median"
	Gaussian         Kind = "Gaussian"
	GaussianHighPass Kind = "Gaussian-High-Pass"
)

// ParseError reports a malformed clause in a filter spec string.
type ParseError struct {
	Clause string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("filter spec clause %q: %s", e.Clause, e.Reason)
}

// Step is one parsed filter clause: an operation and its per-axis kernel.
type Step struct {
	Kind   Kind
	Kernel [3]int
}

// Pipeline is an ordered sequence of filter steps. It is parsed once per
// stage and reused across the volumes filtered within that stage, so the
// template and its companion images receive identical smoothing.
type Pipeline struct {
	steps []Step

	// vol is the volume most recently set for execution. Callers clear
	// it after use so the large backing buffer can be reclaimed.
	vol *models.Volume
}

// Parse builds a pipeline from a filter spec string.
func Parse(spec string) (*Pipeline, error) {
	p := &Pipeline{}
	for _, clause := range strings.Split(spec, "-") {
		if clause == "" {
			continue
		}
		step, ok, err := parseClause(clause)
		if err != nil {
			return nil, err
		}
		if ok {
			p.steps = append(p.steps, step)
		}
	}
	return p, nil
}

func parseClause(clause string) (Step, bool, error) {
	parts := strings.Split(clause, ",")

	var code strings.Builder
	for _, c := range parts[0] {
		if c >= 'A' && c <= 'Z' {
			code.WriteRune(c)
		}
	}

	var kind Kind
	switch code.String() {
	case "M":
		kind = Median
	case "G":
		kind = Gaussian
	case "GH":
		kind = GaussianHighPass
	default:
		// unknown code: the clause contributes no filter
		return Step{}, false, nil
	}

	kernelParts := parts[1:]
	if len(kernelParts) == 0 {
		return Step{}, false, &ParseError{Clause: clause, Reason: "missing kernel values"}
	}
	if len(kernelParts) > 3 {
		return Step{}, false, &ParseError{Clause: clause, Reason: "more than 3 kernel values"}
	}

	vals := make([]int, len(kernelParts))
	for i, kp := range kernelParts {
		n, err := strconv.Atoi(strings.TrimSpace(kp))
		if err != nil || n < 0 {
			return Step{}, false, &ParseError{Clause: clause,
				Reason: fmt.Sprintf("kernel value %q is not a non-negative integer", kp)}
		}
		vals[i] = n
	}

	var kernel [3]int
	if len(vals) == 1 {
		// isotropic kernel across the volume's dimensionality
		kernel = [3]int{vals[0], vals[0], vals[0]}
	} else {
		copy(kernel[:], vals)
		// unspecified trailing axes keep a kernel of the last given value
		for i := len(vals); i < 3; i++ {
			kernel[i] = vals[len(vals)-1]
		}
	}

	return Step{Kind: kind, Kernel: kernel}, true, nil
}

// Steps returns the parsed steps in application order.
func (p *Pipeline) Steps() []Step {
	return p.steps
}

// Empty reports whether the pipeline applies no filters.
func (p *Pipeline) Empty() bool {
	return len(p.steps) == 0
}

// SetVolume stores the volume the next Execute call will filter.
func (p *Pipeline) SetVolume(vol *models.Volume) {
	p.vol = vol
}

// ClearVolume drops the pipeline's reference to the input volume so its
// buffer can be reclaimed.
func (p *Pipeline) ClearVolume() {
	p.vol = nil
}

// Execute applies each step in order, each consuming the previous step's
// output, and returns the filtered volume. The input volume set with
// SetVolume is not modified.
func (p *Pipeline) Execute() (*models.Volume, error) {
	if p.vol == nil {
		return nil, fmt.Errorf("filter pipeline: no volume set")
	}
	out := p.vol
	for _, step := range p.steps {
		switch step.Kind {
		case Median:
			out = applyMedian(out, step.Kernel)
		case Gaussian:
			out = applyGaussian(out, step.Kernel)
		case GaussianHighPass:
			out = applyHighPass(out, step.Kernel)
		}
	}
	if out == p.vol {
		// no steps: return a copy so callers can release the input freely
		out = p.vol.Clone()
	}
	return out, nil
}

// Apply is the one-shot convenience form of SetVolume/Execute/ClearVolume.
func (p *Pipeline) Apply(vol *models.Volume) (*models.Volume, error) {
	p.SetVolume(vol)
	defer p.ClearVolume()
	return p.Execute()
}

// applyMedian replaces each voxel with the median of its neighbourhood,
// radius given per axis. Edges clamp to the volume bounds.
func applyMedian(vol *models.Volume, radius [3]int) *models.Volume {
	out := models.NewVolume(vol.Width, vol.Height, vol.Depth, vol.Pixels)
	window := make([]float64, 0, (2*radius[0]+1)*(2*radius[1]+1)*(2*radius[2]+1))

	for z := 0; z < vol.Depth; z++ {
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				window = window[:0]
				for dz := -radius[2]; dz <= radius[2]; dz++ {
					zz := clamp(z+dz, 0, vol.Depth-1)
					for dy := -radius[1]; dy <= radius[1]; dy++ {
						yy := clamp(y+dy, 0, vol.Height-1)
						for dx := -radius[0]; dx <= radius[0]; dx++ {
							xx := clamp(x+dx, 0, vol.Width-1)
							window = append(window, vol.At(xx, yy, zz))
						}
					}
				}
				out.Set(x, y, z, median(window))
			}
		}
	}
	return out
}

// applyGaussian smooths the volume with a separable gaussian, sigma given
// per axis in voxels. A zero sigma leaves that axis untouched.
func applyGaussian(vol *models.Volume, sigma [3]int) *models.Volume {
	out := vol.Clone()
	for axis := 0; axis < 3; axis++ {
		if sigma[axis] <= 0 {
			continue
		}
		kernel := gaussianKernel(float64(sigma[axis]))
		out = convolveAxis(out, kernel, axis)
	}
	return out
}

// applyHighPass subtracts the gaussian low-pass from the original volume,
// leaving the high-frequency component.
func applyHighPass(vol *models.Volume, sigma [3]int) *models.Volume {
	low := applyGaussian(vol, sigma)
	out := models.NewVolume(vol.Width, vol.Height, vol.Depth, vol.Pixels)
	for i := range vol.Data {
		out.Data[i] = vol.Data[i] - low.Data[i]
	}
	low.Release()
	return out
}

// gaussianKernel builds a normalised 1D kernel truncated at 3 sigma.
func gaussianKernel(sigma float64) []float64 {
	radius := int(math.Ceil(3 * sigma))
	kernel := make([]float64, 2*radius+1)
	sum := 0.0
	for i := -radius; i <= radius; i++ {
		v := math.Exp(-float64(i*i) / (2 * sigma * sigma))
		kernel[i+radius] = v
		sum += v
	}
	for i := range kernel {
		kernel[i] /= sum
	}
	return kernel
}

// convolveAxis convolves the volume with a 1D kernel along one axis,
// clamping at the bounds.
func convolveAxis(vol *models.Volume, kernel []float64, axis int) *models.Volume {
	out := models.NewVolume(vol.Width, vol.Height, vol.Depth, vol.Pixels)
	radius := len(kernel) / 2
	limit := [3]int{vol.Width, vol.Height, vol.Depth}

	for z := 0; z < vol.Depth; z++ {
		for y := 0; y < vol.Height; y++ {
			for x := 0; x < vol.Width; x++ {
				pos := [3]int{x, y, z}
				sum := 0.0
				for k := -radius; k <= radius; k++ {
					p := pos
					p[axis] = clamp(pos[axis]+k, 0, limit[axis]-1)
					sum += kernel[k+radius] * vol.At(p[0], p[1], p[2])
				}
				out.Set(x, y, z, sum)
			}
		}
	}
	return out
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func median(values []float64) float64 {
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	n := len(sorted)
	if n == 0 {
		return 0
	}
	if n%2 == 0 {
		return (sorted[n/2-1] + sorted[n/2]) / 2
	}
	return sorted[n/2]
}
