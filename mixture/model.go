// Package mixture fits sums of Gaussian components to histogram profiles.
package mixture

import (
	"errors"
	"fmt"
	"math"

	"github.com/decibelcooper/gemcalib/hist"
)

var (
	ErrInvalidModel  = errors.New("mixture: invalid model")
	ErrFitDivergence = errors.New("mixture: fit did not converge")
	ErrFitDegenerate = errors.New("mixture: degenerate fit result")
)

const (
	MinComponents = 3
	MaxComponents = 4
)

// Component is a single Gaussian term A*exp(-0.5*((x-Mean)/Sigma)^2).
// Amplitude is the peak height, not the area.
type Component struct {
	Amplitude float64 `toml:"amplitude"`
	Mean      float64 `toml:"mean"`
	Sigma     float64 `toml:"sigma"`
}

func (c Component) Eval(x float64) float64 {
	d := (x - c.Mean) / c.Sigma
	return c.Amplitude * math.Exp(-0.5*d*d)
}

// Area is the integral of the component over the real line.
func (c Component) Area() float64 {
	return c.Amplitude * c.Sigma * math.Sqrt(2*math.Pi)
}

func (c Component) String() string {
	return fmt.Sprintf("A=%.4g mean=%.4g sigma=%.4g", c.Amplitude, c.Mean, c.Sigma)
}

type Model []Component

func (m Model) Eval(x float64) float64 {
	var sum float64
	for _, c := range m {
		sum += c.Eval(x)
	}
	return sum
}

func (m Model) Clone() Model {
	out := make(Model, len(m))
	copy(out, m)
	return out
}

// Validate checks m is usable as an initial guess.
func (m Model) Validate() error {
	if len(m) < MinComponents || len(m) > MaxComponents {
		return fmt.Errorf("%w: %d components, want %d or %d", ErrInvalidModel, len(m), MinComponents, MaxComponents)
	}
	for i, c := range m {
		if !finite(c.Amplitude) || !finite(c.Mean) || !finite(c.Sigma) {
			return fmt.Errorf("%w: component %d has non-finite parameters", ErrInvalidModel, i)
		}
		if c.Amplitude < 0 {
			return fmt.Errorf("%w: component %d amplitude %v < 0", ErrInvalidModel, i, c.Amplitude)
		}
		if c.Sigma <= 0 {
			return fmt.Errorf("%w: component %d sigma %v <= 0", ErrInvalidModel, i, c.Sigma)
		}
	}
	return nil
}

func (m Model) checkPhysical() error {
	for i, c := range m {
		if !finite(c.Sigma) || c.Sigma <= 0 {
			return fmt.Errorf("%w: component %d sigma %v", ErrFitDegenerate, i, c.Sigma)
		}
		if !finite(c.Amplitude) || c.Amplitude < 0 {
			return fmt.Errorf("%w: component %d amplitude %v", ErrFitDegenerate, i, c.Amplitude)
		}
		if !finite(c.Mean) {
			return fmt.Errorf("%w: component %d mean %v", ErrFitDegenerate, i, c.Mean)
		}
	}
	return nil
}

// Residuals returns content minus model at every bin center of h.
func (m Model) Residuals(h *hist.Histogram) []float64 {
	res := make([]float64, h.NBins())
	for i := range res {
		res[i] = h.Content(i) - m.Eval(h.BinCenter(i))
	}
	return res
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
