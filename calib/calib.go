// Package calib derives and applies the linear primaries-to-energy
// calibration.
package calib

import (
	"errors"
	"fmt"
	"math"

	"github.com/decibelcooper/gemcalib/mixture"
)

var ErrDegenerateCalibration = errors.New("calib: degenerate calibration")

type Source int

const (
	SourceFit Source = iota
	SourceExplicit
)

func (s Source) String() string {
	switch s {
	case SourceFit:
		return "fit"
	case SourceExplicit:
		return "explicit"
	}
	return fmt.Sprintf("Source(%d)", int(s))
}

// Parameters maps primaries onto energy: E = Scale*primaries + Offset.
type Parameters struct {
	Scale  float64
	Offset float64

	// One-sigma uncertainties, NaN when unknown.
	ScaleErr  float64
	OffsetErr float64

	Source Source
	// Peaks holds the fitted positions used for the solve.
	Peaks [2]float64
}

// Reference is a known line of the calibration source together with the
// mixture component expected to describe it.
type Reference struct {
	Energy    float64 `toml:"energy"`
	Peak      float64 `toml:"peak"`
	Component int     `toml:"component"`
}

func (p Parameters) Apply(primaries float64) float64 {
	return p.Scale*primaries + p.Offset
}

// Invert maps an energy back to primaries.
func (p Parameters) Invert(energy float64) float64 {
	return (energy - p.Offset) / p.Scale
}

func FromExplicit(scale, offset float64) Parameters {
	return Parameters{
		Scale:     scale,
		Offset:    offset,
		ScaleErr:  math.NaN(),
		OffsetErr: math.NaN(),
		Source:    SourceExplicit,
		Peaks:     [2]float64{math.NaN(), math.NaN()},
	}
}

// Solve returns the line through (p1, e1) and (p2, e2).
func Solve(p1, e1, p2, e2 float64) (Parameters, error) {
	if p1 == p2 || math.IsNaN(p1) || math.IsNaN(p2) {
		return Parameters{}, fmt.Errorf("%w: both references at %v primaries", ErrDegenerateCalibration, p1)
	}
	scale := (e2 - e1) / (p2 - p1)
	return Parameters{
		Scale:     scale,
		Offset:    e2 - scale*p2,
		ScaleErr:  math.NaN(),
		OffsetErr: math.NaN(),
		Source:    SourceFit,
		Peaks:     [2]float64{p1, p2},
	}, nil
}

// FromModel solves the calibration using the means of components i1 and i2
// as the positions of the reference lines e1 and e2.
func FromModel(m mixture.Model, i1, i2 int, e1, e2 float64) (Parameters, error) {
	if err := checkIndex(len(m), i1, i2); err != nil {
		return Parameters{}, err
	}
	return Solve(m[i1].Mean, e1, m[i2].Mean, e2)
}

// FromFit is FromModel on a fit result, additionally propagating the
// uncertainties of the two fitted means.
func FromFit(res *mixture.Result, i1, i2 int, e1, e2 float64) (Parameters, error) {
	if res == nil {
		return Parameters{}, fmt.Errorf("%w: no fit result", ErrDegenerateCalibration)
	}
	p, err := FromModel(res.Model, i1, i2, e1, e2)
	if err != nil {
		return p, err
	}
	if len(res.Errors) != len(res.Model) {
		return p, nil
	}
	s1, s2 := res.Errors[i1].Mean, res.Errors[i2].Mean
	p1, p2 := res.Model[i1].Mean, res.Model[i2].Mean
	dp := p2 - p1
	// dScale/dp1 = scale/dp, dScale/dp2 = -scale/dp
	p.ScaleErr = math.Abs(p.Scale/dp) * math.Hypot(s1, s2)
	// offset = e2 - scale*p2
	dOdp1 := -p2 * p.Scale / dp
	dOdp2 := -p.Scale + p2*p.Scale/dp
	p.OffsetErr = math.Hypot(dOdp1*s1, dOdp2*s2)
	return p, nil
}

func checkIndex(n int, idx ...int) error {
	for _, i := range idx {
		if i < 0 || i >= n {
			return fmt.Errorf("%w: component %d out of range [0, %d)", ErrDegenerateCalibration, i, n)
		}
	}
	if len(idx) == 2 && idx[0] == idx[1] {
		return fmt.Errorf("%w: both references use component %d", ErrDegenerateCalibration, idx[0])
	}
	return nil
}

// Seed places the expected peak positions of refs on the means of their
// components in a copy of template.
func Seed(template mixture.Model, refs [2]Reference) (mixture.Model, error) {
	if err := checkIndex(len(template), refs[0].Component, refs[1].Component); err != nil {
		return nil, err
	}
	m := template.Clone()
	for _, r := range refs {
		m[r.Component].Mean = r.Peak
	}
	return m, nil
}

// FromReferences calibrates against a fit using the energies and component
// indices of refs.
func FromReferences(res *mixture.Result, refs [2]Reference) (Parameters, error) {
	return FromFit(res, refs[0].Component, refs[1].Component, refs[0].Energy, refs[1].Energy)
}
