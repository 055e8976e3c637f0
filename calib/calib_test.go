package calib

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/decibelcooper/gemcalib/mixture"
)

func TestSolveFe55(t *testing.T) {
	p, err := Solve(200, 5.89, 220, 6.49)
	require.NoError(t, err)

	assert.InDelta(t, 0.03, p.Scale, 1e-12)
	assert.InDelta(t, 6.49, p.Apply(220), 1e-12)
	assert.InDelta(t, 5.89, p.Apply(200), 1e-12)
	assert.InDelta(t, 210, p.Invert(6.19), 1e-9)
	assert.Equal(t, SourceFit, p.Source)
}

func TestSolveDegenerate(t *testing.T) {
	_, err := Solve(210, 5.89, 210, 6.49)
	if !errors.Is(err, ErrDegenerateCalibration) {
		t.Fatalf("expected ErrDegenerateCalibration, got %v", err)
	}
}

func TestFromModel(t *testing.T) {
	m := mixture.Model{
		{Amplitude: 1, Mean: 200, Sigma: 10},
		{Amplitude: 0.2, Mean: 220, Sigma: 10},
		{Amplitude: 0.1, Mean: 90, Sigma: 10},
		{Amplitude: 0.02, Mean: 120, Sigma: 10},
	}

	p, err := FromModel(m, 0, 1, 5.89, 6.49)
	require.NoError(t, err)
	assert.InDelta(t, 0.03, p.Scale, 1e-12)

	for _, idx := range [][2]int{{0, 4}, {-1, 1}, {2, 2}} {
		_, err := FromModel(m, idx[0], idx[1], 5.89, 6.49)
		assert.ErrorIs(t, err, ErrDegenerateCalibration, "indices %v", idx)
	}

	flat := mixture.Model{
		{Amplitude: 1, Mean: 210, Sigma: 10},
		{Amplitude: 1, Mean: 210, Sigma: 12},
		{Amplitude: 1, Mean: 90, Sigma: 10},
	}
	_, err = FromModel(flat, 0, 1, 5.89, 6.49)
	assert.ErrorIs(t, err, ErrDegenerateCalibration)
}

func TestFromFitPropagatesErrors(t *testing.T) {
	res := &mixture.Result{
		Model:  mixture.Model{{Amplitude: 1, Mean: 200, Sigma: 10}, {Amplitude: 0.2, Mean: 220, Sigma: 10}, {Amplitude: 0.1, Mean: 90, Sigma: 10}},
		Errors: mixture.Model{{Amplitude: 0.01, Mean: 0.3, Sigma: 0.1}, {Amplitude: 0.01, Mean: 0.4, Sigma: 0.1}, {Amplitude: 0.01, Mean: 1, Sigma: 1}},
	}
	p, err := FromFit(res, 0, 1, 5.89, 6.49)
	require.NoError(t, err)

	assert.InDelta(t, 0.03/20*0.5, p.ScaleErr, 1e-12)
	assert.Greater(t, p.OffsetErr, 0.0)

	// numerical check of the offset propagation
	const h = 1e-6
	off := func(p1, p2 float64) float64 {
		q, err := Solve(p1, 5.89, p2, 6.49)
		require.NoError(t, err)
		return q.Offset
	}
	d1 := (off(200+h, 220) - off(200-h, 220)) / (2 * h)
	d2 := (off(200, 220+h) - off(200, 220-h)) / (2 * h)
	assert.InDelta(t, math.Hypot(d1*0.3, d2*0.4), p.OffsetErr, 1e-6)

	_, err = FromFit(nil, 0, 1, 5.89, 6.49)
	assert.ErrorIs(t, err, ErrDegenerateCalibration)
}

func TestFromExplicit(t *testing.T) {
	p := FromExplicit(0.0295, 0.12)
	assert.Equal(t, SourceExplicit, p.Source)
	assert.InDelta(t, 0.0295*100+0.12, p.Apply(100), 1e-12)
	assert.True(t, math.IsNaN(p.ScaleErr))
	assert.Equal(t, "explicit", p.Source.String())
}

func TestSeed(t *testing.T) {
	tmpl := mixture.Model{
		{Amplitude: 0.05, Mean: 0, Sigma: 10},
		{Amplitude: 0.01, Mean: 0, Sigma: 10},
		{Amplitude: 0.01, Mean: 90, Sigma: 10},
		{Amplitude: 0.002, Mean: 120, Sigma: 10},
	}
	refs := [2]Reference{
		{Energy: 5.89, Peak: 200, Component: 0},
		{Energy: 6.49, Peak: 220, Component: 1},
	}
	m, err := Seed(tmpl, refs)
	require.NoError(t, err)
	assert.Equal(t, 200.0, m[0].Mean)
	assert.Equal(t, 220.0, m[1].Mean)
	assert.Equal(t, 0.0, tmpl[0].Mean)

	refs[1].Component = 7
	_, err = Seed(tmpl, refs)
	assert.ErrorIs(t, err, ErrDegenerateCalibration)
}
