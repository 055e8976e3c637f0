package hist

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewInvalidRange(t *testing.T) {
	for _, tc := range []struct {
		name      string
		n         int
		low, high float64
	}{
		{"zero bins", 0, 0, 1},
		{"negative bins", -3, 0, 1},
		{"equal edges", 10, 2, 2},
		{"inverted edges", 10, 5, 1},
		{"nan edge", 10, math.NaN(), 1},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := New(tc.n, tc.low, tc.high)
			if !errors.Is(err, ErrInvalidRange) {
				t.Fatalf("expected ErrInvalidRange, got %v", err)
			}
		})
	}
}

func TestUniformFill(t *testing.T) {
	for _, spec := range []Spec{
		{NBins: 1, Low: 0, High: 1},
		{NBins: 100, Low: 0, High: 7},
		{NBins: 37, Low: -12.5, High: 300},
	} {
		h, err := spec.New()
		require.NoError(t, err)

		const n = 1000
		step := (spec.High - spec.Low) / n
		for i := 0; i < n; i++ {
			h.Fill(spec.Low + (float64(i)+0.5)*step)
		}

		var sum float64
		for i := 0; i < h.NBins(); i++ {
			sum += h.Content(i)
		}
		assert.EqualValues(t, n, h.Entries())
		assert.InDelta(t, float64(n), sum, 1e-9)
		assert.InDelta(t, float64(n), h.Integral(), 1e-9)
		assert.Zero(t, h.Underflow())
		assert.Zero(t, h.Overflow())
	}
}

func TestFillOutOfRange(t *testing.T) {
	h, err := New(10, 0, 10)
	require.NoError(t, err)

	h.Fill(-0.1)
	h.Fill(10)
	h.Fill(42)
	h.Fill(math.NaN())
	h.Fill(9.999)

	assert.EqualValues(t, 1, h.Entries())
	assert.EqualValues(t, 2, h.Underflow())
	assert.EqualValues(t, 2, h.Overflow())
	assert.Equal(t, 1.0, h.Content(9))
	assert.Equal(t, 1.0, h.Integral())
}

func TestScaleInverse(t *testing.T) {
	h, err := New(20, 0, 4)
	require.NoError(t, err)
	for i := 0; i < 500; i++ {
		h.FillW(math.Mod(float64(i)*0.137, 4), 1+float64(i%3))
	}
	before := make([]float64, h.NBins())
	for i := range before {
		before[i] = h.Content(i)
	}

	h.Scale(3.7, false)
	h.Scale(1/3.7, false)

	for i := range before {
		assert.InDelta(t, before[i], h.Content(i), 1e-9*math.Max(1, before[i]))
	}
}

func TestScalePerBinWidth(t *testing.T) {
	h, err := New(100, 0, 300)
	require.NoError(t, err)
	for i := 0; i < 3000; i++ {
		h.Fill(100 + float64(i%50))
	}

	h.Scale(1/h.Integral(), true)

	var area float64
	for i := 0; i < h.NBins(); i++ {
		area += h.Content(i) * h.BinWidth()
	}
	assert.InDelta(t, 1.0, area, 1e-12)
	assert.EqualValues(t, 3000, h.Entries())
}

func TestMoments(t *testing.T) {
	h, err := New(4, 0, 4)
	require.NoError(t, err)

	// centers 0.5, 1.5, 2.5, 3.5
	h.FillW(0.2, 1)
	h.FillW(3.9, 3)

	mean := (0.5*1 + 3.5*3) / 4
	rms := math.Sqrt((1*(0.5-mean)*(0.5-mean) + 3*(3.5-mean)*(3.5-mean)) / 4)
	assert.InDelta(t, mean, h.Mean(), 1e-12)
	assert.InDelta(t, rms, h.RMS(), 1e-12)
	assert.InDelta(t, rms/math.Sqrt(2), h.MeanError(), 1e-12)

	// moments are scale invariant
	h.Scale(0.25, true)
	assert.InDelta(t, mean, h.Mean(), 1e-12)
	assert.InDelta(t, rms, h.RMS(), 1e-12)
}

func TestEmptyMoments(t *testing.T) {
	h, err := New(4, 0, 4)
	require.NoError(t, err)
	assert.Zero(t, h.Mean())
	assert.Zero(t, h.RMS())
	assert.True(t, math.IsNaN(h.MeanError()))
}

func TestBinGeometry(t *testing.T) {
	h, err := New(100, 0, 7)
	require.NoError(t, err)
	assert.InDelta(t, 0.07, h.BinWidth(), 1e-15)
	assert.InDelta(t, 0.035, h.BinCenter(0), 1e-15)
	assert.InDelta(t, 6.965, h.BinCenter(99), 1e-12)
	assert.Equal(t, 0, h.FindBin(0))
	assert.Equal(t, 99, h.FindBin(6.99))
	assert.Equal(t, -1, h.FindBin(7))

	h.Fill(3.5)
	max, imax := h.Maximum()
	assert.Equal(t, 1.0, max)
	assert.InDelta(t, 3.5, h.BinCenter(imax), h.BinWidth())
	assert.InDelta(t, 1.0, h.Error(imax), 1e-12)
}
