package mixture

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/optimize"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/decibelcooper/gemcalib/hist"
)

// fillNormal fills n values spread over the quantiles of N(mu, sigma).
func fillNormal(h *hist.Histogram, n int, mu, sigma float64) {
	dist := distuv.Normal{Mu: mu, Sigma: sigma}
	for i := 0; i < n; i++ {
		h.Fill(dist.Quantile((float64(i) + 0.5) / float64(n)))
	}
}

func threePeakHist(t *testing.T) *hist.Histogram {
	t.Helper()
	h, err := hist.New(100, 0, 300)
	require.NoError(t, err)
	fillNormal(h, 7000, 200, 10)
	fillNormal(h, 2000, 220, 10)
	fillNormal(h, 1000, 90, 15)
	return h
}

func TestModelEval(t *testing.T) {
	m := Model{
		{Amplitude: 2, Mean: 1, Sigma: 0.5},
		{Amplitude: 1, Mean: 5, Sigma: 2},
	}
	assert.InDelta(t, 2+math.Exp(-0.5*4), m.Eval(1), 1e-12)
	assert.InDelta(t, 2*math.Sqrt(2*math.Pi), Component{Amplitude: 4, Sigma: 0.5}.Area(), 1e-12)

	c := m.Clone()
	c[0].Mean = 42
	assert.Equal(t, 1.0, m[0].Mean)
}

func TestModelValidate(t *testing.T) {
	good := Model{
		{Amplitude: 1, Mean: 200, Sigma: 10},
		{Amplitude: 1, Mean: 220, Sigma: 10},
		{Amplitude: 1, Mean: 90, Sigma: 10},
	}
	require.NoError(t, good.Validate())
	require.NoError(t, append(good.Clone(), Component{Amplitude: 0, Mean: 120, Sigma: 10}).Validate())

	for name, m := range map[string]Model{
		"too few":         good[:2],
		"too many":        append(good.Clone(), good...),
		"zero sigma":      {{Amplitude: 1, Mean: 200, Sigma: 0}, {Amplitude: 1, Mean: 220, Sigma: 10}, {Amplitude: 1, Mean: 90, Sigma: 10}},
		"negative amp":    {{Amplitude: -1, Mean: 200, Sigma: 10}, {Amplitude: 1, Mean: 220, Sigma: 10}, {Amplitude: 1, Mean: 90, Sigma: 10}},
		"non-finite mean": {{Amplitude: 1, Mean: math.Inf(1), Sigma: 10}, {Amplitude: 1, Mean: 220, Sigma: 10}, {Amplitude: 1, Mean: 90, Sigma: 10}},
	} {
		if err := m.Validate(); !errors.Is(err, ErrInvalidModel) {
			t.Fatalf("%s: expected ErrInvalidModel, got %v", name, err)
		}
	}
}

func TestCheckPhysical(t *testing.T) {
	assert.ErrorIs(t, Model{{Amplitude: 1, Mean: 0, Sigma: 0}}.checkPhysical(), ErrFitDegenerate)
	assert.ErrorIs(t, Model{{Amplitude: -1, Mean: 0, Sigma: 1}}.checkPhysical(), ErrFitDegenerate)
	assert.ErrorIs(t, Model{{Amplitude: math.NaN(), Mean: 0, Sigma: 1}}.checkPhysical(), ErrFitDegenerate)
	assert.NoError(t, Model{{Amplitude: 0, Mean: 0, Sigma: 1}}.checkPhysical())
}

func TestEncodeRoundTrip(t *testing.T) {
	m := Model{
		{Amplitude: 0.05, Mean: 200, Sigma: 10},
		{Amplitude: 0.01, Mean: 220, Sigma: 12},
		{Amplitude: 0, Mean: 90, Sigma: 3},
	}
	got := decode(encode(m, 0.05), 0.05)
	for i := range m {
		assert.InDelta(t, m[i].Amplitude, got[i].Amplitude, 1e-15)
		assert.Equal(t, m[i].Mean, got[i].Mean)
		assert.Equal(t, m[i].Sigma, got[i].Sigma)
	}
}

func TestFitThreeComponents(t *testing.T) {
	h := threePeakHist(t)
	before := make([]float64, h.NBins())
	for i := range before {
		before[i] = h.Content(i)
	}

	guess := Model{
		{Amplitude: 800, Mean: 198, Sigma: 9},
		{Amplitude: 250, Mean: 223, Sigma: 11},
		{Amplitude: 80, Mean: 93, Sigma: 12},
	}
	var f Fitter
	res, err := f.Fit(h, guess, h.Low(), h.High())
	require.NoError(t, err)
	require.Len(t, res.Model, 3)

	assert.InDelta(t, 200, res.Model[0].Mean, 0.5)
	assert.InDelta(t, 220, res.Model[1].Mean, 0.5)
	assert.InDelta(t, 90, res.Model[2].Mean, 0.5)
	assert.InDelta(t, 10, res.Model[0].Sigma, 0.5)
	assert.InDelta(t, 15, res.Model[2].Sigma, 0.5)
	assert.Equal(t, 100-9, res.NDF)
	assert.False(t, res.Status.Early())
	assert.Greater(t, res.Iterations, 0)

	// the fit must describe the data far better than the seed
	var seedChi2 float64
	for _, r := range guess.Residuals(h) {
		seedChi2 += r * r
	}
	assert.Less(t, res.Chi2, seedChi2/100)

	for i := range before {
		assert.Equal(t, before[i], h.Content(i))
	}
}

func TestFitPoissonWeighting(t *testing.T) {
	h := threePeakHist(t)
	h.Scale(1/h.Integral(), true)

	guess := Model{
		{Amplitude: 0.028, Mean: 198, Sigma: 9},
		{Amplitude: 0.008, Mean: 223, Sigma: 11},
		{Amplitude: 0.003, Mean: 93, Sigma: 12},
	}
	f := Fitter{Weighting: Poisson}
	res, err := f.Fit(h, guess, 50, 280)
	require.NoError(t, err)

	assert.Equal(t, Poisson, res.Weighting)
	assert.InDelta(t, 200, res.Model[0].Mean, 0.5)
	assert.InDelta(t, 220, res.Model[1].Mean, 0.5)
	assert.Greater(t, res.Errors[0].Mean, 0.0)
	assert.Less(t, res.Errors[0].Mean, 2.0)
	assert.False(t, math.IsNaN(res.ReducedChi2()))
}

func TestFitDivergence(t *testing.T) {
	h := threePeakHist(t)
	guess := Model{
		{Amplitude: 800, Mean: 198, Sigma: 9},
		{Amplitude: 250, Mean: 223, Sigma: 11},
		{Amplitude: 80, Mean: 93, Sigma: 12},
	}
	f := Fitter{Settings: &optimize.Settings{MajorIterations: 1}, Passes: 1}
	_, err := f.Fit(h, guess, h.Low(), h.High())
	require.ErrorIs(t, err, ErrFitDivergence)
}

func TestFitInvalidInput(t *testing.T) {
	h := threePeakHist(t)
	var f Fitter

	_, err := f.Fit(h, Model{{Amplitude: 1, Mean: 200, Sigma: 10}}, 0, 300)
	assert.ErrorIs(t, err, ErrInvalidModel)

	guess := Model{
		{Amplitude: 800, Mean: 198, Sigma: 9},
		{Amplitude: 250, Mean: 223, Sigma: 11},
		{Amplitude: 80, Mean: 93, Sigma: 12},
	}
	_, err = f.Fit(h, guess, 200, 210)
	assert.ErrorIs(t, err, ErrInvalidModel)

	_, err = f.Fit(h, guess, 300, 0)
	assert.ErrorIs(t, err, hist.ErrInvalidRange)

	empty, err := hist.New(100, 0, 300)
	require.NoError(t, err)
	_, err = f.Fit(empty, guess, 0, 300)
	assert.ErrorIs(t, err, ErrInvalidModel)
}

func TestParseWeighting(t *testing.T) {
	w, err := ParseWeighting("Poisson")
	require.NoError(t, err)
	assert.Equal(t, Poisson, w)
	w, err = ParseWeighting("")
	require.NoError(t, err)
	assert.Equal(t, Unweighted, w)
	_, err = ParseWeighting("pearson")
	assert.Error(t, err)
	assert.Equal(t, "poisson", Poisson.String())
}
