package mixture

import (
	"fmt"
	"math"
	"strings"

	"go-hep.org/x/hep/fit"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/optimize"

	"github.com/decibelcooper/gemcalib/hist"
)

// Weighting selects how bins enter the least-squares sum.
type Weighting int

const (
	// Unweighted minimises sum (content - model)^2 over every bin in range.
	Unweighted Weighting = iota
	// Poisson weights each bin by 1/sumw2 and ignores empty bins.
	Poisson
)

func (w Weighting) String() string {
	switch w {
	case Unweighted:
		return "unweighted"
	case Poisson:
		return "poisson"
	}
	return fmt.Sprintf("Weighting(%d)", int(w))
}

func ParseWeighting(s string) (Weighting, error) {
	switch strings.ToLower(s) {
	case "", "unweighted", "none":
		return Unweighted, nil
	case "poisson":
		return Poisson, nil
	}
	return 0, fmt.Errorf("unknown fit weighting %q", s)
}

type Fitter struct {
	Weighting Weighting

	// Settings bounds each minimisation pass. Nil uses DefaultSettings.
	Settings *optimize.Settings
	// Method defaults to Nelder-Mead.
	Method optimize.Method
	// Passes is the number of restarts from the previous optimum; 0 means 3.
	Passes int
}

func DefaultSettings() *optimize.Settings {
	return &optimize.Settings{
		MajorIterations: 100000,
		Converger: &optimize.FunctionConverge{
			Absolute:   1e-12,
			Iterations: 200,
		},
	}
}

type Result struct {
	Model Model
	// Errors holds the one-sigma uncertainty of every parameter. Entries are
	// NaN when the parameter is not constrained by the data.
	Errors Model

	Chi2            float64
	NDF             int
	Status          optimize.Status
	Iterations      int
	FuncEvaluations int
	Weighting       Weighting
}

func (r *Result) ReducedChi2() float64 {
	if r.NDF <= 0 {
		return math.NaN()
	}
	return r.Chi2 / float64(r.NDF)
}

type points struct {
	x, y, err []float64
}

func (f *Fitter) points(h *hist.Histogram, low, high float64) points {
	var p points
	for i := 0; i < h.NBins(); i++ {
		x := h.BinCenter(i)
		if x < low || x > high {
			continue
		}
		y := h.Content(i)
		e := h.Error(i)
		if f.Weighting == Poisson && e <= 0 {
			continue
		}
		p.x = append(p.x, x)
		p.y = append(p.y, y)
		p.err = append(p.err, e)
	}
	return p
}

// Fit refines guess against the bin contents of h whose centers lie in
// [low, high]. The guess must already place components near the peaks.
// h is not modified.
func (f *Fitter) Fit(h *hist.Histogram, guess Model, low, high float64) (*Result, error) {
	if err := guess.Validate(); err != nil {
		return nil, err
	}
	if !(low < high) {
		return nil, fmt.Errorf("%w: fit range [%v, %v]", hist.ErrInvalidRange, low, high)
	}

	pts := f.points(h, low, high)
	npar := 3 * len(guess)
	if len(pts.x) <= npar {
		return nil, fmt.Errorf("%w: %d usable bins for %d parameters", ErrInvalidModel, len(pts.x), npar)
	}

	// Work on contents normalised to the tallest bin so the objective is
	// independent of the histogram normalisation.
	norm := 0.0
	for _, y := range pts.y {
		norm = math.Max(norm, math.Abs(y))
	}
	if norm == 0 {
		return nil, fmt.Errorf("%w: no content in fit range", ErrInvalidModel)
	}
	ys := make([]float64, len(pts.y))
	for i, y := range pts.y {
		ys[i] = y / norm
	}
	var errs []float64
	if f.Weighting == Poisson {
		errs = make([]float64, len(pts.err))
		for i, e := range pts.err {
			errs[i] = e / norm
		}
	}

	settings := f.Settings
	if settings == nil {
		settings = DefaultSettings()
	}
	passes := f.Passes
	if passes <= 0 {
		passes = 3
	}

	ps := encode(guess, norm)
	res := &Result{Weighting: f.Weighting}
	prev := math.Inf(1)
	for pass := 0; pass < passes; pass++ {
		method := f.Method
		if method == nil {
			method = &optimize.NelderMead{}
		}
		out, err := fit.Curve1D(
			fit.Func1D{
				F:   evalEncoded,
				N:   len(ps),
				Ps:  ps,
				X:   pts.x,
				Y:   ys,
				Err: errs,
			},
			settings, method,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: pass %d: %v", ErrFitDivergence, pass, err)
		}
		if out.Status.Early() {
			return nil, fmt.Errorf("%w: pass %d: %v", ErrFitDivergence, pass, out.Status)
		}
		if !finite(out.F) {
			return nil, fmt.Errorf("%w: pass %d: objective is %v", ErrFitDivergence, pass, out.F)
		}
		ps = append(ps[:0:0], out.X...)
		res.Status = out.Status
		res.Iterations += out.Stats.MajorIterations
		res.FuncEvaluations += out.Stats.FuncEvaluations
		if prev-out.F <= 1e-12*math.Max(1, math.Abs(out.F)) {
			break
		}
		prev = out.F
	}

	model := decode(ps, norm)
	if err := model.checkPhysical(); err != nil {
		return nil, err
	}
	res.Model = model
	res.NDF = len(pts.x) - npar

	w := weights(errs, len(ys))
	chi2n := chi2(natural(model, norm), pts.x, ys, w)
	res.Chi2 = chi2n
	if f.Weighting == Unweighted {
		res.Chi2 = chi2n * norm * norm
	}
	res.Errors = uncertainties(model, norm, pts.x, ys, w, chi2n, res.NDF, f.Weighting)
	return res, nil
}

// Encoded parameters are (a, mean, s) per component with amplitude a^2*norm
// and sigma |s|, which keeps the minimiser inside the physical region.
func encode(m Model, norm float64) []float64 {
	ps := make([]float64, 0, 3*len(m))
	for _, c := range m {
		ps = append(ps, math.Sqrt(c.Amplitude/norm), c.Mean, c.Sigma)
	}
	return ps
}

func decode(ps []float64, norm float64) Model {
	m := make(Model, len(ps)/3)
	for i := range m {
		a := ps[3*i]
		m[i] = Component{
			Amplitude: a * a * norm,
			Mean:      ps[3*i+1],
			Sigma:     math.Abs(ps[3*i+2]),
		}
	}
	return m
}

func evalEncoded(x float64, ps []float64) float64 {
	var sum float64
	for i := 0; i+2 < len(ps); i += 3 {
		d := (x - ps[i+1]) / ps[i+2]
		sum += ps[i] * ps[i] * math.Exp(-0.5*d*d)
	}
	return sum
}

// natural returns (amplitude/norm, mean, sigma) triplets.
func natural(m Model, norm float64) []float64 {
	ps := make([]float64, 0, 3*len(m))
	for _, c := range m {
		ps = append(ps, c.Amplitude/norm, c.Mean, c.Sigma)
	}
	return ps
}

func evalNatural(x float64, ps []float64) float64 {
	var sum float64
	for i := 0; i+2 < len(ps); i += 3 {
		d := (x - ps[i+1]) / ps[i+2]
		sum += ps[i] * math.Exp(-0.5*d*d)
	}
	return sum
}

func weights(errs []float64, n int) []float64 {
	w := make([]float64, n)
	for i := range w {
		w[i] = 1
		if errs != nil {
			w[i] = 1 / (errs[i] * errs[i])
		}
	}
	return w
}

func chi2(ps, xs, ys, w []float64) float64 {
	var sum float64
	for i, x := range xs {
		r := evalNatural(x, ps) - ys[i]
		sum += w[i] * r * r
	}
	return sum
}

// components whose fitted height is below this fraction of the tallest bin
// are held fixed when estimating uncertainties.
const deadAmplitude = 1e-6

// uncertainties estimates parameter errors from the inverse Hessian of the
// chi2 at the optimum, cov = 2*H^-1, scaled by chi2/ndf for unweighted fits.
func uncertainties(m Model, norm float64, xs, ys, w []float64, chi2n float64, ndf int, wt Weighting) Model {
	errs := make(Model, len(m))
	for i := range errs {
		errs[i] = Component{Amplitude: math.NaN(), Mean: math.NaN(), Sigma: math.NaN()}
	}

	full := natural(m, norm)
	var free []int
	for i, c := range m {
		if c.Amplitude/norm > deadAmplitude {
			free = append(free, 3*i, 3*i+1, 3*i+2)
		}
	}
	if len(free) == 0 || ndf <= 0 {
		return errs
	}

	x0 := make([]float64, len(free))
	for i, j := range free {
		x0[i] = full[j]
	}
	obj := func(x []float64) float64 {
		ps := append([]float64(nil), full...)
		for i, j := range free {
			ps[j] = x[i]
		}
		return chi2(ps, xs, ys, w)
	}

	hess := mat.NewSymDense(len(free), nil)
	fd.Hessian(hess, obj, x0, nil)

	var chol mat.Cholesky
	if ok := chol.Factorize(hess); !ok {
		return errs
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return errs
	}
	factor := 2.0
	if wt == Unweighted {
		factor *= chi2n / float64(ndf)
	}
	for i, j := range free {
		v := factor * inv.At(i, i)
		if v < 0 {
			continue
		}
		e := math.Sqrt(v)
		switch c := j / 3; j % 3 {
		case 0:
			errs[c].Amplitude = e * norm
		case 1:
			errs[c].Mean = e
		case 2:
			errs[c].Sigma = e
		}
	}
	return errs
}
