// Package report draws the calibration plots and prints the run summary.
package report

import (
	"fmt"
	"image/color"
	"math"
	"path/filepath"
	"sort"
	"strings"

	"go-hep.org/x/hep/hplot"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"github.com/decibelcooper/gemcalib"
	"github.com/decibelcooper/gemcalib/hist"
	"github.com/decibelcooper/gemcalib/layers"
	"github.com/decibelcooper/gemcalib/mixture"
)

var (
	Black  = color.RGBA{A: 255}
	Blue   = color.RGBA{B: 255, A: 255}
	Cyan   = color.RGBA{G: 255, B: 255, A: 255}
	Red    = color.RGBA{R: 255, A: 255}
	Violet = color.RGBA{R: 204, G: 0, B: 255, A: 255}

	// Colors cycles over the layers of a spectra overlay.
	Colors = []color.Color{Black, Blue, Cyan, Red, Violet}

	fitColor      = color.RGBA{R: 153, A: 255}
	spectrumColor = color.RGBA{R: 102, G: 0, B: 204, A: 255}
)

const (
	Width  = 6 * vg.Inch
	Height = 4.8 * vg.Inch

	PrimariesFile = "PrimariesSpectrum"
	SpectraFile   = "EnergySpectra"
	TrendFile     = "PrimaryElectrons"
)

// PrimariesPlot draws the primaries spectrum with the fitted mixture over
// [low, high]. Each component is drawn dashed. res may be nil when the fit
// failed, leaving the bare spectrum.
func PrimariesPlot(h *hist.Histogram, res *mixture.Result, low, high float64) (*plot.Plot, error) {
	p := plot.New()
	p.X.Label.Text = "Primary electrons"
	p.X.Tick.Marker = gemcalib.PreciseTicks{NSuggestedTicks: 5}

	hp := hplot.NewH1D(h.H1D())
	hp.LineStyle.Color = spectrumColor
	hp.LineStyle.Width = vg.Points(1)
	hp.FillColor = nil
	hp.Infos.Style = hplot.HInfoNone
	p.Add(hp)

	if res == nil {
		return p, nil
	}

	total := plotter.NewFunction(res.Model.Eval)
	total.XMin, total.XMax = low, high
	total.Samples = 300
	total.Color = Red
	total.Width = vg.Points(1.5)
	p.Add(total)

	for _, c := range res.Model {
		f := plotter.NewFunction(c.Eval)
		f.XMin, f.XMax = low, high
		f.Samples = 300
		f.Color = Red
		f.Dashes = []vg.Length{vg.Points(5), vg.Points(3)}
		p.Add(f)
	}

	ymax, _ := h.Maximum()
	labels, err := plotter.NewLabels(plotter.XYLabels{
		XYs:    []plotter.XY{{X: low + 0.03*(high-low), Y: 0.95 * ymax}},
		Labels: []string{fitBox(res)},
	})
	if err != nil {
		return nil, fmt.Errorf("report: fit box: %w", err)
	}
	for i := range labels.TextStyle {
		labels.TextStyle[i].Color = fitColor
		labels.TextStyle[i].YAlign = -1
	}
	p.Add(labels)
	return p, nil
}

func fitBox(res *mixture.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "chi2 / ndf = %.3g / %d\n", res.Chi2, res.NDF)
	for i, c := range res.Model {
		e := mixture.Component{Amplitude: math.NaN(), Mean: math.NaN(), Sigma: math.NaN()}
		if i < len(res.Errors) {
			e = res.Errors[i]
		}
		fmt.Fprintf(&b, "A%d = %.3g +/- %.2g\n", i, c.Amplitude, e.Amplitude)
		fmt.Fprintf(&b, "mean%d = %.1f +/- %.2g\n", i, c.Mean, e.Mean)
		fmt.Fprintf(&b, "sigma%d = %.2f +/- %.2g\n", i, c.Sigma, e.Sigma)
		fmt.Fprintf(&b, "area%d = %.3g\n", i, c.Area())
	}
	return strings.TrimRight(b.String(), "\n")
}

// SpectraPlot overlays the energy histogram of every layer on a log scale,
// in the order of summaries.
func SpectraPlot(summaries []layers.Summary) (*plot.Plot, error) {
	if len(summaries) == 0 {
		return nil, fmt.Errorf("report: no layers to draw")
	}
	p := plot.New()
	p.X.Label.Text = "Energy (keV)"
	p.X.Tick.Marker = gemcalib.PreciseTicks{NSuggestedTicks: 5}
	p.Y.Scale = gemcalib.LogScale{Floor: 0.5}
	p.Y.Tick.Marker = plot.LogTicks{Prec: -1}

	p.Legend.Top = true
	p.Legend.Left = true
	p.Legend.Add("Position in detector")

	for i, s := range summaries {
		hp := hplot.NewH1D(s.Hist.H1D())
		hp.LineStyle.Color = Colors[i%len(Colors)]
		hp.LineStyle.Width = vg.Points(1)
		hp.FillColor = nil
		hp.Infos.Style = hplot.HInfoNone
		p.Add(hp)
		p.Legend.Add(s.Title, hp)
	}

	p.Y.Min = math.Max(p.Y.Min, 0.5)
	if p.Y.Max <= p.Y.Min {
		p.Y.Max = 10 * p.Y.Min
	}
	return p, nil
}

type trendPoints struct {
	plotter.XYs
	plotter.YErrors
}

// PrimariesTrendPlot draws the mean primaries of each batch input, with its
// error bar, against the input's X. Failed inputs are left out.
func PrimariesTrendPlot(rows []PrimariesRow, xLabel string) (*plot.Plot, error) {
	var pts trendPoints
	for _, r := range rows {
		if r.Failure != nil || math.IsNaN(r.Mean) {
			continue
		}
		pts.XYs = append(pts.XYs, plotter.XY{X: r.X, Y: r.Mean})
		pts.YErrors = append(pts.YErrors, struct{ Low, High float64 }{r.Err, r.Err})
	}
	if len(pts.XYs) == 0 {
		return nil, fmt.Errorf("report: no successful inputs to draw")
	}
	sort.Sort(pts)

	p := plot.New()
	p.X.Label.Text = xLabel
	p.Y.Label.Text = "Primary electrons"

	line, points, err := plotter.NewLinePoints(pts.XYs)
	if err != nil {
		return nil, fmt.Errorf("report: trend points: %w", err)
	}
	line.Color = Blue
	points.Color = Blue
	points.Shape = draw.CircleGlyph{}

	bars, err := plotter.NewYErrorBars(pts)
	if err != nil {
		return nil, fmt.Errorf("report: trend errors: %w", err)
	}
	bars.Color = Blue
	p.Add(line, points, bars)
	return p, nil
}

func (t trendPoints) Less(i, j int) bool { return t.XYs[i].X < t.XYs[j].X }

func (t trendPoints) Swap(i, j int) {
	t.XYs[i], t.XYs[j] = t.XYs[j], t.XYs[i]
	t.YErrors[i], t.YErrors[j] = t.YErrors[j], t.YErrors[i]
}

// Save writes p to path. The file extension selects the format.
func Save(p *plot.Plot, path string) error {
	if err := p.Save(Width, Height, path); err != nil {
		return fmt.Errorf("report: save %s: %w", path, err)
	}
	return nil
}

// Path joins dir, name and the format extension.
func Path(dir, name, format string) string {
	return filepath.Join(dir, name+"."+strings.TrimPrefix(strings.ToLower(format), "."))
}
