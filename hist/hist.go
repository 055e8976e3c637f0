// Package hist provides the fixed-binning 1D histogram used by the
// calibration and aggregation stages. Bin storage is a go-hep hbook.H1D;
// moments are computed over bin centers weighted by bin content.
package hist

import (
	"errors"
	"fmt"
	"math"

	"go-hep.org/x/hep/hbook"
)

var ErrInvalidRange = errors.New("hist: invalid binning")

// Spec describes a uniform binning.
type Spec struct {
	NBins int     `toml:"bins"`
	Low   float64 `toml:"low"`
	High  float64 `toml:"high"`
}

func (s Spec) Validate() error {
	if s.NBins <= 0 {
		return fmt.Errorf("%w: %d bins", ErrInvalidRange, s.NBins)
	}
	if !(s.Low < s.High) {
		return fmt.Errorf("%w: low edge %v not below high edge %v", ErrInvalidRange, s.Low, s.High)
	}
	return nil
}

func (s Spec) New() (*Histogram, error) {
	return New(s.NBins, s.Low, s.High)
}

type Histogram struct {
	h         *hbook.H1D
	spec      Spec
	entries   int64
	underflow int64
	overflow  int64
}

func New(nBins int, low, high float64) (*Histogram, error) {
	spec := Spec{NBins: nBins, Low: low, High: high}
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	return &Histogram{
		h:    hbook.NewH1D(nBins, low, high),
		spec: spec,
	}, nil
}

func (h *Histogram) Fill(x float64) {
	h.FillW(x, 1)
}

// FillW adds w to the bin containing x. Values outside [low, high) and NaN
// only increment the outflow counters.
func (h *Histogram) FillW(x, w float64) {
	switch {
	case math.IsNaN(x), x < h.spec.Low:
		h.underflow++
		return
	case x >= h.spec.High:
		h.overflow++
		return
	}
	h.h.Fill(x, w)
	h.entries++
}

// Scale multiplies every bin by factor. With perBinWidth each bin is also
// divided by its width, turning counts into a density.
func (h *Histogram) Scale(factor float64, perBinWidth bool) {
	if perBinWidth {
		factor /= h.BinWidth()
	}
	h.h.Scale(factor)
}

func (h *Histogram) Spec() Spec { return h.spec }
func (h *Histogram) NBins() int { return h.spec.NBins }
func (h *Histogram) Low() float64 { return h.spec.Low }
func (h *Histogram) High() float64 { return h.spec.High }
func (h *Histogram) Entries() int64 { return h.entries }
func (h *Histogram) Underflow() int64 { return h.underflow }
func (h *Histogram) Overflow() int64 { return h.overflow }

func (h *Histogram) BinWidth() float64 {
	return (h.spec.High - h.spec.Low) / float64(h.spec.NBins)
}

func (h *Histogram) BinCenter(i int) float64 {
	return h.spec.Low + (float64(i)+0.5)*h.BinWidth()
}

func (h *Histogram) Content(i int) float64 {
	return h.h.Binning.Bins[i].SumW()
}

// Error is the statistical uncertainty on bin i, sqrt(sum of squared weights).
func (h *Histogram) Error(i int) float64 {
	return math.Sqrt(h.h.Binning.Bins[i].SumW2())
}

// FindBin returns the index of the bin holding x, or -1 when x is out of range.
func (h *Histogram) FindBin(x float64) int {
	if math.IsNaN(x) || x < h.spec.Low || x >= h.spec.High {
		return -1
	}
	i := int((x - h.spec.Low) / h.BinWidth())
	if i >= h.spec.NBins {
		i = h.spec.NBins - 1
	}
	return i
}

// Integral is the sum of in-range bin contents.
func (h *Histogram) Integral() float64 {
	var sum float64
	for i := 0; i < h.spec.NBins; i++ {
		sum += h.Content(i)
	}
	return sum
}

func (h *Histogram) Mean() float64 {
	var sumw, sumwx float64
	for i := 0; i < h.spec.NBins; i++ {
		c := h.Content(i)
		sumw += c
		sumwx += c * h.BinCenter(i)
	}
	if sumw == 0 {
		return 0
	}
	return sumwx / sumw
}

func (h *Histogram) RMS() float64 {
	mean := h.Mean()
	var sumw, sumwd2 float64
	for i := 0; i < h.spec.NBins; i++ {
		c := h.Content(i)
		d := h.BinCenter(i) - mean
		sumw += c
		sumwd2 += c * d * d
	}
	if sumw == 0 {
		return 0
	}
	return math.Sqrt(sumwd2 / sumw)
}

// MeanError is the standard error of the mean, RMS/sqrt(Entries).
func (h *Histogram) MeanError() float64 {
	if h.entries == 0 {
		return math.NaN()
	}
	return h.RMS() / math.Sqrt(float64(h.entries))
}

// Maximum returns the largest bin content and its index.
func (h *Histogram) Maximum() (float64, int) {
	imax := 0
	max := math.Inf(-1)
	for i := 0; i < h.spec.NBins; i++ {
		if c := h.Content(i); c > max {
			max, imax = c, i
		}
	}
	return max, imax
}

// H1D exposes the backing hbook histogram for drawing. Callers must not
// fill or scale it.
func (h *Histogram) H1D() *hbook.H1D {
	return h.h
}
