// Package layers turns per-layer records into energy spectra.
package layers

import (
	"errors"
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/decibelcooper/gemcalib/calib"
	"github.com/decibelcooper/gemcalib/hist"
)

var (
	ErrInsufficientStatistics = errors.New("layers: insufficient statistics")
	ErrMultipleConversion     = errors.New("layers: more than one conversion layer")
)

// Stage selects where the conversion layer mean and its error are taken.
type Stage int

const (
	// PostCalibration uses the calibrated energy histogram.
	PostCalibration Stage = iota
	// PreCalibration uses the primaries histogram and maps mean and error
	// through the calibration.
	PreCalibration
)

func ParseStage(s string) (Stage, error) {
	switch s {
	case "", "post":
		return PostCalibration, nil
	case "pre":
		return PreCalibration, nil
	}
	return 0, fmt.Errorf("unknown statistic stage %q", s)
}

func (s Stage) String() string {
	if s == PreCalibration {
		return "pre"
	}
	return "post"
}

type Layer struct {
	Name    string
	Title   string
	Records []Record
	// Conversion marks the layer recorded in primaries.
	Conversion bool
	// Optional layers are skipped when they hold no records.
	Optional bool
}

type Summary struct {
	Name    string
	Title   string
	Hist    *hist.Histogram
	Mean    float64
	MeanErr float64
	Entries int64

	// Underflow and Overflow count records outside the energy binning.
	Underflow int64
	Overflow  int64
}

type Result struct {
	Summaries []Summary
	// Skipped lists the optional layers left out, with the reason.
	Skipped []Skip
}

type Skip struct {
	Name   string
	Reason string
}

type Aggregator struct {
	Logger *zap.Logger
	Stat   Stage
	// PrimariesSpec bins the conversion layer before calibration when Stat
	// is PreCalibration.
	PrimariesSpec hist.Spec
}

func (a *Aggregator) logger() *zap.Logger {
	if a.Logger == nil {
		return zap.NewNop()
	}
	return a.Logger
}

// Aggregate builds one histogram per layer with the shared binning spec,
// keeping the order of layers.
func (a *Aggregator) Aggregate(layers []Layer, spec hist.Spec, cal calib.Parameters) (*Result, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	nconv := 0
	for _, l := range layers {
		if l.Conversion {
			nconv++
		}
	}
	if nconv > 1 {
		return nil, fmt.Errorf("%w: %d layers flagged", ErrMultipleConversion, nconv)
	}

	log := a.logger()
	res := &Result{}
	for _, l := range layers {
		if len(l.Records) == 0 && l.Optional {
			log.Warn("skipping empty layer", zap.String("layer", l.Name))
			res.Skipped = append(res.Skipped, Skip{Name: l.Name, Reason: "no records"})
			continue
		}

		sum, err := a.summarize(l, spec, cal)
		if errors.Is(err, ErrInsufficientStatistics) && l.Optional {
			log.Warn("skipping layer without entries in range", zap.String("layer", l.Name), zap.Error(err))
			res.Skipped = append(res.Skipped, Skip{Name: l.Name, Reason: err.Error()})
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("layer %q: %w", l.Name, err)
		}
		if sum.Underflow > 0 || sum.Overflow > 0 {
			log.Warn("records outside energy range",
				zap.String("layer", l.Name),
				zap.Int64("underflow", sum.Underflow),
				zap.Int64("overflow", sum.Overflow),
				zap.Float64("low", spec.Low),
				zap.Float64("high", spec.High),
			)
		}
		log.Debug("layer aggregated",
			zap.String("layer", l.Name),
			zap.Int64("entries", sum.Entries),
			zap.Float64("mean", sum.Mean),
			zap.Float64("meanErr", sum.MeanErr),
		)
		res.Summaries = append(res.Summaries, sum)
	}
	return res, nil
}

func (a *Aggregator) summarize(l Layer, spec hist.Spec, cal calib.Parameters) (Summary, error) {
	h, err := spec.New()
	if err != nil {
		return Summary{}, err
	}
	for _, r := range l.Records {
		if l.Conversion {
			h.Fill(cal.Apply(r.Primaries))
		} else {
			h.Fill(r.Energy)
		}
	}
	if h.Entries() == 0 {
		return Summary{}, fmt.Errorf("%w: no entries in [%v, %v) out of %d records",
			ErrInsufficientStatistics, spec.Low, spec.High, len(l.Records))
	}

	sum := Summary{
		Name:    l.Name,
		Title:   l.Title,
		Hist:    h,
		Mean:    h.Mean(),
		MeanErr: h.MeanError(),
		Entries: h.Entries(),

		Underflow: h.Underflow(),
		Overflow:  h.Overflow(),
	}
	if l.Conversion && a.Stat == PreCalibration {
		mean, meanErr, err := primariesMean(l.Records, a.PrimariesSpec)
		if err != nil {
			return Summary{}, err
		}
		sum.Mean = cal.Apply(mean)
		sum.MeanErr = math.Abs(cal.Scale) * meanErr
	}
	return sum, nil
}

// PrimariesHist bins the primaries column of recs.
func PrimariesHist(recs []Record, spec hist.Spec) (*hist.Histogram, error) {
	h, err := spec.New()
	if err != nil {
		return nil, err
	}
	for _, r := range recs {
		h.Fill(r.Primaries)
	}
	return h, nil
}

func primariesMean(recs []Record, spec hist.Spec) (float64, float64, error) {
	h, err := PrimariesHist(recs, spec)
	if err != nil {
		return 0, 0, fmt.Errorf("primaries binning: %w", err)
	}
	if h.Entries() == 0 {
		return 0, 0, fmt.Errorf("%w: no primaries in [%v, %v)", ErrInsufficientStatistics, spec.Low, spec.High)
	}
	return h.Mean(), h.MeanError(), nil
}
