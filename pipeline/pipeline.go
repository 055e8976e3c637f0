// Package pipeline runs a full calibration: primaries spectrum, mixture fit,
// linear calibration and per-layer energy spectra.
package pipeline

import (
	"fmt"
	"math"

	"go.uber.org/zap"

	"github.com/decibelcooper/gemcalib/calib"
	"github.com/decibelcooper/gemcalib/config"
	"github.com/decibelcooper/gemcalib/hist"
	"github.com/decibelcooper/gemcalib/layers"
	"github.com/decibelcooper/gemcalib/mixture"
)

type Result struct {
	// Primaries is the conversion layer primaries spectrum, normalised when
	// the configuration asks for it. Nil when the conversion layer is empty.
	Primaries     *hist.Histogram
	PrimariesMean float64
	PrimariesErr  float64

	// Fit is nil when the calibration did not come from a fit.
	Fit         *mixture.Result
	Calibration calib.Parameters

	Summaries []layers.Summary
	Skipped   []layers.Skip
}

type Runner struct {
	Config config.Config
	Logger *zap.Logger

	// Calibration, when set, is used instead of the configured one.
	Calibration *calib.Parameters
}

// Run is Runner.Run with the calibration taken from cfg.
func Run(cfg config.Config, src layers.Source, logger *zap.Logger) (*Result, error) {
	r := Runner{Config: cfg, Logger: logger}
	return r.Run(src)
}

func (r *Runner) logger() *zap.Logger {
	if r.Logger == nil {
		return zap.NewNop()
	}
	return r.Logger
}

// Run processes the layers of src. On failure the returned result holds
// what was computed before the failing stage.
func (r *Runner) Run(src layers.Source) (*Result, error) {
	cfg := r.Config
	log := r.logger()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	ls, err := r.read(src)
	if err != nil {
		return nil, err
	}

	res := &Result{PrimariesMean: math.NaN(), PrimariesErr: math.NaN()}
	var conv *layers.Layer
	if lc, ok := cfg.ConversionLayer(); ok {
		for i := range ls {
			if ls[i].Name == lc.Name {
				conv = &ls[i]
			}
		}
	}
	if conv != nil && len(conv.Records) > 0 {
		h, err := layers.PrimariesHist(conv.Records, cfg.Primaries)
		if err != nil {
			return res, fmt.Errorf("primaries spectrum: %w", err)
		}
		res.Primaries = h
		if h.Entries() > 0 {
			res.PrimariesMean = h.Mean()
			res.PrimariesErr = h.MeanError()
			if cfg.Fit.Normalize {
				h.Scale(1/h.Integral(), true)
			}
		}
		log.Info("primaries spectrum",
			zap.Int64("entries", h.Entries()),
			zap.Int64("underflow", h.Underflow()),
			zap.Int64("overflow", h.Overflow()),
			zap.Float64("mean", res.PrimariesMean),
		)
	}

	cal, err := r.calibrate(res)
	if err != nil {
		return res, err
	}
	res.Calibration = cal
	log.Info("calibration",
		zap.Stringer("source", cal.Source),
		zap.Float64("scale", cal.Scale),
		zap.Float64("offset", cal.Offset),
		zap.Float64("scaleErr", cal.ScaleErr),
		zap.Float64("offsetErr", cal.OffsetErr),
	)

	agg := layers.Aggregator{
		Logger:        log,
		Stat:          cfg.Stage(),
		PrimariesSpec: cfg.Primaries,
	}
	ares, err := agg.Aggregate(ls, cfg.Energy, cal)
	if err != nil {
		return res, fmt.Errorf("aggregate layers: %w", err)
	}
	res.Summaries = ares.Summaries
	res.Skipped = ares.Skipped
	return res, nil
}

func (r *Runner) read(src layers.Source) ([]layers.Layer, error) {
	var ls []layers.Layer
	for _, lc := range r.Config.Layers {
		recs, err := src.Records(lc.Name)
		if err != nil {
			if !lc.Optional {
				return nil, fmt.Errorf("read layer %q: %w", lc.Name, err)
			}
			r.logger().Warn("optional layer unavailable", zap.String("layer", lc.Name), zap.Error(err))
			recs = nil
		}
		title := lc.Title
		if title == "" {
			title = lc.Name
		}
		ls = append(ls, layers.Layer{
			Name:       lc.Name,
			Title:      title,
			Records:    recs,
			Conversion: lc.Conversion,
			Optional:   lc.Optional,
		})
	}
	return ls, nil
}

func (r *Runner) calibrate(res *Result) (calib.Parameters, error) {
	cfg := r.Config
	if r.Calibration != nil {
		return *r.Calibration, nil
	}
	if p, ok := cfg.Explicit(); ok {
		return p, nil
	}

	if res.Primaries == nil || res.Primaries.Entries() == 0 {
		return calib.Parameters{}, fmt.Errorf("fit primaries spectrum: %w: empty conversion layer", layers.ErrInsufficientStatistics)
	}
	guess, err := cfg.Guess()
	if err != nil {
		return calib.Parameters{}, fmt.Errorf("seed fit: %w", err)
	}
	fitter := mixture.Fitter{Weighting: cfg.Weighting()}
	if cfg.Fit.MaxIterations > 0 {
		fitter.Settings = mixture.DefaultSettings()
		fitter.Settings.MajorIterations = cfg.Fit.MaxIterations
	}
	low, high := cfg.FitRange()
	fres, err := fitter.Fit(res.Primaries, guess, low, high)
	if err != nil {
		return calib.Parameters{}, fmt.Errorf("fit primaries spectrum: %w", err)
	}
	res.Fit = fres
	r.logger().Debug("mixture fit",
		zap.Float64("chi2", fres.Chi2),
		zap.Int("ndf", fres.NDF),
		zap.Int("iterations", fres.Iterations),
		zap.Stringer("status", fres.Status),
	)

	cal, err := calib.FromReferences(fres, cfg.References())
	if err != nil {
		return calib.Parameters{}, fmt.Errorf("calibrate: %w", err)
	}
	return cal, nil
}
