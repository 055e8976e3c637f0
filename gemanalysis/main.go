package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/pkg/profile"
	"go.uber.org/zap"

	"github.com/decibelcooper/gemcalib"
	"github.com/decibelcooper/gemcalib/calib"
	"github.com/decibelcooper/gemcalib/config"
	"github.com/decibelcooper/gemcalib/pipeline"
	"github.com/decibelcooper/gemcalib/report"
	"github.com/decibelcooper/gemcalib/store"
	"github.com/decibelcooper/gemcalib/treeio"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: `+os.Args[0]+` [options] <root-input-file> [more input files]

Fits the primaries spectrum of the conversion layer, calibrates it against
two reference lines and plots the energy spectrum at every layer.

options:
`,
	)
	flag.PrintDefaults()
}

var (
	configPath = flag.String("config", "", "TOML configuration file")
	output     = flag.String("output", "", "output directory (overrides config)")
	format     = flag.String("format", "", "plot format: png, eps, svg or pdf (overrides config)")
	dbPath     = flag.String("db", "", "calibration history database (overrides config)")
	useStored  = flag.Bool("use-stored", false, "use the latest stored calibration instead of fitting")
	statistic  = flag.String("statistic", "", "conversion layer mean taken \"post\" or \"pre\" calibration")
	weighting  = flag.String("weighting", "", "fit weighting: unweighted or poisson")
	doProfile  = flag.String("profile", "", "write a cpu or mem profile")
	verbose    = flag.Bool("verbose", false, "debug logging")
	history    = flag.Int("history", 0, "print the N latest stored calibrations and exit")
	xLabel     = flag.String("xlabel", "Copper thickness", "x axis title of the batch primaries plot")
)

var (
	refs       gemcalib.FloatArrayFlags
	layerNames gemcalib.StringArrayFlags
	xValues    gemcalib.FloatArrayFlags
)

func init() {
	flag.Var(&refs, "ref", "reference line energies in keV, two values (repeatable or comma separated)")
	flag.Var(&layerNames, "layer", "restrict the analysis to these configured layers")
	flag.Var(&xValues, "x", "per-input x values of the batch primaries plot (default: number in the file name)")
}

func main() {
	os.Exit(mainCode())
}

// mainCode runs the command and returns its exit status once every deferred
// cleanup, profiles included, has run.
func mainCode() int {
	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() < 1 && *history <= 0 {
		printUsage()
		return 2
	}

	switch *doProfile {
	case "cpu":
		defer profile.Start(profile.CPUProfile, profile.ProfilePath(".")).Stop()
	case "mem":
		defer profile.Start(profile.MemProfile, profile.ProfilePath(".")).Stop()
	}

	logger := gemcalib.NewLogger(*verbose)
	defer logger.Sync()

	if err := run(logger, flag.Args()); err != nil {
		logger.Error("analysis failed", zap.Error(err))
		return 1
	}
	return 0
}

func loadConfig() (config.Config, error) {
	cfg, err := config.Load(*configPath)
	if err != nil {
		return cfg, err
	}
	if *output != "" {
		cfg.Output = *output
	}
	if *format != "" {
		cfg.Format = *format
	}
	if *dbPath != "" {
		cfg.DB = *dbPath
	}
	if *statistic != "" {
		cfg.Statistic = *statistic
	}
	if *weighting != "" {
		cfg.Fit.Weighting = *weighting
	}
	if refs.IsSet() {
		if len(refs.Array) != 2 || len(cfg.Calibration.References) != 2 {
			return cfg, fmt.Errorf("%w: -ref needs exactly two energies", config.ErrInvalidConfig)
		}
		for i, e := range refs.Array {
			cfg.Calibration.References[i].Energy = e
		}
	}
	if layerNames.IsSet() {
		var kept []config.LayerConfig
		for _, name := range layerNames.Array {
			found := false
			for _, l := range cfg.Layers {
				if l.Name == name {
					kept = append(kept, l)
					found = true
				}
			}
			if !found {
				return cfg, fmt.Errorf("%w: layer %q is not configured", config.ErrInvalidConfig, name)
			}
		}
		cfg.Layers = kept
	}
	if err := checkSources(cfg, *useStored); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// checkSources rejects runs asking for more than one calibration source.
func checkSources(cfg config.Config, useStored bool) error {
	if !useStored {
		return nil
	}
	if _, ok := cfg.Explicit(); ok {
		return fmt.Errorf("%w: -use-stored conflicts with the configured calibration scale and offset", config.ErrInvalidConfig)
	}
	if cfg.DB == "" {
		return fmt.Errorf("%w: -use-stored needs a calibration database", config.ErrInvalidConfig)
	}
	return nil
}

var numberInName = regexp.MustCompile(`[0-9]+(\.[0-9]+)?`)

// trendX picks the x value of input i in a batch: the -x list when given,
// else the first number in the file name, else the position.
func trendX(inputs []string, xs []float64) ([]float64, error) {
	if len(xs) > 0 {
		if len(xs) != len(inputs) {
			return nil, fmt.Errorf("%d -x values for %d inputs", len(xs), len(inputs))
		}
		return xs, nil
	}
	out := make([]float64, len(inputs))
	for i, input := range inputs {
		out[i] = float64(i)
		name := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
		if m := numberInName.FindString(name); m != "" {
			if v, err := strconv.ParseFloat(m, 64); err == nil {
				out[i] = v
			}
		}
	}
	return out, nil
}

func run(logger *zap.Logger, inputs []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	var db *store.Store
	if cfg.DB != "" {
		db, err = store.Open(cfg.DB)
		if err != nil {
			return err
		}
		defer db.Close()
	}

	if *history > 0 {
		if db == nil {
			return errors.New("-history needs a calibration database")
		}
		entries, err := db.History(*history)
		if err != nil {
			return err
		}
		return report.WriteHistory(os.Stdout, entries)
	}

	runner := pipeline.Runner{Config: cfg, Logger: logger}
	if *useStored {
		e, err := db.Latest()
		if err != nil {
			return err
		}
		p := e.Parameters()
		runner.Calibration = &p
		logger.Info("using stored calibration",
			zap.Int64("id", e.ID),
			zap.String("input", e.Input),
			zap.String("created", e.CreatedAt),
		)
	}

	if len(inputs) == 1 {
		_, err := analyse(logger, &runner, db, inputs[0], cfg.Output)
		return err
	}

	xs, err := trendX(inputs, xValues.Array)
	if err != nil {
		return err
	}
	var rows []report.PrimariesRow
	var failed int
	for i, input := range inputs {
		dir := filepath.Join(cfg.Output, strings.TrimSuffix(filepath.Base(input), filepath.Ext(input)))
		row := report.PrimariesRow{Input: input, X: xs[i]}
		res, err := analyse(logger.With(zap.String("input", input)), &runner, db, input, dir)
		if err != nil {
			logger.Error("input failed", zap.String("input", input), zap.Error(err))
			row.Failure = err
			failed++
		} else {
			row.Mean, row.Err = res.PrimariesMean, res.PrimariesErr
		}
		rows = append(rows, row)
	}
	if err := report.WritePrimariesTable(os.Stdout, rows); err != nil {
		return err
	}
	if failed < len(inputs) {
		p, err := report.PrimariesTrendPlot(rows, *xLabel)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(cfg.Output, 0o755); err != nil {
			return err
		}
		if err := report.Save(p, report.Path(cfg.Output, report.TrendFile, cfg.Format)); err != nil {
			return err
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d inputs failed", failed, len(inputs))
	}
	return nil
}

// analyse runs one input and writes its plots to dir. The primaries plot is
// written even when the fit fails.
func analyse(logger *zap.Logger, runner *pipeline.Runner, db *store.Store, input, dir string) (*pipeline.Result, error) {
	cfg := runner.Config
	r, err := treeio.Open(input)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	logger.Debug("trees found", zap.Strings("trees", r.Trees()))

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}

	res, runErr := runner.Run(r)
	if res != nil && res.Primaries != nil {
		low, high := cfg.FitRange()
		p, err := report.PrimariesPlot(res.Primaries, res.Fit, low, high)
		if err != nil {
			return nil, err
		}
		if err := report.Save(p, report.Path(dir, report.PrimariesFile, cfg.Format)); err != nil {
			return nil, err
		}
	}
	if runErr != nil {
		return res, runErr
	}

	p, err := report.SpectraPlot(res.Summaries)
	if err != nil {
		return nil, err
	}
	if err := report.Save(p, report.Path(dir, report.SpectraFile, cfg.Format)); err != nil {
		return nil, err
	}

	err = report.WriteSummary(os.Stdout, report.Summary{
		PrimariesMean: res.PrimariesMean,
		PrimariesErr:  res.PrimariesErr,
		References:    cfg.References(),
		Calibration:   res.Calibration,
		Layers:        res.Summaries,
		Skipped:       res.Skipped,
	})
	if err != nil {
		return nil, err
	}

	if db != nil && res.Calibration.Source == calib.SourceFit {
		id, err := db.Save(input, res.Calibration)
		if err != nil {
			return nil, err
		}
		logger.Info("calibration stored", zap.Int64("id", id), zap.String("db", cfg.DB))
	}
	return res, nil
}
