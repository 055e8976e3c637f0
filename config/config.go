// Package config holds the analysis settings, read from an optional TOML
// file on top of built-in defaults.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/decibelcooper/gemcalib/calib"
	"github.com/decibelcooper/gemcalib/hist"
	"github.com/decibelcooper/gemcalib/layers"
	"github.com/decibelcooper/gemcalib/mixture"
)

var ErrInvalidConfig = errors.New("config: invalid configuration")

type Config struct {
	// Output is the directory receiving plots.
	Output string `toml:"output"`
	// Format is the plot file extension: png, eps, svg or pdf.
	Format string `toml:"format"`
	// DB is the calibration history database; empty disables it.
	DB string `toml:"db"`
	// Statistic is "post" or "pre": where the conversion layer mean is taken.
	Statistic string `toml:"statistic"`

	Primaries   hist.Spec         `toml:"primaries"`
	Energy      hist.Spec         `toml:"energy"`
	Fit         FitConfig         `toml:"fit"`
	Calibration CalibrationConfig `toml:"calibration"`
	Layers      []LayerConfig     `toml:"layer"`
}

type FitConfig struct {
	Components int    `toml:"components"`
	Weighting  string `toml:"weighting"`
	// Low and High restrict the fit; nil means the full histogram range.
	Low  *float64 `toml:"low"`
	High *float64 `toml:"high"`
	// Normalize scales the primaries spectrum to unit area per unit
	// primaries before fitting.
	Normalize     bool                `toml:"normalize"`
	MaxIterations int                 `toml:"max_iterations"`
	Seeds         []mixture.Component `toml:"seed"`
}

type CalibrationConfig struct {
	References []calib.Reference `toml:"reference"`
	// Scale and Offset, when both set, replace the fit.
	Scale  *float64 `toml:"scale"`
	Offset *float64 `toml:"offset"`
}

type LayerConfig struct {
	Name       string `toml:"name"`
	Title      string `toml:"title"`
	Conversion bool   `toml:"conversion"`
	Optional   bool   `toml:"optional"`
}

// Default returns the Fe-55 setup of the simulated detector stack.
func Default() Config {
	return Config{
		Output:    ".",
		Format:    "png",
		Statistic: "post",
		Primaries: hist.Spec{NBins: 100, Low: 0, High: 300},
		Energy:    hist.Spec{NBins: 100, Low: 0, High: 7},
		Fit: FitConfig{
			Components:    4,
			Weighting:     "unweighted",
			Normalize:     true,
			MaxIterations: 100000,
			Seeds: []mixture.Component{
				{Amplitude: 0.05, Mean: 200, Sigma: 10},
				{Amplitude: 0.01, Mean: 220, Sigma: 10},
				{Amplitude: 0.01, Mean: 90, Sigma: 10},
				{Amplitude: 0.002, Mean: 120, Sigma: 10},
			},
		},
		Calibration: CalibrationConfig{
			References: []calib.Reference{
				{Energy: 5.89, Peak: 200, Component: 0},
				{Energy: 6.49, Peak: 220, Component: 1},
			},
		},
		Layers: []LayerConfig{
			{Name: "primary", Title: "Source"},
			{Name: "window", Title: "Window"},
			{Name: "driftKapton", Title: "Drift kapton"},
			{Name: "driftCopper", Title: "Drift copper"},
			{Name: "conversion", Title: "Gas conversion", Conversion: true},
		},
	}
}

// Load decodes the TOML file at path over Default. Tables given in the file
// (layers, seeds, references) replace the defaults as a whole. An empty
// path returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return decode(cfg, string(data))
}

func decode(cfg Config, data string) (Config, error) {
	var probe map[string]any
	md, err := toml.Decode(data, &probe)
	if err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if md.IsDefined("layer") {
		cfg.Layers = nil
	}
	if md.IsDefined("fit", "seed") {
		cfg.Fit.Seeds = nil
	}
	if md.IsDefined("calibration", "reference") {
		cfg.Calibration.References = nil
	}

	md, err = toml.Decode(data, &cfg)
	if err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("%w: unknown keys %s", ErrInvalidConfig, strings.Join(keys, ", "))
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error
	if err := c.Primaries.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("primaries: %w", err))
	}
	if err := c.Energy.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("energy: %w", err))
	}
	if _, err := mixture.ParseWeighting(c.Fit.Weighting); err != nil {
		errs = append(errs, err)
	}
	if _, err := layers.ParseStage(c.Statistic); err != nil {
		errs = append(errs, err)
	}
	switch strings.ToLower(c.Format) {
	case "png", "eps", "svg", "pdf", "jpg", "jpeg", "tif", "tiff":
	default:
		errs = append(errs, fmt.Errorf("unsupported plot format %q", c.Format))
	}

	errs = append(errs, c.validateFit()...)
	errs = append(errs, c.validateCalibration()...)
	errs = append(errs, c.validateLayers()...)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

func (c Config) validateFit() []error {
	var errs []error
	f := c.Fit
	if f.Components < mixture.MinComponents || f.Components > mixture.MaxComponents {
		errs = append(errs, fmt.Errorf("fit: %d components, want %d or %d", f.Components, mixture.MinComponents, mixture.MaxComponents))
	} else if len(f.Seeds) < f.Components {
		errs = append(errs, fmt.Errorf("fit: %d seeds for %d components", len(f.Seeds), f.Components))
	}
	low, high := c.FitRange()
	if !(low < high) {
		errs = append(errs, fmt.Errorf("fit: range [%v, %v]", low, high))
	}
	if f.MaxIterations < 0 {
		errs = append(errs, fmt.Errorf("fit: negative iteration budget %d", f.MaxIterations))
	}
	return errs
}

func (c Config) validateCalibration() []error {
	var errs []error
	cc := c.Calibration
	if (cc.Scale == nil) != (cc.Offset == nil) {
		errs = append(errs, errors.New("calibration: scale and offset must be given together"))
	}
	if _, ok := c.Explicit(); ok {
		if *cc.Scale == 0 {
			errs = append(errs, errors.New("calibration: zero scale"))
		}
		return errs
	}
	if len(cc.References) != 2 {
		return append(errs, fmt.Errorf("calibration: %d reference lines, want 2", len(cc.References)))
	}
	r0, r1 := cc.References[0], cc.References[1]
	for _, r := range cc.References {
		if r.Component < 0 || r.Component >= c.Fit.Components {
			errs = append(errs, fmt.Errorf("calibration: reference component %d out of range", r.Component))
		}
	}
	if r0.Component == r1.Component {
		errs = append(errs, fmt.Errorf("calibration: both references use component %d", r0.Component))
	}
	if r0.Energy == r1.Energy {
		errs = append(errs, fmt.Errorf("calibration: both references at %v keV", r0.Energy))
	}
	return errs
}

func (c Config) validateLayers() []error {
	var errs []error
	if len(c.Layers) == 0 {
		return []error{errors.New("no layers configured")}
	}
	seen := make(map[string]bool)
	nconv := 0
	for _, l := range c.Layers {
		if l.Name == "" {
			errs = append(errs, errors.New("layer without name"))
		}
		if seen[l.Name] {
			errs = append(errs, fmt.Errorf("layer %q listed twice", l.Name))
		}
		seen[l.Name] = true
		if l.Conversion {
			nconv++
		}
	}
	if nconv != 1 {
		errs = append(errs, fmt.Errorf("%d conversion layers, want exactly 1", nconv))
	}
	return errs
}

func (c Config) FitRange() (float64, float64) {
	low, high := c.Primaries.Low, c.Primaries.High
	if c.Fit.Low != nil {
		low = *c.Fit.Low
	}
	if c.Fit.High != nil {
		high = *c.Fit.High
	}
	return low, high
}

// Explicit returns the configured calibration when it bypasses the fit.
func (c Config) Explicit() (calib.Parameters, bool) {
	if c.Calibration.Scale == nil || c.Calibration.Offset == nil {
		return calib.Parameters{}, false
	}
	return calib.FromExplicit(*c.Calibration.Scale, *c.Calibration.Offset), true
}

func (c Config) References() [2]calib.Reference {
	var refs [2]calib.Reference
	copy(refs[:], c.Calibration.References)
	return refs
}

// Guess is the initial fit model: the first Components seeds with the
// reference peaks placed on their components.
func (c Config) Guess() (mixture.Model, error) {
	n := c.Fit.Components
	if n > len(c.Fit.Seeds) {
		n = len(c.Fit.Seeds)
	}
	return calib.Seed(mixture.Model(c.Fit.Seeds[:n]), c.References())
}

func (c Config) Weighting() mixture.Weighting {
	w, _ := mixture.ParseWeighting(c.Fit.Weighting)
	return w
}

func (c Config) Stage() layers.Stage {
	s, _ := layers.ParseStage(c.Statistic)
	return s
}

func (c Config) ConversionLayer() (LayerConfig, bool) {
	for _, l := range c.Layers {
		if l.Conversion {
			return l, true
		}
	}
	return LayerConfig{}, false
}
