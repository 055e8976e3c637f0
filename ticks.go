package gemcalib

import (
	"math"
	"strconv"

	"gonum.org/v1/plot"
)

// PreciseTicks labels major ticks with just enough decimals to tell them
// apart, which keeps keV axes spanning a few units readable.
type PreciseTicks struct {
	NSuggestedTicks int
}

func (t PreciseTicks) Ticks(min, max float64) []plot.Tick {
	n := t.NSuggestedTicks
	if n < 2 {
		n = 4
	}
	if !(max > min) {
		return nil
	}

	major, mult := majorStep((max-min)/float64(n-1))
	decimals := 0
	if major < 1 {
		decimals = int(math.Ceil(-math.Log10(major) - 1e-9))
	}

	var ticks []plot.Tick
	first := math.Ceil(min/major-1e-9) * major
	for i := 0; ; i++ {
		v := first + float64(i)*major
		if v > max+major*1e-9 {
			break
		}
		v = roundTo(v, decimals)
		ticks = append(ticks, plot.Tick{Value: v, Label: strconv.FormatFloat(v, 'f', decimals, 64)})
	}

	minor := major / 2
	switch mult {
	case 5:
		minor = major / 5
	}
	firstMinor := math.Ceil(min/minor-1e-9) * minor
	for i := 0; ; i++ {
		v := firstMinor + float64(i)*minor
		if v > max+minor*1e-9 {
			break
		}
		if onMajor(v, major) {
			continue
		}
		ticks = append(ticks, plot.Tick{Value: v})
	}
	return ticks
}

// majorStep rounds raw up to 1, 2 or 5 times a power of ten.
func majorStep(raw float64) (float64, int) {
	tens := math.Pow10(int(math.Floor(math.Log10(raw))))
	for _, m := range []int{1, 2, 5} {
		if step := float64(m) * tens; step >= raw*(1-1e-9) {
			return step, m
		}
	}
	return 10 * tens, 1
}

func onMajor(v, major float64) bool {
	r := v / major
	return math.Abs(r-math.Round(r)) < 1e-6
}

func roundTo(x float64, decimals int) float64 {
	pow := math.Pow10(decimals)
	x = math.Round(x*pow) / pow
	if x == 0 {
		// no negative zero labels
		return 0
	}
	return x
}

// LogScale is a logarithmic axis that clamps values below Floor, so empty
// histogram bins sit on the bottom of the plot.
type LogScale struct {
	Floor float64
}

func (s LogScale) Normalize(min, max, x float64) float64 {
	floor := s.Floor
	if floor <= 0 {
		floor = 1e-3
	}
	clamp := func(v float64) float64 {
		return math.Max(v, floor)
	}
	min, max, x = clamp(min), clamp(max), clamp(x)
	if max <= min {
		return 0
	}
	logMin := math.Log(min)
	return (math.Log(x) - logMin) / (math.Log(max) - logMin)
}
