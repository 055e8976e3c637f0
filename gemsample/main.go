package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"go.uber.org/zap"
	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/decibelcooper/gemcalib"
	"github.com/decibelcooper/gemcalib/layers"
	"github.com/decibelcooper/gemcalib/treeio"
)

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: `+os.Args[0]+` [options] <root-output-file>

Writes a synthetic Fe-55 run in the layout of the detector simulation.

options:
`,
	)
	flag.PrintDefaults()
}

var (
	nEvents = flag.Int("n", 10000, "number of source photons")
	seed    = flag.Uint64("seed", 1, "random seed")
	scale   = flag.Float64("scale", 0.03, "keV per primary electron")
	offset  = flag.Float64("offset", -0.11, "keV offset of the primaries scale")
	escape  = flag.Float64("escape", 0.1, "fraction of conversions in the argon escape peak")
	resol   = flag.Float64("sigma", 10, "primaries resolution")
	verbose = flag.Bool("verbose", false, "debug logging")
)

var survival gemcalib.FloatArrayFlags

func init() {
	survival.Array = []float64{0.97, 0.93, 0.9}
	flag.Var(&survival, "survival", "fraction of photons crossing each passive layer (repeatable)")
}

// line is an emission line of the source with its relative intensity.
type line struct {
	energy    float64
	intensity float64
}

var fe55Lines = []line{{5.89, 0.88}, {6.49, 0.12}}

const argonEscape = 2.96

type sample struct {
	n        int
	scale    float64
	offset   float64
	escape   float64
	sigma    float64
	survival []float64
	rng      *rand.Rand
}

var passiveLayers = []string{"window", "driftKapton", "driftCopper"}

// generate follows every photon from the source through the passive layers
// to the gas, where it converts into primaries.
func (s sample) generate() []treeio.Tree {
	trees := []treeio.Tree{{Name: "primary"}}
	for _, name := range passiveLayers {
		trees = append(trees, treeio.Tree{Name: name})
	}
	conv := treeio.Tree{Name: "conversion", WithPrimaries: true}

	smear := distuv.Normal{Mu: 0, Sigma: 0.01, Src: s.rng}
	spread := distuv.Normal{Mu: 0, Sigma: s.sigma, Src: s.rng}

	for i := 0; i < s.n; i++ {
		e := s.pickLine()
		trees[0].Records = append(trees[0].Records, layers.Record{Layer: "primary", Energy: e})

		alive := true
		for j := range passiveLayers {
			if j < len(s.survival) && s.rng.Float64() > s.survival[j] {
				alive = false
				break
			}
			e += smear.Rand()
			trees[j+1].Records = append(trees[j+1].Records, layers.Record{Layer: passiveLayers[j], Energy: e})
		}
		if !alive {
			continue
		}

		deposit := e
		if s.rng.Float64() < s.escape {
			deposit -= argonEscape
		}
		primaries := (deposit-s.offset)/s.scale + spread.Rand()
		conv.Records = append(conv.Records, layers.Record{Layer: "conversion", Energy: deposit, Primaries: primaries})
	}
	return append(trees, conv)
}

func (s sample) pickLine() float64 {
	u := s.rng.Float64()
	for _, l := range fe55Lines {
		if u < l.intensity {
			return l.energy
		}
		u -= l.intensity
	}
	return fe55Lines[len(fe55Lines)-1].energy
}

func main() {
	flag.Usage = printUsage
	flag.Parse()
	if flag.NArg() != 1 {
		printUsage()
		log.Fatal("Invalid arguments")
	}

	logger := gemcalib.NewLogger(*verbose)
	defer logger.Sync()

	s := sample{
		n:        *nEvents,
		scale:    *scale,
		offset:   *offset,
		escape:   *escape,
		sigma:    *resol,
		survival: survival.Array,
		rng:      rand.New(rand.NewSource(*seed)),
	}
	trees := s.generate()
	if err := treeio.Write(flag.Arg(0), trees); err != nil {
		logger.Fatal("write sample", zap.Error(err))
	}
	for _, t := range trees {
		logger.Info("tree written", zap.String("tree", t.Name), zap.Int("entries", len(t.Records)))
	}
}
