package main

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/rand"

	"github.com/decibelcooper/gemcalib/treeio"
)

func testSample(n int) sample {
	return sample{
		n:        n,
		scale:    0.03,
		offset:   -0.11,
		escape:   0.1,
		sigma:    10,
		survival: []float64{0.97, 0.93, 0.9},
		rng:      rand.New(rand.NewSource(7)),
	}
}

func TestGenerateLayout(t *testing.T) {
	trees := testSample(5000).generate()
	require.Len(t, trees, 5)

	names := make([]string, len(trees))
	for i, tr := range trees {
		names[i] = tr.Name
	}
	assert.Equal(t, []string{"primary", "window", "driftKapton", "driftCopper", "conversion"}, names)
	assert.True(t, trees[4].WithPrimaries)

	assert.Len(t, trees[0].Records, 5000)
	for i := 1; i < len(trees); i++ {
		assert.LessOrEqual(t, len(trees[i].Records), len(trees[i-1].Records))
	}
	// 0.97*0.93*0.9 of the photons convert
	assert.InEpsilon(t, 0.81*5000, float64(len(trees[4].Records)), 0.1)

	var kalpha, escape int
	for _, r := range trees[4].Records {
		switch {
		case math.Abs(r.Primaries-200) < 30:
			kalpha++
		case math.Abs(r.Primaries-101) < 30:
			escape++
		}
	}
	assert.Greater(t, kalpha, 5*escape)
	assert.Greater(t, escape, 0)
}

func TestGenerateIsReproducible(t *testing.T) {
	a := testSample(100).generate()
	b := testSample(100).generate()
	assert.Equal(t, a, b)
}

func TestGenerateWritesTrees(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fe55.root")
	trees := testSample(200).generate()
	require.NoError(t, treeio.Write(path, trees))

	r, err := treeio.Open(path)
	require.NoError(t, err)
	defer r.Close()
	recs, err := r.Records("conversion")
	require.NoError(t, err)
	assert.Len(t, recs, len(trees[4].Records))
}
