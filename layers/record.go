package layers

import (
	"fmt"
)

// Record is one simulated hit at one detector layer. Energy is in keV and
// is set for every layer; Primaries is only meaningful for the conversion
// layer.
type Record struct {
	Layer     string
	Energy    float64
	Primaries float64
}

// Source provides the records of a named layer.
type Source interface {
	Records(layer string) ([]Record, error)
}

// MemorySource serves records held in memory, keyed by layer name.
type MemorySource map[string][]Record

func (s MemorySource) Records(layer string) ([]Record, error) {
	recs, ok := s[layer]
	if !ok {
		return nil, fmt.Errorf("layers: no layer %q", layer)
	}
	return recs, nil
}

// Primaries extracts the primaries column.
func Primaries(recs []Record) []float64 {
	out := make([]float64, len(recs))
	for i, r := range recs {
		out[i] = r.Primaries
	}
	return out
}
