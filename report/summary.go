package report

import (
	"fmt"
	"io"
	"math"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/decibelcooper/gemcalib/calib"
	"github.com/decibelcooper/gemcalib/layers"
	"github.com/decibelcooper/gemcalib/store"
)

// Summary is what a run prints once the layers are aggregated.
type Summary struct {
	PrimariesMean float64
	PrimariesErr  float64

	References  [2]calib.Reference
	Calibration calib.Parameters

	Layers  []layers.Summary
	Skipped []layers.Skip
}

func WriteSummary(w io.Writer, s Summary) error {
	ew := &errWriter{w: w}
	if !math.IsNaN(s.PrimariesMean) {
		ew.printf("%1.1f +/- %1.1f primary electrons\n", s.PrimariesMean, s.PrimariesErr)
	}
	c := s.Calibration
	switch c.Source {
	case calib.SourceFit:
		for i, r := range s.References {
			ew.printf("%1.2f peak corresponds to %1.1f primaries\n", r.Energy, c.Peaks[i])
		}
	case calib.SourceExplicit:
		for _, r := range s.References {
			if r.Energy != 0 {
				ew.printf("%1.2f peak expected at %1.1f primaries\n", r.Energy, c.Invert(r.Energy))
			}
		}
	}
	ew.printf("Conversion factor %1.2f keV/primary, offset %1.2f keV\n", c.Scale, c.Offset)
	if !math.IsNaN(c.ScaleErr) {
		ew.printf("  scale error %1.2g keV/primary, offset error %1.2g keV (%s)\n", c.ScaleErr, c.OffsetErr, c.Source)
	} else {
		ew.printf("  calibration source: %s\n", c.Source)
	}

	tw := tabwriter.NewWriter(ew, 0, 4, 2, ' ', 0)
	for _, l := range s.Layers {
		fmt.Fprintf(tw, "%s\t%1.3f +/- %1.3f keV\t%d entries\n", l.Title, l.Mean, l.MeanErr, l.Entries)
	}
	if err := tw.Flush(); err != nil && ew.err == nil {
		ew.err = err
	}
	for _, sk := range s.Skipped {
		ew.printf("%s skipped: %s\n", sk.Name, sk.Reason)
	}
	return ew.err
}

// PrimariesRow is the mean primaries found in one input file.
type PrimariesRow struct {
	Input string

	// X places the input on the trend plot, e.g. a layer thickness.
	X    float64
	Mean float64
	Err  float64

	// Failure is set when the file could not be analysed.
	Failure error
}

// WritePrimariesTable prints one line per input file of a batch run.
func WritePrimariesTable(w io.Writer, rows []PrimariesRow) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "input\tx\tprimaries\terror")
	for _, r := range rows {
		if r.Failure != nil {
			fmt.Fprintf(tw, "%s\t%g\t-\t%v\n", r.Input, r.X, r.Failure)
			continue
		}
		fmt.Fprintf(tw, "%s\t%g\t%1.1f\t%1.1f\n", r.Input, r.X, r.Mean, r.Err)
	}
	return tw.Flush()
}

// WriteHistory lists stored calibrations, newest first.
func WriteHistory(w io.Writer, entries []store.Entry) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "id\tcreated\tsource\tscale (keV/primary)\toffset (keV)\tinput")
	for _, e := range entries {
		created := e.CreatedAt
		if t, err := e.Time(); err == nil {
			created = t.Local().Format(time.DateTime)
		}
		p := e.Parameters()
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", e.ID, created, e.Source,
			withError(p.Scale, p.ScaleErr, 4), withError(p.Offset, p.OffsetErr, 3), e.Input)
	}
	return tw.Flush()
}

func withError(v, err float64, prec int) string {
	if math.IsNaN(err) {
		return strconv.FormatFloat(v, 'f', prec, 64)
	}
	return fmt.Sprintf("%.*f +/- %.*f", prec, v, prec, err)
}

type errWriter struct {
	w   io.Writer
	err error
}

func (e *errWriter) Write(p []byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	n, err := e.w.Write(p)
	e.err = err
	return n, err
}

func (e *errWriter) printf(format string, args ...any) {
	fmt.Fprintf(e, format, args...)
}
