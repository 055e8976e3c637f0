// Package treeio reads and writes the per-layer ROOT trees produced by the
// detector simulation: one TTree per layer with a float64 "energy" branch,
// plus a float64 "primaries" branch on the conversion layer.
package treeio

import (
	"fmt"

	"go-hep.org/x/hep/groot"
	"go-hep.org/x/hep/groot/riofs"
	"go-hep.org/x/hep/groot/rtree"

	"github.com/decibelcooper/gemcalib/layers"
)

const (
	EnergyBranch    = "energy"
	PrimariesBranch = "primaries"
)

type Reader struct {
	path string
	f    *riofs.File
}

func Open(path string) (*Reader, error) {
	f, err := groot.Open(path)
	if err != nil {
		return nil, fmt.Errorf("treeio: open %s: %w", path, err)
	}
	return &Reader{path: path, f: f}, nil
}

func (r *Reader) Close() error {
	return r.f.Close()
}

// Trees lists the names of the trees stored in the file, in key order.
func (r *Reader) Trees() []string {
	var names []string
	for _, k := range r.f.Keys() {
		if k.ClassName() == "TTree" {
			names = append(names, k.Name())
		}
	}
	return names
}

func (r *Reader) tree(name string) (rtree.Tree, error) {
	obj, err := r.f.Get(name)
	if err != nil {
		return nil, fmt.Errorf("treeio: %s: %w", r.path, err)
	}
	t, ok := obj.(rtree.Tree)
	if !ok {
		return nil, fmt.Errorf("treeio: %s: %q is a %s, not a tree", r.path, name, obj.Class())
	}
	return t, nil
}

// Records reads every entry of the tree named layer.
func (r *Reader) Records(layer string) ([]layers.Record, error) {
	t, err := r.tree(layer)
	if err != nil {
		return nil, err
	}

	var (
		energy    float64
		primaries float64
		rvars     []rtree.ReadVar
	)
	if t.Branch(EnergyBranch) != nil {
		rvars = append(rvars, rtree.ReadVar{Name: EnergyBranch, Value: &energy})
	}
	if t.Branch(PrimariesBranch) != nil {
		rvars = append(rvars, rtree.ReadVar{Name: PrimariesBranch, Value: &primaries})
	}
	if len(rvars) == 0 {
		return nil, fmt.Errorf("treeio: tree %q has neither %q nor %q", layer, EnergyBranch, PrimariesBranch)
	}

	rd, err := rtree.NewReader(t, rvars)
	if err != nil {
		return nil, fmt.Errorf("treeio: reader for %q: %w", layer, err)
	}
	defer rd.Close()

	recs := make([]layers.Record, 0, t.Entries())
	err = rd.Read(func(ctx rtree.RCtx) error {
		recs = append(recs, layers.Record{Layer: layer, Energy: energy, Primaries: primaries})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("treeio: read %q: %w", layer, err)
	}
	return recs, nil
}

// Tree is the content of one layer to be written.
type Tree struct {
	Name    string
	Records []layers.Record
	// WithPrimaries adds the primaries branch.
	WithPrimaries bool
}

// Write creates path and stores trees in the simulation layout.
func Write(path string, trees []Tree) (err error) {
	f, err := groot.Create(path)
	if err != nil {
		return fmt.Errorf("treeio: create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("treeio: close %s: %w", path, cerr)
		}
	}()

	for _, t := range trees {
		if err := writeTree(f, t); err != nil {
			return err
		}
	}
	return nil
}

func writeTree(dir riofs.Directory, t Tree) error {
	var energy, primaries float64
	wvars := []rtree.WriteVar{{Name: EnergyBranch, Value: &energy}}
	if t.WithPrimaries {
		wvars = append(wvars, rtree.WriteVar{Name: PrimariesBranch, Value: &primaries})
	}
	w, err := rtree.NewWriter(dir, t.Name, wvars)
	if err != nil {
		return fmt.Errorf("treeio: writer for %q: %w", t.Name, err)
	}
	for _, r := range t.Records {
		energy, primaries = r.Energy, r.Primaries
		if _, err := w.Write(); err != nil {
			_ = w.Close()
			return fmt.Errorf("treeio: write %q: %w", t.Name, err)
		}
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("treeio: close tree %q: %w", t.Name, err)
	}
	return nil
}
