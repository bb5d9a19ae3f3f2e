package render

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Feature is one geometry of a dataset with its precomputed bounds.
type Feature struct {
	Geometry   orb.Geometry
	Properties geojson.Properties
	Bound      orb.Bound
}

// Dataset is an immutable set of features. Reloads build a new Dataset and
// swap it in under the renderer's write lock.
type Dataset struct {
	Path     string
	Features []Feature
	bound    orb.Bound
}

func NewDataset(fc *geojson.FeatureCollection) *Dataset {
	d := &Dataset{}
	first := true
	for _, f := range fc.Features {
		if f.Geometry == nil {
			continue
		}
		b := f.Geometry.Bound()
		d.Features = append(d.Features, Feature{
			Geometry:   f.Geometry,
			Properties: f.Properties,
			Bound:      b,
		})
		if first {
			d.bound = b
			first = false
		} else {
			d.bound = d.bound.Union(b)
		}
	}
	return d
}

func LoadDataset(path string) (*Dataset, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}
	d := NewDataset(fc)
	d.Path = absPath
	return d, nil
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.Features)
}

// Intersecting returns the features whose bounds touch b.
func (d *Dataset) Intersecting(b orb.Bound) []Feature {
	if d.Len() == 0 || !d.bound.Intersects(b) {
		return nil
	}
	var out []Feature
	for _, f := range d.Features {
		if f.Bound.Intersects(b) {
			out = append(out, f)
		}
	}
	return out
}
