package continent

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ctessum/geom"
	"github.com/ctessum/geom/encoding/shp"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"
)

// DefaultNameField is the attribute holding the continent name in the ESRI
// World Continents layer.
const DefaultNameField = "CONTINENT"

// Load reads a continent set from a shapefile (.shp) or a GeoJSON feature
// collection (.geojson, .json).
func Load(path, nameField string) (*Set, error) {
	if nameField == "" {
		nameField = DefaultNameField
	}
	var (
		cs  []Continent
		err error
	)
	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".shp":
		cs, err = LoadShapefile(path, nameField)
	case ".geojson", ".json":
		cs, err = LoadGeoJSON(path, nameField)
	default:
		return nil, fmt.Errorf("load continents: unsupported file type %q", ext)
	}
	if err != nil {
		return nil, err
	}
	if len(cs) == 0 {
		return nil, fmt.Errorf("load continents: no polygon features in %s", path)
	}
	return NewSet(cs), nil
}

// LoadGeoJSON reads polygon and multipolygon features named by nameField.
func LoadGeoJSON(path, nameField string) ([]Continent, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load continents: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("load continents: parse %s: %w", path, err)
	}

	var cs []Continent
	for i, f := range fc.Features {
		name := f.Properties.MustString(nameField, "")
		if name == "" {
			return nil, fmt.Errorf("load continents: feature %d has no %q property", i, nameField)
		}
		var mp orb.MultiPolygon
		switch g := f.Geometry.(type) {
		case orb.Polygon:
			mp = orb.MultiPolygon{g}
		case orb.MultiPolygon:
			mp = g
		default:
			continue
		}
		cs = append(cs, Continent{Name: name, Geometry: mp})
	}
	return cs, nil
}

// LoadShapefile reads polygon records named by nameField. Shapefile rings
// are stored flat, so they are regrouped by winding: clockwise rings are
// shells and counter-clockwise rings are holes of the shell containing them.
func LoadShapefile(path, nameField string) ([]Continent, error) {
	dec, err := shp.NewDecoder(path)
	if err != nil {
		return nil, fmt.Errorf("load continents: %w", err)
	}
	defer dec.Close()

	var cs []Continent
	for {
		g, fields, more := dec.DecodeRowFields(nameField)
		if !more {
			break
		}
		name := strings.TrimSpace(fields[nameField])
		if name == "" {
			return nil, fmt.Errorf("load continents: record %d has no %q attribute", len(cs), nameField)
		}
		var rings []orb.Ring
		switch p := g.(type) {
		case geom.Polygon:
			rings = appendRings(rings, p)
		case geom.MultiPolygon:
			for _, poly := range p {
				rings = appendRings(rings, poly)
			}
		default:
			continue
		}
		cs = append(cs, Continent{Name: name, Geometry: groupRings(rings)})
	}
	if err := dec.Error(); err != nil {
		return nil, fmt.Errorf("load continents: decode %s: %w", path, err)
	}
	return cs, nil
}

func appendRings(rings []orb.Ring, p geom.Polygon) []orb.Ring {
	for _, path := range p {
		r := make(orb.Ring, len(path))
		for i, pt := range path {
			r[i] = orb.Point{pt.X, pt.Y}
		}
		if len(r) > 0 && r[0] != r[len(r)-1] {
			r = append(r, r[0])
		}
		if len(r) >= 4 {
			rings = append(rings, r)
		}
	}
	return rings
}

// groupRings assigns every hole to the first shell containing its first
// vertex. Orphan holes become shells.
func groupRings(rings []orb.Ring) orb.MultiPolygon {
	var mp orb.MultiPolygon
	var holes []orb.Ring
	for _, r := range rings {
		if r.Orientation() == orb.CCW {
			holes = append(holes, r)
			continue
		}
		mp = append(mp, orb.Polygon{r})
	}
	for _, h := range holes {
		placed := false
		for i := range mp {
			if planar.RingContains(mp[i][0], h[0]) {
				mp[i] = append(mp[i], h)
				placed = true
				break
			}
		}
		if !placed {
			mp = append(mp, orb.Polygon{h})
		}
	}
	return mp
}
