package wardindex

import (
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"

	"github.com/apex/log"
	geojson "github.com/paulmach/go.geojson"
)

// ward is one municipal ward with its boundary rings. A ring is a closed
// loop of [lon, lat] pairs as stored in the GeoJSON artifact.
type ward struct {
	id    int
	rings [][][]float64
}

// Index answers "which ward contains this point". It is loaded once at
// startup and never mutated afterwards, so it is safe for concurrent reads.
type Index struct {
	wards []ward
}

// Load reads the ward boundary GeoJSON artifact from path. Each feature must
// carry a numeric ward_id property and a Polygon or MultiPolygon geometry.
func Load(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read ward GeoJSON file: %w", err)
	}

	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ward GeoJSON: %w", err)
	}

	return FromFeatureCollection(fc)
}

// FromFeatureCollection builds an index from an already parsed collection.
func FromFeatureCollection(fc *geojson.FeatureCollection) (*Index, error) {
	idx := &Index{}

	for _, f := range fc.Features {
		id, err := wardIDProperty(f)
		if err != nil {
			log.Warnf("Skipping ward feature: %v", err)
			continue
		}

		var rings [][][]float64
		switch {
		case f.Geometry.IsPolygon():
			rings = f.Geometry.Polygon
		case f.Geometry.IsMultiPolygon():
			for _, poly := range f.Geometry.MultiPolygon {
				rings = append(rings, poly...)
			}
		default:
			log.Warnf("Skipping ward %d: unsupported geometry type %s", id, f.Geometry.Type)
			continue
		}

		if len(rings) == 0 || len(rings[0]) == 0 {
			log.Warnf("Skipping ward %d: empty geometry", id)
			continue
		}

		idx.wards = append(idx.wards, ward{id: id, rings: rings})
	}

	if len(idx.wards) == 0 {
		return nil, fmt.Errorf("no usable ward features in collection")
	}

	// Ascending id order makes overlapping-boundary lookups deterministic:
	// the lowest containing ward id always wins.
	sort.Slice(idx.wards, func(i, j int) bool {
		return idx.wards[i].id < idx.wards[j].id
	})

	log.Infof("Loaded %d ward boundaries", len(idx.wards))
	return idx, nil
}

// Count returns the number of wards in the index.
func (idx *Index) Count() int {
	return len(idx.wards)
}

// ResolveWard maps a coordinate to a ward id. Points outside every boundary
// fall back to the ward whose first boundary vertex is closest (squared
// Euclidean distance over raw degrees; an approximation, not a geodesic or
// nearest-edge calculation). The second return is false only when the index
// holds no wards.
func (idx *Index) ResolveWard(lat, lon float64) (int, bool) {
	if idx == nil || len(idx.wards) == 0 {
		return 0, false
	}

	for _, w := range idx.wards {
		for _, ring := range w.rings {
			if pointInRing(lat, lon, ring) {
				return w.id, true
			}
		}
	}

	// Nearest-first-vertex fallback.
	best := idx.wards[0].id
	bestDist := math.MaxFloat64
	for _, w := range idx.wards {
		v := w.rings[0][0]
		dLon := v[0] - lon
		dLat := v[1] - lat
		d := dLon*dLon + dLat*dLat
		if d < bestDist {
			bestDist = d
			best = w.id
		}
	}
	return best, true
}

// pointInRing runs the even-odd ray-casting test: a ray cast east from the
// point crosses the ring's edges an odd number of times iff the point is
// inside.
func pointInRing(lat, lon float64, ring [][]float64) bool {
	inside := false
	j := len(ring) - 1
	for i := 0; i < len(ring); i++ {
		xi, yi := ring[i][0], ring[i][1]
		xj, yj := ring[j][0], ring[j][1]
		if (yi > lat) != (yj > lat) &&
			lon < (xj-xi)*(lat-yi)/(yj-yi)+xi {
			inside = !inside
		}
		j = i
	}
	return inside
}

func wardIDProperty(f *geojson.Feature) (int, error) {
	raw, ok := f.Properties["ward_id"]
	if !ok {
		return 0, fmt.Errorf("ward_id not found in properties")
	}

	switch v := raw.(type) {
	case float64:
		return int(v), nil
	case int:
		return v, nil
	case string:
		id, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid ward_id format: %v", v)
		}
		return id, nil
	default:
		return 0, fmt.Errorf("unexpected ward_id type: %T", v)
	}
}
