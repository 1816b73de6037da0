package mapaggr

import (
	"github.com/golang/geo/r1"
	"github.com/golang/geo/s1"
	"github.com/golang/geo/s2"
)

// ViewPort is the rectangle of the map the caller is looking at.
type ViewPort struct {
	LatMin float64 `json:"latmin"`
	LonMin float64 `json:"lonmin"`
	LatMax float64 `json:"latmax"`
	LonMax float64 `json:"lonmax"`
}

// Center returns the viewport's midpoint.
func (vp *ViewPort) Center() (float64, float64) {
	return (vp.LatMin + vp.LatMax) / 2, (vp.LonMin + vp.LonMax) / 2
}

// CellCount is one aggregated heatmap bucket. A bucket holding a single
// complaint keeps that complaint's own position; larger buckets report the
// cell center.
type CellCount struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Count     int64   `json:"count"`
}

type bucket struct {
	count    int64
	origCell s2.CellID
}

// Aggregator groups complaint positions into S2 cells sized to the viewport,
// so a city-wide view returns a handful of hotspots while a street-level view
// returns near-raw points.
type Aggregator struct {
	level   int
	buckets map[s2.CellID]*bucket
}

const (
	expectedCells = 160
	minLevel      = 6
	maxLevel      = 16
)

// cellLevel picks the deepest S2 level at which the viewport still holds
// fewer than expectedCells cells of that size.
func cellLevel(vp *ViewPort) int {
	minLL := s2.LatLngFromDegrees(vp.LatMin, vp.LonMin)
	maxLL := s2.LatLngFromDegrees(vp.LatMax, vp.LonMax)

	rect := s2.Rect{
		Lat: r1.Interval{Lo: minLL.Lat.Radians(), Hi: maxLL.Lat.Radians()},
		Lng: s1.Interval{Lo: minLL.Lng.Radians(), Hi: maxLL.Lng.Radians()},
	}
	vpArea := rect.Area()

	centerLat, centerLon := vp.Center()
	centerCell := s2.CellIDFromLatLng(s2.LatLngFromDegrees(centerLat, centerLon))

	for lv := maxLevel; lv >= minLevel; lv-- {
		cc := s2.CellFromCellID(centerCell.Parent(lv))
		if vpArea/cc.ApproxArea() < expectedCells {
			return lv
		}
	}
	return minLevel
}

func New(vp *ViewPort) *Aggregator {
	return &Aggregator{
		level:   cellLevel(vp),
		buckets: make(map[s2.CellID]*bucket),
	}
}

// AddPoint folds one complaint position into its bucket.
func (a *Aggregator) AddPoint(lat, lon float64) {
	pc := s2.CellIDFromLatLng(s2.LatLngFromDegrees(lat, lon))
	parent := pc.Parent(a.level)
	if _, ok := a.buckets[parent]; !ok {
		a.buckets[parent] = &bucket{}
	}
	a.buckets[parent].count++
	a.buckets[parent].origCell = pc
}

// ToArray flattens the buckets for the API response.
func (a *Aggregator) ToArray() []CellCount {
	result := make([]CellCount, 0, len(a.buckets))
	for c, b := range a.buckets {
		ll := c.LatLng()
		if b.count == 1 {
			ll = b.origCell.LatLng()
		}
		result = append(result, CellCount{
			Latitude:  ll.Lat.Degrees(),
			Longitude: ll.Lng.Degrees(),
			Count:     b.count,
		})
	}
	return result
}
