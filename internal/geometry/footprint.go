// Package geometry turns geolocated sales into GeoJSON for map clients.
package geometry

import (
	"errors"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/planar"

	"estimateur/server/internal/models"
)

var ErrNoLocations = errors.New("no geolocated transactions")

// Footprint builds a feature collection with one point per geolocated sale
// and, when at least three sales are not aligned, the convex hull of the
// sales as the commune's market area.
func Footprint(inseeCode string, records []models.Transaction) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()

	var points orb.MultiPoint
	for _, r := range records {
		lat, lon, ok := r.Location()
		if !ok {
			continue
		}
		p := orb.Point{lon, lat}
		points = append(points, p)

		feature := geojson.NewFeature(p)
		feature.Properties = geojson.Properties{
			"date":          r.Date.Format("2006-01-02"),
			"price":         r.Price,
			"built_area":    r.BuiltArea,
			"property_type": r.PropertyType,
		}
		if ppsqm, ok := r.PricePerSqm(); ok {
			feature.Properties["price_per_sqm"] = ppsqm
		}
		fc.Append(feature)
	}
	if len(points) == 0 {
		return nil, ErrNoLocations
	}

	fc.BBox = geojson.NewBBox(points.Bound())

	if hull := convexHull(points); hull != nil {
		polygon := orb.Polygon{hull}
		centroid, _ := planar.CentroidArea(polygon)

		area := geojson.NewFeature(polygon)
		area.Properties = geojson.Properties{
			"insee_code":   inseeCode,
			"kind":         "market_area",
			"transactions": len(points),
			"centroid":     []float64{centroid.Lon(), centroid.Lat()},
		}
		fc.Append(area)
	}

	return fc, nil
}

func cross(o, a, b orb.Point) float64 {
	return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
}

// convexHull returns the closed counter-clockwise hull of points, or nil
// when they do not span an area.
func convexHull(points orb.MultiPoint) orb.Ring {
	pts := make([]orb.Point, len(points))
	copy(pts, points)
	sort.Slice(pts, func(i, j int) bool {
		if pts[i][0] != pts[j][0] {
			return pts[i][0] < pts[j][0]
		}
		return pts[i][1] < pts[j][1]
	})

	// drop duplicates
	unique := pts[:0]
	for i, p := range pts {
		if i == 0 || !p.Equal(pts[i-1]) {
			unique = append(unique, p)
		}
	}
	pts = unique
	if len(pts) < 3 {
		return nil
	}

	// monotone chain
	hull := make([]orb.Point, 0, 2*len(pts))
	for _, p := range pts {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}
	lower := len(hull) + 1
	for i := len(pts) - 2; i >= 0; i-- {
		p := pts[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	// hull now ends on its first point
	if len(hull) < 4 {
		return nil
	}
	return orb.Ring(hull)
}
