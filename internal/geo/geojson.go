package geo

import "github.com/example/smartline-dispatch/internal/models"

// GeoJSONFeature projects a recorded route as a GeoJSON LineString feature.
type GeoJSONFeature struct {
	Type       string         `json:"type"`
	Geometry   GeoJSONGeom    `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

type GeoJSONGeom struct {
	Type        string       `json:"type"`
	Coordinates [][2]float64 `json:"coordinates"` // [lng, lat] per the GeoJSON spec
}

func RouteToGeoJSON(tripID string, points []models.RoutePoint) GeoJSONFeature {
	coords := make([][2]float64, 0, len(points))
	for _, p := range points {
		coords = append(coords, [2]float64{p.Lng, p.Lat})
	}
	return GeoJSONFeature{
		Type:     "Feature",
		Geometry: GeoJSONGeom{Type: "LineString", Coordinates: coords},
		Properties: map[string]any{
			"trip_id":     tripID,
			"point_count": len(points),
		},
	}
}
