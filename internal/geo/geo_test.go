package geo

import (
	"math"
	"testing"

	"github.com/example/smartline-dispatch/internal/models"
)

func TestHaversine(t *testing.T) {
	if d := Haversine(30.05, 31.24, 30.05, 31.24); d != 0 {
		t.Fatalf("distance to self = %f, want 0", d)
	}
	// one degree of latitude is about 111.2km
	d := Haversine(30, 31, 31, 31)
	if math.Abs(d-111195) > 500 {
		t.Fatalf("1 degree latitude = %.0fm, want ~111195m", d)
	}
	if Haversine(30, 31, 30.01, 31) >= Haversine(30, 31, 30.02, 31) {
		t.Fatal("distance not monotonic in latitude offset")
	}
}

func TestSimplifyDropsCollinearPoints(t *testing.T) {
	// straight line north, interior points within tolerance
	pts := []models.RoutePoint{
		{Lat: 30.000, Lng: 31},
		{Lat: 30.001, Lng: 31},
		{Lat: 30.002, Lng: 31},
		{Lat: 30.003, Lng: 31},
		{Lat: 30.004, Lng: 31},
	}
	out := Simplify(pts, 5)
	if len(out) != 2 {
		t.Fatalf("collinear route simplified to %d points, want 2", len(out))
	}
	if out[0] != pts[0] || out[1] != pts[4] {
		t.Fatal("endpoints not preserved")
	}
}

func TestSimplifyKeepsSignificantDeviation(t *testing.T) {
	// the middle point sits ~111m east of the a-b line
	pts := []models.RoutePoint{
		{Lat: 30.000, Lng: 31},
		{Lat: 30.001, Lng: 31.001},
		{Lat: 30.002, Lng: 31},
	}
	out := Simplify(pts, 5)
	if len(out) != 3 {
		t.Fatalf("significant corner dropped: %d points, want 3", len(out))
	}
	if len(Simplify(pts, 500)) != 2 {
		t.Fatal("corner within a generous tolerance should be dropped")
	}
}

func TestSimplifyShortInputsPassThrough(t *testing.T) {
	pts := []models.RoutePoint{{Lat: 30, Lng: 31}, {Lat: 30.1, Lng: 31.1}}
	if got := Simplify(pts, 10); len(got) != 2 {
		t.Fatalf("two-point route must pass through, got %d", len(got))
	}
	if got := Simplify(pts, 0); len(got) != 2 {
		t.Fatal("zero tolerance must pass through")
	}
}

func TestRouteToGeoJSON(t *testing.T) {
	pts := []models.RoutePoint{
		{Lat: 30.05, Lng: 31.24},
		{Lat: 30.06, Lng: 31.25},
	}
	f := RouteToGeoJSON("trip-1", pts)
	if f.Type != "Feature" || f.Geometry.Type != "LineString" {
		t.Fatalf("wrong GeoJSON types: %s/%s", f.Type, f.Geometry.Type)
	}
	if len(f.Geometry.Coordinates) != 2 {
		t.Fatalf("got %d coordinates, want 2", len(f.Geometry.Coordinates))
	}
	// GeoJSON is lng first
	if f.Geometry.Coordinates[0] != [2]float64{31.24, 30.05} {
		t.Fatalf("coordinate order wrong: %v", f.Geometry.Coordinates[0])
	}
	if f.Properties["trip_id"] != "trip-1" || f.Properties["point_count"] != 2 {
		t.Fatalf("properties wrong: %v", f.Properties)
	}
}
