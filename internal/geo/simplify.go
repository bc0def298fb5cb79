package geo

import "github.com/example/smartline-dispatch/internal/models"

// Simplify reduces a recorded route with the Douglas-Peucker algorithm.
// toleranceM is the maximum perpendicular deviation, in meters, a dropped
// point may have from the simplified line. Endpoints are always kept.
func Simplify(points []models.RoutePoint, toleranceM float64) []models.RoutePoint {
	if len(points) <= 2 || toleranceM <= 0 {
		return points
	}
	keep := make([]bool, len(points))
	keep[0], keep[len(points)-1] = true, true
	simplifySegment(points, 0, len(points)-1, toleranceM, keep)

	out := make([]models.RoutePoint, 0, len(points))
	for i, k := range keep {
		if k {
			out = append(out, points[i])
		}
	}
	return out
}

func simplifySegment(points []models.RoutePoint, first, last int, tol float64, keep []bool) {
	if last-first < 2 {
		return
	}
	maxDist, maxIdx := 0.0, first
	for i := first + 1; i < last; i++ {
		d := crossTrackMeters(points[i], points[first], points[last])
		if d > maxDist {
			maxDist, maxIdx = d, i
		}
	}
	if maxDist <= tol {
		return
	}
	keep[maxIdx] = true
	simplifySegment(points, first, maxIdx, tol, keep)
	simplifySegment(points, maxIdx, last, tol, keep)
}

// crossTrackMeters approximates the perpendicular distance from p to the
// segment a-b on an equirectangular projection, adequate at city scale.
func crossTrackMeters(p, a, b models.RoutePoint) float64 {
	if a.Lat == b.Lat && a.Lng == b.Lng {
		return Haversine(p.Lat, p.Lng, a.Lat, a.Lng)
	}
	// project onto a local flat plane anchored at a
	const mPerDegLat = 111320.0
	cos := cosDeg((a.Lat + b.Lat) / 2)
	ax, ay := 0.0, 0.0
	bx, by := (b.Lng-a.Lng)*mPerDegLat*cos, (b.Lat-a.Lat)*mPerDegLat
	px, py := (p.Lng-a.Lng)*mPerDegLat*cos, (p.Lat-a.Lat)*mPerDegLat

	dx, dy := bx-ax, by-ay
	t := (px*dx + py*dy) / (dx*dx + dy*dy)
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	cx, cy := ax+t*dx, ay+t*dy
	return hypot(px-cx, py-cy)
}

func cosDeg(deg float64) float64 { return mathCos(deg * 3.141592653589793 / 180) }
