package snapshot

// BBox is a lat/lng bounding box, min corner first.
type BBox struct {
	MinLat, MinLng, MaxLat, MaxLng float64
}

func (b BBox) contains(lat, lng float64) bool {
	return lat >= b.MinLat && lat <= b.MaxLat && lng >= b.MinLng && lng <= b.MaxLng
}

// Filter narrows and paginates a materialized snapshot. All filtering runs
// against the snapshot object, never against the live store.
type Filter struct {
	Status      string // idle | on_trip | "" for all
	VehicleType string
	BBox        *BBox
	Page        int // 1-based
	PerPage     int
}

type Page struct {
	Drivers    []DriverView `json:"drivers"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PerPage    int          `json:"per_page"`
	GeneratedAt string      `json:"generated_at"`
}

// Apply filters s and returns one page of results.
func (f Filter) Apply(s *Snapshot) Page {
	matched := make([]DriverView, 0, len(s.Drivers))
	for _, d := range s.Drivers {
		if f.Status != "" && d.Status != f.Status {
			continue
		}
		if f.VehicleType != "" && (d.Profile == nil || d.Profile.VehicleType != f.VehicleType) {
			continue
		}
		if f.BBox != nil && !f.BBox.contains(d.Lat, d.Lng) {
			continue
		}
		matched = append(matched, d)
	}

	page, per := f.Page, f.PerPage
	if per <= 0 {
		per = 50
	}
	if page <= 0 {
		page = 1
	}
	start := (page - 1) * per
	if start > len(matched) {
		start = len(matched)
	}
	end := start + per
	if end > len(matched) {
		end = len(matched)
	}
	return Page{
		Drivers:     matched[start:end],
		Total:       len(matched),
		Page:        page,
		PerPage:     per,
		GeneratedAt: s.GeneratedAt.Format("2006-01-02T15:04:05Z07:00"),
	}
}
