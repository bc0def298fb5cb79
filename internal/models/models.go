package models

import "time"

type Coord struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DriverPosition is the last reported location of a driver. It is owned by
// the presence store and overwritten on every update; freshness is tracked
// through the online marker, not through CapturedAt.
type DriverPosition struct {
	DriverID   string    `json:"driver_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading,omitempty"`
	Speed      float64   `json:"speed,omitempty"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	CapturedAt time.Time `json:"captured_at"`
}

type TripStatus string

const (
	TripRequested TripStatus = "requested"
	TripAccepted  TripStatus = "accepted"
	TripArrived   TripStatus = "arrived"
	TripStarted   TripStatus = "started"
	TripCompleted TripStatus = "completed"
	TripCancelled TripStatus = "cancelled"
)

// Terminal reports whether no further transitions are allowed from s.
func (s TripStatus) Terminal() bool {
	return s == TripCompleted || s == TripCancelled
}

type PaymentMethod string

const (
	PayCash   PaymentMethod = "cash"
	PayWallet PaymentMethod = "wallet"
	PayCard   PaymentMethod = "card"
)

type Trip struct {
	ID            string        `json:"id"`
	CustomerID    string        `json:"customer_id"`
	DriverID      string        `json:"driver_id,omitempty"`
	Pickup        Coord         `json:"pickup"`
	Destination   Coord         `json:"destination"`
	Price         float64       `json:"price"`
	Status        TripStatus    `json:"status"`
	PaymentMethod PaymentMethod `json:"payment_method"`
	PaymentRef    string        `json:"payment_ref,omitempty"` // card hold reference
	CreatedAt     time.Time     `json:"created_at"`
	ArrivedAt     *time.Time    `json:"arrived_at,omitempty"`
	StartedAt     *time.Time    `json:"started_at,omitempty"`
	CompletedAt   *time.Time    `json:"completed_at,omitempty"`
	CancelledAt   *time.Time    `json:"cancelled_at,omitempty"`
}

type OfferStatus string

const (
	OfferPending  OfferStatus = "pending"
	OfferAccepted OfferStatus = "accepted"
	OfferRejected OfferStatus = "rejected"
)

type TripOffer struct {
	ID       string      `json:"id"`
	TripID   string      `json:"trip_id"`
	DriverID string      `json:"driver_id"`
	Price    float64     `json:"price"`
	Status   OfferStatus `json:"status"`
}

// RoutePoint is one recorded sample of a trip's travelled path. Append-only,
// ordered by RecordedAt.
type RoutePoint struct {
	TripID     string    `json:"trip_id"`
	Lat        float64   `json:"lat"`
	Lng        float64   `json:"lng"`
	Heading    float64   `json:"heading,omitempty"`
	Speed      float64   `json:"speed,omitempty"`
	Accuracy   float64   `json:"accuracy,omitempty"`
	RecordedAt time.Time `json:"recorded_at"`
}

type DriverProfile struct {
	DriverID    string  `json:"driver_id"`
	Name        string  `json:"name"`
	VehicleType string  `json:"vehicle_type"`
	Rating      float64 `json:"rating"`
}

type TripRequest struct {
	CustomerID    string        `json:"customer_id"`
	Pickup        Coord         `json:"pickup"`
	Destination   Coord         `json:"destination"`
	Price         float64       `json:"price"`
	PaymentMethod PaymentMethod `json:"payment_method"`
}
