package models

import (
	"encoding/json"
	"time"
)

// Event names exchanged with driver and customer clients over WebSocket.
const (
	EvLocationUpdate       = "location:update"
	EvLocationBatchUpdate  = "location:batch-update"
	EvLocationUpdated      = "location:updated"
	EvLocationBatchUpdated = "location:batch-updated"
	EvTripNew              = "trip:new"
	EvTripOfferUpdate      = "trip:offer-update"
)

// Event is the envelope for every WebSocket message in both directions.
type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// LocationUpdate mirrors the inbound "location:update" payload. The client
// decides its own sampling cadence; the server consumes whatever it receives.
type LocationUpdate struct {
	Lat       float64   `json:"lat"`
	Lng       float64   `json:"lng"`
	Heading   float64   `json:"heading,omitempty"`
	Speed     float64   `json:"speed,omitempty"`
	Accuracy  float64   `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type LocationBatchUpdate struct {
	Locations []LocationUpdate `json:"locations"`
}

// TripOfferNotice is pushed to candidate drivers as "trip:new" and echoed
// back on both sides as "trip:offer-update" when an offer settles.
type TripOfferNotice struct {
	OfferID     string      `json:"offer_id"`
	TripID      string      `json:"trip_id"`
	Pickup      Coord       `json:"pickup"`
	Destination Coord       `json:"destination"`
	Price       float64     `json:"price"`
	Status      OfferStatus `json:"status"`
}
