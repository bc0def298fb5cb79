// Package ledger owns the trip/offer state machine and its single
// acceptance invariant: once any driver is bound to a trip, no other
// acceptance may succeed. The binding write is an optimistic conditional
// update; the distributed lock around it only reduces wasted work.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
)

var (
	// ErrConflict means the optimistic update lost: the trip state changed
	// concurrently. Surfaced as "already taken", never retried automatically.
	ErrConflict = errors.New("trip state changed concurrently")

	// ErrNotFound is returned for unknown trips and offers.
	ErrNotFound = errors.New("not found")

	// ErrNoDrivers is returned when a ride request finds no online candidates.
	ErrNoDrivers = errors.New("no drivers available")
)

// Settlement is the financial outcome of a completed trip. It is computed
// once, before the completion write, and applied atomically with it.
type Settlement struct {
	TripID      string
	CustomerID  string
	DriverID    string
	Method      models.PaymentMethod
	WaitingFee  float64
	Total       float64 // price + waiting fee
	PlatformFee float64
	DriverNet   float64
}

// PlatformAccount is the wallet that accumulates platform fees.
const PlatformAccount = "platform"

// Store is the durable side of the ledger. Implementations must provide
// compare-and-set semantics for AcceptOffer, Transition, CancelTrip and
// CompleteTrip: the write succeeds only if the row is still in the expected
// status.
type Store interface {
	CreateTrip(ctx context.Context, t *models.Trip) error
	GetTrip(ctx context.Context, id string) (*models.Trip, error)

	CreateOffers(ctx context.Context, offers []*models.TripOffer) error
	GetOffer(ctx context.Context, id string) (*models.TripOffer, error)
	RejectOffer(ctx context.Context, id string) error

	// AcceptOffer binds the offer's driver to its trip if and only if the
	// trip is still requested, and marks all sibling pending offers rejected
	// in the same logical operation. On a lost race it returns ErrConflict
	// and mutates nothing.
	AcceptOffer(ctx context.Context, offerID string) (*models.Trip, *models.TripOffer, []*models.TripOffer, error)

	// Transition flips status from->to and stamps at into the transition's
	// timestamp column. It returns false when the trip was not in from.
	Transition(ctx context.Context, tripID string, from, to models.TripStatus, at time.Time) (bool, error)

	// CancelTrip cancels from any pre-completed state. False means the trip
	// was already completed or cancelled.
	CancelTrip(ctx context.Context, tripID string, at time.Time) (bool, error)

	// CompleteTrip flips started->completed and applies the settlement's
	// balance movements atomically with the flip. False means the trip was
	// not in started; no balances move in that case.
	CompleteTrip(ctx context.Context, tripID string, at time.Time, s *Settlement) (bool, error)

	SetPaymentRef(ctx context.Context, tripID, ref string) error

	ActiveTripByDriver(ctx context.Context, driverID string) (*models.Trip, error)
	ActiveTripsByDrivers(ctx context.Context, driverIDs []string) (map[string]*models.Trip, error)

	Profiles(ctx context.Context, driverIDs []string) (map[string]models.DriverProfile, error)
	Balance(ctx context.Context, account string) (float64, error)
}
