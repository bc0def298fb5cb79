package ledger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
	"github.com/example/smartline-dispatch/internal/observability"
	"github.com/example/smartline-dispatch/internal/presence"
)

// Locker is the distributed lock contract the service needs. The lock is
// advisory (it may fail open); the store's conditional updates are the
// correctness guarantee.
type Locker interface {
	WithLock(ctx context.Context, key string, ttl time.Duration, fn func(ctx context.Context) error) error
}

// Notifier pushes events to live connections. Best effort, at most once.
type Notifier interface {
	Notify(userID, eventType string, payload any) bool
	NotifyMany(userIDs []string, eventType string, payload any) int
	BroadcastFiltered(eventType string, payload any, allow func(userID string) bool) int
}

// PushSender is the offline fallback for offer delivery (mobile push).
type PushSender interface {
	Offer(driverID string, notice models.TripOfferNotice) error
}

// CardPayments is the hold/capture/cancel surface of the card processor.
type CardPayments interface {
	Hold(ctx context.Context, amount int64, currency, customerID string) (string, error)
	Capture(ctx context.Context, paymentRef string) error
	Cancel(ctx context.Context, paymentRef string) error
}

// ChangeFeed is the secondary, redundant delivery path for trip events.
// Consumers must be idempotent: the same trip id + status may arrive twice.
type ChangeFeed interface {
	PublishTripEvent(ctx context.Context, tripID string, status models.TripStatus, driverID string) error
}

// Service coordinates dispatch: candidate lookup, offer fan-out and the
// race-free acceptance protocol.
type Service struct {
	Store    Store
	Presence presence.Store
	Locks    Locker
	Notify   Notifier
	Push     PushSender // optional
	Cards    CardPayments
	Feed     ChangeFeed // optional
	Fees     FeePolicy
	Logger   *slog.Logger

	SearchRadiusKm float64
	MaxCandidates  int
	LockTTL        time.Duration
}

func (s *Service) radius() float64 {
	if s.SearchRadiusKm <= 0 {
		return 5
	}
	return s.SearchRadiusKm
}

func (s *Service) lockTTL() time.Duration {
	if s.LockTTL <= 0 {
		return 10 * time.Second
	}
	return s.LockTTL
}

// RequestTrip creates a trip, fans the offer out to nearby online drivers
// and returns the trip with its pending offers.
func (s *Service) RequestTrip(ctx context.Context, req models.TripRequest) (*models.Trip, []*models.TripOffer, error) {
	limit := s.MaxCandidates
	if limit <= 0 {
		limit = 8
	}
	cands := s.Presence.QueryNearby(ctx, req.Pickup.Lat, req.Pickup.Lng, s.radius(), limit)
	if len(cands) == 0 {
		return nil, nil, ErrNoDrivers
	}

	trip := &models.Trip{
		ID:            newID(),
		CustomerID:    req.CustomerID,
		Pickup:        req.Pickup,
		Destination:   req.Destination,
		Price:         req.Price,
		Status:        models.TripRequested,
		PaymentMethod: req.PaymentMethod,
		CreatedAt:     time.Now().UTC(),
	}
	if err := s.Store.CreateTrip(ctx, trip); err != nil {
		return nil, nil, err
	}

	offers := make([]*models.TripOffer, 0, len(cands))
	targets := make(map[string]*models.TripOffer, len(cands))
	for _, c := range cands {
		o := &models.TripOffer{
			ID:       newID(),
			TripID:   trip.ID,
			DriverID: c.DriverID,
			Price:    req.Price,
			Status:   models.OfferPending,
		}
		offers = append(offers, o)
		targets[c.DriverID] = o
	}
	if err := s.Store.CreateOffers(ctx, offers); err != nil {
		return nil, nil, err
	}

	// geo-scoped announcement to exactly the candidate set
	s.Notify.BroadcastFiltered(models.EvTripNew, tripNotice(trip), func(userID string) bool {
		_, ok := targets[userID]
		return ok
	})
	// each driver additionally gets its own offer id; drivers with no live
	// connection fall back to mobile push
	for driverID, o := range targets {
		notice := offerNotice(trip, o)
		if s.Notify.Notify(driverID, models.EvTripOfferUpdate, notice) {
			continue
		}
		if s.Push != nil {
			if err := s.Push.Offer(driverID, notice); err != nil {
				s.Logger.Warn("push fallback failed", "driver_id", driverID, "error", err)
			}
		}
	}
	observability.OffersSent.Add(float64(len(offers)))
	s.publishEvent(ctx, trip.ID, models.TripRequested, "")
	return trip, offers, nil
}

// AcceptOffer binds driverID to the offer's trip. Exactly one acceptance can
// win; all others receive ErrConflict and must not retry.
func (s *Service) AcceptOffer(ctx context.Context, offerID, driverID string) (*models.Trip, error) {
	offer, err := s.Store.GetOffer(ctx, offerID)
	if err != nil {
		return nil, err
	}
	if offer.DriverID != driverID {
		return nil, ErrNotFound
	}

	var (
		trip     *models.Trip
		accepted *models.TripOffer
		rejected []*models.TripOffer
	)
	err = s.Locks.WithLock(ctx, "lock:trip:"+offer.TripID, s.lockTTL(), func(ctx context.Context) error {
		var err error
		trip, accepted, rejected, err = s.Store.AcceptOffer(ctx, offerID)
		return err
	})
	if err != nil {
		if errors.Is(err, ErrConflict) {
			observability.AcceptConflicts.Inc()
		}
		return nil, err
	}

	if trip.PaymentMethod == models.PayCard && s.Cards != nil {
		ref, err := s.Cards.Hold(ctx, toCents(trip.Price), "usd", trip.CustomerID)
		if err != nil {
			s.Logger.Error("card hold failed", "trip_id", trip.ID, "error", err)
		} else if err := s.Store.SetPaymentRef(ctx, trip.ID, ref); err != nil {
			s.Logger.Error("payment ref not persisted", "trip_id", trip.ID, "error", err)
		}
	}

	// direct notification is the primary path; the change-feed below is the
	// redundant one
	s.Notify.Notify(trip.CustomerID, models.EvTripOfferUpdate, offerNotice(trip, accepted))
	s.Notify.Notify(driverID, models.EvTripOfferUpdate, offerNotice(trip, accepted))
	for _, o := range rejected {
		s.Notify.Notify(o.DriverID, models.EvTripOfferUpdate, offerNotice(trip, o))
	}
	s.publishEvent(ctx, trip.ID, models.TripAccepted, driverID)
	return trip, nil
}

// ActiveTrip returns the driver's current non-terminal trip, if any. Driver
// apps call this on reconnect to resume an in-flight ride.
func (s *Service) ActiveTrip(ctx context.Context, driverID string) (*models.Trip, error) {
	return s.Store.ActiveTripByDriver(ctx, driverID)
}

// RejectOffer records a driver declining; it never affects the trip row.
func (s *Service) RejectOffer(ctx context.Context, offerID, driverID string) error {
	offer, err := s.Store.GetOffer(ctx, offerID)
	if err != nil {
		return err
	}
	if offer.DriverID != driverID {
		return ErrNotFound
	}
	return s.Store.RejectOffer(ctx, offerID)
}

// MarkArrived flips accepted->arrived. Re-applying it is a no-op.
func (s *Service) MarkArrived(ctx context.Context, tripID string) (*models.Trip, error) {
	return s.transition(ctx, tripID, models.TripAccepted, models.TripArrived)
}

// MarkStarted flips arrived->started and starts route recording upstream.
func (s *Service) MarkStarted(ctx context.Context, tripID string) (*models.Trip, error) {
	return s.transition(ctx, tripID, models.TripArrived, models.TripStarted)
}

func (s *Service) transition(ctx context.Context, tripID string, from, to models.TripStatus) (*models.Trip, error) {
	moved, err := s.Store.Transition(ctx, tripID, from, to, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	trip, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !moved {
		if trip.Status == to {
			return trip, nil // already there, idempotent
		}
		return nil, ErrConflict
	}
	s.publishEvent(ctx, tripID, to, trip.DriverID)
	return trip, nil
}

// Complete flips started->completed and settles the trip. The settlement is
// guarded by the status flip, so a retried call never double-charges.
func (s *Service) Complete(ctx context.Context, tripID string) (*models.Trip, error) {
	trip, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if trip.Status == models.TripCompleted {
		return trip, nil // no-op, balances already moved exactly once
	}
	if trip.Status != models.TripStarted {
		return nil, ErrConflict
	}

	settle := ComputeSettlement(trip, s.Fees)
	applied, err := s.Store.CompleteTrip(ctx, tripID, time.Now().UTC(), settle)
	if err != nil {
		// financial transitions are never silently swallowed
		s.Logger.Error("trip completion failed", "trip_id", tripID, "error", err)
		return nil, err
	}
	trip, gerr := s.Store.GetTrip(ctx, tripID)
	if gerr != nil {
		return nil, gerr
	}
	if !applied {
		if trip.Status == models.TripCompleted {
			return trip, nil
		}
		return nil, ErrConflict
	}

	if trip.PaymentMethod == models.PayCard && trip.PaymentRef != "" && s.Cards != nil {
		if err := s.Cards.Capture(ctx, trip.PaymentRef); err != nil {
			s.Logger.Error("card capture failed", "trip_id", tripID, "payment_ref", trip.PaymentRef, "error", err)
		}
	}
	observability.TripsCompleted.Inc()

	s.Notify.Notify(trip.CustomerID, models.EvTripOfferUpdate, tripNotice(trip))
	s.Notify.Notify(trip.DriverID, models.EvTripOfferUpdate, tripNotice(trip))
	s.publishEvent(ctx, tripID, models.TripCompleted, trip.DriverID)
	return trip, nil
}

// Cancel moves the trip to cancelled from any pre-completed state and
// releases a card hold if one exists. Cancelling twice is a no-op.
func (s *Service) Cancel(ctx context.Context, tripID string) (*models.Trip, error) {
	moved, err := s.Store.CancelTrip(ctx, tripID, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	trip, err := s.Store.GetTrip(ctx, tripID)
	if err != nil {
		return nil, err
	}
	if !moved {
		if trip.Status == models.TripCancelled {
			return trip, nil
		}
		return nil, ErrConflict // already completed
	}
	if trip.PaymentRef != "" && s.Cards != nil {
		if err := s.Cards.Cancel(ctx, trip.PaymentRef); err != nil {
			s.Logger.Error("card hold release failed", "trip_id", tripID, "error", err)
		}
	}
	if trip.DriverID != "" {
		s.Notify.Notify(trip.DriverID, models.EvTripOfferUpdate, tripNotice(trip))
	}
	s.Notify.Notify(trip.CustomerID, models.EvTripOfferUpdate, tripNotice(trip))
	s.publishEvent(ctx, tripID, models.TripCancelled, trip.DriverID)
	return trip, nil
}

func (s *Service) publishEvent(ctx context.Context, tripID string, status models.TripStatus, driverID string) {
	if s.Feed == nil {
		return
	}
	if err := s.Feed.PublishTripEvent(ctx, tripID, status, driverID); err != nil {
		s.Logger.Warn("change feed publish failed", "trip_id", tripID, "status", status, "error", err)
	}
}

func offerNotice(t *models.Trip, o *models.TripOffer) models.TripOfferNotice {
	return models.TripOfferNotice{
		OfferID:     o.ID,
		TripID:      t.ID,
		Pickup:      t.Pickup,
		Destination: t.Destination,
		Price:       o.Price,
		Status:      o.Status,
	}
}

func tripNotice(t *models.Trip) map[string]any {
	return map[string]any{
		"trip_id":   t.ID,
		"status":    t.Status,
		"driver_id": t.DriverID,
		"price":     t.Price,
	}
}

func toCents(amount float64) int64 { return int64(amount*100 + 0.5) }

func newID() string {
	b := make([]byte, 8)
	_, _ = rand.Read(b)
	return hex.EncodeToString(b)
}
