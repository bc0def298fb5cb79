package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
)

// MemoryStore is an in-process Store for local runs and tests. The single
// mutex gives it the same compare-and-set semantics the postgres store gets
// from conditional UPDATEs.
type MemoryStore struct {
	mu       sync.Mutex
	trips    map[string]*models.Trip
	offers   map[string]*models.TripOffer
	profiles map[string]models.DriverProfile
	balances map[string]float64
	// txlog counts settlement applications per trip, for tests asserting
	// exactly-once semantics
	txlog map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		trips:    make(map[string]*models.Trip),
		offers:   make(map[string]*models.TripOffer),
		profiles: make(map[string]models.DriverProfile),
		balances: make(map[string]float64),
		txlog:    make(map[string]int),
	}
}

func (m *MemoryStore) CreateTrip(_ context.Context, t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryStore) GetTrip(_ context.Context, id string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *MemoryStore) CreateOffers(_ context.Context, offers []*models.TripOffer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range offers {
		cp := *o
		m.offers[o.ID] = &cp
	}
	return nil
}

func (m *MemoryStore) GetOffer(_ context.Context, id string) (*models.TripOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *MemoryStore) RejectOffer(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[id]
	if !ok {
		return ErrNotFound
	}
	if o.Status == models.OfferPending {
		o.Status = models.OfferRejected
	}
	return nil
}

func (m *MemoryStore) AcceptOffer(_ context.Context, offerID string) (*models.Trip, *models.TripOffer, []*models.TripOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.offers[offerID]
	if !ok {
		return nil, nil, nil, ErrNotFound
	}
	t, ok := m.trips[o.TripID]
	if !ok {
		return nil, nil, nil, ErrNotFound
	}
	if t.Status != models.TripRequested || o.Status != models.OfferPending {
		return nil, nil, nil, ErrConflict
	}
	t.Status = models.TripAccepted
	t.DriverID = o.DriverID
	o.Status = models.OfferAccepted
	var rejected []*models.TripOffer
	for _, sib := range m.offers {
		if sib.TripID == t.ID && sib.ID != o.ID && sib.Status == models.OfferPending {
			sib.Status = models.OfferRejected
			cp := *sib
			rejected = append(rejected, &cp)
		}
	}
	tc, oc := *t, *o
	return &tc, &oc, rejected, nil
}

func (m *MemoryStore) Transition(_ context.Context, tripID string, from, to models.TripStatus, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status != from {
		return false, nil
	}
	t.Status = to
	stamp(t, to, at)
	return true, nil
}

func (m *MemoryStore) CancelTrip(_ context.Context, tripID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status.Terminal() {
		return false, nil
	}
	t.Status = models.TripCancelled
	stamp(t, models.TripCancelled, at)
	return true, nil
}

func (m *MemoryStore) CompleteTrip(_ context.Context, tripID string, at time.Time, s *Settlement) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return false, ErrNotFound
	}
	if t.Status != models.TripStarted {
		return false, nil
	}
	t.Status = models.TripCompleted
	stamp(t, models.TripCompleted, at)
	m.applySettlement(s)
	return true, nil
}

func (m *MemoryStore) applySettlement(s *Settlement) {
	switch s.Method {
	case models.PayWallet:
		m.balances[s.CustomerID] -= s.Total
		m.balances[s.DriverID] += s.DriverNet
		m.balances[PlatformAccount] += s.PlatformFee
	case models.PayCash, models.PayCard:
		// fare moves outside the wallet; only the platform fee is booked
		m.balances[s.DriverID] -= s.PlatformFee
		m.balances[PlatformAccount] += s.PlatformFee
	}
	m.txlog[s.TripID]++
}

func (m *MemoryStore) SetPaymentRef(_ context.Context, tripID, ref string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.trips[tripID]
	if !ok {
		return ErrNotFound
	}
	t.PaymentRef = ref
	return nil
}

func (m *MemoryStore) ActiveTripByDriver(_ context.Context, driverID string) (*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.trips {
		if t.DriverID == driverID && !t.Status.Terminal() {
			cp := *t
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) ActiveTripsByDrivers(_ context.Context, driverIDs []string) (map[string]*models.Trip, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]*models.Trip)
	want := make(map[string]bool, len(driverIDs))
	for _, id := range driverIDs {
		want[id] = true
	}
	for _, t := range m.trips {
		if want[t.DriverID] && !t.Status.Terminal() {
			cp := *t
			out[t.DriverID] = &cp
		}
	}
	return out, nil
}

func (m *MemoryStore) Profiles(_ context.Context, driverIDs []string) (map[string]models.DriverProfile, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]models.DriverProfile)
	for _, id := range driverIDs {
		if p, ok := m.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

func (m *MemoryStore) Balance(_ context.Context, account string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balances[account], nil
}

// SetBalance and SetProfile seed fixture state in tests.
func (m *MemoryStore) SetBalance(account string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[account] = v
}

func (m *MemoryStore) SetProfile(p models.DriverProfile) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.profiles[p.DriverID] = p
}

// SettlementCount reports how many times a trip's settlement was applied.
func (m *MemoryStore) SettlementCount(tripID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.txlog[tripID]
}

func stamp(t *models.Trip, to models.TripStatus, at time.Time) {
	switch to {
	case models.TripArrived:
		t.ArrivedAt = &at
	case models.TripStarted:
		t.StartedAt = &at
	case models.TripCompleted:
		t.CompletedAt = &at
	case models.TripCancelled:
		t.CancelledAt = &at
	}
}
