// Package routerec buffers high-frequency location samples per active trip
// and flushes them to durable storage in batches. Buffers survive failed
// flushes; only the successfully written prefix is ever trimmed.
package routerec

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
	"github.com/example/smartline-dispatch/internal/observability"
)

const (
	// DefaultMinInterval throttles ingestion: samples closer together than
	// this are silently dropped, bounding storage without losing trip shape.
	DefaultMinInterval = 10 * time.Second
	// DefaultFlushInterval is the cadence of the global flush timer.
	DefaultFlushInterval = 30 * time.Second
)

// PointStore persists flushed route points.
type PointStore interface {
	InsertBatch(ctx context.Context, points []models.RoutePoint) error
	PointsByTrip(ctx context.Context, tripID string) ([]models.RoutePoint, error)
}

type tripBuffer struct {
	driverID     string
	points       []models.RoutePoint
	lastAccepted time.Time

	// flushMu serializes whole read-insert-trim cycles for this trip, so
	// the timer flush and a final Stop flush can never both write the same
	// prefix.
	flushMu sync.Mutex
}

type Recorder struct {
	store         PointStore
	logger        *slog.Logger
	minInterval   time.Duration
	flushInterval time.Duration

	mu       sync.Mutex
	buffers  map[string]*tripBuffer
	byDriver map[string]string // driverID -> recording tripID

	// now is swappable so tests can drive the throttle clock.
	now func() time.Time
}

func NewRecorder(store PointStore, logger *slog.Logger) *Recorder {
	return &Recorder{
		store:         store,
		logger:        logger,
		minInterval:   DefaultMinInterval,
		flushInterval: DefaultFlushInterval,
		buffers:       make(map[string]*tripBuffer),
		byDriver:      make(map[string]string),
		now:           time.Now,
	}
}

// SetIntervals overrides the ingestion throttle and the flush cadence.
func (r *Recorder) SetIntervals(minInterval, flushInterval time.Duration) {
	if minInterval > 0 {
		r.minInterval = minInterval
	}
	if flushInterval > 0 {
		r.flushInterval = flushInterval
	}
}

// Start begins recording for a trip; called when the trip enters started.
func (r *Recorder) Start(tripID, driverID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.buffers[tripID]; ok {
		return
	}
	r.buffers[tripID] = &tripBuffer{driverID: driverID}
	r.byDriver[driverID] = tripID
	r.logger.Info("route recording started", "trip_id", tripID, "driver_id", driverID)
}

// Stop performs a final flush and drops the buffer; called when the trip
// leaves started.
func (r *Recorder) Stop(ctx context.Context, tripID string) {
	if err := r.flushTrip(ctx, tripID); err != nil {
		// give the remaining points one more chance before dropping state
		r.logger.Error("final route flush failed", "trip_id", tripID, "error", err)
		if err := r.flushTrip(ctx, tripID); err != nil {
			r.logger.Error("route points lost at stop", "trip_id", tripID, "error", err)
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[tripID]; ok {
		delete(r.byDriver, buf.driverID)
		delete(r.buffers, tripID)
	}
	r.logger.Info("route recording stopped", "trip_id", tripID)
}

// Append offers a sample for a recording trip. It reports whether the
// sample was accepted (false: unknown trip or throttled).
func (r *Recorder) Append(tripID string, pt models.RoutePoint) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	buf, ok := r.buffers[tripID]
	if !ok {
		return false
	}
	now := r.now()
	if !buf.lastAccepted.IsZero() && now.Sub(buf.lastAccepted) < r.minInterval {
		return false
	}
	pt.TripID = tripID
	if pt.RecordedAt.IsZero() {
		pt.RecordedAt = now
	}
	buf.points = append(buf.points, pt)
	buf.lastAccepted = now
	return true
}

// AppendForDriver routes a driver's location sample to its recording trip,
// if any.
func (r *Recorder) AppendForDriver(driverID string, pt models.RoutePoint) bool {
	r.mu.Lock()
	tripID, ok := r.byDriver[driverID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	return r.Append(tripID, pt)
}

// Run flushes all recording trips on a timer until ctx is cancelled, then
// performs one last sweep.
func (r *Recorder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.FlushAll(context.Background())
			return
		case <-ticker.C:
			r.FlushAll(ctx)
		}
	}
}

// FlushAll flushes every buffered trip. Failures are logged and retried on
// the next tick; the buffers stay intact.
func (r *Recorder) FlushAll(ctx context.Context) {
	r.mu.Lock()
	tripIDs := make([]string, 0, len(r.buffers))
	for id := range r.buffers {
		tripIDs = append(tripIDs, id)
	}
	r.mu.Unlock()
	for _, id := range tripIDs {
		if err := r.flushTrip(ctx, id); err != nil {
			observability.FlushFailures.Inc()
			r.logger.Error("route flush failed, will retry", "trip_id", id, "error", err)
		}
	}
}

// flushTrip writes the buffered prefix and trims exactly that prefix, so
// samples appended during the write survive. Cycles for the same trip are
// serialized on the buffer's flush mutex: a concurrent flush waits, then
// sees an already-trimmed buffer and writes nothing.
func (r *Recorder) flushTrip(ctx context.Context, tripID string) error {
	r.mu.Lock()
	buf, ok := r.buffers[tripID]
	r.mu.Unlock()
	if !ok {
		return nil
	}

	buf.flushMu.Lock()
	defer buf.flushMu.Unlock()

	r.mu.Lock()
	n := len(buf.points)
	if n == 0 {
		r.mu.Unlock()
		return nil
	}
	batch := make([]models.RoutePoint, n)
	copy(batch, buf.points)
	r.mu.Unlock()

	if err := r.store.InsertBatch(ctx, batch); err != nil {
		return err
	}

	r.mu.Lock()
	if n > len(buf.points) {
		n = len(buf.points)
	}
	buf.points = append(buf.points[:0:0], buf.points[n:]...)
	r.mu.Unlock()
	observability.FlushBatches.Inc()
	observability.PointsFlushed.Add(float64(n))
	return nil
}

// BufferedCount reports how many samples a trip currently holds in memory.
func (r *Recorder) BufferedCount(tripID string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	if buf, ok := r.buffers[tripID]; ok {
		return len(buf.points)
	}
	return 0
}

// Recording reports whether a trip is currently being recorded.
func (r *Recorder) Recording(tripID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.buffers[tripID]
	return ok
}
