package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/example/smartline-dispatch/internal/models"
)

// PostgresStore implements Store on a relational schema. Every state-machine
// write is a conditional UPDATE: zero rows affected means the precondition
// no longer holds.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

// DB exposes the handle for components sharing the connection pool.
func (p *PostgresStore) DB() *sql.DB { return p.db }

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) CreateTrip(ctx context.Context, t *models.Trip) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO trips (id, customer_id, pickup_lat, pickup_lng, dest_lat, dest_lng,
		                   price, status, payment_method, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		t.ID, t.CustomerID, t.Pickup.Lat, t.Pickup.Lng, t.Destination.Lat, t.Destination.Lng,
		t.Price, t.Status, t.PaymentMethod, t.CreatedAt)
	return err
}

const tripColumns = `id, customer_id, COALESCE(driver_id,''), pickup_lat, pickup_lng,
	dest_lat, dest_lng, price, status, payment_method, COALESCE(payment_ref,''),
	created_at, arrived_at, started_at, completed_at, cancelled_at`

func scanTrip(row interface{ Scan(...any) error }) (*models.Trip, error) {
	var t models.Trip
	err := row.Scan(&t.ID, &t.CustomerID, &t.DriverID, &t.Pickup.Lat, &t.Pickup.Lng,
		&t.Destination.Lat, &t.Destination.Lng, &t.Price, &t.Status, &t.PaymentMethod,
		&t.PaymentRef, &t.CreatedAt, &t.ArrivedAt, &t.StartedAt, &t.CompletedAt, &t.CancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) GetTrip(ctx context.Context, id string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+tripColumns+` FROM trips WHERE id=$1`, id)
	return scanTrip(row)
}

func (p *PostgresStore) CreateOffers(ctx context.Context, offers []*models.TripOffer) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, o := range offers {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO trip_offers (id, trip_id, driver_id, price, status)
			VALUES ($1,$2,$3,$4,$5)`,
			o.ID, o.TripID, o.DriverID, o.Price, o.Status); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (p *PostgresStore) GetOffer(ctx context.Context, id string) (*models.TripOffer, error) {
	var o models.TripOffer
	err := p.db.QueryRowContext(ctx, `
		SELECT id, trip_id, driver_id, price, status FROM trip_offers WHERE id=$1`, id).
		Scan(&o.ID, &o.TripID, &o.DriverID, &o.Price, &o.Status)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (p *PostgresStore) RejectOffer(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `
		UPDATE trip_offers SET status='rejected' WHERE id=$1 AND status='pending'`, id)
	return err
}

func (p *PostgresStore) AcceptOffer(ctx context.Context, offerID string) (*models.Trip, *models.TripOffer, []*models.TripOffer, error) {
	offer, err := p.GetOffer(ctx, offerID)
	if err != nil {
		return nil, nil, nil, err
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	defer tx.Rollback()

	// the binding write: conditioned on the trip still being requested
	res, err := tx.ExecContext(ctx, `
		UPDATE trips SET driver_id=$1, status='accepted'
		WHERE id=$2 AND status='requested'`, offer.DriverID, offer.TripID)
	if err != nil {
		return nil, nil, nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, nil, ErrConflict
	}

	res, err = tx.ExecContext(ctx, `
		UPDATE trip_offers SET status='accepted' WHERE id=$1 AND status='pending'`, offerID)
	if err != nil {
		return nil, nil, nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, nil, ErrConflict
	}

	rows, err := tx.QueryContext(ctx, `
		UPDATE trip_offers SET status='rejected'
		WHERE trip_id=$1 AND id<>$2 AND status='pending'
		RETURNING id, trip_id, driver_id, price, status`, offer.TripID, offerID)
	if err != nil {
		return nil, nil, nil, err
	}
	var rejected []*models.TripOffer
	for rows.Next() {
		var o models.TripOffer
		if err := rows.Scan(&o.ID, &o.TripID, &o.DriverID, &o.Price, &o.Status); err != nil {
			rows.Close()
			return nil, nil, nil, err
		}
		rejected = append(rejected, &o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, err
	}

	offer.Status = models.OfferAccepted
	trip, err := p.GetTrip(ctx, offer.TripID)
	if err != nil {
		return nil, nil, nil, err
	}
	return trip, offer, rejected, nil
}

func timestampColumn(to models.TripStatus) string {
	switch to {
	case models.TripArrived:
		return "arrived_at"
	case models.TripStarted:
		return "started_at"
	case models.TripCompleted:
		return "completed_at"
	}
	return ""
}

func (p *PostgresStore) Transition(ctx context.Context, tripID string, from, to models.TripStatus, at time.Time) (bool, error) {
	col := timestampColumn(to)
	q := `UPDATE trips SET status=$1 WHERE id=$2 AND status=$3`
	args := []any{to, tripID, from}
	if col != "" {
		q = fmt.Sprintf(`UPDATE trips SET status=$1, %s=$4 WHERE id=$2 AND status=$3`, col)
		args = append(args, at)
	}
	res, err := p.db.ExecContext(ctx, q, args...)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (p *PostgresStore) CancelTrip(ctx context.Context, tripID string, at time.Time) (bool, error) {
	res, err := p.db.ExecContext(ctx, `
		UPDATE trips SET status='cancelled', cancelled_at=$2
		WHERE id=$1 AND status NOT IN ('completed','cancelled')`, tripID, at)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (p *PostgresStore) CompleteTrip(ctx context.Context, tripID string, at time.Time, s *Settlement) (bool, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `
		UPDATE trips SET status='completed', completed_at=$1
		WHERE id=$2 AND status='started'`, at, tripID)
	if err != nil {
		return false, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}

	// settlement rides on the same transaction as the status flip, so a
	// retried completion can never book it twice
	if err := applySettlementTx(ctx, tx, s, at); err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func applySettlementTx(ctx context.Context, tx *sql.Tx, s *Settlement, at time.Time) error {
	type movement struct {
		account string
		amount  float64
		kind    string
	}
	var moves []movement
	switch s.Method {
	case models.PayWallet:
		moves = []movement{
			{s.CustomerID, -s.Total, "fare_charge"},
			{s.DriverID, s.DriverNet, "fare_payout"},
			{PlatformAccount, s.PlatformFee, "platform_fee"},
		}
	case models.PayCash, models.PayCard:
		moves = []movement{
			{s.DriverID, -s.PlatformFee, "platform_fee_due"},
			{PlatformAccount, s.PlatformFee, "platform_fee"},
		}
	}
	for _, mv := range moves {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallets (account, balance) VALUES ($1,$2)
			ON CONFLICT (account) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance`,
			mv.account, mv.amount); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO wallet_transactions (account, trip_id, amount, kind, created_at)
			VALUES ($1,$2,$3,$4,$5)`,
			mv.account, s.TripID, mv.amount, mv.kind, at); err != nil {
			return err
		}
	}
	return nil
}

func (p *PostgresStore) SetPaymentRef(ctx context.Context, tripID, ref string) error {
	_, err := p.db.ExecContext(ctx, `UPDATE trips SET payment_ref=$1 WHERE id=$2`, ref, tripID)
	return err
}

func (p *PostgresStore) ActiveTripByDriver(ctx context.Context, driverID string) (*models.Trip, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE driver_id=$1 AND status NOT IN ('completed','cancelled')
		ORDER BY created_at DESC LIMIT 1`, driverID)
	return scanTrip(row)
}

func (p *PostgresStore) ActiveTripsByDrivers(ctx context.Context, driverIDs []string) (map[string]*models.Trip, error) {
	out := make(map[string]*models.Trip)
	if len(driverIDs) == 0 {
		return out, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+tripColumns+` FROM trips
		WHERE driver_id = ANY($1) AND status NOT IN ('completed','cancelled')`,
		pq.Array(driverIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		t, err := scanTrip(rows)
		if err != nil {
			return nil, err
		}
		out[t.DriverID] = t
	}
	return out, rows.Err()
}

func (p *PostgresStore) Profiles(ctx context.Context, driverIDs []string) (map[string]models.DriverProfile, error) {
	out := make(map[string]models.DriverProfile)
	if len(driverIDs) == 0 {
		return out, nil
	}
	rows, err := p.db.QueryContext(ctx, `
		SELECT driver_id, name, vehicle_type, rating FROM driver_profiles
		WHERE driver_id = ANY($1)`, pq.Array(driverIDs))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var pr models.DriverProfile
		if err := rows.Scan(&pr.DriverID, &pr.Name, &pr.VehicleType, &pr.Rating); err != nil {
			return nil, err
		}
		out[pr.DriverID] = pr
	}
	return out, rows.Err()
}

func (p *PostgresStore) Balance(ctx context.Context, account string) (float64, error) {
	var v float64
	err := p.db.QueryRowContext(ctx, `SELECT balance FROM wallets WHERE account=$1`, account).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return v, err
}
