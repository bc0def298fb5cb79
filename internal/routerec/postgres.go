package routerec

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/example/smartline-dispatch/internal/models"
)

// PostgresPointStore persists route points as append-only rows, sharing the
// connection pool with the trip store.
type PostgresPointStore struct {
	db *sql.DB
}

func NewPostgresPointStore(db *sql.DB) *PostgresPointStore {
	return &PostgresPointStore{db: db}
}

// InsertBatch writes the whole batch in one multi-row INSERT.
func (p *PostgresPointStore) InsertBatch(ctx context.Context, points []models.RoutePoint) error {
	if len(points) == 0 {
		return nil
	}
	var (
		sb   strings.Builder
		args = make([]any, 0, len(points)*7)
	)
	sb.WriteString(`INSERT INTO route_points (trip_id, lat, lng, heading, speed, accuracy, recorded_at) VALUES `)
	for i, pt := range points {
		if i > 0 {
			sb.WriteByte(',')
		}
		base := i * 7
		fmt.Fprintf(&sb, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)",
			base+1, base+2, base+3, base+4, base+5, base+6, base+7)
		args = append(args, pt.TripID, pt.Lat, pt.Lng, pt.Heading, pt.Speed, pt.Accuracy, pt.RecordedAt)
	}
	_, err := p.db.ExecContext(ctx, sb.String(), args...)
	return err
}

func (p *PostgresPointStore) PointsByTrip(ctx context.Context, tripID string) ([]models.RoutePoint, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT trip_id, lat, lng, heading, speed, accuracy, recorded_at
		FROM route_points WHERE trip_id=$1 ORDER BY recorded_at ASC`, tripID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.RoutePoint
	for rows.Next() {
		var pt models.RoutePoint
		if err := rows.Scan(&pt.TripID, &pt.Lat, &pt.Lng, &pt.Heading, &pt.Speed, &pt.Accuracy, &pt.RecordedAt); err != nil {
			return nil, err
		}
		out = append(out, pt)
	}
	return out, rows.Err()
}
