package ledger

import (
	"math"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
)

// FeePolicy captures the tunables of trip settlement.
type FeePolicy struct {
	PlatformPercent  float64       // platform cut of the total fare
	WaitingPerMinute float64       // charge per started minute of waiting
	WaitingGrace     time.Duration // free waiting before charges accrue
}

func DefaultFeePolicy() FeePolicy {
	return FeePolicy{
		PlatformPercent:  15,
		WaitingPerMinute: 1,
		WaitingGrace:     5 * time.Minute,
	}
}

// ComputeSettlement derives the financial outcome for t. Waiting time is the
// arrived->started interval; only the part beyond the grace period is
// billed, per started minute.
func ComputeSettlement(t *models.Trip, p FeePolicy) *Settlement {
	s := &Settlement{
		TripID:     t.ID,
		CustomerID: t.CustomerID,
		DriverID:   t.DriverID,
		Method:     t.PaymentMethod,
	}
	if t.ArrivedAt != nil && t.StartedAt != nil {
		excess := t.StartedAt.Sub(*t.ArrivedAt) - p.WaitingGrace
		if excess > 0 {
			s.WaitingFee = math.Ceil(excess.Minutes()) * p.WaitingPerMinute
		}
	}
	s.Total = t.Price + s.WaitingFee
	s.PlatformFee = s.Total * p.PlatformPercent / 100
	s.DriverNet = s.Total - s.PlatformFee
	return s
}
