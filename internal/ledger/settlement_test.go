package ledger

import (
	"testing"
	"time"

	"github.com/example/smartline-dispatch/internal/models"
)

func TestComputeSettlementSplit(t *testing.T) {
	trip := &models.Trip{
		ID:            "t1",
		CustomerID:    "c1",
		DriverID:      "d1",
		Price:         50,
		PaymentMethod: models.PayWallet,
	}
	s := ComputeSettlement(trip, FeePolicy{PlatformPercent: 15})
	if s.Total != 50 {
		t.Fatalf("total = %v, want 50", s.Total)
	}
	if s.PlatformFee != 7.5 {
		t.Fatalf("platform fee = %v, want 7.5", s.PlatformFee)
	}
	if s.DriverNet != 42.5 {
		t.Fatalf("driver net = %v, want 42.5", s.DriverNet)
	}
	if s.WaitingFee != 0 {
		t.Fatalf("waiting fee = %v, want 0", s.WaitingFee)
	}
}

func TestComputeSettlementWaitingFee(t *testing.T) {
	arrived := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	policy := FeePolicy{PlatformPercent: 10, WaitingPerMinute: 1, WaitingGrace: 5 * time.Minute}

	cases := []struct {
		name    string
		started time.Time
		want    float64
	}{
		{"within grace", arrived.Add(4 * time.Minute), 0},
		{"exactly grace", arrived.Add(5 * time.Minute), 0},
		{"partial minute rounds up", arrived.Add(5*time.Minute + 30*time.Second), 1},
		{"seven minutes over", arrived.Add(12 * time.Minute), 7},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			trip := &models.Trip{Price: 100, ArrivedAt: &arrived, StartedAt: &tc.started}
			s := ComputeSettlement(trip, policy)
			if s.WaitingFee != tc.want {
				t.Fatalf("waiting fee = %v, want %v", s.WaitingFee, tc.want)
			}
			if s.Total != 100+tc.want {
				t.Fatalf("total = %v, want %v", s.Total, 100+tc.want)
			}
		})
	}
}

func TestComputeSettlementNoTimestamps(t *testing.T) {
	trip := &models.Trip{Price: 100}
	s := ComputeSettlement(trip, DefaultFeePolicy())
	if s.WaitingFee != 0 {
		t.Fatalf("waiting fee without timestamps = %v, want 0", s.WaitingFee)
	}
}
