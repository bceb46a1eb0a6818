package rules

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/enterprise/fraud-pipeline/internal/domain"
)

func baseTx() domain.Transaction {
	return domain.Transaction{
		TransactionID: "t1",
		UserID:        "u1",
		Amount:        120,
		Currency:      "USD",
		OccurredAt:    time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestEvaluate_CleanTransaction_NoReasons(t *testing.T) {
	res := Evaluate(baseTx(), domain.StateSignals{}, DefaultConfig())
	assert.Empty(t, res.Reasons)
	assert.Equal(t, 0.0, res.Score)
}

func TestEvaluate_InvalidAmount_ZeroTriggersSaturatingScore(t *testing.T) {
	tx := baseTx()
	tx.Amount = 0
	res := Evaluate(tx, domain.StateSignals{}, DefaultConfig())
	assert.Contains(t, res.Reasons, ReasonInvalidAmount)
	assert.Equal(t, 100.0, res.Score)
}

func TestEvaluate_HighAmount_BoundaryAtExactly1000(t *testing.T) {
	tx := baseTx()
	tx.Amount = 1000
	res := Evaluate(tx, domain.StateSignals{}, DefaultConfig())
	assert.Contains(t, res.Reasons, ReasonHighAmount)
}

func TestEvaluate_HighAmount_Below1000DoesNotTrigger(t *testing.T) {
	tx := baseTx()
	tx.Amount = 999.99
	res := Evaluate(tx, domain.StateSignals{}, DefaultConfig())
	assert.NotContains(t, res.Reasons, ReasonHighAmount)
}

func TestEvaluate_NightTime_Hour5Triggers_Hour6DoesNot(t *testing.T) {
	tx5 := baseTx()
	tx5.OccurredAt = time.Date(2026, 1, 1, 5, 59, 59, 0, time.UTC)
	res5 := Evaluate(tx5, domain.StateSignals{}, DefaultConfig())
	assert.Contains(t, res5.Reasons, ReasonNightTime)

	tx6 := baseTx()
	tx6.OccurredAt = time.Date(2026, 1, 1, 6, 0, 0, 0, time.UTC)
	res6 := Evaluate(tx6, domain.StateSignals{}, DefaultConfig())
	assert.NotContains(t, res6.Reasons, ReasonNightTime)
}

func TestEvaluate_BadCurrency(t *testing.T) {
	for _, currency := range []string{"", "US", "XYZ", "usdd"} {
		tx := baseTx()
		tx.Currency = currency
		res := Evaluate(tx, domain.StateSignals{}, DefaultConfig())
		assert.Contains(t, res.Reasons, ReasonBadCurrency, "currency=%q", currency)
	}
}

func TestEvaluate_Burst_ExactlyThresholdFires_OneLessDoesNot(t *testing.T) {
	cfg := DefaultConfig()

	atThreshold := domain.StateSignals{RecentCounts: map[int64]int64{60: 3}}
	res := Evaluate(baseTx(), atThreshold, cfg)
	assert.Contains(t, res.Reasons, "burst_60s")

	belowThreshold := domain.StateSignals{RecentCounts: map[int64]int64{60: 2}}
	res2 := Evaluate(baseTx(), belowThreshold, cfg)
	assert.NotContains(t, res2.Reasons, "burst_60s")
}

func TestEvaluate_SpendSpike(t *testing.T) {
	tx := baseTx()
	tx.Amount = 500
	signals := domain.StateSignals{MedianAmount: 100}
	res := Evaluate(tx, signals, DefaultConfig())
	assert.Contains(t, res.Reasons, ReasonSpendSpike)
}

func TestEvaluate_NewDeviceAndNewIP(t *testing.T) {
	tx := baseTx()
	tx.Device = &domain.Device{ID: "d1", IP: "1.2.3.4"}
	signals := domain.StateSignals{DeviceIsNew: true, IPIsNew: true}
	res := Evaluate(tx, signals, DefaultConfig())
	assert.Contains(t, res.Reasons, ReasonNewDevice)
	assert.Contains(t, res.Reasons, ReasonNewIP)
}

func TestEvaluate_GeoImpossible(t *testing.T) {
	tx := baseTx()
	tx.Location = &domain.Location{Lat: 35.68, Lon: 139.65}
	tx.OccurredAt = time.Unix(1700000300, 0).UTC() // t0 + 300s

	signals := domain.StateSignals{
		LastLocation: &domain.LocationRecord{Lat: 40.71, Lon: -74.01, Ts: 1700000000},
	}

	res := Evaluate(tx, signals, DefaultConfig())
	assert.Contains(t, res.Reasons, ReasonGeoImpossible)
	assert.Greater(t, res.SpeedKmh, 900.0)
}

func TestEvaluate_GeoImpossible_DivideByZeroGuard(t *testing.T) {
	tx := baseTx()
	tx.Location = &domain.Location{Lat: 40.71, Lon: -74.01}
	tx.OccurredAt = time.Unix(1700000000, 0).UTC()

	signals := domain.StateSignals{
		LastLocation: &domain.LocationRecord{Lat: 40.71, Lon: -74.01, Ts: 1700000000},
	}

	assert.NotPanics(t, func() {
		Evaluate(tx, signals, DefaultConfig())
	})
}

func TestEvaluate_NoDuplicateReasons(t *testing.T) {
	tx := baseTx()
	tx.Amount = 0 // would double-fire invalid_amount via any accidental re-add path
	res := Evaluate(tx, domain.StateSignals{}, DefaultConfig())

	seen := map[string]bool{}
	for _, r := range res.Reasons {
		assert.False(t, seen[r], "duplicate reason %q", r)
		seen[r] = true
	}
}

func TestEvaluate_ScoreNeverExceeds100(t *testing.T) {
	tx := baseTx()
	tx.Amount = 0       // invalid_amount +100
	tx.Currency = "ZZZ" // bad_currency +40
	tx.OccurredAt = time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC) // night_time +20

	res := Evaluate(tx, domain.StateSignals{}, DefaultConfig())
	assert.LessOrEqual(t, res.Score, 100.0)
}

func TestEvaluate_ReasonOrderingIsTableOrder(t *testing.T) {
	tx := baseTx()
	tx.Amount = 0
	tx.Currency = "ZZZ"
	tx.OccurredAt = time.Date(2026, 1, 1, 2, 0, 0, 0, time.UTC)

	res := Evaluate(tx, domain.StateSignals{}, DefaultConfig())
	assert.Equal(t, []string{ReasonInvalidAmount, ReasonBadCurrency, ReasonNightTime}, res.Reasons)
}
