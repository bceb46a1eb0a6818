// Package rules implements the fixed, pure-function rule table from
// §4.2: given a transaction and the per-user state signals the stream
// processor already read, it returns a partial score and an ordered,
// deduplicated set of reason tags. It never touches the state store —
// grounded on this codebase's closure-based Rule{ID, Evaluate,
// ScoreImpact} table idiom, reshaped into a pure function the way the
// stateless fraud_prevention scoring engine in the wider reference set
// does it.
package rules

import (
	"strconv"
	"strings"

	"github.com/enterprise/fraud-pipeline/internal/domain"
	"github.com/enterprise/fraud-pipeline/internal/statestore"
)

// Reason tags, in the fixed evaluation order specified by §4.2. Order
// here is also reason-insertion order: it must be stable and is part of
// the contract.
const (
	ReasonInvalidAmount = "invalid_amount"
	ReasonHighAmount    = "high_amount"
	ReasonBadCurrency   = "bad_currency"
	ReasonNightTime     = "night_time"
	ReasonSpendSpike    = "spend_spike"
	ReasonNewDevice     = "new_device"
	ReasonNewIP         = "new_ip"
	ReasonGeoImpossible = "geo_impossible"
	ReasonMLHighRisk    = "ml_high_risk"
)

// burstReason formats the burst_<W>s tag for a given window, e.g.
// "burst_60s" for the default 60-second window.
func burstReason(windowSec int64) string {
	return "burst_" + strconv.FormatInt(windowSec, 10) + "s"
}

// acceptedCurrencies is the closed set of currency codes that do not
// trigger bad_currency (§4.2).
var acceptedCurrencies = map[string]bool{
	"USD": true, "EUR": true, "GBP": true, "CAD": true, "AUD": true,
	"JPY": true, "CHF": true, "NZD": true, "SEK": true, "NOK": true,
}

// Config carries the tunables the rule table reads from §6.5.
type Config struct {
	BurstWindowSec     int64
	BurstCount         int64
	BurstScore         float64
	GeoMaxSpeedKmph    float64
	GeoScore           float64
	DeviceNewWithinDays int
	IPNewWithinDays    int
	SpendMultiplier    float64
	SpendHistorySize   int
}

// DefaultConfig returns the §6.5 defaults.
func DefaultConfig() Config {
	return Config{
		BurstWindowSec:      60,
		BurstCount:          3,
		BurstScore:          40,
		GeoMaxSpeedKmph:     900,
		GeoScore:            50,
		DeviceNewWithinDays: 7,
		IPNewWithinDays:     7,
		SpendMultiplier:     5.0,
		SpendHistorySize:    10,
	}
}

// Result is the rule engine's pure-function output: the partial score
// before blending with the model, the ordered deduplicated reasons, and
// the bit vector the feature extractor mirrors into the model's
// feature vector (§4.3).
type Result struct {
	Score    float64
	Reasons  []string
	Bits     Bits
	SpeedKmh float64 // implied travel speed used by geo_impossible, 0 if unavailable
}

// Bits mirrors, as 0/1, whether each rule fired — consumed directly by
// the feature extractor.
type Bits struct {
	InvalidAmount bool
	HighAmount    bool
	BadCurrency   bool
	NightTime     bool
	Burst         bool
	SpendSpike    bool
	NewDevice     bool
	NewIP         bool
	GeoImpossible bool
}

// Evaluate runs the fixed rule table against tx and the state signals
// gathered for its user, using cfg's tunables. It reads no store and
// writes nothing; the stream processor performs state writes separately
// (§4.2 side-effect contract).
func Evaluate(tx domain.Transaction, signals domain.StateSignals, cfg Config) Result {
	var res Result
	seen := make(map[string]bool, 8)

	add := func(tag string, contribution float64) {
		if seen[tag] {
			return
		}
		seen[tag] = true
		res.Reasons = append(res.Reasons, tag)
		res.Score += contribution
	}

	// invalid_amount
	if !tx.HasValidAmount() {
		add(ReasonInvalidAmount, 100)
		res.Bits.InvalidAmount = true
	}

	// high_amount
	if tx.Amount >= 1000 {
		add(ReasonHighAmount, 60)
		res.Bits.HighAmount = true
	}

	// bad_currency
	if !isAcceptedCurrency(tx.Currency) {
		add(ReasonBadCurrency, 40)
		res.Bits.BadCurrency = true
	}

	// night_time: UTC hour in [0, 5] inclusive.
	hour := tx.OccurredAt.UTC().Hour()
	if hour >= 0 && hour <= 5 {
		add(ReasonNightTime, 20)
		res.Bits.NightTime = true
	}

	// burst_<W>s
	count := signals.RecentCounts[cfg.BurstWindowSec]
	if count >= cfg.BurstCount {
		add(burstReason(cfg.BurstWindowSec), cfg.BurstScore)
		res.Bits.Burst = true
	}

	// spend_spike
	if signals.MedianAmount > 0 && tx.Amount >= signals.MedianAmount*cfg.SpendMultiplier {
		add(ReasonSpendSpike, 30)
		res.Bits.SpendSpike = true
	}

	// new_device
	if tx.Device != nil && tx.Device.ID != "" {
		if signals.DeviceIsNew || signals.DeviceIsRecent {
			add(ReasonNewDevice, 20)
			res.Bits.NewDevice = true
		}
	}

	// new_ip
	if tx.Device != nil && tx.Device.IP != "" {
		if signals.IPIsNew || signals.IPIsRecent {
			add(ReasonNewIP, 15)
			res.Bits.NewIP = true
		}
	}

	// geo_impossible
	if tx.Location != nil && signals.LastLocation != nil {
		last := signals.LastLocation
		km := statestore.HaversineKm(last.Lat, last.Lon, tx.Location.Lat, tx.Location.Lon)
		dt := tx.OccurredAt.Unix() - last.Ts
		if dt < 1 {
			dt = 1
		}
		speedKmh := km / float64(dt) * 3600
		res.SpeedKmh = speedKmh
		if speedKmh > cfg.GeoMaxSpeedKmph {
			add(ReasonGeoImpossible, cfg.GeoScore)
			res.Bits.GeoImpossible = true
		}
	}

	if res.Score > 100 {
		res.Score = 100
	}

	return res
}

func isAcceptedCurrency(currency string) bool {
	if len(currency) != 3 {
		return false
	}
	return acceptedCurrencies[strings.ToUpper(currency)]
}
