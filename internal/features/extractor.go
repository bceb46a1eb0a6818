// Package features assembles the fixed-arity numeric feature vector the
// external model expects (§4.3), from the transaction, the state-store
// signals read for its user, and the rule engine's outcome. The vector's
// slot order is a versioned compatibility contract with the model and
// must not change without a model version bump.
package features

import (
	"strings"

	"github.com/enterprise/fraud-pipeline/internal/domain"
	"github.com/enterprise/fraud-pipeline/internal/rules"
)

// Arity is the fixed length of the feature vector (§9: "the canonical
// arity is the model metadata's features list" — fixed here at 18).
const Arity = 18

// Slot indices, named for readability; order is the contract.
const (
	SlotAmount = iota
	SlotInvalidAmountBit
	SlotHighAmountBit
	SlotBadCurrencyBit
	SlotNightTimeBit
	SlotHourOfDay
	SlotBurstBit
	SlotRecentCount
	SlotSpendSpikeBit
	SlotSpendDeviationRatio
	SlotMedianAmount
	SlotNewDeviceBit
	SlotNewIPBit
	SlotHasDevice
	SlotHasLocation
	SlotGeoImpossibleBit
	SlotRequiredSpeedKmph
	SlotCurrencyCode
)

// currencyDictionary is the stable encoding used for SlotCurrencyCode;
// unknown currencies encode to 0 (§4.3).
var currencyDictionary = map[string]float64{
	"USD": 1, "EUR": 2, "GBP": 3, "CAD": 4, "AUD": 5,
	"JPY": 6, "CHF": 7, "NZD": 8, "SEK": 9, "NOK": 10,
}

// Extract builds the 18-slot feature vector. Missing optional inputs
// contribute 0, never null (§4.3).
func Extract(tx domain.Transaction, signals domain.StateSignals, burstWindowSec int64, rr rules.Result) [18]float64 {
	var v [Arity]float64

	v[SlotAmount] = tx.Amount
	v[SlotInvalidAmountBit] = boolToF(rr.Bits.InvalidAmount)
	v[SlotHighAmountBit] = boolToF(rr.Bits.HighAmount)
	v[SlotBadCurrencyBit] = boolToF(rr.Bits.BadCurrency)
	v[SlotNightTimeBit] = boolToF(rr.Bits.NightTime)
	v[SlotHourOfDay] = float64(tx.OccurredAt.UTC().Hour())
	v[SlotBurstBit] = boolToF(rr.Bits.Burst)
	v[SlotRecentCount] = float64(signals.RecentCounts[burstWindowSec])
	v[SlotSpendSpikeBit] = boolToF(rr.Bits.SpendSpike)

	if signals.MedianAmount > 0 {
		v[SlotSpendDeviationRatio] = (tx.Amount / signals.MedianAmount) - 1
	}
	v[SlotMedianAmount] = signals.MedianAmount

	v[SlotNewDeviceBit] = boolToF(rr.Bits.NewDevice)
	v[SlotNewIPBit] = boolToF(rr.Bits.NewIP)
	v[SlotHasDevice] = boolToF(tx.Device != nil && tx.Device.ID != "")
	v[SlotHasLocation] = boolToF(tx.Location != nil)
	v[SlotGeoImpossibleBit] = boolToF(rr.Bits.GeoImpossible)
	v[SlotRequiredSpeedKmph] = rr.SpeedKmh

	v[SlotCurrencyCode] = currencyDictionary[strings.ToUpper(tx.Currency)]

	return v
}

func boolToF(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
