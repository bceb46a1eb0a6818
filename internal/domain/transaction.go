package domain

import "time"

// Device describes the originating device of a transaction, when known.
type Device struct {
	ID        string `json:"id,omitempty"`
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
}

// Location describes where a transaction took place, when known.
type Location struct {
	Lat     float64 `json:"lat"`
	Lon     float64 `json:"lon"`
	City    string  `json:"city,omitempty"`
	Country string  `json:"country,omitempty"`
}

// Transaction is the inbound event read from the transactions topic.
// Unknown JSON fields are ignored by encoding/json by default.
type Transaction struct {
	TransactionID string    `json:"transactionId"`
	UserID        string    `json:"userId"`
	Amount        float64   `json:"amount"`
	Currency      string    `json:"currency,omitempty"`
	MerchantID    string    `json:"merchantId,omitempty"`
	OccurredAt    time.Time `json:"occurredAt"`
	Device        *Device   `json:"device,omitempty"`
	Location      *Location `json:"location,omitempty"`
}

// Valid reports whether the message carries the fields required to be
// admitted to the pipeline at all (§6.1: missing transactionId/userId
// means schema-invalid, dropped to the dead-letter topic).
func (t Transaction) Valid() bool {
	return t.TransactionID != "" && t.UserID != ""
}

// HasValidAmount reports whether amount is present and positive. A
// missing or non-positive amount still admits the transaction for
// scoring but triggers the invalid_amount rule (§3.1).
func (t Transaction) HasValidAmount() bool {
	return t.Amount > 0
}
