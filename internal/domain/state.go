package domain

// StateSignals is the bundle of per-user state reads the stream
// processor gathers in step 3 of the main loop (§4.6) before the rule
// engine runs. It is a plain value — the rule engine and feature
// extractor never touch the state store directly (§4.2 side-effect
// contract).
type StateSignals struct {
	// RecentCounts maps a burst window, in seconds, to the number of
	// transactions this user made in [now-window, now]. The stream
	// processor only needs to populate the windows the rule table
	// actually consults (the default 60s window).
	RecentCounts map[int64]int64

	// MedianAmount is the user's recent-amount median, or 0 if the
	// history is empty.
	MedianAmount float64

	// DeviceIsNew is true iff this is the first time this device has
	// been observed for this user.
	DeviceIsNew bool
	// DeviceIsRecent is true iff the device's first-seen timestamp is
	// within the configured freshness window, even if not brand new.
	DeviceIsRecent bool

	// IPIsNew / IPIsRecent mirror DeviceIsNew/DeviceIsRecent for IPs.
	IPIsNew    bool
	IPIsRecent bool

	// LastLocation is the user's previously recorded location, or nil
	// if none is on record.
	LastLocation *LocationRecord
}

// LocationRecord is a location reading with the instant it was observed,
// epoch seconds (§3.3 last known location).
type LocationRecord struct {
	Lat float64
	Lon float64
	Ts  int64
}
