package domain

// Bar is one OHLCV sample aligned to the start of its timeframe bucket.
// Timestamps are UTC milliseconds since epoch.
type Bar struct {
	Timestamp int64   `json:"timestamp" db:"timestamp"`
	Open      float64 `json:"open" db:"open"`
	High      float64 `json:"high" db:"high"`
	Low       float64 `json:"low" db:"low"`
	Close     float64 `json:"close" db:"close"`
	Volume    float64 `json:"volume" db:"volume"`
}

// Validate checks the OHLC invariants and bucket alignment.
// Returns (isValid, reason).
func (b Bar) Validate(tf Timeframe) (bool, string) {
	if b.High < b.Low {
		return false, "high_below_low"
	}
	if b.High < b.Open {
		return false, "high_below_open"
	}
	if b.High < b.Close {
		return false, "high_below_close"
	}
	if b.Low > b.Open {
		return false, "low_above_open"
	}
	if b.Low > b.Close {
		return false, "low_above_close"
	}
	if b.Volume < 0 {
		return false, "negative_volume"
	}
	if tf.Valid() && b.Timestamp%tf.DurationMs() != 0 {
		return false, "unaligned_timestamp"
	}
	return true, ""
}

// Equals compares all OHLCV fields and the timestamp.
func (b Bar) Equals(other Bar) bool {
	return b.Timestamp == other.Timestamp &&
		b.Open == other.Open &&
		b.High == other.High &&
		b.Low == other.Low &&
		b.Close == other.Close &&
		b.Volume == other.Volume
}

// CachedBar is a stored bar plus its provenance: which provider produced it,
// that provider's revision of the bar and when the cache observed it.
type CachedBar struct {
	Bar
	Provider  string `json:"provider" db:"provider"`
	Revision  int64  `json:"revision" db:"revision"`
	FetchedAt int64  `json:"fetched_at" db:"fetched_at"`
}

// SamePayload reports whether two cached bars are indistinguishable to a
// consumer: identical OHLCV, provider and revision. FetchedAt is deliberately
// excluded so an idempotent re-insert is detected as unchanged.
func (c CachedBar) SamePayload(other CachedBar) bool {
	return c.Bar.Equals(other.Bar) &&
		c.Provider == other.Provider &&
		c.Revision == other.Revision
}

// CorrectionType classifies how a cached bar changed.
type CorrectionType string

const (
	// CorrectionInitial marks the first bar stored for a key.
	CorrectionInitial CorrectionType = "initial"
	// CorrectionRevision marks a same-provider bar with a higher revision.
	CorrectionRevision CorrectionType = "revision"
	// CorrectionProviderOverride marks a higher-priority provider replacing
	// a lower-priority one.
	CorrectionProviderOverride CorrectionType = "provider_override"
)

// CorrectionEvent describes a change to a previously stored bar.
// Old is nil for initial inserts.
type CorrectionEvent struct {
	Symbol     string         `json:"symbol"`
	Timeframe  Timeframe      `json:"timeframe"`
	Timestamp  int64          `json:"timestamp"`
	Old        *CachedBar     `json:"old,omitempty"`
	New        CachedBar      `json:"new"`
	Type       CorrectionType `json:"type"`
	DetectedAt int64          `json:"detected_at"`
}

// Quote is a point-in-time price from a provider.
type Quote struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
}
