package events

import "github.com/aristath/barkeep/internal/domain"

// EventData is the interface that all event data types must implement
// This allows for type-safe event data while maintaining flexibility
type EventData interface {
	// EventType returns the event type this data is associated with
	EventType() EventType
}

// CorrectionData contains data for CorrectionDetected events
type CorrectionData struct {
	Correction *domain.CorrectionEvent `json:"correction"`
}

// EventType returns the event type for CorrectionData
func (d *CorrectionData) EventType() EventType {
	return CorrectionDetected
}

// BarsIngestedData contains data for BarsIngested events
type BarsIngestedData struct {
	Symbol    string `json:"symbol"`
	Timeframe string `json:"timeframe"`
	Provider  string `json:"provider"`
	Count     int    `json:"count"`
}

// EventType returns the event type for BarsIngestedData
func (d *BarsIngestedData) EventType() EventType {
	return BarsIngested
}

// QuoteUpdatedData contains data for QuoteUpdated events
type QuoteUpdatedData struct {
	Symbol    string  `json:"symbol"`
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"`
	Provider  string  `json:"provider"`
}

// EventType returns the event type for QuoteUpdatedData
func (d *QuoteUpdatedData) EventType() EventType {
	return QuoteUpdated
}

// RefreshCompletedData contains data for RefreshCompleted events
type RefreshCompletedData struct {
	Symbol     string `json:"symbol"`
	Timeframe  string `json:"timeframe"`
	Bars       int    `json:"bars"`
	DurationMs int64  `json:"duration_ms"`
	Partial    bool   `json:"partial"`
}

// EventType returns the event type for RefreshCompletedData
func (d *RefreshCompletedData) EventType() EventType {
	return RefreshCompleted
}

// BackupCompletedData contains data for BackupCompleted events
type BackupCompletedData struct {
	BackupID  string `json:"backup_id"`
	SizeBytes int64  `json:"size_bytes"`
	Checksum  string `json:"checksum"`
	Location  string `json:"location"`
}

// EventType returns the event type for BackupCompletedData
func (d *BackupCompletedData) EventType() EventType {
	return BackupCompleted
}

// ProviderStatusData contains data for ProviderStatusChanged events
type ProviderStatusData struct {
	Provider string `json:"provider"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// EventType returns the event type for ProviderStatusData
func (d *ProviderStatusData) EventType() EventType {
	return ProviderStatusChanged
}

// ErrorEventData contains data for ErrorOccurred events
type ErrorEventData struct {
	Error   string                 `json:"error"`
	Context map[string]interface{} `json:"context,omitempty"`
}

// EventType returns the event type for ErrorEventData
func (d *ErrorEventData) EventType() EventType {
	return ErrorOccurred
}
