// Package events provides event management functionality.
package events

// EventType represents different event types
type EventType string

const (
	CorrectionDetected    EventType = "CORRECTION_DETECTED"
	BarsIngested          EventType = "BARS_INGESTED"
	QuoteUpdated          EventType = "QUOTE_UPDATED"
	RefreshCompleted      EventType = "REFRESH_COMPLETED"
	BackupCompleted       EventType = "BACKUP_COMPLETED"
	ProviderStatusChanged EventType = "PROVIDER_STATUS_CHANGED"
	ErrorOccurred         EventType = "ERROR_OCCURRED"
)
