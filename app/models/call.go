package models

import "time"

const (
	CALL_IN_PROGRESS = "in_progress"
	CALL_COMPLETED   = "completed"
	CALL_FAILED      = "failed"
	CALL_CANCELLED   = "cancelled"
)

// Call is one phone interaction handled by an assistant. ExternalCallID is
// the provider-side identifier and the idempotency key for all lifecycle
// events. Once a call reaches a terminal status no further mutation is
// accepted.
type Call struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	AssistantID     uint       `gorm:"not null;index" json:"assistant_id"`
	ExternalCallID  string     `gorm:"type:varchar(191);not null;uniqueIndex" json:"external_call_id"`
	PhoneNumberID   string     `gorm:"type:varchar(191);default:''" json:"phone_number_id"`
	CustomerID      string     `gorm:"type:varchar(191);default:''" json:"customer_id"`
	Status          string     `gorm:"type:varchar(32);not null;default:'in_progress';index" json:"status"`
	StartedAt       time.Time  `gorm:"type:timestamp;autoCreateTime" json:"started_at"`
	EndedAt         *time.Time `gorm:"type:timestamp;default:null" json:"ended_at,omitempty"`
	DurationSeconds int64      `gorm:"not null;default:0" json:"duration_seconds"`
	Metered         bool       `gorm:"not null;default:false" json:"metered"`
	Cost            float64    `gorm:"type:decimal(10,4);default:0" json:"cost"`
	EndedReason     string     `gorm:"type:varchar(100);default:''" json:"ended_reason"`
	RecordingURL    string     `gorm:"type:varchar(500);default:''" json:"recording_url"`
	Transcript      string     `gorm:"type:longtext" json:"transcript"`
	ExtractedJSON   string     `gorm:"type:longtext" json:"extracted_json"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsTerminal reports whether the call status accepts no further transitions.
func (c *Call) IsTerminal() bool {
	return IsTerminalCallStatus(c.Status)
}

// IsTerminalCallStatus reports whether a status value is terminal.
func IsTerminalCallStatus(status string) bool {
	switch status {
	case CALL_COMPLETED, CALL_FAILED, CALL_CANCELLED:
		return true
	default:
		return false
	}
}

// BilledMinutes rounds the call duration up to the next whole minute.
// Partial minutes always bill as a full minute.
func (c *Call) BilledMinutes() int64 {
	if c.DurationSeconds <= 0 {
		return 0
	}
	return (c.DurationSeconds + 59) / 60
}
