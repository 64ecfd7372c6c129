package models

import "time"

const (
	UsageEventLimitExceeded = "usage_limit_exceeded"
	UsageEventCycleReset    = "cycle_reset"
)

// UsageThresholdEvent is an append-only audit record written once per quota
// crossing. It snapshots usage and quota at the moment the threshold fired.
type UsageThresholdEvent struct {
	ID           uint      `gorm:"primaryKey" json:"id"`
	AccountID    uint      `gorm:"not null;index" json:"account_id"`
	EventType    string    `gorm:"type:varchar(50);not null;index" json:"event_type"`
	UsageMinutes int64     `gorm:"not null" json:"usage_minutes"`
	MinuteQuota  int64     `gorm:"not null" json:"minute_quota"`
	CreatedAt    time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
