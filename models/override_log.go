package models

import "time"

// OverrideLog records admin deletes of ledger rows.
type OverrideLog struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	ActorID       string    `gorm:"size:64;index" json:"actorId"`
	ActorUsername string    `gorm:"size:255" json:"actorUsername"`
	TransactionID uint      `gorm:"index" json:"transactionId"`
	KeyID         string    `gorm:"size:64" json:"keyId"`
	WasOpen       bool      `json:"wasOpen"`
	Reason        *string   `gorm:"size:255" json:"reason,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

func (OverrideLog) TableName() string { return "lk_override_log" }
