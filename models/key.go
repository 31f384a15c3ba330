// models/key.go
package models

import "time"

const KeyTable = "lk_keys"

type KeyStatus string

const (
	KeyAvailable KeyStatus = "Available"
	KeyBorrowed  KeyStatus = "Borrowed"
)

// Key is one physical key. Status is only changed by the checkout coordinator.
type Key struct {
	KeyID     string    `gorm:"column:key_id;primaryKey;size:64" json:"keyId"`
	Lab       string    `gorm:"size:200;not null" json:"lab"`
	Status    KeyStatus `gorm:"size:20;not null;default:'Available';index" json:"status"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (Key) TableName() string { return KeyTable }

func (k Key) Available() bool { return k.Status == KeyAvailable }
