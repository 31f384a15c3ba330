// models/transaction.go
package models

import "time"

const TransactionTable = "lk_transactions"

// Transaction is one borrow/return event. ReturnDate == nil means the key is still out.
type Transaction struct {
	ID         uint       `gorm:"primaryKey;autoIncrement" json:"id"`
	KeyID      string     `gorm:"column:key_id;size:64;index;not null" json:"keyId"`
	TeacherID  string     `gorm:"size:64;index;not null" json:"teacherId"`
	BorrowDate time.Time  `gorm:"index;not null" json:"borrowDate"`
	ReturnDate *time.Time `gorm:"index" json:"returnDate"`
	Purpose    *string    `gorm:"size:255" json:"purpose"`
	Remarks    *string    `gorm:"size:255" json:"remarks"`
	ReturnedBy *string    `gorm:"size:64" json:"returnedBy,omitempty"`
}

func (Transaction) TableName() string { return TransactionTable }

func (t Transaction) Open() bool { return t.ReturnDate == nil }
