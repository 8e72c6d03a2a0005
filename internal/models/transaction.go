package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TransactionType string

const (
	TransactionCredit TransactionType = "credit"
	TransactionDebit  TransactionType = "debit"
	TransactionRefund TransactionType = "refund"
)

// Transaction is a ledger entry against a user's balance.
type Transaction struct {
	ID          uuid.UUID       `gorm:"type:uuid;primaryKey" json:"id"`
	UserID      uuid.UUID       `gorm:"type:uuid;index;not null" json:"userId"`
	ProjectID   *uuid.UUID      `gorm:"type:uuid;index" json:"projectId,omitempty"`
	InvoiceID   *uuid.UUID      `gorm:"type:uuid;uniqueIndex" json:"invoiceId,omitempty"`
	Amount      int64           `gorm:"not null" json:"amount"`
	Type        TransactionType `gorm:"type:varchar(20);not null" json:"type"`
	Description string          `gorm:"type:text" json:"description"`
	CreatedAt   time.Time       `gorm:"index" json:"createdAt"`
}

func (t *Transaction) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}
