package models

import (
	"crypto/rand"
	"math/big"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InvoiceStatus string

const (
	InvoiceSent InvoiceStatus = "sent"
	InvoicePaid InvoiceStatus = "paid"
	InvoiceVoid InvoiceStatus = "void"
)

type Invoice struct {
	ID             uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Number         string        `gorm:"type:varchar(20);uniqueIndex;not null" json:"number"`
	ProjectID      uuid.UUID     `gorm:"type:uuid;index;not null" json:"projectId"`
	FreelancerID   uuid.UUID     `gorm:"type:uuid;index;not null" json:"freelancerId"`
	ClientID       uuid.UUID     `gorm:"type:uuid;index;not null" json:"clientId"`
	MilestoneIndex *int          `json:"milestoneIndex,omitempty"`
	Hours          float64       `gorm:"not null;default:0" json:"hours"`
	Description    string        `gorm:"type:text" json:"description"`
	Amount         int64         `gorm:"not null" json:"amount"`
	Status         InvoiceStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	DueDate        *time.Time    `json:"dueDate,omitempty"`
	PaidAt         *time.Time    `json:"paidAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (i *Invoice) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.Number == "" {
		i.Number = "INV-" + GenerateInvoiceCode()
	}
	return nil
}

const invoiceCodeLetters = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// GenerateInvoiceCode returns a random 8 character code without look-alike glyphs.
func GenerateInvoiceCode() string {
	b := make([]byte, 8)
	max := big.NewInt(int64(len(invoiceCodeLetters)))
	for i := range b {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(err)
		}
		b[i] = invoiceCodeLetters[n.Int64()]
	}
	return string(b)
}
