package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Contract is a snapshot of the project terms taken when the client accepted.
// Later edits to the project never flow into it.
type Contract struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID    uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"projectId"`
	InvitationID uuid.UUID `gorm:"type:uuid;uniqueIndex;not null" json:"invitationId"`
	FreelancerID uuid.UUID `gorm:"type:uuid;index;not null" json:"freelancerId"`
	ClientID     uuid.UUID `gorm:"type:uuid;index;not null" json:"clientId"`

	Scope         string                         `gorm:"type:text" json:"scope"`
	HourlyRate    int64                          `gorm:"not null;default:0" json:"hourlyRate"`
	StartDate     *time.Time                     `json:"startDate,omitempty"`
	EndDate       *time.Time                     `json:"endDate,omitempty"`
	DepositAmount int64                          `gorm:"not null;default:0" json:"depositAmount"`
	PaymentTerms  string                         `gorm:"type:text" json:"paymentTerms"`
	Milestones    datatypes.JSONSlice[Milestone] `json:"milestones"`

	FreelancerSignature *string    `json:"freelancerSignature,omitempty"`
	FreelancerSignedAt  *time.Time `json:"freelancerSignedAt,omitempty"`
	ClientSignature     *string    `json:"clientSignature,omitempty"`
	ClientSignedAt      *time.Time `json:"clientSignedAt,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (c *Contract) BeforeCreate(tx *gorm.DB) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	return nil
}

func (c *Contract) FullyExecuted() bool {
	return c.FreelancerSignature != nil && c.ClientSignature != nil
}
