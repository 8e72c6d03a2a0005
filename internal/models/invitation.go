package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRejected InvitationStatus = "rejected"
	// InvitationExpired is never stored. It is derived from ExpiresAt on read.
	InvitationExpired InvitationStatus = "expired"
)

type Invitation struct {
	ID           uuid.UUID        `gorm:"type:uuid;primaryKey" json:"id"`
	Token        string           `gorm:"type:varchar(64);uniqueIndex;not null" json:"token"`
	ProjectID    uuid.UUID        `gorm:"type:uuid;not null;index:idx_invitation_pair" json:"projectId"`
	FreelancerID uuid.UUID        `gorm:"type:uuid;not null;index" json:"freelancerId"`
	ClientEmail  string           `gorm:"not null;index:idx_invitation_pair" json:"clientEmail"`
	ClientID     *uuid.UUID       `gorm:"type:uuid" json:"clientId,omitempty"`
	Status       InvitationStatus `gorm:"type:varchar(20);not null;index" json:"status"`
	ExpiresAt    time.Time        `gorm:"not null;index" json:"expiresAt"`
	RespondedAt  *time.Time       `json:"respondedAt,omitempty"`

	// ExpiryNotifiedAt is set once the freelancer has been told the invitation lapsed.
	ExpiryNotifiedAt *time.Time `json:"-"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (i *Invitation) BeforeCreate(tx *gorm.DB) error {
	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	return nil
}

func (i *Invitation) IsExpired(now time.Time) bool {
	return !now.Before(i.ExpiresAt)
}

// EffectiveStatus is the status callers must act on: a pending invitation
// past ExpiresAt reads as expired whatever the stored column says.
func (i *Invitation) EffectiveStatus(now time.Time) InvitationStatus {
	if i.Status == InvitationPending && i.IsExpired(now) {
		return InvitationExpired
	}
	return i.Status
}

// Actionable reports whether the invitation can still be accepted or rejected.
func (i *Invitation) Actionable(now time.Time) bool {
	return i.EffectiveStatus(now) == InvitationPending
}
