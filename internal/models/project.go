package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

type ProjectStatus string

const (
	ProjectActive          ProjectStatus = "active"
	ProjectPendingApproval ProjectStatus = "pending_approval"
	ProjectCompleted       ProjectStatus = "completed"
	ProjectCancelled       ProjectStatus = "cancelled"
	ProjectRejected        ProjectStatus = "rejected"
)

type MilestoneStatus string

const (
	MilestonePending    MilestoneStatus = "pending"
	MilestoneInProgress MilestoneStatus = "in-progress"
	MilestoneCompleted  MilestoneStatus = "completed"
)

// Milestone is stored inline on projects and copied verbatim into contracts.
type Milestone struct {
	Title      string          `json:"title" validate:"notblank"`
	Percentage float64         `json:"percentage" validate:"gt=0,lte=100"`
	Amount     int64           `json:"amount" validate:"gte=0"`
	DueDate    *time.Time      `json:"dueDate,omitempty"`
	Status     MilestoneStatus `json:"status" validate:"omitempty,oneof=pending in-progress completed"`
}

type Project struct {
	ID           uuid.UUID     `gorm:"type:uuid;primaryKey" json:"id"`
	Title        string        `gorm:"not null" json:"title"`
	Description  string        `gorm:"type:text" json:"description"`
	FreelancerID uuid.UUID     `gorm:"type:uuid;index;not null" json:"freelancerId"`
	ClientEmail  *string       `gorm:"index" json:"clientEmail,omitempty"`
	ClientID     *uuid.UUID    `gorm:"type:uuid;index" json:"clientId,omitempty"`
	Status       ProjectStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	// ClientVisible false means archived from the client's active list.
	ClientVisible bool `gorm:"not null;default:false" json:"clientVisible"`

	Milestones datatypes.JSONSlice[Milestone] `json:"milestones"`

	HourlyRate          int64    `gorm:"not null;default:0" json:"hourlyRate"`
	EnableBillableHours bool     `gorm:"not null;default:false" json:"enableBillableHours"`
	MaxBillableHours    *float64 `json:"maxBillableHours,omitempty"`

	StartDate     *time.Time `json:"startDate,omitempty"`
	EndDate       *time.Time `json:"endDate,omitempty"`
	DepositAmount int64      `gorm:"not null;default:0" json:"depositAmount"`
	PaymentTerms  string     `gorm:"type:text" json:"paymentTerms"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Freelancer *User `gorm:"foreignKey:FreelancerID" json:"freelancer,omitempty"`
}

func (p *Project) BeforeCreate(tx *gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

func (p *Project) IsOwner(userID uuid.UUID) bool { return p.FreelancerID == userID }

func (p *Project) IsClient(userID uuid.UUID) bool {
	return p.ClientID != nil && *p.ClientID == userID
}

func (p *Project) IsMember(userID uuid.UUID) bool {
	return p.IsOwner(userID) || p.IsClient(userID)
}

// Open reports whether the project still accepts invitations and work.
func (p *Project) Open() bool {
	return p.Status == ProjectActive || p.Status == ProjectPendingApproval
}

// NormalizeEmail lowercases and trims an address for storage and comparison.
func NormalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
