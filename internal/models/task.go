package models

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in-progress"
	TaskCompleted  TaskStatus = "completed"
)

type Task struct {
	ID             uuid.UUID  `gorm:"type:uuid;primaryKey" json:"id"`
	ProjectID      uuid.UUID  `gorm:"type:uuid;index;not null" json:"projectId"`
	Title          string     `gorm:"not null" json:"title"`
	Description    string     `gorm:"type:text" json:"description"`
	EstimatedHours float64    `gorm:"not null;default:0" json:"estimatedHours"`
	TimeSpent      float64    `gorm:"not null;default:0" json:"timeSpent"`
	Progress       int        `gorm:"not null;default:0" json:"progress"`
	Status         TaskStatus `gorm:"type:varchar(20);not null;index" json:"status"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (t *Task) BeforeCreate(tx *gorm.DB) error {
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	return nil
}

// StatusForProgress derives the task status from a progress value.
func StatusForProgress(progress int) TaskStatus {
	switch {
	case progress >= 100:
		return TaskCompleted
	case progress > 0:
		return TaskInProgress
	default:
		return TaskPending
	}
}

var ErrProgressUpdateImmutable = errors.New("progress updates are append-only")

// ProgressUpdate is an append-only log entry. Rows are never rewritten.
type ProgressUpdate struct {
	ID             uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TaskID         uuid.UUID `gorm:"type:uuid;index;not null" json:"taskId"`
	ProjectID      uuid.UUID `gorm:"type:uuid;index;not null" json:"projectId"`
	AuthorID       uuid.UUID `gorm:"type:uuid;not null" json:"authorId"`
	OldProgress    int       `gorm:"not null" json:"oldProgress"`
	NewProgress    int       `gorm:"not null" json:"newProgress"`
	ProgressChange int       `gorm:"not null" json:"progressChange"`
	Notes          string    `gorm:"type:text" json:"notes"`
	CreatedAt      time.Time `gorm:"index" json:"createdAt"`
}

func (u *ProgressUpdate) BeforeCreate(tx *gorm.DB) error {
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	return nil
}

func (u *ProgressUpdate) BeforeUpdate(tx *gorm.DB) error {
	return ErrProgressUpdateImmutable
}
