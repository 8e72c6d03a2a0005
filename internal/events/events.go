// Package events carries domain notifications from the services to the
// realtime hub, Redis and RabbitMQ. Events are published after commit and
// delivery is best-effort; consumers must tolerate duplicates and reordering.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Type string

const (
	InvitationCreated  Type = "invitation.created"
	InvitationAccepted Type = "invitation.accepted"
	InvitationRejected Type = "invitation.rejected"
	InvitationExpired  Type = "invitation.expired"
	ContractSigned     Type = "contract.signed"
	ProjectUpdated     Type = "project.updated"
	ProjectDeleted     Type = "project.deleted"
	TaskProgress       Type = "task.progress"
	CommentAdded       Type = "comment.added"
	InvoiceIssued      Type = "invoice.issued"
	InvoicePaid        Type = "invoice.paid"
)

type Event struct {
	ID         uuid.UUID      `json:"id"`
	Type       Type           `json:"type"`
	ProjectID  uuid.UUID      `json:"projectId"`
	Recipients []uuid.UUID    `json:"recipients"`
	Payload    map[string]any `json:"payload,omitempty"`
	OccurredAt time.Time      `json:"occurredAt"`
}

// New builds an event addressed to the given users. Nil ids are dropped.
func New(t Type, projectID uuid.UUID, payload map[string]any, recipients ...uuid.UUID) Event {
	rs := make([]uuid.UUID, 0, len(recipients))
	for _, r := range recipients {
		if r != uuid.Nil {
			rs = append(rs, r)
		}
	}
	return Event{
		ID:         uuid.New(),
		Type:       t,
		ProjectID:  projectID,
		Recipients: rs,
		Payload:    payload,
		OccurredAt: time.Now().UTC(),
	}
}

type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) error { return nil }

// Multi fans an event out to several publishers. Every publisher is tried;
// failures are joined.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Enabled reports whether pub delivers events anywhere.
func Enabled(pub Publisher) bool {
	switch p := pub.(type) {
	case nil, Nop, *Nop:
		return false
	case Multi:
		for _, inner := range p {
			if Enabled(inner) {
				return true
			}
		}
		return false
	}
	return true
}

// Emit publishes ev and logs a failure instead of returning it. Services call
// it after commit, where a notification failure must not fail the operation.
func Emit(ctx context.Context, pub Publisher, log *zap.Logger, ev Event) {
	if pub == nil {
		return
	}
	if err := pub.Publish(ctx, ev); err != nil && log != nil {
		log.Warn("publish event failed",
			zap.String("type", string(ev.Type)),
			zap.String("event_id", ev.ID.String()),
			zap.Error(err),
		)
	}
}
