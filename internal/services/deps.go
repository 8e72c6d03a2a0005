// Package services holds the plumbing shared by the domain services: the
// store handle, clock, retry policy and event publisher each one is built with.
package services

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/db"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/events"
	"github.com/Windi-Fikriyansyah/freelancedesk/internal/retry"
)

type Deps struct {
	DB     *gorm.DB
	Log    *zap.Logger
	Events events.Publisher
	Now    func() time.Time
	Retry  retry.Policy
}

// NewDeps fills unset collaborators with safe defaults.
func NewDeps(gdb *gorm.DB, d Deps) Deps {
	d.DB = gdb
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	if d.Events == nil {
		d.Events = events.Nop{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Retry.Retryable == nil {
		p := retry.DefaultPolicy(db.Retryable)
		if d.Retry.MaxElapsed > 0 {
			p.MaxElapsed = d.Retry.MaxElapsed
		}
		d.Retry = p
	}
	if d.Retry.Log == nil {
		d.Retry.Log = d.Log
	}
	return d
}

// Clock returns the current time in UTC.
func (d Deps) Clock() time.Time { return d.Now().UTC() }

// InTx runs fn in a transaction, retrying the whole transaction on transient
// store errors. Errors leave as apperr kinds.
func (d Deps) InTx(ctx context.Context, op string, fn func(tx *gorm.DB) error) error {
	return retry.Do(ctx, d.Retry, op, func() error {
		return db.Wrap(op, d.DB.WithContext(ctx).Transaction(fn))
	})
}

// Read runs a non-transactional read with the same retry policy.
func (d Deps) Read(ctx context.Context, op string, fn func(q *gorm.DB) error) error {
	return retry.Do(ctx, d.Retry, op, func() error {
		return db.Wrap(op, fn(d.DB.WithContext(ctx)))
	})
}

func (d Deps) Emit(ctx context.Context, ev events.Event) {
	events.Emit(context.WithoutCancel(ctx), d.Events, d.Log, ev)
}

// LockByID loads a row with SELECT ... FOR UPDATE. SQLite ignores the
// locking clause; its single writer gives the same guarantee.
func LockByID(tx *gorm.DB, dst any, id any) error {
	return tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(dst, "id = ?", id).Error
}

// NotFound turns gorm.ErrRecordNotFound into an apperr NotFound naming what.
func NotFound(err error, what string, id any) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return apperr.NotFound("%s %v not found", what, id)
	}
	return err
}
