package validation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Windi-Fikriyansyah/freelancedesk/internal/apperr"
)

type inviteReq struct {
	ProjectID   string `json:"projectId" validate:"required,uuid"`
	ClientEmail string `json:"clientEmail" validate:"required,email"`
	Hours       int    `json:"hours" validate:"gte=0,lte=100"`
}

func TestStructReportsJSONFieldNames(t *testing.T) {
	err := Struct(inviteReq{ProjectID: "nope", ClientEmail: "bad", Hours: 101})
	require.Error(t, err)

	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, apperr.KindValidation, ae.Kind)
	assert.Equal(t, "must be a valid id", ae.Fields["projectId"])
	assert.Equal(t, "must be a valid email address", ae.Fields["clientEmail"])
	assert.Equal(t, "must be at most 100", ae.Fields["hours"])
}

func TestStructValid(t *testing.T) {
	err := Struct(inviteReq{
		ProjectID:   "7f1b3c1e-2d4a-4f7e-9a51-0d1c2b3a4f5e",
		ClientEmail: "client@example.com",
	})
	assert.NoError(t, err)
}

func TestEmail(t *testing.T) {
	assert.True(t, Email("a@b.co"))
	assert.False(t, Email(""))
	assert.False(t, Email("not-an-email"))
}

type line struct {
	Title string  `json:"title" validate:"notblank"`
	Share float64 `json:"share" validate:"gt=0"`
	Cost  int64   `json:"cost" validate:"gte=0"`
}

type plan struct {
	Lines []line `json:"lines" validate:"dive"`
}

func TestFieldsKeysNestedPaths(t *testing.T) {
	fields, err := Fields(plan{Lines: []line{
		{Title: "ok", Share: 1},
		{Title: "   ", Share: 0, Cost: -5},
	}})
	require.NoError(t, err)

	assert.Len(t, fields, 3)
	assert.Equal(t, "is required", fields["lines[1].title"])
	assert.Equal(t, "must be greater than 0", fields["lines[1].share"])
	assert.Equal(t, "must not be negative", fields["lines[1].cost"])
}

func TestFieldsEmptyWhenValid(t *testing.T) {
	fields, err := Fields(plan{Lines: []line{{Title: "a", Share: 100}}})
	require.NoError(t, err)
	assert.Empty(t, fields)
}

func TestVar(t *testing.T) {
	assert.NoError(t, Var("hours", 2.5, "gt=0,lte=24"))

	err := Var("hours", 25.0, "gt=0,lte=24")
	var ae *apperr.Error
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "must be at most 24", ae.Fields["hours"])

	err = Var("hours", 0.0, "gt=0,lte=24")
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "must be greater than 0", ae.Fields["hours"])
}
