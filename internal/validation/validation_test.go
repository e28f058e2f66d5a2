package validation

import (
	"errors"
	"testing"

	"github.com/nexus-dashboard/nexus/internal/apperr"
	"github.com/stretchr/testify/assert"
)

type sample struct {
	Start string `json:"start" validate:"omitempty,hhmm"`
	Date  string `json:"date" validate:"required,isodate"`
	Month string `json:"month" validate:"omitempty,yearmonth"`
}

func TestCustomTags(t *testing.T) {
	assert.NoError(t, Struct(sample{Start: "23:59", Date: "2024-02-29", Month: "2024-12"}))
	assert.NoError(t, Struct(sample{Date: "2024-01-01"}))

	tests := []sample{
		{Start: "24:00", Date: "2024-01-01"},
		{Start: "7:05", Date: "2024-01-01"},
		{Date: "2023-02-29"},
		{Date: "01/02/2024"},
		{Date: "2024-01-01", Month: "2024-13"},
	}
	for _, s := range tests {
		err := Struct(s)
		assert.True(t, errors.Is(err, apperr.ErrInvalidInput), "%+v: %v", s, err)
	}
}

func TestErrorNamesJSONField(t *testing.T) {
	err := Struct(sample{Date: "nope"})
	assert.Contains(t, err.Error(), "sample.date")
}
