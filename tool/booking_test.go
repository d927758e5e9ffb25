package tool

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBookingArguments(t *testing.T) {
	args, err := ParseBookingArguments(`{"name":"Ada","service":"haircut","date":"2026-08-28","time":"14:00","phone":"555-0100","notes":"first visit"}`)
	require.NoError(t, err)
	assert.Equal(t, "Ada", args.Name)
	assert.Equal(t, "haircut", args.Service)
	assert.Equal(t, "2026-08-28", args.Date)
	assert.Equal(t, "14:00", args.Time)
	assert.Equal(t, "555-0100", args.Phone)
	assert.Equal(t, "first visit", args.Notes)

	_, err = ParseBookingArguments(`{broken`)
	assert.Error(t, err)
}

func TestBookAppointmentDefinition(t *testing.T) {
	def := BookAppointment("")
	assert.Equal(t, "function", def.Type)
	assert.Equal(t, BookAppointmentName, def.Name)
	assert.NotEmpty(t, def.Description)
	assert.ElementsMatch(t, []string{"name", "date", "time", "service", "phone"}, def.Parameters.Required)

	custom := BookAppointment("Book a table")
	assert.Equal(t, "Book a table", custom.Description)
}
