package tool

import "encoding/json"

// BookAppointmentName is the function name of the built-in booking tool.
const BookAppointmentName = "book_appointment"

// BookingArguments is the argument payload of a book_appointment call.
// Date is YYYY-MM-DD, Time is HH:MM.
type BookingArguments struct {
	Name    string `json:"name"`
	Service string `json:"service"`
	Date    string `json:"date"`
	Time    string `json:"time"`
	Phone   string `json:"phone"`
	Notes   string `json:"notes,omitempty"`
}

// ParseBookingArguments decodes the provider's raw argument string.
func ParseBookingArguments(raw string) (*BookingArguments, error) {
	var args BookingArguments
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, err
	}
	return &args, nil
}

// BookAppointment returns the booking tool definition registered with the
// remote service once per session.
func BookAppointment(description string) Tool {
	if description == "" {
		description = "Call this function to book an appointment."
	}
	return Tool{
		Type:        "function",
		Name:        BookAppointmentName,
		Description: description,
		Parameters: Parameters{
			Type: "object",
			Properties: Properties{
				"name":    {Type: "string", Description: "Name of the person booking the appointment."},
				"service": {Type: "string", Description: "Name of the service being booked."},
				"date":    {Type: "string", Description: "Date of the appointment in YYYY-MM-DD format."},
				"time":    {Type: "string", Description: "Time of the appointment in HH:MM format."},
				"phone":   {Type: "string", Description: "Phone number of the person booking the appointment."},
				"notes":   {Type: "string", Description: "Additional notes for the appointment."},
			},
			Required: []string{"name", "date", "time", "service", "phone"},
		},
	}
}
