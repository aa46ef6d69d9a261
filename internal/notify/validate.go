package notify

import (
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lalithlochan/medinotify/internal/phone"
)

var (
	emailShape = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)
	validate   = validator.New(validator.WithRequiredStructEnabled())
)

// Validate returns every violation found on req, in a stable order. An empty
// slice means the request may be dispatched.
func Validate(req NotificationRequest, countryCode string) []string {
	violations := []string{}

	required := []struct {
		value string
		msg   string
	}{
		{req.BookingID, "bookingId required"},
		{req.Doctor.Name, "doctor name required"},
		{req.Patient.Name, "patient name required"},
		{req.Appointment.DateTime, "appointment datetime required"},
		{req.Specialty, "specialty required"},
		{req.ClinicName, "clinic name required"},
	}
	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			violations = append(violations, r.msg)
		}
	}

	email := strings.TrimSpace(req.Doctor.Email)
	rawPhone := strings.TrimSpace(req.Doctor.Phone)

	if email == "" && rawPhone == "" {
		violations = append(violations, "at least one of doctor email or doctor messaging address is required")
	}
	if email != "" && !validEmail(email) {
		violations = append(violations, "Invalid email: "+req.Doctor.Email)
	}
	if rawPhone != "" {
		if _, err := phone.Parse(rawPhone, countryCode); err != nil {
			violations = append(violations, "Invalid phone: "+req.Doctor.Phone)
		}
	}

	return violations
}

// validEmail requires the plain local@domain.tld shape and RFC 5322 syntax.
func validEmail(email string) bool {
	if !emailShape.MatchString(email) {
		return false
	}
	return validate.Var(email, "email") == nil
}
