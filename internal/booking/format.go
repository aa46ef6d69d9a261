package booking

import (
	"fmt"
	"strings"
	"time"
	_ "time/tzdata" // container images ship without zoneinfo
)

// DefaultTimezone is used when a confirmation carries none.
const DefaultTimezone = "America/Santiago"

var (
	weekdays = [...]string{"domingo", "lunes", "martes", "miércoles", "jueves", "viernes", "sábado"}
	months   = [...]string{"enero", "febrero", "marzo", "abril", "mayo", "junio", "julio",
		"agosto", "septiembre", "octubre", "noviembre", "diciembre"}
)

// FormatAppointment renders date (2006-01-02) and clock (15:04) in tz as a
// single Spanish, timezone qualified string, e.g.
// "martes 14 de octubre de 2025, 10:30 (America/Santiago)".
// Unparseable input is returned as given so the doctor still sees it.
// Blank date and clock give "", which notify.Validate rejects.
func FormatAppointment(date, clock, tz string) string {
	date, clock = strings.TrimSpace(date), strings.TrimSpace(clock)
	if date == "" && clock == "" {
		return ""
	}
	if tz == "" {
		tz = DefaultTimezone
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		return asGiven(date, clock, tz)
	}

	t, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, loc)
	if err != nil {
		return asGiven(date, clock, tz)
	}

	return fmt.Sprintf("%s %d de %s de %d, %s (%s)",
		weekdays[t.Weekday()], t.Day(), months[t.Month()-1], t.Year(), t.Format("15:04"), tz)
}

func asGiven(date, clock, tz string) string {
	when := date
	switch {
	case when == "":
		when = clock
	case clock != "":
		when += " " + clock
	}
	return fmt.Sprintf("%s (%s)", when, tz)
}
