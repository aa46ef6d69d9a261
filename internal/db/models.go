package db

import (
	"encoding/json"
	"time"

	"github.com/lalithlochan/medinotify/internal/notify"
)

// Booking status values stored in bookings.status.
const (
	BookingStatusPending   = "pending"
	BookingStatusConfirmed = "confirmed"
	BookingStatusCancelled = "cancelled"
)

// notificationRow mirrors notification_records. List columns are JSONB.
type notificationRow struct {
	BookingID     string
	NotifiedAt    time.Time
	EmailSent     bool
	MessagingSent bool
	Attempts      int
	Errors        []byte
	MessageIDs    []byte
	Skipped       []byte
	Channels      []byte
}

func rowFromRecord(rec notify.Record) (notificationRow, error) {
	row := notificationRow{
		BookingID:     rec.BookingID,
		NotifiedAt:    rec.NotifiedAt,
		EmailSent:     rec.EmailSent,
		MessagingSent: rec.MessagingSent,
		Attempts:      rec.Attempts,
	}

	var err error
	if row.Errors, err = marshalList(rec.Errors); err != nil {
		return row, err
	}
	if row.MessageIDs, err = marshalList(rec.MessageIDs); err != nil {
		return row, err
	}
	if row.Skipped, err = marshalList(rec.Skipped); err != nil {
		return row, err
	}
	channels := rec.Channels
	if channels == nil {
		channels = []notify.ChannelOutcome{}
	}
	if row.Channels, err = json.Marshal(channels); err != nil {
		return row, err
	}
	return row, nil
}

func (row notificationRow) record() (notify.Record, error) {
	rec := notify.Record{
		BookingID:     row.BookingID,
		NotifiedAt:    row.NotifiedAt.UTC(),
		EmailSent:     row.EmailSent,
		MessagingSent: row.MessagingSent,
		Attempts:      row.Attempts,
	}

	for _, col := range []struct {
		raw []byte
		dst *[]string
	}{
		{row.Errors, &rec.Errors},
		{row.MessageIDs, &rec.MessageIDs},
		{row.Skipped, &rec.Skipped},
	} {
		if len(col.raw) == 0 {
			continue
		}
		if err := json.Unmarshal(col.raw, col.dst); err != nil {
			return notify.Record{}, err
		}
	}
	if len(row.Channels) > 0 {
		if err := json.Unmarshal(row.Channels, &rec.Channels); err != nil {
			return notify.Record{}, err
		}
		if len(rec.Channels) == 0 {
			rec.Channels = nil
		}
	}
	return rec, nil
}

func marshalList(list []string) ([]byte, error) {
	if list == nil {
		list = []string{}
	}
	return json.Marshal(list)
}
