package db

import (
	"reflect"
	"testing"
	"time"

	"github.com/lalithlochan/medinotify/internal/notify"
)

func TestNotificationRow_RoundTrip(t *testing.T) {
	rec := notify.Record{
		BookingID:     "bk-1",
		NotifiedAt:    time.Date(2026, 4, 2, 15, 4, 5, 0, time.UTC),
		EmailSent:     true,
		MessagingSent: false,
		Attempts:      3,
		Errors:        []string{"Messaging: status 500: boom"},
		MessageIDs:    []string{"ses-1"},
		Skipped:       nil,
		Channels: []notify.ChannelOutcome{
			{Channel: "email", Status: notify.StatusSucceeded, Attempts: 1, MessageID: "ses-1"},
			{Channel: "messaging", Status: notify.StatusExhausted, Attempts: 3, Error: "status 500: boom"},
		},
	}

	row, err := rowFromRecord(rec)
	if err != nil {
		t.Fatalf("rowFromRecord() failed: %v", err)
	}
	if string(row.Skipped) != "[]" {
		t.Errorf("nil lists should be stored as [], got %s", row.Skipped)
	}

	got, err := row.record()
	if err != nil {
		t.Fatalf("record() failed: %v", err)
	}
	if !reflect.DeepEqual(got.Errors, rec.Errors) || !reflect.DeepEqual(got.MessageIDs, rec.MessageIDs) {
		t.Errorf("lists differ: %+v", got)
	}
	if !reflect.DeepEqual(got.Channels, rec.Channels) {
		t.Errorf("channels differ: %+v", got.Channels)
	}
	if len(got.Skipped) != 0 || got.Attempts != 3 || !got.NotifiedAt.Equal(rec.NotifiedAt) {
		t.Errorf("unexpected record: %+v", got)
	}
}

func TestNotificationRow_CorruptJSON(t *testing.T) {
	row := notificationRow{BookingID: "bk-1", Errors: []byte("{not-a-list")}
	if _, err := row.record(); err == nil {
		t.Fatal("expected decode error")
	}
}

func TestLockName(t *testing.T) {
	if got := lockName("bk-9"); got != "notify:bk-9" {
		t.Errorf("lockName() = %q", got)
	}
}
