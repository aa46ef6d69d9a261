package db

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lalithlochan/medinotify/internal/booking"
	"github.com/lalithlochan/medinotify/internal/notify"
)

// openTestDB connects to TEST_DATABASE_URL, which must point at a database
// with migrations applied. Tests are skipped without it.
func openTestDB(t *testing.T) *DB {
	t.Helper()

	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	database, err := New(ctx, url, zap.NewNop())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(database.Close)
	return database
}

func TestIdempotencyStore_Postgres(t *testing.T) {
	database := openTestDB(t)
	store := NewIdempotencyStore(database, zap.NewNop())
	ctx := context.Background()

	bookingID := "it-" + time.Now().Format("20060102150405.000000")
	t.Cleanup(func() {
		database.Pool().Exec(context.Background(), `DELETE FROM notification_records WHERE booking_id = $1`, bookingID)
	})

	if _, ok, err := store.Lookup(ctx, bookingID); err != nil || ok {
		t.Fatalf("expected miss, got ok=%v err=%v", ok, err)
	}

	rec := notify.Record{BookingID: bookingID, NotifiedAt: time.Now().UTC(), EmailSent: true, Attempts: 1, MessageIDs: []string{"ses-1"}}
	if inserted, err := store.Save(ctx, rec); err != nil || !inserted {
		t.Fatalf("first save: inserted=%v err=%v", inserted, err)
	}
	if inserted, err := store.Save(ctx, notify.Record{BookingID: bookingID, MessagingSent: true, NotifiedAt: time.Now()}); err != nil || inserted {
		t.Fatalf("second save: inserted=%v err=%v", inserted, err)
	}

	got, ok, err := store.Lookup(ctx, bookingID)
	if err != nil || !ok || !got.EmailSent || got.MessagingSent {
		t.Fatalf("lookup = %+v, ok=%v err=%v", got, ok, err)
	}
}

func TestIdempotencyStore_PostgresLock(t *testing.T) {
	database := openTestDB(t)
	store := NewIdempotencyStore(database, zap.NewNop())

	unlock, err := store.Lock(context.Background(), "lock-test")
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := store.Lock(ctx, "lock-test"); err == nil {
		t.Fatal("second lock should block until the deadline")
	}

	unlock()

	unlock2, err := store.Lock(context.Background(), "lock-test")
	if err != nil {
		t.Fatalf("relock: %v", err)
	}
	unlock2()
}

func TestRepository_Postgres(t *testing.T) {
	database := openTestDB(t)
	repo := NewRepository(database, zap.NewNop())
	ctx := context.Background()

	pool := database.Pool()
	pool.Exec(ctx, `INSERT INTO doctors (id, name, email) VALUES ('it-doc', 'Dr. Prueba', 'prueba@clinica.cl') ON CONFLICT DO NOTHING`)
	pool.Exec(ctx, `INSERT INTO bookings (id, doctor_id) VALUES ('it-booking', 'it-doc') ON CONFLICT DO NOTHING`)
	t.Cleanup(func() {
		pool.Exec(context.Background(), `DELETE FROM bookings WHERE id = 'it-booking'`)
		pool.Exec(context.Background(), `DELETE FROM doctors WHERE id = 'it-doc'`)
	})

	if err := repo.ConfirmBooking(ctx, booking.PaymentConfirmation{BookingID: "it-booking", PaymentID: "pay-1", AmountPaid: 1000}); err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if err := repo.ConfirmBooking(ctx, booking.PaymentConfirmation{BookingID: "missing"}); !errors.Is(err, booking.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	doctorID, err := repo.DoctorIDForBooking(ctx, "it-booking")
	if err != nil || doctorID != "it-doc" {
		t.Fatalf("doctor id = %q, err=%v", doctorID, err)
	}

	d, err := repo.GetDoctor(ctx, doctorID)
	if err != nil || d.Email != "prueba@clinica.cl" || d.Phone != "" {
		t.Fatalf("doctor = %+v, err=%v", d, err)
	}
}
