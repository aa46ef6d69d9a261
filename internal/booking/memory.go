package booking

import (
	"context"
	"fmt"
	"sync"
)

// MemoryRecords is an in-process Records used by simulations and tests.
type MemoryRecords struct {
	mu        sync.Mutex
	doctors   map[string]Doctor
	bookings  map[string]string // booking id -> doctor id
	confirmed map[string]PaymentConfirmation
}

var _ Records = (*MemoryRecords)(nil)

func NewMemoryRecords() *MemoryRecords {
	return &MemoryRecords{
		doctors:   make(map[string]Doctor),
		bookings:  make(map[string]string),
		confirmed: make(map[string]PaymentConfirmation),
	}
}

func (m *MemoryRecords) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doctors[d.ID] = d
}

// AddBooking registers a pending booking; doctorID may be empty.
func (m *MemoryRecords) AddBooking(bookingID, doctorID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.bookings[bookingID] = doctorID
}

// Confirmed reports whether ConfirmBooking has run for bookingID.
func (m *MemoryRecords) Confirmed(bookingID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.confirmed[bookingID]
	return ok
}

func (m *MemoryRecords) ConfirmBooking(ctx context.Context, c PaymentConfirmation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.bookings[c.BookingID]; !ok {
		return fmt.Errorf("booking %s: %w", c.BookingID, ErrNotFound)
	}
	m.confirmed[c.BookingID] = c
	return nil
}

func (m *MemoryRecords) DoctorIDForBooking(ctx context.Context, bookingID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doctorID, ok := m.bookings[bookingID]
	if !ok {
		return "", fmt.Errorf("booking %s: %w", bookingID, ErrNotFound)
	}
	return doctorID, nil
}

func (m *MemoryRecords) GetDoctor(ctx context.Context, doctorID string) (Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.doctors[doctorID]
	if !ok {
		return Doctor{}, fmt.Errorf("doctor %s: %w", doctorID, ErrNotFound)
	}
	return d, nil
}
