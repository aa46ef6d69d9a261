// Package notify delivers "booking confirmed" notifications to doctors over
// email and messaging, at most once per booking.
package notify

import (
	"time"

	"github.com/lalithlochan/medinotify/internal/retry"
	"github.com/lalithlochan/medinotify/internal/sender"
)

// Doctor holds the contact data of the care provider being notified.
// At least one of Email or Phone must be set.
type Doctor struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Appointment is already formatted for humans; DateTime includes the
// timezone qualifier.
type Appointment struct {
	DateTime string `json:"dateTime"`
	Timezone string `json:"timezone,omitempty"`
}

type Patient struct {
	Name  string `json:"name"`
	Rut   string `json:"rut,omitempty"`
	Phone string `json:"phone,omitempty"`
	Email string `json:"email,omitempty"`
	Age   int    `json:"age,omitempty"`
}

// NotificationRequest is everything needed to tell a doctor about a paid booking.
type NotificationRequest struct {
	BookingID   string      `json:"bookingId"`
	Doctor      Doctor      `json:"doctor"`
	Appointment Appointment `json:"appointment"`
	Patient     Patient     `json:"patient"`
	Specialty   string      `json:"specialty"`
	ClinicName  string      `json:"clinicName"`
	PricePaid   int64       `json:"pricePaid"`
	Notes       string      `json:"notes,omitempty"`
	BookingURL  string      `json:"bookingUrl,omitempty"`
}

// destination returns the raw recipient for channel on the request.
func (r NotificationRequest) destination(channel sender.Channel) string {
	switch channel {
	case sender.ChannelEmail:
		return r.Doctor.Email
	case sender.ChannelMessaging:
		return r.Doctor.Phone
	default:
		return ""
	}
}

// OutcomeStatus tags how a channel finished.
type OutcomeStatus string

const (
	StatusSucceeded         OutcomeStatus = "succeeded"
	StatusPermanentlyFailed OutcomeStatus = "permanently_failed"
	StatusExhausted         OutcomeStatus = "exhausted"
	StatusMisconfigured     OutcomeStatus = "misconfigured"
	StatusSkipped           OutcomeStatus = "skipped"
)

// ChannelOutcome is produced once per channel per dispatch. MessageID is only
// set when Status is StatusSucceeded, Error only when it is not.
type ChannelOutcome struct {
	Channel   sender.Channel `json:"channel"`
	Status    OutcomeStatus  `json:"status"`
	Attempts  int            `json:"attempts"`
	MessageID string         `json:"messageId,omitempty"`
	Error     string         `json:"error,omitempty"`
}

func (o ChannelOutcome) Succeeded() bool { return o.Status == StatusSucceeded }

func succeeded(channel sender.Channel, attempts int, messageID string) ChannelOutcome {
	return ChannelOutcome{Channel: channel, Status: StatusSucceeded, Attempts: attempts, MessageID: messageID}
}

func failed(channel sender.Channel, status OutcomeStatus, attempts int, err error) ChannelOutcome {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	return ChannelOutcome{Channel: channel, Status: status, Attempts: attempts, Error: msg}
}

func skipped(channel sender.Channel) ChannelOutcome {
	return ChannelOutcome{Channel: channel, Status: StatusSkipped}
}

func outcomeFromReport(channel sender.Channel, receipt sender.Receipt, report retry.Report) ChannelOutcome {
	switch report.State {
	case retry.Succeeded:
		return succeeded(channel, report.Attempts, receipt.MessageID)
	case retry.PermanentlyFailed:
		return failed(channel, StatusPermanentlyFailed, report.Attempts, report.Err)
	default:
		return failed(channel, StatusExhausted, report.Attempts, report.Err)
	}
}

// Result aggregates both channels of one NotifyDoctor call.
type Result struct {
	Success       bool     `json:"success"`
	EmailSent     bool     `json:"emailSent"`
	MessagingSent bool     `json:"messagingSent"`
	Attempts      int      `json:"attempts"`
	Errors        []string `json:"errors"`
	MessageIDs    []string `json:"messageIds"`

	// Skipped lists channels that had no destination, e.g.
	// "Messaging address not configured". They are not failures.
	Skipped []string `json:"skipped,omitempty"`

	// Replayed is true when the result came from a stored record.
	Replayed bool `json:"replayed,omitempty"`

	Channels []ChannelOutcome `json:"channels,omitempty"`
}

func failure(errs ...string) Result {
	return Result{Errors: errs, MessageIDs: []string{}}
}

// aggregate folds channel outcomes into a Result. Outcomes are expected in
// a fixed channel order so Errors and MessageIDs are deterministic.
func aggregate(outcomes []ChannelOutcome) Result {
	res := Result{Errors: []string{}, MessageIDs: []string{}, Channels: outcomes}

	for _, o := range outcomes {
		if o.Status == StatusSkipped {
			res.Skipped = append(res.Skipped, o.Channel.Label()+" address not configured")
			continue
		}
		if o.Attempts > res.Attempts {
			res.Attempts = o.Attempts
		}
		if o.Succeeded() {
			switch o.Channel {
			case sender.ChannelEmail:
				res.EmailSent = true
			case sender.ChannelMessaging:
				res.MessagingSent = true
			}
			if o.MessageID != "" {
				res.MessageIDs = append(res.MessageIDs, o.MessageID)
			}
			continue
		}
		res.Errors = append(res.Errors, o.Channel.Label()+": "+o.Error)
	}

	res.Success = res.EmailSent || res.MessagingSent
	return res
}

// Record is the immutable idempotency entry written after a dispatch in
// which at least one channel succeeded.
type Record struct {
	BookingID     string           `json:"bookingId"`
	NotifiedAt    time.Time        `json:"notifiedAt"`
	EmailSent     bool             `json:"emailSent"`
	MessagingSent bool             `json:"messagingSent"`
	Attempts      int              `json:"attempts"`
	Errors        []string         `json:"errors,omitempty"`
	MessageIDs    []string         `json:"messageIds,omitempty"`
	Skipped       []string         `json:"skipped,omitempty"`
	Channels      []ChannelOutcome `json:"channels,omitempty"`
}

// NewRecord captures res for bookingID.
func NewRecord(bookingID string, res Result, at time.Time) Record {
	return Record{
		BookingID:     bookingID,
		NotifiedAt:    at.UTC(),
		EmailSent:     res.EmailSent,
		MessagingSent: res.MessagingSent,
		Attempts:      res.Attempts,
		Errors:        append([]string(nil), res.Errors...),
		MessageIDs:    append([]string(nil), res.MessageIDs...),
		Skipped:       append([]string(nil), res.Skipped...),
		Channels:      append([]ChannelOutcome(nil), res.Channels...),
	}
}

// Result rebuilds the result originally returned for this record. It equals
// that result in every field except Replayed, which is true.
func (r Record) Result() Result {
	res := Result{
		Success:       r.EmailSent || r.MessagingSent,
		EmailSent:     r.EmailSent,
		MessagingSent: r.MessagingSent,
		Attempts:      r.Attempts,
		Errors:        append([]string{}, r.Errors...),
		MessageIDs:    append([]string{}, r.MessageIDs...),
		Replayed:      true,
	}
	if len(r.Skipped) > 0 {
		res.Skipped = append([]string(nil), r.Skipped...)
	}
	if len(r.Channels) > 0 {
		res.Channels = append([]ChannelOutcome(nil), r.Channels...)
	}
	return res
}
