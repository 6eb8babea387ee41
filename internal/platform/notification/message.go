// Package notification delivers appointment notifications through a
// transactional outbox. Producers enqueue messages in the same database
// transaction as the state change; a Relay drains the outbox and hands
// each message to a channel Sender with retries.
package notification

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Kind identifies what happened.
type Kind string

const (
	KindBookingConfirmed    Kind = "booking_confirmed"
	KindBookingFailed       Kind = "booking_failed"
	KindConfirmationGranted Kind = "confirmation_granted"
	KindCancellation        Kind = "cancellation"
	KindCompletion          Kind = "completion"
	KindAdviceAdded         Kind = "advice_added"
	KindFollowUpCreated     Kind = "follow_up_created"
	KindDocumentUploaded    Kind = "document_uploaded"
	KindRefundIssued        Kind = "refund_issued"
)

// Channel is a delivery transport.
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelPush     Channel = "push"
	ChannelRealtime Channel = "realtime"
)

// Status of an outbox row.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDelivered Status = "delivered"
	StatusDead      Status = "dead"
)

// Recipient is the addressable identity of a notified user.
type Recipient struct {
	UserID    uuid.UUID `json:"userId"`
	Name      string    `json:"name,omitempty"`
	Email     string    `json:"email,omitempty"`
	PushToken string    `json:"pushToken,omitempty"`
	Language  string    `json:"language,omitempty"`
}

// Message is one delivery of one event to one recipient on one channel.
type Message struct {
	ID            uuid.UUID         `json:"id"`
	Kind          Kind              `json:"kind"`
	AppointmentID *uuid.UUID        `json:"appointmentId,omitempty"`
	Channel       Channel           `json:"channel"`
	Recipient     Recipient         `json:"recipient"`
	Data          map[string]string `json:"data,omitempty"`
	Status        Status            `json:"status"`
	Attempts      int               `json:"attempts"`
	NextAttemptAt time.Time         `json:"nextAttemptAt"`
	LastError     string            `json:"lastError,omitempty"`
	CreatedAt     time.Time         `json:"createdAt"`
	DeliveredAt   *time.Time        `json:"deliveredAt,omitempty"`
}

// Outbox accepts messages for later delivery. Enqueue joins the
// transaction carried by ctx, if any.
type Outbox interface {
	Enqueue(ctx context.Context, msgs ...Message) error
}

// Store is the relay side of the outbox.
type Store interface {
	Outbox
	// Claim leases up to limit due messages so other relays skip them
	// until lease expires.
	Claim(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Message, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) error
	// MarkFailed records a failed attempt. A zero next marks the message dead.
	MarkFailed(ctx context.Context, id uuid.UUID, attempts int, lastErr string, next time.Time) error
	CountByStatus(ctx context.Context) (map[Status]int, error)
}

// Event is what a producer wants to say. Notifier fans it out to messages.
type Event struct {
	Kind          Kind
	AppointmentID uuid.UUID
	Recipients    []Recipient
	Data          map[string]string
}

// Notifier turns events into outbox messages, one per recipient and
// reachable channel.
type Notifier struct {
	outbox Outbox
	now    func() time.Time
}

func NewNotifier(outbox Outbox, now func() time.Time) *Notifier {
	if now == nil {
		now = time.Now
	}
	return &Notifier{outbox: outbox, now: now}
}

// Notify enqueues ev. Call it with the ctx of the transaction that made
// the state change so both commit together.
func (n *Notifier) Notify(ctx context.Context, ev Event) error {
	msgs := n.Messages(ev)
	if len(msgs) == 0 {
		return nil
	}
	return n.outbox.Enqueue(ctx, msgs...)
}

// Messages expands ev without enqueueing it.
func (n *Notifier) Messages(ev Event) []Message {
	now := n.now().UTC()
	var apptID *uuid.UUID
	if ev.AppointmentID != uuid.Nil {
		id := ev.AppointmentID
		apptID = &id
	}

	var out []Message
	for _, r := range ev.Recipients {
		for _, ch := range channelsFor(r) {
			out = append(out, Message{
				ID:            uuid.New(),
				Kind:          ev.Kind,
				AppointmentID: apptID,
				Channel:       ch,
				Recipient:     r,
				Data:          ev.Data,
				Status:        StatusPending,
				NextAttemptAt: now,
				CreatedAt:     now,
			})
		}
	}
	return out
}

func channelsFor(r Recipient) []Channel {
	chans := []Channel{ChannelRealtime}
	if r.Email != "" {
		chans = append(chans, ChannelEmail)
	}
	if r.PushToken != "" {
		chans = append(chans, ChannelPush)
	}
	return chans
}
