package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	expo "github.com/oliveroneill/exponent-server-sdk-golang/sdk"
	"gopkg.in/gomail.v2"

	"github.com/advisa/consult/internal/platform/websocket"
)

// ErrPermanent marks a delivery failure that retrying cannot fix.
var ErrPermanent = errors.New("permanent delivery failure")

// Sender delivers a rendered message on one channel.
type Sender interface {
	Deliver(ctx context.Context, msg Message, subject, body string) error
}

// ---------------------------------------------------------------------------
// Email
// ---------------------------------------------------------------------------

// SMTPConfig configures SMTPSender.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// SMTPSender delivers email through an SMTP relay.
type SMTPSender struct {
	dialer *gomail.Dialer
	from   string
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		from:   cfg.From,
	}
}

func (s *SMTPSender) Deliver(_ context.Context, msg Message, subject, body string) error {
	if msg.Recipient.Email == "" {
		return fmt.Errorf("%w: recipient has no email", ErrPermanent)
	}
	return s.dialer.DialAndSend(buildEmail(s.from, msg.Recipient, subject, body))
}

func buildEmail(from string, to Recipient, subject, body string) *gomail.Message {
	m := gomail.NewMessage()
	m.SetHeader("From", from)
	if to.Name != "" {
		m.SetAddressHeader("To", to.Email, to.Name)
	} else {
		m.SetHeader("To", to.Email)
	}
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", body)
	return m
}

// ---------------------------------------------------------------------------
// Push
// ---------------------------------------------------------------------------

// ExpoSender delivers mobile push notifications through Expo.
type ExpoSender struct {
	client *expo.PushClient
}

// NewExpoSender builds a sender. cfg may be nil for the public endpoint.
func NewExpoSender(cfg *expo.ClientConfig) *ExpoSender {
	return &ExpoSender{client: expo.NewPushClient(cfg)}
}

func (s *ExpoSender) Deliver(_ context.Context, msg Message, subject, body string) error {
	token, err := expo.NewExponentPushToken(msg.Recipient.PushToken)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	data := map[string]string{"kind": string(msg.Kind)}
	if msg.AppointmentID != nil {
		data["appointmentId"] = msg.AppointmentID.String()
	}

	resp, err := s.client.Publish(&expo.PushMessage{
		To:       []expo.ExponentPushToken{token},
		Title:    subject,
		Body:     body,
		Sound:    "default",
		Priority: expo.DefaultPriority,
		Data:     data,
	})
	if err != nil {
		return fmt.Errorf("publish push: %w", err)
	}
	if err := resp.ValidateResponse(); err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Realtime
// ---------------------------------------------------------------------------

// RealtimeSender pushes the message to the recipient's websocket topic.
type RealtimeSender struct {
	publisher websocket.EventPublisher
}

func NewRealtimeSender(p websocket.EventPublisher) *RealtimeSender {
	return &RealtimeSender{publisher: p}
}

func (s *RealtimeSender) Deliver(ctx context.Context, msg Message, subject, body string) error {
	payload, err := json.Marshal(map[string]interface{}{
		"subject": subject,
		"body":    body,
		"data":    msg.Data,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}

	ev := websocket.Event{
		Type:      "notification." + string(msg.Kind),
		Topic:     websocket.UserTopic(msg.Recipient.UserID),
		Timestamp: msg.CreatedAt,
		Data:      payload,
	}
	if msg.AppointmentID != nil {
		ev.AppointmentID = msg.AppointmentID.String()
	}
	return s.publisher.Publish(ctx, ev)
}

// ---------------------------------------------------------------------------
// Test double
// ---------------------------------------------------------------------------

// Delivery records one call to MockSender.
type Delivery struct {
	Message Message
	Subject string
	Body    string
}

// MockSender records deliveries and fails on demand.
type MockSender struct {
	mu         sync.Mutex
	deliveries []Delivery
	// FailTimes makes the next N deliveries fail.
	FailTimes int
	FailErr   error
}

func (m *MockSender) Deliver(_ context.Context, msg Message, subject, body string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailTimes > 0 {
		m.FailTimes--
		if m.FailErr != nil {
			return m.FailErr
		}
		return errors.New("mock delivery failure")
	}
	m.deliveries = append(m.deliveries, Delivery{Message: msg, Subject: subject, Body: body})
	return nil
}

// Deliveries returns a copy of recorded deliveries.
func (m *MockSender) Deliveries() []Delivery {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Delivery, len(m.deliveries))
	copy(out, m.deliveries)
	return out
}
