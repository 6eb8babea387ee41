// Package appointment owns the consultation lifecycle: booking, advisor
// confirmation, the deadline sweep, the session room and the follow-up
// chain.
package appointment

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/advisa/consult/internal/domain/payment"
	"github.com/advisa/consult/internal/domain/scheduling"
)

type Status string

const (
	StatusPendingPayment             Status = "pending-payment"
	StatusPendingAdvisorConfirmation Status = "pending-advisor-confirmation"
	StatusScheduled                  Status = "scheduled"
	StatusCompleted                  Status = "completed"
	StatusCanceled                   Status = "canceled"
	StatusNoShow                     Status = "no-show"
)

// Type is the consultation medium.
type Type string

const (
	TypeVideo Type = "video"
	TypeAudio Type = "audio"
	TypeChat  Type = "chat"
)

func (t Type) Valid() bool {
	return t == TypeVideo || t == TypeAudio || t == TypeChat
}

// Participant room states.
const (
	ParticipantJoined = "joined"
	ParticipantLeft   = "left"
)

// Who cancelled an appointment.
const (
	ActorClient  = "client"
	ActorAdvisor = "advisor"
	ActorSystem  = "system"
)

var (
	ErrNotFound        = errors.New("appointment not found")
	ErrVersionConflict = errors.New("appointment was modified concurrently")
	// ErrSlotTaken is returned when storage rejects a second scheduled
	// appointment overlapping the same advisor interval.
	ErrSlotTaken = errors.New("advisor interval already booked")
)

// PaymentInfo is the payment summary embedded in an appointment.
type PaymentInfo struct {
	Amount    decimal.Decimal `json:"amount"`
	Status    payment.Status  `json:"status"`
	PaymentID *uuid.UUID      `json:"transactionId,omitempty"`
}

type Advice struct {
	Action       string    `json:"action"`
	Dosage       string    `json:"dosage"`
	Frequency    string    `json:"frequency"`
	Duration     string    `json:"duration"`
	Instructions string    `json:"instructions,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Complete reports whether the required advice fields are present.
func (a Advice) Complete() bool {
	return a.Action != "" && a.Dosage != "" && a.Frequency != "" && a.Duration != ""
}

type FollowUp struct {
	Recommended   bool       `json:"recommended"`
	Date          *time.Time `json:"date,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	AppointmentID *uuid.UUID `json:"appointmentId,omitempty"`
}

type Document struct {
	ID         uuid.UUID `json:"id"`
	Name       string    `json:"name"`
	FileURL    string    `json:"fileUrl"`
	FileType   string    `json:"fileType,omitempty"`
	UploadedBy string    `json:"uploadedBy"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type ChatMessage struct {
	Sender    string    `json:"sender"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// ParticipantStatus is the latest room event of one participant.
type ParticipantStatus struct {
	Status string    `json:"status"`
	At     time.Time `json:"at"`
}

// Appointment maps to the appointment table.
type Appointment struct {
	ID                         uuid.UUID                    `json:"id"`
	ClientID                   uuid.UUID                    `json:"clientId"`
	AdvisorID                  uuid.UUID                    `json:"advisorId"`
	DateTime                   time.Time                    `json:"dateTime"`
	EndTime                    time.Time                    `json:"endTime"`
	Duration                   int                          `json:"duration"`
	Status                     Status                       `json:"status"`
	Type                       Type                         `json:"type"`
	ShortDescription           string                       `json:"shortDescription"`
	Notes                      string                       `json:"notes,omitempty"`
	ConsultationSummary        string                       `json:"consultationSummary,omitempty"`
	CancellationReason         string                       `json:"cancellationReason,omitempty"`
	CanceledBy                 string                       `json:"canceledBy,omitempty"`
	ChatLog                    []ChatMessage                `json:"chatLog,omitempty"`
	Advices                    []Advice                     `json:"advices,omitempty"`
	FollowUp                   *FollowUp                    `json:"followUp,omitempty"`
	FollowUpOf                 *uuid.UUID                   `json:"followUpOf,omitempty"`
	Payment                    PaymentInfo                  `json:"payment"`
	Documents                  []Document                   `json:"documents,omitempty"`
	ParticipantStatus          map[string]ParticipantStatus `json:"participantStatus,omitempty"`
	AdvisorConfirmationExpires *time.Time                   `json:"advisorConfirmationExpires,omitempty"`
	VersionID                  int                          `json:"versionId"`
	CreatedAt                  time.Time                    `json:"createdAt"`
	UpdatedAt                  time.Time                    `json:"updatedAt"`
}

func (a *Appointment) Interval() scheduling.Interval {
	return scheduling.Interval{Start: a.DateTime, End: a.EndTime}
}

func (a *Appointment) IsParticipant(id uuid.UUID) bool {
	return a.ClientID == id || a.AdvisorID == id
}

// ConfirmationExpired reports whether the advisor confirmation deadline
// lies strictly before now.
func (a *Appointment) ConfirmationExpired(now time.Time) bool {
	return a.AdvisorConfirmationExpires != nil && a.AdvisorConfirmationExpires.Before(now)
}

// Clone returns a deep copy. Transitions work on clones so a loaded value
// is never changed in place.
func (a *Appointment) Clone() *Appointment {
	cp := *a
	cp.ChatLog = append([]ChatMessage(nil), a.ChatLog...)
	cp.Advices = append([]Advice(nil), a.Advices...)
	cp.Documents = append([]Document(nil), a.Documents...)
	if a.FollowUp != nil {
		fu := *a.FollowUp
		cp.FollowUp = &fu
	}
	if a.ParticipantStatus != nil {
		cp.ParticipantStatus = make(map[string]ParticipantStatus, len(a.ParticipantStatus))
		for k, v := range a.ParticipantStatus {
			cp.ParticipantStatus[k] = v
		}
	}
	if a.AdvisorConfirmationExpires != nil {
		d := *a.AdvisorConfirmationExpires
		cp.AdvisorConfirmationExpires = &d
	}
	return &cp
}
