package appointment

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/internal/platform/notification"
	"github.com/advisa/consult/internal/platform/room"
	"github.com/advisa/consult/internal/platform/websocket"
	"github.com/advisa/consult/pkg/apperror"
)

// JoinResult is what a participant needs to enter the room.
type JoinResult struct {
	Token     string    `json:"token,omitempty"`
	Room      string    `json:"room"`
	Domain    string    `json:"domain"`
	StartsAt  time.Time `json:"startsAt"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// JoinConsultation issues a room session for a participant of a scheduled
// consultation inside its join window.
func (s *Service) JoinConsultation(ctx context.Context, caller auth.Caller, id uuid.UUID) (res *JoinResult, err error) {
	defer s.observe(&err)

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(caller, a, false); err != nil {
		return nil, err
	}
	if err := JoinCheck(a, s.clock()); err != nil {
		return nil, err
	}

	p, err := s.parties(ctx, a)
	if err != nil {
		return nil, err
	}
	me := p.client
	if caller.ID == a.AdvisorID {
		me = p.advisor
	}
	session, err := s.rooms.Issue(ctx, room.Request{
		AppointmentID: a.ID,
		Participant: room.Participant{
			ID:        me.ID,
			Name:      me.DisplayName(),
			Email:     me.Email,
			Moderator: caller.ID == a.AdvisorID,
		},
		Allowed:  []uuid.UUID{a.AdvisorID, a.ClientID},
		NotAfter: a.EndTime,
	})
	if err != nil {
		return nil, fmt.Errorf("issue room session: %w", err)
	}

	if _, _, err := s.recordParticipant(ctx, caller, id, ParticipantJoined); err != nil {
		return nil, err
	}
	return &JoinResult{
		Token:     session.Token,
		Room:      session.Room,
		Domain:    session.Domain,
		StartsAt:  a.DateTime,
		ExpiresAt: session.ExpiresAt,
	}, nil
}

// RoomExitResult reports the room state after a participant event.
type RoomExitResult struct {
	BothLeft      bool   `json:"bothLeft"`
	Status        Status `json:"appointmentStatus"`
	AutoCompleted bool   `json:"autoCompleted"`
}

// HandleRoomExit records a participant's room status. When both parties
// have left at least ten minutes after start the consultation completes.
// Calls on appointments that are not scheduled change nothing.
func (s *Service) HandleRoomExit(ctx context.Context, caller auth.Caller, id uuid.UUID, status string) (res *RoomExitResult, err error) {
	defer s.observe(&err)

	if status == "" {
		status = ParticipantLeft
	}
	if status != ParticipantLeft && status != ParticipantJoined {
		return nil, apperror.Validation(apperror.CodeInvalidStatus, "participant status must be joined or left")
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(caller, a, false); err != nil {
		return nil, err
	}

	next, completed, err := s.recordParticipant(ctx, caller, id, status)
	if err != nil {
		return nil, err
	}
	res = &RoomExitResult{
		BothLeft: next.ParticipantStatus[next.AdvisorID.String()].Status == ParticipantLeft &&
			next.ParticipantStatus[next.ClientID.String()].Status == ParticipantLeft,
		Status:        next.Status,
		AutoCompleted: completed,
	}
	if res.AutoCompleted {
		s.metrics.RoomAutoCompleted.Inc()
	}
	return res, nil
}

// recordParticipant stores a room event. completed is true only for the
// call whose write moved the appointment to completed.
func (s *Service) recordParticipant(ctx context.Context, caller auth.Caller, id uuid.UUID, status string) (next *Appointment, completed bool, err error) {
	next, err = s.mutate(ctx, id, func(cur *Appointment) (*Appointment, []notification.Event, error) {
		completed = false
		if cur.Status != StatusScheduled {
			return nil, nil, nil
		}
		now := s.clock()
		next := cur.Clone()
		if next.ParticipantStatus == nil {
			next.ParticipantStatus = make(map[string]ParticipantStatus, 2)
		}
		next.ParticipantStatus[caller.ID.String()] = ParticipantStatus{Status: status, At: now}
		next.UpdatedAt = now

		if !ShouldAutoComplete(next, now) {
			return next, nil, nil
		}
		ch := Change{}
		if next.ConsultationSummary == "" {
			ch.Summary = AutoCompleteSummary
		}
		done, err := Transition(next, StatusCompleted, now, ch)
		if err != nil {
			return nil, nil, err
		}
		p, err := s.parties(ctx, done)
		if err != nil {
			return nil, nil, err
		}
		completed = true
		return done, p.toBoth(notification.KindCompletion, done, nil), nil
	})
	if err != nil {
		return nil, false, err
	}
	s.publishRoom(ctx, next, caller.ID, status)
	return next, completed, nil
}

// publishRoom tells subscribers of the appointment topic about a room
// event. Delivery is best effort.
func (s *Service) publishRoom(ctx context.Context, a *Appointment, userID uuid.UUID, status string) {
	if s.events == nil {
		return
	}
	data, _ := json.Marshal(map[string]string{
		"userId":            userID.String(),
		"participantStatus": status,
		"appointmentStatus": string(a.Status),
	})
	err := s.events.Publish(ctx, websocket.Event{
		Type:          "room.participant",
		Topic:         websocket.AppointmentTopic(a.ID),
		AppointmentID: a.ID.String(),
		Timestamp:     s.clock(),
		Data:          data,
	})
	if err != nil {
		s.logger.Warn().Err(err).Str("appointment_id", a.ID.String()).Msg("room event not published")
	}
}

// EndConsultation lets the advisor close a scheduled session.
func (s *Service) EndConsultation(ctx context.Context, caller auth.Caller, id uuid.UUID, summary string, chatLog []ChatMessage) (res *Result, err error) {
	defer s.observe(&err)

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireAdvisor(caller, a); err != nil {
		return nil, err
	}
	next, err := s.mutate(ctx, id, func(cur *Appointment) (*Appointment, []notification.Event, error) {
		now := s.clock()
		done, err := Transition(cur, StatusCompleted, now, Change{Summary: summary})
		if err != nil {
			return nil, nil, err
		}
		done.ChatLog = append(done.ChatLog, stampMessages(chatLog, now)...)
		p, err := s.parties(ctx, done)
		if err != nil {
			return nil, nil, err
		}
		return done, p.toBoth(notification.KindCompletion, done, nil), nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Appointment: next}, nil
}

// SaveChatLog appends messages to the consultation transcript.
func (s *Service) SaveChatLog(ctx context.Context, caller auth.Caller, id uuid.UUID, msgs []ChatMessage) (res *Result, err error) {
	defer s.observe(&err)

	if len(msgs) == 0 {
		return nil, apperror.Validation(apperror.CodeMissingField, "messages are required")
	}
	for i, m := range msgs {
		if m.Sender == "" || m.Text == "" {
			return nil, apperror.Validation(apperror.CodeMissingField, "message requires sender and text").
				WithDetail("index", i)
		}
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(caller, a, false); err != nil {
		return nil, err
	}
	next, err := s.mutate(ctx, id, func(cur *Appointment) (*Appointment, []notification.Event, error) {
		if cur.Status != StatusScheduled && cur.Status != StatusCompleted {
			return nil, nil, apperror.Validation(apperror.CodeInvalidStatus,
				"chat can only be saved for scheduled or completed consultations")
		}
		now := s.clock()
		next := cur.Clone()
		next.ChatLog = append(next.ChatLog, stampMessages(msgs, now)...)
		next.UpdatedAt = now
		return next, nil, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Appointment: next}, nil
}

func stampMessages(msgs []ChatMessage, now time.Time) []ChatMessage {
	out := make([]ChatMessage, len(msgs))
	for i, m := range msgs {
		if m.Timestamp.IsZero() {
			m.Timestamp = now
		}
		out[i] = m
	}
	return out
}

// DocumentInput describes an already uploaded file.
type DocumentInput struct {
	Name     string `json:"name"`
	FileURL  string `json:"fileUrl"`
	FileType string `json:"fileType,omitempty"`
}

// UploadDocument attaches document metadata and tells the other party.
func (s *Service) UploadDocument(ctx context.Context, caller auth.Caller, id uuid.UUID, in DocumentInput) (res *Result, err error) {
	defer s.observe(&err)

	if in.Name == "" || in.FileURL == "" {
		return nil, apperror.Validation(apperror.CodeMissingField, "name and fileUrl are required")
	}
	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(caller, a, false); err != nil {
		return nil, err
	}
	next, err := s.mutate(ctx, id, func(cur *Appointment) (*Appointment, []notification.Event, error) {
		now := s.clock()
		next := cur.Clone()
		by := actorOf(caller, cur)
		next.Documents = append(next.Documents, Document{
			ID:         uuid.New(),
			Name:       in.Name,
			FileURL:    in.FileURL,
			FileType:   in.FileType,
			UploadedBy: by,
			UploadedAt: now,
		})
		next.UpdatedAt = now

		p, err := s.parties(ctx, next)
		if err != nil {
			return nil, nil, err
		}
		extra := map[string]string{"document": in.Name}
		ev := p.toAdvisor(notification.KindDocumentUploaded, next, extra)
		if by == ActorAdvisor {
			ev = p.toClient(notification.KindDocumentUploaded, next, extra)
		}
		return next, []notification.Event{ev}, nil
	})
	if err != nil {
		return nil, err
	}
	return &Result{Appointment: next}, nil
}

// GetDocuments lists the documents of an appointment.
func (s *Service) GetDocuments(ctx context.Context, caller auth.Caller, id uuid.UUID) (docs []Document, err error) {
	defer s.observe(&err)

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(caller, a, true); err != nil {
		return nil, err
	}
	if a.Documents == nil {
		return []Document{}, nil
	}
	return a.Documents, nil
}

// ConsultationStatus is the pre-join view of a session.
type ConsultationStatus struct {
	Status          Status                       `json:"status"`
	CanJoin         bool                         `json:"canJoin"`
	StartsInMinutes int                          `json:"startsInMinutes"`
	Reason          string                       `json:"reason,omitempty"`
	Participants    map[string]ParticipantStatus `json:"participants"`
}

// GetConsultationStatus reports whether the caller could join now.
func (s *Service) GetConsultationStatus(ctx context.Context, caller auth.Caller, id uuid.UUID) (st *ConsultationStatus, err error) {
	defer s.observe(&err)

	a, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := requireParticipant(caller, a, true); err != nil {
		return nil, err
	}
	now := s.clock()
	st = &ConsultationStatus{
		Status:          a.Status,
		StartsInMinutes: int(a.DateTime.Sub(now) / time.Minute),
		Participants:    a.ParticipantStatus,
	}
	if st.Participants == nil {
		st.Participants = map[string]ParticipantStatus{}
	}
	if jerr := JoinCheck(a, now); jerr != nil {
		if e, ok := apperror.As(jerr); ok {
			st.Reason = e.Code
		}
	} else {
		st.CanJoin = true
	}
	return st, nil
}
