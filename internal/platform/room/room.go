// Package room issues session tokens for the video consultation room.
package room

import (
	"context"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// MaxParticipants is the room size: one advisor and one client.
const MaxParticipants = 2

type Participant struct {
	ID        uuid.UUID
	Name      string
	Email     string
	Moderator bool
}

type Request struct {
	AppointmentID uuid.UUID
	Participant   Participant
	Allowed       []uuid.UUID
	// NotAfter caps the token lifetime, usually the appointment end.
	NotAfter time.Time
}

type Session struct {
	Token     string    `json:"token,omitempty"`
	Room      string    `json:"room"`
	Domain    string    `json:"domain"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type Config struct {
	AppID  string
	Secret string
	Domain string
	TTL    time.Duration
}

type userContext struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Moderator bool   `json:"moderator"`
}

type roomContext struct {
	User                userContext `json:"user"`
	MaxParticipants     int         `json:"maxParticipants"`
	AllowedParticipants []string    `json:"allowedParticipants"`
}

// Claims follows the Jitsi token layout.
type Claims struct {
	jwt.RegisteredClaims
	Room    string      `json:"room"`
	Context roomContext `json:"context"`
}

// Issuer signs HS256 room tokens. Without an AppID it hands out the room
// name only, which suits public Jitsi deployments.
type Issuer struct {
	cfg Config
	now func() time.Time
}

func NewIssuer(cfg Config, now func() time.Time) *Issuer {
	if now == nil {
		now = time.Now
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 2 * time.Hour
	}
	return &Issuer{cfg: cfg, now: now}
}

// RoomName is the stable room for an appointment.
func RoomName(appointmentID uuid.UUID) string {
	return "consult-" + appointmentID.String()
}

func (i *Issuer) Issue(_ context.Context, req Request) (*Session, error) {
	now := i.now().UTC()
	exp := now.Add(i.cfg.TTL)
	if !req.NotAfter.IsZero() && req.NotAfter.Before(exp) {
		exp = req.NotAfter
	}
	if !exp.After(now) {
		return nil, fmt.Errorf("room token for %s would already be expired", req.AppointmentID)
	}

	s := &Session{Room: RoomName(req.AppointmentID), Domain: i.cfg.Domain, ExpiresAt: exp}
	if i.cfg.AppID == "" {
		return s, nil
	}

	allowed := make([]string, len(req.Allowed))
	for n, id := range req.Allowed {
		allowed[n] = id.String()
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.cfg.AppID,
			Subject:   i.cfg.Domain,
			Audience:  jwt.ClaimStrings{"jitsi"},
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Room: s.Room,
		Context: roomContext{
			User: userContext{
				ID:        req.Participant.ID.String(),
				Name:      req.Participant.Name,
				Email:     req.Participant.Email,
				Moderator: req.Participant.Moderator,
			},
			MaxParticipants:     MaxParticipants,
			AllowedParticipants: allowed,
		},
	}
	tok, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(i.cfg.Secret))
	if err != nil {
		return nil, fmt.Errorf("sign room token: %w", err)
	}
	s.Token = tok
	return s, nil
}

// TokenIssuer issues room sessions.
type TokenIssuer interface {
	Issue(ctx context.Context, req Request) (*Session, error)
}
