// Package identity resolves the users an appointment refers to. Account
// management lives elsewhere; this package only reads profiles and lets an
// advisor maintain their weekly availability.
package identity

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/internal/platform/notification"
)

var ErrNotFound = errors.New("user not found")

// User maps to the users table.
type User struct {
	ID                uuid.UUID               `json:"id"`
	Role              string                  `json:"role"`
	FirstName         string                  `json:"firstName"`
	LastName          string                  `json:"lastName"`
	Email             string                  `json:"email,omitempty"`
	PushToken         *string                 `json:"-"`
	PreferredLanguage string                  `json:"preferredLanguage,omitempty"`
	ConsultationFee   decimal.Decimal         `json:"consultationFee"`
	Availability      scheduling.Availability `json:"availability,omitempty"`
	CreatedAt         time.Time               `json:"createdAt"`
	UpdatedAt         time.Time               `json:"updatedAt"`
}

func (u *User) FullName() string {
	return strings.TrimSpace(u.FirstName + " " + u.LastName)
}

// DisplayName is how the user is addressed to the other party. Advisors
// carry a "Dr." prefix.
func (u *User) DisplayName() string {
	if u.Role == RoleAdvisor {
		return "Dr. " + u.FullName()
	}
	return u.FullName()
}

// Recipient returns the notification address of the user.
func (u *User) Recipient() notification.Recipient {
	r := notification.Recipient{
		UserID:   u.ID,
		Name:     u.FullName(),
		Email:    u.Email,
		Language: u.PreferredLanguage,
	}
	if u.PushToken != nil {
		r.PushToken = *u.PushToken
	}
	return r
}

// Roles mirror auth roles so domain code does not import the auth package.
const (
	RoleClient  = "client"
	RoleAdvisor = "advisor"
	RoleAdmin   = "admin"
)
