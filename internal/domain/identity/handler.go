package identity

import (
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	api.GET("/advisors", h.ListAdvisors)
	api.GET("/advisors/:id", h.GetAdvisor)
	api.PUT("/advisors/me/availability", h.SetAvailability, auth.RequireRole(auth.RoleAdvisor))
}

// advisorProfile is the public view of an advisor.
type advisorProfile struct {
	ID              uuid.UUID               `json:"id"`
	Name            string                  `json:"name"`
	ConsultationFee string                  `json:"consultationFee"`
	Availability    scheduling.Availability `json:"availability"`
}

func profileOf(u *User) advisorProfile {
	return advisorProfile{
		ID:              u.ID,
		Name:            u.DisplayName(),
		ConsultationFee: u.ConsultationFee.StringFixed(2),
		Availability:    u.Availability,
	}
}

func (h *Handler) ListAdvisors(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListAdvisors(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return err
	}
	out := make([]advisorProfile, len(items))
	for i, u := range items {
		out[i] = profileOf(u)
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(out, total, pg.Limit, pg.Offset))
}

func (h *Handler) GetAdvisor(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	u, err := h.svc.Advisor(c.Request().Context(), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, profileOf(u))
}

func (h *Handler) SetAvailability(c echo.Context) error {
	caller, _ := auth.CallerFromContext(c.Request().Context())
	var body struct {
		Availability scheduling.Availability `json:"availability"`
	}
	if err := c.Bind(&body); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if err := h.svc.SetAvailability(c.Request().Context(), caller.ID, body.Availability); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}
