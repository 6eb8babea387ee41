package appointment

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/internal/platform/websocket"
	"github.com/advisa/consult/pkg/apperror"
	"github.com/advisa/consult/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	client := auth.RequireRole(auth.RoleClient)
	advisor := auth.RequireRole(auth.RoleAdvisor)

	api.GET("/advisors/:id/availability", h.GetAdvisorAvailability)

	api.POST("/appointments", h.Create, client)
	api.GET("/appointments", h.ListAppointments)
	api.GET("/appointments/calendar", h.GetCalendar)
	api.GET("/appointments/calendar.ics", h.ExportCalendar)
	api.GET("/appointments/pending-confirmations", h.GetPendingConfirmations, advisor)
	api.GET("/appointments/pending-follow-ups", h.GetPendingFollowUps, client)
	api.GET("/appointments/:id", h.GetAppointment)
	api.POST("/appointments/:id/confirm", h.Confirm, advisor)
	api.PATCH("/appointments/:id/status", h.UpdateStatus)
	api.POST("/appointments/:id/payment", h.CompletePayment)
	api.POST("/appointments/:id/follow-up", h.ScheduleFollowUp, advisor)
	api.PUT("/appointments/:id/results", h.UpdateResults, advisor)
	api.POST("/appointments/:id/advices", h.AddAdvices, advisor)
	api.GET("/appointments/:id/documents", h.GetDocuments)
	api.POST("/appointments/:id/documents", h.UploadDocument)
	api.GET("/appointments/:id/consultation", h.GetConsultationStatus)
	api.POST("/appointments/:id/join", h.Join)
	api.POST("/appointments/:id/room-exit", h.RoomExit)
	api.POST("/appointments/:id/end", h.EndConsultation, advisor)
	api.POST("/appointments/:id/chat", h.SaveChatLog)

	api.POST("/admin/sweep", h.Sweep, auth.RequireRole(auth.RoleAdmin))
}

func caller(c echo.Context) auth.Caller {
	cl, _ := auth.CallerFromContext(c.Request().Context())
	return cl
}

func pathID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return id, nil
}

func bind(c echo.Context, v interface{}) error {
	if err := c.Bind(v); err != nil {
		return apperror.Validation(apperror.CodeMissingField, "request body is not valid JSON")
	}
	return nil
}

// parseDay accepts YYYY-MM-DD or RFC 3339. An empty value yields the zero
// time.
func parseDay(name, raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse("2006-01-02", raw); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, apperror.Validation(apperror.CodeInvalidDate, name+" must be YYYY-MM-DD or RFC 3339").
			WithDetail(name, raw)
	}
	return t, nil
}

func (h *Handler) GetAdvisorAvailability(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	if c.QueryParam("date") == "" {
		return apperror.Validation(apperror.CodeMissingField, "date is required")
	}
	date, err := parseDay("date", c.QueryParam("date"))
	if err != nil {
		return err
	}
	view, err := h.svc.GetAdvisorAvailability(c.Request().Context(), id, date)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, view)
}

func (h *Handler) Create(c echo.Context) error {
	var in CreateInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.CreateAppointment(c.Request().Context(), caller(c), in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) ListAppointments(c echo.Context) error {
	pg := pagination.FromContext(c)
	f := ListFilter{Limit: pg.Limit, Offset: pg.Offset}
	if raw := c.QueryParam("status"); raw != "" {
		for _, st := range strings.Split(raw, ",") {
			f.Statuses = append(f.Statuses, Status(strings.TrimSpace(st)))
		}
	}
	items, total, err := h.svc.ListAppointments(c.Request().Context(), caller(c), f)
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
}

func (h *Handler) calendarRange(c echo.Context) (time.Time, time.Time, error) {
	from, err := parseDay("start", c.QueryParam("start"))
	if err != nil {
		return from, from, err
	}
	to, err := parseDay("end", c.QueryParam("end"))
	return from, to, err
}

func (h *Handler) GetCalendar(c echo.Context) error {
	from, to, err := h.calendarRange(c)
	if err != nil {
		return err
	}
	events, err := h.svc.GetCalendarAppointments(c.Request().Context(), caller(c), from, to)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, events)
}

func (h *Handler) ExportCalendar(c echo.Context) error {
	from, to, err := h.calendarRange(c)
	if err != nil {
		return err
	}
	doc, err := h.svc.ExportCalendar(c.Request().Context(), caller(c), from, to)
	if err != nil {
		return err
	}
	c.Response().Header().Set(echo.HeaderContentDisposition, `attachment; filename="consultations.ics"`)
	return c.Blob(http.StatusOK, "text/calendar; charset=utf-8", []byte(doc))
}

func (h *Handler) GetAppointment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	a, err := h.svc.GetAppointment(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, a)
}

func (h *Handler) Confirm(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.ConfirmAppointment(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) UpdateStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in StatusInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.UpdateAppointmentStatus(c.Request().Context(), caller(c), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) CompletePayment(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		TransactionID string `json:"transactionId"`
	}
	if err := bind(c, &body); err != nil {
		return err
	}
	res, err := h.svc.CompletePayment(c.Request().Context(), caller(c), id, body.TransactionID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) ScheduleFollowUp(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in FollowUpInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.ScheduleFollowUp(c.Request().Context(), caller(c), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) UpdateResults(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in ResultsInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.UpdateConsultationResults(c.Request().Context(), caller(c), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) AddAdvices(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Advices []Advice `json:"advices"`
	}
	if err := bind(c, &body); err != nil {
		return err
	}
	res, err := h.svc.AddAdvices(c.Request().Context(), caller(c), id, body.Advices)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) GetPendingConfirmations(c echo.Context) error {
	items, err := h.svc.GetPendingConfirmations(c.Request().Context(), caller(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) GetPendingFollowUps(c echo.Context) error {
	items, err := h.svc.GetPendingFollowUps(c.Request().Context(), caller(c))
	if err != nil {
		return err
	}
	if items == nil {
		items = []*Appointment{}
	}
	return c.JSON(http.StatusOK, items)
}

func (h *Handler) UploadDocument(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var in DocumentInput
	if err := bind(c, &in); err != nil {
		return err
	}
	res, err := h.svc.UploadDocument(c.Request().Context(), caller(c), id, in)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, res)
}

func (h *Handler) GetDocuments(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	docs, err := h.svc.GetDocuments(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, docs)
}

func (h *Handler) GetConsultationStatus(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	st, err := h.svc.GetConsultationStatus(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, st)
}

func (h *Handler) Join(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	res, err := h.svc.JoinConsultation(c.Request().Context(), caller(c), id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) RoomExit(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Status string `json:"status"`
	}
	if c.Request().ContentLength != 0 {
		if err := bind(c, &body); err != nil {
			return err
		}
	}
	res, err := h.svc.HandleRoomExit(c.Request().Context(), caller(c), id, body.Status)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) EndConsultation(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Summary string        `json:"consultationSummary"`
		ChatLog []ChatMessage `json:"chatLog"`
	}
	if err := bind(c, &body); err != nil {
		return err
	}
	res, err := h.svc.EndConsultation(c.Request().Context(), caller(c), id, body.Summary, body.ChatLog)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) SaveChatLog(c echo.Context) error {
	id, err := pathID(c)
	if err != nil {
		return err
	}
	var body struct {
		Messages []ChatMessage `json:"messages"`
	}
	if err := bind(c, &body); err != nil {
		return err
	}
	res, err := h.svc.SaveChatLog(c.Request().Context(), caller(c), id, body.Messages)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) Sweep(c echo.Context) error {
	report, err := h.svc.CleanupExpiredAppointments(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, report)
}

// TopicAuthorizer allows a user's own topic and the topics of
// appointments they take part in. Admins may watch any appointment.
func TopicAuthorizer(svc *Service) websocket.TopicAuthorizer {
	return func(ctx context.Context, caller auth.Caller, topic string) bool {
		if topic == websocket.UserTopic(caller.ID) {
			return true
		}
		raw, ok := strings.CutPrefix(topic, "appointment/")
		if !ok {
			return false
		}
		id, err := uuid.Parse(raw)
		if err != nil {
			return false
		}
		_, err = svc.GetAppointment(ctx, caller, id)
		return err == nil
	}
}
