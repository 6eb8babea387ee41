package identity

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"

	"github.com/advisa/consult/internal/domain/scheduling"
	"github.com/advisa/consult/internal/platform/auth"
	"github.com/advisa/consult/pkg/apperror"
)

func testAdvisor() *User {
	return &User{
		Role:            RoleAdvisor,
		FirstName:       "Ana",
		LastName:        "Lee",
		Email:           "ana@example.com",
		ConsultationFee: decimal.RequireFromString("80"),
	}
}

func TestUser_DisplayName(t *testing.T) {
	a := testAdvisor()
	if a.DisplayName() != "Dr. Ana Lee" {
		t.Errorf("unexpected advisor name %q", a.DisplayName())
	}
	c := &User{Role: RoleClient, FirstName: "Bo", LastName: "Kim"}
	if c.DisplayName() != "Bo Kim" {
		t.Errorf("unexpected client name %q", c.DisplayName())
	}
}

func TestUser_Recipient(t *testing.T) {
	tok := "ExponentPushToken[abc]"
	u := &User{ID: uuid.New(), FirstName: "Bo", LastName: "Kim", Email: "bo@example.com", PushToken: &tok}
	r := u.Recipient()
	if r.UserID != u.ID || r.Email != u.Email || r.PushToken != tok || r.Name != "Bo Kim" {
		t.Errorf("unexpected recipient %+v", r)
	}
}

func TestAdvisor_RejectsClient(t *testing.T) {
	client := &User{Role: RoleClient, FirstName: "Bo"}
	svc := NewService(NewMemoryRepo(client))

	_, err := svc.Advisor(context.Background(), client.ID)
	if !apperror.HasCode(err, apperror.CodeAdvisorNotFound) {
		t.Errorf("expected advisor_not_found, got %v", err)
	}
	_, err = svc.Advisor(context.Background(), uuid.New())
	if !apperror.HasCode(err, apperror.CodeAdvisorNotFound) {
		t.Errorf("expected advisor_not_found for unknown id, got %v", err)
	}
}

func TestSetAvailability(t *testing.T) {
	adv := testAdvisor()
	repo := NewMemoryRepo(adv)
	svc := NewService(repo)

	var a scheduling.Availability
	raw := `[{"dayOfWeek":0,"isAvailable":true,"timeSlots":[{"startTime":"09:00","endTime":"12:00"}]},
		{"dayOfWeek":6,"isAvailable":false}]`
	if err := json.Unmarshal([]byte(raw), &a); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := svc.SetAvailability(context.Background(), adv.ID, a); err != nil {
		t.Fatalf("set availability: %v", err)
	}
	got, _ := repo.Lookup(context.Background(), adv.ID)
	if start, ok := got.Availability.WorkingDayStart(mustDate("2024-06-10")); !ok || start.String() != "09:00" {
		t.Errorf("expected Monday start 09:00, got %s %v", start, ok)
	}
}

func TestSetAvailability_Invalid(t *testing.T) {
	adv := testAdvisor()
	svc := NewService(NewMemoryRepo(adv))

	dup := scheduling.Availability{
		{Day: scheduling.Monday},
		{Day: scheduling.Monday},
	}
	if err := svc.SetAvailability(context.Background(), adv.ID, dup); !apperror.IsKind(err, apperror.KindValidation) {
		t.Errorf("expected validation error for duplicate day, got %v", err)
	}
	empty := scheduling.Availability{{Day: scheduling.Tuesday, Available: true}}
	if err := svc.SetAvailability(context.Background(), adv.ID, empty); !apperror.HasCode(err, apperror.CodeMissingField) {
		t.Errorf("expected missing_field, got %v", err)
	}
	if err := svc.SetAvailability(context.Background(), uuid.New(), nil); !apperror.HasCode(err, apperror.CodeAdvisorNotFound) {
		t.Errorf("expected advisor_not_found, got %v", err)
	}
}

func TestHandler_GetAdvisor(t *testing.T) {
	adv := testAdvisor()
	h := NewHandler(NewService(NewMemoryRepo(adv)))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.SetParamNames("id")
	c.SetParamValues(adv.ID.String())

	if err := h.GetAdvisor(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"name":"Dr. Ana Lee"`) || !strings.Contains(rec.Body.String(), `"consultationFee":"80.00"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestHandler_SetAvailability(t *testing.T) {
	adv := testAdvisor()
	repo := NewMemoryRepo(adv)
	h := NewHandler(NewService(repo))

	e := echo.New()
	body := `{"availability":[{"dayOfWeek":2,"isAvailable":true,"startTime":"10:00","endTime":"14:00"}]}`
	req := httptest.NewRequest(http.MethodPut, "/", strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(auth.WithCaller(req.Context(), auth.Caller{ID: adv.ID, Role: auth.RoleAdvisor}))
	rec := httptest.NewRecorder()

	if err := h.SetAvailability(e.NewContext(req, rec)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	got, _ := repo.Lookup(context.Background(), adv.ID)
	day, ok := got.Availability.Day(scheduling.Wednesday)
	if !ok {
		t.Fatal("expected Wednesday record")
	}
	if _, legacy := day.Hours.(scheduling.LegacyWindow); !legacy {
		t.Errorf("expected legacy window, got %T", day.Hours)
	}
}

func mustDate(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}
