package models_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psptrack/psptrack/internal/api/models"
	"github.com/psptrack/psptrack/internal/device"
)

func TestProblem_Builders(t *testing.T) {
	p := models.NewProblem(models.ProblemTypeValidation, "Validation error", http.StatusBadRequest, "req_test123").
		WithDetail("Username format invalid").
		WithInstance("/api/users/register").
		WithErrors([]models.FieldError{{Field: "username", Message: "Username format invalid"}})

	assert.Equal(t, "Username format invalid", p.Detail)
	assert.Equal(t, "/api/users/register", p.Instance)
	require.Len(t, p.Errors, 1)
	assert.Equal(t, "username", p.Errors[0].Field)
}

func TestProblem_Write(t *testing.T) {
	p := models.NewBadRequest("req_test123", "Email format invalid", []models.FieldError{
		{Field: "email", Message: "Email format invalid"},
	})
	p.Instance = "/api/users/register"

	w := httptest.NewRecorder()
	p.Write(w)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "application/problem+json", w.Header().Get("Content-Type"))
	assert.Equal(t, "req_test123", w.Header().Get("X-Request-Id"))

	var result models.Problem
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &result))
	assert.Equal(t, models.ProblemTypeValidation, result.Type)
	assert.Equal(t, "Email format invalid", result.Detail)
	assert.Equal(t, "/api/users/register", result.Instance)
	assert.Equal(t, "req_test123", result.TraceID)
	require.Len(t, result.Errors, 1)
}

func TestProblem_Constructors(t *testing.T) {
	tests := []struct {
		name    string
		problem *models.Problem
		typ     string
		title   string
		status  int
	}{
		{"unauthorized", models.NewUnauthorized("req_1", "d"), models.ProblemTypeUnauthorized, "Unauthorized", http.StatusUnauthorized},
		{"not found", models.NewNotFound("req_1", "d"), models.ProblemTypeNotFound, "Not found", http.StatusNotFound},
		{"unsupported", models.NewUnsupportedMediaType("req_1", "d"), models.ProblemTypeUnsupportedType, "Unsupported media type", http.StatusUnsupportedMediaType},
		{"too many", models.NewTooManyRequests("req_1", "d"), models.ProblemTypeTooManyRequests, "Too many requests", http.StatusTooManyRequests},
		{"internal", models.NewInternalError("req_1", "d"), models.ProblemTypeInternal, "Internal server error", http.StatusInternalServerError},
		{"unavailable", models.NewServiceUnavailable("req_1", "d"), models.ProblemTypeUnavailable, "Service unavailable", http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.problem.Type)
			assert.Equal(t, tt.title, tt.problem.Title)
			assert.Equal(t, tt.status, tt.problem.Status)
			assert.Equal(t, "d", tt.problem.Detail)
			assert.Equal(t, "req_1", tt.problem.TraceID)
		})
	}
}

func TestNewInconsistentState(t *testing.T) {
	p := models.NewInconsistentState("req_1")

	assert.Equal(t, 556, p.Status)
	assert.Equal(t, models.ProblemTypeInconsistent, p.Type)
	assert.Contains(t, p.Detail, "contact an administrator")

	w := httptest.NewRecorder()
	p.Write(w)
	assert.Equal(t, 556, w.Code)
}

func TestPosition_JSON(t *testing.T) {
	body, err := json.Marshal(models.NewPosition(device.Position{
		Latitude:  45.20415,
		Longitude: 5.6933013,
		Timestamp: time.UnixMilli(1_700_000_000_123),
	}))
	require.NoError(t, err)

	assert.JSONEq(t, `{"latitude":45.20415,"longitude":5.6933013,"timestamp":1700000000123}`, string(body))
}

func TestDeviceList_JSON(t *testing.T) {
	body, err := json.Marshal(models.DeviceList{Devices: []string{}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"devices":[]}`, string(body))

	body, err = json.Marshal(models.OK())
	require.NoError(t, err)
	assert.JSONEq(t, `{"status":"OK"}`, string(body))
}

func TestForStatus(t *testing.T) {
	p := models.ForStatus(http.StatusForbidden, "req_1", "https only")
	assert.Equal(t, models.ProblemTypeTLSRequired, p.Type)
	assert.Equal(t, "TLS required", p.Title)

	p = models.ForStatus(http.StatusTeapot, "req_1", "short and stout")
	assert.Equal(t, http.StatusTeapot, p.Status)
	assert.Equal(t, models.ProblemTypeInternal, p.Type)
	assert.Equal(t, "short and stout", p.Detail)
}
