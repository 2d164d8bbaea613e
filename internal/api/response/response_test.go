package response_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/psptrack/psptrack/internal/api/middleware"
	"github.com/psptrack/psptrack/internal/api/models"
	"github.com/psptrack/psptrack/internal/api/response"
)

// serve runs write behind the RequestID middleware and returns the recording.
func serve(path, clientID string, write http.HandlerFunc) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, http.NoBody)
	if clientID != "" {
		req.Header.Set("X-Request-Id", clientID)
	}
	rec := httptest.NewRecorder()
	middleware.RequestID(write).ServeHTTP(rec, req)
	return rec
}

func TestJSON(t *testing.T) {
	rec := serve("/api/devices", "", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, models.DeviceList{Devices: []string{"0004a30b001c42ef"}})
	})

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	assert.JSONEq(t, `{"devices":["0004a30b001c42ef"]}`, rec.Body.String())
}

func TestJSON_NoRequestIDOutsideMiddleware(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	rec := httptest.NewRecorder()

	response.JSON(rec, req, http.StatusCreated, nil)

	assert.Equal(t, http.StatusCreated, rec.Code)
	assert.Empty(t, rec.Header().Get("X-Request-Id"))
	assert.Zero(t, rec.Body.Len())
}

func TestOKAndText(t *testing.T) {
	rec := serve("/api/users/register", "client-1", response.OK)
	assert.Equal(t, "{\"status\":\"OK\"}\n", rec.Body.String())
	assert.Equal(t, "client-1", rec.Header().Get("X-Request-Id"))

	rec = serve("/", "", func(w http.ResponseWriter, r *http.Request) {
		response.Text(w, r, http.StatusOK, "hello")
	})
	assert.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Equal(t, "hello", rec.Body.String())
}

func TestProblems(t *testing.T) {
	tests := []struct {
		name   string
		write  http.HandlerFunc
		status int
		typ    string
	}{
		{"bad request", func(w http.ResponseWriter, r *http.Request) {
			response.BadRequest(w, r, "EUI format invalid", nil)
		}, http.StatusBadRequest, models.ProblemTypeValidation},
		{"unauthorized", func(w http.ResponseWriter, r *http.Request) {
			response.Unauthorized(w, r, "Authentication required")
		}, http.StatusUnauthorized, models.ProblemTypeUnauthorized},
		{"not found", func(w http.ResponseWriter, r *http.Request) {
			response.NotFound(w, r, "Page not found")
		}, http.StatusNotFound, models.ProblemTypeNotFound},
		{"internal", func(w http.ResponseWriter, r *http.Request) {
			response.InternalError(w, r, "boom")
		}, http.StatusInternalServerError, models.ProblemTypeInternal},
		{"unavailable", func(w http.ResponseWriter, r *http.Request) {
			response.ServiceUnavailable(w, r, "Device position could not be retrieved")
		}, http.StatusServiceUnavailable, models.ProblemTypeUnavailable},
		{"too many", func(w http.ResponseWriter, r *http.Request) {
			response.Status(w, r, http.StatusTooManyRequests, "slow down")
		}, http.StatusTooManyRequests, models.ProblemTypeTooManyRequests},
		{"inconsistent", response.InconsistentState, models.StatusInconsistentState, models.ProblemTypeInconsistent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve("/api/devices/0004a30b001c42ef", "req-42", tt.write)

			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))

			var problem models.Problem
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
			assert.Equal(t, tt.status, problem.Status)
			assert.Equal(t, tt.typ, problem.Type)
			assert.Equal(t, "req-42", problem.TraceID)
			assert.Equal(t, "/api/devices/0004a30b001c42ef", problem.Instance)
		})
	}
}
