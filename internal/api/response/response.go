// Package response writes JSON bodies and Problem errors with the request ID
// attached.
package response

import (
	"encoding/json"
	"net/http"

	"github.com/psptrack/psptrack/internal/api/middleware"
	"github.com/psptrack/psptrack/internal/api/models"
)

// JSON encodes data with the given status. A nil data writes no body.
func JSON(w http.ResponseWriter, r *http.Request, status int, data any) {
	write(w, r, status, "application/json")
	if data != nil {
		_ = json.NewEncoder(w).Encode(data)
	}
}

// OK writes {"status":"OK"}.
func OK(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, models.OK())
}

func Text(w http.ResponseWriter, r *http.Request, status int, body string) {
	write(w, r, status, "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(body))
}

// Error writes problem with the request path as its instance.
func Error(w http.ResponseWriter, r *http.Request, problem *models.Problem) {
	problem.WithInstance(r.URL.Path).Write(w)
}

// Status writes the Problem registered for status.
func Status(w http.ResponseWriter, r *http.Request, status int, detail string) {
	Error(w, r, models.ForStatus(status, requestID(r), detail))
}

func BadRequest(w http.ResponseWriter, r *http.Request, detail string, errors []models.FieldError) {
	Error(w, r, models.NewBadRequest(requestID(r), detail, errors))
}

func Unauthorized(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusUnauthorized, detail)
}

func NotFound(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusNotFound, detail)
}

func InternalError(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusInternalServerError, detail)
}

func ServiceUnavailable(w http.ResponseWriter, r *http.Request, detail string) {
	Status(w, r, http.StatusServiceUnavailable, detail)
}

// InconsistentState writes the 556 problem for a broken user/device link.
func InconsistentState(w http.ResponseWriter, r *http.Request) {
	Error(w, r, models.NewInconsistentState(requestID(r)))
}

func write(w http.ResponseWriter, r *http.Request, status int, contentType string) {
	if id := requestID(r); id != "" {
		w.Header().Set("X-Request-Id", id)
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
}

func requestID(r *http.Request) string {
	return middleware.GetRequestID(r.Context())
}
