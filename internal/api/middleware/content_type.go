package middleware

import (
	"mime"
	"net/http"

	"github.com/psptrack/psptrack/internal/api/models"
)

// bodyTypes are the request media types the API parses.
var bodyTypes = map[string]bool{
	"application/json":                  true,
	"application/x-www-form-urlencoded": true,
}

// ContentTypeJSON defaults the response Content-Type to application/json.
// Handlers that set their own type keep it.
func ContentTypeJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if w.Header().Get("Content-Type") == "" {
			w.Header().Set("Content-Type", "application/json")
		}
		next.ServeHTTP(w, r)
	})
}

// RequireFormOrJSON answers 415 to POST, PUT and PATCH bodies that are
// neither JSON nor a URL encoded form. A missing Content-Type passes.
func RequireFormOrJSON(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hasBody(r.Method) && !acceptedBody(r.Header.Get("Content-Type")) {
			models.NewUnsupportedMediaType(GetRequestID(r.Context()),
				"Content-Type must be application/json or application/x-www-form-urlencoded").
				WithInstance(r.URL.Path).
				Write(w)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}

func acceptedBody(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	return err == nil && bodyTypes[mediaType]
}
