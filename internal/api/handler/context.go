// Package handler provides the HTTP handlers of the psptrack API.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"

	"github.com/psptrack/psptrack/internal/api/middleware"
)

// maxFormBytes bounds request bodies of the user endpoints.
const maxFormBytes = 64 << 10

var errBadBody = errors.New("request body could not be parsed")

// sessionUser returns the username stored by the Auth middleware.
func sessionUser(r *http.Request) string {
	return middleware.GetUsername(r.Context())
}

// readFields reads the named string fields from a JSON object or a URL
// encoded form. Missing fields are returned as "".
func readFields(w http.ResponseWriter, r *http.Request, names ...string) (map[string]string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	out := make(map[string]string, len(names))
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	if mediaType == "application/json" {
		raw := make(map[string]any)
		if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
			return nil, fmt.Errorf("%w: %w", errBadBody, err)
		}
		for _, name := range names {
			switch v := raw[name].(type) {
			case nil:
				out[name] = ""
			case string:
				out[name] = v
			default:
				return nil, fmt.Errorf("%w: %s must be a string", errBadBody, name)
			}
		}
		return out, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, fmt.Errorf("%w: %w", errBadBody, err)
	}
	for _, name := range names {
		out[name] = r.PostForm.Get(name)
	}
	return out, nil
}
