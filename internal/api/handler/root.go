package handler

import (
	"net/http"

	"github.com/psptrack/psptrack/internal/api/response"
)

// Endpoint describes one route for the /api index.
type Endpoint struct {
	Method string `json:"method"`
	Path   string `json:"path"`
}

// apiIndex is the body of GET /api.
type apiIndex struct {
	Message string     `json:"message"`
	Methods []Endpoint `json:"methods"`
}

// RootHandler serves the welcome and index pages.
type RootHandler struct {
	endpoints []Endpoint
}

// NewRootHandler creates a RootHandler listing endpoints on /api.
func NewRootHandler(endpoints []Endpoint) *RootHandler {
	return &RootHandler{endpoints: endpoints}
}

// SetEndpoints replaces the /api listing. It must be called before serving.
func (h *RootHandler) SetEndpoints(endpoints []Endpoint) {
	h.endpoints = endpoints
}

// Welcome handles GET /.
func (h *RootHandler) Welcome(w http.ResponseWriter, r *http.Request) {
	response.Text(w, r, http.StatusOK, "Hello World! Go to /api to use the api")
}

// Index handles GET /api.
func (h *RootHandler) Index(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, apiIndex{
		Message: "The API is up and running!",
		Methods: h.endpoints,
	})
}

// NotFound is the fallback for unknown routes.
func (h *RootHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	response.NotFound(w, r, "Page not found")
}
