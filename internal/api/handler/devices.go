package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/psptrack/psptrack/internal/api/middleware"
	"github.com/psptrack/psptrack/internal/api/models"
	"github.com/psptrack/psptrack/internal/api/response"
	"github.com/psptrack/psptrack/internal/device"
	"github.com/psptrack/psptrack/internal/tracking"
)

// Registry is the part of device.Registry the device endpoints need.
type Registry interface {
	ListForUser(ctx context.Context, username string) ([]string, error)
	Authorize(ctx context.Context, username, eui string) error
	Register(ctx context.Context, username, eui string) error
	Deregister(ctx context.Context, username, eui string) error
}

// Positions resolves the current position of a device.
type Positions interface {
	Position(ctx context.Context, eui string) (tracking.Result, error)
}

// DeviceHandler handles /api/devices.
type DeviceHandler struct {
	registry  Registry
	positions Positions
	logger    zerolog.Logger
}

// NewDeviceHandler creates a DeviceHandler.
func NewDeviceHandler(registry Registry, positions Positions, logger zerolog.Logger) *DeviceHandler {
	return &DeviceHandler{registry: registry, positions: positions, logger: logger}
}

// ListDevices handles GET /api/devices.
func (h *DeviceHandler) ListDevices(w http.ResponseWriter, r *http.Request) {
	euis, err := h.registry.ListForUser(r.Context(), sessionUser(r))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if euis == nil {
		euis = []string{}
	}
	response.JSON(w, r, http.StatusOK, models.DeviceList{Devices: euis})
}

// GetPosition handles GET /api/devices/{eui}.
func (h *DeviceHandler) GetPosition(w http.ResponseWriter, r *http.Request) {
	eui, err := device.NormalizeEUI(chi.URLParam(r, "eui"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if err := h.registry.Authorize(r.Context(), sessionUser(r), eui); err != nil {
		h.writeError(w, r, err)
		return
	}

	res, err := h.positions.Position(r.Context(), eui)
	if err != nil {
		if errors.Is(err, device.ErrNotFound) {
			// Owned by the user but no device record.
			err = fmt.Errorf("%w: %w", device.ErrInconsistentState, err)
		}
		h.writeError(w, r, err)
		return
	}

	if res.Cached {
		w.Header().Set("X-Position-Source", "cache")
	} else {
		w.Header().Set("X-Position-Source", "upstream")
	}
	response.JSON(w, r, http.StatusOK, models.NewPosition(res.Position))
}

// RegisterDevice handles POST /api/devices/{eui}.
func (h *DeviceHandler) RegisterDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Register(r.Context(), sessionUser(r), chi.URLParam(r, "eui")); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, r)
}

// DeregisterDevice handles DELETE /api/devices/{eui}.
func (h *DeviceHandler) DeregisterDevice(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Deregister(r.Context(), sessionUser(r), chi.URLParam(r, "eui")); err != nil {
		h.writeError(w, r, err)
		return
	}
	response.OK(w, r)
}

// writeError maps registry and tracking errors to responses. Input problems
// are 400, corrupted links are 556 and a failed position refresh is 503.
func (h *DeviceHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	log := h.logger.With().
		Str("request_id", middleware.GetRequestID(r.Context())).
		Str("username", sessionUser(r)).
		Str("eui", chi.URLParam(r, "eui")).
		Logger()

	switch {
	case errors.Is(err, device.ErrInconsistentState):
		log.Error().Err(err).Msg("registry is inconsistent")
		response.InconsistentState(w, r)
	case errors.Is(err, tracking.ErrSourceUnavailable):
		log.Warn().Err(err).Msg("position refresh failed")
		response.ServiceUnavailable(w, r, "Device position could not be retrieved")
	case errors.Is(err, device.ErrInvalidEUI):
		response.BadRequest(w, r, "EUI format invalid", nil)
	case errors.Is(err, device.ErrAlreadyRegistered):
		response.BadRequest(w, r, "Device already registered", nil)
	case errors.Is(err, device.ErrNotRegistered):
		response.BadRequest(w, r, "Device has not been registered", nil)
	case errors.Is(err, device.ErrVerificationFailed):
		log.Info().Err(err).Msg("device rejected by gateway")
		response.BadRequest(w, r, "Device could not be registered", nil)
	default:
		log.Error().Err(err).Msg("device request failed")
		response.InternalError(w, r, "device request failed")
	}
}
