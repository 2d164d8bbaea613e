package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/psptrack/psptrack/internal/api/models"
	"github.com/psptrack/psptrack/internal/api/response"
	"github.com/psptrack/psptrack/internal/upstream"
)

// checkTimeout bounds each readiness check.
const checkTimeout = 2 * time.Second

// Check is a named readiness probe, such as a database ping.
type Check struct {
	Name  string
	Check func(ctx context.Context) error
}

// OpsConfig configures the operational endpoints.
type OpsConfig struct {
	Version   string
	BuildTime string
	Checks    []Check

	// Upstreams is optional. When set its clients are listed by Status.
	Upstreams *upstream.Registry

	Now func() time.Time
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /api/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(h.cfg.Now()),
		Details: map[string]string{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	})
}

// ReadinessCheck handles GET /api/ops/ready. It fails with 503 when any
// check fails.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	subsystems, ok := h.runChecks(r.Context())

	health := models.Health{Status: models.HealthStatusOK, Time: models.Timestamp(h.cfg.Now())}
	status := http.StatusOK
	if !ok {
		health.Status = models.HealthStatusFail
		status = http.StatusServiceUnavailable
		health.Details = make(map[string]string)
		for _, s := range subsystems {
			if s.Detail != nil {
				health.Details[s.Name] = *s.Detail
			}
		}
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /api/ops/status - subsystem and upstream status.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	subsystems, ok := h.runChecks(r.Context())

	status := models.SystemStatus{
		Status:     models.HealthStatusOK,
		Time:       models.Timestamp(h.cfg.Now()),
		Subsystems: subsystems,
		Providers:  []models.ProviderStatus{},
	}
	if h.cfg.Upstreams != nil {
		for _, up := range h.cfg.Upstreams.All() {
			p := providerStatus(up)
			if p.Status != models.HealthStatusOK && status.Status == models.HealthStatusOK {
				status.Status = models.HealthStatusDegraded
			}
			status.Providers = append(status.Providers, p)
		}
	}
	if !ok {
		status.Status = models.HealthStatusFail
	}

	response.JSON(w, r, http.StatusOK, status)
}

func (h *OpsHandler) runChecks(ctx context.Context) ([]models.SubsystemStatus, bool) {
	out := make([]models.SubsystemStatus, 0, len(h.cfg.Checks))
	ok := true
	for _, c := range h.cfg.Checks {
		checkCtx, cancel := context.WithTimeout(ctx, checkTimeout)
		err := c.Check(checkCtx)
		cancel()

		s := models.SubsystemStatus{Name: c.Name, Status: models.HealthStatusOK}
		if err != nil {
			ok = false
			detail := err.Error()
			s.Status = models.HealthStatusFail
			s.Detail = &detail
		}
		out = append(out, s)
	}
	return out, ok
}

func providerStatus(h *upstream.Health) models.ProviderStatus {
	p := models.ProviderStatus{
		Provider: h.Name,
		Status:   models.HealthStatusOK,
		Circuit:  h.State.String(),
	}
	switch {
	case h.Degraded():
		p.Status = models.HealthStatusDegraded
	case !h.Healthy():
		p.Status = models.HealthStatusFail
	}
	if h.LastSuccessAt != nil {
		p.LastSuccessAt = models.TimestampPtr(*h.LastSuccessAt)
	}
	if h.LastFailureAt != nil {
		p.LastFailureAt = models.TimestampPtr(*h.LastFailureAt)
	}
	if h.LastError != "" {
		msg := h.LastError
		p.Message = &msg
	}
	return p
}
