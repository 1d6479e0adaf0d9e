package api

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"VaultPulse/internal/domain/models"
	domsvc "VaultPulse/internal/domain/service"
	"VaultPulse/internal/service/metrics"
	"VaultPulse/internal/service/ratelimit"
	xhttp "VaultPulse/pkg/http"
	xlogger "VaultPulse/pkg/logger"

	"github.com/labstack/echo/v4"
)

const (
	defaultHistorySpan = time.Hour
	healthTimeout      = 2 * time.Second
)

// MetricsHandler serves the read-only metrics API.
type MetricsHandler struct {
	logger    *xlogger.Logger
	snapshots domsvc.SnapshotReader
	alerts    domsvc.AlertReader
	history   domsvc.HistoryReader
	hub       *StreamHub
	limiter   *ratelimit.Limiter
	checks    map[string]domsvc.HealthCheck
	now       func() time.Time
}

type Option func(*MetricsHandler)

func WithHistory(r domsvc.HistoryReader) Option {
	return func(h *MetricsHandler) { h.history = r }
}

func WithStreamHub(hub *StreamHub) Option {
	return func(h *MetricsHandler) { h.hub = hub }
}

func WithRateLimiter(l *ratelimit.Limiter) Option {
	return func(h *MetricsHandler) { h.limiter = l }
}

// WithHealthCheck adds a named dependency to /healthz.
func WithHealthCheck(name string, check domsvc.HealthCheck) Option {
	return func(h *MetricsHandler) {
		if check != nil {
			h.checks[name] = check
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(h *MetricsHandler) { h.now = now }
}

func NewMetricsHandler(logger *xlogger.Logger, snapshots domsvc.SnapshotReader, alerts domsvc.AlertReader, opts ...Option) *MetricsHandler {
	metrics.Register()
	if logger == nil {
		logger = xlogger.Nop()
	}
	h := &MetricsHandler{
		logger:    logger,
		snapshots: snapshots,
		alerts:    alerts,
		checks:    make(map[string]domsvc.HealthCheck),
		now:       time.Now,
	}
	for _, o := range opts {
		o(h)
	}
	return h
}

func (h *MetricsHandler) RegisterRoutes(e *echo.Echo) {
	e.GET("/healthz", h.Health)

	g := e.Group("/api", h.observe, h.rateLimit)
	g.GET("/snapshot", h.Snapshot)
	g.GET("/assets", h.Assets)
	g.GET("/assets/:asset", h.Asset)
	g.GET("/risk", h.Risk)
	g.GET("/alerts", h.Alerts)
	g.GET("/history", h.History)
	if h.hub != nil {
		e.GET("/api/stream", h.hub.Serve, h.rateLimit)
	}
}

func (h *MetricsHandler) observe(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		endpoint := strings.TrimPrefix(c.Path(), "/api/")
		err := next(c)
		metrics.APILatency.WithLabelValues(endpoint).Observe(time.Since(start).Seconds())
		if err != nil || c.Response().Status >= http.StatusInternalServerError {
			metrics.APIErrors.WithLabelValues(endpoint).Inc()
		}
		return err
	}
}

func (h *MetricsHandler) rateLimit(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if !h.limiter.Allow(c.RealIP()) {
			metrics.RateLimited.Inc()
			h.logger.Warn("api rate limited", xlogger.String("remote", c.RealIP()), xlogger.String("path", c.Path()))
			return xhttp.TooManyRequestsResponse(c)
		}
		return next(c)
	}
}

func notReady(c echo.Context) error {
	return xhttp.AppErrorResponse(c, xhttp.UnavailableError("no snapshot published yet"))
}

func (h *MetricsHandler) Snapshot(c echo.Context) error {
	snap := h.snapshots.Latest()
	if snap == nil {
		return notReady(c)
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "no-store")
	return xhttp.SuccessResponse(c, snap)
}

type assetsResponse struct {
	Generation uint64                `json:"generation"`
	Timestamp  time.Time             `json:"ts"`
	Assets     []models.AssetMetrics `json:"assets"`
}

func (h *MetricsHandler) Assets(c echo.Context) error {
	snap := h.snapshots.Latest()
	if snap == nil {
		return notReady(c)
	}
	out := assetsResponse{Generation: snap.Generation, Timestamp: snap.Timestamp}
	for _, name := range snap.AssetNames() {
		out.Assets = append(out.Assets, snap.Assets[name])
	}
	return xhttp.SuccessResponse(c, out)
}

func (h *MetricsHandler) Asset(c echo.Context) error {
	req := &models.AssetRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	snap := h.snapshots.Latest()
	if snap == nil {
		return notReady(c)
	}
	// untracked or pruned assets answer with unavailable scores, not 404
	am, _ := snap.Asset(req.Asset)
	return xhttp.SuccessResponse(c, am)
}

type riskResponse struct {
	Generation uint64          `json:"generation"`
	Timestamp  time.Time       `json:"ts"`
	Risk       models.RiskView `json:"risk"`
}

func (h *MetricsHandler) Risk(c echo.Context) error {
	snap := h.snapshots.Latest()
	if snap == nil {
		return notReady(c)
	}
	return xhttp.SuccessResponse(c, riskResponse{Generation: snap.Generation, Timestamp: snap.Timestamp, Risk: snap.Risk})
}

func (h *MetricsHandler) Alerts(c echo.Context) error {
	req := &models.AlertsRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	alerts := h.alerts.Recent(models.AlertLevel(req.Level), req.Limit)
	if alerts == nil {
		alerts = []models.Alert{}
	}
	return xhttp.ListResponse(c, alerts, int64(len(alerts)))
}

func (h *MetricsHandler) History(c echo.Context) error {
	if h.history == nil {
		return xhttp.AppErrorResponse(c, xhttp.UnavailableError("history export is disabled"))
	}
	req := &models.HistoryRequest{}
	if verr := xhttp.ReadAndValidateRequest(c, req); verr != nil {
		return xhttp.BadRequestResponse(c, verr)
	}
	to, err := xhttp.TimeParam("to", req.To, h.now().UTC())
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	from, err := xhttp.TimeParam("from", req.From, to.Add(-defaultHistorySpan))
	if err != nil {
		return xhttp.AppErrorResponse(c, err)
	}
	if from.After(to) {
		return xhttp.AppErrorResponse(c, xhttp.BadRequestError("from must not be after to"))
	}
	asset := req.Asset

	rows, err := h.history.QueryAsset(c.Request().Context(), asset, from, to, req.Limit)
	if err != nil {
		h.logger.Error("history query error", xlogger.String("asset", asset), xlogger.Error(err))
		return xhttp.AppErrorResponse(c, xhttp.InternalError("history query failed").WithError(err))
	}
	if rows == nil {
		rows = []models.AssetHistoryPoint{}
	}
	c.Response().Header().Set(echo.HeaderCacheControl, "private, max-age=5")
	return xhttp.ListResponse(c, rows, int64(len(rows)))
}

type healthResponse struct {
	Status     string            `json:"status"`
	Generation uint64            `json:"generation"`
	Checks     map[string]string `json:"checks"`
}

// Health reports ok only when every registered check passes.
func (h *MetricsHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
	defer cancel()

	out := healthResponse{Status: "ok", Checks: make(map[string]string, len(h.checks))}
	if snap := h.snapshots.Latest(); snap != nil {
		out.Generation = snap.Generation
	}
	names := make([]string, 0, len(h.checks))
	for name := range h.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := h.checks[name](ctx); err != nil {
			out.Status = "degraded"
			out.Checks[name] = err.Error()
			continue
		}
		out.Checks[name] = "ok"
	}
	if out.Status != "ok" {
		return c.JSON(http.StatusServiceUnavailable, out)
	}
	return c.JSON(http.StatusOK, out)
}
