package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/occasio/occasio/internal/pipeline"
	"github.com/occasio/occasio/internal/transport"
)

// TransportHandler proxies bridge state and accepts inbound webhooks.
type TransportHandler struct {
	status   transport.StatusReporter
	pipeline *pipeline.Pipeline
	logger   *slog.Logger
}

// NewTransportHandler creates a transport handler.
func NewTransportHandler(log *slog.Logger, status transport.StatusReporter, p *pipeline.Pipeline) *TransportHandler {
	return &TransportHandler{
		status:   status,
		pipeline: p,
		logger:   log.With(slog.String("handler", "transport")),
	}
}

// Register mounts the transport routes.
func (h *TransportHandler) Register(e *echo.Echo) {
	group := e.Group("/api/transport")
	group.GET("/status", h.Status)
	group.GET("/qr", h.QR)
	group.POST("/inbound", h.Inbound)
	group.POST("/backfill", h.Backfill)
}

// Status reports the bridge connection state.
func (h *TransportHandler) Status(c echo.Context) error {
	info, err := h.status.Status(c.Request().Context())
	if err != nil {
		h.logger.Warn("bridge status failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "bridge unreachable")
	}
	return c.JSON(http.StatusOK, info)
}

// QR returns the pairing payload while the bridge waits for a device link.
func (h *TransportHandler) QR(c echo.Context) error {
	info, err := h.status.QR(c.Request().Context())
	if err != nil {
		if errors.Is(err, transport.ErrNotConfigured) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "transport not configured")
		}
		h.logger.Warn("bridge qr failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "bridge unreachable")
	}
	return c.JSON(http.StatusOK, info)
}

// Inbound accepts one observed message from the bridge webhook (or the demo
// simulator) and queues it for ingestion. Acceptance only means enqueued.
func (h *TransportHandler) Inbound(c echo.Context) error {
	var evt transport.InboundEvent
	if err := c.Bind(&evt); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if evt.SenderID == "" || evt.Body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "sender_id and body are required")
	}
	if err := h.pipeline.Enqueue(evt); err != nil {
		if errors.Is(err, pipeline.ErrQueueFull) {
			return echo.NewHTTPError(http.StatusTooManyRequests, "conversation queue full")
		}
		h.logger.Error("enqueue inbound failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "enqueue failed")
	}
	return c.NoContent(http.StatusAccepted)
}

// BackfillResponse reports how much of an import was queued.
type BackfillResponse struct {
	Queued  int `json:"queued"`
	Skipped int `json:"skipped"`
}

// Backfill queues a batch of historical messages for ingestion. The pipeline
// dedupe check makes re-imports harmless.
func (h *TransportHandler) Backfill(c echo.Context) error {
	var events []transport.InboundEvent
	if err := c.Bind(&events); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	var resp BackfillResponse
	for _, evt := range events {
		if evt.SenderID == "" || evt.Body == "" {
			resp.Skipped++
			continue
		}
		evt.Silent = true
		if err := h.pipeline.Enqueue(evt); err != nil {
			h.logger.Warn("backfill enqueue failed", slog.Any("error", err))
			resp.Skipped++
			continue
		}
		resp.Queued++
	}
	return c.JSON(http.StatusOK, resp)
}
