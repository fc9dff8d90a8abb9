package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/occasio/occasio/internal/pipeline"
)

// MaintenanceHandler exposes on-demand housekeeping.
type MaintenanceHandler struct {
	sweeper *pipeline.Sweeper
	logger  *slog.Logger
}

// NewMaintenanceHandler creates a maintenance handler.
func NewMaintenanceHandler(log *slog.Logger, sweeper *pipeline.Sweeper) *MaintenanceHandler {
	return &MaintenanceHandler{
		sweeper: sweeper,
		logger:  log.With(slog.String("handler", "maintenance")),
	}
}

// Register mounts POST /api/maintenance/dedupe.
func (h *MaintenanceHandler) Register(e *echo.Echo) {
	e.POST("/api/maintenance/dedupe", h.Dedupe)
}

// DedupeResponse reports one sweep run.
type DedupeResponse struct {
	Removed int64 `json:"removed"`
}

// Dedupe runs a duplicate sweep immediately.
func (h *MaintenanceHandler) Dedupe(c echo.Context) error {
	removed, err := h.sweeper.Sweep(c.Request().Context())
	if err != nil {
		h.logger.Error("manual sweep failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "sweep failed")
	}
	return c.JSON(http.StatusOK, DedupeResponse{Removed: removed})
}
