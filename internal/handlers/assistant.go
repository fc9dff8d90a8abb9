package handlers

import (
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/occasio/occasio/internal/assistant"
)

// AssistantHandler serves the assistant settings surface.
type AssistantHandler struct {
	settings *assistant.Service
	logger   *slog.Logger
}

// NewAssistantHandler creates an assistant settings handler.
func NewAssistantHandler(log *slog.Logger, settings *assistant.Service) *AssistantHandler {
	return &AssistantHandler{
		settings: settings,
		logger:   log.With(slog.String("handler", "assistant")),
	}
}

// Register mounts the assistant settings routes.
func (h *AssistantHandler) Register(e *echo.Echo) {
	group := e.Group("/api/assistant")
	group.GET("/config", h.Get)
	group.PUT("/config", h.Update)
	group.POST("/config/reload", h.Reload)
}

// Get returns the active settings.
func (h *AssistantHandler) Get(c echo.Context) error {
	return c.JSON(http.StatusOK, h.settings.Current())
}

// Update persists new settings and refreshes the cache.
func (h *AssistantHandler) Update(c echo.Context) error {
	var req assistant.Settings
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	stored, err := h.settings.Update(c.Request().Context(), req)
	if err != nil {
		h.logger.Error("settings update failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "settings update failed")
	}
	return c.JSON(http.StatusOK, stored)
}

// Reload re-reads the stored settings, discarding the cache.
func (h *AssistantHandler) Reload(c echo.Context) error {
	loaded, err := h.settings.Load(c.Request().Context())
	if err != nil {
		h.logger.Error("settings reload failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "settings reload failed")
	}
	return c.JSON(http.StatusOK, loaded)
}
