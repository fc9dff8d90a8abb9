package handlers

import (
	"bufio"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/occasio/occasio/internal/message/event"
)

// EventsHandler streams hub events over SSE.
type EventsHandler struct {
	events event.Subscriber
	logger *slog.Logger
}

// NewEventsHandler creates an events handler.
func NewEventsHandler(log *slog.Logger, events event.Subscriber) *EventsHandler {
	return &EventsHandler{
		events: events,
		logger: log.With(slog.String("handler", "events")),
	}
}

// Register mounts GET /api/events.
func (h *EventsHandler) Register(e *echo.Echo) {
	e.GET("/api/events", h.Stream)
}

// Stream sends hub events as server-sent events. An optional conversation_id
// query parameter narrows the stream to one conversation.
func (h *EventsHandler) Stream(c echo.Context) error {
	conversationID := strings.TrimSpace(c.QueryParam("conversation_id"))

	c.Response().Header().Set(echo.HeaderContentType, "text/event-stream")
	c.Response().Header().Set(echo.HeaderCacheControl, "no-cache")
	c.Response().Header().Set(echo.HeaderConnection, "keep-alive")
	c.Response().WriteHeader(http.StatusOK)

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusInternalServerError, "streaming not supported")
	}
	writer := bufio.NewWriter(c.Response().Writer)

	_, stream, cancel := h.events.Subscribe(conversationID, event.DefaultBufferSize)
	defer cancel()

	for {
		select {
		case <-c.Request().Context().Done():
			return nil
		case evt, ok := <-stream:
			if !ok {
				return nil
			}
			data, err := json.Marshal(evt)
			if err != nil {
				continue
			}
			_, _ = writer.WriteString(fmt.Sprintf("event: %s\ndata: %s\n\n", evt.Type, string(data)))
			writer.Flush()
			flusher.Flush()
		}
	}
}
