package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/occasio/occasio/internal/conversation"
	"github.com/occasio/occasio/internal/offer"
)

// ConversationHandler serves the conversation CRUD surface.
type ConversationHandler struct {
	conversations *conversation.Store
	offers        *offer.Store
	logger        *slog.Logger
}

// NewConversationHandler creates a conversation handler.
func NewConversationHandler(log *slog.Logger, conversations *conversation.Store, offers *offer.Store) *ConversationHandler {
	return &ConversationHandler{
		conversations: conversations,
		offers:        offers,
		logger:        log.With(slog.String("handler", "conversations")),
	}
}

// Register mounts the conversation routes.
func (h *ConversationHandler) Register(e *echo.Echo) {
	group := e.Group("/api/conversations")
	group.GET("", h.List)
	group.GET("/:id", h.Get)
	group.PATCH("/:id/state", h.UpdateState)
	group.DELETE("/:id", h.Delete)
}

// ListResponse is one page of conversations.
type ListResponse struct {
	Items []conversation.ListItem `json:"items"`
	Total int                     `json:"total"`
	Page  int                     `json:"page"`
	Limit int                     `json:"limit"`
}

// List returns conversations ordered by recent activity.
func (h *ConversationHandler) List(c echo.Context) error {
	page, _ := strconv.Atoi(c.QueryParam("page"))
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}

	items, total, err := h.conversations.List(c.Request().Context(), page, limit)
	if err != nil {
		h.logger.Error("list conversations failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list conversations failed")
	}
	if items == nil {
		items = []conversation.ListItem{}
	}
	return c.JSON(http.StatusOK, ListResponse{Items: items, Total: total, Page: page, Limit: limit})
}

// GetResponse is one conversation with its recorded offers.
type GetResponse struct {
	conversation.Conversation
	Offers []offer.Offer `json:"offers"`
}

// Get returns one conversation with its price offers.
func (h *ConversationHandler) Get(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	conv, err := h.conversations.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	offers, err := h.offers.ListByConversation(c.Request().Context(), conv.ID)
	if err != nil {
		h.logger.Warn("list offers failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
	}
	if offers == nil {
		offers = []offer.Offer{}
	}
	return c.JSON(http.StatusOK, GetResponse{Conversation: conv, Offers: offers})
}

// UpdateStateRequest is a manual state override.
type UpdateStateRequest struct {
	State  string `json:"state"`
	Reason string `json:"reason"`
}

// UpdateState lets an operator move a conversation to any state. Moving back
// to active clears the recorded price context so the assistant starts fresh.
func (h *ConversationHandler) UpdateState(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	var req UpdateStateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	target := conversation.State(strings.TrimSpace(req.State))
	if !target.Valid() {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid state")
	}
	reason := strings.TrimSpace(req.Reason)
	if reason == "" {
		reason = "manual override"
	}

	ctx := c.Request().Context()
	conv, err := h.conversations.Get(ctx, id)
	if err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if conv.State == target {
		return c.JSON(http.StatusOK, conv)
	}

	clearPrice := target == conversation.StateActive
	updated, err := h.conversations.Transition(ctx, conv.ID, conv.State, target, reason, nil, clearPrice)
	if err != nil {
		if errors.Is(err, conversation.ErrStateConflict) {
			return echo.NewHTTPError(http.StatusConflict, "conversation state changed concurrently")
		}
		h.logger.Error("manual state change failed",
			slog.String("conversation_id", conv.ID),
			slog.String("to", string(target)),
			slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "state change failed")
	}
	h.logger.Info("manual state change",
		slog.String("conversation_id", updated.ID),
		slog.String("from", string(conv.State)),
		slog.String("to", string(updated.State)),
		slog.String("reason", reason))
	return c.JSON(http.StatusOK, updated)
}

// Delete removes a conversation and everything attached to it.
func (h *ConversationHandler) Delete(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	if err := h.conversations.Delete(c.Request().Context(), id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.logger.Info("conversation deleted", slog.String("conversation_id", id))
	return c.NoContent(http.StatusNoContent)
}
