package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/occasio/occasio/internal/conversation"
	"github.com/occasio/occasio/internal/listing"
	"github.com/occasio/occasio/internal/message"
	"github.com/occasio/occasio/internal/phone"
	"github.com/occasio/occasio/internal/transport"
)

// MessageHandler serves message listing and operator-initiated sends.
type MessageHandler struct {
	conversations *conversation.Store
	messages      *message.Service
	listings      *listing.Store
	sender        transport.Sender
	countryCode   string
	logger        *slog.Logger
}

// NewMessageHandler creates a message handler.
func NewMessageHandler(log *slog.Logger, conversations *conversation.Store, messages *message.Service, listings *listing.Store, sender transport.Sender, countryCode string) *MessageHandler {
	return &MessageHandler{
		conversations: conversations,
		messages:      messages,
		listings:      listings,
		sender:        sender,
		countryCode:   countryCode,
		logger:        log.With(slog.String("handler", "messages")),
	}
}

// Register mounts the message routes.
func (h *MessageHandler) Register(e *echo.Echo) {
	e.GET("/api/conversations/:id/messages", h.List)
	e.POST("/api/messages/send", h.Send)
}

// List returns a conversation's messages in chronological order.
func (h *MessageHandler) List(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	ctx := c.Request().Context()

	if _, err := h.conversations.Get(ctx, id); err != nil {
		if errors.Is(err, conversation.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	msgs, err := h.messages.Store().ListByConversation(ctx, id)
	if err != nil {
		h.logger.Error("list messages failed", slog.String("conversation_id", id), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "list messages failed")
	}
	if msgs == nil {
		msgs = []message.Message{}
	}
	return c.JSON(http.StatusOK, msgs)
}

// SendRequest is an operator-initiated outbound message.
type SendRequest struct {
	Number    string `json:"number"`
	Message   string `json:"message"`
	ListingID string `json:"listing_id"`
}

// Send delivers a message to a phone number, creating the conversation when
// needed. This is the first-contact path for new listings.
func (h *MessageHandler) Send(c echo.Context) error {
	var req SendRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	body := strings.TrimSpace(req.Message)
	if body == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	phoneKey := phone.Normalize(req.Number)
	if phoneKey == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "number is required")
	}

	ctx := c.Request().Context()
	listingID := strings.TrimSpace(req.ListingID)
	if listingID == "" {
		if ad, err := h.listings.FindByPhone(ctx, phoneKey); err == nil {
			listingID = ad.ID
		}
	}

	to := phone.FormatTransportID(req.Number, h.countryCode)
	externalID, err := h.sender.SendText(ctx, to, body)
	if err != nil {
		if errors.Is(err, transport.ErrNotConfigured) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "transport not configured")
		}
		h.logger.Error("send failed", slog.String("to", to), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusBadGateway, "send failed")
	}

	conv, _, err := h.conversations.FindOrCreateByPhone(ctx, phoneKey, to, listingID, phone.IsDemo(req.Number))
	if err != nil {
		h.logger.Error("resolve conversation failed", slog.String("phone_key", phoneKey), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "conversation lookup failed")
	}

	now := time.Now().UTC()
	stored, err := h.messages.Save(ctx, message.Message{
		ConversationID:    conv.ID,
		Body:              body,
		IsFromMe:          true,
		ExternalMessageID: externalID,
		Timestamp:         now,
	})
	if err != nil {
		h.logger.Error("persist outbound failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "message sent but not stored")
	}
	if err := h.conversations.SetLastMessageAt(ctx, conv.ID, now); err != nil {
		h.logger.Warn("bump last message failed", slog.String("conversation_id", conv.ID), slog.Any("error", err))
	}
	if listingID != "" {
		if err := h.listings.MarkContacted(ctx, listingID, now); err != nil {
			h.logger.Warn("mark listing contacted failed", slog.String("listing_id", listingID), slog.Any("error", err))
		}
	}

	return c.JSON(http.StatusCreated, stored)
}
