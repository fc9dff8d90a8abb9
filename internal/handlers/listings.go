package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/occasio/occasio/internal/listing"
)

// ListingHandler serves the vehicle ad surface.
type ListingHandler struct {
	listings *listing.Store
	logger   *slog.Logger
}

// NewListingHandler creates a listing handler.
func NewListingHandler(log *slog.Logger, listings *listing.Store) *ListingHandler {
	return &ListingHandler{
		listings: listings,
		logger:   log.With(slog.String("handler", "listings")),
	}
}

// Register mounts the listing routes.
func (h *ListingHandler) Register(e *echo.Echo) {
	group := e.Group("/api/listings")
	group.POST("", h.Create)
	group.GET("/:id", h.Get)
	group.POST("/:id/sold", h.MarkSold)
}

// CreateListingRequest is a new vehicle ad to track.
type CreateListingRequest struct {
	Phone    string  `json:"phone"`
	Brand    string  `json:"brand"`
	Model    string  `json:"model"`
	Year     int     `json:"year"`
	Price    float64 `json:"price"`
	ImageURL string  `json:"image_url"`
}

// Create registers a listing so later conversations link to it.
func (h *ListingHandler) Create(c echo.Context) error {
	var req CreateListingRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid payload")
	}
	if strings.TrimSpace(req.Phone) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "phone is required")
	}
	created, err := h.listings.Create(c.Request().Context(), listing.Listing{
		Phone:    req.Phone,
		Brand:    strings.TrimSpace(req.Brand),
		Model:    strings.TrimSpace(req.Model),
		Year:     req.Year,
		Price:    req.Price,
		ImageURL: strings.TrimSpace(req.ImageURL),
	})
	if err != nil {
		h.logger.Error("create listing failed", slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "create listing failed")
	}
	return c.JSON(http.StatusCreated, created)
}

// Get returns one listing.
func (h *ListingHandler) Get(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	l, err := h.listings.Get(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "listing not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, l)
}

// MarkSold flags a listing as gone. Operators use this after an
// unavailability signal; nothing flips it automatically.
func (h *ListingHandler) MarkSold(c echo.Context) error {
	id := strings.TrimSpace(c.Param("id"))
	l, err := h.listings.MarkSold(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, listing.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "listing not found")
		}
		h.logger.Error("mark sold failed", slog.String("listing_id", id), slog.Any("error", err))
		return echo.NewHTTPError(http.StatusInternalServerError, "mark sold failed")
	}
	return c.JSON(http.StatusOK, l)
}
