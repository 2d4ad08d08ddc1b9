package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// PlacesHandler handles fare estimates and place suggestions.
type PlacesHandler struct {
	estimateService *service.EstimateService
}

// NewPlacesHandler creates a new PlacesHandler.
func NewPlacesHandler(estimateService *service.EstimateService) *PlacesHandler {
	return &PlacesHandler{estimateService: estimateService}
}

// EstimateRequest is the HTTP request body for a fare preview.
type EstimateRequest struct {
	Pickup      PlaceRequest `json:"pickup"`
	Destination PlaceRequest `json:"destination"`
	VehicleType string       `json:"vehicle_type,omitempty"`
}

// PlaceResponse is one geocoding suggestion.
type PlaceResponse struct {
	Description string  `json:"description"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
}

// Estimate handles POST /v1/estimates
func (h *PlacesHandler) Estimate(c *gin.Context) {
	var req EstimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	vehicleType := domain.VehicleType(req.VehicleType)
	if req.VehicleType == "" {
		vehicleType = domain.VehicleTypeCar
	}

	quote, err := h.estimateService.Quote(c.Request.Context(), req.Pickup.toInput(), req.Destination.toInput(), vehicleType)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toQuoteResponse(quote))
}

// Suggest handles GET /v1/places/suggest
func (h *PlacesHandler) Suggest(c *gin.Context) {
	limit := 5
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	places, err := h.estimateService.Suggest(c.Request.Context(), c.Query("q"), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	out := make([]PlaceResponse, 0, len(places))
	for _, p := range places {
		out = append(out, PlaceResponse{
			Description: p.Description,
			Lat:         p.Coordinate.Lat,
			Lng:         p.Coordinate.Lng,
		})
	}
	respondJSON(c, http.StatusOK, out)
}
