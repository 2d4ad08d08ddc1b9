package handler

import (
	"math"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// RideHandler handles HTTP requests for rides.
type RideHandler struct {
	dispatchService *service.DispatchService
}

// NewRideHandler creates a new RideHandler.
func NewRideHandler(dispatchService *service.DispatchService) *RideHandler {
	return &RideHandler{dispatchService: dispatchService}
}

// PlaceRequest identifies a location by coordinate or free-text address.
type PlaceRequest struct {
	Address string   `json:"address,omitempty"`
	Lat     *float64 `json:"lat,omitempty"`
	Lng     *float64 `json:"lng,omitempty"`
}

func (p PlaceRequest) toInput() service.PlaceInput {
	in := service.PlaceInput{Address: p.Address}
	if p.Lat != nil && p.Lng != nil {
		in.Coordinate = domain.Coordinate{Lat: *p.Lat, Lng: *p.Lng}
		in.HasCoord = true
	}
	return in
}

// CreateRideRequest is the HTTP request body for creating a ride.
type CreateRideRequest struct {
	RiderID     string       `json:"rider_id"`
	Pickup      PlaceRequest `json:"pickup"`
	Destination PlaceRequest `json:"destination"`
	VehicleType string       `json:"vehicle_type,omitempty"`
}

// ConfirmRideRequest is the HTTP request body for confirming a ride.
type ConfirmRideRequest struct {
	RiderID string `json:"rider_id"`
}

// OfferResponseRequest is the HTTP request body for a driver's answer to an offer.
type OfferResponseRequest struct {
	DriverID string `json:"driver_id"`
	Accept   bool   `json:"accept"`
}

// DriverActionRequest is the HTTP request body for driver trip actions.
type DriverActionRequest struct {
	DriverID string `json:"driver_id"`
}

// CancelRideRequest is the HTTP request body for cancelling a ride. PartyID
// is ignored when authentication already identified the caller.
type CancelRideRequest struct {
	PartyID string `json:"party_id,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// QuoteResponse is the display form of a fare quote: distance to two
// decimals, duration in whole minutes.
type QuoteResponse struct {
	DistanceKm  float64 `json:"distance_km"`
	DurationMin int     `json:"duration_min"`
	VehicleType string  `json:"vehicle_type"`
	Price       float64 `json:"price"`
}

// RideResponse is the HTTP representation of a ride.
type RideResponse struct {
	ID               string        `json:"id"`
	RiderID          string        `json:"rider_id"`
	PickupLat        float64       `json:"pickup_lat"`
	PickupLng        float64       `json:"pickup_lng"`
	DestinationLat   float64       `json:"destination_lat"`
	DestinationLng   float64       `json:"destination_lng"`
	Status           string        `json:"status"`
	AssignedDriverID string        `json:"assigned_driver_id,omitempty"`
	Quote            QuoteResponse `json:"quote"`
	CancelledAt      string        `json:"cancelled_at,omitempty"`
	CancelReason     string        `json:"cancel_reason,omitempty"`
}

func toQuoteResponse(q domain.FareQuote) QuoteResponse {
	return QuoteResponse{
		DistanceKm:  math.Round(q.DistanceKm*100) / 100,
		DurationMin: int(math.Round(q.DurationMin)),
		VehicleType: string(q.VehicleType),
		Price:       q.Price,
	}
}

func toRideResponse(ride *domain.Ride) RideResponse {
	resp := RideResponse{
		ID:               ride.ID,
		RiderID:          ride.RiderID,
		PickupLat:        ride.Pickup.Lat,
		PickupLng:        ride.Pickup.Lng,
		DestinationLat:   ride.Destination.Lat,
		DestinationLng:   ride.Destination.Lng,
		Status:           string(ride.Status),
		AssignedDriverID: ride.AssignedDriverID,
		Quote:            toQuoteResponse(ride.Quote),
		CancelReason:     ride.CancelReason,
	}
	if !ride.CancelledAt.IsZero() {
		resp.CancelledAt = ride.CancelledAt.Format(time.RFC3339)
	}
	return resp
}

// CreateRide handles POST /v1/rides
func (h *RideHandler) CreateRide(c *gin.Context) {
	var req CreateRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	vehicleType := domain.VehicleType(req.VehicleType)
	if req.VehicleType == "" {
		vehicleType = domain.VehicleTypeCar
	}

	ride, err := h.dispatchService.RequestRide(c.Request.Context(), service.RideRequest{
		RiderID:     req.RiderID,
		Pickup:      req.Pickup.toInput(),
		Destination: req.Destination.toInput(),
		VehicleType: vehicleType,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toRideResponse(ride))
}

// ConfirmRide handles POST /v1/rides/:id/confirm
func (h *RideHandler) ConfirmRide(c *gin.Context) {
	var req ConfirmRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := h.dispatchService.ConfirmRide(c.Request.Context(), c.Param("id"), req.RiderID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// OfferResponse handles POST /v1/rides/:id/offer-response
func (h *RideHandler) OfferResponse(c *gin.Context) {
	var req OfferResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	if err := h.dispatchService.HandleOfferResponse(c.Request.Context(), c.Param("id"), req.DriverID, req.Accept); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"accepted": req.Accept})
}

// StartRide handles POST /v1/rides/:id/start
func (h *RideHandler) StartRide(c *gin.Context) {
	var req DriverActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := h.dispatchService.StartRide(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// CompleteRide handles POST /v1/rides/:id/complete
func (h *RideHandler) CompleteRide(c *gin.Context) {
	var req DriverActionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ride, err := h.dispatchService.CompleteRide(c.Request.Context(), c.Param("id"), req.DriverID)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// CancelRide handles POST /v1/rides/:id/cancel
func (h *RideHandler) CancelRide(c *gin.Context) {
	var req CancelRideRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	partyID := c.GetString("partyID")
	if partyID == "" {
		partyID = req.PartyID
	}

	ride, err := h.dispatchService.CancelRide(c.Request.Context(), c.Param("id"), partyID, req.Reason)
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}

// ListRiderRides handles GET /v1/riders/:id/rides
func (h *RideHandler) ListRiderRides(c *gin.Context) {
	rides, err := h.dispatchService.ListRiderRides(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	out := make([]RideResponse, 0, len(rides))
	for _, r := range rides {
		out = append(out, toRideResponse(r))
	}
	respondJSON(c, http.StatusOK, out)
}

// GetRide handles GET /v1/rides/:id
func (h *RideHandler) GetRide(c *gin.Context) {
	ride, err := h.dispatchService.GetRide(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toRideResponse(ride))
}
