package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"dispatch/internal/domain"
	"dispatch/internal/service"
)

// DriverHandler handles HTTP requests for drivers.
type DriverHandler struct {
	driverService   *service.DriverService
	dispatchService *service.DispatchService
}

// NewDriverHandler creates a new DriverHandler.
func NewDriverHandler(driverService *service.DriverService, dispatchService *service.DispatchService) *DriverHandler {
	return &DriverHandler{
		driverService:   driverService,
		dispatchService: dispatchService,
	}
}

// RegisterDriverRequest is the HTTP request body for registering a driver.
type RegisterDriverRequest struct {
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	VehicleType string `json:"vehicle_type"`
}

// DriverResponse is the HTTP representation of a driver.
type DriverResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Phone       string `json:"phone"`
	VehicleType string `json:"vehicle_type"`
	Status      string `json:"status"`
}

// UpdateLocationRequest is the HTTP request body for a location report.
type UpdateLocationRequest struct {
	Lat        float64 `json:"lat"`
	Lng        float64 `json:"lng"`
	ReportedAt string  `json:"reported_at,omitempty"`
}

func toDriverResponse(d *domain.Driver) DriverResponse {
	return DriverResponse{
		ID:          d.ID,
		Name:        d.Name,
		Phone:       d.Phone,
		VehicleType: string(d.Vehicle),
		Status:      string(d.Status),
	}
}

// RegisterDriver handles POST /v1/drivers
func (h *DriverHandler) RegisterDriver(c *gin.Context) {
	var req RegisterDriverRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	driver, err := h.driverService.Register(c.Request.Context(), service.RegisterDriverRequest{
		Name:    req.Name,
		Phone:   req.Phone,
		Vehicle: domain.VehicleType(req.VehicleType),
	})
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusCreated, toDriverResponse(driver))
}

// GetDriver handles GET /v1/drivers/:id
func (h *DriverHandler) GetDriver(c *gin.Context) {
	driver, err := h.driverService.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, toDriverResponse(driver))
}

// UpdateLocation handles POST /v1/drivers/:id/location
//
// The report flows through the dispatch service so that riders on an
// active ride see the driver move.
func (h *DriverHandler) UpdateLocation(c *gin.Context) {
	var req UpdateLocationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid request body"})
		return
	}

	ts := time.Now()
	if req.ReportedAt != "" {
		parsed, err := time.Parse(time.RFC3339, req.ReportedAt)
		if err != nil {
			c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid reported_at timestamp"})
			return
		}
		ts = parsed
	}

	coord := domain.Coordinate{Lat: req.Lat, Lng: req.Lng}
	if err := h.dispatchService.RelayDriverLocation(c.Request.Context(), c.Param("id"), coord, ts); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"status": "ok"})
}

// SetOffline handles POST /v1/drivers/:id/offline
func (h *DriverHandler) SetOffline(c *gin.Context) {
	if err := h.driverService.SetDriverOffline(c.Request.Context(), c.Param("id")); err != nil {
		respondError(c, err)
		return
	}
	respondJSON(c, http.StatusOK, gin.H{"status": "ok"})
}
