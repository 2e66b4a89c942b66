package handler

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rescuelink/service-dispatch/internal/application"
	"github.com/rescuelink/service-dispatch/internal/common/auth"
	"github.com/rescuelink/service-dispatch/internal/common/middleware"
	"github.com/rescuelink/service-dispatch/internal/common/response"
	"github.com/rescuelink/service-dispatch/internal/geo"
)

// AmbulanceHandler handles fleet registration, availability and positions.
type AmbulanceHandler struct {
	fleet    *application.FleetService
	bookings *application.BookingService
}

// NewAmbulanceHandler creates a new AmbulanceHandler.
func NewAmbulanceHandler(fleet *application.FleetService, bookings *application.BookingService) *AmbulanceHandler {
	return &AmbulanceHandler{fleet: fleet, bookings: bookings}
}

// RegisterRoutes registers ambulance routes.
func (h *AmbulanceHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	staff := middleware.RequireRole(auth.RoleDispatcher, auth.RoleAdmin)
	crew := middleware.RequireRole(auth.RoleDriver, auth.RoleDispatcher, auth.RoleAdmin)

	ambulances := r.Group("/api/v1/ambulances")
	ambulances.Use(authMW)
	{
		ambulances.GET("", staff, h.ListAmbulances)
		ambulances.GET("/nearby", staff, h.Nearby)
		ambulances.GET("/mine", middleware.RequireRole(auth.RoleDriver), h.MyAmbulance)
		ambulances.POST("", middleware.RequireRole(auth.RoleAdmin), h.RegisterAmbulance)
		ambulances.PATCH("/:id/availability", crew, h.SetAvailability)
		ambulances.POST("/:id/positions", crew, h.ReportPosition)
		ambulances.GET("/:id/positions", crew, h.PositionHistory)
		ambulances.GET("/:id/assignment", crew, h.CurrentAssignment)
	}
}

// ListAmbulances handles GET /api/v1/ambulances.
func (h *AmbulanceHandler) ListAmbulances(c *gin.Context) {
	page, limit := parsePagination(c)
	result, err := h.fleet.ListAmbulances(c.Request.Context(), c.Query("status"), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// Nearby handles GET /api/v1/ambulances/nearby?lat=&lng=&radius_km=.
func (h *AmbulanceHandler) Nearby(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("lng"), 64)
	if errLat != nil || errLng != nil {
		response.BadRequest(c, "lat and lng are required")
		return
	}
	radius, err := strconv.ParseFloat(c.DefaultQuery("radius_km", "10"), 64)
	if err != nil {
		response.BadRequest(c, "invalid radius_km")
		return
	}

	result, err := h.fleet.NearbyAvailable(c.Request.Context(), geo.Coordinates{Lat: lat, Lng: lng}, radius)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// MyAmbulance handles GET /api/v1/ambulances/mine.
func (h *AmbulanceHandler) MyAmbulance(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := h.fleet.GetMyAmbulance(c.Request.Context(), actor)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// RegisterAmbulance handles POST /api/v1/ambulances.
func (h *AmbulanceHandler) RegisterAmbulance(c *gin.Context) {
	var req application.RegisterAmbulanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.fleet.RegisterAmbulance(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

type availabilityRequest struct {
	Available *bool `json:"available" binding:"required"`
}

// SetAvailability handles PATCH /api/v1/ambulances/:id/availability.
func (h *AmbulanceHandler) SetAvailability(c *gin.Context) {
	ambulanceID, ok := parseID(c, "ambulance")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.fleet.SetAvailability(c.Request.Context(), actor, ambulanceID, *req.Available)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// ReportPosition handles POST /api/v1/ambulances/:id/positions.
func (h *AmbulanceHandler) ReportPosition(c *gin.Context) {
	ambulanceID, ok := parseID(c, "ambulance")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.ReportPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	result, err := h.fleet.ReportPosition(c.Request.Context(), actor, ambulanceID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// PositionHistory handles GET /api/v1/ambulances/:id/positions?limit=.
func (h *AmbulanceHandler) PositionHistory(c *gin.Context) {
	ambulanceID, ok := parseID(c, "ambulance")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if err != nil || limit < 1 {
		response.BadRequest(c, "invalid limit")
		return
	}
	if limit > 500 {
		limit = 500
	}

	result, err := h.fleet.PositionHistory(c.Request.Context(), actor, ambulanceID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// CurrentAssignment handles GET /api/v1/ambulances/:id/assignment.
func (h *AmbulanceHandler) CurrentAssignment(c *gin.Context) {
	ambulanceID, ok := parseID(c, "ambulance")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := h.bookings.CurrentAssignment(c.Request.Context(), actor, ambulanceID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}
