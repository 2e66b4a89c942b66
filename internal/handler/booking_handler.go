package handler

import (
	"context"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rescuelink/service-dispatch/internal/application"
	"github.com/rescuelink/service-dispatch/internal/common/auth"
	"github.com/rescuelink/service-dispatch/internal/common/domain"
	"github.com/rescuelink/service-dispatch/internal/common/middleware"
	"github.com/rescuelink/service-dispatch/internal/common/response"
)

// BookingHandler handles HTTP requests for booking operations.
type BookingHandler struct {
	service *application.BookingService
}

// NewBookingHandler creates a new BookingHandler.
func NewBookingHandler(service *application.BookingService) *BookingHandler {
	return &BookingHandler{service: service}
}

// RegisterRoutes registers all booking routes on the given router group.
func (h *BookingHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	crew := middleware.RequireRole(auth.RoleDriver, auth.RoleDispatcher, auth.RoleAdmin)

	bookings := r.Group("/api/v1/bookings")
	bookings.Use(authMW)
	{
		bookings.POST("", middleware.RequireRole(auth.RolePatient, auth.RoleDispatcher, auth.RoleAdmin), h.CreateBooking)
		bookings.GET("", h.ListBookings)
		bookings.GET("/:id", h.GetBooking)
		bookings.GET("/ref/:reference", h.GetBookingByReference)
		bookings.POST("/:id/cancel", h.CancelBooking)
		bookings.POST("/:id/accept", crew, h.AcceptBooking)
		bookings.POST("/:id/decline", crew, h.DeclineBooking)
		bookings.POST("/:id/arrive", crew, h.ArriveBooking)
		bookings.POST("/:id/complete", crew, h.CompleteBooking)
	}
}

// CreateBooking handles POST /api/v1/bookings. It answers 201 with the
// pending booking; the ambulance is assigned asynchronously.
func (h *BookingHandler) CreateBooking(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req application.CreateBookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}

	// Bookings phoned in by staff have no requester account.
	var requesterID *uuid.UUID
	if actor.Role == auth.RolePatient {
		requesterID = &actor.UserID
	}

	result, err := h.service.CreateBooking(c.Request.Context(), requesterID, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, result)
}

// ListBookings handles GET /api/v1/bookings. Staff see every booking and may
// filter by status; everyone else sees the bookings they filed.
func (h *BookingHandler) ListBookings(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}
	page, limit := parsePagination(c)

	var (
		result *domain.PaginatedResult[application.BookingDTO]
		err    error
	)
	if actor.Role == auth.RoleAdmin || actor.Role == auth.RoleDispatcher {
		result, err = h.service.ListAllBookings(c.Request.Context(), c.Query("status"), page, limit)
	} else {
		result, err = h.service.GetMyBookings(c.Request.Context(), actor.UserID, page, limit)
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, result.Page, result.Limit)
}

// GetBooking handles GET /api/v1/bookings/:id.
func (h *BookingHandler) GetBooking(c *gin.Context) {
	bookingID, ok := parseID(c, "booking")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := h.service.GetBooking(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// GetBookingByReference handles GET /api/v1/bookings/ref/:reference.
func (h *BookingHandler) GetBookingByReference(c *gin.Context) {
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := h.service.GetBookingByReference(c.Request.Context(), actor, c.Param("reference"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

type reasonRequest struct {
	Reason string `json:"reason"`
}

// CancelBooking handles POST /api/v1/bookings/:id/cancel.
func (h *BookingHandler) CancelBooking(c *gin.Context) {
	bookingID, ok := parseID(c, "booking")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.service.CancelBooking(c.Request.Context(), actor, bookingID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// AcceptBooking handles POST /api/v1/bookings/:id/accept.
func (h *BookingHandler) AcceptBooking(c *gin.Context) {
	h.crewAction(c, h.service.AcceptBooking)
}

// ArriveBooking handles POST /api/v1/bookings/:id/arrive.
func (h *BookingHandler) ArriveBooking(c *gin.Context) {
	h.crewAction(c, h.service.ArriveBooking)
}

// CompleteBooking handles POST /api/v1/bookings/:id/complete.
func (h *BookingHandler) CompleteBooking(c *gin.Context) {
	h.crewAction(c, h.service.CompleteBooking)
}

// DeclineBooking handles POST /api/v1/bookings/:id/decline.
func (h *BookingHandler) DeclineBooking(c *gin.Context) {
	bookingID, ok := parseID(c, "booking")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	var req reasonRequest
	_ = c.ShouldBindJSON(&req)

	result, err := h.service.DeclineBooking(c.Request.Context(), actor, bookingID, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

type crewFunc func(ctx context.Context, actor application.Actor, bookingID uuid.UUID) (*application.BookingDTO, error)

func (h *BookingHandler) crewAction(c *gin.Context, fn crewFunc) {
	bookingID, ok := parseID(c, "booking")
	if !ok {
		return
	}
	actor, ok := actorFrom(c)
	if !ok {
		response.Unauthorized(c, "unauthorized")
		return
	}

	result, err := fn(c.Request.Context(), actor, bookingID)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, result)
}

// parsePagination extracts page and limit query parameters with defaults.
func parsePagination(c *gin.Context) (int, int) {
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))

	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}

	return page, limit
}

// parseID reads the :id path parameter, answering 400 when it is not a UUID.
func parseID(c *gin.Context, entity string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid "+entity+" ID")
		return uuid.Nil, false
	}
	return id, true
}

func actorFrom(c *gin.Context) (application.Actor, bool) {
	userID, ok := middleware.GetUserID(c)
	if !ok {
		return application.Actor{}, false
	}
	role, ok := middleware.GetUserRole(c)
	if !ok {
		return application.Actor{}, false
	}
	return application.Actor{UserID: userID, Role: role}, true
}
