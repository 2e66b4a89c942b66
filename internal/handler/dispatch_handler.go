package handler

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rescuelink/service-dispatch/internal/application"
	"github.com/rescuelink/service-dispatch/internal/common/auth"
	"github.com/rescuelink/service-dispatch/internal/common/middleware"
	"github.com/rescuelink/service-dispatch/internal/common/response"
	"github.com/rescuelink/service-dispatch/internal/dispatch"
)

// DispatchHandler exposes the dispatch backlog and manual re-dispatch to operators.
type DispatchHandler struct {
	service *application.DispatchService
}

// NewDispatchHandler creates a new DispatchHandler.
func NewDispatchHandler(service *application.DispatchService) *DispatchHandler {
	return &DispatchHandler{service: service}
}

// RegisterRoutes registers dispatch routes.
func (h *DispatchHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	group := r.Group("/api/v1/dispatch")
	group.Use(middleware.AuthMiddleware(jwtManager), middleware.RequireRole(auth.RoleDispatcher, auth.RoleAdmin))
	{
		group.GET("/backlog", h.Backlog)
		group.POST("/bookings/:id/retry", h.Retry)
		group.GET("/stats", h.Stats)
	}
}

// Backlog handles GET /api/v1/dispatch/backlog.
func (h *DispatchHandler) Backlog(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 500 {
		limit = 50
	}

	result, err := h.service.Backlog(c.Request.Context(), limit)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

// Retry handles POST /api/v1/dispatch/bookings/:id/retry. It runs one attempt
// synchronously and reports its outcome.
func (h *DispatchHandler) Retry(c *gin.Context) {
	bookingID, ok := parseID(c, "booking")
	if !ok {
		return
	}

	result, err := h.service.DispatchBooking(c.Request.Context(), bookingID)
	if err != nil {
		writeDispatchError(c, err)
		return
	}
	response.Success(c, result)
}

// Stats handles GET /api/v1/dispatch/stats.
func (h *DispatchHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Success(c, stats)
}

// writeDispatchError reports a failed attempt. The booking is still pending
// in every case handled here.
func writeDispatchError(c *gin.Context, err error) {
	var pe *dispatch.PersistenceError
	switch {
	case dispatch.IsSelectionFailure(err):
		response.Fail(c, http.StatusUnprocessableEntity, dispatch.Reason(err), err.Error())
	case errors.Is(err, dispatch.ErrAssignmentConflict):
		response.Fail(c, http.StatusConflict, dispatch.Reason(err), err.Error())
	case errors.As(err, &pe):
		_ = c.Error(err)
		response.Fail(c, http.StatusServiceUnavailable, dispatch.Reason(err), "dispatch store unavailable, booking left pending")
	default:
		response.Error(c, err)
	}
}
