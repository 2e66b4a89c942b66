package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/rescuelink/service-dispatch/internal/application"
	"github.com/rescuelink/service-dispatch/internal/common/auth"
	"github.com/rescuelink/service-dispatch/internal/common/middleware"
	"github.com/rescuelink/service-dispatch/internal/common/response"
)

// AdminHandler handles admin-only booking reports.
type AdminHandler struct {
	bookings *application.BookingService
	dispatch *application.DispatchService
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(bookings *application.BookingService, dispatch *application.DispatchService) *AdminHandler {
	return &AdminHandler{bookings: bookings, dispatch: dispatch}
}

// RegisterRoutes registers admin routes.
func (h *AdminHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	authMW := middleware.AuthMiddleware(jwtManager)
	adminRole := middleware.RequireRole(auth.RoleAdmin)

	admin := r.Group("/api/v1/admin")
	admin.Use(authMW, adminRole)
	{
		admin.GET("/bookings", h.ListBookings)
		admin.GET("/stats/bookings", h.BookingStats)
	}
}

// ListBookings handles GET /api/v1/admin/bookings.
func (h *AdminHandler) ListBookings(c *gin.Context) {
	page, limit := parsePagination(c)

	result, err := h.bookings.ListAllBookings(c.Request.Context(), c.Query("status"), page, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Paginated(c, result.Items, result.Total, page, limit)
}

// BookingStats handles GET /api/v1/admin/stats/bookings.
func (h *AdminHandler) BookingStats(c *gin.Context) {
	stats, err := h.dispatch.Stats(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Success(c, stats)
}
