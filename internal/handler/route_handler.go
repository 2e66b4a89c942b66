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
	"github.com/rescuelink/service-dispatch/internal/geo"
	"github.com/rescuelink/service-dispatch/internal/routing"
)

// RouteHandler exposes point-to-point route lookups to dispatch staff.
type RouteHandler struct {
	service *application.RouteService
}

// NewRouteHandler creates a new RouteHandler.
func NewRouteHandler(service *application.RouteService) *RouteHandler {
	return &RouteHandler{service: service}
}

// RegisterRoutes registers route lookup routes.
func (h *RouteHandler) RegisterRoutes(r *gin.RouterGroup, jwtManager *auth.JWTManager) {
	routes := r.Group("/api/v1/routes")
	routes.Use(middleware.AuthMiddleware(jwtManager), middleware.RequireRole(auth.RoleDispatcher, auth.RoleAdmin))
	{
		routes.GET("", h.Estimate)
	}
}

// Estimate handles GET /api/v1/routes?from_lat=&from_lng=&to_lat=&to_lng=.
func (h *RouteHandler) Estimate(c *gin.Context) {
	origin, ok := parsePoint(c, "from")
	if !ok {
		response.BadRequest(c, "from_lat and from_lng are required")
		return
	}
	destination, ok := parsePoint(c, "to")
	if !ok {
		response.BadRequest(c, "to_lat and to_lng are required")
		return
	}

	result, err := h.service.Estimate(c.Request.Context(), origin, destination)
	if err != nil {
		if errors.Is(err, routing.ErrUnavailable) {
			response.Fail(c, http.StatusBadGateway, "route_unavailable", err.Error())
			return
		}
		response.Error(c, err)
		return
	}
	response.Success(c, result)
}

func parsePoint(c *gin.Context, prefix string) (geo.Coordinates, bool) {
	lat, errLat := strconv.ParseFloat(c.Query(prefix+"_lat"), 64)
	lng, errLng := strconv.ParseFloat(c.Query(prefix+"_lng"), 64)
	if errLat != nil || errLng != nil {
		return geo.Coordinates{}, false
	}
	return geo.Coordinates{Lat: lat, Lng: lng}, true
}
