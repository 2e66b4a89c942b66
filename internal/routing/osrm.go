package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rescuelink/service-dispatch/internal/geo"
)

const osrmProvider = "osrm"

// OSRMClient queries the OSRM /route service over HTTP.
type OSRMClient struct {
	endpoint string
	client   *http.Client
	timeout  time.Duration
}

// NewOSRMClient creates a client for endpoint (e.g. https://router.project-osrm.org).
// A nil client uses a dedicated http.Client.
func NewOSRMClient(endpoint string, timeout time.Duration, client *http.Client) *OSRMClient {
	if client == nil {
		client = &http.Client{}
	}
	return &OSRMClient{
		endpoint: strings.TrimRight(endpoint, "/"),
		client:   client,
		timeout:  timeout,
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"`
		Duration float64 `json:"duration"`
	} `json:"routes"`
}

// Route requests a driving route. OSRM takes coordinates in lon,lat order.
func (o *OSRMClient) Route(ctx context.Context, origin, destination geo.Coordinates) (Estimate, error) {
	if err := validatePair(osrmProvider, origin, destination); err != nil {
		return Estimate{}, err
	}

	ctx, cancel := withTimeout(ctx, o.timeout)
	defer cancel()

	url := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=false",
		o.endpoint, origin.Lng, origin.Lat, destination.Lng, destination.Lat)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Estimate{}, unavailable(osrmProvider, "build request", err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return Estimate{}, unavailable(osrmProvider, "request failed", err)
	}
	defer resp.Body.Close()

	var out osrmResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return Estimate{}, unavailable(osrmProvider, fmt.Sprintf("decode response (http %d)", resp.StatusCode), err)
	}
	if resp.StatusCode != http.StatusOK || out.Code != "Ok" {
		return Estimate{}, unavailable(osrmProvider, fmt.Sprintf("code %q (http %d) %s", out.Code, resp.StatusCode, out.Message), nil)
	}
	if len(out.Routes) == 0 {
		return Estimate{}, unavailable(osrmProvider, "no routes", nil)
	}

	return Estimate{
		DistanceMeters:  out.Routes[0].Distance,
		DurationSeconds: out.Routes[0].Duration,
	}, nil
}
