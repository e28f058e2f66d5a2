package geo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/nexus-dashboard/nexus/internal/metrics"
	"github.com/nexus-dashboard/nexus/internal/polyline"
)

// Travel modes
const (
	ModeCar  = "car"
	ModeWalk = "walk"
)

// Route is a resolved path: distance in kilometres and the line to draw.
type Route struct {
	DistanceKm float64      `json:"distance_km"`
	Geometry   []Coordinate `json:"geometry"`
}

// Router resolves ordered waypoints into a Route.
type Router interface {
	Route(ctx context.Context, mode string, waypoints []Coordinate) (*Route, error)
}

// ORSClient calls the OpenRouteService directions API for car routes and
// computes walking routes locally as straight great-circle segments.
type ORSClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	stubMode   bool
}

// NewORSClient creates a routing client. In stub mode car routes are
// answered locally without a network call.
func NewORSClient(baseURL, apiKey string, stubMode bool) *ORSClient {
	return &ORSClient{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
		stubMode:   stubMode,
	}
}

type orsRequest struct {
	Coordinates [][2]float64 `json:"coordinates"`
}

type orsResponse struct {
	Routes []struct {
		Summary struct {
			Distance float64 `json:"distance"` // metres
		} `json:"summary"`
		Geometry string `json:"geometry"`
	} `json:"routes"`
}

// Route requires at least two waypoints; callers treat fewer as a no-op.
// There is no retry: a failure is returned to the user as is.
func (c *ORSClient) Route(ctx context.Context, mode string, waypoints []Coordinate) (*Route, error) {
	if len(waypoints) < 2 {
		return nil, fmt.Errorf("%w: need at least two waypoints", ErrNoRoute)
	}
	for _, w := range waypoints {
		if err := w.Validate(); err != nil {
			return nil, err
		}
	}

	switch mode {
	case ModeWalk:
		return straightRoute(waypoints), nil
	case ModeCar:
	default:
		return nil, ErrInvalidMode
	}

	if c.stubMode {
		route := straightRoute(waypoints)
		route.DistanceKm *= 1.3
		return route, nil
	}

	route, err := c.driving(ctx, waypoints)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.GeoRequests.WithLabelValues("openrouteservice", outcome).Inc()
	return route, err
}

func (c *ORSClient) driving(ctx context.Context, waypoints []Coordinate) (*Route, error) {
	// ORS expects [lng, lat].
	body := orsRequest{Coordinates: make([][2]float64, len(waypoints))}
	for i, w := range waypoints {
		body.Coordinates[i] = [2]float64{w.Lng, w.Lat}
	}
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v2/directions/driving-car", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoutingFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%w: status %d: %s", ErrRoutingFailed, resp.StatusCode, string(msg))
	}

	var parsed orsResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("%w: failed to decode response: %v", ErrRoutingFailed, err)
	}
	if len(parsed.Routes) == 0 || parsed.Routes[0].Geometry == "" {
		return nil, ErrNoRoute
	}

	pairs, err := polyline.Decode(parsed.Routes[0].Geometry)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRoutingFailed, err)
	}
	distance := parsed.Routes[0].Summary.Distance / 1000
	if distance < 0 {
		distance = 0
	}
	return &Route{DistanceKm: distance, Geometry: FromPairs(pairs)}, nil
}

func straightRoute(waypoints []Coordinate) *Route {
	return &Route{
		DistanceKm: PathLength(waypoints),
		Geometry:   append([]Coordinate(nil), waypoints...),
	}
}
