package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/richxcame/driver-agent/pkg/httpclient"
	"github.com/richxcame/driver-agent/pkg/logger"
	"go.uber.org/zap"
)

const (
	googleMapsBaseURL        = "https://maps.googleapis.com/maps/api"
	googleDirectionsEndpoint = "/directions/json"
)

// GoogleProvider implements Provider with the Google Directions API
type GoogleProvider struct {
	apiKey string
	client *httpclient.Client
}

// NewGoogleProvider creates a Google directions provider. An empty baseURL
// uses the public endpoint.
func NewGoogleProvider(apiKey, baseURL string, timeout time.Duration) *GoogleProvider {
	if baseURL == "" {
		baseURL = googleMapsBaseURL
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &GoogleProvider{
		apiKey: apiKey,
		client: httpclient.NewClient(baseURL, timeout),
	}
}

// Name returns the provider name
func (g *GoogleProvider) Name() string {
	return "google"
}

// Directions requests a driving route
func (g *GoogleProvider) Directions(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	params := url.Values{}
	params.Set("origin", formatCoordinate(origin))
	params.Set("destination", formatCoordinate(destination))
	params.Set("key", g.apiKey)
	params.Set("mode", "driving")
	params.Set("departure_time", "now")
	params.Set("units", "metric")

	logger.Debug("Google directions request",
		zap.String("origin", params.Get("origin")),
		zap.String("destination", params.Get("destination")))

	resp, err := g.client.Get(ctx, googleDirectionsEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google directions request failed: %w", err)
	}

	var googleResp googleDirectionsResponse
	if err := json.Unmarshal(resp, &googleResp); err != nil {
		return nil, fmt.Errorf("failed to parse directions response: %w", err)
	}

	if googleResp.Status != "OK" || len(googleResp.Routes) == 0 {
		return nil, fmt.Errorf("google directions error: %s - %s", googleResp.Status, googleResp.ErrorMessage)
	}

	route := convertGoogleRoute(&googleResp.Routes[0])
	route.Origin = origin
	route.Destination = destination
	route.Provider = g.Name()
	return route, nil
}

func formatCoordinate(p geo.Point) string {
	return fmt.Sprintf("%f,%f", p.Lat, p.Lng)
}

func convertGoogleRoute(r *googleRoute) *Route {
	route := &Route{Polyline: r.OverviewPolyline.Points}
	for _, leg := range r.Legs {
		route.DistanceMeters += leg.Distance.Value
		route.DurationSeconds += leg.Duration.Value

		routeLeg := Leg{
			DistanceMeters:  leg.Distance.Value,
			DurationSeconds: leg.Duration.Value,
		}
		for _, step := range leg.Steps {
			routeLeg.Steps = append(routeLeg.Steps, Step{
				Instruction:     step.HTMLInstructions,
				Maneuver:        step.Maneuver,
				DistanceMeters:  step.Distance.Value,
				DurationSeconds: step.Duration.Value,
				Start:           geo.Point{Lat: step.StartLocation.Lat, Lng: step.StartLocation.Lng},
				End:             geo.Point{Lat: step.EndLocation.Lat, Lng: step.EndLocation.Lng},
			})
		}
		route.Legs = append(route.Legs, routeLeg)
	}
	return route
}

type googleDirectionsResponse struct {
	Status       string        `json:"status"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Routes       []googleRoute `json:"routes"`
}

type googleRoute struct {
	Summary          string         `json:"summary"`
	Legs             []googleLeg    `json:"legs"`
	OverviewPolyline googlePolyline `json:"overview_polyline"`
}

type googleLeg struct {
	Distance googleValue  `json:"distance"`
	Duration googleValue  `json:"duration"`
	Steps    []googleStep `json:"steps"`
}

type googleStep struct {
	HTMLInstructions string       `json:"html_instructions"`
	Distance         googleValue  `json:"distance"`
	Duration         googleValue  `json:"duration"`
	StartLocation    googleLatLng `json:"start_location"`
	EndLocation      googleLatLng `json:"end_location"`
	Maneuver         string       `json:"maneuver,omitempty"`
}

type googlePolyline struct {
	Points string `json:"points"`
}

type googleLatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type googleValue struct {
	Text  string `json:"text"`
	Value int    `json:"value"`
}
