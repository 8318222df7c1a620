package routing

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/richxcame/driver-agent/pkg/geo"
	"github.com/richxcame/driver-agent/pkg/httpclient"
)

// OSRMProvider performs route lookups against an OSRM HTTP server.
type OSRMProvider struct {
	client *httpclient.Client
}

func NewOSRMProvider(endpoint string, timeout time.Duration) *OSRMProvider {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &OSRMProvider{client: httpclient.NewClient(strings.TrimRight(endpoint, "/"), timeout)}
}

func (o *OSRMProvider) Name() string {
	return "osrm"
}

// Directions queries /route/v1/driving/{lon1},{lat1};{lon2},{lat2} with steps.
func (o *OSRMProvider) Directions(ctx context.Context, origin, destination geo.Point) (*Route, error) {
	path := fmt.Sprintf("/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&steps=true",
		origin.Lng, origin.Lat, destination.Lng, destination.Lat)

	resp, err := o.client.Get(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("osrm route request failed: %w", err)
	}

	var out osrmResponse
	if err := json.Unmarshal(resp, &out); err != nil {
		return nil, fmt.Errorf("failed to parse osrm response: %w", err)
	}
	if out.Code != "Ok" || len(out.Routes) == 0 {
		return nil, fmt.Errorf("osrm no route: %s %s", out.Code, out.Message)
	}

	r := out.Routes[0]
	route := &Route{
		Origin:          origin,
		Destination:     destination,
		DistanceMeters:  int(math.Round(r.Distance)),
		DurationSeconds: int(math.Round(r.Duration)),
		Polyline:        r.Geometry,
		Provider:        o.Name(),
	}
	for _, leg := range r.Legs {
		routeLeg := Leg{
			DistanceMeters:  int(math.Round(leg.Distance)),
			DurationSeconds: int(math.Round(leg.Duration)),
		}
		for _, step := range leg.Steps {
			routeLeg.Steps = append(routeLeg.Steps, Step{
				Instruction:     osrmInstruction(step),
				Maneuver:        step.Maneuver.Type,
				DistanceMeters:  int(math.Round(step.Distance)),
				DurationSeconds: int(math.Round(step.Duration)),
				Start:           osrmPoint(step.Maneuver.Location),
			})
		}
		route.Legs = append(route.Legs, routeLeg)
	}
	return route, nil
}

func osrmInstruction(step osrmStep) string {
	parts := []string{step.Maneuver.Type}
	if step.Maneuver.Modifier != "" {
		parts = append(parts, step.Maneuver.Modifier)
	}
	if step.Name != "" {
		parts = append(parts, "onto "+step.Name)
	}
	return strings.Join(parts, " ")
}

func osrmPoint(lonLat []float64) geo.Point {
	if len(lonLat) != 2 {
		return geo.Point{}
	}
	return geo.Point{Lat: lonLat[1], Lng: lonLat[0]}
}

type osrmResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message,omitempty"`
	Routes  []osrmRoute `json:"routes"`
}

type osrmRoute struct {
	Distance float64   `json:"distance"`
	Duration float64   `json:"duration"`
	Geometry string    `json:"geometry"`
	Legs     []osrmLeg `json:"legs"`
}

type osrmLeg struct {
	Distance float64    `json:"distance"`
	Duration float64    `json:"duration"`
	Steps    []osrmStep `json:"steps"`
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Duration float64 `json:"duration"`
	Name     string  `json:"name"`
	Maneuver struct {
		Type     string    `json:"type"`
		Modifier string    `json:"modifier,omitempty"`
		Location []float64 `json:"location"`
	} `json:"maneuver"`
}
