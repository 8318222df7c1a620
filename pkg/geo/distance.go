package geo

import "math"

const (
	// EarthRadiusMeters is the mean Earth radius used for every distance in the agent.
	EarthRadiusMeters = 6371000.0
	earthRadiusKm     = EarthRadiusMeters / 1000

	fallbackSpeedKmh = 30.0 // urban average used when the device reports no speed
)

// Point is a WGS84 coordinate pair.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// DistanceMeters calculates the great-circle distance in metres between two
// coordinates using the haversine formula. The result is not rounded.
func DistanceMeters(lat1, lon1, lat2, lon2 float64) float64 {
	phi1 := lat1 * math.Pi / 180.0
	phi2 := lat2 * math.Pi / 180.0
	dPhi := (lat2 - lat1) * math.Pi / 180.0
	dLambda := (lon2 - lon1) * math.Pi / 180.0

	a := math.Sin(dPhi/2)*math.Sin(dPhi/2) +
		math.Cos(phi1)*math.Cos(phi2)*
			math.Sin(dLambda/2)*math.Sin(dLambda/2)

	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return EarthRadiusMeters * c
}

// Between returns the distance in metres between two points.
func Between(a, b Point) float64 {
	return DistanceMeters(a.Lat, a.Lng, b.Lat, b.Lng)
}

// Haversine calculates the great-circle distance in kilometres between two
// coordinates. The result is rounded to two decimal places for display.
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	return math.Round(DistanceMeters(lat1, lon1, lat2, lon2)/1000*100) / 100
}

// EstimateMinutes returns the travel time in whole minutes for distanceMeters.
// A positive speedMps from the device wins over the urban fallback speed.
func EstimateMinutes(distanceMeters, speedMps float64) int {
	if distanceMeters <= 0 {
		return 0
	}
	speedKmh := fallbackSpeedKmh
	if speedMps > 1 {
		speedKmh = speedMps * 3.6
	}
	return int(math.Ceil(distanceMeters * 60 / (speedKmh * 1000)))
}
