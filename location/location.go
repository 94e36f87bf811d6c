package location

import (
	"fmt"
	"math"
	"time"
)

// earthRadiusMeters is the mean Earth radius used for great-circle distances.
const earthRadiusMeters = 6371008.8

// Location is a geographic fix with optional enrichment.
type Location struct {
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Altitude  *float64  `json:"altitude,omitempty"`
	Accuracy  *float64  `json:"accuracy,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Address   string    `json:"address,omitempty"`
	Landmark  string    `json:"landmark,omitempty"`
}

// Valid reports whether the coordinates are inside their ranges.
func (l Location) Valid() bool {
	return l.Latitude >= -90 && l.Latitude <= 90 &&
		l.Longitude >= -180 && l.Longitude <= 180 &&
		!math.IsNaN(l.Latitude) && !math.IsNaN(l.Longitude)
}

// Distance returns the great-circle distance in meters between two fixes.
func Distance(a, b Location) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := (b.Latitude - a.Latitude) * math.Pi / 180
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// FormatLocation renders the address when known, otherwise the landmark and
// coordinates, otherwise the coordinates alone.
func FormatLocation(l Location) string {
	coords := fmt.Sprintf("lat: %.6f, lng: %.6f", l.Latitude, l.Longitude)
	switch {
	case l.Address != "":
		return l.Address
	case l.Landmark != "":
		return fmt.Sprintf("%s (%s)", l.Landmark, coords)
	default:
		return coords
	}
}

// FormatDistance renders meters below one kilometer and kilometers above.
func FormatDistance(meters float64) string {
	if meters < 1000 {
		return fmt.Sprintf("%.0f m", meters)
	}
	return fmt.Sprintf("%.1f km", meters/1000)
}
