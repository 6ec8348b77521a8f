package match

import (
	"math"

	"github.com/twpayne/go-geom"
)

// earthRadiusKM is the mean Earth radius used for great-circle distances.
const earthRadiusKM = 6371.0

// Point builds an XY point from latitude and longitude.
func Point(lat, lon float64) *geom.Point {
	return geom.NewPointFlat(geom.XY, []float64{lon, lat})
}

// HaversineKM returns the great-circle distance in kilometers between two
// points (X = longitude, Y = latitude).
func HaversineKM(a, b *geom.Point) float64 {
	lat1 := a.Y() * math.Pi / 180
	lat2 := b.Y() * math.Pi / 180
	dLat := (b.Y() - a.Y()) * math.Pi / 180
	dLon := (b.X() - a.X()) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKM * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}
