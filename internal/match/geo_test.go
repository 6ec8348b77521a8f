package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHaversineKM_SamePoint(t *testing.T) {
	p := Point(39.7817, -89.6501)
	assert.Equal(t, 0.0, HaversineKM(p, p))
}

func TestHaversineKM_KnownDistances(t *testing.T) {
	// Springfield, IL to Chicago, IL is roughly 280 km.
	springfield := Point(39.7817, -89.6501)
	chicago := Point(41.8781, -87.6298)
	d := HaversineKM(springfield, chicago)
	assert.InDelta(t, 280, d, 10)

	// London to Paris is roughly 344 km.
	london := Point(51.5074, -0.1278)
	paris := Point(48.8566, 2.3522)
	assert.InDelta(t, 344, HaversineKM(london, paris), 5)
}

func TestHaversineKM_ShortDistanceWithinThreshold(t *testing.T) {
	// Two points a few km apart inside the same metro area.
	a := Point(39.7817, -89.6501)
	b := Point(39.8000, -89.7000)
	d := HaversineKM(a, b)
	assert.Greater(t, d, 0.0)
	assert.Less(t, d, 50.0)
}

func TestHaversineKM_Symmetric(t *testing.T) {
	a := Point(39.7817, -89.6501)
	b := Point(41.8781, -87.6298)
	assert.InDelta(t, HaversineKM(a, b), HaversineKM(b, a), 1e-9)
}

func TestPoint_AxisOrder(t *testing.T) {
	p := Point(39.7817, -89.6501)
	assert.Equal(t, 39.7817, p.Y())
	assert.Equal(t, -89.6501, p.X())
}
