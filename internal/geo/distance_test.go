package geo

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestDistanceMeters_Zero(t *testing.T) {
	london := Coordinate{Lat: 51.5074, Lng: -0.1278}
	d := DistanceMeters(london, london)
	assert.InDelta(t, 0, d, 1e-6)
}

func TestDistanceMeters_KnownPair(t *testing.T) {
	// London to Paris, ~343km.
	london := Coordinate{Lat: 51.5074, Lng: -0.1278}
	paris := Coordinate{Lat: 48.8566, Lng: 2.3522}
	d := DistanceMeters(london, paris)
	assert.InDelta(t, 343_000, d, 5_000)
}

func TestDistanceMeters_Antipode(t *testing.T) {
	a := Coordinate{Lat: 0, Lng: 0}
	b := Coordinate{Lat: 0, Lng: 180}
	d := DistanceMeters(a, b)
	assert.InDelta(t, math.Pi*EarthRadiusMeters, d, 1.0)
}

func TestDistanceMeters_SymmetryProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := Coordinate{
			Lat: rapid.Float64Range(-90, 90).Draw(t, "lat1"),
			Lng: rapid.Float64Range(-180, 180).Draw(t, "lng1"),
		}
		b := Coordinate{
			Lat: rapid.Float64Range(-90, 90).Draw(t, "lat2"),
			Lng: rapid.Float64Range(-180, 180).Draw(t, "lng2"),
		}
		d1 := DistanceMeters(a, b)
		d2 := DistanceMeters(b, a)
		require.InDelta(t, d1, d2, math.Max(1e-6, d1*1e-9))
		require.GreaterOrEqual(t, d1, 0.0)
		require.LessOrEqual(t, d1, math.Pi*EarthRadiusMeters+1.0)
	})
}

func TestCoordinateValid(t *testing.T) {
	assert.True(t, Coordinate{Lat: 0, Lng: 0}.Valid())
	assert.True(t, Coordinate{Lat: 90, Lng: 180}.Valid())
	assert.False(t, Coordinate{Lat: 91, Lng: 0}.Valid())
	assert.False(t, Coordinate{Lat: 0, Lng: 181}.Valid())
}
