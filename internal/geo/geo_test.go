package geo

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestDistanceKm validates the great-circle distance on a known
// fixture: one tenth of a degree of longitude at 37N is about
// 8.8-8.9 km, so a 10 km bound includes it and a 5 km bound does not.
func TestDistanceKm(t *testing.T) {
	ref := Point{Lat: 37.0, Lon: -121.0}
	rec := Point{Lat: 37.0, Lon: -121.1}

	d := DistanceKm(ref, rec)
	assert.InDelta(t, 8.88, d, 0.06)
	assert.Less(t, d, 10.0, "a 10 km radius must include the record")
	assert.Greater(t, d, 5.0, "a 5 km radius must exclude the record")

	t.Run("zero for identical points", func(t *testing.T) {
		assert.Zero(t, DistanceKm(ref, ref))
	})

	t.Run("symmetric", func(t *testing.T) {
		assert.InDelta(t, DistanceKm(ref, rec), DistanceKm(rec, ref), 1e-9)
	})
}

func TestUnitConversions(t *testing.T) {
	assert.InDelta(t, 1.0, KmToMiles(1.609344), 1e-12)
	assert.InDelta(t, 1.609344, MilesToKm(1.0), 1e-12)
	assert.InDelta(t, 5.0, KmToMiles(MilesToKm(5.0)), 1e-12)
}

func TestBearing(t *testing.T) {
	origin := Point{Lat: 0, Lon: 0}

	assert.InDelta(t, 0, Bearing(origin, Point{Lat: 1, Lon: 0}), 1e-6)
	assert.InDelta(t, 90, Bearing(origin, Point{Lat: 0, Lon: 1}), 1e-6)
	assert.InDelta(t, 180, Bearing(origin, Point{Lat: -1, Lon: 0}), 1e-6)
	assert.InDelta(t, 270, Bearing(origin, Point{Lat: 0, Lon: -1}), 1e-6)
}

// TestDestinationRoundTrip checks the direct problem against distance
// and bearing: going d km along bearing b must land at a point that is
// d km away on bearing b.
func TestDestinationRoundTrip(t *testing.T) {
	origin := Point{Lat: 37.0, Lon: -121.0}
	for _, tc := range []struct {
		bearing float64
		km      float64
	}{
		{0, 25}, {45, 10}, {90, 50}, {135, 3}, {225, 40}, {315, 17.5},
	} {
		p := Destination(origin, tc.bearing, tc.km)
		require.True(t, p.Valid())
		assert.InDelta(t, tc.km, DistanceKm(origin, p), 0.01)
		assert.InDelta(t, tc.bearing, Bearing(origin, p), 0.1)
	}

	t.Run("zero distance stays put", func(t *testing.T) {
		p := Destination(origin, 123, 0)
		assert.InDelta(t, origin.Lat, p.Lat, 1e-9)
		assert.InDelta(t, origin.Lon, p.Lon, 1e-9)
	})
}

func TestPointValid(t *testing.T) {
	assert.True(t, Point{Lat: 90, Lon: -180}.Valid())
	assert.False(t, Point{Lat: 90.1, Lon: 0}.Valid())
	assert.False(t, Point{Lat: 0, Lon: 180.1}.Valid())
}

// kiteTemplate is a boresight-symmetric kite: the receiver position,
// two flanks 30 km out at +/-45 degrees, and a 40 km tip dead ahead.
func kiteTemplate() Template {
	return Template{
		Name: "kite",
		Vertices: []Vertex{
			{BearingOffsetDeg: 0, DistanceKm: 0},
			{BearingOffsetDeg: -45, DistanceKm: 30},
			{BearingOffsetDeg: 0, DistanceKm: 40},
			{BearingOffsetDeg: 45, DistanceKm: 30},
		},
	}
}

// TestKeyholeMembership anchors the kite looking east and probes points
// placed by the direct problem, so membership depends only on the
// shape. The SQL compiler reuses the same anchored ring via WKT.
func TestKeyholeMembership(t *testing.T) {
	origin := Point{Lat: 37.0, Lon: -121.0}
	shape, err := Anchor(kiteTemplate(), origin, 90)
	require.NoError(t, err)

	cases := []struct {
		name    string
		bearing float64
		km      float64
		want    bool
	}{
		{"20 km on boresight", 90, 20, true},
		{"35 km on boresight", 90, 35, true},
		{"45 km beyond the tip", 90, 45, false},
		{"20 km behind", 270, 20, false},
		{"20 km abeam", 0, 20, false},
		{"10 km up the flank", 60, 10, true},
		{"30 km outside the flank", 30, 30, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Destination(origin, tc.bearing, tc.km)
			assert.Equal(t, tc.want, InKeyhole(p, shape))
		})
	}
}

// TestKeyholeAzimuthRotation re-anchors the same template facing north
// and checks membership rotates with it.
func TestKeyholeAzimuthRotation(t *testing.T) {
	origin := Point{Lat: 37.0, Lon: -121.0}
	shape, err := Anchor(kiteTemplate(), origin, 0)
	require.NoError(t, err)

	assert.True(t, shape.Contains(Destination(origin, 0, 20)))
	assert.False(t, shape.Contains(Destination(origin, 90, 20)))
}

func TestAnchorRejectsBadInput(t *testing.T) {
	origin := Point{Lat: 37.0, Lon: -121.0}

	t.Run("too few vertices", func(t *testing.T) {
		_, err := Anchor(Template{Vertices: []Vertex{{0, 1}, {90, 1}}}, origin, 0)
		require.Error(t, err)
	})

	t.Run("negative distance", func(t *testing.T) {
		tmpl := kiteTemplate()
		tmpl.Vertices[1].DistanceKm = -2
		_, err := Anchor(tmpl, origin, 0)
		require.Error(t, err)
	})

	t.Run("origin off the globe", func(t *testing.T) {
		_, err := Anchor(kiteTemplate(), Point{Lat: 95, Lon: 0}, 0)
		require.Error(t, err)
	})
}

func TestShapeWKT(t *testing.T) {
	origin := Point{Lat: 37.0, Lon: -121.0}
	shape, err := Anchor(kiteTemplate(), origin, 90)
	require.NoError(t, err)

	wkt := shape.WKT()
	assert.True(t, strings.HasPrefix(wkt, "POLYGON(("))
	assert.True(t, strings.HasSuffix(wkt, "))"))

	// Ring must be closed: first and last coordinate pair identical.
	inner := strings.TrimSuffix(strings.TrimPrefix(wkt, "POLYGON(("), "))")
	pairs := strings.Split(inner, ",")
	require.Len(t, pairs, len(kiteTemplate().Vertices)+1)
	assert.Equal(t, pairs[0], pairs[len(pairs)-1])
}
