package geo

import (
	"fmt"
	"math"
	"strings"
)

// Vertex is one keyhole template vertex in polar form: a bearing offset
// relative to the receiver's look azimuth and a range from the receiver.
type Vertex struct {
	BearingOffsetDeg float64 `json:"bearingOffsetDeg"`
	DistanceKm       float64 `json:"distanceKm"`
}

// Template is an externally generated directional visibility shape,
// expressed relative to a receiver boresight so one template serves any
// receiver position and azimuth.
type Template struct {
	Name     string   `json:"name,omitempty"`
	Vertices []Vertex `json:"vertices"`
}

// Validate checks the template describes a usable polygon.
func (t Template) Validate() error {
	if len(t.Vertices) < 3 {
		return fmt.Errorf("keyhole template needs at least 3 vertices, got %d", len(t.Vertices))
	}
	for i, v := range t.Vertices {
		if math.IsNaN(v.DistanceKm) || math.IsInf(v.DistanceKm, 0) || v.DistanceKm < 0 {
			return fmt.Errorf("keyhole vertex %d: invalid distance %v", i, v.DistanceKm)
		}
		if math.IsNaN(v.BearingOffsetDeg) || math.IsInf(v.BearingOffsetDeg, 0) {
			return fmt.Errorf("keyhole vertex %d: invalid bearing offset %v", i, v.BearingOffsetDeg)
		}
	}
	return nil
}

// Shape is a keyhole template anchored at a receiver position and look
// azimuth. Membership tests run in a local azimuthal-equidistant frame
// centered on the receiver, which sidesteps longitude wraparound; the
// geographic ring is kept alongside for WKT emission.
type Shape struct {
	origin Point
	local  []xy    // east/north kilometers from origin
	ring   []Point // absolute vertices, unclosed
}

type xy struct{ x, y float64 }

// Anchor projects a template's polar vertices to absolute positions
// around origin, rotated to azimuthDeg.
func Anchor(t Template, origin Point, azimuthDeg float64) (*Shape, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}
	if !origin.Valid() {
		return nil, fmt.Errorf("keyhole origin out of range: %s", origin)
	}

	s := &Shape{
		origin: origin,
		local:  make([]xy, len(t.Vertices)),
		ring:   make([]Point, len(t.Vertices)),
	}
	for i, v := range t.Vertices {
		bearing := azimuthDeg + v.BearingOffsetDeg
		theta := radians(bearing)
		s.local[i] = xy{
			x: v.DistanceKm * math.Sin(theta),
			y: v.DistanceKm * math.Cos(theta),
		}
		s.ring[i] = Destination(origin, bearing, v.DistanceKm)
	}
	return s, nil
}

// Origin returns the receiver position the shape is anchored at.
func (s *Shape) Origin() Point { return s.origin }

// Ring returns the absolute polygon vertices in template order.
func (s *Shape) Ring() []Point { return s.ring }

// Contains reports whether p lies inside the anchored shape, by winding
// number in the shape's local frame. Boundary points count as inside on
// the lower edge only, matching the half-open convention of the crossing
// rules below.
func (s *Shape) Contains(p Point) bool {
	d := DistanceKm(s.origin, p)
	theta := radians(Bearing(s.origin, p))
	q := xy{x: d * math.Sin(theta), y: d * math.Cos(theta)}

	wn := 0
	n := len(s.local)
	for i := 0; i < n; i++ {
		a := s.local[i]
		b := s.local[(i+1)%n]
		if a.y <= q.y {
			if b.y > q.y && isLeft(a, b, q) > 0 {
				wn++
			}
		} else if b.y <= q.y && isLeft(a, b, q) < 0 {
			wn--
		}
	}
	return wn != 0
}

// InKeyhole reports whether p lies inside the anchored keyhole shape.
func InKeyhole(p Point, s *Shape) bool { return s.Contains(p) }

// WKT renders the anchored shape as a closed POLYGON in lon/lat axis
// order, suitable as a geography literal in SQL predicates.
func (s *Shape) WKT() string {
	var b strings.Builder
	b.WriteString("POLYGON((")
	n := len(s.ring)
	for i := 0; i <= n; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		p := s.ring[i%n]
		fmt.Fprintf(&b, "%.8f %.8f", p.Lon, p.Lat)
	}
	b.WriteString("))")
	return b.String()
}

// isLeft is positive when q is left of the directed segment a->b.
func isLeft(a, b, q xy) float64 {
	return (b.x-a.x)*(q.y-a.y) - (q.x-a.x)*(b.y-a.y)
}
