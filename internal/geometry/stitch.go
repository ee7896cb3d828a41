package geometry

import "github.com/paulmach/orb"

// stitchRings repeatedly joins any two rings sharing an endpoint into one
// longer ring, until no further join is possible. Overpass returns a
// multipolygon boundary's ring as however many Way fragments the mapper
// happened to split it into; this reassembles them into closed rings
// (spec.md §4.5 step 3). Idempotent: once no two remaining rings share an
// endpoint, a second pass is a no-op (P5).
func stitchRings(rings []orb.Ring) []orb.Ring {
	joined := make([]orb.Ring, len(rings))
	copy(joined, rings)

	for {
		merged := false
		for i := 0; i < len(joined) && !merged; i++ {
			for j := i + 1; j < len(joined); j++ {
				combined, ok := joinSegments(joined[i], joined[j])
				if !ok {
					continue
				}
				joined[i] = combined
				joined = append(joined[:j], joined[j+1:]...)
				merged = true
				break
			}
		}
		if !merged {
			return joined
		}
	}
}

// joinSegments concatenates b onto a when an endpoint of one equals an
// endpoint of the other, reversing whichever segment is needed so the
// shared point isn't duplicated in the result.
func joinSegments(a, b orb.Ring) (orb.Ring, bool) {
	if len(a) == 0 || len(b) == 0 {
		return nil, false
	}
	aFirst, aLast := a[0], a[len(a)-1]
	bFirst, bLast := b[0], b[len(b)-1]

	switch {
	case aLast == bFirst:
		return concat(a, b[1:]), true
	case aLast == bLast:
		return concat(a, reversed(b)[1:]), true
	case aFirst == bLast:
		return concat(b, a[1:]), true
	case aFirst == bFirst:
		return concat(reversed(b), a[1:]), true
	default:
		return nil, false
	}
}

func concat(a, b orb.Ring) orb.Ring {
	out := make(orb.Ring, 0, len(a)+len(b))
	out = append(out, a...)
	out = append(out, b...)
	return out
}

func reversed(r orb.Ring) orb.Ring {
	out := make(orb.Ring, len(r))
	for i, p := range r {
		out[len(r)-1-i] = p
	}
	return out
}

// ensureClosed appends the first point to the end of coords if it isn't
// already equal to the last point, turning an open way into a ring.
func ensureClosed(coords []orb.Point) orb.Ring {
	ring := orb.Ring(append([]orb.Point(nil), coords...))
	if len(ring) > 0 && ring[0] != ring[len(ring)-1] {
		ring = append(ring, ring[0])
	}
	return ring
}
