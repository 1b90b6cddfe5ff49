package core

import (
	"math"

	"github.com/signalsfoundry/gridplanner/model"
)

// ClosureThreshold is how close, in raw coordinate degrees, a click must
// land to the first vertex to close the boundary. It is a planar
// approximation: a degree of longitude shrinks with latitude and nothing
// here compensates for that.
const ClosureThreshold = 0.001

// MinBoundaryPoints is the smallest polygon a boundary can close into.
const MinBoundaryPoints = 3

// PlanarDistance is the Euclidean distance between two points treating
// latitude and longitude degrees as a flat grid.
func PlanarDistance(a, b model.Point) float64 {
	dLat := a.Lat - b.Lat
	dLng := a.Lng - b.Lng
	return math.Sqrt(dLat*dLat + dLng*dLng)
}

// closesBoundary reports whether p lands on the start of an open boundary
// long enough to close.
func closesBoundary(open model.Boundary, p model.Point) bool {
	if len(open) < MinBoundaryPoints {
		return false
	}
	return PlanarDistance(p, open[0]) < ClosureThreshold
}
