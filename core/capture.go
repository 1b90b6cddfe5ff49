package core

import "github.com/signalsfoundry/gridplanner/model"

// ClickOutcome describes what a click did to the captured geometry.
type ClickOutcome int

const (
	OutcomeIgnored ClickOutcome = iota
	OutcomeVertexAdded
	OutcomeBoundaryClosed
	OutcomeNodePlaced
)

func (o ClickOutcome) String() string {
	switch o {
	case OutcomeVertexAdded:
		return "vertex_added"
	case OutcomeBoundaryClosed:
		return "boundary_closed"
	case OutcomeNodePlaced:
		return "node_placed"
	default:
		return "ignored"
	}
}

// GeometryCapture accumulates operator clicks into boundaries and critical
// nodes. It is not safe for concurrent use; the owning session serialises
// access.
type GeometryCapture struct {
	finalized []model.Boundary
	current   model.Boundary
	nodes     []model.CriticalNode
}

// HandleClick interprets p according to the controller's mode.
//
// In placing mode a critical node is appended and the controller drops
// back to idle. In drawing mode a click near the first vertex of a boundary
// holding more than two points closes it; the closing click itself is not
// stored. Any other drawing click appends a vertex.
func (g *GeometryCapture) HandleClick(mc *ModeController, p model.Point) ClickOutcome {
	switch mc.Mode() {
	case ModePlacing:
		g.nodes = append(g.nodes, model.CriticalNode{Position: p})
		mc.Reset()
		return OutcomeNodePlaced

	case ModeDrawing:
		if closesBoundary(g.current, p) {
			g.finalized = append(g.finalized, g.current)
			g.current = nil
			return OutcomeBoundaryClosed
		}
		g.current = append(g.current, p)
		return OutcomeVertexAdded

	default:
		return OutcomeIgnored
	}
}

// RestartBoundary discards the in-progress boundary.
func (g *GeometryCapture) RestartBoundary() { g.current = nil }

// Reset drops all captured geometry.
func (g *GeometryCapture) Reset() {
	g.finalized = nil
	g.current = nil
	g.nodes = nil
}

// Finalized returns copies of the closed boundaries.
func (g *GeometryCapture) Finalized() []model.Boundary {
	out := make([]model.Boundary, 0, len(g.finalized))
	for _, b := range g.finalized {
		out = append(out, b.Clone())
	}
	return out
}

// Current returns a copy of the in-progress boundary.
func (g *GeometryCapture) Current() model.Boundary { return g.current.Clone() }

// CriticalNodes returns a copy of the placed critical nodes.
func (g *GeometryCapture) CriticalNodes() []model.CriticalNode {
	return append([]model.CriticalNode(nil), g.nodes...)
}

// Ready reports whether there is enough geometry to request a plan.
func (g *GeometryCapture) Ready() bool {
	return len(g.finalized) > 0 || len(g.current) >= MinBoundaryPoints
}

// PlanGeometry returns the boundaries a plan request should cover: every
// finalized boundary plus the in-progress one when it already encloses an
// area. The in-progress boundary is treated as implicitly closed.
func (g *GeometryCapture) PlanGeometry() []model.Boundary {
	out := g.Finalized()
	if len(g.current) >= MinBoundaryPoints {
		out = append(out, g.current.Clone())
	}
	return out
}

// BuildPlanRequest assembles a fresh request for the given terrain. The
// boolean is false when there is not enough geometry.
func (g *GeometryCapture) BuildPlanRequest(terrain model.Terrain) (model.PlanRequest, bool) {
	if !g.Ready() {
		return model.PlanRequest{}, false
	}
	polys := g.PlanGeometry()
	req := model.PlanRequest{
		Polygons:      make([][]model.Point, 0, len(polys)),
		CriticalNodes: make([]model.Point, 0, len(g.nodes)),
		TerrainType:   terrain,
	}
	for _, b := range polys {
		req.Polygons = append(req.Polygons, []model.Point(b))
	}
	for _, n := range g.nodes {
		req.CriticalNodes = append(req.CriticalNodes, n.Position)
	}
	return req, true
}
