package session

import "errors"

// Precondition violations. They are returned before any request is sent
// and leave the session unchanged.
var (
	// ErrNoGeometry indicates a plan was requested with no boundary of at
	// least three points.
	ErrNoGeometry = errors.New("no closed boundary to plan")
	// ErrPlanInFlight indicates a plan request is already outstanding.
	ErrPlanInFlight = errors.New("plan computation already in progress")
	// ErrNoPlan indicates the operation needs a computed plan.
	ErrNoPlan = errors.New("no plan computed")
	// ErrUnknownTower indicates the tower id is not part of the current plan.
	ErrUnknownTower = errors.New("tower not in current plan")
	// ErrHealingInProgress indicates a node kill while the mesh is healing.
	ErrHealingInProgress = errors.New("mesh healing already in progress")
	// ErrNoSOS indicates a drone dispatch without an active SOS.
	ErrNoSOS = errors.New("no active SOS")
	// ErrInvalidMode indicates an unknown interaction mode.
	ErrInvalidMode = errors.New("invalid interaction mode")
	// ErrClosed indicates the session has been closed.
	ErrClosed = errors.New("session closed")
)
