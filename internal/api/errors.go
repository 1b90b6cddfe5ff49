package api

import (
	"errors"
	"net/http"

	"github.com/go-chi/render"
	"github.com/signalsfoundry/gridplanner/internal/backend"
	"github.com/signalsfoundry/gridplanner/internal/session"
)

// ErrUnknownSector indicates a sector id missing from the catalog.
var ErrUnknownSector = errors.New("unknown sector")

// ErrResponse is the JSON body of every failed request.
type ErrResponse struct {
	Err            error  `json:"-"`
	HTTPStatusCode int    `json:"-"`
	StatusText     string `json:"status"`
	ErrorText      string `json:"error,omitempty"`
}

// Render sets the response status.
func (e *ErrResponse) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, e.HTTPStatusCode)
	return nil
}

// errInvalidRequest wraps a malformed request body or parameter.
func errInvalidRequest(err error) *ErrResponse {
	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: http.StatusBadRequest,
		StatusText:     "Invalid request.",
		ErrorText:      err.Error(),
	}
}

// toErrResponse maps session and backend errors onto HTTP statuses.
func toErrResponse(err error) *ErrResponse {
	code := http.StatusInternalServerError
	switch {
	case errors.Is(err, ErrUnknownSector),
		errors.Is(err, session.ErrUnknownTower):
		code = http.StatusNotFound

	case errors.Is(err, session.ErrInvalidMode):
		code = http.StatusBadRequest

	case errors.Is(err, session.ErrNoGeometry),
		errors.Is(err, session.ErrNoPlan),
		errors.Is(err, session.ErrNoSOS),
		errors.Is(err, session.ErrPlanInFlight),
		errors.Is(err, session.ErrHealingInProgress):
		code = http.StatusConflict

	case errors.Is(err, session.ErrClosed):
		code = http.StatusServiceUnavailable

	case errors.Is(err, backend.ErrUnavailable),
		errors.Is(err, backend.ErrMalformedResponse):
		code = http.StatusBadGateway
	}

	var statusErr *backend.StatusError
	if errors.As(err, &statusErr) {
		code = http.StatusBadGateway
	}

	return &ErrResponse{
		Err:            err,
		HTTPStatusCode: code,
		StatusText:     http.StatusText(code),
		ErrorText:      err.Error(),
	}
}
