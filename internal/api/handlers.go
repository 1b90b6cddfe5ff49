package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/render"
	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/gridplanner/core"
	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/internal/session"
	"github.com/signalsfoundry/gridplanner/model"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// SectorRequest selects a sector from the catalog.
type SectorRequest struct {
	ID string `json:"id" validate:"required"`
}

// Bind validates the decoded body.
func (req *SectorRequest) Bind(*http.Request) error { return validate.Struct(req) }

// ModeRequest switches the interaction mode by wire name.
type ModeRequest struct {
	Mode string `json:"mode"`

	parsed core.Mode
}

// Bind parses the mode name.
func (req *ModeRequest) Bind(*http.Request) error {
	m, err := core.ParseMode(req.Mode)
	if err != nil {
		return fmt.Errorf("%w: %v", session.ErrInvalidMode, err)
	}
	req.parsed = m
	return nil
}

// ClickRequest is one map click. The point may be an object or a
// [lat, lng] pair.
type ClickRequest struct {
	Point model.Point `json:"point"`
}

// Bind validates the coordinate ranges.
func (req *ClickRequest) Bind(*http.Request) error { return validate.Struct(req) }

// SimulateRequest flips the stress-test toggle.
type SimulateRequest struct {
	Enabled *bool `json:"enabled" validate:"required"`
}

// Bind requires the toggle to be present.
func (req *SimulateRequest) Bind(*http.Request) error { return validate.Struct(req) }

// KillNodeRequest names the tower to fail.
type KillNodeRequest struct {
	TowerID string `json:"tower_id" validate:"required"`
}

// Bind validates the decoded body.
func (req *KillNodeRequest) Bind(*http.Request) error { return validate.Struct(req) }

// ClickResponse reports what a click did and the resulting session.
type ClickResponse struct {
	Outcome  string           `json:"outcome"`
	Snapshot session.Snapshot `json:"session"`
}

func (s *Server) handleListSectors(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.catalog.ListSectors())
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.session.Snapshot())
}

func (s *Server) handleSelectSector(w http.ResponseWriter, r *http.Request) {
	var req SectorRequest
	if err := render.Bind(r, &req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	sector, ok := s.catalog.GetSector(req.ID)
	if !ok {
		_ = render.Render(w, r, toErrResponse(fmt.Errorf("%w: %q", ErrUnknownSector, req.ID)))
		return
	}
	if err := s.session.SelectSector(sector); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, s.session.Snapshot())
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	if err := s.session.Reset(); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, s.session.Snapshot())
}

func (s *Server) handleSetMode(w http.ResponseWriter, r *http.Request) {
	var req ModeRequest
	if err := render.Bind(r, &req); err != nil {
		s.fail(w, r, err)
		return
	}
	if err := s.session.SetMode(req.parsed); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, s.session.Snapshot())
}

func (s *Server) handleClick(w http.ResponseWriter, r *http.Request) {
	var req ClickRequest
	if err := render.Bind(r, &req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	outcome := s.session.Click(req.Point)
	render.JSON(w, r, ClickResponse{Outcome: outcome.String(), Snapshot: s.session.Snapshot()})
}

func (s *Server) handleComputePlan(w http.ResponseWriter, r *http.Request) {
	if err := s.session.ComputePlan(r.Context()); err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, s.session.Snapshot())
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	a, ok := s.session.Analytics()
	if !ok {
		s.fail(w, r, session.ErrNoPlan)
		return
	}
	render.JSON(w, r, a)
}

func (s *Server) handleSetSimulate(w http.ResponseWriter, r *http.Request) {
	var req SimulateRequest
	if err := render.Bind(r, &req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	if err := s.session.SetSimulate(*req.Enabled); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, s.session.Snapshot().Telemetry)
}

func (s *Server) handleDispatchDrone(w http.ResponseWriter, r *http.Request) {
	if err := s.session.DispatchDrone(); err != nil {
		s.fail(w, r, err)
		return
	}
	render.JSON(w, r, s.session.Snapshot().Telemetry)
}

func (s *Server) handleKillNode(w http.ResponseWriter, r *http.Request) {
	var req KillNodeRequest
	if err := render.Bind(r, &req); err != nil {
		_ = render.Render(w, r, errInvalidRequest(err))
		return
	}
	ev, err := s.session.KillNode(r.Context(), req.TowerID)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	render.Status(r, http.StatusAccepted)
	render.JSON(w, r, ev)
}

// fail renders err and logs anything that is not a client error.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	resp := toErrResponse(err)
	if resp.HTTPStatusCode >= http.StatusInternalServerError {
		logging.FromContext(r.Context(), s.log).Error(r.Context(), "request failed", logging.Err(err))
	}
	_ = render.Render(w, r, resp)
}
