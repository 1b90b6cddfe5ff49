package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/signalsfoundry/gridplanner/internal/logging"
	"github.com/signalsfoundry/gridplanner/model"
)

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := NewClient(Config{BaseURL: srv.URL, Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientValidatesBaseURL(t *testing.T) {
	for _, raw := range []string{"", "   ", "ftp://host", "://bad"} {
		if _, err := NewClient(Config{BaseURL: raw}); err == nil {
			t.Fatalf("NewClient(%q) succeeded, want error", raw)
		}
	}
}

func TestComputePlanRoundTrip(t *testing.T) {
	var got model.PlanRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/calculate-plan" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("X-Operation-ID") != "op-7" {
			t.Errorf("operation id header = %q", r.Header.Get("X-Operation-ID"))
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{
			"towers": [{"id": "T1", "lat": 31.53, "lng": 78.25, "type": "master_hub", "tech": "Microwave"}],
			"links": [{"from": [31.53, 78.25], "to": {"lat": 31.54, "lng": 78.26}}],
			"kpis": {"total_towers": 1, "area": 2.5, "capex": -10},
			"terrain_breakdown": {"radius": 3.5, "tech": "Microwave"},
			"logs": ["placed hub"]
		}`))
	}))

	req := model.PlanRequest{
		Polygons:    [][]model.Point{{{Lat: 1, Lng: 1}, {Lat: 1, Lng: 2}, {Lat: 2, Lng: 2}}},
		TerrainType: model.TerrainRocky,
	}
	ctx := logging.ContextWithOperationID(context.Background(), "op-7")
	res, err := c.ComputePlan(ctx, req)
	if err != nil {
		t.Fatalf("ComputePlan: %v", err)
	}
	if got.TerrainType != model.TerrainRocky || len(got.Polygons) != 1 || len(got.Polygons[0]) != 3 {
		t.Fatalf("service saw %+v", got)
	}
	if res.Technology() != "Microwave" || res.EffectiveRadius() != 3.5 {
		t.Fatalf("breakdown = %+v", res.Breakdown)
	}
	if res.KPIs.Capex != 0 {
		t.Fatalf("negative capex not normalized: %v", res.KPIs.Capex)
	}
	if len(res.Links) != 1 || res.Links[0].From.Lat != 31.53 || res.Links[0].To.Lng != 78.26 {
		t.Fatalf("links = %+v", res.Links)
	}
}

func TestComputePlanRejectsTowerWithoutID(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"towers": [{"lat": 1, "lng": 2}], "kpis": {}}`))
	}))
	_, err := c.ComputePlan(context.Background(), model.PlanRequest{})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}

func TestResilienceQueryAndNormalize(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/weather-resilience/chitkul" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.URL.Query().Get("tech_type") != "Satellite" || r.URL.Query().Get("simulate") != "true" {
			t.Errorf("query = %q", r.URL.RawQuery)
		}
		_, _ = w.Write([]byte(`{
			"village_id": "chitkul", "condition": "Blizzard", "temp": "-12C",
			"severity_score": 140, "connectivity_score": 31.6, "is_sos_triggered": true,
			"alert_message": "Avalanche risk",
			"network_policy": {"status": "EMERGENCY", "bandwidth_cap": 2, "allowed_apps": ["sms"], "blocked_apps": ["video"]},
			"timestamp": "10:42:01"
		}`))
	}))

	s, err := c.Resilience(context.Background(), model.TelemetryRequest{SectorID: "chitkul", Technology: "Satellite", Simulate: true})
	if err != nil {
		t.Fatalf("Resilience: %v", err)
	}
	if s.SeverityScore != 100 {
		t.Fatalf("severity = %d, want clamp to 100", s.SeverityScore)
	}
	if s.ResilienceScore != 32 {
		t.Fatalf("resilience = %d, want 32 from connectivity_score", s.ResilienceScore)
	}
	if !s.SOS || s.AlertMessage != "Avalanche risk" || s.Policy.AllowedApps[0] != "sms" {
		t.Fatalf("sample = %+v", s)
	}
}

func TestResilienceEscapesSectorID(t *testing.T) {
	var gotPath, gotRaw string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotRaw = r.URL.Path, r.URL.EscapedPath()
		_, _ = w.Write([]byte(`{"condition": "Clear", "resilience_score": 90}`))
	}))

	if _, err := c.Resilience(context.Background(), model.TelemetryRequest{SectorID: "../calculate-plan", Technology: "Fiber"}); err != nil {
		t.Fatalf("Resilience: %v", err)
	}
	if gotPath != "/weather-resilience/../calculate-plan" {
		t.Fatalf("path = %q, want sector kept as one element", gotPath)
	}
	if gotRaw != "/weather-resilience/..%2Fcalculate-plan" {
		t.Fatalf("escaped path = %q", gotRaw)
	}

	for _, id := range []string{".", ".."} {
		if _, err := c.Resilience(context.Background(), model.TelemetryRequest{SectorID: id}); err == nil {
			t.Fatalf("expected error for sector id %q", id)
		}
	}
}

func TestResilienceRequiresSector(t *testing.T) {
	c := newTestClient(t, http.NotFoundHandler())
	if _, err := c.Resilience(context.Background(), model.TelemetryRequest{}); err == nil {
		t.Fatalf("expected error for empty sector")
	}
}

func TestRerouteSendsTowersAndDeadNode(t *testing.T) {
	var got model.RerouteRequest
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/reroute-network" {
			t.Errorf("path = %q", r.URL.Path)
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"new_links": [{"from": [1, 1], "to": [2, 2]}]}`))
	}))

	res, err := c.Reroute(context.Background(), model.RerouteRequest{
		Towers:     []model.Tower{{ID: "T1"}, {ID: "T3"}},
		DeadNodeID: "T3",
	})
	if err != nil {
		t.Fatalf("Reroute: %v", err)
	}
	if got.DeadNodeID != "T3" || len(got.Towers) != 2 {
		t.Fatalf("service saw %+v", got)
	}
	if len(res.NewLinks) != 1 || res.NewLinks[0].To.Lat != 2 {
		t.Fatalf("new links = %+v", res.NewLinks)
	}
}

func TestStatusErrorAndUnavailable(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "optimizer exploded", http.StatusBadGateway)
	}))
	_, err := c.ComputePlan(context.Background(), model.PlanRequest{})
	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("err = %v, want *StatusError", err)
	}
	if se.Code != http.StatusBadGateway || se.Body != "optimizer exploded" {
		t.Fatalf("status error = %+v", se)
	}

	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()
	dead, err := NewClient(Config{BaseURL: base, Timeout: time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	if _, err := dead.Reroute(context.Background(), model.RerouteRequest{}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("err = %v, want ErrUnavailable", err)
	}
}

func TestMalformedBody(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`not json`))
	}))
	if _, err := c.Reroute(context.Background(), model.RerouteRequest{}); !errors.Is(err, ErrMalformedResponse) {
		t.Fatalf("err = %v, want ErrMalformedResponse", err)
	}
}
