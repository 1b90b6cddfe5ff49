package model

import (
	"encoding/json"
	"fmt"
)

// Terrain classifies the ground a sector sits on. The planning service
// picks backhaul technology from it.
type Terrain string

const (
	TerrainSnow   Terrain = "snow"
	TerrainRocky  Terrain = "rocky"
	TerrainValley Terrain = "valley"
)

// Valid reports whether t is one of the known terrain classes.
func (t Terrain) Valid() bool {
	switch t {
	case TerrainSnow, TerrainRocky, TerrainValley:
		return true
	default:
		return false
	}
}

// Description is the operator-facing summary of what the terrain means
// for deployment.
func (t Terrain) Description() string {
	switch t {
	case TerrainSnow:
		return "Heavy snowfall and remote access favour satellite and microwave backhaul over trenching."
	case TerrainRocky:
		return "Rugged elevation changes need line-of-sight microwave relays between ridges."
	case TerrainValley:
		return "Flat variance allows efficient optical fiber (GPON) trenching."
	default:
		return "Standard terrain configuration."
	}
}

// Point is a latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat" yaml:"lat" validate:"gte=-90,lte=90"`
	Lng float64 `json:"lng" yaml:"lng" validate:"gte=-180,lte=180"`
}

// UnmarshalJSON accepts both {"lat":..,"lng":..} objects and [lat, lng]
// arrays, since map tooling emits either shape.
func (p *Point) UnmarshalJSON(data []byte) error {
	var pair []float64
	if err := json.Unmarshal(data, &pair); err == nil {
		if len(pair) != 2 {
			return fmt.Errorf("point array must have 2 elements, got %d", len(pair))
		}
		p.Lat, p.Lng = pair[0], pair[1]
		return nil
	}

	var obj struct {
		Lat *float64 `json:"lat"`
		Lng *float64 `json:"lng"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return fmt.Errorf("decode point: %w", err)
	}
	if obj.Lat == nil || obj.Lng == nil {
		return fmt.Errorf("point requires both lat and lng")
	}
	p.Lat, p.Lng = *obj.Lat, *obj.Lng
	return nil
}

// Boundary is an ordered polygon outline. Insertion order defines the
// polygon; the closing edge back to the first point is implicit.
type Boundary []Point

// Clone returns a copy that does not share the backing array.
func (b Boundary) Clone() Boundary {
	if b == nil {
		return nil
	}
	out := make(Boundary, len(b))
	copy(out, b)
	return out
}

// CriticalNode marks a facility (clinic, school, panchayat office) that
// needs guaranteed anchor connectivity.
type CriticalNode struct {
	Position Point `json:"position"`
}

// Sector is a target village the operator plans coverage for.
type Sector struct {
	ID      string  `json:"id" yaml:"id" validate:"required"`
	Name    string  `json:"name" yaml:"name" validate:"required"`
	Center  Point   `json:"center" yaml:"center"`
	Terrain Terrain `json:"terrain" yaml:"terrain" validate:"required,oneof=snow rocky valley"`
}
