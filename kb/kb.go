// Package kb holds the catalog of target sectors an operator can plan for.
package kb

import (
	"fmt"
	"io"
	"os"
	"sort"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/signalsfoundry/gridplanner/model"
	"gopkg.in/yaml.v3"
)

// SectorCatalog is an in-memory, thread-safe store of sectors. Sectors are
// immutable once added.
type SectorCatalog struct {
	mu      sync.RWMutex
	sectors map[string]model.Sector
}

// NewSectorCatalog constructs an empty catalog.
func NewSectorCatalog() *SectorCatalog {
	return &SectorCatalog{sectors: make(map[string]model.Sector)}
}

// AddSector validates and stores s. It returns an error if the ID already
// exists.
func (c *SectorCatalog) AddSector(s model.Sector) error {
	if err := validate.Struct(s); err != nil {
		return fmt.Errorf("sector %q: %w", s.ID, err)
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.sectors[s.ID]; exists {
		return fmt.Errorf("sector with ID %q already exists", s.ID)
	}
	c.sectors[s.ID] = s
	return nil
}

// GetSector returns the sector with the given ID.
func (c *SectorCatalog) GetSector(id string) (model.Sector, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.sectors[id]
	return s, ok
}

// ListSectors returns all sectors ordered by ID.
func (c *SectorCatalog) ListSectors() []model.Sector {
	c.mu.RLock()
	defer c.mu.RUnlock()

	res := make([]model.Sector, 0, len(c.sectors))
	for _, s := range c.sectors {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].ID < res[j].ID })
	return res
}

// Len returns the number of sectors.
func (c *SectorCatalog) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.sectors)
}

// DefaultSectors are the Himachal villages the console ships with.
var DefaultSectors = []model.Sector{
	{ID: "chitkul", Name: "Chitkul", Center: model.Point{Lat: 31.3526, Lng: 78.4379}, Terrain: model.TerrainSnow},
	{ID: "kalpa", Name: "Kalpa", Center: model.Point{Lat: 31.5372, Lng: 78.2562}, Terrain: model.TerrainRocky},
	{ID: "langza", Name: "Langza", Center: model.Point{Lat: 32.2656, Lng: 78.0643}, Terrain: model.TerrainValley},
}

// Default returns a catalog holding DefaultSectors.
func Default() *SectorCatalog {
	c := NewSectorCatalog()
	for _, s := range DefaultSectors {
		if err := c.AddSector(s); err != nil {
			panic(err)
		}
	}
	return c
}

type sectorFile struct {
	Sectors []model.Sector `yaml:"sectors"`
}

// LoadSectors decodes a YAML document of the form
//
//	sectors:
//	  - id: chitkul
//	    name: Chitkul
//	    center: {lat: 31.3526, lng: 78.4379}
//	    terrain: snow
//
// into a new catalog. Every sector is validated; the first invalid or
// duplicate entry aborts the load.
func LoadSectors(r io.Reader) (*SectorCatalog, error) {
	var doc sectorFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode sectors: %w", err)
	}
	if len(doc.Sectors) == 0 {
		return nil, fmt.Errorf("sector file defines no sectors")
	}

	c := NewSectorCatalog()
	for i, s := range doc.Sectors {
		if err := c.AddSector(s); err != nil {
			return nil, fmt.Errorf("sectors[%d]: %w", i, err)
		}
	}
	return c, nil
}

// LoadSectorsFile opens path and calls LoadSectors. An empty path yields
// the default catalog.
func LoadSectorsFile(path string) (*SectorCatalog, error) {
	if path == "" {
		return Default(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sector file: %w", err)
	}
	defer f.Close()
	return LoadSectors(f)
}

var validate = validator.New(validator.WithRequiredStructEnabled())
