// Package registry loads hospital and ambulance master data. A YAML file
// pointed to by REGISTRY_CONFIG replaces the built-in demo roster.
package registry

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	dispatch "ambulance-cloud/internal/dispatch/domain"
	"ambulance-cloud/internal/geo"
)

// HospitalRecord is one hospital's static master data plus the capacity
// values that seed its first feed report.
type HospitalRecord struct {
	ID           string    `yaml:"id"`
	Name         string    `yaml:"name"`
	Location     geo.Point `yaml:"location"`
	Capabilities []string  `yaml:"capabilities"`
	Equipment    []string  `yaml:"equipment"`
	BedsTotal    int       `yaml:"beds_total"`
	InitialBeds  int       `yaml:"initial_beds"`
	InitialLoad  float64   `yaml:"initial_er_load"`
}

// AmbulanceRecord is one unit's static master data.
type AmbulanceRecord struct {
	ID       string    `yaml:"id"`
	Callsign string    `yaml:"callsign"`
	Location geo.Point `yaml:"location"`
}

// HotspotRecord seeds a congested grid cell around a location.
type HotspotRecord struct {
	Location geo.Point `yaml:"location"`
	Factor   float64   `yaml:"factor"`
}

// IncidentRecord seeds a road incident.
type IncidentRecord struct {
	ID          string    `yaml:"id"`
	Location    geo.Point `yaml:"location"`
	Severity    string    `yaml:"severity"`
	Description string    `yaml:"description"`
}

// Registry is the master data document.
type Registry struct {
	Hospitals  []HospitalRecord  `yaml:"hospitals"`
	Ambulances []AmbulanceRecord `yaml:"ambulances"`
	Hotspots   []HotspotRecord   `yaml:"hotspots"`
	Incidents  []IncidentRecord  `yaml:"incidents"`
}

// Load reads REGISTRY_CONFIG when set, otherwise returns the demo roster.
func Load() (Registry, error) {
	path := os.Getenv("REGISTRY_CONFIG")
	if path == "" {
		return Demo(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Registry{}, err
	}
	var reg Registry
	if err := yaml.Unmarshal(data, &reg); err != nil {
		return Registry{}, err
	}
	if err := reg.Validate(); err != nil {
		return Registry{}, err
	}
	return reg, nil
}

// Validate checks record invariants and ID uniqueness.
func (r Registry) Validate() error {
	if len(r.Hospitals) == 0 {
		return fmt.Errorf("registry: no hospitals defined")
	}
	seen := make(map[string]bool, len(r.Hospitals)+len(r.Ambulances))
	for _, h := range r.Hospitals {
		if h.ID == "" || h.Name == "" {
			return fmt.Errorf("registry: hospital with empty id or name")
		}
		if seen[h.ID] {
			return fmt.Errorf("registry: duplicate hospital id %s", h.ID)
		}
		seen[h.ID] = true
		if !h.Location.Valid() || h.Location.IsZero() {
			return fmt.Errorf("registry: hospital %s: bad location %s", h.ID, h.Location)
		}
		if h.BedsTotal <= 0 {
			return fmt.Errorf("registry: hospital %s: beds_total must be positive", h.ID)
		}
		if h.InitialBeds < 0 || h.InitialLoad < 0 || h.InitialLoad > 1 {
			return fmt.Errorf("registry: hospital %s: bad initial capacity", h.ID)
		}
	}
	for _, a := range r.Ambulances {
		if a.ID == "" {
			return fmt.Errorf("registry: ambulance with empty id")
		}
		if seen[a.ID] {
			return fmt.Errorf("registry: duplicate ambulance id %s", a.ID)
		}
		seen[a.ID] = true
		if !a.Location.Valid() || a.Location.IsZero() {
			return fmt.Errorf("registry: ambulance %s: bad location %s", a.ID, a.Location)
		}
	}
	return nil
}

// Hospital builds the domain entity, applying the initial capacity report
// when the record carries one.
func (h HospitalRecord) Hospital(now time.Time) (*dispatch.Hospital, error) {
	hospital, err := dispatch.NewHospital(h.ID, h.Name, h.Location, h.Capabilities, h.Equipment, h.BedsTotal)
	if err != nil {
		return nil, err
	}
	if h.InitialBeds > 0 {
		if err := hospital.ApplyReport(h.InitialBeds, h.InitialLoad, now); err != nil {
			return nil, err
		}
	}
	return hospital, nil
}

// Ambulance builds the domain entity.
func (a AmbulanceRecord) Ambulance(now time.Time) (*dispatch.Ambulance, error) {
	return dispatch.NewAmbulance(a.ID, a.Callsign, a.Location, now)
}

// Demo returns the Delhi reference roster used by the demo deployment and
// the integration tests.
func Demo() Registry {
	return Registry{
		Hospitals: []HospitalRecord{
			{
				ID:           "H001",
				Name:         "All India Institute of Medical Sciences (AIIMS)",
				Location:     geo.Point{Lat: 28.5672, Lon: 77.2100},
				Capabilities: []string{"cardiac", "neuro", "trauma", "pediatric", "general"},
				Equipment:    []string{"cath_lab", "ct_scanner", "mri", "or_room", "icu_bed"},
				BedsTotal:    50,
				InitialBeds:  24,
				InitialLoad:  0.55,
			},
			{
				ID:           "H002",
				Name:         "Fortis Escorts Heart Institute",
				Location:     geo.Point{Lat: 28.6139, Lon: 77.2090},
				Capabilities: []string{"cardiac", "vascular", "general"},
				Equipment:    []string{"cath_lab", "ct_scanner", "icu_bed"},
				BedsTotal:    15,
				InitialBeds:  7,
				InitialLoad:  0.62,
			},
			{
				ID:           "H003",
				Name:         "Max Super Speciality Hospital",
				Location:     geo.Point{Lat: 28.6289, Lon: 77.2065},
				Capabilities: []string{"neuro", "cardiac", "trauma", "orthopedic"},
				Equipment:    []string{"cath_lab", "ct_scanner", "mri", "or_room", "icu_bed"},
				BedsTotal:    25,
				InitialBeds:  12,
				InitialLoad:  0.48,
			},
			{
				ID:           "H004",
				Name:         "Apollo Hospital",
				Location:     geo.Point{Lat: 28.6089, Lon: 77.2190},
				Capabilities: []string{"cardiac", "neuro", "oncology", "general"},
				Equipment:    []string{"cath_lab", "ct_scanner", "mri", "icu_bed"},
				BedsTotal:    30,
				InitialBeds:  14,
				InitialLoad:  0.71,
			},
			{
				ID:           "H005",
				Name:         "Safdarjung Hospital",
				Location:     geo.Point{Lat: 28.5706, Lon: 77.2081},
				Capabilities: []string{"trauma", "general", "pediatric", "orthopedic"},
				Equipment:    []string{"ct_scanner", "or_room", "icu_bed"},
				BedsTotal:    40,
				InitialBeds:  19,
				InitialLoad:  0.66,
			},
		},
		Ambulances: []AmbulanceRecord{
			{ID: "AMB-001", Callsign: "Unit 1", Location: geo.Point{Lat: 28.6304, Lon: 77.2177}},
			{ID: "AMB-002", Callsign: "Unit 2", Location: geo.Point{Lat: 28.5850, Lon: 77.2100}},
			{ID: "AMB-003", Callsign: "Unit 3", Location: geo.Point{Lat: 28.6200, Lon: 77.2300}},
		},
		Hotspots: []HotspotRecord{
			{Location: geo.Point{Lat: 28.6139, Lon: 77.2090}, Factor: 2.6},
		},
		Incidents: []IncidentRecord{
			{
				ID:          "INC-DEMO-1",
				Location:    geo.Point{Lat: 28.6129, Lon: 77.2295},
				Severity:    "high",
				Description: "multi-vehicle collision",
			},
		},
	}
}
