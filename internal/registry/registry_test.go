package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDemoRosterIsValid(t *testing.T) {
	reg := Demo()
	if err := reg.Validate(); err != nil {
		t.Fatalf("demo roster invalid: %v", err)
	}
	if len(reg.Hospitals) != 5 {
		t.Fatalf("expected 5 demo hospitals, got %d", len(reg.Hospitals))
	}
	if len(reg.Ambulances) != 3 {
		t.Fatalf("expected 3 demo ambulances, got %d", len(reg.Ambulances))
	}

	now := time.Now()
	for _, rec := range reg.Hospitals {
		h, err := rec.Hospital(now)
		if err != nil {
			t.Fatalf("hospital %s: %v", rec.ID, err)
		}
		if !h.Fresh(now, time.Minute) {
			t.Fatalf("hospital %s should boot fresh", rec.ID)
		}
		if h.Available() != rec.InitialBeds {
			t.Fatalf("hospital %s: expected %d beds, got %d", rec.ID, rec.InitialBeds, h.Available())
		}
	}
	for _, rec := range reg.Ambulances {
		if _, err := rec.Ambulance(now); err != nil {
			t.Fatalf("ambulance %s: %v", rec.ID, err)
		}
	}
}

func TestLoadWithoutConfigFallsBackToDemo(t *testing.T) {
	t.Setenv("REGISTRY_CONFIG", "")
	reg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reg.Hospitals) != 5 {
		t.Fatalf("expected demo roster, got %d hospitals", len(reg.Hospitals))
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "registry.yaml")
	doc := []byte(`
hospitals:
  - id: H-9
    name: Test General
    location: {lat: 28.60, lon: 77.20}
    capabilities: [general]
    equipment: [icu_bed]
    beds_total: 10
    initial_beds: 5
    initial_er_load: 0.5
ambulances:
  - id: A-9
    callsign: Test Unit
    location: {lat: 28.61, lon: 77.21}
`)
	if err := os.WriteFile(path, doc, 0o600); err != nil {
		t.Fatalf("write registry: %v", err)
	}
	t.Setenv("REGISTRY_CONFIG", path)

	reg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(reg.Hospitals) != 1 || reg.Hospitals[0].ID != "H-9" {
		t.Fatalf("unexpected roster: %+v", reg.Hospitals)
	}
	if reg.Ambulances[0].Callsign != "Test Unit" {
		t.Fatalf("unexpected ambulance: %+v", reg.Ambulances[0])
	}
}

func TestValidateRejectsBadRecords(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Registry)
	}{
		{"no hospitals", func(r *Registry) { r.Hospitals = nil }},
		{"duplicate hospital id", func(r *Registry) { r.Hospitals[1].ID = r.Hospitals[0].ID }},
		{"zero location", func(r *Registry) { r.Hospitals[0].Location.Lat = 0; r.Hospitals[0].Location.Lon = 0 }},
		{"zero beds", func(r *Registry) { r.Hospitals[0].BedsTotal = 0 }},
		{"bad load", func(r *Registry) { r.Hospitals[0].InitialLoad = 1.5 }},
		{"ambulance reuses hospital id", func(r *Registry) { r.Ambulances[0].ID = r.Hospitals[0].ID }},
	}
	for _, tc := range cases {
		reg := Demo()
		tc.mutate(&reg)
		if err := reg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", tc.name)
		}
	}
}
