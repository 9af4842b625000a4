package memory

import (
	"sort"
	"sync"

	dispatch "ambulance-cloud/internal/dispatch/domain"
)

// Store is the in-memory arena for the dispatch working set. Entities are
// cloned on the way in and out, so a caller can mutate its copy freely and
// commit by putting it back; until then the stored state is untouched.
type Store struct {
	mu          sync.RWMutex
	emergencies map[string]*dispatch.Emergency
	ambulances  map[string]*dispatch.Ambulance
	hospitals   map[string]*dispatch.Hospital
}

// NewStore constructs an empty store.
func NewStore() *Store {
	return &Store{
		emergencies: make(map[string]*dispatch.Emergency),
		ambulances:  make(map[string]*dispatch.Ambulance),
		hospitals:   make(map[string]*dispatch.Hospital),
	}
}

// PutEmergency commits an emergency.
func (s *Store) PutEmergency(e *dispatch.Emergency) {
	if e == nil {
		return
	}
	s.mu.Lock()
	s.emergencies[e.ID] = e.Clone()
	s.mu.Unlock()
}

// Emergency loads a copy of one emergency.
func (s *Store) Emergency(id string) (*dispatch.Emergency, bool) {
	s.mu.RLock()
	e, ok := s.emergencies[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return e.Clone(), true
}

// RemoveEmergency drops a terminal emergency from the working set.
func (s *Store) RemoveEmergency(id string) {
	s.mu.Lock()
	delete(s.emergencies, id)
	s.mu.Unlock()
}

// Emergencies returns copies of all emergencies ordered by ID.
func (s *Store) Emergencies() []*dispatch.Emergency {
	s.mu.RLock()
	out := make([]*dispatch.Emergency, 0, len(s.emergencies))
	for _, e := range s.emergencies {
		out = append(out, e.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutAmbulance commits an ambulance.
func (s *Store) PutAmbulance(a *dispatch.Ambulance) {
	if a == nil {
		return
	}
	s.mu.Lock()
	s.ambulances[a.ID] = a.Clone()
	s.mu.Unlock()
}

// Ambulance loads a copy of one ambulance.
func (s *Store) Ambulance(id string) (*dispatch.Ambulance, bool) {
	s.mu.RLock()
	a, ok := s.ambulances[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return a.Clone(), true
}

// Ambulances returns copies of all ambulances ordered by ID.
func (s *Store) Ambulances() []*dispatch.Ambulance {
	s.mu.RLock()
	out := make([]*dispatch.Ambulance, 0, len(s.ambulances))
	for _, a := range s.ambulances {
		out = append(out, a.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// PutHospital commits a hospital.
func (s *Store) PutHospital(h *dispatch.Hospital) {
	if h == nil {
		return
	}
	s.mu.Lock()
	s.hospitals[h.ID] = h.Clone()
	s.mu.Unlock()
}

// Hospital loads a copy of one hospital.
func (s *Store) Hospital(id string) (*dispatch.Hospital, bool) {
	s.mu.RLock()
	h, ok := s.hospitals[id]
	s.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return h.Clone(), true
}

// Hospitals returns copies of all hospitals ordered by ID.
func (s *Store) Hospitals() []*dispatch.Hospital {
	s.mu.RLock()
	out := make([]*dispatch.Hospital, 0, len(s.hospitals))
	for _, h := range s.hospitals {
		out = append(out, h.Clone())
	}
	s.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
