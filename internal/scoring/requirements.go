package scoring

import "ambulance-cloud/internal/triage"

// Capability and equipment identifiers shared with the hospital registry.
const (
	CapabilityCardiac   = "cardiac"
	CapabilityNeuro     = "neuro"
	CapabilityTrauma    = "trauma"
	CapabilityGeneral   = "general"
	CapabilityPediatric = "pediatric"

	EquipmentCathLab   = "cath_lab"
	EquipmentCTScanner = "ct_scanner"
	EquipmentMRI       = "mri"
	EquipmentORRoom    = "or_room"
	EquipmentICUBed    = "icu_bed"
)

// Requirements is what an emergency demands from a destination hospital.
// A mandatory specialty excludes hospitals that lack it; equipment is soft
// and only shapes the score.
type Requirements struct {
	Specialty string   `json:"specialty"`
	Mandatory bool     `json:"mandatory"`
	Equipment []string `json:"equipment,omitempty"`
}

// DeriveRequirements maps the reported condition, the current risk level and
// the vitals pattern onto hospital requirements. Named acute conditions carry
// a mandatory specialty from the start; an "other" emergency is upgraded to a
// mandatory specialty when critical vitals reveal an acute pattern.
func DeriveRequirements(condition triage.Condition, risk triage.RiskLevel, pattern triage.Pattern) Requirements {
	req := baseRequirements(condition)

	if risk != triage.RiskCritical {
		return req
	}

	switch pattern {
	case triage.PatternCardiacArrest:
		if !req.Mandatory || req.Specialty == CapabilityGeneral {
			req.Specialty = CapabilityCardiac
			req.Mandatory = true
		}
		req.Equipment = mergeEquipment(req.Equipment, EquipmentCathLab, EquipmentICUBed)
	case triage.PatternStroke:
		if !req.Mandatory || req.Specialty == CapabilityGeneral {
			req.Specialty = CapabilityNeuro
			req.Mandatory = true
		}
		req.Equipment = mergeEquipment(req.Equipment, EquipmentCTScanner)
	case triage.PatternTraumaShock:
		if !req.Mandatory || req.Specialty == CapabilityGeneral {
			req.Specialty = CapabilityTrauma
			req.Mandatory = true
		}
		req.Equipment = mergeEquipment(req.Equipment, EquipmentORRoom)
	case triage.PatternRespiratory:
		req.Equipment = mergeEquipment(req.Equipment, EquipmentICUBed)
	}
	return req
}

func baseRequirements(condition triage.Condition) Requirements {
	switch condition {
	case triage.ConditionCardiac:
		return Requirements{
			Specialty: CapabilityCardiac,
			Mandatory: true,
			Equipment: []string{EquipmentCathLab},
		}
	case triage.ConditionStroke:
		return Requirements{
			Specialty: CapabilityNeuro,
			Mandatory: true,
			Equipment: []string{EquipmentCTScanner},
		}
	case triage.ConditionTrauma:
		return Requirements{
			Specialty: CapabilityTrauma,
			Mandatory: true,
			Equipment: []string{EquipmentORRoom, EquipmentCTScanner},
		}
	default:
		return Requirements{Specialty: CapabilityGeneral}
	}
}

// Relax drops the mandatory constraint for degraded-mode allocation.
func (r Requirements) Relax() Requirements {
	r.Mandatory = false
	return r
}

func mergeEquipment(existing []string, add ...string) []string {
	for _, item := range add {
		found := false
		for _, have := range existing {
			if have == item {
				found = true
				break
			}
		}
		if !found {
			existing = append(existing, item)
		}
	}
	return existing
}
