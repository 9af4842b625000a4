package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	dispatch "ambulance-cloud/internal/dispatch/domain"
	"ambulance-cloud/internal/geo"
	"ambulance-cloud/internal/routing"
	"ambulance-cloud/internal/scoring"
	"ambulance-cloud/internal/triage"
)

// ArchiveRepository persists terminal emergencies. The live working set never
// reads it back; it serves audits, handoff reports and history queries.
type ArchiveRepository struct {
	db *sql.DB
}

// NewArchiveRepository constructs a repository.
func NewArchiveRepository(db *sql.DB) *ArchiveRepository {
	return &ArchiveRepository{db: db}
}

// EnsureSchema creates the archive table when it does not exist.
func (r *ArchiveRepository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return errors.New("archive repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS emergency_archive (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	condition TEXT NOT NULL,
	risk TEXT NOT NULL DEFAULT '',
	lat DOUBLE PRECISION NOT NULL,
	lon DOUBLE PRECISION NOT NULL,
	ambulance_id TEXT NOT NULL DEFAULT '',
	hospital_id TEXT NOT NULL DEFAULT '',
	hospital_score DOUBLE PRECISION NOT NULL DEFAULT 0,
	pinned BOOLEAN NOT NULL DEFAULT FALSE,
	needs_review BOOLEAN NOT NULL DEFAULT FALSE,
	vitals JSONB,
	candidates JSONB,
	route JSONB,
	reported_at TIMESTAMPTZ NOT NULL,
	assigned_at TIMESTAMPTZ,
	en_route_at TIMESTAMPTZ,
	arrived_at TIMESTAMPTZ,
	closed_at TIMESTAMPTZ,
	archived_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`)
	return err
}

// Archive upserts one terminal emergency. Replayed closes overwrite the
// earlier row, so the drain loop stays idempotent.
func (r *ArchiveRepository) Archive(ctx context.Context, e *dispatch.Emergency) error {
	if r == nil || r.db == nil {
		return errors.New("archive repo: nil db")
	}
	if e == nil {
		return errors.New("archive repo: nil emergency")
	}
	if e.ID == "" {
		return errors.New("archive repo: missing emergency id")
	}

	var vitals, candidates, route []byte
	var err error
	if len(e.Vitals) > 0 {
		if vitals, err = json.Marshal(e.Vitals); err != nil {
			return err
		}
	}
	if len(e.Candidates) > 0 {
		if candidates, err = json.Marshal(e.Candidates); err != nil {
			return err
		}
	}
	if e.Route != nil {
		if route, err = json.Marshal(e.Route); err != nil {
			return err
		}
	}

	_, err = r.db.ExecContext(ctx, `
INSERT INTO emergency_archive (
	id, status, condition, risk, lat, lon,
	ambulance_id, hospital_id, hospital_score, pinned, needs_review,
	vitals, candidates, route,
	reported_at, assigned_at, en_route_at, arrived_at, closed_at, archived_at
) VALUES (
	$1, $2, $3, $4, $5, $6,
	$7, $8, $9, $10, $11,
	$12, $13, $14,
	$15, $16, $17, $18, $19, NOW()
)
ON CONFLICT (id) DO UPDATE SET
	status = EXCLUDED.status,
	risk = EXCLUDED.risk,
	ambulance_id = EXCLUDED.ambulance_id,
	hospital_id = EXCLUDED.hospital_id,
	hospital_score = EXCLUDED.hospital_score,
	pinned = EXCLUDED.pinned,
	needs_review = EXCLUDED.needs_review,
	vitals = EXCLUDED.vitals,
	candidates = EXCLUDED.candidates,
	route = EXCLUDED.route,
	closed_at = EXCLUDED.closed_at,
	archived_at = NOW()`,
		e.ID,
		string(e.Status),
		string(e.Condition),
		string(e.Assessment.Risk),
		e.Location.Lat,
		e.Location.Lon,
		e.AmbulanceID,
		e.HospitalID,
		e.HospitalScore,
		e.Pinned,
		e.NeedsReview,
		vitals,
		candidates,
		route,
		e.ReportedAt,
		nullableTime(e.AssignedAt),
		nullableTime(e.EnRouteAt),
		nullableTime(e.ArrivedAt),
		nullableTime(e.ClosedAt),
	)
	return err
}

// Record is one archived emergency read back for reports and history.
type Record struct {
	ID            string              `json:"id"`
	Status        string              `json:"status"`
	Condition     string              `json:"condition"`
	Risk          string              `json:"risk,omitempty"`
	Location      geo.Point           `json:"location"`
	AmbulanceID   string              `json:"ambulance_id,omitempty"`
	HospitalID    string              `json:"hospital_id,omitempty"`
	HospitalScore float64             `json:"hospital_score,omitempty"`
	Pinned        bool                `json:"pinned,omitempty"`
	NeedsReview   bool                `json:"needs_review,omitempty"`
	Vitals        []triage.VitalSigns `json:"vitals,omitempty"`
	Candidates    []scoring.Score     `json:"candidates,omitempty"`
	Route         *routing.Route      `json:"route,omitempty"`
	ReportedAt    time.Time           `json:"reported_at"`
	AssignedAt    time.Time           `json:"assigned_at,omitempty"`
	EnRouteAt     time.Time           `json:"en_route_at,omitempty"`
	ArrivedAt     time.Time           `json:"arrived_at,omitempty"`
	ClosedAt      time.Time           `json:"closed_at,omitempty"`
	ArchivedAt    time.Time           `json:"archived_at"`
}

// Get fetches one archived emergency, nil when absent.
func (r *ArchiveRepository) Get(ctx context.Context, id string) (*Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("archive repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT id, status, condition, risk, lat, lon,
	ambulance_id, hospital_id, hospital_score, pinned, needs_review,
	vitals, candidates, route,
	reported_at, assigned_at, en_route_at, arrived_at, closed_at, archived_at
FROM emergency_archive
WHERE id = $1`, id)
	return scanRecord(row)
}

// List returns archived emergencies closed inside the window, newest first.
func (r *ArchiveRepository) List(ctx context.Context, from, to time.Time, limit int) ([]Record, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("archive repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, status, condition, risk, lat, lon,
	ambulance_id, hospital_id, hospital_score, pinned, needs_review,
	vitals, candidates, route,
	reported_at, assigned_at, en_route_at, arrived_at, closed_at, archived_at
FROM emergency_archive
WHERE archived_at >= $1 AND archived_at < $2
ORDER BY archived_at DESC
LIMIT $3`, from, to, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		if rec != nil {
			result = append(result, *rec)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var rec Record
	var vitals, candidates, route []byte
	var assignedAt, enRouteAt, arrivedAt, closedAt sql.NullTime
	if err := row.Scan(
		&rec.ID,
		&rec.Status,
		&rec.Condition,
		&rec.Risk,
		&rec.Location.Lat,
		&rec.Location.Lon,
		&rec.AmbulanceID,
		&rec.HospitalID,
		&rec.HospitalScore,
		&rec.Pinned,
		&rec.NeedsReview,
		&vitals,
		&candidates,
		&route,
		&rec.ReportedAt,
		&assignedAt,
		&enRouteAt,
		&arrivedAt,
		&closedAt,
		&rec.ArchivedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}

	if len(vitals) > 0 {
		if err := json.Unmarshal(vitals, &rec.Vitals); err != nil {
			return nil, err
		}
	}
	if len(candidates) > 0 {
		if err := json.Unmarshal(candidates, &rec.Candidates); err != nil {
			return nil, err
		}
	}
	if len(route) > 0 {
		var decoded routing.Route
		if err := json.Unmarshal(route, &decoded); err != nil {
			return nil, err
		}
		rec.Route = &decoded
	}

	rec.ReportedAt = rec.ReportedAt.UTC()
	rec.ArchivedAt = rec.ArchivedAt.UTC()
	if assignedAt.Valid {
		rec.AssignedAt = assignedAt.Time.UTC()
	}
	if enRouteAt.Valid {
		rec.EnRouteAt = enRouteAt.Time.UTC()
	}
	if arrivedAt.Valid {
		rec.ArrivedAt = arrivedAt.Time.UTC()
	}
	if closedAt.Valid {
		rec.ClosedAt = closedAt.Time.UTC()
	}
	return &rec, nil
}

func nullableTime(value time.Time) sql.NullTime {
	if value.IsZero() {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: value, Valid: true}
}
