// Package db persists confirmed incidents and the report retry queue in
// sqlite. Schema changes go through embedded golang-migrate migrations.
package db

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/collision.report/internal/monitoring"
	"github.com/banshee-data/collision.report/internal/report"
)

type DB struct {
	*sql.DB
}

// Open opens (or creates) the sqlite database at path and applies any
// pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// sqlite allows one writer; serialize access through a single
	// connection instead of erroring with SQLITE_BUSY.
	sqlDB.SetMaxOpenConns(1)

	db := &DB{sqlDB}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

// Incident is one stored incident row.
type Incident struct {
	ID           int64     `json:"id"`
	CameraID     string    `json:"cameraId"`
	OccurredAt   time.Time `json:"occurredAt"`
	Severity     string    `json:"severity"`
	VictimCount  int       `json:"victimCount"`
	Lat          float64   `json:"lat"`
	Lng          float64   `json:"lng"`
	SnapshotURL  string    `json:"snapshotUrl"`
	Source       string    `json:"source"`
	OverlapRatio float64   `json:"overlapRatio"`
	Summary      string    `json:"summary"`
	Reported     bool      `json:"reported"`
	BackendID    string    `json:"backendId,omitempty"`
}

// InsertIncident stores a confirmed incident and returns its row ID.
func (db *DB) InsertIncident(inc *report.Incident, reported bool, backendID string) (int64, error) {
	res, err := db.Exec(`
		INSERT INTO incidents (camera_id, occurred_at, severity, victim_count, lat, lng,
			snapshot_url, source, overlap_ratio, summary, reported, backend_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inc.CameraID, inc.OccurredAt.UTC().Format(time.RFC3339), string(inc.Severity),
		inc.VictimCount, inc.Lat, inc.Lng, inc.SnapshotURL, inc.Source,
		inc.OverlapRatio, inc.Triage.SummaryForDoctor, boolToInt(reported), backendID,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert incident: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read incident ID: %w", err)
	}
	return id, nil
}

// SetBackendID marks a stored incident as delivered under backendID.
func (db *DB) SetBackendID(id int64, backendID string) error {
	_, err := db.Exec(`UPDATE incidents SET reported = 1, backend_id = ? WHERE id = ?`, backendID, id)
	if err != nil {
		return fmt.Errorf("failed to update incident %d: %w", id, err)
	}
	return nil
}

// ListRecent returns the newest incidents, most recent first.
func (db *DB) ListRecent(limit int) ([]Incident, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.Query(`
		SELECT id, camera_id, occurred_at, severity, victim_count, lat, lng,
			snapshot_url, source, overlap_ratio, summary, reported, backend_id
		FROM incidents ORDER BY occurred_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query incidents: %w", err)
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		var inc Incident
		var occurredAt string
		var snapshotURL, summary, backendID sql.NullString
		var reported int
		if err := rows.Scan(&inc.ID, &inc.CameraID, &occurredAt, &inc.Severity,
			&inc.VictimCount, &inc.Lat, &inc.Lng, &snapshotURL, &inc.Source,
			&inc.OverlapRatio, &summary, &reported, &backendID); err != nil {
			return nil, fmt.Errorf("failed to scan incident: %w", err)
		}
		if inc.OccurredAt, err = time.Parse(time.RFC3339, occurredAt); err != nil {
			monitoring.Logf("incident %d has malformed occurred_at %q: %v", inc.ID, occurredAt, err)
		}
		inc.SnapshotURL = snapshotURL.String
		inc.Summary = summary.String
		inc.BackendID = backendID.String
		inc.Reported = reported != 0
		incidents = append(incidents, inc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return incidents, nil
}

// CountBySeverity returns incident counts keyed by severity.
func (db *DB) CountBySeverity() (map[string]int, error) {
	rows, err := db.Query(`SELECT severity, COUNT(*) FROM incidents GROUP BY severity`)
	if err != nil {
		return nil, fmt.Errorf("failed to count incidents: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var severity string
		var n int
		if err := rows.Scan(&severity, &n); err != nil {
			return nil, err
		}
		counts[severity] = n
	}
	return counts, rows.Err()
}

// OverlapRatios returns every stored incident's peak IoU.
func (db *DB) OverlapRatios() ([]float64, error) {
	rows, err := db.Query(`SELECT overlap_ratio FROM incidents`)
	if err != nil {
		return nil, fmt.Errorf("failed to query overlap ratios: %w", err)
	}
	defer rows.Close()

	var ratios []float64
	for rows.Next() {
		var r float64
		if err := rows.Scan(&r); err != nil {
			return nil, err
		}
		ratios = append(ratios, r)
	}
	return ratios, rows.Err()
}

// VictimCounts returns every stored incident's victim estimate.
func (db *DB) VictimCounts() ([]float64, error) {
	rows, err := db.Query(`SELECT victim_count FROM incidents`)
	if err != nil {
		return nil, fmt.Errorf("failed to query victim counts: %w", err)
	}
	defer rows.Close()

	var counts []float64
	for rows.Next() {
		var c float64
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// Enqueue stores an undelivered report payload for retry.
func (db *DB) Enqueue(payload []byte) error {
	_, err := db.Exec(`INSERT INTO report_queue (payload) VALUES (?)`, payload)
	if err != nil {
		return fmt.Errorf("failed to enqueue report: %w", err)
	}
	return nil
}

// Pending returns up to limit undelivered payloads, oldest first.
func (db *DB) Pending(limit int) ([]report.QueuedReport, error) {
	rows, err := db.Query(`
		SELECT id, payload, attempts FROM report_queue
		WHERE delivered = 0 ORDER BY id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query report queue: %w", err)
	}
	defer rows.Close()

	var pending []report.QueuedReport
	for rows.Next() {
		var qr report.QueuedReport
		if err := rows.Scan(&qr.ID, &qr.Payload, &qr.Attempts); err != nil {
			return nil, err
		}
		pending = append(pending, qr)
	}
	return pending, rows.Err()
}

// MarkReported records a successful queued delivery.
func (db *DB) MarkReported(id int64, backendID string) error {
	_, err := db.Exec(`
		UPDATE report_queue SET delivered = 1, backend_id = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, backendID, id)
	if err != nil {
		return fmt.Errorf("failed to mark report %d delivered: %w", id, err)
	}
	return nil
}

// RecordAttempt records a failed queued delivery attempt.
func (db *DB) RecordAttempt(id int64, deliveryErr string) error {
	_, err := db.Exec(`
		UPDATE report_queue SET attempts = attempts + 1, last_error = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`, deliveryErr, id)
	if err != nil {
		return fmt.Errorf("failed to record attempt for report %d: %w", id, err)
	}
	return nil
}

// QueueDepth returns the number of undelivered payloads.
func (db *DB) QueueDepth() (int, error) {
	var n int
	err := db.QueryRow(`SELECT COUNT(*) FROM report_queue WHERE delivered = 0`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count report queue: %w", err)
	}
	return n, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
