package store

import (
	"database/sql"
	"time"
)

// The record CRUD surface is intentionally small: enough for the service
// layer and for exercising the change log. The full application schema
// management lives outside the sync engine.

// InsertClass ...
func (s *SQLiteStore) InsertClass(r ClassRow) error {
	_, err := s.db.Exec(
		`INSERT INTO classes (id, name, school_year) VALUES (?, ?, ?)`,
		r.ID, r.Name, r.SchoolYear,
	)
	return err
}

// InsertStudent ...
func (s *SQLiteStore) InsertStudent(r StudentRow) error {
	_, err := s.db.Exec(
		`INSERT INTO students (id, class_id, name) VALUES (?, ?, ?)`,
		r.ID, r.ClassID, r.Name,
	)
	return err
}

// InsertObservation fills in timestamps and the source device when unset.
func (s *SQLiteStore) InsertObservation(r ObservationRow) error {
	now := time.Now().Unix()
	if r.CreatedAt == 0 {
		r.CreatedAt = now
	}
	if r.UpdatedAt == 0 {
		r.UpdatedAt = now
	}
	if r.SourceDeviceID == "" {
		r.SourceDeviceID = s.deviceID
	}
	if r.Tags == "" {
		r.Tags = "[]"
	}

	_, err := s.db.Exec(
		`INSERT INTO observations (id, student_id, author_id, category, text, tags, created_at, updated_at, source_device_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.StudentID, r.AuthorID, r.Category, r.Text, r.Tags,
		r.CreatedAt, r.UpdatedAt, r.SourceDeviceID,
	)
	return err
}

// UpdateObservationText ...
func (s *SQLiteStore) UpdateObservationText(id int64, text string) error {
	_, err := s.db.Exec(
		`UPDATE observations SET text = ?, updated_at = ? WHERE id = ?`,
		text, time.Now().Unix(), id,
	)
	return err
}

// InsertAttachment ...
func (s *SQLiteStore) InsertAttachment(r AttachmentRow) error {
	if r.CreatedAt == 0 {
		r.CreatedAt = time.Now().Unix()
	}
	_, err := s.db.Exec(
		`INSERT INTO attachments (id, observation_id, filename, content_type, file_data, file_hash, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.ObservationID, r.Filename, r.ContentType, r.FileData,
		r.FileHash, r.CreatedAt,
	)
	return err
}

// Observation returns one observation row.
func (s *SQLiteStore) Observation(id int64) (ObservationRow, error) {
	var r ObservationRow
	err := s.db.QueryRow(
		`SELECT id, student_id, author_id, category, text, tags, created_at, updated_at, source_device_id
		 FROM observations WHERE id = ?`, id,
	).Scan(&r.ID, &r.StudentID, &r.AuthorID, &r.Category, &r.Text, &r.Tags,
		&r.CreatedAt, &r.UpdatedAt, &r.SourceDeviceID)
	return r, err
}

// CountRows returns the row count of one of the schema tables.
func (s *SQLiteStore) CountRows(table string) (int64, error) {
	switch table {
	case "classes", "students", "observations", "attachments":
	default:
		return 0, sql.ErrNoRows
	}

	var count int64
	err := s.db.QueryRow(`SELECT COUNT(*) FROM ` + table).Scan(&count)
	return count, err
}

// PendingChangeCount returns how many change-log entries have not yet been
// exported to the given peer.
func (s *SQLiteStore) PendingChangeCount(peerID string) (int64, error) {
	var checkpoint int64
	err := s.db.QueryRow(
		`SELECT export_seq FROM sync_checkpoints WHERE peer_id = ?`, peerID,
	).Scan(&checkpoint)
	if err != nil && err != sql.ErrNoRows {
		return 0, err
	}

	var count int64
	err = s.db.QueryRow(
		`SELECT COUNT(DISTINCT tbl || ':' || row_id) FROM change_log WHERE seq > ?`, checkpoint,
	).Scan(&count)
	return count, err
}
