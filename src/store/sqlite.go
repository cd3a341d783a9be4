package store

import (
	"database/sql"
	"embed"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/pressly/goose/v3"
	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite" // SQLite driver
)

//go:embed migrations/*.sql
var embedMigrations embed.FS

// SQLiteStore implements ChangeLogStore and SyncStateStore on a SQLite
// database file.
//
// The change-log lock serialises every apply and export: concurrent sync
// sessions never interleave partial reads or writes against the store. The
// lock is only ever held across the local database step, never across
// network I/O.
type SQLiteStore struct {
	db       *sql.DB
	deviceID string
	logger   *logrus.Entry

	changeLock sync.Mutex

	// pendingExport records, per peer, the change_log high-water mark of the
	// last export. RecordSyncResult persists it as the peer's checkpoint; a
	// failed session simply abandons it, so a retry re-exports from the last
	// known-good checkpoint.
	pendingExport map[string]int64
}

// NewSQLiteStore opens (or creates) the database at path and runs the
// migrations. Use ":memory:" for tests.
func NewSQLiteStore(path string, deviceID string, logger *logrus.Entry) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// One writer; SQLite does the rest.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL;",
		"PRAGMA synchronous = NORMAL;",
		"PRAGMA foreign_keys = ON;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting migration dialect: %w", err)
	}
	goose.SetBaseFS(embedMigrations)
	goose.SetLogger(goose.NopLogger())
	if err := goose.Up(db, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &SQLiteStore{
		db:            db,
		deviceID:      deviceID,
		logger:        logger,
		pendingExport: make(map[string]int64),
	}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// DB exposes the underlying handle for tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// PendingChangesForPeer implements ChangeLogStore. It snapshots every row
// touched since the peer's export checkpoint and stages the new checkpoint
// in memory until RecordSyncResult persists it.
func (s *SQLiteStore) PendingChangesForPeer(peerID string) ([]byte, error) {
	s.changeLock.Lock()
	defer s.changeLock.Unlock()

	var checkpoint int64
	err := s.db.QueryRow(
		`SELECT export_seq FROM sync_checkpoints WHERE peer_id = ?`, peerID,
	).Scan(&checkpoint)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}

	var maxSeq int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM change_log`).Scan(&maxSeq); err != nil {
		return nil, err
	}

	changed, err := s.changedRowIDs(checkpoint)
	if err != nil {
		return nil, err
	}

	cs := Changeset{
		Format:   ChangesetFormat,
		DeviceID: s.deviceID,
	}
	if err := s.loadRows(&cs, changed); err != nil {
		return nil, err
	}

	encoded, err := cs.Marshal()
	if err != nil {
		return nil, err
	}

	s.pendingExport[peerID] = maxSeq

	s.logger.WithFields(logrus.Fields{
		"peer":       peerID,
		"checkpoint": checkpoint,
		"bytes":      len(encoded),
	}).Debug("exported pending changes")

	return encoded, nil
}

// ApplyIncomingChanges implements ChangeLogStore. Rows are applied parents
// first so valid changesets never fail on ordering alone; any constraint
// violation rolls the whole transaction back.
func (s *SQLiteStore) ApplyIncomingChanges(data []byte, peerID string) error {
	var cs Changeset
	if err := cs.Unmarshal(data); err != nil {
		return NewMergeError(UnreadableChangeset, err.Error())
	}
	if cs.Format != ChangesetFormat {
		return NewMergeError(UnreadableChangeset, fmt.Sprintf("unsupported format %d", cs.Format))
	}

	s.changeLock.Lock()
	defer s.changeLock.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// Suspend change logging for the duration of the transaction. The flag
	// is transactional state: a rollback restores it along with the data.
	if _, err := tx.Exec(`UPDATE change_log_guard SET suspended = 1`); err != nil {
		return err
	}

	if err := applyRows(tx, &cs); err != nil {
		return err
	}

	if _, err := tx.Exec(`UPDATE change_log_guard SET suspended = 0`); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	s.logger.WithFields(logrus.Fields{
		"peer":         peerID,
		"classes":      len(cs.Classes),
		"students":     len(cs.Students),
		"observations": len(cs.Observations),
		"attachments":  len(cs.Attachments),
	}).Debug("applied incoming changes")

	return nil
}

// SyncState implements SyncStateStore.
func (s *SQLiteStore) SyncState(peerID string) (SyncState, error) {
	state := SyncState{PeerID: peerID}

	var pull, push sql.NullInt64
	err := s.db.QueryRow(
		`SELECT last_seq, last_pull_at, last_push_at, changeset_digest
		 FROM sync_state WHERE peer_id = ?`, peerID,
	).Scan(&state.LastSeq, &pull, &push, &state.ChangesetDigest)
	if err == sql.ErrNoRows {
		return state, nil
	}
	if err != nil {
		return SyncState{}, err
	}

	if pull.Valid {
		t := time.Unix(pull.Int64, 0)
		state.LastPullAt = &t
	}
	if push.Valid {
		t := time.Unix(push.Int64, 0)
		state.LastPushAt = &t
	}

	return state, nil
}

// RecordSyncResult implements SyncStateStore. The sync_state row and the
// export checkpoint move together in one transaction; they are never
// partially updated.
func (s *SQLiteStore) RecordSyncResult(peerID string, digest string) error {
	s.changeLock.Lock()
	defer s.changeLock.Unlock()

	now := time.Now().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO sync_state (peer_id, last_seq, last_pull_at, last_push_at, changeset_digest)
		 VALUES (?, 1, ?, ?, ?)
		 ON CONFLICT (peer_id) DO UPDATE SET
		   last_seq = last_seq + 1,
		   last_pull_at = excluded.last_pull_at,
		   last_push_at = excluded.last_push_at,
		   changeset_digest = excluded.changeset_digest`,
		peerID, now, now, digest,
	)
	if err != nil {
		return err
	}

	if exportSeq, ok := s.pendingExport[peerID]; ok {
		_, err = tx.Exec(
			`INSERT INTO sync_checkpoints (peer_id, export_seq) VALUES (?, ?)
			 ON CONFLICT (peer_id) DO UPDATE SET export_seq = excluded.export_seq`,
			peerID, exportSeq,
		)
		if err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}

	delete(s.pendingExport, peerID)

	return nil
}

// changedRowIDs groups the distinct rows logged after the checkpoint.
func (s *SQLiteStore) changedRowIDs(checkpoint int64) (map[string][]int64, error) {
	rows, err := s.db.Query(
		`SELECT DISTINCT tbl, row_id FROM change_log WHERE seq > ?`, checkpoint,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	changed := make(map[string][]int64)
	for rows.Next() {
		var tbl string
		var rowID int64
		if err := rows.Scan(&tbl, &rowID); err != nil {
			return nil, err
		}
		changed[tbl] = append(changed[tbl], rowID)
	}

	return changed, rows.Err()
}

// loadRows snapshots the current value of each changed row. Rows that no
// longer exist are skipped.
func (s *SQLiteStore) loadRows(cs *Changeset, changed map[string][]int64) error {
	for _, id := range changed["classes"] {
		var r ClassRow
		err := s.db.QueryRow(
			`SELECT id, name, school_year FROM classes WHERE id = ?`, id,
		).Scan(&r.ID, &r.Name, &r.SchoolYear)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		cs.Classes = append(cs.Classes, r)
	}

	for _, id := range changed["students"] {
		var r StudentRow
		err := s.db.QueryRow(
			`SELECT id, class_id, name FROM students WHERE id = ?`, id,
		).Scan(&r.ID, &r.ClassID, &r.Name)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		cs.Students = append(cs.Students, r)
	}

	for _, id := range changed["observations"] {
		var r ObservationRow
		err := s.db.QueryRow(
			`SELECT id, student_id, author_id, category, text, tags, created_at, updated_at, source_device_id
			 FROM observations WHERE id = ?`, id,
		).Scan(&r.ID, &r.StudentID, &r.AuthorID, &r.Category, &r.Text, &r.Tags,
			&r.CreatedAt, &r.UpdatedAt, &r.SourceDeviceID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		cs.Observations = append(cs.Observations, r)
	}

	for _, id := range changed["attachments"] {
		var r AttachmentRow
		err := s.db.QueryRow(
			`SELECT id, observation_id, filename, content_type, file_data, file_hash, created_at
			 FROM attachments WHERE id = ?`, id,
		).Scan(&r.ID, &r.ObservationID, &r.Filename, &r.ContentType, &r.FileData,
			&r.FileHash, &r.CreatedAt)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return err
		}
		cs.Attachments = append(cs.Attachments, r)
	}

	return nil
}

// applyRows upserts every row of the changeset in dependency order: classes,
// then students, then observations, then attachments. The incoming version
// always replaces the local one.
func applyRows(tx *sql.Tx, cs *Changeset) error {
	for _, r := range cs.Classes {
		_, err := tx.Exec(
			`INSERT INTO classes (id, name, school_year) VALUES (?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   name = excluded.name,
			   school_year = excluded.school_year`,
			r.ID, r.Name, r.SchoolYear,
		)
		if err != nil {
			return mergeExecError(err)
		}
	}

	for _, r := range cs.Students {
		_, err := tx.Exec(
			`INSERT INTO students (id, class_id, name) VALUES (?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   class_id = excluded.class_id,
			   name = excluded.name`,
			r.ID, r.ClassID, r.Name,
		)
		if err != nil {
			return mergeExecError(err)
		}
	}

	for _, r := range cs.Observations {
		_, err := tx.Exec(
			`INSERT INTO observations (id, student_id, author_id, category, text, tags, created_at, updated_at, source_device_id)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   student_id = excluded.student_id,
			   author_id = excluded.author_id,
			   category = excluded.category,
			   text = excluded.text,
			   tags = excluded.tags,
			   created_at = excluded.created_at,
			   updated_at = excluded.updated_at,
			   source_device_id = excluded.source_device_id`,
			r.ID, r.StudentID, r.AuthorID, r.Category, r.Text, r.Tags,
			r.CreatedAt, r.UpdatedAt, r.SourceDeviceID,
		)
		if err != nil {
			return mergeExecError(err)
		}
	}

	for _, r := range cs.Attachments {
		_, err := tx.Exec(
			`INSERT INTO attachments (id, observation_id, filename, content_type, file_data, file_hash, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT (id) DO UPDATE SET
			   observation_id = excluded.observation_id,
			   filename = excluded.filename,
			   content_type = excluded.content_type,
			   file_data = excluded.file_data,
			   file_hash = excluded.file_hash,
			   created_at = excluded.created_at`,
			r.ID, r.ObservationID, r.Filename, r.ContentType, r.FileData,
			r.FileHash, r.CreatedAt,
		)
		if err != nil {
			return mergeExecError(err)
		}
	}

	return nil
}

// mergeExecError maps a failed statement to the merge taxonomy.
func mergeExecError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "constraint") {
		return NewMergeError(ConstraintViolation, err.Error())
	}
	return err
}
