package store

import "github.com/pkg/errors"

// runMigrations executes all database migrations.
func (s *Store) runMigrations() error {
	migrations := []string{
		// Settings table - application settings as key/JSON value pairs
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,

		// One row per detection session
		`CREATE TABLE IF NOT EXISTS detection_sessions (
			id TEXT PRIMARY KEY,
			start_time DATETIME NOT NULL,
			end_time DATETIME,
			processed_frames INTEGER NOT NULL DEFAULT 0,
			avg_confidence REAL,
			avg_processing_time REAL
		)`,

		// Every detection reported for a session
		`CREATE TABLE IF NOT EXISTS detection_objects (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL REFERENCES detection_sessions(id) ON DELETE CASCADE,
			frame_seq INTEGER NOT NULL,
			class_name TEXT NOT NULL,
			confidence REAL NOT NULL,
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			width INTEGER NOT NULL,
			height INTEGER NOT NULL,
			detected_at DATETIME NOT NULL
		)`,

		`CREATE INDEX IF NOT EXISTS idx_detection_objects_session_id ON detection_objects(session_id)`,
		`CREATE INDEX IF NOT EXISTS idx_detection_objects_detected_at ON detection_objects(detected_at)`,
	}

	for i, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return errors.Wrapf(err, "migration %d", i)
		}
	}

	return nil
}
