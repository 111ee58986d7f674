package store

import (
	"database/sql"
	"time"

	"github.com/pkg/errors"

	"github.com/ayusman/stationeye/internal/detector"
	"github.com/ayusman/stationeye/internal/session"
)

// Session is the local summary of one detection session.
type Session struct {
	ID                string         `json:"id"`
	StartTime         time.Time      `json:"startTime"`
	EndTime           *time.Time     `json:"endTime,omitempty"`
	ProcessedFrames   int            `json:"processedFrames"`
	AvgConfidence     float64        `json:"avgConfidence"`
	AvgProcessingTime float64        `json:"avgProcessingTime"` // milliseconds
	ObjectCounts      map[string]int `json:"objectCounts"`
}

// Object is one recorded detection.
type Object struct {
	ID         int64        `json:"id"`
	SessionID  string       `json:"sessionId"`
	FrameSeq   uint64       `json:"frameSeq"`
	Class      string       `json:"className"`
	Confidence float64      `json:"confidence"`
	Box        detector.Box `json:"box"`
	DetectedAt time.Time    `json:"detectedAt"`
}

// DetectionRepository records detection results per session.
type DetectionRepository struct {
	db *sql.DB
}

// Detections returns the detection repository for this store.
func (s *Store) Detections() *DetectionRepository {
	return &DetectionRepository{db: s.db}
}

// StartSession creates the session row if it does not exist yet.
func (r *DetectionRepository) StartSession(id session.ID, at time.Time) error {
	_, err := r.db.Exec(
		`INSERT INTO detection_sessions (id, start_time) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		id.String(), at,
	)
	return err
}

// EndSession stamps the session's end time.
func (r *DetectionRepository) EndSession(id session.ID, at time.Time) error {
	result, err := r.db.Exec(`UPDATE detection_sessions SET end_time = ? WHERE id = ?`, at, id.String())
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ErrNotFound
	}

	return nil
}

// Record stores every detection of res and folds the frame into its
// session's running averages, in a single transaction.
func (r *DetectionRepository) Record(res *detector.Result) error {
	if res == nil || !res.SessionID.Valid() {
		return errors.New("result without session")
	}
	at := res.ReceivedAt
	if at.IsZero() {
		at = time.Now()
	}

	tx, err := r.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.Exec(
		`INSERT INTO detection_sessions (id, start_time) VALUES (?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		res.SessionID.String(), at,
	)
	if err != nil {
		return errors.Wrap(err, "upsert session")
	}

	stmt, err := tx.Prepare(
		`INSERT INTO detection_objects
		 (session_id, frame_seq, class_name, confidence, x, y, width, height, detected_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, d := range res.Detections {
		_, err := stmt.Exec(res.SessionID.String(), int64(res.FrameSeq), d.Class, d.Confidence,
			d.Box.X, d.Box.Y, d.Box.Width, d.Box.Height, at)
		if err != nil {
			return errors.Wrap(err, "insert detection")
		}
	}

	ms := float64(res.ProcessingTime) / float64(time.Millisecond)
	_, err = tx.Exec(
		`UPDATE detection_sessions SET
			processed_frames = processed_frames + 1,
			avg_processing_time = (COALESCE(avg_processing_time, 0) * processed_frames + ?) / (processed_frames + 1),
			avg_confidence = (SELECT AVG(confidence) FROM detection_objects WHERE session_id = ?)
		 WHERE id = ?`,
		ms, res.SessionID.String(), res.SessionID.String(),
	)
	if err != nil {
		return errors.Wrap(err, "update session averages")
	}

	return tx.Commit()
}

// Summary returns the local summary of session id.
func (r *DetectionRepository) Summary(id session.ID) (*Session, error) {
	s := &Session{ObjectCounts: map[string]int{}}
	var end sql.NullTime
	var avgConf, avgTime sql.NullFloat64

	err := r.db.QueryRow(
		`SELECT id, start_time, end_time, processed_frames, avg_confidence, avg_processing_time
		 FROM detection_sessions WHERE id = ?`,
		id.String(),
	).Scan(&s.ID, &s.StartTime, &end, &s.ProcessedFrames, &avgConf, &avgTime)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if end.Valid {
		s.EndTime = &end.Time
	}
	s.AvgConfidence = avgConf.Float64
	s.AvgProcessingTime = avgTime.Float64

	rows, err := r.db.Query(
		`SELECT class_name, COUNT(*) FROM detection_objects WHERE session_id = ? GROUP BY class_name`,
		id.String(),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var class string
		var n int
		if err := rows.Scan(&class, &n); err != nil {
			return nil, err
		}
		s.ObjectCounts[class] = n
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return s, nil
}

// Recent returns the latest limit detections of session id, newest first.
func (r *DetectionRepository) Recent(id session.ID, limit int) ([]Object, error) {
	if limit <= 0 {
		return nil, nil
	}

	rows, err := r.db.Query(
		`SELECT id, session_id, frame_seq, class_name, confidence, x, y, width, height, detected_at
		 FROM detection_objects
		 WHERE session_id = ?
		 ORDER BY detected_at DESC, id DESC
		 LIMIT ?`,
		id.String(), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var objects []Object
	for rows.Next() {
		var o Object
		var seq int64
		err := rows.Scan(&o.ID, &o.SessionID, &seq, &o.Class, &o.Confidence,
			&o.Box.X, &o.Box.Y, &o.Box.Width, &o.Box.Height, &o.DetectedAt)
		if err != nil {
			return nil, err
		}
		o.FrameSeq = uint64(seq)
		objects = append(objects, o)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return objects, nil
}
