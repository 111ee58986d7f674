package store

import (
	"database/sql"
	"encoding/json"

	"github.com/pkg/errors"

	"github.com/ayusman/stationeye/internal/settings"
)

// detectionSettingsKey is the settings row holding the operator's detection settings.
const detectionSettingsKey = "detection"

// SettingsRepository stores application settings as JSON values.
type SettingsRepository struct {
	db *sql.DB
}

// Settings returns the settings repository for this store.
func (s *Store) Settings() *SettingsRepository {
	return &SettingsRepository{db: s.db}
}

// Get returns the raw value stored under key.
func (r *SettingsRepository) Get(key string) (string, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", ErrNotFound
		}
		return "", err
	}
	return value, nil
}

// Set inserts or replaces the value stored under key.
func (r *SettingsRepository) Set(key, value string) error {
	_, err := r.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// SaveDetectionSettings persists d so it survives a restart.
func (r *SettingsRepository) SaveDetectionSettings(d settings.Detection) error {
	data, err := json.Marshal(d)
	if err != nil {
		return errors.Wrap(err, "encode detection settings")
	}
	return r.Set(detectionSettingsKey, string(data))
}

// LoadDetectionSettings returns the persisted detection settings. ok is
// false when nothing was saved yet.
func (r *SettingsRepository) LoadDetectionSettings() (d settings.Detection, ok bool, err error) {
	value, err := r.Get(detectionSettingsKey)
	if errors.Is(err, ErrNotFound) {
		return settings.Detection{}, false, nil
	}
	if err != nil {
		return settings.Detection{}, false, err
	}

	// Start from the defaults so classes added since the row was written
	// stay enabled.
	d = settings.Default()
	if err := json.Unmarshal([]byte(value), &d); err != nil {
		return settings.Detection{}, false, errors.Wrap(err, "decode detection settings")
	}
	if err := d.Validate(); err != nil {
		return settings.Detection{}, false, err
	}
	return d, true, nil
}
