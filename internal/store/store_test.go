package store

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ayusman/stationeye/internal/detector"
	"github.com/ayusman/stationeye/internal/session"
	"github.com/ayusman/stationeye/internal/settings"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	// Verify the database file doesn't exist yet
	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("database file should not exist before creating store")
	}

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q, want %q", s.Path(), dbPath)
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	tables := []string{"settings", "detection_sessions", "detection_objects"}
	for _, table := range tables {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type='table' AND name=?",
			table,
		).Scan(&name)
		if err != nil {
			t.Errorf("table %q should exist after migrations: %v", table, err)
		}
	}
}

func TestNewStore_ConnectionPragmas(t *testing.T) {
	s := newTestStore(t)

	var fk, timeout int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fk); err != nil {
		t.Fatalf("PRAGMA foreign_keys: %v", err)
	}
	if err := s.DB().QueryRow("PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatalf("PRAGMA busy_timeout: %v", err)
	}
	if fk != 1 {
		t.Errorf("foreign_keys = %d, want 1", fk)
	}
	if timeout != busyTimeoutMs {
		t.Errorf("busy_timeout = %d, want %d", timeout, busyTimeoutMs)
	}
}

func TestNewStore_ReopenKeepsData(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	if err := s.Settings().Set("k", "v"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	s.Close()

	s, err = New(dbPath)
	if err != nil {
		t.Fatalf("failed to reopen store: %v", err)
	}
	defer s.Close()

	got, err := s.Settings().Get("k")
	if err != nil || got != "v" {
		t.Fatalf("Get after reopen = %q, %v", got, err)
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("failed to close store: %v", err)
	}

	// Verify that operations fail after close
	if err := s.DB().Ping(); err == nil {
		t.Fatal("expected error when pinging closed database")
	}
}

func TestSettingsRepository_GetMissing(t *testing.T) {
	s := newTestStore(t)

	if _, err := s.Settings().Get("nope"); err != ErrNotFound {
		t.Fatalf("Get missing key = %v, want ErrNotFound", err)
	}
}

func TestSettingsRepository_SetOverwrites(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	if err := repo.Set("k", "1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := repo.Set("k", "2"); err != nil {
		t.Fatalf("Set: %v", err)
	}

	got, err := repo.Get("k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got != "2" {
		t.Errorf("Get = %q, want %q", got, "2")
	}
}

func TestSettingsRepository_DetectionSettingsRoundTrip(t *testing.T) {
	s := newTestStore(t)
	repo := s.Settings()

	_, ok, err := repo.LoadDetectionSettings()
	if err != nil || ok {
		t.Fatalf("LoadDetectionSettings on empty store = %v, %v", ok, err)
	}

	want := settings.Default()
	want.Speed = settings.SpeedPrecision
	want.ShowConfidence = false
	want.EnabledClasses[settings.ClassOther] = false

	if err := repo.SaveDetectionSettings(want); err != nil {
		t.Fatalf("SaveDetectionSettings: %v", err)
	}

	got, ok, err := repo.LoadDetectionSettings()
	if err != nil || !ok {
		t.Fatalf("LoadDetectionSettings = %v, %v", ok, err)
	}
	if got.Speed != settings.SpeedPrecision {
		t.Errorf("Speed = %q", got.Speed)
	}
	if got.ShowConfidence {
		t.Error("ShowConfidence should be false")
	}
	if got.EnabledClasses[settings.ClassOther] {
		t.Error("Other should stay disabled")
	}
	if !got.EnabledClasses[settings.ClassToolbox] {
		t.Error("Toolbox should stay enabled")
	}
}

func TestSettingsRepository_PersistsThroughSettingsStore(t *testing.T) {
	s := newTestStore(t)
	live := settings.NewStore(settings.Default(), s.Settings())

	if err := live.Update(func(d *settings.Detection) { d.Speed = settings.SpeedFast }); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got, ok, err := s.Settings().LoadDetectionSettings()
	if err != nil || !ok {
		t.Fatalf("LoadDetectionSettings = %v, %v", ok, err)
	}
	if got.Speed != settings.SpeedFast {
		t.Errorf("Speed = %q, want Fast", got.Speed)
	}
}

func TestSettingsRepository_RejectsCorruptRow(t *testing.T) {
	s := newTestStore(t)
	if err := s.Settings().Set(detectionSettingsKey, `{"detectionSpeed":"Warp"}`); err != nil {
		t.Fatalf("Set: %v", err)
	}

	if _, _, err := s.Settings().LoadDetectionSettings(); err == nil {
		t.Fatal("expected error for unknown speed")
	}
}

func TestDetectionRepository_RecordAndSummary(t *testing.T) {
	s := newTestStore(t)
	repo := s.Detections()
	id := session.ID("session-1")
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := repo.StartSession(id, base); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	results := []*detector.Result{
		{
			SessionID:      id,
			FrameSeq:       1,
			ReceivedAt:     base.Add(time.Second),
			ProcessingTime: 40 * time.Millisecond,
			Detections: []detector.Detection{
				{Class: settings.ClassToolbox, Confidence: 0.9, Box: detector.Box{X: 1, Y: 2, Width: 3, Height: 4}},
				{Class: settings.ClassOther, Confidence: 0.5},
			},
		},
		{
			SessionID:      id,
			FrameSeq:       2,
			ReceivedAt:     base.Add(2 * time.Second),
			ProcessingTime: 60 * time.Millisecond,
			Detections: []detector.Detection{
				{Class: settings.ClassToolbox, Confidence: 0.7},
			},
		},
		{SessionID: id, FrameSeq: 3, ReceivedAt: base.Add(3 * time.Second), ProcessingTime: 20 * time.Millisecond},
	}
	for _, res := range results {
		if err := repo.Record(res); err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	sum, err := repo.Summary(id)
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.ProcessedFrames != 3 {
		t.Errorf("ProcessedFrames = %d, want 3", sum.ProcessedFrames)
	}
	if diff := sum.AvgConfidence - 0.7; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AvgConfidence = %v, want 0.7", sum.AvgConfidence)
	}
	if diff := sum.AvgProcessingTime - 40; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("AvgProcessingTime = %v, want 40", sum.AvgProcessingTime)
	}
	if sum.ObjectCounts[settings.ClassToolbox] != 2 || sum.ObjectCounts[settings.ClassOther] != 1 {
		t.Errorf("ObjectCounts = %v", sum.ObjectCounts)
	}
	if !sum.StartTime.Equal(base) {
		t.Errorf("StartTime = %v, want %v", sum.StartTime, base)
	}
	if sum.EndTime != nil {
		t.Error("EndTime should be unset while the session runs")
	}
}

func TestDetectionRepository_RecordCreatesSession(t *testing.T) {
	s := newTestStore(t)
	repo := s.Detections()

	err := repo.Record(&detector.Result{SessionID: "fresh", Detections: []detector.Detection{{Class: "Other", Confidence: 0.6}}})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}

	sum, err := repo.Summary("fresh")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.ProcessedFrames != 1 {
		t.Errorf("ProcessedFrames = %d, want 1", sum.ProcessedFrames)
	}
}

func TestDetectionRepository_RecordRejectsMissingSession(t *testing.T) {
	s := newTestStore(t)
	if err := s.Detections().Record(&detector.Result{}); err == nil {
		t.Fatal("expected error for result without session")
	}
	if err := s.Detections().Record(nil); err == nil {
		t.Fatal("expected error for nil result")
	}
}

func TestDetectionRepository_Recent(t *testing.T) {
	s := newTestStore(t)
	repo := s.Detections()
	id := session.ID("s")
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i := 0; i < 5; i++ {
		err := repo.Record(&detector.Result{
			SessionID:  id,
			FrameSeq:   uint64(i + 1),
			ReceivedAt: base.Add(time.Duration(i) * time.Second),
			Detections: []detector.Detection{{Class: settings.ClassOxygenTank, Confidence: 0.8, Box: detector.Box{X: i}}},
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	objs, err := repo.Recent(id, 3)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(objs) != 3 {
		t.Fatalf("len(Recent) = %d, want 3", len(objs))
	}
	for i, want := range []uint64{5, 4, 3} {
		if objs[i].FrameSeq != want {
			t.Errorf("objs[%d].FrameSeq = %d, want %d", i, objs[i].FrameSeq, want)
		}
	}
	if objs[0].Box.X != 4 {
		t.Errorf("objs[0].Box.X = %d, want 4", objs[0].Box.X)
	}

	other, err := repo.Recent("other", 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("other session should have no detections, got %d", len(other))
	}
}

func TestDetectionRepository_SummaryNotFound(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Detections().Summary("missing"); err != ErrNotFound {
		t.Fatalf("Summary missing = %v, want ErrNotFound", err)
	}
}

func TestDetectionRepository_EndSession(t *testing.T) {
	s := newTestStore(t)
	repo := s.Detections()
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	if err := repo.EndSession("missing", start); err != ErrNotFound {
		t.Fatalf("EndSession missing = %v, want ErrNotFound", err)
	}

	if err := repo.StartSession("s", start); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	if err := repo.EndSession("s", start.Add(time.Hour)); err != nil {
		t.Fatalf("EndSession: %v", err)
	}

	sum, err := repo.Summary("s")
	if err != nil {
		t.Fatalf("Summary: %v", err)
	}
	if sum.EndTime == nil || !sum.EndTime.Equal(start.Add(time.Hour)) {
		t.Errorf("EndTime = %v", sum.EndTime)
	}
}

func TestDetectionRepository_Stats(t *testing.T) {
	s := newTestStore(t)
	repo := s.Detections()
	base := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	for i, class := range []string{settings.ClassToolbox, settings.ClassFireExtinguisher, settings.ClassToolbox} {
		err := repo.Record(&detector.Result{
			SessionID:      "s",
			FrameSeq:       uint64(i + 1),
			ReceivedAt:     base.Add(time.Duration(i) * time.Second),
			ProcessingTime: 30 * time.Millisecond,
			Detections:     []detector.Detection{{Class: class, Confidence: 0.8}},
		})
		if err != nil {
			t.Fatalf("Record: %v", err)
		}
	}

	snap, err := repo.Stats(context.Background(), "s")
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if snap.TotalObjects != 3 || snap.ObjectCounts[settings.ClassToolbox] != 2 {
		t.Errorf("counts = %d %v", snap.TotalObjects, snap.ObjectCounts)
	}
	if snap.ProcessedFrames != 3 {
		t.Errorf("ProcessedFrames = %d, want 3", snap.ProcessedFrames)
	}
	if len(snap.History) != 3 || snap.History[0].Class != settings.ClassToolbox || snap.History[0].Action != actionDetected {
		t.Errorf("History = %+v", snap.History)
	}
	if !snap.History[0].Timestamp.Equal(base.Add(2 * time.Second)) {
		t.Errorf("newest history entry at %v", snap.History[0].Timestamp)
	}

	if _, err := repo.Stats(context.Background(), "missing"); err != ErrNotFound {
		t.Errorf("Stats missing = %v, want ErrNotFound", err)
	}
}
