package settings

import (
	"path/filepath"
	"testing"

	"github.com/slackerchris/Unicorn-Ai/internal/models"
	"github.com/slackerchris/Unicorn-Ai/internal/storage"
)

func newTestStore(t *testing.T) storage.Store {
	t.Helper()
	kv, err := storage.OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("open bolt: %v", err)
	}
	t.Cleanup(func() { kv.Close() })
	return kv
}

func TestLoadReturnsDefaultsWhenAbsent(t *testing.T) {
	s := NewStore(newTestStore(t), nil)

	got := s.Load()
	if got != models.DefaultSettings() {
		t.Fatalf("expected pure defaults, got %+v", got)
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := NewStore(newTestStore(t), nil)

	custom := models.DefaultSettings()
	custom.Theme = "light"
	custom.StreamingMode = true
	custom.Temperature = 0.3
	custom.MaxTokens = 512

	if err := s.Save(custom); err != nil {
		t.Fatalf("save: %v", err)
	}
	got := s.Load()
	if got != custom {
		t.Fatalf("round trip mismatch: want %+v got %+v", custom, got)
	}
}

func TestLoadMergesPartialRecordOverDefaults(t *testing.T) {
	kv := newTestStore(t)
	s := NewStore(kv, nil)

	// A stored record with only some keys: the rest keep their defaults.
	if err := kv.Put(storage.KeySettings, []byte(`{"theme":"light","maxTokens":100}`)); err != nil {
		t.Fatalf("seed record: %v", err)
	}

	got := s.Load()
	want := models.DefaultSettings()
	want.Theme = "light"
	want.MaxTokens = 100
	if got != want {
		t.Fatalf("merge mismatch: want %+v got %+v", want, got)
	}
}

func TestLoadCorruptRecordYieldsDefaults(t *testing.T) {
	kv := newTestStore(t)
	s := NewStore(kv, nil)

	if err := kv.Put(storage.KeySettings, []byte(`{not json`)); err != nil {
		t.Fatalf("seed corrupt record: %v", err)
	}

	got := s.Load()
	if got != models.DefaultSettings() {
		t.Fatalf("expected defaults for corrupt record, got %+v", got)
	}
}

func TestResetRestoresDefaults(t *testing.T) {
	s := NewStore(newTestStore(t), nil)

	custom := models.DefaultSettings()
	custom.Theme = "light"
	if err := s.Save(custom); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.Reset()
	if err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got != models.DefaultSettings() {
		t.Fatalf("reset did not return defaults: %+v", got)
	}
	if loaded := s.Load(); loaded != models.DefaultSettings() {
		t.Fatalf("reset did not persist defaults: %+v", loaded)
	}
}
