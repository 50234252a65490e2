package storage

import (
	"path/filepath"
	"testing"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
)

func TestBoltStorePersistsMonotonicWatermarks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")

	store, err := openBolt(path)
	if err != nil {
		t.Fatalf("openBolt: %v", err)
	}

	w, err := store.Get(147)
	if err != nil || w != (domain.Watermark{}) {
		t.Fatalf("expected empty watermark, got %+v err=%v", w, err)
	}

	if err := store.Put(147, domain.Watermark{LastPID: 101, LastTID: 5}); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := store.Put(147, domain.Watermark{LastPID: 90, LastTID: 6}); err != nil {
		t.Fatalf("Put lower pid: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := openBolt(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	w, err = reopened.Get(147)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if w.LastPID != 101 || w.LastTID != 6 {
		t.Fatalf("expected {101 6}, got %+v", w)
	}

	all, err := reopened.All()
	if err != nil || len(all) != 1 {
		t.Fatalf("expected one entry, got %v err=%v", all, err)
	}
}

func TestNewStoreSupportsNone(t *testing.T) {
	store, err := NewStore("none", "")
	if err != nil {
		t.Fatalf("NewStore none: %v", err)
	}
	if err := store.Put(1, domain.Watermark{LastPID: 3}); err != nil {
		t.Fatalf("memory store Put: %v", err)
	}
	if w, _ := store.Get(1); w.LastPID != 3 {
		t.Fatalf("expected in-process watermark, got %+v", w)
	}
}

func TestNewStoreRejectsUnknownType(t *testing.T) {
	if _, err := NewStore("redis", "x"); err == nil {
		t.Fatalf("expected error for unknown store type")
	}
	if _, err := NewStore("bbolt", " "); err == nil {
		t.Fatalf("expected error for missing bbolt path")
	}
}
