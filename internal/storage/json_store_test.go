package storage

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
)

func TestJSONStoreMissingFileIsEmpty(t *testing.T) {
	store, err := NewStore("json", filepath.Join(t.TempDir(), "missing", "state.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	all, _ := store.All()
	if len(all) != 0 {
		t.Fatalf("expected empty state, got %v", all)
	}
}

func TestJSONStoreAcceptsLegacyShape(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	content := `{"147": 100, "148": {"last_pid": 7, "last_tid": 3}}`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}

	store, err := openJSONFile(path)
	if err != nil {
		t.Fatalf("openJSONFile: %v", err)
	}
	if w, _ := store.Get(147); w != (domain.Watermark{LastPID: 100}) {
		t.Fatalf("unexpected legacy watermark %+v", w)
	}
	if w, _ := store.Get(148); w != (domain.Watermark{LastPID: 7, LastTID: 3}) {
		t.Fatalf("unexpected watermark %+v", w)
	}
}

func TestJSONStorePutRewritesCurrentShape(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "state.json")
	if err := os.WriteFile(path, []byte(`{"147": 100}`), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	store, err := openJSONFile(path)
	if err != nil {
		t.Fatalf("openJSONFile: %v", err)
	}
	if err := store.Put(147, domain.Watermark{LastPID: 99, LastTID: 12}); err != nil {
		t.Fatalf("Put: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read state: %v", err)
	}
	var got map[string]domain.Watermark
	if err := json.Unmarshal(raw, &got); err != nil {
		t.Fatalf("decode state: %v", err)
	}
	if got["147"] != (domain.Watermark{LastPID: 100, LastTID: 12}) {
		t.Fatalf("expected monotonic merge, got %+v", got["147"])
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Fatalf("expected temp files to be cleaned up, found %d entries", len(entries))
	}
}

func TestJSONStoreRejectsCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{not json`), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	_, err := openJSONFile(path)
	if !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
	if !strings.Contains(err.Error(), "repair or remove it by hand") || !strings.Contains(err.Error(), path) {
		t.Fatalf("error should name the file and the manual fix: %v", err)
	}
}

func TestJSONStoreRejectsNonNumericKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	if err := os.WriteFile(path, []byte(`{"abc":{"last_pid":1}}`), 0o644); err != nil {
		t.Fatalf("write state: %v", err)
	}
	if _, err := openJSONFile(path); !errors.Is(err, ErrCorruptState) {
		t.Fatalf("expected ErrCorruptState, got %v", err)
	}
}
