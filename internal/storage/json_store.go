package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
)

// jsonStore is the state file: {"<fid>": {"last_pid": N, "last_tid": M}}. Every Put
// rewrites the file through a temp file and rename.
type jsonStore struct {
	path  string
	marks map[int]domain.Watermark
}

func openJSONFile(path string) (*jsonStore, error) {
	s := &jsonStore{path: path, marks: map[int]domain.Watermark{}}

	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	if len(raw) == 0 {
		return s, nil
	}

	var entries map[string]json.RawMessage
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrCorruptState, path, err)
	}
	for key, value := range entries {
		fid, err := strconv.Atoi(key)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: key %q is not a section id", ErrCorruptState, path, key)
		}
		w, err := decodeWatermark(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: section %d: %w", ErrCorruptState, path, fid, err)
		}
		s.marks[fid] = w
	}
	return s, nil
}

func (s *jsonStore) Close() error { return nil }

func (s *jsonStore) Get(fid int) (domain.Watermark, error) { return s.marks[fid], nil }

func (s *jsonStore) All() (map[int]domain.Watermark, error) {
	out := make(map[int]domain.Watermark, len(s.marks))
	for k, v := range s.marks {
		out[k] = v
	}
	return out, nil
}

func (s *jsonStore) Put(fid int, w domain.Watermark) error {
	merged := s.marks[fid].Merge(w)
	if existing, ok := s.marks[fid]; ok && existing == merged {
		return nil
	}
	s.marks[fid] = merged
	return s.flush()
}

func (s *jsonStore) flush() error {
	keys := make([]int, 0, len(s.marks))
	for k := range s.marks {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	out := make(map[string]domain.Watermark, len(keys))
	for _, k := range keys {
		out[strconv.Itoa(k)] = s.marks[k]
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create state directory: %w", err)
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}
