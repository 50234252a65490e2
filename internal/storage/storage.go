package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
)

// Package storage persists per-section watermarks.

// ErrCorruptState means the state file could not be decoded. It is never reset
// automatically; the file has to be repaired or removed by hand.
var ErrCorruptState = errors.New("state file is corrupt; repair or remove it by hand")

// Store keeps the highest delivered post/thread id per section. Put never lowers a
// stored field.
type Store interface {
	Close() error
	Get(fid int) (domain.Watermark, error)
	Put(fid int, w domain.Watermark) error
	All() (map[int]domain.Watermark, error)
}

// Backend names accepted by NewStore.
const (
	TypeJSON  = "json"
	TypeBBolt = "bbolt"
	TypeNone  = "none"
)

// NewStore creates the configured storage backend.
func NewStore(typ, path string) (Store, error) {
	typ = strings.TrimSpace(strings.ToLower(typ))

	switch typ {
	case TypeNone, "disabled", "memory":
		return newMemoryStore(), nil
	case "", TypeJSON, "file":
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("json storage requires a path")
		}
		return openJSONFile(path)
	case TypeBBolt:
		if strings.TrimSpace(path) == "" {
			return nil, fmt.Errorf("bbolt storage requires a path")
		}
		return openBolt(path)
	default:
		return nil, fmt.Errorf("unsupported storage type %q", typ)
	}
}

// decodeWatermark accepts {"last_pid":..,"last_tid":..} or a legacy bare post id.
func decodeWatermark(raw []byte) (domain.Watermark, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return domain.Watermark{}, nil
	}
	if s[0] != '{' {
		n, err := strconv.ParseFloat(strings.Trim(s, `"`), 64)
		if err != nil {
			return domain.Watermark{}, fmt.Errorf("decode legacy watermark %q: %w", s, err)
		}
		return domain.Watermark{LastPID: int64(n)}, nil
	}
	var w domain.Watermark
	if err := json.Unmarshal(raw, &w); err != nil {
		return domain.Watermark{}, fmt.Errorf("decode watermark: %w", err)
	}
	return w, nil
}

// memoryStore keeps watermarks for the life of the process only.
type memoryStore struct {
	marks map[int]domain.Watermark
}

func newMemoryStore() *memoryStore {
	return &memoryStore{marks: map[int]domain.Watermark{}}
}

func (m *memoryStore) Close() error { return nil }

func (m *memoryStore) Get(fid int) (domain.Watermark, error) { return m.marks[fid], nil }

func (m *memoryStore) Put(fid int, w domain.Watermark) error {
	m.marks[fid] = m.marks[fid].Merge(w)
	return nil
}

func (m *memoryStore) All() (map[int]domain.Watermark, error) {
	out := make(map[int]domain.Watermark, len(m.marks))
	for k, v := range m.marks {
		out[k] = v
	}
	return out, nil
}
