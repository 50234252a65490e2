package forum

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Adda-Baaj/discuz-sentinel/internal/domain"
	"gopkg.in/yaml.v3"
)

// Package forum talks to a Discuz! forum: section registry, probe/thread APIs and HTML pages.

const defaultListPages = 1

type sectionsFile struct {
	Sections []domain.Section `json:"sections" yaml:"sections"`
}

// LoadSections loads the monitored sections from a YAML or JSON file, in file order.
func LoadSections(path string) ([]domain.Section, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("sections file path is empty")
	}

	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open sections file: %w", err)
	}
	defer file.Close()

	raw, err := io.ReadAll(file)
	if err != nil {
		return nil, fmt.Errorf("read sections file: %w", err)
	}

	reg, err := parseSections(raw, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	if len(reg.Sections) == 0 {
		return nil, errors.New("sections file contains no sections entries")
	}

	seen := make(map[int]struct{}, len(reg.Sections))
	out := make([]domain.Section, 0, len(reg.Sections))
	for i := range reg.Sections {
		s := sanitizeSection(reg.Sections[i])
		if err := validateSection(s); err != nil {
			return nil, fmt.Errorf("section[%d]: %w", i, err)
		}
		if _, dup := seen[s.ID]; dup {
			return nil, fmt.Errorf("duplicate section id %d", s.ID)
		}
		seen[s.ID] = struct{}{}
		out = append(out, s)
	}
	return out, nil
}

type unmarshalFn func([]byte, any) error

func parseSections(data []byte, ext string) (sectionsFile, error) {
	ext = strings.ToLower(strings.TrimSpace(ext))

	decoders := []struct {
		name string
		ext  string
		fn   unmarshalFn
	}{
		{name: "yaml", ext: ".yaml", fn: yaml.Unmarshal},
		{name: "yaml", ext: ".yml", fn: yaml.Unmarshal},
		{name: "json", ext: ".json", fn: json.Unmarshal},
	}

	var lastErr error
	for _, d := range decoders {
		if ext != "" && ext != d.ext {
			continue
		}
		var reg sectionsFile
		if err := d.fn(data, &reg); err != nil {
			lastErr = fmt.Errorf("decode %s sections: %w", d.name, err)
			continue
		}
		return reg, nil
	}
	if lastErr != nil {
		return sectionsFile{}, lastErr
	}
	return sectionsFile{}, errors.New("sections file format not recognized (expected YAML or JSON)")
}

func sanitizeSection(s domain.Section) domain.Section {
	s.Name = strings.TrimSpace(s.Name)
	if s.Name == "" {
		s.Name = fmt.Sprintf("fid-%d", s.ID)
	}
	if s.ListPages <= 0 {
		s.ListPages = defaultListPages
	}
	channels := make([]string, 0, len(s.Channels))
	for _, c := range s.Channels {
		if c = strings.TrimSpace(c); c != "" {
			channels = append(channels, c)
		}
	}
	s.Channels = channels
	return s
}

func validateSection(s domain.Section) error {
	if s.ID <= 0 {
		return fmt.Errorf("id must be a positive forum fid (got %d)", s.ID)
	}
	return nil
}
