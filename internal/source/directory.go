package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/workhistory/history-migrator/internal/domain"
)

// Directory reads one export document per file from a directory.
type Directory struct {
	dir string
}

// NewDirectory returns a loader rooted at dir.
func NewDirectory(dir string) *Directory {
	return &Directory{dir: dir}
}

// Paths lists the export files in lexical order so batches are reproducible.
func (d *Directory) Paths(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, fmt.Errorf("read source dir: %w", err)
	}
	var paths []string
	for _, entry := range entries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if entry.IsDir() || !isExport(entry.Name()) {
			continue
		}
		paths = append(paths, filepath.Join(d.dir, entry.Name()))
	}
	sort.Strings(paths)
	return paths, nil
}

// Load reads and decodes one export file.
func (d *Directory) Load(_ context.Context, path string) (domain.RawHistory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return domain.RawHistory{}, fmt.Errorf("read %s: %w", filepath.Base(path), err)
	}
	doc, err := Decode(data, filepath.Ext(path))
	if err != nil {
		return domain.RawHistory{}, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return doc.ToRaw(), nil
}

// Decode parses a JSON or YAML export. YAML is routed through JSON so both
// formats yield the same value types (numbers as float64, maps keyed by string).
func Decode(data []byte, ext string) (Document, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		var generic any
		if err := yaml.Unmarshal(data, &generic); err != nil {
			return Document{}, err
		}
		converted, err := json.Marshal(generic)
		if err != nil {
			return Document{}, err
		}
		data = converted
	case ".json", "":
	default:
		return Document{}, fmt.Errorf("unsupported export format %q", ext)
	}

	var doc Document
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return Document{}, err
	}
	return doc, nil
}

func isExport(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".json", ".yaml", ".yml":
		return true
	}
	return false
}
