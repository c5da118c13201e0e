package export

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
)

// RecordVersion is the current on-disk export record format. Older records
// are migrated in place on first load.
const RecordVersion = 2

// RecordFileName is the record's name inside the export root.
const RecordFileName = ".export_record.json"

// Record is the persisted reconciliation state of one export folder: which
// collections map to which folder names and where each exported file lives
// relative to the root.
type Record struct {
	Version int `json:"version"`

	// Collections maps collection id to its folder name under the root.
	Collections map[int64]string `json:"collections"`

	// Files maps file id to its path relative to the root.
	Files map[int64]string `json:"files"`
}

func newRecord() *Record {
	return &Record{
		Version:     RecordVersion,
		Collections: make(map[int64]string),
		Files:       make(map[int64]string),
	}
}

// rawRecord is the shape-agnostic view used to run the migration chain.
type rawRecord struct {
	Version int `json:"version"`

	// v0 kept a flat list of "<fileID>/<relative path>" strings.
	ExportedFiles []string `json:"exportedFiles,omitempty"`

	Collections map[int64]string `json:"collections,omitempty"`
	Files       map[int64]string `json:"files,omitempty"`
}

// decodeRecord parses and migrates a record through every version step up to
// the current one. Each step only knows about the step before it.
func decodeRecord(data []byte) (*Record, error) {
	var raw rawRecord
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("export record: %w", err)
	}
	for raw.Version < RecordVersion {
		switch raw.Version {
		case 0:
			migrateV0(&raw)
		case 1:
			migrateV1(&raw)
		}
		raw.Version++
	}
	rec := &Record{Version: RecordVersion, Collections: raw.Collections, Files: raw.Files}
	if rec.Collections == nil {
		rec.Collections = make(map[int64]string)
	}
	if rec.Files == nil {
		rec.Files = make(map[int64]string)
	}
	return rec, nil
}

// migrateV0 turns the flat exportedFiles list into the files map.
func migrateV0(raw *rawRecord) {
	raw.Files = make(map[int64]string, len(raw.ExportedFiles))
	for _, entry := range raw.ExportedFiles {
		idStr, rel, ok := strings.Cut(entry, "/")
		if !ok {
			continue
		}
		id, err := strconv.ParseInt(idStr, 10, 64)
		if err != nil {
			continue
		}
		raw.Files[id] = rel
	}
	raw.ExportedFiles = nil
}

// migrateV1 adds the collections map; folder names are re-derived on the
// next reconciliation pass.
func migrateV1(raw *rawRecord) {
	if raw.Collections == nil {
		raw.Collections = make(map[int64]string)
	}
}

func encodeRecord(rec *Record) ([]byte, error) {
	return json.MarshalIndent(rec, "", "  ")
}

// sanitizeName maps a user-chosen title onto a safe folder/file name.
func sanitizeName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "untitled"
	}
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			b.WriteRune('_')
		default:
			if r < 0x20 {
				b.WriteRune('_')
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
