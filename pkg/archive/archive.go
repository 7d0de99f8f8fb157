// Package archive reads and writes the on-disk archive: one directory per
// account holding a JSON metadata record per item plus sibling media
// files sharing the record's timestamp stem.
package archive

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

const (
	IndexFile       = "posts-index.json"
	RegistryFile    = "accounts.json"
	AnnotationsFile = "metadata.json"
	SummaryFile     = "saved_posts_summary.json"
)

var reserved = map[string]bool{
	IndexFile:       true,
	RegistryFile:    true,
	AnnotationsFile: true,
	SummaryFile:     true,
}

// IsRecordFile reports whether name looks like a metadata record: a .json
// file that is neither reserved nor a hidden temp file.
func IsRecordFile(name string) bool {
	return strings.HasSuffix(name, ".json") &&
		!reserved[name] &&
		!strings.HasPrefix(name, ".")
}

// KnownSet holds the identifiers already present in an account directory
type KnownSet map[string]struct{}

func (k KnownSet) Has(id string) bool {
	_, ok := k[id]
	return ok
}

func (k KnownSet) Add(id string) { k[id] = struct{}{} }

func (k KnownSet) Len() int { return len(k) }

// ScanKnownIdentifiers returns the identifiers of every readable record in
// accountDir. Unreadable, malformed and foreign files are skipped. A
// missing directory is an empty archive.
func ScanKnownIdentifiers(accountDir string) (KnownSet, error) {
	known := KnownSet{}
	names, err := recordNames(accountDir)
	if err != nil {
		return known, err
	}

	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(accountDir, name))
		if err != nil {
			continue
		}
		if id, ok := decodeIdentifier(data); ok {
			known.Add(id)
		}
	}
	return known, nil
}

// Record is a decoded metadata record together with where it lives
type Record struct {
	Stem string
	Path string
	*MetadataRecord
}

// ReadRecords decodes every record in accountDir, ordered by stem.
// Records without an identifier are still returned; the index keys on stem.
func ReadRecords(accountDir string) ([]Record, error) {
	names, err := recordNames(accountDir)
	if err != nil {
		return nil, err
	}

	records := make([]Record, 0, len(names))
	for _, name := range names {
		path := filepath.Join(accountDir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		rec, ok := DecodeRecord(data)
		if !ok {
			continue
		}
		records = append(records, Record{
			Stem:           strings.TrimSuffix(name, ".json"),
			Path:           path,
			MetadataRecord: rec,
		})
	}
	return records, nil
}

func recordNames(accountDir string) ([]string, error) {
	entries, err := os.ReadDir(accountDir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() && IsRecordFile(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)

// ValidUsername reports whether name can safely be used as an account
// directory name.
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(name) && name != "." && name != ".."
}

// AccountDir returns baseDir/username after validating username
func AccountDir(baseDir, username string) (string, error) {
	if !ValidUsername(username) {
		return "", fmt.Errorf("invalid account name %q", username)
	}
	return filepath.Join(baseDir, username), nil
}
