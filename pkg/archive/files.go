package archive

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// StemLayout is the UTC timestamp layout used for record and media names
const StemLayout = "2006-01-02_15-04-05_UTC"

// Stem names the files of an item captured at t
func Stem(t time.Time) string {
	return t.UTC().Format(StemLayout)
}

// ParseStem recovers the capture time from a stem. Child and
// disambiguation suffixes after the timestamp are ignored.
func ParseStem(stem string) (time.Time, bool) {
	if len(stem) < len(StemLayout) {
		return time.Time{}, false
	}
	t, err := time.Parse(StemLayout, stem[:len(StemLayout)])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// ChildStem is the stem of the n-th carousel child (1-indexed)
func ChildStem(stem string, n int) string {
	return fmt.Sprintf("%s_%d", stem, n)
}

// MediaFile is the path of the stem's file with extension ext (".jpg",
// ".mp4", ".json")
func MediaFile(accountDir, stem, ext string) string {
	return filepath.Join(accountDir, stem+ext)
}

// Exists reports whether path is an existing regular file
func Exists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}

// WriteFileAtomic writes data to a temp file next to path and renames it
// into place, so readers see either the old file or the complete new one.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	return WriteStreamAtomic(path, bytes.NewReader(data), perm)
}

// WriteStreamAtomic is WriteFileAtomic for a reader
func WriteStreamAtomic(path string, r io.Reader, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temporary file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to sync %s: %w", filepath.Base(path), err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close file: %w", err)
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to rename temporary file: %w", err)
	}
	return nil
}

// WriteJSONAtomic encodes v as indented JSON and writes it atomically
func WriteJSONAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", filepath.Base(path), err)
	}
	return WriteFileAtomic(path, append(data, '\n'), 0644)
}

// ErrItemNotFound is returned by RemoveItem when no file matched the stem
var ErrItemNotFound = errors.New("item not found in archive")

var childMedia = regexp.MustCompile(`^_\d+\.(jpg|mp4)$`)

// RemoveItem deletes the record and every media file of stem from
// accountDir, including carousel children. It returns the removed names.
func RemoveItem(accountDir, stem string) ([]string, error) {
	if stem == "" || strings.ContainsAny(stem, `/\`) || stem == "." || stem == ".." {
		return nil, fmt.Errorf("invalid item id %q", stem)
	}

	entries, err := os.ReadDir(accountDir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrItemNotFound
		}
		return nil, fmt.Errorf("failed to read archive directory: %w", err)
	}

	var removed []string
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, stem) || !e.Type().IsRegular() {
			continue
		}
		rest := name[len(stem):]
		if rest != ".json" && rest != ".jpg" && rest != ".mp4" && !childMedia.MatchString(rest) {
			continue
		}
		if err := os.Remove(filepath.Join(accountDir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return removed, fmt.Errorf("failed to remove %s: %w", name, err)
		}
		removed = append(removed, name)
	}

	if len(removed) == 0 {
		return nil, ErrItemNotFound
	}
	return removed, nil
}

// PostURL is the public permalink of an item
func PostURL(shortcode string) string {
	if shortcode == "" {
		return ""
	}
	return "https://www.instagram.com/p/" + shortcode + "/"
}
