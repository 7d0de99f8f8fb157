package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Note is what a user attached to one item in the viewer
type Note struct {
	Categories []string `json:"categories"`
	Notes      string   `json:"notes"`
}

// Annotations is the per-account metadata.json document. It is user data,
// never derived from records, so it is the one file the index rebuild
// leaves alone.
type Annotations struct {
	Posts      map[string]Note `json:"posts"`
	Categories []string        `json:"categories"`
}

// LoadAnnotations reads metadata.json. A missing file is an empty document.
func LoadAnnotations(accountDir string) (*Annotations, error) {
	a := &Annotations{Posts: map[string]Note{}, Categories: []string{}}

	data, err := os.ReadFile(filepath.Join(accountDir, AnnotationsFile))
	if errors.Is(err, fs.ErrNotExist) {
		return a, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read annotations: %w", err)
	}
	if err := json.Unmarshal(data, a); err != nil {
		return nil, fmt.Errorf("failed to parse annotations: %w", err)
	}
	if a.Posts == nil {
		a.Posts = map[string]Note{}
	}
	if a.Categories == nil {
		a.Categories = []string{}
	}
	return a, nil
}

// Save writes the document atomically
func (a *Annotations) Save(accountDir string) error {
	return WriteJSONAtomic(filepath.Join(accountDir, AnnotationsFile), a)
}

// Get returns the note for id with empty defaults
func (a *Annotations) Get(id string) Note {
	n := a.Posts[id]
	if n.Categories == nil {
		n.Categories = []string{}
	}
	return n
}

// Update sets categories and/or notes of id; nil arguments leave the
// corresponding field unchanged.
func (a *Annotations) Update(id string, categories []string, notes *string) Note {
	n := a.Posts[id]
	if categories != nil {
		n.Categories = categories
	}
	if notes != nil {
		n.Notes = *notes
	}
	a.Posts[id] = n
	return a.Get(id)
}

// AddCategory registers a category name; it reports false if it existed
func (a *Annotations) AddCategory(name string) bool {
	for _, c := range a.Categories {
		if strings.EqualFold(c, name) {
			return false
		}
	}
	a.Categories = append(a.Categories, name)
	return true
}

// Merge folds the note of dropID into keepID (categories unioned, notes
// joined with a separator) and forgets dropID.
func (a *Annotations) Merge(keepID, dropID string) Note {
	keep, drop := a.Get(keepID), a.Get(dropID)

	seen := map[string]bool{}
	var cats []string
	for _, c := range append(keep.Categories, drop.Categories...) {
		if !seen[c] {
			seen[c] = true
			cats = append(cats, c)
		}
	}
	if cats == nil {
		cats = []string{}
	}

	var notes []string
	for _, n := range []string{keep.Notes, drop.Notes} {
		if strings.TrimSpace(n) != "" {
			notes = append(notes, n)
		}
	}

	merged := Note{Categories: cats, Notes: strings.Join(notes, "\n---\n")}
	a.Posts[keepID] = merged
	delete(a.Posts, dropID)
	return merged
}

// Forget drops the note of id and reports whether one existed
func (a *Annotations) Forget(id string) bool {
	_, ok := a.Posts[id]
	delete(a.Posts, id)
	return ok
}
