// Package index derives posts-index.json from the records of an account
// directory, and accounts.json from the account directories under the
// archive root. Both files are rebuilt from scratch on every call.
package index

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"igarchive/pkg/archive"
)

// Entry is one item of posts-index.json
type Entry struct {
	ID              string           `json:"id"`
	Filename        string           `json:"filename"`
	Timestamp       string           `json:"timestamp"`
	Shortcode       string           `json:"shortcode"`
	Caption         string           `json:"caption"`
	PostURL         string           `json:"postUrl"`
	DisplayURL      string           `json:"displayUrl"`
	IsVideo         bool             `json:"isVideo"`
	VideoURL        string           `json:"videoUrl"`
	Owner           string           `json:"owner"`
	Location        *string          `json:"location"`
	Hashtags        []string         `json:"hashtags"`
	Kind            archive.Kind     `json:"kind"`
	IsCarousel      bool             `json:"isCarousel"`
	CarouselItems   []CarouselItem   `json:"carouselItems"`
	AltText         string           `json:"altText,omitempty"`
	TaggedUsers     []TaggedUser     `json:"taggedUsers"`
	Engagement      Engagement       `json:"engagement"`
	LocationDetails *LocationDetails `json:"locationDetails"`
}

type CarouselItem struct {
	ID          string       `json:"id"`
	DisplayURL  string       `json:"displayUrl"`
	IsVideo     bool         `json:"isVideo"`
	VideoURL    string       `json:"videoUrl"`
	AltText     string       `json:"altText,omitempty"`
	Dimensions  Dimensions   `json:"dimensions"`
	TaggedUsers []TaggedUser `json:"taggedUsers"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// TaggedUser is a tag with its position relative to the media (0..1)
type TaggedUser struct {
	ID       string  `json:"id"`
	Username string  `json:"username"`
	FullName string  `json:"fullName"`
	X        float64 `json:"x"`
	Y        float64 `json:"y"`
}

type Engagement struct {
	Likes    int `json:"likes"`
	Comments int `json:"comments"`
}

type LocationDetails struct {
	ID   string `json:"id,omitempty"`
	Name string `json:"name,omitempty"`
	Slug string `json:"slug,omitempty"`
}

// Index is the full set of entries of one account
type Index []Entry

// Build reads every record of accountDir and derives its entries. Media
// paths are relative to accountDir and only set when the file exists.
func Build(accountDir string) (Index, error) {
	records, err := archive.ReadRecords(accountDir)
	if err != nil {
		return nil, err
	}

	idx := make(Index, 0, len(records))
	for _, rec := range records {
		idx = append(idx, entryFor(accountDir, rec))
	}
	return idx, nil
}

func entryFor(dir string, rec archive.Record) Entry {
	node := rec.Node
	kind := archive.KindOf(node)
	caption := node.CaptionText()

	e := Entry{
		ID:            rec.Stem,
		Filename:      rec.Stem + ".json",
		Timestamp:     rec.Stem,
		Shortcode:     node.Shortcode,
		Caption:       caption,
		PostURL:       archive.PostURL(node.Shortcode),
		DisplayURL:    mediaIfExists(dir, rec.Stem, ".jpg"),
		IsVideo:       node.IsVideo || kind == archive.KindVideo,
		Owner:         node.OwnerUsername(),
		Hashtags:      Hashtags(caption),
		Kind:          kind,
		IsCarousel:    kind == archive.KindCarousel,
		CarouselItems: []CarouselItem{},
		AltText:       node.AccessibilityCaption,
		TaggedUsers:   taggedUsers(node.TaggedUsers),
		Engagement: Engagement{
			Likes:    node.LikeCount(),
			Comments: node.CommentCount(),
		},
	}

	if e.IsVideo {
		e.VideoURL = mediaIfExists(dir, rec.Stem, ".mp4")
	}

	if loc := node.Location; loc != nil {
		e.LocationDetails = &LocationDetails{ID: loc.ID, Name: loc.Name, Slug: loc.Slug}
		if loc.Name != "" {
			name := loc.Name
			e.Location = &name
		}
	}

	for i, child := range node.ChildNodes() {
		stem := archive.ChildStem(rec.Stem, i+1)
		item := CarouselItem{
			ID:          stem,
			DisplayURL:  mediaIfExists(dir, stem, ".jpg"),
			IsVideo:     child.IsVideo,
			AltText:     child.AccessibilityCaption,
			TaggedUsers: taggedUsers(child.TaggedUsers),
		}
		if child.IsVideo {
			item.VideoURL = mediaIfExists(dir, stem, ".mp4")
		}
		if child.Dimensions != nil {
			item.Dimensions = Dimensions{Width: child.Dimensions.Width, Height: child.Dimensions.Height}
		}
		e.CarouselItems = append(e.CarouselItems, item)
	}

	return e
}

func mediaIfExists(dir, stem, ext string) string {
	if path := archive.MediaFile(dir, stem, ext); archive.Exists(path) {
		return filepath.Base(path)
	}
	return ""
}

func taggedUsers(edges archive.TagEdges) []TaggedUser {
	users := make([]TaggedUser, 0, len(edges.Edges))
	for _, edge := range edges.Edges {
		tag := edge.Node
		if tag.User.Username == "" {
			continue
		}
		users = append(users, TaggedUser{
			ID:       tag.User.ID,
			Username: tag.User.Username,
			FullName: tag.User.FullName,
			X:        tag.X,
			Y:        tag.Y,
		})
	}
	return users
}

var hashtagPattern = regexp.MustCompile(`#[\p{L}\p{M}\p{N}_]+`)

// Hashtags returns the lower-cased hashtags of caption in order of first
// occurrence, each once.
func Hashtags(caption string) []string {
	tags := []string{}
	seen := map[string]bool{}
	for _, m := range hashtagPattern.FindAllString(caption, -1) {
		tag := strings.ToLower(m)
		if !seen[tag] {
			seen[tag] = true
			tags = append(tags, tag)
		}
	}
	return tags
}

// Write replaces posts-index.json of accountDir with idx
func Write(accountDir string, idx Index) error {
	if idx == nil {
		idx = Index{}
	}
	data, err := json.Marshal(idx)
	if err != nil {
		return fmt.Errorf("failed to encode index: %w", err)
	}
	return archive.WriteFileAtomic(filepath.Join(accountDir, archive.IndexFile), data, 0644)
}

// Rebuild builds and writes the index of accountDir
func Rebuild(accountDir string) (Index, error) {
	idx, err := Build(accountDir)
	if err != nil {
		return nil, err
	}
	if err := Write(accountDir, idx); err != nil {
		return nil, err
	}
	return idx, nil
}

// ErrNoIndex is returned by Load for an account without posts-index.json
var ErrNoIndex = errors.New("account has no index")

// Load reads posts-index.json of accountDir
func Load(accountDir string) (Index, error) {
	data, err := os.ReadFile(filepath.Join(accountDir, archive.IndexFile))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNoIndex
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read index: %w", err)
	}
	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("failed to parse index: %w", err)
	}
	return idx, nil
}
