// Package archivetest builds account directories for tests.
package archivetest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"igarchive/pkg/archive"
)

// Base is the capture time of the first fixture item
var Base = time.Date(2024, 1, 1, 7, 51, 26, 0, time.UTC)

// StemAt returns the stem of the i-th fixture item, one minute apart
func StemAt(i int) string {
	return archive.Stem(Base.Add(time.Duration(i) * time.Minute))
}

// Photo returns a minimal photo node
func Photo(shortcode, owner, caption string) *archive.Node {
	n := &archive.Node{
		Typename:  "GraphImage",
		ID:        "id-" + shortcode,
		Shortcode: shortcode,
		Owner:     &archive.Owner{ID: "o-" + owner, Username: owner},
	}
	if caption != "" {
		var edge archive.CaptionEdge
		edge.Node.Text = caption
		n.Caption.Edges = append(n.Caption.Edges, edge)
	}
	return n
}

// Carousel returns a sidecar node with the given children
func Carousel(shortcode, owner, caption string, children ...archive.Node) *archive.Node {
	n := Photo(shortcode, owner, caption)
	n.Typename = "GraphSidecar"
	n.Children = &archive.ChildEdges{}
	for _, c := range children {
		n.Children.Edges = append(n.Children.Edges, archive.ChildEdge{Node: c})
	}
	return n
}

// WriteRecord writes <stem>.json holding node
func WriteRecord(t testing.TB, dir, stem string, node *archive.Node) string {
	t.Helper()
	path := filepath.Join(dir, stem+".json")
	data, err := json.Marshal(archive.MetadataRecord{Node: node})
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path, data, 0644))
	return path
}

// WriteRaw writes arbitrary bytes to dir/name
func WriteRaw(t testing.TB, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
}

// Touch creates empty media files named stem+suffix for each suffix
func Touch(t testing.TB, dir, stem string, suffixes ...string) {
	t.Helper()
	for _, s := range suffixes {
		WriteRaw(t, dir, stem+s, "media")
	}
}
