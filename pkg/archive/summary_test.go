package archive_test

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igarchive/internal/archivetest"
	"igarchive/pkg/archive"
)

func TestMergeSummary(t *testing.T) {
	dir := t.TempDir()
	day1 := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := archive.MergeSummary(dir, "jane", []archive.SummaryPost{
		{Shortcode: "A", Caption: "first"},
		{Shortcode: "B", Caption: "second"},
	}, day1)
	require.NoError(t, err)

	s, err := archive.MergeSummary(dir, "jane", []archive.SummaryPost{
		{Shortcode: "C", Caption: "third"},
		{Shortcode: "A", Caption: "first, edited"},
	}, day1.Add(24*time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 3, s.TotalPosts)
	require.Len(t, s.Posts, 3)
	assert.Equal(t, "first, edited", s.Posts[0].Caption)
	assert.Equal(t, "B", s.Posts[1].Shortcode)
	assert.Equal(t, "C", s.Posts[2].Shortcode)

	reloaded := archive.LoadSummary(dir)
	assert.Equal(t, "jane", reloaded.Username)
	assert.True(t, reloaded.DownloadDate.Equal(day1.Add(24*time.Hour)))
	assert.Equal(t, 3, reloaded.TotalPosts)
}

func TestMergeSummaryReplacesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	archivetest.WriteRaw(t, dir, archive.SummaryFile, "{{{")

	s, err := archive.MergeSummary(dir, "jane", nil, time.Now())
	require.NoError(t, err)
	assert.Equal(t, 0, s.TotalPosts)
	assert.NotNil(t, s.Posts)
	assert.True(t, archive.Exists(filepath.Join(dir, archive.SummaryFile)))
}

func TestAnnotations(t *testing.T) {
	dir := t.TempDir()

	a, err := archive.LoadAnnotations(dir)
	require.NoError(t, err)
	assert.Empty(t, a.Posts)

	notes := "from the trip"
	a.Update("p1", []string{"travel"}, &notes)
	a.Update("p2", []string{"travel", "food"}, nil)
	assert.True(t, a.AddCategory("travel"))
	assert.False(t, a.AddCategory("Travel"))
	require.NoError(t, a.Save(dir))

	loaded, err := archive.LoadAnnotations(dir)
	require.NoError(t, err)
	assert.Equal(t, "from the trip", loaded.Get("p1").Notes)
	assert.Equal(t, []string{}, loaded.Get("missing").Categories)

	merged := loaded.Merge("p2", "p1")
	assert.Equal(t, []string{"travel", "food"}, merged.Categories)
	assert.Equal(t, "from the trip", merged.Notes)
	assert.False(t, loaded.Forget("p1"))
	assert.True(t, loaded.Forget("p2"))
}

func TestAnnotationsCorrupt(t *testing.T) {
	dir := t.TempDir()
	archivetest.WriteRaw(t, dir, archive.AnnotationsFile, "nope")
	_, err := archive.LoadAnnotations(dir)
	assert.Error(t, err)
}
