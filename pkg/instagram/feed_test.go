package instagram

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"igarchive/pkg/archive"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/syncer"
)

type savedPage struct {
	shortcodes []string
	next       string
}

// savedServer serves pages keyed by the "after" cursor; "" is the first page
func savedServer(t *testing.T, pages map[string]savedPage, requests *int32) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(requests, 1)
		assert.Equal(t, GraphQLEndpoint, r.URL.Path)
		assert.Equal(t, SavedMediaQueryHash, r.URL.Query().Get("query_hash"))

		var vars struct {
			ID    string `json:"id"`
			First int    `json:"first"`
			After string `json:"after"`
		}
		assert.NoError(t, json.Unmarshal([]byte(r.URL.Query().Get("variables")), &vars))
		assert.Equal(t, "42", vars.ID)

		page, ok := pages[vars.After]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		var edges []string
		for i, sc := range page.shortcodes {
			edges = append(edges, fmt.Sprintf(
				`{"node":{"__typename":"GraphImage","id":"%d","shortcode":%q,"display_url":"https://cdn.example/%s.jpg","taken_at_timestamp":%d,"owner":{"id":"1","username":"owner"}}}`,
				i, sc, sc, 1704095486+i))
		}
		fmt.Fprintf(w, `{"data":{"user":{"edge_saved_media":{"count":99,"page_info":{"has_next_page":%t,"end_cursor":%q},"edges":[%s]}}},"status":"ok"}`,
			page.next != "", page.next, strings.Join(edges, ","))
	}
}

func drain(t *testing.T, feed syncer.Feed) []string {
	t.Helper()
	var ids []string
	for {
		item, err := feed.Next(context.Background())
		if err == syncer.ErrFeedExhausted {
			return ids
		}
		require.NoError(t, err)
		ids = append(ids, item.Identifier)
	}
}

func TestSavedFeedWalksAllPages(t *testing.T) {
	var requests int32
	c := newTestClient(t, savedServer(t, map[string]savedPage{
		"":   {shortcodes: []string{"A", "B"}, next: "c1"},
		"c1": {shortcodes: []string{"C"}, next: "c2"},
		"c2": {shortcodes: []string{"D"}},
	}, &requests))

	feed := c.SavedFeed("42", 2)
	assert.Equal(t, []string{"A", "B", "C", "D"}, drain(t, feed))
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
	assert.Equal(t, 3, feed.Pages())

	// Exhausted feeds stay exhausted without further requests
	_, err := feed.Next(context.Background())
	assert.ErrorIs(t, err, syncer.ErrFeedExhausted)
	assert.Equal(t, int32(3), atomic.LoadInt32(&requests))
}

func TestSavedFeedDoesNotReadAhead(t *testing.T) {
	var requests int32
	c := newTestClient(t, savedServer(t, map[string]savedPage{
		"":   {shortcodes: []string{"A", "B"}, next: "c1"},
		"c1": {shortcodes: []string{"C"}},
	}, &requests))

	feed := c.SavedFeed("42", 2)
	for _, want := range []string{"A", "B"} {
		item, err := feed.Next(context.Background())
		require.NoError(t, err)
		assert.Equal(t, want, item.Identifier)
		assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
	}

	item, err := feed.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "C", item.Identifier)
	assert.Equal(t, int32(2), atomic.LoadInt32(&requests))
}

func TestSavedFeedEmptyPageEndsFeed(t *testing.T) {
	var requests int32
	c := newTestClient(t, savedServer(t, map[string]savedPage{
		"": {shortcodes: nil, next: "c1"},
	}, &requests))

	assert.Empty(t, drain(t, c.SavedFeed("42", 12)))
	assert.Equal(t, int32(1), atomic.LoadInt32(&requests))
}

func TestSavedFeedErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want errs.ErrorType
	}{
		{"null user", `{"data":{"user":null},"status":"ok"}`, errs.ErrorTypeAuth},
		{"login required", `{"require_login":true,"status":"fail"}`, errs.ErrorTypeAuth},
		{"rate limited", `{"message":"Please wait a few minutes before you try again.","status":"fail"}`, errs.ErrorTypeRateLimit},
		{"missing connection", `{"data":{"user":{}},"status":"ok"}`, errs.ErrorTypeParsing},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(tt.body))
			}))
			_, err := c.SavedFeed("42", 12).Next(context.Background())
			require.Error(t, err)
			assert.NotErrorIs(t, err, syncer.ErrFeedExhausted)
			assert.Equal(t, tt.want, errs.TypeOf(err))
		})
	}
}

func TestFetchSavedPageRequiresUserID(t *testing.T) {
	c := NewClient(time.Second, nil)
	_, err := c.FetchSavedPage(context.Background(), "", "", 12)
	assert.True(t, errs.Is(err, errs.ErrorTypeAuth))
}

func TestSavedMediaURL(t *testing.T) {
	raw, err := SavedMediaURL("https://www.instagram.com/", "42", "", 500)
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	assert.Equal(t, GraphQLEndpoint, u.Path)

	var vars map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(u.Query().Get("variables")), &vars))
	assert.Equal(t, "42", vars["id"])
	assert.Equal(t, float64(MaxPageSize), vars["first"])
	assert.NotContains(t, vars, "after")

	raw, err = SavedMediaURL(BaseURL, "42", `cursor"with"quotes`, 0)
	require.NoError(t, err)
	u, _ = url.Parse(raw)
	require.NoError(t, json.Unmarshal([]byte(u.Query().Get("variables")), &vars))
	assert.Equal(t, `cursor"with"quotes`, vars["after"])
	assert.Equal(t, float64(DefaultPageSize), vars["first"])
}

func TestFetchPost(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PostQueryHash, r.URL.Query().Get("query_hash"))
		if !strings.Contains(r.URL.Query().Get("variables"), `"CAR"`) {
			w.Write([]byte(`{"data":{"shortcode_media":null},"status":"ok"}`))
			return
		}
		w.Write([]byte(`{"data":{"shortcode_media":{"__typename":"GraphSidecar","shortcode":"CAR",
			"edge_sidecar_to_children":{"edges":[{"node":{"display_url":"https://cdn/1.jpg"}},{"node":{"display_url":"https://cdn/2.jpg","is_video":true,"video_url":"https://cdn/2.mp4"}}]}}},"status":"ok"}`))
	}))

	node, err := c.FetchPost(context.Background(), "CAR")
	require.NoError(t, err)
	assert.Len(t, node.ChildNodes(), 2)

	_, err = c.FetchPost(context.Background(), "GONE")
	assert.True(t, errs.Is(err, errs.ErrorTypeNotFound))
}

func TestItemFromNode(t *testing.T) {
	t.Run("video", func(t *testing.T) {
		n := &archive.Node{
			Typename:     "GraphVideo",
			Shortcode:    "VID",
			IsVideo:      true,
			VideoURL:     "https://cdn/v.mp4",
			DisplayURL:   "https://cdn/v.jpg",
			TakenAt:      1704095486,
			Owner:        &archive.Owner{Username: "bob"},
			PreviewLikes: &archive.Count{Count: 5},
			Comments:     &archive.Count{Count: 2},
		}
		var edge archive.CaptionEdge
		edge.Node.Text = "hello"
		n.Caption.Edges = append(n.Caption.Edges, edge)

		item := ItemFromNode(n)
		assert.Equal(t, "VID", item.Identifier)
		assert.Equal(t, "bob", item.Owner)
		assert.Equal(t, "hello", item.Caption)
		assert.Equal(t, syncer.KindVideo, item.Kind)
		assert.Equal(t, "https://cdn/v.mp4", item.VideoURL)
		assert.Equal(t, 5, item.LikeCount)
		assert.Equal(t, 2, item.CommentCount)
		assert.Equal(t, time.Date(2024, 1, 1, 7, 51, 26, 0, time.UTC), item.CapturedAt)
		assert.Same(t, n, item.Node)
	})

	t.Run("photo ignores stray video url", func(t *testing.T) {
		item := ItemFromNode(&archive.Node{Shortcode: "P", VideoURL: "https://cdn/x.mp4"})
		assert.Equal(t, syncer.KindPhoto, item.Kind)
		assert.False(t, item.IsVideo)
		assert.Empty(t, item.VideoURL)
		assert.True(t, item.CapturedAt.IsZero())
	})

	t.Run("carousel", func(t *testing.T) {
		n := &archive.Node{Shortcode: "C", Children: &archive.ChildEdges{Edges: []archive.ChildEdge{
			{Node: archive.Node{DisplayURL: "https://cdn/1.jpg"}},
			{Node: archive.Node{DisplayURL: "https://cdn/2.jpg", IsVideo: true, VideoURL: "https://cdn/2.mp4"}},
		}}}
		item := ItemFromNode(n)
		assert.Equal(t, syncer.KindCarousel, item.Kind)
		assert.Equal(t, []syncer.Media{
			{DisplayURL: "https://cdn/1.jpg"},
			{DisplayURL: "https://cdn/2.jpg", IsVideo: true, VideoURL: "https://cdn/2.mp4"},
		}, item.Children)
	})
}
