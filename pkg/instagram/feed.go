package instagram

import (
	"context"
	"strings"
	"time"

	"igarchive/pkg/archive"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/syncer"
)

// SavedFeed walks the saved collection of one user, newest first. A page
// is only requested once every item of the previous page has been handed
// out, so a pass that stops early never pays for pages it does not read.
type SavedFeed struct {
	client   *Client
	userID   string
	pageSize int

	buffer []archive.Node
	cursor string
	done   bool
	pages  int
}

var _ syncer.Feed = (*SavedFeed)(nil)

// SavedFeed returns a feed over the saved collection of userID
func (c *Client) SavedFeed(userID string, pageSize int) *SavedFeed {
	return &SavedFeed{
		client:   c,
		userID:   userID,
		pageSize: clampPageSize(pageSize),
	}
}

// Next returns the next saved item, or syncer.ErrFeedExhausted
func (f *SavedFeed) Next(ctx context.Context) (*syncer.SavedItem, error) {
	for len(f.buffer) == 0 {
		if f.done {
			return nil, syncer.ErrFeedExhausted
		}
		if err := f.fetch(ctx); err != nil {
			return nil, err
		}
	}

	node := f.buffer[0]
	f.buffer = f.buffer[1:]
	return ItemFromNode(&node), nil
}

// Pages reports how many pages have been requested so far
func (f *SavedFeed) Pages() int {
	return f.pages
}

func (f *SavedFeed) fetch(ctx context.Context) error {
	page, err := f.client.FetchSavedPage(ctx, f.userID, f.cursor, f.pageSize)
	if err != nil {
		return err
	}
	f.pages++

	for _, e := range page.Edges {
		f.buffer = append(f.buffer, e.Node)
	}
	f.cursor = page.PageInfo.EndCursor
	if !page.PageInfo.HasNextPage || f.cursor == "" || len(page.Edges) == 0 {
		f.done = true
	}
	return nil
}

// FetchSavedPage requests one page of the saved collection of userID.
// An empty after requests the first page.
func (c *Client) FetchSavedPage(ctx context.Context, userID, after string, first int) (*MediaConnection, error) {
	if userID == "" {
		return nil, errs.New(errs.ErrorTypeAuth, "session has no user id")
	}
	url, err := SavedMediaURL(c.baseURL, userID, after, first)
	if err != nil {
		return nil, err
	}

	c.logger.DebugWithFields("fetching saved media page", map[string]interface{}{
		"user_id": userID,
		"after":   after,
	})

	var resp SavedMediaResponse
	if err := c.GetJSON(ctx, url, &resp); err != nil {
		c.logger.ErrorWithFields("failed to fetch saved media", map[string]interface{}{
			"user_id": userID,
			"after":   after,
			"error":   err.Error(),
		})
		return nil, err
	}

	if err := checkGraphQLStatus(resp.Status, resp.Message, resp.RequiresToLogin); err != nil {
		return nil, err
	}
	if resp.Data.User == nil {
		return nil, errs.New(errs.ErrorTypeAuth, "saved collection not visible to this session")
	}
	if resp.Data.User.SavedMedia == nil {
		return nil, errs.New(errs.ErrorTypeParsing, "response lacks edge_saved_media")
	}

	page := resp.Data.User.SavedMedia
	c.logger.DebugWithFields("fetched saved media page", map[string]interface{}{
		"user_id":  userID,
		"items":    len(page.Edges),
		"has_next": page.PageInfo.HasNextPage,
	})
	return page, nil
}

// FetchPost requests the full record of one post. Saved feed nodes of
// carousels sometimes lack their children; this fills them in.
func (c *Client) FetchPost(ctx context.Context, shortcode string) (*archive.Node, error) {
	url, err := PostURL(c.baseURL, shortcode)
	if err != nil {
		return nil, err
	}

	var resp PostResponse
	if err := c.GetJSON(ctx, url, &resp); err != nil {
		return nil, err
	}
	if err := checkGraphQLStatus(resp.Status, "", false); err != nil {
		return nil, err
	}
	if resp.Data.ShortcodeMedia == nil {
		return nil, errs.New(errs.ErrorTypeNotFound, "post "+shortcode+" not found")
	}
	return resp.Data.ShortcodeMedia, nil
}

func checkGraphQLStatus(status, message string, requiresLogin bool) error {
	if requiresLogin {
		return errs.New(errs.ErrorTypeAuth, "Instagram requires a fresh login")
	}
	if status == "" || status == "ok" {
		return nil
	}
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "wait a few minutes"), strings.Contains(lower, "rate limit"):
		return errs.New(errs.ErrorTypeRateLimit, message)
	case strings.Contains(lower, "login_required"), strings.Contains(lower, "login required"):
		return errs.New(errs.ErrorTypeAuth, message)
	case strings.Contains(lower, "checkpoint"):
		return errs.New(errs.ErrorTypeCheckpointRequired, message)
	}
	if message == "" {
		message = "request failed with status " + status
	}
	return errs.New(errs.ErrorTypeServerError, message)
}

// ItemFromNode converts a remote node to the item handed to the sync
// controller. The node itself travels along for the record file.
func ItemFromNode(n *archive.Node) *syncer.SavedItem {
	item := &syncer.SavedItem{
		Identifier:   n.Shortcode,
		Owner:        n.OwnerUsername(),
		Caption:      n.CaptionText(),
		LikeCount:    n.LikeCount(),
		CommentCount: n.CommentCount(),
		IsVideo:      n.IsVideo,
		DisplayURL:   n.DisplayURL,
		Kind:         archive.KindOf(n),
		Node:         n,
	}
	if n.TakenAt > 0 {
		item.CapturedAt = time.Unix(n.TakenAt, 0).UTC()
	}
	if n.IsVideo {
		item.VideoURL = n.VideoURL
	}
	for _, child := range n.ChildNodes() {
		m := syncer.Media{DisplayURL: child.DisplayURL, IsVideo: child.IsVideo}
		if child.IsVideo {
			m.VideoURL = child.VideoURL
		}
		item.Children = append(item.Children, m)
	}
	return item
}
