package syncer

import (
	"context"
	"errors"
	"time"

	"igarchive/pkg/archive"
)

// ErrFeedExhausted is returned by Feed.Next when no items remain
var ErrFeedExhausted = errors.New("saved feed exhausted")

// Feed yields saved items newest first. Each call may perform network I/O
// and implementations must not fetch beyond the page holding the item
// being returned.
type Feed interface {
	Next(ctx context.Context) (*SavedItem, error)
}

// Downloader writes the record and media files of one item into accountDir.
// The record file must only become visible once it is complete.
type Downloader interface {
	Download(ctx context.Context, item *SavedItem, accountDir string) error
}

// Observer receives progress events of a pass. All methods are called
// from the goroutine running the pass.
type Observer interface {
	PassStarted(runID string, mode Mode, known int)
	ItemSkipped(id string, consecutiveKnown int)
	ItemDownloaded(post archive.SummaryPost)
	ItemFailed(id string, err error)
	PassFinished(outcome *Outcome)
}

// Recorder collects counters about passes, typically into Prometheus
type Recorder interface {
	ObserveOutcome(account string, outcome *Outcome)
	ObserveDownloadFailure(account string)
	ObserveIndex(account string, entries int)
}

// NopObserver ignores every event
type NopObserver struct{}

func (NopObserver) PassStarted(string, Mode, int)      {}
func (NopObserver) ItemSkipped(string, int)            {}
func (NopObserver) ItemDownloaded(archive.SummaryPost) {}
func (NopObserver) ItemFailed(string, error)           {}
func (NopObserver) PassFinished(*Outcome)              {}

type nopRecorder struct{}

func (nopRecorder) ObserveOutcome(string, *Outcome) {}
func (nopRecorder) ObserveDownloadFailure(string)   {}
func (nopRecorder) ObserveIndex(string, int)        {}

// Kind is the media kind of a saved item
type Kind = archive.Kind

const (
	KindPhoto    = archive.KindPhoto
	KindVideo    = archive.KindVideo
	KindCarousel = archive.KindCarousel
)

// Media is one downloadable image or video
type Media struct {
	DisplayURL string
	IsVideo    bool
	VideoURL   string
}

// SavedItem is the read-only view of one item of the saved feed
type SavedItem struct {
	Identifier   string
	Owner        string
	Caption      string
	CapturedAt   time.Time
	LikeCount    int
	CommentCount int
	IsVideo      bool
	// VideoURL is set iff IsVideo
	VideoURL   string
	DisplayURL string
	Kind       Kind
	// Children holds carousel slides in order
	Children []Media
	// Node is the remote record as received, persisted by the downloader
	Node *archive.Node
}

// Summary converts the item to its saved_posts_summary.json entry
func (it *SavedItem) Summary() archive.SummaryPost {
	var video *string
	if it.IsVideo && it.VideoURL != "" {
		v := it.VideoURL
		video = &v
	}
	return archive.SummaryPost{
		Shortcode:     it.Identifier,
		URL:           archive.PostURL(it.Identifier),
		OwnerUsername: it.Owner,
		Caption:       it.Caption,
		Date:          it.CapturedAt.UTC(),
		Likes:         it.LikeCount,
		Comments:      it.CommentCount,
		IsVideo:       it.IsVideo,
		VideoURL:      video,
		Typename:      it.Kind.Typename(),
	}
}

// Session is the authenticated identity a pass runs under
type Session struct {
	Username string
	UserID   string
}

// Authenticated reports whether the session carries an identity
func (s *Session) Authenticated() bool {
	return s != nil && s.UserID != ""
}
