package instagram

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/doyensec/safeurl"

	"igarchive/pkg/archive"
	errs "igarchive/pkg/errors"
	"igarchive/pkg/logger"
	"igarchive/pkg/retry"
	"igarchive/pkg/syncer"
)

// PostFetcher returns the full record of a post. *Client implements it.
type PostFetcher interface {
	FetchPost(ctx context.Context, shortcode string) (*archive.Node, error)
}

// NewMediaClient builds the HTTP client used for CDN downloads. When safe
// is set, connections to private, loopback and link-local addresses are
// refused after DNS resolution, so a forged media URL cannot reach the
// local network.
func NewMediaClient(timeout time.Duration, safe bool) *http.Client {
	if !safe {
		return &http.Client{Timeout: timeout}
	}
	cfg := safeurl.GetConfigBuilder().
		SetTimeout(timeout).
		SetAllowedSchemes("https").
		SetAllowedPorts(443).
		Build()
	return safeurl.Client(cfg).Client
}

// Downloader writes one saved item into an account directory: media files
// first, the metadata record last, all stamped with the capture time.
type Downloader struct {
	media     *http.Client
	fetcher   PostFetcher
	retry     *retry.Config
	userAgent string
	version   string
	logger    logger.Logger
}

var _ syncer.Downloader = (*Downloader)(nil)

// NewDownloader creates a Downloader fetching media through media. fetcher
// may be nil, in which case carousels lacking children are stored without
// their slides.
func NewDownloader(media *http.Client, fetcher PostFetcher, log logger.Logger) *Downloader {
	if log == nil {
		log = logger.GetLogger()
	}
	if media == nil {
		media = NewMediaClient(60*time.Second, true)
	}
	retryCfg := retry.DefaultConfig()
	retryCfg.Logger = log
	return &Downloader{
		media:     media,
		fetcher:   fetcher,
		retry:     retryCfg,
		userAgent: DefaultUserAgent,
		version:   "dev",
		logger:    log,
	}
}

// SetRetry replaces the retry policy of media requests
func (d *Downloader) SetRetry(cfg *retry.Config) { d.retry = cfg }

// SetUserAgent sets the User-Agent sent to the CDN
func (d *Downloader) SetUserAgent(ua string) { d.userAgent = ua }

// SetVersion sets the version stamped into written records
func (d *Downloader) SetVersion(v string) { d.version = v }

// Download implements syncer.Downloader
func (d *Downloader) Download(ctx context.Context, item *syncer.SavedItem, accountDir string) error {
	if item == nil || item.Identifier == "" {
		return errs.New(errs.ErrorTypeParsing, "item has no shortcode")
	}
	if item.CapturedAt.IsZero() {
		return errs.New(errs.ErrorTypeParsing, "item "+item.Identifier+" has no capture time")
	}

	node := item.Node
	if node == nil {
		node = nodeFromItem(item)
	}
	children := item.Children
	if item.Kind == syncer.KindCarousel && len(children) == 0 && d.fetcher != nil {
		full, err := d.fetcher.FetchPost(ctx, item.Identifier)
		if err != nil {
			return fmt.Errorf("fetching carousel %s: %w", item.Identifier, err)
		}
		node = full
		children = ItemFromNode(full).Children
	}

	stem := d.stemFor(accountDir, item)
	log := d.logger.WithFields(map[string]interface{}{
		"shortcode": item.Identifier,
		"stem":      stem,
	})

	var written []string
	complete := false
	defer func() {
		if complete {
			return
		}
		for _, path := range written {
			os.Remove(path)
		}
	}()
	fetch := func(url, stem, ext string) error {
		if url == "" {
			return nil
		}
		path := archive.MediaFile(accountDir, stem, ext)
		if err := d.fetchMedia(ctx, url, path); err != nil {
			return fmt.Errorf("downloading %s: %w", filepath.Base(path), err)
		}
		written = append(written, path)
		return nil
	}

	switch item.Kind {
	case syncer.KindCarousel:
		for i, child := range children {
			childStem := archive.ChildStem(stem, i+1)
			if err := fetch(child.DisplayURL, childStem, ".jpg"); err != nil {
				return err
			}
			if child.IsVideo {
				if err := fetch(child.VideoURL, childStem, ".mp4"); err != nil {
					return err
				}
			}
		}
	case syncer.KindVideo:
		if err := fetch(item.DisplayURL, stem, ".jpg"); err != nil {
			return err
		}
		if err := fetch(item.VideoURL, stem, ".mp4"); err != nil {
			return err
		}
	default:
		if err := fetch(item.DisplayURL, stem, ".jpg"); err != nil {
			return err
		}
	}

	recordPath := archive.MediaFile(accountDir, stem, ".json")
	record := archive.MetadataRecord{
		Node: node,
		Archiver: &archive.ArchiverInfo{
			Version:   d.version,
			NodeType:  "Post",
			WrittenBy: "igarchive",
		},
	}
	if err := archive.WriteJSONAtomic(recordPath, record); err != nil {
		return errs.Wrap(err, errs.ErrorTypeSetup, "failed to write metadata record")
	}
	written = append(written, recordPath)
	complete = true

	for _, path := range written {
		if err := os.Chtimes(path, item.CapturedAt, item.CapturedAt); err != nil {
			log.WithError(err).Debug("failed to set file time")
		}
	}

	log.DebugWithFields("item written", map[string]interface{}{
		"files": len(written),
	})
	return nil
}

// stemFor names the files of item. When anything already uses the
// timestamp stem, a record or media left without one, the item gets its
// shortcode appended so it never adopts another item's files.
func (d *Downloader) stemFor(accountDir string, item *syncer.SavedItem) string {
	stem := archive.Stem(item.CapturedAt)
	if stemTaken(accountDir, stem) {
		return stem + "-" + item.Identifier
	}
	return stem
}

func stemTaken(accountDir, stem string) bool {
	for _, pattern := range []string{stem + ".*", stem + "_*"} {
		matches, err := filepath.Glob(filepath.Join(accountDir, pattern))
		if err != nil || len(matches) > 0 {
			return true
		}
	}
	return false
}

// fetchMedia streams url into path. A file already present is kept: under
// a shortcode stem it can only come from an interrupted attempt at the
// same item.
func (d *Downloader) fetchMedia(ctx context.Context, url, path string) error {
	if archive.Exists(path) {
		return nil
	}
	return retry.Do(ctx, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return errs.Wrap(err, errs.ErrorTypeParsing, "invalid media URL")
		}
		req.Header.Set("User-Agent", d.userAgent)

		resp, err := d.media.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errs.Wrap(err, errs.ErrorTypeNetwork, "media request failed")
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			t := errs.ErrorTypeNotFound
			switch {
			case resp.StatusCode == http.StatusTooManyRequests:
				t = errs.ErrorTypeRateLimit
			case errs.IsRetryableStatusCode(resp.StatusCode):
				t = errs.ErrorTypeServerError
			case resp.StatusCode == http.StatusForbidden:
				// CDN URLs are signed and expire
				t = errs.ErrorTypeAuth
			}
			return &errs.Error{Type: t, Message: "media request rejected", Code: resp.StatusCode}
		}

		if err := archive.WriteStreamAtomic(path, resp.Body, 0644); err != nil {
			return errs.Wrap(err, errs.ErrorTypeNetwork, "media transfer failed")
		}
		return nil
	}, d.retry)
}

func nodeFromItem(item *syncer.SavedItem) *archive.Node {
	n := &archive.Node{
		Typename:   item.Kind.Typename(),
		Shortcode:  item.Identifier,
		DisplayURL: item.DisplayURL,
		IsVideo:    item.IsVideo,
		VideoURL:   item.VideoURL,
		TakenAt:    item.CapturedAt.Unix(),
	}
	if item.Owner != "" {
		n.Owner = &archive.Owner{Username: item.Owner}
	}
	if item.Caption != "" {
		var edge archive.CaptionEdge
		edge.Node.Text = item.Caption
		n.Caption.Edges = append(n.Caption.Edges, edge)
	}
	if len(item.Children) > 0 {
		n.Children = &archive.ChildEdges{}
		for _, c := range item.Children {
			n.Children.Edges = append(n.Children.Edges, archive.ChildEdge{Node: archive.Node{
				DisplayURL: c.DisplayURL,
				IsVideo:    c.IsVideo,
				VideoURL:   c.VideoURL,
			}})
		}
	}
	return n
}
