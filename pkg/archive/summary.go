package archive

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// SummaryPost is the per-item entry of saved_posts_summary.json
type SummaryPost struct {
	Shortcode     string    `json:"shortcode"`
	URL           string    `json:"url"`
	OwnerUsername string    `json:"owner_username"`
	Caption       string    `json:"caption"`
	Date          time.Time `json:"date"`
	Likes         int       `json:"likes"`
	Comments      int       `json:"comments"`
	IsVideo       bool      `json:"is_video"`
	VideoURL      *string   `json:"video_url"`
	Typename      string    `json:"typename"`
}

// Summary is the human-readable digest kept next to the records
type Summary struct {
	Username     string        `json:"username"`
	DownloadDate time.Time     `json:"download_date"`
	TotalPosts   int           `json:"total_posts"`
	Posts        []SummaryPost `json:"posts"`
}

// LoadSummary reads the summary of accountDir. A missing or unreadable
// summary yields an empty one.
func LoadSummary(accountDir string) *Summary {
	data, err := os.ReadFile(filepath.Join(accountDir, SummaryFile))
	if err != nil {
		return &Summary{}
	}
	var s Summary
	if err := json.Unmarshal(data, &s); err != nil {
		return &Summary{}
	}
	return &s
}

// MergeSummary folds posts into the existing summary and rewrites it.
// Existing entries keep their position and are replaced in place when a
// post with the same shortcode arrives; new ones are appended.
func MergeSummary(accountDir, username string, posts []SummaryPost, now time.Time) (*Summary, error) {
	s := LoadSummary(accountDir)

	pos := make(map[string]int, len(s.Posts))
	for i, p := range s.Posts {
		pos[p.Shortcode] = i
	}
	for _, p := range posts {
		if i, ok := pos[p.Shortcode]; ok {
			s.Posts[i] = p
			continue
		}
		pos[p.Shortcode] = len(s.Posts)
		s.Posts = append(s.Posts, p)
	}
	if s.Posts == nil {
		s.Posts = []SummaryPost{}
	}

	s.Username = username
	s.DownloadDate = now.UTC()
	s.TotalPosts = len(s.Posts)

	if err := WriteJSONAtomic(filepath.Join(accountDir, SummaryFile), s); err != nil {
		return nil, err
	}
	return s, nil
}
