package server

import (
	"net/http"
	"sort"
	"strings"

	"github.com/go-chi/chi/v5"
)

// categoryKeywords drives the keyword based category suggestions
var categoryKeywords = []struct {
	category string
	keywords []string
}{
	{"Recipes", []string{"recipe", "cook", "food", "ingredient", "meal", "bake", "#recipe", "#cooking", "#food", "#foodie", "#yummy"}},
	{"DIY", []string{"diy", "craft", "make", "build", "handmade", "#diy", "#craft", "#handmade", "#crafts", "selbstgemacht"}},
	{"Tutorial", []string{"tutorial", "how to", "guide", "step", "learn", "#tutorial", "anleitung", "lernen"}},
	{"Funny", []string{"funny", "hilarious", "laugh", "humor", "comedy", "#funny", "#meme", "#lol", "lustig"}},
	{"Ideas", []string{"idea", "inspiration", "creative", "#inspo", "#ideas", "idee"}},
	{"Projects", []string{"project", "build", "design", "#project", "projekt"}},
	{"Inspiration", []string{"inspiration", "inspire", "beautiful", "#inspiration", "#inspo", "inspired"}},
}

// Suggestion is a proposed category for an item
type Suggestion struct {
	Category        string   `json:"category"`
	Confidence      int      `json:"confidence"`
	MatchedKeywords []string `json:"matchedKeywords"`
}

// SuggestCategories scores every category by how many of its keywords
// occur in the caption and hashtags (30 per hit, capped at 100) and
// returns the best three.
func SuggestCategories(caption string, hashtags []string) []Suggestion {
	text := strings.ToLower(caption + " " + strings.Join(hashtags, " "))

	suggestions := []Suggestion{}
	for _, c := range categoryKeywords {
		var matched []string
		for _, kw := range c.keywords {
			if strings.Contains(text, kw) {
				matched = append(matched, kw)
			}
		}
		if len(matched) == 0 {
			continue
		}
		confidence := len(matched) * 30
		if confidence > 100 {
			confidence = 100
		}
		if len(matched) > 3 {
			matched = matched[:3]
		}
		suggestions = append(suggestions, Suggestion{Category: c.category, Confidence: confidence, MatchedKeywords: matched})
	}

	sort.SliceStable(suggestions, func(i, j int) bool {
		return suggestions[i].Confidence > suggestions[j].Confidence
	})
	if len(suggestions) > 3 {
		suggestions = suggestions[:3]
	}
	return suggestions
}

// GET /api/posts/{id}/suggest-categories?account=
func (s *Server) suggestCategories(w http.ResponseWriter, r *http.Request) {
	_, dir, ok := s.accountDir(w, r)
	if !ok {
		return
	}
	e, found, err := findEntry(dir, chi.URLParam(r, "id"))
	if err != nil {
		s.internalError(w, r, err)
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "Post not found")
		return
	}
	writeJSON(w, http.StatusOK, SuggestCategories(e.Caption, e.Hashtags))
}
