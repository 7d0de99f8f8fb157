package instagram

import (
	"encoding/json"

	"igarchive/pkg/archive"
)

// SavedMediaResponse is the GraphQL answer for one page of saved items
type SavedMediaResponse struct {
	Data struct {
		User *struct {
			SavedMedia *MediaConnection `json:"edge_saved_media"`
		} `json:"user"`
	} `json:"data"`
	Status          string `json:"status"`
	Message         string `json:"message,omitempty"`
	RequiresToLogin bool   `json:"require_login,omitempty"`
}

// MediaConnection is a page of nodes with its cursor
type MediaConnection struct {
	Count    int      `json:"count"`
	PageInfo PageInfo `json:"page_info"`
	Edges    []Edge   `json:"edges"`
}

// PageInfo contains pagination information
type PageInfo struct {
	HasNextPage bool   `json:"has_next_page"`
	EndCursor   string `json:"end_cursor"`
}

// Edge wraps a single media node
type Edge struct {
	Node archive.Node `json:"node"`
}

// PostResponse is the GraphQL answer for a single post
type PostResponse struct {
	Data struct {
		ShortcodeMedia *archive.Node `json:"shortcode_media"`
	} `json:"data"`
	Status string `json:"status"`
}

// loginResponse covers the password and two-factor login answers.
// Which fields are set depends on the outcome.
type loginResponse struct {
	Authenticated     bool   `json:"authenticated"`
	User              bool   `json:"user"`
	UserID            string `json:"userId"`
	Status            string `json:"status"`
	Message           string `json:"message"`
	ErrorType         string `json:"error_type"`
	TwoFactorRequired bool   `json:"two_factor_required"`
	TwoFactorInfo     *struct {
		Identifier string `json:"two_factor_identifier"`
		Username   string `json:"username"`
	} `json:"two_factor_info"`
	CheckpointURL string `json:"checkpoint_url"`
	Spam          bool   `json:"spam"`
}

type currentUserResponse struct {
	User *struct {
		PK       json.Number `json:"pk"`
		Username string      `json:"username"`
		FullName string      `json:"full_name"`
	} `json:"user"`
	Status string `json:"status"`
}

// CurrentUser is the account a session belongs to
type CurrentUser struct {
	ID       string
	Username string
	FullName string
}
