package instagram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	// BaseURL is the base URL for Instagram
	BaseURL = "https://www.instagram.com"

	// GraphQLEndpoint serves the persisted GraphQL queries
	GraphQLEndpoint = "/graphql/query/"

	// SavedMediaQueryHash selects the saved collection of a user
	SavedMediaQueryHash = "f883d95537fbcd400f466f63d42bd8a1"

	// PostQueryHash selects a single post by shortcode
	PostQueryHash = "2b0673e0dc4580674a88d426fe00ea90"

	LoginPageEndpoint   = "/accounts/login/"
	LoginEndpoint       = "/api/v1/web/accounts/login/ajax/"
	TwoFactorEndpoint   = "/api/v1/web/accounts/login/ajax/two_factor/"
	CurrentUserEndpoint = "/api/v1/accounts/current_user/"

	// WebAppID is sent as X-IG-App-ID by the web client
	WebAppID = "936619743392459"

	// DefaultPageSize is the number of saved items requested per page
	DefaultPageSize = 12

	// MaxPageSize is the largest page the saved query accepts
	MaxPageSize = 50
)

// clampPageSize keeps a requested page size within what the API accepts
func clampPageSize(n int) int {
	switch {
	case n <= 0:
		return DefaultPageSize
	case n > MaxPageSize:
		return MaxPageSize
	}
	return n
}

func graphQLURL(base, queryHash string, variables map[string]interface{}) (string, error) {
	vars, err := json.Marshal(variables)
	if err != nil {
		return "", fmt.Errorf("failed to encode query variables: %w", err)
	}
	params := url.Values{}
	params.Set("query_hash", queryHash)
	params.Set("variables", string(vars))
	return fmt.Sprintf("%s%s?%s", strings.TrimRight(base, "/"), GraphQLEndpoint, params.Encode()), nil
}

// SavedMediaURL constructs the URL of one page of the saved collection.
// An empty after requests the first page.
func SavedMediaURL(base, userID, after string, first int) (string, error) {
	variables := map[string]interface{}{
		"id":    userID,
		"first": clampPageSize(first),
	}
	if after != "" {
		variables["after"] = after
	}
	return graphQLURL(base, SavedMediaQueryHash, variables)
}

// PostURL constructs the URL fetching the full record of one post
func PostURL(base, shortcode string) (string, error) {
	return graphQLURL(base, PostQueryHash, map[string]interface{}{
		"shortcode": shortcode,
	})
}

func currentUserURL(base string) string {
	return strings.TrimRight(base, "/") + CurrentUserEndpoint + "?edit=true"
}

var usernameRe = regexp.MustCompile(`^[a-zA-Z0-9._]{1,30}$`)

// IsValidUsername checks if a username is valid according to Instagram's rules
func IsValidUsername(username string) bool {
	if !usernameRe.MatchString(username) {
		return false
	}
	// Cannot start or end with a period
	return !strings.HasPrefix(username, ".") && !strings.HasSuffix(username, ".")
}

// SanitizeUsername trims whitespace and a leading @ and lowercases the name
func SanitizeUsername(username string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(username), "@"))
}
