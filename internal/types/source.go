package types

import (
	"fmt"
	"strings"
)

// Source identifies the hosting platform a podcast task pulls analytics from.
type Source string

const (
	SourceSpotify Source = "spotify"
	SourceApple   Source = "apple"
	SourceAnchor  Source = "anchor"
	SourcePodigee Source = "podigee"
)

// AllSources lists every supported source in dispatch order.
var AllSources = []Source{SourceSpotify, SourceApple, SourceAnchor, SourcePodigee}

// Credential field names shared across sources.
const (
	KeyCollectorToken = "OPENPODCAST_API_TOKEN"
	KeyStartDate      = "START_DATE"
	KeyEndDate        = "END_DATE"

	KeyPodigeeAccessToken  = "PODIGEE_ACCESS_TOKEN"
	KeyPodigeeRefreshToken = "PODIGEE_REFRESH_TOKEN"
	KeyPodigeeUsername     = "PODIGEE_USERNAME"
	KeyPodigeePassword     = "PODIGEE_PASSWORD"
	KeyPodigeeBaseURL      = "PODIGEE_BASE_URL"

	KeySpotifySpDC     = "SPOTIFY_SP_DC"
	KeySpotifySpKey    = "SPOTIFY_SP_KEY"
	KeySpotifyBaseURL  = "SPOTIFY_BASE_URL"
	KeySpotifyClientID = "SPOTIFY_CLIENT_ID"

	KeyAppleEndpoint     = "APPLE_AUTOMATION_ENDPOINT"
	KeyAppleBearerToken  = "APPLE_AUTOMATION_BEARER_TOKEN"
	KeyAppleDaysPerChunk = "DAYS_PER_CHUNK"

	KeyAnchorWebstationID = "ANCHOR_WEBSTATION_ID"
	KeyAnchorPwS          = "ANCHOR_PW_S"
	KeyAnchorBaseURL      = "ANCHOR_BASE_URL"
)

// ParseSource resolves a stored source name. Unknown names are a
// configuration error for the task that carries them.
func ParseSource(name string) (Source, error) {
	s := Source(strings.ToLower(strings.TrimSpace(name)))
	for _, known := range AllSources {
		if s == known {
			return s, nil
		}
	}
	return "", NewAppErrorWithDetails(ErrCodeConfigUnsupportedSource,
		fmt.Sprintf("unsupported source %q", name), nil,
		map[string]any{"source": name})
}

// RefreshTokenKey returns the credential field holding the OAuth refresh token,
// or "" when the source has no refresh flow.
func (s Source) RefreshTokenKey() string {
	if s == SourcePodigee {
		return KeyPodigeeRefreshToken
	}
	return ""
}

// AccessTokenKey returns the credential field holding the OAuth access token,
// or "" when the source has no refresh flow.
func (s Source) AccessTokenKey() string {
	if s == SourcePodigee {
		return KeyPodigeeAccessToken
	}
	return ""
}

// SupportsRefresh reports whether the source stores refreshable OAuth tokens.
func (s Source) SupportsRefresh() bool {
	return s.RefreshTokenKey() != ""
}
