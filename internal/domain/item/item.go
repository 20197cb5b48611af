// Package item provides the Item domain entity.
package item

import (
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Item represents one queued unit of playback.
// Locator is the only field the playback core relies on; the rest is display metadata.
type Item struct {
	ID         string        `json:"id"`                    // UUID assigned at resolution
	Locator    string        `json:"locator"`               // Directly streamable source URL
	Title      string        `json:"title"`                 // Title reported by the resolver
	Artist     string        `json:"artist,omitempty"`      // Artist or uploader (optional)
	WebpageURL string        `json:"webpage_url,omitempty"` // Human-facing page URL
	Thumbnail  string        `json:"thumbnail,omitempty"`   // Thumbnail URL
	Duration   time.Duration `json:"duration"`              // Zero when unknown (live streams)
	Requester  Requester     `json:"requester"`             // Who asked for it
	AddedAt    time.Time     `json:"added_at"`              // Time when resolved
}

// Requester represents the user who requested the item.
type Requester struct {
	UserID    string `json:"user_id"`              // Discord user ID
	Name      string `json:"name"`                 // Display name
	AvatarURL string `json:"avatar_url,omitempty"` // Avatar URL (optional)
}

// New creates an item for the given locator with a fresh ID.
func New(locator string) Item {
	return Item{
		ID:      uuid.New().String(),
		Locator: locator,
		AddedAt: time.Now(),
	}
}

// WithRequester returns a copy of the item attributed to r.
func (i Item) WithRequester(r Requester) Item {
	i.Requester = r
	return i
}

// DisplayTitle returns the title, falling back to the page URL and then the locator.
func (i Item) DisplayTitle() string {
	switch {
	case i.Title != "":
		return i.Title
	case i.WebpageURL != "":
		return i.WebpageURL
	default:
		return i.Locator
	}
}

// Key returns a normalized identity used for duplicate detection.
// The page URL is preferred because stream locators are usually signed and short-lived.
func (i Item) Key() string {
	raw := i.WebpageURL
	if raw == "" {
		raw = i.Locator
	}
	return NormalizeURL(raw)
}

// NormalizeURL lowercases the host, drops the fragment and trailing slash, and strips
// tracking parameters so that equivalent links compare equal.
func NormalizeURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	q := u.Query()
	for _, p := range []string{"si", "feature", "utm_source", "utm_medium", "utm_campaign", "list", "index", "pp"} {
		q.Del(p)
	}
	u.RawQuery = q.Encode()
	u.Path = strings.TrimSuffix(u.Path, "/")
	return u.String()
}

// IsURL reports whether s looks like an absolute http(s) URL.
func IsURL(s string) bool {
	u, err := url.Parse(strings.TrimSpace(s))
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
