package filter

import (
	"context"
	"regexp"
	"strings"

	"github.com/osa030/19voice/internal/domain/item"
)

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}
	videoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*[\(\[]\s*official\s+(music\s+)?(video|audio|lyric video)\s*[\)\]]`), // "(Official Video)"
		regexp.MustCompile(`\s*[\(\[]\s*(lyrics?|audio|hd|hq|4k)\s*[\)\]]`),                        // "[Lyrics]"
		regexp.MustCompile(`\s*[\(\[]\s*mv\s*[\)\]]`),                                              // "[MV]"
	}
	whitespace = regexp.MustCompile(`\s+`)
)

// DuplicateItemFilter rejects requests for items already queued or playing in the room.
// Detects:
// - Same page URL or locator after normalization
// - Same normalized title by the same artist (remasters, official video uploads)
// Covers by other artists are allowed.
type DuplicateItemFilter struct{}

// NewDuplicateItemFilter creates a new duplicate item filter.
func NewDuplicateItemFilter() *DuplicateItemFilter {
	return &DuplicateItemFilter{}
}

// Name returns the filter name.
func (f *DuplicateItemFilter) Name() string {
	return "duplicate_item_filter"
}

// Description returns the filter description.
func (f *DuplicateItemFilter) Description() string {
	return "Rejects items already queued or playing in the room (remasters included, covers allowed)"
}

// ReturnCodes returns possible return codes.
func (f *DuplicateItemFilter) ReturnCodes() []string {
	return []string{"duplicate_item"}
}

// ValidateConfig validates the filter configuration.
func (f *DuplicateItemFilter) ValidateConfig(settings map[string]any) error {
	// No configuration needed
	return nil
}

// Check checks if any requested item duplicates the room's queue.
func (f *DuplicateItemFilter) Check(ctx context.Context, req Request) Result {
	existing := req.Room.Pending
	if req.Room.NowPlaying != nil {
		existing = append([]item.Item{*req.Room.NowPlaying}, existing...)
	}
	if len(existing) == 0 {
		return Accept()
	}

	keys := make(map[string]struct{}, len(existing))
	for _, it := range existing {
		keys[it.Key()] = struct{}{}
	}

	for _, requested := range req.Items {
		if _, ok := keys[requested.Key()]; ok {
			return Reject("duplicate_item")
		}
		for _, queued := range existing {
			if isSameRecording(queued, requested) {
				return Reject("duplicate_item")
			}
		}
	}

	return Accept()
}

// isSameRecording reports whether two items are the same song by the same artist.
func isSameRecording(a, b item.Item) bool {
	if a.Title == "" || b.Title == "" {
		return false
	}
	if normalizeTitle(a.Title) != normalizeTitle(b.Title) {
		return false
	}
	return isSameArtist(a, b)
}

// normalizeTitle removes remaster and upload decorations from a title.
func normalizeTitle(title string) string {
	normalized := strings.ToLower(title)

	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range videoPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}

	normalized = strings.TrimSpace(normalized)
	normalized = whitespace.ReplaceAllString(normalized, " ")

	return strings.TrimRight(normalized, " -")
}

// isSameArtist compares artists case-insensitively, ignoring the " - Topic" channel suffix.
func isSameArtist(a, b item.Item) bool {
	if a.Artist == "" || b.Artist == "" {
		return false
	}
	clean := func(s string) string {
		return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), " - Topic"))
	}
	return strings.EqualFold(clean(a.Artist), clean(b.Artist))
}

func init() {
	Register("duplicate_item_filter", func() Filter {
		return NewDuplicateItemFilter()
	})
}
