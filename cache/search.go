package cache

import (
	"context"
	"fmt"
	"regexp"
	"unicode/utf8"

	apperrors "github.com/nijaru/yt-transcript/errors"
)

const (
	DefaultMaxResults = 10

	snippetsPerVideo = 3
	snippetContext   = 50
	ellipsis         = "..."
)

type VideoMatch struct {
	VideoID    string   `json:"video_id"`
	MatchCount int      `json:"match_count"`
	Snippets   []string `json:"snippets"`
	Path       string   `json:"path"`
}

type SearchResult struct {
	Pattern        string       `json:"pattern"`
	Matches        []VideoMatch `json:"matches"`
	MatchCount     int          `json:"match_count"`
	SearchedVideos int          `json:"searched_videos"`
}

// Search scans cached transcripts in manifest order for a case-insensitive
// regular expression. Scanning stops once maxResults videos have matched;
// videos after that point are not examined.
func (s *Service) Search(ctx context.Context, pattern string, maxResults int) (*SearchResult, error) {
	const op = "CacheService.Search"

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return nil, apperrors.InvalidInput(op, err, fmt.Sprintf("Invalid search pattern: %v", err))
	}
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}

	m, err := s.manifest(ctx)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Pattern:        pattern,
		Matches:        []VideoMatch{},
		SearchedVideos: m.Len(),
	}

	for _, entry := range m.Entries() {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		t, err := s.store.Payload(ctx, entry.VideoID)
		if err != nil {
			s.logger.WithError(err).WithField("video_id", entry.VideoID).Debug("Skipping unreadable payload")
			continue
		}

		found := re.FindAllStringIndex(t.FullText, -1)
		if len(found) == 0 {
			continue
		}

		snippets := make([]string, 0, snippetsPerVideo)
		for _, loc := range found {
			if len(snippets) == snippetsPerVideo {
				break
			}
			snippets = append(snippets, snippet(t.FullText, loc[0], loc[1], snippetContext))
		}

		result.Matches = append(result.Matches, VideoMatch{
			VideoID:    entry.VideoID,
			MatchCount: len(found),
			Snippets:   snippets,
			Path:       entry.Path,
		})
		if len(result.Matches) >= maxResults {
			break
		}
	}

	result.MatchCount = len(result.Matches)
	return result, nil
}

// snippet renders text[start:end] with up to width characters of context on
// each side. start and end are byte offsets; width counts characters.
func snippet(text string, start, end, width int) string {
	runes := []rune(text)
	matchStart := utf8.RuneCountInString(text[:start])
	matchEnd := matchStart + utf8.RuneCountInString(text[start:end])

	from := max(0, matchStart-width)
	to := min(len(runes), matchEnd+width)

	out := string(runes[from:to])
	if from > 0 {
		out = ellipsis + out
	}
	if to < len(runes) {
		out += ellipsis
	}
	return out
}
