package models

import (
	"strings"
	"time"
	"unicode/utf8"
)

type Segment struct {
	Text     string  `json:"text"`
	Start    float64 `json:"start"`
	Duration float64 `json:"duration"`
}

// Transcript is the full cached payload for one video. FullText, TotalChars
// and DurationSeconds are derived from Segments by NewTranscript.
type Transcript struct {
	VideoID         string    `json:"video_id"`
	Language        string    `json:"language"`
	LanguageCode    string    `json:"language_code"`
	IsGenerated     bool      `json:"is_generated"`
	SegmentCount    int       `json:"segment_count"`
	TotalChars      int       `json:"total_chars"`
	DurationSeconds float64   `json:"duration_seconds"`
	Segments        []Segment `json:"segments"`
	FullText        string    `json:"full_text"`
}

// TranscriptInfo describes one transcript track a provider offers.
type TranscriptInfo struct {
	Language       string `json:"language"`
	LanguageCode   string `json:"language_code"`
	IsGenerated    bool   `json:"is_generated"`
	IsTranslatable bool   `json:"is_translatable"`
}

func NewTranscript(videoID, language, languageCode string, generated bool, segments []Segment) *Transcript {
	if segments == nil {
		segments = []Segment{}
	}
	fullText := JoinText(segments)
	return &Transcript{
		VideoID:         videoID,
		Language:        language,
		LanguageCode:    languageCode,
		IsGenerated:     generated,
		SegmentCount:    len(segments),
		TotalChars:      CharCount(fullText),
		DurationSeconds: Duration(segments),
		Segments:        segments,
		FullText:        fullText,
	}
}

// JoinText concatenates segment texts in order, separated by single spaces.
func JoinText(segments []Segment) string {
	parts := make([]string, len(segments))
	for i, seg := range segments {
		parts[i] = seg.Text
	}
	return strings.Join(parts, " ")
}

// Duration is the end time of the last segment, or 0 without segments.
func Duration(segments []Segment) float64 {
	if len(segments) == 0 {
		return 0
	}
	last := segments[len(segments)-1]
	return last.Start + last.Duration
}

// CharCount counts characters, not bytes.
func CharCount(s string) int {
	return utf8.RuneCountInString(s)
}

// Consistent reports whether the derived fields match Segments exactly.
func (t *Transcript) Consistent() bool {
	fullText := JoinText(t.Segments)
	return t.FullText == fullText &&
		t.TotalChars == CharCount(fullText) &&
		t.DurationSeconds == Duration(t.Segments) &&
		t.SegmentCount == len(t.Segments)
}

// Entry projects t into a manifest entry stored at path.
func (t *Transcript) Entry(path string, cachedAt time.Time) ManifestEntry {
	return ManifestEntry{
		VideoID:         t.VideoID,
		Language:        t.Language,
		SegmentCount:    t.SegmentCount,
		TotalChars:      t.TotalChars,
		DurationSeconds: t.DurationSeconds,
		CachedAt:        Timestamp{Time: cachedAt},
		Path:            path,
	}
}
