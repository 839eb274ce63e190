package cache

import (
	"context"
	"fmt"
	"io"

	apperrors "github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/models"
	"github.com/nijaru/yt-transcript/storage"
	"github.com/nijaru/yt-transcript/transcription"
	"github.com/nijaru/yt-transcript/validation"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
)

const (
	DefaultLanguage = "en"

	StatusFetched       = "fetched"
	StatusAlreadyCached = "already_cached"

	truncationMarker = "... [truncated]"
)

// Result is the metadata returned by FetchOrGet. It never carries the text.
type Result struct {
	VideoID         string  `json:"video_id"`
	Status          string  `json:"status"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"duration_seconds"`
	TotalChars      int     `json:"total_chars"`
	SegmentCount    int     `json:"segment_count"`
	Path            string  `json:"path"`
}

type TextResult struct {
	VideoID         string  `json:"video_id"`
	Language        string  `json:"language"`
	DurationSeconds float64 `json:"duration_seconds"`
	TotalChars      int     `json:"total_chars"`
	Text            string  `json:"text"`
	Truncated       bool    `json:"truncated"`
}

type CachedVideo struct {
	VideoID         string           `json:"video_id"`
	Language        string           `json:"language"`
	DurationSeconds float64          `json:"duration_seconds"`
	TotalChars      int              `json:"total_chars"`
	CachedAt        models.Timestamp `json:"cached_at"`
}

type ListResult struct {
	CachedVideos []CachedVideo `json:"cached_videos"`
	Total        int           `json:"total"`
}

// Service answers cache queries from a Store and fills it from a Fetcher.
// The fetcher is only consulted on a miss or a forced fetch.
type Service struct {
	store   storage.Store
	fetcher transcription.Fetcher
	logger  *logrus.Logger
	flights singleflight.Group
}

type Option func(*Service)

func WithLogger(logger *logrus.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store storage.Store, fetcher transcription.Fetcher, opts ...Option) *Service {
	s := &Service{
		store:   store,
		fetcher: fetcher,
		logger:  logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) Store() storage.Store {
	return s.store
}

// Close releases the store when it holds resources, such as a database handle.
func (s *Service) Close() error {
	if closer, ok := s.store.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

// Get returns a cached transcript and its manifest entry. Every way the cache
// can fail to produce a usable payload is reported as NotCached wrapping
// storage.ErrMiss.
func (s *Service) Get(ctx context.Context, videoID string) (*models.Transcript, models.ManifestEntry, error) {
	const op = "CacheService.Get"

	m, err := s.manifest(ctx)
	if err != nil {
		return nil, models.ManifestEntry{}, err
	}

	entry, ok := m.Get(videoID)
	if !ok {
		return nil, models.ManifestEntry{}, apperrors.NotCached(op,
			errors.Wrapf(storage.ErrMiss, "video %s", videoID),
			fmt.Sprintf("Video %s not in cache", videoID))
	}

	t, err := s.store.Payload(ctx, videoID)
	if err != nil {
		if errors.Is(err, storage.ErrCorrupt) {
			s.logger.WithError(err).WithField("video_id", videoID).Warn("Ignoring unusable cache payload")
		}
		return nil, models.ManifestEntry{}, apperrors.NotCached(op,
			errors.Wrapf(storage.ErrMiss, "payload %s: %v", videoID, err),
			fmt.Sprintf("Cache file missing for %s", videoID))
	}
	return t, entry, nil
}

// manifest reads the store's manifest. An unreadable manifest is logged and
// read as empty, so every reader sees a miss rather than an error. Only a
// cancelled ctx is returned as an error.
func (s *Service) manifest(ctx context.Context) (*models.Manifest, error) {
	m, err := s.store.Manifest(ctx)
	if err == nil {
		return m, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	s.logger.WithError(err).WithField("location", s.store.Location()).Warn("Unreadable manifest, treating cache as empty")
	return models.NewManifest(), nil
}

type flightResult struct {
	transcript *models.Transcript
	entry      models.ManifestEntry
	status     string
}

// FetchOrGet returns cached metadata for video, fetching and storing the
// transcript first on a miss or when force is set. A failed fetch leaves the
// cache untouched and returns the fetch error unchanged.
func (s *Service) FetchOrGet(ctx context.Context, video, language string, force bool) (*Result, error) {
	fr, err := s.fetchOrGet(ctx, video, language, force)
	if err != nil {
		return nil, err
	}
	return &Result{
		VideoID:         fr.transcript.VideoID,
		Status:          fr.status,
		Language:        fr.entry.Language,
		DurationSeconds: fr.entry.DurationSeconds,
		TotalChars:      fr.entry.TotalChars,
		SegmentCount:    fr.entry.SegmentCount,
		Path:            fr.entry.Path,
	}, nil
}

func (s *Service) fetchOrGet(ctx context.Context, video, language string, force bool) (*flightResult, error) {
	videoID := validation.CanonicalizePermissive(video)
	if language == "" {
		language = DefaultLanguage
	}

	key := videoID
	if force {
		key += ":force:" + language
	}

	v, err, shared := s.flights.Do(key, func() (interface{}, error) {
		return s.load(ctx, videoID, language, force)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		s.logger.WithField("video_id", videoID).Debug("Shared in-flight fetch")
	}
	return v.(*flightResult), nil
}

func (s *Service) load(ctx context.Context, videoID, language string, force bool) (*flightResult, error) {
	const op = "CacheService.FetchOrGet"
	logger := s.logger.WithFields(logrus.Fields{
		"video_id": videoID,
		"language": language,
		"force":    force,
	})

	if !force {
		t, entry, err := s.Get(ctx, videoID)
		if err == nil {
			logger.Debug("Cache hit")
			return &flightResult{transcript: t, entry: entry, status: StatusAlreadyCached}, nil
		}
		if !errors.Is(err, storage.ErrMiss) {
			logger.WithError(err).Warn("Cache lookup failed, fetching anyway")
		}
	}

	logger.Info("Fetching transcript")
	t, err := s.fetcher.Fetch(ctx, videoID, language)
	if err != nil {
		logger.WithError(err).Info("Fetch failed")
		return nil, err
	}
	if t.VideoID == "" {
		t.VideoID = videoID
	}
	if t.VideoID != videoID {
		return nil, apperrors.Upstream(op, nil,
			fmt.Sprintf("Gateway returned video %s for %s", t.VideoID, videoID))
	}

	entry, err := s.store.Put(ctx, t)
	if err != nil {
		return nil, err
	}
	logger.WithFields(logrus.Fields{
		"segment_count": entry.SegmentCount,
		"total_chars":   entry.TotalChars,
	}).Info("Transcript cached")

	return &flightResult{transcript: t, entry: entry, status: StatusFetched}, nil
}

// GetText returns the transcript text, fetching it in the default language
// when it is not cached. maxChars <= 0 disables truncation.
func (s *Service) GetText(ctx context.Context, video string, maxChars int) (*TextResult, error) {
	fr, err := s.fetchOrGet(ctx, video, DefaultLanguage, false)
	if err != nil {
		return nil, err
	}

	t := fr.transcript
	result := &TextResult{
		VideoID:         t.VideoID,
		Language:        t.Language,
		DurationSeconds: t.DurationSeconds,
		TotalChars:      models.CharCount(t.FullText),
		Text:            t.FullText,
	}
	if maxChars > 0 && result.TotalChars > maxChars {
		runes := []rune(t.FullText)
		result.Text = string(runes[:maxChars]) + truncationMarker
		result.Truncated = true
	}
	return result, nil
}

// List is answered from the manifest alone.
func (s *Service) List(ctx context.Context) (*ListResult, error) {
	m, err := s.manifest(ctx)
	if err != nil {
		return nil, err
	}

	videos := make([]CachedVideo, 0, m.Len())
	for _, e := range m.Entries() {
		videos = append(videos, CachedVideo{
			VideoID:         e.VideoID,
			Language:        e.Language,
			DurationSeconds: e.DurationSeconds,
			TotalChars:      e.TotalChars,
			CachedAt:        e.CachedAt,
		})
	}
	return &ListResult{CachedVideos: videos, Total: len(videos)}, nil
}

func (s *Service) Clear(ctx context.Context) (int, error) {
	count, err := s.store.Clear(ctx)
	if err != nil {
		return 0, err
	}
	s.logger.WithField("cleared", count).Info("Cache cleared")
	return count, nil
}
