package cache

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nijaru/yt-transcript/config"
	"github.com/nijaru/yt-transcript/db"
	apperrors "github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/models"
	"github.com/nijaru/yt-transcript/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeFetcher struct {
	calls     int32
	texts     map[string]string
	err       error
	gate      chan struct{}
	languages []string
	mu        sync.Mutex
}

func (f *fakeFetcher) Fetch(ctx context.Context, videoID, language string) (*models.Transcript, error) {
	atomic.AddInt32(&f.calls, 1)
	f.mu.Lock()
	f.languages = append(f.languages, language)
	f.mu.Unlock()
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, f.err
	}
	text, ok := f.texts[videoID]
	if !ok {
		text = "transcript for " + videoID
	}
	return models.NewTranscript(videoID, "English", language, false, []models.Segment{
		{Text: text, Start: 0, Duration: 10},
	}), nil
}

func (f *fakeFetcher) callCount() int {
	return int(atomic.LoadInt32(&f.calls))
}

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newService(t *testing.T, fetcher *fakeFetcher) (*Service, *storage.FileStore) {
	t.Helper()
	store := storage.NewFileStore(filepath.Join(t.TempDir(), "youtube"), quietLogger())
	return NewService(store, fetcher, WithLogger(quietLogger())), store
}

func TestFetchOrGetCachesOnce(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{}
	svc, store := newService(t, fetcher)

	first, err := svc.FetchOrGet(ctx, "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=42", "en", false)
	require.NoError(t, err)
	assert.Equal(t, StatusFetched, first.Status)
	assert.Equal(t, "dQw4w9WgXcQ", first.VideoID)
	assert.Equal(t, store.PayloadPath("dQw4w9WgXcQ"), first.Path)
	assert.Equal(t, 1, first.SegmentCount)
	assert.Equal(t, 10.0, first.DurationSeconds)

	second, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyCached, second.Status)
	assert.Equal(t, first.TotalChars, second.TotalChars)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestFetchOrGetForceRefetches(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{}
	svc, _ := newService(t, fetcher)

	_, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)

	fetcher.texts = map[string]string{"dQw4w9WgXcQ": "a newer transcript"}
	res, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "de", true)
	require.NoError(t, err)
	assert.Equal(t, StatusFetched, res.Status)
	assert.Equal(t, 2, fetcher.callCount())
	assert.Equal(t, []string{"en", "de"}, fetcher.languages)

	tr, _, err := svc.Get(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "a newer transcript", tr.FullText)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestFetchOrGetFailureWritesNothing(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{err: apperrors.TranscriptsDisabled("test")}
	svc, store := newService(t, fetcher)

	_, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.Error(t, err)
	assert.Equal(t, apperrors.KindTranscriptsDisabled, apperrors.KindOf(err))
	assert.Equal(t, "Transcripts are disabled for this video", apperrors.Message(err))

	assert.NoFileExists(t, store.ManifestPath())
	assert.NoFileExists(t, store.PayloadPath("dQw4w9WgXcQ"))
}

func TestFetchOrGetFailureKeepsExistingEntry(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{}
	svc, _ := newService(t, fetcher)

	_, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)

	fetcher.err = apperrors.Upstream("test", nil, "Connection error: refused")
	_, err = svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", true)
	require.Error(t, err)

	tr, _, err := svc.Get(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "transcript for dQw4w9WgXcQ", tr.FullText)
}

func TestFetchOrGetSharesInFlightFetch(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	svc, _ := newService(t, fetcher)

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*Result, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	require.Eventually(t, func() bool { return fetcher.callCount() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	close(fetcher.gate)
	wg.Wait()

	// Callers that arrived after the flight finished see a cache hit.
	assert.Equal(t, 1, fetcher.callCount())
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, "dQw4w9WgXcQ", res.VideoID)
	}
}

func TestForcedFetchesKeepTheirLanguage(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{gate: make(chan struct{})}
	svc, _ := newService(t, fetcher)

	var wg sync.WaitGroup
	for _, lang := range []string{"en", "de"} {
		wg.Add(1)
		go func(lang string) {
			defer wg.Done()
			_, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", lang, true)
			assert.NoError(t, err)
		}(lang)
	}

	require.Eventually(t, func() bool { return fetcher.callCount() == 2 }, time.Second, 5*time.Millisecond)
	close(fetcher.gate)
	wg.Wait()

	fetcher.mu.Lock()
	defer fetcher.mu.Unlock()
	assert.ElementsMatch(t, []string{"en", "de"}, fetcher.languages)
}

func TestUnreadableManifestReadsAsEmpty(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{}
	svc, store := newService(t, fetcher)

	_, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.ManifestPath(), []byte("{not json"), 0o644))

	_, _, err = svc.Get(ctx, "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, storage.ErrMiss))
	assert.Equal(t, apperrors.KindNotCached, apperrors.KindOf(err))

	found, err := svc.Search(ctx, "transcript", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, found.SearchedVideos)
	assert.Empty(t, found.Matches)

	list, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, list.Total)
	assert.NotNil(t, list.CachedVideos)

	res, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)
	assert.Equal(t, StatusFetched, res.Status)

	list, err = svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, list.Total)
}

func TestGetMisses(t *testing.T) {
	ctx := context.Background()
	svc, store := newService(t, &fakeFetcher{})

	_, _, err := svc.Get(ctx, "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, storage.ErrMiss))
	assert.Equal(t, "Video dQw4w9WgXcQ not in cache", apperrors.Message(err))
	assert.Equal(t, apperrors.KindNotCached, apperrors.KindOf(err))

	_, err = svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)
	require.NoError(t, os.Remove(store.PayloadPath("dQw4w9WgXcQ")))

	_, _, err = svc.Get(ctx, "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, storage.ErrMiss))
	assert.Equal(t, "Cache file missing for dQw4w9WgXcQ", apperrors.Message(err))
}

func TestStaleEntryIsRefetched(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{}
	svc, store := newService(t, fetcher)

	_, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(store.PayloadPath("dQw4w9WgXcQ"), []byte("{broken"), 0o644))

	res, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)
	assert.Equal(t, StatusFetched, res.Status)
	assert.Equal(t, 2, fetcher.callCount())
}

func TestGetTextTruncates(t *testing.T) {
	ctx := context.Background()
	text := strings.Repeat("abcdefghij", 50)
	fetcher := &fakeFetcher{texts: map[string]string{"dQw4w9WgXcQ": text}}
	svc, _ := newService(t, fetcher)

	res, err := svc.GetText(ctx, "dQw4w9WgXcQ", 20)
	require.NoError(t, err)
	assert.Equal(t, text[:20]+"... [truncated]", res.Text)
	assert.True(t, res.Truncated)
	assert.Equal(t, 500, res.TotalChars)
	assert.Equal(t, "English", res.Language)
	assert.Equal(t, []string{"en"}, fetcher.languages)

	full, err := svc.GetText(ctx, "dQw4w9WgXcQ", 0)
	require.NoError(t, err)
	assert.Equal(t, text, full.Text)
	assert.False(t, full.Truncated)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestGetTextCountsCharacters(t *testing.T) {
	ctx := context.Background()
	fetcher := &fakeFetcher{texts: map[string]string{"dQw4w9WgXcQ": "日本語のテキスト"}}
	svc, _ := newService(t, fetcher)

	res, err := svc.GetText(ctx, "dQw4w9WgXcQ", 3)
	require.NoError(t, err)
	assert.Equal(t, "日本語... [truncated]", res.Text)
	assert.Equal(t, 8, res.TotalChars)

	exact, err := svc.GetText(ctx, "dQw4w9WgXcQ", 8)
	require.NoError(t, err)
	assert.False(t, exact.Truncated)
}

func TestListKeepsManifestOrder(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &fakeFetcher{})

	empty, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Total)
	assert.NotNil(t, empty.CachedVideos)

	ids := []string{"zzzzzzzzzzz", "dQw4w9WgXcQ", "9bZkp7q19f0"}
	for _, id := range ids {
		_, err := svc.FetchOrGet(ctx, id, "en", false)
		require.NoError(t, err)
	}

	list, err := svc.List(ctx)
	require.NoError(t, err)
	require.Equal(t, 3, list.Total)
	for i, id := range ids {
		assert.Equal(t, id, list.CachedVideos[i].VideoID)
		assert.False(t, list.CachedVideos[i].CachedAt.IsZero())
	}
}

func TestClear(t *testing.T) {
	ctx := context.Background()
	svc, _ := newService(t, &fakeFetcher{})

	for _, id := range []string{"dQw4w9WgXcQ", "9bZkp7q19f0"} {
		_, err := svc.FetchOrGet(ctx, id, "en", false)
		require.NoError(t, err)
	}

	count, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	for _, id := range []string{"dQw4w9WgXcQ", "9bZkp7q19f0"} {
		_, _, err := svc.Get(ctx, id)
		assert.True(t, errors.Is(err, storage.ErrMiss))
	}
}

func TestServiceOverSQLite(t *testing.T) {
	ctx := context.Background()
	store, err := OpenStore(ctx, config.CacheConfig{
		Backend:    config.BackendSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "cache.db"),
	}, quietLogger())
	require.NoError(t, err)
	require.IsType(t, &db.Store{}, store)

	fetcher := &fakeFetcher{}
	svc := NewService(store, fetcher, WithLogger(quietLogger()))
	t.Cleanup(func() { svc.Close() })

	first, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)
	assert.Equal(t, StatusFetched, first.Status)

	second, err := svc.FetchOrGet(ctx, "dQw4w9WgXcQ", "en", false)
	require.NoError(t, err)
	assert.Equal(t, StatusAlreadyCached, second.Status)
	assert.Equal(t, first.Path, second.Path)
	assert.Equal(t, 1, fetcher.callCount())
}

func TestOpenStoreUnknownBackend(t *testing.T) {
	_, err := OpenStore(context.Background(), config.CacheConfig{Backend: "tape"}, quietLogger())
	assert.Equal(t, apperrors.KindInvalidInput, apperrors.KindOf(err))
}
