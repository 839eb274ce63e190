package storage

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	apperrors "github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/models"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func sampleTranscript(videoID, text string) *models.Transcript {
	return models.NewTranscript(videoID, "English", "en", false, []models.Segment{
		{Text: text, Start: 0, Duration: 2.5},
		{Text: "the end", Start: 2.5, Duration: 1.25},
	})
}

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	s := NewFileStore(filepath.Join(t.TempDir(), "youtube"), quietLogger())
	s.now = func() time.Time { return time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestFileStorePutThenPayload(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	tr := sampleTranscript("dQw4w9WgXcQ", "never gonna give you up")

	entry, err := s.Put(ctx, tr)
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", entry.VideoID)
	assert.Equal(t, s.PayloadPath("dQw4w9WgXcQ"), entry.Path)
	assert.Equal(t, tr.TotalChars, entry.TotalChars)
	assert.Equal(t, 3.75, entry.DurationSeconds)
	assert.True(t, entry.CachedAt.Equal(s.now()))

	got, err := s.Payload(ctx, "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, tr, got)

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	stored, ok := m.Get("dQw4w9WgXcQ")
	require.True(t, ok)
	assert.Equal(t, entry.Path, stored.Path)
	assert.Equal(t, entry.SegmentCount, stored.SegmentCount)
}

func TestFileStoreManifestLayout(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	_, err := s.Put(ctx, sampleTranscript("dQw4w9WgXcQ", "hello"))
	require.NoError(t, err)

	assert.FileExists(t, filepath.Join(s.Location(), "manifest.json"))
	assert.FileExists(t, filepath.Join(s.Location(), "dQw4w9WgXcQ.json"))

	entries, err := os.ReadDir(s.Location())
	require.NoError(t, err)
	assert.Len(t, entries, 2, "temp files must not be left behind")
}

func TestFileStoreManifestOrderSurvivesOverwrite(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	ids := []string{"zzzzzzzzzzz", "aaaaaaaaaaa", "mmmmmmmmmmm"}
	for _, id := range ids {
		_, err := s.Put(ctx, sampleTranscript(id, "text "+id))
		require.NoError(t, err)
	}
	_, err := s.Put(ctx, sampleTranscript("aaaaaaaaaaa", "replaced"))
	require.NoError(t, err)

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	var got []string
	for _, e := range m.Entries() {
		got = append(got, e.VideoID)
	}
	assert.Equal(t, ids, got)

	tr, err := s.Payload(ctx, "aaaaaaaaaaa")
	require.NoError(t, err)
	assert.Equal(t, "replaced the end", tr.FullText)
}

func TestFileStorePayloadMissAndCorrupt(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	_, err := s.Payload(ctx, "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, ErrMiss))

	_, err = s.Payload(ctx, "../../etc/passwd")
	assert.True(t, errors.Is(err, ErrMiss))

	require.NoError(t, os.MkdirAll(s.Location(), 0o755))
	require.NoError(t, os.WriteFile(s.PayloadPath("dQw4w9WgXcQ"), []byte(`{"video_id":`), 0o644))
	_, err = s.Payload(ctx, "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, ErrCorrupt))

	require.NoError(t, os.WriteFile(s.PayloadPath("dQw4w9WgXcQ"),
		[]byte(`{"video_id":"dQw4w9WgXcQ","segments":[{"text":"a","start":0,"duration":1}],"full_text":"b","total_chars":1,"duration_seconds":1,"segment_count":1}`), 0o644))
	_, err = s.Payload(ctx, "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, ErrCorrupt), "inconsistent derived fields must be rejected")
}

func TestFileStoreRejectsNonCanonicalID(t *testing.T) {
	s := newFileStore(t)

	_, err := s.Put(context.Background(), sampleTranscript("../escape", "x"))
	assert.Equal(t, apperrors.KindInvalidReference, apperrors.KindOf(err))
	assert.NoDirExists(t, s.Location())
}

func TestFileStoreCorruptManifest(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	require.NoError(t, os.MkdirAll(s.Location(), 0o755))
	require.NoError(t, os.WriteFile(s.ManifestPath(), []byte("not json"), 0o644))

	_, err := s.Manifest(ctx)
	assert.Equal(t, apperrors.KindStorage, apperrors.KindOf(err))

	_, err = s.Put(ctx, sampleTranscript("dQw4w9WgXcQ", "fresh"))
	require.NoError(t, err)

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, m.Len())
}

func TestFileStorePutRebuildsUnreadableManifest(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	for _, id := range []string{"aaaaaaaaaa1", "aaaaaaaaaa2", "aaaaaaaaaa3"} {
		_, err := s.Put(ctx, sampleTranscript(id, "earlier"))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(s.PayloadPath("aaaaaaaaaa3"), []byte("{truncated"), 0o644))
	require.NoError(t, os.WriteFile(s.ManifestPath(), []byte("{not json"), 0o644))

	_, err := s.Put(ctx, sampleTranscript("dQw4w9WgXcQ", "fresh"))
	require.NoError(t, err)

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, m.Len())
	for _, id := range []string{"aaaaaaaaaa1", "aaaaaaaaaa2", "dQw4w9WgXcQ"} {
		entry, ok := m.Get(id)
		require.True(t, ok, id)
		assert.Equal(t, s.PayloadPath(id), entry.Path)
	}
	_, ok := m.Get("aaaaaaaaaa3")
	assert.False(t, ok)
}

func TestFileStoreClearCountsPayloadsWithoutManifest(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	for _, id := range []string{"dQw4w9WgXcQ", "9bZkp7q19f0"} {
		_, err := s.Put(ctx, sampleTranscript(id, "x"))
		require.NoError(t, err)
	}
	require.NoError(t, os.WriteFile(s.ManifestPath(), []byte("{not json"), 0o644))

	count, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoDirExists(t, s.Location())
}

func TestFileStoreClear(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)

	count, err := s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, count)

	for _, id := range []string{"dQw4w9WgXcQ", "9bZkp7q19f0"} {
		_, err := s.Put(ctx, sampleTranscript(id, "x"))
		require.NoError(t, err)
	}

	count, err = s.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)
	assert.NoDirExists(t, s.Location())

	_, err = s.Payload(ctx, "dQw4w9WgXcQ")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestFileStoreConcurrentPutsKeepEveryEntry(t *testing.T) {
	ctx := context.Background()
	s := newFileStore(t)
	ids := []string{"aaaaaaaaaa1", "aaaaaaaaaa2", "aaaaaaaaaa3", "aaaaaaaaaa4", "aaaaaaaaaa5", "aaaaaaaaaa6"}

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := s.Put(ctx, sampleTranscript(id, "concurrent"))
			assert.NoError(t, err)
		}(id)
	}
	wg.Wait()

	m, err := s.Manifest(ctx)
	require.NoError(t, err)
	assert.Equal(t, len(ids), m.Len())
}
