package storage

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	apperrors "github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/models"
	"github.com/nijaru/yt-transcript/validation"
	"github.com/pkg/errors"
)

var (
	// ErrMiss means no payload exists for the video.
	ErrMiss = errors.New("cache miss")
	// ErrCorrupt means a payload exists but cannot be used.
	ErrCorrupt = errors.New("corrupt cache payload")
)

// Store persists transcript payloads and the manifest that indexes them.
//
// Put writes the payload before the manifest so a manifest entry never points
// at a payload that was not completely written. Readers treat a manifest
// entry without a usable payload as a miss.
type Store interface {
	Manifest(ctx context.Context) (*models.Manifest, error)
	Payload(ctx context.Context, videoID string) (*models.Transcript, error)
	Put(ctx context.Context, t *models.Transcript) (models.ManifestEntry, error)
	Clear(ctx context.Context) (int, error)
	Location() string
}

// CheckID rejects IDs that cannot name a payload. Storage keys are derived
// from the ID alone, so only canonical IDs are accepted.
func CheckID(op, videoID string) error {
	if !validation.IsVideoID(videoID) {
		return apperrors.InvalidReference(op, videoID)
	}
	return nil
}

// DecodePayload parses a stored payload and checks it belongs to videoID and
// that its derived fields match its segments.
func DecodePayload(videoID string, data []byte) (*models.Transcript, error) {
	var t models.Transcript
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrapf(ErrCorrupt, "payload %s: %v", videoID, err)
	}
	if t.VideoID != videoID {
		return nil, errors.Wrapf(ErrCorrupt, "payload %s holds video %q", videoID, t.VideoID)
	}
	if t.Segments == nil {
		t.Segments = []models.Segment{}
	}
	if !t.Consistent() {
		return nil, errors.Wrapf(ErrCorrupt, "payload %s has inconsistent derived fields", videoID)
	}
	return &t, nil
}

func EncodePayload(t *models.Transcript) ([]byte, error) {
	return json.MarshalIndent(t, "", "  ")
}

func encodeManifest(m *models.Manifest) ([]byte, error) {
	return json.MarshalIndent(m, "", "  ")
}

func decodeManifest(data []byte) (*models.Manifest, error) {
	m := models.NewManifest()
	if err := json.Unmarshal(data, m); err != nil {
		return nil, errors.Wrap(ErrCorrupt, err.Error())
	}
	return m, nil
}

type recoveredPayload struct {
	transcript *models.Transcript
	path       string
	modTime    time.Time
}

// indexRecovered adds found to m in modification order, ties broken by ID.
func indexRecovered(m *models.Manifest, found []recoveredPayload) *models.Manifest {
	sort.Slice(found, func(i, j int) bool {
		if !found[i].modTime.Equal(found[j].modTime) {
			return found[i].modTime.Before(found[j].modTime)
		}
		return found[i].transcript.VideoID < found[j].transcript.VideoID
	})
	for _, p := range found {
		m.Set(p.transcript.Entry(p.path, p.modTime))
	}
	return m
}
