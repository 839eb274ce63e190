package storage

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	apperrors "github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/models"
	"github.com/nijaru/yt-transcript/validation"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const manifestFile = "manifest.json"

// FileStore keeps one JSON payload per video plus manifest.json in a single
// directory. Both documents are replaced atomically by rename; manifest
// read-modify-write cycles are serialized within the process.
type FileStore struct {
	dir    string
	mu     sync.Mutex
	logger *logrus.Logger
	now    func() time.Time
}

func NewFileStore(dir string, logger *logrus.Logger) *FileStore {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &FileStore{dir: dir, logger: logger, now: time.Now}
}

func (s *FileStore) Location() string {
	return s.dir
}

func (s *FileStore) ManifestPath() string {
	return filepath.Join(s.dir, manifestFile)
}

func (s *FileStore) PayloadPath(videoID string) string {
	return filepath.Join(s.dir, videoID+".json")
}

func (s *FileStore) Manifest(ctx context.Context) (*models.Manifest, error) {
	return s.readManifest()
}

func (s *FileStore) readManifest() (*models.Manifest, error) {
	const op = "FileStore.Manifest"

	data, err := os.ReadFile(s.ManifestPath())
	if err != nil {
		if os.IsNotExist(err) {
			return models.NewManifest(), nil
		}
		return nil, apperrors.Storage(op, err, "failed to read manifest")
	}

	m, err := decodeManifest(data)
	if err != nil {
		return nil, apperrors.Storage(op, err, "failed to parse manifest")
	}
	return m, nil
}

func (s *FileStore) Payload(ctx context.Context, videoID string) (*models.Transcript, error) {
	if CheckID("FileStore.Payload", videoID) != nil {
		return nil, errors.Wrapf(ErrMiss, "video %q", videoID)
	}

	data, err := os.ReadFile(s.PayloadPath(videoID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Wrapf(ErrMiss, "video %s", videoID)
		}
		return nil, errors.Wrapf(ErrCorrupt, "read %s: %v", videoID, err)
	}
	return DecodePayload(videoID, data)
}

func (s *FileStore) Put(ctx context.Context, t *models.Transcript) (models.ManifestEntry, error) {
	const op = "FileStore.Put"

	if err := CheckID(op, t.VideoID); err != nil {
		return models.ManifestEntry{}, err
	}
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to create cache directory")
	}

	data, err := EncodePayload(t)
	if err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to encode payload")
	}
	path := s.PayloadPath(t.VideoID)
	if err := writeFileAtomic(path, data, 0o644); err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to write payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readManifest()
	if err != nil {
		m = s.rebuildManifest()
		s.logger.WithError(err).WithFields(logrus.Fields{
			"path":      s.ManifestPath(),
			"recovered": m.Len(),
		}).Warn("Unreadable manifest, rebuilding it from payloads")
	}

	entry := t.Entry(path, s.now())
	m.Set(entry)

	data, err = encodeManifest(m)
	if err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to encode manifest")
	}
	if err := writeFileAtomic(s.ManifestPath(), data, 0o644); err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to write manifest")
	}

	return entry, nil
}

// Clear removes the whole cache directory and returns how many videos the
// manifest listed, or how many readable payloads it held when the manifest
// cannot be read.
func (s *FileStore) Clear(ctx context.Context) (int, error) {
	const op = "FileStore.Clear"

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.readManifest()
	if err != nil {
		s.logger.WithError(err).Warn("Unreadable manifest while clearing cache, counting payloads")
		m = s.rebuildManifest()
	}
	count := m.Len()

	if err := os.RemoveAll(s.dir); err != nil {
		return 0, apperrors.Storage(op, err, "failed to remove cache directory")
	}
	return count, nil
}

// rebuildManifest indexes the readable payloads left in the cache directory,
// oldest first by modification time.
func (s *FileStore) rebuildManifest() *models.Manifest {
	m := models.NewManifest()

	dirEntries, err := os.ReadDir(s.dir)
	if err != nil {
		return m
	}

	var found []recoveredPayload
	for _, de := range dirEntries {
		videoID, ok := strings.CutSuffix(de.Name(), ".json")
		if !ok || de.IsDir() || !validation.IsVideoID(videoID) {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		path := filepath.Join(s.dir, de.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		t, err := DecodePayload(videoID, data)
		if err != nil {
			s.logger.WithError(err).WithField("video_id", videoID).Debug("Not recovering unusable payload")
			continue
		}
		found = append(found, recoveredPayload{transcript: t, path: path, modTime: info.ModTime()})
	}

	return indexRecovered(m, found)
}

// writeFileAtomic writes data to a temp file in the target directory, syncs
// it and renames it over path.
func writeFileAtomic(path string, data []byte, perm os.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "create temp file")
	}
	tmpName := tmp.Name()
	cleanup := func() {
		tmp.Close()
		os.Remove(tmpName)
	}

	if _, err := tmp.Write(data); err != nil {
		cleanup()
		return errors.Wrap(err, "write temp file")
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return errors.Wrap(err, "sync temp file")
	}
	if err := tmp.Chmod(perm); err != nil {
		cleanup()
		return errors.Wrap(err, "chmod temp file")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "close temp file")
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrap(err, "rename temp file")
	}
	return nil
}
