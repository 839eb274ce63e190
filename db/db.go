package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	apperrors "github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/models"
	"github.com/nijaru/yt-transcript/storage"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcripts (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    video_id TEXT NOT NULL UNIQUE,
    language TEXT NOT NULL,
    segment_count INTEGER NOT NULL,
    total_chars INTEGER NOT NULL,
    duration_seconds REAL NOT NULL,
    cached_at TEXT NOT NULL,
    payload TEXT NOT NULL
);
`

// Rows keep their seq on overwrite so manifest order stays insertion order.
const upsertTranscript = `
INSERT INTO transcripts (video_id, language, segment_count, total_chars, duration_seconds, cached_at, payload)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(video_id) DO UPDATE SET
    language = excluded.language,
    segment_count = excluded.segment_count,
    total_chars = excluded.total_chars,
    duration_seconds = excluded.duration_seconds,
    cached_at = excluded.cached_at,
    payload = excluded.payload`

type DBConfig struct {
	MaxConnections     int
	MaxIdleConnections int
	ConnMaxLifetime    time.Duration
}

func DefaultDBConfig() DBConfig {
	return DBConfig{
		MaxConnections:     10,
		MaxIdleConnections: 5,
		ConnMaxLifetime:    30 * time.Minute,
	}
}

// Store is a storage.Store backed by a single SQLite file. Payload and
// manifest columns live in one row, so a put is a single statement.
type Store struct {
	db     *sql.DB
	path   string
	logger *logrus.Logger
	now    func() time.Time
}

var _ storage.Store = (*Store)(nil)

func Open(dbPath string, cfg DBConfig, logger *logrus.Logger) (*Store, error) {
	const op = "db.Open"

	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithField("path", dbPath).Debug("Initializing database")

	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, apperrors.Storage(op, err, "failed to create database directory")
	}

	conn, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, apperrors.Storage(op, err, "failed to open database")
	}

	conn.SetMaxOpenConns(cfg.MaxConnections)
	conn.SetMaxIdleConns(cfg.MaxIdleConnections)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := configurePragmas(conn); err != nil {
		conn.Close()
		return nil, err
	}
	if err := execSchema(conn); err != nil {
		conn.Close()
		return nil, err
	}

	return &Store{db: conn, path: dbPath, logger: logger, now: time.Now}, nil
}

func configurePragmas(conn *sql.DB) error {
	const op = "db.configurePragmas"

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}

	for _, pragma := range pragmas {
		if _, err := conn.Exec(pragma); err != nil {
			return apperrors.Storage(op, err, fmt.Sprintf("failed to set pragma: %s", pragma))
		}
	}
	return nil
}

func execSchema(conn *sql.DB) error {
	const op = "db.execSchema"

	return WithTransaction(context.Background(), conn, func(tx Executor) error {
		for _, stmt := range strings.Split(schema, ";") {
			stmt = strings.TrimSpace(stmt)
			if stmt == "" {
				continue
			}
			if _, err := tx.ExecContext(context.Background(), stmt); err != nil {
				return apperrors.Storage(op, err, "failed to execute schema statement")
			}
		}
		return nil
	})
}

type Executor interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}

// TxFn is a function that will be called with a transaction
type TxFn func(tx Executor) error

// WithTransaction commits when fn succeeds and rolls back otherwise,
// including on panic.
func WithTransaction(ctx context.Context, conn *sql.DB, fn TxFn) error {
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin transaction")
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		}
	}()

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rollback failed: %v", rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "commit transaction")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) Location() string {
	return s.path
}

func (s *Store) entryPath(videoID string) string {
	return s.path + "#" + videoID
}

func (s *Store) Manifest(ctx context.Context) (*models.Manifest, error) {
	const op = "db.Manifest"

	rows, err := s.db.QueryContext(ctx, `
		SELECT video_id, language, segment_count, total_chars, duration_seconds, cached_at
		FROM transcripts ORDER BY seq`)
	if err != nil {
		return nil, apperrors.Storage(op, err, "failed to query manifest")
	}
	defer rows.Close()

	m := models.NewManifest()
	for rows.Next() {
		var (
			e        models.ManifestEntry
			cachedAt string
		)
		if err := rows.Scan(&e.VideoID, &e.Language, &e.SegmentCount, &e.TotalChars, &e.DurationSeconds, &cachedAt); err != nil {
			return nil, apperrors.Storage(op, err, "failed to scan manifest row")
		}
		ts, err := time.Parse(time.RFC3339Nano, cachedAt)
		if err != nil {
			s.logger.WithError(err).WithField("video_id", e.VideoID).Warn("Unparseable cached_at in database")
		}
		e.CachedAt = models.Timestamp{Time: ts}
		e.Path = s.entryPath(e.VideoID)
		m.Set(e)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Storage(op, err, "failed to read manifest rows")
	}
	return m, nil
}

func (s *Store) Payload(ctx context.Context, videoID string) (*models.Transcript, error) {
	if storage.CheckID("db.Payload", videoID) != nil {
		return nil, errors.Wrapf(storage.ErrMiss, "video %q", videoID)
	}

	var payload string
	err := s.db.QueryRowContext(ctx, "SELECT payload FROM transcripts WHERE video_id = ?", videoID).Scan(&payload)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.Wrapf(storage.ErrMiss, "video %s", videoID)
		}
		return nil, errors.Wrapf(storage.ErrCorrupt, "query %s: %v", videoID, err)
	}
	return storage.DecodePayload(videoID, []byte(payload))
}

func (s *Store) Put(ctx context.Context, t *models.Transcript) (models.ManifestEntry, error) {
	const op = "db.Put"

	if err := storage.CheckID(op, t.VideoID); err != nil {
		return models.ManifestEntry{}, err
	}

	data, err := storage.EncodePayload(t)
	if err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to encode payload")
	}

	entry := t.Entry(s.entryPath(t.VideoID), s.now())
	err = WithTransaction(ctx, s.db, func(tx Executor) error {
		_, err := tx.ExecContext(ctx, upsertTranscript,
			entry.VideoID,
			entry.Language,
			entry.SegmentCount,
			entry.TotalChars,
			entry.DurationSeconds,
			entry.CachedAt.Format(time.RFC3339Nano),
			string(data),
		)
		return err
	})
	if err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to store transcript")
	}
	return entry, nil
}

func (s *Store) Clear(ctx context.Context) (int, error) {
	const op = "db.Clear"

	count := 0
	err := WithTransaction(ctx, s.db, func(tx Executor) error {
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(*) FROM transcripts").Scan(&count); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM transcripts")
		return err
	})
	if err != nil {
		return 0, apperrors.Storage(op, err, "failed to clear transcripts")
	}
	return count, nil
}
