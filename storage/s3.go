package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	apperrors "github.com/nijaru/yt-transcript/errors"
	"github.com/nijaru/yt-transcript/models"
	"github.com/nijaru/yt-transcript/validation"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// ObjectAPI is the subset of the S3 client the store uses.
type ObjectAPI interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

type SpacesConfig struct {
	AccessKey string
	SecretKey string
	Region    string
	Endpoint  string
	Bucket    string
}

// NewS3Client builds a client for AWS S3 or an S3 compatible endpoint such
// as DigitalOcean Spaces. Without static keys the default credential chain
// is used.
func NewS3Client(ctx context.Context, cfg SpacesConfig) (*s3.Client, error) {
	opts := []func(*config.LoadOptions) error{
		config.WithRegion(cfg.Region),
	}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("unable to load SDK config: %v", err)
	}

	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
			o.UsePathStyle = true
		}
	}), nil
}

// S3Store keeps payloads as <prefix><id>.json objects and the manifest as
// <prefix>manifest.json. PutObject replaces an object atomically.
type S3Store struct {
	client ObjectAPI
	bucket string
	prefix string
	mu     sync.Mutex
	logger *logrus.Logger
	now    func() time.Time
}

func NewS3Store(client ObjectAPI, bucket, prefix string, logger *logrus.Logger) *S3Store {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	return &S3Store{
		client: client,
		bucket: bucket,
		prefix: prefix,
		logger: logger,
		now:    time.Now,
	}
}

func (s *S3Store) Location() string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.prefix)
}

func (s *S3Store) manifestKey() string {
	return s.prefix + manifestFile
}

func (s *S3Store) payloadKey(videoID string) string {
	return s.prefix + videoID + ".json"
}

func (s *S3Store) getObject(ctx context.Context, key string) ([]byte, error) {
	result, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			return nil, errors.Wrapf(ErrMiss, "object %s", key)
		}
		return nil, err
	}
	defer result.Body.Close()
	return io.ReadAll(result.Body)
}

func (s *S3Store) putObject(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	return err
}

func (s *S3Store) Manifest(ctx context.Context) (*models.Manifest, error) {
	const op = "S3Store.Manifest"

	data, err := s.getObject(ctx, s.manifestKey())
	if err != nil {
		if errors.Is(err, ErrMiss) {
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

func (s *S3Store) Payload(ctx context.Context, videoID string) (*models.Transcript, error) {
	if CheckID("S3Store.Payload", videoID) != nil {
		return nil, errors.Wrapf(ErrMiss, "video %q", videoID)
	}

	data, err := s.getObject(ctx, s.payloadKey(videoID))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			return nil, err
		}
		return nil, errors.Wrapf(ErrCorrupt, "read %s: %v", videoID, err)
	}
	return DecodePayload(videoID, data)
}

func (s *S3Store) Put(ctx context.Context, t *models.Transcript) (models.ManifestEntry, error) {
	const op = "S3Store.Put"

	if err := CheckID(op, t.VideoID); err != nil {
		return models.ManifestEntry{}, err
	}

	data, err := EncodePayload(t)
	if err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to encode payload")
	}
	key := s.payloadKey(t.VideoID)
	if err := s.putObject(ctx, key, data); err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to upload payload")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Manifest(ctx)
	if err != nil {
		m = s.rebuildManifest(ctx)
		s.logger.WithError(err).WithFields(logrus.Fields{
			"key":       s.manifestKey(),
			"recovered": m.Len(),
		}).Warn("Unreadable manifest, rebuilding it from payloads")
	}

	entry := t.Entry(fmt.Sprintf("s3://%s/%s", s.bucket, key), s.now())
	m.Set(entry)

	data, err = encodeManifest(m)
	if err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to encode manifest")
	}
	if err := s.putObject(ctx, s.manifestKey(), data); err != nil {
		return models.ManifestEntry{}, apperrors.Storage(op, err, "failed to upload manifest")
	}
	return entry, nil
}

// rebuildManifest indexes the readable payload objects under the prefix,
// oldest first by LastModified.
func (s *S3Store) rebuildManifest(ctx context.Context) *models.Manifest {
	m := models.NewManifest()

	var found []recoveredPayload
	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			s.logger.WithError(err).Warn("Could not list payloads to rebuild manifest")
			break
		}
		for _, obj := range page.Contents {
			key := aws.ToString(obj.Key)
			videoID, ok := strings.CutSuffix(strings.TrimPrefix(key, s.prefix), ".json")
			if !ok || !validation.IsVideoID(videoID) {
				continue
			}
			t, err := s.Payload(ctx, videoID)
			if err != nil {
				s.logger.WithError(err).WithField("video_id", videoID).Debug("Not recovering unusable payload")
				continue
			}
			found = append(found, recoveredPayload{
				transcript: t,
				path:       fmt.Sprintf("s3://%s/%s", s.bucket, key),
				modTime:    aws.ToTime(obj.LastModified),
			})
		}
	}

	return indexRecovered(m, found)
}

// Clear deletes every object under the prefix.
func (s *S3Store) Clear(ctx context.Context) (int, error) {
	const op = "S3Store.Clear"

	s.mu.Lock()
	defer s.mu.Unlock()

	m, err := s.Manifest(ctx)
	if err != nil {
		s.logger.WithError(err).Warn("Unreadable manifest while clearing cache, counting payloads")
		m = s.rebuildManifest(ctx)
	}
	count := m.Len()

	paginator := s3.NewListObjectsV2Paginator(s.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(s.prefix),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, apperrors.Storage(op, err, "failed to list cache objects")
		}
		for _, obj := range page.Contents {
			if _, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
				Bucket: aws.String(s.bucket),
				Key:    obj.Key,
			}); err != nil {
				return 0, apperrors.Storage(op, err, "failed to delete cache object")
			}
		}
	}

	return count, nil
}
