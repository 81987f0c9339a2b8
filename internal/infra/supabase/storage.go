// Package supabase publishes rendered documents to Supabase Storage so that
// Twilio can fetch them by URL when delivering WhatsApp media.
package supabase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"
	storage_go "github.com/supabase-community/storage-go"
	"github.com/supabase-community/supabase-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/resilience"
)

var tracer = otel.Tracer("supabase")

// Config holds the Storage settings.
type Config struct {
	URL    string
	APIKey string // service role key, the bucket is written server-side
	Bucket string
	// SignedURLTTL > 0 serves private buckets through signed URLs instead
	// of public ones.
	SignedURLTTL time.Duration
}

// objectAPI is the part of storage_go.Client we use.
type objectAPI interface {
	UploadFile(bucketID, relativePath string, data io.Reader, fileOptions ...storage_go.FileOptions) (storage_go.FileUploadResponse, error)
	GetPublicUrl(bucketID, filePath string, urlOptions ...storage_go.UrlOptions) storage_go.SignedUrlResponse
	CreateSignedUrl(bucketID, filePath string, expiresIn int) (storage_go.SignedUrlResponse, error)
}

// BlobStore implements port.BlobStore on a Supabase Storage bucket.
type BlobStore struct {
	api    objectAPI
	cfg    Config
	cb     *gobreaker.CircuitBreaker
	retry  resilience.Config
	logger *zap.Logger
	now    func() time.Time
}

// NewBlobStore creates the store with the official client.
func NewBlobStore(cfg Config, cb *gobreaker.CircuitBreaker, retry resilience.Config, logger *zap.Logger) (*BlobStore, error) {
	if cfg.URL == "" || cfg.APIKey == "" {
		return nil, errors.New("supabase URL and API key are required")
	}
	if cfg.Bucket == "" {
		return nil, errors.New("supabase bucket is required")
	}
	client, err := supabase.NewClient(cfg.URL, cfg.APIKey, nil)
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return newBlobStore(client.Storage, cfg, cb, retry, logger), nil
}

func newBlobStore(api objectAPI, cfg Config, cb *gobreaker.CircuitBreaker, retry resilience.Config, logger *zap.Logger) *BlobStore {
	return &BlobStore{api: api, cfg: cfg, cb: cb, retry: retry, logger: logger, now: time.Now}
}

// Store uploads data under documents/<yyyy>/<mm>/<id>-<filename> and returns
// a URL Twilio can download. Every call writes a new object, so reprinting a
// document never overwrites a link already sent.
func (s *BlobStore) Store(ctx context.Context, data []byte, filename string) (string, error) {
	ctx, span := tracer.Start(ctx, "BlobStore.Store")
	defer span.End()

	if len(data) == 0 {
		return "", &domain.ErrValidation{Field: "data", Message: "empty document"}
	}
	objectPath := s.objectPath(filename)
	span.SetAttributes(
		attribute.String("storage.bucket", s.cfg.Bucket),
		attribute.String("storage.path", objectPath),
		attribute.Int("storage.bytes", len(data)),
	)

	contentType := contentTypeFor(filename)
	upsert := false
	_, err := resilience.Call(ctx, s.cb, s.retry, func() (storage_go.FileUploadResponse, error) {
		return s.api.UploadFile(s.cfg.Bucket, objectPath, bytes.NewReader(data), storage_go.FileOptions{
			ContentType: &contentType,
			Upsert:      &upsert,
		})
	})
	if err != nil {
		span.RecordError(err)
		s.logger.Error("supabase: upload failed",
			zap.String("bucket", s.cfg.Bucket),
			zap.String("path", objectPath),
			zap.Error(err),
		)
		return "", &domain.ErrExternalService{Service: "supabase-storage", Err: err}
	}

	url, err := s.url(objectPath)
	if err != nil {
		span.RecordError(err)
		return "", &domain.ErrExternalService{Service: "supabase-storage", Err: err}
	}

	s.logger.Debug("supabase: document stored",
		zap.String("path", objectPath),
		zap.Int("bytes", len(data)),
	)
	return url, nil
}

func (s *BlobStore) url(objectPath string) (string, error) {
	if s.cfg.SignedURLTTL > 0 {
		resp, err := s.api.CreateSignedUrl(s.cfg.Bucket, objectPath, int(s.cfg.SignedURLTTL.Seconds()))
		if err != nil {
			return "", fmt.Errorf("sign %s: %w", objectPath, err)
		}
		if resp.SignedURL == "" {
			return "", fmt.Errorf("sign %s: empty url", objectPath)
		}
		return resp.SignedURL, nil
	}
	resp := s.api.GetPublicUrl(s.cfg.Bucket, objectPath)
	if resp.SignedURL == "" {
		return "", fmt.Errorf("public url for %s is empty", objectPath)
	}
	return resp.SignedURL, nil
}

func (s *BlobStore) objectPath(filename string) string {
	name := path.Base(strings.ReplaceAll(filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = "document.pdf"
	}
	now := s.now().UTC()
	return fmt.Sprintf("documents/%04d/%02d/%s-%s", now.Year(), int(now.Month()), uuid.NewString()[:8], name)
}

func contentTypeFor(filename string) string {
	if strings.HasSuffix(strings.ToLower(filename), ".pdf") {
		return "application/pdf"
	}
	return "application/octet-stream"
}
