package supabase

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	storage_go "github.com/supabase-community/storage-go"
	"go.uber.org/zap"

	"github.com/boddenberg/facturedirect-bot-go/internal/domain"
	"github.com/boddenberg/facturedirect-bot-go/internal/infra/resilience"
)

type fakeObjects struct {
	uploads   map[string][]byte
	options   []storage_go.FileOptions
	uploadErr error
	signed    []int
}

func newFakeObjects() *fakeObjects {
	return &fakeObjects{uploads: make(map[string][]byte)}
}

func (f *fakeObjects) UploadFile(bucketID, relativePath string, data io.Reader, opts ...storage_go.FileOptions) (storage_go.FileUploadResponse, error) {
	if f.uploadErr != nil {
		return storage_go.FileUploadResponse{}, f.uploadErr
	}
	b, _ := io.ReadAll(data)
	f.uploads[bucketID+"/"+relativePath] = b
	f.options = append(f.options, opts...)
	return storage_go.FileUploadResponse{}, nil
}

func (f *fakeObjects) GetPublicUrl(bucketID, filePath string, _ ...storage_go.UrlOptions) storage_go.SignedUrlResponse {
	return storage_go.SignedUrlResponse{SignedURL: "https://project.supabase.co/storage/v1/object/public/" + bucketID + "/" + filePath}
}

func (f *fakeObjects) CreateSignedUrl(bucketID, filePath string, expiresIn int) (storage_go.SignedUrlResponse, error) {
	f.signed = append(f.signed, expiresIn)
	return storage_go.SignedUrlResponse{SignedURL: "https://project.supabase.co/storage/v1/object/sign/" + bucketID + "/" + filePath + "?token=t"}, nil
}

func newTestStore(api objectAPI, cfg Config) *BlobStore {
	s := newBlobStore(api, cfg, resilience.NewCircuitBreaker("storage-test"),
		resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond}, zap.NewNop())
	s.now = func() time.Time { return time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC) }
	return s
}

func TestBlobStore_StorePublic(t *testing.T) {
	api := newFakeObjects()
	s := newTestStore(api, Config{Bucket: "documents"})

	url, err := s.Store(context.Background(), []byte("%PDF-1.3"), "DEV-2026-0001.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(url, "https://project.supabase.co/storage/v1/object/public/documents/documents/2026/03/") {
		t.Errorf("unexpected url %s", url)
	}
	if !strings.HasSuffix(url, "-DEV-2026-0001.pdf") {
		t.Errorf("filename must be kept at the end of the path, got %s", url)
	}
	if len(api.uploads) != 1 {
		t.Fatalf("expected one upload, got %d", len(api.uploads))
	}
	if ct := api.options[0].ContentType; ct == nil || *ct != "application/pdf" {
		t.Error("expected application/pdf content type")
	}
	if up := api.options[0].Upsert; up == nil || *up {
		t.Error("uploads must never overwrite")
	}
}

func TestBlobStore_EachStoreIsANewObject(t *testing.T) {
	api := newFakeObjects()
	s := newTestStore(api, Config{Bucket: "documents"})

	a, _ := s.Store(context.Background(), []byte("a"), "FAC-2026-0001.pdf")
	b, _ := s.Store(context.Background(), []byte("b"), "FAC-2026-0001.pdf")
	if a == b || len(api.uploads) != 2 {
		t.Errorf("reprints must not share an object: %s / %s", a, b)
	}
}

func TestBlobStore_SignedURL(t *testing.T) {
	api := newFakeObjects()
	s := newTestStore(api, Config{Bucket: "private", SignedURLTTL: time.Hour})

	url, err := s.Store(context.Background(), []byte("x"), "../../etc/FAC-2026-0002.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(url, "/object/sign/private/documents/2026/03/") || strings.Contains(url, "etc") {
		t.Errorf("unexpected url %s", url)
	}
	if len(api.signed) != 1 || api.signed[0] != 3600 {
		t.Errorf("expected a 3600s signature, got %v", api.signed)
	}
}

func TestBlobStore_Errors(t *testing.T) {
	s := newTestStore(newFakeObjects(), Config{Bucket: "documents"})
	var validation *domain.ErrValidation
	if _, err := s.Store(context.Background(), nil, "x.pdf"); !errors.As(err, &validation) {
		t.Errorf("empty data must be rejected, got %v", err)
	}

	api := newFakeObjects()
	api.uploadErr = errors.New("bucket not found")
	s = newTestStore(api, Config{Bucket: "documents"})
	var ext *domain.ErrExternalService
	if _, err := s.Store(context.Background(), []byte("x"), "x.pdf"); !errors.As(err, &ext) || ext.Service != "supabase-storage" {
		t.Errorf("expected ErrExternalService, got %v", err)
	}
}

func TestNewBlobStore_RequiresConfig(t *testing.T) {
	cb := resilience.NewCircuitBreaker("storage-cfg")
	if _, err := NewBlobStore(Config{Bucket: "documents"}, cb, resilience.Config{}, zap.NewNop()); err == nil {
		t.Error("missing URL must fail")
	}
	if _, err := NewBlobStore(Config{URL: "https://x.supabase.co", APIKey: "k"}, cb, resilience.Config{}, zap.NewNop()); err == nil {
		t.Error("missing bucket must fail")
	}
}
