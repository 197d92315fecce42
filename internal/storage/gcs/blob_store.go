// Package gcs provides a blob store backed by Google Cloud Storage.
//
// Append logs are emulated with object composition: each append uploads a
// temporary object and composes it onto the log under a generation
// precondition, so a concurrent writer fails instead of losing data.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	blobs "github.com/JakeFAU/snowball-crawler/internal/storage"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string `mapstructure:"bucket"`
	// Prefix is prepended to every object name.
	Prefix string `mapstructure:"prefix"`
}

// BlobStore writes artifacts to a configured GCS bucket.
type BlobStore struct {
	client *storage.Client
	bucket string
	prefix string
	logger *zap.Logger
}

// New wraps an existing client.
func New(client *storage.Client, cfg Config, logger *zap.Logger) (*BlobStore, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &BlobStore{client: client, bucket: cfg.Bucket, prefix: prefix, logger: logger}, nil
}

// Open creates a client using Application Default Credentials and fails fast
// when the bucket is not reachable.
func Open(ctx context.Context, cfg Config, logger *zap.Logger, opts ...option.ClientOption) (*BlobStore, error) {
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if closeErr := client.Close(); closeErr != nil && logger != nil {
			logger.Warn("failed to close GCS client after bucket check", zap.Error(closeErr))
		}
		return nil, fmt.Errorf("failed to get GCS bucket %q attributes: %w", cfg.Bucket, err)
	}
	return New(client, cfg, logger)
}

// Close releases the client.
func (s *BlobStore) Close() error {
	return s.client.Close()
}

// Write uploads data, replacing the object and its metadata.
func (s *BlobStore) Write(ctx context.Context, container, name string, data []byte, meta blobs.Metadata) (string, error) {
	obj, objName, err := s.object(container, name)
	if err != nil {
		return "", err
	}
	if err := s.upload(ctx, obj, objName, data, meta); err != nil {
		return "", err
	}
	return s.locator(objName), nil
}

// Read downloads the object and its metadata.
func (s *BlobStore) Read(ctx context.Context, container, name string) ([]byte, blobs.Metadata, error) {
	obj, objName, err := s.object(container, name)
	if err != nil {
		return nil, nil, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, nil, translate("read", objName, err)
	}
	r, err := obj.Generation(attrs.Generation).NewReader(ctx)
	if err != nil {
		return nil, nil, translate("read", objName, err)
	}
	defer func() {
		if closeErr := r.Close(); closeErr != nil {
			s.logger.Warn("failed to close GCS reader", zap.String("object", objName), zap.Error(closeErr))
		}
	}()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, fmt.Errorf("read %s: %w", objName, err)
	}
	return data, blobs.Metadata(attrs.Metadata).Clone(), nil
}

// Exists reports whether the object is present.
func (s *BlobStore) Exists(ctx context.Context, container, name string) (bool, error) {
	obj, objName, err := s.object(container, name)
	if err != nil {
		return false, err
	}
	_, err = obj.Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat %s: %w", objName, err)
	}
	return true, nil
}

// Metadata returns the object's custom metadata.
func (s *BlobStore) Metadata(ctx context.Context, container, name string) (blobs.Metadata, error) {
	obj, objName, err := s.object(container, name)
	if err != nil {
		return nil, err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return nil, translate("metadata", objName, err)
	}
	meta := blobs.Metadata(attrs.Metadata).Clone()
	if meta == nil {
		meta = blobs.Metadata{}
	}
	return meta, nil
}

// Create uploads an empty object unless one already exists.
func (s *BlobStore) Create(ctx context.Context, container, name string, meta blobs.Metadata) (string, error) {
	obj, objName, err := s.object(container, name)
	if err != nil {
		return "", err
	}
	guarded := obj.If(storage.Conditions{DoesNotExist: true})
	if err := s.upload(ctx, guarded, objName, nil, meta); err != nil {
		if preconditionFailed(err) {
			return "", fmt.Errorf("create %s: %w", objName, blobs.ErrExists)
		}
		return "", err
	}
	return s.locator(objName), nil
}

// Append composes data onto the end of an existing object.
func (s *BlobStore) Append(ctx context.Context, container, name string, data []byte) error {
	obj, objName, err := s.object(container, name)
	if err != nil {
		return err
	}
	attrs, err := obj.Attrs(ctx)
	if err != nil {
		return translate("append", objName, err)
	}
	if len(data) == 0 {
		return nil
	}

	tmpName := objName + ".append-" + uuid.NewString()
	tmp := s.client.Bucket(s.bucket).Object(tmpName)
	if err := s.upload(ctx, tmp, tmpName, data, nil); err != nil {
		return err
	}
	defer func() {
		if delErr := tmp.Delete(context.WithoutCancel(ctx)); delErr != nil && !errors.Is(delErr, storage.ErrObjectNotExist) {
			s.logger.Warn("failed to delete append segment", zap.String("object", tmpName), zap.Error(delErr))
		}
	}()

	composer := obj.If(storage.Conditions{GenerationMatch: attrs.Generation}).ComposerFrom(obj.Generation(attrs.Generation), tmp)
	composer.ContentType = attrs.ContentType
	composer.Metadata = attrs.Metadata
	if _, err := composer.Run(ctx); err != nil {
		if preconditionFailed(err) {
			return fmt.Errorf("append %s: concurrent modification: %w", objName, err)
		}
		return fmt.Errorf("append %s: %w", objName, err)
	}
	return nil
}

func (s *BlobStore) upload(ctx context.Context, obj *storage.ObjectHandle, objName string, data []byte, meta blobs.Metadata) error {
	w := obj.NewWriter(ctx)
	w.ContentType = contentType(objName)
	if len(meta) > 0 {
		w.Metadata = meta.Clone()
	}
	if _, err := w.Write(data); err != nil {
		if closeErr := w.Close(); closeErr != nil {
			s.logger.Warn("failed to close GCS writer after write failure", zap.String("object", objName), zap.Error(closeErr))
		}
		return fmt.Errorf("write %s: %w", objName, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", objName, err)
	}
	return nil
}

func (s *BlobStore) object(container, name string) (*storage.ObjectHandle, string, error) {
	rel, err := blobs.ObjectPath(container, name)
	if err != nil {
		return nil, "", err
	}
	objName := s.prefix + rel
	return s.client.Bucket(s.bucket).Object(objName), objName, nil
}

// Locator returns the gs:// locator of an object.
func (s *BlobStore) Locator(container, name string) (string, error) {
	_, objName, err := s.object(container, name)
	if err != nil {
		return "", err
	}
	return s.locator(objName), nil
}

func (s *BlobStore) locator(objName string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, objName)
}

func contentType(name string) string {
	switch path.Ext(name) {
	case ".json":
		return "application/json"
	case ".yaml":
		return "application/yaml"
	default:
		return "text/plain; charset=utf-8"
	}
}

func translate(op, objName string, err error) error {
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("%s %s: %w", op, objName, blobs.ErrNotFound)
	}
	return fmt.Errorf("%s %s: %w", op, objName, err)
}

func preconditionFailed(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusPreconditionFailed
}
