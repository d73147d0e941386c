package metadata

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"attestra/pkg/platform/sentinel"

	"cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
)

// GCSStore writes documents to a Cloud Storage bucket, one object per
// content id. Objects are created once and never overwritten.
type GCSStore struct {
	bucket *storage.BucketHandle
	prefix string
}

// NewGCSStore stores objects under prefix in bucket.
func NewGCSStore(client *storage.Client, bucket, prefix string) *GCSStore {
	return &GCSStore{bucket: client.Bucket(bucket), prefix: prefix}
}

func (s *GCSStore) object(name string) *storage.ObjectHandle {
	return s.bucket.Object(s.prefix + name)
}

func (s *GCSStore) Put(ctx context.Context, doc []byte) (string, error) {
	c, err := ContentID(doc)
	if err != nil {
		return "", err
	}
	w := s.object(c.String()).If(storage.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = "application/json"
	if _, err := w.Write(doc); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write metadata object: %w", err)
	}
	if err := w.Close(); err != nil && !isPreconditionFailed(err) {
		return "", fmt.Errorf("commit metadata object: %w", err)
	}
	return RefScheme + c.String(), nil
}

func (s *GCSStore) Get(ctx context.Context, ref string) ([]byte, error) {
	c, err := ParseRef(ref)
	if err != nil {
		return nil, err
	}
	r, err := s.object(c.String()).NewReader(ctx)
	if err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("open metadata object: %w", err)
	}
	defer r.Close()
	doc, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read metadata object: %w", err)
	}
	if err := verify(c, doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// isPreconditionFailed reports an object that already exists; content
// addressing makes it identical to what we tried to write.
func isPreconditionFailed(err error) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == http.StatusPreconditionFailed
}
