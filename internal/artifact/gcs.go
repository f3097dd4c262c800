package artifact

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

// #region gcs-store
// GCSStore keeps artifacts in Google Cloud Storage. Location.Bucket is the
// GCS bucket name and Location.Key the object name.
type GCSStore struct {
	client *storage.Client
}

var (
	_ Store  = (*GCSStore)(nil)
	_ Copier = (*GCSStore)(nil)
)

// NewGCSStore creates a client. An empty credentialsFile uses application
// default credentials.
func NewGCSStore(ctx context.Context, credentialsFile string) (*GCSStore, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("service account key not found at path: %s", credentialsFile)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCS storage client: %w", err)
	}
	return &GCSStore{client: client}, nil
}

// Close releases the client.
func (s *GCSStore) Close() error {
	return s.client.Close()
}

func (s *GCSStore) object(loc Location) *storage.ObjectHandle {
	return s.client.Bucket(loc.Bucket).Object(loc.Key)
}

// Put uploads data to loc.
func (s *GCSStore) Put(ctx context.Context, loc Location, data []byte) error {
	if err := loc.Validate(); err != nil {
		return err
	}
	w := s.object(loc).NewWriter(ctx)
	w.ContentType = "application/octet-stream"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write gs://%s: %w", loc, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close GCS writer for gs://%s: %w", loc, err)
	}
	return nil
}

// Get downloads the object at loc.
func (s *GCSStore) Get(ctx context.Context, loc Location) ([]byte, error) {
	r, err := s.object(loc).NewReader(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return nil, fmt.Errorf("get gs://%s: %w", loc, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get gs://%s: %w", loc, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gs://%s: %w", loc, err)
	}
	return data, nil
}

// Exists reports whether the object exists.
func (s *GCSStore) Exists(ctx context.Context, loc Location) (bool, error) {
	_, err := s.object(loc).Attrs(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("stat gs://%s: %w", loc, err)
	}
	return true, nil
}

// Delete removes the object. Missing objects are not an error.
func (s *GCSStore) Delete(ctx context.Context, loc Location) error {
	err := s.object(loc).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s: %w", loc, err)
	}
	return nil
}

// Copy performs a server-side copy.
func (s *GCSStore) Copy(ctx context.Context, src, dst Location) error {
	if err := dst.Validate(); err != nil {
		return err
	}
	_, err := s.object(dst).CopierFrom(s.object(src)).Run(ctx)
	if errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("copy gs://%s: %w", src, ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("copy gs://%s -> gs://%s: %w", src, dst, err)
	}
	return nil
}
// #endregion gcs-store
