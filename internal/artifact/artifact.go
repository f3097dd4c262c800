// Package artifact stores opaque model and diagnostic blobs by bucket and key.
package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound is returned when no object exists at a location.
var ErrNotFound = errors.New("artifact: not found")

// #region location
// Location addresses one object in the store.
type Location struct {
	Bucket string `json:"bucket" yaml:"bucket"`
	Key    string `json:"key" yaml:"key"`
}

// IsZero reports whether the location is unset.
func (l Location) IsZero() bool {
	return l.Bucket == "" && l.Key == ""
}

func (l Location) String() string {
	return l.Bucket + "/" + l.Key
}

// Validate rejects locations the backends cannot address.
func (l Location) Validate() error {
	if l.Bucket == "" {
		return errors.New("artifact: empty bucket")
	}
	if l.Key == "" || strings.HasPrefix(l.Key, "/") {
		return fmt.Errorf("artifact: invalid key %q", l.Key)
	}
	return nil
}
// #endregion location

// #region store
// Store is the object store the pipeline persists artifacts to.
type Store interface {
	Put(ctx context.Context, loc Location, data []byte) error
	Get(ctx context.Context, loc Location) ([]byte, error)
	Exists(ctx context.Context, loc Location) (bool, error)
	Delete(ctx context.Context, loc Location) error
}

// Copier is implemented by stores that can copy server-side.
type Copier interface {
	Copy(ctx context.Context, src, dst Location) error
}

// Copy duplicates src to dst, using the store's own Copy when it has one.
func Copy(ctx context.Context, s Store, src, dst Location) error {
	if c, ok := s.(Copier); ok {
		return c.Copy(ctx, src, dst)
	}
	data, err := s.Get(ctx, src)
	if err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	if err := s.Put(ctx, dst, data); err != nil {
		return fmt.Errorf("copy to %s: %w", dst, err)
	}
	return nil
}
// #endregion store

// #region keys
// ModelKey names the object holding one trained model of a family. id
// separates successive fits, so a new model never overwrites the blob an
// earlier registered version points to.
func ModelKey(family, id string) string {
	return family + "/" + id + "/model"
}

// StageKey names the object holding a registered version in a given stage.
func StageKey(stage, family string, version int) string {
	return fmt.Sprintf("%s/%s/%d/model", strings.ToLower(stage), family, version)
}
// #endregion keys
