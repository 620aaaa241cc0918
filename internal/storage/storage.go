// Package storage uploads photos to an object store before their location is
// appended to the feed.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// PhotoPrefix is the folder every chat photo is stored under.
const PhotoPrefix = "chat_photos/"

// ErrUnsupportedType is returned for files that are not a supported image.
var ErrUnsupportedType = errors.New("storage: unsupported image type")

// ObjectStore is a flat namespace of named objects.
type ObjectStore interface {
	// Upload stores r under name and returns a location clients can fetch
	// the object from.
	Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error)

	// Delete removes the object. Deleting a missing object is not an error.
	Delete(ctx context.Context, name string) error
}

// ObjectName returns a fresh object name for a local file: the photo prefix,
// a random id and the last path segment. Every call yields a distinct name so
// two uploads of files sharing a base name never address the same object.
func ObjectName(p string) string {
	base := path.Base(filepath.ToSlash(p))
	if base == "." || base == "/" || base == "" {
		base = "photo"
	}
	return PhotoPrefix + uuid.NewString() + "-" + base
}

// sanitize keeps object names inside the store's root.
func sanitize(name string) string {
	name = strings.TrimLeft(path.Clean("/"+filepath.ToSlash(name)), "/")
	return name
}
