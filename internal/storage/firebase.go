package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"

	gcs "cloud.google.com/go/storage"
	"github.com/google/uuid"
)

// FirebaseStore uploads to a Cloud Storage for Firebase bucket. Locations are
// token-protected download URLs, the form Firebase clients render directly.
type FirebaseStore struct {
	bucket     *gcs.BucketHandle
	bucketName string
}

// NewFirebaseStore wraps bucket. bucketName is needed to build download URLs.
func NewFirebaseStore(bucket *gcs.BucketHandle, bucketName string) *FirebaseStore {
	return &FirebaseStore{bucket: bucket, bucketName: bucketName}
}

// DownloadURL builds the public download URL for an object and its token.
func DownloadURL(bucketName, name, token string) string {
	return fmt.Sprintf("https://firebasestorage.googleapis.com/v0/b/%s/o/%s?alt=media&token=%s",
		bucketName, url.PathEscape(name), url.QueryEscape(token))
}

// Upload streams r into the object and attaches a fresh download token.
func (s *FirebaseStore) Upload(ctx context.Context, name, contentType string, r io.Reader) (string, error) {
	token := uuid.NewString()

	w := s.bucket.Object(name).NewWriter(ctx)
	w.ContentType = contentType
	w.Metadata = map[string]string{"firebaseStorageDownloadTokens": token}

	if _, err := io.Copy(w, r); err != nil {
		w.Close()
		return "", fmt.Errorf("storage: upload %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("storage: upload %s: %w", name, err)
	}
	return DownloadURL(s.bucketName, name, token), nil
}

// Delete removes the object.
func (s *FirebaseStore) Delete(ctx context.Context, name string) error {
	err := s.bucket.Object(name).Delete(ctx)
	if err != nil && !errors.Is(err, gcs.ErrObjectNotExist) {
		return fmt.Errorf("storage: delete %s: %w", name, err)
	}
	return nil
}
