package gcsuploader

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// Archive writes uploads under gs://bucket/prefix/owner/document/filename.
// It assumes Application Default Credentials are configured.
type Archive struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates an Archive with its own storage client.
func New(ctx context.Context, bucket, prefix string) (*Archive, error) {
	if bucket == "" {
		return nil, fmt.Errorf("New: bucket is required")
	}
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("New: create storage client: %w", err)
	}
	return &Archive{client: client, bucket: bucket, prefix: strings.Trim(prefix, "/")}, nil
}

func (a *Archive) Close() error {
	return a.client.Close()
}

// Put uploads content and returns its gs:// URI.
func (a *Archive) Put(ctx context.Context, owner, documentID, filename string, content []byte) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	objectName := a.objectName(owner, documentID, filename)
	w := a.client.Bucket(a.bucket).Object(objectName).NewWriter(ctx)
	w.ContentType = "application/pdf"
	w.Metadata = map[string]string{"user_id": owner, "document_id": documentID}

	if _, err := io.Copy(w, bytes.NewReader(content)); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("Put: copy to GCS writer: %w", err)
	}

	// Close finalizes the upload.
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("Put: finalize upload: %w", err)
	}

	return fmt.Sprintf("gs://%s/%s", a.bucket, objectName), nil
}

func (a *Archive) objectName(owner, documentID, filename string) string {
	name := path.Join(owner, documentID, path.Base(filename))
	if a.prefix != "" {
		name = path.Join(a.prefix, name)
	}
	return name
}
