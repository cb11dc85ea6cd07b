// Package gcsuploader archives raw uploads in Google Cloud Storage and reads
// documents back from gs:// URIs.
package gcsuploader

import "context"

// Archiver stores raw uploads and fetches objects by URI.
type Archiver interface {
	Put(ctx context.Context, owner, documentID, filename string, content []byte) (string, error)
	Fetch(ctx context.Context, gcsURI string) ([]byte, error)
}

var _ Archiver = (*Archive)(nil)
