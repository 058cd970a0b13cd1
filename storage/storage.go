// Package storage talks to the object storage holding podcast parts and finished crafts.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"craftworker/model"
)

// Fetcher downloads podcast parts.
type Fetcher interface {
	FetchPart(ctx context.Context, id string) (io.ReadCloser, error)
}

// Uploader persists a finished craft.
type Uploader interface {
	UploadCraft(ctx context.Context, localPath, filename string) (model.StorageDescriptor, error)
}

// Store is a storage backend serving both directions.
type Store interface {
	Fetcher
	Uploader
}

// Doer sends a request built by build, rebuilding it when a retry is needed.
type Doer interface {
	Do(ctx context.Context, build func(ctx context.Context) (*http.Request, error)) (*http.Response, error)
}

// StatusError is a non-success answer from a storage backend.
type StatusError struct {
	Op     string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("%s: storage answered %d: %s", e.Op, e.Status, e.Body)
	}
	return fmt.Sprintf("%s: storage answered %d", e.Op, e.Status)
}

// StatusCode returns the upstream HTTP status.
func (e *StatusError) StatusCode() int {
	return e.Status
}
