package source

import (
	"context"
	"fmt"
	"time"
)

// Object describes one batch file available at the source.
type Object struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// Client lists and fetches batch files from the object store.
type Client interface {
	// ListObjects returns every object under the configured prefix. When
	// since is non-nil, objects modified before it are excluded.
	ListObjects(ctx context.Context, since *time.Time) ([]Object, error)
	DownloadObject(ctx context.Context, key string) ([]byte, error)
	GetObjectMetadata(ctx context.Context, key string) (Object, error)
}

// ClientError wraps any network or permission failure from the object store.
type ClientError struct {
	Op  string
	Key string
	Err error
}

func (e *ClientError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("source %s %s: %v", e.Op, e.Key, e.Err)
	}
	return fmt.Sprintf("source %s: %v", e.Op, e.Err)
}

func (e *ClientError) Unwrap() error {
	return e.Err
}
