package remote

import (
	"context"
	"fmt"

	"github.com/mschirtzinger/custcache/internal/customer/schema"
)

func init() {
	Register(TypeFile, func(cfg Config) (Fetcher, error) {
		return NewFile(cfg.Path)
	})
}

// File reads the remote customer set from a JSON export on disk.
// It stands in for the API when working offline or seeding a cache.
type File struct {
	path string
}

// NewFile creates a file source reading path.
func NewFile(path string) (*File, error) {
	if path == "" {
		return nil, fmt.Errorf("file remote requires a path")
	}
	return &File{path: path}, nil
}

// Path returns the file being read.
func (f *File) Path() string {
	return f.path
}

// FetchAll implements Fetcher.
func (f *File) FetchAll(ctx context.Context) ([]schema.RawCustomer, error) {
	if err := ctx.Err(); err != nil {
		return nil, &RemoteError{Source: string(TypeFile), Err: err}
	}

	customers, err := schema.ReadRawFile(f.path)
	if err != nil {
		return nil, &RemoteError{Source: string(TypeFile), Err: err}
	}
	return customers, nil
}
