// Package remote retrieves the authoritative customer set.
//
// The remote is read-only: a Fetcher returns every customer in one call and
// nothing is ever written back. Sources register themselves by type so the
// CLI can pick one from configuration:
//
//	f, err := remote.New(remote.Config{Type: remote.TypeGraphQL, Endpoint: url, APIKey: key})
//	raw, err := f.FetchAll(ctx)
//
// Failures are reported as *RemoteError. Fetchers never retry; that is the
// caller's decision (see IsRetryable).
package remote

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/mschirtzinger/custcache/internal/customer/schema"
)

// Fetcher retrieves the full remote customer set.
type Fetcher interface {
	// FetchAll returns every remote customer in remote order.
	// Roles are returned as-is; normalization is the caller's job.
	FetchAll(ctx context.Context) ([]schema.RawCustomer, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context) ([]schema.RawCustomer, error)

// FetchAll calls f(ctx).
func (f FetcherFunc) FetchAll(ctx context.Context) ([]schema.RawCustomer, error) {
	return f(ctx)
}

// ErrRemote matches any *RemoteError.
var ErrRemote = errors.New("remote fetch failed")

// RemoteError is returned when the remote cannot be reached or its response
// cannot be understood.
type RemoteError struct {
	// Source names the fetcher type ("graphql", "file").
	Source string
	// StatusCode is the HTTP status, when there was one.
	StatusCode int
	Err        error
}

func (e *RemoteError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s remote: HTTP %d: %v", e.Source, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s remote: %v", e.Source, e.Err)
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

// Is reports whether target is ErrRemote.
func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// IsRetryable returns true if the error is likely to succeed on retry:
// network failures, timeouts, 429 and 5xx responses. Nothing in this
// module retries automatically.
func IsRetryable(err error) bool {
	var rerr *RemoteError
	if !errors.As(err, &rerr) {
		return false
	}

	if rerr.StatusCode == http.StatusTooManyRequests || rerr.StatusCode >= 500 {
		return true
	}
	if errors.Is(rerr.Err, context.DeadlineExceeded) {
		return true
	}
	var nerr net.Error
	return errors.As(rerr.Err, &nerr)
}

// Type identifies a remote source implementation.
type Type string

const (
	TypeGraphQL Type = "graphql"
	TypeFile    Type = "file"
)

// Config selects and configures a remote source.
type Config struct {
	Type Type

	// GraphQL source
	Endpoint string
	APIKey   string
	PageSize int
	Timeout  time.Duration

	// File source
	Path string
}

// Constructor creates a Fetcher from configuration.
// Implementations register themselves with Register().
type Constructor func(cfg Config) (Fetcher, error)

var (
	registry      = make(map[Type]Constructor)
	registryMutex sync.RWMutex
)

// Register registers a source constructor. Called from init().
func Register(t Type, constructor Constructor) {
	registryMutex.Lock()
	defer registryMutex.Unlock()

	if constructor == nil {
		panic(fmt.Sprintf("remote: Register constructor is nil for type %s", t))
	}
	if _, exists := registry[t]; exists {
		panic(fmt.Sprintf("remote: Register called twice for type %s", t))
	}

	registry[t] = constructor
}

// RegisteredTypes returns all registered source types, sorted.
func RegisteredTypes() []Type {
	registryMutex.RLock()
	defer registryMutex.RUnlock()

	types := make([]Type, 0, len(registry))
	for t := range registry {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	return types
}

// New creates the Fetcher registered for cfg.Type.
func New(cfg Config) (Fetcher, error) {
	registryMutex.RLock()
	constructor := registry[cfg.Type]
	registryMutex.RUnlock()

	if constructor == nil {
		return nil, fmt.Errorf("unknown remote type %q (registered: %v)", cfg.Type, RegisteredTypes())
	}
	return constructor(cfg)
}
