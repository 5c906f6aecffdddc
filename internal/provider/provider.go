// Package provider defines the storage capability set every backend
// implements, the option map backends are built from, and the registry that
// maps backend tags to constructors.
package provider

import (
	"context"
	"io"

	"versfm/internal/domain"
)

// Provider is a storage backend. Paths are absolute, slash separated and
// scoped to the provider. Errors are classified with the domain error
// classes so callers can match them with errors.Is.
type Provider interface {
	// ID is the configured instance name.
	ID() string
	// Backend is the tag the provider was built from.
	Backend() string

	// List returns a complete snapshot of the directory in the backend's
	// natural order.
	List(ctx context.Context, dir string) ([]domain.Entry, error)
	Stat(ctx context.Context, entryPath string) (domain.Entry, error)
	// Read streams a file. The stream is forward only and is not buffered
	// whole in memory.
	Read(ctx context.Context, entryPath string) (io.ReadCloser, error)
	// Write consumes r until EOF and commits it at entryPath. It never
	// overwrites an existing object, and on failure it leaves nothing at
	// entryPath.
	Write(ctx context.Context, entryPath string, r io.Reader) (domain.Entry, error)
	// Mkdir is idempotent for directories and fails with ErrConflict when a
	// non-directory exists at entryPath.
	Mkdir(ctx context.Context, entryPath string) error
	// Remove deletes a file or an empty directory. Non-empty directories
	// fail with ErrNotEmpty.
	Remove(ctx context.Context, entry domain.Entry) error
}

// Mover is implemented by backends with an atomic rename. A Mover may still
// return ErrUnsupported for a particular pair of paths, for example across
// devices.
type Mover interface {
	NativeMove(ctx context.Context, from, to string) (domain.Entry, error)
}

// NativeMover reports whether p can rename natively.
func NativeMover(p Provider) (Mover, bool) {
	mover, ok := p.(Mover)
	return mover, ok
}

// Resolver looks providers up by instance id.
type Resolver interface {
	Get(id string) (Provider, bool)
	MustGet(id string) Provider
}
