// Package local implements the provider capability set over a go-billy
// filesystem: the host filesystem for the "local" backend and an in-memory
// tree for the "memory" backend.
package local

import (
	"context"
	"io"
	"io/fs"
	"os"
	"syscall"
	"time"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/zap"

	"versfm/internal/domain"
	"versfm/internal/metrics"
	"versfm/internal/provider"
)

const (
	BackendLocal  = "local"
	BackendMemory = "memory"

	tempPrefix = ".versfm-"
)

// Provider is a billy-backed storage provider. It supports native moves.
type Provider struct {
	id      string
	backend string
	fs      billy.Filesystem
	logger  *zap.Logger
}

var (
	_ provider.Provider = (*Provider)(nil)
	_ provider.Mover    = (*Provider)(nil)
)

// Open builds a "local" provider rooted at the "root" option, which defaults
// to "/" and must be an existing directory.
func Open(_ context.Context, spec provider.Spec) (*Provider, error) {
	root := spec.Options.String("root", "/")
	info, err := os.Stat(root)
	if err != nil {
		return nil, errors.Errorf("root %q: %w", root, domain.NewOpError("open", root, domain.ErrConfiguration, err))
	}
	if !info.IsDir() {
		return nil, errors.Errorf("root %q is not a directory: %w", root, domain.ErrConfiguration)
	}
	return New(spec.ID, BackendLocal, osfs.New(root), spec.Logger), nil
}

// OpenMemory builds a "memory" provider with an empty tree.
func OpenMemory(_ context.Context, spec provider.Spec) (*Provider, error) {
	return NewMemory(spec.ID, spec.Logger), nil
}

// Factory adapts Open to provider.Factory.
func Factory(ctx context.Context, spec provider.Spec) (provider.Provider, error) {
	return Open(ctx, spec)
}

// MemoryFactory adapts OpenMemory to provider.Factory.
func MemoryFactory(ctx context.Context, spec provider.Spec) (provider.Provider, error) {
	return OpenMemory(ctx, spec)
}

func NewMemory(id string, logger *zap.Logger) *Provider {
	filesystem := memfs.New()
	_ = filesystem.MkdirAll("/", 0o755)
	return New(id, BackendMemory, filesystem, logger)
}

func New(id, backend string, filesystem billy.Filesystem, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{id: id, backend: backend, fs: filesystem, logger: logger}
}

func (local *Provider) ID() string      { return local.id }
func (local *Provider) Backend() string { return local.backend }

// Filesystem exposes the underlying billy filesystem.
func (local *Provider) Filesystem() billy.Filesystem {
	return local.fs
}

func (local *Provider) List(ctx context.Context, dir string) (entries []domain.Entry, err error) {
	defer local.record("list", time.Now(), &err)
	dir = domain.CleanPath(dir)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := local.fs.Stat(dir)
	if err != nil {
		return nil, classify("list", dir, err)
	}
	if !info.IsDir() {
		return nil, domain.NewOpError("list", dir, domain.ErrConflict, errors.New("not a directory"))
	}

	infos, err := local.fs.ReadDir(dir)
	if err != nil {
		return nil, classify("list", dir, err)
	}
	entries = make([]domain.Entry, 0, len(infos))
	for _, child := range infos {
		entries = append(entries, local.entryFor(domain.JoinPath(dir, child.Name()), child))
	}
	return entries, nil
}

func (local *Provider) Stat(ctx context.Context, entryPath string) (entry domain.Entry, err error) {
	defer local.record("stat", time.Now(), &err)
	entryPath = domain.CleanPath(entryPath)
	if err := ctx.Err(); err != nil {
		return domain.Entry{}, err
	}
	info, err := local.fs.Stat(entryPath)
	if err != nil {
		return domain.Entry{}, classify("stat", entryPath, err)
	}
	return local.entryFor(entryPath, info), nil
}

func (local *Provider) Read(ctx context.Context, entryPath string) (reader io.ReadCloser, err error) {
	defer local.record("read", time.Now(), &err)
	entry, err := local.Stat(ctx, entryPath)
	if err != nil {
		return nil, err
	}
	if entry.IsDir() {
		return nil, domain.NewOpError("read", entry.Path, domain.ErrConflict, errors.New("is a directory"))
	}
	file, err := local.fs.Open(entry.Path)
	if err != nil {
		return nil, classify("read", entry.Path, err)
	}
	return file, nil
}

// Write streams r into a temporary file next to entryPath and renames it
// into place once the stream is complete.
func (local *Provider) Write(ctx context.Context, entryPath string, r io.Reader) (entry domain.Entry, err error) {
	defer local.record("write", time.Now(), &err)
	entryPath = domain.CleanPath(entryPath)
	if err := local.ensureAbsent(ctx, "write", entryPath); err != nil {
		return domain.Entry{}, err
	}

	parent := domain.ParentPath(entryPath)
	if info, err := local.fs.Stat(parent); err != nil {
		return domain.Entry{}, classify("write", parent, err)
	} else if !info.IsDir() {
		return domain.Entry{}, domain.NewOpError("write", parent, domain.ErrConflict, errors.New("parent is not a directory"))
	}

	temp, err := util.TempFile(local.fs, parent, tempPrefix)
	if err != nil {
		return domain.Entry{}, classify("write", entryPath, err)
	}
	tempName := temp.Name()

	_, copyErr := io.Copy(temp, r)
	closeErr := temp.Close()
	if copyErr == nil {
		copyErr = closeErr
	}
	if copyErr == nil {
		copyErr = local.ensureAbsent(ctx, "write", entryPath)
	}
	if copyErr == nil {
		copyErr = local.fs.Rename(tempName, entryPath)
	}
	if copyErr != nil {
		if removeErr := local.fs.Remove(tempName); removeErr != nil && !errors.Is(removeErr, fs.ErrNotExist) {
			local.logger.Warn("failed to remove temp file", zap.String("path", tempName), zap.Error(removeErr))
		}
		var opErr *domain.OpError
		if errors.As(copyErr, &opErr) || errors.Is(copyErr, context.Canceled) || errors.Is(copyErr, context.DeadlineExceeded) {
			return domain.Entry{}, copyErr
		}
		return domain.Entry{}, classify("write", entryPath, copyErr)
	}

	return local.Stat(ctx, entryPath)
}

func (local *Provider) Mkdir(ctx context.Context, entryPath string) (err error) {
	defer local.record("mkdir", time.Now(), &err)
	entryPath = domain.CleanPath(entryPath)
	if err := ctx.Err(); err != nil {
		return err
	}
	info, err := local.fs.Stat(entryPath)
	switch {
	case err == nil && info.IsDir():
		return nil
	case err == nil:
		return domain.NewOpError("mkdir", entryPath, domain.ErrConflict, errors.New("not a directory"))
	case !errors.Is(err, fs.ErrNotExist):
		return classify("mkdir", entryPath, err)
	}
	if err := local.fs.MkdirAll(entryPath, 0o755); err != nil {
		return classify("mkdir", entryPath, err)
	}
	return nil
}

func (local *Provider) Remove(ctx context.Context, entry domain.Entry) (err error) {
	defer local.record("remove", time.Now(), &err)
	entryPath := domain.CleanPath(entry.Path)
	if err := ctx.Err(); err != nil {
		return err
	}
	if entryPath == "/" {
		return domain.NewOpError("remove", entryPath, domain.ErrPermissionDenied, errors.New("refusing to remove the root"))
	}
	info, err := local.fs.Lstat(entryPath)
	if err != nil {
		return classify("remove", entryPath, err)
	}
	if info.IsDir() {
		children, err := local.fs.ReadDir(entryPath)
		if err != nil {
			return classify("remove", entryPath, err)
		}
		if len(children) > 0 {
			return domain.NewOpError("remove", entryPath, domain.ErrNotEmpty, nil)
		}
	}
	if err := local.fs.Remove(entryPath); err != nil {
		return classify("remove", entryPath, err)
	}
	return nil
}

// NativeMove renames from to to. Cross-device renames report ErrUnsupported
// so the caller can fall back to copy then delete.
func (local *Provider) NativeMove(ctx context.Context, from, to string) (entry domain.Entry, err error) {
	defer local.record("move", time.Now(), &err)
	from = domain.CleanPath(from)
	to = domain.CleanPath(to)
	if _, err := local.Stat(ctx, from); err != nil {
		return domain.Entry{}, err
	}
	if domain.IsWithin(from, to) {
		return domain.Entry{}, domain.NewOpError("move", to, domain.ErrConflict, errors.New("destination is inside the source"))
	}
	if err := local.ensureAbsent(ctx, "move", to); err != nil {
		return domain.Entry{}, err
	}
	if err := local.fs.Rename(from, to); err != nil {
		return domain.Entry{}, classify("move", from, err)
	}
	return local.Stat(ctx, to)
}

func (local *Provider) ensureAbsent(ctx context.Context, op, entryPath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := local.fs.Lstat(entryPath)
	switch {
	case err == nil:
		return domain.NewOpError(op, entryPath, domain.ErrAlreadyExists, nil)
	case errors.Is(err, fs.ErrNotExist):
		return nil
	default:
		return classify(op, entryPath, err)
	}
}

func (local *Provider) entryFor(entryPath string, info fs.FileInfo) domain.Entry {
	if info.IsDir() {
		return domain.NewDirEntry(local.id, entryPath, info.ModTime())
	}
	return domain.NewFileEntry(local.id, entryPath, info.Size(), info.ModTime())
}

func (local *Provider) record(op string, start time.Time, err *error) {
	metrics.RecordProviderOperation(local.backend, op, time.Since(start), *err)
	if *err != nil {
		local.logger.Debug("provider operation failed", zap.String("op", op), zap.Error(*err))
	}
}

func classify(op, entryPath string, err error) error {
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return domain.NewOpError(op, entryPath, domain.ErrNotFound, err)
	case errors.Is(err, fs.ErrPermission):
		return domain.NewOpError(op, entryPath, domain.ErrPermissionDenied, err)
	case errors.Is(err, fs.ErrExist):
		return domain.NewOpError(op, entryPath, domain.ErrAlreadyExists, err)
	case errors.Is(err, syscall.EXDEV):
		return domain.NewOpError(op, entryPath, domain.ErrUnsupported, err)
	case errors.Is(err, syscall.ENOTEMPTY):
		return domain.NewOpError(op, entryPath, domain.ErrNotEmpty, err)
	default:
		return errors.Errorf("%s %s: %w", op, entryPath, err)
	}
}
