// Package minio implements the provider capability set with the MinIO
// client. Like the s3 provider it keeps directories as "key/" prefixes and
// has no native move.
package minio

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	miniogo "github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/zap"

	"versfm/internal/domain"
	"versfm/internal/metrics"
	"versfm/internal/provider"
)

const Backend = "minio"

// ObjectStore is the part of the MinIO client the provider needs.
type ObjectStore interface {
	ListObjects(ctx context.Context, bucket string, opts miniogo.ListObjectsOptions) <-chan miniogo.ObjectInfo
	StatObject(ctx context.Context, bucket, key string, opts miniogo.StatObjectOptions) (miniogo.ObjectInfo, error)
	GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error)
	RemoveObject(ctx context.Context, bucket, key string, opts miniogo.RemoveObjectOptions) error
}

// clientStore adapts *minio.Client. GetObject is lazy in minio-go, so the
// adapter stats the object first to surface a missing key.
type clientStore struct {
	client *miniogo.Client
}

func (store clientStore) ListObjects(ctx context.Context, bucket string, opts miniogo.ListObjectsOptions) <-chan miniogo.ObjectInfo {
	return store.client.ListObjects(ctx, bucket, opts)
}

func (store clientStore) StatObject(ctx context.Context, bucket, key string, opts miniogo.StatObjectOptions) (miniogo.ObjectInfo, error) {
	return store.client.StatObject(ctx, bucket, key, opts)
}

func (store clientStore) GetObject(ctx context.Context, bucket, key string) (io.ReadCloser, error) {
	object, err := store.client.GetObject(ctx, bucket, key, miniogo.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, err
	}
	return object, nil
}

func (store clientStore) PutObject(ctx context.Context, bucket, key string, reader io.Reader, size int64, opts miniogo.PutObjectOptions) (miniogo.UploadInfo, error) {
	return store.client.PutObject(ctx, bucket, key, reader, size, opts)
}

func (store clientStore) RemoveObject(ctx context.Context, bucket, key string, opts miniogo.RemoveObjectOptions) error {
	return store.client.RemoveObject(ctx, bucket, key, opts)
}

type Provider struct {
	id     string
	bucket string
	prefix string
	store  ObjectStore
	logger *zap.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Open builds a provider from options: endpoint and bucket (required),
// access_key, secret_key, use_ssl, region and prefix.
func Open(_ context.Context, spec provider.Spec) (*Provider, error) {
	endpoint, err := spec.Options.Require("endpoint")
	if err != nil {
		return nil, err
	}
	bucket, err := spec.Options.Require("bucket")
	if err != nil {
		return nil, err
	}
	useSSL, err := spec.Options.Bool("use_ssl", true)
	if err != nil {
		return nil, err
	}

	client, err := miniogo.New(endpoint, &miniogo.Options{
		Creds:  credentials.NewStaticV4(spec.Options.String("access_key", ""), spec.Options.String("secret_key", ""), ""),
		Secure: useSSL,
		Region: spec.Options.String("region", ""),
	})
	if err != nil {
		return nil, domain.NewOpError("open", endpoint, domain.ErrConfiguration, err)
	}
	return New(spec.ID, clientStore{client: client}, bucket, spec.Options.String("prefix", ""), spec.Logger), nil
}

// Factory adapts Open to provider.Factory.
func Factory(ctx context.Context, spec provider.Spec) (provider.Provider, error) {
	return Open(ctx, spec)
}

func New(id string, store ObjectStore, bucket, prefix string, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix = strings.Trim(prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Provider{id: id, bucket: bucket, prefix: prefix, store: store, logger: logger}
}

func (bucket *Provider) ID() string      { return bucket.id }
func (bucket *Provider) Backend() string { return Backend }

func (bucket *Provider) objectKey(entryPath string) string {
	return bucket.prefix + strings.TrimPrefix(domain.CleanPath(entryPath), "/")
}

func (bucket *Provider) dirKey(entryPath string) string {
	if domain.CleanPath(entryPath) == "/" {
		return bucket.prefix
	}
	return bucket.objectKey(entryPath) + "/"
}

func (bucket *Provider) List(ctx context.Context, dir string) (entries []domain.Entry, err error) {
	defer bucket.record("list", time.Now(), &err)
	dir = domain.CleanPath(dir)
	prefix := bucket.dirKey(dir)

	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	seen := make(map[string]bool)
	sawSelf := false
	for object := range bucket.store.ListObjects(listCtx, bucket.bucket, miniogo.ListObjectsOptions{Prefix: prefix}) {
		if object.Err != nil {
			return nil, classify("list", prefix, object.Err)
		}
		if object.Key == prefix {
			sawSelf = true
			continue
		}
		name := strings.TrimPrefix(object.Key, prefix)
		if strings.HasSuffix(name, "/") {
			name = strings.TrimSuffix(name, "/")
			if seen[name] {
				continue
			}
			seen[name] = true
			entries = append(entries, domain.NewDirEntry(bucket.id, domain.JoinPath(dir, name), object.LastModified))
			continue
		}
		entries = append(entries, domain.NewFileEntry(bucket.id, domain.JoinPath(dir, name), object.Size, object.LastModified))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if dir != "/" && len(entries) == 0 && !sawSelf {
		return nil, domain.NewOpError("list", prefix, domain.ErrNotFound, nil)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func (bucket *Provider) Stat(ctx context.Context, entryPath string) (entry domain.Entry, err error) {
	defer bucket.record("stat", time.Now(), &err)
	entryPath = domain.CleanPath(entryPath)
	if entryPath == "/" {
		return domain.NewDirEntry(bucket.id, "/", time.Time{}), nil
	}
	key := bucket.objectKey(entryPath)
	info, err := bucket.store.StatObject(ctx, bucket.bucket, key, miniogo.StatObjectOptions{})
	if err == nil {
		return domain.NewFileEntry(bucket.id, entryPath, info.Size, info.LastModified), nil
	}
	if classified := classify("stat", key, err); !errors.Is(classified, domain.ErrNotFound) {
		return domain.Entry{}, classified
	}

	empty, err := bucket.prefixEmpty(ctx, bucket.dirKey(entryPath), false)
	if err != nil {
		return domain.Entry{}, err
	}
	if empty {
		return domain.Entry{}, domain.NewOpError("stat", key, domain.ErrNotFound, nil)
	}
	return domain.NewDirEntry(bucket.id, entryPath, time.Time{}), nil
}

func (bucket *Provider) Read(ctx context.Context, entryPath string) (reader io.ReadCloser, err error) {
	defer bucket.record("read", time.Now(), &err)
	key := bucket.objectKey(entryPath)
	reader, err = bucket.store.GetObject(ctx, bucket.bucket, key)
	if err != nil {
		return nil, classify("read", key, err)
	}
	return reader, nil
}

// Write streams r with an unknown size. minio-go splits it into a
// multipart upload and aborts the upload when the stream fails.
func (bucket *Provider) Write(ctx context.Context, entryPath string, r io.Reader) (entry domain.Entry, err error) {
	defer bucket.record("write", time.Now(), &err)
	entryPath = domain.CleanPath(entryPath)
	key := bucket.objectKey(entryPath)
	if _, err := bucket.Stat(ctx, entryPath); err == nil {
		return domain.Entry{}, domain.NewOpError("write", key, domain.ErrAlreadyExists, nil)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Entry{}, err
	}

	head := make([]byte, 512)
	n, readErr := io.ReadFull(r, head)
	if readErr != nil && readErr != io.EOF && readErr != io.ErrUnexpectedEOF {
		return domain.Entry{}, errors.Errorf("write %s: %w", key, readErr)
	}
	head = head[:n]
	contentType := "application/octet-stream"
	if n > 0 {
		contentType = mimetype.Detect(head).String()
	}

	opts := miniogo.PutObjectOptions{ContentType: contentType}
	// The Stat above fails fast; the conditional put closes the window
	// between it and the upload.
	opts.SetMatchETagExcept("*")
	info, err := bucket.store.PutObject(ctx, bucket.bucket, key, io.MultiReader(bytes.NewReader(head), r), -1, opts)
	if err != nil {
		return domain.Entry{}, classify("write", key, err)
	}
	return domain.NewFileEntry(bucket.id, entryPath, info.Size, time.Now()), nil
}

func (bucket *Provider) Mkdir(ctx context.Context, entryPath string) (err error) {
	defer bucket.record("mkdir", time.Now(), &err)
	entry, err := bucket.Stat(ctx, entryPath)
	switch {
	case err == nil && entry.IsDir():
		return nil
	case err == nil:
		return domain.NewOpError("mkdir", bucket.objectKey(entryPath), domain.ErrConflict, errors.New("not a directory"))
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}
	key := bucket.dirKey(entryPath)
	_, err = bucket.store.PutObject(ctx, bucket.bucket, key, strings.NewReader(""), 0, miniogo.PutObjectOptions{})
	return classify("mkdir", key, err)
}

func (bucket *Provider) Remove(ctx context.Context, entry domain.Entry) (err error) {
	defer bucket.record("remove", time.Now(), &err)
	entryPath := domain.CleanPath(entry.Path)
	if entryPath == "/" {
		return domain.NewOpError("remove", bucket.prefix, domain.ErrPermissionDenied, errors.New("refusing to remove the root"))
	}

	key := bucket.objectKey(entryPath)
	if entry.IsDir() {
		key = bucket.dirKey(entryPath)
		empty, err := bucket.prefixEmpty(ctx, key, true)
		if err != nil {
			return err
		}
		if !empty {
			return domain.NewOpError("remove", key, domain.ErrNotEmpty, nil)
		}
	} else if _, err := bucket.store.StatObject(ctx, bucket.bucket, key, miniogo.StatObjectOptions{}); err != nil {
		return classify("remove", key, err)
	}
	return classify("remove", key, bucket.store.RemoveObject(ctx, bucket.bucket, key, miniogo.RemoveObjectOptions{}))
}

// prefixEmpty reports whether no object lives under prefix. With
// ignoreMarker the directory's own marker does not count.
func (bucket *Provider) prefixEmpty(ctx context.Context, prefix string, ignoreMarker bool) (bool, error) {
	listCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	for object := range bucket.store.ListObjects(listCtx, bucket.bucket, miniogo.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return false, classify("list", prefix, object.Err)
		}
		if ignoreMarker && object.Key == prefix {
			continue
		}
		return false, nil
	}
	return true, nil
}

func (bucket *Provider) record(op string, start time.Time, err *error) {
	metrics.RecordProviderOperation(Backend, op, time.Since(start), *err)
	if *err != nil {
		bucket.logger.Debug("provider operation failed", zap.String("op", op), zap.Error(*err))
	}
}

func classify(op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	switch miniogo.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchUpload", "NotFound":
		return domain.NewOpError(op, key, domain.ErrNotFound, err)
	case "NoSuchBucket", "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch":
		return domain.NewOpError(op, key, domain.ErrPermissionDenied, err)
	case "PreconditionFailed":
		return domain.NewOpError(op, key, domain.ErrAlreadyExists, err)
	}
	return domain.NewOpError(op, key, domain.ErrProviderUnavailable, err)
}
