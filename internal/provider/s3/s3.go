// Package s3 implements the provider capability set on an S3 bucket, or on
// any S3-compatible endpoint. Object stores have no rename, so the provider
// does not implement native moves.
//
// Directories follow the "key/" convention: a common prefix, or a zero-byte
// marker object whose key ends in a slash.
package s3

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/gabriel-vasile/mimetype"
	"gitlab.com/tozd/go/errors"
	"go.uber.org/zap"

	"versfm/internal/domain"
	"versfm/internal/metrics"
	"versfm/internal/provider"
)

const (
	Backend = "s3"

	// DefaultPartSize is the multipart chunk size. Streams that fit in one
	// part are sent with a single PutObject.
	DefaultPartSize int64 = 8 << 20
	// MinPartSize is the smallest part S3 accepts.
	MinPartSize int64 = 5 << 20

	defaultRegion = "us-east-1"
)

// Settings configure a Provider independently of how its client was built.
type Settings struct {
	Bucket   string
	Prefix   string
	PartSize int64
	// Backend overrides the reported backend tag, for S3-compatible stores.
	Backend string
}

type Provider struct {
	id       string
	backend  string
	bucket   string
	prefix   string
	partSize int64
	client   API
	logger   *zap.Logger
}

var _ provider.Provider = (*Provider)(nil)

// Open builds a provider from options: bucket (required), region, endpoint,
// prefix, access_key, secret_key, path_style and part_size.
func Open(ctx context.Context, spec provider.Spec) (*Provider, error) {
	bucket, err := spec.Options.Require("bucket")
	if err != nil {
		return nil, err
	}
	pathStyle, err := spec.Options.Bool("path_style", false)
	if err != nil {
		return nil, err
	}
	partSize, err := spec.Options.Int64("part_size", DefaultPartSize)
	if err != nil {
		return nil, err
	}
	if partSize < MinPartSize {
		return nil, errors.Errorf("part_size %d is below the %d byte minimum: %w", partSize, MinPartSize, domain.ErrConfiguration)
	}

	loadOptions := []func(*config.LoadOptions) error{
		config.WithRegion(spec.Options.String("region", defaultRegion)),
	}
	if accessKey := spec.Options.String("access_key", ""); accessKey != "" {
		secretKey, err := spec.Options.Require("secret_key")
		if err != nil {
			return nil, err
		}
		loadOptions = append(loadOptions, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, loadOptions...)
	if err != nil {
		return nil, errors.Errorf("load aws config: %w", domain.NewOpError("open", bucket, domain.ErrConfiguration, err))
	}

	endpoint := spec.Options.String("endpoint", "")
	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
		o.UsePathStyle = pathStyle
	})

	return New(spec.ID, client, Settings{
		Bucket:   bucket,
		Prefix:   spec.Options.String("prefix", ""),
		PartSize: partSize,
		Backend:  spec.Backend,
	}, spec.Logger), nil
}

// Factory adapts Open to provider.Factory.
func Factory(ctx context.Context, spec provider.Spec) (provider.Provider, error) {
	return Open(ctx, spec)
}

func New(id string, client API, settings Settings, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	partSize := settings.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}
	backend := settings.Backend
	if backend == "" {
		backend = Backend
	}
	prefix := strings.Trim(settings.Prefix, "/")
	if prefix != "" {
		prefix += "/"
	}
	return &Provider{
		id:       id,
		backend:  backend,
		bucket:   settings.Bucket,
		prefix:   prefix,
		partSize: partSize,
		client:   client,
		logger:   logger,
	}
}

func (store *Provider) ID() string      { return store.id }
func (store *Provider) Backend() string { return store.backend }
func (store *Provider) Bucket() string  { return store.bucket }

func (store *Provider) objectKey(entryPath string) string {
	return store.prefix + strings.TrimPrefix(domain.CleanPath(entryPath), "/")
}

func (store *Provider) dirKey(entryPath string) string {
	entryPath = domain.CleanPath(entryPath)
	if entryPath == "/" {
		return store.prefix
	}
	return store.objectKey(entryPath) + "/"
}

func (store *Provider) List(ctx context.Context, dir string) (entries []domain.Entry, err error) {
	defer store.record("list", time.Now(), &err)
	dir = domain.CleanPath(dir)
	prefix := store.dirKey(dir)

	seen := make(map[string]bool)
	sawSelf := false
	paginator := s3.NewListObjectsV2Paginator(store.client, &s3.ListObjectsV2Input{
		Bucket:    aws.String(store.bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String("/"),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("list", prefix, err)
		}
		for _, common := range page.CommonPrefixes {
			name := strings.TrimSuffix(strings.TrimPrefix(aws.ToString(common.Prefix), prefix), "/")
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			entries = append(entries, domain.NewDirEntry(store.id, domain.JoinPath(dir, name), time.Time{}))
		}
		for _, object := range page.Contents {
			key := aws.ToString(object.Key)
			if key == prefix {
				sawSelf = true
				continue
			}
			name := strings.TrimPrefix(key, prefix)
			if strings.HasSuffix(name, "/") {
				name = strings.TrimSuffix(name, "/")
				if seen[name] {
					continue
				}
				seen[name] = true
				entries = append(entries, domain.NewDirEntry(store.id, domain.JoinPath(dir, name), aws.ToTime(object.LastModified)))
				continue
			}
			entries = append(entries, domain.NewFileEntry(
				store.id, domain.JoinPath(dir, name), aws.ToInt64(object.Size), aws.ToTime(object.LastModified),
			))
		}
	}

	if dir != "/" && len(entries) == 0 && !sawSelf {
		return nil, domain.NewOpError("list", prefix, domain.ErrNotFound, nil)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Name < entries[j].Name
	})
	return entries, nil
}

func (store *Provider) Stat(ctx context.Context, entryPath string) (entry domain.Entry, err error) {
	defer store.record("stat", time.Now(), &err)
	entryPath = domain.CleanPath(entryPath)
	if entryPath == "/" {
		return domain.NewDirEntry(store.id, "/", time.Time{}), nil
	}

	key := store.objectKey(entryPath)
	head, err := store.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	if err == nil {
		return domain.NewFileEntry(store.id, entryPath, aws.ToInt64(head.ContentLength), aws.ToTime(head.LastModified)), nil
	}
	if classified := classify("stat", key, err); !errors.Is(classified, domain.ErrNotFound) {
		return domain.Entry{}, classified
	}

	isDir, err := store.hasPrefix(ctx, store.dirKey(entryPath))
	if err != nil {
		return domain.Entry{}, err
	}
	if !isDir {
		return domain.Entry{}, domain.NewOpError("stat", key, domain.ErrNotFound, nil)
	}
	return domain.NewDirEntry(store.id, entryPath, time.Time{}), nil
}

func (store *Provider) Read(ctx context.Context, entryPath string) (reader io.ReadCloser, err error) {
	defer store.record("read", time.Now(), &err)
	key := store.objectKey(entryPath)
	output, err := store.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, classify("read", key, err)
	}
	return output.Body, nil
}

// Write uploads r. Streams that fit in one part go up in a single
// conditional PutObject. Larger streams use a multipart upload which is
// aborted on any failure, so a partial object never becomes visible.
func (store *Provider) Write(ctx context.Context, entryPath string, r io.Reader) (entry domain.Entry, err error) {
	defer store.record("write", time.Now(), &err)
	entryPath = domain.CleanPath(entryPath)
	key := store.objectKey(entryPath)

	if _, err := store.Stat(ctx, entryPath); err == nil {
		return domain.Entry{}, domain.NewOpError("write", key, domain.ErrAlreadyExists, nil)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return domain.Entry{}, err
	}

	buffer := make([]byte, store.partSize)
	n, readErr := io.ReadFull(r, buffer)
	switch {
	case readErr == io.EOF || readErr == io.ErrUnexpectedEOF:
		return store.putSingle(ctx, entryPath, key, buffer[:n])
	case readErr != nil:
		return domain.Entry{}, errors.Errorf("write %s: %w", key, readErr)
	}
	return store.putMultipart(ctx, entryPath, key, buffer, r)
}

func (store *Provider) putSingle(ctx context.Context, entryPath, key string, data []byte) (domain.Entry, error) {
	_, err := store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(store.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(detectContentType(data)),
		IfNoneMatch:   aws.String("*"),
	})
	if err != nil {
		return domain.Entry{}, classify("write", key, err)
	}
	store.logger.Debug("put object", zap.String("key", key), zap.Int("size", len(data)))
	return domain.NewFileEntry(store.id, entryPath, int64(len(data)), time.Now()), nil
}

// putMultipart uploads buffer, which holds a full first part, followed by the
// rest of the stream. buffer is reused for every later part.
func (store *Provider) putMultipart(ctx context.Context, entryPath, key string, buffer []byte, rest io.Reader) (entry domain.Entry, err error) {
	created, err := store.client.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket:      aws.String(store.bucket),
		Key:         aws.String(key),
		ContentType: aws.String(detectContentType(buffer)),
	})
	if err != nil {
		return domain.Entry{}, classify("write", key, err)
	}
	uploadID := aws.ToString(created.UploadId)

	defer func() {
		if err == nil {
			return
		}
		// The caller's context may already be canceled.
		_, abortErr := store.client.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
			Bucket:   aws.String(store.bucket),
			Key:      aws.String(key),
			UploadId: aws.String(uploadID),
		})
		if abortErr != nil {
			store.logger.Warn("abort multipart upload failed", zap.String("key", key), zap.Error(abortErr))
		}
	}()

	var (
		parts []types.CompletedPart
		total int64
		chunk = buffer
	)
	for partNumber := int32(1); ; partNumber++ {
		uploaded, err := store.client.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(store.bucket),
			Key:           aws.String(key),
			UploadId:      aws.String(uploadID),
			PartNumber:    aws.Int32(partNumber),
			Body:          bytes.NewReader(chunk),
			ContentLength: aws.Int64(int64(len(chunk))),
		})
		if err != nil {
			return domain.Entry{}, classify("write", key, err)
		}
		parts = append(parts, types.CompletedPart{ETag: uploaded.ETag, PartNumber: aws.Int32(partNumber)})
		total += int64(len(chunk))

		n, readErr := io.ReadFull(rest, buffer)
		if readErr == io.EOF {
			break
		}
		if readErr != nil && readErr != io.ErrUnexpectedEOF {
			return domain.Entry{}, errors.Errorf("write %s: %w", key, readErr)
		}
		chunk = buffer[:n]
	}

	_, err = store.client.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
		Bucket:          aws.String(store.bucket),
		Key:             aws.String(key),
		UploadId:        aws.String(uploadID),
		MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		IfNoneMatch:     aws.String("*"),
	})
	if err != nil {
		return domain.Entry{}, classify("write", key, err)
	}
	store.logger.Debug("multipart upload complete", zap.String("key", key), zap.Int("parts", len(parts)), zap.Int64("size", total))
	return domain.NewFileEntry(store.id, entryPath, total, time.Now()), nil
}

func (store *Provider) Mkdir(ctx context.Context, entryPath string) (err error) {
	defer store.record("mkdir", time.Now(), &err)
	entryPath = domain.CleanPath(entryPath)
	entry, err := store.Stat(ctx, entryPath)
	switch {
	case err == nil && entry.IsDir():
		return nil
	case err == nil:
		return domain.NewOpError("mkdir", store.objectKey(entryPath), domain.ErrConflict, errors.New("not a directory"))
	case !errors.Is(err, domain.ErrNotFound):
		return err
	}

	key := store.dirKey(entryPath)
	_, err = store.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(store.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(nil),
		ContentLength: aws.Int64(0),
	})
	return classify("mkdir", key, err)
}

func (store *Provider) Remove(ctx context.Context, entry domain.Entry) (err error) {
	defer store.record("remove", time.Now(), &err)
	entryPath := domain.CleanPath(entry.Path)
	if entryPath == "/" {
		return domain.NewOpError("remove", store.prefix, domain.ErrPermissionDenied, errors.New("refusing to remove the root"))
	}

	key := store.objectKey(entryPath)
	if entry.IsDir() {
		key = store.dirKey(entryPath)
		empty, err := store.dirEmpty(ctx, key)
		if err != nil {
			return err
		}
		if !empty {
			return domain.NewOpError("remove", key, domain.ErrNotEmpty, nil)
		}
	} else if _, err := store.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	}); err != nil {
		return classify("remove", key, err)
	}

	_, err = store.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(store.bucket),
		Key:    aws.String(key),
	})
	return classify("remove", key, err)
}

func (store *Provider) hasPrefix(ctx context.Context, prefix string) (bool, error) {
	output, err := store.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(store.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return false, classify("stat", prefix, err)
	}
	return len(output.Contents) > 0, nil
}

// dirEmpty reports whether nothing but the directory's own marker lives
// under prefix.
func (store *Provider) dirEmpty(ctx context.Context, prefix string) (bool, error) {
	output, err := store.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(store.bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(2),
	})
	if err != nil {
		return false, classify("remove", prefix, err)
	}
	for _, object := range output.Contents {
		if aws.ToString(object.Key) != prefix {
			return false, nil
		}
	}
	return true, nil
}

func (store *Provider) record(op string, start time.Time, err *error) {
	metrics.RecordProviderOperation(store.backend, op, time.Since(start), *err)
	if *err != nil {
		store.logger.Debug("provider operation failed", zap.String("op", op), zap.Error(*err))
	}
}

func detectContentType(data []byte) string {
	if len(data) == 0 {
		return "application/octet-stream"
	}
	sniff := data
	if len(sniff) > 3072 {
		sniff = sniff[:3072]
	}
	return mimetype.Detect(sniff).String()
}
