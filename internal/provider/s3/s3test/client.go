// Package s3test provides an in-memory S3 client for exercising the s3
// provider without a network.
package s3test

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type object struct {
	data    []byte
	modTime time.Time
}

type upload struct {
	key   string
	parts map[int32][]byte
}

// Client is a single-bucket, in-memory implementation of the s3 provider's
// API interface.
type Client struct {
	// Inject, when set, runs before every operation. A non-nil return fails
	// the operation with that error.
	Inject func(op, key string) error
	// PageSize limits entries per ListObjectsV2 page. Zero means 1000.
	PageSize int

	mu         sync.Mutex
	objects    map[string]object
	uploads    map[string]*upload
	nextUpload int
	calls      map[string]int
	aborted    []string
}

func NewClient() *Client {
	return &Client{
		objects: make(map[string]object),
		uploads: make(map[string]*upload),
		calls:   make(map[string]int),
	}
}

func NotFound(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: "not found"}
}

// Put stores an object directly.
func (client *Client) Put(key string, data []byte) {
	client.mu.Lock()
	defer client.mu.Unlock()
	client.objects[key] = object{data: append([]byte(nil), data...), modTime: time.Now()}
}

func (client *Client) Object(key string) ([]byte, bool) {
	client.mu.Lock()
	defer client.mu.Unlock()
	obj, ok := client.objects[key]
	return obj.data, ok
}

func (client *Client) Keys() []string {
	client.mu.Lock()
	defer client.mu.Unlock()
	keys := make([]string, 0, len(client.objects))
	for key := range client.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (client *Client) Calls(op string) int {
	client.mu.Lock()
	defer client.mu.Unlock()
	return client.calls[op]
}

func (client *Client) PendingUploads() int {
	client.mu.Lock()
	defer client.mu.Unlock()
	return len(client.uploads)
}

func (client *Client) Aborted() []string {
	client.mu.Lock()
	defer client.mu.Unlock()
	return append([]string(nil), client.aborted...)
}

func (client *Client) begin(ctx context.Context, op, key string) error {
	client.mu.Lock()
	client.calls[op]++
	inject := client.Inject
	client.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if inject != nil {
		return inject(op, key)
	}
	return nil
}

func (client *Client) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(params.Prefix)
	if err := client.begin(ctx, "ListObjectsV2", prefix); err != nil {
		return nil, err
	}
	delimiter := aws.ToString(params.Delimiter)

	client.mu.Lock()
	keys := make([]string, 0, len(client.objects))
	for key := range client.objects {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)

	type item struct {
		key      string
		isPrefix bool
	}
	var items []item
	seenPrefix := make(map[string]bool)
	for _, key := range keys {
		rest := strings.TrimPrefix(key, prefix)
		if delimiter != "" {
			if index := strings.Index(rest, delimiter); index >= 0 {
				common := prefix + rest[:index+len(delimiter)]
				if !seenPrefix[common] {
					seenPrefix[common] = true
					items = append(items, item{key: common, isPrefix: true})
				}
				continue
			}
		}
		items = append(items, item{key: key})
	}

	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		parsed, err := strconv.Atoi(token)
		if err != nil {
			client.mu.Unlock()
			return nil, &smithy.GenericAPIError{Code: "InvalidArgument", Message: "bad continuation token"}
		}
		start = parsed
	}
	limit := 1000
	if client.PageSize > 0 {
		limit = client.PageSize
	}
	if params.MaxKeys != nil && int(*params.MaxKeys) < limit {
		limit = int(*params.MaxKeys)
	}
	end := start + limit
	if end > len(items) {
		end = len(items)
	}

	output := &s3.ListObjectsV2Output{Name: params.Bucket, Prefix: params.Prefix}
	for _, it := range items[start:end] {
		if it.isPrefix {
			output.CommonPrefixes = append(output.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(it.key)})
			continue
		}
		obj := client.objects[it.key]
		output.Contents = append(output.Contents, types.Object{
			Key:          aws.String(it.key),
			Size:         aws.Int64(int64(len(obj.data))),
			LastModified: aws.Time(obj.modTime),
		})
	}
	client.mu.Unlock()

	output.KeyCount = aws.Int32(int32(end - start))
	output.IsTruncated = aws.Bool(end < len(items))
	if end < len(items) {
		output.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return output, nil
}

func (client *Client) HeadObject(ctx context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	key := aws.ToString(params.Key)
	if err := client.begin(ctx, "HeadObject", key); err != nil {
		return nil, err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	obj, ok := client.objects[key]
	if !ok {
		return nil, NotFound("NotFound")
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		LastModified:  aws.Time(obj.modTime),
	}, nil
}

func (client *Client) GetObject(ctx context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)
	if err := client.begin(ctx, "GetObject", key); err != nil {
		return nil, err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	obj, ok := client.objects[key]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
	}, nil
}

func (client *Client) PutObject(ctx context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	key := aws.ToString(params.Key)
	if err := client.begin(ctx, "PutObject", key); err != nil {
		return nil, err
	}
	var data []byte
	if params.Body != nil {
		read, err := io.ReadAll(params.Body)
		if err != nil {
			return nil, err
		}
		data = read
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	if _, exists := client.objects[key]; exists && aws.ToString(params.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "object exists"}
	}
	client.objects[key] = object{data: data, modTime: time.Now()}
	return &s3.PutObjectOutput{ETag: aws.String(fmt.Sprintf("%x", len(data)))}, nil
}

func (client *Client) DeleteObject(ctx context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	key := aws.ToString(params.Key)
	if err := client.begin(ctx, "DeleteObject", key); err != nil {
		return nil, err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	delete(client.objects, key)
	return &s3.DeleteObjectOutput{}, nil
}

func (client *Client) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	key := aws.ToString(params.Key)
	if err := client.begin(ctx, "CreateMultipartUpload", key); err != nil {
		return nil, err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	client.nextUpload++
	id := strconv.Itoa(client.nextUpload)
	client.uploads[id] = &upload{key: key, parts: make(map[int32][]byte)}
	return &s3.CreateMultipartUploadOutput{Key: params.Key, UploadId: aws.String(id)}, nil
}

func (client *Client) UploadPart(ctx context.Context, params *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	key := aws.ToString(params.Key)
	if err := client.begin(ctx, "UploadPart", key); err != nil {
		return nil, err
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	pending, ok := client.uploads[aws.ToString(params.UploadId)]
	if !ok {
		return nil, NotFound("NoSuchUpload")
	}
	partNumber := aws.ToInt32(params.PartNumber)
	pending.parts[partNumber] = data
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", partNumber))}, nil
}

func (client *Client) CompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	key := aws.ToString(params.Key)
	if err := client.begin(ctx, "CompleteMultipartUpload", key); err != nil {
		return nil, err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	id := aws.ToString(params.UploadId)
	pending, ok := client.uploads[id]
	if !ok {
		return nil, NotFound("NoSuchUpload")
	}
	if _, exists := client.objects[key]; exists && aws.ToString(params.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "object exists"}
	}
	var data []byte
	if params.MultipartUpload != nil {
		for _, part := range params.MultipartUpload.Parts {
			data = append(data, pending.parts[aws.ToInt32(part.PartNumber)]...)
		}
	}
	client.objects[key] = object{data: data, modTime: time.Now()}
	delete(client.uploads, id)
	return &s3.CompleteMultipartUploadOutput{Key: params.Key}, nil
}

func (client *Client) AbortMultipartUpload(ctx context.Context, params *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	key := aws.ToString(params.Key)
	if err := client.begin(ctx, "AbortMultipartUpload", key); err != nil {
		return nil, err
	}
	client.mu.Lock()
	defer client.mu.Unlock()
	id := aws.ToString(params.UploadId)
	if _, ok := client.uploads[id]; !ok {
		return nil, NotFound("NoSuchUpload")
	}
	delete(client.uploads, id)
	client.aborted = append(client.aborted, key)
	return &s3.AbortMultipartUploadOutput{}, nil
}
