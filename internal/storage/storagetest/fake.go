// Package storagetest provides an in-memory S3 bucket for tests.
package storagetest

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// Fake implements storage.API over a map. Listings are split into pages of
// PageSize keys so callers exercise pagination.
type Fake struct {
	PageSize int

	// PutErr and GetErr, when set, are returned instead of performing the
	// operation. ListErr is returned for every page after the first.
	PutErr  error
	GetErr  error
	ListErr error

	mu      sync.Mutex
	objects map[string][]byte
	pages   int
}

func New() *Fake {
	return &Fake{PageSize: 2, objects: make(map[string][]byte)}
}

func (f *Fake) Set(key string, data []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[key] = data
}

func (f *Fake) Object(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

// Keys returns every stored key with the given prefix, sorted.
func (f *Fake) Keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Pages is the number of list pages served so far.
func (f *Fake) Pages() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pages
}

func (f *Fake) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.PutErr != nil {
		return nil, f.PutErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.Set(aws.ToString(params.Key), data)
	return &s3.PutObjectOutput{}, nil
}

func (f *Fake) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.GetErr != nil {
		return nil, f.GetErr
	}
	data, ok := f.Object(aws.ToString(params.Key))
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("no such key")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *Fake) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, nil
}

func (f *Fake) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	keys := f.Keys(aws.ToString(params.Prefix))

	start := 0
	if token := aws.ToString(params.ContinuationToken); token != "" {
		if f.ListErr != nil {
			return nil, f.ListErr
		}
		start, _ = strconv.Atoi(token)
	}
	end := min(start+f.PageSize, len(keys))

	f.mu.Lock()
	f.pages++
	f.mu.Unlock()

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(strconv.Itoa(end))
	}
	return out, nil
}
