// Package storage reads and writes objects in a single S3 bucket.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/sheiva/sheiva-cloud/internal/metrics"
)

// API is the subset of *s3.Client the sink needs.
type API interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	s3.ListObjectsV2APIClient
}

// ErrNotFound is returned by Get when the key does not exist. Any other
// storage error may be transient.
var ErrNotFound = errors.New("object not found")

// Error is returned for every failed storage operation.
type Error struct {
	Op     string
	Bucket string
	Key    string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("storage %s s3://%s/%s: %v", e.Op, e.Bucket, e.Key, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type Sink struct {
	api     API
	bucket  string
	metrics *metrics.Metrics

	// NewKey names objects written by Put.
	NewKey func() string
}

func New(api API, bucket string, m *metrics.Metrics) *Sink {
	return &Sink{api: api, bucket: bucket, metrics: m, NewKey: uuid.NewString}
}

func (s *Sink) Bucket() string { return s.bucket }

// Put writes payload under prefix with a freshly generated name and returns
// the key. Concurrent or retried writes to the same prefix never collide.
func (s *Sink) Put(ctx context.Context, prefix, ext string, payload []byte) (string, error) {
	key := path.Join(prefix, s.NewKey()+"."+ext)
	if err := s.PutAt(ctx, key, payload); err != nil {
		return "", err
	}
	return key, nil
}

// PutAt writes payload at key, replacing any existing object.
func (s *Sink) PutAt(ctx context.Context, key string, payload []byte) error {
	_, err := s.api.PutObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(payload),
	})
	if err != nil {
		return &Error{Op: "put", Bucket: s.bucket, Key: key, Err: err}
	}
	s.metrics.Stored(len(payload))
	log.Debug().Str("bucket", s.bucket).Str("key", key).Str("size", humanize.Bytes(uint64(len(payload)))).Msg("Object written")
	return nil
}

func (s *Sink) Get(ctx context.Context, key string) ([]byte, error) {
	out, err := s.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noSuchKey *types.NoSuchKey
		if errors.As(err, &noSuchKey) {
			err = fmt.Errorf("%w: %w", ErrNotFound, err)
		}
		return nil, &Error{Op: "get", Bucket: s.bucket, Key: key, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &Error{Op: "get", Bucket: s.bucket, Key: key, Err: err}
	}
	return data, nil
}

// CheckBucket fails when the bucket does not exist or is not reachable.
func (s *Sink) CheckBucket(ctx context.Context) error {
	if _, err := s.api.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: aws.String(s.bucket)}); err != nil {
		return &Error{Op: "head", Bucket: s.bucket, Err: err}
	}
	return nil
}

// List yields the keys that start with prefix and end with suffix, fetching
// one page at a time as the caller ranges. Ranging again restarts the
// listing from the first page. A listing error is yielded once and ends the
// sequence.
func (s *Sink) List(ctx context.Context, prefix, suffix string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		pages := s3.NewListObjectsV2Paginator(s.api, &s3.ListObjectsV2Input{
			Bucket: aws.String(s.bucket),
			Prefix: aws.String(prefix),
		})
		for pages.HasMorePages() {
			page, err := pages.NextPage(ctx)
			if err != nil {
				yield("", &Error{Op: "list", Bucket: s.bucket, Key: prefix, Err: err})
				return
			}
			for _, obj := range page.Contents {
				key := aws.ToString(obj.Key)
				if !strings.HasSuffix(key, suffix) {
					continue
				}
				if !yield(key, nil) {
					return
				}
			}
		}
	}
}

// Stem is the file name of key without directory or extension.
func Stem(key string) string {
	base := path.Base(key)
	return strings.TrimSuffix(base, path.Ext(base))
}
