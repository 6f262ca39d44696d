package storage

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sheiva/sheiva-cloud/internal/storage/storagetest"
)

type MockS3Client struct {
	storagetest.Fake
	mock.Mock
}

func (m *MockS3Client) PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*s3.PutObjectOutput), args.Error(1)
}

func TestPutGeneratesKeyUnderPrefix(t *testing.T) {
	fake := storagetest.New()
	sink := New(fake, "sheiva-scrape", nil)
	sink.NewKey = func() string { return "0b9a" }

	key, err := sink.Put(context.Background(), "workout-data/male/18-25", "json", []byte(`[]`))

	require.NoError(t, err)
	assert.Equal(t, "workout-data/male/18-25/0b9a.json", key)
	data, ok := fake.Object(key)
	require.True(t, ok)
	assert.Equal(t, `[]`, string(data))
}

func TestPutErrorIsStorageError(t *testing.T) {
	m := new(MockS3Client)
	m.On("PutObject", mock.Anything, mock.MatchedBy(func(in *s3.PutObjectInput) bool {
		return aws.ToString(in.Bucket) == "sheiva-scrape"
	})).Return(nil, assert.AnError)

	_, err := New(m, "sheiva-scrape", nil).Put(context.Background(), "p", "json", nil)

	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "put", sErr.Op)
	assert.True(t, strings.HasPrefix(sErr.Key, "p/"))
	assert.ErrorIs(t, err, assert.AnError)
}

func TestConcurrentPutsNeverCollide(t *testing.T) {
	const trials = 10000
	fake := storagetest.New()
	sink := New(fake, "sheiva-scrape", nil)

	var wg sync.WaitGroup
	keys := make([]string, trials)
	for i := 0; i < trials; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key, err := sink.Put(context.Background(), "workout-data/female/18-25", "json", []byte("[]"))
			assert.NoError(t, err)
			keys[i] = key
		}(i)
	}
	wg.Wait()

	seen := make(map[string]struct{}, trials)
	for _, k := range keys {
		seen[k] = struct{}{}
	}
	assert.Len(t, seen, trials)
	assert.Len(t, fake.Keys("workout-data/female/18-25/"), trials)
}

func TestGet(t *testing.T) {
	fake := storagetest.New()
	fake.Set("user-data/links.json", []byte(`["a"]`))
	sink := New(fake, "sheiva-scrape", nil)

	data, err := sink.Get(context.Background(), "user-data/links.json")
	require.NoError(t, err)
	assert.Equal(t, `["a"]`, string(data))

	_, err = sink.Get(context.Background(), "missing.json")
	var sErr *Error
	assert.ErrorAs(t, err, &sErr)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestGetFailureIsNotNotFound(t *testing.T) {
	fake := storagetest.New()
	fake.Set("user-data/links.json", []byte(`["a"]`))
	fake.GetErr = errors.New("SlowDown: please reduce your request rate")
	sink := New(fake, "sheiva-scrape", nil)

	_, err := sink.Get(context.Background(), "user-data/links.json")
	var sErr *Error
	require.ErrorAs(t, err, &sErr)
	assert.Equal(t, "get", sErr.Op)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestListFiltersAndPaginatesLazily(t *testing.T) {
	fake := storagetest.New()
	for _, k := range []string{
		"user-data/user-workout-links/male/18-25.json",
		"user-data/user-workout-links/male/26-35.json",
		"user-data/user-workout-links/male/notes.txt",
		"user-data/user-workout-links/male/36-45.json",
		"user-data/user-workout-links/female/18-25.json",
		"workout-data/male/18-25/x.json",
	} {
		fake.Set(k, nil)
	}
	sink := New(fake, "sheiva-scrape", nil)
	prefix := "user-data/user-workout-links/male/"

	var keys []string
	for key, err := range sink.List(context.Background(), prefix, ".json") {
		require.NoError(t, err)
		keys = append(keys, key)
	}
	assert.Equal(t, []string{
		prefix + "18-25.json",
		prefix + "26-35.json",
		prefix + "36-45.json",
	}, keys)
	assert.Equal(t, 2, fake.Pages())

	// stopping early does not fetch further pages
	for range sink.List(context.Background(), prefix, ".json") {
		break
	}
	assert.Equal(t, 3, fake.Pages())

	// ranging again restarts from the first page
	var again []string
	for key, err := range sink.List(context.Background(), prefix, ".json") {
		require.NoError(t, err)
		again = append(again, key)
	}
	assert.Equal(t, keys, again)
}

func TestListYieldsPageError(t *testing.T) {
	fake := storagetest.New()
	fake.ListErr = assert.AnError
	for _, k := range []string{"a/1.json", "a/2.json", "a/3.json"} {
		fake.Set(k, nil)
	}

	var keys []string
	var listErr error
	for key, err := range New(fake, "b", nil).List(context.Background(), "a/", ".json") {
		if err != nil {
			listErr = err
			break
		}
		keys = append(keys, key)
	}

	assert.Len(t, keys, 2)
	assert.ErrorIs(t, listErr, assert.AnError)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "0b9a", Stem("workout-data/male/18-25/0b9a.json"))
	assert.Equal(t, "18-25", Stem("18-25.json"))
	assert.Equal(t, "plain", Stem("dir/plain"))
}
