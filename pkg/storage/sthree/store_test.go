// Copyright © 2018 One Concern

package sthree

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/storage"
	"github.com/oneconcern/refdb/pkg/storage/status"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is a tiny in-memory S3 subset, enough to exercise the store without network access.
type fakeS3 struct {
	mu    sync.Mutex
	state map[string][]byte
}

func emptyResponse(code int) *http.Response {
	return &http.Response{StatusCode: code, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}
}

func xmlResponse(code int, body string) *http.Response {
	return &http.Response{
		StatusCode: code,
		Body:       io.NopCloser(strings.NewReader(body)),
		Header:     http.Header{"Content-Type": {"application/xml"}},
	}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	query := req.URL.Query()

	if req.Method == http.MethodGet && query.Get("list-type") == "2" {
		return f.list(query.Get("prefix"), query.Get("start-after"), query.Get("max-keys")), nil
	}

	switch req.Method {
	case http.MethodHead:
		body, ok := f.state[key]
		if !ok {
			return emptyResponse(http.StatusNotFound), nil
		}
		resp := emptyResponse(http.StatusOK)
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		resp.Header.Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		return resp, nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		if _, exists := f.state[key]; exists && req.Header.Get("If-None-Match") == "*" {
			return xmlResponse(http.StatusPreconditionFailed,
				"<Error><Code>PreconditionFailed</Code><Message>At least one of the pre-conditions you specified did not hold</Message></Error>"), nil
		}
		f.state[key] = body
		resp := emptyResponse(http.StatusOK)
		resp.Header.Set("ETag", `"etag"`)
		return resp, nil
	case http.MethodGet:
		body, ok := f.state[key]
		if !ok {
			return xmlResponse(http.StatusNotFound,
				"<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message></Error>"), nil
		}
		resp := emptyResponse(http.StatusOK)
		resp.Body = io.NopCloser(bytes.NewReader(body))
		resp.Header.Set("Content-Length", strconv.Itoa(len(body)))
		return resp, nil
	case http.MethodDelete:
		delete(f.state, key)
		return emptyResponse(http.StatusNoContent), nil
	}
	return emptyResponse(http.StatusNotImplemented), nil
}

func (f *fakeS3) list(prefix, startAfter, maxKeys string) *http.Response {
	limit := PageSize
	if n, err := strconv.Atoi(maxKeys); err == nil && n > 0 {
		limit = n
	}
	var keys []string
	for k := range f.state {
		if strings.HasPrefix(k, prefix) && k > startAfter {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	truncated := len(keys) > limit
	if truncated {
		keys = keys[:limit]
	}

	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&b, "<IsTruncated>%t</IsTruncated><KeyCount>%d</KeyCount>", truncated, len(keys))
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.state[k]))
	}
	if truncated {
		fmt.Fprintf(&b, "<StartAfter>%s</StartAfter>", keys[len(keys)-1])
	}
	b.WriteString("</ListBucketResult>")
	return xmlResponse(http.StatusOK, b.String())
}

// decodeChunked decodes a single-chunk aws-chunked payload: <hex>\r\n<body>\r\n0\r\n...
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 {
		return nil, false
	}
	size, err := strconv.ParseInt(strings.SplitN(parts[0], ";", 2)[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size || !strings.HasPrefix(parts[2], "0") {
		return nil, false
	}
	return []byte(parts[1]), true
}

func newTestStore(t *testing.T) (storage.Store, *fakeS3) {
	fake := &fakeS3{state: make(map[string][]byte)}
	store, err := New(context.Background(),
		Bucket("refdb-test"),
		Endpoint("https://s3.mock.local"),
		PathStyle(true),
		StaticCredentials("AKIA", "SECRET"),
		HTTPClient(&http.Client{Transport: fake}),
	)
	require.NoError(t, err)
	return store, fake
}

func TestNewRequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Region("eu-west-1"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrInvalidResource))
}

func TestPutGetHas(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	assert.Equal(t, "s3@refdb-test", store.String())

	has, err := store.Has(ctx, "objects/ab/cdef")
	require.NoError(t, err)
	assert.False(t, has)

	_, err = store.Get(ctx, "objects/ab/cdef")
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrNotExists))

	require.NoError(t, store.Put(ctx, "objects/ab/cdef", strings.NewReader("blob 3\x00abc"), storage.NoOverWrite))

	has, err = store.Has(ctx, "objects/ab/cdef")
	require.NoError(t, err)
	assert.True(t, has)

	b, err := storage.ReadAll(ctx, store, "objects/ab/cdef")
	require.NoError(t, err)
	assert.Equal(t, "blob 3\x00abc", string(b))
}

func TestPutExclusive(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestStore(t)

	require.NoError(t, store.Put(ctx, "journal/1", strings.NewReader("one"), storage.NoOverWrite))
	err := store.Put(ctx, "journal/1", strings.NewReader("two"), storage.NoOverWrite)
	require.Error(t, err)
	assert.True(t, errors.Is(err, status.ErrExists))
	assert.Equal(t, "one", string(fake.state["journal/1"]))

	require.NoError(t, store.Put(ctx, "journal/1", strings.NewReader("three"), storage.OverWrite))
	assert.Equal(t, "three", string(fake.state["journal/1"]))
}

func TestToSentinelErrors(t *testing.T) {
	err := toSentinelErrors(fmt.Errorf("wrapped: %w", errors.New("boom")))
	assert.True(t, errors.Is(err, status.ErrStorageAPI))
	assert.NoError(t, toSentinelErrors(nil))
}

func TestKeysPrefix(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)
	for _, k := range []string{"objects/ab/1", "objects/ab/2", "objects/cd/3", "journal/1"} {
		require.NoError(t, store.Put(ctx, k, strings.NewReader(k), storage.NoOverWrite))
	}

	keys, next, err := store.KeysPrefix(ctx, "", "objects/", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"objects/ab/1", "objects/ab/2"}, keys)
	assert.Equal(t, "objects/ab/2", next)

	keys, next, err = store.KeysPrefix(ctx, next, "objects/", "", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"objects/cd/3"}, keys)
	assert.Empty(t, next)

	all, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"journal/1", "objects/ab/1", "objects/ab/2", "objects/cd/3"}, all)
}

func TestDeleteClear(t *testing.T) {
	ctx := context.Background()
	store, fake := newTestStore(t)
	for _, k := range []string{"a", "b", "c"} {
		require.NoError(t, store.Put(ctx, k, strings.NewReader(k), storage.OverWrite))
	}

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "a"))
	assert.Len(t, fake.state, 2)

	require.NoError(t, store.Clear(ctx))
	assert.Empty(t, fake.state)
}
