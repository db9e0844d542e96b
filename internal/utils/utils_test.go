package utils

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastBackoff = Backoff{MaxAttempts: 3, BaseDelay: time.Millisecond, Multiplier: 2}

func TestBackoffDelay(t *testing.T) {
	b := Backoff{BaseDelay: time.Second, Multiplier: 2, MaxDelay: 5 * time.Second}
	assert.Equal(t, time.Second, b.Delay(0))
	assert.Equal(t, 2*time.Second, b.Delay(1))
	assert.Equal(t, 4*time.Second, b.Delay(2))
	assert.Equal(t, 5*time.Second, b.Delay(3))
}

func TestRetry(t *testing.T) {
	t.Run("succeeds after transient failures", func(t *testing.T) {
		calls := 0
		err := Retry(context.Background(), fastBackoff, func(attempt int) error {
			calls++
			if attempt < 2 {
				return errors.New("flaky")
			}
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
	})

	t.Run("permanent error stops immediately", func(t *testing.T) {
		sentinel := errors.New("bad request")
		calls := 0
		err := Retry(context.Background(), fastBackoff, func(int) error {
			calls++
			return Permanent(sentinel)
		})
		assert.Same(t, sentinel, err)
		assert.Equal(t, 1, calls)
	})

	t.Run("exhaustion keeps the last error", func(t *testing.T) {
		last := errors.New("still down")
		err := Retry(context.Background(), fastBackoff, func(int) error { return last })
		assert.ErrorIs(t, err, ErrRetriesExhausted)
		assert.ErrorIs(t, err, last)
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		err := Retry(ctx, Backoff{MaxAttempts: 3, BaseDelay: time.Hour}, func(int) error { return errors.New("x") })
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestRetryableStatusHandling(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/flaky":
			if hits.Add(1) == 1 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			w.Write([]byte("ok"))
		case "/missing":
			hits.Add(1)
			w.WriteHeader(http.StatusNotFound)
		case "/gzip":
			assert.Equal(t, ToolUserAgent, r.Header.Get("User-Agent"))
			assert.Equal(t, "yes", r.Header.Get("X-Test"))
			w.Header().Set("Content-Encoding", "gzip")
			zw := gzip.NewWriter(w)
			zw.Write([]byte("compressed"))
			zw.Close()
		}
	}))
	defer srv.Close()
	client := NewHTTPClient(HTTPClientConfig{Backoff: fastBackoff, Headers: map[string]string{"X-Test": "yes"}})

	body, err := client.GetBody(context.Background(), srv.URL+"/flaky")
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body))
	assert.Equal(t, int32(2), hits.Load())

	hits.Store(0)
	_, err = client.GetBody(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, int32(1), hits.Load())

	body, err = client.GetBody(context.Background(), srv.URL+"/gzip")
	require.NoError(t, err)
	assert.Equal(t, "compressed", string(body))
}

func TestIdleTimeoutOnlyCutsStalledBodies(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/steady":
			for range 6 {
				w.Write([]byte("x"))
				w.(http.Flusher).Flush()
				time.Sleep(40 * time.Millisecond)
			}
		case "/stalled":
			w.Write([]byte("x"))
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
			case <-release:
			}
		}
	}))
	defer srv.Close()
	defer close(release)
	client := NewHTTPClient(HTTPClientConfig{Timeout: 100 * time.Millisecond, Backoff: Backoff{MaxAttempts: 1}})

	body, err := client.GetBody(context.Background(), srv.URL+"/steady")
	require.NoError(t, err)
	assert.Equal(t, "xxxxxx", string(body))

	_, err = client.GetBody(context.Background(), srv.URL+"/stalled")
	assert.ErrorIs(t, err, ErrIdleTimeout)
}

func TestCorruptGzipBodyFails(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "gzip")
		w.Write([]byte("not gzip at all"))
	}))
	defer srv.Close()
	client := NewHTTPClient(HTTPClientConfig{Backoff: Backoff{MaxAttempts: 1}})

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	resp, err := client.Do(req)
	assert.Nil(t, resp)
	assert.ErrorContains(t, err, "error decoding gzip body")
}

func TestWithHeadersDoesNotMutateParent(t *testing.T) {
	parent := NewHTTPClient(HTTPClientConfig{Headers: map[string]string{"A": "1"}})
	child := parent.WithHeaders(map[string]string{"B": "2"})
	assert.Equal(t, "", parent.Header("B"))
	assert.Equal(t, "1", child.Header("A"))
	assert.Equal(t, "2", child.Header("B"))
}

func TestIsTransientStatus(t *testing.T) {
	for _, code := range []int{500, 502, 503, 429, 408} {
		assert.True(t, IsTransientStatus(code), code)
	}
	for _, code := range []int{200, 400, 403, 404} {
		assert.False(t, IsTransientStatus(code), code)
	}
}

func TestRenewOutputPath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rec.flv")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0644))
	renewed := RenewOutputPath(path)
	assert.NotEqual(t, path, renewed)
	assert.Equal(t, ".flv", filepath.Ext(renewed))
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "index", FileStem("/live/room/index.m3u8"))
	assert.Equal(t, "clip", FileStem("clip.flv"))
	assert.Equal(t, "archive.tar", FileStem("archive.tar.gz"))
}

func TestFormatBytes(t *testing.T) {
	assert.Equal(t, "512 B", FormatBytes(512))
	assert.True(t, bytes.HasPrefix([]byte(FormatBytes(10485760)), []byte("10.00")))
}
