package scheduler

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/hashicorp/go-multierror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/streamup/internal/extractor"
	"github.com/tanq16/streamup/internal/utils"
)

type offlineRoom struct{}

func (offlineRoom) Name() string { return "offline" }

func (offlineRoom) Matches(rawURL string) bool { return strings.HasPrefix(rawURL, "https://offline.example.com/") }

func (offlineRoom) Resolve(context.Context, string, *utils.HTTPClient) (*extractor.Site, error) {
	return nil, extractor.ErrOffline
}

type fakeArchiver struct {
	mu       sync.Mutex
	target   string
	uploaded []string
}

func (f *fakeArchiver) Upload(_ context.Context, streamer, localPath string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := streamer + "/" + filepath.Base(localPath)
	f.uploaded = append(f.uploaded, key)
	return key, nil
}

func TestRunRecordsArchivesAndAggregates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/live/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXTINF:1,\na.ts\n#EXTINF:1,\nb.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/live/a.ts", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "aaaa") })
	mux.HandleFunc("/live/b.ts", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "bbbb") })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	archiver := &fakeArchiver{}
	registry := extractor.NewRegistry(offlineRoom{}, extractor.DirectStream{})
	s := New(registry, 2, WithoutDisplay(), WithArchiver(func(_ context.Context, target string) (Archiver, error) {
		archiver.target = target
		return archiver, nil
	}))

	dir := t.TempDir()
	httpCfg := utils.HTTPClientConfig{Backoff: utils.Backoff{MaxAttempts: 1}}
	jobs := []utils.StreamJob{
		{ID: "1", Name: "hls", URL: srv.URL + "/live/index.m3u8", Template: "{title}", OutputDir: dir, Archive: "s3://bucket/live", HTTPClientConfig: httpCfg},
		{ID: "2", Name: "sleepy", URL: "https://offline.example.com/room", OutputDir: dir, HTTPClientConfig: httpCfg},
		{ID: "3", Name: "unknown", URL: "https://nowhere.example.com/page", OutputDir: dir, HTTPClientConfig: httpCfg},
	}
	err := s.Run(context.Background(), jobs)

	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 1)
	assert.ErrorIs(t, err, extractor.ErrNoExtractor)
	assert.Contains(t, err.Error(), "unknown")

	success, warnings, failures := s.Manager().Counts()
	assert.Equal(t, 1, success)
	assert.Equal(t, 1, warnings)
	assert.Equal(t, 1, failures)

	data, err := os.ReadFile(filepath.Join(dir, "hls", "index.ts"))
	require.NoError(t, err)
	assert.Equal(t, "aaaabbbb", string(data))
	assert.Equal(t, "s3://bucket/live", archiver.target)
	assert.Equal(t, []string{"hls/index.ts"}, archiver.uploaded)
}

func TestRunCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := New(extractor.DefaultRegistry(), 1, WithoutDisplay())
	err := s.Run(ctx, []utils.StreamJob{{Name: "a", URL: "https://live.bilibili.com/1"}})
	assert.ErrorIs(t, err, context.Canceled)
}
