package recorder

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tanq16/streamup/internal/utils"
)

func fixedClock(start time.Time) func() time.Time {
	current := start
	return func() time.Time {
		current = current.Add(time.Second)
		return current
	}
}

func encodeTag(kind byte, ts uint32, data []byte) []byte {
	var buf bytes.Buffer
	writeTag(&buf, &flvTag{kind: kind, timestamp: ts, data: data}, ts)
	return buf.Bytes()
}

func TestSegmentableDue(t *testing.T) {
	assert.False(t, Segmentable{}.Due(time.Hour, 1<<40))
	assert.True(t, Segmentable{Duration: time.Minute}.Due(time.Minute, 0))
	assert.False(t, Segmentable{Duration: time.Minute}.Due(59*time.Second, 0))
	assert.True(t, Segmentable{Size: 100}.Due(0, 100))
	assert.False(t, Segmentable{Size: 100}.Due(0, 99))
}

func TestLifecycleFileNaming(t *testing.T) {
	dir := t.TempDir()
	file := NewLifecycleFile(dir, "{title}_%Y-%m-%d_%H-%M-%S")
	file.SetTitle("late/night: stream")
	assert.Equal(t, "late_night_ stream_%Y-%m-%d_%H-%M-%S", file.Template())

	name := file.Name(time.Date(2024, 3, 5, 7, 8, 9, 0, time.UTC))
	assert.Equal(t, filepath.Join(dir, "late_night_ stream_2024-03-05_07-08-09"), name)
}

func TestLifecycleFileRotation(t *testing.T) {
	dir := t.TempDir()
	file := NewLifecycleFile(dir, "rec_%H%M%S")
	file.now = fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	var closed []string
	file.OnClose(func(path string) { closed = append(closed, path) })

	_, err := file.Write([]byte("first"))
	require.NoError(t, err)
	require.NoError(t, file.Create())
	require.NoError(t, file.Create()) // empty file is dropped
	_, err = file.Write([]byte("second"))
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.NoError(t, file.Close())

	require.Len(t, file.Files(), 2)
	assert.Equal(t, file.Files(), closed)
	data, err := os.ReadFile(file.Files()[0])
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	assert.True(t, strings.HasSuffix(file.Files()[1], ".ts"))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestParseFLVHeader(t *testing.T) {
	h, err := ParseFLVHeader([]byte{'F', 'L', 'V', 1, 0x05, 0, 0, 0, 9})
	require.NoError(t, err)
	assert.True(t, h.HasAudio)
	assert.True(t, h.HasVideo)
	assert.Equal(t, uint32(9), h.DataOffset)

	_, err = ParseFLVHeader([]byte("<html>..."))
	assert.ErrorIs(t, err, ErrBadSignature)
	_, err = ParseFLVHeader([]byte("FLV"))
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestFLVDecoderRollsOnKeyframes(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0, 0, 0, 0})
	stream.Write(encodeTag(tagScript, 0, bytes.Repeat([]byte{'m'}, 10)))
	stream.Write(encodeTag(tagVideo, 0, []byte{0x17, 0x00, 0, 0, 0}))
	stream.Write(encodeTag(tagVideo, 0, append([]byte{0x17, 0x01}, bytes.Repeat([]byte{'k'}, 98)...)))
	stream.Write(encodeTag(tagVideo, 40, append([]byte{0x27, 0x01}, bytes.Repeat([]byte{'i'}, 98)...)))
	stream.Write(encodeTag(tagVideo, 80, append([]byte{0x17, 0x01}, bytes.Repeat([]byte{'K'}, 98)...)))
	stream.Write(encodeTag(tagVideo, 120, append([]byte{0x27, 0x01}, bytes.Repeat([]byte{'I'}, 98)...)))

	file := NewLifecycleFile(t.TempDir(), "rec_%H%M%S")
	file.now = fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
	conn := NewConnectionFromReader(io.NopCloser(&stream))

	err := FLVDecoder{}.Decode(context.Background(), conn, file, Segmentable{Size: 200})
	require.NoError(t, err)
	require.NoError(t, file.Close())
	require.Len(t, file.Files(), 2)

	second, err := os.ReadFile(file.Files()[1])
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(second, []byte("FLV")))
	assert.Contains(t, string(second), "mmmmmmmmmm")
	assert.Contains(t, string(second), "KKKK")
	assert.NotContains(t, string(second), "kkkk")

	// the first frame of a new file starts at timestamp zero
	keyframe := encodeTag(tagVideo, 0, append([]byte{0x17, 0x01}, bytes.Repeat([]byte{'K'}, 98)...))
	assert.True(t, bytes.Contains(second, keyframe))
}

func TestFLVDecoderRejectsUnknownTag(t *testing.T) {
	var stream bytes.Buffer
	stream.Write([]byte{0, 0, 0, 0})
	stream.Write(encodeTag(0x1f, 0, []byte{1, 2, 3}))
	file := NewLifecycleFile(t.TempDir(), "rec")
	err := FLVDecoder{}.Decode(context.Background(), NewConnectionFromReader(io.NopCloser(&stream)), file, Segmentable{})
	var perr *ProtocolError
	assert.ErrorAs(t, err, &perr)
}

type failingReader struct {
	err error
}

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestFLVDecoderStreamEnds(t *testing.T) {
	errReset := errors.New("connection reset by peer")
	keyframe := encodeTag(tagVideo, 0, []byte{0x17, 0x01, 'k'})
	tests := []struct {
		name    string
		tail    io.Reader
		wantErr error
	}{
		{name: "clean end", tail: bytes.NewReader(nil)},
		{name: "cut mid tag", tail: bytes.NewReader(keyframe[:5])},
		{name: "transport error between tags", tail: failingReader{err: errReset}, wantErr: errReset},
		{name: "transport error mid tag", tail: io.MultiReader(bytes.NewReader(keyframe[:5]), failingReader{err: errReset}), wantErr: errReset},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stream := io.MultiReader(bytes.NewReader(append([]byte{0, 0, 0, 0}, keyframe...)), tt.tail)
			file := NewLifecycleFile(t.TempDir(), "rec")
			err := FLVDecoder{}.Decode(context.Background(), NewConnectionFromReader(io.NopCloser(stream)), file, Segmentable{})
			require.NoError(t, file.Close())
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				var perr *ProtocolError
				assert.False(t, errors.As(err, &perr))
			} else {
				require.NoError(t, err)
			}
			// the complete tag is on disk either way
			require.Len(t, file.Files(), 1)
			data, err := os.ReadFile(file.Files()[0])
			require.NoError(t, err)
			assert.True(t, bytes.HasSuffix(data, keyframe))
		})
	}
}

func TestParsePlaylist(t *testing.T) {
	master := "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\nhigh/index.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=500\nlow/index.m3u8\n"
	_, variants, err := ParsePlaylist(master, "https://cdn.example.com/live/master.m3u8")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"https://cdn.example.com/live/high/index.m3u8",
		"https://cdn.example.com/live/low/index.m3u8",
	}, variants)

	media := "#EXTM3U\n#EXT-X-TARGETDURATION:4\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:4.0,\nseg1.ts\n#EXTINF:4.0,\nhttps://other.example.com/seg2.ts\n#EXT-X-ENDLIST\n"
	playlist, variants, err := ParsePlaylist(media, "https://cdn.example.com/live/index.m3u8")
	require.NoError(t, err)
	assert.Empty(t, variants)
	assert.Equal(t, 4*time.Second, playlist.TargetDuration)
	assert.Equal(t, "https://cdn.example.com/live/init.mp4", playlist.InitSegment)
	assert.Equal(t, []string{"https://cdn.example.com/live/seg1.ts", "https://other.example.com/seg2.ts"}, playlist.Segments)
	assert.True(t, playlist.Ended)
}

func TestHLSFetcherAppendsSegments(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/live/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXTINF:1,\nseg1.ts\n#EXTINF:1,\nseg2.ts\n#EXT-X-ENDLIST\n")
	})
	mux.HandleFunc("/live/seg1.ts", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "first-") })
	mux.HandleFunc("/live/seg2.ts", func(w http.ResponseWriter, r *http.Request) { fmt.Fprint(w, "second") })
	srv := httptest.NewServer(mux)
	defer srv.Close()

	file := NewLifecycleFile(t.TempDir(), "hls")
	client := utils.NewHTTPClient(utils.HTTPClientConfig{Backoff: utils.Backoff{MaxAttempts: 1}})
	err := HLSFetcher{PollInterval: time.Millisecond}.Fetch(context.Background(), srv.URL+"/live/index.m3u8", client, file, Segmentable{})
	require.NoError(t, err)
	require.NoError(t, file.Close())

	require.Len(t, file.Files(), 1)
	data, err := os.ReadFile(file.Files()[0])
	require.NoError(t, err)
	assert.Equal(t, "first-second", string(data))
}

func TestHLSFetcherLive(t *testing.T) {
	const (
		master = "#EXTM3U\n#EXT-X-STREAM-INF:BANDWIDTH=1000\nindex.m3u8\n#EXT-X-STREAM-INF:BANDWIDTH=500\nlow.m3u8\n"
		seg1   = "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXTINF:1,\nseg1.ts\n"
		seg12  = "#EXTM3U\n#EXT-X-TARGETDURATION:1\n#EXTINF:1,\nseg1.ts\n#EXTINF:1,\nseg2.ts\n"
	)
	tests := []struct {
		name      string
		entry     string
		playlists []string
		seg       Segmentable
		wantFiles []string
		wantPolls int32
		wantErr   string
	}{
		{
			name:      "appends new segments across refreshes",
			entry:     "index.m3u8",
			playlists: []string{seg1, seg12, "#EXTM3U\n#EXTINF:1,\nseg2.ts\n#EXTINF:1,\nseg3.ts\n#EXT-X-ENDLIST\n"},
			wantFiles: []string{"abc"},
			wantPolls: 3,
		},
		{
			name:      "stops after stale polls",
			entry:     "index.m3u8",
			playlists: []string{seg1},
			wantFiles: []string{"a"},
			wantPolls: 1 + maxStalePolls,
		},
		{
			name:      "rolls files and repeats init segment",
			entry:     "index.m3u8",
			playlists: []string{"#EXTM3U\n#EXT-X-MAP:URI=\"init.mp4\"\n#EXTINF:1,\nseg1.ts\n#EXTINF:1,\nseg2.ts\n#EXT-X-ENDLIST\n"},
			seg:       Segmentable{Size: 1},
			wantFiles: []string{"Ia", "Ib"},
			wantPolls: 1,
		},
		{
			name:      "follows first variant of master playlist",
			entry:     "master.m3u8",
			playlists: []string{seg12 + "#EXT-X-ENDLIST\n"},
			wantFiles: []string{"ab"},
			wantPolls: 1,
		},
		{
			name:      "segment fetch error",
			entry:     "index.m3u8",
			playlists: []string{"#EXTM3U\n#EXTINF:1,\nseg1.ts\n#EXTINF:1,\nmissing.ts\n#EXT-X-ENDLIST\n"},
			wantFiles: []string{"a"},
			wantPolls: 1,
			wantErr:   "error downloading segment",
		},
	}
	segments := map[string]string{"seg1.ts": "a", "seg2.ts": "b", "seg3.ts": "c", "init.mp4": "I"}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var polls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				name := strings.TrimPrefix(r.URL.Path, "/live/")
				switch name {
				case "master.m3u8":
					fmt.Fprint(w, master)
				case "index.m3u8":
					n := int(polls.Add(1))
					fmt.Fprint(w, tt.playlists[min(n, len(tt.playlists))-1])
				default:
					body, ok := segments[name]
					if !ok {
						w.WriteHeader(http.StatusNotFound)
						return
					}
					fmt.Fprint(w, body)
				}
			}))
			defer srv.Close()

			file := NewLifecycleFile(t.TempDir(), "rec_%H%M%S")
			file.now = fixedClock(time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC))
			client := utils.NewHTTPClient(utils.HTTPClientConfig{Backoff: utils.Backoff{MaxAttempts: 1}})
			err := HLSFetcher{PollInterval: time.Millisecond}.Fetch(context.Background(), srv.URL+"/live/"+tt.entry, client, file, tt.seg)
			require.NoError(t, file.Close())
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
			} else {
				require.NoError(t, err)
			}

			assert.Equal(t, tt.wantPolls, polls.Load())
			var got []string
			for _, path := range file.Files() {
				data, err := os.ReadFile(path)
				require.NoError(t, err)
				got = append(got, string(data))
			}
			assert.Equal(t, tt.wantFiles, got)
		})
	}
}
