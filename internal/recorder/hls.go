package recorder

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamup/internal/utils"
)

const maxStalePolls = 5

// Fetcher records a segmented stream addressed by a playlist URL.
type Fetcher interface {
	Fetch(ctx context.Context, playlistURL string, client *utils.HTTPClient, file *LifecycleFile, seg Segmentable) error
}

type Playlist struct {
	Segments       []string
	InitSegment    string
	TargetDuration time.Duration
	Ended          bool
}

// HLSFetcher polls a live media playlist and appends every new segment to
// the sink, rolling files between segments when the policy is due.
type HLSFetcher struct {
	// PollInterval overrides the playlist target duration when set.
	PollInterval time.Duration
}

func (h HLSFetcher) Fetch(ctx context.Context, playlistURL string, client *utils.HTTPClient, file *LifecycleFile, seg Segmentable) error {
	seen := make(map[string]bool)
	stale := 0
	var initSegment []byte
	var initURL string
	var total int

	for {
		playlist, err := fetchPlaylist(ctx, playlistURL, client)
		if err != nil {
			return err
		}
		if playlist.InitSegment != "" && playlist.InitSegment != initURL {
			initSegment, err = client.GetBody(ctx, playlist.InitSegment)
			if err != nil {
				return fmt.Errorf("error fetching init segment: %w", err)
			}
			initURL = playlist.InitSegment
		}

		fresh := 0
		current := make(map[string]bool, len(playlist.Segments))
		for _, segmentURL := range playlist.Segments {
			current[segmentURL] = true
			if seen[segmentURL] {
				continue
			}
			seen[segmentURL] = true
			if !file.Open() || seg.Due(file.Elapsed(), file.Written()) {
				if err := file.Create(); err != nil {
					return err
				}
				if initSegment != nil {
					if _, err := file.Write(initSegment); err != nil {
						return err
					}
				}
			}
			if err := downloadSegment(ctx, segmentURL, client, file); err != nil {
				return err
			}
			fresh++
			total++
		}
		for segmentURL := range seen {
			if !current[segmentURL] {
				delete(seen, segmentURL)
			}
		}
		log.Debug().Str("op", "recorder/hls").Msgf("Playlist refresh wrote %d new segments (%d total)", fresh, total)

		if playlist.Ended {
			log.Info().Str("op", "recorder/hls").Msgf("Playlist ended after %d segments", total)
			return file.Flush()
		}
		if fresh == 0 {
			stale++
			if stale >= maxStalePolls {
				log.Info().Str("op", "recorder/hls").Msgf("No new segments after %d polls, treating stream as ended", stale)
				return file.Flush()
			}
		} else {
			stale = 0
		}

		wait := h.PollInterval
		if wait == 0 {
			wait = playlist.TargetDuration
		}
		if wait == 0 {
			wait = 2 * time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

func fetchPlaylist(ctx context.Context, manifestURL string, client *utils.HTTPClient) (*Playlist, error) {
	content, err := client.GetBody(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("error fetching m3u8 manifest: %w", err)
	}
	playlist, variants, err := ParsePlaylist(string(content), manifestURL)
	if err != nil {
		return nil, err
	}
	// For master playlist, follow the first variant (highest quality)
	if len(variants) > 0 {
		log.Debug().Str("op", "recorder/hls").Msgf("Detected master playlist, fetching sub-playlist: %s", variants[0])
		return fetchPlaylist(ctx, variants[0], client)
	}
	return playlist, nil
}

// ParsePlaylist parses a media playlist. For a master playlist it returns
// the variant URLs instead of segments.
func ParsePlaylist(content, manifestURL string) (*Playlist, []string, error) {
	baseURL, err := url.Parse(manifestURL)
	if err != nil {
		return nil, nil, fmt.Errorf("error parsing manifest URL: %v", err)
	}
	playlist := &Playlist{}
	var variants []string
	isMaster := false
	scanner := bufio.NewScanner(strings.NewReader(content))
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXT-X-MAP:"):
			if idx := strings.Index(line, `URI="`); idx != -1 {
				uriStart := idx + 5
				if uriEnd := strings.Index(line[uriStart:], `"`); uriEnd != -1 {
					playlist.InitSegment, err = resolveURL(baseURL, line[uriStart:uriStart+uriEnd])
					if err != nil {
						return nil, nil, fmt.Errorf("error resolving init segment URL: %v", err)
					}
				}
			}
		case strings.HasPrefix(line, "#EXT-X-TARGETDURATION:"):
			if secs, err := strconv.ParseFloat(strings.TrimPrefix(line, "#EXT-X-TARGETDURATION:"), 64); err == nil {
				playlist.TargetDuration = time.Duration(secs * float64(time.Second))
			}
		case strings.HasPrefix(line, "#EXT-X-ENDLIST"):
			playlist.Ended = true
		case strings.HasPrefix(line, "#EXT-X-STREAM-INF"):
			isMaster = true
		case strings.HasPrefix(line, "#"):
		default:
			resolved, err := resolveURL(baseURL, line)
			if err != nil {
				return nil, nil, fmt.Errorf("error resolving URL: %v", err)
			}
			if isMaster {
				variants = append(variants, resolved)
			} else {
				playlist.Segments = append(playlist.Segments, resolved)
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, nil, fmt.Errorf("error scanning m3u8 content: %v", err)
	}
	return playlist, variants, nil
}

func resolveURL(baseURL *url.URL, urlStr string) (string, error) {
	if strings.HasPrefix(urlStr, "http://") || strings.HasPrefix(urlStr, "https://") {
		return urlStr, nil
	}
	relURL, err := url.Parse(urlStr)
	if err != nil {
		return "", err
	}
	return baseURL.ResolveReference(relURL).String(), nil
}

func downloadSegment(ctx context.Context, segmentURL string, client *utils.HTTPClient, w io.Writer) error {
	resp, err := client.Retryable(ctx, segmentURL)
	if err != nil {
		return fmt.Errorf("error downloading segment: %w", err)
	}
	defer resp.Body.Close()
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("error writing segment: %w", err)
	}
	return nil
}
