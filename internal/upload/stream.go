package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync/atomic"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamup/internal/utils"
	"golang.org/x/sync/errgroup"
)

// Chunk is one element of an upload stream. Len bytes of Data are sent.
type Chunk struct {
	Data []byte
	Len  int
	Err  error
}

func ChunkCount(totalSize int64) int64 {
	if totalSize <= 0 {
		return 0
	}
	return (totalSize + ChunkSize - 1) / ChunkSize
}

// ReadChunks splits r into size-byte chunks. The channel is closed at EOF,
// after a read error (sent as Chunk.Err) or when ctx is done.
func ReadChunks(ctx context.Context, r io.Reader, size int) <-chan Chunk {
	ch := make(chan Chunk)
	go func() {
		defer close(ch)
		for {
			buf := make([]byte, size)
			n, err := io.ReadFull(r, buf)
			if n > 0 {
				select {
				case ch <- Chunk{Data: buf[:n], Len: n}:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return
			}
			if err != nil {
				select {
				case ch <- Chunk{Err: err}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return ch
}

// UploadStream uploads every chunk as a part numbered by its position in the
// stream, with at most limit parts in flight. The first fatal error stops
// dispatching; parts already in flight are allowed to finish. The returned
// parts are in completion order.
func (s *Session) UploadStream(ctx context.Context, chunks <-chan Chunk, totalSize int64, limit int, internal bool) ([]Part, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	target := s.bucket.URL
	if internal {
		target = s.bucket.InternalURL()
	}
	log.Info().Str("op", "upload/stream").Msgf("Uploading %s in %d parts with %d workers", utils.FormatBytes(uint64(max(totalSize, 0))), ChunkCount(totalSize), limit)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	results := make(chan Part, limit)
	var parts []Part
	collected := make(chan struct{})
	go func() {
		defer close(collected)
		for part := range results {
			parts = append(parts, part)
		}
	}()

	var uploaded atomic.Int64
	index := 0
dispatch:
	for {
		select {
		case <-gctx.Done():
			break dispatch
		case chunk, ok := <-chunks:
			if !ok {
				break dispatch
			}
			index++
			partNumber := index
			if chunk.Err != nil {
				g.Go(func() error {
					return fmt.Errorf("error reading chunk %d: %w", partNumber, chunk.Err)
				})
				break dispatch
			}
			g.Go(func() error {
				if gctx.Err() != nil {
					return nil
				}
				part, err := s.uploadPart(ctx, gctx, target, partNumber, chunk.Data[:chunk.Len])
				if err != nil {
					log.Error().Str("op", "upload/stream").Int("part", partNumber).Err(err).Msg("Part failed")
					return err
				}
				results <- part
				done := uploaded.Add(int64(chunk.Len))
				if s.progress != nil {
					s.progress(done, totalSize)
				}
				log.Debug().Str("op", "upload/stream").Msgf("Part %d done (%s)", partNumber, utils.FormatBytes(uint64(done)))
				return nil
			})
		}
	}
	err := g.Wait()
	close(results)
	<-collected
	if err != nil {
		return nil, err
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	log.Info().Str("op", "upload/stream").Msgf("Uploaded %d parts", len(parts))
	return parts, nil
}

// maxErrorBody limits how much of a failed part response is kept.
const maxErrorBody = 64 << 10

// uploadPart sends one part. Requests run on ctx so a part in flight is not
// cut off by another part failing; retries stop once stop is done.
func (s *Session) uploadPart(ctx, stop context.Context, target string, partNumber int, data []byte) (Part, error) {
	query := url.Values{}
	query.Set("uploadId", s.uploadID)
	query.Set("partNumber", strconv.Itoa(partNumber))
	partURL := target + "?" + query.Encode()

	var status int
	var etag string
	var body []byte
	err := utils.Retry(stop, s.backoff, func(attempt int) error {
		status, body = 0, nil
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, partURL, bytes.NewReader(data))
		if err != nil {
			return utils.Permanent(err)
		}
		req.ContentLength = int64(len(data))
		req.Header.Set("Authorization", s.bucket.PutAuth)
		resp, err := s.client.Do(req)
		if err != nil {
			log.Debug().Str("op", "upload/part").Int("part", partNumber).Int("attempt", attempt).Msgf("PUT failed: %v", err)
			return err
		}
		defer resp.Body.Close()
		if utils.IsTransientStatus(resp.StatusCode) {
			status = resp.StatusCode
			body, _ = io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
			return fmt.Errorf("server returned status code %d", resp.StatusCode)
		}
		respBody, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		status, etag, body = resp.StatusCode, resp.Header.Get("Etag"), respBody
		return nil
	})
	if err != nil {
		if errors.Is(err, context.Canceled) && stop.Err() != nil && ctx.Err() == nil {
			// another part failed first; its error is the one reported
			return Part{}, err
		}
		return Part{}, &ChunkUploadError{Part: partNumber, Status: status, Body: string(body), Err: err}
	}
	if !success(status) {
		return Part{}, &ChunkUploadError{Part: partNumber, Status: status, Body: string(body)}
	}
	if etag == "" {
		return Part{}, &ChunkUploadError{Part: partNumber, Status: status, Body: string(body), Err: ErrMissingETag}
	}
	return Part{Number: partNumber, ETag: etag}, nil
}

// UploadFile streams the file at path through UploadStream.
func (s *Session) UploadFile(ctx context.Context, path string, limit int, internal bool) ([]Part, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening %s: %v", path, err)
	}
	defer file.Close()
	info, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %v", path, err)
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	return s.UploadStream(ctx, ReadChunks(ctx, file, ChunkSize), info.Size(), limit, internal)
}

// Publish uploads the file at path and finalizes the session.
func (s *Session) Publish(ctx context.Context, path string, limit int, internal bool) (*Video, error) {
	parts, err := s.UploadFile(ctx, path, limit, internal)
	if err != nil {
		return nil, err
	}
	return s.Merge(ctx, parts)
}
