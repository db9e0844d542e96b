package upload

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamup/internal/utils"
)

const (
	ChunkSize    = 10485760
	DefaultLimit = 3
	MaxRetries   = 5
	Timeout      = 300 * time.Second
)

var DefaultBackoff = utils.Backoff{
	MaxAttempts: MaxRetries + 1,
	BaseDelay:   time.Second,
	Multiplier:  2,
	MaxDelay:    30 * time.Second,
}

// Session is one multipart upload against one bucket. A session has exactly
// one upload id and may be merged once.
type Session struct {
	client   *utils.HTTPClient
	backoff  utils.Backoff
	bucket   Bucket
	uploadID string
	progress func(uploaded, total int64)
	merged   atomic.Bool
}

type Option func(*Session)

func WithBackoff(b utils.Backoff) Option {
	return func(s *Session) { s.backoff = b }
}

func WithProgress(fn func(uploaded, total int64)) Option {
	return func(s *Session) { s.progress = fn }
}

func WithHTTPClientConfig(cfg utils.HTTPClientConfig) Option {
	return func(s *Session) { s.client = utils.NewHTTPClient(cfg) }
}

// Open builds the session's client and initializes the multipart upload.
func Open(ctx context.Context, bucket Bucket, opts ...Option) (*Session, error) {
	if err := bucket.Validate(); err != nil {
		return nil, err
	}
	s := &Session{
		backoff: DefaultBackoff,
		bucket:  bucket,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = utils.NewHTTPClient(utils.HTTPClientConfig{
			Timeout:        Timeout,
			RequestTimeout: Timeout,
			UserAgent:      utils.BrowserUserAgent,
		})
	}
	uploadID, err := s.initUpload(ctx)
	if err != nil {
		return nil, err
	}
	s.uploadID = uploadID
	log.Info().Str("op", "upload/session").Msgf("Opened upload session %s for %s", uploadID, bucket.BiliFilename)
	return s, nil
}

func (s *Session) UploadID() string {
	return s.uploadID
}

func (s *Session) initUpload(ctx context.Context) (string, error) {
	status, body, err := s.post(ctx, s.bucket.URL+"?uploads&output=json", map[string]string{
		"Authorization": s.bucket.PostAuth,
	}, nil)
	if err != nil {
		return "", &SessionError{Stage: "init", Err: err}
	}
	text := string(body)
	start := strings.Index(text, "<UploadId>")
	end := strings.LastIndex(text, "</UploadId>")
	if start == -1 || end == -1 || end < start+len("<UploadId>") {
		return "", &SessionError{Stage: "init", Status: status, Body: text, Err: ErrMissingMarker}
	}
	return text[start+len("<UploadId>") : end], nil
}

// post sends a session-level request, retrying transport failures and
// transient statuses. After the retries run out on a transient status the
// last status and body are returned without an error.
func (s *Session) post(ctx context.Context, rawURL string, headers map[string]string, payload []byte) (int, []byte, error) {
	var status int
	var body []byte
	err := utils.Retry(ctx, s.backoff, func(attempt int) error {
		status, body = 0, nil
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, bytes.NewReader(payload))
		if err != nil {
			return utils.Permanent(err)
		}
		for k, v := range headers {
			req.Header.Set(k, v)
		}
		resp, err := s.client.Do(req)
		if err != nil {
			log.Debug().Str("op", "upload/session").Int("attempt", attempt).Msgf("POST %s failed: %v", rawURL, err)
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		status, body = resp.StatusCode, data
		if utils.IsTransientStatus(resp.StatusCode) {
			return fmt.Errorf("server returned status code %d", resp.StatusCode)
		}
		return nil
	})
	if err != nil && status == 0 {
		return 0, nil, err
	}
	if err != nil && ctx.Err() != nil {
		return 0, nil, ctx.Err()
	}
	return status, body, nil
}

func success(status int) bool {
	return status >= 200 && status <= 299
}
