package upload

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tanq16/streamup/internal/utils"
)

const (
	HeaderFetchSource = "X-Upos-Fetch-Source"
	HeaderUposAuth    = "X-Upos-Auth"
	HeaderFetchAuth   = "Fetch-Header-Authorization"
)

var fetchHeaderNames = []string{HeaderFetchSource, HeaderUposAuth, HeaderFetchAuth}

// Bucket is the upload target handed out by the platform's preupload call.
type Bucket struct {
	OK           int               `json:"OK"`
	BiliFilename string            `json:"bili_filename"`
	BizID        int64             `json:"biz_id"`
	FetchHeaders map[string]string `json:"fetch_headers"`
	FetchURL     string            `json:"fetch_url"`
	FetchURLs    []string          `json:"fetch_urls"`
	PostAuth     string            `json:"post_auth"`
	PutAuth      string            `json:"put_auth"`
	URL          string            `json:"url"`
}

// ParseBucket decodes a bucket descriptor as returned by the platform.
func ParseBucket(data []byte) (Bucket, error) {
	var b Bucket
	if err := json.Unmarshal(data, &b); err != nil {
		return Bucket{}, fmt.Errorf("error parsing bucket: %v", err)
	}
	return b, b.Validate()
}

func (b *Bucket) Validate() error {
	if b.URL == "" {
		return fmt.Errorf("bucket has no url")
	}
	if b.FetchURL == "" {
		return fmt.Errorf("bucket has no fetch_url")
	}
	for _, name := range fetchHeaderNames {
		if _, ok := b.FetchHeaders[name]; !ok {
			return fmt.Errorf("bucket is missing fetch header %s", name)
		}
	}
	return nil
}

// FetchTarget returns the fetch trigger URL; protocol-relative URLs get https.
func (b *Bucket) FetchTarget() string {
	if strings.HasPrefix(b.FetchURL, "//") {
		return "https:" + b.FetchURL
	}
	return b.FetchURL
}

// InternalURL swaps the accelerated endpoint for the in-region one.
func (b *Bucket) InternalURL() string {
	return strings.Replace(b.URL, "cos.accelerate", "cos-internal.ap-shanghai", 1)
}

// Part is the integrity tag of one uploaded chunk.
type Part struct {
	Number int
	ETag   string
}

// Video is the result of a finalized upload.
type Video struct {
	Title    string `json:"title,omitempty"`
	Filename string `json:"filename"`
	Desc     string `json:"desc"`
}

func videoFromBucket(b *Bucket) *Video {
	return &Video{Filename: utils.FileStem(b.BiliFilename)}
}
