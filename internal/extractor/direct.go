package extractor

import (
	"context"
	"net/url"
	"path"
	"strings"

	"github.com/tanq16/streamup/internal/utils"
)

// DirectStream handles bare media URLs ending in .flv or .m3u8.
type DirectStream struct{}

func (DirectStream) Name() string { return "direct" }

func (DirectStream) Matches(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	ext := strings.ToLower(path.Ext(u.Path))
	return ext == ".flv" || ext == ".m3u8"
}

func (d DirectStream) Resolve(ctx context.Context, rawURL string, client *utils.HTTPClient) (*Site, error) {
	if !d.Matches(rawURL) {
		return nil, &ResolutionError{Site: d.Name(), URL: rawURL, Err: ErrUnrecognized}
	}
	u, _ := url.Parse(rawURL)
	return NewSite(d.Name(), utils.FileStem(u.Path), rawURL, kindFromURL(rawURL), client), nil
}
