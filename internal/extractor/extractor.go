package extractor

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"path"
	"strings"

	"github.com/samber/lo"
	"github.com/tanq16/streamup/internal/recorder"
	"github.com/tanq16/streamup/internal/utils"
)

var (
	ErrOffline      = errors.New("room is offline")
	ErrUnrecognized = errors.New("unrecognized page format")
	ErrNoExtractor  = errors.New("no extractor can handle url")
)

// Capability resolves page URLs of one site into a Site.
type Capability interface {
	Name() string
	Matches(rawURL string) bool
	Resolve(ctx context.Context, rawURL string, client *utils.HTTPClient) (*Site, error)
}

type ResolutionError struct {
	Site string
	URL  string
	Err  error
}

func (e *ResolutionError) Error() string {
	if e.Site == "" {
		return fmt.Sprintf("cannot resolve %s: %v", e.URL, e.Err)
	}
	return fmt.Sprintf("%s: cannot resolve %s: %v", e.Site, e.URL, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

type ContainerKind int

const (
	ContinuousFlv ContainerKind = iota
	SegmentedTs
)

func (k ContainerKind) String() string {
	switch k {
	case ContinuousFlv:
		return "flv"
	case SegmentedTs:
		return "hls"
	default:
		return "unknown"
	}
}

// kindFromURL picks the container from the media URL path.
func kindFromURL(rawURL string) ContainerKind {
	u, err := url.Parse(rawURL)
	if err == nil && strings.EqualFold(path.Ext(u.Path), ".m3u8") {
		return SegmentedTs
	}
	return ContinuousFlv
}

// Registry is an ordered, immutable list of capabilities. Lookup is a
// linear scan and the first match wins.
type Registry struct {
	capabilities []Capability
}

func NewRegistry(capabilities ...Capability) *Registry {
	return &Registry{capabilities: append([]Capability(nil), capabilities...)}
}

func DefaultRegistry() *Registry {
	return NewRegistry(
		NewBiliLive(),
		NewHuyaLive(),
		NewDouyuLive(),
		DirectStream{},
	)
}

// Find returns the first capability that matches rawURL, or nil.
func (r *Registry) Find(rawURL string) Capability {
	capability, _ := lo.Find(r.capabilities, func(c Capability) bool {
		return c.Matches(rawURL)
	})
	return capability
}

// Resolve finds the capability for rawURL and resolves it. Every failure is
// reported as a *ResolutionError.
func (r *Registry) Resolve(ctx context.Context, rawURL string, client *utils.HTTPClient) (*Site, error) {
	capability := r.Find(rawURL)
	if capability == nil {
		return nil, &ResolutionError{URL: rawURL, Err: ErrNoExtractor}
	}
	site, err := capability.Resolve(ctx, rawURL, client)
	if err != nil {
		var rerr *ResolutionError
		if errors.As(err, &rerr) {
			return nil, err
		}
		return nil, &ResolutionError{Site: capability.Name(), URL: rawURL, Err: err}
	}
	return site, nil
}

// Site is the resolved media source of one download attempt.
type Site struct {
	Name      string
	Title     string
	DirectURL string
	Kind      ContainerKind

	client  *utils.HTTPClient
	decoder recorder.Decoder
	fetcher recorder.Fetcher
}

// NewSite derives the site's own client from client with its headers
// finalized, so the caller's client is never mutated.
func NewSite(name, title, directURL string, kind ContainerKind, client *utils.HTTPClient) *Site {
	return &Site{
		Name:      name,
		Title:     title,
		DirectURL: directURL,
		Kind:      kind,
		client:    client.WithHeaders(map[string]string{"Accept-Encoding": "gzip, deflate"}),
		decoder:   recorder.FLVDecoder{},
		fetcher:   recorder.HLSFetcher{},
	}
}

func (s *Site) String() string {
	return fmt.Sprintf("Name: %s\nTitle: %s\nDirect url: %s", s.Name, s.Title, s.DirectURL)
}
