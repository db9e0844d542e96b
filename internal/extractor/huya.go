package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/tanq16/streamup/internal/utils"
)

const huyaBase = "https://www.huya.com"

var (
	huyaRoomRegex   = regexp.MustCompile(`^https?://(?:www\.)?huya\.com/([A-Za-z0-9_]+)`)
	huyaStreamRegex = regexp.MustCompile(`(?m)stream:\s*(\{.*\})\s*$`)
)

type huyaStream struct {
	Data []struct {
		GameLiveInfo struct {
			Introduction string `json:"introduction"`
			Nick         string `json:"nick"`
		} `json:"gameLiveInfo"`
		GameStreamInfoList []struct {
			FlvURL       string `json:"sFlvUrl"`
			StreamName   string `json:"sStreamName"`
			FlvURLSuffix string `json:"sFlvUrlSuffix"`
			FlvAntiCode  string `json:"sFlvAntiCode"`
		} `json:"gameStreamInfoList"`
	} `json:"data"`
}

type HuyaLive struct {
	Base string
}

func NewHuyaLive() HuyaLive {
	return HuyaLive{Base: huyaBase}
}

func (HuyaLive) Name() string { return "huya" }

func (HuyaLive) Matches(rawURL string) bool {
	return huyaRoomRegex.MatchString(rawURL)
}

func (h HuyaLive) Resolve(ctx context.Context, rawURL string, client *utils.HTTPClient) (*Site, error) {
	matches := huyaRoomRegex.FindStringSubmatch(rawURL)
	if len(matches) < 2 {
		return nil, &ResolutionError{Site: h.Name(), URL: rawURL, Err: ErrUnrecognized}
	}
	page, err := client.GetBody(ctx, fmt.Sprintf("%s/%s", h.Base, matches[1]))
	if err != nil {
		return nil, &ResolutionError{Site: h.Name(), URL: rawURL, Err: err}
	}
	found := huyaStreamRegex.FindSubmatch(page)
	if len(found) < 2 {
		// an offline room page carries no stream object
		return nil, &ResolutionError{Site: h.Name(), URL: rawURL, Err: ErrOffline}
	}
	var stream huyaStream
	if err := json.Unmarshal(found[1], &stream); err != nil {
		return nil, &ResolutionError{Site: h.Name(), URL: rawURL, Err: fmt.Errorf("%w: %v", ErrUnrecognized, err)}
	}
	if len(stream.Data) == 0 || len(stream.Data[0].GameStreamInfoList) == 0 {
		return nil, &ResolutionError{Site: h.Name(), URL: rawURL, Err: ErrOffline}
	}
	info := stream.Data[0].GameStreamInfoList[0]
	directURL := fmt.Sprintf("%s/%s.%s?%s",
		strings.TrimSuffix(info.FlvURL, "/"),
		info.StreamName,
		info.FlvURLSuffix,
		html.UnescapeString(info.FlvAntiCode),
	)
	return NewSite(h.Name(), stream.Data[0].GameLiveInfo.Introduction, directURL, ContinuousFlv, client), nil
}
