package extractor

import (
	"context"
	"fmt"
	"regexp"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamup/internal/utils"
)

const biliAPI = "https://api.live.bilibili.com"

var biliRoomRegex = regexp.MustCompile(`^https?://live\.bilibili\.com/(?:h5/)?(\d+)`)

type biliRoomInit struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		RoomID     int `json:"room_id"`
		LiveStatus int `json:"live_status"`
	} `json:"data"`
}

type biliRoomInfo struct {
	Code int `json:"code"`
	Data struct {
		Title string `json:"title"`
	} `json:"data"`
}

type biliPlayURL struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Durl []struct {
			URL string `json:"url"`
		} `json:"durl"`
	} `json:"data"`
}

type BiliLive struct {
	API string
}

func NewBiliLive() BiliLive {
	return BiliLive{API: biliAPI}
}

func (BiliLive) Name() string { return "bilibili" }

func (BiliLive) Matches(rawURL string) bool {
	return biliRoomRegex.MatchString(rawURL)
}

func (b BiliLive) Resolve(ctx context.Context, rawURL string, client *utils.HTTPClient) (*Site, error) {
	matches := biliRoomRegex.FindStringSubmatch(rawURL)
	if len(matches) < 2 {
		return nil, &ResolutionError{Site: b.Name(), URL: rawURL, Err: ErrUnrecognized}
	}
	client = client.WithHeaders(map[string]string{"Referer": "https://live.bilibili.com"})

	var init biliRoomInit
	if err := getJSON(ctx, client, fmt.Sprintf("%s/room/v1/Room/room_init?id=%s", b.API, matches[1]), &init); err != nil {
		return nil, &ResolutionError{Site: b.Name(), URL: rawURL, Err: err}
	}
	if init.Code != 0 {
		return nil, &ResolutionError{Site: b.Name(), URL: rawURL, Err: fmt.Errorf("%w: room_init: %s", ErrUnrecognized, init.Message)}
	}
	if init.Data.LiveStatus != 1 {
		return nil, &ResolutionError{Site: b.Name(), URL: rawURL, Err: ErrOffline}
	}
	roomID := init.Data.RoomID
	log.Debug().Str("op", "extractor/bilibili").Msgf("Room %s maps to %d", matches[1], roomID)

	var info biliRoomInfo
	if err := getJSON(ctx, client, fmt.Sprintf("%s/room/v1/Room/get_info?room_id=%d", b.API, roomID), &info); err != nil {
		return nil, &ResolutionError{Site: b.Name(), URL: rawURL, Err: err}
	}

	var play biliPlayURL
	if err := getJSON(ctx, client, fmt.Sprintf("%s/room/v1/Room/playUrl?cid=%d&qn=10000&platform=web", b.API, roomID), &play); err != nil {
		return nil, &ResolutionError{Site: b.Name(), URL: rawURL, Err: err}
	}
	if play.Code != 0 || len(play.Data.Durl) == 0 {
		return nil, &ResolutionError{Site: b.Name(), URL: rawURL, Err: fmt.Errorf("%w: playUrl: %s", ErrUnrecognized, play.Message)}
	}
	directURL := play.Data.Durl[0].URL
	return NewSite(b.Name(), info.Data.Title, directURL, kindFromURL(directURL), client), nil
}
