package extractor

import (
	"context"
	"fmt"
	"html"
	"net/url"
	"regexp"

	"github.com/tanq16/streamup/internal/utils"
)

const douyuBase = "https://www.douyu.com"

var douyuRoomRegex = regexp.MustCompile(`^https?://(?:www\.)?douyu\.com/(?:(\d+)|.*[?&]rid=(\d+))`)

type douyuBetard struct {
	Room struct {
		RoomID     int    `json:"room_id"`
		RoomName   string `json:"room_name"`
		ShowStatus int    `json:"show_status"`
		VideoLoop  int    `json:"videoLoop"`
	} `json:"room"`
}

type douyuPlay struct {
	Error int    `json:"error"`
	Msg   string `json:"msg"`
	Data  struct {
		RtmpURL  string `json:"rtmp_url"`
		RtmpLive string `json:"rtmp_live"`
	} `json:"data"`
}

// DouyuLive resolves rooms through the betard room API and the H5 play API.
type DouyuLive struct {
	Base string
	CDN  string
}

func NewDouyuLive() DouyuLive {
	return DouyuLive{Base: douyuBase}
}

func (DouyuLive) Name() string { return "douyu" }

func (DouyuLive) Matches(rawURL string) bool {
	return douyuRoomRegex.MatchString(rawURL)
}

func (d DouyuLive) Resolve(ctx context.Context, rawURL string, client *utils.HTTPClient) (*Site, error) {
	matches := douyuRoomRegex.FindStringSubmatch(rawURL)
	if len(matches) < 3 {
		return nil, &ResolutionError{Site: d.Name(), URL: rawURL, Err: ErrUnrecognized}
	}
	rid := matches[1]
	if rid == "" {
		rid = matches[2]
	}
	client = client.WithHeaders(map[string]string{"Referer": d.Base})

	var betard douyuBetard
	if err := getJSON(ctx, client, fmt.Sprintf("%s/betard/%s", d.Base, rid), &betard); err != nil {
		return nil, &ResolutionError{Site: d.Name(), URL: rawURL, Err: err}
	}
	if betard.Room.ShowStatus != 1 || betard.Room.VideoLoop == 1 {
		return nil, &ResolutionError{Site: d.Name(), URL: rawURL, Err: ErrOffline}
	}
	roomID := fmt.Sprint(betard.Room.RoomID)

	form := url.Values{}
	form.Set("rid", roomID)
	form.Set("cdn", d.CDN)
	form.Set("rate", "0")
	var play douyuPlay
	if err := postForm(ctx, client, fmt.Sprintf("%s/lapi/live/getH5Play/%s", d.Base, roomID), form, &play); err != nil {
		return nil, &ResolutionError{Site: d.Name(), URL: rawURL, Err: err}
	}
	if play.Error != 0 || play.Data.RtmpURL == "" {
		return nil, &ResolutionError{Site: d.Name(), URL: rawURL, Err: fmt.Errorf("%w: getH5Play: %s", ErrUnrecognized, play.Msg)}
	}
	directURL := play.Data.RtmpURL + "/" + html.UnescapeString(play.Data.RtmpLive)
	return NewSite(d.Name(), betard.Room.RoomName, directURL, kindFromURL(directURL), client), nil
}
