package extractor

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/tanq16/streamup/internal/utils"
)

func getJSON(ctx context.Context, client *utils.HTTPClient, rawURL string, v any) error {
	body, err := client.GetBody(ctx, rawURL)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return fmt.Errorf("%w: %v", ErrUnrecognized, err)
	}
	return nil
}

func postForm(ctx context.Context, client *utils.HTTPClient, rawURL string, form url.Values, v any) error {
	return utils.Retry(ctx, client.Backoff(), func(attempt int) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
		if err != nil {
			return utils.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if utils.IsTransientStatus(resp.StatusCode) {
			return fmt.Errorf("server returned status code %d", resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return utils.Permanent(fmt.Errorf("server returned status code %d", resp.StatusCode))
		}
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if err := json.Unmarshal(body, v); err != nil {
			return utils.Permanent(fmt.Errorf("%w: %v", ErrUnrecognized, err))
		}
		return nil
	})
}
