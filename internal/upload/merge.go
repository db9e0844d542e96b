package upload

import (
	"cmp"
	"context"
	"encoding/xml"
	"fmt"
	"net/url"
	"slices"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

type completeMultipartUpload struct {
	XMLName xml.Name       `xml:"CompleteMultipartUpload"`
	Parts   []manifestPart `xml:"Part"`
}

type manifestPart struct {
	PartNumber int    `xml:"PartNumber"`
	ETag       string `xml:"ETag"`
}

// CompletionManifest renders the parts sorted by part number. The output
// does not depend on the order of parts.
func CompletionManifest(parts []Part) ([]byte, error) {
	if len(parts) == 0 {
		return nil, ErrNoParts
	}
	sorted := slices.Clone(parts)
	slices.SortFunc(sorted, func(a, b Part) int {
		return cmp.Compare(a.Number, b.Number)
	})
	for i := 1; i < len(sorted); i++ {
		if sorted[i-1].Number == sorted[i].Number {
			return nil, fmt.Errorf("duplicate part number %d", sorted[i].Number)
		}
	}
	doc := completeMultipartUpload{Parts: lo.Map(sorted, func(part Part, _ int) manifestPart {
		return manifestPart{PartNumber: part.Number, ETag: part.ETag}
	})}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("error encoding completion manifest: %v", err)
	}
	return out, nil
}

// Merge commits the uploaded parts and asks the platform to fetch the
// assembled object. The fetch is only triggered after the commit succeeds.
func (s *Session) Merge(ctx context.Context, parts []Part) (*Video, error) {
	manifest, err := CompletionManifest(parts)
	if err != nil {
		return nil, err
	}
	if !s.merged.CompareAndSwap(false, true) {
		return nil, ErrAlreadyMerged
	}

	completeURL := s.bucket.URL + "?uploadId=" + url.QueryEscape(s.uploadID)
	status, body, err := s.post(ctx, completeURL, map[string]string{
		"Authorization": s.bucket.PostAuth,
	}, manifest)
	if err != nil {
		return nil, &SessionError{Stage: "complete", Err: err}
	}
	if !success(status) {
		return nil, &SessionError{Stage: "complete", Status: status, Body: string(body)}
	}
	log.Info().Str("op", "upload/merge").Msgf("Committed %d parts for upload %s", len(parts), s.uploadID)

	headers := make(map[string]string, len(fetchHeaderNames))
	for _, name := range fetchHeaderNames {
		headers[name] = s.bucket.FetchHeaders[name]
	}
	status, body, err = s.post(ctx, s.bucket.FetchTarget(), headers, nil)
	if err != nil {
		return nil, &SessionError{Stage: "fetch", Err: err}
	}
	if !success(status) {
		return nil, &SessionError{Stage: "fetch", Status: status, Body: string(body)}
	}
	video := videoFromBucket(&s.bucket)
	log.Info().Str("op", "upload/merge").Msgf("Platform fetched %s", video.Filename)
	return video, nil
}
