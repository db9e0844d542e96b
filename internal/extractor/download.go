package extractor

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tanq16/streamup/internal/recorder"
	"github.com/tanq16/streamup/internal/utils"
)

// Download records the site into file until the stream ends or fails. The
// file is closed on every exit path.
func (s *Site) Download(ctx context.Context, file *recorder.LifecycleFile, seg recorder.Segmentable) (err error) {
	defer func() {
		if closeErr := file.Close(); closeErr != nil && err == nil {
			err = closeErr
		}
		if err != nil {
			log.Error().Str("op", "extractor/download").Str("site", s.Name).Err(err).Msg("Download failed")
		}
	}()
	file.SetTitle(s.Title)
	log.Info().Str("op", "extractor/download").Str("site", s.Name).Msgf("Resolved %q (%s)", s.Title, s.Kind)
	log.Debug().Str("op", "extractor/download").Msgf("Direct url: %s", s.DirectURL)
	if seg.Enabled() {
		log.Debug().Str("op", "extractor/download").Msgf("Rolling files every %s or %s", seg.Duration, utils.FormatBytes(uint64(max(seg.Size, 0))))
	}

	switch s.Kind {
	case ContinuousFlv:
		log.Debug().Str("op", "extractor/download").Msg("Connecting")
		resp, err := s.client.Retryable(ctx, s.DirectURL)
		if err != nil {
			return fmt.Errorf("error connecting to stream: %w", err)
		}
		conn := recorder.NewConnection(resp)
		defer conn.Close()
		header, err := conn.ReadFrame(recorder.FLVHeaderSize)
		if err != nil {
			return &recorder.ProtocolError{Op: "flv/probe", Err: fmt.Errorf("short header read (%d bytes): %w", len(header), err)}
		}
		flvHeader, err := recorder.ParseFLVHeader(header)
		if err != nil {
			return &recorder.ProtocolError{Op: "flv/probe", Err: err}
		}
		if extra := int(flvHeader.DataOffset) - recorder.FLVHeaderSize; extra > 0 {
			if err := conn.Discard(extra); err != nil {
				return &recorder.ProtocolError{Op: "flv/probe", Err: err}
			}
		}
		file.Extension = "flv"
		log.Debug().Str("op", "extractor/download").Msg("Streaming")
		return s.decoder.Decode(ctx, conn, file, seg)
	case SegmentedTs:
		file.Extension = "ts"
		log.Debug().Str("op", "extractor/download").Msg("Streaming")
		return s.fetcher.Fetch(ctx, s.DirectURL, s.client, file, seg)
	default:
		return fmt.Errorf("unsupported container kind %d", s.Kind)
	}
}
