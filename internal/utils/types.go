package utils

import "time"

// StreamJob is one unit of work for the scheduler: record a stream, then
// hand the finished files to the optional archive step.
type StreamJob struct {
	ID               string
	Name             string
	URL              string
	Template         string
	OutputDir        string
	SegmentTime      time.Duration
	SegmentSize      int64
	Archive          string
	HTTPClientConfig HTTPClientConfig
}
