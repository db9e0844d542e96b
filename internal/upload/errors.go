package upload

import (
	"errors"
	"fmt"
)

var (
	ErrMissingETag   = errors.New("response has no ETag")
	ErrMissingMarker = errors.New("response has no UploadId")
	ErrAlreadyMerged = errors.New("session already merged")
	ErrNoParts       = errors.New("no parts to merge")
)

// ChunkUploadError aborts a whole upload. Part is the 1-based part number.
type ChunkUploadError struct {
	Part   int
	Status int
	Body   string
	Err    error
}

func (e *ChunkUploadError) Error() string {
	if e.Status != 0 && e.Err != nil {
		return fmt.Sprintf("upload chunk %d error (status %d, %v): %s", e.Part, e.Status, e.Err, e.Body)
	}
	if e.Status != 0 {
		return fmt.Sprintf("upload chunk %d error (status %d): %s", e.Part, e.Status, e.Body)
	}
	return fmt.Sprintf("upload chunk %d error: %v", e.Part, e.Err)
}

func (e *ChunkUploadError) Unwrap() error {
	return e.Err
}

// SessionError reports a failed session-level call: init, complete or fetch.
type SessionError struct {
	Stage  string
	Status int
	Body   string
	Err    error
}

func (e *SessionError) Error() string {
	if e.Err != nil && e.Body == "" {
		return fmt.Sprintf("%s failed: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("%s failed (status %d): %s", e.Stage, e.Status, e.Body)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
