package recorder

import (
	"errors"
	"fmt"
)

var ErrBadSignature = errors.New("bad flv signature")

// ProtocolError reports a malformed container or a decode failure. It is
// fatal for the download it occurs in.
type ProtocolError struct {
	Op  string
	Err error
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("protocol error during %s: %v", e.Op, e.Err)
}

func (e *ProtocolError) Unwrap() error {
	return e.Err
}
