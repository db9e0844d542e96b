package recorder

import (
	"bufio"
	"io"
	"net/http"
)

// Connection wraps a streaming response body for frame-oriented reads.
type Connection struct {
	r    *bufio.Reader
	body io.Closer
	read int64
}

func NewConnection(resp *http.Response) *Connection {
	return NewConnectionFromReader(resp.Body)
}

func NewConnectionFromReader(rc io.ReadCloser) *Connection {
	return &Connection{
		r:    bufio.NewReaderSize(rc, 64*1024),
		body: rc,
	}
}

// ReadFrame reads exactly n bytes.
func (c *Connection) ReadFrame(n int) ([]byte, error) {
	buf := make([]byte, n)
	read, err := io.ReadFull(c.r, buf)
	c.read += int64(read)
	if err != nil {
		return buf[:read], err
	}
	return buf, nil
}

func (c *Connection) Discard(n int) error {
	discarded, err := c.r.Discard(n)
	c.read += int64(discarded)
	return err
}

func (c *Connection) BytesRead() int64 {
	return c.read
}

func (c *Connection) Close() error {
	return c.body.Close()
}
