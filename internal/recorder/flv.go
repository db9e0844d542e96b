package recorder

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/rs/zerolog/log"
)

const (
	FLVHeaderSize = 9
	tagHeaderSize = 11

	tagAudio  = 8
	tagVideo  = 9
	tagScript = 18
)

// Decoder consumes a continuous container stream whose header has already
// been probed and writes it into file.
type Decoder interface {
	Decode(ctx context.Context, conn *Connection, file *LifecycleFile, seg Segmentable) error
}

type FLVHeader struct {
	Version    byte
	HasAudio   bool
	HasVideo   bool
	DataOffset uint32
}

func ParseFLVHeader(b []byte) (FLVHeader, error) {
	if len(b) < FLVHeaderSize {
		return FLVHeader{}, fmt.Errorf("%w: short header (%d bytes)", ErrBadSignature, len(b))
	}
	if !bytes.Equal(b[:3], []byte("FLV")) {
		return FLVHeader{}, fmt.Errorf("%w: %q", ErrBadSignature, b[:3])
	}
	h := FLVHeader{
		Version:    b[3],
		HasAudio:   b[4]&0x04 != 0,
		HasVideo:   b[4]&0x01 != 0,
		DataOffset: binary.BigEndian.Uint32(b[5:9]),
	}
	if h.DataOffset < FLVHeaderSize {
		return FLVHeader{}, fmt.Errorf("%w: data offset %d", ErrBadSignature, h.DataOffset)
	}
	return h, nil
}

type flvTag struct {
	kind      byte
	timestamp uint32
	streamID  [3]byte
	data      []byte
}

func (t *flvTag) isKeyframe() bool {
	return t.kind == tagVideo && len(t.data) > 0 && t.data[0]>>4 == 1 && !t.isVideoSequenceHeader()
}

func (t *flvTag) isVideoSequenceHeader() bool {
	return t.kind == tagVideo && len(t.data) > 1 && t.data[0]&0x0f == 7 && t.data[1] == 0
}

func (t *flvTag) isAudioSequenceHeader() bool {
	return t.kind == tagAudio && len(t.data) > 1 && t.data[0]>>4 == 10 && t.data[1] == 0
}

// FLVDecoder copies FLV tags into the sink and rolls files on keyframes
// once the segmentation policy is due. Each new file starts with a fresh
// header, the cached metadata and sequence headers, and timestamps rebased to zero.
type FLVDecoder struct{}

func (FLVDecoder) Decode(ctx context.Context, conn *Connection, file *LifecycleFile, seg Segmentable) error {
	var metadata, videoHeader, audioHeader *flvTag
	var base uint32
	baseSet := false
	var tags int64

	openFile := func() error {
		if err := file.Create(); err != nil {
			return err
		}
		header := []byte{'F', 'L', 'V', 1, 0x05, 0, 0, 0, FLVHeaderSize, 0, 0, 0, 0}
		if _, err := file.Write(header); err != nil {
			return err
		}
		for _, t := range []*flvTag{metadata, videoHeader, audioHeader} {
			if t == nil {
				continue
			}
			if err := writeTag(file, t, 0); err != nil {
				return err
			}
		}
		baseSet = false
		return nil
	}

	// previous tag size of the header
	if _, err := conn.ReadFrame(4); err != nil {
		switch {
		case ctx.Err() != nil:
			return ctx.Err()
		case err == io.EOF:
			return nil
		case err == io.ErrUnexpectedEOF:
			return &ProtocolError{Op: "flv/read", Err: err}
		}
		return fmt.Errorf("error reading stream: %w", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		tag, err := readTag(conn)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			switch err {
			case io.EOF:
				log.Info().Str("op", "recorder/flv").Msgf("Stream ended after %d tags", tags)
				return file.Flush()
			case io.ErrUnexpectedEOF:
				log.Warn().Str("op", "recorder/flv").Msgf("Stream cut mid-tag after %d tags, dropping partial tag", tags)
				return file.Flush()
			}
			var perr *ProtocolError
			if errors.As(err, &perr) {
				return err
			}
			return fmt.Errorf("error reading stream after %d tags: %w", tags, err)
		}
		tags++
		switch {
		case tag.kind == tagScript && metadata == nil:
			metadata = tag
		case tag.isVideoSequenceHeader():
			videoHeader = tag
		case tag.isAudioSequenceHeader():
			audioHeader = tag
		}
		if !file.Open() {
			if err := openFile(); err != nil {
				return err
			}
			if tag == metadata || tag == videoHeader || tag == audioHeader {
				continue
			}
		} else if tag.isKeyframe() && seg.Due(file.Elapsed(), file.Written()) {
			log.Debug().Str("op", "recorder/flv").Msgf("Segment due after %s, rolling file", file.Elapsed())
			if err := openFile(); err != nil {
				return err
			}
		}
		if !baseSet {
			base = tag.timestamp
			baseSet = true
		}
		ts := uint32(0)
		if tag.timestamp > base {
			ts = tag.timestamp - base
		}
		if err := writeTag(file, tag, ts); err != nil {
			return err
		}
	}
}

// readTag returns io.EOF when the stream ends on a tag boundary and
// io.ErrUnexpectedEOF when it ends inside a tag. Any other read error is
// returned wrapped.
func readTag(conn *Connection) (*flvTag, error) {
	header, err := conn.ReadFrame(tagHeaderSize)
	if err != nil {
		return nil, frameError(err, len(header) == 0)
	}
	kind := header[0] & 0x1f
	if kind != tagAudio && kind != tagVideo && kind != tagScript {
		return nil, &ProtocolError{Op: "flv/tag", Err: fmt.Errorf("unknown tag type %d", kind)}
	}
	size := int(header[1])<<16 | int(header[2])<<8 | int(header[3])
	timestamp := uint32(header[7])<<24 | uint32(header[4])<<16 | uint32(header[5])<<8 | uint32(header[6])
	tag := &flvTag{kind: kind, timestamp: timestamp}
	copy(tag.streamID[:], header[8:11])
	data, err := conn.ReadFrame(size)
	if err != nil {
		return nil, frameError(err, false)
	}
	tag.data = data
	if _, err := conn.ReadFrame(4); err != nil {
		return nil, frameError(err, false)
	}
	return tag, nil
}

func frameError(err error, boundary bool) error {
	switch err {
	case io.EOF:
		if boundary {
			return io.EOF
		}
		return io.ErrUnexpectedEOF
	case io.ErrUnexpectedEOF:
		return io.ErrUnexpectedEOF
	}
	return fmt.Errorf("error reading tag: %w", err)
}

func writeTag(w io.Writer, tag *flvTag, timestamp uint32) error {
	size := len(tag.data)
	header := make([]byte, tagHeaderSize, tagHeaderSize+size+4)
	header[0] = tag.kind
	header[1], header[2], header[3] = byte(size>>16), byte(size>>8), byte(size)
	header[4], header[5], header[6] = byte(timestamp>>16), byte(timestamp>>8), byte(timestamp)
	header[7] = byte(timestamp >> 24)
	copy(header[8:11], tag.streamID[:])
	buf := append(header, tag.data...)
	buf = binary.BigEndian.AppendUint32(buf, uint32(tagHeaderSize+size))
	_, err := w.Write(buf)
	return err
}
