package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"whiteboard-lab/errors"
)

const (
	// HeaderSize is the length prefix of a stream frame: a big-endian uint32.
	HeaderSize = 4

	DefaultMaxFrameSize = 64 << 10

	// MaxDatagramSize is the largest UDP payload over IPv4.
	MaxDatagramSize = 65507
)

// WriteFrame writes payload prefixed by its length in a single Write call.
func WriteFrame(w io.Writer, payload []byte) error {
	buf := make([]byte, HeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[HeaderSize:], payload)
	_, err := w.Write(buf)
	return err
}

// ReadFrame reads one length-prefixed frame.
// A frame larger than maxSize is consumed and discarded so the stream stays
// aligned; the caller gets ErrFrameTooLarge and may keep reading.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	size := binary.BigEndian.Uint32(header[:])
	if int64(size) > int64(maxSize) {
		if _, err := io.CopyN(io.Discard, r, int64(size)); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %d bytes, limit %d", errors.ErrFrameTooLarge, size, maxSize)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}
