package protocol

import (
	"bytes"
	"io"
	"testing"
	"whiteboard-lab/errors"

	"github.com/stretchr/testify/require"
)

func TestFrame_SequentialFramesOnOneStream(t *testing.T) {
	req := require.New(t)
	var stream bytes.Buffer

	// Given three frames written back to back
	req.NoError(WriteFrame(&stream, []byte(`{"kind":"hello","username":"alice"}`)))
	req.NoError(WriteFrame(&stream, []byte(`{"kind":"chat","msg":"one"}`)))
	req.NoError(WriteFrame(&stream, nil))

	// Then each read returns exactly one of them, in order
	first, err := ReadFrame(&stream, DefaultMaxFrameSize)
	req.NoError(err)
	req.Equal(`{"kind":"hello","username":"alice"}`, string(first))

	second, err := ReadFrame(&stream, DefaultMaxFrameSize)
	req.NoError(err)
	req.Equal(`{"kind":"chat","msg":"one"}`, string(second))

	empty, err := ReadFrame(&stream, DefaultMaxFrameSize)
	req.NoError(err)
	req.Empty(empty)

	_, err = ReadFrame(&stream, DefaultMaxFrameSize)
	req.ErrorIs(err, io.EOF)
}

func TestFrame_OversizedFrameIsSkipped(t *testing.T) {
	req := require.New(t)
	var stream bytes.Buffer

	req.NoError(WriteFrame(&stream, bytes.Repeat([]byte("x"), 100)))
	req.NoError(WriteFrame(&stream, []byte("ok")))

	_, err := ReadFrame(&stream, 10)
	req.ErrorIs(err, errors.ErrFrameTooLarge)

	// The stream is still aligned on the next frame
	next, err := ReadFrame(&stream, 10)
	req.NoError(err)
	req.Equal("ok", string(next))
}

func TestFrame_TruncatedPayload(t *testing.T) {
	req := require.New(t)
	var stream bytes.Buffer
	req.NoError(WriteFrame(&stream, []byte("truncated")))
	stream.Truncate(HeaderSize + 3)

	_, err := ReadFrame(&stream, DefaultMaxFrameSize)

	req.ErrorIs(err, io.ErrUnexpectedEOF)
}
