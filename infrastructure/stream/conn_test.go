package stream

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"
	"whiteboard-lab/errors"
	"whiteboard-lab/protocol"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func newPipeConn(t *testing.T, bufferSize int, writeTimeout time.Duration) (*Conn, net.Conn) {
	server, client := net.Pipe()
	conn := NewConn(server, logs.GetLoggerFromLevel(slog.LevelDebug), bufferSize, writeTimeout)
	t.Cleanup(func() {
		_ = conn.Close()
		_ = client.Close()
	})
	return conn, client
}

func TestConn_Send_PreservesOrder(t *testing.T) {
	req := require.New(t)
	conn, peer := newPipeConn(t, 8, time.Second)
	ctx := context.Background()

	// When three payloads are queued
	for _, payload := range []string{"one", "two", "three"} {
		req.NoError(conn.Send(ctx, []byte(payload)))
	}

	// Then the peer reads them as frames in the same order
	for _, want := range []string{"one", "two", "three"} {
		frame, err := protocol.ReadFrame(peer, protocol.DefaultMaxFrameSize)
		req.NoError(err)
		req.Equal(want, string(frame))
	}
}

func TestConn_Close_Idempotent(t *testing.T) {
	req := require.New(t)
	conn, _ := newPipeConn(t, 1, time.Second)

	req.NoError(conn.Close())
	req.NoError(conn.Close())

	// Then sending is refused
	req.ErrorIs(conn.Send(context.Background(), []byte("late")), errors.ErrHandleClosed)
}

func TestConn_Send_FullQueueTimesOut(t *testing.T) {
	req := require.New(t)
	// Given a peer that never reads and a queue of one
	conn, _ := newPipeConn(t, 1, time.Minute)
	ctx := context.Background()
	req.NoError(conn.Send(ctx, []byte("picked up by the writer")))
	req.Eventually(func() bool { return len(conn.outbound) == 0 }, time.Second, time.Millisecond)
	req.NoError(conn.Send(ctx, []byte("fills the queue")))

	// When another payload is sent with a short deadline
	ctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	err := conn.Send(ctx, []byte("no room"))

	// Then it fails with a delivery timeout
	req.ErrorIs(err, errors.ErrDeliveryTimeout)
}

func TestConn_WriteFailureClosesConnection(t *testing.T) {
	req := require.New(t)
	conn, peer := newPipeConn(t, 4, time.Second)

	// Given the peer went away
	req.NoError(peer.Close())

	// When a payload is written
	req.NoError(conn.Send(context.Background(), []byte("lost")))

	// Then the connection closes itself
	req.Eventually(func() bool {
		return conn.Send(context.Background(), []byte("x")) != nil
	}, time.Second, 5*time.Millisecond)
}

func TestConn_WriteTimeoutClosesConnection(t *testing.T) {
	req := require.New(t)
	// Given a peer that never reads
	conn, _ := newPipeConn(t, 4, 20*time.Millisecond)

	req.NoError(conn.Send(context.Background(), []byte("stuck")))

	// Then the write deadline expires and the connection is closed
	req.Eventually(func() bool {
		return conn.Send(context.Background(), []byte("x")) != nil
	}, time.Second, 5*time.Millisecond)
}
