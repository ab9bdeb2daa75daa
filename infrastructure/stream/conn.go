package stream

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
	"whiteboard-lab/contract"
	"whiteboard-lab/errors"
	"whiteboard-lab/protocol"
)

var _ contract.Handle = (*Conn)(nil)

// Conn is the server side of one reliable connection.
//
// Outbound payloads go through a bounded FIFO drained by a single writer
// goroutine, so frames reach the peer in the order Send accepted them and a
// slow peer only ever blocks its own queue. A failed write closes the
// connection; the reader then sees the error and the participant leaves.
type Conn struct {
	conn         net.Conn
	log          *slog.Logger
	outbound     chan []byte
	writeTimeout time.Duration

	closeOnce sync.Once
	done      chan struct{}
}

func NewConn(conn net.Conn, log *slog.Logger, bufferSize int, writeTimeout time.Duration) *Conn {
	c := &Conn{
		conn:         conn,
		log:          log,
		outbound:     make(chan []byte, bufferSize),
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
	go c.writeLoop()
	return c
}

// Send queues payload for the peer, waiting for room until ctx is done.
func (c *Conn) Send(ctx context.Context, payload []byte) error {
	select {
	case <-c.done:
		return errors.ErrHandleClosed
	default:
	}

	select {
	case c.outbound <- payload:
		return nil
	case <-c.done:
		return errors.ErrHandleClosed
	case <-ctx.Done():
		return fmt.Errorf("%w: outbound queue full: %w", errors.ErrDeliveryTimeout, ctx.Err())
	}
}

// Close shuts the socket down. Only the first call has an effect; it never blocks.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.conn.Close()
	})
	return err
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.conn.RemoteAddr()
}

// Read returns the next frame sent by the peer.
func (c *Conn) Read(maxFrameSize int) ([]byte, error) {
	return protocol.ReadFrame(c.conn, maxFrameSize)
}

func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}

func (c *Conn) writeLoop() {
	for {
		select {
		case <-c.done:
			return
		case payload := <-c.outbound:
			if err := c.write(payload); err != nil {
				c.log.Warn("Write failed, closing connection", "remote_addr", c.conn.RemoteAddr(), "error", err)
				_ = c.Close()
				return
			}
		}
	}
}

func (c *Conn) write(payload []byte) error {
	if c.writeTimeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
			return err
		}
	}
	return protocol.WriteFrame(c.conn, payload)
}
