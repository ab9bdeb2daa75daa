// Package client connects to a whiteboard hub over both channels.
package client

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
	"whiteboard-lab/errors"
	"whiteboard-lab/protocol"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

type Options struct {
	StreamAddr   string `validate:"required,hostname_port"`
	DatagramAddr string `validate:"required,hostname_port"`
	Name         string `validate:"max=64"`
	MaxFrameSize int    `validate:"gte=0"`
	// BufferSize bounds each inbound event channel.
	BufferSize int `validate:"gte=0"`
}

// Client holds one reliable connection and one ephemeral UDP socket.
// Inbound events are decoded in background goroutines and exposed as channels;
// undecodable input is dropped.
type Client struct {
	name         string
	maxFrameSize int
	log          *slog.Logger

	stream   net.Conn
	datagram *net.UDPConn
	hub      *net.UDPAddr
	writeMu  sync.Mutex

	reliable  chan protocol.Event
	datagrams chan protocol.Event

	closeOnce sync.Once
	done      chan struct{}
	wg        sync.WaitGroup
}

// Dial connects the reliable channel, sends hello, then announces the
// datagram socket with a hello-datagram.
func Dial(ctx context.Context, opts Options, log *slog.Logger) (*Client, error) {
	if err := validate.Struct(opts); err != nil {
		return nil, fmt.Errorf("invalid client options: %w", err)
	}
	if opts.MaxFrameSize == 0 {
		opts.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	if opts.BufferSize == 0 {
		opts.BufferSize = 256
	}

	var dialer net.Dialer
	stream, err := dialer.DialContext(ctx, "tcp", opts.StreamAddr)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", opts.StreamAddr, err)
	}
	hub, err := net.ResolveUDPAddr("udp", opts.DatagramAddr)
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("resolve %s: %w", opts.DatagramAddr, err)
	}
	datagram, err := net.ListenUDP("udp", nil)
	if err != nil {
		_ = stream.Close()
		return nil, fmt.Errorf("bind datagram socket: %w", err)
	}

	c := &Client{
		name:         opts.Name,
		maxFrameSize: opts.MaxFrameSize,
		log:          log,
		stream:       stream,
		datagram:     datagram,
		hub:          hub,
		reliable:     make(chan protocol.Event, opts.BufferSize),
		datagrams:    make(chan protocol.Event, opts.BufferSize),
		done:         make(chan struct{}),
	}

	if err := c.sendReliable(protocol.NewHello(opts.Name)); err != nil {
		_ = c.closeSockets()
		return nil, fmt.Errorf("send hello: %w", err)
	}
	if err := c.sendDatagram(protocol.NewHelloDatagram()); err != nil {
		_ = c.closeSockets()
		return nil, fmt.Errorf("send hello-datagram: %w", err)
	}

	c.wg.Add(2)
	go c.readStream()
	go c.readDatagrams()
	log.Debug("Connected to hub", "stream_addr", opts.StreamAddr, "datagram_addr", hub, "local_datagram_addr", datagram.LocalAddr())
	return c, nil
}

func (c *Client) Name() string {
	return c.name
}

func (c *Client) LocalDatagramAddr() net.Addr {
	return c.datagram.LocalAddr()
}

// Reliable yields events received on the reliable channel. It is closed when
// the connection ends.
func (c *Client) Reliable() <-chan protocol.Event {
	return c.reliable
}

// Datagrams yields events received on the best-effort channel. Events are
// dropped when the consumer falls behind.
func (c *Client) Datagrams() <-chan protocol.Event {
	return c.datagrams
}

func (c *Client) SendChat(msg string) error {
	return c.sendReliable(protocol.NewChat(c.name, msg))
}

// SendDraw stamps the stroke with the client name and sends it as one datagram.
func (c *Client) SendDraw(d protocol.Draw) error {
	d.User = c.name
	return c.sendDatagram(protocol.NewDraw(d))
}

// Clear asks every peer to clear its board, on both channels.
func (c *Client) Clear() error {
	return stderrors.Join(
		c.sendReliable(protocol.NewClear()),
		c.sendDatagram(protocol.NewClear()),
	)
}

// Close ends both channels and waits for the readers to stop.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.closeSockets()
		c.wg.Wait()
	})
	return err
}

func (c *Client) closeSockets() error {
	return stderrors.Join(c.stream.Close(), c.datagram.Close())
}

func (c *Client) sendReliable(evt protocol.Event) error {
	payload, err := protocol.Encode(evt)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return protocol.WriteFrame(c.stream, payload)
}

func (c *Client) sendDatagram(evt protocol.Event) error {
	payload, err := protocol.Encode(evt)
	if err != nil {
		return err
	}
	if len(payload) > protocol.MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", errors.ErrDatagramTooLarge, len(payload))
	}
	_, err = c.datagram.WriteToUDP(payload, c.hub)
	return err
}

func (c *Client) readStream() {
	defer c.wg.Done()
	defer close(c.reliable)
	for {
		frame, err := protocol.ReadFrame(c.stream, c.maxFrameSize)
		if err != nil {
			if stderrors.Is(err, errors.ErrFrameTooLarge) {
				continue
			}
			c.log.Debug("Reliable channel closed", "error", err)
			return
		}
		evt, err := protocol.Decode(frame)
		if err != nil {
			continue
		}
		select {
		case c.reliable <- evt:
		case <-c.done:
			return
		}
	}
}

func (c *Client) readDatagrams() {
	defer c.wg.Done()
	defer close(c.datagrams)
	buffer := make([]byte, protocol.MaxDatagramSize)
	for {
		n, _, err := c.datagram.ReadFromUDP(buffer)
		if err != nil {
			if stderrors.Is(err, net.ErrClosed) {
				return
			}
			c.log.Debug("Datagram read failed", "error", err)
			select {
			case <-c.done:
				return
			case <-time.After(10 * time.Millisecond):
				continue
			}
		}
		evt, err := protocol.Decode(buffer[:n])
		if err != nil {
			continue
		}
		select {
		case c.datagrams <- evt:
		default:
		}
	}
}
