// Package datagram implements the best-effort channel: one UDP socket shared
// by every client, one envelope per datagram.
package datagram

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"whiteboard-lab/contract"
	"whiteboard-lab/domain"
	"whiteboard-lab/errors"
	"whiteboard-lab/observability"
	"whiteboard-lab/protocol"
)

var (
	_ contract.Worker         = (*Server)(nil)
	_ contract.DatagramSender = (*Server)(nil)
)

type Config struct {
	Host       string
	Port       int
	BufferSize int
}

type Server struct {
	conn         *net.UDPConn
	bufferSize   int
	orchestrator contract.IOrchestrator
	metrics      *observability.Metrics
	log          *slog.Logger
}

// Listen binds the best-effort port. A failure here is fatal to the process.
func Listen(cfg Config, orchestrator contract.IOrchestrator, metrics *observability.Metrics, log *slog.Logger) (*Server, error) {
	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	addr, err := net.ResolveUDPAddr("udp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: udp %s: %w", errors.ErrBind, address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: udp %s: %w", errors.ErrBind, address, err)
	}
	if cfg.BufferSize <= 0 || cfg.BufferSize > protocol.MaxDatagramSize {
		cfg.BufferSize = protocol.MaxDatagramSize
	}
	return &Server{
		conn:         conn,
		bufferSize:   cfg.BufferSize,
		orchestrator: orchestrator,
		metrics:      metrics,
		log:          log,
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.conn.LocalAddr()
}

// Close releases the port without running the server.
func (s *Server) Close() error {
	return s.conn.Close()
}

// Run receives datagrams until ctx is done. Each datagram is handled before
// the next one is read.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("Best-effort channel listening", "address", s.conn.LocalAddr(), "buffer_size", s.bufferSize)
	stop := context.AfterFunc(ctx, func() { _ = s.conn.Close() })
	defer stop()

	buffer := make([]byte, s.bufferSize)
	for {
		n, from, err := s.conn.ReadFromUDPAddrPort(buffer)
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				s.log.Info("Best-effort channel stopped")
				return nil
			}
			s.log.Warn("Failed to read datagram", "error", err)
			continue
		}
		packet := make([]byte, n)
		copy(packet, buffer[:n])
		s.handle(ctx, netip.AddrPortFrom(from.Addr().Unmap(), from.Port()), packet)
	}
}

// handle records the sender before decoding, so even a malformed datagram
// makes its address a target.
func (s *Server) handle(ctx context.Context, from netip.AddrPort, packet []byte) {
	s.orchestrator.ObserveAddress(from)

	evt, err := protocol.Decode(packet)
	if err != nil {
		s.metrics.IncDecodeError(domain.BestEffort)
		s.log.Debug("Malformed datagram dropped", "remote_addr", from, "size", len(packet), "error", err)
		return
	}
	s.orchestrator.RelayDatagram(ctx, from, packet, evt)
}

// WriteTo sends one datagram. UDP writes do not wait on the peer, so only
// the context is checked.
func (s *Server) WriteTo(ctx context.Context, payload []byte, addr netip.AddrPort) error {
	if len(payload) > protocol.MaxDatagramSize {
		return fmt.Errorf("%w: %d bytes", errors.ErrDatagramTooLarge, len(payload))
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := s.conn.WriteToUDPAddrPort(payload, addr)
	return err
}
