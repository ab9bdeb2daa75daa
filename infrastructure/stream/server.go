// Package stream implements the reliable channel: one TCP connection per
// participant carrying length-prefixed envelopes.
package stream

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/netip"
	"strconv"
	"strings"
	"time"
	"whiteboard-lab/contract"
	"whiteboard-lab/domain"
	"whiteboard-lab/errors"
	"whiteboard-lab/observability"
	"whiteboard-lab/protocol"
)

var _ contract.Worker = (*Server)(nil)

type Config struct {
	Host             string
	Port             int
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	BufferSize       int
	MaxFrameSize     int
}

// Server accepts reliable connections and runs one goroutine per client.
type Server struct {
	listener     net.Listener
	cfg          Config
	orchestrator contract.IOrchestrator
	metrics      *observability.Metrics
	log          *slog.Logger
}

// Listen binds the reliable port. A failure here is fatal to the process.
func Listen(cfg Config, orchestrator contract.IOrchestrator, metrics *observability.Metrics, log *slog.Logger) (*Server, error) {
	address := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("%w: tcp %s: %w", errors.ErrBind, address, err)
	}
	if cfg.MaxFrameSize <= 0 {
		cfg.MaxFrameSize = protocol.DefaultMaxFrameSize
	}
	return &Server{
		listener:     listener,
		cfg:          cfg,
		orchestrator: orchestrator,
		metrics:      metrics,
		log:          log,
	}, nil
}

func (s *Server) Addr() net.Addr {
	return s.listener.Addr()
}

// Close releases the port without running the server.
func (s *Server) Close() error {
	return s.listener.Close()
}

// Run accepts connections until ctx is done. Registered connections outlive
// Run; they are closed by the orchestrator on shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.log.Info("Reliable channel listening", "address", s.listener.Addr())
	stop := context.AfterFunc(ctx, func() { _ = s.listener.Close() })
	defer stop()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if ctx.Err() != nil || stderrors.Is(err, net.ErrClosed) {
				s.log.Info("Reliable channel stopped")
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go s.serve(ctx, conn)
	}
}

func (s *Server) serve(ctx context.Context, raw net.Conn) {
	remote := addrPortOf(raw.RemoteAddr())
	conn := NewConn(raw, s.log, s.cfg.BufferSize, s.cfg.WriteTimeout)
	s.log.Debug("Connection accepted", "remote_addr", remote)

	name, err := s.handshake(conn, remote)
	if err != nil {
		s.metrics.IncHandshakeFailure()
		s.log.Warn("Handshake failed", "remote_addr", remote, "error", err)
		_ = conn.Close()
		return
	}

	p, err := s.orchestrator.Join(ctx, name, remote, conn)
	if err != nil {
		s.log.Error("Cannot register participant", "remote_addr", remote, "error", err)
		_ = conn.Close()
		return
	}
	defer s.orchestrator.Leave(context.WithoutCancel(ctx), p.ID)

	s.readLoop(ctx, conn, p)
}

// handshake requires the first frame to be a hello within the handshake timeout.
func (s *Server) handshake(conn *Conn, remote netip.AddrPort) (string, error) {
	fail := func(cause error) (string, error) {
		return "", &errors.HandshakeError{RemoteAddr: remote.String(), Cause: cause}
	}

	if s.cfg.HandshakeTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.cfg.HandshakeTimeout)); err != nil {
			return fail(err)
		}
	}
	frame, err := conn.Read(s.cfg.MaxFrameSize)
	if err != nil {
		return fail(err)
	}
	evt, err := protocol.Decode(frame)
	if err != nil {
		return fail(err)
	}
	if evt.Kind != protocol.KindHello {
		return fail(fmt.Errorf("first event is %q, want %q", evt.Kind, protocol.KindHello))
	}
	if err := conn.SetReadDeadline(time.Time{}); err != nil {
		return fail(err)
	}

	name := strings.TrimSpace(evt.Hello.Username)
	if name == "" {
		name = domain.FallbackName(remote)
	}
	return name, nil
}

func (s *Server) readLoop(ctx context.Context, conn *Conn, p domain.Participant) {
	for {
		frame, err := conn.Read(s.cfg.MaxFrameSize)
		if err != nil {
			if stderrors.Is(err, errors.ErrFrameTooLarge) {
				s.metrics.IncDecodeError(domain.Reliable)
				s.log.Warn("Oversized frame skipped", "participant_id", p.ID, "error", err)
				continue
			}
			if stderrors.Is(err, io.EOF) || stderrors.Is(err, net.ErrClosed) {
				s.log.Debug("Connection closed", "participant_id", p.ID, "remote_addr", p.RemoteAddr)
			} else {
				s.log.Info("Read failed", "participant_id", p.ID, "remote_addr", p.RemoteAddr, "error", err)
			}
			return
		}

		evt, err := protocol.Decode(frame)
		if err != nil {
			s.metrics.IncDecodeError(domain.Reliable)
			s.log.Debug("Malformed event dropped", "participant_id", p.ID, "error", err)
			continue
		}
		s.orchestrator.RelayReliable(ctx, p, evt)
	}
}

func addrPortOf(addr net.Addr) netip.AddrPort {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.AddrPort()
	}
	ap, _ := netip.ParseAddrPort(addr.String())
	return ap
}
