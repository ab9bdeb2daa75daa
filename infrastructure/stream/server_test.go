package stream

import (
	"context"
	stderrors "errors"
	"log/slog"
	"net"
	"net/netip"
	"testing"
	"time"
	"whiteboard-lab/contract"
	"whiteboard-lab/domain"
	"whiteboard-lab/errors"
	"whiteboard-lab/mocks"
	"whiteboard-lab/observability"
	"whiteboard-lab/protocol"

	"github.com/mama165/sdk-go/logs"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

type serverFixture struct {
	server       *Server
	orchestrator *mocks.MockIOrchestrator
	metrics      *observability.Metrics
}

func startServer(t *testing.T, handshakeTimeout time.Duration) serverFixture {
	ctrl := gomock.NewController(t)
	orchestrator := mocks.NewMockIOrchestrator(ctrl)
	metrics := observability.NewMetrics(prometheus.NewRegistry())
	cfg := Config{
		Host:             "127.0.0.1",
		Port:             0,
		HandshakeTimeout: handshakeTimeout,
		WriteTimeout:     time.Second,
		BufferSize:       16,
		MaxFrameSize:     1024,
	}
	server, err := Listen(cfg, orchestrator, metrics, logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = server.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return serverFixture{server: server, orchestrator: orchestrator, metrics: metrics}
}

func dial(t *testing.T, server *Server) net.Conn {
	conn, err := net.Dial("tcp", server.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func writeEvent(t *testing.T, conn net.Conn, evt protocol.Event) {
	payload, err := protocol.Encode(evt)
	require.NoError(t, err)
	require.NoError(t, protocol.WriteFrame(conn, payload))
}

// waitClosed blocks until the server closes conn.
func waitClosed(t *testing.T, conn net.Conn) {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err := protocol.ReadFrame(conn, protocol.DefaultMaxFrameSize)
	require.Error(t, err)
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		require.False(t, netErr.Timeout(), "server did not close the connection")
	}
}

func TestServer_Listen_BindFailure(t *testing.T) {
	req := require.New(t)
	f := startServer(t, time.Second)
	port := f.server.Addr().(*net.TCPAddr).Port

	// When a second server binds the same port
	_, err := Listen(Config{Host: "127.0.0.1", Port: port}, f.orchestrator, nil, logs.GetLoggerFromLevel(slog.LevelDebug))

	// Then it reports a bind error
	req.ErrorIs(err, errors.ErrBind)
}

func TestServer_JoinRelayLeave(t *testing.T) {
	req := require.New(t)
	f := startServer(t, time.Second)
	alice := domain.Participant{ID: domain.NewParticipantID(), Name: "alice"}
	relayed := make(chan protocol.Event, 4)
	left := make(chan struct{})

	// Given the orchestrator accepts alice
	f.orchestrator.EXPECT().
		Join(gomock.Any(), "alice", gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, name string, remote netip.AddrPort, handle contract.Handle) (domain.Participant, error) {
			alice.RemoteAddr = remote
			return alice, nil
		}).Times(1)
	f.orchestrator.EXPECT().
		RelayReliable(gomock.Any(), gomock.Any(), gomock.Any()).
		Do(func(_ context.Context, from domain.Participant, evt protocol.Event) {
			relayed <- evt
		}).Times(2)
	f.orchestrator.EXPECT().
		Leave(gomock.Any(), alice.ID).
		DoAndReturn(func(context.Context, domain.ParticipantID) bool {
			close(left)
			return true
		}).Times(1)

	// When alice says hello, sends garbage, then a chat and a clear
	conn := dial(t, f.server)
	writeEvent(t, conn, protocol.NewHello("alice"))
	req.NoError(protocol.WriteFrame(conn, []byte(`{"kind":"chat"`)))
	writeEvent(t, conn, protocol.NewChat("alice", "hi"))
	writeEvent(t, conn, protocol.NewClear())

	// Then only the well-formed events are relayed, in order
	req.Equal(protocol.NewChat("alice", "hi"), <-relayed)
	req.Equal(protocol.NewClear(), <-relayed)
	req.Equal(1.0, testutil.ToFloat64(f.metrics.DecodeErrors.WithLabelValues(domain.Reliable.String())))

	// And closing the socket makes alice leave
	req.NoError(conn.Close())
	select {
	case <-left:
	case <-time.After(2 * time.Second):
		req.Fail("participant never left")
	}
}

func TestServer_EmptyUsernameGetsFallback(t *testing.T) {
	req := require.New(t)
	f := startServer(t, time.Second)
	conn := dial(t, f.server)
	local := conn.LocalAddr().(*net.TCPAddr)
	joined := make(chan string, 1)
	left := make(chan struct{})

	f.orchestrator.EXPECT().
		Join(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, name string, remote netip.AddrPort, _ contract.Handle) (domain.Participant, error) {
			joined <- name
			return domain.Participant{ID: domain.NewParticipantID(), Name: name, RemoteAddr: remote}, nil
		}).Times(1)
	f.orchestrator.EXPECT().Leave(gomock.Any(), gomock.Any()).
		DoAndReturn(func(context.Context, domain.ParticipantID) bool {
			close(left)
			return true
		}).Times(1)

	writeEvent(t, conn, protocol.NewHello("   "))

	req.Equal(domain.FallbackName(local.AddrPort()), <-joined)
	req.NoError(conn.Close())
	<-left
}

func TestServer_HandshakeRejectsNonHello(t *testing.T) {
	req := require.New(t)
	f := startServer(t, time.Second)
	f.orchestrator.EXPECT().Join(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	// When the first frame is a chat
	conn := dial(t, f.server)
	writeEvent(t, conn, protocol.NewChat("alice", "skipping hello"))

	// Then the server closes the connection without registering it
	waitClosed(t, conn)
	req.Eventually(func() bool {
		return testutil.ToFloat64(f.metrics.HandshakeFailures) == 1
	}, time.Second, 5*time.Millisecond)
}

func TestServer_HandshakeTimeout(t *testing.T) {
	req := require.New(t)
	f := startServer(t, 50*time.Millisecond)
	f.orchestrator.EXPECT().Join(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

	// When the client connects and says nothing
	conn := dial(t, f.server)

	// Then it is dropped once the handshake deadline passes
	waitClosed(t, conn)
	req.Eventually(func() bool {
		return testutil.ToFloat64(f.metrics.HandshakeFailures) == 1
	}, time.Second, 5*time.Millisecond)
}
