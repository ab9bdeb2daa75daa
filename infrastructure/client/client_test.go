package client

import (
	"context"
	"log/slog"
	"net"
	"testing"
	"time"
	"whiteboard-lab/protocol"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

// fakeHub is a bare pair of sockets standing in for the hub.
type fakeHub struct {
	listener net.Listener
	udp      *net.UDPConn
}

func newFakeHub(t *testing.T) fakeHub {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	udp, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = listener.Close()
		_ = udp.Close()
	})
	return fakeHub{listener: listener, udp: udp}
}

func (h fakeHub) options(name string) Options {
	return Options{StreamAddr: h.listener.Addr().String(), DatagramAddr: h.udp.LocalAddr().String(), Name: name}
}

func (h fakeHub) readDatagram(t *testing.T) (protocol.Event, *net.UDPAddr) {
	buffer := make([]byte, protocol.MaxDatagramSize)
	require.NoError(t, h.udp.SetReadDeadline(time.Now().Add(2*time.Second)))
	n, from, err := h.udp.ReadFromUDP(buffer)
	require.NoError(t, err)
	evt, err := protocol.Decode(buffer[:n])
	require.NoError(t, err)
	return evt, from
}

func readEvent(t *testing.T, conn net.Conn) protocol.Event {
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	frame, err := protocol.ReadFrame(conn, protocol.DefaultMaxFrameSize)
	require.NoError(t, err)
	evt, err := protocol.Decode(frame)
	require.NoError(t, err)
	return evt
}

func dialFakeHub(t *testing.T, hub fakeHub, name string) (*Client, net.Conn) {
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := hub.listener.Accept()
		if err == nil {
			accepted <- conn
		}
	}()
	c, err := Dial(context.Background(), hub.options(name), logs.GetLoggerFromLevel(slog.LevelDebug))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	server := <-accepted
	t.Cleanup(func() { _ = server.Close() })
	return c, server
}

func TestDial_AnnouncesBothChannels(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)

	c, server := dialFakeHub(t, hub, "alice")

	// Then the hub first sees a hello on the reliable channel
	req.Equal(protocol.NewHello("alice"), readEvent(t, server))
	// And a hello-datagram from the client's datagram socket
	evt, from := hub.readDatagram(t)
	req.Equal(protocol.NewHelloDatagram(), evt)
	req.Equal(c.LocalDatagramAddr().(*net.UDPAddr).Port, from.Port)
}

func TestDial_InvalidOptions(t *testing.T) {
	req := require.New(t)

	_, err := Dial(context.Background(), Options{Name: "alice"}, logs.GetLoggerFromLevel(slog.LevelDebug))

	req.Error(err)
}

func TestClient_SendChatAndDraw(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	c, server := dialFakeHub(t, hub, "alice")
	readEvent(t, server)
	hub.readDatagram(t)

	// When alice chats and draws
	req.NoError(c.SendChat("hello"))
	req.NoError(c.SendDraw(protocol.Draw{Color: "#00ff00", Width: 4, X1: 1, Y1: 1, X2: 9, Y2: 9}))

	// Then the chat is framed on the stream and the draw is stamped with her name
	req.Equal(protocol.NewChat("alice", "hello"), readEvent(t, server))
	evt, _ := hub.readDatagram(t)
	req.Equal(protocol.KindDraw, evt.Kind)
	req.Equal("alice", evt.Draw.User)
	req.Equal(9.0, evt.Draw.X2)
}

func TestClient_ClearUsesBothChannels(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	c, server := dialFakeHub(t, hub, "alice")
	readEvent(t, server)
	hub.readDatagram(t)

	req.NoError(c.Clear())

	req.Equal(protocol.NewClear(), readEvent(t, server))
	evt, _ := hub.readDatagram(t)
	req.Equal(protocol.NewClear(), evt)
}

func TestClient_ReceivesAndSkipsMalformed(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	c, server := dialFakeHub(t, hub, "alice")
	readEvent(t, server)
	_, from := hub.readDatagram(t)

	// When the hub sends garbage followed by valid events on both channels
	req.NoError(protocol.WriteFrame(server, []byte("garbage")))
	payload, err := protocol.Encode(protocol.NewSystem("bob joined."))
	req.NoError(err)
	req.NoError(protocol.WriteFrame(server, payload))
	_, err = hub.udp.WriteToUDP([]byte("garbage"), from)
	req.NoError(err)
	_, err = hub.udp.WriteToUDP([]byte(`{"kind":"control","action":"clear"}`), from)
	req.NoError(err)

	// Then only the valid events come out
	select {
	case evt := <-c.Reliable():
		req.Equal(protocol.NewSystem("bob joined."), evt)
	case <-time.After(2 * time.Second):
		req.Fail("no reliable event")
	}
	select {
	case evt := <-c.Datagrams():
		req.Equal(protocol.NewClear(), evt)
	case <-time.After(2 * time.Second):
		req.Fail("no datagram event")
	}
}

func TestClient_ReliableClosesWhenHubDisconnects(t *testing.T) {
	req := require.New(t)
	hub := newFakeHub(t)
	c, server := dialFakeHub(t, hub, "alice")

	req.NoError(server.Close())

	req.Eventually(func() bool {
		select {
		case _, ok := <-c.Reliable():
			return !ok
		default:
			return false
		}
	}, 2*time.Second, 5*time.Millisecond)
	req.NoError(c.Close())
}
