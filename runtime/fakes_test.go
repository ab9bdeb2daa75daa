package runtime

import (
	"context"
	"net/netip"
	"sync"
	"testing"
	"whiteboard-lab/protocol"

	"github.com/stretchr/testify/require"
)

// recordingHandle is an in-memory reliable handle.
type recordingHandle struct {
	mu       sync.Mutex
	payloads [][]byte
	closed   int
	fail     error
}

func (h *recordingHandle) Send(_ context.Context, payload []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.fail != nil {
		return h.fail
	}
	h.payloads = append(h.payloads, append([]byte(nil), payload...))
	return nil
}

func (h *recordingHandle) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed++
	return nil
}

func (h *recordingHandle) closeCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

func (h *recordingHandle) events(t *testing.T) []protocol.Event {
	h.mu.Lock()
	defer h.mu.Unlock()
	return decodeAll(t, h.payloads)
}

// recordingSender is an in-memory datagram socket.
type recordingSender struct {
	mu      sync.Mutex
	sent    map[netip.AddrPort][][]byte
	failing map[netip.AddrPort]error
}

func newRecordingSender() *recordingSender {
	return &recordingSender{
		sent:    make(map[netip.AddrPort][][]byte),
		failing: make(map[netip.AddrPort]error),
	}
}

func (s *recordingSender) WriteTo(_ context.Context, payload []byte, addr netip.AddrPort) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.failing[addr]; err != nil {
		return err
	}
	s.sent[addr] = append(s.sent[addr], append([]byte(nil), payload...))
	return nil
}

func (s *recordingSender) payloads(addr netip.AddrPort) [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sent[addr]
}

func decodeAll(t *testing.T, payloads [][]byte) []protocol.Event {
	var events []protocol.Event
	for _, p := range payloads {
		evt, err := protocol.Decode(p)
		require.NoError(t, err)
		events = append(events, evt)
	}
	return events
}

func systemMessages(events []protocol.Event) []string {
	var msgs []string
	for _, e := range events {
		if e.Kind == protocol.KindSystem {
			msgs = append(msgs, e.System.Msg)
		}
	}
	return msgs
}
