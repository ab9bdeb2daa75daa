//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_contract.go -package=mocks
package contract

import (
	"context"
	"net/netip"
	"reflect"
	"whiteboard-lab/domain"
	"whiteboard-lab/protocol"
)

type ISupervisor interface {
	Add(worker ...Worker) ISupervisor
	Run(ctx context.Context)
	Start(ctx context.Context, worker Worker)
	Stop()
}

type WorkerName string

// Worker doesn't protect itself
// Can be silly, focused
type Worker interface {
	Run(ctx context.Context) error
}

// GetWorkerName uses reflection to retrieve the type name of the worker.
// This is used for logging and supervision purposes during worker initialization
// or lifecycle events, avoiding the need for manual naming in the Worker interface.
func GetWorkerName(w Worker) string {
	if w == nil {
		return "NilWorker"
	}
	t := reflect.TypeOf(w)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t.Name()
}

// Handle is the server side of one reliable connection.
// Send must honour the context deadline; Close must be safe to call more than once.
type Handle interface {
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// Target is one destination of a broadcast, on either channel.
type Target interface {
	Key() string
	Channel() domain.Channel
	Deliver(ctx context.Context, payload []byte) error
}

// DatagramSender writes one datagram to one address.
type DatagramSender interface {
	WriteTo(ctx context.Context, payload []byte, addr netip.AddrPort) error
}

type IRegistry interface {
	Register(name string, remote netip.AddrPort, handle Handle) (domain.Participant, error)
	UpdateAddress(addr netip.AddrPort) bool
	Remove(id domain.ParticipantID) (domain.Participant, bool)
	PruneAddress(addr netip.AddrPort) bool
	ReliableTargets() []Target
	DatagramTargets(sender DatagramSender) []Target
	Participants() []domain.Participant
	Count() int
	AddressCount() int
	CloseAll()
}

type IOrchestrator interface {
	Join(ctx context.Context, name string, remote netip.AddrPort, handle Handle) (domain.Participant, error)
	Leave(ctx context.Context, id domain.ParticipantID) bool
	RelayReliable(ctx context.Context, from domain.Participant, evt protocol.Event)
	ObserveAddress(addr netip.AddrPort)
	RelayDatagram(ctx context.Context, from netip.AddrPort, raw []byte, evt protocol.Event)
}
