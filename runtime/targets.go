package runtime

import (
	"context"
	"net/netip"
	"whiteboard-lab/contract"
	"whiteboard-lab/domain"
)

var (
	_ contract.Target = (*ParticipantTarget)(nil)
	_ contract.Target = (*AddressTarget)(nil)
)

// ParticipantTarget reaches one participant through its reliable handle.
type ParticipantTarget struct {
	ID     domain.ParticipantID
	Name   string
	handle contract.Handle
}

func (t *ParticipantTarget) Key() string { return t.ID.String() }

func (t *ParticipantTarget) Channel() domain.Channel { return domain.Reliable }

func (t *ParticipantTarget) Deliver(ctx context.Context, payload []byte) error {
	return t.handle.Send(ctx, payload)
}

// AddressTarget reaches one best-effort address through the shared datagram socket.
type AddressTarget struct {
	Addr   netip.AddrPort
	sender contract.DatagramSender
}

func (t *AddressTarget) Key() string { return t.Addr.String() }

func (t *AddressTarget) Channel() domain.Channel { return domain.BestEffort }

func (t *AddressTarget) Deliver(ctx context.Context, payload []byte) error {
	return t.sender.WriteTo(ctx, payload, t.Addr)
}
