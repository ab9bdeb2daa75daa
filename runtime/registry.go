package runtime

import (
	"cmp"
	"fmt"
	"net/netip"
	"slices"
	"sync"
	"time"
	"whiteboard-lab/contract"
	"whiteboard-lab/domain"
	"whiteboard-lab/errors"

	"github.com/samber/lo"
)

var _ contract.IRegistry = (*Registry)(nil)

type session struct {
	participant domain.Participant
	handle      contract.Handle
	seq         uint64
}

// Registry is the single source of truth for who is connected and how to reach them.
// Participants are keyed by ID; best-effort addresses are tracked on their own,
// independently of any participant.
type Registry struct {
	mu           sync.RWMutex
	sessions     map[domain.ParticipantID]*session
	handles      map[contract.Handle]domain.ParticipantID
	addresses    map[netip.AddrPort]uint64 // address -> first seen sequence
	seq          uint64
	pruneOnLeave bool
}

type RegistryOption func(*Registry)

// WithAddressPruningOnLeave drops a participant's associated datagram address
// when the participant is removed. Off by default: addresses otherwise live
// until a send to them fails.
func WithAddressPruningOnLeave(enabled bool) RegistryOption {
	return func(r *Registry) { r.pruneOnLeave = enabled }
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions:  make(map[domain.ParticipantID]*session),
		handles:   make(map[contract.Handle]domain.ParticipantID),
		addresses: make(map[netip.AddrPort]uint64),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register creates a participant owning handle.
// Names may repeat; only a handle that is already registered is refused.
func (r *Registry) Register(name string, remote netip.AddrPort, handle contract.Handle) (domain.Participant, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if id, ok := r.handles[handle]; ok {
		return domain.Participant{}, fmt.Errorf("%w: owned by participant %s", errors.ErrDuplicateHandle, id)
	}

	r.seq++
	p := domain.Participant{
		ID:         domain.NewParticipantID(),
		Name:       name,
		RemoteAddr: unmap(remote),
		JoinedAt:   time.Now().UTC(),
	}
	r.sessions[p.ID] = &session{participant: p, handle: handle, seq: r.seq}
	r.handles[handle] = p.ID
	return p, nil
}

// UpdateAddress records addr as a best-effort target and reports whether it was new.
// When exactly one participant's reliable peer shares the datagram's IP, that
// participant's DatagramAddr is set to addr (last seen wins). Several
// participants behind one IP stay unassociated.
func (r *Registry) UpdateAddress(addr netip.AddrPort) bool {
	addr = unmap(addr)

	r.mu.Lock()
	defer r.mu.Unlock()

	_, known := r.addresses[addr]
	if !known {
		r.seq++
		r.addresses[addr] = r.seq
	}

	owners := lo.Filter(lo.Values(r.sessions), func(s *session, _ int) bool {
		return s.participant.RemoteAddr.Addr() == addr.Addr()
	})
	if len(owners) == 1 {
		owners[0].participant.DatagramAddr = addr
	}
	return !known
}

// Remove deletes the participant and closes its handle.
// It is idempotent: only the call that actually removed the participant gets true.
func (r *Registry) Remove(id domain.ParticipantID) (domain.Participant, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	s, ok := r.sessions[id]
	if !ok {
		return domain.Participant{}, false
	}
	delete(r.sessions, id)
	delete(r.handles, s.handle)
	if r.pruneOnLeave && s.participant.HasDatagramAddr() {
		delete(r.addresses, s.participant.DatagramAddr)
	}
	// Closed under the lock so no snapshot can hand out a removed handle.
	_ = s.handle.Close()
	return s.participant, true
}

// PruneAddress forgets a best-effort address after a failed send.
func (r *Registry) PruneAddress(addr netip.AddrPort) bool {
	addr = unmap(addr)

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.addresses[addr]; !ok {
		return false
	}
	delete(r.addresses, addr)
	for _, s := range r.sessions {
		if s.participant.DatagramAddr == addr {
			s.participant.DatagramAddr = netip.AddrPort{}
		}
	}
	return true
}

// ReliableTargets snapshots every participant's handle, in join order.
func (r *Registry) ReliableTargets() []contract.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.orderedSessions(), func(s *session, _ int) contract.Target {
		return &ParticipantTarget{ID: s.participant.ID, Name: s.participant.Name, handle: s.handle}
	})
}

// DatagramTargets snapshots every known best-effort address, in first-seen order.
func (r *Registry) DatagramTargets(sender contract.DatagramSender) []contract.Target {
	r.mu.RLock()
	defer r.mu.RUnlock()

	addrs := lo.Keys(r.addresses)
	slices.SortFunc(addrs, func(a, b netip.AddrPort) int {
		return cmp.Compare(r.addresses[a], r.addresses[b])
	})
	return lo.Map(addrs, func(addr netip.AddrPort, _ int) contract.Target {
		return &AddressTarget{Addr: addr, sender: sender}
	})
}

func (r *Registry) Participants() []domain.Participant {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return lo.Map(r.orderedSessions(), func(s *session, _ int) domain.Participant {
		return s.participant
	})
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

func (r *Registry) AddressCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.addresses)
}

// CloseAll closes every handle and empties the participant table.
// Used on shutdown so peers observe termination instead of a silent timeout.
func (r *Registry) CloseAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, s := range r.sessions {
		_ = s.handle.Close()
		delete(r.sessions, id)
		delete(r.handles, s.handle)
	}
}

// orderedSessions must be called with the lock held.
func (r *Registry) orderedSessions() []*session {
	sessions := lo.Values(r.sessions)
	slices.SortFunc(sessions, func(a, b *session) int {
		return cmp.Compare(a.seq, b.seq)
	})
	return sessions
}

// unmap folds IPv4-mapped IPv6 addresses onto plain IPv4 so both forms compare equal.
func unmap(addr netip.AddrPort) netip.AddrPort {
	return netip.AddrPortFrom(addr.Addr().Unmap(), addr.Port())
}
