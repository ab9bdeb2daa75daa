// Package runtime owns the shared participant state and routes events between
// the two channels. It contains no transport code.
package runtime

import (
	"context"
	"log/slog"
	"net/netip"
	"sync"
	"time"
	"whiteboard-lab/contract"
	"whiteboard-lab/domain"
	"whiteboard-lab/observability"
	"whiteboard-lab/protocol"
)

var _ contract.IOrchestrator = (*Orchestrator)(nil)

type Orchestrator struct {
	log        *slog.Logger
	supervisor contract.ISupervisor
	registry   contract.IRegistry
	dispatcher *Dispatcher
	metrics    *observability.Metrics

	mu       sync.RWMutex
	datagram contract.DatagramSender

	leaving sync.WaitGroup
}

func NewOrchestrator(log *slog.Logger, supervisor contract.ISupervisor, registry contract.IRegistry,
	dispatcher *Dispatcher, metrics *observability.Metrics) *Orchestrator {
	return &Orchestrator{
		log:        log,
		supervisor: supervisor,
		registry:   registry,
		dispatcher: dispatcher,
		metrics:    metrics,
	}
}

// UseDatagramSender wires the best-effort socket. Until it is set, the
// best-effort leg of a broadcast is skipped.
func (o *Orchestrator) UseDatagramSender(sender contract.DatagramSender) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.datagram = sender
}

// Start runs the given workers under supervision and blocks until ctx is done.
// On return every reliable handle is closed.
func (o *Orchestrator) Start(ctx context.Context, workers ...contract.Worker) {
	o.log.Info("Starting orchestrator and all supervised workers", "workers", len(workers))
	o.supervisor.Add(workers...).Run(ctx)
	o.Stop()
}

// Stop cancels the workers and closes every participant's handle.
// Participants closed this way get no "left" notice.
func (o *Orchestrator) Stop() {
	o.supervisor.Stop()
	o.registry.CloseAll()
	o.leaving.Wait()
	o.refreshPopulation()
}

// Join registers a participant and tells everyone else about it.
func (o *Orchestrator) Join(ctx context.Context, name string, remote netip.AddrPort, handle contract.Handle) (domain.Participant, error) {
	p, err := o.registry.Register(name, remote, handle)
	if err != nil {
		return domain.Participant{}, err
	}
	o.refreshPopulation()
	o.log.Info("Participant joined", "participant_id", p.ID, "name", p.Name, "remote_addr", p.RemoteAddr)

	o.notify(ctx, p.ID.String(), domain.JoinedNotice(p.Name))
	return p, nil
}

// Leave removes the participant, closes its handle and tells the remaining
// participants. Only the first call for a given ID has any effect.
func (o *Orchestrator) Leave(ctx context.Context, id domain.ParticipantID) bool {
	p, ok := o.registry.Remove(id)
	if !ok {
		return false
	}
	o.refreshPopulation()
	o.log.Info("Participant left", "participant_id", p.ID, "name", p.Name, "remote_addr", p.RemoteAddr)

	o.notify(ctx, "", domain.LeftNotice(p.Name))
	return true
}

// RelayReliable routes an event read from a participant's reliable channel.
func (o *Orchestrator) RelayReliable(ctx context.Context, from domain.Participant, evt protocol.Event) {
	o.metrics.IncReceived(domain.Reliable, evt.Kind)

	switch evt.Kind {
	case protocol.KindChat:
		// The handshake identity wins over whatever the client put in "user".
		payload, err := protocol.Encode(protocol.NewChat(from.Name, evt.Chat.Msg))
		if err != nil {
			o.log.Warn("Dropping chat event", "participant_id", from.ID, "error", err)
			return
		}
		o.broadcast(ctx, domain.Reliable, from.ID.String(), payload)

	case protocol.KindControl:
		payload, err := protocol.Encode(protocol.NewControl(evt.Control.Action))
		if err != nil {
			o.log.Warn("Dropping control event", "participant_id", from.ID, "error", err)
			return
		}
		o.log.Info("Control event", "participant_id", from.ID, "action", evt.Control.Action)
		o.broadcast(ctx, domain.Reliable, from.ID.String(), payload)
		o.broadcast(ctx, domain.BestEffort, "", payload)

	default:
		o.log.Debug("Ignoring event on reliable channel", "participant_id", from.ID, "kind", evt.Kind)
	}
}

// ObserveAddress learns the source of any datagram, valid or not.
func (o *Orchestrator) ObserveAddress(addr netip.AddrPort) {
	if o.registry.UpdateAddress(addr) {
		o.log.Info("Datagram address learned", "addr", addr)
		o.refreshPopulation()
	}
}

// RelayDatagram routes an event read from the best-effort socket. Draw events
// are forwarded as the exact bytes received.
func (o *Orchestrator) RelayDatagram(ctx context.Context, from netip.AddrPort, raw []byte, evt protocol.Event) {
	o.metrics.IncReceived(domain.BestEffort, evt.Kind)
	origin := unmap(from).String()

	switch evt.Kind {
	case protocol.KindDraw:
		o.broadcast(ctx, domain.BestEffort, origin, raw)

	case protocol.KindControl:
		payload, err := protocol.Encode(protocol.NewControl(evt.Control.Action))
		if err != nil {
			o.log.Warn("Dropping control datagram", "addr", from, "error", err)
			return
		}
		o.log.Info("Control datagram", "addr", from, "action", evt.Control.Action)
		o.broadcast(ctx, domain.BestEffort, origin, payload)
		o.broadcast(ctx, domain.Reliable, "", payload)

	case protocol.KindHelloDatagram:
		// Registration already happened in ObserveAddress.

	default:
		o.log.Debug("Ignoring event on best-effort channel", "addr", from, "kind", evt.Kind)
	}
}

func (o *Orchestrator) notify(ctx context.Context, origin, msg string) {
	payload, err := protocol.Encode(protocol.NewSystem(msg))
	if err != nil {
		o.log.Error("Cannot encode system notice", "msg", msg, "error", err)
		return
	}
	o.broadcast(ctx, domain.Reliable, origin, payload)
}

func (o *Orchestrator) broadcast(ctx context.Context, ch domain.Channel, origin string, payload []byte) {
	var targets []contract.Target
	switch ch {
	case domain.Reliable:
		targets = o.registry.ReliableTargets()
	case domain.BestEffort:
		o.mu.RLock()
		sender := o.datagram
		o.mu.RUnlock()
		if sender == nil {
			o.log.Debug("No datagram sender, skipping best-effort leg")
			return
		}
		targets = o.registry.DatagramTargets(sender)
	}

	start := time.Now()
	report := o.dispatcher.Broadcast(ctx, origin, payload, targets)
	o.metrics.ObserveBroadcast(ch, report.Delivered, len(report.Failed), time.Since(start))
	o.prune(ctx, report.Failed)
}

// prune turns delivery failures into removals. Reliable failures become a
// full Leave, run asynchronously because Leave broadcasts in turn.
func (o *Orchestrator) prune(ctx context.Context, failures []Failure) {
	for _, f := range failures {
		switch t := f.Target.(type) {
		case *ParticipantTarget:
			o.log.Warn("Reliable delivery failed, disconnecting", "participant_id", t.ID, "name", t.Name, "error", f.Err)
			o.leaving.Add(1)
			go func() {
				defer o.leaving.Done()
				o.Leave(context.WithoutCancel(ctx), t.ID)
			}()
		case *AddressTarget:
			if o.registry.PruneAddress(t.Addr) {
				o.log.Warn("Datagram delivery failed, address pruned", "addr", t.Addr, "error", f.Err)
				o.refreshPopulation()
			}
		default:
			o.log.Warn("Delivery failed", "target", f.Target.Key(), "error", f.Err)
		}
	}
}

func (o *Orchestrator) refreshPopulation() {
	o.metrics.SetPopulation(o.registry.Count(), o.registry.AddressCount())
}
