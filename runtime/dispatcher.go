package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"whiteboard-lab/contract"
	"whiteboard-lab/errors"

	"golang.org/x/sync/errgroup"
)

// Failure is one target that could not be reached during a broadcast.
type Failure struct {
	Target contract.Target
	Err    error
}

// Report summarises one broadcast. Failures are data, never errors: the
// caller decides how to prune the failed targets.
type Report struct {
	Delivered int
	Failed    []Failure
}

// Dispatcher is the fan-out primitive shared by both channels.
//
// Every target gets its own task, at most maxInFlight at a time, and every task
// is bounded by the delivery timeout even when the target ignores its context.
// One unresponsive peer therefore costs at most one timeout and never blocks
// delivery to the others.
type Dispatcher struct {
	log         *slog.Logger
	timeout     time.Duration
	maxInFlight int
}

func NewDispatcher(log *slog.Logger, timeout time.Duration, maxInFlight int) *Dispatcher {
	return &Dispatcher{log: log, timeout: timeout, maxInFlight: maxInFlight}
}

// Broadcast delivers payload to every target whose key differs from origin and
// waits until each delivery has either completed or timed out.
// Delivery order across targets is unspecified.
func (d *Dispatcher) Broadcast(ctx context.Context, origin string, payload []byte, targets []contract.Target) Report {
	var (
		mu     sync.Mutex
		report Report
		group  errgroup.Group
	)
	if d.maxInFlight > 0 {
		group.SetLimit(d.maxInFlight)
	}

	for _, target := range targets {
		if target.Key() == origin {
			continue
		}
		group.Go(func() error {
			err := d.deliver(ctx, target, payload)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed = append(report.Failed, Failure{Target: target, Err: err})
				return nil
			}
			report.Delivered++
			return nil
		})
	}
	_ = group.Wait()
	return report
}

func (d *Dispatcher) deliver(ctx context.Context, target contract.Target, payload []byte) error {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic: %v", r)
			}
		}()
		done <- target.Deliver(ctx, payload)
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("%w to %s: %w", errors.ErrDelivery, target.Key(), err)
		}
		return nil
	case <-ctx.Done():
		d.log.Debug("Delivery abandoned", "target", target.Key(), "channel", target.Channel(), "error", ctx.Err())
		return fmt.Errorf("%w to %s: %w", errors.ErrDeliveryTimeout, target.Key(), ctx.Err())
	}
}
