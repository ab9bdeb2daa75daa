package internal

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"
	"whiteboard-lab/contract"
	"whiteboard-lab/domain"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/samber/lo"
)

var _ contract.Worker = (*DebugServer)(nil)

type ParticipantView struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	RemoteAddr   string    `json:"remote_addr"`
	DatagramAddr string    `json:"datagram_addr,omitempty"`
	JoinedAt     time.Time `json:"joined_at"`
}

type Stats struct {
	Participants      []ParticipantView `json:"participants"`
	DatagramAddresses int               `json:"datagram_addresses"`
}

// DebugServer exposes metrics and a read-only view of the registry over HTTP.
type DebugServer struct {
	listener net.Listener
	server   *http.Server
	log      *slog.Logger
}

func NewDebugServer(host string, port int, registry contract.IRegistry, gatherer prometheus.Gatherer, log *slog.Logger) (*DebugServer, error) {
	address := net.JoinHostPort(host, strconv.Itoa(port))
	listener, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("debug server on %s: %w", address, err)
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = fmt.Fprint(w, "ok")
	})
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snapshot(registry)); err != nil {
			log.Warn("Cannot write stats", "error", err)
		}
	})

	return &DebugServer{
		listener: listener,
		server:   &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log:      log,
	}, nil
}

func (d *DebugServer) Addr() net.Addr {
	return d.listener.Addr()
}

func (d *DebugServer) Run(ctx context.Context) error {
	d.log.Info("Debug server listening", "address", d.listener.Addr())
	errChan := make(chan error, 1)
	go func() {
		if err := d.server.Serve(d.listener); err != nil && !stderrors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	return d.server.Shutdown(shutdownCtx)
}

func snapshot(registry contract.IRegistry) Stats {
	return Stats{
		Participants: lo.Map(registry.Participants(), func(p domain.Participant, _ int) ParticipantView {
			view := ParticipantView{
				ID:         p.ID.String(),
				Name:       p.Name,
				RemoteAddr: p.RemoteAddr.String(),
				JoinedAt:   p.JoinedAt,
			}
			if p.HasDatagramAddr() {
				view.DatagramAddr = p.DatagramAddr.String()
			}
			return view
		}),
		DatagramAddresses: registry.AddressCount(),
	}
}
