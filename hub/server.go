// Package hub provides a reusable coordination server that can be
// embedded in other binaries (e.g. an all-in-one agent runner).
package hub

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"

	"github.com/swarmhub/swarmhub/internal/hub/auth"
	"github.com/swarmhub/swarmhub/internal/hub/config"
	"github.com/swarmhub/swarmhub/internal/hub/connhub"
	"github.com/swarmhub/swarmhub/internal/hub/eventlog"
	"github.com/swarmhub/swarmhub/internal/hub/httpapi"
	"github.com/swarmhub/swarmhub/internal/hub/project"
	"github.com/swarmhub/swarmhub/internal/hub/registry"
	"github.com/swarmhub/swarmhub/internal/logging"
	"github.com/swarmhub/swarmhub/internal/metrics"
)

// Server is a reusable hub server instance.
type Server struct {
	cfg    *config.Config
	server *http.Server
	reg    *registry.Registry
	conns  *connhub.Hub
}

// NewServer wires the hub: project registry, connection hub, HTTP API
// and metrics. Call Serve to start listening.
func NewServer(cfg *config.Config) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := cfg.EnsureDataDir(); err != nil {
		return nil, fmt.Errorf("prepare data dir: %w", err)
	}

	checker := auth.New(cfg.AuthToken)

	var conns *connhub.Hub
	reg := registry.New(registry.Options{
		ProjectDir: cfg.ProjectDir,
		ActorConfig: project.Config{
			HeartbeatTimeout: cfg.HeartbeatTimeout(),
			OrchTimeout:      cfg.OrchTimeout(),
			AuctionDefault:   cfg.AuctionDefault(),
			MinLeaseTTL:      cfg.MinLeaseTTL(),
			MaxLeaseTTL:      cfg.MaxLeaseTTL(),
			AgentTTL:         cfg.AgentTTL(),
			ScanInterval:     cfg.ScanInterval(),
			ReapInterval:     cfg.ReapInterval(),
			SnapshotEveryN:   cfg.SnapshotEveryN,
			SnapshotInterval: cfg.SnapshotInterval(),
			InboxCap:         cfg.InboxCap,
		},
		IdleAfter: cfg.ProjectIdle(),
		// conns is assigned right below; the closure sees it by then.
		ConnCount: func(projectID string) int {
			if conns == nil {
				return 0
			}
			return conns.ConnCount(projectID)
		},
		LogOptions: eventlog.Options{QueueSize: cfg.MaxEventQueue},
	})

	conns = connhub.New(connhub.Options{
		Auth:        checker,
		Registry:    reg,
		QueueSize:   cfg.MaxEventQueue,
		MaxPerProj:  cfg.MaxConnectionsPerProject,
		PongTimeout: cfg.PongTimeout(),
		IdleTimeout: cfg.IdleTimeout(),
	})

	mux := http.NewServeMux()
	mux.Handle("/ws", conns)
	mux.Handle("/metrics", promhttp.Handler())
	httpapi.New(checker, reg).Register(mux)

	h2cHandler := h2c.NewHandler(logging.HTTPMiddleware(metrics.HTTPMiddleware(mux)), &http2.Server{
		MaxConcurrentStreams: 1000,
	})

	return &Server{
		cfg: cfg,
		server: &http.Server{
			Handler:           h2cHandler,
			ReadHeaderTimeout: 10 * time.Second,
		},
		reg:   reg,
		conns: conns,
	}, nil
}

// Registry exposes the project registry for embedding binaries.
func (s *Server) Registry() *registry.Registry {
	return s.reg
}

// Serve starts the hub on TCP and Unix socket listeners. It blocks
// until ctx is cancelled, then performs graceful shutdown.
func (s *Server) Serve(ctx context.Context) error {
	s.reg.SetFanout(s.conns.Fanout)

	sockPath := s.cfg.SocketPath()
	if err := removeStaleSocket(sockPath); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}

	var tcpLn net.Listener
	if s.cfg.BindAddr != "" {
		var err error
		tcpLn, err = net.Listen("tcp", s.cfg.BindAddr)
		if err != nil {
			return fmt.Errorf("listen tcp: %w", err)
		}
	}

	unixLn, err := net.Listen("unix", sockPath)
	if err != nil {
		if tcpLn != nil {
			_ = tcpLn.Close()
		}
		return fmt.Errorf("listen unix: %w", err)
	}
	if err := os.Chmod(sockPath, 0o600); err != nil {
		if tcpLn != nil {
			_ = tcpLn.Close()
		}
		_ = unixLn.Close()
		return fmt.Errorf("chmod socket: %w", err)
	}

	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		slog.Info("hub shutting down...")

		// 1. Stop accepting new connections and drain in-flight requests.
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = s.server.Shutdown(shutdownCtx)

		// 2. Checkpoint and close every open project, flushing its log.
		s.reg.Shutdown()

		close(shutdownDone)
	}()

	listenerCount := 1 // unix listener always present
	if tcpLn != nil {
		listenerCount = 2
	}
	errCh := make(chan error, listenerCount)

	if tcpLn != nil {
		go func() { errCh <- s.server.Serve(tcpLn) }()
	}
	go func() { errCh <- s.server.Serve(unixLn) }()

	if tcpLn != nil {
		slog.Info("hub listening", "addr", s.cfg.BindAddr, "socket", sockPath)
	} else {
		slog.Info("hub listening", "socket", sockPath)
	}

	if err := <-errCh; err != http.ErrServerClosed {
		return fmt.Errorf("serve: %w", err)
	}
	for i := 1; i < listenerCount; i++ {
		<-errCh
	}

	// 3. Wait for the shutdown goroutine to complete.
	<-shutdownDone

	// 4. Clean up socket.
	_ = os.Remove(sockPath)
	return nil
}

// removeStaleSocket removes a leftover socket file from a previous crash.
func removeStaleSocket(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode().Type() == fs.ModeSocket {
		return os.Remove(path)
	}
	return fmt.Errorf("%s exists but is not a socket", path)
}
