package commands

import (
	"context"
	"net"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"p2pdir/audit"
	"p2pdir/config"
	"p2pdir/httpapi"
	"p2pdir/metrics"
	"p2pdir/registry"
	"p2pdir/tracker"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the directory server",
	Long: `Run the directory server in the foreground until SIGINT or SIGTERM.

Examples:
  # Listen on server.address from the config (default :8888)
  p2pdir serve

  # Listen on port 4000 and report operations to an audit collaborator
  P2PDIR_AUDIT_ENABLED=true p2pdir serve -p 4000

  # Also expose /fecha, /metrics and the admin API
  P2PDIR_HTTP_ENABLED=true p2pdir serve`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (1024-65535), overrides the port of server.address")
}

// listenAddress replaces the port of base when port is set.
func listenAddress(base string, port int) (string, error) {
	if port == 0 {
		return base, nil
	}
	if port < 1024 || port > 65535 {
		return "", errors.Errorf("port %d out of range 1024-65535", port)
	}
	host, _, err := net.SplitHostPort(base)
	if err != nil {
		host = ""
	}
	return net.JoinHostPort(host, strconv.Itoa(port)), nil
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	addr, err := listenAddress(cfg.Server.Address, servePort)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("version", Version).
		Str("level", cfg.Logging.Level).
		Str("format", cfg.Logging.Format).
		Msg("starting p2pdir")

	reg := registry.New(registry.Limits{MaxUsers: cfg.Registry.MaxUsers, MaxFiles: cfg.Registry.MaxFiles})
	promReg := metrics.NewRegistry()
	m := metrics.New(promReg)
	m.WatchRegistry(reg)

	notifier, closeNotifier := buildNotifier(ctx, cfg.Audit, log, m)
	defer closeNotifier()

	srv := tracker.NewServer(tracker.ServerConfig{
		Address:         addr,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		MaxConnections:  cfg.Server.MaxConnections,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		MaxLineLength:   cfg.Server.MaxLineLength,
	}, reg, notifier, log, m)

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	var httpErr error
	if cfg.HTTP.Enabled {
		router := httpapi.NewRouter(reg, promReg, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if httpErr = httpapi.Serve(serveCtx, cfg.HTTP.Address, router, log, nil); httpErr != nil {
				cancel()
			}
		}()
	} else {
		log.Info().Msg("http server disabled")
	}

	err = srv.Serve(serveCtx)
	cancel()
	wg.Wait()
	if err == nil {
		err = httpErr
	}
	if err != nil {
		return err
	}
	log.Info().Msg("p2pdir stopped")
	return nil
}

// buildNotifier returns the audit notifier for cfg and a function that
// drains it on shutdown.
func buildNotifier(ctx context.Context, cfg config.AuditConfig, log zerolog.Logger, m *metrics.Tracker) (audit.Notifier, func()) {
	if !cfg.Enabled {
		log.Info().Msg("audit logging disabled")
		return audit.Nop{}, func() {}
	}

	rpc := audit.NewRPCClient(cfg.Address, cfg.Timeout)
	if err := rpc.Ping(ctx); err != nil {
		log.Warn().Err(err).Str("address", cfg.Address).Msg("audit collaborator unreachable, requests are served anyway")
	} else {
		log.Info().Str("address", cfg.Address).Bool("async", cfg.Async).Msg("audit collaborator reachable")
	}
	if !cfg.Async {
		return rpc, func() {}
	}

	async := audit.NewAsync(rpc, cfg.QueueSize, log, m)
	return async, func() {
		drainCtx, cancel := context.WithTimeout(context.Background(), 2*cfg.Timeout+time.Second)
		defer cancel()
		if err := async.Close(drainCtx); err != nil {
			log.Warn().Err(err).Int("pending", async.Pending()).Msg("audit queue not drained")
		}
	}
}
