package commands

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"p2pdir/audit"
)

var (
	auditListen string
	auditSink   string
	auditPath   string
	tailCount   int
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Run or inspect the audit log collaborator",
}

var auditServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Accept audit records from directory servers",
	Long: `Run the audit collaborator. Directory servers with audit.enabled report
every completed operation here over ONC RPC; each record is appended to the
configured sink.

Examples:
  # Append "[ts] user -> OP param" lines to logs.txt
  p2pdir audit serve

  # Keep records in a Badger database instead
  p2pdir audit serve --sink badger --path ./audit-db`,
	RunE: runAuditServe,
}

var auditTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print the most recent records of a badger audit store",
	Long: `Print the newest records of a badger audit store, oldest first.
The store must not be open by a running "p2pdir audit serve".`,
	RunE: runAuditTail,
}

func init() {
	auditServeCmd.Flags().StringVar(&auditListen, "listen", "", "listen address (overrides audit_server.address)")
	auditServeCmd.Flags().StringVar(&auditSink, "sink", "", "file or badger (overrides audit_server.sink)")
	auditServeCmd.Flags().StringVar(&auditPath, "path", "", "log file or database directory (overrides audit_server.path)")

	auditTailCmd.Flags().StringVar(&auditPath, "path", "", "database directory (overrides audit_server.path)")
	auditTailCmd.Flags().IntVarP(&tailCount, "lines", "n", 20, "number of records to print")

	auditCmd.AddCommand(auditServeCmd)
	auditCmd.AddCommand(auditTailCmd)
}

func openSink(kind, path string) (audit.Sink, error) {
	switch kind {
	case "file":
		return audit.OpenFileSink(path)
	case "badger":
		return audit.OpenBadgerSink(path)
	default:
		return nil, errors.Errorf("unknown audit sink %q", kind)
	}
}

func override(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}

func runAuditServe(cmd *cobra.Command, _ []string) error {
	cfg, log, err := setup()
	if err != nil {
		return err
	}
	override(&cfg.AuditServer.Address, auditListen)
	override(&cfg.AuditServer.Sink, auditSink)
	override(&cfg.AuditServer.Path, auditPath)

	sink, err := openSink(cfg.AuditServer.Sink, cfg.AuditServer.Path)
	if err != nil {
		return err
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.Error().Err(err).Msg("close audit sink")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info().
		Str("sink", cfg.AuditServer.Sink).
		Str("path", cfg.AuditServer.Path).
		Msg("starting audit collaborator")
	return audit.NewServer(cfg.AuditServer.Address, sink, log).Serve(ctx)
}

func runAuditTail(cmd *cobra.Command, _ []string) error {
	cfg, _, err := setup()
	if err != nil {
		return err
	}
	if auditPath == "" && cfg.AuditServer.Sink != "badger" {
		return errors.New("tail reads a badger store: pass --path or set audit_server.sink to badger")
	}
	override(&cfg.AuditServer.Path, auditPath)
	if tailCount <= 0 {
		return errors.Errorf("--lines must be positive, got %d", tailCount)
	}

	store, err := audit.OpenBadgerSink(cfg.AuditServer.Path)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	entries, err := store.Recent(tailCount)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	for _, e := range entries {
		fmt.Fprintln(out, e.String())
	}
	return nil
}
