package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"p2pdir/client"
	"p2pdir/peer"
	"p2pdir/tracker"
)

var (
	shareDir   string
	peerListen string
)

var peerCmd = &cobra.Command{
	Use:   "peer",
	Short: "Share files with other peers",
}

var peerServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory to other peers while connected",
	Long: `Listen for GET_FILE requests, announce the listening port to the
directory with CONNECT and serve files from --dir until interrupted. On
exit the user is disconnected again.

Example:
  p2pdir peer serve --user bob --dir ./shared`,
	Args: cobra.NoArgs,
	RunE: runPeerServe,
}

func init() {
	addConnectionFlags(peerCmd)
	peerServeCmd.Flags().StringVar(&shareDir, "dir", ".", "directory to share")
	peerServeCmd.Flags().StringVar(&peerListen, "listen", ":0", "transfer listen address")
	peerCmd.AddCommand(peerServeCmd)
}

func runPeerServe(cmd *cobra.Command, _ []string) error {
	_, log, err := setup()
	if err != nil {
		return err
	}
	user, err := currentUser()
	if err != nil {
		return err
	}
	if fi, err := os.Stat(shareDir); err != nil || !fi.IsDir() {
		return errors.Errorf("share directory %s is not a directory", shareDir)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := peer.NewServer(peerListen, shareDir, log)
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	select {
	case <-srv.Ready():
	case err := <-done:
		return err
	}

	c := newClient()
	out := cmd.OutOrStdout()
	code, err := c.Connect(ctx, user, srv.Port())
	if err == nil {
		err = report(out, tracker.CmdConnect, code)
	}
	if err != nil {
		srv.Stop()
		<-done
		return err
	}
	if err := client.SaveSession(sessionPath, client.Session{User: user, ListenPort: srv.Port()}); err != nil {
		log.Warn().Err(err).Msg("save session")
	}

	var serveErr error
	select {
	case <-ctx.Done():
		srv.Stop()
		serveErr = <-done
	case serveErr = <-done:
	}

	// ctx may already be cancelled; the farewell needs its own deadline.
	byeCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	code, err = c.Disconnect(byeCtx, user)
	if err != nil {
		log.Warn().Err(err).Msg("disconnect")
	} else {
		_ = report(out, tracker.CmdDisconnect, code)
		_ = client.ClearSession(sessionPath)
	}
	return serveErr
}
