package commands

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"p2pdir/client"
	"p2pdir/tracker"
)

var (
	serverAddr  string
	timeURL     string
	timeout     time.Duration
	sessionPath string
	asUser      string
)

var clientCmd = &cobra.Command{
	Use:   "client",
	Short: "Send a single request to a directory server",
	Long: `Send one request to a directory server and print the outcome.

Commands that act on behalf of a user take it from --user, or from the
session saved by "p2pdir client connect" and "p2pdir peer serve".

Examples:
  p2pdir client register alice
  p2pdir client connect alice 5000
  p2pdir client publish song.mp3 "a song"
  p2pdir client list-users
  p2pdir client list-content bob
  p2pdir client get-file bob song.mp3 ./song.mp3`,
}

// addConnectionFlags registers the directory connection flags on cmd.
func addConnectionFlags(cmd *cobra.Command) {
	f := cmd.PersistentFlags()
	f.StringVarP(&serverAddr, "server", "s", "127.0.0.1:8888", "directory server address")
	f.StringVar(&timeURL, "time-url", "", "take request timestamps from this /fecha URL instead of the local clock")
	f.DurationVar(&timeout, "timeout", client.DefaultTimeout, "per request timeout")
	f.StringVar(&sessionPath, "session", client.SessionFile, "session file")
	f.StringVarP(&asUser, "user", "u", "", "act as this user (default: session user)")
}

func newClient() *client.Client {
	var clock client.Clock = client.LocalClock{}
	if timeURL != "" {
		clock = client.HTTPClock{URL: timeURL}
	}
	return client.New(serverAddr, clock, timeout)
}

// currentUser resolves --user, falling back to the saved session.
func currentUser() (string, error) {
	if asUser != "" {
		return asUser, nil
	}
	s, err := client.LoadSession(sessionPath)
	if err != nil {
		return "", err
	}
	if s.User == "" {
		return "", errors.New("no user: pass --user or connect first")
	}
	return s.User, nil
}

// report prints the outcome of cmd and turns a failure code into an error
// so the process exits non-zero.
func report(out io.Writer, cmd string, code int) error {
	fmt.Fprintln(out, client.Describe(cmd, code))
	if code != tracker.CodeOK {
		return &client.CodeError{Command: cmd, Code: code}
	}
	return nil
}

func init() {
	addConnectionFlags(clientCmd)

	clientCmd.AddCommand(
		&cobra.Command{
			Use:   "register USER",
			Short: "Register a user name",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				code, err := newClient().Register(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				return report(cmd.OutOrStdout(), tracker.CmdRegister, code)
			},
		},
		&cobra.Command{
			Use:   "unregister USER",
			Short: "Remove a user and every file it published",
			Args:  cobra.ExactArgs(1),
			RunE:  runUnregister,
		},
		&cobra.Command{
			Use:   "connect USER PORT",
			Short: "Announce that USER accepts transfers on PORT",
			Args:  cobra.ExactArgs(2),
			RunE:  runConnect,
		},
		&cobra.Command{
			Use:   "disconnect",
			Short: "Mark the user as offline",
			Args:  cobra.NoArgs,
			RunE:  runDisconnect,
		},
		&cobra.Command{
			Use:   "publish FILE DESCRIPTION",
			Short: "Advertise a shared file",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return asCurrentUser(cmd, tracker.CmdPublish, func(ctx context.Context, c *client.Client, user string) (int, error) {
					return c.Publish(ctx, user, args[0], args[1])
				})
			},
		},
		&cobra.Command{
			Use:   "delete FILE",
			Short: "Stop advertising a file",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return asCurrentUser(cmd, tracker.CmdDelete, func(ctx context.Context, c *client.Client, user string) (int, error) {
					return c.Delete(ctx, user, args[0])
				})
			},
		},
		&cobra.Command{
			Use:   "list-users",
			Short: "List connected users and where to reach them",
			Args:  cobra.NoArgs,
			RunE:  runListUsers,
		},
		&cobra.Command{
			Use:   "list-content OWNER",
			Short: "List the files published by OWNER",
			Args:  cobra.ExactArgs(1),
			RunE:  runListContent,
		},
		&cobra.Command{
			Use:   "get-file OWNER REMOTE LOCAL",
			Short: "Download REMOTE from OWNER's peer into LOCAL",
			Args:  cobra.ExactArgs(3),
			RunE:  runGetFile,
		},
	)
}

func asCurrentUser(cmd *cobra.Command, name string, do func(context.Context, *client.Client, string) (int, error)) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	code, err := do(cmd.Context(), newClient(), user)
	if err != nil {
		return err
	}
	return report(cmd.OutOrStdout(), name, code)
}

func runUnregister(cmd *cobra.Command, args []string) error {
	code, err := newClient().Unregister(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	if code == tracker.CodeOK {
		if s, _ := client.LoadSession(sessionPath); s.User == args[0] {
			_ = client.ClearSession(sessionPath)
		}
	}
	return report(cmd.OutOrStdout(), tracker.CmdUnregister, code)
}

func runConnect(cmd *cobra.Command, args []string) error {
	port, err := strconv.Atoi(args[1])
	if err != nil || port < 1 || port > 65535 {
		return errors.Errorf("invalid port %q", args[1])
	}
	code, err := newClient().Connect(cmd.Context(), args[0], port)
	if err != nil {
		return err
	}
	if code == tracker.CodeOK {
		if err := client.SaveSession(sessionPath, client.Session{User: args[0], ListenPort: port}); err != nil {
			return err
		}
	}
	return report(cmd.OutOrStdout(), tracker.CmdConnect, code)
}

func runDisconnect(cmd *cobra.Command, _ []string) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	code, err := newClient().Disconnect(cmd.Context(), user)
	if err != nil {
		return err
	}
	if code == tracker.CodeOK {
		_ = client.ClearSession(sessionPath)
	}
	return report(cmd.OutOrStdout(), tracker.CmdDisconnect, code)
}

func runListUsers(cmd *cobra.Command, _ []string) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	code, peers, err := newClient().ListUsers(cmd.Context(), user)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := report(out, tracker.CmdListUsers, code); err != nil {
		return err
	}
	for _, p := range peers {
		fmt.Fprintf(out, "\t%s %s %d\n", p.Username, p.IP, p.Port)
	}
	return nil
}

func runListContent(cmd *cobra.Command, args []string) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	code, files, err := newClient().ListContent(cmd.Context(), user, args[0])
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if err := report(out, tracker.CmdListContent, code); err != nil {
		return err
	}
	for _, f := range files {
		fmt.Fprintf(out, "\t%s\n", f)
	}
	return nil
}

func runGetFile(cmd *cobra.Command, args []string) error {
	user, err := currentUser()
	if err != nil {
		return err
	}
	n, err := newClient().FetchFile(cmd.Context(), user, args[0], args[1], args[2])
	if err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "GET_FILE FAIL")
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "GET_FILE OK (%s)\n", humanize.Bytes(uint64(n)))
	return nil
}
