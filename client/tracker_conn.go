// Package client talks to the directory server: one connection per
// request, fields sent NUL-terminated, codes and payloads decoded as the
// server writes them.
package client

import (
	"bufio"
	"context"
	"io"
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"p2pdir/common"
	"p2pdir/registry"
	"p2pdir/tracker"
)

// DefaultTimeout bounds one request, dial included.
const DefaultTimeout = 5 * time.Second

// ErrNoResponse means the server closed the connection without answering,
// which it does for malformed or unknown requests.
var ErrNoResponse = errors.New("directory server sent no response")

// Client sends requests to the directory server at Addr.
type Client struct {
	addr    string
	clock   Clock
	timeout time.Duration
	dialer  net.Dialer
}

// New returns a client for addr. A nil clock uses the local clock.
func New(addr string, clock Clock, timeout time.Duration) *Client {
	if clock == nil {
		clock = LocalClock{}
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{addr: addr, clock: clock, timeout: timeout}
}

// exchange dials the server, writes command, timestamp and params, then
// hands the response stream to read.
func (c *Client) exchange(ctx context.Context, cmd string, params []string, read func(*bufio.Reader) error) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	ts, err := c.clock.Now(ctx)
	if err != nil {
		return errors.Wrap(err, "timestamp")
	}

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return errors.Wrapf(err, "dial directory %s", c.addr)
	}
	defer func() { _ = conn.Close() }()
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	w := bufio.NewWriter(conn)
	for _, field := range append([]string{cmd, ts}, params...) {
		if err := common.WriteString(w, field); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(err, "send request")
	}

	err = read(bufio.NewReader(conn))
	if errors.Is(err, io.EOF) {
		return errors.Wrap(ErrNoResponse, cmd)
	}
	return err
}

// simple runs a command answered by a 4-byte code.
func (c *Client) simple(ctx context.Context, cmd string, params ...string) (int, error) {
	var code int32
	err := c.exchange(ctx, cmd, params, func(r *bufio.Reader) error {
		var err error
		code, err = common.ReadCode32(r)
		return err
	})
	return int(code), err
}

func (c *Client) Register(ctx context.Context, user string) (int, error) {
	return c.simple(ctx, tracker.CmdRegister, user)
}

func (c *Client) Unregister(ctx context.Context, user string) (int, error) {
	return c.simple(ctx, tracker.CmdUnregister, user)
}

// Connect announces that user accepts GET_FILE requests on port. The
// server records the IP it sees for this connection.
func (c *Client) Connect(ctx context.Context, user string, port int) (int, error) {
	return c.simple(ctx, tracker.CmdConnect, user, strconv.Itoa(port))
}

func (c *Client) Disconnect(ctx context.Context, user string) (int, error) {
	return c.simple(ctx, tracker.CmdDisconnect, user)
}

func (c *Client) Publish(ctx context.Context, user, filename, description string) (int, error) {
	return c.simple(ctx, tracker.CmdPublish, user, filename, description)
}

func (c *Client) Delete(ctx context.Context, user, filename string) (int, error) {
	return c.simple(ctx, tracker.CmdDelete, user, filename)
}

// ListUsers returns the connected users as seen by user.
func (c *Client) ListUsers(ctx context.Context, user string) (int, []registry.Peer, error) {
	var (
		code  uint8
		peers []registry.Peer
	)
	err := c.exchange(ctx, tracker.CmdListUsers, []string{user}, func(r *bufio.Reader) error {
		var err error
		if code, err = common.ReadCode8(r); err != nil || code != tracker.CodeOK {
			return err
		}
		n, err := readCount(r)
		if err != nil {
			return err
		}
		peers = make([]registry.Peer, 0, n)
		for i := 0; i < n; i++ {
			var p registry.Peer
			if p.Username, err = common.ReadString(r); err != nil {
				return err
			}
			if p.IP, err = common.ReadString(r); err != nil {
				return err
			}
			port, err := common.ReadString(r)
			if err != nil {
				return err
			}
			p.Port, _ = common.Atoi(port)
			peers = append(peers, p)
		}
		return nil
	})
	return int(code), peers, err
}

// ListContent returns the files published by target.
func (c *Client) ListContent(ctx context.Context, user, target string) (int, []string, error) {
	var (
		code  uint8
		files []string
	)
	err := c.exchange(ctx, tracker.CmdListContent, []string{user, target}, func(r *bufio.Reader) error {
		var err error
		if code, err = common.ReadCode8(r); err != nil || code != tracker.CodeOK {
			return err
		}
		n, err := readCount(r)
		if err != nil {
			return err
		}
		files = make([]string, 0, n)
		for i := 0; i < n; i++ {
			f, err := common.ReadString(r)
			if err != nil {
				return err
			}
			files = append(files, f)
		}
		return nil
	})
	return int(code), files, err
}

func readCount(r *bufio.Reader) (int, error) {
	s, err := common.ReadString(r)
	if err != nil {
		return 0, err
	}
	n, clean := common.Atoi(s)
	if !clean || n < 0 {
		return 0, errors.Errorf("invalid count %q", s)
	}
	return n, nil
}
