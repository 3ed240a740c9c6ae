package audit

import (
	"context"
	"net"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
)

// DefaultTimeout bounds one LOG_OPERATION call, dial included.
const DefaultTimeout = 2 * time.Second

// ErrRejected is returned when the collaborator answers with a non-zero
// status.
var ErrRejected = errors.New("audit entry rejected")

// RPCClient calls LOG_OPERATION on the collaborator over a fresh TCP
// connection per entry.
type RPCClient struct {
	addr    string
	timeout time.Duration
	dialer  net.Dialer
	xid     atomic.Uint32
}

// NewRPCClient returns a client for the collaborator at addr.
func NewRPCClient(addr string, timeout time.Duration) *RPCClient {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	c := &RPCClient{addr: addr, timeout: timeout}
	c.xid.Store(uint32(time.Now().UnixNano()))
	return c
}

// Notify sends e and waits for the collaborator's status.
func (c *RPCClient) Notify(ctx context.Context, e Entry) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return errors.Wrapf(err, "dial audit collaborator %s", c.addr)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		if err := conn.SetDeadline(deadline); err != nil {
			return errors.Wrap(err, "set deadline")
		}
	}

	xid := c.xid.Add(1)
	call, err := encodeCall(xid, ProcLog, toArgs(e))
	if err != nil {
		return err
	}
	if err := writeRecord(conn, call); err != nil {
		return err
	}

	reply, err := readRecord(conn)
	if err != nil {
		return errors.Wrap(err, "read audit reply")
	}
	status, err := decodeLogReply(reply, xid)
	if err != nil {
		return err
	}
	if status != 0 {
		return errors.Wrapf(ErrRejected, "status %d", status)
	}
	return nil
}

// Ping calls the NULL procedure; it is used to check the collaborator at
// startup.
func (c *RPCClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	conn, err := c.dialer.DialContext(ctx, "tcp", c.addr)
	if err != nil {
		return errors.Wrapf(err, "dial audit collaborator %s", c.addr)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	xid := c.xid.Add(1)
	call, err := encodeCall(xid, ProcNull, nil)
	if err != nil {
		return err
	}
	if err := writeRecord(conn, call); err != nil {
		return err
	}
	reply, err := readRecord(conn)
	if err != nil {
		return errors.Wrap(err, "read audit reply")
	}
	return checkNullReply(reply, xid)
}
