package client

import (
	"context"
	"net"
	"slices"
	"strconv"

	"github.com/pkg/errors"

	"p2pdir/peer"
	"p2pdir/registry"
	"p2pdir/tracker"
)

var (
	// ErrNotPublished means owner has not published the requested file.
	ErrNotPublished = errors.New("file not published by owner")
	// ErrOwnerOffline means owner is not among the connected users.
	ErrOwnerOffline = errors.New("owner not connected")
)

// CodeError carries a non-zero result code from the directory server.
type CodeError struct {
	Command string
	Code    int
}

func (e *CodeError) Error() string {
	return Describe(e.Command, e.Code)
}

// FetchFile downloads remote from owner into local on behalf of user. It
// checks the listing first, then looks up owner's address and transfers
// the file directly from that peer.
func (c *Client) FetchFile(ctx context.Context, user, owner, remote, local string) (int64, error) {
	code, files, err := c.ListContent(ctx, user, owner)
	if err != nil {
		return 0, err
	}
	if code != tracker.CodeOK {
		return 0, &CodeError{Command: tracker.CmdListContent, Code: code}
	}
	if !slices.Contains(files, remote) {
		return 0, errors.Wrapf(ErrNotPublished, "%s by %s", remote, owner)
	}

	code, peers, err := c.ListUsers(ctx, user)
	if err != nil {
		return 0, err
	}
	if code != tracker.CodeOK {
		return 0, &CodeError{Command: tracker.CmdListUsers, Code: code}
	}
	i := slices.IndexFunc(peers, func(p registry.Peer) bool { return p.Username == owner })
	if i < 0 {
		return 0, errors.Wrap(ErrOwnerOffline, owner)
	}

	addr := net.JoinHostPort(peers[i].IP, strconv.Itoa(peers[i].Port))
	return peer.GetFile(ctx, addr, remote, local)
}
