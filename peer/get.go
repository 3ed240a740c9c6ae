package peer

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"

	"github.com/pkg/errors"

	"p2pdir/common"
)

var (
	// ErrNotShared means the remote peer does not share the file.
	ErrNotShared = errors.New("file not shared by peer")
	// ErrIncomplete means the peer closed before sending the announced size.
	ErrIncomplete = errors.New("incomplete transfer")
)

// GetFile downloads name from the peer at addr into localPath and returns
// the number of bytes written. localPath is only created once the whole
// file has arrived.
func GetFile(ctx context.Context, addr, name, localPath string) (int64, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return 0, errors.Wrapf(err, "dial peer %s", addr)
	}
	defer func() { _ = conn.Close() }()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	if err := common.WriteString(conn, CmdGetFile); err != nil {
		return 0, err
	}
	if err := common.WriteString(conn, name); err != nil {
		return 0, err
	}

	r := bufio.NewReader(conn)
	code, err := common.ReadCode8(r)
	if err != nil {
		return 0, err
	}
	switch code {
	case codeOK:
	case codeNotFound:
		return 0, errors.Wrapf(ErrNotShared, "%s at %s", name, addr)
	default:
		return 0, errors.Errorf("unexpected peer code %d", code)
	}

	sizeStr, err := common.ReadString(r)
	if err != nil {
		return 0, err
	}
	size, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil || size < 0 {
		return 0, errors.Errorf("invalid size %q", sizeStr)
	}

	tmp, err := os.CreateTemp(filepath.Dir(localPath), "."+filepath.Base(localPath)+".part-*")
	if err != nil {
		return 0, errors.Wrap(err, "create download file")
	}
	defer func() { _ = os.Remove(tmp.Name()) }()

	n, err := io.Copy(tmp, io.LimitReader(r, size))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, errors.Wrap(err, "receive file")
	}
	if n != size {
		return n, errors.Wrapf(ErrIncomplete, "%d of %d bytes", n, size)
	}

	if err := os.Rename(tmp.Name(), localPath); err != nil {
		return n, errors.Wrap(err, "save download")
	}
	return n, nil
}
