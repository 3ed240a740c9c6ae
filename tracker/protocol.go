package tracker

import (
	"bufio"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"p2pdir/common"
)

// Command names accepted on the directory wire protocol.
const (
	CmdRegister    = "REGISTER"
	CmdUnregister  = "UNREGISTER"
	CmdConnect     = "CONNECT"
	CmdDisconnect  = "DISCONNECT"
	CmdPublish     = "PUBLISH"
	CmdDelete      = "DELETE"
	CmdListUsers   = "LIST_USERS"
	CmdListContent = "LIST_CONTENT"
)

// paramCount is the number of parameter lines following the timestamp.
var paramCount = map[string]int{
	CmdRegister:    1,
	CmdUnregister:  1,
	CmdConnect:     2,
	CmdDisconnect:  1,
	CmdPublish:     3,
	CmdDelete:      2,
	CmdListUsers:   1,
	CmdListContent: 2,
}

var (
	// ErrAbandoned means a required line was missing or empty; the
	// request gets no response.
	ErrAbandoned = errors.New("request abandoned")
	// ErrUnknownCommand means the command line named no known command.
	ErrUnknownCommand = errors.New("unknown command")
)

// Request is one parsed directory request.
type Request struct {
	ID        uuid.UUID
	Command   string
	Timestamp string
	// Params holds the parameter lines in wire order; Params[0] is always
	// the acting username.
	Params []string
	// PeerIP is the transport-level address of the caller.
	PeerIP string
}

// User is the acting username.
func (r Request) User() string {
	if len(r.Params) == 0 {
		return ""
	}
	return r.Params[0]
}

// PrimaryParam is the parameter forwarded to the audit log: the port,
// filename or target user, or empty for single-parameter commands.
func (r Request) PrimaryParam() string {
	if len(r.Params) < 2 {
		return ""
	}
	return r.Params[1]
}

// ReadRequest reads the command line, the timestamp line and the
// command's parameter lines. An unknown command is returned together with
// ErrUnknownCommand once its timestamp has been read.
func ReadRequest(r *bufio.Reader, maxLine int) (Request, error) {
	req := Request{ID: uuid.New()}

	cmd, err := readField(r, maxLine)
	if err != nil {
		return req, errors.Wrap(err, "command")
	}
	req.Command = cmd

	ts, err := readField(r, maxLine)
	if err != nil {
		return req, errors.Wrap(err, "timestamp")
	}
	req.Timestamp = ts

	n, ok := paramCount[cmd]
	if !ok {
		return req, ErrUnknownCommand
	}

	req.Params = make([]string, 0, n)
	for i := 0; i < n; i++ {
		p, err := readField(r, maxLine)
		if err != nil {
			return req, errors.Wrapf(err, "parameter %d", i+1)
		}
		req.Params = append(req.Params, p)
	}
	return req, nil
}

// readField treats a closed stream, a read error and an empty line alike.
func readField(r *bufio.Reader, maxLine int) (string, error) {
	s, err := common.ReadLine(r, maxLine)
	if err != nil {
		return "", errors.Wrap(ErrAbandoned, err.Error())
	}
	if s == "" {
		return "", errors.Wrap(ErrAbandoned, "empty line")
	}
	return s, nil
}
