package audit

import (
	"bytes"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
	xdr "github.com/rasky/go-xdr/xdr2"
)

// ONC RPC identifiers of the logging collaborator.
const (
	Program   uint32 = 0x20000101
	Version   uint32 = 1
	ProcNull  uint32 = 0
	ProcLog   uint32 = 1
	rpcVers   uint32 = 2
	authNull  uint32 = 0
	maxRecord        = 1 << 16
)

// RPC message constants (RFC 5531).
const (
	msgCall  uint32 = 0
	msgReply uint32 = 1

	replyAccepted uint32 = 0
	replyDenied   uint32 = 1

	acceptSuccess      uint32 = 0
	acceptProgUnavail  uint32 = 1
	acceptProgMismatch uint32 = 2
	acceptProcUnavail  uint32 = 3
	acceptGarbageArgs  uint32 = 4
	acceptSystemErr    uint32 = 5

	rejectRPCMismatch uint32 = 0
)

var (
	ErrRecordTooLarge = errors.New("rpc record too large")
	ErrBadReply       = errors.New("malformed rpc reply")
)

type opaqueAuth struct {
	Flavor uint32
	Body   []byte
}

type callHeader struct {
	XID        uint32
	MsgType    uint32
	RPCVersion uint32
	Program    uint32
	Version    uint32
	Procedure  uint32
	Cred       opaqueAuth
	Verf       opaqueAuth
}

type replyHeader struct {
	XID       uint32
	MsgType   uint32
	ReplyStat uint32
}

type acceptedHeader struct {
	Verf       opaqueAuth
	AcceptStat uint32
}

type versionRange struct {
	Low  uint32
	High uint32
}

// logArgs is the XDR argument of LOG_OPERATION.
type logArgs struct {
	User      string
	Operation string
	Param     string
	Timestamp string
}

func toArgs(e Entry) logArgs {
	return logArgs{User: e.User, Operation: e.Operation, Param: e.Param, Timestamp: e.Timestamp}
}

func (a logArgs) entry() Entry {
	return Entry{User: a.User, Operation: a.Operation, Param: a.Param, Timestamp: a.Timestamp}
}

// encodeCall builds a CALL message with AUTH_NULL credentials.
func encodeCall(xid, proc uint32, args any) ([]byte, error) {
	var buf bytes.Buffer
	hdr := callHeader{
		XID:        xid,
		MsgType:    msgCall,
		RPCVersion: rpcVers,
		Program:    Program,
		Version:    Version,
		Procedure:  proc,
		Cred:       opaqueAuth{Flavor: authNull},
		Verf:       opaqueAuth{Flavor: authNull},
	}
	if _, err := xdr.Marshal(&buf, &hdr); err != nil {
		return nil, errors.Wrap(err, "encode call header")
	}
	if args != nil {
		if _, err := xdr.Marshal(&buf, args); err != nil {
			return nil, errors.Wrap(err, "encode call args")
		}
	}
	return buf.Bytes(), nil
}

// decodeAccepted reads a reply header for xid and fails unless the call
// was accepted and executed.
func decodeAccepted(r io.Reader, xid uint32) error {
	var hdr replyHeader
	if _, err := xdr.Unmarshal(r, &hdr); err != nil {
		return errors.Wrap(ErrBadReply, err.Error())
	}
	if hdr.XID != xid || hdr.MsgType != msgReply {
		return errors.Wrapf(ErrBadReply, "xid %d type %d", hdr.XID, hdr.MsgType)
	}
	if hdr.ReplyStat != replyAccepted {
		return errors.Wrap(ErrBadReply, "call denied")
	}

	var acc acceptedHeader
	if _, err := xdr.Unmarshal(r, &acc); err != nil {
		return errors.Wrap(ErrBadReply, err.Error())
	}
	if acc.AcceptStat != acceptSuccess {
		return errors.Wrapf(ErrBadReply, "accept status %d", acc.AcceptStat)
	}
	return nil
}

// decodeLogReply validates a LOG_OPERATION reply to xid and returns the
// collaborator's integer status.
func decodeLogReply(msg []byte, xid uint32) (int32, error) {
	r := bytes.NewReader(msg)
	if err := decodeAccepted(r, xid); err != nil {
		return 0, err
	}

	var status int32
	if _, err := xdr.Unmarshal(r, &status); err != nil {
		return 0, errors.Wrap(ErrBadReply, err.Error())
	}
	return status, nil
}

func checkNullReply(msg []byte, xid uint32) error {
	return decodeAccepted(bytes.NewReader(msg), xid)
}

func acceptedReply(xid, stat uint32, body any) []byte {
	var buf bytes.Buffer
	_, _ = xdr.Marshal(&buf, &replyHeader{XID: xid, MsgType: msgReply, ReplyStat: replyAccepted})
	_, _ = xdr.Marshal(&buf, &acceptedHeader{Verf: opaqueAuth{Flavor: authNull}, AcceptStat: stat})
	if body != nil {
		_, _ = xdr.Marshal(&buf, body)
	}
	return buf.Bytes()
}

func rpcMismatchReply(xid uint32) []byte {
	var buf bytes.Buffer
	_, _ = xdr.Marshal(&buf, &replyHeader{XID: xid, MsgType: msgReply, ReplyStat: replyDenied})
	_, _ = xdr.Marshal(&buf, &struct {
		RejectStat uint32
		Range      versionRange
	}{RejectStat: rejectRPCMismatch, Range: versionRange{Low: rpcVers, High: rpcVers}})
	return buf.Bytes()
}

// writeRecord sends msg as a single last fragment.
func writeRecord(w io.Writer, msg []byte) error {
	framed := make([]byte, 4+len(msg))
	binary.BigEndian.PutUint32(framed[0:4], 0x80000000|uint32(len(msg)))
	copy(framed[4:], msg)
	_, err := w.Write(framed)
	return errors.Wrap(err, "write record")
}

// readRecord reassembles one record from its fragments.
func readRecord(r io.Reader) ([]byte, error) {
	var msg []byte
	for {
		var hdr [4]byte
		if _, err := io.ReadFull(r, hdr[:]); err != nil {
			if err == io.EOF && msg == nil {
				return nil, io.EOF
			}
			return nil, errors.Wrap(err, "read fragment header")
		}
		v := binary.BigEndian.Uint32(hdr[:])
		size := int(v & 0x7FFFFFFF)
		if len(msg)+size > maxRecord {
			return nil, errors.Wrapf(ErrRecordTooLarge, "%d bytes", len(msg)+size)
		}
		frag := make([]byte, size)
		if _, err := io.ReadFull(r, frag); err != nil {
			return nil, errors.Wrap(err, "read fragment")
		}
		msg = append(msg, frag...)
		if v&0x80000000 != 0 {
			if msg == nil {
				msg = []byte{}
			}
			return msg, nil
		}
	}
}
