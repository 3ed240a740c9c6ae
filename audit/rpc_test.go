package audit

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"

	"github.com/pkg/errors"
	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordFraming(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeRecord(&buf, []byte("hello")))
	require.NoError(t, writeRecord(&buf, []byte{}))

	hdr := binary.BigEndian.Uint32(buf.Bytes()[:4])
	assert.Equal(t, uint32(0x80000005), hdr)

	msg, err := readRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), msg)

	msg, err = readRecord(&buf)
	require.NoError(t, err)
	assert.Empty(t, msg)

	_, err = readRecord(&buf)
	assert.Equal(t, io.EOF, err)
}

func TestReadRecordFragments(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(3))
	buf.WriteString("abc")
	_ = binary.Write(&buf, binary.BigEndian, uint32(0x80000002))
	buf.WriteString("de")

	msg, err := readRecord(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte("abcde"), msg)
}

func TestReadRecordTooLarge(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(0x80000000|(maxRecord+1)))

	_, err := readRecord(&buf)
	assert.True(t, errors.Is(err, ErrRecordTooLarge))
}

func TestReadRecordTruncated(t *testing.T) {
	var buf bytes.Buffer
	_ = binary.Write(&buf, binary.BigEndian, uint32(0x80000010))
	buf.WriteString("short")

	_, err := readRecord(&buf)
	require.Error(t, err)
	assert.NotEqual(t, io.EOF, err)
}

func TestEncodeCallCarriesArgs(t *testing.T) {
	e := Entry{User: "alice", Operation: "PUBLISH", Param: "a.txt", Timestamp: "t0"}
	msg, err := encodeCall(7, ProcLog, toArgs(e))
	require.NoError(t, err)

	r := bytes.NewReader(msg)
	var hdr callHeader
	_, err = xdr.Unmarshal(r, &hdr)
	require.NoError(t, err)
	assert.Equal(t, uint32(7), hdr.XID)
	assert.Equal(t, Program, hdr.Program)
	assert.Equal(t, Version, hdr.Version)
	assert.Equal(t, ProcLog, hdr.Procedure)

	var args logArgs
	_, err = xdr.Unmarshal(r, &args)
	require.NoError(t, err)
	assert.Equal(t, e, args.entry())
}

func TestDecodeLogReply(t *testing.T) {
	status := int32(-1)
	reply := acceptedReply(9, acceptSuccess, &status)

	got, err := decodeLogReply(reply, 9)
	require.NoError(t, err)
	assert.Equal(t, int32(-1), got)

	_, err = decodeLogReply(reply, 10)
	assert.True(t, errors.Is(err, ErrBadReply))
}

func TestDecodeRejectedReplies(t *testing.T) {
	_, err := decodeLogReply(acceptedReply(1, acceptProcUnavail, nil), 1)
	assert.True(t, errors.Is(err, ErrBadReply))

	_, err = decodeLogReply(rpcMismatchReply(1), 1)
	assert.True(t, errors.Is(err, ErrBadReply))

	assert.NoError(t, checkNullReply(acceptedReply(2, acceptSuccess, nil), 2))
}
