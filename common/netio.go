// Package common holds the wire helpers shared by the directory server,
// its client and the peer file transfer: line decoding and the
// NUL-terminated string and result-code encodings.
package common

import (
	"bufio"
	"encoding/binary"
	"io"
	"math"
	"strconv"

	"github.com/pkg/errors"
)

// TimestampLayout is the dd/mm/YYYY HH:MM:SS format of request
// timestamps and of the /fecha time service.
const TimestampLayout = "02/01/2006 15:04:05"

// DefaultMaxLineLength matches the field buffer size of protocol version 1.
const DefaultMaxLineLength = 256

// ReadLine reads one field terminated by '\n' or NUL. At most max-1 bytes
// are kept, the rest of the line is consumed and discarded. A stream that
// ends after some bytes yields the partial line; a stream that ends before
// any byte yields io.EOF.
func ReadLine(r *bufio.Reader, max int) (string, error) {
	if max <= 1 {
		return "", errors.Errorf("invalid line length %d", max)
	}

	buf := make([]byte, 0, 32)
	read := 0
	for {
		ch, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && read > 0 {
				break
			}
			return "", err
		}
		read++
		if ch == '\n' || ch == 0 {
			break
		}
		if len(buf) < max-1 {
			buf = append(buf, ch)
		}
	}
	return string(buf), nil
}

// ReadString reads one NUL-terminated string without a length cap. It is
// the client-side counterpart of WriteString.
func ReadString(r *bufio.Reader) (string, error) {
	s, err := r.ReadString(0)
	if err != nil {
		return "", errors.Wrap(err, "read string")
	}
	return s[:len(s)-1], nil
}

// WriteString writes s followed by a NUL byte.
func WriteString(w io.Writer, s string) error {
	if _, err := io.WriteString(w, s); err != nil {
		return errors.Wrap(err, "write string")
	}
	if _, err := w.Write([]byte{0}); err != nil {
		return errors.Wrap(err, "write terminator")
	}
	return nil
}

// WriteInt writes n as a NUL-terminated decimal string.
func WriteInt(w io.Writer, n int) error {
	return WriteString(w, strconv.Itoa(n))
}

// WriteCode32 writes a 4-byte native-endian result code.
func WriteCode32(w io.Writer, code int32) error {
	var b [4]byte
	binary.NativeEndian.PutUint32(b[:], uint32(code))
	_, err := w.Write(b[:])
	return errors.Wrap(err, "write code")
}

// ReadCode32 reads a 4-byte native-endian result code.
func ReadCode32(r io.Reader) (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "read code")
	}
	return int32(binary.NativeEndian.Uint32(b[:])), nil
}

// WriteCode8 writes a 1-byte result code.
func WriteCode8(w io.Writer, code uint8) error {
	_, err := w.Write([]byte{code})
	return errors.Wrap(err, "write code")
}

// ReadCode8 reads a 1-byte result code.
func ReadCode8(r io.Reader) (uint8, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, errors.Wrap(err, "read code")
	}
	return b[0], nil
}

// Atoi parses s the way C atoi does: optional leading whitespace, an
// optional sign, then as many digits as follow. Anything else yields 0.
// The second result reports whether s was a clean decimal integer.
func Atoi(s string) (int, bool) {
	i := 0
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r' || s[i] == '\v' || s[i] == '\f') {
		i++
	}
	start := i
	neg := false
	if i < len(s) && (s[i] == '+' || s[i] == '-') {
		neg = s[i] == '-'
		i++
	}
	digits := i
	n := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		n = n*10 + int(s[i]-'0')
		if n > math.MaxInt32 {
			n = math.MaxInt32
		}
		i++
	}
	if neg {
		n = -n
	}
	clean := start == 0 && i > digits && i == len(s)
	return n, clean
}
