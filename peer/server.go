// Package peer implements the direct file transfer between peers: a
// GET_FILE server that shares one directory and the matching download.
//
// Request:  "GET_FILE" and the file name, each terminated by NUL or '\n'.
// Response: byte 0, the decimal size NUL-terminated, then the file bytes;
// or byte 1 when the file is not shared.
package peer

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"p2pdir/common"
)

const (
	CmdGetFile = "GET_FILE"

	codeOK       = 0
	codeNotFound = 1

	requestTimeout   = 10 * time.Second
	writeIdleTimeout = 30 * time.Second
)

// Server shares the regular files directly inside Root.
type Server struct {
	addr string
	root string
	log  zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	ready    chan struct{}
	wg       sync.WaitGroup

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

func NewServer(addr, root string, log zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		root:     root,
		log:      log.With().Str("component", "peer").Logger(),
		conns:    make(map[net.Conn]struct{}),
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
	}
}

// Serve accepts transfers until ctx is cancelled or Stop is called, then
// waits for running transfers.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.addr)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.log.Info().Str("address", ln.Addr().String()).Str("root", s.root).Msg("peer server listening")

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.wg.Wait()
				return nil
			default:
				s.log.Debug().Err(err).Msg("accept")
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}
		s.track(conn, true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.track(conn, false)
			s.handleConn(conn)
		}()
	}
}

func (s *Server) Ready() <-chan struct{} { return s.ready }

// Port returns the bound TCP port, or 0 before Serve has bound it.
func (s *Server) Port() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return 0
	}
	if tcp, ok := s.listener.Addr().(*net.TCPAddr); ok {
		return tcp.Port
	}
	return 0
}

// Stop closes the listener and aborts running transfers.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		for c := range s.conns {
			_ = c.Close()
		}
	})
}

func (s *Server) track(c net.Conn, add bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !add {
		delete(s.conns, c)
		return
	}
	select {
	case <-s.shutdown:
		_ = c.Close()
	default:
		s.conns[c] = struct{}{}
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	log := s.log.With().Str("remote", conn.RemoteAddr().String()).Logger()

	_ = conn.SetReadDeadline(time.Now().Add(requestTimeout))
	r := bufio.NewReader(conn)
	cmd, err := common.ReadLine(r, common.DefaultMaxLineLength)
	if err != nil || cmd != CmdGetFile {
		log.Debug().Err(err).Str("command", cmd).Msg("not a GET_FILE request")
		return
	}
	name, err := common.ReadLine(r, common.DefaultMaxLineLength)
	if err != nil {
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	f, size, err := s.open(name)
	if err != nil {
		log.Info().Err(err).Str("file", name).Msg("file not shared")
		_ = common.WriteCode8(conn, codeNotFound)
		return
	}
	defer func() { _ = f.Close() }()

	// A downloader that stops reading for writeIdleTimeout is dropped.
	w := bufio.NewWriter(&deadlineWriter{conn: conn, idle: writeIdleTimeout})
	if err := common.WriteCode8(w, codeOK); err != nil {
		return
	}
	if err := common.WriteInt(w, int(size)); err != nil {
		return
	}
	n, err := io.Copy(w, f)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		log.Warn().Err(err).Str("file", name).Int64("sent", n).Msg("transfer interrupted")
		return
	}
	log.Info().Str("file", name).Int64("bytes", n).Msg("file sent")
}

// deadlineWriter pushes the write deadline forward before every write.
type deadlineWriter struct {
	conn net.Conn
	idle time.Duration
}

func (d *deadlineWriter) Write(p []byte) (int, error) {
	if err := d.conn.SetWriteDeadline(time.Now().Add(d.idle)); err != nil {
		return 0, err
	}
	return d.conn.Write(p)
}

// open resolves name inside the shared directory. Only the base name is
// used, so requests cannot escape it.
func (s *Server) open(name string) (*os.File, int64, error) {
	base := filepath.Base(filepath.Clean("/" + name))
	if base == "/" || base == "." || base == ".." {
		return nil, 0, errors.Errorf("invalid file name %q", name)
	}

	f, err := os.Open(filepath.Join(s.root, base))
	if err != nil {
		return nil, 0, errors.Wrap(err, "open")
	}
	info, err := f.Stat()
	if err != nil {
		_ = f.Close()
		return nil, 0, errors.Wrap(err, "stat")
	}
	if !info.Mode().IsRegular() {
		_ = f.Close()
		return nil, 0, errors.Errorf("%s is not a regular file", base)
	}
	return f, info.Size(), nil
}
