package audit

import (
	"bytes"
	"context"
	"io"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	xdr "github.com/rasky/go-xdr/xdr2"
	"github.com/rs/zerolog"
)

// idleTimeout closes collaborator connections that stop sending records.
const idleTimeout = 30 * time.Second

// Server is the logging collaborator: it answers LOG_OPERATION calls by
// writing each entry to a Sink.
type Server struct {
	addr string
	sink Sink
	log  zerolog.Logger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}

	ready        chan struct{}
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// NewServer creates a collaborator listening on addr once Serve is called.
func NewServer(addr string, sink Sink, log zerolog.Logger) *Server {
	return &Server{
		addr:     addr,
		sink:     sink,
		log:      log.With().Str("component", "audit-server").Logger(),
		conns:    make(map[net.Conn]struct{}),
		ready:    make(chan struct{}),
		shutdown: make(chan struct{}),
	}
}

// Serve accepts connections until ctx is cancelled or Stop is called.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.addr)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()
	close(s.ready)

	s.log.Info().Str("address", ln.Addr().String()).Msg("audit collaborator listening")

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
				s.Stop()
				s.wg.Wait()
				return errors.Wrap(err, "accept")
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

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Addr returns the bound address, or nil before Serve has started.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop closes the listener and every open connection.
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
	if add {
		select {
		case <-s.shutdown:
			_ = c.Close()
		default:
			s.conns[c] = struct{}{}
		}
	} else {
		delete(s.conns, c)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()
	client := conn.RemoteAddr().String()

	for {
		if err := conn.SetDeadline(time.Now().Add(idleTimeout)); err != nil {
			return
		}
		msg, err := readRecord(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Debug().Err(err).Str("client", client).Msg("read record")
			}
			return
		}

		reply := s.process(msg, client)
		if reply == nil {
			return
		}
		if err := writeRecord(conn, reply); err != nil {
			s.log.Debug().Err(err).Str("client", client).Msg("write reply")
			return
		}
	}
}

// process decodes one call and builds its reply. A nil reply means the
// message was not a decodable call and the connection should be dropped.
func (s *Server) process(msg []byte, client string) []byte {
	r := bytes.NewReader(msg)
	var call callHeader
	if _, err := xdr.Unmarshal(r, &call); err != nil {
		s.log.Debug().Err(err).Str("client", client).Msg("decode call header")
		return nil
	}
	if call.MsgType != msgCall {
		return nil
	}

	switch {
	case call.RPCVersion != rpcVers:
		return rpcMismatchReply(call.XID)
	case call.Program != Program:
		return acceptedReply(call.XID, acceptProgUnavail, nil)
	case call.Version != Version:
		return acceptedReply(call.XID, acceptProgMismatch, &versionRange{Low: Version, High: Version})
	}

	switch call.Procedure {
	case ProcNull:
		return acceptedReply(call.XID, acceptSuccess, nil)

	case ProcLog:
		var args logArgs
		if _, err := xdr.Unmarshal(r, &args); err != nil {
			return acceptedReply(call.XID, acceptGarbageArgs, nil)
		}
		e := args.entry()
		var status int32
		if err := s.sink.Write(e); err != nil {
			s.log.Error().Err(err).Str("client", client).Msg("write audit entry")
			status = -1
		}
		s.log.Debug().Str("entry", e.String()).Msg("audit entry")
		return acceptedReply(call.XID, acceptSuccess, &status)

	default:
		return acceptedReply(call.XID, acceptProcUnavail, nil)
	}
}
