// Package tracker is the directory server: it reads one request per
// connection, applies it to the registry, writes the response and reports
// the completed request to the audit collaborator.
package tracker

import (
	"bufio"
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"p2pdir/audit"
	"p2pdir/common"
	"p2pdir/metrics"
	"p2pdir/registry"
)

// ServerConfig holds the listener settings.
type ServerConfig struct {
	Address string

	// ReadTimeout bounds the whole request read. Zero waits forever.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// MaxConnections caps concurrently served connections. Zero is
	// unlimited.
	MaxConnections  int
	ShutdownTimeout time.Duration
	MaxLineLength   int
}

// Server accepts directory connections.
type Server struct {
	config   ServerConfig
	handler  *Handler
	notifier audit.Notifier
	metrics  *metrics.Tracker
	log      zerolog.Logger

	listenerMu    sync.Mutex
	listener      net.Listener
	listenerReady chan struct{}

	connSemaphore     chan struct{}
	activeConns       sync.WaitGroup
	activeConnections sync.Map
	connCount         atomic.Int32

	shutdown     chan struct{}
	shutdownOnce sync.Once
}

// NewServer wires a server around reg. notifier may be audit.Nop{} and m
// may be nil.
func NewServer(cfg ServerConfig, reg *registry.Registry, notifier audit.Notifier, log zerolog.Logger, m *metrics.Tracker) *Server {
	if cfg.MaxLineLength <= 1 {
		cfg.MaxLineLength = common.DefaultMaxLineLength
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if notifier == nil {
		notifier = audit.Nop{}
	}

	log = log.With().Str("component", "tracker").Logger()
	s := &Server{
		config:        cfg,
		handler:       NewHandler(reg, log),
		notifier:      notifier,
		metrics:       m,
		log:           log,
		listenerReady: make(chan struct{}),
		shutdown:      make(chan struct{}),
	}
	if cfg.MaxConnections > 0 {
		s.connSemaphore = make(chan struct{}, cfg.MaxConnections)
	}
	return s
}

// handleConn serves the single request carried by conn and closes it.
func (s *Server) handleConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	remote := conn.RemoteAddr().String()
	log := s.log.With().Str("remote", remote).Logger()

	if s.config.ReadTimeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout)); err != nil {
			log.Debug().Err(err).Msg("set read deadline")
			return
		}
	}

	start := time.Now()
	req, err := ReadRequest(bufio.NewReaderSize(conn, s.config.MaxLineLength), s.config.MaxLineLength)
	log = log.With().Str("request_id", req.ID.String()).Logger()
	switch {
	case errors.Is(err, ErrUnknownCommand):
		log.Warn().Str("command", req.Command).Msg("unknown command")
		return
	case err != nil:
		s.metrics.RecordAbandoned()
		log.Debug().Err(err).Str("command", req.Command).Msg("request abandoned")
		return
	}
	req.PeerIP = hostOf(conn.RemoteAddr())

	log.Debug().
		Str("command", req.Command).
		Str("timestamp", req.Timestamp).
		Str("user", req.User()).
		Msg("request received")

	res := s.handler.Handle(req)

	if s.config.WriteTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(s.config.WriteTimeout))
	}
	w := bufio.NewWriter(conn)
	err = res.Encode(w)
	if err == nil {
		err = w.Flush()
	}
	if err != nil {
		log.Debug().Err(err).Str("command", req.Command).Msg("write response")
	}
	s.metrics.RecordRequest(req.Command, res.Code, time.Since(start).Seconds())

	entry := audit.Entry{
		User:      req.User(),
		Operation: req.Command,
		Param:     req.PrimaryParam(),
		Timestamp: req.Timestamp,
	}
	if err := s.notifier.Notify(context.Background(), entry); err != nil {
		if !errors.Is(err, audit.ErrQueueFull) {
			s.metrics.RecordAuditFailure()
		}
		log.Warn().Err(err).Str("command", req.Command).Msg("audit notification failed")
	}
}

// hostOf strips the port from a transport address.
func hostOf(addr net.Addr) string {
	if tcp, ok := addr.(*net.TCPAddr); ok {
		return tcp.IP.String()
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return addr.String()
	}
	return host
}
