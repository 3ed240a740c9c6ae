package tracker

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
)

// Serve listens on the configured address and serves connections until
// ctx is cancelled or Stop is called. In-flight connections get
// ShutdownTimeout to finish before they are force-closed.
func (s *Server) Serve(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.config.Address)
	if err != nil {
		return errors.Wrapf(err, "listen %s", s.config.Address)
	}

	s.listenerMu.Lock()
	s.listener = ln
	s.listenerMu.Unlock()
	close(s.listenerReady)

	s.log.Info().
		Str("address", ln.Addr().String()).
		Int("max_connections", s.config.MaxConnections).
		Dur("read_timeout", s.config.ReadTimeout).
		Msg("directory server listening")

	go func() {
		select {
		case <-ctx.Done():
			s.log.Info().Err(ctx.Err()).Msg("shutdown signal received")
			s.Stop()
		case <-s.shutdown:
		}
	}()

	for {
		// Acquire before Accept so a full server stops accepting.
		if s.connSemaphore != nil {
			select {
			case s.connSemaphore <- struct{}{}:
			case <-s.shutdown:
				return s.gracefulShutdown()
			}
		}

		conn, err := ln.Accept()
		if err != nil {
			if s.connSemaphore != nil {
				<-s.connSemaphore
			}
			select {
			case <-s.shutdown:
				return s.gracefulShutdown()
			default:
				// Usually fd exhaustion; back off instead of spinning.
				s.log.Debug().Err(err).Msg("accept")
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}

		s.activeConns.Add(1)
		s.connCount.Add(1)
		addr := conn.RemoteAddr().String()
		s.activeConnections.Store(addr, conn)
		s.metrics.ConnectionOpened()

		go func() {
			defer func() {
				s.activeConnections.Delete(addr)
				s.connCount.Add(-1)
				if s.connSemaphore != nil {
					<-s.connSemaphore
				}
				s.metrics.ConnectionClosed()
				s.activeConns.Done()
			}()
			s.handleConn(conn)
		}()
	}
}

// Ready is closed once the listener is bound.
func (s *Server) Ready() <-chan struct{} {
	return s.listenerReady
}

// Addr returns the bound address, or nil before Serve has bound it.
func (s *Server) Addr() net.Addr {
	s.listenerMu.Lock()
	defer s.listenerMu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveConnections returns the number of connections being served.
func (s *Server) ActiveConnections() int {
	return int(s.connCount.Load())
}

// Stop closes the listener. Serve then waits for in-flight connections.
// It is safe to call more than once.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.listenerMu.Lock()
		if s.listener != nil {
			_ = s.listener.Close()
		}
		s.listenerMu.Unlock()
	})
}

func (s *Server) gracefulShutdown() error {
	done := make(chan struct{})
	go func() {
		s.activeConns.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info().Msg("directory server stopped")
		return nil
	case <-time.After(s.config.ShutdownTimeout):
		remaining := s.connCount.Load()
		s.log.Warn().Int32("active", remaining).Msg("shutdown timeout exceeded, closing connections")
		s.activeConnections.Range(func(_, v any) bool {
			_ = v.(net.Conn).Close()
			return true
		})
		<-done
		return errors.Errorf("shutdown timeout: %d connections force-closed", remaining)
	}
}
