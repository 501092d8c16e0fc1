// Copyright 2025 Edgeo SCADA
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package modbus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Server is a Modbus TCP device simulator. Each accepted connection is
// served by its own goroutine; responses on a connection are written in
// request order.
type Server struct {
	policy StorePolicy
	opts   *serverOptions

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   int32
	wg       sync.WaitGroup
	metrics  *ServerMetrics
}

// NewServer creates a new Modbus TCP server whose register stores are
// chosen by policy. A nil policy serves a single shared store.
func NewServer(policy StorePolicy, opts ...ServerOption) *Server {
	options := defaultServerOptions()
	for _, opt := range opts {
		opt(options)
	}
	if policy == nil {
		policy = Shared(nil)
	}

	metrics := options.metrics
	if metrics == nil {
		metrics = NewServerMetrics()
	}

	return &Server{
		policy:  policy,
		opts:    options,
		conns:   make(map[net.Conn]struct{}),
		metrics: metrics,
	}
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *ServerMetrics {
	return s.metrics
}

// ListenAndServe starts the server on the given address.
func (s *Server) ListenAndServe(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	return s.Serve(listener)
}

// ListenAndServeContext starts the server and closes it when ctx is done.
func (s *Server) ListenAndServeContext(ctx context.Context, addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}

	go func() {
		<-ctx.Done()
		s.Close()
	}()

	return s.Serve(listener)
}

// Serve accepts connections on listener until Close is called. It returns
// nil after Close.
func (s *Server) Serve(listener net.Listener) error {
	s.mu.Lock()
	if atomic.LoadInt32(&s.closed) == 1 {
		s.mu.Unlock()
		listener.Close()
		return nil
	}
	s.listener = listener
	s.mu.Unlock()
	s.opts.logger.Info("server started", slog.String("addr", listener.Addr().String()))

	for {
		conn, err := listener.Accept()
		if err != nil {
			if atomic.LoadInt32(&s.closed) == 1 {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.opts.logger.Error("accept error", slog.String("error", err.Error()))
			continue
		}

		s.mu.Lock()
		if atomic.LoadInt32(&s.closed) == 1 {
			s.mu.Unlock()
			conn.Close()
			return nil
		}
		if len(s.conns) >= s.opts.maxConns {
			s.mu.Unlock()
			s.metrics.RejectedConns.Add(1)
			s.opts.logger.Warn("max connections reached, rejecting",
				slog.String("remote", conn.RemoteAddr().String()))
			conn.Close()
			continue
		}
		s.conns[conn] = struct{}{}
		s.metrics.ActiveConns.Add(1)
		s.metrics.TotalConns.Add(1)
		s.wg.Add(1)
		s.mu.Unlock()

		if tcpConn, ok := conn.(*net.TCPConn); ok {
			tcpConn.SetKeepAlive(true)
			tcpConn.SetKeepAlivePeriod(30 * time.Second)
			tcpConn.SetNoDelay(true)
		}

		go s.handleConn(conn)
	}
}

// Close stops accepting, closes every open connection and waits for their
// goroutines to finish. Partial frames buffered on those connections are
// dropped.
func (s *Server) Close() error {
	if !atomic.CompareAndSwapInt32(&s.closed, 0, 1) {
		return nil
	}

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.opts.logger.Info("server stopped")
	return err
}

// Addr returns the server's address.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return s.listener.Addr()
	}
	return nil
}

// ActiveConnections returns the number of active connections.
func (s *Server) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) handleConn(conn net.Conn) {
	remote := conn.RemoteAddr().String()
	defer func() {
		if r := recover(); r != nil {
			s.opts.logger.Error("panic in connection handler",
				slog.String("remote", remote),
				slog.Any("panic", r),
				slog.String("stack", string(debug.Stack())))
		}

		conn.Close()
		s.mu.Lock()
		delete(s.conns, conn)
		s.metrics.ActiveConns.Add(-1)
		s.mu.Unlock()
		s.wg.Done()
	}()

	s.opts.logger.Debug("connection accepted", slog.String("remote", remote))

	dispatcher := NewDispatcher(s.policy.Connect())
	var frames Reassembler
	chunk := make([]byte, s.opts.readBuffer)

	for {
		if atomic.LoadInt32(&s.closed) == 1 {
			return
		}

		if s.opts.idleTimeout > 0 {
			conn.SetReadDeadline(timeNow().Add(s.opts.idleTimeout))
		}

		n, err := conn.Read(chunk)
		if n > 0 {
			frames.Feed(chunk[:n])
			if !s.serveFrames(conn, &frames, dispatcher) {
				return
			}
		}
		if err != nil {
			if err != io.EOF && atomic.LoadInt32(&s.closed) == 0 {
				if netErr, ok := err.(net.Error); !ok || !netErr.Timeout() {
					s.opts.logger.Debug("read error",
						slog.String("remote", remote),
						slog.String("error", err.Error()))
				}
			}
			if frames.Buffered() > 0 {
				s.opts.logger.Debug("dropping partial frame",
					slog.String("remote", remote),
					slog.Int("bytes", frames.Buffered()))
			}
			return
		}
	}
}

// serveFrames answers every complete frame buffered in frames. It returns
// false when the connection must be closed.
func (s *Server) serveFrames(conn net.Conn, frames *Reassembler, d *Dispatcher) bool {
	for {
		adu, err := frames.Next()
		if err == nil && adu == nil {
			return true
		}

		var resp []byte
		if err == nil {
			resp, err = s.processRequest(d, adu)
		}
		if err != nil {
			s.metrics.FramingErrors.Add(1)
			s.opts.logger.Warn("framing error",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return false
		}

		if s.opts.idleTimeout > 0 {
			conn.SetWriteDeadline(timeNow().Add(s.opts.idleTimeout))
		}
		if _, err := conn.Write(resp); err != nil {
			s.opts.logger.Debug("write error",
				slog.String("remote", conn.RemoteAddr().String()),
				slog.String("error", err.Error()))
			return false
		}
	}
}

func (s *Server) processRequest(d *Dispatcher, adu []byte) ([]byte, error) {
	start := timeNow()

	h, req, err := DecodeRequest(adu)
	if err != nil {
		return nil, err
	}

	s.opts.logger.Debug("processing request",
		slog.Uint64("tx_id", uint64(h.TransactionID)),
		slog.Uint64("unit_id", uint64(h.UnitID)),
		slog.String("func", req.FunctionCode.String()))

	resp := d.Dispatch(h.UnitID, req)
	ex, isException := resp.(*ExceptionResponse)
	if isException {
		s.opts.logger.Debug("exception response",
			slog.Uint64("tx_id", uint64(h.TransactionID)),
			slog.String("func", req.FunctionCode.String()),
			slog.String("exception", ex.ExceptionCode.String()))
	}
	s.metrics.observe(req.FunctionCode, isException, timeNow().Sub(start))

	return EncodeResponse(h, resp), nil
}

// timeNow is a variable for testing
var timeNow = time.Now
