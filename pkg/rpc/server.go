// Package rpc is a small JSON-over-TCP RPC layer used as the service-to-service
// surface of the job service.
//
// The protocol is newline-delimited JSON over a persistent TCP connection.
// Each request names a "Service.Method" and carries its params as raw JSON;
// each response echoes the request ID and carries either data or an error
// with an HTTP-style status code.
//
//	s := rpc.NewServer()
//	s.Register("JobService.Get", func(ctx context.Context, params json.RawMessage) (any, error) {
//	    ...
//	})
//	go s.ListenAndServe(":9000")
//
//	c, _ := rpc.Dial("localhost:9000")
//	var job jobs.Job
//	err := c.Call(ctx, "JobService.Get", map[string]int64{"job_id": 7}, &job)
package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"

	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/logger"
)

// HandlerFunc serves one method. Returned errors are mapped to a status code
// with errors.HTTPStatusCode.
type HandlerFunc func(ctx context.Context, params json.RawMessage) (any, error)

// Request is one call as sent on the wire.
type Request struct {
	Method    string          `json:"method"`
	ID        string          `json:"id"`
	RequestID string          `json:"request_id,omitempty"`
	Params    json.RawMessage `json:"params"`
}

// Response answers the Request with the same ID.
type Response struct {
	ID    string          `json:"id"`
	Data  json.RawMessage `json:"data,omitempty"`
	Error *WireError      `json:"error,omitempty"`
}

// WireError carries a failed call's status code and message.
type WireError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Server dispatches requests to registered handlers, one goroutine per
// connection.
type Server struct {
	handlers map[string]HandlerFunc
	logger   *slog.Logger
	ctx      context.Context
	cancel   context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closed   bool
	wg       sync.WaitGroup
}

// NewServer creates a Server with no methods registered.
func NewServer() *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		handlers: make(map[string]HandlerFunc),
		logger:   slog.Default().With("component", "rpc-server"),
		ctx:      ctx,
		cancel:   cancel,
		conns:    make(map[net.Conn]struct{}),
	}
}

// Register adds a handler for method. It must be called before Serve.
func (s *Server) Register(method string, handler HandlerFunc) {
	s.handlers[method] = handler
	s.logger.Debug("method registered", "method", method)
}

// Methods returns the number of registered methods.
func (s *Server) Methods() int {
	return len(s.handlers)
}

// ListenAndServe listens on addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln until Stop is called, then returns nil.
func (s *Server) Serve(ln net.Listener) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		ln.Close()
		return nil
	}
	s.listener = ln
	s.mu.Unlock()
	s.logger.Info("rpc server listening", "addr", ln.Addr().String(), "methods", s.Methods())

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			s.logger.Error("accept error", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer func() {
		s.mu.Lock()
		delete(s.conns, conn)
		s.mu.Unlock()
		conn.Close()
	}()

	dec := json.NewDecoder(conn)
	enc := json.NewEncoder(conn)
	for {
		var req Request
		if err := dec.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(&req)
		if err := enc.Encode(resp); err != nil {
			s.logger.Error("write error", "method", req.Method, "error", err)
			return
		}
	}
}

func (s *Server) dispatch(req *Request) Response {
	resp := Response{ID: req.ID}
	handler, ok := s.handlers[req.Method]
	if !ok {
		resp.Error = &WireError{Code: 501, Message: "unknown method: " + req.Method}
		return resp
	}
	ctx := s.ctx
	if req.RequestID != "" {
		ctx = logger.WithRequestID(ctx, req.RequestID)
	}
	data, err := handler(ctx, req.Params)
	if err != nil {
		code := apperrors.HTTPStatusCode(err)
		if code >= 500 {
			logger.FromContext(ctx).Error("rpc method failed", "method", req.Method, "error", err)
		}
		resp.Error = &WireError{Code: code, Message: err.Error()}
		return resp
	}
	raw, err := json.Marshal(data)
	if err != nil {
		resp.Error = &WireError{Code: 500, Message: fmt.Sprintf("encoding result: %v", err)}
		return resp
	}
	resp.Data = raw
	return resp
}

// Stop closes the listener and every open connection, cancels in-flight
// handler contexts and waits for connection goroutines to exit.
func (s *Server) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.cancel()
	if s.listener != nil {
		s.listener.Close()
	}
	for conn := range s.conns {
		conn.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
	s.logger.Info("rpc server stopped")
}
