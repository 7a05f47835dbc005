// Package server implements the forgecache TCP protocol server.
//
// One goroutine accepts connections; a bounded worker pool handles them. The
// pool slot is acquired before the accept, so when every worker is busy the
// server simply stops accepting — pool exhaustion is the admission-control
// point, and pending connections queue in the listener backlog.
//
// Each worker owns its connection for the connection's lifetime, reading one
// framed request per iteration and writing one framed response (clear being
// the exception: it has no response). The read deadline doubles as the idle
// reaper: a connection that sends nothing for the read-timeout window is
// dropped. Malformed requests are logged and cost only their own connection,
// never the accept loop.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/apex/log"
	"golang.org/x/sync/semaphore"

	"github.com/neuralforge/forgecache/pkg/cluster"
	"github.com/neuralforge/forgecache/pkg/metrics"
	"github.com/neuralforge/forgecache/pkg/protocol"
)

// Backend is the cache the server dispatches requests into. A get consults
// every tier the backend can reach, including other peers. An inbound clear
// maps to ClearLocal: the initiating node is the one notifying peers, so the
// receiver must only clear its own tiers.
type Backend interface {
	Get(key string) ([]byte, bool)
	Set(key string, value []byte, ttl time.Duration) error
	ClearLocal()
	Join(node cluster.Node)
}

// Server accepts wire-protocol connections and executes requests against a
// Backend.
type Server struct {
	backend      Backend
	listener     net.Listener
	workers      *semaphore.Weighted
	metrics      *metrics.Metrics
	addr         string
	readTimeout  time.Duration
	writeTimeout time.Duration
}

// New creates a server that will listen on addr with a worker pool of the
// given size.
func New(addr string, poolSize int, readTimeout, writeTimeout time.Duration, backend Backend) *Server {
	return &Server{
		backend:      backend,
		workers:      semaphore.NewWeighted(int64(poolSize)),
		metrics:      metrics.Get(),
		addr:         addr,
		readTimeout:  readTimeout,
		writeTimeout: writeTimeout,
	}
}

// Start listens and serves until Stop is called. It blocks.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	log.WithField("addr", s.addr).Info("cache server listening")

	for {
		// Admission control: no accept until a worker slot is free.
		if err := s.workers.Acquire(context.Background(), 1); err != nil {
			return err
		}

		conn, err := listener.Accept()
		if err != nil {
			s.workers.Release(1)
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			log.WithError(err).Warn("accept")
			continue
		}

		go func() {
			defer s.workers.Release(1)
			s.handle(conn)
		}()
	}
}

// Stop closes the listener, unblocking Start. In-flight connections finish on
// their own deadlines.
func (s *Server) Stop() error {
	if s.listener != nil {
		return s.listener.Close()
	}
	return nil
}

// Addr returns the bound listener address, useful when listening on port 0.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) handle(conn net.Conn) {
	defer conn.Close()
	remote := conn.RemoteAddr().String()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return
		}

		req, err := protocol.ReadRequest(conn)
		if err != nil {
			if !errors.Is(err, io.EOF) {
				log.WithError(err).WithField("remote", remote).Warn("dropping connection")
			}
			return
		}

		resp := s.dispatch(req)
		if resp == nil {
			// Fire-and-forget request; nothing to write.
			continue
		}

		if err := conn.SetWriteDeadline(time.Now().Add(s.writeTimeout)); err != nil {
			return
		}
		if err := protocol.WriteResponse(conn, resp); err != nil {
			log.WithError(err).WithField("remote", remote).Warn("write response")
			return
		}
	}
}

// dispatch executes one request. A nil response means the request type
// defines no reply.
func (s *Server) dispatch(req *protocol.Request) *protocol.Response {
	switch req.Type {
	case protocol.ReqGet:
		value, ok := s.backend.Get(req.Key)
		s.metrics.RequestsTotal.WithLabelValues("get", "ok").Inc()
		return &protocol.Response{Type: protocol.RespValue, Present: ok, Value: value}

	case protocol.ReqSet:
		if err := s.backend.Set(req.Key, req.Value, req.TTL); err != nil {
			s.metrics.RequestsTotal.WithLabelValues("set", "error").Inc()
			return &protocol.Response{Type: protocol.RespError, Message: err.Error()}
		}
		s.metrics.RequestsTotal.WithLabelValues("set", "ok").Inc()
		return &protocol.Response{Type: protocol.RespOK}

	case protocol.ReqJoin:
		s.backend.Join(cluster.Node{
			Host:        req.Host,
			Port:        req.Port,
			Capacity:    req.Capacity,
			CurrentLoad: req.Load,
		})
		s.metrics.RequestsTotal.WithLabelValues("join", "ok").Inc()
		return &protocol.Response{Type: protocol.RespOK}

	case protocol.ReqClear:
		s.backend.ClearLocal()
		s.metrics.RequestsTotal.WithLabelValues("clear", "ok").Inc()
		return nil

	default:
		s.metrics.RequestsTotal.WithLabelValues("unknown", "error").Inc()
		return &protocol.Response{Type: protocol.RespError, Message: fmt.Sprintf("unknown request type: %d", req.Type)}
	}
}
