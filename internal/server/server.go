// Package server binds the ZeroMQ reply socket and drives requests through a
// Handler one at a time.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"

	"github.com/book-expert/logger"
	"github.com/go-zeromq/zmq4"
)

var (
	// ErrEndpointEmpty indicates that no endpoint was given to bind.
	ErrEndpointEmpty = errors.New("endpoint cannot be empty")
	// ErrClosed indicates that Run was called on, or outlived, a closed server.
	ErrClosed = errors.New("server is closed")
)

// Handler turns one raw request into one raw response.
type Handler interface {
	Handle(ctx context.Context, request []byte) []byte
}

// Server owns the reply socket from New until Close.
type Server struct {
	socket    zmq4.Socket
	socketCtx context.Context
	cancel    context.CancelFunc
	handler   Handler
	log       *logger.Logger

	closeOnce sync.Once
	closeErr  error
}

type received struct {
	msg zmq4.Msg
	err error
}

// New binds a reply socket on endpoint (for example "tcp://*:15555").
func New(endpoint string, handler Handler, log *logger.Logger) (*Server, error) {
	if endpoint == "" {
		return nil, ErrEndpointEmpty
	}

	// The socket outlives any single Run context so a reply in flight during
	// shutdown can still be sent.
	socketCtx, cancel := context.WithCancel(context.Background())
	socket := zmq4.NewRep(socketCtx)

	err := socket.Listen(endpoint)
	if err != nil {
		cancel()
		_ = socket.Close()

		return nil, fmt.Errorf("failed to bind reply socket on %s: %w", endpoint, err)
	}

	return &Server{
		socket:    socket,
		socketCtx: socketCtx,
		cancel:    cancel,
		handler:   handler,
		log:       log,
	}, nil
}

// Addr returns the bound address.
func (s *Server) Addr() net.Addr {
	return s.socket.Addr()
}

// Run answers requests until ctx is cancelled. Exactly one request is in
// flight at a time: the next receive starts only after the previous reply was
// sent. Cancellation is observed while waiting for a request; a request
// already being handled runs to completion and is answered first. Frames that
// cannot be received or answered are logged and skipped. On cancellation the
// socket is closed before Run returns, so no later request is accepted and
// left unanswered.
func (s *Server) Run(ctx context.Context) error {
	s.log.System("Listening for requests on %s", s.Addr())

	for {
		request, err := s.receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.log.System("Shutdown requested, leaving request loop")
				s.closeQuietly()

				return nil
			}

			if s.socketCtx.Err() != nil {
				return ErrClosed
			}

			s.log.Warn("Skipping unreadable request: %v", err)

			continue
		}

		reply := s.handler.Handle(context.WithoutCancel(ctx), request)

		err = s.socket.Send(zmq4.NewMsg(reply))
		if err != nil {
			if s.socketCtx.Err() != nil {
				return ErrClosed
			}

			s.log.Warn("Failed to send reply, waiting for the next request: %v", err)
		}
	}
}

// receive blocks until a request arrives or ctx is cancelled. On cancellation
// the pending Recv is released by Close.
func (s *Server) receive(ctx context.Context) ([]byte, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	done := make(chan received, 1)

	go func() {
		msg, err := s.socket.Recv()
		done <- received{msg: msg, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case result := <-done:
		if result.err != nil {
			return nil, fmt.Errorf("failed to receive request: %w", result.err)
		}

		return result.msg.Bytes(), nil
	}
}

// Close releases the socket. Calls after the first return its result.
func (s *Server) Close() error {
	s.closeOnce.Do(func() {
		err := s.socket.Close()
		s.cancel()

		if err != nil {
			s.closeErr = fmt.Errorf("failed to close reply socket: %w", err)
		}
	})

	return s.closeErr
}

func (s *Server) closeQuietly() {
	err := s.Close()
	if err != nil {
		s.log.Warn("%v", err)
	}
}
