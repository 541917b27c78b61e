package server

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/teranos/lookout/errors"
)

func (s *Server) getState() ServerState {
	return ServerState(s.state.Load())
}

func (s *Server) setState(newState ServerState) {
	s.state.Store(int32(newState))
	s.logger.Infow("Server state changed", "new_state", stateString(newState))
}

func stateString(state ServerState) string {
	switch state {
	case ServerStateRunning:
		return "running"
	case ServerStateDraining:
		return "draining"
	case ServerStateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Addr is the configured listen address
func (s *Server) Addr() string {
	return net.JoinHostPort(s.cfg.Server.Host, strconv.Itoa(s.cfg.Server.Port))
}

// Start binds the listener and serves in the background. Bind errors are
// returned; later serve errors arrive on Err.
func (s *Server) Start(ctx context.Context) error {
	ln, err := (&net.ListenConfig{}).Listen(ctx, "tcp", s.Addr())
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.Addr())
	}
	return s.Serve(ln)
}

// Serve serves on an already bound listener in the background
func (s *Server) Serve(ln net.Listener) error {
	readHeader := time.Duration(s.cfg.Server.ReadHeaderTimeoutSeconds) * time.Second
	if readHeader <= 0 {
		readHeader = 10 * time.Second
	}
	s.httpServer = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeader,
	}
	s.setState(ServerStateRunning)

	s.logger.Infow("HTTP server listening",
		"url", "http://"+ln.Addr().String(),
		"input_dir", s.inputDir,
		"reports_dir", s.reportsDir)

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("HTTP server failed", "error", err)
			s.serveErr <- err
		}
		close(s.serveErr)
	}()
	return nil
}

// Err delivers a serve failure, or closes when the server stops cleanly
func (s *Server) Err() <-chan error { return s.serveErr }

// Stop refuses new runs, drains HTTP connections, then waits for in-flight
// runs within the shutdown budget. Safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	var stopErr error
	s.stopOnce.Do(func() {
		s.logger.Infow("Initiating server shutdown")
		s.setState(ServerStateDraining)

		timeout := s.cfg.Server.ShutdownTimeout()
		if timeout <= 0 {
			timeout = DefaultShutdownTimeout
		}
		ctx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		if s.httpServer != nil {
			if err := s.httpServer.Shutdown(ctx); err != nil {
				stopErr = errors.Wrap(err, "HTTP shutdown incomplete")
			}
		}

		remaining := timeout
		if deadline, ok := ctx.Deadline(); ok {
			remaining = time.Until(deadline)
		}
		if !s.dispatcher.Stop(remaining) {
			stopErr = errors.Join(stopErr, errors.Newf("runs still active after %s", timeout))
		}

		s.setState(ServerStateStopped)
	})
	return stopErr
}
