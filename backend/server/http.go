package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"fleet-steward/backend/global"
)

type HTTPServer struct{ srv *http.Server }

func StartHTTPServer(host string, port int, handler http.Handler) (*HTTPServer, error) {
	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			global.Logger.Error().Err(err).Msg("http server stopped")
		}
	}()
	global.Logger.Info().Str("addr", addr).Msg("http server listening")
	return &HTTPServer{srv: srv}, nil
}

func (s *HTTPServer) Shutdown(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
