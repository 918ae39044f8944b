// Package node runs the diagnostics http server of the lock manager.
package node

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/SystemBuilders/LockMgr/internal/routing"
)

// shutdownTimeout bounds how long requests in flight may take once the
// server is stopping.
const shutdownTimeout = 10 * time.Second

// Start serves the diagnostics routes on addr until ctx is done, then
// shuts the server down gracefully.
func Start(ctx context.Context, addr string, s *routing.Service, log zerolog.Logger) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if err := checkValidPort(port); err != nil {
		return err
	}

	router := mux.NewRouter()

	router = routing.SetupRouting(s, router)

	server := &http.Server{
		Handler: router,
		Addr:    addr,
	}

	done := make(chan struct{})
	go gracefulShutdown(ctx, server, log, done)

	log.
		Info().
		Str("addr", addr).
		Msg("starting diagnostics server")
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	<-done
	return nil
}

// gracefulShutdown shuts the server down once ctx is done.
func gracefulShutdown(ctx context.Context, server *http.Server, log zerolog.Logger, done chan<- struct{}) {
	defer close(done)
	<-ctx.Done()

	// Create a deadline to wait for currently serving requests.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.
			Error().
			Err(err).
			Msg("diagnostics server shutdown")
	}

	log.
		Info().
		Msg("shutting down")
}

func checkValidPort(port string) error {
	portInt, err := strconv.Atoi(port)
	if err != nil {
		return err
	}
	if portInt < 0 || portInt > 65535 {
		return errors.New("port number exceeds limit of 65535")
	}
	return nil
}
