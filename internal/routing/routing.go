package routing

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/SystemBuilders/LockMgr/internal/locker"
	"github.com/SystemBuilders/LockMgr/internal/ticket"
)

// Service is what the routes operate on. A nil ticket holder means the
// gate is disabled. Lockers opened through the locker routes live in the
// service until they are ended.
type Service struct {
	Env          *locker.Environment
	ReadTickets  *ticket.Holder
	WriteTickets *ticket.Holder
	Log          zerolog.Logger

	sessions sessionTable
}

// SetupRouting adds all the routes on the http server.
func SetupRouting(s *Service, r *mux.Router) *mux.Router {
	r.HandleFunc("/health", health).Methods(http.MethodGet)
	r.HandleFunc("/locks", makeLocksHandler(s)).Methods(http.MethodGet)
	r.HandleFunc("/locks/dump", makeDumpHandler(s)).Methods(http.MethodPost)
	r.HandleFunc("/stats", makeStatsHandler(s)).Methods(http.MethodGet)
	r.HandleFunc("/stats", makeResetStatsHandler(s)).Methods(http.MethodDelete)
	r.HandleFunc("/tickets", makeTicketsHandler(s)).Methods(http.MethodGet)
	r.HandleFunc("/tickets/{pool}", makeResizeTicketsHandler(s)).Methods(http.MethodPost)
	r.HandleFunc("/lockers", makeNewLockerHandler(s)).Methods(http.MethodPost)
	r.HandleFunc("/lockers/{id:[0-9]+}", makeLockerInfoHandler(s)).Methods(http.MethodGet)
	r.HandleFunc("/lockers/{id:[0-9]+}", makeEndLockerHandler(s)).Methods(http.MethodDelete)
	r.HandleFunc("/lockers/{id:[0-9]+}/acquire", makeAcquireHandler(s)).Methods(http.MethodPost)
	r.HandleFunc("/lockers/{id:[0-9]+}/release", makeReleaseHandler(s)).Methods(http.MethodPost)
	return r
}

func makeLocksHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		locks(w, r, s)
	}
}

func makeDumpHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		dump(w, r, s)
	}
}

func makeStatsHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stats(w, r, s)
	}
}

func makeResetStatsHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resetStats(w, r, s)
	}
}

func makeTicketsHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tickets(w, r, s)
	}
}

func makeResizeTicketsHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resizeTickets(w, r, s)
	}
}

func makeNewLockerHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		newLocker(w, r, s)
	}
}

func makeLockerInfoHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		lockerInfo(w, r, s)
	}
}

func makeEndLockerHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		endLocker(w, r, s)
	}
}

func makeAcquireHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acquire(w, r, s)
	}
}

func makeReleaseHandler(s *Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		release(w, r, s)
	}
}
