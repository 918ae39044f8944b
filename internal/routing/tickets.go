package routing

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/SystemBuilders/LockMgr/internal/ticket"
)

// resizeTimeout bounds how long a shrinking pool waits for tickets in use
// to come back.
const resizeTimeout = 10 * time.Second

// PoolInfo describes one admission pool.
type PoolInfo struct {
	Enabled   bool `json:"enabled"`
	Used      int  `json:"used"`
	Available int  `json:"available"`
	OutOf     int  `json:"out_of"`
}

// TicketsInfo describes both admission pools.
type TicketsInfo struct {
	Read  PoolInfo `json:"read"`
	Write PoolInfo `json:"write"`
}

// ResizeRequest is the body of a pool resize.
type ResizeRequest struct {
	Size int `json:"size"`
}

func poolInfo(h *ticket.Holder) PoolInfo {
	if h == nil {
		return PoolInfo{}
	}
	return PoolInfo{
		Enabled:   true,
		Used:      h.Used(),
		Available: h.Available(),
		OutOf:     h.OutOf(),
	}
}

func tickets(w http.ResponseWriter, _ *http.Request, s *Service) {
	writeJSON(w, TicketsInfo{
		Read:  poolInfo(s.ReadTickets),
		Write: poolInfo(s.WriteTickets),
	})
}

func resizeTickets(w http.ResponseWriter, r *http.Request, s *Service) {
	var holder *ticket.Holder
	pool := mux.Vars(r)["pool"]
	switch pool {
	case "read":
		holder = s.ReadTickets
	case "write":
		holder = s.WriteTickets
	default:
		http.Error(w, "unknown ticket pool "+pool, http.StatusNotFound)
		return
	}
	if holder == nil {
		http.Error(w, "ticket pool "+pool+" is disabled", http.StatusConflict)
		return
	}

	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var req ResizeRequest
	err = json.Unmarshal(body, &req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), resizeTimeout)
	defer cancel()
	err = holder.Resize(ctx, req.Size)
	if err == ticket.ErrInvalidSize {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	s.
		Log.
		Info().
		Str("pool", pool).
		Int("size", req.Size).
		Msg("ticket pool resized")
	writeJSON(w, poolInfo(holder))
}
