package routing

import (
	"encoding/json"
	"net/http"
)

func health(w http.ResponseWriter, _ *http.Request) {
	w.Write([]byte("ok"))
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	byteData, err := json.Marshal(v)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(byteData)
}

// locks lists every resource with granted or pending requests.
func locks(w http.ResponseWriter, _ *http.Request, s *Service) {
	writeJSON(w, s.Env.Manager().Report())
}

// dump writes the lock table to the server log.
func dump(w http.ResponseWriter, _ *http.Request, s *Service) {
	s.Env.Manager().Dump()
	w.Write([]byte("lock table dumped"))
}

func stats(w http.ResponseWriter, _ *http.Request, s *Service) {
	writeJSON(w, s.Env.Stats().Report())
}

func resetStats(w http.ResponseWriter, _ *http.Request, s *Service) {
	s.Env.Stats().Reset()
	s.
		Log.
		Info().
		Msg("lock statistics reset")
	w.Write([]byte("lock statistics reset"))
}
