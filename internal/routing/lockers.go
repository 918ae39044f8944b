package routing

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/gorilla/mux"

	"github.com/SystemBuilders/LockMgr/internal/locker"
	"github.com/SystemBuilders/LockMgr/internal/lockmanager"
	"github.com/SystemBuilders/LockMgr/internal/resource"
)

// DefaultAcquireTimeout bounds an acquisition that names no timeout.
const DefaultAcquireTimeout = 5 * time.Second

var errBadResource = errors.New("resource cannot be locked remotely")

// AcquireRequest is the body of a lock acquisition by a session.
type AcquireRequest struct {
	Type          string `json:"type"`
	Name          string `json:"name"`
	Mode          string `json:"mode"`
	TimeoutMillis int64  `json:"timeout_ms"`
	CheckDeadlock bool   `json:"check_deadlock"`
}

// AcquireResponse is the outcome of an acquisition.
type AcquireResponse struct {
	Result string `json:"result"`
	Mode   string `json:"mode"`
}

// ReleaseRequest names a resource held by a session.
type ReleaseRequest struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// ReleaseResponse tells whether the resource is no longer held, and in
// which mode it is still held otherwise.
type ReleaseResponse struct {
	Released bool   `json:"released"`
	Mode     string `json:"mode"`
}

// session is a Locker owned by a remote client. A Locker serves one
// operation at a time, so every request on a session holds mu.
type session struct {
	mu sync.Mutex
	l  *locker.Locker
}

type sessionTable struct {
	mu       sync.Mutex
	sessions map[lockmanager.LockerID]*session
}

func (t *sessionTable) add(l *locker.Locker) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sessions == nil {
		t.sessions = make(map[lockmanager.LockerID]*session)
	}
	t.sessions[l.ID()] = &session{l: l}
}

func (t *sessionTable) get(id lockmanager.LockerID) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[id]
	return sess, ok
}

func (t *sessionTable) remove(id lockmanager.LockerID) (*session, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	sess, ok := t.sessions[id]
	delete(t.sessions, id)
	return sess, ok
}

func (t *sessionTable) removeAll() []*session {
	t.mu.Lock()
	defer t.mu.Unlock()
	all := make([]*session, 0, len(t.sessions))
	for id, sess := range t.sessions {
		all = append(all, sess)
		delete(t.sessions, id)
	}
	return all
}

// EndSessions releases every lock held by remote sessions and forgets
// them. It returns the number of sessions ended.
func (s *Service) EndSessions() int {
	all := s.sessions.removeAll()
	for _, sess := range all {
		sess.end()
	}
	return len(all)
}

// end releases everything the session holds, innermost resource first.
func (sess *session) end() {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.l == nil {
		return
	}
	held := sess.l.Info().Locks
	for i := len(held) - 1; i >= 0; i-- {
		for !sess.l.Unlock(held[i].ResourceID) {
		}
	}
	sess.l = nil
}

// resourceFor maps a type name and a resource name to a resource. The
// Global type names the Global lock, or ParallelBatchWriterMode by name.
// Mutexes are process local and are refused.
func resourceFor(typeName, name string) (resource.ID, error) {
	t, err := resource.ParseType(typeName)
	if err != nil {
		return resource.Invalid, err
	}
	switch t {
	case resource.TypeGlobal:
		switch name {
		case "", "Global":
			return resource.Global, nil
		case "ParallelBatchWriterMode":
			return resource.ParallelBatchWriterMode, nil
		}
	case resource.TypeFlush:
		return resource.Flush, nil
	case resource.TypeDatabase, resource.TypeCollection, resource.TypeMetadata:
		if name != "" {
			return resource.New(t, name), nil
		}
	}
	return resource.Invalid, errors.Wrapf(errBadResource, "%s %q", typeName, name)
}

func sessionFor(w http.ResponseWriter, r *http.Request, s *Service) (lockmanager.LockerID, *session, bool) {
	raw := mux.Vars(r)["id"]
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return 0, nil, false
	}
	id := lockmanager.LockerID(n)
	sess, ok := s.sessions.get(id)
	if !ok {
		http.Error(w, "no locker "+raw, http.StatusNotFound)
		return 0, nil, false
	}
	return id, sess, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	body, err := ioutil.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// newLocker opens a session and returns its Locker.
func newLocker(w http.ResponseWriter, _ *http.Request, s *Service) {
	l := s.Env.NewLocker()
	s.sessions.add(l)
	s.
		Log.
		Debug().
		Uint64("locker", uint64(l.ID())).
		Msg("locker session opened")
	writeJSON(w, l.Info())
}

func lockerInfo(w http.ResponseWriter, r *http.Request, s *Service) {
	_, sess, ok := sessionFor(w, r, s)
	if !ok {
		return
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.l == nil {
		http.Error(w, "locker ended", http.StatusNotFound)
		return
	}
	writeJSON(w, sess.l.Info())
}

func endLocker(w http.ResponseWriter, r *http.Request, s *Service) {
	id, sess, ok := sessionFor(w, r, s)
	if !ok {
		return
	}
	s.sessions.remove(id)
	sess.end()
	s.
		Log.
		Debug().
		Uint64("locker", uint64(id)).
		Msg("locker session ended")
	w.Write([]byte("locker ended"))
}

// acquire locks a resource on behalf of a session. It blocks until the
// lock is granted or the timeout of the request passes.
func acquire(w http.ResponseWriter, r *http.Request, s *Service) {
	_, sess, ok := sessionFor(w, r, s)
	if !ok {
		return
	}
	var req AcquireRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := resourceFor(req.Type, req.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := lockmanager.ParseMode(req.Mode)
	if err != nil || mode == lockmanager.ModeNone {
		http.Error(w, "bad lock mode "+req.Mode, http.StatusBadRequest)
		return
	}
	timeout := DefaultAcquireTimeout
	if req.TimeoutMillis > 0 {
		timeout = time.Duration(req.TimeoutMillis) * time.Millisecond
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	l := sess.l
	if l == nil {
		http.Error(w, "locker ended", http.StatusNotFound)
		return
	}
	if err := l.CheckOrder(id); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if held := l.GetLockMode(id); held != lockmanager.ModeNone &&
		!lockmanager.IsModeCovered(mode, held) && !lockmanager.IsModeCovered(held, mode) {
		http.Error(w, "cannot convert "+held.String()+" to "+mode.String(), http.StatusConflict)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()
	result := l.Lock(ctx, id, mode, req.CheckDeadlock)
	s.
		Log.
		Debug().
		Uint64("locker", uint64(l.ID())).
		Str("resource", id.String()).
		Str("mode", mode.String()).
		Str("result", result.String()).
		Msg("lock acquisition")

	switch result {
	case lockmanager.ResultOK:
		writeJSON(w, AcquireResponse{
			Result: result.String(),
			Mode:   l.GetLockMode(id).String(),
		})
	case lockmanager.ResultTimeout:
		http.Error(w, result.Err().Error(), http.StatusRequestTimeout)
	case lockmanager.ResultDeadlock:
		http.Error(w, result.Err().Error(), http.StatusConflict)
	default:
		http.Error(w, result.String(), http.StatusInternalServerError)
	}
}

// release drops one acquisition of a resource held by a session.
func release(w http.ResponseWriter, r *http.Request, s *Service) {
	_, sess, ok := sessionFor(w, r, s)
	if !ok {
		return
	}
	var req ReleaseRequest
	if !decodeBody(w, r, &req) {
		return
	}
	id, err := resourceFor(req.Type, req.Name)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	l := sess.l
	if l == nil {
		http.Error(w, "locker ended", http.StatusNotFound)
		return
	}
	if l.GetLockMode(id) == lockmanager.ModeNone {
		http.Error(w, id.String()+" is not held", http.StatusNotFound)
		return
	}
	released := l.Unlock(id)
	writeJSON(w, ReleaseResponse{
		Released: released,
		Mode:     l.GetLockMode(id).String(),
	})
}
