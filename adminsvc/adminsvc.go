// Copyright 2026 The Netsync Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package adminsvc is a small net/http control-plane surface a server
// binary mounts alongside the raw netsync listener and the Prometheus
// /metrics handler: a session list/detail view and a known-server-key
// eviction endpoint. See SPEC_FULL.md §11 for why this stays on
// net/http + encoding/json rather than adopting a second RPC stack.
package adminsvc

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/opensync/netsync/session"
	"github.com/opensync/netsync/storage"
)

// SessionInfo is the JSON-visible snapshot of one live session.
type SessionInfo struct {
	ID        string    `json:"id"`
	Peer      string    `json:"peer"`
	Voice     string    `json:"voice"`
	State     string    `json:"state"`
	StartedAt time.Time `json:"started_at"`
}

// Registry tracks the sessions a server binary has open, so the admin
// handlers have something to report. cmd/netsyncd registers a session
// when it accepts a connection and unregisters it on close.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*entry
}

type entry struct {
	info    SessionInfo
	session *session.Session
}

// NewRegistry returns an empty session registry.
func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*entry)}
}

// Register records a newly accepted session under id.
func (r *Registry) Register(id, peer string, voice session.Voice, s *session.Session) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := "client"
	if voice == session.ServerVoice {
		v = "server"
	}
	r.sessions[id] = &entry{
		info: SessionInfo{
			ID:        id,
			Peer:      peer,
			Voice:     v,
			StartedAt: time.Now(),
		},
		session: s,
	}
}

// Unregister drops id from the registry, called once a session closes.
func (r *Registry) Unregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.sessions, id)
}

// List returns a snapshot of every tracked session's current state.
func (r *Registry) List() []SessionInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]SessionInfo, 0, len(r.sessions))
	for _, e := range r.sessions {
		info := e.info
		info.State = e.session.State().String()
		out = append(out, info)
	}
	return out
}

// Get returns the current snapshot for one session id.
func (r *Registry) Get(id string) (SessionInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sessions[id]
	if !ok {
		return SessionInfo{}, false
	}
	info := e.info
	info.State = e.session.State().String()
	return info, true
}

// Server is the adminsvc http.Handler. Mount it with http.ListenAndServe
// the same way cmd/netsyncd mounts the prometheus handler on its own
// addr.
type Server struct {
	registry *Registry
	policy   storage.PolicyHooks
	forget   KnownServerForgetter
}

// KnownServerForgetter is implemented by a host's trust-on-first-use
// key store so the admin endpoint can evict a stale server fingerprint.
type KnownServerForgetter interface {
	Forget(host string) error
}

// New builds an adminsvc Server backed by registry. forget may be nil,
// in which case POST /known-servers/{host}/forget always answers 501.
func New(registry *Registry, forget KnownServerForgetter) *Server {
	return &Server{registry: registry, forget: forget}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/sessions" && r.Method == http.MethodGet:
		s.handleListSessions(w, r)
	case strings.HasPrefix(r.URL.Path, "/sessions/") && r.Method == http.MethodGet:
		s.handleGetSession(w, r)
	case strings.HasPrefix(r.URL.Path, "/known-servers/") && strings.HasSuffix(r.URL.Path, "/forget") && r.Method == http.MethodPost:
		s.handleForgetServer(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/sessions/")
	info, ok := s.registry.Get(id)
	if !ok {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (s *Server) handleForgetServer(w http.ResponseWriter, r *http.Request) {
	host := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/known-servers/"), "/forget")
	if host == "" {
		http.Error(w, "missing host", http.StatusBadRequest)
		return
	}
	if s.forget == nil {
		http.Error(w, "known-server forgetting not configured", http.StatusNotImplemented)
		return
	}
	if err := s.forget.Forget(host); err != nil {
		glog.Warningf("adminsvc: forget %s: %v", host, err)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Warningf("adminsvc: encoding response: %v", err)
	}
}
