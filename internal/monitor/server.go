// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"encoding/json"
	"net/http"
	"sync"

	"github.com/curioloop/mcrals/mcrals"
)

// Server exposes the progress hub and the last summary over HTTP.
//
//	/ws          progress events
//	/api/result  last summary, 204 while no fit has finished
//	/api/health  liveness
type Server struct {
	mux *http.ServeMux
	hub *Hub

	mu   sync.RWMutex
	last *SummaryEvent
	err  string
}

// NewServer wires the routes around hub.
func NewServer(hub *Hub) *Server {
	s := &Server{mux: http.NewServeMux(), hub: hub}
	s.mux.Handle("/ws", hub)
	s.mux.HandleFunc("/api/result", s.handleResult)
	s.mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "clients": hub.Len()})
	})
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// Finish records the outcome of a fit and broadcasts it.
func (s *Server) Finish(sum mcrals.Summary, err error) {
	s.mu.Lock()
	if err != nil {
		s.last, s.err = nil, err.Error()
	} else {
		ev := NewSummaryEvent(sum)
		s.last, s.err = &ev, ""
	}
	s.mu.Unlock()

	if err != nil {
		s.hub.Failed(err)
	} else {
		s.hub.Done(sum)
	}
}

func (s *Server) handleResult(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
		return
	}
	s.mu.RLock()
	last, msg := s.last, s.err
	s.mu.RUnlock()
	switch {
	case msg != "":
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": msg})
	case last == nil:
		w.WriteHeader(http.StatusNoContent)
	default:
		writeJSON(w, http.StatusOK, last)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
