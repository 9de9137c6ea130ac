// Package api implements chatnode's read-only HTTP introspection server: a
// human- and test-facing window onto a running engine's peers, clock, and
// history. It never mutates engine state and is not part of the wire
// protocol other nodes speak.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/rechain/chatnode/internal/gossip"
)

// Server serves the introspection endpoints over an *gossip.Engine.
type Server struct {
	engine     *gossip.Engine
	router     *mux.Router
	httpServer *http.Server
}

// NewServer builds a Server wired to engine. Call Start to bind a listener.
func NewServer(engine *gossip.Engine) *Server {
	s := &Server{
		engine: engine,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

// Start binds the server to addr and serves until Stop is called or
// ListenAndServe fails.
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	log.Printf("api: introspection server listening on %s", addr)
	return s.httpServer.ListenAndServe()
}

// Stop gracefully shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP lets Server be used directly as an http.Handler, e.g. in tests
// that don't need a bound listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	s.router.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/peers", s.handlePeers).Methods(http.MethodGet)
	s.router.HandleFunc("/clock", s.handleClock).Methods(http.MethodGet)
	s.router.HandleFunc("/history", s.handleHistory).Methods(http.MethodGet)
}

func (s *Server) respond(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("api: encode response failed: %v", err)
	}
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.respond(w, map[string]interface{}{
		"node_id":      s.engine.NodeID(),
		"history_size": s.engine.History().Len(),
		"active_peers": len(s.engine.Registry().ActivePeers()),
	})
}

func (s *Server) handlePeers(w http.ResponseWriter, r *http.Request) {
	peers := s.engine.Registry().Snapshot()
	out := make([]map[string]interface{}, 0, len(peers))
	for _, p := range peers {
		out = append(out, map[string]interface{}{
			"peer_id":   p.PeerID,
			"host":      p.Host,
			"port":      p.Port,
			"active":    p.Active,
			"last_seen": p.LastSeen.Format(time.RFC3339Nano),
		})
	}
	s.respond(w, map[string]interface{}{"peers": out, "count": len(out)})
}

func (s *Server) handleClock(w http.ResponseWriter, r *http.Request) {
	s.respond(w, s.engine.Clock().Snapshot())
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	msgs := s.engine.History().Enumerate()
	ids := make([]string, 0, len(msgs))
	for _, m := range msgs {
		ids = append(ids, m.MessageId)
	}
	s.respond(w, map[string]interface{}{"message_ids": ids, "count": len(ids)})
}
