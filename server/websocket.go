package server

import (
	"log"
	"net/http"

	"github.com/becomeliminal/memento/core"
)

// handleWebsocket authenticates before upgrading: a rejected credential gets
// a plain 401 and never reaches the directory.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		token = bearerToken(r)
	}

	var onDrop func()
	if s.deps.Metrics != nil {
		onDrop = s.deps.Metrics.frameDropped
	}
	conn := newWSConn(s.cfg.KeepAlive, onDrop)

	session := s.deps.Dispatcher.NewSession(conn)
	if err := session.Authenticate(r.Context(), token, r.URL.Query().Get("username")); err != nil {
		log.Printf("[SERVER] Websocket authentication failed from %s: %v", r.RemoteAddr, err)
		writeError(w, http.StatusUnauthorized, "Authentication error")
		return
	}
	conn.userID = session.Identity().ID

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		log.Printf("[SERVER] Websocket upgrade failed for user=%s: %v", conn.userID, err)
		session.Close()
		return
	}
	conn.ws = ws

	s.track(conn)
	defer s.untrack(conn)

	go conn.writePump()
	if err := session.Open(); err != nil {
		log.Printf("[SERVER] Failed to open session for user=%s: %v", conn.userID, err)
		conn.close()
		return
	}

	ctx := r.Context()
	conn.readPump(func(in core.Inbound) {
		session.Handle(ctx, in)
	})

	session.Close()
	conn.close()
}
