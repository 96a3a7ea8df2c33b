package server

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/url"
	"strconv"

	"github.com/becomeliminal/memento/auth"
	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/engine"
	"github.com/becomeliminal/memento/mail"
	"github.com/becomeliminal/memento/store"
)

const (
	suggestHistory = 10
	recentEmails   = 20
	maxBodyBytes   = 1 << 20
)

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[SERVER] Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return false
	}
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	self := identityFrom(r.Context())
	other := r.PathValue("otherId")

	messages, err := s.deps.Transcripts.Conversation(r.Context(), self.ID, other, store.MaxConversation)
	if err != nil {
		log.Printf("[SERVER] Error fetching messages for user=%s other=%s: %v", self.ID, other, err)
		writeError(w, http.StatusInternalServerError, "Error fetching messages")
		return
	}
	if messages == nil {
		messages = []core.Message{}
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *Server) handleMemories(w http.ResponseWriter, r *http.Request) {
	self := identityFrom(r.Context())
	q := r.URL.Query()

	var category core.Category
	if t := q.Get("type"); t != "" {
		c, ok := core.ParseCategory(t)
		if !ok {
			writeError(w, http.StatusBadRequest, "Invalid memory type")
			return
		}
		category = c
	}

	days := 0
	if d := q.Get("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid days")
			return
		}
		days = n
	}

	memories, err := s.deps.Memories.Recall(r.Context(), self.ID, category, days)
	if err != nil {
		log.Printf("[SERVER] Error recalling memories for user=%s: %v", self.ID, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch memories")
		return
	}
	if memories == nil {
		memories = []core.Memory{}
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"memories": memories,
		"summary":  s.deps.Assistant.Summarize(r.Context(), memories),
	})
}

func (s *Server) handleSuggest(w http.ResponseWriter, r *http.Request) {
	self := identityFrom(r.Context())
	var body struct {
		ReceiverID string `json:"receiverId"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.ReceiverID == "" {
		writeError(w, http.StatusBadRequest, "receiverId is required")
		return
	}

	history, err := s.deps.Transcripts.Conversation(r.Context(), self.ID, body.ReceiverID, suggestHistory)
	if err != nil {
		log.Printf("[SERVER] Error loading suggestion history for user=%s: %v", self.ID, err)
		writeJSON(w, http.StatusOK, engine.FallbackSuggestions)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Assistant.Suggest(r.Context(), self.ID, history))
}

func (s *Server) handleSmartReply(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Message string `json:"message"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Message == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}
	writeJSON(w, http.StatusOK, s.deps.Assistant.SmartReply(r.Context(), body.Message))
}

// mailbox reports whether mail is configured, answering 503 when it is not.
func (s *Server) mailbox(w http.ResponseWriter) bool {
	if s.deps.Mail == nil {
		writeError(w, http.StatusServiceUnavailable, "Gmail integration is not configured")
		return false
	}
	return true
}

// writeMailError maps mail failures to the statuses clients act on.
func writeMailError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, mail.ErrNotIntegrated):
		writeError(w, http.StatusNotFound, "Gmail not integrated")
	case errors.Is(err, mail.ErrReauthRequired):
		writeError(w, http.StatusUnauthorized, "reauth_required")
	default:
		writeError(w, http.StatusInternalServerError, fallback)
	}
}

func (s *Server) handleGmailAuthURL(w http.ResponseWriter, r *http.Request) {
	if !s.mailbox(w) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"url": s.deps.Mail.AuthURL()})
}

func (s *Server) handleGmailCallback(w http.ResponseWriter, r *http.Request) {
	if !s.mailbox(w) {
		return
	}

	pending, err := s.deps.Mail.Callback(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		log.Printf("[SERVER] Gmail callback failed: %v", err)
		http.Redirect(w, r, s.cfg.FrontendURL+"/gmail?error=auth_failed", http.StatusFound)
		return
	}
	http.Redirect(w, r, s.cfg.FrontendURL+"/gmail/callback?token="+url.QueryEscape(pending), http.StatusFound)
}

func (s *Server) handleGmailComplete(w http.ResponseWriter, r *http.Request) {
	if !s.mailbox(w) {
		return
	}
	self := identityFrom(r.Context())
	var body struct {
		TempToken string `json:"tempToken"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.TempToken == "" {
		writeError(w, http.StatusBadRequest, "tempToken is required")
		return
	}

	if err := s.deps.Mail.Complete(r.Context(), self.ID, body.TempToken); err != nil {
		log.Printf("[SERVER] Error completing Gmail integration for user=%s: %v", self.ID, err)
		if errors.Is(err, auth.ErrInvalidToken) {
			writeError(w, http.StatusBadRequest, "Invalid or expired token")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to complete Gmail integration")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Gmail integration successful"})
}

func (s *Server) handleGmailEmails(w http.ResponseWriter, r *http.Request) {
	if !s.mailbox(w) {
		return
	}
	self := identityFrom(r.Context())

	emails, err := s.deps.Mail.Recent(r.Context(), self.ID, recentEmails)
	if err != nil {
		log.Printf("[SERVER] Error fetching emails for user=%s: %v", self.ID, err)
		writeMailError(w, err, "Failed to fetch emails")
		return
	}
	if emails == nil {
		emails = []mail.Email{}
	}
	writeJSON(w, http.StatusOK, emails)
}

func (s *Server) handleEmailQuery(w http.ResponseWriter, r *http.Request) {
	if !s.mailbox(w) {
		return
	}
	self := identityFrom(r.Context())
	var body struct {
		Question string `json:"question"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Question == "" {
		writeError(w, http.StatusBadRequest, "Question is required")
		return
	}

	docs, err := s.deps.Mail.Search(r.Context(), self.ID, body.Question)
	if err != nil {
		log.Printf("[SERVER] Email search failed for user=%s: %v", self.ID, err)
		if errors.Is(err, mail.ErrNotIntegrated) || errors.Is(err, mail.ErrReauthRequired) {
			writeMailError(w, err, "")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"answer": engine.FallbackEmailAnswer})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"answer": s.deps.Assistant.AnswerEmail(r.Context(), body.Question, docs)})
}
