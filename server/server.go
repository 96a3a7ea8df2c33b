// Package server exposes Memento over HTTP: the websocket endpoint that feeds
// the dispatcher, the authenticated REST routes, and Prometheus metrics.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/becomeliminal/memento/auth"
	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/dispatcher"
	"github.com/becomeliminal/memento/mail"
	"github.com/becomeliminal/memento/memory"
)

// Transcripts reads conversations. *store.Store satisfies it.
type Transcripts interface {
	Conversation(ctx context.Context, userA, userB string, limit int) ([]core.Message, error)
}

// Recaller reads memories back. *memory.Manager satisfies it.
type Recaller interface {
	Recall(ctx context.Context, userID string, category core.Category, days int) ([]core.Memory, error)
}

// Assistant produces the generated text behind the REST routes. Every method
// returns usable output. *engine.Engine satisfies it.
type Assistant interface {
	Suggest(ctx context.Context, userID string, history []core.Message) []string
	SmartReply(ctx context.Context, message string) []string
	Summarize(ctx context.Context, memories []core.Memory) string
	AnswerEmail(ctx context.Context, question string, docs []memory.Document) string
}

// Mailbox is the mail integration. *mail.Service satisfies it.
type Mailbox interface {
	AuthURL() string
	Callback(ctx context.Context, code string) (string, error)
	Complete(ctx context.Context, userID, pendingToken string) error
	Recent(ctx context.Context, userID string, max int) ([]mail.Email, error)
	Search(ctx context.Context, userID, question string) ([]memory.Document, error)
}

// Config holds transport settings.
type Config struct {
	Addr        string
	CORSOrigins []string
	FrontendURL string

	// KeepAlive is how long a websocket may stay silent, pongs included,
	// before it is dropped. Zero means one minute.
	KeepAlive time.Duration
}

// Deps are the server's collaborators. Mail may be nil, which disables the
// mail routes; Metrics may be nil, which disables /metrics.
type Deps struct {
	Auth        auth.Authenticator
	Dispatcher  *dispatcher.Dispatcher
	Transcripts Transcripts
	Memories    Recaller
	Assistant   Assistant
	Mail        Mailbox
	Metrics     *Metrics
}

// Server routes HTTP and websocket traffic.
type Server struct {
	cfg  Config
	deps Deps

	handler  http.Handler
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns map[*wsConn]struct{}
}

// New creates a server. It does not listen until Run.
func New(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Auth == nil:
		return nil, errors.New("server: Auth is required")
	case deps.Dispatcher == nil:
		return nil, errors.New("server: Dispatcher is required")
	case deps.Transcripts == nil:
		return nil, errors.New("server: Transcripts is required")
	case deps.Memories == nil:
		return nil, errors.New("server: Memories is required")
	case deps.Assistant == nil:
		return nil, errors.New("server: Assistant is required")
	}

	s := &Server{
		cfg:   cfg,
		deps:  deps,
		conns: make(map[*wsConn]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.originAllowed,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /ws", s.handleWebsocket)
	mux.Handle("GET /messages/{otherId}", s.requireAuth(s.handleMessages))
	mux.Handle("GET /memories", s.requireAuth(s.handleMemories))
	mux.Handle("POST /ai/suggest", s.requireAuth(s.handleSuggest))
	mux.Handle("POST /ai/smart-reply", s.requireAuth(s.handleSmartReply))
	mux.Handle("GET /gmail/auth-url", s.requireAuth(s.handleGmailAuthURL))
	mux.HandleFunc("GET /gmail/callback", s.handleGmailCallback)
	mux.Handle("POST /gmail/complete-integration", s.requireAuth(s.handleGmailComplete))
	mux.Handle("GET /gmail/emails", s.requireAuth(s.handleGmailEmails))
	mux.Handle("POST /email-query", s.requireAuth(s.handleEmailQuery))
	if deps.Metrics != nil {
		mux.Handle("GET /metrics", deps.Metrics.Handler())
	}

	s.handler = s.cors(s.instrument(mux))
	return s, nil
}

// ServeHTTP implements http.Handler so the server can be tested without a
// live listener.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Run listens on cfg.Addr and serves until ctx is cancelled, then shuts down
// gracefully and closes every websocket.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.Addr, err)
	}

	srv := &http.Server{
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("[SERVER] Listening on %s", ln.Addr())
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	s.closeConns()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Printf("[SERVER] Stopped")
	return nil
}

func (s *Server) track(c *wsConn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) untrack(c *wsConn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
}

// closeConns closes hijacked websockets, which http.Server.Shutdown ignores.
func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.conns {
		c.close()
	}
}

type ctxKey struct{}

// identityFrom returns the identity requireAuth bound to ctx.
func identityFrom(ctx context.Context) core.Identity {
	identity, _ := ctx.Value(ctxKey{}).(core.Identity)
	return identity
}

// requireAuth rejects requests without a bearer token (401) or with an
// invalid one (403).
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := bearerToken(r)
		if token == "" {
			writeError(w, http.StatusUnauthorized, "Access denied")
			return
		}
		identity, err := s.deps.Auth.Authenticate(r.Context(), token)
		if err != nil {
			writeError(w, http.StatusForbidden, "Invalid token")
			return
		}
		next(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, identity)))
	})
}

func bearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if scheme, token, ok := strings.Cut(h, " "); ok && strings.EqualFold(scheme, "Bearer") {
		return strings.TrimSpace(token)
	}
	return ""
}

func (s *Server) originAllowed(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	return origin == "" || slices.Contains(s.cfg.CORSOrigins, origin)
}

// cors answers preflights and tags responses for allowed origins.
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && slices.Contains(s.cfg.CORSOrigins, origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			h.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE")
			h.Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
			h.Add("Vary", "Origin")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// instrument records request counts and latency by route pattern.
func (s *Server) instrument(next http.Handler) http.Handler {
	if s.deps.Metrics == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" {
			route = "unmatched"
		}
		s.deps.Metrics.RecordHTTPRequest(r.Method, route, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Hijack lets the websocket upgrade through the recorder.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
