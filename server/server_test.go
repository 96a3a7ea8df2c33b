package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/becomeliminal/memento/auth"
	"github.com/becomeliminal/memento/core"
	"github.com/becomeliminal/memento/dispatcher"
	"github.com/becomeliminal/memento/engine"
	"github.com/becomeliminal/memento/llm"
	"github.com/becomeliminal/memento/mail"
	"github.com/becomeliminal/memento/memory"
	"github.com/becomeliminal/memento/presence"
	"github.com/becomeliminal/memento/server"
	"github.com/becomeliminal/memento/store"
	"github.com/becomeliminal/memento/tasks"
)

type scriptedGen struct {
	mu    sync.Mutex
	text  string
	err   error
	delay time.Duration
}

func (g *scriptedGen) Generate(ctx context.Context, req llm.Request) (string, error) {
	g.mu.Lock()
	text, err, delay := g.text, g.err, g.delay
	g.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return text, err
}

func (g *scriptedGen) slow(d time.Duration) {
	g.mu.Lock()
	g.delay = d
	g.mu.Unlock()
}

func (g *scriptedGen) set(text string, err error) {
	g.mu.Lock()
	g.text, g.err = text, err
	g.mu.Unlock()
}

type fakeMailbox struct {
	recentErr error
	searchErr error
	docs      []memory.Document
	completed map[string]string
}

func (m *fakeMailbox) AuthURL() string { return "https://accounts.example.com/consent" }

func (m *fakeMailbox) Callback(ctx context.Context, code string) (string, error) {
	if code == "" {
		return "", errors.New("no authorization code received")
	}
	return "pending+" + code, nil
}

func (m *fakeMailbox) Complete(ctx context.Context, userID, pendingToken string) error {
	if !strings.HasPrefix(pendingToken, "pending+") {
		return auth.ErrInvalidToken
	}
	m.completed[userID] = pendingToken
	return nil
}

func (m *fakeMailbox) Recent(ctx context.Context, userID string, max int) ([]mail.Email, error) {
	if m.recentErr != nil {
		return nil, m.recentErr
	}
	return []mail.Email{{ID: "m1", Subject: "Q3 budget"}}, nil
}

func (m *fakeMailbox) Search(ctx context.Context, userID, question string) ([]memory.Document, error) {
	return m.docs, m.searchErr
}

type fixture struct {
	t       *testing.T
	srv     *httptest.Server
	store   *store.Store
	auth    *auth.JWTAuthenticator
	gen     *scriptedGen
	manager *memory.Manager
	runner  *tasks.Runner
	dir     *presence.Directory
	mail    *fakeMailbox
}

func newFixture(t *testing.T, withMail bool, configure ...func(*server.Config)) *fixture {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "memento.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	authn, err := auth.NewJWTAuthenticator([]byte("test-secret"))
	require.NoError(t, err)
	t.Cleanup(authn.Close)

	metrics := server.NewMetrics()
	dir := presence.NewDirectory()
	dir.OnChange = metrics.SetOnline

	runner := tasks.New(tasks.WithErrorHandler(metrics.TaskFailed))
	t.Cleanup(runner.Close)

	gen := &scriptedGen{text: "Sounds good."}
	eng := engine.New(gen)
	manager := memory.NewManager(st)

	d, err := dispatcher.New(dispatcher.Deps{
		Auth:      authn,
		Directory: dir,
		Messages:  st,
		Memories:  manager,
		Assistant: eng,
		Tasks:     runner,
	}, dispatcher.WithObserver(metrics))
	require.NoError(t, err)

	f := &fixture{t: t, store: st, auth: authn, gen: gen, manager: manager, runner: runner, dir: dir}
	deps := server.Deps{
		Auth:        authn,
		Dispatcher:  d,
		Transcripts: st,
		Memories:    manager,
		Assistant:   eng,
		Metrics:     metrics,
	}
	if withMail {
		f.mail = &fakeMailbox{completed: map[string]string{}}
		deps.Mail = f.mail
	}

	cfg := server.Config{
		CORSOrigins: []string{"http://localhost:5173"},
		FrontendURL: "http://frontend.test",
	}
	for _, fn := range configure {
		fn(&cfg)
	}
	s, err := server.New(cfg, deps)
	require.NoError(t, err)

	f.srv = httptest.NewServer(s)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fixture) token(id string) string {
	f.t.Helper()
	tok, err := f.auth.Issue(core.Identity{ID: id, DisplayName: "name-" + id}, time.Hour)
	require.NoError(f.t, err)
	return tok
}

func (f *fixture) do(method, path, token string, body interface{}) (*http.Response, []byte) {
	f.t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(f.t, err)
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, f.srv.URL+path, r)
	require.NoError(f.t, err)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	client := &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
	resp, err := client.Do(req)
	require.NoError(f.t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(f.t, err)
	return resp, data
}

func (f *fixture) saveMessage(from, to, text string, at time.Time) *core.Message {
	f.t.Helper()
	msg, err := core.NewDirectMessage(from, to, text, at)
	require.NoError(f.t, err)
	require.NoError(f.t, f.store.SaveMessage(context.Background(), msg))
	return msg
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	resp, body := f.do("GET", "/health", "", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"status":"ok"}`, string(body))
}

func TestAuthMiddleware(t *testing.T) {
	f := newFixture(t, false)

	resp, body := f.do("GET", "/messages/bob", "", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Access denied"}`, string(body))

	resp, body = f.do("GET", "/messages/bob", "not-a-jwt", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Invalid token"}`, string(body))
}

func TestMessages(t *testing.T) {
	f := newFixture(t, false)
	base := time.Now().Add(-time.Hour)
	f.saveMessage("alice", "bob", "first", base)
	f.saveMessage("bob", "alice", "second", base.Add(time.Minute))
	f.saveMessage("alice", "carol", "elsewhere", base.Add(2*time.Minute))

	resp, body := f.do("GET", "/messages/bob", f.token("alice"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got []struct {
		Text     string `json:"text"`
		Sender   string `json:"sender"`
		Receiver string `json:"receiver"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Text)
	assert.Equal(t, "second", got[1].Text)
	assert.Equal(t, "bob", got[1].Sender)

	resp, body = f.do("GET", "/messages/nobody", f.token("alice"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "[]\n", string(body))
}

func TestMemories(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	msg := f.saveMessage("alice", "bob", "Team meeting tomorrow at 10", time.Now())
	_, err := f.manager.Record(ctx, msg, []string{"alice", "bob"})
	require.NoError(t, err)
	f.gen.set("You have a team meeting tomorrow.", nil)

	resp, body := f.do("GET", "/memories?type=meeting&days=7", f.token("bob"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var got struct {
		Memories []struct {
			Type            string `json:"type"`
			OriginalMessage struct {
				Text string `json:"text"`
			} `json:"originalMessage"`
		} `json:"memories"`
		Summary string `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(body, &got))
	require.Len(t, got.Memories, 1)
	assert.Equal(t, "meeting", got.Memories[0].Type)
	assert.Equal(t, "Team meeting tomorrow at 10", got.Memories[0].OriginalMessage.Text)
	assert.Equal(t, "You have a team meeting tomorrow.", got.Summary)

	resp, body = f.do("GET", "/memories?type=deadline", f.token("bob"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"memories":[],"summary":"`+engine.EmptySummary+`"}`, string(body))

	resp, _ = f.do("GET", "/memories?type=birthday", f.token("bob"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp, _ = f.do("GET", "/memories?days=soon", f.token("bob"), nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSuggest(t *testing.T) {
	f := newFixture(t, false)
	tok := f.token("alice")

	var got []string
	resp, body := f.do("POST", "/ai/suggest", tok, map[string]string{"receiverId": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, engine.OpeningSuggestions, got)

	f.saveMessage("bob", "alice", "lunch later?", time.Now())
	f.gen.set("1. Sure!\n2. What time?\n3. Can't today", nil)
	resp, body = f.do("POST", "/ai/suggest", tok, map[string]string{"receiverId": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, []string{"Sure!", "What time?", "Can't today"}, got)

	f.gen.set("", errors.New("upstream down"))
	resp, body = f.do("POST", "/ai/suggest", tok, map[string]string{"receiverId": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.Unmarshal(body, &got))
	assert.Equal(t, engine.FallbackSuggestions, got)

	resp, _ = f.do("POST", "/ai/suggest", tok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestSmartReply(t *testing.T) {
	f := newFixture(t, false)
	tok := f.token("alice")

	resp, body := f.do("POST", "/ai/smart-reply", tok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.JSONEq(t, `{"error":"Message is required"}`, string(body))

	f.gen.set(`"See you there!"`, nil)
	resp, body = f.do("POST", "/ai/smart-reply", tok, map[string]string{"message": "party at 8"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["See you there!"]`, string(body))

	f.gen.set("", errors.New("boom"))
	resp, body = f.do("POST", "/ai/smart-reply", tok, map[string]string{"message": "party at 8"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `["Nice!"]`, string(body))
}

func TestGmail_NotConfigured(t *testing.T) {
	f := newFixture(t, false)
	resp, _ := f.do("GET", "/gmail/emails", f.token("alice"), nil)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestGmail_Routes(t *testing.T) {
	f := newFixture(t, true)
	tok := f.token("alice")

	resp, body := f.do("GET", "/gmail/auth-url", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"url":"https://accounts.example.com/consent"}`, string(body))

	resp, _ = f.do("GET", "/gmail/callback?code=abc", "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "http://frontend.test/gmail/callback?token=pending%2Babc", resp.Header.Get("Location"))

	resp, _ = f.do("GET", "/gmail/callback", "", nil)
	require.Equal(t, http.StatusFound, resp.StatusCode)
	assert.Equal(t, "http://frontend.test/gmail?error=auth_failed", resp.Header.Get("Location"))

	resp, _ = f.do("POST", "/gmail/complete-integration", tok, map[string]string{"tempToken": "pending+abc"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "pending+abc", f.mail.completed["alice"])

	resp, _ = f.do("POST", "/gmail/complete-integration", tok, map[string]string{"tempToken": "forged"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = f.do("GET", "/gmail/emails", tok, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "Q3 budget")

	f.mail.recentErr = mail.ErrNotIntegrated
	resp, _ = f.do("GET", "/gmail/emails", tok, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	f.mail.recentErr = mail.ErrReauthRequired
	resp, body = f.do("GET", "/gmail/emails", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.JSONEq(t, `{"error":"reauth_required"}`, string(body))
}

func TestEmailQuery(t *testing.T) {
	f := newFixture(t, true)
	tok := f.token("alice")

	resp, _ := f.do("POST", "/email-query", tok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	f.mail.docs = []memory.Document{{ID: "m1", Content: "From: travel@example.com\nSubject: Flight\nBody: Departs Friday 9am"}}
	f.gen.set("Your flight departs Friday at 9am.", nil)
	resp, body := f.do("POST", "/email-query", tok, map[string]string{"question": "when is my flight?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"answer":"Your flight departs Friday at 9am."}`, string(body))

	f.mail.searchErr = errors.New("embedding service down")
	resp, body = f.do("POST", "/email-query", tok, map[string]string{"question": "when is my flight?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `{"answer":"`+engine.FallbackEmailAnswer+`"}`, string(body))

	f.mail.searchErr = mail.ErrNotIntegrated
	resp, _ = f.do("POST", "/email-query", tok, map[string]string{"question": "when is my flight?"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestCORS(t *testing.T) {
	f := newFixture(t, false)

	req, err := http.NewRequest(http.MethodOptions, f.srv.URL+"/messages/bob", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req.Header.Set("Origin", "http://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (f *fixture) dial(id string) *websocket.Conn {
	f.t.Helper()
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=" + f.token(id)
	ws, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(f.t, err)
	f.t.Cleanup(func() { ws.Close() })
	return ws
}

// next reads frames until one named event arrives.
func next(t *testing.T, ws *websocket.Conn, event string) frame {
	t.Helper()
	require.NoError(t, ws.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var fr frame
		require.NoError(t, ws.ReadJSON(&fr), "waiting for %q", event)
		if fr.Event == event {
			return fr
		}
	}
}

func TestWebsocket_RejectsBadToken(t *testing.T) {
	f := newFixture(t, false)
	url := "ws" + strings.TrimPrefix(f.srv.URL, "http") + "/ws?token=garbage"

	_, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.ErrorIs(t, err, websocket.ErrBadHandshake)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebsocket_ChatFlow(t *testing.T) {
	f := newFixture(t, false)

	alice := f.dial("alice")
	snap := next(t, alice, core.EventOnlineUsers)
	assert.JSONEq(t, `{"alice":true}`, string(snap.Data))

	bob := f.dial("bob")
	next(t, bob, core.EventOnlineUsers)
	status := next(t, alice, core.EventUserStatus)
	assert.JSONEq(t, `{"userId":"bob","status":"online"}`, string(status.Data))

	require.NoError(t, alice.WriteJSON(map[string]interface{}{
		"event": core.EventPrivateMessage,
		"data":  map[string]string{"text": "standup sync tomorrow", "receiverId": "bob"},
	}))

	var got struct {
		Text   string `json:"text"`
		Sender string `json:"sender"`
	}
	require.NoError(t, json.Unmarshal(next(t, bob, core.EventPrivateMessage).Data, &got))
	assert.Equal(t, "standup sync tomorrow", got.Text)
	assert.Equal(t, "alice", got.Sender)
	next(t, alice, core.EventPrivateMessage)

	require.NoError(t, alice.WriteJSON(map[string]interface{}{
		"event": core.EventTyping,
		"data":  map[string]interface{}{"receiverId": "bob", "isTyping": true},
	}))
	typing := next(t, bob, core.EventTyping)
	assert.JSONEq(t, `{"userId":"alice","isTyping":true}`, string(typing.Data))

	require.NoError(t, bob.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")))
	offline := next(t, alice, core.EventUserStatus)
	assert.JSONEq(t, `{"userId":"bob","status":"offline"}`, string(offline.Data))

	f.runner.Wait()
	mems, err := f.store.ListMemories(context.Background(), store.MemoryFilter{Participant: "bob"})
	require.NoError(t, err)
	assert.Len(t, mems, 1)

	require.Eventually(t, func() bool {
		_, body := f.do("GET", "/metrics", "", nil)
		text := string(body)
		return strings.Contains(text, `memento_events_total{event="private message",outcome="ok"} 1`) &&
			strings.Contains(text, "memento_online_users 1")
	}, 5*time.Second, 50*time.Millisecond)
}

func TestWebsocket_AIMessage(t *testing.T) {
	f := newFixture(t, false)
	f.gen.set("Nothing on the calendar.", nil)

	ws := f.dial("alice")
	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": core.EventAIMessage,
		"data":  map[string]string{"text": "what's today?"},
	}))

	var got core.AIResponse
	require.NoError(t, json.Unmarshal(next(t, ws, core.EventAIResponse).Data, &got))
	assert.Equal(t, "Nothing on the calendar.", got.Message)
	assert.NotEmpty(t, got.ID)
}

func TestWebsocket_SlowReplyKeepsConnection(t *testing.T) {
	f := newFixture(t, false, func(cfg *server.Config) {
		cfg.KeepAlive = 200 * time.Millisecond
	})
	f.gen.set("Still here.", nil)
	f.gen.slow(time.Second)

	ws := f.dial("alice")
	next(t, ws, core.EventOnlineUsers)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{
		"event": core.EventAIMessage,
		"data":  map[string]string{"text": "anything due this week?"},
	}))
	var got core.AIResponse
	require.NoError(t, json.Unmarshal(next(t, ws, core.EventAIResponse).Data, &got))
	assert.Equal(t, "Still here.", got.Message)

	// The read loop must still be serving this connection.
	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{oops")))
	next(t, ws, core.EventError)
	assert.True(t, f.dir.IsOnline("alice"))
}

func TestWebsocket_BadFrames(t *testing.T) {
	f := newFixture(t, false)
	ws := f.dial("alice")

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("{oops")))
	var notice core.ErrorNotice
	require.NoError(t, json.Unmarshal(next(t, ws, core.EventError).Data, &notice))
	assert.Equal(t, dispatcher.ReasonInvalidPayload, notice.Reason)

	require.NoError(t, ws.WriteJSON(map[string]interface{}{"event": "join room", "data": map[string]string{}}))
	require.NoError(t, json.Unmarshal(next(t, ws, core.EventError).Data, &notice))
	assert.Equal(t, dispatcher.ReasonUnknownEvent, notice.Reason)
}
