package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"golang.org/x/crypto/bcrypt"

	"journal/api/internal/archive"
	"journal/api/internal/authpw"
	"journal/api/internal/config"
	"journal/api/internal/export"
	"journal/api/internal/history"
	"journal/api/internal/journal"
	"journal/api/internal/journal/journaltest"
	"journal/api/internal/reflection"
	"journal/api/internal/search"
	"journal/api/internal/session"
	"journal/api/internal/store"
)

type memAccounts struct {
	mu      sync.Mutex
	users   map[string]store.User
	revoked map[string]time.Time
	seq     int
	pingErr error
}

func newMemAccounts() *memAccounts {
	return &memAccounts{users: map[string]store.User{}, revoked: map[string]time.Time{}}
}

func (m *memAccounts) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, user := range m.users {
		if user.Email == strings.ToLower(email) {
			return user, nil
		}
	}
	return store.User{}, sql.ErrNoRows
}

func (m *memAccounts) GetUserByID(_ context.Context, userID string) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	user, ok := m.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (m *memAccounts) CreateUser(_ context.Context, user store.User) (store.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == strings.ToLower(user.Email) {
			return store.User{}, store.ErrEmailTaken
		}
	}
	m.seq++
	user.ID = fmt.Sprintf("user-%d", m.seq)
	user.Email = strings.ToLower(user.Email)
	user.CreatedAt = time.Now().UTC()
	m.users[user.ID] = user
	return user, nil
}

func (m *memAccounts) RevokeAccessToken(_ context.Context, jti string, exp time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.revoked[jti] = exp
	return nil
}

func (m *memAccounts) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.revoked[jti]
	return ok, nil
}

func (m *memAccounts) Ping(context.Context) error {
	return m.pingErr
}

// recordingSearch answers every query with canned results and remembers
// index writes.
type recordingSearch struct {
	mu       sync.Mutex
	indexed  map[string]search.EntryRecord
	deleted  []string
	lastQ    search.Query
	response search.Response
}

func (r *recordingSearch) Search(_ context.Context, q search.Query) search.Response {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastQ = q
	resp := r.response
	resp.Query = q.Text
	if resp.Results == nil {
		resp.Results = []search.Result{}
	}
	return resp
}

func (r *recordingSearch) IndexEntry(rec search.EntryRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.indexed[rec.ID] = rec
}

func (r *recordingSearch) DeleteEntry(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.indexed, id)
	r.deleted = append(r.deleted, id)
}

type memArchiver struct {
	objects map[string][]byte
}

func (m *memArchiver) Store(_ context.Context, userID, filename, _ string, data []byte) (archive.Object, error) {
	key := archive.ObjectKey(userID, filename, time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	m.objects[key] = data
	return archive.Object{Key: key, URL: "https://objects.test/" + key, ExpiresAt: time.Now().Add(archive.DefaultLinkTTL)}, nil
}

type scriptedGenerator struct {
	reply string
	err   error
	calls int
}

func (g *scriptedGenerator) Generate(_ context.Context, _, _ string) (string, error) {
	g.calls++
	return g.reply, g.err
}

type allowAll struct{}

func (allowAll) Allow(string) bool { return true }

type testEnv struct {
	svc      *Service
	handler  http.Handler
	accounts *memAccounts
	mem      *journaltest.MemStore
	search   *recordingSearch
	history  *history.Repo
	archive  *memArchiver
	gen      *scriptedGenerator
	redis    *miniredis.Miniredis
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	redisServer := miniredis.RunT(t)
	sessions, err := session.NewRedisStore("redis://" + redisServer.Addr())
	if err != nil {
		t.Fatalf("redis store: %v", err)
	}
	t.Cleanup(func() { _ = sessions.Close() })

	env := &testEnv{
		accounts: newMemAccounts(),
		mem:      journaltest.NewMemStore(),
		search:   &recordingSearch{indexed: map[string]search.EntryRecord{}},
		history:  history.New(t.TempDir()),
		archive:  &memArchiver{objects: map[string][]byte{}},
		gen:      &scriptedGenerator{reply: "You wrote about rain twice this week."},
		redis:    redisServer,
	}
	journalSvc := journal.NewService(env.mem)
	exporter := export.NewService(journalSvc).WithPDFRenderer(func(context.Context, string) ([]byte, error) {
		return nil, export.ErrPDFDependencyMissing
	})

	env.svc = New(config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
	}, Deps{
		Accounts:   env.accounts,
		Sessions:   sessions,
		Journal:    journalSvc,
		Search:     env.search,
		History:    env.history,
		Export:     exporter,
		Archive:    env.archive,
		Reflection: reflection.NewService(env.mem, env.gen, allowAll{}, nil),
	})
	env.svc.passwords = authpw.NewService(env.accounts).WithCost(bcrypt.MinCost)
	env.handler = NewHTTPServer(env.svc, "*").Handler()
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch v := body.(type) {
	case nil:
	case string:
		reader = strings.NewReader(v)
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// signUp registers a user and returns its access and refresh tokens.
func (e *testEnv) signUp(t *testing.T, email, name string) (string, string) {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]string{
		"email":       email,
		"password":    "correct horse",
		"displayName": name,
	})
	if rr.Code != http.StatusCreated {
		t.Fatalf("signup status = %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	return payload["accessToken"].(string), payload["refreshToken"].(string)
}

func decodeMap(t *testing.T, rr *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &payload); err != nil {
		t.Fatalf("parse response: %v body=%s", err, rr.Body.String())
	}
	return payload
}

func decodeEntry(t *testing.T, rr *httptest.ResponseRecorder) journal.Entry {
	t.Helper()
	var entry journal.Entry
	if err := json.Unmarshal(rr.Body.Bytes(), &entry); err != nil {
		t.Fatalf("parse entry: %v body=%s", err, rr.Body.String())
	}
	return entry
}

func errorCode(t *testing.T, rr *httptest.ResponseRecorder) string {
	t.Helper()
	code, _ := decodeMap(t, rr)["code"].(string)
	return code
}
