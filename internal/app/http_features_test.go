package app

import (
	"errors"
	"net/http"
	"strings"
	"testing"
	"time"

	"journal/api/internal/ratelimit"
	"journal/api/internal/reflection"
	"journal/api/internal/search"
)

func TestSearchScopesToCaller(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "avery@example.com", "Avery")
	owner, _ := env.accounts.GetUserByEmail(t.Context(), "avery@example.com")
	env.search.response = search.Response{
		Results: []search.Result{{ID: "e1", Title: "Rainy day"}},
		Total:   1,
		Engine:  "meilisearch",
	}

	rr := env.do(t, http.MethodGet, "/api/search?q=rain&tag=weather&limit=5&offset=10", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if env.search.lastQ.UserID != owner.ID {
		t.Fatalf("search should be scoped to %s, got %q", owner.ID, env.search.lastQ.UserID)
	}
	if q := env.search.lastQ; q.Text != "rain" || q.Tag != "weather" || q.Limit != 5 || q.Offset != 10 {
		t.Fatalf("unexpected query %+v", q)
	}
	payload := decodeMap(t, rr)
	if payload["engine"] != "meilisearch" || len(payload["results"].([]any)) != 1 {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestSearchRejectsBadPaging(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "avery@example.com", "Avery")
	for _, path := range []string{"/api/search?q=x&limit=ten", "/api/search?q=x&offset=-x"} {
		if rr := env.do(t, http.MethodGet, path, token, nil); rr.Code != http.StatusUnprocessableEntity {
			t.Errorf("%s: expected 422, got %d", path, rr.Code)
		}
	}
}

func TestExportMarkdown(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "avery@example.com", "Avery")
	createEntry(t, env, token, map[string]any{"title": "Harbor walk", "content": "Gulls everywhere.", "tags": []string{"outdoors"}})

	rr := env.do(t, http.MethodGet, "/api/export?format=markdown", token, nil)
	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d body=%s", rr.Code, rr.Body.String())
	}
	if ct := rr.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/markdown") {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, ".md") {
		t.Fatalf("content disposition = %q", cd)
	}
	body := rr.Body.String()
	for _, want := range []string{"# Journal of Avery", "## Harbor walk", "`#outdoors`", "Gulls everywhere."} {
		if !strings.Contains(body, want) {
			t.Errorf("export missing %q", want)
		}
	}
}

func TestExportDefaultsToHTML(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "avery@example.com", "Avery")

	rr := env.do(t, http.MethodGet, "/api/export", token, nil)
	if rr.Code != http.StatusOK || !strings.HasPrefix(rr.Header().Get("Content-Type"), "text/html") {
		t.Fatalf("expected html export, got %d %q", rr.Code, rr.Header().Get("Content-Type"))
	}
}

func TestExportErrors(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "avery@example.com", "Avery")

	if rr := env.do(t, http.MethodGet, "/api/export?format=docx", token, nil); rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("unsupported format should be 422, got %d", rr.Code)
	}
	rr := env.do(t, http.MethodGet, "/api/export?format=pdf", token, nil)
	if rr.Code != http.StatusServiceUnavailable || errorCode(t, rr) != "EXPORT_UNAVAILABLE" {
		t.Fatalf("missing chrome should be 503 EXPORT_UNAVAILABLE, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestArchiveExport(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "avery@example.com", "Avery")
	owner, _ := env.accounts.GetUserByEmail(t.Context(), "avery@example.com")
	createEntry(t, env, token, map[string]any{"title": "Kept"})

	rr := env.do(t, http.MethodPost, "/api/export/archive", token, map[string]string{"format": "md"})
	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d body=%s", rr.Code, rr.Body.String())
	}
	payload := decodeMap(t, rr)
	key, _ := payload["key"].(string)
	if !strings.HasPrefix(key, "users/"+owner.ID+"/exports/") || !strings.HasSuffix(key, ".md") {
		t.Fatalf("unexpected key %q", key)
	}
	if url, _ := payload["url"].(string); url == "" {
		t.Fatal("expected presigned url")
	}
	if !strings.Contains(string(env.archive.objects[key]), "## Kept") {
		t.Fatal("archived object should hold the export")
	}
}

func TestArchiveUnavailable(t *testing.T) {
	env := newTestEnv(t)
	env.svc.archiver = nil
	token, _ := env.signUp(t, "avery@example.com", "Avery")

	rr := env.do(t, http.MethodPost, "/api/export/archive", token, map[string]string{"format": "html"})
	if rr.Code != http.StatusServiceUnavailable || errorCode(t, rr) != "ARCHIVE_UNAVAILABLE" {
		t.Fatalf("expected 503 ARCHIVE_UNAVAILABLE, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestReflection(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "avery@example.com", "Avery")

	rr := env.do(t, http.MethodPost, "/api/reflection", token, nil)
	if rr.Code != http.StatusOK || decodeMap(t, rr)["reply"] != reflection.NoEntriesText {
		t.Fatalf("expected empty-journal reply, got %d %s", rr.Code, rr.Body.String())
	}
	if env.gen.calls != 0 {
		t.Fatal("provider should not be called without entries")
	}

	createEntry(t, env, token, map[string]any{"title": "Rain", "content": "It rained again."})
	rr = env.do(t, http.MethodPost, "/api/reflection", token, nil)
	if rr.Code != http.StatusOK || decodeMap(t, rr)["reply"] != env.gen.reply {
		t.Fatalf("expected provider reply, got %d %s", rr.Code, rr.Body.String())
	}
}

func TestReflectionErrors(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "avery@example.com", "Avery")
	createEntry(t, env, token, map[string]any{"title": "Rain", "content": "It rained again."})

	env.gen.err = errors.New("upstream 500")
	rr := env.do(t, http.MethodPost, "/api/reflection", token, nil)
	if rr.Code != http.StatusBadGateway || errorCode(t, rr) != "AI_PROVIDER_ERROR" {
		t.Fatalf("expected 502 AI_PROVIDER_ERROR, got %d %s", rr.Code, rr.Body.String())
	}

	env.svc.reflection = nil
	rr = env.do(t, http.MethodPost, "/api/reflection", token, nil)
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when unconfigured, got %d", rr.Code)
	}
}

func TestReflectionRateLimit(t *testing.T) {
	env := newTestEnv(t)
	limiter := ratelimit.New(0.001, 1, time.Minute)
	t.Cleanup(limiter.Stop)
	env.svc.reflection = reflection.NewService(env.mem, env.gen, limiter, nil)
	token, _ := env.signUp(t, "avery@example.com", "Avery")

	if rr := env.do(t, http.MethodPost, "/api/reflection", token, nil); rr.Code != http.StatusOK {
		t.Fatalf("first request should pass, got %d", rr.Code)
	}
	rr := env.do(t, http.MethodPost, "/api/reflection", token, nil)
	if rr.Code != http.StatusTooManyRequests || errorCode(t, rr) != "RATE_LIMITED" {
		t.Fatalf("expected 429 RATE_LIMITED, got %d %s", rr.Code, rr.Body.String())
	}
}
