package client

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchRootsSendsToken(t *testing.T) {
	requireLocalListener(t)
	var gotAuth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("expected GET, got %s", r.Method)
		}
		if r.URL.Path != "/api/roots" {
			t.Fatalf("expected path /api/roots, got %s", r.URL.Path)
		}
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `[{"id":"r1","name":"src","path":"/srv/src","watching":true,"allow":["go"],"deny":[],"ignore":[]}]`)
	}))
	t.Cleanup(server.Close)

	roots, err := FetchRoots(server.Client(), server.URL+"/", "token")
	if err != nil {
		t.Fatalf("fetch roots: %v", err)
	}
	if gotAuth != "Bearer token" {
		t.Fatalf("expected auth header, got %q", gotAuth)
	}
	if len(roots) != 1 {
		t.Fatalf("expected 1 root, got %d", len(roots))
	}
	if roots[0].ID != "r1" || roots[0].Path != "/srv/src" || !roots[0].Watching {
		t.Fatalf("unexpected root: %+v", roots[0])
	}
}

func TestFetchRootsHTTPError(t *testing.T) {
	requireLocalListener(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = io.WriteString(w, `{"message":"missing or invalid token","code":"unauthorized"}`)
	}))
	t.Cleanup(server.Close)

	_, err := FetchRoots(server.Client(), server.URL, "")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", httpErr.StatusCode)
	}
	if httpErr.Code != "unauthorized" || httpErr.Message != "missing or invalid token" {
		t.Fatalf("unexpected error payload: %+v", httpErr)
	}
}

func TestFetchContentEscapesPath(t *testing.T) {
	requireLocalListener(t)
	var gotPath, gotQuery string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.Query().Get("path")
		_, _ = io.WriteString(w, `{"path":"docs/a b.md","mod_time":"2026-01-02T03:04:05Z","text":"hello"}`)
	}))
	t.Cleanup(server.Close)

	content, err := FetchContent(server.Client(), server.URL, "", "r1", "docs/a b.md")
	if err != nil {
		t.Fatalf("fetch content: %v", err)
	}
	if gotPath != "/api/roots/r1/content" {
		t.Fatalf("unexpected path %q", gotPath)
	}
	if gotQuery != "docs/a b.md" {
		t.Fatalf("unexpected query path %q", gotQuery)
	}
	if content.Text != "hello" || content.ModTime.IsZero() {
		t.Fatalf("unexpected content: %+v", content)
	}
}

func TestRefreshRootUsesPost(t *testing.T) {
	requireLocalListener(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("expected POST, got %s", r.Method)
		}
		if r.URL.Path != "/api/roots/r1/refresh" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		_, _ = io.WriteString(w, `{"id":"r1","name":"src"}`)
	}))
	t.Cleanup(server.Close)

	info, err := RefreshRoot(server.Client(), server.URL, "", "r1")
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if info.ID != "r1" {
		t.Fatalf("unexpected info: %+v", info)
	}
}

func TestRequestsRequireArguments(t *testing.T) {
	if _, err := FetchRoots(nil, " ", ""); err == nil {
		t.Fatal("expected error for empty base URL")
	}
	if _, err := FetchContent(nil, "http://localhost", "", "", "a"); err == nil {
		t.Fatal("expected error for empty root id")
	}
	if _, err := RefreshRoot(nil, "http://localhost", "", " "); err == nil {
		t.Fatal("expected error for empty root id")
	}
}

func TestReadErrorFallsBackToBody(t *testing.T) {
	requireLocalListener(t)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "plain failure", http.StatusBadGateway)
	}))
	t.Cleanup(server.Close)

	_, err := FetchRoots(server.Client(), server.URL, "")
	var httpErr *HTTPError
	if !errors.As(err, &httpErr) {
		t.Fatalf("expected HTTPError, got %v", err)
	}
	if httpErr.Message != "plain failure" {
		t.Fatalf("expected body text, got %q", httpErr.Message)
	}
}

func requireLocalListener(t *testing.T) {
	t.Helper()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skip("local listener unavailable for httptest")
	}
	_ = listener.Close()
}
