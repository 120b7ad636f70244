package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lexwrite/api/internal/client"
)

type fakeAPI struct {
	*httptest.Server
	deleted   []string
	loggedOut bool
	premium   bool
}

func newFakeAPI(t *testing.T) *fakeAPI {
	t.Helper()
	api := &fakeAPI{}
	mux := http.NewServeMux()
	profile := func() map[string]any {
		p := map[string]any{"id": "u1", "email": "ada@example.com", "subscription_status": "inactive"}
		if api.premium {
			p["subscription_status"] = "active"
			p["subscription_interval"] = "month"
			p["current_period_end"] = time.Now().Add(48 * time.Hour).UTC().Format(time.RFC3339)
		}
		return p
	}
	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(v)
	}
	mux.HandleFunc("/api/auth/signin", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "hunter22" {
			writeJSON(w, http.StatusUnauthorized, map[string]any{"code": "INVALID_CREDENTIALS", "error": "Invalid email or password"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"accessToken": "at", "refreshToken": "rt", "user": map[string]any{"id": "u1", "email": body["email"]}})
	})
	mux.HandleFunc("/api/profile", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"profile": profile(), "hasPremium": api.premium})
	})
	mux.HandleFunc("/api/session", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer at" {
			writeJSON(w, http.StatusOK, map[string]any{"authenticated": false})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"authenticated": true, "user": map[string]any{"id": "u1", "email": "ada@example.com"}, "profile": profile(), "hasPremium": api.premium})
	})
	mux.HandleFunc("/api/session/logout", func(w http.ResponseWriter, r *http.Request) {
		api.loggedOut = true
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("/api/documents", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			if !api.premium {
				writeJSON(w, http.StatusPaymentRequired, map[string]any{"code": "PREMIUM_REQUIRED", "error": "Premium subscription required"})
				return
			}
			writeJSON(w, http.StatusCreated, map[string]any{"document": map[string]any{"id": "d9", "title": "Untitled Document"}})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"documents": []map[string]any{
			{"id": "d1", "title": "Thesis", "updated_at": "2024-05-01T10:00:00Z"},
		}})
	})
	mux.HandleFunc("/api/documents/", func(w http.ResponseWriter, r *http.Request) {
		api.deleted = append(api.deleted, strings.TrimPrefix(r.URL.Path, "/api/documents/"))
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
	})
	mux.HandleFunc("/api/billing/plans", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"plans": []map[string]any{{"priceId": "price_w", "interval": "week"}, {"priceId": "price_m", "interval": "month"}}})
	})
	mux.HandleFunc("/api/billing/checkout", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		writeJSON(w, http.StatusOK, map[string]any{"url": "https://checkout.example.com/" + body["priceId"]})
	})
	api.Server = httptest.NewServer(mux)
	t.Cleanup(api.Close)
	return api
}

func run(t *testing.T, e *env, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	e.out = out
	cmd := newRootCmd(e)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func testEnv(t *testing.T, api *fakeAPI) *env {
	t.Helper()
	old := readPassword
	readPassword = func(int) ([]byte, error) { return []byte("hunter22\n"), nil }
	t.Cleanup(func() { readPassword = old })
	return &env{
		apiURL:      api.URL,
		sessionPath: filepath.Join(t.TempDir(), "lexwrite", "session.json"),
		in:          strings.NewReader(""),
		out:         &bytes.Buffer{},
	}
}

func TestLoginStoresSession(t *testing.T) {
	api := newFakeAPI(t)
	e := testEnv(t, api)

	out, err := run(t, e, "login", "--email", "ada@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "Signed in as ada@example.com")
	assert.Contains(t, out, "lexctl upgrade")

	stored, err := e.loadSession()
	require.NoError(t, err)
	assert.Equal(t, client.Session{AccessToken: "at", RefreshToken: "rt", User: client.User{ID: "u1", Email: "ada@example.com"}}, stored)
}

func TestLoginWrongPassword(t *testing.T) {
	api := newFakeAPI(t)
	e := testEnv(t, api)
	readPassword = func(int) ([]byte, error) { return []byte("nope"), nil }

	_, err := run(t, e, "login", "--email", "ada@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Invalid email or password")
}

func TestWhoami(t *testing.T) {
	api := newFakeAPI(t)
	api.premium = true
	e := testEnv(t, api)
	require.NoError(t, e.saveSession(client.Session{AccessToken: "at", RefreshToken: "rt"}))

	out, err := run(t, e, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "ada@example.com (u1)")
	assert.Contains(t, out, "Plan: premium (monthly)")
}

func TestWhoamiLoggedOut(t *testing.T) {
	e := testEnv(t, newFakeAPI(t))
	out, err := run(t, e, "whoami")
	require.NoError(t, err)
	assert.Contains(t, out, "Not logged in")
}

func TestDocsListAndNew(t *testing.T) {
	api := newFakeAPI(t)
	e := testEnv(t, api)
	require.NoError(t, e.saveSession(client.Session{AccessToken: "at"}))

	out, err := run(t, e, "docs", "list")
	require.NoError(t, err)
	assert.Contains(t, out, "d1")
	assert.Contains(t, out, "Thesis")

	_, err = run(t, e, "docs", "new", "Draft")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "active plan")

	api.premium = true
	out, err = run(t, e, "docs", "new")
	require.NoError(t, err)
	assert.Contains(t, out, "Created d9")
}

func TestDocsRmNeedsYes(t *testing.T) {
	api := newFakeAPI(t)
	e := testEnv(t, api)
	require.NoError(t, e.saveSession(client.Session{AccessToken: "at"}))

	_, err := run(t, e, "docs", "rm", "d1")
	require.Error(t, err)
	assert.Empty(t, api.deleted)

	_, err = run(t, e, "docs", "rm", "d1", "--yes")
	require.NoError(t, err)
	assert.Equal(t, []string{"d1"}, api.deleted)
}

func TestUpgradePicksInterval(t *testing.T) {
	api := newFakeAPI(t)
	e := testEnv(t, api)
	require.NoError(t, e.saveSession(client.Session{AccessToken: "at"}))

	out, err := run(t, e, "upgrade", "--interval", "month")
	require.NoError(t, err)
	assert.Contains(t, out, "https://checkout.example.com/price_m")

	_, err = run(t, e, "upgrade", "--interval", "year")
	assert.Error(t, err)
}

func TestLogoutClearsStoredSession(t *testing.T) {
	api := newFakeAPI(t)
	e := testEnv(t, api)
	require.NoError(t, e.saveSession(client.Session{AccessToken: "at", RefreshToken: "rt"}))

	out, err := run(t, e, "logout")
	require.NoError(t, err)
	assert.Contains(t, out, "Logged out")
	assert.True(t, api.loggedOut)

	stored, err := e.loadSession()
	require.NoError(t, err)
	assert.Empty(t, stored.AccessToken)
}

func TestCommandsRequireLogin(t *testing.T) {
	e := testEnv(t, newFakeAPI(t))
	_, err := run(t, e, "docs", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not logged in")
}
