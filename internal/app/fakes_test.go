package app

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"lexwrite/api/internal/authpw"
	"lexwrite/api/internal/autosave"
	"lexwrite/api/internal/config"
	"lexwrite/api/internal/history"
	"lexwrite/api/internal/search"
	"lexwrite/api/internal/store"
)

type fakeStore struct {
	mu        sync.Mutex
	users     map[string]store.User
	profiles  map[string]store.Profile
	documents map[string]store.Document
	resets    map[string]string
	pingFn    func(context.Context) error
	updateErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		users:     map[string]store.User{},
		profiles:  map[string]store.Profile{},
		documents: map[string]store.Document{},
		resets:    map[string]string{},
	}
}

func (f *fakeStore) addUser(id, email string, profile store.Profile) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[id] = store.User{ID: id, Email: email}
	profile.ID = id
	profile.Email = email
	f.profiles[id] = profile
}

func (f *fakeStore) CreateUserWithProfile(_ context.Context, user store.User, fullName string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.users {
		if strings.EqualFold(existing.Email, user.Email) {
			return store.Profile{}, store.ErrEmailTaken
		}
	}
	f.users[user.ID] = user
	profile := store.Profile{ID: user.ID, Email: user.Email, FullName: fullName, SubscriptionStatus: "inactive"}
	f.profiles[user.ID] = profile
	return profile, nil
}

func (f *fakeStore) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, user := range f.users {
		if strings.EqualFold(user.Email, email) {
			return user, nil
		}
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(_ context.Context, id string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[id]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeStore) UpdateUserPassword(_ context.Context, userID, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.ErrNotFound
	}
	user.PasswordHash = hash
	f.users[userID] = user
	return nil
}

func (f *fakeStore) CreatePasswordReset(_ context.Context, userID, token string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resets[token] = userID
	return nil
}

func (f *fakeStore) GetPasswordReset(_ context.Context, token string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.resets[token]
	if !ok {
		return "", store.ErrNotFound
	}
	return userID, nil
}

func (f *fakeStore) MarkPasswordResetUsed(_ context.Context, token string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.resets, token)
	return nil
}

func (f *fakeStore) GetProfile(_ context.Context, id string) (store.Profile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	profile, ok := f.profiles[id]
	if !ok {
		return store.Profile{}, store.ErrNotFound
	}
	return profile, nil
}

func (f *fakeStore) ListDocuments(_ context.Context, userID string) ([]store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Document{}
	for _, doc := range f.documents {
		if doc.UserID == userID {
			out = append(out, doc)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	return out, nil
}

func (f *fakeStore) GetDocument(_ context.Context, userID, id string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok || doc.UserID != userID {
		return store.Document{}, store.ErrNotFound
	}
	return doc, nil
}

func (f *fakeStore) CreateDocument(_ context.Context, doc store.Document, _ string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now().UTC()
	doc.CreatedAt = now
	doc.UpdatedAt = now
	f.documents[doc.ID] = doc
	return doc, nil
}

func (f *fakeStore) UpdateDocument(_ context.Context, userID, id string, title *string, content, _ string) (store.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return store.Document{}, f.updateErr
	}
	doc, ok := f.documents[id]
	if !ok || doc.UserID != userID {
		return store.Document{}, store.ErrNotFound
	}
	if title != nil {
		doc.Title = *title
	}
	doc.Content = content
	if now := time.Now().UTC(); now.After(doc.UpdatedAt) {
		doc.UpdatedAt = now
	}
	f.documents[id] = doc
	return doc, nil
}

func (f *fakeStore) DeleteDocument(_ context.Context, userID, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.documents[id]
	if !ok || doc.UserID != userID {
		return store.ErrNotFound
	}
	delete(f.documents, id)
	return nil
}

func (f *fakeStore) Ping(ctx context.Context) error {
	if f.pingFn != nil {
		return f.pingFn(ctx)
	}
	return nil
}

type fakeSessions struct {
	mu      sync.Mutex
	refresh map[string]store.User
	revoked map[string]bool
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{refresh: map[string]store.User{}, revoked: map[string]bool{}}
}

func (f *fakeSessions) SaveRefreshSession(_ context.Context, hash string, user store.User, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[hash] = user
	return nil
}

func (f *fakeSessions) LookupRefreshSession(_ context.Context, hash string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.refresh[hash]
	if !ok {
		return store.User{}, store.ErrNotFound
	}
	return user, nil
}

func (f *fakeSessions) RevokeRefreshSession(_ context.Context, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.refresh, hash)
	return nil
}

func (f *fakeSessions) RevokeAccessToken(_ context.Context, jti string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.revoked[jti] = true
	return nil
}

func (f *fakeSessions) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.revoked[jti], nil
}

type fakeHistory struct {
	commits map[string][]store.CommitInfo
	removed []string
}

func (f *fakeHistory) Commit(documentID string, content history.Content, author, message string) (store.CommitInfo, bool, error) {
	if f.commits == nil {
		f.commits = map[string][]store.CommitInfo{}
	}
	info := store.CommitInfo{Hash: "h" + string(rune('0'+len(f.commits[documentID]))), Message: message, Author: author, CreatedAt: time.Now()}
	f.commits[documentID] = append([]store.CommitInfo{info}, f.commits[documentID]...)
	return info, true, nil
}

func (f *fakeHistory) History(documentID string, _ int) ([]store.CommitInfo, error) {
	commits, ok := f.commits[documentID]
	if !ok {
		return nil, history.ErrNoHistory
	}
	return commits, nil
}

func (f *fakeHistory) GetContentByHash(documentID, hash string) (history.Content, store.CommitInfo, error) {
	for _, c := range f.commits[documentID] {
		if c.Hash == hash {
			return history.Content{Title: "t", Content: "c"}, c, nil
		}
	}
	return history.Content{}, store.CommitInfo{}, history.ErrUnknownCommit
}

func (f *fakeHistory) Remove(documentID string) error {
	f.removed = append(f.removed, documentID)
	delete(f.commits, documentID)
	return nil
}

type fakeSearch struct {
	mu      sync.Mutex
	indexed map[string]search.DocumentRecord
	deleted []string
	lastQ   search.Query
}

func (f *fakeSearch) Search(_ context.Context, q search.Query) search.Response {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastQ = q
	results := []search.Result{}
	for _, rec := range f.indexed {
		if rec.UserID == q.UserID && strings.Contains(strings.ToLower(rec.Body+" "+rec.Title), strings.ToLower(q.Text)) {
			results = append(results, search.Result{ID: rec.ID, Title: rec.Title})
		}
	}
	return search.Response{Results: results, Total: len(results), Query: q.Text}
}

func (f *fakeSearch) IndexDocument(doc search.DocumentRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.indexed == nil {
		f.indexed = map[string]search.DocumentRecord{}
	}
	f.indexed[doc.ID] = doc
}

func (f *fakeSearch) DeleteDocument(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.indexed, id)
	f.deleted = append(f.deleted, id)
}

type fakeHub struct {
	closed  []string
	editors []autosave.Editor
}

func (f *fakeHub) ServeWS(w http.ResponseWriter, _ *http.Request, documentID string, editor autosave.Editor) {
	f.editors = append(f.editors, editor)
	w.Header().Set("X-Live-Document", documentID)
	w.WriteHeader(http.StatusSwitchingProtocols)
}

func (f *fakeHub) CloseDocument(documentID string) {
	f.closed = append(f.closed, documentID)
}

type fakeMailer struct {
	configured bool
	resetURLs  []string
}

func (f *fakeMailer) IsConfigured() bool { return f.configured }

func (f *fakeMailer) SendPasswordResetEmail(_, _, resetURL string) error {
	f.resetURLs = append(f.resetURLs, resetURL)
	return nil
}

type fakeLimiter struct {
	allow bool
}

func (f *fakeLimiter) Allow(context.Context, string) bool { return f.allow }
func (f *fakeLimiter) RetryAfter() time.Duration        { return 42 * time.Second }

func testConfig() config.Config {
	return config.Config{
		JWTSecret:  "test-secret",
		AccessTTL:  time.Hour,
		RefreshTTL: 24 * time.Hour,
		AppURL:     "https://app.example.com",
	}
}

type testEnv struct {
	store    *fakeStore
	sessions *fakeSessions
	history  *fakeHistory
	search   *fakeSearch
	hub      *fakeHub
	svc      *Service
	server   http.Handler
}

func newTestEnv(t *testing.T, mutate ...func(*Deps)) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    newFakeStore(),
		sessions: newFakeSessions(),
		history:  &fakeHistory{},
		search:   &fakeSearch{},
		hub:      &fakeHub{},
	}
	deps := Deps{
		Store:    env.store,
		Sessions: env.sessions,
		Auth:     authpw.NewService(env.store),
		History:  env.history,
		Search:   env.search,
		Hub:      env.hub,
	}
	for _, fn := range mutate {
		fn(&deps)
	}
	env.svc = New(testConfig(), deps)
	env.server = NewHTTPServer(env.svc, "*").Handler()
	return env
}

// signedIn creates a user with the given profile state and returns a bearer token.
func (e *testEnv) signedIn(t *testing.T, id string, profile store.Profile) string {
	t.Helper()
	email := id + "@example.com"
	e.store.addUser(id, email, profile)
	session, err := e.svc.issueSession(context.Background(), store.User{ID: id, Email: email})
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	return session.Token
}

func premiumProfile() store.Profile {
	end := time.Now().Add(7 * 24 * time.Hour)
	return store.Profile{SubscriptionStatus: "active", CurrentPeriodEnd: &end}
}

func freeProfile() store.Profile {
	return store.Profile{SubscriptionStatus: "inactive"}
}
