package server

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kauthdev/kauth/engine"
	kerrors "github.com/kauthdev/kauth/errors"
	"github.com/kauthdev/kauth/internal/jwt"
	"github.com/kauthdev/kauth/internal/repository"
	"github.com/kauthdev/kauth/logger"
	"github.com/kauthdev/kauth/provider"
)

// fakeRepo is an in-memory Repository for handler tests.
type fakeRepo struct {
	mu      sync.Mutex
	users   map[uuid.UUID]*repository.User
	records []*repository.LoginRecord
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{users: make(map[uuid.UUID]*repository.User)}
}

func (f *fakeRepo) UpsertFromProfile(_ context.Context, providerKey string, profile provider.User) (*repository.User, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, u := range f.users {
		if u.Provider == providerKey && u.ProviderUserID == profile.ID {
			u.Name = profile.Name
			u.Email = profile.Email
			u.LastLoginAt = time.Now()
			return u, false, nil
		}
	}

	u := &repository.User{
		ID:             uuid.New(),
		Provider:       providerKey,
		ProviderUserID: profile.ID,
		Email:          profile.Email,
		Name:           profile.Name,
		Image:          profile.Image,
		CreatedAt:      time.Now(),
	}
	f.users[u.ID] = u
	return u, true, nil
}

func (f *fakeRepo) GetUserByID(_ context.Context, id uuid.UUID) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return u, nil
}

func (f *fakeRepo) GetUserByProvider(_ context.Context, providerKey, providerUserID string) (*repository.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.Provider == providerKey && u.ProviderUserID == providerUserID {
			return u, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (f *fakeRepo) RecordLogin(_ context.Context, rec *repository.LoginRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records = append(f.records, rec)
	return nil
}

func (f *fakeRepo) PurgeLoginRecords(_ context.Context, _ time.Duration) (int64, error) {
	return 0, nil
}

func testDescriptor(tokenURL, userInfoURL string) *provider.Descriptor {
	return &provider.Descriptor{
		Key: provider.Kakao,
		Endpoints: provider.Endpoints{
			AuthURL:     "https://kauth.kakao.com/oauth/authorize",
			TokenURL:    tokenURL,
			UserInfoURL: userInfoURL,
		},
		Scopes:       []string{"profile_nickname", "account_email"},
		ClientID:     "test-client",
		ClientSecret: "test-secret",
		MapProfile: func(raw []byte) (*provider.User, error) {
			var p struct {
				ID       int64  `json:"id"`
				Nickname string `json:"nickname"`
				Email    string `json:"email"`
			}
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, kerrors.New(kerrors.KindUserInfoError).Wrap(err)
			}
			return &provider.User{ID: fmt.Sprintf("%d", p.ID), Name: p.Nickname, Email: p.Email}, nil
		},
		MapCallbackError: func(errCode, errDesc string) error {
			return kerrors.New(kerrors.KindOAuthCallbackError).WithDetail("error", errCode)
		},
		MapFetchError: func(status int, body []byte) error {
			return kerrors.New(kerrors.KindUserInfoError).WithDetail("status", status)
		},
	}
}

type testEnv struct {
	server *Server
	engine *engine.Engine
	repo   *fakeRepo
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`)
	}))
	t.Cleanup(tokenSrv.Close)

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":12345,"nickname":"Jiyoung","email":"jiyoung@example.com"}`)
	}))
	t.Cleanup(userSrv.Close)

	eng, err := engine.New([]*provider.Descriptor{testDescriptor(tokenSrv.URL, userSrv.URL)}, &engine.Options{
		RedirectURL: "http://localhost:8080/callback/%s",
	})
	require.NoError(t, err)

	privateKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	tokens := jwt.NewManagerWithKeys(privateKey, &privateKey.PublicKey, jwt.Config{
		TokenTTL: time.Hour,
		Issuer:   "test",
	})

	repo := newFakeRepo()
	srv := New(DefaultConfig(), Options{
		Engine: eng,
		Repo:   repo,
		Tokens: tokens,
		Logger: logger.New(logger.Config{Output: io.Discard}),
	})

	return &testEnv{server: srv, engine: eng, repo: repo}
}

func TestHandleProviders(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	rec := httptest.NewRecorder()
	env.server.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Providers []providerInfo `json:"providers"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Providers, 1)

	assert.Equal(t, "kakao", body.Providers[0].Key)
	assert.Equal(t, "Kakao", body.Providers[0].Label)
	assert.Equal(t, "#FEE500", body.Providers[0].BrandColor)
	assert.Equal(t, "/login/kakao", body.Providers[0].LoginURL)
}

func TestHandleLogin(t *testing.T) {
	env := newTestEnv(t)

	t.Run("redirects to authorization URL", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/login/kakao", nil)
		rec := httptest.NewRecorder()
		env.server.routes().ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Contains(t, rec.Header().Get("Location"), "https://kauth.kakao.com/oauth/authorize")
		assert.Contains(t, rec.Header().Get("Location"), "client_id=test-client")
	})

	t.Run("unknown provider", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/login/google", nil)
		rec := httptest.NewRecorder()
		env.server.routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("unconfigured provider", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/login/naver", nil)
		rec := httptest.NewRecorder()
		env.server.routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleCallback(t *testing.T) {
	t.Run("full flow issues session cookie", func(t *testing.T) {
		env := newTestEnv(t)

		_, state, err := env.engine.LoginURL(context.Background(), provider.Kakao, "")
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/callback/kakao?code=auth-code&state="+state, nil)
		rec := httptest.NewRecorder()
		env.server.routes().ServeHTTP(rec, req)

		require.Equal(t, http.StatusFound, rec.Code)
		assert.Equal(t, "/me", rec.Header().Get("Location"))

		cookies := rec.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, "kauth_session", cookies[0].Name)
		assert.NotEmpty(t, cookies[0].Value)
		assert.True(t, cookies[0].HttpOnly)

		require.Len(t, env.repo.users, 1)
		require.Len(t, env.repo.records, 1)
		assert.Equal(t, "success", env.repo.records[0].Outcome)
	})

	t.Run("provider error renders taxonomy code", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodGet, "/callback/kakao?error=access_denied", nil)
		rec := httptest.NewRecorder()
		env.server.routes().ServeHTTP(rec, req)

		require.Equal(t, http.StatusBadRequest, rec.Code)

		var body struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "OAUTH_CALLBACK_ERROR", body.Error.Code)
		assert.NotEmpty(t, body.Error.Message)

		require.Len(t, env.repo.records, 1)
		assert.Equal(t, "OAUTH_CALLBACK_ERROR", env.repo.records[0].Outcome)
	})

	t.Run("unknown state rejected", func(t *testing.T) {
		env := newTestEnv(t)

		req := httptest.NewRequest(http.MethodGet, "/callback/kakao?code=auth-code&state=bogus", nil)
		rec := httptest.NewRecorder()
		env.server.routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}

func TestHandleMe(t *testing.T) {
	env := newTestEnv(t)

	t.Run("no cookie", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		rec := httptest.NewRecorder()
		env.server.routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("valid session", func(t *testing.T) {
		user, _, err := env.repo.UpsertFromProfile(context.Background(), "kakao", provider.User{
			ID:    "12345",
			Name:  "Jiyoung",
			Email: "jiyoung@example.com",
		})
		require.NoError(t, err)

		token, _, err := env.server.tokens.Generate(user.ID.String(), "kakao", user.Name, user.Email)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: "kauth_session", Value: token})
		rec := httptest.NewRecorder()
		env.server.routes().ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)

		var body map[string]any
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.Equal(t, "Jiyoung", body["name"])
		assert.Equal(t, "kakao", body["provider"])
	})

	t.Run("garbage token", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/me", nil)
		req.AddCookie(&http.Cookie{Name: "kauth_session", Value: "garbage"})
		rec := httptest.NewRecorder()
		env.server.routes().ServeHTTP(rec, req)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestHandleLogout(t *testing.T) {
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	rec := httptest.NewRecorder()
	env.server.routes().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "kauth_session", cookies[0].Name)
	assert.Less(t, cookies[0].MaxAge, 0)
}

func TestRateLimiter(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Stop()

	assert.True(t, rl.Allow("1.2.3.4"))
	assert.True(t, rl.Allow("1.2.3.4"))
	assert.False(t, rl.Allow("1.2.3.4"))

	// Different clients get separate buckets
	assert.True(t, rl.Allow("5.6.7.8"))
}
