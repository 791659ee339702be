package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelcodes "go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	kerrors "github.com/kauthdev/kauth/errors"
	"github.com/kauthdev/kauth/provider"
)

// testDescriptor returns a kakao-shaped descriptor whose endpoints point
// at the given test servers.
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
			}
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, kerrors.New(kerrors.KindUserInfoError).Wrap(err)
			}
			if p.ID == 0 {
				return nil, kerrors.New(kerrors.KindUserInfoError)
			}
			return &provider.User{ID: fmt.Sprintf("%d", p.ID), Name: p.Nickname}, nil
		},
		MapCallbackError: func(errCode, errDesc string) error {
			return kerrors.New(kerrors.KindOAuthCallbackError).
				WithDetail("error", errCode)
		},
		MapFetchError: func(status int, body []byte) error {
			return kerrors.New(kerrors.KindUserInfoError).
				WithDetail("status", status)
		},
	}
}

func newTestEngine(t *testing.T, desc *provider.Descriptor) *Engine {
	t.Helper()
	e, err := New([]*provider.Descriptor{desc}, &Options{
		RedirectURL: "https://app.example.com/auth/%s/callback",
	})
	require.NoError(t, err)
	return e
}

func TestNew(t *testing.T) {
	t.Run("no descriptors", func(t *testing.T) {
		_, err := New(nil, nil)
		assert.True(t, kerrors.IsKind(err, kerrors.KindNoProviders))
	})

	t.Run("registration order preserved", func(t *testing.T) {
		kakao := testDescriptor("http://token", "http://userinfo")
		naver := testDescriptor("http://token", "http://userinfo")
		naver.Key = provider.Naver

		e, err := New([]*provider.Descriptor{kakao, naver}, nil)
		require.NoError(t, err)

		assert.Equal(t, []provider.Key{provider.Kakao, provider.Naver}, e.Providers())
	})
}

func TestEngine_LoginURL(t *testing.T) {
	desc := testDescriptor("http://token", "http://userinfo")
	e := newTestEngine(t, desc)

	t.Run("unconfigured provider", func(t *testing.T) {
		_, _, err := e.LoginURL(context.Background(), provider.Naver, "")
		assert.True(t, kerrors.IsKind(err, kerrors.KindOAuthCallbackError))
	})

	t.Run("builds authorization URL and stores state", func(t *testing.T) {
		url, state, err := e.LoginURL(context.Background(), provider.Kakao, "")
		require.NoError(t, err)

		assert.NotEmpty(t, state)
		assert.Contains(t, url, "https://kauth.kakao.com/oauth/authorize")
		assert.Contains(t, url, "client_id=test-client")
		assert.Contains(t, url, "state="+state)
		assert.Contains(t, url, "scope=profile_nickname+account_email")
		assert.Contains(t, url, "app.example.com%2Fauth%2Fkakao%2Fcallback")
	})

	t.Run("redirect URL without a key verb is used unchanged", func(t *testing.T) {
		e, err := New([]*provider.Descriptor{testDescriptor("http://token", "http://userinfo")}, &Options{
			RedirectURL: "https://app.example.com/auth/callback",
		})
		require.NoError(t, err)

		url, _, err := e.LoginURL(context.Background(), provider.Kakao, "")
		require.NoError(t, err)

		assert.Contains(t, url, "redirect_uri=https%3A%2F%2Fapp.example.com%2Fauth%2Fcallback&")
		assert.NotContains(t, url, "EXTRA")
	})
}

func TestEngine_HandleCallback(t *testing.T) {
	tokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"access_token":"tok-123","token_type":"bearer","expires_in":3600}`)
	}))
	defer tokenSrv.Close()

	userSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer tok-123" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":42,"nickname":"Kim"}`)
	}))
	defer userSrv.Close()

	newLoggedInEngine := func(t *testing.T, userInfoURL string) (*Engine, string) {
		e := newTestEngine(t, testDescriptor(tokenSrv.URL, userInfoURL))
		_, state, err := e.LoginURL(context.Background(), provider.Kakao, "")
		require.NoError(t, err)
		return e, state
	}

	t.Run("full flow", func(t *testing.T) {
		e, state := newLoggedInEngine(t, userSrv.URL)

		user, token, err := e.HandleCallback(context.Background(), provider.Kakao, "auth-code", state, "", "")
		require.NoError(t, err)

		assert.Equal(t, "42", user.ID)
		assert.Equal(t, "Kim", user.Name)
		assert.Equal(t, "tok-123", token.AccessToken)
	})

	t.Run("provider-reported error is classified", func(t *testing.T) {
		e, state := newLoggedInEngine(t, userSrv.URL)

		_, _, err := e.HandleCallback(context.Background(), provider.Kakao, "", state, "access_denied", "user denied")
		assert.True(t, kerrors.IsKind(err, kerrors.KindOAuthCallbackError))
	})

	t.Run("unknown state", func(t *testing.T) {
		e, _ := newLoggedInEngine(t, userSrv.URL)

		_, _, err := e.HandleCallback(context.Background(), provider.Kakao, "auth-code", "bogus", "", "")
		assert.True(t, kerrors.IsKind(err, kerrors.KindOAuthCallbackError))
	})

	t.Run("state is one-shot", func(t *testing.T) {
		e, state := newLoggedInEngine(t, userSrv.URL)

		_, _, err := e.HandleCallback(context.Background(), provider.Kakao, "auth-code", state, "", "")
		require.NoError(t, err)

		_, _, err = e.HandleCallback(context.Background(), provider.Kakao, "auth-code", state, "", "")
		assert.True(t, kerrors.IsKind(err, kerrors.KindOAuthCallbackError))
	})

	t.Run("userinfo failure is classified by the descriptor", func(t *testing.T) {
		failSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusForbidden)
		}))
		defer failSrv.Close()

		e, state := newLoggedInEngine(t, failSrv.URL)

		_, _, err := e.HandleCallback(context.Background(), provider.Kakao, "auth-code", state, "", "")
		assert.True(t, kerrors.IsKind(err, kerrors.KindUserInfoError))
	})

	t.Run("exchange failure", func(t *testing.T) {
		badTokenSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusUnauthorized)
		}))
		defer badTokenSrv.Close()

		e := newTestEngine(t, testDescriptor(badTokenSrv.URL, userSrv.URL))
		_, state, err := e.LoginURL(context.Background(), provider.Kakao, "")
		require.NoError(t, err)

		_, _, err = e.HandleCallback(context.Background(), provider.Kakao, "auth-code", state, "", "")
		assert.True(t, kerrors.IsKind(err, kerrors.KindAccessTokenError))
	})
}

func TestEngine_Spans(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter)))
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	e := newTestEngine(t, testDescriptor("http://token", "http://userinfo"))

	_, state, err := e.LoginURL(context.Background(), provider.Kakao, "")
	require.NoError(t, err)

	_, _, err = e.HandleCallback(context.Background(), provider.Kakao, "", state, "access_denied", "user denied")
	require.Error(t, err)

	spans := exporter.GetSpans()
	require.Len(t, spans, 2)

	assert.Equal(t, "auth.login", spans[0].Name)
	assert.Contains(t, spans[0].Attributes, attribute.String("auth.provider", "kakao"))
	assert.Equal(t, otelcodes.Ok, spans[0].Status.Code)

	assert.Equal(t, "auth.callback", spans[1].Name)
	assert.Contains(t, spans[1].Attributes, attribute.String("auth.provider", "kakao"))
	assert.Equal(t, otelcodes.Error, spans[1].Status.Code)
}

func TestMemoryStateStore(t *testing.T) {
	ctx := context.Background()

	t.Run("save and consume", func(t *testing.T) {
		store := NewMemoryStateStore()
		state := State{
			ID:        "abc",
			Provider:  provider.Kakao,
			CreatedAt: time.Now(),
			ExpiresAt: time.Now().Add(time.Minute),
		}
		require.NoError(t, store.Save(ctx, state))

		got, err := store.Consume(ctx, "abc")
		require.NoError(t, err)
		assert.Equal(t, provider.Kakao, got.Provider)

		// Second consume fails.
		_, err = store.Consume(ctx, "abc")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("expired state is not returned", func(t *testing.T) {
		store := NewMemoryStateStore()
		require.NoError(t, store.Save(ctx, State{
			ID:        "old",
			Provider:  provider.Naver,
			ExpiresAt: time.Now().Add(-time.Second),
		}))

		_, err := store.Consume(ctx, "old")
		assert.ErrorIs(t, err, ErrStateNotFound)
	})

	t.Run("purge expired", func(t *testing.T) {
		store := NewMemoryStateStore()
		require.NoError(t, store.Save(ctx, State{ID: "live", ExpiresAt: time.Now().Add(time.Minute)}))
		require.NoError(t, store.Save(ctx, State{ID: "dead", ExpiresAt: time.Now().Add(-time.Minute)}))

		assert.Equal(t, 1, store.PurgeExpired())
		assert.Equal(t, 1, store.Len())
	})
}
