// Package engine drives the OAuth 2.0 authorization-code flow for the
// configured providers: redirect URL construction, state handling, token
// exchange and profile fetch, using the descriptors composed by kauth.
package engine

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"

	kerrors "github.com/kauthdev/kauth/errors"
	"github.com/kauthdev/kauth/logger"
	"github.com/kauthdev/kauth/provider"
	"github.com/kauthdev/kauth/tracing"
)

// DefaultStateTTL bounds how long a login redirect may stay pending.
const DefaultStateTTL = 10 * time.Minute

// maxProfileBody caps how much of a userinfo response is read.
const maxProfileBody = 1 << 20

// MetricsRecorder receives login flow measurements. Implementations must
// be safe for concurrent use.
type MetricsRecorder interface {
	RecordLoginStart(provider string)
	RecordLoginResult(provider, outcome string, duration time.Duration)
}

// Options configures the engine. The zero value is usable: states are
// kept in memory and logging uses the default logger.
type Options struct {
	// RedirectURL is the default callback URL registered with the
	// providers. The %s verb, if present, is replaced by the provider key.
	RedirectURL string

	// StateTTL bounds pending login lifetime. Defaults to DefaultStateTTL.
	StateTTL time.Duration

	// States persists pending logins. Defaults to an in-memory store.
	States StateStore

	// HTTPClient is used for userinfo fetches and, via oauth2, token
	// exchange. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	Logger  *logger.Logger
	Metrics MetricsRecorder
}

// Engine holds the immutable descriptor set and the flow collaborators.
// Safe for concurrent use.
type Engine struct {
	descriptors map[provider.Key]*provider.Descriptor
	order       []provider.Key

	redirectURL string
	stateTTL    time.Duration
	states      StateStore
	httpClient  *http.Client
	log         *logger.Logger
	metrics     MetricsRecorder
}

// New registers the composed descriptors with a new engine. The
// descriptor list must be non-empty; composition guarantees that.
func New(descriptors []*provider.Descriptor, opts *Options) (*Engine, error) {
	if len(descriptors) == 0 {
		return nil, kerrors.NoProviders()
	}
	if opts == nil {
		opts = &Options{}
	}

	e := &Engine{
		descriptors: make(map[provider.Key]*provider.Descriptor, len(descriptors)),
		redirectURL: opts.RedirectURL,
		stateTTL:    opts.StateTTL,
		states:      opts.States,
		httpClient:  opts.HTTPClient,
		log:         opts.Logger,
		metrics:     opts.Metrics,
	}
	for _, desc := range descriptors {
		e.descriptors[desc.Key] = desc
		e.order = append(e.order, desc.Key)
	}

	if e.stateTTL <= 0 {
		e.stateTTL = DefaultStateTTL
	}
	if e.states == nil {
		e.states = NewMemoryStateStore()
	}
	if e.httpClient == nil {
		e.httpClient = http.DefaultClient
	}
	if e.log == nil {
		e.log = logger.Default()
	}

	return e, nil
}

// Providers returns the registered provider keys in registration order.
func (e *Engine) Providers() []provider.Key {
	keys := make([]provider.Key, len(e.order))
	copy(keys, e.order)
	return keys
}

// Descriptor returns the descriptor for a provider key, if registered.
func (e *Engine) Descriptor(key provider.Key) (*provider.Descriptor, bool) {
	desc, ok := e.descriptors[key]
	return desc, ok
}

// oauthConfig builds the per-attempt oauth2 configuration for a
// descriptor. Descriptors are immutable, so this is just a view.
func (e *Engine) oauthConfig(desc *provider.Descriptor, redirectURI string) *oauth2.Config {
	return &oauth2.Config{
		ClientID:     desc.ClientID,
		ClientSecret: desc.ClientSecret,
		RedirectURL:  redirectURI,
		Scopes:       desc.Scopes,
		Endpoint: oauth2.Endpoint{
			AuthURL:  desc.Endpoints.AuthURL,
			TokenURL: desc.Endpoints.TokenURL,
		},
	}
}

// redirectURI resolves the callback URL for a provider.
func (e *Engine) redirectURI(key provider.Key, override string) string {
	if override != "" {
		return override
	}
	if strings.Contains(e.redirectURL, "%s") {
		return fmt.Sprintf(e.redirectURL, key)
	}
	return e.redirectURL
}

// LoginURL creates a pending login state and returns the provider's
// authorization URL to redirect the user to. An empty redirectURI uses
// the engine default.
func (e *Engine) LoginURL(ctx context.Context, key provider.Key, redirectURI string) (string, string, error) {
	ctx, span := tracing.StartSpan(ctx, "auth.login")
	defer span.End()
	tracing.WithProviderAttributes(span, key.String())

	url, stateID, err := e.loginURL(ctx, key, redirectURI)
	if err != nil {
		tracing.WithError(span, err)
	} else {
		tracing.WithSuccess(span)
	}
	return url, stateID, err
}

func (e *Engine) loginURL(ctx context.Context, key provider.Key, redirectURI string) (string, string, error) {
	desc, ok := e.descriptors[key]
	if !ok {
		return "", "", kerrors.New(kerrors.KindOAuthCallbackError).
			WithDetail("provider", key.String()).
			WithDetail("reason", "provider not configured")
	}

	uri := e.redirectURI(key, redirectURI)
	state := State{
		ID:          uuid.New().String(),
		Provider:    key,
		RedirectURI: uri,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(e.stateTTL),
	}
	if err := e.states.Save(ctx, state); err != nil {
		return "", "", kerrors.Unknown(err).WithDetail("provider", key.String())
	}

	if e.metrics != nil {
		e.metrics.RecordLoginStart(key.String())
	}

	return e.oauthConfig(desc, uri).AuthCodeURL(state.ID), state.ID, nil
}

// HandleCallback completes a login attempt: it validates the state,
// classifies a provider-reported error if one is present, exchanges the
// authorization code and fetches and normalizes the profile. Failures are
// logged and returned as taxonomy errors; they are never swallowed.
func (e *Engine) HandleCallback(ctx context.Context, key provider.Key, code, stateID, errCode, errDesc string) (*provider.User, *oauth2.Token, error) {
	ctx, span := tracing.StartSpan(ctx, "auth.callback")
	defer span.End()
	tracing.WithProviderAttributes(span, key.String())

	start := time.Now()
	user, token, err := e.handleCallback(ctx, key, code, stateID, errCode, errDesc)

	outcome := "success"
	if err != nil {
		tracing.WithError(span, err)
		outcome = string(kerrors.KindOf(err))
		var kerr *kerrors.Error
		if errors.As(err, &kerr) {
			kerr.Log(e.log.Logger)
		} else {
			e.log.WithProvider(key.String()).WithError(err).Error("login callback failed")
		}
	} else {
		tracing.WithSuccess(span)
	}
	if e.metrics != nil {
		e.metrics.RecordLoginResult(key.String(), outcome, time.Since(start))
	}

	return user, token, err
}

func (e *Engine) handleCallback(ctx context.Context, key provider.Key, code, stateID, errCode, errDesc string) (*provider.User, *oauth2.Token, error) {
	desc, ok := e.descriptors[key]
	if !ok {
		return nil, nil, kerrors.New(kerrors.KindOAuthCallbackError).
			WithDetail("provider", key.String()).
			WithDetail("reason", "provider not configured")
	}

	// The provider reported an error on the redirect; classify it before
	// touching the state so operators see the real cause.
	if errCode != "" {
		return nil, nil, desc.MapCallbackError(errCode, errDesc)
	}

	state, err := e.states.Consume(ctx, stateID)
	if err != nil {
		return nil, nil, kerrors.New(kerrors.KindOAuthCallbackError).
			WithDetail("provider", key.String()).
			WithDetail("reason", "invalid or expired login state")
	}
	if state.Provider != key {
		return nil, nil, kerrors.New(kerrors.KindOAuthCallbackError).
			WithDetail("provider", key.String()).
			WithDetail("reason", "login state provider mismatch")
	}

	cfg := e.oauthConfig(desc, state.RedirectURI)
	ctx = context.WithValue(ctx, oauth2.HTTPClient, e.httpClient)

	token, err := cfg.Exchange(ctx, code)
	if err != nil {
		return nil, nil, kerrors.New(kerrors.KindAccessTokenError).
			WithDetail("provider", key.String()).
			Wrap(err)
	}

	raw, err := e.fetchProfile(ctx, desc, cfg, token)
	if err != nil {
		return nil, nil, err
	}

	user, err := desc.MapProfile(raw)
	if err != nil {
		return nil, nil, err
	}

	return user, token, nil
}

// fetchProfile retrieves the raw userinfo body for a completed exchange.
func (e *Engine) fetchProfile(ctx context.Context, desc *provider.Descriptor, cfg *oauth2.Config, token *oauth2.Token) ([]byte, error) {
	client := cfg.Client(ctx, token)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, desc.Endpoints.UserInfoURL, nil)
	if err != nil {
		return nil, kerrors.Unknown(err).WithDetail("provider", desc.Key.String())
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, kerrors.New(kerrors.KindUserInfoError).
			WithDetail("provider", desc.Key.String()).
			Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxProfileBody))
	if err != nil {
		return nil, kerrors.New(kerrors.KindUserInfoError).
			WithDetail("provider", desc.Key.String()).
			Wrap(err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, desc.MapFetchError(resp.StatusCode, body)
	}

	return body, nil
}
