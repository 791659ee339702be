// Package errors provides the kauth error taxonomy: stable error kinds with
// operator-facing messages and remediation hints.
package errors

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strings"
)

// Kind is a stable, machine-readable error kind.
type Kind string

// Error kinds for the taxonomy. The set is closed; new providers add kinds
// here, at compile time.
const (
	// Configuration errors, fatal at setup time.
	KindMissingClientID     Kind = "MISSING_CLIENT_ID"
	KindMissingClientSecret Kind = "MISSING_CLIENT_SECRET"
	KindNoProviders         Kind = "NO_PROVIDERS"

	// Kakao-specific errors.
	KindKakaoConsentRequired    Kind = "KAKAO_CONSENT_REQUIRED"
	KindKakaoPhoneNotEnabled    Kind = "KAKAO_PHONE_NOT_ENABLED"
	KindKakaoInvalidRedirectURI Kind = "KAKAO_INVALID_REDIRECT_URI"

	// Naver-specific errors.
	KindNaverInvalidCallback    Kind = "NAVER_INVALID_CALLBACK"
	KindNaverServiceURLMismatch Kind = "NAVER_SERVICE_URL_MISMATCH"

	// OAuth flow errors, retryable per login attempt.
	KindOAuthCallbackError Kind = "OAUTH_CALLBACK_ERROR"
	KindAccessTokenError   Kind = "ACCESS_TOKEN_ERROR"
	KindUserInfoError      Kind = "USER_INFO_ERROR"

	// Catch-all. Always carries the wrapped cause.
	KindUnknown Kind = "UNKNOWN_ERROR"
)

// Info holds the static catalog entry for a kind.
type Info struct {
	Message string
	Hint    string
	Docs    string
}

// catalog is the process-wide, read-only kind table. Every kind declared
// above must have an entry; Lookup panics otherwise.
var catalog = map[Kind]Info{
	KindMissingClientID: {
		Message: "clientId is not configured",
		Hint:    "check the environment variables for this provider",
	},
	KindMissingClientSecret: {
		Message: "clientSecret is not configured",
		Hint:    "check the environment variables for this provider",
	},
	KindNoProviders: {
		Message: "no providers are configured",
		Hint:    "configure at least one of kakao or naver",
	},
	KindKakaoConsentRequired: {
		Message: "a Kakao consent item is required but not enabled",
		Hint:    "enable the required consent items under Kakao Developers > Consent Items",
		Docs:    "https://developers.kakao.com/console",
	},
	KindKakaoPhoneNotEnabled: {
		Message: "the Kakao phone number consent item is disabled",
		Hint:    "enable Kakao Developers > Consent Items > Phone Number",
		Docs:    "https://developers.kakao.com/console",
	},
	KindKakaoInvalidRedirectURI: {
		Message: "the redirect URI is not registered with Kakao",
		Hint:    "register the callback URL under Kakao Developers > Kakao Login > Redirect URI",
		Docs:    "https://developers.kakao.com/console",
	},
	KindNaverInvalidCallback: {
		Message: "the callback URL is not registered with Naver",
		Hint:    "check the callback URL under Naver Developers > API Settings",
		Docs:    "https://developers.naver.com/apps",
	},
	KindNaverServiceURLMismatch: {
		Message: "the service URL does not match the Naver application settings",
		Hint:    "check the service URL under Naver Developers > API Settings",
		Docs:    "https://developers.naver.com/apps",
	},
	KindOAuthCallbackError: {
		Message: "the login callback could not be processed",
		Hint:    "retry the login; if the problem persists check the provider console",
	},
	KindAccessTokenError: {
		Message: "exchanging the authorization code for an access token failed",
		Hint:    "verify the client secret for this provider",
	},
	KindUserInfoError: {
		Message: "fetching the user profile failed",
		Hint:    "verify that the required consent items are enabled",
	},
	KindUnknown: {
		Message: "an unknown error occurred",
		Hint:    "if the problem persists, open an issue",
		Docs:    "https://github.com/kauthdev/kauth/issues",
	},
}

// Lookup returns the catalog entry for a kind. Looking up a kind outside
// the enumeration is a programming error and panics.
func Lookup(kind Kind) Info {
	info, ok := catalog[kind]
	if !ok {
		panic(fmt.Sprintf("kauth/errors: unknown kind %q", kind))
	}
	return info
}

// Kinds returns every kind in the catalog, sorted for determinism.
func Kinds() []Kind {
	kinds := make([]Kind, 0, len(catalog))
	for k := range catalog {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// secretDetailKeys are detail keys whose values must never appear in logs
// or formatted output.
var secretDetailKeys = map[string]struct{}{
	"client_secret": {},
	"clientsecret":  {},
	"access_token":  {},
	"refresh_token": {},
	"token":         {},
	"code":          {},
}

// Error is the kauth error type: a taxonomy kind plus structured details
// and an optional wrapped cause.
type Error struct {
	Kind    Kind           `json:"kind"`
	Details map[string]any `json:"details,omitempty"`
	Err     error          `json:"-"` // underlying cause, not serialized
}

// New creates a new Error for the given kind.
func New(kind Kind) *Error {
	// Force a catalog hit so an undefined kind fails loudly at the
	// construction site, not at format time.
	Lookup(kind)
	return &Error{Kind: kind}
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := Lookup(e.Kind).Message
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether the target error has the same kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

// Message returns the catalog message for the error's kind.
func (e *Error) Message() string {
	return Lookup(e.Kind).Message
}

// Hint returns the catalog remediation hint for the error's kind.
func (e *Error) Hint() string {
	return Lookup(e.Kind).Hint
}

// Docs returns the catalog documentation link, if any.
func (e *Error) Docs() string {
	return Lookup(e.Kind).Docs
}

// WithDetails returns a copy of the error with additional details.
// Values under secret-bearing keys are redacted rather than stored.
func (e *Error) WithDetails(details map[string]any) *Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		if _, secret := secretDetailKeys[strings.ToLower(k)]; secret {
			merged[k] = "[redacted]"
			continue
		}
		merged[k] = v
	}
	return &Error{Kind: e.Kind, Details: merged, Err: e.Err}
}

// WithDetail is a single key/value convenience over WithDetails.
func (e *Error) WithDetail(key string, value any) *Error {
	return e.WithDetails(map[string]any{key: value})
}

// Wrap returns a copy of the error carrying an underlying cause.
func (e *Error) Wrap(err error) *Error {
	return &Error{Kind: e.Kind, Details: e.Details, Err: err}
}

// Format renders a deterministic, operator-facing block: kind, message,
// hint, docs link, details and cause. Never shown to end users.
func (e *Error) Format() string {
	info := Lookup(e.Kind)

	var b strings.Builder
	fmt.Fprintf(&b, "[kauth] %s\n", e.Kind)
	fmt.Fprintf(&b, "message: %s\n", info.Message)
	fmt.Fprintf(&b, "hint: %s\n", info.Hint)
	if info.Docs != "" {
		fmt.Fprintf(&b, "docs: %s\n", info.Docs)
	}
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("details:\n")
		for _, k := range keys {
			fmt.Fprintf(&b, "  %s: %v\n", k, e.Details[k])
		}
	}
	if e.Err != nil {
		fmt.Fprintf(&b, "cause: %v\n", e.Err)
	}
	return b.String()
}

// Log writes the error to the given logger. A nil logger falls back to
// slog.Default. Logging never fails the caller.
func (e *Error) Log(l *slog.Logger) {
	if l == nil {
		l = slog.Default()
	}
	attrs := []any{
		slog.String("kind", string(e.Kind)),
		slog.String("hint", e.Hint()),
	}
	if docs := e.Docs(); docs != "" {
		attrs = append(attrs, slog.String("docs", docs))
	}
	if len(e.Details) > 0 {
		attrs = append(attrs, slog.Any("details", e.Details))
	}
	if e.Err != nil {
		attrs = append(attrs, slog.String("cause", e.Err.Error()))
	}
	l.Error(e.Message(), attrs...)
}

// HTTPStatusCode returns the HTTP status a host application should use
// when surfacing the error.
func (e *Error) HTTPStatusCode() int {
	switch e.Kind {
	case KindMissingClientID, KindMissingClientSecret, KindNoProviders:
		return http.StatusInternalServerError
	case KindKakaoConsentRequired, KindKakaoPhoneNotEnabled:
		return http.StatusForbidden
	case KindKakaoInvalidRedirectURI, KindNaverInvalidCallback,
		KindNaverServiceURLMismatch, KindOAuthCallbackError:
		return http.StatusBadRequest
	case KindAccessTokenError, KindUserInfoError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Constructors for the configuration kinds. The flow kinds are raised by
// the provider packages with richer context.

// MissingClientID creates a MISSING_CLIENT_ID error for a provider.
func MissingClientID(provider string) *Error {
	return New(KindMissingClientID).WithDetail("provider", provider)
}

// MissingClientSecret creates a MISSING_CLIENT_SECRET error for a provider.
func MissingClientSecret(provider string) *Error {
	return New(KindMissingClientSecret).WithDetail("provider", provider)
}

// NoProviders creates a NO_PROVIDERS error.
func NoProviders() *Error {
	return New(KindNoProviders)
}

// Unknown wraps an arbitrary failure into the catch-all kind. A nil cause
// is permitted but unusual.
func Unknown(err error) *Error {
	return New(KindUnknown).Wrap(err)
}

// IsKind reports whether err carries the given taxonomy kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// KindOf extracts the taxonomy kind from an error, or KindUnknown if the
// error does not carry one.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}
