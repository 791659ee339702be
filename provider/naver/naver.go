// Package naver implements the Naver Login provider: descriptor building,
// profile normalization and raw-error classification.
package naver

import (
	"encoding/json"
	"fmt"

	"github.com/kauthdev/kauth/errors"
	"github.com/kauthdev/kauth/provider"
)

// Naver OAuth 2.0 endpoints.
const (
	authURL     = "https://nid.naver.com/oauth2.0/authorize"
	tokenURL    = "https://nid.naver.com/oauth2.0/token"
	userInfoURL = "https://openapi.naver.com/v1/nid/me"
)

// Naver selects disclosed fields through console-side consent settings
// rather than per-request scopes, so a single baseline scope is sent.
var defaultScopes = []string{"profile"}

// resultCodeOK is the success code of the /v1/nid/me envelope.
const resultCodeOK = "00"

// Options holds the Naver provider configuration supplied by the host
// application.
type Options struct {
	ClientID     string
	ClientSecret string
}

// response is the raw envelope of GET /v1/nid/me.
type response struct {
	ResultCode string `json:"resultcode"`
	Message    string `json:"message"`
	Response   struct {
		ID           string `json:"id"`
		Nickname     string `json:"nickname"`
		Name         string `json:"name"`
		Email        string `json:"email"`
		Gender       string `json:"gender"`
		Age          string `json:"age"`
		Birthday     string `json:"birthday"`
		Birthyear    string `json:"birthyear"`
		ProfileImage string `json:"profile_image"`
		Mobile       string `json:"mobile"`
	} `json:"response"`
}

// Build validates the options and returns the immutable Naver descriptor.
// No network calls are made.
func Build(opts Options) (*provider.Descriptor, error) {
	if err := provider.ValidateCredentials(provider.Naver, opts.ClientID, opts.ClientSecret); err != nil {
		return nil, err
	}

	scopes := make([]string, len(defaultScopes))
	copy(scopes, defaultScopes)

	return &provider.Descriptor{
		Key: provider.Naver,
		Endpoints: provider.Endpoints{
			AuthURL:     authURL,
			TokenURL:    tokenURL,
			UserInfoURL: userInfoURL,
		},
		Scopes:           scopes,
		ClientID:         opts.ClientID,
		ClientSecret:     opts.ClientSecret,
		MapProfile:       normalize,
		MapCallbackError: classifyCallbackError,
		MapFetchError:    classifyFetchError,
	}, nil
}

// normalize maps the raw /v1/nid/me envelope into the canonical user
// record. Absent and empty raw fields both map to an absent canonical
// field.
func normalize(raw []byte) (*provider.User, error) {
	var r response
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, errors.New(errors.KindUserInfoError).
			WithDetail("provider", provider.Naver.String()).
			Wrap(err)
	}

	if r.ResultCode != resultCodeOK {
		return nil, errors.New(errors.KindUserInfoError).
			WithDetail("provider", provider.Naver.String()).
			WithDetail("resultcode", r.ResultCode).
			WithDetail("message", r.Message)
	}

	if r.Response.ID == "" {
		return nil, errors.New(errors.KindUserInfoError).
			WithDetail("provider", provider.Naver.String()).
			WithDetail("reason", "profile has no id")
	}

	name := r.Response.Name
	if name == "" {
		name = r.Response.Nickname
	}

	return &provider.User{
		ID:        r.Response.ID,
		Name:      name,
		Email:     r.Response.Email,
		Image:     r.Response.ProfileImage,
		Phone:     r.Response.Mobile,
		Birthday:  r.Response.Birthday,
		BirthYear: r.Response.Birthyear,
		Gender:    normalizeGender(r.Response.Gender),
		AgeRange:  r.Response.Age,
	}, nil
}

// normalizeGender maps Naver's M/F/U gender value onto the closed
// canonical set. Unrecognized values degrade to unknown.
func normalizeGender(raw string) provider.Gender {
	switch raw {
	case "M":
		return provider.GenderMale
	case "F":
		return provider.GenderFemale
	}
	return provider.GenderUnknown
}

// classifyCallbackError maps the error query parameters Naver appends to
// the authorization callback into the taxonomy. An unregistered callback
// URL surfaces as invalid_request.
func classifyCallbackError(errCode, errDesc string) error {
	switch errCode {
	case "invalid_request":
		return errors.New(errors.KindNaverInvalidCallback).
			WithDetail("provider", provider.Naver.String()).
			WithDetail("description", errDesc)
	case "access_denied":
		return errors.New(errors.KindOAuthCallbackError).
			WithDetail("provider", provider.Naver.String()).
			WithDetail("error", errCode).
			WithDetail("description", errDesc)
	default:
		return errors.Unknown(fmt.Errorf("naver callback error %s: %s", errCode, errDesc)).
			WithDetail("provider", provider.Naver.String())
	}
}

// classifyFetchError maps a non-2xx /v1/nid/me response into the
// taxonomy. Naver reports authentication failures inside the envelope as
// well as through the status code.
func classifyFetchError(status int, body []byte) error {
	var r response
	_ = json.Unmarshal(body, &r)

	if status == 401 || r.ResultCode == "024" {
		return errors.New(errors.KindAccessTokenError).
			WithDetail("provider", provider.Naver.String()).
			WithDetail("status", status)
	}
	return errors.New(errors.KindUserInfoError).
		WithDetail("provider", provider.Naver.String()).
		WithDetail("status", status)
}
