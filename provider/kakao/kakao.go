// Package kakao implements the Kakao Login provider: descriptor building,
// profile normalization and raw-error classification.
package kakao

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/kauthdev/kauth/errors"
	"github.com/kauthdev/kauth/provider"
)

// Kakao OAuth 2.0 endpoints.
const (
	authURL     = "https://kauth.kakao.com/oauth/authorize"
	tokenURL    = "https://kauth.kakao.com/oauth/token"
	userInfoURL = "https://kapi.kakao.com/v2/user/me"
)

// scopePhone is appended when phone collection is requested. It is a
// separate consent item that must also be enabled in the Kakao console.
const scopePhone = "phone_number"

// defaultScopes is the baseline consent set. Order is fixed; extended
// scopes are only ever appended.
var defaultScopes = []string{"profile_nickname", "profile_image", "account_email"}

// Options holds the Kakao provider configuration supplied by the host
// application.
type Options struct {
	ClientID     string
	ClientSecret string

	// CollectPhone requests the phone_number scope. The consent item must
	// be enabled under Kakao Developers > Consent Items.
	CollectPhone bool
}

// profile is the raw response of GET /v2/user/me.
type profile struct {
	ID      int64 `json:"id"`
	Account struct {
		Profile struct {
			Nickname        string `json:"nickname"`
			ProfileImageURL string `json:"profile_image_url"`
		} `json:"profile"`
		Email       string `json:"email"`
		PhoneNumber string `json:"phone_number"`
		Birthday    string `json:"birthday"`
		Birthyear   string `json:"birthyear"`
		Gender      string `json:"gender"`
		AgeRange    string `json:"age_range"`
	} `json:"kakao_account"`
}

// apiError is the kapi.kakao.com error envelope.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

// kapi error codes.
const (
	apiCodeInvalidToken      = -401
	apiCodeInsufficientScope = -402
)

// Build validates the options and returns the immutable Kakao descriptor.
// No network calls are made.
func Build(opts Options) (*provider.Descriptor, error) {
	if err := provider.ValidateCredentials(provider.Kakao, opts.ClientID, opts.ClientSecret); err != nil {
		return nil, err
	}

	scopes := make([]string, len(defaultScopes))
	copy(scopes, defaultScopes)
	if opts.CollectPhone {
		scopes = append(scopes, scopePhone)
	}

	return &provider.Descriptor{
		Key: provider.Kakao,
		Endpoints: provider.Endpoints{
			AuthURL:     authURL,
			TokenURL:    tokenURL,
			UserInfoURL: userInfoURL,
		},
		Scopes:       scopes,
		ClientID:     opts.ClientID,
		ClientSecret: opts.ClientSecret,
		MapProfile: func(raw []byte) (*provider.User, error) {
			return normalize(raw, opts.CollectPhone)
		},
		MapCallbackError: classifyCallbackError,
		MapFetchError: func(status int, body []byte) error {
			return classifyFetchError(status, body, opts.CollectPhone)
		},
	}, nil
}

// normalize maps the raw /v2/user/me body into the canonical user record.
// Absent and empty raw fields both map to an absent canonical field.
func normalize(raw []byte, collectPhone bool) (*provider.User, error) {
	var p profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, errors.New(errors.KindUserInfoError).
			WithDetail("provider", provider.Kakao.String()).
			Wrap(err)
	}

	if p.ID == 0 {
		return nil, errors.New(errors.KindUserInfoError).
			WithDetail("provider", provider.Kakao.String()).
			WithDetail("reason", "profile has no id")
	}

	user := &provider.User{
		ID:        strconv.FormatInt(p.ID, 10),
		Name:      p.Account.Profile.Nickname,
		Email:     p.Account.Email,
		Image:     p.Account.Profile.ProfileImageURL,
		Birthday:  p.Account.Birthday,
		BirthYear: p.Account.Birthyear,
		Gender:    normalizeGender(p.Account.Gender),
		AgeRange:  p.Account.AgeRange,
	}

	// The phone number is surfaced only when the host asked for it. A
	// requested-but-undisclosed phone stays absent; whether that blocks
	// the login is the host's call.
	if collectPhone {
		user.Phone = p.Account.PhoneNumber
	}

	return user, nil
}

// normalizeGender maps Kakao's gender value onto the closed canonical set.
// Unrecognized values degrade to unknown instead of failing the login.
func normalizeGender(raw string) provider.Gender {
	switch strings.ToLower(raw) {
	case "male":
		return provider.GenderMale
	case "female":
		return provider.GenderFemale
	}
	return provider.GenderUnknown
}

// classifyCallbackError maps the error query parameters Kakao appends to
// the authorization callback into the taxonomy. KOE codes are documented
// on Kakao Developers.
func classifyCallbackError(errCode, errDesc string) error {
	switch {
	case strings.Contains(errDesc, "KOE006"):
		return errors.New(errors.KindKakaoInvalidRedirectURI).
			WithDetail("provider", provider.Kakao.String()).
			WithDetail("error", errCode)
	case errCode == "access_denied", errCode == "consent_required":
		return errors.New(errors.KindOAuthCallbackError).
			WithDetail("provider", provider.Kakao.String()).
			WithDetail("error", errCode).
			WithDetail("description", errDesc)
	default:
		return errors.Unknown(fmt.Errorf("kakao callback error %s: %s", errCode, errDesc)).
			WithDetail("provider", provider.Kakao.String())
	}
}

// classifyFetchError maps a non-2xx kapi userinfo response into the
// taxonomy. Consent problems are provider state, so they only surface
// here at fetch time.
func classifyFetchError(status int, body []byte, collectPhone bool) error {
	var apiErr apiError
	_ = json.Unmarshal(body, &apiErr)

	switch {
	case apiErr.Code == apiCodeInsufficientScope && collectPhone:
		return errors.New(errors.KindKakaoPhoneNotEnabled).
			WithDetail("provider", provider.Kakao.String())
	case apiErr.Code == apiCodeInsufficientScope:
		return errors.New(errors.KindKakaoConsentRequired).
			WithDetail("provider", provider.Kakao.String())
	case apiErr.Code == apiCodeInvalidToken, status == http.StatusUnauthorized:
		return errors.New(errors.KindAccessTokenError).
			WithDetail("provider", provider.Kakao.String()).
			WithDetail("status", status)
	default:
		return errors.New(errors.KindUserInfoError).
			WithDetail("provider", provider.Kakao.String()).
			WithDetail("status", status)
	}
}
