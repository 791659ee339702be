// Package provider defines the contract between kauth providers and the
// OAuth orchestration engine: the canonical user record, the immutable
// per-provider descriptor, and the display metadata UI components consume.
package provider

import (
	"github.com/kauthdev/kauth/errors"
)

// Key identifies a supported login provider.
type Key string

// Supported providers, in declaration order. Validation and composition
// walk this order so error reporting is reproducible.
const (
	Kakao Key = "kakao"
	Naver Key = "naver"
)

// Keys returns all provider keys in declaration order.
func Keys() []Key {
	return []Key{Kakao, Naver}
}

// Valid reports whether the key names a supported provider.
func (k Key) Valid() bool {
	switch k {
	case Kakao, Naver:
		return true
	}
	return false
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return string(k)
}

// Gender is the normalized gender value. Unrecognized provider values map
// to GenderUnknown rather than failing the login.
type Gender string

const (
	GenderUnknown Gender = ""
	GenderMale    Gender = "male"
	GenderFemale  Gender = "female"
)

// User is the canonical, provider-agnostic profile produced by a
// successful login. Only ID is guaranteed; every other field depends on
// the consent items the user granted. An empty string means the provider
// did not disclose the field; a disclosed-but-empty value is
// indistinguishable from an undisclosed one.
type User struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email,omitempty"`
	Image     string `json:"image,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Birthday  string `json:"birthday,omitempty"`
	BirthYear string `json:"birth_year,omitempty"`
	Gender    Gender `json:"gender,omitempty"`
	AgeRange  string `json:"age_range,omitempty"`
}

// Endpoints is the OAuth 2.0 endpoint triple for a provider.
type Endpoints struct {
	AuthURL     string
	TokenURL    string
	UserInfoURL string
}

// ProfileMapper normalizes a provider's raw userinfo response body into
// the canonical User. Idempotent and free of I/O.
type ProfileMapper func(raw []byte) (*User, error)

// CallbackErrorMapper classifies the error/error_description pair from a
// provider's authorization callback into the error taxonomy.
type CallbackErrorMapper func(errCode, errDesc string) error

// FetchErrorMapper classifies a non-2xx userinfo response into the error
// taxonomy.
type FetchErrorMapper func(status int, body []byte) error

// Descriptor is the immutable per-provider bundle handed to the
// orchestration engine: endpoints, credentials, scopes and the mapping
// functions. Built once at composition time and safe to share across
// concurrent login attempts.
type Descriptor struct {
	Key          Key
	Endpoints    Endpoints
	Scopes       []string
	ClientID     string
	ClientSecret string

	MapProfile       ProfileMapper
	MapCallbackError CallbackErrorMapper
	MapFetchError    FetchErrorMapper
}

// DisplayInfo is the per-provider branding UI components may depend on
// without importing any network logic.
type DisplayInfo struct {
	Label      string `json:"label"`
	BrandColor string `json:"brand_color"`
}

var displayInfo = map[Key]DisplayInfo{
	Kakao: {Label: "Kakao", BrandColor: "#FEE500"},
	Naver: {Label: "Naver", BrandColor: "#03C75A"},
}

// Display returns the branding metadata for a provider key.
func Display(key Key) DisplayInfo {
	return displayInfo[key]
}

// ValidateCredentials checks that a provider's credentials are complete:
// clientID first, then clientSecret. Pure; performs no network I/O.
func ValidateCredentials(key Key, clientID, clientSecret string) error {
	if clientID == "" {
		return errors.MissingClientID(string(key))
	}
	if clientSecret == "" {
		return errors.MissingClientSecret(string(key))
	}
	return nil
}
