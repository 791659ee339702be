package kakao

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kauthdev/kauth/errors"
	"github.com/kauthdev/kauth/provider"
)

func TestBuild(t *testing.T) {
	t.Run("missing client id", func(t *testing.T) {
		_, err := Build(Options{ClientSecret: "secret"})
		assert.True(t, errors.IsKind(err, errors.KindMissingClientID))
	})

	t.Run("missing client secret", func(t *testing.T) {
		_, err := Build(Options{ClientID: "id"})
		assert.True(t, errors.IsKind(err, errors.KindMissingClientSecret))
	})

	t.Run("default scopes", func(t *testing.T) {
		desc, err := Build(Options{ClientID: "id", ClientSecret: "secret"})
		require.NoError(t, err)

		assert.Equal(t, provider.Kakao, desc.Key)
		assert.Equal(t, []string{"profile_nickname", "profile_image", "account_email"}, desc.Scopes)
		assert.Equal(t, "https://kauth.kakao.com/oauth/authorize", desc.Endpoints.AuthURL)
		assert.Equal(t, "https://kauth.kakao.com/oauth/token", desc.Endpoints.TokenURL)
		assert.Equal(t, "https://kapi.kakao.com/v2/user/me", desc.Endpoints.UserInfoURL)
	})

	t.Run("collect phone appends scope", func(t *testing.T) {
		desc, err := Build(Options{ClientID: "id", ClientSecret: "secret", CollectPhone: true})
		require.NoError(t, err)

		assert.Equal(t, []string{"profile_nickname", "profile_image", "account_email", "phone_number"}, desc.Scopes)
	})

	t.Run("building twice does not share scope slices", func(t *testing.T) {
		first, err := Build(Options{ClientID: "id", ClientSecret: "secret", CollectPhone: true})
		require.NoError(t, err)
		second, err := Build(Options{ClientID: "id", ClientSecret: "secret"})
		require.NoError(t, err)

		assert.Len(t, first.Scopes, 4)
		assert.Len(t, second.Scopes, 3)
	})
}

func TestNormalize(t *testing.T) {
	const full = `{
		"id": 123456789,
		"kakao_account": {
			"profile": {"nickname": "Kim", "profile_image_url": "https://k.kakaocdn.net/img.jpg"},
			"email": "kim@example.com",
			"phone_number": "+82 10-1234-5678",
			"birthday": "0101",
			"birthyear": "1990",
			"gender": "female",
			"age_range": "30~39"
		}
	}`

	t.Run("full profile with phone collection", func(t *testing.T) {
		user, err := normalize([]byte(full), true)
		require.NoError(t, err)

		assert.Equal(t, &provider.User{
			ID:        "123456789",
			Name:      "Kim",
			Email:     "kim@example.com",
			Image:     "https://k.kakaocdn.net/img.jpg",
			Phone:     "+82 10-1234-5678",
			Birthday:  "0101",
			BirthYear: "1990",
			Gender:    provider.GenderFemale,
			AgeRange:  "30~39",
		}, user)
	})

	t.Run("phone omitted when not requested", func(t *testing.T) {
		user, err := normalize([]byte(full), false)
		require.NoError(t, err)
		assert.Empty(t, user.Phone)
	})

	t.Run("missing id fails", func(t *testing.T) {
		_, err := normalize([]byte(`{"kakao_account":{"email":"a@b.com"}}`), false)
		assert.True(t, errors.IsKind(err, errors.KindUserInfoError))
	})

	t.Run("invalid JSON fails", func(t *testing.T) {
		_, err := normalize([]byte(`{"id":`), false)
		assert.True(t, errors.IsKind(err, errors.KindUserInfoError))
	})

	t.Run("undisclosed optional fields stay absent", func(t *testing.T) {
		user, err := normalize([]byte(`{"id": 42}`), true)
		require.NoError(t, err)

		assert.Equal(t, "42", user.ID)
		assert.Empty(t, user.Name)
		assert.Empty(t, user.Email)
		assert.Empty(t, user.Image)
		assert.Empty(t, user.Phone)
		assert.Empty(t, user.Birthday)
		assert.Empty(t, user.BirthYear)
		assert.Equal(t, provider.GenderUnknown, user.Gender)
		assert.Empty(t, user.AgeRange)
	})

	t.Run("disclosed-empty equals undisclosed", func(t *testing.T) {
		withEmpty, err := normalize([]byte(`{"id": 42, "kakao_account": {"email": ""}}`), false)
		require.NoError(t, err)
		without, err := normalize([]byte(`{"id": 42}`), false)
		require.NoError(t, err)

		assert.Equal(t, without, withEmpty)
	})

	t.Run("unrecognized gender degrades to unknown", func(t *testing.T) {
		user, err := normalize([]byte(`{"id": 42, "kakao_account": {"gender": "other"}}`), false)
		require.NoError(t, err)
		assert.Equal(t, provider.GenderUnknown, user.Gender)
	})

	t.Run("idempotent", func(t *testing.T) {
		first, err := normalize([]byte(full), true)
		require.NoError(t, err)
		second, err := normalize([]byte(full), true)
		require.NoError(t, err)

		assert.Equal(t, first, second)
	})
}

func TestClassifyCallbackError(t *testing.T) {
	t.Run("KOE006 maps to invalid redirect URI", func(t *testing.T) {
		err := classifyCallbackError("invalid_request", "KOE006: redirect uri mismatch")
		assert.True(t, errors.IsKind(err, errors.KindKakaoInvalidRedirectURI))
	})

	t.Run("access_denied maps to callback error", func(t *testing.T) {
		err := classifyCallbackError("access_denied", "user denied")
		assert.True(t, errors.IsKind(err, errors.KindOAuthCallbackError))
	})

	t.Run("anything else maps to unknown with cause", func(t *testing.T) {
		err := classifyCallbackError("server_error", "oops")
		assert.True(t, errors.IsKind(err, errors.KindUnknown))
		assert.Contains(t, err.Error(), "server_error")
	})
}

func TestClassifyFetchError(t *testing.T) {
	t.Run("insufficient scope with phone requested", func(t *testing.T) {
		err := classifyFetchError(http.StatusForbidden, []byte(`{"code":-402,"msg":"insufficient scopes"}`), true)
		assert.True(t, errors.IsKind(err, errors.KindKakaoPhoneNotEnabled))
	})

	t.Run("insufficient scope without phone", func(t *testing.T) {
		err := classifyFetchError(http.StatusForbidden, []byte(`{"code":-402,"msg":"insufficient scopes"}`), false)
		assert.True(t, errors.IsKind(err, errors.KindKakaoConsentRequired))
	})

	t.Run("invalid token", func(t *testing.T) {
		err := classifyFetchError(http.StatusUnauthorized, []byte(`{"code":-401,"msg":"invalid token"}`), false)
		assert.True(t, errors.IsKind(err, errors.KindAccessTokenError))
	})

	t.Run("other failures map to user info error", func(t *testing.T) {
		err := classifyFetchError(http.StatusInternalServerError, []byte(`not json`), false)
		assert.True(t, errors.IsKind(err, errors.KindUserInfoError))
	})
}
