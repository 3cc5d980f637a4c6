package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xela07ax/purposegate/internal/domain"
)

func newTestValidator(t *testing.T) (*Validator, func(jwt.MapClaims) string) {
	t.Helper()
	priv := newRSAKey(t)
	v := NewValidator(StaticKey{Key: &priv.PublicKey}, ValidatorOptions{
		Audience: "api://purposegate",
		Issuer:   "https://login.example/tenant/v2.0",
		Claims:   DefaultClaimNames(),
	})
	return v, func(c jwt.MapClaims) string { return signRS256(t, priv, "", c) }
}

func TestValidator_ExtractAppID(t *testing.T) {
	v, sign := newTestValidator(t)
	ctx := context.Background()

	t.Run("primary claim", func(t *testing.T) {
		id, err := v.ExtractAppID(ctx, "Bearer "+sign(withClaims(jwt.MapClaims{"appid": "APP-A", "azp": "APP-Z"})))
		require.NoError(t, err)
		assert.Equal(t, "APP-A", id)
	})

	t.Run("alias claim fallback", func(t *testing.T) {
		id, err := v.ExtractAppID(ctx, "Bearer "+sign(withClaims(jwt.MapClaims{"azp": "APP-Z"})))
		require.NoError(t, err)
		assert.Equal(t, "APP-Z", id)
	})

	t.Run("empty or non-string primary falls through", func(t *testing.T) {
		id, err := v.ExtractAppID(ctx, "Bearer "+sign(withClaims(jwt.MapClaims{"appid": "", "azp": "APP-Z"})))
		require.NoError(t, err)
		assert.Equal(t, "APP-Z", id)

		id, err = v.ExtractAppID(ctx, "Bearer "+sign(withClaims(jwt.MapClaims{"appid": 42, "azp": "APP-Z"})))
		require.NoError(t, err)
		assert.Equal(t, "APP-Z", id)
	})

	t.Run("no identity claim", func(t *testing.T) {
		_, err := v.ExtractAppID(ctx, "Bearer "+sign(withClaims(jwt.MapClaims{"sub": "user"})))
		require.ErrorIs(t, err, domain.ErrUnresolvableIdentity)
	})

	t.Run("missing header", func(t *testing.T) {
		_, err := v.ExtractAppID(ctx, "")
		require.ErrorIs(t, err, domain.ErrMissingCredential)
	})
}

func TestValidator_RejectsUntrustedTokens(t *testing.T) {
	v, sign := newTestValidator(t)
	ctx := context.Background()
	other := newRSAKey(t)

	cases := map[string]string{
		"foreign key": signRS256(t, other, "", withClaims(jwt.MapClaims{"appid": "APP-A"})),
		"expired":     sign(withClaims(jwt.MapClaims{"appid": "APP-A", "exp": time.Now().Add(-time.Hour).Unix()})),
		"no exp": func() string {
			c := withClaims(jwt.MapClaims{"appid": "APP-A"})
			delete(c, "exp")
			return sign(c)
		}(),
		"wrong audience": sign(withClaims(jwt.MapClaims{"appid": "APP-A", "aud": "api://other"})),
		"wrong issuer":   sign(withClaims(jwt.MapClaims{"appid": "APP-A", "iss": "https://evil.example"})),
		"hmac alg": func() string {
			tok := jwt.NewWithClaims(jwt.SigningMethodHS256, withClaims(jwt.MapClaims{"appid": "APP-A"}))
			s, err := tok.SignedString([]byte("shared-secret"))
			require.NoError(t, err)
			return s
		}(),
		"garbage": "not-a-jwt",
	}

	for name, token := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := v.ExtractAppID(ctx, "Bearer "+token)
			require.ErrorIs(t, err, domain.ErrUnresolvableIdentity)
		})
	}
}

func TestDecoder_DoesNotVerify(t *testing.T) {
	d := NewDecoder(DefaultClaimNames())
	ctx := context.Background()
	other := newRSAKey(t)

	// подпись чужим ключом и протухший exp - декодеру все равно
	token := signRS256(t, other, "", jwt.MapClaims{"azp": "APP-Z", "exp": time.Now().Add(-time.Hour).Unix()})
	id, err := d.ExtractAppID(ctx, "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "APP-Z", id)

	_, err = d.ExtractAppID(ctx, "Bearer garbage")
	require.ErrorIs(t, err, domain.ErrUnresolvableIdentity)

	_, err = d.ExtractAppID(ctx, "Token abc")
	require.ErrorIs(t, err, domain.ErrMissingCredential)
}

func TestCustomClaimNames(t *testing.T) {
	d := NewDecoder(ClaimNames{Primary: "client_id"})
	token := signRS256(t, newRSAKey(t), "", jwt.MapClaims{"client_id": "svc-1", "appid": "ignored"})

	id, err := d.ExtractAppID(context.Background(), "Bearer "+token)
	require.NoError(t, err)
	assert.Equal(t, "svc-1", id)
}

func TestParseRSAPublicKey(t *testing.T) {
	_, err := ParseRSAPublicKey(nil)
	require.Error(t, err)

	_, err = ParseRSAPublicKey([]byte("not pem"))
	require.Error(t, err)
}

func TestStaticKey_Nil(t *testing.T) {
	_, err := StaticKey{}.PublicKey(context.Background(), "")
	require.Error(t, err)
}

func TestIsVerificationFailure(t *testing.T) {
	v, sign := newTestValidator(t)
	ctx := context.Background()

	_, err := v.ExtractAppID(ctx, "Bearer not.a.jwt")
	assert.True(t, IsVerificationFailure(err))

	expired := withClaims(jwt.MapClaims{"appid": "APP-A", "exp": time.Now().Add(-time.Hour).Unix()})
	_, err = v.ExtractAppID(ctx, "Bearer "+sign(expired))
	assert.True(t, IsVerificationFailure(err))

	_, err = v.ExtractAppID(ctx, "Bearer "+sign(withClaims(jwt.MapClaims{"sub": "user"})))
	require.ErrorIs(t, err, domain.ErrUnresolvableIdentity)
	assert.False(t, IsVerificationFailure(err))

	_, err = v.ExtractAppID(ctx, "")
	assert.False(t, IsVerificationFailure(err))
}
