package auth

import (
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func signHMAC(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestVerifyHMACToken(t *testing.T) {
	v := NewVerifier("", "", "secret")
	token := signHMAC(t, "secret", jwt.MapClaims{
		"sub":   "user_1",
		"email": "a@example.com",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	id, err := v.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "user_1", id.UserID)
	assert.Equal(t, "a@example.com", id.Email)
}

func TestVerifyRejectsBadTokens(t *testing.T) {
	v := NewVerifier("", "https://issuer", "secret")

	wrongSecret := signHMAC(t, "other", jwt.MapClaims{"sub": "u", "iss": "https://issuer"})
	_, err := v.Verify(wrongSecret)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := signHMAC(t, "secret", jwt.MapClaims{"sub": "u", "iss": "https://issuer", "exp": time.Now().Add(-time.Minute).Unix()})
	_, err = v.Verify(expired)
	assert.ErrorIs(t, err, ErrInvalidToken)

	wrongIssuer := signHMAC(t, "secret", jwt.MapClaims{"sub": "u", "iss": "https://elsewhere"})
	_, err = v.Verify(wrongIssuer)
	assert.ErrorIs(t, err, ErrInvalidToken)

	noSubject := signHMAC(t, "secret", jwt.MapClaims{"iss": "https://issuer"})
	_, err = v.Verify(noSubject)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyHMACDisabledWithoutSecret(t *testing.T) {
	v := NewVerifier("", "", "")
	_, err := v.Verify(signHMAC(t, "secret", jwt.MapClaims{"sub": "u"}))
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestVerifyRSATokenFromJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	jwks := map[string]interface{}{
		"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "kid-1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}},
	}
	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(jwks)
	}))
	defer srv.Close()

	tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user_rsa", "exp": time.Now().Add(time.Hour).Unix()})
	tok.Header["kid"] = "kid-1"
	signed, err := tok.SignedString(key)
	require.NoError(t, err)

	v := NewVerifier(srv.URL, "", "")
	id, err := v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, "user_rsa", id.UserID)

	_, err = v.Verify(signed)
	require.NoError(t, err)
	assert.Equal(t, 1, hits, "keys are cached")
}

func TestUnknownKidRefreshIsThrottled(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	hits := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits++
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"keys": []map[string]string{{
			"kty": "RSA",
			"kid": "kid-1",
			"n":   base64.RawURLEncoding.EncodeToString(key.N.Bytes()),
			"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(key.E)).Bytes()),
		}}})
	}))
	defer srv.Close()

	sign := func(kid string) string {
		tok := jwt.NewWithClaims(jwt.SigningMethodRS256, jwt.MapClaims{"sub": "user_rsa", "exp": time.Now().Add(time.Hour).Unix()})
		tok.Header["kid"] = kid
		signed, err := tok.SignedString(key)
		require.NoError(t, err)
		return signed
	}

	v := NewVerifier(srv.URL, "", "")
	for i := 0; i < 5; i++ {
		_, err := v.Verify(sign("kid-unknown"))
		assert.ErrorIs(t, err, ErrInvalidToken)
	}
	assert.Equal(t, 1, hits)

	// the one fetch still populated the cache
	_, err = v.Verify(sign("kid-1"))
	require.NoError(t, err)
	assert.Equal(t, 1, hits)

	v.mu.Lock()
	v.lastAttempt = time.Now().Add(-2 * v.minRefresh)
	v.mu.Unlock()
	_, err = v.Verify(sign("kid-unknown"))
	assert.ErrorIs(t, err, ErrInvalidToken)
	assert.Equal(t, 2, hits)
}

func TestParseBearer(t *testing.T) {
	tok, err := ParseBearer("Bearer abc")
	require.NoError(t, err)
	assert.Equal(t, "abc", tok)

	_, err = ParseBearer("abc")
	assert.ErrorIs(t, err, ErrMissingToken)
	_, err = ParseBearer("")
	assert.ErrorIs(t, err, ErrMissingToken)
}
