package services

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubVerifier struct {
	user *GoogleUser
	err  error
}

func (v *stubVerifier) Verify(ctx context.Context, rawToken string) (*GoogleUser, error) {
	return v.user, v.err
}

// makeToken builds an unsigned JWT with the given claims; the signature part
// is garbage, which is fine for the unverified-decode path.
func makeToken(t *testing.T, claims map[string]interface{}) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "RS256", "typ": "JWT"})
	require.NoError(t, err)
	payload, err := json.Marshal(claims)
	require.NoError(t, err)

	return base64.RawURLEncoding.EncodeToString(header) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("signature"))
}

func TestResolveVerifiedToken(t *testing.T) {
	svc := NewIdentityService(&stubVerifier{user: &GoogleUser{Email: "a@b.com", Name: "Ada"}})

	identity := svc.Resolve(context.Background(), "some-token", "1.2.3.4")

	assert.Equal(t, "a@b.com", identity.Key)
	assert.Equal(t, "Ada", identity.Name)
	assert.False(t, identity.Anonymous)
}

func TestResolveExpiredTokenFallsBackToPayload(t *testing.T) {
	token := makeToken(t, map[string]interface{}{"email": "a@b.com", "name": "Ada"})
	svc := NewIdentityService(&stubVerifier{err: errors.New("idtoken: token expired")})

	identity := svc.Resolve(context.Background(), token, "1.2.3.4")

	assert.Equal(t, "a@b.com", identity.Key)
	assert.False(t, identity.Anonymous)
}

func TestResolveExpiredTokenWithoutEmailGoesAnonymous(t *testing.T) {
	token := makeToken(t, map[string]interface{}{"name": "Ada"})
	svc := NewIdentityService(&stubVerifier{err: errors.New("Token used too late")})

	identity := svc.Resolve(context.Background(), token, "1.2.3.4")

	assert.Equal(t, "anonymous_1.2.3.4", identity.Key)
	assert.True(t, identity.Anonymous)
}

func TestResolveExpiredMalformedTokenGoesAnonymous(t *testing.T) {
	svc := NewIdentityService(&stubVerifier{err: errors.New("idtoken: token expired")})

	identity := svc.Resolve(context.Background(), "not-a-jwt", "1.2.3.4")

	assert.Equal(t, "anonymous_1.2.3.4", identity.Key)
	assert.True(t, identity.Anonymous)
}

func TestResolveNonExpiryFailureSkipsFallback(t *testing.T) {
	// A wrong-audience token decodes fine, but the lenient path only covers
	// expiry.
	token := makeToken(t, map[string]interface{}{"email": "a@b.com"})
	svc := NewIdentityService(&stubVerifier{err: errors.New("idtoken: audience provided does not match aud claim in the JWT")})

	identity := svc.Resolve(context.Background(), token, "1.2.3.4")

	assert.Equal(t, "anonymous_1.2.3.4", identity.Key)
	assert.True(t, identity.Anonymous)
}

func TestResolveNoToken(t *testing.T) {
	svc := NewIdentityService(&stubVerifier{user: &GoogleUser{Email: "a@b.com"}})

	identity := svc.Resolve(context.Background(), "", "1.2.3.4")

	assert.Equal(t, "anonymous_1.2.3.4", identity.Key)
	assert.Equal(t, "Anonymous User", identity.Name)
	assert.True(t, identity.Anonymous)
}

func TestResolveNoTokenNoIP(t *testing.T) {
	svc := NewIdentityService(&stubVerifier{})

	identity := svc.Resolve(context.Background(), "", "")

	assert.Equal(t, "anonymous_unknown", identity.Key)
	assert.True(t, identity.Anonymous)
}

func TestResolveVerifiedTokenWithoutEmailGoesAnonymous(t *testing.T) {
	svc := NewIdentityService(&stubVerifier{user: &GoogleUser{Name: "Ada"}})

	identity := svc.Resolve(context.Background(), "some-token", "1.2.3.4")

	assert.Equal(t, "anonymous_1.2.3.4", identity.Key)
	assert.True(t, identity.Anonymous)
}
