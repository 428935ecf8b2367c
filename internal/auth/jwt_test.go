package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJWTRoundTrip(t *testing.T) {
	t.Parallel()

	j := NewJWT("test-secret")
	tok, err := j.Sign("listing-api")
	require.NoError(t, err)

	sub, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "listing-api", sub)
}

func TestJWTRejectsWrongSecret(t *testing.T) {
	t.Parallel()

	tok, err := NewJWT("secret-a").Sign("listing-api")
	require.NoError(t, err)

	_, err = NewJWT("secret-b").Verify(tok)
	assert.Error(t, err)
}

func TestJWTRejectsGarbage(t *testing.T) {
	t.Parallel()

	_, err := NewJWT("test-secret").Verify("not.a.token")
	assert.Error(t, err)
}
