package lti

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
)

func TestToolJWKS(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	set, err := ToolJWKS(&consumer.Consumer{ID: "c3", ToolKeyID: "tool-key-1", ToolKey: key})
	require.NoError(t, err)
	require.Len(t, set.Keys, 1)

	k := set.Keys[0]
	assert.Equal(t, "RSA", k["kty"])
	assert.Equal(t, "tool-key-1", k["kid"])
	assert.Equal(t, "RS256", k["alg"])
	assert.Equal(t, "sig", k["use"])
	assert.NotEmpty(t, k["n"])
	assert.NotEmpty(t, k["e"])
}

func TestToolJWKSWithoutKeyIsEmptySet(t *testing.T) {
	set, err := ToolJWKS(&consumer.Consumer{ID: "c1"})
	require.NoError(t, err)
	assert.NotNil(t, set.Keys)
	assert.Empty(t, set.Keys)
}

func TestDeriveKIDIsStable(t *testing.T) {
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	assert.Equal(t, DeriveKID(&key.PublicKey), DeriveKID(&key.PublicKey))

	other, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	assert.NotEqual(t, DeriveKID(&key.PublicKey), DeriveKID(&other.PublicKey))
}
