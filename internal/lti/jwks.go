package lti

import (
	"crypto/rsa"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"math/big"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
)

// JWKS is a JSON Web Key Set, i.e. { "keys": [ JWK, ... ] }.
type JWKS struct {
	Keys []map[string]any `json:"keys"`
}

// ToolJWKS builds the public key set a platform fetches to verify messages
// signed by this tool on behalf of the given registration.
func ToolJWKS(c *consumer.Consumer) (JWKS, error) {
	if c.ToolKey == nil {
		return JWKS{Keys: []map[string]any{}}, nil
	}
	kid := c.ToolKeyID
	if kid == "" {
		kid = DeriveKID(&c.ToolKey.PublicKey)
	}
	jwk := RSAPublicJWK(&c.ToolKey.PublicKey, kid, "RS256")
	if jwk == nil {
		return JWKS{}, fmt.Errorf("lti: consumer %q tool key is unusable", c.ID)
	}
	return JWKS{Keys: []map[string]any{jwk}}, nil
}

// RSAPublicJWK builds a minimal RSA JWK map (n,e) for the given key.
func RSAPublicJWK(pub *rsa.PublicKey, kid, alg string) map[string]any {
	if pub == nil || pub.N == nil || pub.E == 0 {
		return nil
	}
	return map[string]any{
		"kty":     "RSA",
		"kid":     kid,
		"alg":     alg,
		"use":     "sig",
		"key_ops": []string{"verify"},
		"n":       bigIntToB64(pub.N),
		"e":       intToB64(pub.E),
	}
}

// DeriveKID produces a stable key id from the public key material.
func DeriveKID(pub *rsa.PublicKey) string {
	h := sha256.New()
	h.Write(pub.N.Bytes())
	h.Write([]byte{byte(pub.E >> 24), byte(pub.E >> 16), byte(pub.E >> 8), byte(pub.E)})
	return "rsa-" + b64url(h.Sum(nil)[:8])
}

func bigIntToB64(n *big.Int) string {
	return b64url(n.FillBytes(make([]byte, (n.BitLen()+7)/8)))
}

func intToB64(e int) string {
	b := big.NewInt(int64(e)).Bytes()
	if len(b) == 0 {
		b = []byte{0}
	}
	return b64url(b)
}

func b64url(b []byte) string {
	return base64.RawURLEncoding.EncodeToString(b)
}
