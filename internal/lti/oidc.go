package lti

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lestrrat-go/jwx/v3/jwk"
	"github.com/rs/zerolog"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/nonce"
)

// OIDCValidator validates LTI 1.3 launches: a platform-signed id_token
// delivered with a state parameter. Cryptographic validation (issuer match,
// audience, signature against the platform JWKS, expiry, nonce replay,
// deployment membership) happens here; any failure normalizes to a single
// InvalidLaunch error so no partially trusted context can escape.
type OIDCValidator struct {
	Directory consumer.Directory
	Nonces    nonce.Store
	Keys      KeysetProvider

	// Leeway tolerates platform clock skew on exp/iat. Default 1 minute.
	Leeway time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time

	Log zerolog.Logger
}

func (v *OIDCValidator) Applies(r *http.Request) bool {
	return formOrQuery(r, "id_token") != "" && formOrQuery(r, "state") != ""
}

func (v *OIDCValidator) Validate(r *http.Request) (*LaunchContext, error) {
	rawToken := formOrQuery(r, "id_token")
	if rawToken == "" || formOrQuery(r, "state") == "" {
		return nil, Errf(KindNotApplicable, "missing id_token or state")
	}
	ctx := r.Context()

	// The registration is looked up from the unverified issuer claim
	// inside the keyfunc; nothing derived from the token is trusted until
	// the signature verifies against that registration's JWKS.
	var cons *consumer.Consumer
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(v.leeway()),
		jwt.WithTimeFunc(v.now),
	)
	token, err := parser.Parse(rawToken, func(t *jwt.Token) (any, error) {
		claims, ok := t.Claims.(jwt.MapClaims)
		if !ok {
			return nil, fmt.Errorf("unexpected claims type %T", t.Claims)
		}
		iss, err := claims.GetIssuer()
		if err != nil || iss == "" {
			return nil, fmt.Errorf("token has no issuer")
		}
		aud := firstAudience(claims)
		cons, err = v.Directory.ByIssuer(ctx, iss, aud)
		if err != nil {
			return nil, fmt.Errorf("no registration for issuer %q: %w", iss, err)
		}
		return v.signingKey(ctx, t, cons)
	})
	if err != nil {
		return nil, WrapErr(KindInvalidLaunch, err, "id_token rejected")
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || cons == nil {
		return nil, Errf(KindInvalidLaunch, "id_token rejected")
	}

	if aud := firstAudience(claims); aud != cons.ClientID {
		return nil, Errf(KindInvalidLaunch, "audience %q is not client %q", aud, cons.ClientID)
	}
	deployment, _ := claims[ClaimDeploymentID].(string)
	if !cons.HasDeployment(deployment) {
		return nil, Errf(KindInvalidLaunch, "unknown deployment %q", deployment)
	}
	if mt, _ := claims[ClaimMessageType].(string); mt != MessageTypeResourceLink {
		return nil, Errf(KindInvalidLaunch, "unsupported message type %q", mt)
	}

	// The token nonce is single-use across the whole tool, same store as
	// the v1.0/1.1 oauth_nonce. Store failure fails closed.
	nonceClaim, _ := claims["nonce"].(string)
	if nonceClaim == "" {
		return nil, Errf(KindInvalidLaunch, "token has no nonce")
	}
	inserted, err := v.Nonces.TryInsert(ctx, nonceClaim, cons.ClientID, v.now().Unix())
	if err != nil {
		return nil, WrapErr(KindInvalidLaunch, err, "nonce store unavailable")
	}
	if !inserted {
		return nil, Errf(KindInvalidLaunch, "token nonce already used")
	}

	sub, _ := claims.GetSubject()
	identity := UserIdentity{
		Subject: sub,
		Name:    stringClaim(claims, "name"),
		Email:   stringClaim(claims, "email"),
	}
	raw := make(map[string]any, len(claims))
	for k, val := range claims {
		raw[k] = val
	}

	v.Log.Debug().Str("consumer", cons.ID).Str("sub", sub).Msg("v1p3 launch validated")

	return NewContext(V1P3, cons.ID, cons.Label, identity, raw), nil
}

// signingKey selects the platform key matching the token's kid and exports
// it as a crypto key for verification.
func (v *OIDCValidator) signingKey(ctx context.Context, t *jwt.Token, cons *consumer.Consumer) (any, error) {
	kid, _ := t.Header["kid"].(string)
	if kid == "" {
		return nil, fmt.Errorf("token header missing kid")
	}
	set, err := v.Keys.Keyset(ctx, cons)
	if err != nil {
		return nil, err
	}
	key, found := set.LookupKeyID(kid)
	if !found {
		return nil, fmt.Errorf("kid %q not in platform jwks", kid)
	}
	var raw any
	if err := jwk.Export(key, &raw); err != nil {
		return nil, fmt.Errorf("export jwk: %w", err)
	}
	return raw, nil
}

func (v *OIDCValidator) leeway() time.Duration {
	if v.Leeway > 0 {
		return v.Leeway
	}
	return time.Minute
}

func (v *OIDCValidator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// IsLoginRequest is the admission predicate for the OIDC third-party login
// initiation. Pure shape check, no side effects. All four parameters must be
// present; lti_message_hint is relayed to the platform as-is.
func IsLoginRequest(r *http.Request) bool {
	return formOrQuery(r, "iss") != "" &&
		formOrQuery(r, "login_hint") != "" &&
		formOrQuery(r, "target_link_uri") != "" &&
		formOrQuery(r, "lti_message_hint") != ""
}

// IsJWKSRequest is the admission predicate for tool key set requests. Pure
// shape check, no side effects.
func IsJWKSRequest(r *http.Request) bool {
	return formOrQuery(r, "client_id") != ""
}

// formOrQuery reads a parameter from the form body or, failing that, the
// query string. v1.3 messages arrive either way.
func formOrQuery(r *http.Request, key string) string {
	_ = r.ParseForm()
	if v := r.PostFormValue(key); v != "" {
		return v
	}
	return r.URL.Query().Get(key)
}

func firstAudience(claims jwt.MapClaims) string {
	auds, err := claims.GetAudience()
	if err != nil || len(auds) == 0 {
		return ""
	}
	return auds[0]
}

func stringClaim(claims jwt.MapClaims, key string) string {
	s, _ := claims[key].(string)
	return s
}
