package lti

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/nonce"
)

// Launch parameter values required by the v1.0/1.1 basic launch shape.
const (
	v1p0MessageType = "basic-lti-launch-request"
)

var v1p0Versions = map[string]bool{"LTI-1p0": true, "LTI-1p2": true}

// OAuth1Validator validates LTI 1.0/1.1 launches: an OAuth 1.0a HMAC-SHA1
// signed form POST. On success the full parameter set becomes the context's
// raw bag verbatim; identity is resolved later from the consumer's
// configured name/mail parameter keys.
type OAuth1Validator struct {
	Directory consumer.Directory
	Nonces    nonce.Store

	// Interval is the symmetric timestamp window; defaults to
	// nonce.Interval.
	Interval time.Duration
	// Now overrides the clock (tests).
	Now func() time.Time

	Log zerolog.Logger
}

func (v *OAuth1Validator) Applies(r *http.Request) bool {
	if r.Method != http.MethodPost {
		return false
	}
	if err := r.ParseForm(); err != nil {
		return false
	}
	if r.PostFormValue("lti_message_type") != v1p0MessageType {
		return false
	}
	if !v1p0Versions[r.PostFormValue("lti_version")] {
		return false
	}
	if r.PostFormValue("oauth_consumer_key") == "" {
		return false
	}
	if r.PostFormValue("resource_link_id") == "" {
		return false
	}
	return true
}

func (v *OAuth1Validator) Validate(r *http.Request) (*LaunchContext, error) {
	if !v.Applies(r) {
		return nil, Errf(KindNotApplicable, "not a basic-lti-launch-request")
	}
	ctx := r.Context()

	key := r.PostFormValue("oauth_consumer_key")
	cons, err := v.Directory.ByKey(ctx, key)
	if err != nil {
		return nil, WrapErr(KindUnknownConsumer, err, "consumer key %q", key)
	}

	if method := r.PostFormValue("oauth_signature_method"); method != "HMAC-SHA1" {
		return nil, Errf(KindInvalidSignature, "unsupported signature method %q", method)
	}
	want := HMACSHA1Signature(r.Method, requestBaseURL(r), r.Form, cons.Secret)
	got := r.PostFormValue("oauth_signature")
	if got == "" || !hmac.Equal([]byte(want), []byte(got)) {
		return nil, Errf(KindInvalidSignature, "signature mismatch for consumer %q", key)
	}

	ts, err := strconv.ParseInt(r.PostFormValue("oauth_timestamp"), 10, 64)
	if err != nil {
		return nil, WrapErr(KindStaleTimestamp, err, "unparseable oauth_timestamp")
	}
	now := v.now().Unix()
	window := int64(v.interval() / time.Second)
	// Symmetric window: a skewed clock in either direction is rejected,
	// values exactly at the boundary are accepted.
	if ts < now-window || ts > now+window {
		return nil, Errf(KindStaleTimestamp, "timestamp %d outside ±%ds of now", ts, window)
	}

	// The nonce insert is the only side effect of validation and only
	// happens once all other checks passed. Store failure fails closed.
	nonceValue := r.PostFormValue("oauth_nonce")
	ok, err := v.Nonces.TryInsert(ctx, nonceValue, key, ts)
	if err != nil {
		return nil, WrapErr(KindReplayedNonce, err, "nonce store unavailable")
	}
	if !ok {
		return nil, Errf(KindReplayedNonce, "nonce already used")
	}

	raw := make(map[string]any, len(r.PostForm)+2)
	for k := range r.PostForm {
		raw[k] = r.PostFormValue(k)
	}
	raw["consumer_id"] = cons.ID
	raw["consumer_label"] = cons.Label

	v.Log.Debug().Str("consumer", cons.ID).Str("resource_link", r.PostFormValue("resource_link_id")).
		Msg("v1p0 launch validated")

	return NewContext(V1P0, cons.ID, cons.Label, UserIdentity{}, raw), nil
}

func (v *OAuth1Validator) interval() time.Duration {
	if v.Interval > 0 {
		return v.Interval
	}
	return nonce.Interval
}

func (v *OAuth1Validator) now() time.Time {
	if v.Now != nil {
		return v.Now()
	}
	return time.Now()
}

// HMACSHA1Signature computes the OAuth 1.0a signature over the normalized
// request per RFC 5849 §3.4. params holds every form and query parameter;
// oauth_signature itself is excluded. Two-legged launch requests have no
// token, so the signing key is "<secret>&".
func HMACSHA1Signature(method, baseURL string, params url.Values, secret string) string {
	base := signatureBase(method, baseURL, params)
	mac := hmac.New(sha1.New, []byte(oauthEscape(secret)+"&"))
	mac.Write([]byte(base))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signatureBase(method, baseURL string, params url.Values) string {
	type pair struct{ k, v string }
	pairs := make([]pair, 0, len(params))
	for k, vs := range params {
		if k == "oauth_signature" {
			continue
		}
		for _, v := range vs {
			pairs = append(pairs, pair{oauthEscape(k), oauthEscape(v)})
		}
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].k != pairs[j].k {
			return pairs[i].k < pairs[j].k
		}
		return pairs[i].v < pairs[j].v
	})
	var sb strings.Builder
	for i, p := range pairs {
		if i > 0 {
			sb.WriteByte('&')
		}
		sb.WriteString(p.k)
		sb.WriteByte('=')
		sb.WriteString(p.v)
	}
	return strings.ToUpper(method) + "&" + oauthEscape(baseURL) + "&" + oauthEscape(sb.String())
}

// oauthEscape is RFC 3986 percent-encoding with uppercase hex, as required
// for signature base strings (stricter than url.QueryEscape).
func oauthEscape(s string) string {
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' || c >= 'a' && c <= 'z' || c >= '0' && c <= '9' ||
			c == '-' || c == '.' || c == '_' || c == '~' {
			sb.WriteByte(c)
			continue
		}
		sb.WriteByte('%')
		sb.WriteByte("0123456789ABCDEF"[c>>4])
		sb.WriteByte("0123456789ABCDEF"[c&0x0f])
	}
	return sb.String()
}

// requestBaseURL reconstructs the scheme://host/path the platform signed
// against. Scheme honors the reverse-proxy header; query and fragment are
// excluded per RFC 5849 §3.4.1.2.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	return scheme + "://" + r.Host + r.URL.EscapedPath()
}
