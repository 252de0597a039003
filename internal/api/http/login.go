package api

import (
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/launch"
	"github.com/mlibrary/lti-tool-provider/internal/lti"
)

// LoginHandler answers LTI 1.3 third-party login initiation. It binds the
// browser to the upcoming launch with a state cookie and bounces it to the
// platform's authentication endpoint; the platform posts the id_token back
// to the launch endpoint.
func LoginHandler(dir consumer.Directory, launchURL string, secure bool, log zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed form body", http.StatusBadRequest)
			return
		}
		if !lti.IsLoginRequest(r) {
			http.Error(w, "not an LTI login initiation", http.StatusBadRequest)
			return
		}
		iss := param(r, "iss")
		clientID := param(r, "client_id")

		cons, err := dir.ByIssuer(r.Context(), iss, clientID)
		if err != nil {
			log.Warn().Str("iss", iss).Str("client_id", clientID).Msg("login from unknown platform")
			http.Error(w, "unknown platform", http.StatusUnauthorized)
			return
		}
		if cons.AuthLoginURL == "" {
			http.Error(w, "platform has no authentication endpoint registered", http.StatusInternalServerError)
			return
		}

		state := uuid.NewString()
		// The nonce is minted here and checked for replay when the signed
		// id_token comes back through launch validation.
		nonceVal := uuid.NewString()

		http.SetCookie(w, &http.Cookie{
			Name:     launch.StateCookie,
			Value:    state,
			Path:     "/",
			MaxAge:   300,
			HttpOnly: true,
			Secure:   secure,
			SameSite: http.SameSiteNoneMode,
		})

		q := url.Values{}
		q.Set("scope", "openid")
		q.Set("response_type", "id_token")
		q.Set("response_mode", "form_post")
		q.Set("prompt", "none")
		q.Set("client_id", cons.ClientID)
		q.Set("redirect_uri", launchURL)
		q.Set("login_hint", param(r, "login_hint"))
		q.Set("state", state)
		q.Set("nonce", nonceVal)
		q.Set("lti_message_hint", param(r, "lti_message_hint"))

		dest := cons.AuthLoginURL
		if u, err := url.Parse(dest); err == nil {
			merged := u.Query()
			for k, vs := range q {
				for _, v := range vs {
					merged.Set(k, v)
				}
			}
			u.RawQuery = merged.Encode()
			dest = u.String()
		}
		log.Debug().Str("consumer", cons.ID).Str("iss", iss).Msg("login initiation accepted")
		http.Redirect(w, r, dest, http.StatusFound)
	}
}

func param(r *http.Request, key string) string {
	if v := r.PostFormValue(key); v != "" {
		return v
	}
	return r.URL.Query().Get(key)
}
