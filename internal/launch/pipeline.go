// Package launch drives a validated request end to end: authenticate the
// launch, resolve the local user, establish a session, provision the mapped
// resource and send the browser to its destination.
package launch

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/rs/zerolog"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/lti"
	"github.com/mlibrary/lti-tool-provider/internal/provision"
	"github.com/mlibrary/lti-tool-provider/internal/session"
	"github.com/mlibrary/lti-tool-provider/internal/user"
)

// StateCookie carries the OIDC state between login initiation and launch.
const StateCookie = "lti1p3_state"

// State is the terminal outcome of a pipeline run.
type State string

const (
	Redirected State = "redirected"
	Failed     State = "failed"
)

// Result reports what the pipeline did. The HTTP response has already been
// written when a Result is returned; callers use it for logging and tests.
type Result struct {
	State       State
	Destination string
	Kind        lti.FailureKind
	Reason      string
	UserID      string
	SessionID   string
}

// Pipeline owns one launch flow. All collaborators are required except
// Provisioner, which is nil when resource provisioning is not configured.
type Pipeline struct {
	Validators  []lti.Validator
	Consumers   consumer.Directory
	Users       *user.Resolver
	Sessions    *session.Manager
	Provisioner *provision.Service
	Hooks       Hooks

	// DefaultDestination receives launches that carry no custom
	// destination parameter.
	DefaultDestination string

	Log zerolog.Logger
}

// Launch runs the full pipeline for one request and writes the response.
func (p *Pipeline) Launch(w http.ResponseWriter, r *http.Request) Result {
	ctx := r.Context()

	v := lti.Select(r, p.Validators)
	if v == nil {
		return p.fail(w, r, nil, lti.Errf(lti.KindNotApplicable, "request is not an LTI launch"))
	}
	lc, err := v.Validate(r)
	if err != nil {
		return p.fail(w, r, nil, err)
	}
	if err := p.checkState(r, lc); err != nil {
		return p.fail(w, r, lc, err)
	}

	cons, err := p.Consumers.ByID(ctx, lc.ConsumerID())
	if err != nil {
		return p.fail(w, r, lc, lti.WrapErr(lti.KindUnknownConsumer, err, "consumer %q vanished after validation", lc.ConsumerID()))
	}

	u, err := p.Users.Resolve(ctx, lc, cons)
	if err != nil {
		return p.fail(w, r, lc, err)
	}
	for _, h := range p.Hooks.OnProvisionUser {
		if err := h(ctx, lc, u); err != nil {
			return p.fail(w, r, lc, veto(err, "user rejected"))
		}
	}

	sid, err := p.Sessions.Begin(ctx, w, u.ID, lc)
	if err != nil {
		return p.fail(w, r, lc, fmt.Errorf("launch: begin session: %w", err))
	}
	for _, h := range p.Hooks.OnAuthenticated {
		if err := h(ctx, lc, u); err != nil {
			p.Sessions.Drop(ctx, sid)
			return p.fail(w, r, lc, veto(err, "session rejected"))
		}
	}

	dest := lc.CustomDestination()
	if dest == "" {
		dest = p.DefaultDestination
	}
	for _, h := range p.Hooks.OnLaunch {
		dest, err = h(ctx, lc, u, dest)
		if err != nil {
			p.Sessions.Drop(ctx, sid)
			return p.fail(w, r, lc, veto(err, "launch rejected"))
		}
	}

	if p.Provisioner != nil {
		ent, err := p.Provisioner.Provision(ctx, lc)
		if err != nil {
			p.Sessions.Drop(ctx, sid)
			return p.fail(w, r, lc, err)
		}
		if ent != nil {
			lc.Set("provisioned_entity_id", ent.ID())
			lc.Set("provisioned_entity_type", ent.Type())
		}
	}

	p.Log.Info().
		Str("consumer", lc.ConsumerID()).
		Str("user", u.ID).
		Str("destination", dest).
		Str("version", string(lc.Version())).
		Msg("launch completed")
	http.Redirect(w, r, dest, http.StatusFound)
	return Result{State: Redirected, Destination: dest, UserID: u.ID, SessionID: sid}
}

// Return ends the session and sends the user back to the platform. Launches
// that carried no launch_presentation_return_url land on the default
// destination instead.
func (p *Pipeline) Return(w http.ResponseWriter, r *http.Request) Result {
	ctx := r.Context()
	d, err := p.Sessions.Resolve(ctx, r)
	if err != nil {
		http.Redirect(w, r, p.DefaultDestination, http.StatusFound)
		return Result{State: Redirected, Destination: p.DefaultDestination}
	}

	dest := ""
	if d.Launch != nil {
		dest = d.Launch.ReturnURL()
	}
	if dest == "" {
		dest = p.DefaultDestination
	}
	for _, h := range p.Hooks.OnReturn {
		next, err := h(ctx, d, dest)
		if err != nil {
			p.Log.Warn().Err(err).Msg("return hook failed, keeping destination")
			continue
		}
		dest = next
	}

	p.Sessions.End(ctx, w, r)
	http.Redirect(w, r, dest, http.StatusFound)
	return Result{State: Redirected, Destination: dest, UserID: d.UserID}
}

// checkState compares the OIDC state parameter with the cookie set at login
// initiation. Launches without the cookie (platform posted to a different
// browser context) pass; state integrity is then carried by the nonce alone.
func (p *Pipeline) checkState(r *http.Request, lc *lti.LaunchContext) error {
	if lc.Version() != lti.V1P3 {
		return nil
	}
	c, err := r.Cookie(StateCookie)
	if err != nil {
		return nil
	}
	if c.Value == "" || c.Value != r.PostFormValue("state") {
		return lti.Errf(lti.KindInvalidLaunch, "state does not match login cookie")
	}
	return nil
}

// fail writes the failure response. Platforms that told us their return URL
// get the error relayed via the lti_errormsg convention; everything else
// gets a plain HTTP error.
func (p *Pipeline) fail(w http.ResponseWriter, r *http.Request, lc *lti.LaunchContext, err error) Result {
	kind := lti.KindOf(err)
	msg := publicMessage(kind)
	// Cancellation reasons are written by extensions for the platform user.
	if kind == lti.KindProvisioningCancelled {
		var le *lti.LaunchError
		if errors.As(err, &le) && le.Msg != "" {
			msg = le.Msg
		}
	}

	p.Log.Warn().Err(err).Str("kind", string(kind)).Msg("launch rejected")

	ret := returnURL(r, lc)
	if ret != "" {
		if dest, ok := errorRedirect(ret, msg); ok {
			http.Redirect(w, r, dest, http.StatusFound)
			return Result{State: Failed, Destination: dest, Kind: kind, Reason: msg}
		}
	}
	http.Error(w, msg, statusFor(kind))
	return Result{State: Failed, Kind: kind, Reason: msg}
}

func veto(err error, what string) error {
	if lti.KindOf(err) != "" {
		return err
	}
	return lti.WrapErr(lti.KindProvisioningCancelled, err, "%s by extension", what)
}

// returnURL finds the platform's return URL, from the validated context when
// one exists or straight from the form otherwise.
func returnURL(r *http.Request, lc *lti.LaunchContext) string {
	if lc != nil {
		if u := lc.ReturnURL(); u != "" {
			return u
		}
	}
	return r.PostFormValue("launch_presentation_return_url")
}

// errorRedirect appends lti_errormsg to the platform return URL. Only
// http(s) URLs are honored.
func errorRedirect(ret, msg string) (string, bool) {
	u, err := url.Parse(ret)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	q := u.Query()
	q.Set("lti_errormsg", msg)
	u.RawQuery = q.Encode()
	return u.String(), true
}

// publicMessage keeps rejection detail out of responses; specifics stay in
// the log.
func publicMessage(kind lti.FailureKind) string {
	switch kind {
	case lti.KindNotApplicable:
		return "not an LTI launch"
	case lti.KindMissingIdentity:
		return "launch did not supply a usable user identity"
	case lti.KindProvisioningCancelled:
		return "launch was declined by this tool"
	default:
		return "LTI launch could not be verified"
	}
}

func statusFor(kind lti.FailureKind) int {
	switch kind {
	case lti.KindNotApplicable:
		return http.StatusNotFound
	case lti.KindMissingIdentity, lti.KindProvisioningCancelled:
		return http.StatusForbidden
	case lti.KindUnknownConsumer, lti.KindInvalidSignature,
		lti.KindStaleTimestamp, lti.KindReplayedNonce, lti.KindInvalidLaunch:
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}
