package launch

import (
	"context"

	"github.com/mlibrary/lti-tool-provider/internal/lti"
	"github.com/mlibrary/lti-tool-provider/internal/session"
	"github.com/mlibrary/lti-tool-provider/internal/user"
)

// UserHook observes a launch at a user-related stage. Returning an error
// vetoes the launch; lti.Cancelf carries the message shown to the platform.
type UserHook func(ctx context.Context, lc *lti.LaunchContext, u *user.User) error

// DestinationHook may rewrite the destination a stage decided on, or veto
// the launch by returning an error.
type DestinationHook func(ctx context.Context, lc *lti.LaunchContext, u *user.User, destination string) (string, error)

// ReturnHook observes the end of a session as the user is sent back to the
// platform, and may rewrite the return destination.
type ReturnHook func(ctx context.Context, d session.Data, destination string) (string, error)

// Hooks are the extension points of the launch pipeline, in firing order.
type Hooks struct {
	// OnProvisionUser fires after the local user is resolved, before the
	// session is written.
	OnProvisionUser []UserHook
	// OnAuthenticated fires once the session exists. A veto destroys the
	// session again.
	OnAuthenticated []UserHook
	// OnLaunch fires after the destination is decided, before the redirect.
	OnLaunch []DestinationHook
	// OnReturn fires when the user leaves via the return endpoint.
	OnReturn []ReturnHook
}
