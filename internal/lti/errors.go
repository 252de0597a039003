package lti

import (
	"errors"
	"fmt"
)

// FailureKind classifies why a launch was rejected. Handlers use the kind to
// decide between the lti_errormsg redirect convention and a plain error page.
type FailureKind string

const (
	// KindNotApplicable means the request does not have the shape of this
	// protocol's launch; the caller should try the next validator or 404.
	KindNotApplicable FailureKind = "not_applicable"

	KindUnknownConsumer       FailureKind = "unknown_consumer"
	KindInvalidSignature      FailureKind = "invalid_signature"
	KindStaleTimestamp        FailureKind = "stale_timestamp"
	KindReplayedNonce         FailureKind = "replayed_nonce"
	KindInvalidLaunch         FailureKind = "invalid_launch"
	KindMissingIdentity       FailureKind = "missing_identity"
	KindProvisioningCancelled FailureKind = "provisioning_cancelled"

	// KindEntityNotFound marks a provision mapping whose entity was deleted
	// out-of-band. It triggers re-provisioning and is never user-facing.
	KindEntityNotFound FailureKind = "entity_not_found"
)

// LaunchError is the error type for every failure in the launch engine.
type LaunchError struct {
	Kind FailureKind
	Msg  string
	Err  error
}

func (e *LaunchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("lti: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("lti: %s: %s", e.Kind, e.Msg)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// Errf builds a LaunchError of the given kind.
func Errf(kind FailureKind, format string, args ...any) *LaunchError {
	return &LaunchError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapErr builds a LaunchError of the given kind around a cause.
func WrapErr(kind FailureKind, err error, format string, args ...any) *LaunchError {
	return &LaunchError{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// Cancelf is the veto used by extension points. The message is the
// human-readable cancellation reason surfaced back to the platform.
func Cancelf(format string, args ...any) *LaunchError {
	return Errf(KindProvisioningCancelled, format, args...)
}

// KindOf extracts the failure kind from err, or "" when err is not a
// LaunchError.
func KindOf(err error) FailureKind {
	var le *LaunchError
	if errors.As(err, &le) {
		return le.Kind
	}
	return ""
}

// IsNotApplicable reports whether err marks a wrong-protocol request shape.
func IsNotApplicable(err error) bool { return KindOf(err) == KindNotApplicable }
