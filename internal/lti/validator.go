package lti

import "net/http"

// Validator turns a raw launch request into a LaunchContext or fails with a
// LaunchError. The two protocol variants (OAuth1 form post, OIDC/JWT) sit
// behind this one capability; callers select by trying each in turn.
type Validator interface {
	// Applies is a cheap, side-effect-free shape check: does this request
	// look like a launch of this validator's protocol?
	Applies(r *http.Request) bool
	// Validate authenticates the request. It must not be called unless
	// Applies returned true; even so it re-checks shape and returns a
	// NotApplicable error rather than misclassifying a malformed request.
	Validate(r *http.Request) (*LaunchContext, error)
}

// Select returns the first validator whose Applies accepts r, or nil.
func Select(r *http.Request, validators []Validator) Validator {
	for _, v := range validators {
		if v.Applies(r) {
			return v
		}
	}
	return nil
}
