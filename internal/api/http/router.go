// Package api mounts the engine's HTTP surface: the launch endpoint both
// protocol variants post to, the LTI 1.3 login initiation and tool JWKS
// endpoints, and the return endpoint that hands the user back.
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/launch"
)

// Routes bundles what the HTTP surface needs.
type Routes struct {
	Pipeline  *launch.Pipeline
	Consumers consumer.Directory

	// LaunchURL is the absolute URL of the launch endpoint, handed to
	// platforms as redirect_uri during login initiation.
	LaunchURL     string
	SecureCookies bool

	Log zerolog.Logger
}

// Mount attaches all endpoints to r.
func (rt Routes) Mount(r chi.Router) {
	r.Post("/lti/launch", LaunchHandler(rt.Pipeline))
	r.Get("/lti/return", ReturnHandler(rt.Pipeline))
	r.Route("/lti/v1p3", func(r chi.Router) {
		r.Get("/login", LoginHandler(rt.Consumers, rt.LaunchURL, rt.SecureCookies, rt.Log))
		r.Post("/login", LoginHandler(rt.Consumers, rt.LaunchURL, rt.SecureCookies, rt.Log))
		r.Get("/jwks", JWKSHandler(rt.Consumers))
	})
}
