package api

import (
	"net/http"

	"github.com/mlibrary/lti-tool-provider/internal/launch"
)

// LaunchHandler runs the launch pipeline. Both protocol variants post here;
// the pipeline's validators sort out which one a request is.
func LaunchHandler(p *launch.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, "malformed form body", http.StatusBadRequest)
			return
		}
		p.Launch(w, r)
	}
}

// ReturnHandler ends the launched session and sends the user back to the
// platform.
func ReturnHandler(p *launch.Pipeline) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p.Return(w, r)
	}
}
