package api

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"

	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/lti"
)

// JWKSHandler serves the tool's public keys for one registration, selected
// by client_id. Platforms poll this to verify tool-signed messages, so
// responses carry cache and ETag headers.
func JWKSHandler(dir consumer.Directory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !lti.IsJWKSRequest(r) {
			http.Error(w, "client_id is required", http.StatusBadRequest)
			return
		}
		clientID := param(r, "client_id")
		cons, err := dir.ByClientID(r.Context(), clientID)
		if err != nil {
			http.Error(w, "unknown client", http.StatusNotFound)
			return
		}
		set, err := lti.ToolJWKS(cons)
		if err != nil {
			http.Error(w, "key set unavailable", http.StatusInternalServerError)
			return
		}
		body, err := json.Marshal(set)
		if err != nil {
			http.Error(w, "key set unavailable", http.StatusInternalServerError)
			return
		}

		sum := sha256.Sum256(body)
		etag := `"` + hex.EncodeToString(sum[:8]) + `"`
		if r.Header.Get("If-None-Match") == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=600")
		w.Header().Set("ETag", etag)
		_, _ = w.Write(body)
	}
}
