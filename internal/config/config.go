package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr  string
	PublicURL string

	DBDriver string
	DBDSN    string

	// Destination is where launches land when the platform sends no
	// custom destination parameter.
	Destination string

	// NonceInterval bounds accepted launch timestamps around now;
	// NonceExpiry is how long seen nonces are retained before pruning.
	NonceInterval time.Duration
	NonceExpiry   time.Duration

	SessionTTL    time.Duration
	SecureCookies bool

	// Resource provisioning. Provisioning is off unless both the type and
	// bundle are set.
	ProvisionType     string
	ProvisionBundle   string
	ProvisionDefaults map[string]string // resource field -> launch parameter path
	ProvisionSync     bool

	CORSOrigins []string
	LogLevel    string
}

func FromEnv() Config {
	addr := os.Getenv("HTTP_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	pub := strings.TrimSuffix(os.Getenv("PUBLIC_URL"), "/")
	return Config{
		HTTPAddr:  addr,
		PublicURL: pub,

		DBDriver: envOr("DB_DRIVER", "sqlite"),
		DBDSN:    envOr("DB_DSN", ""),

		Destination: envOr("LAUNCH_DESTINATION", "/"),

		NonceInterval: envDuration("NONCE_INTERVAL", 5*time.Minute),
		NonceExpiry:   envDuration("NONCE_EXPIRY", 90*time.Minute),

		SessionTTL:    envDuration("SESSION_TTL", 8*time.Hour),
		SecureCookies: envBool("SECURE_COOKIES", strings.HasPrefix(pub, "https://")),

		ProvisionType:     os.Getenv("PROVISION_ENTITY_TYPE"),
		ProvisionBundle:   os.Getenv("PROVISION_ENTITY_BUNDLE"),
		ProvisionDefaults: kvOr("PROVISION_DEFAULTS", "title=resource_link_title,field_context_label=context_label"),
		ProvisionSync:     envBool("PROVISION_ALWAYS_SYNC", false),

		CORSOrigins: csvOr("CORS_ORIGINS", "*"),
		LogLevel:    envOr("LOG_LEVEL", "info"),
	}
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func envBool(k string, def bool) bool {
	v := strings.ToLower(os.Getenv(k))
	if v == "" {
		return def
	}
	return v == "1" || v == "true" || v == "yes" || v == "on"
}

func envDuration(k string, def time.Duration) time.Duration {
	v := os.Getenv(k)
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	// Bare numbers are read as seconds.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second
	}
	return def
}

func csvOr(k, def string) []string {
	v := envOr(k, def)
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// kvOr parses "field=path,field=path" pairs.
func kvOr(k, def string) map[string]string {
	v := envOr(k, def)
	out := map[string]string{}
	for _, part := range strings.Split(v, ",") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) == 2 && kv[0] != "" && kv[1] != "" {
			out[kv[0]] = kv[1]
		}
	}
	return out
}
