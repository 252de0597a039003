// Command ltitoold runs the LTI tool provider as a standalone HTTP daemon.
// Hosts that embed the engine as a library wire the same pieces themselves.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	api "github.com/mlibrary/lti-tool-provider/internal/api/http"
	"github.com/mlibrary/lti-tool-provider/internal/config"
	"github.com/mlibrary/lti-tool-provider/internal/consumer"
	"github.com/mlibrary/lti-tool-provider/internal/db"
	"github.com/mlibrary/lti-tool-provider/internal/launch"
	"github.com/mlibrary/lti-tool-provider/internal/lti"
	"github.com/mlibrary/lti-tool-provider/internal/nonce"
	"github.com/mlibrary/lti-tool-provider/internal/provision"
	"github.com/mlibrary/lti-tool-provider/internal/session"
	"github.com/mlibrary/lti-tool-provider/internal/user"
)

func main() {
	cfg := config.FromEnv()
	log := newLogger(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	openCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	dbh, err := db.Open(openCtx, db.Driver(cfg.DBDriver), cfg.DBDSN)
	cancel()
	if err != nil {
		log.Fatal().Err(err).Msg("db open failed")
	}
	defer dbh.Close()

	consumers := consumer.NewSQLDirectory(dbh)
	if err := seedConsumer(ctx, consumers); err != nil {
		log.Fatal().Err(err).Msg("consumer seed failed")
	}

	nonces := nonce.NewSQLStore(dbh)
	go pruneNonces(ctx, nonces, cfg.NonceExpiry, log)

	keys, err := lti.NewCachedKeys(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("jwks cache init failed")
	}

	sessions := session.NewManager(session.NewMemoryStore(), cfg.SessionTTL, cfg.SecureCookies)
	users := user.NewResolver(user.NewSQLStore(dbh), log)

	var provisioner *provision.Service
	if cfg.ProvisionType != "" && cfg.ProvisionBundle != "" {
		provisioner = provision.NewService(provision.Config{
			EntityType:   cfg.ProvisionType,
			EntityBundle: cfg.ProvisionBundle,
			Defaults:     cfg.ProvisionDefaults,
			AlwaysSync:   cfg.ProvisionSync,
		}, provision.NewSQLStore(dbh), provision.NewSQLEntities(dbh), provision.Hooks{}, log)
	}

	pipeline := &launch.Pipeline{
		Validators: []lti.Validator{
			&lti.OAuth1Validator{
				Directory: consumers,
				Nonces:    nonces,
				Interval:  cfg.NonceInterval,
				Log:       log,
			},
			&lti.OIDCValidator{
				Directory: consumers,
				Nonces:    nonces,
				Keys:      keys,
				Log:       log,
			},
		},
		Consumers:          consumers,
		Users:              users,
		Sessions:           sessions,
		Provisioner:        provisioner,
		DefaultDestination: cfg.Destination,
		Log:                log,
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(api.RequestLogger(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	api.Routes{
		Pipeline:      pipeline,
		Consumers:     consumers,
		LaunchURL:     cfg.PublicURL + "/lti/launch",
		SecureCookies: cfg.SecureCookies,
		Log:           log,
	}.Mount(r)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()

	log.Info().Str("addr", cfg.HTTPAddr).Str("driver", cfg.DBDriver).Msg("ltitoold listening")
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("http server failed")
	}
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Logger()
}

// pruneNonces drops nonce records past the retention window. Retention only
// bounds table growth; replay rejection happens at insert time.
func pruneNonces(ctx context.Context, store *nonce.SQLStore, expiry time.Duration, log zerolog.Logger) {
	t := time.NewTicker(expiry / 2)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			n, err := store.PruneExpired(ctx, time.Now().Add(-expiry))
			if err != nil {
				log.Warn().Err(err).Msg("nonce prune failed")
				continue
			}
			if n > 0 {
				log.Debug().Int64("pruned", n).Msg("nonce table pruned")
			}
		}
	}
}

// seedConsumer registers a single v1.0/1.1 consumer from the environment,
// for development and first-boot setups without an admin surface.
func seedConsumer(ctx context.Context, dir *consumer.SQLDirectory) error {
	key := os.Getenv("LTI_CONSUMER_KEY")
	secret := os.Getenv("LTI_CONSUMER_SECRET")
	if key == "" || secret == "" {
		return nil
	}
	label := os.Getenv("LTI_CONSUMER_LABEL")
	if label == "" {
		label = key
	}
	return dir.Save(ctx, &consumer.Consumer{
		ID:      "seed-" + key,
		Label:   label,
		Version: lti.V1P0,
		Key:     key,
		Secret:  secret,
	})
}
