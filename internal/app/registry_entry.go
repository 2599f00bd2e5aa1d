// Package app wires the registry's usecases and adapters together and
// drives the HTTP server lifecycle.
package app

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/bnema/zerowrap"

	"github.com/coreforge/registry/internal/adapters/in/http/auth"
	"github.com/coreforge/registry/internal/adapters/in/http/middleware"
	"github.com/coreforge/registry/internal/adapters/in/http/registry"
	"github.com/coreforge/registry/internal/adapters/out/eventbus"
	"github.com/coreforge/registry/internal/adapters/out/graphstore"
	"github.com/coreforge/registry/internal/adapters/out/identity"
	"github.com/coreforge/registry/internal/adapters/out/objectstore"
	"github.com/coreforge/registry/internal/adapters/out/ratelimit"
	"github.com/coreforge/registry/internal/adapters/out/reldb"
	"github.com/coreforge/registry/internal/adapters/out/signer"
	"github.com/coreforge/registry/internal/adapters/out/signingkey"
	"github.com/coreforge/registry/internal/adapters/out/tokenstore"
	"github.com/coreforge/registry/internal/adapters/out/upstream"
	"github.com/coreforge/registry/internal/config"
	"github.com/coreforge/registry/internal/usecase/contentgraph"
	registrysvc "github.com/coreforge/registry/internal/usecase/registry"
	"github.com/coreforge/registry/internal/usecase/repoengine"
	"github.com/coreforge/registry/internal/usecase/signing"
	"github.com/coreforge/registry/internal/usecase/sync"
	"github.com/coreforge/registry/internal/usecase/tasks"
	"github.com/coreforge/registry/internal/usecase/token"
	"github.com/coreforge/registry/pkg/manifest"
)

const shutdownTimeout = 15 * time.Second

// Registry holds the fully wired registry service, ready to serve.
type Registry struct {
	cfg    *config.Config
	log    zerowrap.Logger
	server *http.Server
	tasks  *tasks.Runtime
	events *eventbus.InMemory
	sync   *sync.Service
	signing *signing.Service
	token  *token.Service
}

// NewRegistry constructs every usecase and adapter the registry needs from
// cfg and wires them into an HTTP server, following the same dependency
// order the teacher's component entrypoints use: storage adapters first,
// then usecases on top of them, then HTTP adapters on top of the usecases.
func NewRegistry(cfg *config.Config, log zerowrap.Logger) (*Registry, error) {
	if err := os.MkdirAll(cfg.Storage.DataDir, 0o750); err != nil {
		return nil, fmt.Errorf("creating data dir: %w", err)
	}

	objects, err := objectstore.NewFilesystem(cfg.Storage.ObjectStore, log)
	if err != nil {
		return nil, fmt.Errorf("initializing object store: %w", err)
	}

	graph, err := graphstore.NewStarskey(cfg.Storage.GraphStore, log)
	if err != nil {
		return nil, fmt.Errorf("initializing graph store: %w", err)
	}

	relational, err := reldb.Open(cfg.Storage.RelationalDB, log)
	if err != nil {
		return nil, fmt.Errorf("initializing relational store: %w", err)
	}

	events := eventbus.NewInMemory(256, log)
	if err := events.Start(); err != nil {
		return nil, fmt.Errorf("starting event bus: %w", err)
	}

	specMode := manifest.SpecModeStrict
	if cfg.Content.SpecMode == "relaxed" {
		specMode = manifest.SpecModeRelaxed
	}
	additionalTypes := make([]string, 0, len(cfg.Content.AdditionalOCIArtifactTypes))
	for _, mt := range cfg.Content.AdditionalOCIArtifactTypes {
		additionalTypes = append(additionalTypes, mt)
	}
	mediaTypes := manifest.NewRegistry(specMode, additionalTypes)

	content := contentgraph.New(objects, graph, events, mediaTypes)
	repos := repoengine.New(relational, graph, events)
	registrySvc := registrysvc.New(content, repos, relational, events)

	idStore := identity.NewFilesystem(cfg.Storage.IdentityDir, log)
	tokenStore := tokenstore.NewFilesystem(cfg.Storage.IdentityDir, log)

	signingKey, err := signingkey.Load(cfg.Auth.PrivateKeyPath, log)
	if err != nil {
		return nil, fmt.Errorf("loading token signing key: %w", err)
	}
	tokenSvc := token.New(idStore, idStore, tokenStore, signingKey, cfg.Auth.TokenIssuer, cfg.Auth.TokenAudience)

	upstreamClient := upstream.New(cfg.Sync.HTTPRetries, log)
	syncSvc := sync.New(upstreamClient, content, repos, relational, log)

	signerInvoker := signer.NewCosign(cfg.Signing.BinaryPath, cfg.Signing.KeyRef, log)
	signingSvc := signing.New(signerInvoker, content, log)

	taskRuntime := tasks.New(cfg.Signing.MaxParallelSigningTasks, log)

	mux := http.NewServeMux()

	registryHandler := registry.NewHandler(registrySvc, log)
	registryHandler.RegisterRoutes(mux)

	tokenHandler := registry.NewTokenHandler(tokenSvc, log)
	mux.Handle("/v2/token", tokenHandler)
	mux.Handle("/v2/token/", tokenHandler)

	authHandler := auth.NewHandler(tokenSvc, log)
	mux.Handle("/auth/", authHandler)

	var handler http.Handler = mux

	trustedProxies := middleware.ParseTrustedProxies(cfg.Server.TrustedProxies)

	globalLimiter := ratelimit.NewMemoryStore(50, 100, log)
	ipLimiter := ratelimit.NewMemoryStore(10, 20, log)
	handler = registry.RateLimitMiddleware(globalLimiter, ipLimiter, cfg.Server.TrustedProxies, log)(handler)

	if !cfg.Auth.TokenAuthDisabled {
		handler = middleware.RegistryAuth(tokenSvc, cfg.Auth.TokenServerURL, cfg.Auth.TokenAudience, log)(handler)
	}

	if len(cfg.Server.AllowedNetworks) > 0 {
		allowedNets := middleware.ParseTrustedProxies(cfg.Server.AllowedNetworks)
		handler = middleware.RegistryCIDRAllowlist(allowedNets, trustedProxies, log)(handler)
	}

	handler = middleware.PanicRecovery(log)(handler)
	handler = middleware.RequestLogger(log, trustedProxies)(handler)

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  2 * time.Minute,
	}

	return &Registry{
		cfg:     cfg,
		log:     log,
		server:  server,
		tasks:   taskRuntime,
		events:  events,
		sync:    syncSvc,
		signing: signingSvc,
		token:   tokenSvc,
	}, nil
}

// Run starts the HTTP server and blocks until the process receives an
// interrupt or termination signal, then shuts down gracefully.
func (r *Registry) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		r.log.Info().
			Str(zerowrap.FieldLayer, "app").
			Str("addr", r.server.Addr).
			Msg("registry listening")
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	r.log.Info().Msg("shutting down registry")
	r.tasks.Stop()
	if err := r.events.Stop(); err != nil {
		r.log.Warn().Err(err).Msg("event bus shutdown reported an error")
	}
	return r.server.Shutdown(shutdownCtx)
}
