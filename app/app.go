// Package app wires the console stores together from configuration and
// drives the sign-in and sign-out lifecycle across them.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/creastat/console"
	"github.com/creastat/console/access"
	"github.com/creastat/console/auth"
	"github.com/creastat/console/config"
	"github.com/creastat/console/github"
	"github.com/creastat/console/logging"
	"github.com/creastat/console/logs"
	"github.com/creastat/console/message"
	"github.com/creastat/console/notify"
	"github.com/creastat/console/prefs"
	"github.com/creastat/console/provider"
	"github.com/creastat/console/rag"
	"github.com/creastat/console/realtime"
	"github.com/creastat/console/session"
	"github.com/creastat/console/supabase"
	"github.com/creastat/console/vectorstore"
	"github.com/creastat/console/vectorstore/chromem"
	"github.com/creastat/console/vectorstore/edge"
	"github.com/creastat/console/vectorstore/qdrant"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 5 * time.Second

// Option configures New.
type Option func(*options)

type options struct {
	backend  supabase.Backend
	notifier notify.Notifier
	opener   github.Opener
	logger   *logging.Logger
}

// WithBackend uses b instead of connecting to Supabase.
func WithBackend(b supabase.Backend) Option {
	return func(o *options) { o.backend = b }
}

// WithNotifier sets where user-facing notifications go. Defaults to the log.
func WithNotifier(n notify.Notifier) Option {
	return func(o *options) { o.notifier = n }
}

// WithOpener sets how the GitHub authorize URL is shown to the user.
func WithOpener(op github.Opener) Option {
	return func(o *options) { o.opener = op }
}

// WithLogger overrides the logger built from the logging config.
func WithLogger(l *logging.Logger) Option {
	return func(o *options) { o.logger = l }
}

// dependencies holds the infrastructure the stores are built on.
type dependencies struct {
	backend   supabase.Backend
	redis     *redis.Client
	broker    realtime.Broker
	prefStore prefs.Store
	standard  vectorstore.Store
	premium   vectorstore.Store
}

// Close releases every resource, continuing past failures.
func (d *dependencies) Close() error {
	var errs []error
	closers := []interface{ Close() error }{d.broker, d.prefStore, d.standard, d.premium, d.backend}
	for _, c := range closers {
		if c == nil {
			continue
		}
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if d.redis != nil {
		if err := d.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}

// App is one console client: the signed-in identity and every store that
// hangs off it.
type App struct {
	Identity  *auth.Identity
	Roles     *access.Roles
	Sessions  *session.Store
	Messages  *message.Store
	Providers *provider.Store
	GitHub    *github.Integration
	RAG       *rag.Service
	Logs      *logs.Viewer
	Prefs     *prefs.Preferences
	Notifier  notify.Notifier

	cfg    *config.Config
	deps   *dependencies
	logger *logging.Logger
}

// New builds an App from cfg. cfg must already carry defaults.
func New(cfg *config.Config, opts ...Option) (*App, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	logger := o.logger
	if logger == nil {
		l, err := logging.NewLogger(&cfg.Logging)
		if err != nil {
			return nil, fmt.Errorf("init logger: %w", err)
		}
		logger = l
	}

	deps, err := initDependencies(cfg, o.backend, logger)
	if err != nil {
		return nil, err
	}

	notifier := o.notifier
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	a := &App{
		Identity: auth.NewIdentity(),
		Notifier: notifier,
		cfg:      cfg,
		deps:     deps,
		logger:   logger,
	}
	opener := o.opener
	if opener == nil {
		opener = github.OpenerFunc(a.logAuthorizeURL)
	}
	a.initServices(opener)
	return a, nil
}

// initDependencies connects the backend and builds the drivers cfg selects.
// backend is used as-is when non-nil.
func initDependencies(cfg *config.Config, backend supabase.Backend, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{backend: backend}
	if deps.backend == nil {
		client, err := supabase.New(supabase.Config{
			URL:      cfg.Supabase.URL,
			APIKey:   cfg.Supabase.AnonKey.Value(),
			CacheTTL: cfg.Supabase.CacheTTL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("connect supabase: %w", err)
		}
		deps.backend = client
	}

	if cfg.Realtime.Driver == string(realtime.BrokerTypeRedis) || cfg.Prefs.Driver == string(prefs.StoreTypeRedis) {
		deps.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password.Value(),
			DB:       cfg.Redis.DB,
		})
		logger.Info(context.Background(), "redis client configured", zap.String("addr", cfg.Redis.Addr))
	}

	var err error
	deps.broker, err = realtime.NewBroker(realtime.BrokerType(cfg.Realtime.Driver),
		realtime.WithRedisClient(deps.redis),
		realtime.WithLogger(logger),
	)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("create realtime broker: %w", err)
	}

	deps.prefStore, err = prefs.NewStore(prefs.StoreType(cfg.Prefs.Driver),
		prefs.WithRedisClient(deps.redis),
		prefs.WithRedisTTL(cfg.Prefs.TTL),
		prefs.WithSQLitePath(cfg.Prefs.Path),
	)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("create preference store: %w", err)
	}

	if err := initVectorStores(cfg, deps, logger); err != nil {
		_ = deps.Close()
		return nil, err
	}
	return deps, nil
}

// initVectorStores builds the standard and premium tier stores.
func initVectorStores(cfg *config.Config, deps *dependencies, logger *logging.Logger) error {
	var embedder vectorstore.Embedder
	getEmbedder := func() (vectorstore.Embedder, error) {
		if embedder != nil {
			return embedder, nil
		}
		e, err := vectorstore.NewEmbedder(cfg.RAG.Embedder, cfg.RAG.EmbedderAPIKey.Value(), cfg.RAG.EmbedderModel, cfg.RAG.EmbedderURL)
		if err != nil {
			return nil, fmt.Errorf("create embedder: %w", err)
		}
		embedder = e
		return e, nil
	}

	switch cfg.RAG.StandardDriver {
	case "chromem":
		e, err := getEmbedder()
		if err != nil {
			return err
		}
		store, err := chromem.New(cfg.RAG.ChromemPath, e, logger)
		if err != nil {
			return fmt.Errorf("create chromem store: %w", err)
		}
		deps.standard = store
	default:
		deps.standard = edge.New(deps.backend, console.TierStandard)
	}

	switch cfg.RAG.PremiumDriver {
	case "qdrant":
		e, err := getEmbedder()
		if err != nil {
			return err
		}
		store, err := qdrant.New(qdrant.Config{
			URL:            cfg.RAG.QdrantURL,
			CollectionName: cfg.RAG.QdrantCollection,
			APIKey:         cfg.RAG.QdrantAPIKey.Value(),
			VectorSize:     vectorSize(cfg.RAG.Embedder, cfg.RAG.EmbedderModel),
		}, e)
		if err != nil {
			return fmt.Errorf("create qdrant store: %w", err)
		}
		deps.premium = store
		logger.Info(context.Background(), "premium vector store initialized",
			zap.String("url", cfg.RAG.QdrantURL),
			zap.String("collection", cfg.RAG.QdrantCollection))
	default:
		deps.premium = edge.New(deps.backend, console.TierPremium)
	}
	return nil
}

// vectorSize returns the embedding width of the configured model.
func vectorSize(kind, model string) int {
	switch kind {
	case "openai":
		if model == "text-embedding-3-large" {
			return 3072
		}
		return 1536
	case "ollama":
		switch model {
		case "all-minilm":
			return 384
		case "mxbai-embed-large":
			return 1024
		}
		return 768
	default:
		return vectorstore.DefaultDimensions
	}
}

// usageRecorder forwards delivered-message token usage to the session store,
// which is built after the message store it binds.
type usageRecorder struct {
	sessions *session.Store
}

func (u *usageRecorder) RecordUsage(ctx context.Context, sessionID string, tokens int) error {
	return u.sessions.RecordUsage(ctx, sessionID, tokens)
}

// initServices builds the stores on top of the dependencies.
func (a *App) initServices(opener github.Opener) {
	cfg, backend := a.cfg, a.deps.backend

	a.Roles = access.NewRoles(backend, a.Identity, a.logger)

	usage := &usageRecorder{}
	a.Messages = message.New(backend,
		message.WithFunctions(backend),
		message.WithBroker(a.deps.broker),
		message.WithUsageRecorder(usage),
		message.WithNotifier(a.Notifier),
		message.WithLogger(a.logger),
	)
	a.Sessions = session.New(backend, a.Identity,
		session.WithMessages(a.Messages),
		session.WithNotifier(a.Notifier),
		session.WithLogger(a.logger),
		session.WithRetention(cfg.Retention()),
		session.WithCleanupConcurrency(cfg.Sessions.CleanupConcurrency),
	)
	usage.sessions = a.Sessions

	a.Providers = provider.New(backend, backend, a.Roles, a.Identity,
		provider.WithValidationRate(cfg.Providers.ValidationRate, cfg.Providers.ValidationBurst),
		provider.WithNotifier(a.Notifier),
		provider.WithLogger(a.logger),
	)

	a.GitHub = github.New(github.Config{
		ClientID:    cfg.GitHub.ClientID,
		RedirectURL: cfg.GitHub.RedirectURL,
		Scopes:      cfg.GitHub.Scopes,
	}, backend, backend, a.Identity, opener,
		github.WithNotifier(a.Notifier),
		github.WithLogger(a.logger),
	)

	a.RAG = rag.New(backend, backend, a.Roles, a.Identity, a.deps.standard, a.deps.premium,
		rag.WithMigrationThreshold(cfg.RAG.MigrationThreshold),
		rag.WithNotifier(a.Notifier),
		rag.WithLogger(a.logger),
	)

	a.Logs = logs.NewViewer(backend, a.Roles,
		logs.WithNotifier(a.Notifier),
		logs.WithLogger(a.logger),
	)

	a.Prefs = prefs.New(a.deps.prefStore, a.logger)
}

// Config returns the configuration the App was built from.
func (a *App) Config() *config.Config {
	return a.cfg
}

// Logger returns the App logger.
func (a *App) Logger() *logging.Logger {
	return a.logger
}

// SignIn authenticates and loads the user's state. Only the session list is
// required; the role, preferences, providers, tier and GitHub status are
// loaded best-effort and report their own failures.
func (a *App) SignIn(ctx context.Context, email, password string) (*console.AuthSession, error) {
	authSession, err := a.deps.backend.SignIn(ctx, email, password)
	if err != nil {
		a.logger.Warn(ctx, "sign in failed", zap.Error(err))
		notify.Error(ctx, a.Notifier, "Sign in failed", err)
		return nil, fmt.Errorf("sign in: %w", err)
	}
	a.Identity.Set(authSession)
	log := a.logger.With(zap.String("user_id", authSession.UserID))
	log.Info(ctx, "signed in")

	if _, err := a.Roles.Refresh(ctx); err != nil {
		log.Warn(ctx, "role refresh failed", zap.Error(err))
	}
	if _, err := a.Prefs.Load(ctx, authSession.UserID); err != nil {
		log.Warn(ctx, "preference load failed", zap.Error(err))
	}

	var g errgroup.Group
	g.Go(func() error {
		return a.Sessions.Load(ctx)
	})
	g.Go(func() error {
		if err := a.Providers.Load(ctx); err != nil {
			log.Warn(ctx, "provider load failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		if _, err := a.RAG.Refresh(ctx); err != nil {
			log.Warn(ctx, "rag tier load failed", zap.Error(err))
		}
		return nil
	})
	g.Go(func() error {
		if _, err := a.GitHub.CheckConnectionStatus(ctx); err != nil {
			log.Warn(ctx, "github status check failed", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return authSession, err
	}
	return authSession, nil
}

// SignOut ends the backend session and drops every piece of local state.
// Local state is reset even when the backend call fails.
func (a *App) SignOut(ctx context.Context) error {
	err := a.deps.backend.SignOut(ctx)
	a.Reset()
	if err != nil {
		a.logger.Warn(ctx, "sign out failed", zap.Error(err))
		return fmt.Errorf("sign out: %w", err)
	}
	a.logger.Info(ctx, "signed out")
	return nil
}

// Reset drops every store's local state and forgets the identity.
func (a *App) Reset() {
	a.Sessions.Reset()
	a.Providers.Reset()
	a.GitHub.Reset()
	a.RAG.Reset()
	a.Logs.Reset()
	a.Roles.Reset()
	a.Prefs.Reset()
	a.Identity.Clear()
}

// ConnectGitHub serves the OAuth callback while the handshake runs and stops
// it once Connect returns. Each call gets its own server since a stopped echo
// instance cannot listen again.
func (a *App) ConnectGitHub(ctx context.Context) error {
	callback := github.NewCallbackServer(a.cfg.GitHub.CallbackAddr, a.GitHub, a.logger)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(callback.Start)
	g.Go(func() error {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
			defer cancel()
			if err := callback.Shutdown(shutdownCtx); err != nil {
				a.logger.Warn(ctx, "callback server shutdown failed", zap.Error(err))
			}
		}()
		return a.GitHub.Connect(gctx)
	})
	return g.Wait()
}

func (a *App) logAuthorizeURL(ctx context.Context, url string) error {
	a.logger.Info(ctx, "open this URL to authorize GitHub", zap.String("url", url))
	return nil
}

// Close releases the realtime subscription and every dependency.
func (a *App) Close() error {
	var errs []error
	if err := a.Messages.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := a.deps.Close(); err != nil {
		errs = append(errs, err)
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
