package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/account"
	"studyguide-backend/internal/analyses"
	googleauth "studyguide-backend/internal/auth"
	"studyguide-backend/internal/documents"
	"studyguide-backend/internal/extract"
	"studyguide-backend/internal/history"
	"studyguide-backend/internal/llm"
	anthropicllm "studyguide-backend/internal/llm/anthropic"
	jetifyllm "studyguide-backend/internal/llm/jetify"
	openaillm "studyguide-backend/internal/llm/openai"
	"studyguide-backend/internal/queue"
	"studyguide-backend/internal/services/health"
	"studyguide-backend/internal/session"
	"studyguide-backend/internal/shared/broker"
	"studyguide-backend/internal/shared/config"
	"studyguide-backend/internal/shared/server"
	"studyguide-backend/internal/shared/server/middleware"
	"studyguide-backend/internal/shared/storage/db"
	"studyguide-backend/internal/shared/storage/object"
	localstore "studyguide-backend/internal/shared/storage/object/local"
	s3store "studyguide-backend/internal/shared/storage/object/s3"
	redisstore "studyguide-backend/internal/shared/storage/redis"
	"studyguide-backend/internal/shared/telemetry"
	"studyguide-backend/internal/usage"
	"studyguide-backend/internal/users"
)

// App holds shared dependencies for the API, the worker and the CLI.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Redis  *redisstore.Client
	Store  object.ObjectStore
	Queue  queue.Client
	Broker broker.Broker
	LLM    llm.Streamer
	Health *health.Service

	DocumentsService *documents.Service
	UsageService     *usage.Service
	AnalysesService  *analyses.Service
	SessionService   *session.Service
	UsersService     *users.Service
	AccountService   *account.Service

	DocumentsHandler *documents.Handler
	AnalysisHandler  *analyses.Handler
	SessionHandler   *session.Handler
	UsageHandler     *usage.Handler
	UsersHandler     *users.Handler
	AccountHandler   *account.Handler
	GoogleAuth       *googleauth.GoogleService
}

// Build prepares shared dependencies and the router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	if strings.TrimSpace(cfg.ObjectStoreType) == "" {
		cfg.ObjectStoreType = "local"
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ctx := context.Background()

	app := &App{Config: cfg, Health: health.NewService()}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.DB = sqlDB
	if sqlDB != nil {
		app.Health.Register("postgres", sqlDB.PingContext)
	}

	if err := buildRedis(app); err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	app.Store = store

	if strings.TrimSpace(cfg.SQSQueueURL) != "" {
		sqsClient, err := queue.NewSQSClient(ctx, cfg.AWSRegion, cfg.SQSQueueURL)
		if err != nil {
			return nil, err
		}
		app.Queue = sqsClient
	}

	streamer, err := BuildStreamer(cfg)
	if err != nil {
		return nil, err
	}
	app.LLM = streamer

	buildServices(app)

	app.Router = server.NewRouter(server.RouterDeps{
		Config:          cfg,
		Health:          app.Health,
		DocumentHandler: app.DocumentsHandler,
		AnalysisHandler: app.AnalysisHandler,
		SessionHandler:  app.SessionHandler,
		UsageHandler:    app.UsageHandler,
		UserHandler:     app.UsersHandler,
		AccountHandler:  app.AccountHandler,
		GoogleAuth:      app.GoogleAuth,
		RateLimiter:     middleware.NewRateLimiter(nil),
	})

	telemetry.Info("bootstrap.ready", map[string]any{
		"env":           cfg.Env,
		"database":      sqlDB != nil,
		"redis":         app.Redis != nil,
		"object_store":  cfg.ObjectStoreType,
		"queue":         app.Queue != nil,
		"llm_provider":  cfg.LLMProvider,
		"chat_provider": cfg.ChatProvider,
	})
	return app, nil
}

// Close releases connections opened by Build.
func (a *App) Close() {
	if a == nil {
		return
	}
	if a.Redis != nil {
		_ = a.Redis.Close()
	}
	if a.DB != nil {
		_ = a.DB.Close()
	}
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.memory_repos", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	sqlDB, err := db.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		// a queued worker cannot see analyses kept in API memory
		if cfg.IsDevLike() && strings.TrimSpace(cfg.SQSQueueURL) == "" {
			telemetry.Warn("bootstrap.memory_repos", map[string]any{"reason": "database connect failed", "error": err.Error()})
			return nil, nil
		}
		return nil, err
	}
	return sqlDB, nil
}

// buildRedis connects when REDIS_URL is set. The session store needs it only
// when SESSION_STORE=redis; the broker uses it whenever it is available so
// the API and the worker share events.
func buildRedis(app *App) error {
	cfg := app.Config
	if strings.TrimSpace(cfg.RedisURL) == "" {
		return nil
	}
	client, err := redisstore.Connect(cfg.RedisURL)
	if err != nil {
		if cfg.SessionStore == "redis" || !cfg.IsDevLike() {
			return err
		}
		telemetry.Warn("bootstrap.redis_unavailable", map[string]any{"error": err.Error()})
		return nil
	}
	app.Redis = client
	app.Health.Register("redis", func(ctx context.Context) error {
		return client.Raw().Ping(ctx).Err()
	})
	return nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		store, err := s3store.New(ctx, s3store.Config{
			Region:   cfg.AWSRegion,
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			KMSKeyID: cfg.SSEKMSKeyID,
			Endpoint: cfg.S3Endpoint,
		})
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// BuildStreamer picks the analysis and chat providers independently and
// combines them.
func BuildStreamer(cfg config.Config) (llm.Streamer, error) {
	opts := llm.Options{MaxOutputTokens: cfg.LLMMaxOutputTokens}

	var analysis llm.Streamer
	switch cfg.LLMProvider {
	case "openai":
		opts.Model = cfg.OpenAIModel
		client, err := openaillm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, opts, cfg.LLMTimeout)
		if err != nil {
			return nil, err
		}
		analysis = client
	case "anthropic":
		opts.Model = cfg.AnthropicModel
		client, err := anthropicllm.NewClient(cfg.AnthropicAPIKey, "", opts, cfg.LLMTimeout)
		if err != nil {
			return nil, err
		}
		analysis = client
	case "fake":
		analysis = llm.FakeStreamer{}
	default:
		analysis = llm.PlaceholderClient{}
	}

	var chat llm.Streamer
	switch cfg.ChatProvider {
	case "jetify":
		provider := jetifyllm.Provider{Type: "openai", APIKey: cfg.OpenAIAPIKey, BaseURL: cfg.OpenAIBaseURL, Model: cfg.OpenAIModel}
		if cfg.AnthropicAPIKey != "" && cfg.OpenAIAPIKey == "" {
			provider = jetifyllm.Provider{Type: "anthropic", APIKey: cfg.AnthropicAPIKey, Model: cfg.AnthropicModel}
		}
		tutor, err := jetifyllm.NewTutor(provider, llm.Options{Model: provider.Model, MaxOutputTokens: cfg.LLMMaxOutputTokens})
		if err != nil {
			return nil, err
		}
		chat = tutor
	case "openai":
		client, err := openaillm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL, llm.Options{Model: cfg.OpenAIModel, MaxOutputTokens: cfg.LLMMaxOutputTokens}, cfg.LLMTimeout)
		if err != nil {
			return nil, err
		}
		chat = client
	case "anthropic":
		client, err := anthropicllm.NewClient(cfg.AnthropicAPIKey, "", llm.Options{Model: cfg.AnthropicModel, MaxOutputTokens: cfg.LLMMaxOutputTokens}, cfg.LLMTimeout)
		if err != nil {
			return nil, err
		}
		chat = client
	default:
		chat = llm.FakeStreamer{}
	}

	return llm.Combine(analysis, chat), nil
}

func buildServices(app *App) {
	cfg := app.Config

	var (
		docRepo      documents.DocumentsRepo
		analysisRepo analyses.Repo
		historyRepo  history.Repo
		userRepo     users.Repo
		usageSvc     *usage.Service
	)
	if app.DB != nil {
		docRepo = &documents.PGRepo{DB: app.DB}
		analysisRepo = &analyses.PGRepo{DB: app.DB}
		historyRepo = &history.PGRepo{DB: app.DB}
		userRepo = &users.PGRepo{DB: app.DB}
		usageSvc = usage.NewPostgresService(usage.NewPGStore(app.DB, cfg.UsageLimit))
	} else {
		docRepo = documents.NewMemoryRepo()
		analysisRepo = analyses.NewMemoryRepo()
		historyRepo = history.NewMemoryRepo()
		userRepo = users.NewMemoryRepo()
		usageSvc = usage.NewService(cfg.UsageLimit)
	}

	var sessionStore session.Store = session.NewMemoryStore()
	if cfg.SessionStore == "redis" && app.Redis != nil {
		sessionStore = session.NewRedisStore(app.Redis, cfg.SessionTTL)
	}

	var eventBroker broker.Broker = broker.NewMemoryBroker()
	if app.Redis != nil {
		eventBroker = broker.NewRedisBroker(app.Redis)
	}
	app.Broker = eventBroker

	docSvc := &documents.Service{
		Store:           app.Store,
		Repo:            docRepo,
		StorageProvider: cfg.ObjectStoreType,
	}
	sessionSvc := session.NewService(sessionStore, historyRepo, app.LLM)
	analysisSvc := &analyses.Service{
		Repo:     analysisRepo,
		Usage:    usageSvc,
		Docs:     docSvc,
		Pages:    &extract.Loader{Store: app.Store, Repo: docRepo},
		LLM:      app.LLM,
		Sessions: sessionSvc,
		Broker:   eventBroker,
		JobQueue: app.Queue,
		Provider: cfg.LLMProvider,
		Model:    cfg.ActiveModel(),
	}
	userSvc := users.NewService(userRepo)
	accountSvc := &account.Service{DB: app.DB, Documents: docRepo, Analyses: analysisRepo, History: historyRepo, Sessions: sessionSvc}

	app.DocumentsService = docSvc
	app.UsageService = usageSvc
	app.AnalysesService = analysisSvc
	app.SessionService = sessionSvc
	app.UsersService = userSvc
	app.AccountService = accountSvc

	app.DocumentsHandler = documents.NewHandler(docSvc)
	app.AnalysisHandler = analyses.NewHandler(analysisSvc)
	app.SessionHandler = session.NewHandler(sessionSvc)
	app.UsageHandler = usage.NewHandler(usageSvc)
	app.UsersHandler = users.NewHandler(userSvc)
	app.AccountHandler = account.NewHandler(accountSvc)
	var states googleauth.StateStore
	if app.Redis != nil {
		states = googleauth.RedisStates{Client: app.Redis}
	}
	app.GoogleAuth = googleauth.NewGoogleService(googleauth.GoogleConfig{
		ClientID:     cfg.GoogleClientID,
		ClientSecret: cfg.GoogleClientSecret,
		RedirectURL:  cfg.GoogleRedirectURL,
		UIRedirect:   cfg.UIRedirectURL,
	}, userSvc, states)
}
