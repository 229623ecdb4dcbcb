package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"studyguide-backend/internal/account"
	"studyguide-backend/internal/analyses"
	googleauth "studyguide-backend/internal/auth"
	"studyguide-backend/internal/documents"
	"studyguide-backend/internal/services/health"
	"studyguide-backend/internal/session"
	"studyguide-backend/internal/shared/config"
	"studyguide-backend/internal/shared/metrics"
	"studyguide-backend/internal/shared/server/middleware"
	"studyguide-backend/internal/shared/server/respond"
	"studyguide-backend/internal/usage"
	"studyguide-backend/internal/users"
)

// RouterDeps carries the handlers built by bootstrap. Nil handlers are skipped.
type RouterDeps struct {
	Config          config.Config
	Health          *health.Service
	DocumentHandler *documents.Handler
	AnalysisHandler *analyses.Handler
	SessionHandler  *session.Handler
	UsageHandler    *usage.Handler
	UserHandler     *users.Handler
	AccountHandler  *account.Handler
	GoogleAuth      *googleauth.GoogleService
	RateLimiter     *middleware.RateLimiter
}

// NewRouter constructs the Gin engine with middleware and routes registered.
func NewRouter(deps RouterDeps) *gin.Engine {
	cfg := deps.Config
	if cfg.Env != "test" {
		gin.SetMode(gin.ReleaseMode)
	}
	r := gin.New()

	r.Use(
		middleware.RequestID(),
		middleware.Logging(),
		middleware.Recovery(),
		middleware.CORS(cfg.CORSAllowedOrigins),
	)

	healthSvc := deps.Health
	if healthSvc == nil {
		healthSvc = health.NewService()
	}
	r.GET("/metrics", metrics.Handler())

	public := r.Group(cfg.APIPrefix)
	public.GET("/health", func(c *gin.Context) {
		report := healthSvc.Status(c.Request.Context())
		status := http.StatusOK
		if !report.OK {
			status = http.StatusServiceUnavailable
		}
		respond.JSON(c, status, report)
	})
	if deps.GoogleAuth != nil {
		deps.GoogleAuth.RegisterRoutes(public)
	}

	api := r.Group(cfg.APIPrefix)
	api.Use(
		middleware.Auth(cfg.Env),
		middleware.RateLimit(middleware.RateLimitConfig{
			Rules:    rateRules(cfg),
			GroupFor: middleware.RouteGroup,
			Limiter:  deps.RateLimiter,
		}),
	)
	if deps.UserHandler != nil {
		deps.UserHandler.RegisterRoutes(api)
	}
	if deps.AccountHandler != nil {
		deps.AccountHandler.RegisterRoutes(api)
	}
	if deps.DocumentHandler != nil {
		deps.DocumentHandler.RegisterRoutes(api)
	}
	if deps.AnalysisHandler != nil {
		deps.AnalysisHandler.RegisterRoutes(api)
	}
	if deps.SessionHandler != nil {
		deps.SessionHandler.RegisterRoutes(api)
	}
	if deps.UsageHandler != nil {
		deps.UsageHandler.RegisterRoutes(api)
		if cfg.IsDevLike() {
			deps.UsageHandler.RegisterDevRoutes(api.Group("/dev"))
		}
	}

	return r
}

// rateRules scales the default budget when RATE_LIMIT_RPS / RATE_LIMIT_BURST are set.
func rateRules(cfg config.Config) map[string]middleware.RateLimitRule {
	rules := middleware.DefaultRules()
	if cfg.RateLimitRPS > 0 || cfg.RateLimitBurst > 0 {
		rule := rules[middleware.GroupDefault]
		if cfg.RateLimitRPS > 0 {
			rule.Rate = cfg.RateLimitRPS
		}
		if cfg.RateLimitBurst > 0 {
			rule.Burst = cfg.RateLimitBurst
		}
		rules[middleware.GroupDefault] = rule
	}
	return rules
}

// Addr normalizes the listen address.
func Addr(port string) string {
	if port == "" {
		return ":8080"
	}
	if port[0] == ':' {
		return port
	}
	return ":" + port
}
