// Package router 提供 HTTP 路由配置
package router

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tale-weaver-api/internal/config"
	"tale-weaver-api/internal/interfaces/http/handler"
	"tale-weaver-api/internal/interfaces/http/middleware"
)

// Deps 路由依赖；Jobs、Limiter 与 RateKey 可为 nil
type Deps struct {
	Story   *handler.StoryHandler
	Jobs    *handler.JobHandler
	Health  *handler.HealthHandler
	Limiter middleware.RateLimiter
	RateKey middleware.KeyFunc
}

// Router HTTP 路由器
type Router struct {
	engine *gin.Engine
	cfg    *config.Config
	deps   Deps
}

// New 创建新的路由器
func New(cfg *config.Config, deps Deps) *Router {
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := &Router{engine: gin.New(), cfg: cfg, deps: deps}
	r.setupMiddleware()
	r.setupRoutes()
	return r
}

// Engine 返回 Gin Engine
func (r *Router) Engine() *gin.Engine {
	return r.engine
}

func (r *Router) setupMiddleware() {
	r.engine.Use(middleware.Recovery())
	r.engine.Use(middleware.Sentry())
	r.engine.Use(middleware.RequestID())

	r.engine.Use(middleware.CORS(middleware.CORSConfig{
		AllowedOrigins: r.cfg.Security.CORS.AllowedOrigins,
		AllowedMethods: r.cfg.Security.CORS.AllowedMethods,
		AllowedHeaders: r.cfg.Security.CORS.AllowedHeaders,
	}))

	if r.cfg.Observability.Tracing.Enabled {
		r.engine.Use(middleware.Trace(r.cfg.App.Name))
		r.engine.Use(middleware.TraceContext())
	}
	if r.cfg.Observability.Metrics.Enabled {
		r.engine.Use(middleware.Metrics())
	}
	r.engine.Use(middleware.AccessLog())
}

func (r *Router) setupRoutes() {
	if h := r.deps.Health; h != nil {
		r.engine.GET("/health", h.Health)
		r.engine.GET("/ready", h.Ready)
		r.engine.GET("/live", h.Live)
	}

	if r.cfg.Observability.Metrics.Enabled {
		path := r.cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.engine.GET(path, gin.WrapH(promhttp.Handler()))
	}

	key := r.deps.RateKey
	if key == nil {
		key = middleware.ClientKey(func(clientID, endpoint string) string {
			return "ratelimit:" + clientID + ":" + endpoint
		})
	}
	limit := middleware.RateLimit(middleware.RateLimitConfig{
		Enabled: r.cfg.Security.RateLimit.Enabled,
		Limit:   r.cfg.Security.RateLimit.Limit,
		Window:  r.cfg.Security.RateLimit.Window,
	}, r.deps.Limiter, key)

	v1 := r.engine.Group("/v1")
	if h := r.deps.Story; h != nil {
		v1.POST("/stories/generate", limit, h.GenerateStory)
	}
	if h := r.deps.Jobs; h != nil {
		jobs := v1.Group("/jobs")
		jobs.POST("", limit, h.CreateJob)
		jobs.GET("/:jid", h.GetJob)
		jobs.POST("/:jid/cancel", h.CancelJob)
	}
}
