package router

import (
	"net/http"

	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/d60-Lab/storyline/config"
	_ "github.com/d60-Lab/storyline/docs"
	"github.com/d60-Lab/storyline/internal/api/handler"
	"github.com/d60-Lab/storyline/internal/api/middleware"
	"github.com/d60-Lab/storyline/internal/ratelimit"
)

// Deps 路由依赖
type Deps struct {
	Handler *handler.Handler
	Tokens  middleware.TokenParser
	// Media 本地存储时挂载到 /media，为空则不挂载
	Media http.Handler
	// WriteLimiter 写接口限流，为空时按配置新建
	WriteLimiter *ratelimit.KeyedLimiter
}

// Setup 构建 gin 引擎
func Setup(cfg *config.Config, d Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()

	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(gin.Recovery())
	if cfg.Tracing.Enabled {
		r.Use(otelgin.Middleware(cfg.Tracing.ServiceName))
	}
	r.Use(middleware.Logger())
	r.Use(middleware.CORS(cfg.Server.CORSOrigins))
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{"/media"})))

	r.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if d.Media != nil {
		r.GET("/media/*key", gin.WrapH(http.StripPrefix("/media", d.Media)))
	}

	limiter := d.WriteLimiter
	if limiter == nil {
		limiter = ratelimit.NewKeyedLimiter(cfg.Server.WriteRPS, 5)
	}
	write := middleware.RateLimit(limiter)
	h := d.Handler

	api := r.Group("/api/v1", middleware.Auth(d.Tokens))
	{
		api.GET("/feed", h.ListFeed)
		api.GET("/archive", h.ListArchive)

		stories := api.Group("/stories")
		stories.POST("", write, h.CreateStory)
		stories.GET("/:story_id", h.GetStory)
		stories.PATCH("/:story_id", write, h.UpdateStory)
		stories.DELETE("/:story_id", h.DeleteStory)
		stories.POST("/:story_id/views", h.ViewStory)
		stories.GET("/:story_id/views", h.ListViewers)
		stories.PUT("/:story_id/reactions", write, h.React)
		stories.DELETE("/:story_id/reactions", h.Unreact)
		stories.POST("/:story_id/replies", write, h.Reply)
		stories.GET("/:story_id/replies", h.ListReplies)

		elements := api.Group("/elements")
		elements.PUT("/:element_id/responses", write, h.Respond)
		elements.GET("/:element_id/responses", h.ListResponses)
		elements.GET("/:element_id/results", h.PollResults)

		users := api.Group("/users")
		users.GET("/:user_id/stories", h.ListUserStories)
		users.GET("/:user_id/highlights", h.ListHighlights)

		highlights := api.Group("/highlights")
		highlights.POST("", write, h.CreateHighlight)
		highlights.GET("/:highlight_id", h.GetHighlight)
		highlights.PATCH("/:highlight_id", write, h.RenameHighlight)
		highlights.DELETE("/:highlight_id", h.DeleteHighlight)
		highlights.POST("/:highlight_id/items", write, h.AddHighlightItem)
		highlights.DELETE("/:highlight_id/items/:archive_id", h.RemoveHighlightItem)
		highlights.PUT("/:highlight_id/order", h.ReorderHighlight)

		relations := api.Group("/relations")
		relations.POST("/:user_id/follow", write, h.Follow)
		relations.DELETE("/:user_id/follow", h.Unfollow)
		relations.GET("/:user_id/following", h.ListFollowing)
		relations.GET("/:user_id/fans", h.ListFans)

		api.PUT("/close-friends/:user_id", h.AddCloseFriend)
		api.DELETE("/close-friends/:user_id", h.RemoveCloseFriend)
	}
	return r
}
