// Package api wires the gin router.
package api

import (
	sentrygin "github.com/getsentry/sentry-go/gin"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/craiglabenz/grapevine/internal/api/handler"
)

// NewRouter builds the HTTP surface. Webhook routes answer 405 (not
// 404) to wrong methods so provider retry logic sees the distinction.
func NewRouter(mode string, h *handler.Handler) *gin.Engine {
	gin.SetMode(mode)

	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())
	r.Use(sentrygin.New(sentrygin.Options{Repanic: true}))
	r.Use(otelgin.Middleware("grapevine"))
	r.Use(gzip.Gzip(gzip.DefaultCompression))

	r.GET("/healthz", h.Healthz)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	gv := r.Group("/grapevine")
	{
		gv.POST("/backends/:backend/events/", h.IngestEvent)
		gv.GET("/view/:guid/", h.ViewOnSite)
	}

	v1 := r.Group("/api/v1")
	{
		v1.POST("/sender/run", h.RunSender)
	}

	return r
}
