// Package server assembles the HTTP API: middleware, authentication and the
// routes of every module.
package server

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/nexus-dashboard/nexus/internal/accounts"
	"github.com/nexus-dashboard/nexus/internal/admin"
	"github.com/nexus-dashboard/nexus/internal/auth"
	"github.com/nexus-dashboard/nexus/internal/changefeed"
	"github.com/nexus-dashboard/nexus/internal/config"
	"github.com/nexus-dashboard/nexus/internal/diary"
	"github.com/nexus-dashboard/nexus/internal/docstore"
	"github.com/nexus-dashboard/nexus/internal/finance"
	"github.com/nexus-dashboard/nexus/internal/geo"
	"github.com/nexus-dashboard/nexus/internal/health"
	"github.com/nexus-dashboard/nexus/internal/logbook"
	"github.com/nexus-dashboard/nexus/internal/logging"
	"github.com/nexus-dashboard/nexus/internal/metrics"
	"github.com/nexus-dashboard/nexus/internal/modules"
	"github.com/nexus-dashboard/nexus/internal/transfer"
	"github.com/nexus-dashboard/nexus/internal/university"
	"github.com/nexus-dashboard/nexus/internal/validation"
	"github.com/nexus-dashboard/nexus/internal/worker"
)

// Deps are the collaborators the router is built from.
type Deps struct {
	Config   *config.Config
	Logger   *slog.Logger
	Accounts *accounts.Service
	Tokens   *auth.TokenIssuer
	Throttle *auth.LoginThrottle
	Store    docstore.Store
	Feed     changefeed.Feed
	Registry *modules.Registry
	Queue    worker.Queue
	Router   geo.Router
	Geocoder geo.Geocoder
	Archiver transfer.Archiver
	OAuth    bool
	Ready    map[string]health.Check
}

// InitValidation switches gin's binding engine to the "validate" tag and
// installs the custom tags.
func InitValidation() error {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return fmt.Errorf("unexpected gin validator engine %T", binding.Validator.Engine())
	}
	v.SetTagName("validate")
	return validation.Register(v)
}

// New builds the gin engine with every route mounted.
func New(d Deps) *gin.Engine {
	if d.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logging.RequestLogger(d.Logger))
	r.Use(metrics.Middleware())

	store := cookie.NewStore([]byte(d.Config.SessionSecret))
	store.Options(sessions.Options{
		Path:     "/",
		MaxAge:   int(d.Config.AccessTokenTTL.Seconds()),
		HttpOnly: true,
		Secure:   d.Config.IsProduction(),
		SameSite: http.SameSiteLaxMode,
	})
	r.Use(sessions.Sessions("nexus_session", store))

	r.GET("/health", gin.WrapF(health.Handler))
	r.GET("/ready", gin.WrapF(health.Ready(d.Ready)))
	r.GET("/metrics", metrics.Handler())

	if d.OAuth {
		r.GET("/auth/google", auth.HandleGoogleLogin)
		r.GET("/auth/google/callback", auth.HandleGoogleCallback(d.Accounts, d.Config.BaseURL))
	}

	public := r.Group("/api")
	public.POST("/auth/login", auth.HandlePasswordLogin(d.Accounts, d.Tokens, d.Throttle))
	public.POST("/auth/logout", auth.HandleLogout)
	public.POST("/auth/password-reset", auth.HandleRequestPasswordReset(d.Accounts, d.Queue))
	public.POST("/auth/password-reset/confirm", auth.HandleConfirmPasswordReset(d.Accounts))
	public.POST("/access-requests", auth.HandleAccessRequest(d.Accounts))
	public.GET("/shared/trips/:uid/:tripId", logbook.SharedTripHandler(d.Store))
	public.GET("/shared/university/:uid", university.SharedHandler(d.Store))

	api := r.Group("/api", auth.RequireAuth(d.Accounts, d.Tokens))
	api.GET("/auth/me", auth.HandleMe)
	api.GET("/modules", modules.ListHandler(d.Registry))
	api.GET("/stream", changefeed.HandleStream(d.Store, d.Feed))
	api.GET("/geo/search", auth.RequireModule(logbook.ModuleID), logbook.SearchHandler(d.Geocoder))

	docs := api.Group("/docs")
	docs.GET("/*path", GetDocumentHandler(d.Store))
	checkers := map[string]docstore.Checker{
		diary.ModuleID:      diary.CheckDocument,
		university.ModuleID: university.CheckDocument,
		finance.ModuleID:    finance.CheckDocument,
		logbook.ModuleID:    logbook.CheckDocument,
	}
	docs.PUT("/*path", PutDocumentHandler(d.Store, checkers))
	docs.PATCH("/*path", PatchDocumentHandler(d.Store, checkers))
	docs.DELETE("/*path", DeleteDocumentHandler(d.Store))

	diarySvc := diary.NewService(d.Store)
	universitySvc := university.NewService(d.Store)
	financeSvc := finance.NewService(d.Store)
	logbookSvc := logbook.NewService(d.Store, d.Router, d.Geocoder)

	diary.RegisterRoutes(api.Group("/diary", auth.RequireModule(diary.ModuleID)), diarySvc)
	university.RegisterRoutes(api.Group("/university", auth.RequireModule(university.ModuleID)), universitySvc)
	finance.RegisterRoutes(api.Group("/finance", auth.RequireModule(finance.ModuleID)), financeSvc)
	logbook.RegisterRoutes(api.Group("/logbook", auth.RequireModule(logbook.ModuleID)), logbookSvc)

	transferSvc := transfer.NewService(d.Registry, d.Store, map[string]transfer.Module{
		diary.ModuleID:      diarySvc,
		university.ModuleID: universitySvc,
		finance.ModuleID:    financeSvc,
		logbook.ModuleID:    logbookSvc,
	}, d.Archiver)
	backups := api.Group("/modules/:id", auth.RequireModuleParam("id"))
	backups.GET("/export", transfer.ExportHandler(transferSvc))
	backups.POST("/import", transfer.ImportHandler(transferSvc))

	admin.RegisterRoutes(api.Group("/admin", auth.RequireAdmin()), admin.Deps{
		Accounts: d.Accounts,
		Store:    d.Store,
		Modules:  d.Registry,
		Mail:     d.Queue,
		Logger:   d.Logger,
	})

	return r
}
