package handler

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"workspace-agent-backend/pkg/approval"
	"workspace-agent-backend/pkg/billing"
	"workspace-agent-backend/pkg/cache"
	"workspace-agent-backend/pkg/config"
	"workspace-agent-backend/pkg/database"
	"workspace-agent-backend/pkg/github"
	"workspace-agent-backend/pkg/handlers"
	customMiddleware "workspace-agent-backend/pkg/middleware"
	"workspace-agent-backend/pkg/oauth"
	"workspace-agent-backend/pkg/orchestrator"
	"workspace-agent-backend/pkg/rbac"
	"workspace-agent-backend/pkg/report"
	"workspace-agent-backend/pkg/security"
	"workspace-agent-backend/pkg/utils"
	"workspace-agent-backend/pkg/workspace"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

var (
	routerOnce sync.Once
	router     *chi.Mux
	routerErr  error
)

// Handler 是serverless函数的入口点
// 单体路由模式：所有API端点集中在一个Chi路由器中管理
func Handler(w http.ResponseWriter, r *http.Request) {
	routerOnce.Do(func() {
		cfg := config.GetCached()
		if err := cfg.Validate(); err != nil {
			routerErr = err
			return
		}
		db, err := database.NewDatabase(database.DatabaseConfig{
			UseLocal:    cfg.UseLocalDB,
			PostgresDSN: cfg.PostgresDSN,
		})
		if err != nil {
			routerErr = err
			return
		}
		router = NewRouter(cfg, db)
	})
	if routerErr != nil {
		utils.WriteInternalServerErrorResponse(w, "Configuration error: "+routerErr.Error())
		return
	}
	router.ServeHTTP(w, r)
}

// NewRouter 构建完整路由器，装配所有服务与处理器
func NewRouter(cfg *config.Config, db database.DatabaseInterface) *chi.Mux {
	r := chi.NewRouter()
	setupMiddleware(r, cfg)
	setupRoutes(r, cfg, db)
	return r
}

// setupMiddleware 设置全局中间件
func setupMiddleware(router *chi.Mux, cfg *config.Config) {
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	// Normalize path and restore scheme/host before logging and routing
	router.Use(customMiddleware.Normalize())
	router.Use(customMiddleware.Logger(cfg))
	router.Use(customMiddleware.Recovery(cfg))

	router.Use(customMiddleware.CORS(cfg))

	router.Use(middleware.Timeout(25 * time.Second))
	router.Use(middleware.Compress(5))
	router.Use(customMiddleware.MaxBodySize(2 << 20))

	if cfg.IsDevelopment() {
		router.Use(middleware.Heartbeat("/ping"))
	}
}

// setupRoutes 装配服务层并注册所有API路由
func setupRoutes(router *chi.Mux, cfg *config.Config, db database.DatabaseInterface) {
	// 服务装配
	signer := security.NewTokenSigner(cfg.AppSecret)
	auth := rbac.NewAuthorizer(db)
	google := oauth.NewGoogleManager(cfg, db, signer)
	wsSvc := workspace.NewService(db, auth, google)
	gate := approval.NewGate(db)
	ghSvc := github.NewService(cfg, db, auth, signer)
	reportSvc := report.NewService(db, auth)
	billingSvc := billing.NewService(db)
	engine := orchestrator.NewEngine(auth, reportSvc, db, wsSvc, db, billingSvc)
	eventsCache := cache.NewEventsCache(cfg.RedisAddr)

	// 处理器
	healthHandler := handlers.NewHealthHandler(cfg, db)
	wsHandler := handlers.NewWorkspaceHandler(wsSvc)
	oauthHandler := handlers.NewOAuthHandler(google)
	approvalsHandler := handlers.NewApprovalsHandler(gate, auth)
	ghHandler := handlers.NewGithubHandler(ghSvc, db, auth, eventsCache)
	agentHandler := handlers.NewAgentHandler(engine, gate, auth, db)
	billingHandler := handlers.NewBillingHandler(billingSvc, gate, auth)
	reportsHandler := handlers.NewReportsHandler(reportSvc, db, auth)
	docsHandler := handlers.NewDocsHandler(db, auth)
	chatHandler := handlers.NewChatHandler(db, auth)

	// 健康检查
	router.Get("/", healthHandler.Health)
	router.Get("/healthz", healthHandler.Health)

	router.Route("/api", func(r chi.Router) {
		// 工作区与成员
		r.Route("/workspaces", func(r chi.Router) {
			r.Get("/", wsHandler.List)
			r.With(customMiddleware.ContentTypeJSON).Post("/", wsHandler.Create)

			r.Route("/{workspaceID}", func(r chi.Router) {
				r.Get("/", wsHandler.Get)
				r.Get("/permissions", wsHandler.Permissions)
				r.With(customMiddleware.ContentTypeJSON).Post("/execute", wsHandler.Execute)

				r.Route("/members", func(r chi.Router) {
					r.Get("/", wsHandler.Members)
					r.With(customMiddleware.ContentTypeJSON).Post("/", wsHandler.AddMember)
					r.With(customMiddleware.ContentTypeJSON).Put("/{email}", wsHandler.UpdateMemberRole)
					r.Delete("/{email}", wsHandler.RemoveMember)
				})

				r.Get("/approvals", approvalsHandler.List)

				// agent编排
				r.Route("/agent", func(r chi.Router) {
					r.With(customMiddleware.ContentTypeJSON).Post("/execute", agentHandler.Execute)
					r.With(customMiddleware.ContentTypeJSON).Post("/execute/stream", agentHandler.Stream)
					r.Get("/logs", agentHandler.Logs)
				})

				// GitHub集成
				r.Route("/github", func(r chi.Router) {
					r.Get("/install-url", ghHandler.InstallURL)
					r.Get("/installations", ghHandler.Installations)
					r.Get("/installations/{installationID}/repos", ghHandler.InstallationRepos)
					r.Get("/repos", ghHandler.LinkedRepos)
					r.With(customMiddleware.ContentTypeJSON).Post("/repos", ghHandler.LinkRepo)
					r.Get("/events", ghHandler.Events)
				})

				// 报告
				r.Route("/reports", func(r chi.Router) {
					r.Get("/", reportsHandler.List)
					r.With(customMiddleware.ContentTypeJSON).Post("/", reportsHandler.Generate)
				})

				// 发票
				r.Route("/billing/invoices", func(r chi.Router) {
					r.Get("/", billingHandler.List)
					r.With(customMiddleware.ContentTypeJSON).Post("/", billingHandler.Create)
					r.Get("/{invoiceID}", billingHandler.Get)
					r.With(customMiddleware.ContentTypeJSON).Post("/{invoiceID}/issue", billingHandler.Issue)
				})

				// 文档与聊天
				r.Route("/docs", func(r chi.Router) {
					r.Get("/", docsHandler.List)
					r.Get("/search", docsHandler.Search)
					r.With(customMiddleware.ContentTypeJSON).Post("/", docsHandler.Create)
				})
				r.Route("/chat/channels", func(r chi.Router) {
					r.Get("/", chatHandler.ListChannels)
					r.With(customMiddleware.ContentTypeJSON).Post("/", chatHandler.CreateChannel)
				})
			})
		})

		// 跨工作区资源（ID全局唯一）
		r.Route("/approvals/{approvalID}", func(r chi.Router) {
			r.Get("/", approvalsHandler.Get)
			r.With(customMiddleware.ContentTypeJSON).Post("/decide", approvalsHandler.Decide)
		})
		r.Route("/docs/{docID}", func(r chi.Router) {
			r.Get("/", docsHandler.Get)
			r.With(customMiddleware.ContentTypeJSON).Put("/", docsHandler.Update)
			r.Delete("/", docsHandler.Delete)
		})
		r.Route("/chat/channels/{channelID}/messages", func(r chi.Router) {
			r.Get("/", chatHandler.ListMessages)
			r.With(customMiddleware.ContentTypeJSON).Post("/", chatHandler.PostMessage)
		})
		r.Route("/agent", func(r chi.Router) {
			r.Get("/runtime", agentHandler.Runtime)
			r.Get("/logs/{logID}", agentHandler.GetLog)
		})

		// OAuth路由（connect/callback公开，Google重定向回来不带自定义头）
		r.Route("/oauth/google", func(r chi.Router) {
			r.Get("/connect", oauthHandler.Connect)
			r.Get("/callback", oauthHandler.Callback)
			r.Get("/status", oauthHandler.Status)
			r.With(customMiddleware.ContentTypeJSON).Post("/disconnect", oauthHandler.Disconnect)
		})

		// Webhook路由（签名校验在处理器内完成）
		r.Route("/github", func(r chi.Router) {
			r.Get("/callback", ghHandler.Callback)
			r.Post("/webhook", ghHandler.Webhook)
		})
	})

	// 404处理
	router.NotFound(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteNotFoundResponse(w, fmt.Sprintf("Route not found: %s %s", r.Method, r.URL.Path))
	})

	// 405处理
	router.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		utils.WriteErrorResponseWithCode(w, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED",
			fmt.Sprintf("Method %s not allowed for %s", r.Method, r.URL.Path), "")
	})
}
