package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/newtechdevloper/FitStack-sub000/internal/auth"
	"github.com/newtechdevloper/FitStack-sub000/internal/booking"
	"github.com/newtechdevloper/FitStack-sub000/internal/config"
	"github.com/newtechdevloper/FitStack-sub000/internal/schedule"
	"github.com/newtechdevloper/FitStack-sub000/internal/snapshot"
	"github.com/newtechdevloper/FitStack-sub000/internal/subscription"
	"github.com/newtechdevloper/FitStack-sub000/internal/tenant"
	"github.com/newtechdevloper/FitStack-sub000/internal/usage"
	"github.com/newtechdevloper/FitStack-sub000/internal/user"
	"github.com/newtechdevloper/FitStack-sub000/internal/wallet"
	"github.com/newtechdevloper/FitStack-sub000/internal/webhook"
)

// Services is everything the router dispatches to.
type Services struct {
	DB            Pinger
	Users         user.Service
	Schedule      schedule.Service
	Bookings      booking.Service
	Wallet        wallet.Service
	Subscriptions subscription.Service
	Tenants       tenant.Service
	Webhooks      webhook.Processor
	Usage         usage.Service
	Snapshots     snapshot.Service
	Resumer       Resumer
	Outbox        OutboxDispatcher
}

type Server struct {
	router  *gin.Engine
	http    *http.Server
	limiter *RateLimiter
}

func New(cfg *config.Config, svc Services) *Server {
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestIDMiddleware(), RequestLoggingMiddleware(), MetricsMiddleware(), corsMiddleware())

	// Shared by the webhook and cron groups only.
	limiter := NewRateLimiter(20, 40, 3*time.Minute)

	userHandler := user.NewHandler(svc.Users)
	scheduleHandler := schedule.NewHandler(svc.Schedule)
	bookingHandler := booking.NewHandler(svc.Bookings)
	walletHandler := wallet.NewHandler(svc.Wallet)
	subscriptionHandler := subscription.NewHandler(svc.Subscriptions)
	tenantHandler := tenant.NewHandler(svc.Tenants)
	webhookHandler := webhook.NewHandler(svc.Webhooks)
	usageHandler := usage.NewHandler(svc.Usage)
	snapshotHandler := snapshot.NewHandler(svc.Snapshots)

	router.GET("/health", Health(svc.DB))
	router.GET("/metrics", Metrics())

	hooks := router.Group("/webhooks")
	hooks.Use(RateLimitMiddleware(limiter))
	{
		hooks.POST("/stripe", webhookHandler.Receive(tenant.ProviderStripe))
		hooks.POST("/razorpay", webhookHandler.Receive(tenant.ProviderRazorpay))
	}

	cron := router.Group("/cron")
	cron.Use(RateLimitMiddleware(limiter), auth.CronAuth(cfg.CronSecret))
	{
		cron.POST("/usage-sync", usageHandler.Sync)
		cron.POST("/financial-snapshots", snapshotHandler.Regenerate)
		cron.POST("/outbox-dispatch", DispatchOutbox(svc.Outbox))
		cron.POST("/resume-due", ResumeDue(svc.Resumer))
	}

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)

	router.GET("/me", authMiddleware, userHandler.GetMe)

	member := router.Group("/")
	member.Use(authMiddleware, auth.RequireTenant())
	{
		member.GET("/classes", scheduleHandler.ListClasses)
		member.GET("/classes/:classID/sessions", scheduleHandler.ListSessions)

		member.POST("/sessions/:sessionID/book", bookingHandler.Book)
		member.POST("/sessions/:sessionID/waitlist", bookingHandler.JoinWaitlist)
		member.POST("/bookings/:bookingID/cancel", bookingHandler.Cancel)
		member.GET("/bookings", bookingHandler.ListMine)

		member.GET("/wallet", walletHandler.GetBalance)
		member.GET("/wallet/transactions", walletHandler.ListTransactions)

		member.GET("/plans", subscriptionHandler.ListPlans)
		member.GET("/subscriptions", subscriptionHandler.ListMine)
		member.POST("/subscriptions", subscriptionHandler.Subscribe)
		member.POST("/subscriptions/:subscriptionID/pause", subscriptionHandler.Pause)
		member.POST("/subscriptions/:subscriptionID/resume", subscriptionHandler.Resume)
		member.POST("/subscriptions/:subscriptionID/cancel", subscriptionHandler.Cancel)
		member.POST("/subscriptions/:subscriptionID/change-plan", subscriptionHandler.ChangePlan)

		member.POST("/usage", usageHandler.Track)
	}

	staff := router.Group("/staff")
	staff.Use(authMiddleware, auth.RequireTenant(), auth.RequireRole(auth.RoleOwner, auth.RoleStaff))
	{
		staff.POST("/classes", scheduleHandler.CreateClass)
		staff.POST("/classes/:classID/sessions", scheduleHandler.CreateSession)
		staff.GET("/sessions/:sessionID/bookings", bookingHandler.ListForSession)
		staff.POST("/sessions/:sessionID/process-waitlist", bookingHandler.ProcessWaitlist)
		staff.POST("/wallets/:userID/credit", walletHandler.CreditMember)
		staff.POST("/plans", subscriptionHandler.CreatePlan)
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware, auth.RequireRole(auth.RoleSuperAdmin))
	{
		admin.POST("/tenants", tenantHandler.Register)
		admin.GET("/tenants/:tenantID", tenantHandler.Get)
		admin.GET("/tenant-slugs/:slug", tenantHandler.GetBySlug)
		admin.PUT("/tenants/:tenantID/status", tenantHandler.OverrideStatus)
		admin.PUT("/tenants/:tenantID/features", tenantHandler.SetFeatureOverrides)
		admin.PUT("/tenants/:tenantID/domain", tenantHandler.SetCustomDomain)
		admin.POST("/tenants/:tenantID/domain/verify", tenantHandler.VerifyDomain)
		admin.GET("/tenants/:tenantID/snapshots", snapshotHandler.List)
		admin.PUT("/plans/:key", tenantHandler.UpsertPlan)
	}

	return &Server{
		router:  router,
		limiter: limiter,
		http: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       2 * time.Minute,
		},
	}
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start serves until Shutdown. The returned error is http.ErrServerClosed
// after a clean shutdown.
func (s *Server) Start(ctx context.Context) error {
	go s.limiter.Run(ctx)
	return s.http.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}
