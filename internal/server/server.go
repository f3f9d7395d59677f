package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tawsellah/driverportal-sub000/internal/auth"
	"github.com/tawsellah/driverportal-sub000/internal/chargecode"
	"github.com/tawsellah/driverportal-sub000/internal/config"
	"github.com/tawsellah/driverportal-sub000/internal/email"
	"github.com/tawsellah/driverportal-sub000/internal/user"
	"github.com/tawsellah/driverportal-sub000/internal/wallet"
)

// Services are the domain services the router exposes. Email and Ready may
// be nil.
type Services struct {
	Users   user.Service
	Codes   chargecode.Service
	Wallets wallet.Service
	Email   *email.Service
	Ready   func(ctx context.Context) error
}

const (
	authRateRPS   = 5
	authRateBurst = 10
)

type Server struct {
	router *gin.Engine
	srv    *http.Server
}

func New(cfg *config.Config, svc Services) *Server {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())
	router.Use(RequestLoggingMiddleware())
	router.Use(MetricsMiddleware())

	userHandler := user.NewHandler(svc.Users)
	codeHandler := chargecode.NewHandler(svc.Codes)
	walletHandler := wallet.NewHandler(svc.Wallets)

	router.GET("/health", Health(svc.Ready))
	router.GET("/metrics", Metrics())
	SetupSwagger(router)

	public := router.Group("/auth")
	public.Use(RateLimitMiddleware(authRateRPS, authRateBurst))
	{
		public.POST("/register", userHandler.Register)
		public.POST("/login", userHandler.Login)
		public.POST("/refresh", userHandler.RefreshToken)
	}

	authMiddleware := auth.AuthMiddleware(cfg.JWTSecret)
	chargeLimit := NewRateLimiter(cfg.RedeemRateRPS, cfg.RedeemRateBurst, 3*time.Minute)

	protected := router.Group("/")
	protected.Use(authMiddleware)
	{
		protected.GET("/me", userHandler.GetMe)
		protected.GET("/wallet", walletHandler.GetBalance)
		protected.GET("/wallet/transactions", walletHandler.ListTransactions)
		protected.GET("/wallet/summary", walletHandler.GetSummary)
		protected.POST("/wallet/charge", chargeLimit.Middleware(throttledCharge), codeHandler.ChargeWallet)
	}

	admin := router.Group("/admin")
	admin.Use(authMiddleware, auth.RequireRole(user.RoleAdmin))
	{
		admin.POST("/charge-codes", codeHandler.GenerateCodes)
		admin.GET("/charge-codes", codeHandler.ListCodes)
		admin.GET("/charge-codes/:code", codeHandler.GetCode)
		admin.POST("/users/:userID/wallet/transactions", walletHandler.PostTransaction)
		admin.GET("/users/:userID/wallet/reconcile", walletHandler.Reconcile)
		if svc.Email != nil {
			admin.POST("/test-email", TestEmail(svc.Email))
		}
	}

	return &Server{
		router: router,
		srv: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}
}

func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) Start() error {
	return s.srv.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

// throttledCharge keeps the redemption response shape for rate-limited calls.
func throttledCharge(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusTooManyRequests, chargecode.Result{
		Success: false,
		Message: chargecode.MsgThrottled,
	})
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
