package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/pulsaku/voucher_backend/config"
	"github.com/pulsaku/voucher_backend/middlewares"
	"github.com/pulsaku/voucher_backend/models"
	"github.com/pulsaku/voucher_backend/utils"
	"github.com/pulsaku/voucher_backend/workflow"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultPort = "8080"

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

type routeDeps struct {
	allocator voucherAllocator
	payments  paymentProcessor
}

// storePaymentProcessor resolves the DB per message; the router is built before the DB is connected.
type storePaymentProcessor struct{}

func (storePaymentProcessor) Process(ctx context.Context, messageId string, n workflow.PaymentNotification) error {
	return workflow.NewPaymentProcessor(config.GetDB(), config.GetLogger()).Process(ctx, messageId, n)
}

func getRedisClient(redisAddress string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     redisAddress,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
}

// correlationMiddleware attaches x-correlation-id (or a fresh one) to the request context.
func correlationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Header("x-correlation-id", cid)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	}
}

// readinessGate answers 503 until DB and Redis are connected. Probes and metrics always pass.
func readinessGate(ready func() bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		switch c.Request.URL.Path {
		case "/healthz":
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		case "/metrics":
			c.Next()
			return
		}
		if !ready() {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	}
}

func dependenciesReady() bool {
	return config.GetDB() != nil && config.GetRedisDB() != nil
}

func corsConfig() cors.Config {
	corsConfig := cors.DefaultConfig()
	// In production, require an explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = utils.SplitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "PUT", "DELETE", "OPTIONS")
	corsConfig.AddAllowHeaders("token", "Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length", "x-correlation-id")
	corsConfig.AllowCredentials = true
	return corsConfig
}

// rateLimiterFromEnv returns nil unless RATE_LIMIT_ENABLED=true.
//   - RATE_LIMIT_WINDOW_SECONDS=60
//   - RATE_LIMIT_MAX_REQUESTS=600
func rateLimiterFromEnv() *RateLimiter {
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		return nil
	}
	redisAddr := os.Getenv("REDIS_ADDRESS")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	limit := int64(600)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_MAX_REQUESTS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			limit = n
		}
	}
	windowSec := int64(60)
	if v := strings.TrimSpace(os.Getenv("RATE_LIMIT_WINDOW_SECONDS")); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			windowSec = n
		}
	}
	return NewRateLimiter(getRedisClient(redisAddr), limit, time.Duration(windowSec)*time.Second)
}

func registerRoutes(r *gin.Engine, deps routeDeps) {
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	auth := r.Group("/auth")
	auth.POST("/login", loginHandler())
	auth.POST("/logout", middlewares.RequireUser(), logoutHandler())

	admin := r.Group("/admin", middlewares.RequireUser())
	admin.GET("/vouchers", listVouchersHandler())
	admin.POST("/vouchers", createVoucherHandler())
	admin.POST("/vouchers/bulk", bulkCreateVouchersHandler())
	admin.POST("/vouchers/import", importVouchersHandler())
	admin.GET("/vouchers/:id", getVoucherHandler())
	admin.GET("/vouchers/:id/history", voucherHistoryHandler())
	admin.PUT("/vouchers/:id", updateVoucherCodeHandler())
	admin.PUT("/vouchers/:id/status", middlewares.RequireAdmin(), setVoucherStatusHandler())
	admin.DELETE("/vouchers/:id", middlewares.RequireAdmin(), deleteVoucherHandler())
	admin.GET("/products/:id/stock", productStockHandler())
	admin.GET("/stock", stockOverviewHandler())
	// Ops tooling: requeue voucher events that were marked DEAD/FAILED.
	admin.POST("/ops/voucher-events/replay", middlewares.RequireAdmin(), voucherEventReplayHandler())

	internal := r.Group("/internal/vouchers", middlewares.InternalKeyMiddleware())
	internal.POST("/reserve", reserveVoucherHandler(deps.allocator))
	internal.POST("/claim", claimVoucherHandler(deps.allocator))
	internal.POST("/confirm", confirmVoucherHandler(deps.allocator))
	internal.POST("/release", releaseVoucherHandler(deps.allocator))

	r.POST("/pubsub/payments", paymentPubSubHandler(deps.payments))
	r.NoRoute(customNotFoundHandler)
}

func newRouter(logger *logrus.Logger, deps routeDeps) *gin.Engine {
	r := gin.New()
	r.Use(correlationMiddleware())
	r.Use(readinessGate(dependenciesReady))
	r.Use(cors.New(corsConfig()))
	if rl := rateLimiterFromEnv(); rl != nil {
		r.Use(rl.RateLimitMiddleware)
	}
	r.Use(middlewares.SessionMiddleware())
	r.Use(middlewares.AuthMiddleware())
	r.Use(middlewares.LoaderMiddleware())
	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())
	registerRoutes(r, deps)
	return r
}

// runWorkers starts the background loops and blocks until ctx is cancelled or one fails.
func runWorkers(ctx context.Context, logger *logrus.Logger) error {
	g, ctx := errgroup.WithContext(ctx)

	if config.VoucherEventsTopic() == "" {
		logger.WithFields(logrus.Fields{"field": "outbox"}).Warn("VOUCHER_EVENTS_TOPIC not set; voucher events stay queued")
	} else {
		dispatcher := workflow.NewOutboxDispatcher(config.GetDB(), logger)
		g.Go(func() error { return dispatcher.Run(ctx) })
	}

	if config.SweeperEnabled() {
		sweeper := workflow.NewReservationSweeper(logger)
		g.Go(func() error { return sweeper.Run(ctx) })
	} else {
		logger.WithFields(logrus.Fields{"field": "sweeper"}).Info("VOUCHER_SWEEPER_ENABLED=false; reservation expiry runs elsewhere")
	}

	return g.Wait()
}

func main() {
	port := os.Getenv("API_PORT")
	if port == "" {
		// Cloud Run standard env var.
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()

	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	r := newRouter(logger, routeDeps{
		allocator: newStoreVoucherAllocator(),
		payments:  storePaymentProcessor{},
	})

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	config.ConnectRedisWithRetry()

	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// AutoMigrate can run DDL that blocks tables; allow running it as a separate job instead.
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()
	workersDone := make(chan error, 1)
	go func() {
		workersDone <- runWorkers(workerCtx, logger)
	}()

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("voucher backend listening on :", port)
	log.Println("Server started successfully")

	select {
	case <-sigCtx.Done():
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelWorkers()
	if err := <-workersDone; err != nil {
		logger.WithFields(logrus.Fields{"field": "workers"}).Error("background worker failed: " + err.Error())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// RateLimitMiddleware counts requests per client IP in a fixed window.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	key := "ratelimit:" + c.ClientIP()
	ctx := c.Request.Context()

	count, err := rl.client.Incr(ctx, key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}
	// The first hit opens the window.
	if count == 1 {
		if err := rl.client.Expire(ctx, key, rl.window).Err(); err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
	}

	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}
