package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/bsm/redislock"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/grocerygenie/grocery_backend/config"
	"github.com/grocerygenie/grocery_backend/matcher"
	"github.com/grocerygenie/grocery_backend/models"
	"github.com/grocerygenie/grocery_backend/utils"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
)

const defaultPort = "8080"

var tracer = otel.Tracer("receipt-matcher")

const (
	matchLockKey   = "receipt-matcher:run"
	lastRunKey     = "receipt-matcher:last-run"
	defaultAPIHrs  = 24
	defaultCronHrs = 1
)

// Define a struct to represent the rate limiter.
type RateLimiter struct {
	client *redis.Client
	limit  int64
	window time.Duration
}

type PubSubMessage struct {
	Message struct {
		Data []byte `json:"data,omitempty"`
		ID   string `json:"id"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// reconcileTask is the payload carried inside a Pub/Sub push message from the
// scheduler.
type reconcileTask struct {
	LookbackHours int    `json:"lookback_hours" validate:"omitempty,min=1,max=720"`
	TriggeredBy   string `json:"triggered_by"`
	CorrelationId string `json:"correlation_id"`
}

type matchRequest struct {
	LookbackHours int `json:"lookback_hours" binding:"omitempty,min=1,max=720"`
}

// runReport is what /status returns: the outcome of the most recent run.
type runReport struct {
	StartedAt     time.Time     `json:"started_at"`
	FinishedAt    time.Time     `json:"finished_at"`
	TriggeredBy   string        `json:"triggered_by"`
	LookbackHours int           `json:"lookback_hours"`
	Stats         matcher.Stats `json:"stats"`
	Error         string        `json:"error,omitempty"`
}

// matchRunner serializes reconciliation runs. One run at a time per process
// (local flag), one run at a time per deployment when Redis is configured
// (best-effort redislock; reliability must not depend on Redis, the row-level
// UPDATE conditions keep a duplicate run harmless).
type matchRunner struct {
	logger    *logrus.Logger
	threshold float64

	mu      sync.Mutex
	running bool
	lastRun *runReport
}

func (mr *matchRunner) tryAcquire() bool {
	mr.mu.Lock()
	defer mr.mu.Unlock()
	if mr.running {
		return false
	}
	mr.running = true
	return true
}

func (mr *matchRunner) release(report *runReport) {
	mr.mu.Lock()
	mr.running = false
	mr.lastRun = report
	mr.mu.Unlock()

	// Best-effort: share the report across instances via Redis.
	if err := config.SetRedisObject(lastRunKey, report, 0); err != nil {
		mr.logger.WithFields(logrus.Fields{
			"field": "matchRunner",
		}).Warn("failed to store last run report in redis: " + err.Error())
	}
}

func (mr *matchRunner) status() (bool, *runReport) {
	mr.mu.Lock()
	running, last := mr.running, mr.lastRun
	mr.mu.Unlock()

	if last == nil {
		// Another instance may have run; check Redis.
		var report runReport
		exists, err := config.GetRedisObject(lastRunKey, &report)
		switch {
		case err == nil && exists:
			last = &report
		case err != nil:
			// Corrupt report; drop it so the next run rewrites it cleanly.
			_ = config.RemoveRedisKey(lastRunKey)
		}
	}
	return running, last
}

// run executes one reconciliation and records the report. Callers must hold
// the local running flag via tryAcquire.
func (mr *matchRunner) run(ctx context.Context, lookback time.Duration, trigger string) *runReport {
	report := &runReport{
		StartedAt:     time.Now().UTC(),
		TriggeredBy:   trigger,
		LookbackHours: int(lookback.Hours()),
	}
	defer func() {
		report.FinishedAt = time.Now().UTC()
		mr.release(report)
	}()

	// Cross-instance lock is a best-effort optimization; proceed without it.
	var lock *redislock.Lock
	if redisLock := config.GetRedisLock(); redisLock != nil {
		var err error
		lock, err = redisLock.Obtain(ctx, matchLockKey, 10*time.Minute, nil)
		if err == redislock.ErrNotObtained {
			mr.logger.WithFields(logrus.Fields{
				"field":   "matchRunner",
				"trigger": trigger,
			}).Warn("another instance holds the run lock; skipping")
			report.Error = "another instance is already running"
			return report
		} else if err != nil {
			mr.logger.WithFields(logrus.Fields{
				"field":   "matchRunner",
				"trigger": trigger,
			}).Warn("error obtaining run lock; proceeding without it: " + err.Error())
			lock = nil
		}
	}
	defer func() {
		if lock == nil {
			return
		}
		if releaseErr := lock.Release(ctx); releaseErr != nil && !errors.Is(releaseErr, redislock.ErrLockNotHeld) {
			mr.logger.WithFields(logrus.Fields{
				"field": "matchRunner",
			}).Warn("failed to release run lock: " + releaseErr.Error())
		}
	}()

	orchestrator := matcher.NewOrchestrator(models.NewGroceryStore(config.GetDB()), mr.logger)
	orchestrator.Tracer = tracer
	if mr.threshold > 0 {
		orchestrator.Threshold = mr.threshold
	}
	stats, err := orchestrator.Run(ctx, lookback)
	if err != nil {
		config.LogError(mr.logger, "server.go", "matchRunner.run", trigger, lookback.String(), err)
		report.Error = err.Error()
		return report
	}
	report.Stats = stats
	return report
}

func healthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"service":   "receipt-matcher",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

func statusHandler(mr *matchRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		running, last := mr.status()
		resp := gin.H{"running": running}
		if last != nil {
			resp["last_run"] = last
		}
		c.JSON(http.StatusOK, resp)
	}
}

func matchHandler(mr *matchRunner, runCtx context.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Optional shared-token gate for public deployments. Scheduler pushes
		// authenticate at the infrastructure layer instead.
		if token := strings.TrimSpace(os.Getenv("MATCH_API_TOKEN")); token != "" {
			if c.GetHeader("token") != token {
				c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
				return
			}
		}

		var req matchRequest
		if c.Request.ContentLength > 0 {
			if err := c.ShouldBindJSON(&req); err != nil {
				c.JSON(http.StatusBadRequest, gin.H{
					"error":  "invalid request",
					"fields": utils.ProcessValidationErrors(err),
				})
				return
			}
		}
		lookbackHours := req.LookbackHours
		if lookbackHours <= 0 {
			lookbackHours = intFromEnv("MATCH_LOOKBACK_HOURS", defaultAPIHrs)
		}

		if !mr.tryAcquire() {
			c.JSON(http.StatusConflict, gin.H{"status": "already_running"})
			return
		}

		cid, _ := utils.GetCorrelationIdFromContext(c.Request.Context())
		// Detach from the request context: the run outlives the 202 response.
		go func() {
			ctx := utils.SetCorrelationIdInContext(runCtx, cid)
			mr.run(ctx, time.Duration(lookbackHours)*time.Hour, "api")
		}()

		c.JSON(http.StatusAccepted, gin.H{
			"status":         "started",
			"lookback_hours": lookbackHours,
			"correlation_id": cid,
		})
	}
}

// reconcilePubSubHandler handles scheduler pushes. Malformed messages are
// acked (204) to avoid infinite retries; a failed run returns 500 so Pub/Sub
// redelivers.
func reconcilePubSubHandler(mr *matchRunner) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := config.GetLogger()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			config.LogError(logger, "server.go", "reconcilePubSubHandler", "io.ReadAll", nil, err)
			c.Status(http.StatusNoContent)
			return
		}

		var msg PubSubMessage
		// byte slice unmarshalling handles base64 decoding.
		if err := utils.UnmarshalFromJSON(body, &msg); err != nil {
			config.LogError(logger, "server.go", "reconcilePubSubHandler", "Unmarshal body", body, err)
			c.Status(http.StatusNoContent)
			return
		}

		var task reconcileTask
		if len(msg.Message.Data) > 0 {
			if err := utils.UnmarshalFromJSON(msg.Message.Data, &task); err != nil {
				config.LogError(logger, "server.go", "reconcilePubSubHandler", "Unmarshal task", msg.Message.Data, err)
				c.Status(http.StatusNoContent)
				return
			}
		}
		if err := utils.ValidateStruct(task); err != nil {
			config.LogError(logger, "server.go", "reconcilePubSubHandler", "validate task", task, err)
			c.Status(http.StatusNoContent)
			return
		}

		// Correlation ID propagation: prefer payload correlation_id; fall back
		// to the Pub/Sub message ID.
		correlationID := task.CorrelationId
		if correlationID == "" {
			correlationID = msg.Message.ID
		}

		if !mr.tryAcquire() {
			// Busy: ack and let the next scheduled push catch up.
			logger.WithFields(logrus.Fields{
				"field":      "reconcilePubSubHandler",
				"message_id": msg.Message.ID,
			}).Warn("run already in progress; acking scheduled trigger")
			c.Status(http.StatusNoContent)
			return
		}

		lookbackHours := task.LookbackHours
		if lookbackHours <= 0 {
			lookbackHours = intFromEnv("MATCH_CRON_LOOKBACK_HOURS", defaultCronHrs)
		}
		trigger := task.TriggeredBy
		if trigger == "" {
			trigger = "scheduler"
		}

		ctx := utils.SetCorrelationIdInContext(c.Request.Context(), correlationID)
		report := mr.run(ctx, time.Duration(lookbackHours)*time.Hour, trigger)
		if report.Error != "" {
			// Non-2xx tells Pub/Sub to retry (and potentially route to DLQ).
			c.Status(http.StatusInternalServerError)
			return
		}

		// Success: ack.
		c.Status(http.StatusNoContent)
	}
}

// runInterval triggers a reconciliation every MATCH_INTERVAL_MINUTES for
// deployments without an external scheduler. Disabled when the env var is
// unset or zero.
func runInterval(ctx context.Context, mr *matchRunner, logger *logrus.Logger) {
	minutes := intFromEnv("MATCH_INTERVAL_MINUTES", 0)
	if minutes <= 0 {
		return
	}
	lookbackHours := intFromEnv("MATCH_CRON_LOOKBACK_HOURS", defaultCronHrs)

	config.LogInfo(logger, "server.go", "runInterval", "interval matching enabled", logrus.Fields{
		"interval_minutes": minutes,
		"lookback_hours":   lookbackHours,
	})

	ticker := time.NewTicker(time.Duration(minutes) * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !mr.tryAcquire() {
				continue
			}
			mr.run(ctx, time.Duration(lookbackHours)*time.Hour, "interval")
		}
	}
}

func intFromEnv(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return fallback
	}
	return n
}

func thresholdFromEnv() float64 {
	v := strings.TrimSpace(os.Getenv("MATCH_THRESHOLD"))
	if v == "" {
		return matcher.DefaultThreshold
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 || f > 1 {
		return matcher.DefaultThreshold
	}
	return f
}

func getRedisClient(redisAddress string) *redis.Client {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddress,
	})
	return client
}

func customNotFoundHandler(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
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

	// Shutdown coordination.
	// Cloud Run sends SIGTERM on revision shutdown; handle it for graceful drain.
	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	// Start the HTTP server ASAP so Cloud Run considers the revision healthy.
	// Until the DB is ready, we return 503 for app endpoints.
	r := gin.New()
	// Correlation IDs: generate once per request and attach to context.
	r.Use(func(c *gin.Context) {
		cid := c.GetHeader("x-correlation-id")
		if cid == "" {
			cid = uuid.NewString()
		}
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), cid))
		c.Next()
	})
	r.Use(func(c *gin.Context) {
		// Always allow Cloud Run startup probe.
		if c.Request.URL.Path == "/healthz" {
			c.Status(http.StatusNoContent)
			c.Abort()
			return
		}
		// Gate app endpoints on DB readiness. Redis is optional here.
		if config.GetDB() == nil {
			c.AbortWithStatus(http.StatusServiceUnavailable)
			return
		}
		c.Next()
	})

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	corsConfig := cors.DefaultConfig()
	// Production-safe CORS:
	// - In production, require explicit allowlist via CORS_ALLOWED_ORIGINS (comma-separated).
	// - In non-production, allow all (developer convenience).
	allowedOrigins := strings.TrimSpace(os.Getenv("CORS_ALLOWED_ORIGINS"))
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		if allowedOrigins == "" {
			// Safer default: deny all if not configured in production.
			corsConfig.AllowOrigins = []string{}
		} else {
			corsConfig.AllowOrigins = splitAndTrim(allowedOrigins)
		}
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AddAllowMethods("GET", "POST", "OPTIONS")
	corsConfig.AddAllowHeaders("Origin", "Content-Type", "Authorization", "x-correlation-id")
	corsConfig.AddExposeHeaders("Content-Length")
	corsConfig.AllowCredentials = true
	r.Use(cors.New(corsConfig))

	// Optional rate limiting (recommended for production).
	// Env:
	// - RATE_LIMIT_ENABLED=true
	// - RATE_LIMIT_WINDOW_SECONDS=60
	// - RATE_LIMIT_MAX_REQUESTS=600
	if strings.EqualFold(strings.TrimSpace(os.Getenv("RATE_LIMIT_ENABLED")), "true") {
		client := getRedisClient(os.Getenv("REDIS_ADDRESS"))
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
		rateLimiter := NewRateLimiter(client, limit, time.Duration(windowSec)*time.Second)
		r.Use(rateLimiter.RateLimitMiddleware)
	}

	r.Use(customErrorLogger(logger))
	r.Use(gin.Recovery())

	runner := &matchRunner{logger: logger, threshold: thresholdFromEnv()}

	r.GET("/health", healthHandler())
	r.GET("/status", statusHandler(runner))
	r.POST("/match", matchHandler(runner, sigCtx))
	// Scheduler push endpoint (Cloud Scheduler -> Pub/Sub -> here).
	r.POST("/tasks/reconcile", reconcilePubSubHandler(runner))
	r.NoRoute(customNotFoundHandler)

	// Start listening immediately (Cloud Run startup probe is TCP based).
	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		// ListenAndServe returns http.ErrServerClosed on graceful shutdown.
		serverErrCh <- srv.ListenAndServe()
	}()

	// Connect dependencies after the port is open.
	config.ConnectDatabaseWithRetry()
	// Redis is optional: only the cross-instance lock and shared /status
	// report depend on it.
	if strings.TrimSpace(os.Getenv("REDIS_ADDRESS")) != "" {
		config.ConnectRedisWithRetry()
	} else {
		logger.WithFields(logrus.Fields{"field": "redis"}).Warn("REDIS_ADDRESS not set; running without redis")
	}

	// Now DB is ready; run migrations.
	db := config.GetDB()
	sqlDB, _ := db.DB()
	defer func() {
		if sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	// IMPORTANT: AutoMigrate can run DDL that blocks tables and causes 504/502 timeouts.
	// Allow disabling migrations on startup (run them as a separate job instead).
	if !strings.EqualFold(strings.TrimSpace(os.Getenv("SKIP_MIGRATIONS")), "true") {
		models.MigrateTable()
	} else {
		logger.WithFields(logrus.Fields{"field": "migrations"}).Warn("SKIP_MIGRATIONS=true; skipping AutoMigrate on startup")
	}

	// Built-in interval trigger for deployments without Cloud Scheduler.
	intervalCtx, cancelInterval := context.WithCancel(context.Background())
	defer cancelInterval()
	go runInterval(intervalCtx, runner, logger)

	logger.WithFields(logrus.Fields{
		"info": "Connection Established",
	}).Info("receipt matcher listening on http://localhost:", port, "/")
	log.Println("Server started successfully")

	// Block until shutdown or server error.
	select {
	case <-sigCtx.Done():
		// graceful shutdown below
	case err := <-serverErrCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithFields(logrus.Fields{"field": "http"}).Error("server stopped unexpectedly: " + err.Error())
		}
	}

	// Stop background workers first so they don't start new work while we're draining.
	cancelInterval()

	// Drain HTTP requests.
	shutdownTimeout := 30 * time.Second
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithFields(logrus.Fields{"field": "http"}).Error("graceful shutdown failed: " + err.Error())
	}

	// Close Redis (best-effort).
	if rdb := config.GetRedisDB(); rdb != nil {
		_ = rdb.Close()
	}
}

// customErrorLogger is a custom Gin middleware that logs only errors
func customErrorLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		// Only log when there are errors
		if len(c.Errors) > 0 {
			logger.Error(c.Errors.String())
		}
	}
}

// Initialize a new RateLimiter instance.
func NewRateLimiter(client *redis.Client, limit int64, window time.Duration) *RateLimiter {
	return &RateLimiter{
		client: client,
		limit:  limit,
		window: window,
	}
}

// Middleware function to check rate limits.
func (rl *RateLimiter) RateLimitMiddleware(c *gin.Context) {
	// Get the IP address or user identifier from the request.
	key := c.ClientIP() // Assuming IP-based rate limiting

	// Check if the key exists in Redis.
	exists, err := rl.client.Exists(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the key doesn't exist, create it and set expiry.
	if exists == 0 {
		err := rl.client.Set(c.Request.Context(), key, 1, rl.window).Err()
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		c.Next()
		return
	}

	// If the key exists, get the current count.
	count, err := rl.client.Incr(c.Request.Context(), key).Result()
	if err != nil {
		c.AbortWithError(http.StatusInternalServerError, err)
		return
	}

	// If the count exceeds the limit, return an error response.
	if count > rl.limit {
		c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
			"error": fmt.Sprintf("Rate limit exceeded. Try again in %d seconds", int(rl.window.Seconds())),
		})
		return
	}

	c.Next()
}

func splitAndTrim(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
