package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/daybook/daybook/backend/go-services/handlers"
	"github.com/daybook/daybook/backend/go-services/internal/calendar"
	"github.com/daybook/daybook/backend/go-services/internal/calendartokens"
	"github.com/daybook/daybook/backend/go-services/internal/config"
	"github.com/daybook/daybook/backend/go-services/internal/database"
	"github.com/daybook/daybook/backend/go-services/internal/oauth"
	"github.com/daybook/daybook/backend/go-services/internal/oidc"
	"github.com/daybook/daybook/backend/go-services/internal/sessions"
	"github.com/daybook/daybook/backend/go-services/internal/users"
	"github.com/daybook/daybook/backend/go-services/pkg/logger"
	"github.com/daybook/daybook/backend/go-services/pkg/metrics"
	"github.com/daybook/daybook/backend/go-services/pkg/middleware"
)

var startTime = time.Now()

func main() {
	// logging is controlled with LOG_LEVEL (debug|info|warn|error|fatal)
	logger.Init(os.Getenv("LOG_LEVEL"))
	logger.Debugf("startup: LOG_LEVEL=%s", logger.LevelString())

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatalf("failed to load config: %v", err)
	}
	logger.Infof("config loaded: google=%v mongo=%v redis=%v", cfg.Google.ClientID != "", cfg.MongoDB.URI != "", cfg.Redis.Host != "")

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// Lightweight CORS middleware for dev/test: set common headers and respond to OPTIONS.
	// (Keep this intentionally simple — production should use a stricter policy.)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", cfg.Server.FrontendURL)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(200)
			return
		}
		c.Next()
	})

	ctx := context.Background()

	// Connect to Redis early so the rate-limiter and session store can use it
	var redisClient *redis.Client
	if cfg.Redis.Host != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Host + ":" + cfg.Redis.Port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			logger.Warnf("failed to connect to Redis (%s:%s): %v", cfg.Redis.Host, cfg.Redis.Port, err)
			redisClient = nil
		} else {
			logger.Infof("connected to Redis at %s:%s", cfg.Redis.Host, cfg.Redis.Port)
		}
	}

	// Optional global rate limiter (per-user when authenticated, otherwise per-IP)
	if cfg.RateLimit.Enabled {
		if cfg.RateLimit.UseRedis && redisClient != nil {
			win := time.Duration(cfg.RateLimit.WindowSeconds) * time.Second
			r.Use(middleware.RedisRateLimitMiddleware(redisClient, cfg.RateLimit.RPS, cfg.RateLimit.Burst, win))
		} else {
			r.Use(middleware.RateLimitMiddleware(cfg.RateLimit.RPS, cfg.RateLimit.Burst))
		}
	}

	// shared runtime services used by handlers/readiness
	var userSvc *users.Service
	var sessionsSvc *sessions.Service
	var tokenStore calendartokens.Store

	// Prefer Redis-backed sessions (fast, TTL handled by the store itself)
	if redisClient != nil {
		sessionsSvc = sessions.NewService(sessions.NewRedisRepository(redisClient, "session:"))
		logger.Infof("using Redis for session storage")
	}

	// MongoDB-backed services (users + calendar tokens, sessions as fallback).
	// Retry/backoff tolerates startup races against the database container.
	var mongoClient *mongo.Client
	if cfg.MongoDB.URI != "" {
		const maxAttempts = 5
		backoff := time.Second
		var errConn error
		for attempt := 1; attempt <= maxAttempts; attempt++ {
			mongoClient, errConn = database.ConnectMongo(ctx, cfg.MongoDB.URI, cfg.MongoDB.Timeout)
			if errConn == nil {
				break
			}
			logger.Warnf("attempt %d/%d: failed to connect to MongoDB: %v", attempt, maxAttempts, errConn)
			if attempt < maxAttempts {
				time.Sleep(backoff)
				backoff *= 2
			}
		}
		if errConn != nil {
			logger.Warnf("could not connect to MongoDB after %d attempts: %v", maxAttempts, errConn)
			mongoClient = nil
		} else {
			defer func() { _ = mongoClient.Disconnect(ctx) }()
			db := mongoClient.Database(cfg.MongoDB.Database)
			if err := database.EnsureIndexes(ctx, db); err != nil {
				logger.Warnf("failed to ensure indexes: %v", err)
			}

			userSvc = users.NewService(users.NewMongoUserRepository(db.Collection("users")))
			tokenStore = calendartokens.NewMongoStore(db.Collection("calendar_tokens"))

			if sessionsSvc == nil {
				sessionsSvc = sessions.NewService(sessions.NewMongoRepository(db.Collection("sessions")))
				logger.Infof("using MongoDB for session storage")
			}
		}
	}

	// OIDC verifier for the id_token returned alongside the calendar grant.
	// Optional: without it the connected account email is simply not captured.
	var claimsVerifier oidc.ClaimsVerifier
	if cfg.Google.ClientID != "" {
		issuer := cfg.Google.IssuerURL
		if issuer == "" {
			issuer = "https://accounts.google.com"
		}
		ver, err := oidc.NewVerifier(ctx, issuer, cfg.Google.ClientID)
		if err != nil {
			logger.Warnf("failed to initialize OIDC verifier: %v", err)
		} else {
			claimsVerifier = ver
		}
	}
	if claimsVerifier == nil {
		val := strings.ToLower(strings.TrimSpace(os.Getenv("ALLOW_INSECURE_TOKEN")))
		if val == "true" {
			logger.Warn("enabling insecure id_token verifier (integration mode)")
			claimsVerifier = oidc.NewInsecureVerifier()
		}
	}

	// OAuth connector + token lifecycle manager
	var connector *oauth.Connector
	var manager *calendartokens.Manager
	if redisClient != nil {
		states := oauth.NewRedisStateStore(redisClient, "oauthstate:")
		connector = oauth.NewConnector(cfg.Google, cfg.Auth, states, claimsVerifier)
	} else {
		logger.Warnf("calendar connector disabled: Redis is required for the OAuth state store")
	}
	if tokenStore == nil {
		// dev fallback: tokens survive only for the process lifetime
		logger.Warnf("MongoDB unavailable, keeping calendar tokens in memory")
		tokenStore = calendartokens.NewMemoryStore()
	}
	if connector != nil {
		manager = calendartokens.NewManager(tokenStore, connector.Refresh)
	}

	// Basic health endpoint
	r.GET("/health", func(c *gin.Context) {
		c.String(http.StatusOK, "healthy")
	})

	// readiness endpoint — return 200 only when critical dependencies are available
	r.GET("/ready", func(c *gin.Context) {
		ready := true
		deps := map[string]bool{}

		deps["sessions"] = sessionsSvc != nil
		deps["users"] = userSvc != nil
		if sessionsSvc == nil || userSvc == nil {
			ready = false
		}

		// calendar connector is optional; report it without failing readiness
		deps["calendar"] = connector != nil && connector.Configured()

		if cfg.Redis.Host != "" {
			deps["redis"] = redisClient != nil
			if !deps["redis"] {
				ready = false
			}
		}

		status := http.StatusOK
		state := "ready"
		if !ready {
			status = http.StatusServiceUnavailable
			state = "not_ready"
		}
		c.JSON(status, gin.H{"status": state, "deps": deps, "uptime": time.Since(startTime).String()})
	})

	// Register handlers where their services are available
	if userSvc != nil && sessionsSvc != nil {
		handlers.NewAuthHandler(cfg, userSvc, sessionsSvc).Register(r.Group("/"))
		handlers.NewAdminHandler(userSvc, sessionsSvc).Register(r.Group("/"))
	} else {
		logger.Warnf("auth handlers not registered because user/sessions services are unavailable")
	}
	if manager != nil && sessionsSvc != nil {
		events := calendar.NewService()
		handlers.NewCalendarHandler(cfg, connector, manager, events, sessionsSvc).Register(r.Group("/"))
	} else {
		logger.Warnf("calendar handlers not registered because connector/sessions are unavailable")
	}
	handlers.RegisterSwagger(r)

	// Expose Prometheus metrics
	metrics.RegisterCollectors(prometheus.DefaultRegisterer)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.Debugf("services: user=%v sessions=%v connector=%v", userSvc != nil, sessionsSvc != nil, connector != nil)
	logger.Infof("starting daybook auth service on %s", addr)
	if err := r.Run(addr); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}
