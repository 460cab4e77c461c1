// Package router provides HTTP routing, middleware configuration, and server setup for the web application
package router

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/amirphl/Kakehashi/app/dto"
	"github.com/amirphl/Kakehashi/app/handlers"
	"github.com/amirphl/Kakehashi/app/middleware"
	businessflow "github.com/amirphl/Kakehashi/business_flow"
	"github.com/amirphl/Kakehashi/config"
	_ "github.com/amirphl/Kakehashi/docs"
	"github.com/amirphl/Kakehashi/utils"
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/compress"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/helmet"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/gofiber/fiber/v3/middleware/recover"
	"github.com/gofiber/fiber/v3/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/swaggo/swag"
)

const healthPath = "/api/v1/health"

// Router interface for HTTP routing
type Router interface {
	SetupRoutes()
	Start(address string) error
	GetApp() *fiber.App
}

// FiberRouter implements Router using Fiber v3
type FiberRouter struct {
	app                 *fiber.App
	config              *config.ProductionConfig
	trackingHandler     handlers.TrackingHandlerInterface
	applicationHandler  handlers.ApplicationHandlerInterface
	conversationHandler handlers.ConversationHandlerInterface
	analyticsHandler    handlers.AnalyticsHandlerInterface
	authMiddleware      *middleware.AuthMiddleware
}

// NewFiberRouter creates a new Fiber router
func NewFiberRouter(
	cfg *config.ProductionConfig,
	trackingHandler handlers.TrackingHandlerInterface,
	applicationHandler handlers.ApplicationHandlerInterface,
	conversationHandler handlers.ConversationHandlerInterface,
	analyticsHandler handlers.AnalyticsHandlerInterface,
	authMiddleware *middleware.AuthMiddleware,
) Router {
	app := fiber.New(fiber.Config{
		AppName:      "Kakehashi API",
		ServerHeader: "Kakehashi",
		ErrorHandler: errorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		JSONEncoder:  json.Marshal,
		JSONDecoder:  json.Unmarshal,
		TrustProxy:   len(cfg.Server.TrustedProxies) > 0,
		TrustProxyConfig: fiber.TrustProxyConfig{
			Proxies: cfg.Server.TrustedProxies,
		},
		ProxyHeader: cfg.Server.ProxyHeader,
	})

	return &FiberRouter{
		app:                 app,
		config:              cfg,
		trackingHandler:     trackingHandler,
		applicationHandler:  applicationHandler,
		conversationHandler: conversationHandler,
		analyticsHandler:    analyticsHandler,
		authMiddleware:      authMiddleware,
	}
}

// SetupRoutes configures all application routes
func (r *FiberRouter) SetupRoutes() {
	log.Println("Setting up routes...")

	// Global middleware
	r.setupMiddleware()

	if r.config.Metrics.Enabled {
		r.app.Get(r.config.Metrics.Path, adaptor.HTTPHandler(promhttp.Handler()))
	}

	// Public redirect endpoint. Links are shared widely so it gets its own budget.
	track := r.app.Group("/track")
	track.Use(r.rateLimiter(r.config.Security.TrackRateLimit, nil))
	track.Get("/:code", r.trackingHandler.Track)

	api := r.app.Group("/api/v1")

	// Health check route (no rate limiting)
	api.Get("/health", r.healthCheck)

	// API documentation route (development only)
	if env := r.config.Deployment.Environment; env == "development" || env == "local" {
		api.Get("/docs", r.getAPIDocumentation)
		api.Get("/swagger.json", r.serveSwaggerJSON)
		log.Println("API documentation enabled for development")
	}

	api.Use(r.rateLimiter(r.config.Security.GlobalRateLimit, func(c fiber.Ctx) bool {
		return c.Path() == healthPath
	}))

	protected := api.Group("", r.authMiddleware.Authenticate())

	applications := protected.Group("/applications")
	applications.Post("/:id/approve", r.applicationHandler.Approve)
	applications.Post("/:id/conversation", r.conversationHandler.Start)
	applications.Get("/:id/analytics", r.analyticsHandler.Daily)
	applications.Get("/:id/analytics/export", r.analyticsHandler.Export)

	conversations := protected.Group("/conversations")
	conversations.Get("/:id/messages", r.conversationHandler.History)

	// Not found handler
	r.app.Use(r.notFoundHandler)

	log.Println("Routes configured successfully")
}

// SetupMiddleware configures global middleware
func (r *FiberRouter) setupMiddleware() {
	// Request ID middleware - must be first
	r.app.Use(requestid.New(requestid.Config{
		Header: "X-Request-ID",
		Generator: func() string {
			return generateRequestID()
		},
	}))

	if r.config.Server.EnableMetrics {
		r.app.Use(middleware.Metrics())
	}

	sec := r.config.Security
	r.app.Use(helmet.New(helmet.Config{
		XSSProtection:             "1; mode=block",
		ContentTypeNosniff:        sec.XContentTypeOptions,
		XFrameOptions:             sec.XFrameOptions,
		HSTSMaxAge:                sec.HSTSMaxAge,
		HSTSExcludeSubdomains:     false,
		ContentSecurityPolicy:     "default-src 'self'; frame-ancestors 'none';",
		ReferrerPolicy:            sec.ReferrerPolicy,
		CrossOriginOpenerPolicy:   "same-origin",
		CrossOriginResourcePolicy: "cross-origin",
		OriginAgentCluster:        "?1",
		XDNSPrefetchControl:       "off",
		XDownloadOptions:          "noopen",
		XPermittedCrossDomain:     "none",
	}))

	maxAge := sec.CORSMaxAge
	if maxAge <= 0 {
		maxAge = utils.CORSMaxAge
	}
	r.app.Use(cors.New(cors.Config{
		AllowOrigins:     sec.AllowedOrigins,
		AllowMethods:     sec.AllowedMethods,
		AllowHeaders:     append(sec.AllowedHeaders, "X-Request-ID"),
		ExposeHeaders:    []string{"X-Request-ID", "Content-Disposition"},
		AllowCredentials: sec.AllowCredentials && !containsWildcard(sec.AllowedOrigins),
		MaxAge:           maxAge,
	}))

	if r.config.Server.EnableCompression {
		r.app.Use(compress.New(compress.Config{
			Level: compress.LevelBestSpeed,
			Next: func(c fiber.Ctx) bool {
				// Redirects carry no body worth compressing
				return strings.HasPrefix(c.Path(), "/track/")
			},
		}))
	}

	if r.config.Logging.EnableAccessLog {
		r.app.Use(logger.New(logger.Config{
			Format:     `{"time":"${time}","pid":"${pid}","request_id":"${locals:requestid}","level":"info","method":"${method}","path":"${path}","protocol":"${protocol}","ip":"${ip}","user_agent":"${ua}","status":${status},"latency":"${latency}","bytes_in":${bytesReceived},"bytes_out":${bytesSent},"referer":"${referer}"}` + "\n",
			TimeFormat: time.RFC3339,
			TimeZone:   "UTC",
			Next: func(c fiber.Ctx) bool {
				return c.Path() == healthPath
			},
		}))
	}

	// Recovery middleware with custom error handling
	r.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c fiber.Ctx, e any) {
			log.Printf(`{"time":"%s","level":"error","request_id":"%s","event":"panic","error":"%v","path":"%s","method":"%s","ip":"%s"}`,
				utils.UTCNow().Format(time.RFC3339),
				requestid.FromContext(c),
				e,
				c.Path(),
				c.Method(),
				c.IP(),
			)
		},
	}))
}

func (r *FiberRouter) rateLimiter(max int, next func(c fiber.Ctx) bool) fiber.Handler {
	window := r.config.Security.RateLimitWindow
	if window <= 0 {
		window = time.Minute
	}
	return limiter.New(limiter.Config{
		Max:        max,
		Expiration: window,
		KeyGenerator: clientKey,
		LimitReached: func(c fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(dto.APIResponse{
				Success: false,
				Message: "Too many requests. Please try again later.",
				Error: dto.ErrorDetail{
					Code: "RATE_LIMIT_EXCEEDED",
				},
			})
		},
		Next: next,
	})
}

// clientKey rate limits the same visitor that click attribution records,
// so visitors sharing a reverse proxy get separate budgets
func clientKey(c fiber.Ctx) string {
	return businessflow.ExtractClientIP(
		c.Get(fiber.HeaderXForwardedFor),
		c.RequestCtx().RemoteAddr().String(),
		c.IP(),
	)
}

// Start starts the HTTP server
func (r *FiberRouter) Start(address string) error {
	log.Printf("Starting server on %s", address)
	sec := r.config.Security
	if sec.TLSEnabled {
		return r.app.Listen(address, fiber.ListenConfig{
			CertFile:    sec.TLSCertFile,
			CertKeyFile: sec.TLSKeyFile,
		})
	}
	return r.app.Listen(address)
}

// GetApp returns the Fiber app instance
func (r *FiberRouter) GetApp() *fiber.App {
	return r.app
}

// Health check endpoint
func (r *FiberRouter) healthCheck(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "Service is healthy",
		Data: fiber.Map{
			"status":    "ok",
			"timestamp": utils.UTCNow().Unix(),
			"version":   r.config.Deployment.Version,
			"commit":    r.config.Deployment.CommitHash,
			"built_at":  r.config.Deployment.BuildTime,
			"service":   "kakehashi-api",
		},
	})
}

// API documentation endpoint
func (r *FiberRouter) getAPIDocumentation(c fiber.Ctx) error {
	return c.JSON(dto.APIResponse{
		Success: true,
		Message: "API documentation retrieved successfully",
		Data: fiber.Map{
			"title":       "Kakehashi API Documentation",
			"version":     r.config.Deployment.Version,
			"description": "Affiliate tracking, analytics and messaging API",
			"endpoints":   GetRouteDocumentation(),
		},
	})
}

// serveSwaggerJSON serves the generated Swagger document
func (r *FiberRouter) serveSwaggerJSON(c fiber.Ctx) error {
	doc, err := swag.ReadDoc()
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(dto.APIResponse{
			Success: false,
			Message: "Failed to load Swagger documentation",
			Error: dto.ErrorDetail{
				Code: "SWAGGER_LOAD_ERROR",
			},
		})
	}

	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.SendString(doc)
}

// Not found handler
func (r *FiberRouter) notFoundHandler(c fiber.Ctx) error {
	return c.Status(fiber.StatusNotFound).JSON(dto.APIResponse{
		Success: false,
		Message: "The requested resource was not found",
		Error: dto.ErrorDetail{
			Code: "NOT_FOUND",
			Details: fiber.Map{
				"path":       c.Path(),
				"method":     c.Method(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// Global error handler
func errorHandler(c fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "An internal server error occurred"
	errCode := "INTERNAL_ERROR"

	// Retrieve the custom status code if it's a fiber.*Error
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		if code < fiber.StatusInternalServerError {
			message = e.Message
			errCode = "REQUEST_ERROR"
		}
	}

	log.Printf("Error %d: %v", code, err)

	return c.Status(code).JSON(dto.APIResponse{
		Success: false,
		Message: message,
		Error: dto.ErrorDetail{
			Code: errCode,
			Details: fiber.Map{
				"timestamp":  utils.UTCNow().Unix(),
				"request_id": requestid.FromContext(c),
			},
		},
	})
}

// generateRequestID creates a unique request ID
func generateRequestID() string {
	bytes := make([]byte, 8)
	_, _ = rand.Read(bytes)
	return hex.EncodeToString(bytes)
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if o == "*" {
			return true
		}
	}
	return false
}

// GetRouteDocumentation returns API documentation
func GetRouteDocumentation() []map[string]any {
	return []map[string]any{
		{
			"method":      "GET",
			"path":        "/track/:code",
			"description": "Resolve a tracking code, record the click and redirect to the product page",
			"parameters": map[string]any{
				"code": "string (required) - Tracking code in URL path, case-sensitive",
			},
		},
		{
			"method":      "POST",
			"path":        "/api/v1/applications/:id/approve",
			"description": "Approve a pending application and issue its tracking link (offer owner only)",
			"parameters": map[string]any{
				"id": "number (required) - Application ID in URL path",
			},
		},
		{
			"method":      "POST",
			"path":        "/api/v1/applications/:id/conversation",
			"description": "Open or return the conversation between the creator and the company",
			"parameters": map[string]any{
				"id": "number (required) - Application ID in URL path",
			},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/conversations/:id/messages",
			"description": "Page through conversation history",
			"parameters": map[string]any{
				"id":        "number (required) - Conversation ID in URL path",
				"before_id": "number (optional) - Return messages older than this id",
				"limit":     "number (optional) - Page size, max 200",
			},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/applications/:id/analytics",
			"description": "Daily click analytics for an application",
			"parameters": map[string]any{
				"id":   "number (required) - Application ID in URL path",
				"from": "string (required) - First day, YYYY-MM-DD",
				"to":   "string (required) - Last day, YYYY-MM-DD",
			},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/applications/:id/analytics/export",
			"description": "Daily click analytics as an Excel workbook",
			"parameters": map[string]any{
				"id":   "number (required) - Application ID in URL path",
				"from": "string (required) - First day, YYYY-MM-DD",
				"to":   "string (required) - Last day, YYYY-MM-DD",
			},
		},
		{
			"method":      "GET",
			"path":        "/api/v1/health",
			"description": "Health check endpoint",
			"parameters":  map[string]any{},
		},
	}
}
