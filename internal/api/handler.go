package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"pos-service/internal/auth"
	"pos-service/internal/models"
	"pos-service/internal/service"
	"pos-service/internal/util"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Services groups the dependencies of the HTTP layer
type Services struct {
	Sales   *service.SaleService
	Catalog *service.CatalogService
	Auth    *service.AuthService
	Users   *service.UserService
	Tracker *service.LoginTracker
	Tokens  *auth.TokenIssuer
}

// ReadinessCheck reports whether a backing dependency is usable
type ReadinessCheck func(ctx context.Context) error

// Handler contains HTTP handlers
type Handler struct {
	sales       *service.SaleService
	catalog     *service.CatalogService
	auth        *service.AuthService
	users       *service.UserService
	tracker     *service.LoginTracker
	tokens      *auth.TokenIssuer
	corsOrigins []string
	checks      map[string]ReadinessCheck
	logger      *zap.Logger
}

// NewHandler creates a new HTTP handler. An empty corsOrigins allows any origin.
func NewHandler(svc Services, corsOrigins []string) *Handler {
	return &Handler{
		sales:       svc.Sales,
		catalog:     svc.Catalog,
		auth:        svc.Auth,
		users:       svc.Users,
		tracker:     svc.Tracker,
		tokens:      svc.Tokens,
		corsOrigins: corsOrigins,
		checks:      make(map[string]ReadinessCheck),
		logger:      util.GetLogger(),
	}
}

// AddReadinessCheck registers a dependency checked by /ready
func (h *Handler) AddReadinessCheck(name string, check ReadinessCheck) {
	h.checks[name] = check
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(requestLogger(h.logger))
	router.Use(cors.New(h.corsConfig()))

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	v1.POST("/auth/login", h.login)
	v1.POST("/auth/setup", h.setup)

	authed := v1.Group("")
	authed.Use(AuthMiddleware(h.tokens))
	{
		authed.POST("/sales", h.createSale)
		authed.GET("/sales", h.listSales)
		authed.GET("/sales/:id", h.getSale)
		authed.PATCH("/sales/:id", h.updateSale)

		authed.GET("/products", h.listProducts)
		authed.GET("/products/:id", h.getProduct)

		authed.POST("/clients", h.createClient)
		authed.GET("/clients/:id", h.getClient)
	}

	admin := authed.Group("")
	admin.Use(RequireRole(models.RoleAdmin))
	{
		admin.DELETE("/sales/:id", h.deleteSale)

		admin.POST("/products", h.createProduct)
		admin.PUT("/products/:id", h.updateProduct)
		admin.DELETE("/products/:id", h.deactivateProduct)
		admin.POST("/products/:id/stock", h.adjustStock)

		admin.GET("/accounts/:account/lockout", h.lockoutStatus)
		admin.POST("/accounts/:account/unlock", h.unlockAccount)
		admin.GET("/login-attempts", h.listLoginAttempts)

		admin.POST("/users", h.createUser)
		admin.GET("/users", h.listUsers)
		admin.GET("/users/:id", h.getUser)
		admin.PUT("/users/:id", h.updateUser)
		admin.DELETE("/users/:id", h.deactivateUser)
		admin.GET("/users/:id/lockout", h.userLockoutStatus)
		admin.POST("/users/:id/unlock", h.unlockUser)
	}
}

// NewMetricsServer serves /metrics alone on addr, for scrapers kept off the
// API listener
func NewMetricsServer(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (h *Handler) corsConfig() cors.Config {
	cfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Authorization", "Idempotency-Key"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(h.corsOrigins) == 0 {
		cfg.AllowAllOrigins = true
	} else {
		cfg.AllowOrigins = h.corsOrigins
	}
	return cfg
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck pings every registered dependency
func (h *Handler) readinessCheck(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	failed := gin.H{}
	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			failed[name] = err.Error()
		}
	}
	if len(failed) > 0 {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "not_ready",
			"failed": failed,
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// writeError maps a service error to its HTTP status and error body
func (h *Handler) writeError(c *gin.Context, err error) {
	kind := service.ErrorKind(err)
	status := statusForKind(kind)

	body := gin.H{"error": kind, "message": err.Error()}

	var stockErr *service.InsufficientStockError
	var lineErr *service.InvalidLineError
	var lockedErr *service.AccountLockedError
	var productErr *service.ProductNotFoundError
	switch {
	case errors.As(err, &stockErr):
		body["product_id"] = stockErr.ProductID
		body["available"] = stockErr.Available
		body["requested"] = stockErr.Requested
	case errors.As(err, &lineErr):
		body["line"] = lineErr.Line
	case errors.As(err, &lockedErr):
		body["failed_count"] = lockedErr.FailedCount
	case errors.As(err, &productErr):
		body["product_id"] = productErr.ProductID
	}

	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err))
		body["message"] = "internal error"
	}

	c.JSON(status, body)
}

func statusForKind(kind string) int {
	switch kind {
	case "empty_order", "invalid_line", "invalid_input":
		return http.StatusBadRequest
	case "invalid_credentials":
		return http.StatusUnauthorized
	case "product_not_found", "sale_not_found", "client_not_found", "user_not_found":
		return http.StatusNotFound
	case "insufficient_stock", "invalid_sale_state", "product_inactive",
		"duplicate_invoice_number", "duplicate_code", "request_in_progress",
		"duplicate_user", "already_initialized", "last_admin":
		return http.StatusConflict
	case "account_locked":
		return http.StatusLocked
	default:
		return http.StatusInternalServerError
	}
}

func badRequest(c *gin.Context, message string, err error) {
	body := gin.H{"error": "bad_request", "message": message}
	if err != nil {
		body["details"] = err.Error()
	}
	c.JSON(http.StatusBadRequest, body)
}

func parseID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		badRequest(c, "Invalid ID", nil)
		return 0, false
	}
	return id, true
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
