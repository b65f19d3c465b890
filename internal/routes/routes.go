// internal/routes/routes.go
package routes

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"usis-service/internal/config"
	"usis-service/internal/handler"
	"usis-service/internal/middleware"
	"usis-service/internal/service"
	"usis-service/internal/utils"
)

// Dependencies groups what the HTTP layer is built from.
// DB and Migrator stay nil when the journal is kept in memory.
type Dependencies struct {
	Config           *config.Config
	Logger           *zap.Logger
	Link             handler.LinkMonitor
	DB               handler.DatabaseChecker
	Migrator         handler.MigrationVersioner
	EventBus         *handler.EventBus
	CommandService   *service.CommandService
	DiscoveryService *service.DiscoveryService
}

// Router holds all dependencies for routing
type Router struct {
	deps      Dependencies
	wsHandler *handler.WebSocketHandler
}

// NewRouter creates a new router instance
func NewRouter(deps Dependencies) *Router {
	return &Router{deps: deps}
}

// SetupRouter creates and configures the Gin router
func (r *Router) SetupRouter() *gin.Engine {
	if r.deps.Config.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	} else if gin.Mode() != gin.TestMode {
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	r.addMiddleware(router)
	r.addRoutes(router)

	return router
}

// Shutdown disconnects WebSocket clients
func (r *Router) Shutdown() {
	if r.wsHandler != nil {
		r.wsHandler.Stop()
	}
}

// addMiddleware adds middleware to the router
func (r *Router) addMiddleware(router *gin.Engine) {
	router.Use(middleware.RecoveryMiddleware(r.deps.Logger))
	router.Use(middleware.RequestIDMiddleware())

	serviceLogger := utils.NewServiceLogger(r.deps.Logger, "http-server")
	router.Use(middleware.LoggingMiddleware(serviceLogger))

	router.Use(middleware.CORSMiddleware(&r.deps.Config.Security))

	r.deps.Logger.Debug("Middleware configured")
}

// addRoutes sets up all application routes
func (r *Router) addRoutes(router *gin.Engine) {
	healthHandler := handler.NewHealthHandler(r.deps.Link, r.deps.DB, r.deps.Migrator, r.deps.Config, r.deps.Logger)
	commandHandler := handler.NewCommandHandler(r.deps.CommandService, r.deps.Logger)
	discoveryHandler := handler.NewDiscoveryHandler(r.deps.DiscoveryService, r.deps.Logger)

	// Health check routes
	healthHandler.RegisterRoutes(router.Group(""))

	// API v1 routes
	apiV1 := router.Group("/api/v1")
	commandHandler.RegisterRoutes(apiV1)
	discoveryHandler.RegisterRoutes(apiV1)

	// WebSocket routes
	if r.deps.EventBus != nil {
		r.wsHandler = handler.NewWebSocketHandler(
			r.deps.CommandService,
			r.deps.EventBus,
			r.deps.Config.Security.AllowedOrigins,
			r.deps.Logger,
		)
		r.wsHandler.Start()
		r.wsHandler.RegisterRoutes(router.Group("/ws"))
	}

	r.deps.Logger.Info("All routes configured successfully")
}
