package server

import (
	"context"
	"net"
	"time"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/xaenox/medichat/internal/controller"
	"github.com/xaenox/medichat/internal/pkg/serverutils"
)

type Config struct {
	Addr               string
	CorsAllowedOrigins string
	BodyLimit          int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	Tracing            bool
}

// Deps are the collaborators the routes are served by.
type Deps struct {
	Verifier serverutils.TokenVerifier
	Auth     *controller.AuthController
	Profile  *controller.ProfileController
	Chat     *controller.ChatController
}

type Server struct {
	app    *fiber.App
	cfg    Config
	logger *zap.Logger
}

func New(cfg Config, deps Deps, logger *zap.Logger) *Server {
	app := fiber.New(fiber.Config{
		AppName:               "medichat",
		BodyLimit:             cfg.BodyLimit,
		ReadTimeout:           cfg.ReadTimeout,
		WriteTimeout:          cfg.WriteTimeout,
		ErrorHandler:          serverutils.ErrorHandler(logger),
		DisableStartupMessage: true,
	})

	app.Use(recover.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: cfg.CorsAllowedOrigins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
		AllowMethods: "GET, POST, PUT, OPTIONS",
	}))
	if cfg.Tracing {
		app.Use(otelfiber.Middleware())
	}

	app.Get("/healthz", func(ctx *fiber.Ctx) error {
		return ctx.JSON(serverutils.SuccessResponse("ok", fiber.Map{"status": "ok"}))
	})

	registerRoutes(app, deps)

	return &Server{app: app, cfg: cfg, logger: logger}
}

func registerRoutes(app *fiber.App, deps Deps) {
	api := app.Group("/api")
	auth := serverutils.JwtMiddleware(deps.Verifier)

	deps.Auth.RegisterRoutes(api)
	deps.Profile.RegisterRoutes(api, auth)
	deps.Chat.RegisterRoutes(api, auth)
}

func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Run() error {
	s.logger.Info("HTTP server listening", zap.String("addr", s.cfg.Addr))
	return s.app.Listen(s.cfg.Addr)
}

// Serve accepts connections on ln until shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.app.ShutdownWithContext(ctx)
}
