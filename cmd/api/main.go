package main

import (
	"context"
	"fmt"
	"log"

	common_api "go-automation/internal/common/api"
	"go-automation/internal/config"
	"go-automation/internal/database"
	"go-automation/internal/features/action"
	"go-automation/internal/features/audit"
	"go-automation/internal/features/crmtask"
	"go-automation/internal/features/email"
	"go-automation/internal/features/events"
	"go-automation/internal/features/funnel"
	"go-automation/internal/features/rule"
	"go-automation/internal/features/subscriber"
	"go-automation/internal/features/system"
	"go-automation/internal/features/webhook"
	"go-automation/internal/logger"
	"go-automation/internal/middleware"
	"go-automation/pkg/utils"

	_ "go-automation/docs" // Import swagger docs

	"github.com/gofiber/fiber/v2"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// NewFiberServer creates a new Fiber app instance
func NewFiberServer() *fiber.App {
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	app.Use(middleware.CORSMiddleware())

	return app
}

// AsRoute is a helper function to reduce boilerplate.
// It tags the constructor so Fx knows to add it to the "routes" group.
func AsRoute(f any) any {
	return fx.Annotate(
		f,
		fx.As(new(common_api.Route)),
		fx.ResultTags(`group:"routes"`),
	)
}

// RegisterAllRoutes takes the group "routes" (slice of interfaces)
// and calls Setup() on each one.
func RegisterAllRoutes(app *fiber.App, routes []common_api.Route) {
	for _, route := range routes {
		route.Setup(app)
	}
	log.Printf("Registered %d routes\n", len(routes))
}

// RegisterAllRoutesWithAnnotation wraps RegisterAllRoutes with fx annotations
var RegisterAllRoutesWithAnnotation = fx.Annotate(
	RegisterAllRoutes,
	fx.ParamTags(``, `group:"routes"`),
)

// StartServer creates a lifecycle hook to start Fiber in a goroutine
// and shut it down when the app exits.
func StartServer(lc fx.Lifecycle, app *fiber.App, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			utils.SetSecret(cfg.JWTSecret)
			go func() {
				port := fmt.Sprintf(":%s", cfg.Port)
				if err := app.Listen(port); err != nil {
					log.Fatalf("Server failed to start: %v", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return app.Shutdown()
		},
	})
}

// @title           Marketing Automation API
// @version         1.0
// @description     Rule engine and funnel execution service.

// @host            localhost:8000
// @BasePath        /
func main() {
	app := fx.New(
		fx.Provide(
			// Load Config
			config.LoadConfig,

			// Initialize Logger
			logger.NewLogger,

			// Initialize Fiber Server
			NewFiberServer,

			// Initialize Database
			database.NewDatabase,

			// Initialize Repository
			audit.NewAuditRepository,
			subscriber.NewSubscriberRepository,
			email.NewMessageRepository,
			webhook.NewDeliveryLogRepository,
			crmtask.NewTaskRepository,
			rule.NewRuleRepository,
			rule.NewLogRepository,
			funnel.NewFunnelRepository,
			funnel.NewEnrollmentRepository,

			audit.NewAuditService,
			subscriber.NewService,
			email.NewEmailService,
			webhook.NewService,
			action.NewRegistry,
			rule.NewRateLimiter,
			rule.NewEngine,
			rule.NewRuleService,
			funnel.NewStepper,
			funnel.NewControlService,

			// Event bus sized from config
			func(cfg *config.Config, log *zap.Logger) *events.Bus {
				return events.NewBus(cfg.BusWorkers, cfg.BusBuffer, log)
			},

			// Websocket hub streaming rule logs
			system.NewHub,

			// Interface adapters to satisfy Fx
			func(b *events.Bus) events.Publisher { return b },
			func(r *action.Registry) action.Executor { return r },
			func(h *system.Hub) rule.LogSink { return h },

			// Initialize Controller
			rule.NewRuleController,
			funnel.NewFunnelController,

			// Initialize API Routes
			AsRoute(events.NewEventApi),
			AsRoute(rule.NewRuleApi),
			AsRoute(funnel.NewFunnelApi),
			AsRoute(system.NewHealthApi),
			AsRoute(system.NewSwaggerApi),
			AsRoute(system.NewWebSocketApi),
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			return &fxevent.ZapLogger{Logger: log}
		}),
		fx.Invoke(
			// Register Routes & Start
			RegisterAllRoutesWithAnnotation,
			StartServer,

			// The engine consumes every published event
			func(bus *events.Bus, engine *rule.Engine) {
				bus.Subscribe(engine)
			},

			// enroll_in_funnel is registered after construction so the
			// registry and the funnel service need not depend on each other
			func(registry *action.Registry, control funnel.ControlService) {
				registry.RegisterEnroller(control)
			},

			// Funnel stepper lifecycle
			func(lc fx.Lifecycle, stepper *funnel.Stepper, bus *events.Bus) {
				lc.Append(fx.Hook{
					OnStart: func(ctx context.Context) error {
						return stepper.Start()
					},
					OnStop: func(ctx context.Context) error {
						stepper.Stop()
						bus.Close()
						return nil
					},
				})
			},
		),
	)

	app.Run()
}
