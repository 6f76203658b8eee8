package funnel

import (
	"go-automation/internal/common/api"
	"go-automation/internal/config"
	"go-automation/internal/middleware"

	"github.com/gofiber/fiber/v2"
)

type FunnelApi struct {
	controller *FunnelController
	config     *config.Config
}

func NewFunnelApi(controller *FunnelController, config *config.Config) api.Route {
	return &FunnelApi{
		controller: controller,
		config:     config,
	}
}

func (h *FunnelApi) Setup(app *fiber.App) {
	group := app.Group("/api/funnels", middleware.AuthMiddleware(h.config.SkipAuth))

	group.Get("/", h.controller.ListFunnels)
	group.Post("/", h.controller.CreateFunnel)

	// Enrollment routes come before /:id so "subscribers" never parses as a funnel id
	group.Get("/subscribers/:id", h.controller.GetEnrollment)
	group.Post("/subscribers/:id/pause", h.controller.PauseEnrollment)
	group.Post("/subscribers/:id/resume", h.controller.ResumeEnrollment)
	group.Post("/subscribers/:id/advance", h.controller.AdvanceEnrollment)
	group.Delete("/subscribers/:id", h.controller.RemoveEnrollment)

	group.Get("/:id", h.controller.GetFunnel)
	group.Put("/:id", h.controller.UpdateFunnel)
	group.Delete("/:id", h.controller.DeleteFunnel)
	group.Post("/:id/enroll", h.controller.Enroll)
	group.Get("/:id/subscribers", h.controller.ListEnrollments)
}
