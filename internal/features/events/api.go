package events

import (
	"go-automation/internal/common/api"
	"go-automation/internal/config"
	"go-automation/internal/middleware"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

type EventApi struct {
	bus    Publisher
	config *config.Config
}

func NewEventApi(bus Publisher, config *config.Config) api.Route {
	return &EventApi{
		bus:    bus,
		config: config,
	}
}

func (h *EventApi) Setup(app *fiber.App) {
	group := app.Group("/api/events", middleware.AuthMiddleware(h.config.SkipAuth))
	group.Post("/", h.publish)
}

// publish godoc
// @Summary Publish event
// @Description Publish a subscriber lifecycle event onto the bus
// @Tags events
// @Accept json
// @Produce json
// @Param event body Event true "Event"
// @Success 202 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/events [post]
func (h *EventApi) publish(c *fiber.Ctx) error {
	var evt Event
	if err := c.BodyParser(&evt); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if evt.ID == "" {
		evt.ID = uuid.New().String()
	}

	if err := h.bus.Publish(c.UserContext(), evt); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"id": evt.ID, "accepted": true})
}
