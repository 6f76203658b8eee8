package funnel

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
)

type FunnelController struct {
	Service ControlService
}

func NewFunnelController(service ControlService) *FunnelController {
	return &FunnelController{
		Service: service,
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrConflict):
		return fiber.StatusConflict
	default:
		return fiber.StatusBadRequest
	}
}

// CreateFunnel godoc
// @Summary Create funnel
// @Description Create a new funnel definition
// @Tags funnels
// @Accept json
// @Produce json
// @Param funnel body Funnel true "Funnel"
// @Success 201 {object} Funnel
// @Failure 400 {object} map[string]interface{}
// @Router /api/funnels [post]
func (ctrl *FunnelController) CreateFunnel(c *fiber.Ctx) error {
	var f Funnel
	if err := c.BodyParser(&f); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := ctrl.Service.CreateFunnel(c.UserContext(), &f); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(f)
}

// GetFunnel godoc
// @Summary Get funnel
// @Description Get a funnel by ID
// @Tags funnels
// @Produce json
// @Param id path string true "Funnel ID"
// @Success 200 {object} Funnel
// @Failure 404 {object} map[string]interface{}
// @Router /api/funnels/{id} [get]
func (ctrl *FunnelController) GetFunnel(c *fiber.Ctx) error {
	f, err := ctrl.Service.GetFunnel(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Funnel not found"})
	}
	return c.JSON(f)
}

// ListFunnels godoc
// @Summary List funnels
// @Description List funnels for an account
// @Tags funnels
// @Produce json
// @Param account_id query string true "Account ID"
// @Success 200 {array} Funnel
// @Failure 500 {object} map[string]interface{}
// @Router /api/funnels [get]
func (ctrl *FunnelController) ListFunnels(c *fiber.Ctx) error {
	funnels, err := ctrl.Service.ListFunnels(c.UserContext(), c.Query("account_id"))
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(funnels)
}

// UpdateFunnel godoc
// @Summary Update funnel
// @Description Update an existing funnel definition
// @Tags funnels
// @Accept json
// @Produce json
// @Param id path string true "Funnel ID"
// @Param funnel body Funnel true "Funnel"
// @Success 200 {object} Funnel
// @Failure 400 {object} map[string]interface{}
// @Router /api/funnels/{id} [put]
func (ctrl *FunnelController) UpdateFunnel(c *fiber.Ctx) error {
	var f Funnel
	if err := c.BodyParser(&f); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := ctrl.Service.UpdateFunnel(c.UserContext(), &f); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(f)
}

// DeleteFunnel godoc
// @Summary Delete funnel
// @Description Delete a funnel by ID
// @Tags funnels
// @Param id path string true "Funnel ID"
// @Success 204 {object} nil
// @Failure 500 {object} map[string]interface{}
// @Router /api/funnels/{id} [delete]
func (ctrl *FunnelController) DeleteFunnel(c *fiber.Ctx) error {
	if err := ctrl.Service.DeleteFunnel(c.UserContext(), c.Params("id")); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// Enroll godoc
// @Summary Enroll subscriber
// @Description Enroll a subscriber into a funnel
// @Tags funnels
// @Accept json
// @Produce json
// @Param id path string true "Funnel ID"
// @Param body body object true "Enrollment payload"
// @Success 201 {object} FunnelSubscriber
// @Failure 400 {object} map[string]interface{}
// @Router /api/funnels/{id}/enroll [post]
func (ctrl *FunnelController) Enroll(c *fiber.Ctx) error {
	var body struct {
		AccountID    string `json:"account_id"`
		SubscriberID string `json:"subscriber_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if body.SubscriberID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "subscriber_id is required"})
	}

	row, err := ctrl.Service.Enroll(c.UserContext(), body.AccountID, c.Params("id"), body.SubscriberID)
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.Status(fiber.StatusCreated).JSON(row)
}

// ListEnrollments godoc
// @Summary List enrollments
// @Description List subscriber enrollments for a funnel
// @Tags funnels
// @Produce json
// @Param id path string true "Funnel ID"
// @Param status query string false "Status filter"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {array} FunnelSubscriber
// @Failure 500 {object} map[string]interface{}
// @Router /api/funnels/{id}/subscribers [get]
func (ctrl *FunnelController) ListEnrollments(c *fiber.Ctx) error {
	limit, _ := strconv.ParseInt(c.Query("limit"), 10, 64)
	offset, _ := strconv.ParseInt(c.Query("offset"), 10, 64)

	rows, err := ctrl.Service.ListEnrollments(c.UserContext(), c.Params("id"), Status(c.Query("status")), limit, offset)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rows)
}

// GetEnrollment godoc
// @Summary Get enrollment
// @Description Get one funnel enrollment including its history
// @Tags funnels
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} FunnelSubscriber
// @Failure 404 {object} map[string]interface{}
// @Router /api/funnels/subscribers/{id} [get]
func (ctrl *FunnelController) GetEnrollment(c *fiber.Ctx) error {
	row, err := ctrl.Service.GetEnrollment(c.UserContext(), c.Params("id"))
	if err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(row)
}

// PauseEnrollment godoc
// @Summary Pause enrollment
// @Description Hold a subscriber in place; stepper passes skip paused rows
// @Tags funnels
// @Param id path string true "Enrollment ID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/funnels/subscribers/{id}/pause [post]
func (ctrl *FunnelController) PauseEnrollment(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := ctrl.Service.Pause(c.UserContext(), id); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"id": id, "status": StatusPaused})
}

// ResumeEnrollment godoc
// @Summary Resume enrollment
// @Description Resume a paused subscriber, eligible on the next pass
// @Tags funnels
// @Param id path string true "Enrollment ID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/funnels/subscribers/{id}/resume [post]
func (ctrl *FunnelController) ResumeEnrollment(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := ctrl.Service.Resume(c.UserContext(), id); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"id": id, "status": StatusActive})
}

// AdvanceEnrollment godoc
// @Summary Advance enrollment
// @Description Move a subscriber to a specific step of their funnel
// @Tags funnels
// @Accept json
// @Param id path string true "Enrollment ID"
// @Param body body object true "Advance payload"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/funnels/subscribers/{id}/advance [post]
func (ctrl *FunnelController) AdvanceEnrollment(c *fiber.Ctx) error {
	id := c.Params("id")

	var body struct {
		StepID string `json:"step_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if body.StepID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "step_id is required"})
	}

	if err := ctrl.Service.AdvanceTo(c.UserContext(), id, body.StepID); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"id": id, "current_step_id": body.StepID})
}

// RemoveEnrollment godoc
// @Summary Remove enrollment
// @Description Force a subscriber out of their funnel
// @Tags funnels
// @Param id path string true "Enrollment ID"
// @Success 200 {object} map[string]interface{}
// @Failure 409 {object} map[string]interface{}
// @Router /api/funnels/subscribers/{id} [delete]
func (ctrl *FunnelController) RemoveEnrollment(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := ctrl.Service.Remove(c.UserContext(), id); err != nil {
		return c.Status(statusFor(err)).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"id": id, "status": StatusExited})
}
