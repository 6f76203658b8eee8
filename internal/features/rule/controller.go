package rule

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
)

type RuleController struct {
	Service RuleService
}

func NewRuleController(service RuleService) *RuleController {
	return &RuleController{
		Service: service,
	}
}

// CreateRule godoc
// @Summary Create automation rule
// @Description Create a new automation rule
// @Tags automation
// @Accept json
// @Produce json
// @Param rule body AutomationRule true "Automation Rule"
// @Success 201 {object} AutomationRule
// @Failure 400 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/automation/rules [post]
func (ctrl *RuleController) CreateRule(c *fiber.Ctx) error {
	var rule AutomationRule
	if err := c.BodyParser(&rule); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := ctrl.Service.CreateRule(c.UserContext(), &rule); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.Status(fiber.StatusCreated).JSON(rule)
}

// GetRule godoc
// @Summary Get automation rule
// @Description Get an automation rule by ID
// @Tags automation
// @Produce json
// @Param id path string true "Rule ID"
// @Success 200 {object} AutomationRule
// @Failure 404 {object} map[string]interface{}
// @Router /api/automation/rules/{id} [get]
func (ctrl *RuleController) GetRule(c *fiber.Ctx) error {
	id := c.Params("id")
	rule, err := ctrl.Service.GetRule(c.UserContext(), id)
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "Rule not found"})
	}
	return c.JSON(rule)
}

// ListRules godoc
// @Summary List automation rules
// @Description List automation rules for an account
// @Tags automation
// @Produce json
// @Param account_id query string true "Account ID"
// @Success 200 {array} AutomationRule
// @Failure 500 {object} map[string]interface{}
// @Router /api/automation/rules [get]
func (ctrl *RuleController) ListRules(c *fiber.Ctx) error {
	accountID := c.Query("account_id")
	rules, err := ctrl.Service.ListRules(c.UserContext(), accountID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(rules)
}

// UpdateRule godoc
// @Summary Update automation rule
// @Description Update an existing automation rule
// @Tags automation
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param rule body AutomationRule true "Automation Rule"
// @Success 200 {object} AutomationRule
// @Failure 400 {object} map[string]interface{}
// @Failure 500 {object} map[string]interface{}
// @Router /api/automation/rules/{id} [put]
func (ctrl *RuleController) UpdateRule(c *fiber.Ctx) error {
	var rule AutomationRule
	if err := c.BodyParser(&rule); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := ctrl.Service.UpdateRule(c.UserContext(), &rule); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(rule)
}

// DeleteRule godoc
// @Summary Delete automation rule
// @Description Delete an automation rule by ID
// @Tags automation
// @Param id path string true "Rule ID"
// @Success 204 {object} nil
// @Failure 500 {object} map[string]interface{}
// @Router /api/automation/rules/{id} [delete]
func (ctrl *RuleController) DeleteRule(c *fiber.Ctx) error {
	id := c.Params("id")
	if err := ctrl.Service.DeleteRule(c.UserContext(), id); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ToggleRule godoc
// @Summary Toggle automation rule
// @Description Activate or deactivate an automation rule
// @Tags automation
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param body body object true "Toggle payload"
// @Success 200 {object} map[string]interface{}
// @Failure 400 {object} map[string]interface{}
// @Router /api/automation/rules/{id}/toggle [post]
func (ctrl *RuleController) ToggleRule(c *fiber.Ctx) error {
	id := c.Params("id")

	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}

	if err := ctrl.Service.SetActive(c.UserContext(), id, body.IsActive); err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(fiber.Map{"id": id, "is_active": body.IsActive})
}

// ListLogs godoc
// @Summary List rule execution logs
// @Description List automation rule logs with optional filters
// @Tags automation
// @Produce json
// @Param account_id query string false "Account ID"
// @Param rule_id query string false "Rule ID"
// @Param subscriber_id query string false "Subscriber ID"
// @Param status query string false "Status (success, failed, skipped)"
// @Param from query string false "From date (RFC3339)"
// @Param to query string false "To date (RFC3339)"
// @Param limit query int false "Limit"
// @Param offset query int false "Offset"
// @Success 200 {array} RuleLog
// @Failure 500 {object} map[string]interface{}
// @Router /api/automation/logs [get]
func (ctrl *RuleController) ListLogs(c *fiber.Ctx) error {
	filter := LogFilter{
		AccountID:    c.Query("account_id"),
		RuleID:       c.Query("rule_id"),
		SubscriberID: c.Query("subscriber_id"),
		Status:       LogStatus(c.Query("status")),
	}

	if v := c.Query("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid from date"})
		}
		filter.From = &t
	}
	if v := c.Query("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid to date"})
		}
		filter.To = &t
	}
	if v := c.Query("limit"); v != "" {
		n, _ := strconv.ParseInt(v, 10, 64)
		filter.Limit = n
	}
	if v := c.Query("offset"); v != "" {
		n, _ := strconv.ParseInt(v, 10, 64)
		filter.Offset = n
	}

	logs, err := ctrl.Service.ListLogs(c.UserContext(), filter)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(logs)
}

// RunNow godoc
// @Summary Run rule now
// @Description Execute a rule against a specific subscriber for testing. Rate limits are bypassed and the resulting log is flagged as a dry run.
// @Tags automation
// @Accept json
// @Produce json
// @Param id path string true "Rule ID"
// @Param body body object true "Run payload"
// @Success 200 {object} RuleLog
// @Failure 400 {object} map[string]interface{}
// @Router /api/automation/rules/{id}/run [post]
func (ctrl *RuleController) RunNow(c *fiber.Ctx) error {
	id := c.Params("id")

	var body struct {
		SubscriberID string `json:"subscriber_id"`
	}
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "Invalid request body"})
	}
	if body.SubscriberID == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "subscriber_id is required"})
	}

	log, err := ctrl.Service.RunNow(c.UserContext(), id, body.SubscriberID)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(log)
}
