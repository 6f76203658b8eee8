package rule

import (
	"context"
	"fmt"

	common_models "go-automation/internal/common/models"
	"go-automation/internal/features/audit"
)

type RuleService interface {
	CreateRule(ctx context.Context, rule *AutomationRule) error
	GetRule(ctx context.Context, id string) (*AutomationRule, error)
	ListRules(ctx context.Context, accountID string) ([]AutomationRule, error)
	UpdateRule(ctx context.Context, rule *AutomationRule) error
	DeleteRule(ctx context.Context, id string) error
	SetActive(ctx context.Context, id string, active bool) error

	ListLogs(ctx context.Context, filter LogFilter) ([]RuleLog, error)
	RunNow(ctx context.Context, ruleID, subscriberID string) (*RuleLog, error)
}

type RuleServiceImpl struct {
	Repo         RuleRepository
	Logs         LogRepository
	Engine       *Engine
	AuditService audit.AuditService
}

func NewRuleService(repo RuleRepository, logs LogRepository, engine *Engine, auditService audit.AuditService) RuleService {
	return &RuleServiceImpl{
		Repo:         repo,
		Logs:         logs,
		Engine:       engine,
		AuditService: auditService,
	}
}

func (s *RuleServiceImpl) CreateRule(ctx context.Context, rule *AutomationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	err := s.Repo.Create(ctx, rule)
	if err == nil {
		s.AuditService.LogChange(ctx, common_models.AuditActionRule, "automation_rule", rule.ID.Hex(), map[string]common_models.Change{
			"rule": {New: rule},
		})
	}
	return err
}

func (s *RuleServiceImpl) GetRule(ctx context.Context, id string) (*AutomationRule, error) {
	rule, err := s.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule == nil {
		return nil, fmt.Errorf("rule %s not found", id)
	}
	return rule, nil
}

func (s *RuleServiceImpl) ListRules(ctx context.Context, accountID string) ([]AutomationRule, error) {
	return s.Repo.ListByAccount(ctx, accountID)
}

func (s *RuleServiceImpl) UpdateRule(ctx context.Context, rule *AutomationRule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	// Old rule for audit
	oldRule, _ := s.Repo.GetByID(ctx, rule.ID.Hex())
	if oldRule == nil {
		return fmt.Errorf("rule %s not found", rule.ID.Hex())
	}

	err := s.Repo.Update(ctx, rule)
	if err == nil {
		s.AuditService.LogChange(ctx, common_models.AuditActionRule, "automation_rule", rule.ID.Hex(), map[string]common_models.Change{
			"rule": {Old: oldRule, New: rule},
		})
	}
	return err
}

func (s *RuleServiceImpl) DeleteRule(ctx context.Context, id string) error {
	oldRule, _ := s.Repo.GetByID(ctx, id)

	err := s.Repo.Delete(ctx, id)
	if err == nil {
		name := id
		if oldRule != nil {
			name = oldRule.Name
		}
		s.AuditService.LogChange(ctx, common_models.AuditActionRule, "automation_rule", name, map[string]common_models.Change{
			"rule": {Old: oldRule},
		})
	}
	return err
}

func (s *RuleServiceImpl) SetActive(ctx context.Context, id string, active bool) error {
	err := s.Repo.SetActive(ctx, id, active)
	if err == nil {
		s.AuditService.LogChange(ctx, common_models.AuditActionRule, "automation_rule", id, map[string]common_models.Change{
			"is_active": {New: active},
		})
	}
	return err
}

func (s *RuleServiceImpl) ListLogs(ctx context.Context, filter LogFilter) ([]RuleLog, error) {
	return s.Logs.List(ctx, filter)
}

func (s *RuleServiceImpl) RunNow(ctx context.Context, ruleID, subscriberID string) (*RuleLog, error) {
	return s.Engine.RunNow(ctx, ruleID, subscriberID)
}
