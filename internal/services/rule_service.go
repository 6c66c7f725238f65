package services

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/matcher"
	"fintrack/internal/store"
)

// RuleService manages user-defined category rules. Every mutation
// invalidates the matcher's cached rule list for that user, so the very
// next match call sees the change.
type RuleService struct {
	store   store.Store
	matcher *matcher.Matcher
	logger  *log.Logger
}

func NewRuleService(st store.Store, m *matcher.Matcher, logger *log.Logger) *RuleService {
	return &RuleService{
		store:   st,
		matcher: m,
		logger:  logger.WithComponent(log.ComponentMatcher),
	}
}

// CreateRule validates and stores a new rule.
func (s *RuleService) CreateRule(ctx context.Context, userID string, r core.CategoryRule) (*core.CategoryRule, error) {
	r.ID = uuid.NewString()
	r.UserID = userID
	r.IsActive = true
	if err := s.validate(ctx, r); err != nil {
		return nil, err
	}
	if err := s.store.CreateRule(ctx, r); err != nil {
		return nil, fmt.Errorf("create rule: %w", err)
	}

	s.matcher.InvalidateUser(userID)
	s.logger.InfoContext(ctx, "Rule created",
		"rule_id", r.ID,
		"field", r.Field,
		"match_type", r.MatchType,
		"priority", r.Priority)
	return &r, nil
}

// UpdateRule replaces an existing rule's fields.
func (s *RuleService) UpdateRule(ctx context.Context, userID string, r core.CategoryRule) (*core.CategoryRule, error) {
	existing, err := s.store.GetRule(ctx, userID, r.ID)
	if err != nil {
		return nil, err
	}
	r.UserID = existing.UserID
	if err := s.validate(ctx, r); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRule(ctx, r); err != nil {
		return nil, fmt.Errorf("update rule: %w", err)
	}

	s.matcher.InvalidateUser(userID)
	return &r, nil
}

// DeleteRule removes a rule.
func (s *RuleService) DeleteRule(ctx context.Context, userID, ruleID string) error {
	if err := s.store.DeleteRule(ctx, userID, ruleID); err != nil {
		return err
	}
	s.matcher.InvalidateUser(userID)
	return nil
}

// ListRules returns the user's active rules ordered by descending
// priority.
func (s *RuleService) ListRules(ctx context.Context, userID string) ([]core.CategoryRule, error) {
	return s.store.ListActiveRules(ctx, userID)
}

func (s *RuleService) validate(ctx context.Context, r core.CategoryRule) error {
	if !r.Field.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidRuleField, r.Field)
	}
	if !r.MatchType.Valid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidRuleMatchType, r.MatchType)
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return core.ErrInvalidRulePattern
	}
	if r.MatchType == core.MatchRegex {
		if _, err := regexp.Compile("(?i)" + r.Pattern); err != nil {
			return fmt.Errorf("%w: %v", core.ErrInvalidRulePattern, err)
		}
	}
	if _, err := s.store.GetCategory(ctx, r.CategoryID); err != nil {
		return err
	}
	return nil
}
