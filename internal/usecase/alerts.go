package usecase

import (
	"context"
	"errors"
	"fmt"
	"math"

	"PulseBoard/internal/domain/models"
	drepo "PulseBoard/internal/domain/repository"
	applogger "PulseBoard/pkg/logger"

	"github.com/jonboulle/clockwork"
)

// AlertService manages a user's rules and alert log, and delivers fired
// alerts: log append, live push, then the event bus.
type AlertService struct {
	rules       drepo.RuleStore
	logs        drepo.AlertLogStore
	broadcaster *Broadcaster
	publisher   drepo.EventPublisher
	instanceID  string
	clock       clockwork.Clock
	log         *applogger.Logger
}

func NewAlertService(
	rules drepo.RuleStore,
	logs drepo.AlertLogStore,
	broadcaster *Broadcaster,
	publisher drepo.EventPublisher,
	instanceID string,
	clock clockwork.Clock,
	log *applogger.Logger,
) *AlertService {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if log == nil {
		log = applogger.Nop()
	}
	return &AlertService{
		rules:       rules,
		logs:        logs,
		broadcaster: broadcaster,
		publisher:   publisher,
		instanceID:  instanceID,
		clock:       clock,
		log:         log.Named("alert_service"),
	}
}

// Notify implements Notifier.
func (s *AlertService) Notify(ctx context.Context, fired FiredAlert) {
	entry := &models.AlertLog{
		UserID:    fired.Owner(),
		Type:      fired.Event.Type,
		Message:   fired.Event.Message,
		Severity:  fired.Event.Severity,
		CreatedAt: fired.Event.Timestamp,
	}
	if fired.Rule != nil {
		id := fired.Rule.ID
		entry.RuleID = &id
	}
	if err := s.logs.AppendLog(ctx, entry); err != nil {
		s.log.Error("append alert log", applogger.String("user_id", entry.UserID), applogger.Error(err))
	}

	s.deliver(ctx, fired.Owner(), fired.Global(), fired.Event)

	if s.publisher == nil {
		return
	}
	msg := models.AlertMessage{
		UserID:     fired.Owner(),
		RuleID:     entry.RuleID,
		Global:     fired.Global(),
		InstanceID: s.instanceID,
		Event:      fired.Event,
	}
	if err := s.publisher.PublishAlert(ctx, msg); err != nil {
		s.log.Warn("publish alert", applogger.Error(err))
	}
}

// DeliverRemote pushes an alert fired by another instance to local
// connections. Messages from this instance are ignored.
func (s *AlertService) DeliverRemote(ctx context.Context, msg models.AlertMessage) {
	if msg.InstanceID == s.instanceID {
		return
	}
	s.deliver(ctx, msg.UserID, msg.Global, msg.Event)
}

func (s *AlertService) deliver(ctx context.Context, owner string, global bool, ev models.AlertEvent) {
	if s.broadcaster == nil {
		return
	}
	match := ForUser(owner)
	if global {
		match = All()
	}
	if _, err := s.broadcaster.Broadcast(ctx, EventAlert, ev, match); err != nil {
		s.log.Warn("broadcast alert", applogger.Error(err))
	}
}

// ListRules returns userID's rules.
func (s *AlertService) ListRules(ctx context.Context, userID string) ([]models.AlertRule, error) {
	return s.rules.ListRules(ctx, userID)
}

// CreateRule validates in and stores a new rule. Rules are enabled unless
// in says otherwise.
func (s *AlertService) CreateRule(ctx context.Context, userID string, in models.AlertRuleInput) (*models.AlertRule, error) {
	if err := ValidateRuleInput(in); err != nil {
		return nil, err
	}
	now := s.clock.Now().UTC()
	rule := &models.AlertRule{
		UserID:        userID,
		Type:          in.Type,
		Target:        in.Target,
		ConditionType: in.ConditionType,
		Threshold:     *in.Threshold,
		Enabled:       in.Enabled == nil || *in.Enabled,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.rules.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}
	s.log.Info("rule created", applogger.String("user_id", userID), applogger.Int64("rule_id", rule.ID), applogger.String("type", string(rule.Type)))
	return rule, nil
}

// UpdateRule replaces the editable fields of one of userID's rules.
func (s *AlertService) UpdateRule(ctx context.Context, userID string, id int64, in models.AlertRuleInput) (*models.AlertRule, error) {
	if err := ValidateRuleInput(in); err != nil {
		return nil, err
	}
	rule, err := s.ownedRule(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	rule.Type = in.Type
	rule.Target = in.Target
	rule.ConditionType = in.ConditionType
	rule.Threshold = *in.Threshold
	if in.Enabled != nil {
		rule.Enabled = *in.Enabled
	}
	rule.UpdatedAt = s.clock.Now().UTC()
	if err := s.rules.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}
	return rule, nil
}

// ToggleRule enables or disables one of userID's rules.
func (s *AlertService) ToggleRule(ctx context.Context, userID string, id int64, enabled bool) (*models.AlertRule, error) {
	rule, err := s.ownedRule(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	rule.Enabled = enabled
	rule.UpdatedAt = s.clock.Now().UTC()
	if err := s.rules.SaveRule(ctx, rule); err != nil {
		return nil, fmt.Errorf("save rule: %w", err)
	}
	return rule, nil
}

// DeleteRule removes one of userID's rules.
func (s *AlertService) DeleteRule(ctx context.Context, userID string, id int64) error {
	if _, err := s.ownedRule(ctx, userID, id); err != nil {
		return err
	}
	return s.rules.DeleteRule(ctx, id)
}

func (s *AlertService) ownedRule(ctx context.Context, userID string, id int64) (*models.AlertRule, error) {
	rule, err := s.rules.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if rule.UserID != userID {
		return nil, models.ErrRuleNotFound
	}
	return rule, nil
}

// Logs returns one page of userID's alert log, newest first.
func (s *AlertService) Logs(ctx context.Context, userID string, page, size int) ([]models.AlertLog, int64, error) {
	return s.logs.ListLogs(ctx, userID, page, size)
}

func (s *AlertService) UnreadLogs(ctx context.Context, userID string) ([]models.AlertLog, error) {
	return s.logs.ListUnreadLogs(ctx, userID)
}

func (s *AlertService) UnreadCount(ctx context.Context, userID string) (int64, error) {
	return s.logs.CountUnreadLogs(ctx, userID)
}

// MarkRead marks one of userID's log entries read.
func (s *AlertService) MarkRead(ctx context.Context, userID string, id int64) error {
	entry, err := s.logs.GetLog(ctx, id)
	if err != nil {
		return err
	}
	if entry.UserID != userID {
		return models.ErrRecordNotFound
	}
	return s.logs.MarkLogRead(ctx, id)
}

// MarkAllRead marks every unread entry of userID read.
func (s *AlertService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	return s.logs.MarkAllLogsRead(ctx, userID)
}

// ValidateRuleInput checks the enums and a finite threshold.
func ValidateRuleInput(in models.AlertRuleInput) error {
	var errs []error
	if !in.Type.Valid() {
		errs = append(errs, models.InvalidConfig("unknown rule type %q", in.Type))
	}
	if !in.ConditionType.Valid() {
		errs = append(errs, models.InvalidConfig("unknown condition %q", in.ConditionType))
	}
	if in.Threshold == nil {
		errs = append(errs, models.InvalidConfig("threshold is required"))
	} else if math.IsNaN(*in.Threshold) || math.IsInf(*in.Threshold, 0) {
		errs = append(errs, models.InvalidConfig("threshold must be finite"))
	}
	return errors.Join(errs...)
}
