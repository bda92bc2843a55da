package lifecycle

import (
	"context"

	"go.uber.org/zap"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/internal/phishing"
	"github.com/jamiejackherer/cerberus-core/internal/rules"
)

// ReportRuleEnvironment exposes report facts as rule variables and a small
// set of audited rule actions.
type ReportRuleEnvironment struct {
	phishing phishing.Checker
	logger   *zap.Logger
}

func NewReportRuleEnvironment(checker phishing.Checker, logger *zap.Logger) *ReportRuleEnvironment {
	return &ReportRuleEnvironment{phishing: checker, logger: logger}
}

// Variables builds the per-evaluation variable registry. Values resolve
// lazily and are cached by the registry for the evaluation's lifetime.
func (e *ReportRuleEnvironment) Variables(report *domain.Report, trusted bool) rules.VariableProvider {
	registry := rules.NewVariableRegistry(trusted)

	_ = registry.Register("report_category", func(ctx context.Context, _ bool) (any, error) {
		return string(report.Category), nil
	})
	_ = registry.Register("report_trusted", func(ctx context.Context, trusted bool) (any, error) {
		return trusted, nil
	})
	_ = registry.Register("report_item_count", func(ctx context.Context, _ bool) (any, error) {
		return len(report.Items), nil
	})
	_ = registry.Register("all_items_phishing", func(ctx context.Context, _ bool) (any, error) {
		if len(report.Items) == 0 {
			return false, nil
		}
		for _, item := range report.Items {
			if item.ItemType != domain.ItemTypeURL && item.ItemType != domain.ItemTypeFQDN {
				return false, nil
			}
		}
		return true, nil
	})
	_ = registry.Register("urls_down", func(ctx context.Context, _ bool) (any, error) {
		return e.phishing.AllDown(ctx, []domain.Report{*report})
	})
	return registry
}

// Actions builds the action registry evaluated after a match. The actions
// only record outcomes; downstream ticket creation is driven elsewhere.
func (e *ReportRuleEnvironment) Actions(report *domain.Report, lang string) rules.ActionExecutor {
	registry := rules.NewActionRegistry()

	_ = registry.Register("attach_report_to_ticket", func(ctx context.Context, params map[string]any) error {
		e.logger.Info("report attached to ticket workflow",
			zap.String("report", report.ID), zap.String("lang", lang))
		return nil
	})
	_ = registry.Register("log_match", func(ctx context.Context, params map[string]any) error {
		e.logger.Info("rule matched for report", zap.String("report", report.ID))
		return nil
	})
	return registry
}
