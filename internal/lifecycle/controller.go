// Package lifecycle drives abuse tickets through their status lifecycle:
// waiting/paused sweeps, the presence sweep, timeout remediation and the
// closing side effects.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jamiejackherer/cerberus-core/internal/audit"
	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/internal/events"
	"github.com/jamiejackherer/cerberus-core/internal/mailer"
	"github.com/jamiejackherer/cerberus-core/internal/observability"
	"github.com/jamiejackherer/cerberus-core/internal/phishing"
	"github.com/jamiejackherer/cerberus-core/internal/policy"
	"github.com/jamiejackherer/cerberus-core/internal/repository"
	"github.com/jamiejackherer/cerberus-core/internal/rules"
	"github.com/jamiejackherer/cerberus-core/internal/schedule"
	"github.com/jamiejackherer/cerberus-core/pkg/util"
)

// Scheduled function names the lifecycle enqueues or cancels.
const (
	FuncApplyAction     = "action.apply_action"
	FuncApplyIfNoReply  = "action.apply_if_no_reply"
	FuncApplyThenClose  = "action.apply_then_close"
	FuncTicketTimeout   = "ticket.timeout"
	FuncCloseMailThread = "ticket.close_emails_thread"
)

// Resolution codenames recorded when closing.
const (
	ReasonFixed         = "fixed"
	ReasonFixedCustomer = "fixed_customer"
)

const (
	phishingAutoclosedTag  = "phishing_autoclosed"
	copyrightAutoclosedTag = "copyright_autoclosed"

	unassignFlagModel = "ticket"
	unassignFlagName  = "unassignedOnMultipleAlarm"

	// horizon used when enumerating pending jobs for delay/cancel
	pendingHorizon = 7 * 24 * time.Hour

	presenceIdleThreshold = 24 * time.Hour
)

// cancellableJobFuncs are queue functions cancelled wholesale for a ticket
// when its lifecycle ends or restarts.
var cancellableJobFuncs = map[string]bool{
	FuncApplyIfNoReply: true,
	FuncApplyThenClose: true,
	FuncApplyAction:    true,
	FuncTicketTimeout:  true,
}

// unassignSequence is the exact newest-first status history pattern that
// triggers auto-unassignment.
var unassignSequence = [3]domain.TicketStatus{
	domain.TicketStatusWaitingAnswer,
	domain.TicketStatusAlarm,
	domain.TicketStatusWaitingAnswer,
}

// timeoutCategories are the only categories eligible for timeout actions.
var timeoutCategories = map[domain.TicketCategory]bool{
	domain.CategoryPhishing:  true,
	domain.CategoryCopyright: true,
	domain.CategoryIllegal:   true,
}

// presenceExcludedStatuses are left alone by the follow-the-sun sweep.
var presenceExcludedStatuses = []domain.TicketStatus{
	domain.TicketStatusOpen,
	domain.TicketStatusReopened,
	domain.TicketStatusPaused,
	domain.TicketStatusClosed,
}

// RuleEnvironment builds the variable/action registries evaluated against
// a report context.
type RuleEnvironment interface {
	Variables(report *domain.Report, trusted bool) rules.VariableProvider
	Actions(report *domain.Report, lang string) rules.ActionExecutor
}

// Dependencies bundles the controller's collaborators.
type Dependencies struct {
	Tickets   repository.TicketRepository
	Reports   repository.ReportRepository
	Jobs      repository.JobRepository
	History   repository.HistoryRepository
	Operators repository.OperatorRepository
	Providers repository.ProviderRepository
	Tags      repository.TagRepository
	Comments  repository.CommentRepository
	Rules     repository.RuleRepository

	Scheduler  schedule.Scheduler
	Policy     policy.Service
	Mailer     mailer.Mailer
	Audit      audit.Log
	Phishing   phishing.Checker
	Engine     *rules.Engine
	RuleEnv    RuleEnvironment
	Dispatcher events.Dispatcher
	Metrics    *observability.Metrics
	Logger     *zap.Logger

	// Now substitutes the clock in tests. Defaults to time.Now in UTC.
	Now func() time.Time
	// CompletionPoll overrides the dispatch completion poll cadence.
	CompletionPoll time.Duration
}

// Controller owns the ticket status state machine.
type Controller struct {
	tickets   repository.TicketRepository
	reports   repository.ReportRepository
	jobs      repository.JobRepository
	history   repository.HistoryRepository
	operators repository.OperatorRepository
	providers repository.ProviderRepository
	tags      repository.TagRepository
	comments  repository.CommentRepository
	rules     repository.RuleRepository

	scheduler  schedule.Scheduler
	policy     policy.Service
	mailer     mailer.Mailer
	audit      audit.Log
	phishing   phishing.Checker
	engine     *rules.Engine
	ruleEnv    RuleEnvironment
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger

	now            func() time.Time
	completionPoll time.Duration
}

// NewController constructs the controller.
func NewController(deps Dependencies) *Controller {
	now := deps.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	poll := deps.CompletionPoll
	if poll <= 0 {
		poll = completionPollInterval
	}
	return &Controller{
		tickets:        deps.Tickets,
		reports:        deps.Reports,
		jobs:           deps.Jobs,
		history:        deps.History,
		operators:      deps.Operators,
		providers:      deps.Providers,
		tags:           deps.Tags,
		comments:       deps.Comments,
		rules:          deps.Rules,
		scheduler:      deps.Scheduler,
		policy:         deps.Policy,
		mailer:         deps.Mailer,
		audit:          deps.Audit,
		phishing:       deps.Phishing,
		engine:         deps.Engine,
		ruleEnv:        deps.RuleEnv,
		dispatcher:     deps.Dispatcher,
		metrics:        deps.Metrics,
		logger:         deps.Logger,
		now:            now,
		completionPoll: poll,
	}
}

// SetStatus transitions a ticket and records the change. When resetSnooze
// is true the snooze timer is cleared as part of the transition.
func (c *Controller) SetStatus(ctx context.Context, ticket *domain.Ticket, status domain.TicketStatus, resetSnooze bool) error {
	old := ticket.Status
	if old == status {
		return nil
	}
	ticket.Status = status
	if resetSnooze {
		ticket.SnoozeStart = nil
		ticket.SnoozeDuration = 0
	}
	if err := c.tickets.Update(ctx, ticket); err != nil {
		return err
	}
	c.audit.StatusChange(ctx, ticket.ID, nil, status)
	c.metrics.RecordTransition(string(old), string(status))
	c.publish(ctx, events.Event{
		Type:     events.EventTicketStatusChanged,
		TicketID: ticket.ID,
		Payload:  events.StatusChangedPayload{OldStatus: old, NewStatus: status},
	})
	return nil
}

// UpdateWaiting sweeps WaitingAnswer tickets whose snooze expired and moves
// them to Alarm. Per-ticket failures are logged and never abort the sweep.
func (c *Controller) UpdateWaiting(ctx context.Context) error {
	c.metrics.RecordSweep("update_waiting")
	tickets, err := c.tickets.ListByStatus(ctx, domain.TicketStatusWaitingAnswer)
	if err != nil {
		return fmt.Errorf("list waiting tickets: %w", err)
	}

	now := c.now()
	for i := range tickets {
		ticket := &tickets[i]
		if !ticket.SnoozeExpired(now) {
			continue
		}
		c.logger.Debug("waiting ticket expired", zap.String("ticket", ticket.ID))
		c.checkAutoUnassign(ctx, ticket)
		if err := c.SetStatus(ctx, ticket, domain.TicketStatusAlarm, true); err != nil {
			c.logger.Error("error while updating waiting ticket",
				zap.String("ticket", ticket.ID), zap.Error(err))
		}
	}
	return nil
}

// checkAutoUnassign clears the assignment and escalates when the last three
// status changes repeat the waiting/alarm pattern and the operator's role
// opts in. Any lookup failure means "do not unassign".
func (c *Controller) checkAutoUnassign(ctx context.Context, ticket *domain.Ticket) {
	if ticket.TreatedBy == nil {
		return
	}
	operator, err := c.operators.GetByID(ctx, *ticket.TreatedBy)
	if err != nil || operator.Role == nil {
		return
	}
	if !operator.Role.Authorizations.Allows(unassignFlagModel, unassignFlagName) {
		return
	}
	history, err := c.history.LastStatuses(ctx, ticket.ID, len(unassignSequence))
	if err != nil || len(history) != len(unassignSequence) {
		return
	}
	for i := range unassignSequence {
		if history[i] != unassignSequence[i] {
			return
		}
	}

	c.audit.TicketAction(ctx, ticket.ID, domain.ActionChangeTreatedBy, map[string]any{
		"previous_value": operator.Username,
	})
	c.audit.TicketAction(ctx, ticket.ID, domain.ActionUpdateProperty, map[string]any{
		"property":       "escalated",
		"previous_value": ticket.Escalated,
		"new_value":      true,
	})
	ticket.TreatedBy = nil
	ticket.Escalated = true
	c.publish(ctx, events.Event{
		Type:     events.EventTicketUnassigned,
		TicketID: ticket.ID,
		Payload:  events.TicketUnassignedPayload{PreviousOperator: operator.Username},
	})
	c.logger.Debug("unassigning ticket because of operator role configuration",
		zap.String("ticket", ticket.ID))
}

// Pause freezes a ticket's timers for the given duration, remembering the
// status to restore, and pushes the ticket's pending jobs out accordingly.
func (c *Controller) Pause(ctx context.Context, ticketID string, duration time.Duration) error {
	ticket, err := c.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status == domain.TicketStatusPaused {
		return nil
	}
	now := c.now()
	ticket.PreviousStatus = ticket.Status
	ticket.PauseStart = &now
	ticket.PauseDuration = duration
	if err := c.SetStatus(ctx, ticket, domain.TicketStatusPaused, false); err != nil {
		return err
	}
	c.DelayJobs(ctx, ticket, duration, false)
	return nil
}

// Unpause restores a paused ticket immediately, crediting the unused pause
// time back onto its pending jobs.
func (c *Controller) Unpause(ctx context.Context, ticketID string) error {
	ticket, err := c.tickets.GetByID(ctx, ticketID)
	if err != nil {
		return err
	}
	if ticket.Status != domain.TicketStatusPaused {
		return nil
	}
	remaining := time.Duration(0)
	if ticket.PauseStart != nil {
		elapsed := c.now().Sub(*ticket.PauseStart)
		if elapsed < ticket.PauseDuration {
			remaining = ticket.PauseDuration - elapsed
		}
	}
	if err := c.restorePaused(ctx, ticket); err != nil {
		return err
	}
	if remaining > 0 {
		c.DelayJobs(ctx, ticket, remaining, true)
	}
	return nil
}

// UpdatePaused sweeps paused tickets whose pause window elapsed and
// restores their previous status.
func (c *Controller) UpdatePaused(ctx context.Context) error {
	c.metrics.RecordSweep("update_paused")
	tickets, err := c.tickets.ListByStatus(ctx, domain.TicketStatusPaused)
	if err != nil {
		return fmt.Errorf("list paused tickets: %w", err)
	}

	now := c.now()
	for i := range tickets {
		ticket := &tickets[i]
		if !ticket.PauseExpired(now) {
			continue
		}
		c.logger.Debug("paused ticket expired", zap.String("ticket", ticket.ID))
		if err := c.restorePaused(ctx, ticket); err != nil {
			c.logger.Error("error while updating paused ticket",
				zap.String("ticket", ticket.ID), zap.Error(err))
		}
	}
	return nil
}

// restorePaused returns a ticket to its pre-pause status. Pause time does
// not count against the snooze clock, so a paused WaitingAnswer ticket gets
// the elapsed pause added back into its snooze duration.
func (c *Controller) restorePaused(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.PreviousStatus == domain.TicketStatusWaitingAnswer && ticket.SnoozeActive() && ticket.PauseStart != nil {
		ticket.SnoozeDuration += c.now().Sub(*ticket.PauseStart)
	}
	restored := ticket.PreviousStatus
	if restored == "" {
		restored = domain.TicketStatusAlarm
	}
	ticket.PauseStart = nil
	ticket.PauseDuration = 0
	ticket.PreviousStatus = ""
	return c.SetStatus(ctx, ticket, restored, false)
}

// FollowTheSun flips the alarm flag on active tickets of operators who have
// not logged in for a day. Full rescan, idempotent.
func (c *Controller) FollowTheSun(ctx context.Context) error {
	c.metrics.RecordSweep("follow_the_sun")
	operators, err := c.operators.ListHumans(ctx)
	if err != nil {
		return fmt.Errorf("list operators: %w", err)
	}

	now := c.now()
	for _, operator := range operators {
		away := operator.LastLogin == nil || now.After(operator.LastLogin.Add(presenceIdleThreshold))
		if away {
			c.logger.Debug("operator away, raising alarm", zap.String("operator", operator.Username))
		} else {
			c.logger.Debug("operator present, clearing alarm", zap.String("operator", operator.Username))
		}
		if err := c.tickets.SetAlarmForOperator(ctx, operator.ID, away, presenceExcludedStatuses); err != nil {
			c.logger.Error("error while updating operator tickets",
				zap.String("operator", operator.Username), zap.Error(err))
		}
	}
	return nil
}

// DelayJobs reschedules the ticket's still-pending jobs by delay: forward
// when pausing or snoozing, back when crediting elapsed time on unpause.
func (c *Controller) DelayJobs(ctx context.Context, ticket *domain.Ticket, delay time.Duration, back bool) {
	if delay <= 0 {
		c.logger.Error("missing delay, skipping", zap.String("ticket", ticket.ID))
		return
	}
	pending, err := c.scheduler.Pending(ctx, pendingHorizon)
	if err != nil {
		c.logger.Error("error while listing pending jobs", zap.Error(err))
		return
	}
	pendingByID := make(map[string]schedule.Job, len(pending))
	for _, job := range pending {
		pendingByID[job.ID] = job
	}

	ticketJobs, err := c.jobs.ListByTicket(ctx, ticket.ID)
	if err != nil {
		c.logger.Error("error while listing ticket jobs",
			zap.String("ticket", ticket.ID), zap.Error(err))
		return
	}
	for _, job := range ticketJobs {
		queued, ok := pendingByID[job.AsyncJobID]
		if !ok {
			continue
		}
		newTime := queued.RunAt.Add(delay)
		if back {
			newTime = queued.RunAt.Add(-delay)
		}
		if err := c.scheduler.Reschedule(ctx, job.AsyncJobID, newTime); err != nil {
			c.logger.Error("error while rescheduling job",
				zap.String("job", job.AsyncJobID), zap.Error(err))
		}
	}
}

// CancelScheduledJobs cancels every pending scheduled job tied to the
// ticket, plus any queued cancellable function carrying its id. Idempotent:
// already-finished or unknown jobs are no-ops.
func (c *Controller) CancelScheduledJobs(ctx context.Context, ticketID, reason string) error {
	ticketJobs, err := c.jobs.ListByTicket(ctx, ticketID)
	if err != nil {
		return err
	}

	cancelled := 0
	for _, job := range ticketJobs {
		queued, err := c.scheduler.Contains(ctx, job.AsyncJobID)
		if err != nil {
			c.logger.Error("error while checking job", zap.String("job", job.AsyncJobID), zap.Error(err))
			continue
		}
		if !queued {
			continue
		}
		if err := c.scheduler.Cancel(ctx, job.AsyncJobID); err != nil {
			c.logger.Error("error while cancelling job", zap.String("job", job.AsyncJobID), zap.Error(err))
			continue
		}
		cancelled++
		if err := c.jobs.UpdateStatus(ctx, job.ID, "cancelled by "+reason); err != nil {
			c.logger.Error("error while updating job status", zap.String("job", job.ID), zap.Error(err))
		}
	}

	pending, err := c.scheduler.Pending(ctx, pendingHorizon)
	if err != nil {
		return err
	}
	for _, job := range pending {
		if !cancellableJobFuncs[job.Func] {
			continue
		}
		if id, ok := job.Kwargs["ticket_id"].(string); !ok || id != ticketID {
			continue
		}
		if err := c.scheduler.Cancel(ctx, job.ID); err != nil {
			c.logger.Error("error while cancelling queue job", zap.String("job", job.ID), zap.Error(err))
			continue
		}
		cancelled++
	}

	c.publish(ctx, events.Event{
		Type:     events.EventJobsCancelled,
		TicketID: ticketID,
		Payload:  events.JobsCancelledPayload{Reason: reason, Count: cancelled},
	})
	return nil
}

// CloseEmailsThread closes the ticket's mail conversation.
func (c *Controller) CloseEmailsThread(ctx context.Context, ticketID string) error {
	ticket, err := c.tickets.GetByID(ctx, ticketID)
	if errors.Is(err, util.ErrNotFound) {
		c.logger.Error("ticket cannot be found, skipping", zap.String("ticket", ticketID))
		return nil
	}
	if err != nil {
		return err
	}
	return c.mailer.CloseThread(ctx, ticket)
}

// Close closes a ticket with the given resolution, notifying the contacted
// providers and the defendant, tagging autoclosed categories and cancelling
// pending jobs. Closing an already-closed ticket is a no-op.
func (c *Controller) Close(ctx context.Context, ticket *domain.Ticket, reason string, serviceBlocked bool) error {
	if ticket.Status == domain.TicketStatusClosed {
		return nil
	}

	providerEmails, err := c.providers.ContactedEmails(ctx, ticket.ID)
	if err != nil {
		c.logger.Error("error while listing contacted providers",
			zap.String("ticket", ticket.ID), zap.Error(err))
	}
	if err := c.mailer.SendEmail(ctx, ticket, providerEmails, mailer.TemplateCaseClosed, ""); err != nil {
		c.logger.Error("error while sending provider notification",
			zap.String("ticket", ticket.ID), zap.Error(err))
	}

	if ticket.Defendant != nil && ticket.Defendant.Email != "" {
		template := mailer.TemplateTicketClosed
		if serviceBlocked {
			template = mailer.TemplateServiceBlocked
		}
		if err := c.mailer.SendEmail(ctx, ticket, []string{ticket.Defendant.Email}, template, ticket.Defendant.Lang); err != nil {
			c.logger.Error("error while sending defendant notification",
				zap.String("ticket", ticket.ID), zap.Error(err))
		}
	}

	c.addAutocloseTag(ctx, ticket)

	if err := c.CancelScheduledJobs(ctx, ticket.ID, "closed"); err != nil {
		c.logger.Error("error while cancelling scheduled jobs",
			zap.String("ticket", ticket.ID), zap.Error(err))
	}
	if err := c.mailer.CloseThread(ctx, ticket); err != nil {
		c.logger.Error("error while closing email thread",
			zap.String("ticket", ticket.ID), zap.Error(err))
	}

	now := c.now()
	ticket.Resolution = reason
	ticket.ClosedAt = &now
	if err := c.SetStatus(ctx, ticket, domain.TicketStatusClosed, true); err != nil {
		return err
	}
	c.publish(ctx, events.Event{
		Type:     events.EventTicketClosed,
		TicketID: ticket.ID,
		Payload:  events.TicketClosedPayload{Resolution: reason, ServiceBlocked: serviceBlocked},
	})
	return nil
}

// addAutocloseTag applies the category-specific autoclose tag.
func (c *Controller) addAutocloseTag(ctx context.Context, ticket *domain.Ticket) {
	var tagName string
	switch ticket.Category {
	case domain.CategoryPhishing:
		tagName = phishingAutoclosedTag
	case domain.CategoryCopyright:
		tagName = copyrightAutoclosedTag
	default:
		return
	}

	tag, err := c.tags.GetByName(ctx, tagName)
	if err != nil {
		c.logger.Error("error while resolving tag", zap.String("tag", tagName), zap.Error(err))
		return
	}
	if err := c.tickets.AddTag(ctx, ticket.ID, tag.ID); err != nil {
		c.logger.Error("error while tagging ticket",
			zap.String("ticket", ticket.ID), zap.String("tag", tagName), zap.Error(err))
		return
	}
	ticket.Tags = append(ticket.Tags, tagName)
	c.audit.TicketAction(ctx, ticket.ID, domain.ActionAddTag, map[string]any{"tag_name": tagName})
}

// CreateTicketFromPhishToCheck re-applies the phishing_up rule for a
// validated phishtocheck report, skipping the conditions the human reviewer
// already vouched for.
func (c *Controller) CreateTicketFromPhishToCheck(ctx context.Context, reportID, operatorID string) error {
	report, err := c.reports.GetByID(ctx, reportID)
	if err != nil {
		return err
	}
	operator, err := c.operators.GetByID(ctx, operatorID)
	if err != nil {
		return err
	}

	rule, err := c.rules.GetByName(ctx, "phishing_up")
	if err != nil {
		return err
	}
	rule = rule.StripConditions("all_items_phishing", "urls_down")

	vars := c.ruleEnv.Variables(report, true)
	actions := c.ruleEnv.Actions(report, "EN")

	matched, err := c.engine.Run(ctx, rule, vars, actions)
	if err != nil {
		return err
	}
	if !matched {
		return fmt.Errorf("rule %q not applied for report %s", rule.Name, reportID)
	}

	if report.TicketID != nil {
		c.audit.TicketAction(ctx, *report.TicketID, domain.ActionValidatePhishToCheck, map[string]any{
			"user":   operator.Username,
			"report": report.ID,
		})
	}
	return nil
}

func (c *Controller) publish(ctx context.Context, event events.Event) {
	if c.dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = c.now()
	}
	_ = c.dispatcher.Publish(ctx, event)
}
