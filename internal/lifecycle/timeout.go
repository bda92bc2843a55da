package lifecycle

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/internal/events"
	"github.com/jamiejackherer/cerberus-core/internal/schedule"
	"github.com/jamiejackherer/cerberus-core/pkg/util"
)

const (
	// dispatch tuning for remediation jobs
	dispatchDelay          = 3 * time.Second
	dispatchTimeout        = time.Hour
	dispatchResultTTL      = 500 * time.Second
	completionPollInterval = 5 * time.Second
)

const ambiguousIPComment = "None or multiple ip addresses for this ticket"

// Timeout runs the expiry remediation for a ticket whose answer window
// elapsed without a defendant reply. Non-conformant tickets are skipped
// silently: the only outcomes are remediation, early close, ActionError or
// a logged no-op.
func (c *Controller) Timeout(ctx context.Context, ticketID string) error {
	ticket, err := c.tickets.GetByID(ctx, ticketID)
	if err != nil {
		c.logger.Error("ticket cannot be found, skipping",
			zap.String("ticket", ticketID), zap.Error(err))
		return nil
	}

	if err := c.checkTimeoutConformance(ctx, ticket); err != nil {
		c.logger.Info("ticket not conformant for timeout, skipping",
			zap.String("ticket", ticket.ID), zap.Error(err))
		return nil
	}

	action, err := c.policy.ActionForTimeout(ctx, ticket)
	if err != nil {
		c.logger.Error("error while resolving timeout action",
			zap.String("ticket", ticket.ID), zap.Error(err))
		return nil
	}
	if action == nil {
		c.logger.Info("no timeout action for service, skipping",
			zap.String("ticket", ticket.ID))
		return nil
	}

	reports, err := c.reports.ListByTicket(ctx, ticket.ID)
	if err != nil {
		c.logger.Error("error while listing ticket reports",
			zap.String("ticket", ticket.ID), zap.Error(err))
		return nil
	}

	if ticket.Category == domain.CategoryPhishing {
		allDown, err := c.phishing.AllDown(ctx, reports)
		if err != nil {
			c.logger.Error("error while probing phishing items",
				zap.String("ticket", ticket.ID), zap.Error(err))
		} else if allDown {
			c.logger.Info("all phishing items down, closing without action",
				zap.String("ticket", ticket.ID))
			return c.Close(ctx, ticket, ReasonFixedCustomer, false)
		}
	}

	ip, ok := uniqueActionIP(reports)
	if !ok {
		c.markActionError(ctx, ticket)
		return nil
	}

	if err := c.applyTimeoutAction(ctx, ticket, ip, action); err != nil {
		c.metrics.RecordDispatch("failed")
		c.logger.Error("error while executing service action",
			zap.String("ticket", ticket.ID), zap.Error(err))
		return nil
	}
	c.metrics.RecordDispatch("succeeded")

	// reload: the action run may have touched the ticket
	ticket, err = c.tickets.GetByID(ctx, ticket.ID)
	if err != nil {
		return err
	}
	return c.Close(ctx, ticket, ReasonFixed, true)
}

// checkTimeoutConformance gates timeout remediation. Every rejection wraps
// ErrNotConformant with the failing condition.
func (c *Controller) checkTimeoutConformance(ctx context.Context, ticket *domain.Ticket) error {
	if ticket.Defendant == nil || ticket.Service == nil {
		return fmt.Errorf("%w: no defendant or service", util.ErrNotConformant)
	}
	switch ticket.Status {
	case domain.TicketStatusClosed, domain.TicketStatusAnswered:
		return fmt.Errorf("%w: invalid status %s", util.ErrNotConformant, ticket.Status)
	}
	if !timeoutCategories[ticket.Category] {
		return fmt.Errorf("%w: invalid category %s", util.ErrNotConformant, ticket.Category)
	}
	if ticket.TreatedBy != nil {
		return fmt.Errorf("%w: ticket is assigned", util.ErrNotConformant)
	}
	count, err := c.jobs.CountByTicket(ctx, ticket.ID)
	if err != nil {
		return fmt.Errorf("count ticket jobs: %w", err)
	}
	if count > 0 {
		return fmt.Errorf("%w: ticket already has jobs", util.ErrNotConformant)
	}
	return nil
}

// uniqueActionIP gathers the candidate addresses from all attached reports:
// IP items directly, plus the resolved address of FQDN and URL items. The
// action can only target exactly one distinct address.
func uniqueActionIP(reports []domain.Report) (string, bool) {
	seen := make(map[string]bool)
	for _, report := range reports {
		for _, item := range report.Items {
			switch item.ItemType {
			case domain.ItemTypeIP:
				if item.IP != "" {
					seen[item.IP] = true
				}
			case domain.ItemTypeFQDN, domain.ItemTypeURL:
				if item.FQDNResolved != "" {
					seen[item.FQDNResolved] = true
				}
			}
		}
	}
	if len(seen) != 1 {
		return "", false
	}
	for ip := range seen {
		return ip, true
	}
	return "", false
}

// markActionError parks the ticket in ActionError with a bot comment so a
// human can resolve the ambiguity.
func (c *Controller) markActionError(ctx context.Context, ticket *domain.Ticket) {
	c.logger.Error(ambiguousIPComment, zap.String("ticket", ticket.ID))

	if err := c.SetStatus(ctx, ticket, domain.TicketStatusActionError, true); err != nil {
		c.logger.Error("error while setting action error status",
			zap.String("ticket", ticket.ID), zap.Error(err))
		return
	}

	bot, err := c.operators.Bot(ctx)
	if err != nil {
		c.logger.Error("bot operator cannot be found", zap.Error(err))
		return
	}
	comment := &domain.Comment{
		TicketID:   ticket.ID,
		OperatorID: bot.ID,
		Body:       ambiguousIPComment,
	}
	if err := c.comments.Create(ctx, comment); err != nil {
		c.logger.Error("error while creating bot comment",
			zap.String("ticket", ticket.ID), zap.Error(err))
		return
	}
	c.audit.TicketAction(ctx, ticket.ID, domain.ActionAddComment, map[string]any{
		"user":    bot.Username,
		"comment": ambiguousIPComment,
	})
}

// applyTimeoutAction records the chosen action, dispatches it through the
// scheduler and blocks until the remediation job reaches a terminal state.
// The audit entry is written before dispatch so a crash mid-flight still
// leaves a trace of intent.
func (c *Controller) applyTimeoutAction(ctx context.Context, ticket *domain.Ticket, ip string, action *domain.Action) error {
	ticket.ActionID = &action.ID
	c.audit.TicketAction(ctx, ticket.ID, domain.ActionSetAction, map[string]any{
		"action_name": action.Name,
	})
	if err := c.tickets.Update(ctx, ticket); err != nil {
		return fmt.Errorf("record action on ticket: %w", err)
	}

	asyncJob, err := c.scheduler.Schedule(ctx, c.now().Add(dispatchDelay), FuncApplyAction, map[string]any{
		"ticket_id": ticket.ID,
		"action_id": action.ID,
		"ip_addr":   ip,
	}, schedule.Options{Timeout: dispatchTimeout, ResultTTL: dispatchResultTTL})
	if err != nil {
		return fmt.Errorf("%w: %v", util.ErrDispatchFailed, err)
	}

	job := &domain.ServiceActionJob{
		TicketID:   ticket.ID,
		IP:         ip,
		ActionID:   action.ID,
		AsyncJobID: asyncJob.ID,
		Status:     string(domain.JobStatusPending),
	}
	if err := c.jobs.Create(ctx, job); err != nil {
		return fmt.Errorf("record service action job: %w", err)
	}

	c.publish(ctx, events.Event{
		Type:     events.EventActionDispatched,
		TicketID: ticket.ID,
		Payload: events.ActionDispatchedPayload{
			ActionName: action.Name,
			IP:         ip,
			AsyncJobID: asyncJob.ID,
		},
	})

	if err := c.waitForCompletion(ctx, asyncJob.ID); err != nil {
		return err
	}
	if err := c.jobs.UpdateStatus(ctx, job.ID, string(domain.JobStatusCompleted)); err != nil {
		c.logger.Error("error while updating job status",
			zap.String("job", job.ID), zap.Error(err))
	}
	return nil
}

// waitForCompletion blocks until the job reaches a terminal state or the
// dispatch timeout elapses. Schedulers that push completion notifications
// are preferred; polling is the fallback.
func (c *Controller) waitForCompletion(ctx context.Context, asyncJobID string) error {
	if completer, ok := c.scheduler.(schedule.Completer); ok {
		done, err := completer.Done(ctx, asyncJobID)
		if err == nil {
			return c.awaitNotification(ctx, asyncJobID, done)
		}
		c.logger.Warn("completion notification unavailable, polling instead",
			zap.String("job", asyncJobID), zap.Error(err))
	}
	return c.pollCompletion(ctx, asyncJobID)
}

func (c *Controller) awaitNotification(ctx context.Context, asyncJobID string, done <-chan schedule.Status) error {
	timer := time.NewTimer(dispatchDelay + dispatchTimeout)
	defer timer.Stop()

	select {
	case status, ok := <-done:
		if !ok {
			// channel torn down without a verdict, e.g. the pubsub
			// subscription closed on cancellation
			if err := ctx.Err(); err != nil {
				return err
			}
			return fmt.Errorf("%w: job %s completion channel closed", util.ErrDispatchFailed, asyncJobID)
		}
		if status == schedule.StatusFinished {
			return nil
		}
		return fmt.Errorf("%w: job %s ended with status %s", util.ErrDispatchFailed, asyncJobID, status)
	case <-timer.C:
		return fmt.Errorf("%w: job %s did not finish in time", util.ErrDispatchFailed, asyncJobID)
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) pollCompletion(ctx context.Context, asyncJobID string) error {
	deadline := c.now().Add(dispatchDelay + dispatchTimeout)
	ticker := time.NewTicker(c.completionPoll)
	defer ticker.Stop()

	for {
		status, err := c.scheduler.Status(ctx, asyncJobID)
		if err != nil {
			return fmt.Errorf("%w: %v", util.ErrDispatchFailed, err)
		}
		switch status {
		case schedule.StatusFinished:
			return nil
		case schedule.StatusFailed, schedule.StatusCancelled:
			return fmt.Errorf("%w: job %s ended with status %s", util.ErrDispatchFailed, asyncJobID, status)
		}
		if c.now().After(deadline) {
			return fmt.Errorf("%w: job %s did not finish in time", util.ErrDispatchFailed, asyncJobID)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}
