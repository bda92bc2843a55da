package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/internal/schedule"
	"github.com/jamiejackherer/cerberus-core/pkg/util"
)

func conformantTicket(id string, category domain.TicketCategory) *domain.Ticket {
	return &domain.Ticket{
		ID:        id,
		PublicID:  "AB" + id,
		Status:    domain.TicketStatusWaitingAnswer,
		Category:  category,
		Defendant: &domain.Defendant{ID: "d1", Email: "defendant@example.com"},
		Service:   &domain.Service{ID: "s1", Name: "vps-1", ComponentType: "vps"},
	}
}

func blockAction() *domain.Action {
	return &domain.Action{ID: "vps_block", Name: "block VPS", Module: "vps", Level: "block"}
}

func ipReport(ticketID string, ips ...string) *domain.Report {
	report := &domain.Report{ID: "r-" + ticketID, TicketID: &ticketID, Category: domain.CategoryPhishing}
	for _, ip := range ips {
		report.Items = append(report.Items, domain.ReportItem{ItemType: domain.ItemTypeIP, IP: ip})
	}
	return report
}

func TestTimeoutSkipsNonConformantTickets(t *testing.T) {
	operatorID := "op1"
	tests := []struct {
		name   string
		mutate func(*testing.T, *testEnv, *domain.Ticket)
	}{
		{
			name: "no defendant",
			mutate: func(t *testing.T, env *testEnv, ticket *domain.Ticket) {
				ticket.Defendant = nil
			},
		},
		{
			name: "no service",
			mutate: func(t *testing.T, env *testEnv, ticket *domain.Ticket) {
				ticket.Service = nil
			},
		},
		{
			name: "closed status",
			mutate: func(t *testing.T, env *testEnv, ticket *domain.Ticket) {
				ticket.Status = domain.TicketStatusClosed
			},
		},
		{
			name: "answered status",
			mutate: func(t *testing.T, env *testEnv, ticket *domain.Ticket) {
				ticket.Status = domain.TicketStatusAnswered
			},
		},
		{
			name: "ineligible category",
			mutate: func(t *testing.T, env *testEnv, ticket *domain.Ticket) {
				ticket.Category = domain.CategorySpam
			},
		},
		{
			name: "assigned ticket",
			mutate: func(t *testing.T, env *testEnv, ticket *domain.Ticket) {
				ticket.TreatedBy = &operatorID
			},
		},
		{
			name: "pre-existing job",
			mutate: func(t *testing.T, env *testEnv, ticket *domain.Ticket) {
				require.NoError(t, env.jobs.Create(context.Background(), &domain.ServiceActionJob{
					TicketID: ticket.ID,
					Status:   string(domain.JobStatusPending),
				}))
			},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ticket := conformantTicket("t1", domain.CategoryPhishing)
			env := newTestEnv(t)
			tc.mutate(t, env, ticket)
			env.tickets.tickets["t1"] = ticket
			env.policy.action = blockAction()

			require.NoError(t, env.controller.Timeout(context.Background(), "t1"))

			after := env.ticket(t, "t1")
			assert.Equal(t, ticket.Status, after.Status, "status untouched")
			pending, err := env.sched.Pending(context.Background(), pendingHorizon)
			require.NoError(t, err)
			assert.Empty(t, pending, "nothing dispatched")
		})
	}
}

func TestTimeoutUnknownTicketIsANoOp(t *testing.T) {
	env := newTestEnv(t)
	require.NoError(t, env.controller.Timeout(context.Background(), "missing"))
}

func TestTimeoutWithoutPolicyActionIsANoOp(t *testing.T) {
	env := newTestEnv(t, conformantTicket("t1", domain.CategoryCopyright))
	env.policy.action = nil

	require.NoError(t, env.controller.Timeout(context.Background(), "t1"))

	after := env.ticket(t, "t1")
	assert.Equal(t, domain.TicketStatusWaitingAnswer, after.Status)
}

func TestTimeoutClosesEarlyWhenAllPhishingItemsDown(t *testing.T) {
	env := newTestEnv(t, conformantTicket("t1", domain.CategoryPhishing))
	env.reports.reports["r1"] = ipReport("t1", "192.0.2.1")
	env.policy.action = blockAction()
	env.checker.allDown = true

	require.NoError(t, env.controller.Timeout(context.Background(), "t1"))

	after := env.ticket(t, "t1")
	assert.Equal(t, domain.TicketStatusClosed, after.Status)
	assert.Equal(t, ReasonFixedCustomer, after.Resolution)

	// no action was dispatched and the defendant is not told of a block
	pending, err := env.sched.Pending(context.Background(), pendingHorizon)
	require.NoError(t, err)
	assert.Empty(t, pending)
	for _, mail := range env.mailer.sent {
		assert.NotEqual(t, "service_blocked", mail.codename)
	}

	tagged := env.history.actionsOfType(domain.ActionAddTag)
	require.Len(t, tagged, 1)
	assert.Equal(t, "phishing_autoclosed", tagged[0].Context["tag_name"])
}

func TestTimeoutAmbiguousIPMarksActionError(t *testing.T) {
	tests := []struct {
		name  string
		items []domain.ReportItem
	}{
		{
			name: "multiple distinct addresses",
			items: []domain.ReportItem{
				{ItemType: domain.ItemTypeIP, IP: "192.0.2.1"},
				{ItemType: domain.ItemTypeURL, URL: "http://bad.example", FQDNResolved: "192.0.2.2"},
			},
		},
		{
			name:  "no address at all",
			items: []domain.ReportItem{{ItemType: domain.ItemTypeURL, URL: "http://bad.example"}},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ticketID := "t1"
			env := newTestEnv(t, conformantTicket(ticketID, domain.CategoryCopyright))
			env.reports.reports["r1"] = &domain.Report{
				ID:       "r1",
				TicketID: &ticketID,
				Items:    tc.items,
			}
			env.policy.action = blockAction()
			env.operators.operators["bot"] = &domain.Operator{ID: "bot", Username: "cerberus", IsBot: true}
			env.operators.bot = env.operators.operators["bot"]

			require.NoError(t, env.controller.Timeout(context.Background(), ticketID))

			after := env.ticket(t, ticketID)
			assert.Equal(t, domain.TicketStatusActionError, after.Status)
			assert.Nil(t, after.SnoozeStart)

			require.Len(t, env.comments.comments, 1)
			assert.Equal(t, "None or multiple ip addresses for this ticket", env.comments.comments[0].Body)
			assert.Equal(t, "bot", env.comments.comments[0].OperatorID)
			require.Len(t, env.history.actionsOfType(domain.ActionAddComment), 1)
		})
	}
}

func TestTimeoutDispatchesActionAndCloses(t *testing.T) {
	deduped := []domain.ReportItem{
		{ItemType: domain.ItemTypeIP, IP: "192.0.2.1"},
		{ItemType: domain.ItemTypeURL, URL: "http://bad.example/a", FQDNResolved: "192.0.2.1"},
		{ItemType: domain.ItemTypeFQDN, FQDN: "bad.example", FQDNResolved: "192.0.2.1"},
	}
	ticketID := "t1"
	env := newTestEnv(t, conformantTicket(ticketID, domain.CategoryPhishing))
	env.reports.reports["r1"] = &domain.Report{ID: "r1", TicketID: &ticketID, Items: deduped}
	env.policy.action = blockAction()
	env.checker.allDown = false

	// play the part of the runner: finish the dispatched job once it shows up
	ctx := context.Background()
	go func() {
		for {
			pending, err := env.sched.Pending(ctx, pendingHorizon)
			if err == nil && len(pending) > 0 {
				env.sched.MarkFinished(pending[0].ID)
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, env.controller.Timeout(ctx, ticketID))

	after := env.ticket(t, ticketID)
	assert.Equal(t, domain.TicketStatusClosed, after.Status)
	assert.Equal(t, ReasonFixed, after.Resolution)
	require.NotNil(t, after.ActionID)
	assert.Equal(t, "vps_block", *after.ActionID)

	// the action was audited before dispatch and the job record completed
	require.Len(t, env.history.actionsOfType(domain.ActionSetAction), 1)
	jobs, err := env.jobs.ListByTicket(ctx, ticketID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, string(domain.JobStatusCompleted), jobs[0].Status)
	assert.Equal(t, "192.0.2.1", jobs[0].IP)

	// defendant is told their service was blocked
	var blocked bool
	for _, mail := range env.mailer.sent {
		if mail.codename == "service_blocked" {
			blocked = true
		}
	}
	assert.True(t, blocked)

	tagged := env.history.actionsOfType(domain.ActionAddTag)
	require.Len(t, tagged, 1)
	assert.Equal(t, "phishing_autoclosed", tagged[0].Context["tag_name"])
}

func TestTimeoutDispatchFailureLeavesTicketOpen(t *testing.T) {
	ticketID := "t1"
	env := newTestEnv(t, conformantTicket(ticketID, domain.CategoryCopyright))
	env.reports.reports["r1"] = ipReport(ticketID, "192.0.2.1")
	env.policy.action = blockAction()

	ctx := context.Background()
	go func() {
		for {
			pending, err := env.sched.Pending(ctx, pendingHorizon)
			if err == nil && len(pending) > 0 {
				claimed, _ := env.sched.ClaimDue(ctx, time.Now().UTC().Add(time.Hour), 1)
				if len(claimed) > 0 {
					_ = env.sched.Finish(ctx, claimed[0].ID, assert.AnError)
				}
				return
			}
			time.Sleep(time.Millisecond)
		}
	}()

	require.NoError(t, env.controller.Timeout(ctx, ticketID))

	after := env.ticket(t, ticketID)
	assert.Equal(t, domain.TicketStatusWaitingAnswer, after.Status, "failed dispatch leaves the ticket as-is")
	assert.Empty(t, env.mailer.sent)
	assert.Empty(t, env.history.actionsOfType(domain.ActionAddTag))
}

func TestUniqueActionIP(t *testing.T) {
	ticketID := "t1"
	tests := []struct {
		name   string
		items  []domain.ReportItem
		wantIP string
		wantOK bool
	}{
		{
			name:   "single ip item",
			items:  []domain.ReportItem{{ItemType: domain.ItemTypeIP, IP: "192.0.2.1"}},
			wantIP: "192.0.2.1",
			wantOK: true,
		},
		{
			name: "duplicates collapse",
			items: []domain.ReportItem{
				{ItemType: domain.ItemTypeIP, IP: "192.0.2.1"},
				{ItemType: domain.ItemTypeURL, FQDNResolved: "192.0.2.1"},
			},
			wantIP: "192.0.2.1",
			wantOK: true,
		},
		{
			name: "unresolved items are ignored",
			items: []domain.ReportItem{
				{ItemType: domain.ItemTypeIP, IP: "192.0.2.1"},
				{ItemType: domain.ItemTypeFQDN, FQDN: "unresolved.example"},
			},
			wantIP: "192.0.2.1",
			wantOK: true,
		},
		{
			name: "distinct addresses are ambiguous",
			items: []domain.ReportItem{
				{ItemType: domain.ItemTypeIP, IP: "192.0.2.1"},
				{ItemType: domain.ItemTypeIP, IP: "192.0.2.2"},
			},
			wantOK: false,
		},
		{
			name:   "no addresses",
			items:  []domain.ReportItem{{ItemType: domain.ItemTypeURL, URL: "http://bad.example"}},
			wantOK: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			reports := []domain.Report{{ID: "r1", TicketID: &ticketID, Items: tc.items}}
			ip, ok := uniqueActionIP(reports)
			assert.Equal(t, tc.wantOK, ok)
			if tc.wantOK {
				assert.Equal(t, tc.wantIP, ip)
			}
		})
	}
}

func TestAwaitNotificationClosedChannel(t *testing.T) {
	env := newTestEnv(t)

	// a torn-down channel under a cancelled context is cancellation,
	// not a dispatch verdict
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	done := make(chan schedule.Status)
	close(done)
	err := env.controller.awaitNotification(cancelled, "job-1", done)
	require.ErrorIs(t, err, context.Canceled)

	// without cancellation a closed channel is still a failure
	done = make(chan schedule.Status)
	close(done)
	err = env.controller.awaitNotification(context.Background(), "job-1", done)
	require.ErrorIs(t, err, util.ErrDispatchFailed)
	assert.Contains(t, err.Error(), "completion channel closed")
}
