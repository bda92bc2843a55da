package lifecycle

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/jamiejackherer/cerberus-core/internal/audit"
	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/internal/events"
	"github.com/jamiejackherer/cerberus-core/internal/observability"
	"github.com/jamiejackherer/cerberus-core/internal/rules"
	"github.com/jamiejackherer/cerberus-core/internal/schedule"
)

type testEnv struct {
	tickets   *fakeTicketRepo
	reports   *fakeReportRepo
	jobs      *fakeJobRepo
	history   *fakeHistoryRepo
	operators *fakeOperatorRepo
	providers *fakeProviderRepo
	tags      *fakeTagRepo
	comments  *fakeCommentRepo
	rules     *fakeRuleRepo
	mailer    *fakeMailer
	checker   *fakeChecker
	policy    *fakePolicy
	sched     *schedule.InMemoryScheduler

	now time.Time

	controller *Controller
}

func newTestEnv(t *testing.T, tickets ...*domain.Ticket) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	env := &testEnv{
		tickets:   newFakeTicketRepo(tickets...),
		reports:   newFakeReportRepo(),
		jobs:      &fakeJobRepo{},
		history:   &fakeHistoryRepo{},
		operators: newFakeOperatorRepo(),
		providers: &fakeProviderRepo{emails: make(map[string][]string)},
		tags:      newFakeTagRepo("phishing_autoclosed", "copyright_autoclosed"),
		comments:  &fakeCommentRepo{},
		rules:     &fakeRuleRepo{rules: make(map[string]rules.Rule)},
		mailer:    &fakeMailer{},
		checker:   &fakeChecker{},
		policy:    &fakePolicy{},
		sched:     schedule.NewInMemoryScheduler(),
		now:       time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC),
	}
	env.controller = NewController(Dependencies{
		Tickets:        env.tickets,
		Reports:        env.reports,
		Jobs:           env.jobs,
		History:        env.history,
		Operators:      env.operators,
		Providers:      env.providers,
		Tags:           env.tags,
		Comments:       env.comments,
		Rules:          env.rules,
		Scheduler:      env.sched,
		Policy:         env.policy,
		Mailer:         env.mailer,
		Audit:          audit.NewHistoryLog(env.history, logger),
		Phishing:       env.checker,
		Engine:         rules.NewEngine(logger),
		RuleEnv:        NewReportRuleEnvironment(env.checker, logger),
		Dispatcher:     events.NewInMemoryDispatcher(),
		Metrics:        observability.NewMetrics(),
		Logger:         logger,
		Now:            func() time.Time { return env.now },
		CompletionPoll: time.Millisecond,
	})
	return env
}

func (e *testEnv) ticket(t *testing.T, id string) *domain.Ticket {
	t.Helper()
	ticket, err := e.tickets.GetByID(context.Background(), id)
	require.NoError(t, err)
	return ticket
}

func snoozedTicket(id string, status domain.TicketStatus, start time.Time, d time.Duration) *domain.Ticket {
	return &domain.Ticket{
		ID:             id,
		PublicID:       "AB" + id,
		Status:         status,
		Category:       domain.CategoryPhishing,
		SnoozeStart:    &start,
		SnoozeDuration: d,
	}
}

func TestUpdateWaitingMovesExpiredToAlarm(t *testing.T) {
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	expired := snoozedTicket("t1", domain.TicketStatusWaitingAnswer, base.Add(-2*time.Hour), time.Hour)
	fresh := snoozedTicket("t2", domain.TicketStatusWaitingAnswer, base.Add(-10*time.Minute), time.Hour)
	env := newTestEnv(t, expired, fresh)

	require.NoError(t, env.controller.UpdateWaiting(context.Background()))

	updated := env.ticket(t, "t1")
	assert.Equal(t, domain.TicketStatusAlarm, updated.Status)
	assert.Nil(t, updated.SnoozeStart, "snooze resets on wake")
	assert.Zero(t, updated.SnoozeDuration)

	untouched := env.ticket(t, "t2")
	assert.Equal(t, domain.TicketStatusWaitingAnswer, untouched.Status)

	statuses := env.history.actionsOfType(domain.ActionChangeStatus)
	require.Len(t, statuses, 1)
	assert.Equal(t, domain.TicketStatusAlarm, statuses[0].TicketStatus)
}

func TestAutoUnassignment(t *testing.T) {
	operatorID := "op1"
	pattern := []domain.TicketStatus{
		domain.TicketStatusWaitingAnswer,
		domain.TicketStatusAlarm,
		domain.TicketStatusWaitingAnswer,
	}

	tests := []struct {
		name         string
		flag         bool
		history      []domain.TicketStatus // chronological, oldest first
		wantUnassign bool
	}{
		{
			name:         "pattern and flag unassigns",
			flag:         true,
			history:      pattern,
			wantUnassign: true,
		},
		{
			name:         "flag disabled keeps assignment",
			flag:         false,
			history:      pattern,
			wantUnassign: false,
		},
		{
			name: "wrong pattern keeps assignment",
			flag: true,
			history: []domain.TicketStatus{
				domain.TicketStatusAlarm,
				domain.TicketStatusWaitingAnswer,
				domain.TicketStatusAlarm,
			},
			wantUnassign: false,
		},
		{
			name:         "too little history keeps assignment",
			flag:         true,
			history:      pattern[:2],
			wantUnassign: false,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
			ticket := snoozedTicket("t1", domain.TicketStatusWaitingAnswer, base.Add(-2*time.Hour), time.Hour)
			ticket.TreatedBy = &operatorID
			env := newTestEnv(t, ticket)

			env.operators.operators[operatorID] = &domain.Operator{
				ID:       operatorID,
				Username: "analyst",
				Role: &domain.Role{
					Codename: "analyst",
					Authorizations: domain.RoleAuthorizations{
						"ticket": {"unassignedOnMultipleAlarm": tc.flag},
					},
				},
			}
			for _, status := range tc.history {
				env.history.entries = append(env.history.entries, domain.TicketHistory{
					TicketID:     "t1",
					ActionType:   domain.ActionChangeStatus,
					TicketStatus: status,
				})
			}

			require.NoError(t, env.controller.UpdateWaiting(context.Background()))

			updated := env.ticket(t, "t1")
			assert.Equal(t, domain.TicketStatusAlarm, updated.Status)
			if tc.wantUnassign {
				assert.Nil(t, updated.TreatedBy)
				assert.True(t, updated.Escalated)
				require.Len(t, env.history.actionsOfType(domain.ActionChangeTreatedBy), 1)
			} else {
				require.NotNil(t, updated.TreatedBy)
				assert.Equal(t, operatorID, *updated.TreatedBy)
				assert.False(t, updated.Escalated)
			}
		})
	}
}

func TestPauseUnpauseCompensatesSnooze(t *testing.T) {
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	ticket := snoozedTicket("t1", domain.TicketStatusWaitingAnswer, base.Add(-time.Hour), 4*time.Hour)
	env := newTestEnv(t, ticket)
	ctx := context.Background()

	// one pending job tied to the ticket
	queued, err := env.sched.Schedule(ctx, env.now.Add(3*time.Hour), FuncTicketTimeout,
		map[string]any{"ticket_id": "t1"}, schedule.Options{})
	require.NoError(t, err)
	require.NoError(t, env.jobs.Create(ctx, &domain.ServiceActionJob{
		TicketID:   "t1",
		AsyncJobID: queued.ID,
		Status:     string(domain.JobStatusPending),
	}))

	require.NoError(t, env.controller.Pause(ctx, "t1", time.Hour))
	paused := env.ticket(t, "t1")
	assert.Equal(t, domain.TicketStatusPaused, paused.Status)
	assert.Equal(t, domain.TicketStatusWaitingAnswer, paused.PreviousStatus)
	assert.Equal(t, time.Hour, paused.PauseDuration)

	pending, err := env.sched.Pending(ctx, pendingHorizon)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].RunAt.Equal(env.now.Add(4*time.Hour)), "job pushed out by the pause")

	// unpause 30 minutes in: half the pause window is credited back
	env.now = env.now.Add(30 * time.Minute)
	require.NoError(t, env.controller.Unpause(ctx, "t1"))

	restored := env.ticket(t, "t1")
	assert.Equal(t, domain.TicketStatusWaitingAnswer, restored.Status)
	assert.Nil(t, restored.PauseStart)
	assert.Zero(t, restored.PauseDuration)
	assert.Equal(t, 4*time.Hour+30*time.Minute, restored.SnoozeDuration,
		"paused time does not count against the snooze window")
	require.NotNil(t, restored.SnoozeStart)
	assert.True(t, restored.SnoozeStart.Equal(base.Add(-time.Hour)), "snooze start is untouched")

	pending, err = env.sched.Pending(ctx, pendingHorizon)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.True(t, pending[0].RunAt.Equal(env.now.Add(3*time.Hour)),
		"unused pause time is pulled back off the job")
}

func TestUpdatePausedRestoresExpiredTickets(t *testing.T) {
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)
	pauseStart := base.Add(-2 * time.Hour)

	ticket := snoozedTicket("t1", domain.TicketStatusPaused, base.Add(-3*time.Hour), 4*time.Hour)
	ticket.PreviousStatus = domain.TicketStatusWaitingAnswer
	ticket.PauseStart = &pauseStart
	ticket.PauseDuration = time.Hour

	stillPaused := snoozedTicket("t2", domain.TicketStatusPaused, base.Add(-time.Hour), 4*time.Hour)
	stillPaused.PreviousStatus = domain.TicketStatusAlarm
	recent := base.Add(-10 * time.Minute)
	stillPaused.PauseStart = &recent
	stillPaused.PauseDuration = time.Hour

	env := newTestEnv(t, ticket, stillPaused)
	require.NoError(t, env.controller.UpdatePaused(context.Background()))

	restored := env.ticket(t, "t1")
	assert.Equal(t, domain.TicketStatusWaitingAnswer, restored.Status)
	assert.Nil(t, restored.PauseStart)
	// the full elapsed pause (2h) is added back, not just the 1h window
	assert.Equal(t, 6*time.Hour, restored.SnoozeDuration)

	untouched := env.ticket(t, "t2")
	assert.Equal(t, domain.TicketStatusPaused, untouched.Status)
}

func TestFollowTheSun(t *testing.T) {
	awayID := "op-away"
	presentID := "op-present"
	base := time.Date(2024, 5, 10, 12, 0, 0, 0, time.UTC)

	assigned := &domain.Ticket{ID: "t1", Status: domain.TicketStatusAlarm, TreatedBy: &awayID}
	closed := &domain.Ticket{ID: "t2", Status: domain.TicketStatusClosed, TreatedBy: &awayID}
	env := newTestEnv(t, assigned, closed)

	stale := base.Add(-48 * time.Hour)
	fresh := base.Add(-time.Hour)
	env.operators.operators[awayID] = &domain.Operator{ID: awayID, Username: "away", LastLogin: &stale}
	env.operators.operators[presentID] = &domain.Operator{ID: presentID, Username: "present", LastLogin: &fresh}

	require.NoError(t, env.controller.FollowTheSun(context.Background()))

	calls := map[string]bool{}
	for _, call := range env.tickets.alarmCalls {
		calls[call.operatorID] = call.alarm
	}
	assert.True(t, calls[awayID])
	assert.False(t, calls[presentID])

	assert.True(t, env.ticket(t, "t1").Alarm)
	assert.False(t, env.ticket(t, "t2").Alarm, "closed tickets are excluded")
}

func TestCancelScheduledJobs(t *testing.T) {
	ticket := &domain.Ticket{ID: "t1", Status: domain.TicketStatusAlarm}
	env := newTestEnv(t, ticket)
	ctx := context.Background()

	own, err := env.sched.Schedule(ctx, env.now.Add(time.Hour), FuncApplyAction,
		map[string]any{"ticket_id": "t1"}, schedule.Options{})
	require.NoError(t, err)
	require.NoError(t, env.jobs.Create(ctx, &domain.ServiceActionJob{
		TicketID:   "t1",
		AsyncJobID: own.ID,
		Status:     string(domain.JobStatusPending),
	}))

	// cancellable queue job referencing the ticket, without a job record
	orphan, err := env.sched.Schedule(ctx, env.now.Add(2*time.Hour), FuncTicketTimeout,
		map[string]any{"ticket_id": "t1"}, schedule.Options{})
	require.NoError(t, err)

	// same function for another ticket must survive
	other, err := env.sched.Schedule(ctx, env.now.Add(2*time.Hour), FuncTicketTimeout,
		map[string]any{"ticket_id": "t2"}, schedule.Options{})
	require.NoError(t, err)

	// non-cancellable function for this ticket must survive
	unrelated, err := env.sched.Schedule(ctx, env.now.Add(2*time.Hour), "report.refresh",
		map[string]any{"ticket_id": "t1"}, schedule.Options{})
	require.NoError(t, err)

	require.NoError(t, env.controller.CancelScheduledJobs(ctx, "t1", "closed"))

	for id, want := range map[string]schedule.Status{
		own.ID:       schedule.StatusCancelled,
		orphan.ID:    schedule.StatusCancelled,
		other.ID:     schedule.StatusPending,
		unrelated.ID: schedule.StatusPending,
	} {
		status, err := env.sched.Status(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, want, status)
	}

	jobs, err := env.jobs.ListByTicket(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "cancelled by closed", jobs[0].Status)

	// already-cancelled jobs stay settled on a second pass
	require.NoError(t, env.controller.CancelScheduledJobs(ctx, "t1", "closed"))
	jobs, err = env.jobs.ListByTicket(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "cancelled by closed", jobs[0].Status)
}

func TestCloseNotifiesAndTags(t *testing.T) {
	ticket := &domain.Ticket{
		ID:       "t1",
		PublicID: "ABT1",
		Status:   domain.TicketStatusAlarm,
		Category: domain.CategoryPhishing,
		Defendant: &domain.Defendant{
			ID:    "d1",
			Email: "defendant@example.com",
			Lang:  "FR",
		},
	}
	env := newTestEnv(t, ticket)
	env.providers.emails["t1"] = []string{"abuse@provider-a.example", "abuse@provider-b.example"}
	ctx := context.Background()

	loaded := env.ticket(t, "t1")
	require.NoError(t, env.controller.Close(ctx, loaded, ReasonFixed, true))

	closed := env.ticket(t, "t1")
	assert.Equal(t, domain.TicketStatusClosed, closed.Status)
	assert.Equal(t, ReasonFixed, closed.Resolution)
	require.NotNil(t, closed.ClosedAt)

	require.Len(t, env.mailer.sent, 2)
	providers := env.mailer.sent[0]
	assert.Equal(t, "case_closed", providers.codename)
	assert.Len(t, providers.recipients, 2)

	defendant := env.mailer.sent[1]
	assert.Equal(t, "service_blocked", defendant.codename)
	assert.Equal(t, []string{"defendant@example.com"}, defendant.recipients)
	assert.Equal(t, "FR", defendant.lang)

	assert.Equal(t, []string{"t1"}, env.mailer.closedThreads)
	require.Len(t, env.history.actionsOfType(domain.ActionAddTag), 1)
	assert.Equal(t, "phishing_autoclosed",
		env.history.actionsOfType(domain.ActionAddTag)[0].Context["tag_name"])

	// closing again is a no-op
	require.NoError(t, env.controller.Close(ctx, closed, ReasonFixed, true))
	assert.Len(t, env.mailer.sent, 2)
}

func TestCloseWithoutBlockUsesTicketClosedTemplate(t *testing.T) {
	ticket := &domain.Ticket{
		ID:        "t1",
		PublicID:  "ABT1",
		Status:    domain.TicketStatusAlarm,
		Category:  domain.CategoryOther,
		Defendant: &domain.Defendant{ID: "d1", Email: "defendant@example.com"},
	}
	env := newTestEnv(t, ticket)
	ctx := context.Background()

	loaded := env.ticket(t, "t1")
	require.NoError(t, env.controller.Close(ctx, loaded, ReasonFixedCustomer, false))

	require.Len(t, env.mailer.sent, 1)
	assert.Equal(t, "ticket_closed", env.mailer.sent[0].codename)
	assert.Empty(t, env.history.actionsOfType(domain.ActionAddTag), "no autoclose tag outside phishing/copyright")
}

func TestCreateTicketFromPhishToCheck(t *testing.T) {
	ticketID := "t1"
	report := &domain.Report{
		ID:       "r1",
		TicketID: &ticketID,
		Category: domain.CategoryPhishing,
		Items: []domain.ReportItem{
			{ItemType: domain.ItemTypeURL, URL: "http://bad.example/login"},
		},
	}
	env := newTestEnv(t, &domain.Ticket{ID: ticketID, Status: domain.TicketStatusOpen})
	env.reports.reports["r1"] = report
	env.operators.operators["op1"] = &domain.Operator{ID: "op1", Username: "reviewer"}
	env.rules.rules["phishing_up"] = rules.Rule{
		Name: "phishing_up",
		Conditions: rules.Node{All: []rules.Node{
			{Name: "all_items_phishing", Operator: rules.OpIsTrue},
			{Name: "urls_down", Operator: rules.OpIsTrue},
			{Name: "report_category", Operator: rules.OpEqualTo, Value: "phishing"},
		}},
		Actions: []rules.ActionCall{{Name: "log_match"}},
	}
	// the checker says the items are still up; the stripped conditions make
	// the reviewer's judgement final
	env.checker.allDown = false

	require.NoError(t, env.controller.CreateTicketFromPhishToCheck(context.Background(), "r1", "op1"))

	validated := env.history.actionsOfType(domain.ActionValidatePhishToCheck)
	require.Len(t, validated, 1)
	assert.Equal(t, "reviewer", validated[0].Context["user"])
	assert.Equal(t, "r1", validated[0].Context["report"])
}

func TestCreateTicketFromPhishToCheckRuleMismatch(t *testing.T) {
	ticketID := "t1"
	report := &domain.Report{
		ID:       "r1",
		TicketID: &ticketID,
		Category: domain.CategoryCopyright,
	}
	env := newTestEnv(t, &domain.Ticket{ID: ticketID, Status: domain.TicketStatusOpen})
	env.reports.reports["r1"] = report
	env.operators.operators["op1"] = &domain.Operator{ID: "op1", Username: "reviewer"}
	env.rules.rules["phishing_up"] = rules.Rule{
		Name: "phishing_up",
		Conditions: rules.Node{All: []rules.Node{
			{Name: "report_category", Operator: rules.OpEqualTo, Value: "phishing"},
		}},
	}

	err := env.controller.CreateTicketFromPhishToCheck(context.Background(), "r1", "op1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not applied")
	assert.Empty(t, env.history.actionsOfType(domain.ActionValidatePhishToCheck))
}
