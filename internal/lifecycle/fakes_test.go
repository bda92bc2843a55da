package lifecycle

import (
	"context"
	"fmt"

	"github.com/jamiejackherer/cerberus-core/internal/domain"
	"github.com/jamiejackherer/cerberus-core/internal/rules"
	"github.com/jamiejackherer/cerberus-core/pkg/util"
)

// in-memory doubles for the controller's collaborators

type fakeTicketRepo struct {
	tickets    map[string]*domain.Ticket
	alarmCalls []alarmCall
}

type alarmCall struct {
	operatorID string
	alarm      bool
}

func newFakeTicketRepo(tickets ...*domain.Ticket) *fakeTicketRepo {
	repo := &fakeTicketRepo{tickets: make(map[string]*domain.Ticket)}
	for _, t := range tickets {
		copied := *t
		repo.tickets[t.ID] = &copied
	}
	return repo
}

func (r *fakeTicketRepo) GetByID(ctx context.Context, id string) (*domain.Ticket, error) {
	ticket, ok := r.tickets[id]
	if !ok {
		return nil, util.NewNotFound("ticket", map[string]any{"id": id})
	}
	copied := *ticket
	return &copied, nil
}

func (r *fakeTicketRepo) Update(ctx context.Context, ticket *domain.Ticket) error {
	if _, ok := r.tickets[ticket.ID]; !ok {
		return util.NewNotFound("ticket", map[string]any{"id": ticket.ID})
	}
	copied := *ticket
	r.tickets[ticket.ID] = &copied
	return nil
}

func (r *fakeTicketRepo) ListByStatus(ctx context.Context, status domain.TicketStatus) ([]domain.Ticket, error) {
	var out []domain.Ticket
	for _, ticket := range r.tickets {
		if ticket.Status == status {
			out = append(out, *ticket)
		}
	}
	return out, nil
}

func (r *fakeTicketRepo) SetAlarmForOperator(ctx context.Context, operatorID string, alarm bool, excluded []domain.TicketStatus) error {
	r.alarmCalls = append(r.alarmCalls, alarmCall{operatorID: operatorID, alarm: alarm})
	skip := make(map[domain.TicketStatus]bool, len(excluded))
	for _, status := range excluded {
		skip[status] = true
	}
	for _, ticket := range r.tickets {
		if ticket.TreatedBy != nil && *ticket.TreatedBy == operatorID && !skip[ticket.Status] {
			ticket.Alarm = alarm
		}
	}
	return nil
}

func (r *fakeTicketRepo) AddTag(ctx context.Context, ticketID, tagID string) error {
	if _, ok := r.tickets[ticketID]; !ok {
		return util.NewNotFound("ticket", map[string]any{"id": ticketID})
	}
	return nil
}

type fakeReportRepo struct {
	reports map[string]*domain.Report
}

func newFakeReportRepo(reports ...*domain.Report) *fakeReportRepo {
	repo := &fakeReportRepo{reports: make(map[string]*domain.Report)}
	for _, report := range reports {
		repo.reports[report.ID] = report
	}
	return repo
}

func (r *fakeReportRepo) GetByID(ctx context.Context, id string) (*domain.Report, error) {
	report, ok := r.reports[id]
	if !ok {
		return nil, util.NewNotFound("report", map[string]any{"id": id})
	}
	return report, nil
}

func (r *fakeReportRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.Report, error) {
	var out []domain.Report
	for _, report := range r.reports {
		if report.TicketID != nil && *report.TicketID == ticketID {
			out = append(out, *report)
		}
	}
	return out, nil
}

type fakeJobRepo struct {
	jobs   []*domain.ServiceActionJob
	nextID int
}

func (r *fakeJobRepo) Create(ctx context.Context, job *domain.ServiceActionJob) error {
	r.nextID++
	job.ID = fmt.Sprintf("job-%d", r.nextID)
	copied := *job
	r.jobs = append(r.jobs, &copied)
	return nil
}

func (r *fakeJobRepo) UpdateStatus(ctx context.Context, jobID, status string) error {
	for _, job := range r.jobs {
		if job.ID == jobID {
			job.Status = status
			return nil
		}
	}
	return util.NewNotFound("job", map[string]any{"id": jobID})
}

func (r *fakeJobRepo) ListByTicket(ctx context.Context, ticketID string) ([]domain.ServiceActionJob, error) {
	var out []domain.ServiceActionJob
	for _, job := range r.jobs {
		if job.TicketID == ticketID {
			out = append(out, *job)
		}
	}
	return out, nil
}

func (r *fakeJobRepo) CountByTicket(ctx context.Context, ticketID string) (int, error) {
	count := 0
	for _, job := range r.jobs {
		if job.TicketID == ticketID {
			count++
		}
	}
	return count, nil
}

type fakeHistoryRepo struct {
	entries []domain.TicketHistory
}

func (r *fakeHistoryRepo) Create(ctx context.Context, entry *domain.TicketHistory) error {
	r.entries = append(r.entries, *entry)
	return nil
}

func (r *fakeHistoryRepo) LastStatuses(ctx context.Context, ticketID string, limit int) ([]domain.TicketStatus, error) {
	var out []domain.TicketStatus
	for i := len(r.entries) - 1; i >= 0 && len(out) < limit; i-- {
		entry := r.entries[i]
		if entry.TicketID == ticketID && entry.ActionType == domain.ActionChangeStatus {
			out = append(out, entry.TicketStatus)
		}
	}
	return out, nil
}

func (r *fakeHistoryRepo) actionsOfType(action domain.HistoryActionType) []domain.TicketHistory {
	var out []domain.TicketHistory
	for _, entry := range r.entries {
		if entry.ActionType == action {
			out = append(out, entry)
		}
	}
	return out
}

type fakeOperatorRepo struct {
	operators map[string]*domain.Operator
	bot       *domain.Operator
}

func newFakeOperatorRepo(operators ...*domain.Operator) *fakeOperatorRepo {
	repo := &fakeOperatorRepo{operators: make(map[string]*domain.Operator)}
	for _, operator := range operators {
		repo.operators[operator.ID] = operator
		if operator.IsBot {
			repo.bot = operator
		}
	}
	return repo
}

func (r *fakeOperatorRepo) GetByID(ctx context.Context, id string) (*domain.Operator, error) {
	operator, ok := r.operators[id]
	if !ok {
		return nil, util.NewNotFound("operator", map[string]any{"id": id})
	}
	return operator, nil
}

func (r *fakeOperatorRepo) ListHumans(ctx context.Context) ([]domain.Operator, error) {
	var out []domain.Operator
	for _, operator := range r.operators {
		if !operator.IsBot {
			out = append(out, *operator)
		}
	}
	return out, nil
}

func (r *fakeOperatorRepo) Bot(ctx context.Context) (*domain.Operator, error) {
	if r.bot == nil {
		return nil, util.NewNotFound("bot operator", nil)
	}
	return r.bot, nil
}

type fakeProviderRepo struct {
	emails map[string][]string
}

func (r *fakeProviderRepo) ContactedEmails(ctx context.Context, ticketID string) ([]string, error) {
	return r.emails[ticketID], nil
}

type fakeTagRepo struct {
	tags map[string]*domain.Tag
}

func newFakeTagRepo(names ...string) *fakeTagRepo {
	repo := &fakeTagRepo{tags: make(map[string]*domain.Tag)}
	for i, name := range names {
		repo.tags[name] = &domain.Tag{ID: fmt.Sprintf("tag-%d", i+1), Name: name}
	}
	return repo
}

func (r *fakeTagRepo) GetByName(ctx context.Context, name string) (*domain.Tag, error) {
	tag, ok := r.tags[name]
	if !ok {
		return nil, util.NewNotFound("tag", map[string]any{"name": name})
	}
	return tag, nil
}

type fakeCommentRepo struct {
	comments []domain.Comment
}

func (r *fakeCommentRepo) Create(ctx context.Context, comment *domain.Comment) error {
	r.comments = append(r.comments, *comment)
	return nil
}

type fakeRuleRepo struct {
	rules map[string]rules.Rule
}

func (r *fakeRuleRepo) GetByName(ctx context.Context, name string) (rules.Rule, error) {
	rule, ok := r.rules[name]
	if !ok {
		return rules.Rule{}, util.NewNotFound("business rule", map[string]any{"name": name})
	}
	return rule, nil
}

type sentMail struct {
	ticketID   string
	recipients []string
	codename   string
	lang       string
}

type fakeMailer struct {
	sent          []sentMail
	closedThreads []string
}

func (m *fakeMailer) SendEmail(ctx context.Context, ticket *domain.Ticket, recipients []string, codename, lang string) error {
	if len(recipients) == 0 {
		return nil
	}
	m.sent = append(m.sent, sentMail{ticketID: ticket.ID, recipients: recipients, codename: codename, lang: lang})
	return nil
}

func (m *fakeMailer) CloseThread(ctx context.Context, ticket *domain.Ticket) error {
	m.closedThreads = append(m.closedThreads, ticket.ID)
	return nil
}

type fakeChecker struct {
	allDown bool
	err     error
}

func (c *fakeChecker) AllDown(ctx context.Context, reports []domain.Report) (bool, error) {
	return c.allDown, c.err
}

type fakePolicy struct {
	action *domain.Action
	err    error
}

func (p *fakePolicy) ActionForTimeout(ctx context.Context, ticket *domain.Ticket) (*domain.Action, error) {
	return p.action, p.err
}
