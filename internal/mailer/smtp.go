package mailer

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"gopkg.in/gomail.v2"

	"github.com/jamiejackherer/cerberus-core/internal/config"
	"github.com/jamiejackherer/cerberus-core/internal/domain"
)

const defaultLang = "EN"

// SMTPMailer sends lifecycle notifications through an SMTP relay.
type SMTPMailer struct {
	cfg       config.MailerConfig
	dialer    *gomail.Dialer
	templates map[string]map[string]Template
	logger    *zap.Logger
}

// NewSMTPMailer constructs the mailer with the built-in template set.
func NewSMTPMailer(cfg config.MailerConfig, logger *zap.Logger) *SMTPMailer {
	return &SMTPMailer{
		cfg:       cfg,
		dialer:    gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		templates: defaultTemplates(),
		logger:    logger,
	}
}

// SendEmail renders and sends the codename template to every recipient.
func (m *SMTPMailer) SendEmail(ctx context.Context, ticket *domain.Ticket, recipients []string, codename, lang string) error {
	if len(recipients) == 0 {
		return nil
	}
	template, err := m.lookup(codename, lang)
	if err != nil {
		return err
	}

	subject := fmt.Sprintf("[%s] %s", ticket.PublicID, template.Subject)
	body := strings.NewReplacer(
		"{{ticket}}", ticket.PublicID,
		"{{category}}", string(ticket.Category),
	).Replace(template.Body)

	msg := gomail.NewMessage()
	msg.SetAddressHeader("From", m.cfg.From, m.cfg.FromName)
	msg.SetHeader("To", recipients...)
	msg.SetHeader("Subject", subject)
	msg.SetBody("text/plain", body)

	if err := m.dialer.DialAndSend(msg); err != nil {
		return fmt.Errorf("send %s mail for ticket %s: %w", codename, ticket.PublicID, err)
	}
	m.logger.Info("notification sent",
		zap.String("ticket", ticket.PublicID),
		zap.String("template", codename),
		zap.Int("recipients", len(recipients)))
	return nil
}

// CloseThread is a no-op for plain SMTP; threading lives in the upstream
// mailbox service when one is configured.
func (m *SMTPMailer) CloseThread(ctx context.Context, ticket *domain.Ticket) error {
	m.logger.Debug("close email thread", zap.String("ticket", ticket.PublicID))
	return nil
}

func (m *SMTPMailer) lookup(codename, lang string) (Template, error) {
	byLang, ok := m.templates[codename]
	if !ok {
		return Template{}, fmt.Errorf("unknown mail template %q", codename)
	}
	lang = strings.ToUpper(lang)
	if lang == "" {
		lang = defaultLang
	}
	if template, ok := byLang[lang]; ok {
		return template, nil
	}
	return byLang[defaultLang], nil
}

func defaultTemplates() map[string]map[string]Template {
	return map[string]map[string]Template{
		TemplateCaseClosed: {
			"EN": {
				Subject: "Abuse case closed",
				Body: "The abuse case {{ticket}} you reported has been closed.\n" +
					"Thank you for your report.\n",
			},
		},
		TemplateTicketClosed: {
			"EN": {
				Subject: "Abuse ticket closed",
				Body: "The abuse ticket {{ticket}} ({{category}}) opened against your service\n" +
					"has been closed. No further action is required.\n",
			},
			"FR": {
				Subject: "Ticket d'abus clos",
				Body: "Le ticket d'abus {{ticket}} ({{category}}) ouvert contre votre service\n" +
					"a ete clos. Aucune action n'est requise.\n",
			},
		},
		TemplateServiceBlocked: {
			"EN": {
				Subject: "Service suspended following abuse report",
				Body: "Your service has been suspended following the abuse ticket {{ticket}}\n" +
					"({{category}}). Please contact support to resolve the issue.\n",
			},
			"FR": {
				Subject: "Service suspendu suite a un signalement d'abus",
				Body: "Votre service a ete suspendu suite au ticket d'abus {{ticket}}\n" +
					"({{category}}). Veuillez contacter le support.\n",
			},
		},
	}
}
