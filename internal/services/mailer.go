package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"
	"sync"

	"github.com/jordan-wright/email"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MailTransport delivers a composed message.
type MailTransport interface {
	Send(mail *email.Email) error
}

// SMTPTransport sends mail through an SMTP relay with PLAIN auth.
type SMTPTransport struct {
	addr string
	auth smtp.Auth
}

func NewSMTPTransport(host string, port int, user, pass string) *SMTPTransport {
	var auth smtp.Auth
	if user != "" {
		auth = smtp.PlainAuth("", user, pass, host)
	}
	return &SMTPTransport{addr: fmt.Sprintf("%s:%d", host, port), auth: auth}
}

func (t *SMTPTransport) Send(mail *email.Email) error {
	return mail.Send(t.addr, t.auth)
}

// LogTransport only logs outgoing mail. Used when no SMTP relay is configured.
type LogTransport struct{}

func (LogTransport) Send(mail *email.Email) error {
	log.Info().Strs("to", mail.To).Str("subject", mail.Subject).Msg("mail transport not configured, message logged only")
	return nil
}

// MockMailTransport records messages instead of sending them.
type MockMailTransport struct {
	mu    sync.Mutex
	mails []*email.Email
	Err   error
}

func NewMockMailTransport() *MockMailTransport {
	return &MockMailTransport{}
}

func (m *MockMailTransport) Send(mail *email.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.mails = append(m.mails, mail)
	return nil
}

// SentMails returns every recorded message.
func (m *MockMailTransport) SentMails() []*email.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*email.Email(nil), m.mails...)
}

// Mail template names
const (
	MailSignatureRequest = "signature_request"
	MailOTP              = "otp"
	MailSignerCompleted  = "signer_completed"
	MailSessionCompleted = "session_completed"
	MailSessionDeclined  = "session_declined"
	MailSessionExpired   = "session_expired"
	MailSessionCancelled = "session_cancelled"
	MailReminder         = "reminder"
)

type mailTemplate struct {
	subject string
	body    string
}

var mailTemplates = map[string]mailTemplate{
	MailSignatureRequest: {
		subject: "Document ready for signature: {{.SessionName}}",
		body: `<p>Hello {{.SignerName}},</p>
<p>You have been asked to sign <strong>{{.SessionName}}</strong>.</p>
<p><a href="{{.ActionURL}}">Review and sign</a></p>
<p>This request expires on {{.ExpiresAt}}.</p>`,
	},
	MailOTP: {
		subject: "Your verification code",
		body: `<p>Hello {{.SignerName}},</p>
<p>Your verification code for <strong>{{.SessionName}}</strong> is <strong>{{.Code}}</strong>.</p>
<p>It expires in {{.ValidFor}}. If you did not request it, ignore this email.</p>`,
	},
	MailSignerCompleted: {
		subject: "{{.SignerName}} signed {{.SessionName}}",
		body:    `<p>{{.SignerName}} has signed <strong>{{.SessionName}}</strong>.</p>`,
	},
	MailSessionCompleted: {
		subject: "All parties signed: {{.SessionName}}",
		body: `<p>Hello {{.SignerName}},</p>
<p>Every party has signed <strong>{{.SessionName}}</strong>. The signed document is available in your dashboard.</p>
<p><a href="{{.ActionURL}}">Open document</a></p>`,
	},
	MailSessionDeclined: {
		subject: "Signature declined: {{.SessionName}}",
		body: `<p>Hello {{.SignerName}},</p>
<p>{{.DeclinedBy}} declined to sign <strong>{{.SessionName}}</strong>.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}`,
	},
	MailSessionExpired: {
		subject: "Signing request expired: {{.SessionName}}",
		body:    `<p>The signing request <strong>{{.SessionName}}</strong> expired before every party signed.</p>`,
	},
	MailSessionCancelled: {
		subject: "Signing request cancelled: {{.SessionName}}",
		body: `<p>Hello {{.SignerName}},</p>
<p>The signing request <strong>{{.SessionName}}</strong> was cancelled.</p>
{{if .Reason}}<p>Reason: {{.Reason}}</p>{{end}}`,
	},
	MailReminder: {
		subject: "Reminder: {{.SessionName}} is waiting for your signature",
		body: `<p>Hello {{.SignerName}},</p>
<p><strong>{{.SessionName}}</strong> is still waiting for your signature.</p>
<p><a href="{{.ActionURL}}">Review and sign</a></p>`,
	},
}

// MailData is the data available to mail templates.
type MailData struct {
	SignerName  string
	SessionName string
	ActionURL   string
	ExpiresAt   string
	Code        string
	ValidFor    string
	DeclinedBy  string
	Reason      string
}

type parsedTemplate struct {
	subject *template.Template
	body    *template.Template
}

// Mailer renders and sends transactional email.
type Mailer struct {
	Transport MailTransport
	from      string
	templates map[string]parsedTemplate
}

func NewMailer(transport MailTransport, from string) (*Mailer, error) {
	m := &Mailer{Transport: transport, from: from, templates: make(map[string]parsedTemplate, len(mailTemplates))}
	for name, tpl := range mailTemplates {
		subject, err := template.New(name + "_subject").Parse(tpl.subject)
		if err != nil {
			return nil, errors.Wrapf(err, "parse subject template %s", name)
		}
		body, err := template.New(name).Parse(tpl.body)
		if err != nil {
			return nil, errors.Wrapf(err, "parse body template %s", name)
		}
		m.templates[name] = parsedTemplate{subject: subject, body: body}
	}
	return m, nil
}

// Send renders the named template and delivers it to one recipient.
func (m *Mailer) Send(to, templateName string, data MailData) error {
	tpl, ok := m.templates[templateName]
	if !ok {
		return errors.Errorf("unknown mail template %s", templateName)
	}

	var subject, body bytes.Buffer
	if err := tpl.subject.Execute(&subject, data); err != nil {
		return errors.Wrap(err, "render subject")
	}
	if err := tpl.body.Execute(&body, data); err != nil {
		return errors.Wrap(err, "render body")
	}

	mail := email.NewEmail()
	mail.From = m.from
	mail.To = []string{to}
	mail.Subject = subject.String()
	mail.HTML = body.Bytes()

	return errors.Wrapf(m.Transport.Send(mail), "send %s mail", templateName)
}
