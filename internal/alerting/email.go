package alerting

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"net/smtp"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Sender delivers one HTML message.
type Sender interface {
	Send(ctx context.Context, to []string, subject string, htmlBody string) error
}

type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

type SMTPSender struct {
	cfg SMTPConfig
}

func NewSMTPSender(cfg SMTPConfig) *SMTPSender {
	return &SMTPSender{cfg: cfg}
}

func (p *SMTPSender) Send(_ context.Context, to []string, subject string, htmlBody string) error {
	if len(to) == 0 {
		return nil
	}
	var auth smtp.Auth
	if p.cfg.Username != "" {
		auth = smtp.PlainAuth("", p.cfg.Username, p.cfg.Password, p.cfg.Host)
	}
	addr := fmt.Sprintf("%s:%d", p.cfg.Host, p.cfg.Port)

	mime := "MIME-version: 1.0;\r\nContent-Type: text/html; charset=\"UTF-8\";\r\n\r\n"
	msg := []byte(fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\n%s%s",
		p.cfg.From, strings.Join(to, ", "), subject, mime, htmlBody))

	return smtp.SendMail(addr, auth, p.cfg.From, to, msg)
}

var alertTemplate = template.Must(template.New("alert").Parse(`<h2>{{.Reason}}</h2>
<p><strong>Severity:</strong> {{.Severity}}<br><strong>Raised:</strong> {{.CreatedAt}}</p>
<p>{{.Message}}</p>
{{if .Details}}<table>{{range .Details}}<tr><td>{{.Key}}</td><td>{{.Value}}</td></tr>{{end}}</table>{{end}}`))

type detailRow struct {
	Key   string
	Value any
}

// MailNotifier hands every alert to next and additionally mails critical
// ones. Mail goes out in the background so a slow relay never holds up the
// operation that raised the alert.
type MailNotifier struct {
	next   Notifier
	sender Sender
	to     []string
	log    *zap.Logger
}

func NewMailNotifier(next Notifier, sender Sender, to []string, log *zap.Logger) *MailNotifier {
	return &MailNotifier{next: next, sender: sender, to: to, log: log.Named("alerting.mail")}
}

func (n *MailNotifier) Notify(ctx context.Context, alert Alert) {
	if n.next != nil {
		n.next.Notify(ctx, alert)
	}
	if alert.Severity == SeverityWarning || n.sender == nil || len(n.to) == 0 {
		return
	}
	if alert.CreatedAt.IsZero() {
		alert.CreatedAt = time.Now().UTC()
	}

	body, err := renderAlert(alert)
	if err != nil {
		n.log.Warn("failed to render alert mail", zap.String("alert", alert.Reason), zap.Error(err))
		return
	}
	subject := "[agencyledger] " + alert.Reason
	sendCtx := context.WithoutCancel(ctx)
	go func() {
		if err := n.sender.Send(sendCtx, n.to, subject, body); err != nil {
			n.log.Warn("failed to mail alert", zap.String("alert", alert.Reason), zap.Error(err))
		}
	}()
}

func renderAlert(alert Alert) (string, error) {
	keys := make([]string, 0, len(alert.Details))
	for k := range alert.Details {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	rows := make([]detailRow, 0, len(keys))
	for _, k := range keys {
		rows = append(rows, detailRow{Key: k, Value: alert.Details[k]})
	}

	var body bytes.Buffer
	err := alertTemplate.Execute(&body, map[string]any{
		"Reason":    alert.Reason,
		"Severity":  alert.Severity,
		"CreatedAt": alert.CreatedAt.UTC().Format(time.RFC3339),
		"Message":   alert.Message,
		"Details":   rows,
	})
	return body.String(), err
}
