package incident

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html/template"
	"net/mail"
	"strings"
	"time"

	"github.com/dmitrymomot/guard/core/email"
)

// Alerter notifies an administrator about an incident.
type Alerter interface {
	SendAlert(ctx context.Context, subject, body string) error
}

// AlerterFunc adapts a function to Alerter.
type AlerterFunc func(ctx context.Context, subject, body string) error

func (f AlerterFunc) SendAlert(ctx context.Context, subject, body string) error {
	return f(ctx, subject, body)
}

// EmailAlerter delivers alerts as email to a fixed administrator address.
type EmailAlerter struct {
	sender email.EmailSender
	to     string
}

// NewEmailAlerter creates an alerter mailing to. sender is typically the
// Postmark client in production and email.DevSender in development.
func NewEmailAlerter(sender email.EmailSender, to string) (*EmailAlerter, error) {
	if sender == nil {
		return nil, fmt.Errorf("%w: email sender is required", ErrInvalidAlerter)
	}
	if _, err := mail.ParseAddress(to); err != nil {
		return nil, fmt.Errorf("%w: admin address %q: %v", ErrInvalidAlerter, to, err)
	}
	return &EmailAlerter{sender: sender, to: to}, nil
}

func (a *EmailAlerter) SendAlert(ctx context.Context, subject, body string) error {
	return a.sender.SendEmail(ctx, email.SendEmailParams{
		SendTo:   a.to,
		Subject:  subject,
		BodyHTML: body,
		Tag:      "incident",
	})
}

const maxSubjectLen = 120

var alertTemplate = template.Must(template.New("alert").Parse(`<h2>{{.Severity}}: {{.Message}}</h2>
<table>
<tr><th align="left">Incident</th><td>{{.ID}}</td></tr>
<tr><th align="left">Time</th><td>{{.Time}}</td></tr>
{{- if .Channel}}
<tr><th align="left">Channel</th><td>{{.Channel}}</td></tr>
{{- end}}
{{- if .RequestID}}
<tr><th align="left">Request</th><td>{{.RequestID}}</td></tr>
{{- end}}
{{- range $k, $v := .Context}}
<tr><th align="left">{{$k}}</th><td>{{$v}}</td></tr>
{{- end}}
</table>
`))

// FormatAlert renders the subject and HTML body of the alert for inc.
func FormatAlert(inc Incident) (subject, body string, err error) {
	msg := strings.Join(strings.Fields(inc.Message), " ")
	if r := []rune(msg); len(r) > maxSubjectLen {
		msg = string(r[:maxSubjectLen]) + "..."
	}
	subject = fmt.Sprintf("[%s] %s", inc.Severity, msg)

	var buf bytes.Buffer
	err = alertTemplate.Execute(&buf, struct {
		Incident
		Time string
	}{inc, inc.Timestamp.UTC().Format(time.RFC3339)})
	if err != nil {
		return "", "", errors.Join(errors.New("render alert"), err)
	}
	return subject, buf.String(), nil
}
