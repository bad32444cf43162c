package email

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
)

// EmailSender delivers a single email.
type EmailSender interface {
	SendEmail(ctx context.Context, params SendEmailParams) error
}

// SendEmailParams is one message. SendTo, Subject and BodyHTML are required.
type SendEmailParams struct {
	SendTo   string
	Subject  string
	BodyHTML string
	Tag      string
}

// Validate reports every missing or malformed field joined with ErrInvalidParams.
func (p SendEmailParams) Validate() error {
	var errs []error
	if strings.TrimSpace(p.SendTo) == "" {
		errs = append(errs, errors.New("send_to is required"))
	} else if _, err := mail.ParseAddress(p.SendTo); err != nil {
		errs = append(errs, fmt.Errorf("send_to %q is not a valid address", p.SendTo))
	}
	if strings.TrimSpace(p.Subject) == "" {
		errs = append(errs, errors.New("subject is required"))
	}
	if strings.TrimSpace(p.BodyHTML) == "" {
		errs = append(errs, errors.New("body_html is required"))
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(append([]error{ErrInvalidParams}, errs...)...)
}
