package postmark

import (
	"context"
	"errors"
	"fmt"
	"net/mail"

	"github.com/mrz1836/postmark"

	"github.com/dmitrymomot/guard/core/email"
)

// Client sends email through the Postmark transactional API.
type Client struct {
	client *postmark.Client
	config Config
}

// New creates a Postmark-backed email sender. Both tokens and both addresses
// are required.
func New(cfg Config) (*Client, error) {
	var errs []error
	if cfg.PostmarkServerToken == "" {
		errs = append(errs, errors.New("PostmarkServerToken is required"))
	}
	if cfg.PostmarkAccountToken == "" {
		errs = append(errs, errors.New("PostmarkAccountToken is required"))
	}
	if !isValidEmail(cfg.SenderEmail) {
		errs = append(errs, errors.New("SenderEmail must be a valid email address"))
	}
	if !isValidEmail(cfg.SupportEmail) {
		errs = append(errs, errors.New("SupportEmail must be a valid email address"))
	}
	if len(errs) > 0 {
		return nil, errors.Join(append([]error{email.ErrInvalidConfig}, errs...)...)
	}

	return &Client{
		client: postmark.NewClient(cfg.PostmarkServerToken, cfg.PostmarkAccountToken),
		config: cfg,
	}, nil
}

// MustNewClient is New that panics on invalid configuration.
func MustNewClient(cfg Config) *Client {
	client, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return client
}

// SendEmail implements email.EmailSender. Replies go to the support address.
// Open and link tracking stay off: alert mail carries incident details.
func (c *Client) SendEmail(ctx context.Context, params email.SendEmailParams) error {
	if err := params.Validate(); err != nil {
		return err
	}

	resp, err := c.client.SendEmail(ctx, postmark.Email{
		From:     c.config.SenderEmail,
		ReplyTo:  c.config.SupportEmail,
		To:       params.SendTo,
		Subject:  params.Subject,
		Tag:      params.Tag,
		HTMLBody: params.BodyHTML,
	})
	if err != nil {
		return errors.Join(email.ErrFailedToSendEmail, err)
	}
	if resp.ErrorCode > 0 {
		return errors.Join(
			email.ErrFailedToSendEmail,
			fmt.Errorf("postmark error: %d - %s", resp.ErrorCode, resp.Message),
		)
	}
	return nil
}

func isValidEmail(s string) bool {
	if s == "" {
		return false
	}
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s
}
