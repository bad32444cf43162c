// Package email defines the EmailSender abstraction used to deliver
// administrator alerts, plus DevSender, which writes messages to disk instead
// of sending them.
//
//	sender := email.NewDevSender("./var/mail")
//	err := sender.SendEmail(ctx, email.SendEmailParams{
//		SendTo:   "admin@example.com",
//		Subject:  "[CRITICAL] database unreachable",
//		BodyHTML: "<p>...</p>",
//		Tag:      "incident",
//	})
//
// Production delivery lives in integration/email/postmark. All senders
// validate SendEmailParams first and return errors matching ErrInvalidParams
// or ErrFailedToSendEmail.
package email
