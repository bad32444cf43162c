// Package postmark implements email.EmailSender on top of the Postmark
// transactional API. It is the production transport for incident alerts.
//
//	sender, err := postmark.New(postmark.Config{
//		PostmarkServerToken:  os.Getenv("POSTMARK_SERVER_TOKEN"),
//		PostmarkAccountToken: os.Getenv("POSTMARK_ACCOUNT_TOKEN"),
//		SenderEmail:          "alerts@example.com",
//		SupportEmail:         "security@example.com",
//	})
//
// Configuration errors match email.ErrInvalidConfig; delivery failures and
// Postmark API error codes match email.ErrFailedToSendEmail.
package postmark
