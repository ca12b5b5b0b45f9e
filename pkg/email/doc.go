// Package email sends transactional mail.
//
// New returns an EmailSender backed by Postmark when POSTMARK_SERVER_TOKEN is
// set, and a DevSender that writes each message as an HTML file under
// EMAIL_DEV_DIR otherwise. SendEmailParams.Validate is called before every send.
package email
