package comms

import (
	"context"
	"fmt"
	"mime"
	"net"
	"net/mail"
	"net/smtp"
	"strings"
)

// SMTP sends plain text emails through an SMTP server.
type SMTP struct {
	Addr     string // host:port
	Username string
	Password string

	// send is replaced in tests.
	send func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// SendEmail delivers one plain text message. from may carry a display name,
// e.g. "mrtest" <16135551234@relay.mail>.
func (s *SMTP) SendEmail(_ context.Context, from, to, subject, body string) error {
	sender, err := mail.ParseAddress(from)
	if err != nil {
		return fmt.Errorf("invalid sender %q: %w", from, err)
	}
	recipient, err := mail.ParseAddress(to)
	if err != nil {
		return fmt.Errorf("invalid recipient %q: %w", to, err)
	}

	var auth smtp.Auth
	if s.Username != "" {
		host, _, _ := net.SplitHostPort(s.Addr)
		auth = smtp.PlainAuth("", s.Username, s.Password, host)
	}
	send := s.send
	if send == nil {
		send = smtp.SendMail
	}
	msg := composeMessage(sender, recipient, subject, body)
	return send(s.Addr, auth, sender.Address, []string{recipient.Address}, msg)
}

// composeMessage renders the headers and body of a plain text email.
func composeMessage(from, to *mail.Address, subject, body string) []byte {
	// Subjects are taken from message text and may span lines.
	subject = strings.Join(strings.Fields(subject), " ")
	var b strings.Builder
	b.WriteString("From: " + from.String() + "\r\n")
	b.WriteString("To: " + to.String() + "\r\n")
	b.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", subject) + "\r\n")
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	body = strings.ReplaceAll(body, "\r\n", "\n")
	b.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))
	return []byte(b.String())
}
