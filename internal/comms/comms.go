// Package comms sends messages on the relay's outbound channels: SMS through
// Twilio, email through SMTP and chat through a pluggable chat client.
package comms

import (
	"context"
	"errors"
	"log/slog"
)

var (
	// ErrChatUnavailable is returned by chat operations when no chat client is
	// configured.
	ErrChatUnavailable = errors.New("no chat client configured")
	// ErrMailUnavailable is returned by SendEmail when no mailer is configured.
	ErrMailUnavailable = errors.New("no mailer configured")
	// ErrSMSUnavailable is returned by SendSMS when no SMS gateway is configured.
	ErrSMSUnavailable = errors.New("no SMS gateway configured")
)

// SMSSender delivers SMS messages.
type SMSSender interface {
	SendSMS(ctx context.Context, fromNumber, toNumber, body string) error
}

// Mailer delivers emails.
type Mailer interface {
	SendEmail(ctx context.Context, from, to, subject, body string) error
}

// ChatClient talks to the chat server on behalf of the relay's identities.
type ChatClient interface {
	Send(ctx context.Context, fromJID, toJID, text string) error
	Invite(ctx context.Context, fromJID, toJID string) error
	Presence(ctx context.Context, jid, viaJID string) (bool, error)
}

// Service combines the channel implementations. Nil channels report an
// unavailable error. In dev mode SMS messages are logged instead of sent.
type Service struct {
	SMS     SMSSender
	Mail    Mailer
	Chat    ChatClient
	DevMode bool
	Logger  *slog.Logger
}

func (s *Service) logger() *slog.Logger {
	if s.Logger == nil {
		return slog.Default()
	}
	return s.Logger
}

func (s *Service) SendChatMessage(ctx context.Context, fromJID, toJID, text string) error {
	if s.Chat == nil {
		return ErrChatUnavailable
	}
	return s.Chat.Send(ctx, fromJID, toJID, text)
}

func (s *Service) SendChatInvite(ctx context.Context, fromJID, toJID string) error {
	if s.Chat == nil {
		return ErrChatUnavailable
	}
	s.logger().Info("sending chat invite", "from", fromJID, "to", toJID)
	return s.Chat.Invite(ctx, fromJID, toJID)
}

func (s *Service) GetChatPresence(ctx context.Context, jid, viaJID string) (bool, error) {
	if s.Chat == nil {
		return false, ErrChatUnavailable
	}
	return s.Chat.Presence(ctx, jid, viaJID)
}

func (s *Service) SendEmail(ctx context.Context, from, to, subject, body string) error {
	if s.Mail == nil {
		return ErrMailUnavailable
	}
	return s.Mail.SendEmail(ctx, from, to, subject, body)
}

func (s *Service) SendSMS(ctx context.Context, fromNumber, toNumber, body string) error {
	s.logger().Info("SMS", "from", fromNumber, "to", toNumber, "body", body)
	if s.DevMode {
		return nil
	}
	if s.SMS == nil {
		return ErrSMSUnavailable
	}
	return s.SMS.SendSMS(ctx, fromNumber, toNumber, body)
}
