package relay

import (
	"context"

	"gitlab.com/dirk.krummacker/message-relay/internal/model"
)

// ContactDirectory looks up and stores contacts. Getters return a nil contact
// and a nil error when nothing matches.
type ContactDirectory interface {
	GetByName(ctx context.Context, name string) (*model.Contact, error)
	// GetByPhoneNumber looks up the contact by the normalized form of number.
	GetByPhoneNumber(ctx context.Context, number string) (*model.Contact, error)
	// GetDefaultSender returns the default sender, creating it on first use.
	GetDefaultSender(ctx context.Context) (*model.Contact, error)
	Update(ctx context.Context, contact *model.Contact) error
}

// PresenceStore holds presence flags that were reported to the relay by the
// chat server. known is false if nothing has been reported for jid yet.
type PresenceStore interface {
	GetPresence(ctx context.Context, jid string) (present bool, known bool, err error)
}

// Communications sends messages on the outbound channels.
type Communications interface {
	SendChatMessage(ctx context.Context, fromJID, toJID, text string) error
	SendChatInvite(ctx context.Context, fromJID, toJID string) error
	// GetChatPresence asks the chat server whether jid is online, as seen
	// from viaJID.
	GetChatPresence(ctx context.Context, jid, viaJID string) (bool, error)
	SendEmail(ctx context.Context, from, to, subject, body string) error
	SendSMS(ctx context.Context, fromNumber, toNumber, body string) error
}
