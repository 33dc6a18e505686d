package model

import "strings"

// DefaultSenderKey is the reserved key of the default sender contact.
const DefaultSenderKey = "DEFAULT_SENDER"

// DefaultSenderName is the name of the default sender. Chat messages and
// emails that cannot be attributed to a known contact are sent from this
// identity.
const DefaultSenderName = "voicemail"

// DefaultSenderPhone is stored as both phone numbers of the default sender.
const DefaultSenderPhone = "*"

// Owner is the single account that the relay serves. ChatID and Email are
// optional, a nil value disables the channel.
type Owner struct {
	PhoneNumber string
	ChatID      *string
	Email       *string
	LogCapacity int
}

// ChatEnabled reports whether messages may be delivered to the owner via chat.
func (o Owner) ChatEnabled() bool {
	return o.ChatID != nil && *o.ChatID != ""
}

// EmailEnabled reports whether messages may be delivered to the owner via
// email.
func (o Owner) EmailEnabled() bool {
	return o.Email != nil && *o.Email != ""
}

// Contact is a named correspondent of the owner. Name is unique and always
// lower case, NormalizedPhone is unique and holds the canonical form of
// Phone. Key is only set for the default sender.
type Contact struct {
	Id              int64   `json:"id"               db:"id"`
	Key             *string `json:"key,omitempty"    db:"contact_key"`
	Name            string  `json:"name"             db:"name"`
	Phone           string  `json:"phone"            db:"phone"`
	NormalizedPhone string  `json:"normalized_phone" db:"normalized_phone"`
	Subscribed      bool    `json:"subscribed"       db:"subscribed"`
}

// IsDefaultSender reports whether the contact is the default sender.
func (c *Contact) IsDefaultSender() bool {
	return c.Key != nil && *c.Key == DefaultSenderKey
}

// NewDefaultSender returns the record that is stored when the default sender
// is first requested.
func NewDefaultSender() *Contact {
	key := DefaultSenderKey
	return &Contact{
		Key:             &key,
		Name:            DefaultSenderName,
		Phone:           DefaultSenderPhone,
		NormalizedPhone: DefaultSenderPhone,
	}
}

// CanonicalName returns the form in which contact names are stored and looked
// up.
func CanonicalName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Direction tells whether a routed message went to or came from the owner.
type Direction int

const (
	ToOwner Direction = iota
	FromOwner
)

func (d Direction) String() string {
	switch d {
	case ToOwner:
		return "to_owner"
	case FromOwner:
		return "from_owner"
	default:
		return "unknown"
	}
}

// LogEntry records one routed message. Counterparty is the contact name or,
// for unknown numbers, the pretty-printed phone number.
type LogEntry struct {
	Timestamp    int64
	Direction    Direction
	Counterparty string
	Body         string
}
