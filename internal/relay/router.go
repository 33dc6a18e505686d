// Package relay routes messages between the owner and their correspondents.
//
// Calls, voicemails and SMS messages from the phone network are delivered to
// the owner by chat or by email, whichever the owner can currently receive.
// Chat and email messages from the owner are turned into SMS messages, using
// the addressed contact or "number:message" syntax to find the destination.
package relay

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"gitlab.com/dirk.krummacker/message-relay/internal/auditlog"
	"gitlab.com/dirk.krummacker/message-relay/internal/model"
	"gitlab.com/dirk.krummacker/message-relay/internal/phonenumber"
)

// Default identity domains of the relay.
const (
	DefaultChatDomain     = "relay.chat"
	DefaultMailDomain     = "relay.mail"
	DefaultLiveChatDomain = "gmail.com"
)

// Router is the routing core. It is safe for concurrent use; the only state
// it owns is the audit log.
type Router struct {
	owner    model.Owner
	contacts ContactDirectory
	comms    Communications
	presence PresenceSource
	store    PresenceStore
	log      *auditlog.Log
	logger   *slog.Logger
	clock    func() time.Time

	chatDomain     string
	mailDomain     string
	liveChatDomain string
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets the logger used for delivery diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithDomains sets the domains of the relay's own chat and email identities.
func WithDomains(chatDomain, mailDomain string) Option {
	return func(r *Router) {
		r.chatDomain = chatDomain
		r.mailDomain = mailDomain
	}
}

// WithLiveChatDomain sets the chat domain whose presence can be queried from
// the chat server. Owners on any other domain rely on tracked presence.
func WithLiveChatDomain(domain string) Option {
	return func(r *Router) {
		r.liveChatDomain = domain
	}
}

// WithPresenceStore sets where tracked presence flags are read from.
func WithPresenceStore(store PresenceStore) Option {
	return func(r *Router) {
		r.store = store
	}
}

// WithClock sets the clock used to timestamp audit log entries.
func WithClock(now func() time.Time) Option {
	return func(r *Router) {
		r.clock = now
	}
}

// NewRouter creates a router for the owner.
func NewRouter(owner model.Owner, contacts ContactDirectory, comms Communications, opts ...Option) *Router {
	r := &Router{
		owner:          owner,
		contacts:       contacts,
		comms:          comms,
		logger:         slog.Default(),
		clock:          time.Now,
		chatDomain:     DefaultChatDomain,
		mailDomain:     DefaultMailDomain,
		liveChatDomain: DefaultLiveChatDomain,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = auditlog.New(owner.LogCapacity, auditlog.WithClock(r.clock))
	r.presence = r.presenceSource()
	return r
}

// presenceSource picks how the owner's chat presence is determined.
func (r *Router) presenceSource() PresenceSource {
	switch {
	case !r.owner.ChatEnabled():
		return offlinePresence{}
	case onDomain(*r.owner.ChatID, r.liveChatDomain):
		return livePresence{comms: r.comms, via: r.defaultSenderJID}
	default:
		return trackedPresence{store: r.store}
	}
}

// defaultSenderJID returns the chat identity of the default sender under its
// current name.
func (r *Router) defaultSenderJID(ctx context.Context) (string, error) {
	sender, err := r.contacts.GetDefaultSender(ctx)
	if err != nil {
		return "", fmt.Errorf("getting default sender: %w", err)
	}
	return r.ChatIdentity(sender.Name), nil
}

// Owner returns the owner the router serves.
func (r *Router) Owner() model.Owner {
	return r.owner
}

// Entries returns the audit log, oldest entry first.
func (r *Router) Entries() []model.LogEntry {
	return r.log.Entries()
}

// ChatIdentity returns the chat address of the relay identity with the given
// contact name.
func (r *Router) ChatIdentity(name string) string {
	return model.CanonicalName(name) + "@" + r.chatDomain
}

// Resolve finds the contact for a phone number. Unknown numbers resolve to
// the default sender and are displayed pretty-printed. An error is only
// returned if the directory fails.
func (r *Router) Resolve(ctx context.Context, number string) (string, *model.Contact, error) {
	contact, err := r.contacts.GetByPhoneNumber(ctx, phonenumber.ToNormalized(number))
	if err != nil {
		return "", nil, fmt.Errorf("looking up contact for %s: %w", number, err)
	}
	if contact != nil {
		return contact.Name, contact, nil
	}
	sender, err := r.contacts.GetDefaultSender(ctx)
	if err != nil {
		return "", nil, fmt.Errorf("getting default sender: %w", err)
	}
	return phonenumber.ToPretty(number), sender, nil
}

// HandleIncomingCall notifies the owner of a call.
func (r *Router) HandleIncomingCall(ctx context.Context, fromNumber, callStatus string) error {
	name, contact, err := r.Resolve(ctx, fromNumber)
	if err != nil {
		return err
	}
	body := "Call from: " + name + " status:" + callStatus
	r.SendMessageToOwner(ctx, body, contact, fromNumber)
	r.log.Record(model.ToOwner, name, body)
	return nil
}

// HandleVoiceMail notifies the owner of a voicemail. transcription and
// recordingURL are optional. It reports whether the notification was
// delivered.
func (r *Router) HandleVoiceMail(ctx context.Context, fromNumber, transcription, recordingURL string) (bool, error) {
	name, contact, err := r.Resolve(ctx, fromNumber)
	if err != nil {
		return false, err
	}
	body := "New message from " + name
	if transcription != "" {
		body += ": " + transcription
	}
	if recordingURL != "" {
		body += " - Recording: " + recordingURL
	}
	delivered := r.SendMessageToOwner(ctx, body, contact, fromNumber)
	r.log.Record(model.ToOwner, name, body)
	return delivered, nil
}

// HandleIncomingSMS forwards an SMS from the phone network to the owner.
func (r *Router) HandleIncomingSMS(ctx context.Context, fromNumber, toNumber, body string) error {
	name, contact, err := r.Resolve(ctx, fromNumber)
	if err != nil {
		return err
	}
	r.log.Record(model.ToOwner, name, body)
	if !r.SendMessageToOwner(ctx, body, contact, fromNumber) {
		r.logger.Warn("SMS could not be delivered to owner", "from", fromNumber, "to", toNumber)
	}
	return nil
}

// HandleIncomingChat sends a chat message from the owner as SMS. Messages from
// anyone but the owner are rejected with a PermissionError.
func (r *Router) HandleIncomingChat(ctx context.Context, sender, to, body string) error {
	if !r.owner.ChatEnabled() || sender != *r.owner.ChatID {
		return &PermissionError{Message: "Incorrect chat user: " + sender}
	}
	return r.forwardToSMS(ctx, to, body)
}

// HandleIncomingEmail sends an email from the owner as SMS. The subject is not
// used for routing.
func (r *Router) HandleIncomingEmail(ctx context.Context, sender, to, subject, body string) error {
	if !r.owner.EmailEnabled() {
		return &PermissionError{Message: "Email is disabled"}
	}
	if !strings.Contains(sender, *r.owner.Email) {
		return &PermissionError{Message: "Incorrect email sender: " + sender}
	}
	return r.forwardToSMS(ctx, to, body)
}

// SendChatInvite invites the owner to subscribe to the chat identity of the
// named contact.
func (r *Router) SendChatInvite(ctx context.Context, name string) error {
	if !r.owner.ChatEnabled() {
		return &PermissionError{Message: "Chat is disabled"}
	}
	return r.comms.SendChatInvite(ctx, r.ChatIdentity(name), *r.owner.ChatID)
}

// SendMessageToOwner delivers a message to the owner and reports whether it
// was delivered. Chat is used when the owner is online and can receive it
// from a subscribed identity, email otherwise. contact is the identity to
// send from and defaults to the default sender; fromNumber is shown when the
// message goes out as the default sender.
//
// Failures are logged, never returned, so that a notification problem does
// not fail the inbound request.
func (r *Router) SendMessageToOwner(ctx context.Context, message string, contact *model.Contact, fromNumber string) bool {
	defaultSender, err := r.contacts.GetDefaultSender(ctx)
	if err != nil {
		r.logger.Error("could not get default sender", "error", err)
		return false
	}
	if contact == nil {
		contact = defaultSender
	}

	online := false
	if r.owner.ChatEnabled() {
		online, err = r.presence.Online(ctx, *r.owner.ChatID)
		if err != nil {
			r.logger.Warn("could not determine owner presence", "error", err)
			online = false
		}
	}

	byEmail := r.owner.EmailEnabled() &&
		(!online || (!contact.Subscribed && !defaultSender.Subscribed))

	switch {
	case byEmail:
		return r.sendEmailToOwner(ctx, message, contact, fromNumber)
	case r.owner.ChatEnabled():
		if !contact.Subscribed {
			// The owner only sees messages from identities they subscribed to.
			contact = defaultSender
		}
		return r.sendChatToOwner(ctx, message, contact, fromNumber)
	default:
		r.logger.Warn("no channel to reach owner, dropping message", "contact", contact.Name)
		return false
	}
}

// withNumber prefixes the message with the sender's number when it would
// otherwise be anonymous.
func withNumber(message string, contact *model.Contact, fromNumber string) string {
	if contact.IsDefaultSender() && fromNumber != "" {
		return phonenumber.ToPretty(fromNumber) + ": " + message
	}
	return message
}

func (r *Router) sendChatToOwner(ctx context.Context, message string, contact *model.Contact, fromNumber string) bool {
	message = withNumber(message, contact, fromNumber)
	from := r.ChatIdentity(contact.Name)
	r.logger.Debug("sending chat message to owner", "from", from, "to", *r.owner.ChatID)
	if err := r.comms.SendChatMessage(ctx, from, *r.owner.ChatID, message); err != nil {
		r.logger.Error("chat message to owner failed", "from", from, "error", err)
		return false
	}
	return true
}

func (r *Router) sendEmailToOwner(ctx context.Context, message string, contact *model.Contact, fromNumber string) bool {
	message = withNumber(message, contact, fromNumber)
	from := r.emailIdentity(contact, fromNumber)
	r.logger.Debug("sending email to owner", "from", from, "to", *r.owner.Email)
	if err := r.comms.SendEmail(ctx, from, *r.owner.Email, message, message); err != nil {
		r.logger.Error("email to owner failed", "from", from, "error", err)
		return false
	}
	return true
}

// emailIdentity builds the From address of an email to the owner. Replying to
// that address reaches the same correspondent.
func (r *Router) emailIdentity(contact *model.Contact, fromNumber string) string {
	var local string
	switch {
	case fromNumber != "":
		local = phonenumber.Strip(phonenumber.ToNormalized(fromNumber))
	case !contact.IsDefaultSender():
		local = phonenumber.Strip(contact.NormalizedPhone)
	default:
		local = contact.Name
	}
	addr := mail.Address{Name: contact.Name, Address: local + "@" + r.mailDomain}
	return addr.String()
}

// forwardToSMS resolves the destination of an owner message and sends it. to
// is the relay address the owner wrote to; its local part names a contact.
// Messages to the default sender must read "number:message".
func (r *Router) forwardToSMS(ctx context.Context, to, body string) error {
	// The default sender has to exist before its name can be addressed.
	if _, err := r.contacts.GetDefaultSender(ctx); err != nil {
		return fmt.Errorf("getting default sender: %w", err)
	}
	toName, _, _ := strings.Cut(to, "@")
	contact, err := r.contacts.GetByName(ctx, toName)
	if err != nil {
		return fmt.Errorf("looking up contact %s: %w", toName, err)
	}
	if contact == nil {
		return &InvalidParametersError{Message: "Unknown contact: " + toName}
	}

	var number, display string
	if !contact.IsDefaultSender() {
		number = contact.NormalizedPhone
		display = contact.Name
	} else {
		numberPart, text, found := strings.Cut(body, ":")
		if !found {
			return &InvalidParametersError{Message: "Use 'number:message' to send an SMS."}
		}
		numberPart = strings.TrimSpace(numberPart)
		if !phonenumber.Validate(numberPart) {
			return &InvalidParametersError{Message: "Invalid number: " + numberPart}
		}
		number = phonenumber.ToNormalized(numberPart)
		display = phonenumber.ToPretty(numberPart)
		body = strings.TrimSpace(text)
	}

	r.log.Record(model.FromOwner, display, body)
	if err := r.comms.SendSMS(ctx, r.owner.PhoneNumber, number, body); err != nil {
		return fmt.Errorf("sending SMS to %s: %w", number, err)
	}
	return nil
}
