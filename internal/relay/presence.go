package relay

import (
	"context"
	"strings"
)

// PresenceSource tells whether a chat identity is currently online.
type PresenceSource interface {
	Online(ctx context.Context, jid string) (bool, error)
}

// livePresence queries the chat server directly, on behalf of the identity
// that via returns at the time of the query.
type livePresence struct {
	comms Communications
	via   func(ctx context.Context) (string, error)
}

func (p livePresence) Online(ctx context.Context, jid string) (bool, error) {
	viaJID, err := p.via(ctx)
	if err != nil {
		return false, err
	}
	return p.comms.GetChatPresence(ctx, jid, viaJID)
}

// trackedPresence uses the flag recorded from presence notifications. An
// identity that never reported presence counts as offline.
type trackedPresence struct {
	store PresenceStore
}

func (p trackedPresence) Online(ctx context.Context, jid string) (bool, error) {
	if p.store == nil {
		return false, nil
	}
	present, known, err := p.store.GetPresence(ctx, jid)
	if err != nil || !known {
		return false, err
	}
	return present, nil
}

// offlinePresence is used when chat is disabled for the owner.
type offlinePresence struct{}

func (offlinePresence) Online(context.Context, string) (bool, error) {
	return false, nil
}

// onDomain reports whether jid (optionally with a resource) belongs to domain.
func onDomain(jid, domain string) bool {
	if domain == "" {
		return false
	}
	bare, _, _ := strings.Cut(jid, "/")
	return strings.HasSuffix(strings.ToLower(bare), "@"+strings.ToLower(domain))
}
