package directory

import (
	"context"
	"sort"
	"sync"

	"gitlab.com/dirk.krummacker/message-relay/internal/model"
	"gitlab.com/dirk.krummacker/message-relay/internal/phonenumber"
)

// Memory is an in-memory directory. Contacts are copied on the way in and on
// the way out, so callers never share records with the store.
type Memory struct {
	mu       sync.RWMutex
	nextID   int64
	contacts map[int64]model.Contact
	presence map[string]bool
}

// NewMemory returns an empty in-memory directory.
func NewMemory() *Memory {
	return &Memory{
		contacts: make(map[int64]model.Contact),
		presence: make(map[string]bool),
	}
}

// find returns the first contact that matches. The caller holds the lock.
func (m *Memory) find(match func(c *model.Contact) bool) *model.Contact {
	for _, c := range m.contacts {
		if match(&c) {
			found := c
			return &found
		}
	}
	return nil
}

func (m *Memory) GetByID(_ context.Context, id int64) (*model.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[id]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

func (m *Memory) GetByName(_ context.Context, name string) (*model.Contact, error) {
	name = model.CanonicalName(name)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.find(func(c *model.Contact) bool { return c.Name == name }), nil
}

func (m *Memory) GetByPhoneNumber(_ context.Context, number string) (*model.Contact, error) {
	normalized := phonenumber.ToNormalized(number)
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.find(func(c *model.Contact) bool {
		return !c.IsDefaultSender() && c.NormalizedPhone == normalized
	}), nil
}

func (m *Memory) GetDefaultSender(_ context.Context) (*model.Contact, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c := m.find((*model.Contact).IsDefaultSender); c != nil {
		return c, nil
	}
	c := model.NewDefaultSender()
	if m.conflicts(c) {
		return nil, errDefaultSenderName
	}
	m.insert(c)
	found := *c
	return &found, nil
}

// List returns all contacts ordered by id.
func (m *Memory) List(_ context.Context) ([]model.Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out, nil
}

// Create stores a new contact and sets its id.
func (m *Memory) Create(_ context.Context, c *model.Contact) error {
	if err := prepare(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts(c) {
		return ErrDuplicate
	}
	m.insert(c)
	return nil
}

// Update stores the contact under its id, creating it if the id is unknown.
func (m *Memory) Update(_ context.Context, c *model.Contact) error {
	if err := prepare(c); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conflicts(c) {
		return ErrDuplicate
	}
	if _, ok := m.contacts[c.Id]; !ok {
		m.insert(c)
		return nil
	}
	m.contacts[c.Id] = *c
	return nil
}

// Delete removes a contact. The default sender cannot be deleted.
func (m *Memory) Delete(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contacts[id]
	if !ok {
		return ErrNotFound
	}
	if c.IsDefaultSender() {
		return ErrDefaultSender
	}
	delete(m.contacts, id)
	return nil
}

func (m *Memory) GetPresence(_ context.Context, jid string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	present, known := m.presence[jid]
	return present, known, nil
}

func (m *Memory) SetPresence(_ context.Context, jid string, available bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.presence[jid] = available
	return nil
}

// insert assigns the next id and stores the contact. The caller holds the
// write lock.
func (m *Memory) insert(c *model.Contact) {
	m.nextID++
	c.Id = m.nextID
	m.contacts[c.Id] = *c
}

// conflicts reports whether another contact has the same name or number. The
// caller holds the lock.
func (m *Memory) conflicts(c *model.Contact) bool {
	other := m.find(func(o *model.Contact) bool {
		if o.Id == c.Id {
			return false
		}
		if o.IsDefaultSender() && c.IsDefaultSender() {
			return true
		}
		return o.Name == c.Name || (!o.IsDefaultSender() && o.NormalizedPhone == c.NormalizedPhone)
	})
	return other != nil
}
