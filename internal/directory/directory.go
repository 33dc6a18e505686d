// Package directory stores the owner's contacts and the chat presence flags
// reported to the relay.
//
// Two implementations are provided: MySQL for production use and Memory for
// tests and deployments without a database. Both create the default sender
// on first access and refuse to delete it.
package directory

import (
	"errors"
	"fmt"

	"gitlab.com/dirk.krummacker/message-relay/internal/model"
	"gitlab.com/dirk.krummacker/message-relay/internal/phonenumber"
)

var (
	// ErrNotFound is returned when a contact to modify does not exist.
	ErrNotFound = errors.New("contact not found")
	// ErrDefaultSender is returned on an attempt to delete the default sender.
	ErrDefaultSender = errors.New("the default sender cannot be deleted")
	// ErrDuplicate is returned when a name or phone number is already taken.
	ErrDuplicate = errors.New("a contact with this name or phone number already exists")
	// errDefaultSenderName is returned when the default sender cannot be
	// created because another contact carries its name.
	errDefaultSenderName = fmt.Errorf("%w: the name %q is taken by another contact, rename it to create the default sender",
		ErrDuplicate, model.DefaultSenderName)
	// ErrInvalid is returned for contacts without a name or with an invalid
	// phone number.
	ErrInvalid = errors.New("invalid contact")
)

// prepare brings a contact into its stored form: the name is lower-cased and
// the normalized phone number is derived from the display number. The default
// sender keeps its placeholder numbers.
func prepare(c *model.Contact) error {
	c.Name = model.CanonicalName(c.Name)
	if c.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalid)
	}
	if c.IsDefaultSender() {
		return nil
	}
	if !phonenumber.Validate(c.Phone) {
		return fmt.Errorf("%w: invalid phone number %q", ErrInvalid, c.Phone)
	}
	c.NormalizedPhone = phonenumber.ToNormalized(c.Phone)
	return nil
}
