// Package model holds the JSON types of the relay's HTTP API, for use by
// clients.
package model

// Contact is a person that the owner exchanges messages with.
type Contact struct {
	Id              int64  `json:"id"`
	Name            string `json:"name"`
	Phone           string `json:"phone"`
	Subscribed      bool   `json:"subscribed"`
	IsDefaultSender bool   `json:"isDefaultSender"`
}

// ContactChanges is the body of create and update requests. Fields that are
// nil are left unchanged on update.
type ContactChanges struct {
	Name       *string `json:"name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	Subscribed *bool   `json:"subscribed,omitempty"`
}

// LogEntry is one routed message. Direction is "to_owner" or "from_owner",
// Timestamp is in seconds since the epoch.
type LogEntry struct {
	Timestamp    int64  `json:"timestamp"`
	Direction    string `json:"direction"`
	Counterparty string `json:"counterparty"`
	Body         string `json:"body"`
}
