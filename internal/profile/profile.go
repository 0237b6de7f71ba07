// Package profile resolves client identifiers to profile records.
//
// A profile enriches the system prompt with who the agent is talking
// to. Lookups are strictly best-effort: a missing or failing source
// degrades prompt richness, never correctness, so callers are expected
// to swallow errors and continue.
//
// Three sources are provided, selected at construction time:
// [StaticSource] (canned development data), [DirSource] (a directory
// of vCard files), and [CardDAVSource] (a remote address book).
package profile

import "context"

// Profile is a client profile record. It is immutable once fetched for
// a turn; a later fetch replaces the whole record.
type Profile struct {
	ID          string   `json:"id"`
	FirstName   string   `json:"first_name,omitempty"`
	LastName    string   `json:"last_name,omitempty"`
	Email       string   `json:"email,omitempty"`
	DateOfBirth string   `json:"date_of_birth,omitempty"`
	Gender      string   `json:"gender,omitempty"`
	Address     *Address `json:"address,omitempty"`
	Phones      []Phone  `json:"phones,omitempty"`
}

// Address holds structured postal fields.
type Address struct {
	Street     string `json:"street,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
	Country    string `json:"country,omitempty"`
}

// Phone is a single phone number with its type (e.g. "cell", "home").
type Phone struct {
	Type   string `json:"type,omitempty"`
	Number string `json:"number"`
}

// Source resolves a client ID to a profile. A nil Profile with a nil
// error means the client is unknown — that is not an error condition.
type Source interface {
	GetProfile(ctx context.Context, clientID string) (*Profile, error)
}
