package models

import "fmt"

// IdentityKind distinguishes anonymous device-local identities from
// identities issued by the auth provider.
type IdentityKind int

const (
	// Guest is an anonymous identity created before sign-in.
	Guest IdentityKind = iota
	// Authenticated is an identity backed by the external auth provider.
	Authenticated
)

func (k IdentityKind) String() string {
	switch k {
	case Guest:
		return "guest"
	case Authenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("IdentityKind(%d)", int(k))
	}
}

// Identity is the owner of every row written on the device.
type Identity struct {
	// ID is the owner key stored in every row's owner_id column.
	ID string

	// Kind tells whether the identity is a guest or a signed-in user.
	Kind IdentityKind

	// Ephemeral is set when persistent storage was unavailable and the
	// identity only lives for the current process.
	Ephemeral bool
}

// IsZero reports whether no identity has been resolved yet.
func (i Identity) IsZero() bool {
	return i.ID == ""
}

func (i Identity) String() string {
	if i.IsZero() {
		return "<none>"
	}
	return fmt.Sprintf("%s:%s", i.Kind, i.ID)
}
