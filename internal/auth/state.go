package auth

// State is what the external auth provider reports about the user.
type State struct {
	IsSignedIn     bool
	ExternalUserID string
}

// SignedIn reports whether the state carries a usable user id.
func (s State) SignedIn() bool {
	return s.IsSignedIn && s.ExternalUserID != ""
}

// Credentials are handed to the replicator when it connects.
type Credentials struct {
	Token string
}

// Event is one auth state change delivered by the provider.
type Event struct {
	State       State
	Credentials Credentials
}

// SignedOut is the state of a user who never signed in or signed out.
var SignedOut = State{}
