package session

import (
	"errors"
	"fmt"

	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/replicator"
	"github.com/mmynk/pocketledger/internal/schema"
)

// State is the orchestrator's phase.
type State int

const (
	Uninitialized State = iota
	Resolving
	Ready
	Migrating
)

// States lists every state, for metrics.
var States = []State{Uninitialized, Resolving, Ready, Migrating}

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Resolving:
		return "resolving"
	case Ready:
		return "ready"
	case Migrating:
		return "migrating"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

var (
	ErrMigrationInProgress = errors.New("a migration is already running")
	ErrNotReady            = errors.New("session is not ready")
	ErrAlreadyStarted      = errors.New("session already started")
	ErrSyncRequiresSignIn  = errors.New("cloud sync requires a signed-in user")
	ErrEphemeralIdentity   = errors.New("identity storage unavailable; sign-in cannot be recorded")
)

// Snapshot is a consistent view of the session.
type Snapshot struct {
	State       State
	Identity    models.Identity
	SignedIn    bool
	Variant     schema.Variant
	SyncEnabled bool
	SeedWarning string
	LastError   string
	// Degraded is set while identity storage is unreachable and the
	// session runs on an in-memory identity.
	Degraded   bool
	Replicator replicator.Status
}

// Scope is what a reader or writer needs to address the active tables.
type Scope struct {
	Identity models.Identity
	Schema   schema.Descriptor
}

func stateNames() []string {
	names := make([]string, len(States))
	for i, s := range States {
		names[i] = s.String()
	}
	return names
}
