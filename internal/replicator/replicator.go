// Package replicator is the adapter between the session and the network
// sync collaborator. The session only sees the Replicator interface; the
// Outbox implementation drains the Synced variant's pending-change table.
package replicator

import (
	"context"
	"sync"
	"time"

	"github.com/mmynk/pocketledger/internal/auth"
	"github.com/mmynk/pocketledger/internal/models"
)

// Status is published whenever the replicator's view changes.
type Status struct {
	Connected          bool
	Identity           string
	LastSyncedAt       time.Time
	PendingUploadCount int
	LastError          string
}

// Replicator is attached while the Synced variant is active.
type Replicator interface {
	// Connect starts replicating rows owned by identity.
	Connect(ctx context.Context, identity models.Identity, creds auth.Credentials) error

	// Disconnect stops replication and returns once no more writes will be
	// issued to the store.
	Disconnect(ctx context.Context) error

	Status() Status

	// Updates delivers status changes. Slow readers miss intermediate
	// values, never the latest one.
	Updates() <-chan Status
}

// statusFeed is a size-one mailbox that keeps the newest status.
type statusFeed chan Status

func newStatusFeed() statusFeed {
	return make(statusFeed, 1)
}

func (f statusFeed) publish(s Status) {
	for {
		select {
		case f <- s:
			return
		default:
		}
		select {
		case <-f:
		default:
		}
	}
}

// Nop is used when no sync server is configured. It records the
// connection state and never uploads anything.
type Nop struct {
	mu      sync.Mutex
	status  Status
	updates statusFeed
}

// NewNop returns a detached replicator.
func NewNop() *Nop {
	return &Nop{updates: newStatusFeed()}
}

func (n *Nop) Connect(_ context.Context, identity models.Identity, _ auth.Credentials) error {
	n.set(Status{Connected: true, Identity: identity.ID})
	return nil
}

func (n *Nop) Disconnect(context.Context) error {
	n.set(Status{})
	return nil
}

func (n *Nop) set(s Status) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.status = s
	n.updates.publish(s)
}

func (n *Nop) Status() Status {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.status
}

func (n *Nop) Updates() <-chan Status { return n.updates }
