package session

import (
	"sync"

	"github.com/mmynk/pocketledger/internal/schema"
)

// BeginWrite admits one ledger write. It fails with ErrMigrationInProgress
// while a migration runs; callers must invoke release when done.
func (o *Orchestrator) BeginWrite() (Scope, func(), error) {
	if o.migrating.Load() {
		return Scope{}, nil, ErrMigrationInProgress
	}
	o.gate.RLock()
	if o.migrating.Load() {
		o.gate.RUnlock()
		return Scope{}, nil, ErrMigrationInProgress
	}

	o.mu.Lock()
	snap := o.snap
	o.mu.Unlock()
	if snap.State != Ready || snap.Identity.IsZero() {
		o.gate.RUnlock()
		return Scope{}, nil, ErrNotReady
	}

	scope := Scope{Identity: snap.Identity, Schema: schema.For(snap.Variant)}
	return scope, sync.OnceFunc(o.gate.RUnlock), nil
}

// BeginRead admits one ledger read. Reads are suspended the same way as
// writes because the active tables change when a migration commits.
func (o *Orchestrator) BeginRead() (Scope, func(), error) {
	return o.BeginWrite()
}

// Migrating reports whether a migration is in flight. UIs disable actions
// that would start another one.
func (o *Orchestrator) Migrating() bool {
	return o.migrating.Load()
}

func (o *Orchestrator) beginExclusive() error {
	o.mu.Lock()
	switch o.snap.State {
	case Ready:
	case Migrating:
		o.mu.Unlock()
		return ErrMigrationInProgress
	default:
		o.mu.Unlock()
		return ErrNotReady
	}
	if !o.migrating.CompareAndSwap(false, true) {
		o.mu.Unlock()
		return ErrMigrationInProgress
	}
	o.setStateLocked(Migrating)
	o.mu.Unlock()

	// Wait for admitted reads and writes to finish.
	o.gate.Lock()
	return nil
}

func (o *Orchestrator) endExclusive() {
	o.gate.Unlock()
	o.mu.Lock()
	o.setStateLocked(Ready)
	o.mu.Unlock()
	o.migrating.Store(false)
}

// Snapshot returns the current session view.
func (o *Orchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	snap := o.snap
	o.mu.Unlock()
	snap.Degraded = o.identity.Degraded()
	snap.Replicator = o.replicator.Status()
	return snap
}

// Subscribe delivers a snapshot after every change. Slow readers only see
// the latest one. cancel stops delivery and closes the channel.
func (o *Orchestrator) Subscribe() (<-chan Snapshot, func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	id := o.next
	o.next++
	ch := make(chan Snapshot, 1)
	o.subs[id] = ch
	ch <- o.snap

	return ch, func() {
		o.mu.Lock()
		defer o.mu.Unlock()
		if _, ok := o.subs[id]; ok {
			delete(o.subs, id)
			close(ch)
		}
	}
}

func (o *Orchestrator) setStateLocked(s State) {
	if o.snap.State != s {
		o.logger.Debug("Session state", "from", o.snap.State, "to", s)
	}
	o.snap.State = s
	o.metrics.SetState(s.String(), stateNames())
	o.publishLocked()
}

func (o *Orchestrator) publishLocked() {
	for _, ch := range o.subs {
		select {
		case <-ch:
		default:
		}
		ch <- o.snap
	}
}
