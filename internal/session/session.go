// Package session owns the session state machine: which identity is
// active, which schema variant backs the ledger, and when data has to be
// migrated between them.
//
// An Orchestrator is created once per process and handed to everything
// that reads or writes ledger rows. Ordinary reads and writes go through
// BeginRead/BeginWrite, which refuse to run while a migration holds the
// store.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/mmynk/pocketledger/internal/auth"
	"github.com/mmynk/pocketledger/internal/identity"
	"github.com/mmynk/pocketledger/internal/metrics"
	"github.com/mmynk/pocketledger/internal/migrate"
	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/replicator"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/seed"
	"github.com/mmynk/pocketledger/internal/storage"
)

// Deps are the collaborators of an Orchestrator.
type Deps struct {
	Store      storage.Store
	KV         storage.KV
	Identity   *identity.Manager
	Seeder     *seed.Seeder
	Migrator   *migrate.Migrator
	Replicator replicator.Replicator
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
}

// Orchestrator is the session state machine.
type Orchestrator struct {
	store      storage.Store
	kv         storage.KV
	identity   *identity.Manager
	seeder     *seed.Seeder
	migrator   *migrate.Migrator
	replicator replicator.Replicator
	logger     *slog.Logger
	metrics    *metrics.Metrics

	// migrating is set for the whole of an exclusive operation. gate is
	// held shared by readers and writers and exclusively by migrations.
	migrating atomic.Bool
	gate      sync.RWMutex

	mu    sync.Mutex
	snap  Snapshot
	creds auth.Credentials
	subs  map[int]chan Snapshot
	next  int
}

// New creates an orchestrator in the Uninitialized state.
func New(d Deps) *Orchestrator {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Replicator == nil {
		d.Replicator = replicator.NewNop()
	}
	o := &Orchestrator{
		store:      d.Store,
		kv:         d.KV,
		identity:   d.Identity,
		seeder:     d.Seeder,
		migrator:   d.Migrator,
		replicator: d.Replicator,
		logger:     d.Logger,
		metrics:    d.Metrics,
		subs:       make(map[int]chan Snapshot),
	}
	o.metrics.SetState(Uninitialized.String(), stateNames())
	return o
}

// Start resolves the session identity and brings the orchestrator to Ready.
// state is what the auth provider currently reports. A migration left owed
// by an earlier run is resumed before Start returns.
//
// Only storage failures are returned; seeding and migration problems are
// recorded in the snapshot and logged.
func (o *Orchestrator) Start(ctx context.Context, state auth.State, creds auth.Credentials) error {
	o.mu.Lock()
	if o.snap.State != Uninitialized {
		o.mu.Unlock()
		return ErrAlreadyStarted
	}
	o.setStateLocked(Resolving)
	o.mu.Unlock()

	syncOn := o.syncFlag(ctx)
	variant := schema.LocalOnly
	if syncOn {
		variant = schema.Synced
	}
	if err := o.store.UpdateSchema(ctx, schema.For(variant)); err != nil {
		// Nothing was resolved yet; a later Start may retry.
		o.mu.Lock()
		o.setStateLocked(Uninitialized)
		o.mu.Unlock()
		return fmt.Errorf("failed to prepare %s schema: %w", variant, err)
	}

	plan, err := o.loadPlan(ctx)
	if err != nil {
		o.logger.Warn("Ignoring unreadable migration plan", "error", err)
		plan = nil
	}
	if plan != nil && plan.Kind == planSignIn && o.identity.IsRetired(ctx, plan.Request.SourceIdentity) {
		// The guest was already retired; only the plan record survived.
		o.logger.Info("Dropping completed sign-in plan", "guest_id", plan.Request.SourceIdentity)
		if err := o.clearPlan(ctx); err != nil {
			o.logger.Warn("Failed to clear migration plan", "error", err)
		}
		plan = nil
	}

	active := o.identity.ActiveIdentity(ctx)
	if plan != nil && plan.Kind == planSignIn {
		// The sign-in never completed: the rows still belong to the guest.
		active = models.Identity{ID: plan.Request.SourceIdentity, Kind: models.Guest}
	}

	seedWarning := ""
	if active.Kind != models.Authenticated {
		id, created := o.identity.GetOrCreateGuestID(ctx)
		if plan == nil || plan.Kind != planSignIn {
			active = o.identity.ActiveIdentity(ctx)
			if active.IsZero() {
				active = models.Identity{ID: id, Kind: models.Guest}
			}
		}
		if created || o.identity.SeedOwed(ctx, active.ID) {
			if err := o.runSeed(ctx, active, schema.For(variant)); err != nil {
				seedWarning = err.Error()
			}
		}
	}

	o.mu.Lock()
	o.snap.Identity = active
	o.snap.Variant = variant
	o.snap.SyncEnabled = syncOn
	o.snap.SeedWarning = seedWarning
	if state.SignedIn() && active.Kind == models.Authenticated && active.ID == state.ExternalUserID {
		o.snap.SignedIn = true
		o.creds = creds
	}
	o.setStateLocked(Ready)
	o.mu.Unlock()
	o.logger.Info("Session ready", "identity", active, "variant", variant, "sync", syncOn)

	if plan != nil {
		if plan.Kind == planSignIn && state.SignedIn() {
			o.mu.Lock()
			o.creds = creds
			o.mu.Unlock()
		}
		o.resume(ctx, *plan)
	}

	return o.reconcileAuth(ctx, state, creds)
}

// reconcileAuth applies the auth provider's view after Start.
func (o *Orchestrator) reconcileAuth(ctx context.Context, state auth.State, creds auth.Credentials) error {
	snap := o.Snapshot()
	switch {
	case state.SignedIn() && snap.SignedIn:
		if snap.SyncEnabled {
			return o.connect(ctx, snap.Identity, creds)
		}
		return nil
	case state.SignedIn():
		return o.SignIn(ctx, state.ExternalUserID, creds)
	case snap.SyncEnabled:
		// Signed out while the app was not running.
		return o.SignOut(ctx)
	}
	return nil
}

func (o *Orchestrator) resume(ctx context.Context, p migrationPlan) {
	o.logger.Info("Resuming owed migration", "kind", p.Kind, "direction", p.Request.Direction())
	if err := o.beginExclusive(); err != nil {
		o.logger.Error("Failed to resume migration", "error", err)
		return
	}
	defer o.endExclusive()
	if err := o.execute(ctx, p); err != nil {
		o.logger.Error("Owed migration failed", "error", err)
	}
}

func (o *Orchestrator) runSeed(ctx context.Context, owner models.Identity, d schema.Descriptor) error {
	if err := o.seeder.SeedDefaults(ctx, owner, d); err != nil {
		o.logger.Warn("Seeding failed, continuing with empty reference data",
			"identity_id", owner.ID,
			"error", err,
		)
		return err
	}
	if err := o.identity.MarkSeeded(ctx, owner.ID); err != nil {
		o.logger.Warn("Failed to clear seed flag", "identity_id", owner.ID, "error", err)
	}
	return nil
}

// RetrySeed re-runs default data seeding for the active identity.
func (o *Orchestrator) RetrySeed(ctx context.Context) error {
	scope, release, err := o.BeginWrite()
	if err != nil {
		return err
	}
	defer release()

	err = o.runSeed(ctx, scope.Identity, scope.Schema)
	o.mu.Lock()
	if err != nil {
		o.snap.SeedWarning = err.Error()
	} else {
		o.snap.SeedWarning = ""
	}
	o.publishLocked()
	o.mu.Unlock()
	return err
}

// SignIn moves the session to the authenticated user authID. A guest's
// rows are migrated to authID; a user whose rows are already on the
// device is switched to directly.
func (o *Orchestrator) SignIn(ctx context.Context, authID string, creds auth.Credentials) error {
	if authID == "" {
		return errors.New("sign-in needs a user id")
	}
	if err := o.beginExclusive(); err != nil {
		return err
	}
	defer o.endExclusive()

	snap := o.Snapshot()
	current := snap.Identity

	switch {
	case current.Kind == models.Authenticated && current.ID == authID:
		o.setSignedIn(true, creds)
		if snap.SyncEnabled {
			return o.connect(ctx, current, creds)
		}
		return nil

	case current.Kind == models.Guest:
		if current.Ephemeral {
			return ErrEphemeralIdentity
		}
		if err := o.identity.ReplaceGuestWithAuthenticated(ctx, authID); err != nil {
			return o.recordError(fmt.Errorf("failed to record sign-in: %w", err))
		}
		o.setSignedIn(true, creds)
		err := o.execute(ctx, migrationPlan{
			Kind: planSignIn,
			Request: migrate.Request{
				SourceVariant:  snap.Variant,
				SourceIdentity: current.ID,
				TargetVariant:  snap.Variant,
				TargetIdentity: authID,
			},
		})
		if err != nil {
			o.setSignedIn(false, auth.Credentials{})
		}
		return err

	default:
		// Another user's rows stay on the device under their own id, in
		// the local-only tables: sync was enabled by that user, not authID.
		if snap.Variant == schema.Synced {
			err := o.execute(ctx, migrationPlan{
				Kind: planSyncOff,
				Request: migrate.Request{
					SourceVariant:  schema.Synced,
					SourceIdentity: current.ID,
					TargetVariant:  schema.LocalOnly,
					TargetIdentity: current.ID,
				},
			})
			if err != nil {
				return err
			}
			snap = o.Snapshot()
		}
		if err := o.replicator.Disconnect(ctx); err != nil {
			return o.recordError(fmt.Errorf("failed to detach replicator: %w", err))
		}
		if err := o.identity.SetAuthenticated(ctx, authID); err != nil {
			return o.recordError(err)
		}
		next := models.Identity{ID: authID, Kind: models.Authenticated}
		seedErr := o.runSeed(ctx, next, schema.For(snap.Variant))

		o.mu.Lock()
		o.snap.Identity = next
		o.snap.SeedWarning = ""
		if seedErr != nil {
			o.snap.SeedWarning = seedErr.Error()
		}
		o.mu.Unlock()
		o.setSignedIn(true, creds)
		o.logger.Info("Switched authenticated user", "identity_id", authID)
		if snap.SyncEnabled {
			return o.connect(ctx, next, creds)
		}
		return nil
	}
}

// SignOut detaches the session from the auth provider. Synced data is
// moved back to the local-only tables and stays on the device.
func (o *Orchestrator) SignOut(ctx context.Context) error {
	if err := o.beginExclusive(); err != nil {
		return err
	}
	defer o.endExclusive()

	snap := o.Snapshot()
	o.setSignedIn(false, auth.Credentials{})
	if snap.Variant != schema.Synced {
		return nil
	}
	return o.execute(ctx, migrationPlan{
		Kind: planSyncOff,
		Request: migrate.Request{
			SourceVariant:  schema.Synced,
			SourceIdentity: snap.Identity.ID,
			TargetVariant:  schema.LocalOnly,
			TargetIdentity: snap.Identity.ID,
		},
	})
}

// SetSyncEnabled switches the active identity's rows between the
// local-only and synced tables.
func (o *Orchestrator) SetSyncEnabled(ctx context.Context, on bool) error {
	if snap := o.Snapshot(); on && !snap.SignedIn && snap.State == Ready {
		return ErrSyncRequiresSignIn
	}
	if err := o.beginExclusive(); err != nil {
		return err
	}
	defer o.endExclusive()

	snap := o.Snapshot()
	if on && !snap.SignedIn {
		return ErrSyncRequiresSignIn
	}
	if on == snap.SyncEnabled {
		return nil
	}

	p := migrationPlan{Kind: planSyncOff, Request: migrate.Request{
		SourceVariant:  schema.Synced,
		SourceIdentity: snap.Identity.ID,
		TargetVariant:  schema.LocalOnly,
		TargetIdentity: snap.Identity.ID,
	}}
	if on {
		p.Kind = planSyncOn
		p.Request.SourceVariant, p.Request.TargetVariant = schema.LocalOnly, schema.Synced
	}
	return o.execute(ctx, p)
}

// HandleAuthChange reacts to a state reported by the auth provider. A
// transition to signed in with a user id triggers SignIn; a transition to
// signed out triggers SignOut; fresh credentials for the same user are
// passed on to the replicator.
func (o *Orchestrator) HandleAuthChange(ctx context.Context, state auth.State, creds auth.Credentials) error {
	snap := o.Snapshot()
	switch {
	case state.SignedIn() && !snap.SignedIn:
		return o.SignIn(ctx, state.ExternalUserID, creds)
	case state.SignedIn() && snap.Identity.ID != state.ExternalUserID:
		if err := o.SignOut(ctx); err != nil {
			return err
		}
		return o.SignIn(ctx, state.ExternalUserID, creds)
	case state.SignedIn():
		o.setSignedIn(true, creds)
		if snap.SyncEnabled && snap.State == Ready {
			return o.connect(ctx, snap.Identity, creds)
		}
		return nil
	case snap.SignedIn:
		return o.SignOut(ctx)
	}
	return nil
}

// WatchAuth applies auth events until ctx is done or events is closed.
func (o *Orchestrator) WatchAuth(ctx context.Context, events <-chan auth.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := o.HandleAuthChange(ctx, ev.State, ev.Credentials); err != nil {
				o.logger.Warn("Auth change not applied", "signed_in", ev.State.IsSignedIn, "error", err)
			}
		}
	}
}

// execute runs one migration while the caller holds exclusivity.
// On failure the session is left on its source identity and variant.
func (o *Orchestrator) execute(ctx context.Context, p migrationPlan) error {
	req := p.Request
	logger := o.logger.With("kind", p.Kind, "direction", req.Direction())

	if err := o.savePlan(ctx, p); err != nil {
		o.abandon(ctx, p)
		return o.recordError(err)
	}

	if err := o.replicator.Disconnect(ctx); err != nil {
		o.abandon(ctx, p)
		return o.recordError(fmt.Errorf("failed to detach replicator: %w", err))
	}
	if err := o.store.UpdateSchema(ctx, schema.For(req.TargetVariant)); err != nil {
		o.abandon(ctx, p)
		return o.recordError(fmt.Errorf("failed to prepare %s schema: %w", req.TargetVariant, err))
	}

	report, err := o.migrator.Migrate(ctx, req)
	if err != nil {
		o.abandon(ctx, p)
		return o.recordError(err)
	}

	if p.Kind == planSignIn {
		if err := o.identity.CompleteReplacement(ctx); err != nil {
			logger.Warn("Failed to retire guest identity", "error", err)
		}
	} else {
		on := "false"
		if req.TargetVariant == schema.Synced {
			on = "true"
		}
		if err := o.kv.Set(ctx, KeySyncEnabled, on); err != nil {
			logger.Warn("Failed to persist sync flag", "error", err)
		}
	}
	if err := o.clearPlan(ctx); err != nil {
		logger.Warn("Failed to clear migration plan", "error", err)
	}
	if req.SourceVariant != req.TargetVariant {
		o.dropIfEmpty(ctx, schema.For(req.SourceVariant))
	}

	target := models.Identity{ID: req.TargetIdentity, Kind: models.Authenticated}
	o.mu.Lock()
	if p.Kind != planSignIn {
		target = o.snap.Identity
	}
	o.snap.Identity = target
	o.snap.Variant = req.TargetVariant
	o.snap.SyncEnabled = req.TargetVariant == schema.Synced
	o.snap.LastError = ""
	creds := o.creds
	signedIn := o.snap.SignedIn
	o.publishLocked()
	o.mu.Unlock()

	logger.Info("Migration complete", "identity", target, "rows", report.Rows)

	if req.TargetVariant == schema.Synced && signedIn {
		return o.connect(ctx, target, creds)
	}
	return nil
}

// abandon undoes the bookkeeping of a failed migration and reattaches
// the replicator to the source when it was attached before.
func (o *Orchestrator) abandon(ctx context.Context, p migrationPlan) {
	if p.Kind == planSignIn {
		if err := o.identity.AbandonReplacement(ctx); err != nil {
			o.logger.Warn("Failed to abandon identity replacement", "error", err)
		}
	}
	if err := o.clearPlan(ctx); err != nil {
		o.logger.Warn("Failed to clear migration plan", "error", err)
	}

	o.mu.Lock()
	snap := o.snap
	creds := o.creds
	o.mu.Unlock()
	if p.Request.SourceVariant == schema.Synced && snap.SignedIn {
		source := models.Identity{ID: p.Request.SourceIdentity, Kind: snap.Identity.Kind}
		if err := o.connect(ctx, source, creds); err != nil {
			o.logger.Warn("Failed to reattach replicator", "error", err)
		}
	}
}

// dropIfEmpty removes a variant's tables once no identity has rows there.
func (o *Orchestrator) dropIfEmpty(ctx context.Context, d schema.Descriptor) {
	tables := make([]string, 0, len(d.Tables)+1)
	for _, t := range d.Tables {
		tables = append(tables, t.Physical)
	}
	if d.Replicated() {
		tables = append(tables, d.Outbox)
	}
	for _, t := range tables {
		n, err := o.store.Count(ctx, t, nil)
		if err != nil || n > 0 {
			return
		}
	}
	if err := o.store.DropSchema(ctx, d); err != nil {
		o.logger.Warn("Failed to drop empty schema", "variant", d.Variant, "error", err)
		return
	}
	o.logger.Info("Dropped empty schema", "variant", d.Variant)
}

func (o *Orchestrator) connect(ctx context.Context, id models.Identity, creds auth.Credentials) error {
	if err := o.replicator.Connect(ctx, id, creds); err != nil {
		return o.recordError(fmt.Errorf("failed to attach replicator: %w", err))
	}
	return nil
}

func (o *Orchestrator) recordError(err error) error {
	o.mu.Lock()
	o.snap.LastError = err.Error()
	o.publishLocked()
	o.mu.Unlock()
	return err
}

func (o *Orchestrator) setSignedIn(on bool, creds auth.Credentials) {
	o.mu.Lock()
	o.snap.SignedIn = on
	o.creds = creds
	o.publishLocked()
	o.mu.Unlock()
}
