package session

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/pocketledger/internal/auth"
	"github.com/mmynk/pocketledger/internal/identity"
	"github.com/mmynk/pocketledger/internal/migrate"
	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/replicator"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/seed"
	"github.com/mmynk/pocketledger/internal/storage"
	"github.com/mmynk/pocketledger/internal/storage/sqlite"
)

type fakeReplicator struct {
	mu          sync.Mutex
	connects    []string
	disconnects int
	status      replicator.Status

	// When block is set, Disconnect signals entered and waits on block.
	block   chan struct{}
	entered chan struct{}
}

func (f *fakeReplicator) Connect(_ context.Context, id models.Identity, _ auth.Credentials) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects = append(f.connects, id.ID)
	f.status = replicator.Status{Connected: true, Identity: id.ID}
	return nil
}

func (f *fakeReplicator) Disconnect(ctx context.Context) error {
	f.mu.Lock()
	block, entered := f.block, f.entered
	f.block, f.entered = nil, nil
	f.mu.Unlock()

	if block != nil {
		close(entered)
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	f.status = replicator.Status{}
	return nil
}

func (f *fakeReplicator) Status() replicator.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeReplicator) Updates() <-chan replicator.Status { return nil }

// arm makes the next Disconnect block until the returned release is called.
func (f *fakeReplicator) arm() (entered <-chan struct{}, release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block := make(chan struct{})
	f.block = block
	f.entered = make(chan struct{})
	return f.entered, sync.OnceFunc(func() { close(block) })
}

type harness struct {
	path     string
	store    *sqlite.SQLiteStore
	ids      *identity.Manager
	repl     *fakeReplicator
	o        *Orchestrator
	migrOpts migrate.Options
}

func newHarness(t *testing.T, path string, opts migrate.Options) *harness {
	t.Helper()
	store, err := sqlite.New(path)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	h := &harness{path: path, store: store, repl: &fakeReplicator{}, migrOpts: opts}
	h.ids = identity.NewManager(store, nil)
	h.o = New(Deps{
		Store:      store,
		KV:         store,
		Identity:   h.ids,
		Seeder:     seed.NewSeeder(store, nil, nil),
		Migrator:   migrate.NewMigrator(store, opts),
		Replicator: h.repl,
	})
	return h
}

func newStartedHarness(t *testing.T) *harness {
	t.Helper()
	h := newHarness(t, filepath.Join(t.TempDir(), "ledger.db"), migrate.Options{})
	require.NoError(t, h.o.Start(context.Background(), auth.SignedOut, auth.Credentials{}))
	return h
}

// addAccount writes one account through the write gate.
func (h *harness) addAccount(t *testing.T, id string) {
	t.Helper()
	scope, release, err := h.o.BeginWrite()
	require.NoError(t, err)
	defer release()
	require.NoError(t, h.store.Insert(context.Background(), scope.Schema.Physical(schema.Accounts), storage.Row{
		"id":       id,
		"owner_id": scope.Identity.ID,
		"name":     "Account " + id,
	}))
}

func (h *harness) count(t *testing.T, v schema.Variant, logical, owner string) int {
	t.Helper()
	n, err := h.store.Count(context.Background(), schema.For(v).Physical(logical), storage.Eq{"owner_id": owner})
	require.NoError(t, err)
	return n
}

func signedIn(id string) auth.State {
	return auth.State{IsSignedIn: true, ExternalUserID: id}
}

func TestStartCreatesAndSeedsGuest(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	h := newHarness(t, path, migrate.Options{})
	assert.Equal(t, Uninitialized, h.o.Snapshot().State)

	require.NoError(t, h.o.Start(ctx, auth.SignedOut, auth.Credentials{}))
	snap := h.o.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, models.Guest, snap.Identity.Kind)
	assert.Equal(t, schema.LocalOnly, snap.Variant)
	assert.Empty(t, snap.SeedWarning)
	assert.False(t, snap.SignedIn)
	assert.False(t, snap.Degraded)

	guest := snap.Identity.ID
	seeded := h.count(t, schema.LocalOnly, schema.Currencies, guest)
	assert.Positive(t, seeded)
	assert.Equal(t, len(seed.IncomeCategories)+len(seed.ExpenseCategories),
		h.count(t, schema.LocalOnly, schema.Categories, guest))

	assert.ErrorIs(t, h.o.Start(ctx, auth.SignedOut, auth.Credentials{}), ErrAlreadyStarted)
	require.NoError(t, h.store.Close())

	// Cold start on the same device.
	again := newHarness(t, path, migrate.Options{})
	require.NoError(t, again.o.Start(ctx, auth.SignedOut, auth.Credentials{}))
	assert.Equal(t, guest, again.o.Snapshot().Identity.ID)
	assert.Equal(t, seeded, again.count(t, schema.LocalOnly, schema.Currencies, guest))
}

func TestSignInMigratesGuest(t *testing.T) {
	ctx := context.Background()
	h := newStartedHarness(t)
	guest := h.o.Snapshot().Identity.ID
	h.addAccount(t, "acct-1")
	h.addAccount(t, "acct-2")

	require.NoError(t, h.o.SignIn(ctx, "user-1", auth.Credentials{Token: "tok"}))

	snap := h.o.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, models.Identity{ID: "user-1", Kind: models.Authenticated}, snap.Identity)
	assert.True(t, snap.SignedIn)
	assert.Empty(t, snap.LastError)

	for _, logical := range schema.TableOrder {
		assert.Zero(t, h.count(t, schema.LocalOnly, logical, guest), logical)
	}
	assert.Equal(t, 2, h.count(t, schema.LocalOnly, schema.Accounts, "user-1"))
	assert.True(t, h.ids.IsRetired(ctx, guest))

	// Not signed in to sync, so nothing was attached.
	assert.Empty(t, h.repl.connects)

	// The next cold start goes straight to the authenticated user.
	require.NoError(t, h.store.Close())
	again := newHarness(t, h.path, migrate.Options{})
	require.NoError(t, again.o.Start(ctx, signedIn("user-1"), auth.Credentials{Token: "tok"}))
	snap = again.o.Snapshot()
	assert.Equal(t, "user-1", snap.Identity.ID)
	assert.True(t, snap.SignedIn)
	_, ok, err := again.store.Get(ctx, identity.KeyGuestID)
	require.NoError(t, err)
	assert.False(t, ok, "no new guest for a known user")
}

func TestFailedSignInKeepsGuest(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t, filepath.Join(t.TempDir(), "ledger.db"), migrate.Options{
		AfterTable: func(table string) error {
			if table == schema.Transactions {
				return errors.New("disk full")
			}
			return nil
		},
	})
	require.NoError(t, h.o.Start(ctx, auth.SignedOut, auth.Credentials{}))
	guest := h.o.Snapshot().Identity
	h.addAccount(t, "acct-1")

	err := h.o.SignIn(ctx, "user-1", auth.Credentials{Token: "tok"})
	assert.ErrorIs(t, err, migrate.ErrTransactionAborted)

	snap := h.o.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, guest, snap.Identity)
	assert.False(t, snap.SignedIn)
	assert.NotEmpty(t, snap.LastError)
	assert.Equal(t, 1, h.count(t, schema.LocalOnly, schema.Accounts, guest.ID))
	assert.Zero(t, h.count(t, schema.LocalOnly, schema.Accounts, "user-1"))

	_, pending := h.ids.PendingReplacement(ctx)
	assert.False(t, pending)
	assert.Equal(t, guest, h.ids.ActiveIdentity(ctx))

	// Writes are accepted again.
	h.addAccount(t, "acct-2")
}

func TestSyncToggle(t *testing.T) {
	ctx := context.Background()
	h := newStartedHarness(t)

	assert.ErrorIs(t, h.o.SetSyncEnabled(ctx, true), ErrSyncRequiresSignIn)

	require.NoError(t, h.o.SignIn(ctx, "user-1", auth.Credentials{Token: "tok"}))
	h.addAccount(t, "acct-1")
	local := h.count(t, schema.LocalOnly, schema.Categories, "user-1")

	require.NoError(t, h.o.SetSyncEnabled(ctx, true))
	snap := h.o.Snapshot()
	assert.Equal(t, schema.Synced, snap.Variant)
	assert.True(t, snap.SyncEnabled)
	assert.True(t, snap.Replicator.Connected)
	assert.Equal(t, []string{"user-1"}, h.repl.connects)
	assert.Equal(t, 1, h.count(t, schema.Synced, schema.Accounts, "user-1"))
	assert.Equal(t, local, h.count(t, schema.Synced, schema.Categories, "user-1"))

	// The local-only tables held nothing else and were dropped.
	_, err := h.store.Count(ctx, schema.For(schema.LocalOnly).Physical(schema.Accounts), nil)
	assert.Error(t, err)

	// Toggling to the current value is a no-op.
	require.NoError(t, h.o.SetSyncEnabled(ctx, true))
	assert.Len(t, h.repl.connects, 1)

	disconnects := h.repl.disconnects
	require.NoError(t, h.o.SetSyncEnabled(ctx, false))
	snap = h.o.Snapshot()
	assert.Equal(t, schema.LocalOnly, snap.Variant)
	assert.False(t, snap.Replicator.Connected)
	assert.Greater(t, h.repl.disconnects, disconnects)
	assert.Equal(t, 1, h.count(t, schema.LocalOnly, schema.Accounts, "user-1"))
	assert.Equal(t, local, h.count(t, schema.LocalOnly, schema.Categories, "user-1"))

	// The choice survives a restart.
	require.NoError(t, h.o.SetSyncEnabled(ctx, true))
	require.NoError(t, h.store.Close())
	again := newHarness(t, h.path, migrate.Options{})
	require.NoError(t, again.o.Start(ctx, signedIn("user-1"), auth.Credentials{Token: "tok"}))
	snap = again.o.Snapshot()
	assert.Equal(t, schema.Synced, snap.Variant)
	assert.Equal(t, []string{"user-1"}, again.repl.connects)
}

func TestSignOutKeepsDataLocally(t *testing.T) {
	ctx := context.Background()
	h := newStartedHarness(t)
	require.NoError(t, h.o.SignIn(ctx, "user-1", auth.Credentials{Token: "tok"}))
	h.addAccount(t, "acct-1")
	require.NoError(t, h.o.SetSyncEnabled(ctx, true))

	require.NoError(t, h.o.HandleAuthChange(ctx, auth.SignedOut, auth.Credentials{}))

	snap := h.o.Snapshot()
	assert.False(t, snap.SignedIn)
	assert.False(t, snap.SyncEnabled)
	assert.Equal(t, schema.LocalOnly, snap.Variant)
	assert.Equal(t, "user-1", snap.Identity.ID)
	assert.False(t, snap.Replicator.Connected)
	assert.Equal(t, 1, h.count(t, schema.LocalOnly, schema.Accounts, "user-1"))

	// Signing back in needs no migration.
	require.NoError(t, h.o.HandleAuthChange(ctx, signedIn("user-1"), auth.Credentials{Token: "tok2"}))
	assert.True(t, h.o.Snapshot().SignedIn)
	assert.Equal(t, 1, h.count(t, schema.LocalOnly, schema.Accounts, "user-1"))
}

func TestSwitchUser(t *testing.T) {
	ctx := context.Background()
	h := newStartedHarness(t)
	require.NoError(t, h.o.SignIn(ctx, "user-1", auth.Credentials{Token: "tok"}))
	h.addAccount(t, "acct-1")

	require.NoError(t, h.o.HandleAuthChange(ctx, signedIn("user-2"), auth.Credentials{Token: "tok2"}))
	snap := h.o.Snapshot()
	assert.Equal(t, models.Identity{ID: "user-2", Kind: models.Authenticated}, snap.Identity)
	assert.True(t, snap.SignedIn)
	assert.Equal(t, 1, h.count(t, schema.LocalOnly, schema.Accounts, "user-1"))
	assert.Zero(t, h.count(t, schema.LocalOnly, schema.Accounts, "user-2"))
	assert.Positive(t, h.count(t, schema.LocalOnly, schema.Currencies, "user-2"))
}

func TestSwitchUserWhileSynced(t *testing.T) {
	ctx := context.Background()
	h := newStartedHarness(t)
	require.NoError(t, h.o.SignIn(ctx, "user-1", auth.Credentials{Token: "tok"}))
	h.addAccount(t, "acct-1")
	require.NoError(t, h.o.SetSyncEnabled(ctx, true))
	require.Equal(t, 1, h.count(t, schema.Synced, schema.Accounts, "user-1"))

	require.NoError(t, h.o.SignIn(ctx, "user-2", auth.Credentials{Token: "tok2"}))

	snap := h.o.Snapshot()
	assert.Equal(t, models.Identity{ID: "user-2", Kind: models.Authenticated}, snap.Identity)
	assert.Equal(t, schema.LocalOnly, snap.Variant)
	assert.False(t, snap.SyncEnabled)
	assert.False(t, snap.Replicator.Connected)
	assert.Equal(t, []string{"user-1"}, h.repl.connects)

	// user-1's rows left the synced tables along with their pending uploads.
	assert.Equal(t, 1, h.count(t, schema.LocalOnly, schema.Accounts, "user-1"))
	if pending, err := h.store.Count(ctx, schema.OutboxTable, storage.Eq{"owner_id": "user-1"}); err == nil {
		assert.Zero(t, pending)
	}
	assert.Positive(t, h.count(t, schema.LocalOnly, schema.Currencies, "user-2"))

	enabled, ok, err := h.store.Get(ctx, KeySyncEnabled)
	require.NoError(t, err)
	assert.False(t, ok && enabled == "true")
}

func TestMigrationIsExclusive(t *testing.T) {
	ctx := context.Background()
	h := newStartedHarness(t)
	require.NoError(t, h.o.SignIn(ctx, "user-1", auth.Credentials{Token: "tok"}))
	h.addAccount(t, "acct-1")

	entered, release := h.repl.arm()
	defer release()

	done := make(chan error, 1)
	go func() { done <- h.o.SetSyncEnabled(ctx, true) }()

	select {
	case <-entered:
	case <-time.After(5 * time.Second):
		t.Fatal("sync toggle never started")
	}
	assert.True(t, h.o.Migrating())
	assert.Equal(t, Migrating, h.o.Snapshot().State)

	assert.ErrorIs(t, h.o.SignIn(ctx, "user-2", auth.Credentials{Token: "x"}), ErrMigrationInProgress)
	assert.ErrorIs(t, h.o.HandleAuthChange(ctx, signedIn("user-2"), auth.Credentials{}), ErrMigrationInProgress)
	assert.ErrorIs(t, h.o.SetSyncEnabled(ctx, false), ErrMigrationInProgress)
	_, _, err := h.o.BeginWrite()
	assert.ErrorIs(t, err, ErrMigrationInProgress)

	release()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("sync toggle never finished")
	}

	snap := h.o.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, schema.Synced, snap.Variant)
	assert.Equal(t, "user-1", snap.Identity.ID)
	assert.Equal(t, 1, h.count(t, schema.Synced, schema.Accounts, "user-1"))
	assert.False(t, h.o.Migrating())
}

func TestMigrationWaitsForWriters(t *testing.T) {
	ctx := context.Background()
	h := newStartedHarness(t)
	require.NoError(t, h.o.SignIn(ctx, "user-1", auth.Credentials{Token: "tok"}))

	_, release, err := h.o.BeginWrite()
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- h.o.SetSyncEnabled(ctx, true) }()

	require.Eventually(t, h.o.Migrating, 5*time.Second, time.Millisecond)
	select {
	case <-done:
		t.Fatal("migration ran while a write was in flight")
	case <-time.After(50 * time.Millisecond):
	}

	release()
	require.NoError(t, <-done)
	assert.Equal(t, schema.Synced, h.o.Snapshot().Variant)
}

func TestOwedSignInResumedAtStart(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")
	h := newHarness(t, path, migrate.Options{})
	require.NoError(t, h.o.Start(ctx, auth.SignedOut, auth.Credentials{}))
	guest := h.o.Snapshot().Identity.ID
	h.addAccount(t, "acct-1")

	// Crash after the sign-in was recorded but before the migration ran.
	require.NoError(t, h.ids.ReplaceGuestWithAuthenticated(ctx, "user-1"))
	require.NoError(t, h.o.savePlan(ctx, migrationPlan{
		Kind: planSignIn,
		Request: migrate.Request{
			SourceVariant: schema.LocalOnly, SourceIdentity: guest,
			TargetVariant: schema.LocalOnly, TargetIdentity: "user-1",
		},
	}))
	require.NoError(t, h.store.Close())

	again := newHarness(t, path, migrate.Options{})
	require.NoError(t, again.o.Start(ctx, signedIn("user-1"), auth.Credentials{Token: "tok"}))

	snap := again.o.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, "user-1", snap.Identity.ID)
	assert.True(t, snap.SignedIn)
	assert.Equal(t, 1, again.count(t, schema.LocalOnly, schema.Accounts, "user-1"))
	assert.Zero(t, again.count(t, schema.LocalOnly, schema.Accounts, guest))

	plan, err := again.o.loadPlan(ctx)
	require.NoError(t, err)
	assert.Nil(t, plan)
	assert.True(t, again.ids.IsRetired(ctx, guest))
}

func TestCompletedSignInPlanDropped(t *testing.T) {
	ctx := context.Background()
	h := newStartedHarness(t)
	guest := h.o.Snapshot().Identity.ID
	require.NoError(t, h.o.SignIn(ctx, "user-1", auth.Credentials{Token: "tok"}))
	h.addAccount(t, "acct-1")

	// The guest was retired but the plan record was never cleared.
	require.NoError(t, h.o.savePlan(ctx, migrationPlan{
		Kind: planSignIn,
		Request: migrate.Request{
			SourceVariant: schema.LocalOnly, SourceIdentity: guest,
			TargetVariant: schema.LocalOnly, TargetIdentity: "user-1",
		},
	}))
	require.NoError(t, h.store.Close())

	again := newHarness(t, h.path, migrate.Options{})
	require.NoError(t, again.o.Start(ctx, signedIn("user-1"), auth.Credentials{Token: "tok"}))

	snap := again.o.Snapshot()
	assert.Equal(t, models.Identity{ID: "user-1", Kind: models.Authenticated}, snap.Identity)
	assert.Empty(t, snap.LastError)
	assert.Equal(t, 1, again.count(t, schema.LocalOnly, schema.Accounts, "user-1"))

	plan, err := again.o.loadPlan(ctx)
	require.NoError(t, err)
	assert.Nil(t, plan)
	_, ok, err := again.store.Get(ctx, identity.KeyGuestID)
	require.NoError(t, err)
	assert.False(t, ok, "retired guest revived")
}

func TestWritesBeforeStart(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "ledger.db"), migrate.Options{})
	_, _, err := h.o.BeginWrite()
	assert.ErrorIs(t, err, ErrNotReady)
	assert.ErrorIs(t, h.o.SignIn(context.Background(), "user-1", auth.Credentials{}), ErrNotReady)
}

// flakySchemaStore fails the first UpdateSchema call.
type flakySchemaStore struct {
	storage.Store
	failed bool
}

func (s *flakySchemaStore) UpdateSchema(ctx context.Context, d schema.Descriptor) error {
	if !s.failed {
		s.failed = true
		return errors.New("disk i/o error")
	}
	return s.Store.UpdateSchema(ctx, d)
}

func TestStartRetryAfterSchemaFailure(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	flaky := &flakySchemaStore{Store: store}
	o := New(Deps{
		Store:    flaky,
		KV:       store,
		Identity: identity.NewManager(store, nil),
		Seeder:   seed.NewSeeder(store, nil, nil),
		Migrator: migrate.NewMigrator(store, migrate.Options{}),
	})

	err = o.Start(ctx, auth.SignedOut, auth.Credentials{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk i/o error")
	assert.Equal(t, Uninitialized, o.Snapshot().State)
	_, _, err = o.BeginWrite()
	assert.ErrorIs(t, err, ErrNotReady)

	require.NoError(t, o.Start(ctx, auth.SignedOut, auth.Credentials{}))
	snap := o.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.Equal(t, models.Guest, snap.Identity.Kind)
}

type brokenKV struct{}

func (brokenKV) Get(context.Context, string) (string, bool, error) {
	return "", false, errors.New("kv unavailable")
}
func (brokenKV) Set(context.Context, string, string) error { return errors.New("kv unavailable") }
func (brokenKV) Remove(context.Context, string) error      { return errors.New("kv unavailable") }

func TestDegradedIdentity(t *testing.T) {
	ctx := context.Background()
	store, err := sqlite.New(filepath.Join(t.TempDir(), "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	o := New(Deps{
		Store:    store,
		KV:       brokenKV{},
		Identity: identity.NewManager(brokenKV{}, nil),
		Seeder:   seed.NewSeeder(store, nil, nil),
		Migrator: migrate.NewMigrator(store, migrate.Options{}),
	})
	require.NoError(t, o.Start(ctx, auth.SignedOut, auth.Credentials{}))

	snap := o.Snapshot()
	assert.Equal(t, Ready, snap.State)
	assert.True(t, snap.Identity.Ephemeral)
	assert.True(t, snap.Degraded)
	assert.ErrorIs(t, o.SignIn(ctx, "user-1", auth.Credentials{}), ErrEphemeralIdentity)

	_, release, err := o.BeginWrite()
	require.NoError(t, err)
	release()
}

func TestSubscribe(t *testing.T) {
	h := newHarness(t, filepath.Join(t.TempDir(), "ledger.db"), migrate.Options{})
	updates, cancel := h.o.Subscribe()
	assert.Equal(t, Uninitialized, (<-updates).State)

	require.NoError(t, h.o.Start(context.Background(), auth.SignedOut, auth.Credentials{}))
	assert.Equal(t, Ready, (<-updates).State)

	cancel()
	_, open := <-updates
	assert.False(t, open)
	cancel()
}

func TestRetrySeed(t *testing.T) {
	ctx := context.Background()
	h := newStartedHarness(t)
	guest := h.o.Snapshot().Identity.ID
	before := h.count(t, schema.LocalOnly, schema.Currencies, guest)

	require.NoError(t, h.o.RetrySeed(ctx))
	assert.Equal(t, before, h.count(t, schema.LocalOnly, schema.Currencies, guest))
	assert.Empty(t, h.o.Snapshot().SeedWarning)
}

func TestWatchAuth(t *testing.T) {
	h := newStartedHarness(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan auth.Event)
	done := make(chan struct{})
	go func() {
		h.o.WatchAuth(ctx, events)
		close(done)
	}()

	events <- auth.Event{State: signedIn("user-1"), Credentials: auth.Credentials{Token: "tok"}}
	close(events)
	<-done

	snap := h.o.Snapshot()
	assert.Equal(t, "user-1", snap.Identity.ID)
	assert.True(t, snap.SignedIn)
}
