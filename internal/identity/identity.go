// Package identity creates and persists the device-local guest identity and
// tracks its replacement by an authenticated identity.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/storage"
)

// Keys in the session key-value store.
const (
	KeyGuestID        = "guestId"
	KeyAuthUserID     = "authUserId"
	KeyRetiredGuests  = "retiredGuestIds"
	KeySeedOwed       = "seedOwed"
	KeyMigrationOwed  = "migrationOwed"
	KeyPendingGuestID = "pendingGuestId"
)

// Error reports that persistent storage could not be used while resolving
// an identity. The manager recovers by using a process-lifetime identity.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("identity %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// ErrNoGuest is returned when a replacement is requested without a guest.
var ErrNoGuest = errors.New("no guest identity to replace")

// Manager owns the guest id and the pointer to the active identity.
type Manager struct {
	kv     storage.KV
	logger *slog.Logger
	newID  func() string

	mu       sync.Mutex
	fallback *models.Identity // set once storage failed
}

// NewManager creates a manager backed by kv.
func NewManager(kv storage.KV, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		kv:     kv,
		logger: logger,
		newID:  uuid.NewString,
	}
}

// GetOrCreateGuestID returns the persisted guest id, creating one when none
// exists. created is true exactly once per guest, on the call that made it.
// A new guest is also flagged as owing a seed until MarkSeeded is called.
//
// If storage fails, a process-lifetime guest is returned and a warning is
// logged; data written under it does not survive a restart.
func (m *Manager) GetOrCreateGuestID(ctx context.Context) (id string, created bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fallback != nil {
		return m.fallback.ID, false
	}

	id, ok, err := m.kv.Get(ctx, KeyGuestID)
	if err != nil {
		return m.degrade(&Error{Op: "read guest id", Err: err}), true
	}
	if ok && id != "" {
		return id, false
	}

	retired, err := m.retired(ctx)
	if err != nil {
		return m.degrade(&Error{Op: "read retired guests", Err: err}), true
	}
	id = m.newID()
	for retired[id] {
		id = m.newID()
	}

	if err := m.kv.Set(ctx, KeySeedOwed, id); err != nil {
		return m.degrade(&Error{Op: "flag seed", Err: err}), true
	}
	if err := m.kv.Set(ctx, KeyGuestID, id); err != nil {
		return m.degrade(&Error{Op: "persist guest id", Err: err}), true
	}

	m.logger.Info("Guest identity created", "identity_id", id)
	return id, true
}

// degrade switches to a process-lifetime identity. Caller holds m.mu.
func (m *Manager) degrade(err error) string {
	m.fallback = &models.Identity{ID: m.newID(), Kind: models.Guest, Ephemeral: true}
	m.logger.Warn("Identity storage unavailable, using in-memory guest",
		"identity_id", m.fallback.ID,
		"error", err,
	)
	return m.fallback.ID
}

// Degraded reports whether the manager fell back to an in-memory identity.
func (m *Manager) Degraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fallback != nil
}

// ActiveIdentity returns the identity rows should currently be owned by:
// the authenticated user when one is recorded, otherwise the guest.
// It returns the zero Identity when nothing has been resolved yet.
func (m *Manager) ActiveIdentity(ctx context.Context) models.Identity {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.fallback != nil {
		return *m.fallback
	}

	if authID, ok, err := m.kv.Get(ctx, KeyAuthUserID); err == nil && ok && authID != "" {
		return models.Identity{ID: authID, Kind: models.Authenticated}
	} else if err != nil {
		m.logger.Warn("Failed to read authenticated identity", "error", err)
	}

	if guestID, ok, err := m.kv.Get(ctx, KeyGuestID); err == nil && ok && guestID != "" {
		return models.Identity{ID: guestID, Kind: models.Guest}
	}
	return models.Identity{}
}

// ReplaceGuestWithAuthenticated points the session at authID and records
// that the current guest's rows are owed a migration. It moves no data.
func (m *Manager) ReplaceGuestWithAuthenticated(ctx context.Context, authID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if authID == "" {
		return errors.New("authenticated id must not be empty")
	}
	if m.fallback != nil {
		return &Error{Op: "replace guest", Err: errors.New("identity storage unavailable")}
	}

	guestID, ok, err := m.kv.Get(ctx, KeyGuestID)
	if err != nil {
		return &Error{Op: "read guest id", Err: err}
	}
	if !ok || guestID == "" {
		return ErrNoGuest
	}

	if err := m.kv.Set(ctx, KeyPendingGuestID, guestID); err != nil {
		return &Error{Op: "record pending guest", Err: err}
	}
	if err := m.kv.Set(ctx, KeyMigrationOwed, "true"); err != nil {
		return &Error{Op: "flag migration", Err: err}
	}
	if err := m.kv.Set(ctx, KeyAuthUserID, authID); err != nil {
		return &Error{Op: "persist authenticated id", Err: err}
	}

	m.logger.Info("Guest replacement recorded", "guest_id", guestID, "identity_id", authID)
	return nil
}

// PendingReplacement returns the guest whose rows still have to be moved
// to the authenticated identity.
func (m *Manager) PendingReplacement(ctx context.Context) (guestID string, ok bool) {
	guestID, ok, err := m.kv.Get(ctx, KeyPendingGuestID)
	if err != nil || !ok || guestID == "" {
		return "", false
	}
	return guestID, true
}

// CompleteReplacement discards the migrated guest for good. Its id is
// retired so GetOrCreateGuestID never hands it out again.
func (m *Manager) CompleteReplacement(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	guestID, ok, err := m.kv.Get(ctx, KeyPendingGuestID)
	if err != nil {
		return &Error{Op: "read pending guest", Err: err}
	}
	if !ok {
		return nil
	}

	retired, err := m.retired(ctx)
	if err != nil {
		return &Error{Op: "read retired guests", Err: err}
	}
	retired[guestID] = true
	if err := m.saveRetired(ctx, retired); err != nil {
		return err
	}

	for _, key := range []string{KeyGuestID, KeyPendingGuestID, KeyMigrationOwed} {
		if err := m.kv.Remove(ctx, key); err != nil {
			return &Error{Op: "clear " + key, Err: err}
		}
	}
	if seedFor, ok, _ := m.kv.Get(ctx, KeySeedOwed); ok && seedFor == guestID {
		_ = m.kv.Remove(ctx, KeySeedOwed)
	}

	m.logger.Info("Guest identity retired", "guest_id", guestID)
	return nil
}

// AbandonReplacement reverts a replacement whose migration failed; the
// guest stays active and keeps its data.
func (m *Manager) AbandonReplacement(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range []string{KeyAuthUserID, KeyPendingGuestID, KeyMigrationOwed} {
		if err := m.kv.Remove(ctx, key); err != nil {
			return &Error{Op: "clear " + key, Err: err}
		}
	}
	return nil
}

// SetAuthenticated points the session at a signed-in user whose rows are
// already on the device under authID. No guest is involved.
func (m *Manager) SetAuthenticated(ctx context.Context, authID string) error {
	if authID == "" {
		return errors.New("authenticated id must not be empty")
	}
	if err := m.kv.Set(ctx, KeyAuthUserID, authID); err != nil {
		return &Error{Op: "persist authenticated id", Err: err}
	}
	return nil
}

// ForgetAuthenticated drops the authenticated pointer without touching rows.
func (m *Manager) ForgetAuthenticated(ctx context.Context) error {
	if err := m.kv.Remove(ctx, KeyAuthUserID); err != nil {
		return &Error{Op: "clear authenticated id", Err: err}
	}
	return nil
}

// SeedOwed reports whether id still needs its default data.
func (m *Manager) SeedOwed(ctx context.Context, id string) bool {
	v, ok, err := m.kv.Get(ctx, KeySeedOwed)
	return err == nil && ok && v == id
}

// MarkSeeded clears the seed flag for id.
func (m *Manager) MarkSeeded(ctx context.Context, id string) error {
	if !m.SeedOwed(ctx, id) {
		return nil
	}
	return m.kv.Remove(ctx, KeySeedOwed)
}

func (m *Manager) retired(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool)
	raw, ok, err := m.kv.Get(ctx, KeyRetiredGuests)
	if err != nil {
		return nil, err
	}
	if !ok || raw == "" {
		return out, nil
	}
	var ids []string
	if err := json.Unmarshal([]byte(raw), &ids); err != nil {
		return nil, fmt.Errorf("failed to decode retired guests: %w", err)
	}
	for _, id := range ids {
		out[id] = true
	}
	return out, nil
}

func (m *Manager) saveRetired(ctx context.Context, retired map[string]bool) error {
	ids := make([]string, 0, len(retired))
	for id := range retired {
		ids = append(ids, id)
	}
	raw, err := json.Marshal(ids)
	if err != nil {
		return fmt.Errorf("failed to encode retired guests: %w", err)
	}
	if err := m.kv.Set(ctx, KeyRetiredGuests, string(raw)); err != nil {
		return &Error{Op: "persist retired guests", Err: err}
	}
	return nil
}

// IsRetired reports whether id belonged to a guest that was migrated away.
func (m *Manager) IsRetired(ctx context.Context, id string) bool {
	retired, err := m.retired(ctx)
	return err == nil && retired[id]
}
