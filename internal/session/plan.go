package session

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mmynk/pocketledger/internal/identity"
	"github.com/mmynk/pocketledger/internal/migrate"
)

// KV keys owned by the orchestrator.
const (
	KeySyncEnabled   = "syncEnabled"
	KeyMigrationPlan = "migrationPlan"
)

// Plan kinds.
const (
	planSignIn  = "sign_in"
	planSyncOn  = "sync_on"
	planSyncOff = "sync_off"
)

// migrationPlan is persisted before a migration starts and removed after
// it commits, so an interrupted migration is resumed on the next start.
type migrationPlan struct {
	Kind    string          `json:"kind"`
	Request migrate.Request `json:"request"`
}

func (o *Orchestrator) savePlan(ctx context.Context, p migrationPlan) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("failed to encode migration plan: %w", err)
	}
	if err := o.kv.Set(ctx, KeyMigrationPlan, string(raw)); err != nil {
		return fmt.Errorf("failed to persist migration plan: %w", err)
	}
	if err := o.kv.Set(ctx, identity.KeyMigrationOwed, "true"); err != nil {
		return fmt.Errorf("failed to flag migration: %w", err)
	}
	return nil
}

func (o *Orchestrator) loadPlan(ctx context.Context) (*migrationPlan, error) {
	owed, ok, err := o.kv.Get(ctx, identity.KeyMigrationOwed)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration flag: %w", err)
	}
	if !ok || owed != "true" {
		return nil, nil
	}
	raw, ok, err := o.kv.Get(ctx, KeyMigrationPlan)
	if err != nil {
		return nil, fmt.Errorf("failed to read migration plan: %w", err)
	}
	if !ok {
		return nil, nil
	}
	var p migrationPlan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return nil, fmt.Errorf("failed to decode migration plan: %w", err)
	}
	return &p, nil
}

// clearPlan runs only after the migration committed or was abandoned.
func (o *Orchestrator) clearPlan(ctx context.Context) error {
	for _, key := range []string{KeyMigrationPlan, identity.KeyMigrationOwed} {
		if err := o.kv.Remove(ctx, key); err != nil {
			return fmt.Errorf("failed to clear %s: %w", key, err)
		}
	}
	return nil
}

func (o *Orchestrator) syncFlag(ctx context.Context) bool {
	v, ok, err := o.kv.Get(ctx, KeySyncEnabled)
	if err != nil {
		o.logger.Warn("Failed to read sync flag", "error", err)
		return false
	}
	return ok && v == "true"
}
