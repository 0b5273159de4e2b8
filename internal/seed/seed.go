// Package seed populates reference and starter rows for a new identity.
package seed

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/mmynk/pocketledger/internal/metrics"
	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/ordering"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/storage"
)

// Seeding steps, in the order they run.
const (
	StepCurrencies  = "currencies"
	StepCategories  = "categories"
	StepPreferences = "preferences"
)

// DefaultCurrency is stored as the default_currency preference.
const DefaultCurrency = "USD"

//go:embed currencies.yaml
var currenciesYAML []byte

// Starter categories. Sort keys follow slice order.
var (
	IncomeCategories  = []string{"Salary", "Freelance", "Investments", "Gifts"}
	ExpenseCategories = []string{
		"Groceries", "Rent", "Utilities", "Transport",
		"Dining Out", "Health", "Entertainment", "Shopping",
	}
)

// Error reports the step that failed. Seeding can be retried as a whole;
// steps that already completed are detected and skipped.
type Error struct {
	Step string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("seed %s: %v", e.Step, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

type currencyEntry struct {
	Code   string `yaml:"code"`
	Name   string `yaml:"name"`
	Symbol string `yaml:"symbol"`
	Digits int    `yaml:"digits"`
}

// Currencies returns the embedded ISO-4217 list.
func Currencies() ([]models.Currency, error) {
	var entries []currencyEntry
	if err := yaml.Unmarshal(currenciesYAML, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse currency list: %w", err)
	}
	out := make([]models.Currency, len(entries))
	for i, e := range entries {
		out[i] = models.Currency{
			Code:          e.Code,
			Name:          e.Name,
			Symbol:        e.Symbol,
			DecimalDigits: e.Digits,
		}
	}
	return out, nil
}

// Seeder writes default rows through a storage.Store.
type Seeder struct {
	store   storage.Store
	logger  *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewSeeder creates a seeder. m may be nil.
func NewSeeder(store storage.Store, logger *slog.Logger, m *metrics.Metrics) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{store: store, logger: logger, metrics: m, now: time.Now}
}

// SeedDefaults makes sure owner has the currency list, the starter
// categories and a default currency preference in the tables of d.
// It never inserts a row that already exists, so it is safe to call again
// after a partial failure.
func (s *Seeder) SeedDefaults(ctx context.Context, owner models.Identity, d schema.Descriptor) error {
	start := s.now()
	steps := []struct {
		name string
		run  func(context.Context, storage.Tx, string, schema.Descriptor) (int, error)
	}{
		{StepCurrencies, s.seedCurrencies},
		{StepCategories, s.seedCategories},
		{StepPreferences, s.seedPreferences},
	}

	total := 0
	for _, step := range steps {
		var inserted int
		err := s.store.WithTx(ctx, func(tx storage.Tx) error {
			n, err := step.run(ctx, tx, owner.ID, d)
			inserted = n
			return err
		})
		if err != nil {
			s.metrics.IncSeed("error")
			return &Error{Step: step.name, Err: err}
		}
		total += inserted
		s.logger.Debug("Seed step done", "step", step.name, "identity_id", owner.ID, "rows", inserted)
	}

	s.metrics.IncSeed("ok")
	s.logger.Info("Default data seeded",
		"identity_id", owner.ID,
		"variant", d.Variant,
		"rows", total,
		"duration_ms", s.now().Sub(start).Milliseconds(),
	)
	return nil
}

func (s *Seeder) seedCurrencies(ctx context.Context, tx storage.Tx, owner string, d schema.Descriptor) (int, error) {
	table := d.Physical(schema.Currencies)
	existing, err := tx.Count(ctx, table, storage.Eq{schema.OwnerColumn: owner})
	if err != nil {
		return 0, fmt.Errorf("failed to count currencies: %w", err)
	}
	if existing > 0 {
		return 0, nil
	}

	currencies, err := Currencies()
	if err != nil {
		return 0, err
	}
	now := s.now().UnixMilli()
	for _, c := range currencies {
		err := tx.Insert(ctx, table, storage.Row{
			"id":               uuid.NewString(),
			schema.OwnerColumn: owner,
			"code":             c.Code,
			"name":             c.Name,
			"symbol":           c.Symbol,
			"decimal_digits":   c.DecimalDigits,
			"created_at":       now,
		})
		if err != nil {
			return 0, fmt.Errorf("failed to insert currency %s: %w", c.Code, err)
		}
	}
	return len(currencies), nil
}

func (s *Seeder) seedCategories(ctx context.Context, tx storage.Tx, owner string, d schema.Descriptor) (int, error) {
	table := d.Physical(schema.Categories)
	now := s.now().UnixMilli()
	inserted := 0

	groups := []struct {
		typ   models.CategoryType
		names []string
	}{
		{models.Income, IncomeCategories},
		{models.Expense, ExpenseCategories},
	}
	for _, g := range groups {
		items := make([]ordering.Item, len(g.names))
		for i, name := range g.names {
			items[i] = ordering.Item{ID: name, Name: name}
		}
		for _, u := range ordering.Rebalance(items) {
			name := u.ID
			n, err := tx.Count(ctx, table, storage.Eq{
				schema.OwnerColumn: owner,
				"type":             string(g.typ),
				"name":             name,
				"parent_id":        nil,
			})
			if err != nil {
				return 0, fmt.Errorf("failed to check category %s: %w", name, err)
			}
			if n > 0 {
				continue
			}
			err = tx.Insert(ctx, table, storage.Row{
				"id":               uuid.NewString(),
				schema.OwnerColumn: owner,
				"parent_id":        nil,
				"name":             name,
				"type":             string(g.typ),
				"sort_order":       u.SortOrder,
				"created_at":       now,
				"updated_at":       now,
			})
			if err != nil {
				return 0, fmt.Errorf("failed to insert category %s: %w", name, err)
			}
			inserted++
		}
	}
	return inserted, nil
}

func (s *Seeder) seedPreferences(ctx context.Context, tx storage.Tx, owner string, d schema.Descriptor) (int, error) {
	table := d.Physical(schema.UserPreferences)
	n, err := tx.Count(ctx, table, storage.Eq{schema.OwnerColumn: owner, "key": "default_currency"})
	if err != nil {
		return 0, fmt.Errorf("failed to check preferences: %w", err)
	}
	if n > 0 {
		return 0, nil
	}
	err = tx.Insert(ctx, table, storage.Row{
		"id":               uuid.NewString(),
		schema.OwnerColumn: owner,
		"key":              "default_currency",
		"value":            DefaultCurrency,
		"updated_at":       s.now().UnixMilli(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to insert default currency preference: %w", err)
	}
	return 1, nil
}
