package replicator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mmynk/pocketledger/internal/auth"
	"github.com/mmynk/pocketledger/internal/metrics"
	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/storage"
)

// Config tunes the upload loop.
type Config struct {
	Interval   time.Duration // pause between polls when the outbox is drained
	BatchSize  int
	BackoffMin time.Duration
	BackoffMax time.Duration
}

// DefaultConfig returns the loop settings used when none are configured.
func DefaultConfig() Config {
	return Config{
		Interval:   5 * time.Second,
		BatchSize:  200,
		BackoffMin: time.Second,
		BackoffMax: time.Minute,
	}
}

// ErrNotConnected is returned by SyncOnce before Connect.
var ErrNotConnected = errors.New("replicator not connected")

// Outbox uploads the pending changes of the Synced variant and stamps the
// bookkeeping columns of acknowledged rows.
type Outbox struct {
	store    storage.Store
	uploader Uploader
	cfg      Config
	schema   schema.Descriptor
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time

	mu       sync.Mutex
	identity models.Identity
	creds    auth.Credentials
	cancel   context.CancelFunc
	done     chan struct{}
	status   Status
	updates  statusFeed
}

// NewOutbox creates a disconnected replicator.
func NewOutbox(store storage.Store, uploader Uploader, cfg Config, logger *slog.Logger, m *metrics.Metrics) *Outbox {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = def.BatchSize
	}
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.BackoffMin <= 0 {
		cfg.BackoffMin = def.BackoffMin
	}
	if cfg.BackoffMax < cfg.BackoffMin {
		cfg.BackoffMax = cfg.BackoffMin
	}
	return &Outbox{
		store:    store,
		uploader: uploader,
		cfg:      cfg,
		schema:   schema.For(schema.Synced),
		logger:   logger,
		metrics:  m,
		now:      time.Now,
		updates:  newStatusFeed(),
	}
}

// Connect starts the upload loop for identity. Connecting again replaces
// the previous identity.
func (o *Outbox) Connect(ctx context.Context, identity models.Identity, creds auth.Credentials) error {
	if identity.IsZero() {
		return errors.New("cannot replicate without an identity")
	}
	if err := o.Disconnect(ctx); err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()

	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	o.identity = identity
	o.creds = creds
	o.cancel = cancel
	o.done = make(chan struct{})
	o.setStatusLocked(func(s *Status) {
		s.Connected = true
		s.Identity = identity.ID
		s.LastError = ""
	})

	go o.run(loopCtx, o.done)
	o.logger.Info("Replicator connected", "identity_id", identity.ID)
	return nil
}

// Disconnect stops the loop and waits for an in-flight batch to finish.
func (o *Outbox) Disconnect(ctx context.Context) error {
	o.mu.Lock()
	cancel, done := o.cancel, o.done
	o.cancel, o.done = nil, nil
	o.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("failed to stop replicator: %w", ctx.Err())
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	o.identity = models.Identity{}
	o.creds = auth.Credentials{}
	o.setStatusLocked(func(s *Status) {
		s.Connected = false
		s.Identity = ""
	})
	o.logger.Info("Replicator disconnected")
	return nil
}

func (o *Outbox) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

func (o *Outbox) Updates() <-chan Status {
	return o.updates
}

func (o *Outbox) setStatusLocked(fn func(*Status)) {
	fn(&o.status)
	o.metrics.SetPendingUploads(o.status.PendingUploadCount)
	o.updates.publish(o.status)
}

func (o *Outbox) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	backoff := o.cfg.BackoffMin
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		n, err := o.SyncOnce(ctx)
		wait := o.cfg.Interval
		switch {
		case ctx.Err() != nil:
			return
		case err != nil:
			o.logger.Warn("Upload failed", "error", err, "retry_in", backoff)
			wait = backoff
			backoff *= 2
			if backoff > o.cfg.BackoffMax {
				backoff = o.cfg.BackoffMax
			}
		default:
			backoff = o.cfg.BackoffMin
			if n == o.cfg.BatchSize {
				wait = 0
			}
		}
		timer.Reset(wait)
	}
}

// SyncOnce uploads one batch and returns how many changes were acknowledged.
func (o *Outbox) SyncOnce(ctx context.Context) (int, error) {
	o.mu.Lock()
	identity, creds := o.identity, o.creds
	o.mu.Unlock()
	if identity.IsZero() {
		return 0, ErrNotConnected
	}

	n, err := o.syncBatch(ctx, identity, creds)

	pending, countErr := o.store.Count(ctx, o.schema.Outbox, storage.Eq{schema.OwnerColumn: identity.ID})
	o.mu.Lock()
	o.setStatusLocked(func(s *Status) {
		if countErr == nil {
			s.PendingUploadCount = pending
		}
		if err != nil {
			s.LastError = err.Error()
			return
		}
		s.LastError = ""
		if n > 0 {
			s.LastSyncedAt = o.now()
		}
	})
	o.mu.Unlock()
	return n, err
}

func (o *Outbox) syncBatch(ctx context.Context, identity models.Identity, creds auth.Credentials) (int, error) {
	pending, err := o.store.Select(ctx, storage.Query{
		Table:   o.schema.Outbox,
		Where:   storage.Eq{schema.OwnerColumn: identity.ID},
		OrderBy: []string{"change_id"},
		Limit:   o.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to read outbox: %w", err)
	}
	if len(pending) == 0 {
		return 0, nil
	}

	changes := make([]Change, 0, len(pending))
	byID := make(map[int64]Change, len(pending))
	for _, p := range pending {
		c := Change{
			ChangeID: p.Int64("change_id"),
			Table:    p.String("table_name"),
			RowID:    p.String("row_id"),
			Op:       p.String("op"),
		}
		if c.Op == OpUpsert {
			payload, err := o.payload(ctx, c.Table, c.RowID)
			if err != nil {
				return 0, err
			}
			if payload == nil {
				c.Op = OpDelete
			}
			c.Payload = payload
		}
		changes = append(changes, c)
		byID[c.ChangeID] = c
	}

	resp, err := o.uploader.Upload(ctx, creds, UploadRequest{OwnerID: identity.ID, Changes: changes})
	if err != nil {
		return 0, err
	}

	syncedAt := o.now().UnixMilli()
	acked := make(map[string]int)
	err = o.store.WithTx(ctx, func(tx storage.Tx) error {
		for _, ack := range resp.Acks {
			c, ok := byID[ack.ChangeID]
			if !ok {
				continue
			}
			if c.Op == OpUpsert {
				_, err := tx.Update(ctx, o.schema.Physical(c.Table), storage.Row{
					schema.ServerVersionColumn: ack.ServerVersion,
					schema.LastSyncedAtColumn:  syncedAt,
				}, storage.Eq{"id": c.RowID, schema.OwnerColumn: identity.ID})
				if err != nil {
					return fmt.Errorf("failed to stamp %s/%s: %w", c.Table, c.RowID, err)
				}
			}
			// A newer change for the same row keeps its entry.
			if _, err := tx.Delete(ctx, o.schema.Outbox, storage.Eq{
				"table_name": c.Table,
				"row_id":     c.RowID,
				"change_id":  c.ChangeID,
			}); err != nil {
				return fmt.Errorf("failed to dequeue change %d: %w", c.ChangeID, err)
			}
			acked[c.Op]++
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	total := 0
	for op, n := range acked {
		o.metrics.AddUploaded(op, n)
		total += n
	}
	o.logger.Debug("Uploaded changes", "identity_id", identity.ID, "sent", len(changes), "acked", total)
	return total, nil
}

// payload returns the row's data columns, or nil if the row is gone.
func (o *Outbox) payload(ctx context.Context, logical, id string) (map[string]any, error) {
	tbl, ok := o.schema.Table(logical)
	if !ok {
		return nil, fmt.Errorf("outbox references unknown table %q", logical)
	}
	rows, err := o.store.Select(ctx, storage.Query{
		Table: tbl.Physical,
		Where: storage.Eq{"id": id},
		Limit: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load %s/%s: %w", logical, id, err)
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].Project(tbl.DataColumns()), nil
}
