package ledger

import (
	"context"
	"fmt"

	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/schema"
	"github.com/mmynk/pocketledger/internal/session"
	"github.com/mmynk/pocketledger/internal/storage"
)

// AttachFile records a local file and links it to a transaction.
func (l *Ledger) AttachFile(ctx context.Context, transactionID string, file models.Attachment) (*models.Attachment, error) {
	if file.FileName == "" || file.LocalURI == "" {
		return nil, invalid("file name and local uri are required")
	}

	err := l.write(ctx, func(tx storage.Tx, scope session.Scope) error {
		if _, err := getOne(ctx, tx, scope, schema.Transactions, transactionID); err != nil {
			return err
		}
		now := l.now().UnixMilli()
		file.ID = l.newID()
		file.CreatedAt = now
		row := owned(scope, storage.Eq{
			"id":         file.ID,
			"file_name":  file.FileName,
			"mime_type":  file.MimeType,
			"size_bytes": file.SizeBytes,
			"local_uri":  file.LocalURI,
			"created_at": now,
		})
		if err := tx.Insert(ctx, scope.Schema.Physical(schema.Attachments), storage.Row(row)); err != nil {
			return fmt.Errorf("failed to insert attachment: %w", err)
		}
		link := owned(scope, storage.Eq{
			"id":             l.newID(),
			"transaction_id": transactionID,
			"attachment_id":  file.ID,
			"created_at":     now,
		})
		if err := tx.Insert(ctx, scope.Schema.Physical(schema.TransactionAttachments), storage.Row(link)); err != nil {
			return fmt.Errorf("failed to link attachment: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &file, nil
}

// ListAttachments returns the files linked to a transaction.
func (l *Ledger) ListAttachments(ctx context.Context, transactionID string) ([]models.Attachment, error) {
	var out []models.Attachment
	err := l.read(func(scope session.Scope) error {
		links, err := l.store.Select(ctx, storage.Query{
			Table:   scope.Schema.Physical(schema.TransactionAttachments),
			Where:   owned(scope, storage.Eq{"transaction_id": transactionID}),
			OrderBy: []string{"created_at", "id"},
		})
		if err != nil {
			return fmt.Errorf("failed to list attachment links: %w", err)
		}
		for _, link := range links {
			rows, err := l.store.Select(ctx, storage.Query{
				Table: scope.Schema.Physical(schema.Attachments),
				Where: owned(scope, storage.Eq{"id": link.String("attachment_id")}),
				Limit: 1,
			})
			if err != nil {
				return fmt.Errorf("failed to load attachment: %w", err)
			}
			if len(rows) == 0 {
				continue
			}
			r := rows[0]
			out = append(out, models.Attachment{
				ID:        r.String("id"),
				FileName:  r.String("file_name"),
				MimeType:  r.String("mime_type"),
				SizeBytes: r.Int64("size_bytes"),
				LocalURI:  r.String("local_uri"),
				CreatedAt: r.Int64("created_at"),
			})
		}
		return nil
	})
	return out, err
}
