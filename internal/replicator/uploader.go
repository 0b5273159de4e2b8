package replicator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mmynk/pocketledger/internal/auth"
)

// Outbox operations.
const (
	OpUpsert = "UPSERT"
	OpDelete = "DELETE"
)

// Change is one pending row change sent to the server.
type Change struct {
	ChangeID int64          `json:"change_id"`
	Table    string         `json:"table"`
	RowID    string         `json:"row_id"`
	Op       string         `json:"op"`
	Payload  map[string]any `json:"payload,omitempty"`
}

// UploadRequest is a batch of changes for one owner.
type UploadRequest struct {
	OwnerID string   `json:"owner_id"`
	Changes []Change `json:"changes"`
}

// Ack confirms one change. Unacknowledged changes stay queued.
type Ack struct {
	ChangeID      int64 `json:"change_id"`
	ServerVersion int64 `json:"server_version"`
}

// UploadResponse lists the accepted changes.
type UploadResponse struct {
	Acks []Ack `json:"acks"`
}

// Uploader sends batches to the sync server.
type Uploader interface {
	Upload(ctx context.Context, creds auth.Credentials, req UploadRequest) (*UploadResponse, error)
}

// HTTPUploader posts JSON batches to {BaseURL}/sync/upload.
type HTTPUploader struct {
	baseURL string
	client  *http.Client
}

// NewHTTPUploader creates an uploader. A nil client gets a 30s timeout.
func NewHTTPUploader(baseURL string, client *http.Client) *HTTPUploader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &HTTPUploader{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

func (u *HTTPUploader) Upload(ctx context.Context, creds auth.Credentials, req UploadRequest) (*UploadResponse, error) {
	body, err := json.Marshal(&req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal upload request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u.baseURL+"/sync/upload", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if creds.Token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+creds.Token)
	}

	resp, err := u.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send HTTP request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out UploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode upload response: %w", err)
	}
	return &out, nil
}
