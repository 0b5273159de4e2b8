package service

import (
	"github.com/mmynk/pocketledger/internal/models"
	"github.com/mmynk/pocketledger/internal/session"
)

// Empty is the request of calls without parameters.
type Empty struct{}

// SessionInfo is the wire form of a session snapshot.
type SessionInfo struct {
	State        string         `json:"state"`
	IdentityID   string         `json:"identityId,omitempty"`
	IdentityKind string         `json:"identityKind,omitempty"`
	Ephemeral    bool           `json:"ephemeral,omitempty"`
	Degraded     bool           `json:"degraded,omitempty"`
	SignedIn     bool           `json:"signedIn"`
	Variant      string         `json:"variant"`
	SyncEnabled  bool           `json:"syncEnabled"`
	Migrating    bool           `json:"migrating"`
	SeedWarning  string         `json:"seedWarning,omitempty"`
	LastError    string         `json:"lastError,omitempty"`
	Replicator   ReplicatorInfo `json:"replicator"`
}

// ReplicatorInfo is the wire form of the replicator status.
type ReplicatorInfo struct {
	Connected      bool   `json:"connected"`
	LastSyncedAt   int64  `json:"lastSyncedAt,omitempty"`
	PendingUploads int    `json:"pendingUploads"`
	LastError      string `json:"lastError,omitempty"`
}

// SetSyncRequest turns cloud sync on or off.
type SetSyncRequest struct {
	Enabled bool `json:"enabled"`
}

// ListCategoriesRequest selects one sibling group.
type ListCategoriesRequest struct {
	Type     string `json:"type"`
	ParentID string `json:"parentId,omitempty"`
}

// CategoryInfo is the wire form of a category.
type CategoryInfo struct {
	ID        string  `json:"id"`
	ParentID  string  `json:"parentId,omitempty"`
	Name      string  `json:"name"`
	Type      string  `json:"type"`
	Icon      string  `json:"icon,omitempty"`
	Color     string  `json:"color,omitempty"`
	SortOrder float64 `json:"sortOrder"`
}

// ListCategoriesResponse lists categories in display order.
type ListCategoriesResponse struct {
	Categories []CategoryInfo `json:"categories"`
}

// MoveCategoryRequest moves a category to a position among its siblings.
type MoveCategoryRequest struct {
	CategoryID string `json:"categoryId"`
	Position   int    `json:"position"`
}

// MoveCategoryResponse holds the sibling ids in their new order.
type MoveCategoryResponse struct {
	Order []string `json:"order"`
}

// BalanceInfo is the wire form of an account balance. Amounts are decimal
// strings.
type BalanceInfo struct {
	AccountID string `json:"accountId"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	Balance   string `json:"balance"`
}

// ListBalancesResponse lists account balances in display order.
type ListBalancesResponse struct {
	Balances []BalanceInfo `json:"balances"`
}

// ListCategoryTotalsRequest limits the totals to one account when
// AccountID is set.
type ListCategoryTotalsRequest struct {
	AccountID string `json:"accountId,omitempty"`
}

// CategoryTotalInfo is the wire form of a category total. Amounts are
// decimal strings.
type CategoryTotalInfo struct {
	CategoryID string `json:"categoryId,omitempty"`
	Currency   string `json:"currency"`
	Inflow     string `json:"inflow"`
	Outflow    string `json:"outflow"`
	Net        string `json:"net"`
	Count      int    `json:"count"`
}

// ListCategoryTotalsResponse lists totals by category id, then currency.
type ListCategoryTotalsResponse struct {
	Totals []CategoryTotalInfo `json:"totals"`
}

func sessionInfo(s session.Snapshot, migrating bool) *SessionInfo {
	info := &SessionInfo{
		State:       s.State.String(),
		SignedIn:    s.SignedIn,
		Variant:     s.Variant.String(),
		SyncEnabled: s.SyncEnabled,
		Migrating:   migrating,
		SeedWarning: s.SeedWarning,
		LastError:   s.LastError,
		Replicator: ReplicatorInfo{
			Connected:      s.Replicator.Connected,
			PendingUploads: s.Replicator.PendingUploadCount,
			LastError:      s.Replicator.LastError,
		},
	}
	if !s.Replicator.LastSyncedAt.IsZero() {
		info.Replicator.LastSyncedAt = s.Replicator.LastSyncedAt.UnixMilli()
	}
	if !s.Identity.IsZero() {
		info.IdentityID = s.Identity.ID
		info.IdentityKind = s.Identity.Kind.String()
		info.Ephemeral = s.Identity.Ephemeral
	}
	info.Degraded = s.Degraded
	return info
}

func categoryInfo(c models.Category) CategoryInfo {
	return CategoryInfo{
		ID:        c.ID,
		ParentID:  c.ParentID,
		Name:      c.Name,
		Type:      string(c.Type),
		Icon:      c.Icon,
		Color:     c.Color,
		SortOrder: c.SortOrder,
	}
}
