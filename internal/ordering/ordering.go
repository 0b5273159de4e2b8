// Package ordering computes fractional sort keys for user-reorderable lists.
//
// Keys are float64 values with wide gaps between neighbours, so moving a
// single item only rewrites that item's key. When the gap at the insertion
// point becomes smaller than MinGap the whole sibling group is renumbered.
//
// Everything here is pure: no I/O, no shared state.
package ordering

import (
	"errors"
	"sort"
)

const (
	// Step is the spacing between neighbouring keys after a rebalance and
	// the distance used when inserting before the head or after the tail.
	Step = 1000.0

	// Origin is the key given to the first item of an empty list.
	Origin = 1000.0

	// MinGap is the smallest allowed distance between a new key and either
	// of its neighbours.
	MinGap = 1.0
)

// ErrUnderflow is returned when there is no room left between two
// neighbours. Callers rebalance the sibling group instead of surfacing it.
var ErrUnderflow = errors.New("ordering: gap between neighbours below minimum resolution")

// Item is one entry of an ordered sibling group.
type Item struct {
	ID        string
	SortOrder float64
	Name      string
}

// Update assigns a new key to an item.
type Update struct {
	ID        string
	SortOrder float64
}

// ComputeInsertKey returns a key strictly between prev and next. A nil prev
// means "insert at the head", a nil next means "insert at the tail".
func ComputeInsertKey(prev, next *float64) (float64, error) {
	switch {
	case prev == nil && next == nil:
		return Origin, nil
	case prev == nil:
		return *next - Step, nil
	case next == nil:
		return *prev + Step, nil
	}

	if *prev >= *next {
		return 0, ErrUnderflow
	}
	mid := *prev + (*next-*prev)/2
	if mid-*prev < MinGap || *next-mid < MinGap {
		return 0, ErrUnderflow
	}
	return mid, nil
}

// Rebalance assigns evenly spaced keys to items in their current order.
func Rebalance(items []Item) []Update {
	updates := make([]Update, len(items))
	for i, item := range items {
		updates[i] = Update{ID: item.ID, SortOrder: Origin + float64(i)*Step}
	}
	return updates
}

// Sort orders items by key, breaking ties by name.
func Sort(items []Item) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].SortOrder != items[j].SortOrder {
			return items[i].SortOrder < items[j].SortOrder
		}
		return items[i].Name < items[j].Name
	})
}

// NeedsRebalance reports whether any two neighbours of the sorted items are
// closer than MinGap, including exact duplicates left behind by seeding.
func NeedsRebalance(items []Item) bool {
	for i := 1; i < len(items); i++ {
		if items[i].SortOrder-items[i-1].SortOrder < MinGap {
			return true
		}
	}
	return false
}

// Append returns the key for a new item placed after every existing item.
// items must already be sorted.
func Append(items []Item) float64 {
	if len(items) == 0 {
		key, _ := ComputeInsertKey(nil, nil)
		return key
	}
	last := items[len(items)-1].SortOrder
	key, _ := ComputeInsertKey(&last, nil)
	return key
}

// Move relocates items[from] to index to (both in the sorted display order)
// and returns the key changes needed to persist it.
//
// Normally a single update for the moved item is returned. If there is no
// room at the destination, every item of the group receives a new key and
// rebalanced is true. Moving an item onto its own position returns nothing.
func Move(items []Item, from, to int) (updates []Update, rebalanced bool, err error) {
	if from < 0 || from >= len(items) || to < 0 || to >= len(items) {
		return nil, false, errors.New("ordering: move index out of range")
	}
	if from == to {
		return nil, false, nil
	}

	moved := items[from]
	rest := make([]Item, 0, len(items)-1)
	rest = append(rest, items[:from]...)
	rest = append(rest, items[from+1:]...)

	var prev, next *float64
	if to > 0 {
		prev = &rest[to-1].SortOrder
	}
	if to < len(rest) {
		next = &rest[to].SortOrder
	}

	key, err := ComputeInsertKey(prev, next)
	if err == nil {
		return []Update{{ID: moved.ID, SortOrder: key}}, false, nil
	}
	if !errors.Is(err, ErrUnderflow) {
		return nil, false, err
	}

	reordered := make([]Item, 0, len(items))
	reordered = append(reordered, rest[:to]...)
	reordered = append(reordered, moved)
	reordered = append(reordered, rest[to:]...)
	return Rebalance(reordered), true, nil
}

// Apply returns a copy of items with updates applied, re-sorted.
func Apply(items []Item, updates []Update) []Item {
	byID := make(map[string]float64, len(updates))
	for _, u := range updates {
		byID[u.ID] = u.SortOrder
	}
	out := make([]Item, len(items))
	for i, item := range items {
		if key, ok := byID[item.ID]; ok {
			item.SortOrder = key
		}
		out[i] = item
	}
	Sort(out)
	return out
}
