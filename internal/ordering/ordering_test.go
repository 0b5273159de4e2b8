package ordering

import (
	"errors"
	"fmt"
	"math"
	"testing"
)

func ptr(f float64) *float64 { return &f }

func TestComputeInsertKey(t *testing.T) {
	tests := []struct {
		name    string
		prev    *float64
		next    *float64
		want    float64
		wantErr bool
	}{
		{name: "empty list uses origin", want: Origin},
		{name: "before head", next: ptr(5000), want: 4000},
		{name: "after tail", prev: ptr(5000), want: 6000},
		{name: "between neighbours", prev: ptr(1000), next: ptr(2000), want: 1500},
		{name: "negative keys", prev: ptr(-3000), next: ptr(-1000), want: -2000},
		{name: "gap at threshold", prev: ptr(1000), next: ptr(1002), want: 1001},
		{name: "gap below threshold", prev: ptr(1000), next: ptr(1001.5), wantErr: true},
		{name: "equal neighbours", prev: ptr(1000), next: ptr(1000), wantErr: true},
		{name: "inverted neighbours", prev: ptr(2000), next: ptr(1000), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeInsertKey(tt.prev, tt.next)
			if tt.wantErr {
				if !errors.Is(err, ErrUnderflow) {
					t.Fatalf("ComputeInsertKey() error = %v, want ErrUnderflow", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("ComputeInsertKey() unexpected error: %v", err)
			}
			if math.Abs(got-tt.want) > 1e-9 {
				t.Errorf("ComputeInsertKey() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRebalance(t *testing.T) {
	items := []Item{
		{ID: "c", SortOrder: 7.25},
		{ID: "a", SortOrder: 7.5},
		{ID: "b", SortOrder: 7.75},
	}

	updates := Rebalance(items)
	if len(updates) != 3 {
		t.Fatalf("expected 3 updates, got %d", len(updates))
	}
	for i, u := range updates {
		if u.ID != items[i].ID {
			t.Errorf("update %d: id = %s, want %s", i, u.ID, items[i].ID)
		}
		want := Origin + float64(i)*Step
		if u.SortOrder != want {
			t.Errorf("update %d: key = %v, want %v", i, u.SortOrder, want)
		}
	}

	if got := Rebalance(nil); len(got) != 0 {
		t.Errorf("Rebalance(nil) = %v, want empty", got)
	}
}

func TestSortBreaksTiesByName(t *testing.T) {
	items := []Item{
		{ID: "1", SortOrder: 1000, Name: "Rent"},
		{ID: "2", SortOrder: 1000, Name: "Groceries"},
		{ID: "3", SortOrder: 500, Name: "Transport"},
	}
	Sort(items)

	want := []string{"3", "2", "1"}
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("position %d: got %s, want %s (%v)", i, items[i].ID, id, items)
		}
	}
	if !NeedsRebalance(items) {
		t.Error("expected duplicate keys to require a rebalance")
	}
}

func TestMove(t *testing.T) {
	base := toItems(Rebalance(makeItems(5)))

	t.Run("own position is a no-op", func(t *testing.T) {
		updates, rebalanced, err := Move(base, 2, 2)
		if err != nil {
			t.Fatalf("Move failed: %v", err)
		}
		if len(updates) != 0 || rebalanced {
			t.Errorf("expected no updates, got %v (rebalanced=%v)", updates, rebalanced)
		}
	})

	t.Run("to head", func(t *testing.T) {
		updates, rebalanced, err := Move(base, 3, 0)
		if err != nil {
			t.Fatalf("Move failed: %v", err)
		}
		if rebalanced || len(updates) != 1 {
			t.Fatalf("expected single update, got %v", updates)
		}
		if updates[0].ID != "item-3" || updates[0].SortOrder != 0 {
			t.Errorf("unexpected update %+v", updates[0])
		}
	})

	t.Run("to tail", func(t *testing.T) {
		updates, _, err := Move(base, 0, 4)
		if err != nil {
			t.Fatalf("Move failed: %v", err)
		}
		if updates[0].SortOrder != 6000 {
			t.Errorf("key = %v, want 6000", updates[0].SortOrder)
		}
	})

	t.Run("down into the middle", func(t *testing.T) {
		updates, _, err := Move(base, 0, 2)
		if err != nil {
			t.Fatalf("Move failed: %v", err)
		}
		got := Apply(base, updates)
		want := []string{"item-1", "item-2", "item-0", "item-3", "item-4"}
		assertOrder(t, got, want)
	})

	t.Run("up into the middle", func(t *testing.T) {
		updates, _, err := Move(base, 4, 1)
		if err != nil {
			t.Fatalf("Move failed: %v", err)
		}
		got := Apply(base, updates)
		want := []string{"item-0", "item-4", "item-1", "item-2", "item-3"}
		assertOrder(t, got, want)
	})

	t.Run("out of range", func(t *testing.T) {
		if _, _, err := Move(base, 0, 5); err == nil {
			t.Error("expected error for out of range index")
		}
	})
}

func TestInsertionsNeverCollide(t *testing.T) {
	var items []Item
	for i := 0; i < 300; i++ {
		var prev, next *float64
		switch i % 3 {
		case 0: // head
			if len(items) > 0 {
				next = &items[0].SortOrder
			}
		case 1: // tail
			if len(items) > 0 {
				prev = &items[len(items)-1].SortOrder
			}
		case 2: // middle
			if len(items) >= 2 {
				mid := len(items) / 2
				prev = &items[mid-1].SortOrder
				next = &items[mid].SortOrder
			}
		}

		key, err := ComputeInsertKey(prev, next)
		if errors.Is(err, ErrUnderflow) {
			items = toItems(Rebalance(items))
			i--
			continue
		}
		if err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}

		items = append(items, Item{ID: fmt.Sprintf("n-%d", i), SortOrder: key})
		Sort(items)
		assertUnique(t, items)
	}
	if len(items) != 300 {
		t.Fatalf("expected 300 items, got %d", len(items))
	}
}

func TestThousandMovesRebalanceOnce(t *testing.T) {
	items := toItems(Rebalance(makeItems(20)))
	rebalances := 0

	move := func(from, to int) {
		t.Helper()
		updates, rebalanced, err := Move(items, from, to)
		if err != nil {
			t.Fatalf("Move(%d, %d) failed: %v", from, to, err)
		}
		if rebalanced {
			rebalances++
			for i := 1; i < len(updates); i++ {
				if gap := updates[i].SortOrder - updates[i-1].SortOrder; gap != Step {
					t.Fatalf("rebalance left uneven gap %v at %d", gap, i)
				}
			}
		}
		items = Apply(items, updates)
		assertUnique(t, items)
	}

	// Twelve drops into the same slot halve the gap until it runs out.
	for i := 0; i < 12; i++ {
		move(len(items)-1, 1)
	}
	// Head and tail moves never shrink a gap.
	for i := 0; i < 988; i++ {
		if i%2 == 0 {
			move(0, len(items)-1)
		} else {
			move(len(items)-1, 0)
		}
	}

	if rebalances != 1 {
		t.Errorf("rebalances = %d, want 1", rebalances)
	}
}

func makeItems(n int) []Item {
	items := make([]Item, n)
	for i := range items {
		items[i] = Item{ID: fmt.Sprintf("item-%d", i)}
	}
	return items
}

func toItems(updates []Update) []Item {
	items := make([]Item, len(updates))
	for i, u := range updates {
		items[i] = Item{ID: u.ID, SortOrder: u.SortOrder}
	}
	return items
}

func assertOrder(t *testing.T, items []Item, want []string) {
	t.Helper()
	for i, id := range want {
		if items[i].ID != id {
			t.Fatalf("position %d: got %s, want %s", i, items[i].ID, id)
		}
	}
}

func assertUnique(t *testing.T, items []Item) {
	t.Helper()
	seen := make(map[float64]string, len(items))
	for _, item := range items {
		if other, ok := seen[item.SortOrder]; ok {
			t.Fatalf("duplicate key %v for %s and %s", item.SortOrder, other, item.ID)
		}
		seen[item.SortOrder] = item.ID
	}
}
