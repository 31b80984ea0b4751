package categorize

import "testing"

func TestCache_Rebuild_MajorityVote(t *testing.T) {
	cache := NewCache()
	cache.Rebuild([]PayeeCount{
		{Payee: "acme", CategoryID: "cat-groceries", Count: 3},
		{Payee: "acme", CategoryID: "cat-shopping", Count: 1},
		{Payee: "coffee shop", CategoryID: "cat-eating-out", Count: 7},
	})

	got, ok := cache.Lookup("acme")
	if !ok || got != "cat-groceries" {
		t.Errorf("Lookup(acme) = %q, %v; want cat-groceries, true", got, ok)
	}
	got, ok = cache.Lookup("coffee shop")
	if !ok || got != "cat-eating-out" {
		t.Errorf("Lookup(coffee shop) = %q, %v; want cat-eating-out, true", got, ok)
	}
	if cache.Len() != 2 {
		t.Errorf("Len() = %d, want 2", cache.Len())
	}
}

func TestCache_Rebuild_TieKeepsFirstSeen(t *testing.T) {
	cache := NewCache()
	cache.Rebuild([]PayeeCount{
		{Payee: "gym", CategoryID: "cat-health", Count: 2},
		{Payee: "gym", CategoryID: "cat-leisure", Count: 2},
	})

	got, ok := cache.Lookup("gym")
	if !ok || got != "cat-health" {
		t.Errorf("Lookup(gym) = %q, %v; want first-seen cat-health, true", got, ok)
	}
}

func TestCache_Lookup_NormalizesPayee(t *testing.T) {
	cache := NewCache()
	cache.Rebuild([]PayeeCount{
		{Payee: "  Tesco Stores  ", CategoryID: "cat-groceries", Count: 5},
	})

	tests := []struct {
		name  string
		payee string
		want  bool
	}{
		{"exact", "tesco stores", true},
		{"mixed case", "TESCO Stores", true},
		{"surrounding whitespace", "  tesco stores \t", true},
		{"different payee", "tesco petrol", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := cache.Lookup(tt.payee); ok != tt.want {
				t.Errorf("Lookup(%q) found = %v, want %v", tt.payee, ok, tt.want)
			}
		})
	}
}

func TestCache_Rebuild_SkipsEmptyRows(t *testing.T) {
	cache := NewCache()
	cache.Rebuild([]PayeeCount{
		{Payee: "   ", CategoryID: "cat-misc", Count: 4},
		{Payee: "shop", CategoryID: "", Count: 4},
	})

	if cache.Len() != 0 {
		t.Errorf("Len() = %d, want 0", cache.Len())
	}
}

func TestCache_Learn(t *testing.T) {
	cache := NewCache()
	cache.Learn("  New Merchant ", "cat-shopping")

	got, ok := cache.Lookup("new merchant")
	if !ok || got != "cat-shopping" {
		t.Errorf("Lookup(new merchant) = %q, %v; want cat-shopping, true", got, ok)
	}

	// Learning overwrites a prior association.
	cache.Learn("new merchant", "cat-groceries")
	got, _ = cache.Lookup("New Merchant")
	if got != "cat-groceries" {
		t.Errorf("Lookup after relearn = %q, want cat-groceries", got)
	}

	cache.Learn("", "cat-misc")
	cache.Learn("payee", "")
	if cache.Len() != 1 {
		t.Errorf("Len() = %d after learning empty keys, want 1", cache.Len())
	}
}
