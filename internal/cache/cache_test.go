package cache

import (
	"context"
	"testing"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

func TestLRUCache(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("SetAndGet", func(t *testing.T) {
		err := cache.Set(ctx, tenantID, "key1", []byte("value1"), time.Minute)
		if err != nil {
			t.Fatalf("Set failed: %v", err)
		}

		val, err := cache.Get(ctx, tenantID, "key1")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}

		if string(val) != "value1" {
			t.Errorf("expected 'value1', got '%s'", string(val))
		}
	})

	t.Run("GetMiss", func(t *testing.T) {
		val, err := cache.Get(ctx, tenantID, "nonexistent")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if val != nil {
			t.Errorf("expected nil for cache miss, got: %v", val)
		}
	})

	t.Run("Delete", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "key2", []byte("value2"), time.Minute)

		err := cache.Delete(ctx, tenantID, "key2")
		if err != nil {
			t.Fatalf("Delete failed: %v", err)
		}

		val, _ := cache.Get(ctx, tenantID, "key2")
		if val != nil {
			t.Error("expected nil after delete")
		}
	})

	t.Run("TTLExpiration", func(t *testing.T) {
		_ = cache.Set(ctx, tenantID, "expiring", []byte("temp"), 10*time.Millisecond)

		// Should be available immediately
		val, _ := cache.Get(ctx, tenantID, "expiring")
		if val == nil {
			t.Error("expected value before expiration")
		}

		// Wait for expiration
		time.Sleep(20 * time.Millisecond)

		val, _ = cache.Get(ctx, tenantID, "expiring")
		if val != nil {
			t.Error("expected nil after expiration")
		}
	})

	t.Run("LRUEviction", func(t *testing.T) {
		smallCache := NewLRUCache(3)

		_ = smallCache.Set(ctx, tenantID, "a", []byte("1"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "b", []byte("2"), time.Minute)
		_ = smallCache.Set(ctx, tenantID, "c", []byte("3"), time.Minute)

		// Touch "a" so "b" becomes the oldest
		_, _ = smallCache.Get(ctx, tenantID, "a")

		_ = smallCache.Set(ctx, tenantID, "d", []byte("4"), time.Minute)

		if val, _ := smallCache.Get(ctx, tenantID, "b"); val != nil {
			t.Error("expected oldest entry to be evicted")
		}
		if val, _ := smallCache.Get(ctx, tenantID, "a"); val == nil {
			t.Error("expected recently used entry to survive")
		}
	})

	t.Run("TenantIsolation", func(t *testing.T) {
		_ = cache.Set(ctx, "tenant-a", "shared-key", []byte("a-data"), time.Minute)
		_ = cache.Set(ctx, "tenant-b", "shared-key", []byte("b-data"), time.Minute)

		val, _ := cache.Get(ctx, "tenant-a", "shared-key")
		if string(val) != "a-data" {
			t.Errorf("tenant-a got %q", string(val))
		}
		val, _ = cache.Get(ctx, "tenant-b", "shared-key")
		if string(val) != "b-data" {
			t.Errorf("tenant-b got %q", string(val))
		}

		if _, err := cache.Get(ctx, "", "shared-key"); err == nil {
			t.Error("expected error for empty tenantID")
		}
	})
}

func TestLRUCacheRuleSet(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"
	contractID := "contract-001"

	rules := []*domain.Rule{
		{
			ID: "rule-001", ContractID: contractID,
			RuleType: domain.RuleTypeTiered, Name: "standard-rate",
			Priority: 1, Active: true, BaseRate: 1.25,
		},
		{
			ID: "rule-002", ContractID: contractID,
			RuleType: domain.RuleTypeMinimumGuarantee, Name: "floor",
			Active: true, MinimumGuarantee: 50000,
		},
	}

	t.Run("MissBeforeSet", func(t *testing.T) {
		got, err := cache.GetRuleSet(ctx, tenantID, contractID)
		if err != nil {
			t.Fatalf("GetRuleSet failed: %v", err)
		}
		if got != nil {
			t.Errorf("expected nil on miss, got %v", got)
		}
	})

	t.Run("SetAndGet", func(t *testing.T) {
		if err := cache.SetRuleSet(ctx, tenantID, contractID, rules, time.Minute); err != nil {
			t.Fatalf("SetRuleSet failed: %v", err)
		}

		got, err := cache.GetRuleSet(ctx, tenantID, contractID)
		if err != nil {
			t.Fatalf("GetRuleSet failed: %v", err)
		}
		if len(got) != 2 {
			t.Fatalf("expected 2 rules, got %d", len(got))
		}
		if got[0].Name != "standard-rate" || got[0].BaseRate != 1.25 {
			t.Errorf("rule not round-tripped: %+v", got[0])
		}
		if !got[1].IsMinimumGuarantee() {
			t.Errorf("rule type not round-tripped: %+v", got[1])
		}
	})

	t.Run("Invalidate", func(t *testing.T) {
		if err := cache.InvalidateRuleSet(ctx, tenantID, contractID); err != nil {
			t.Fatalf("InvalidateRuleSet failed: %v", err)
		}
		got, _ := cache.GetRuleSet(ctx, tenantID, contractID)
		if got != nil {
			t.Error("expected nil after invalidation")
		}
	})
}

func TestLRUCacheCounters(t *testing.T) {
	cache := NewLRUCache(100)
	ctx := context.Background()
	tenantID := "tenant-001"

	t.Run("Increment", func(t *testing.T) {
		for want := int64(1); want <= 3; want++ {
			count, err := cache.IncrementCounter(ctx, tenantID, "calc:contract-001", time.Minute)
			if err != nil {
				t.Fatalf("IncrementCounter failed: %v", err)
			}
			if count != want {
				t.Errorf("count = %d, want %d", count, want)
			}
		}
	})

	t.Run("WindowExpiry", func(t *testing.T) {
		_, _ = cache.IncrementCounter(ctx, tenantID, "short", 10*time.Millisecond)
		time.Sleep(20 * time.Millisecond)

		count, err := cache.IncrementCounter(ctx, tenantID, "short", time.Minute)
		if err != nil {
			t.Fatalf("IncrementCounter failed: %v", err)
		}
		if count != 1 {
			t.Errorf("count = %d, want fresh window at 1", count)
		}
	})
}

func TestCacheFactory(t *testing.T) {
	t.Run("Memory", func(t *testing.T) {
		c, err := New(domain.CacheConfig{Type: "memory", LocalMaxSize: 10})
		if err != nil {
			t.Fatalf("New failed: %v", err)
		}
		defer c.Close()

		if _, ok := c.(*LRUCache); !ok {
			t.Errorf("expected *LRUCache, got %T", c)
		}
	})

	t.Run("Unsupported", func(t *testing.T) {
		if _, err := New(domain.CacheConfig{Type: "memcached"}); err == nil {
			t.Error("expected error for unsupported cache type")
		}
	})
}
