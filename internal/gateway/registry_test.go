package gateway

import (
	"testing"
	"time"
)

func TestRegistryDedupesByID(t *testing.T) {
	reg := NewRegistry()

	reg.Upsert(Gateway{ID: "g1", URL: "http://localhost:18790", Source: SourceBroadcast})
	reg.Upsert(Gateway{ID: "g1", URL: "http://127.0.0.1:18790", Source: SourceManual})

	if reg.Len() != 1 {
		t.Fatalf("expected 1 entry, got %d", reg.Len())
	}
	gw, ok := reg.Get("g1")
	if !ok {
		t.Fatal("expected g1 to be present")
	}
	if gw.URL != "http://127.0.0.1:18790" {
		t.Fatalf("expected latest URL to win, got %s", gw.URL)
	}
}

func TestRegistryIgnoresEmptyID(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(Gateway{URL: "http://localhost:18790"})

	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d entries", reg.Len())
	}
}

func TestRegistryFindByURL(t *testing.T) {
	reg := NewRegistry()
	reg.Upsert(Gateway{ID: "g1", URL: "http://localhost:18790"})

	if _, ok := reg.FindByURL("http://localhost:18790"); !ok {
		t.Fatal("expected to find gateway by URL")
	}
	if _, ok := reg.FindByURL("http://elsewhere:18790"); ok {
		t.Fatal("did not expect a match for an unknown URL")
	}
}

func TestRegistryListNewestFirst(t *testing.T) {
	reg := NewRegistry()
	now := time.Now()
	reg.Upsert(Gateway{ID: "old", DiscoveredAt: now.Add(-time.Hour)})
	reg.Upsert(Gateway{ID: "new", DiscoveredAt: now})

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(list))
	}
	if list[0].ID != "new" || list[1].ID != "old" {
		t.Fatalf("expected newest first, got %s, %s", list[0].ID, list[1].ID)
	}
}

func TestRegistryUpsertFillsDiscoveredAt(t *testing.T) {
	reg := NewRegistry()
	stored := reg.Upsert(Gateway{ID: "g1"})
	if stored.DiscoveredAt.IsZero() {
		t.Fatal("expected DiscoveredAt to be set")
	}
}
