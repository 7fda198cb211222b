package headerstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/tos-network/tos-headerwatch/internal/domain"
)

func setupTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	store, err := New(mr.Addr(), "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("failed to create store: %v", err)
	}
	return store, mr
}

func makeHeader(parent domain.Hash, nonce uint32) domain.RawHeader {
	var h domain.RawHeader
	copy(h[4:36], parent[:])
	h[76] = byte(nonce)
	h[77] = byte(nonce >> 8)
	h[78] = byte(nonce >> 16)
	h[79] = byte(nonce >> 24)
	return h
}

func buildChain(startHeight uint64, count int, seed uint32) []domain.HeaderInfo {
	out := make([]domain.HeaderInfo, 0, count)
	var parent domain.Hash
	for i := 0; i < count; i++ {
		h := makeHeader(parent, seed+uint32(i))
		out = append(out, domain.HeaderInfo{Height: startHeight + uint64(i), Header: h})
		parent = h.BlockHash()
	}
	return out
}

// Invariant 3: store round-trip.
func TestStoreRoundTrip(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	batch := buildChain(100, 10, 1)

	if err := store.Write(ctx, 1, batch); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	loaded, err := store.LoadTreeInfos(ctx, 1, 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != len(batch) {
		t.Fatalf("expected %d headers, got %d", len(batch), len(loaded))
	}

	wantHashes := make(map[string]bool)
	for _, hi := range batch {
		wantHashes[hi.Header.BlockHash().String()] = true
	}
	for _, hi := range loaded {
		if !wantHashes[hi.Header.BlockHash().String()] {
			t.Fatalf("unexpected hash %s in loaded set", hi.Header.BlockHash().String())
		}
		if hi.Header.PrevBlockHash().IsZero() {
			continue
		}
		found := false
		for _, other := range batch {
			if other.Header.BlockHash() == hi.Header.PrevBlockHash() {
				found = true
			}
		}
		if !found {
			t.Fatalf("parent link for %s not present in batch", hi.Header.BlockHash().String())
		}
	}
}

func TestWriteIsIdempotent(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	batch := buildChain(200, 5, 99)

	if err := store.Write(ctx, 2, batch); err != nil {
		t.Fatalf("first write failed: %v", err)
	}
	if err := store.Write(ctx, 2, batch); err != nil {
		t.Fatalf("second write failed: %v", err)
	}

	loaded, err := store.LoadTreeInfos(ctx, 2, 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != len(batch) {
		t.Fatalf("expected %d headers after duplicate write, got %d", len(batch), len(loaded))
	}
}

// Scenario F: load respects first_tracked_height.
func TestScenarioFLoadRespectsFirstTrackedHeight(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	batch := buildChain(100, 11, 5) // heights 100..110

	if err := store.Write(ctx, 3, batch); err != nil {
		t.Fatalf("write failed: %v", err)
	}

	loaded, err := store.LoadTreeInfos(ctx, 3, 105)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if len(loaded) != 6 {
		t.Fatalf("expected 6 nodes, got %d", len(loaded))
	}
	has105, has104 := false, false
	for _, hi := range loaded {
		if hi.Height < 105 {
			t.Fatalf("found height %d below first_tracked_height 105", hi.Height)
		}
		if hi.Height == 105 {
			has105 = true
		}
		if hi.Height == 104 {
			has104 = true
		}
	}
	if !has105 {
		t.Fatal("expected height 105 to be included")
	}
	if has104 {
		t.Fatal("expected height 104 to be excluded")
	}
}

func TestUpdateMinerUnscopedByNetwork(t *testing.T) {
	store, mr := setupTestStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	batch := buildChain(1, 1, 42)
	hash := batch[0].Header.BlockHash()

	if err := store.Write(ctx, 10, batch); err != nil {
		t.Fatalf("write to network 10 failed: %v", err)
	}
	if err := store.Write(ctx, 20, batch); err != nil {
		t.Fatalf("write to network 20 failed: %v", err)
	}

	if err := store.UpdateMiner(ctx, hash, "ExamplePool"); err != nil {
		t.Fatalf("update_miner failed: %v", err)
	}

	for _, net := range []uint32{10, 20} {
		loaded, err := store.LoadTreeInfos(ctx, net, 0)
		if err != nil {
			t.Fatalf("load failed: %v", err)
		}
		if len(loaded) != 1 || loaded[0].Miner != "ExamplePool" {
			t.Fatalf("expected network %d to also see the miner update (unscoped), got %+v", net, loaded)
		}
	}
}
