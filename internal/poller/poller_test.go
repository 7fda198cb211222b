package poller

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/tos-network/tos-headerwatch/internal/broadcast"
	"github.com/tos-network/tos-headerwatch/internal/cache"
	"github.com/tos-network/tos-headerwatch/internal/domain"
	"github.com/tos-network/tos-headerwatch/internal/headerstore"
	"github.com/tos-network/tos-headerwatch/internal/headertree"
	"github.com/tos-network/tos-headerwatch/internal/minerid"
)

type fakePeer struct {
	info         domain.NodeInfo
	version      string
	versionErr   error
	tips         []domain.ChainTip
	tipsErr      error
	headersByTip map[string][]domain.HeaderInfo
	minersNeeded []domain.Hash
}

func (f *fakePeer) Info() domain.NodeInfo { return f.info }

func (f *fakePeer) Version(ctx context.Context) (string, error) {
	return f.version, f.versionErr
}

func (f *fakePeer) Tips(ctx context.Context) ([]domain.ChainTip, error) {
	return f.tips, f.tipsErr
}

func (f *fakePeer) NewHeaders(ctx context.Context, tips []domain.ChainTip, isKnown func(domain.Hash) bool, firstTrackedHeight uint64, progress chan<- []domain.HeaderInfo) ([]domain.Hash, error) {
	for _, tip := range tips {
		batch := f.headersByTip[tip.Hash]
		if len(batch) > 0 {
			progress <- batch
		}
	}
	return f.minersNeeded, nil
}

func makeHeader(parent domain.Hash, nonce uint32) domain.RawHeader {
	var h domain.RawHeader
	copy(h[4:36], parent[:])
	h[79] = byte(nonce)
	return h
}

func setupStore(t *testing.T) (*headerstore.Store, *miniredis.Miniredis) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	store, err := headerstore.New(mr.Addr(), "", 0)
	if err != nil {
		mr.Close()
		t.Fatalf("store: %v", err)
	}
	return store, mr
}

func TestPollerTickInsertsAndEnqueuesMinerIDs(t *testing.T) {
	store, mr := setupStore(t)
	defer mr.Close()
	defer store.Close()

	var genesis domain.RawHeader
	header := makeHeader(genesis.BlockHash(), 1)
	hash := header.BlockHash()

	peer := &fakePeer{
		info: domain.NodeInfo{ID: 1, Name: "node-1"},
		tips: []domain.ChainTip{{Hash: hash.String(), Height: 1, Status: domain.ChainTipActive}},
		headersByTip: map[string][]domain.HeaderInfo{
			hash.String(): {{Height: 1, Header: header}},
		},
		minersNeeded: []domain.Hash{hash},
	}

	tree := headertree.New()
	mgr := cache.NewManager(broadcast.New())
	mgr.Init(1, nil, nil, nil)
	queue := minerid.NewQueue()

	p := &Poller{
		NetworkID:             1,
		NodeID:                1,
		Peer:                  peer,
		Tree:                  tree,
		CacheMgr:              mgr,
		Store:                 store,
		FirstTrackedHeight:    0,
		MaxInterestingHeights: 100,
		MinerIDs:              queue,
		TickInterval:          time.Hour,
	}

	p.tick()

	if tree.Len() != 1 {
		t.Fatalf("expected tree to have 1 node, got %d", tree.Len())
	}

	batch := queue.PopBatch(10)
	if len(batch) != 1 || batch[0] != hash {
		t.Fatalf("expected miner-id queue to contain %s, got %v", hash.String(), batch)
	}

	c, _ := mgr.Get(1)
	infos, nodes := c.Snapshot()
	if len(infos) != 1 {
		t.Fatalf("expected 1 header in cache, got %d", len(infos))
	}

	found := false
	for _, nd := range nodes {
		if nd.ID == 1 {
			found = true
			if len(nd.Tips) != 1 {
				t.Fatalf("expected 1 tip recorded, got %d", len(nd.Tips))
			}
		}
	}
	if !found {
		t.Fatal("expected node 1 present in cache node data")
	}
}

func TestPollerTickMarksUnreachableOnError(t *testing.T) {
	store, mr := setupStore(t)
	defer mr.Close()
	defer store.Close()

	peer := &fakePeer{tipsErr: context.DeadlineExceeded}
	tree := headertree.New()
	mgr := cache.NewManager(broadcast.New())
	mgr.Init(2, nil, nil, nil)
	queue := minerid.NewQueue()

	p := &Poller{
		NetworkID: 2,
		NodeID:    1,
		Peer:      peer,
		Tree:      tree,
		CacheMgr:  mgr,
		Store:     store,
		MinerIDs:  queue,
	}
	p.reachable = true
	p.tick()

	c, _ := mgr.Get(2)
	_, nodes := c.Snapshot()
	for _, nd := range nodes {
		if nd.ID == 1 && nd.Reachable {
			t.Fatal("expected node to be marked unreachable after tips() error")
		}
	}
}
