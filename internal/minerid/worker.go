// Package minerid implements the per-network consumer that annotates blocks
// with a mining pool identified from their coinbase transaction, out of band
// from the poller that discovered them.
package minerid

import (
	"context"
	"time"

	"github.com/tos-network/tos-headerwatch/internal/cache"
	"github.com/tos-network/tos-headerwatch/internal/domain"
	"github.com/tos-network/tos-headerwatch/internal/headerstore"
	"github.com/tos-network/tos-headerwatch/internal/headertree"
	"github.com/tos-network/tos-headerwatch/internal/newrelic"
	"github.com/tos-network/tos-headerwatch/internal/notify"
	"github.com/tos-network/tos-headerwatch/internal/rpc"
	"github.com/tos-network/tos-headerwatch/internal/util"
)

const (
	batchSize        = 100
	rpcTimeout       = 8 * time.Second
	backfillAfterRun = 5 * time.Minute
)

// Peer is the subset of internal/rpc.PeerClient the miner-ID worker needs.
type Peer interface {
	Coinbase(ctx context.Context, hash domain.Hash, height uint64) (rpc.CoinbaseTx, error)
}

// Classifier maps a coinbase payload to a pool name, or "" if unrecognised.
type Classifier func(rpc.CoinbaseTx) string

// Worker consumes one network's Queue, resolving and annotating miners.
type Worker struct {
	NetworkID             uint32
	Peers                 []Peer
	Tree                  *headertree.Tree
	Store                 *headerstore.Store
	CacheMgr              *cache.Manager
	Queue                 *Queue
	Classify              Classifier
	MaxInterestingHeights int
	FirstTrackedHeight    uint64

	// Notify and NewRelic are optional; either may be nil.
	Notify   *notify.Notifier
	NewRelic *newrelic.Agent
}

// Run drains the queue forever, batches of up to 100 hashes at a time.
// Intended to be launched with `go worker.Run()`.
func (w *Worker) Run() {
	for {
		batch := w.Queue.PopBatch(batchSize)
		if batch == nil {
			return
		}
		for _, hash := range batch {
			w.process(hash)
		}
	}
}

func (w *Worker) process(hash domain.Hash) {
	_, info, ok := w.Tree.Lookup(hash)
	if !ok {
		util.Debugf("minerid: network %d hash %s not yet in tree, skipping", w.NetworkID, hash.String())
		return
	}
	if !domain.IsMinerUnknown(info.Miner) {
		return
	}

	identified := ""
	for _, peer := range w.Peers {
		ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
		cb, err := peer.Coinbase(ctx, hash, info.Height)
		cancel()
		if err != nil {
			util.Warnf("minerid: network %d coinbase lookup for %s failed: %v", w.NetworkID, hash.String(), err)
			continue
		}
		if pool := w.Classify(cb); pool != "" {
			identified = pool
			break
		}
	}
	if identified == "" {
		identified = domain.MinerUnknown
	}

	w.Tree.SetMiner(hash, identified)
	if err := w.Store.UpdateMiner(context.Background(), hash, identified); err != nil {
		util.Warnf("minerid: update_miner for %s: %v", hash.String(), err)
	}
	update := cache.HeaderMiner{Header: domain.HeaderInfoJson{
		Hash:   hash.String(),
		Height: info.Height,
		Miner:  identified,
	}}
	if err := w.CacheMgr.Apply(w.NetworkID, update); err != nil {
		util.Warnf("minerid: publish miner update for %s: %v", hash.String(), err)
	}

	if w.NewRelic != nil {
		w.NewRelic.RecordMinerClassified(w.NetworkID, info.Height, identified)
	}
	if w.Notify != nil {
		w.Notify.NotifyMinerClassified(w.NetworkID, info.Height, hash, identified)
	}
}

// ScheduleBackfill fires a one-shot scan 5 minutes after startup, priming
// the queue with unknown-miner nodes near the tree's currently interesting
// heights — covers the case of starting from a populated store.
func (w *Worker) ScheduleBackfill() {
	time.AfterFunc(backfillAfterRun, w.backfill)
}

// backfill re-derives the set of heights StripTree currently considers
// interesting — itself already a ±2 window around the recent range and the
// hotspot set — and enqueues any full-tree node landing in it whose miner
// is still unknown. Applying a further ±2 on top here would double the
// widening StripTree already did, so the view's heights are used as-is.
func (w *Worker) backfill() {
	view := w.Tree.StripTree(w.MaxInterestingHeights, w.FirstTrackedHeight, nil)
	interesting := make(map[uint64]bool, len(view))
	for _, hi := range view {
		interesting[hi.Height] = true
	}

	queued := 0
	for _, hi := range w.Tree.AllHeaders() {
		if !domain.IsMinerUnknown(hi.Miner) {
			continue
		}
		if !interesting[hi.Height] {
			continue
		}
		w.Queue.Push(hi.Header.BlockHash())
		queued++
	}
	util.Infof("minerid: network %d backfill queued %d unknown-miner headers", w.NetworkID, queued)
}
