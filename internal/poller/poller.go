// Package poller implements one task per (network, peer): tip discovery,
// header back-fill, persistence and cache refresh. Tasks run until process
// exit; there is no graceful shutdown surface here, matching the teacher's
// ticker-loop workers but without the Start/Stop/WaitGroup machinery those
// use, since this pipeline is never meant to drain cleanly mid-process.
package poller

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/tos-network/tos-headerwatch/internal/cache"
	"github.com/tos-network/tos-headerwatch/internal/domain"
	"github.com/tos-network/tos-headerwatch/internal/headerstore"
	"github.com/tos-network/tos-headerwatch/internal/headertree"
	"github.com/tos-network/tos-headerwatch/internal/newrelic"
	"github.com/tos-network/tos-headerwatch/internal/rpc"
	"github.com/tos-network/tos-headerwatch/internal/util"
)

const (
	rpcTimeout       = 8 * time.Second
	backfillTimeout  = 60 * time.Second
	versionRetries   = 5
	versionRetryWait = 10 * time.Second
	recentForksKept  = 20
)

// Peer is the subset of internal/rpc.PeerClient the poller needs.
type Peer interface {
	Info() domain.NodeInfo
	Version(ctx context.Context) (string, error)
	Tips(ctx context.Context) ([]domain.ChainTip, error)
	NewHeaders(ctx context.Context, tips []domain.ChainTip, isKnown func(domain.Hash) bool, firstTrackedHeight uint64, progress chan<- []domain.HeaderInfo) ([]domain.Hash, error)
}

// MinerIDSink receives hashes that need pool identification.
type MinerIDSink interface {
	Push(domain.Hash)
}

// Poller drives one (network, peer) pair.
type Poller struct {
	NetworkID             uint32
	NodeID                uint32
	Peer                  Peer
	Tree                  *headertree.Tree
	CacheMgr              *cache.Manager
	Store                 *headerstore.Store
	FirstTrackedHeight    uint64
	MaxInterestingHeights int
	MinerIDs              MinerIDSink
	TickInterval          time.Duration
	Jitter                time.Duration

	// NewRelic is optional; nil disables poll-cycle/header-count telemetry.
	NewRelic *newrelic.Agent

	lastTips  []domain.ChainTip
	reachable bool
}

// Run blocks forever: version probe, then the tick loop. Intended to be
// launched with `go poller.Run()`.
func (p *Poller) Run() {
	p.versionProbe()

	if p.Jitter > 0 {
		time.Sleep(p.Jitter)
	}

	ticker := time.NewTicker(p.TickInterval)
	defer ticker.Stop()
	for range ticker.C {
		p.tick()
	}
}

func (p *Poller) versionProbe() {
	version := "unknown"
	for attempt := 0; attempt < versionRetries; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
		v, err := p.Peer.Version(ctx)
		cancel()
		if err == nil {
			version = v
			break
		}
		if errors.Is(err, rpc.ErrTerminal) {
			util.Warnf("poller: network %d peer %d version probe terminal error: %v", p.NetworkID, p.NodeID, err)
			break
		}
		util.Debugf("poller: network %d peer %d version probe attempt %d failed: %v", p.NetworkID, p.NodeID, attempt+1, err)
		if attempt < versionRetries-1 {
			time.Sleep(versionRetryWait)
		}
	}
	if err := p.CacheMgr.Apply(p.NetworkID, cache.NodeVersion{NodeID: p.NodeID, Version: version}); err != nil {
		util.Warnf("poller: publish version for network %d peer %d: %v", p.NetworkID, p.NodeID, err)
	}
}

func (p *Poller) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), rpcTimeout)
	tips, err := p.Peer.Tips(ctx)
	cancel()

	if err != nil {
		if p.reachable {
			p.reachable = false
			p.publishReachability(false)
		}
		util.Debugf("poller: network %d peer %d tips() failed: %v", p.NetworkID, p.NodeID, err)
		return
	}
	if !p.reachable {
		p.reachable = true
		p.publishReachability(true)
	}

	sortTips(tips)
	tipChanged := !tipsEqual(tips, p.lastTips)
	if p.NewRelic != nil {
		p.NewRelic.RecordPollCycle(p.NetworkID, p.NodeID, true, tipChanged)
	}
	if !tipChanged {
		return
	}

	p.handleTipChange(tips)
	p.lastTips = tips
	if err := p.CacheMgr.Apply(p.NetworkID, cache.NodeTips{NodeID: p.NodeID, Tips: tips}); err != nil {
		util.Warnf("poller: publish tips for network %d peer %d: %v", p.NetworkID, p.NodeID, err)
	}
}

func (p *Poller) publishReachability(reachable bool) {
	if err := p.CacheMgr.Apply(p.NetworkID, cache.NodeReachability{NodeID: p.NodeID, Reachable: reachable}); err != nil {
		util.Warnf("poller: publish reachability for network %d peer %d: %v", p.NetworkID, p.NodeID, err)
	}
}

// handleTipChange opens a progress channel, spawns the receiver task, drives
// the peer's walk-back, then waits for every batch to be inserted, written
// and reflected in the cache before enqueueing miner-identification work.
func (p *Poller) handleTipChange(tips []domain.ChainTip) {
	progress := make(chan []domain.HeaderInfo, 4)
	var wg sync.WaitGroup
	var totalWritten int

	wg.Add(1)
	go func() {
		defer wg.Done()
		for batch := range progress {
			changed := p.Tree.InsertHeaders(batch)
			if err := p.Store.Write(context.Background(), p.NetworkID, batch); err != nil {
				util.Warnf("poller: write batch for network %d failed: %v", p.NetworkID, err)
			}
			totalWritten += len(batch)
			if p.NewRelic != nil {
				p.NewRelic.RecordHeadersInserted(p.NetworkID, len(batch))
			}
			if changed {
				view := p.Tree.StripTree(p.MaxInterestingHeights, p.FirstTrackedHeight, tipHeights(tips))
				forks := p.Tree.RecentForks(recentForksKept)
				if err := p.CacheMgr.Apply(p.NetworkID, cache.HeaderTree{HeaderInfos: view, Forks: forks}); err != nil {
					util.Warnf("poller: publish header tree for network %d: %v", p.NetworkID, err)
				}
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
	isKnown := func(h domain.Hash) bool {
		_, _, ok := p.Tree.Lookup(h)
		return ok
	}
	minersNeeded, err := p.Peer.NewHeaders(ctx, tips, isKnown, p.FirstTrackedHeight, progress)
	cancel()
	close(progress)
	wg.Wait()

	if err != nil {
		util.Warnf("poller: new_headers for network %d peer %d: %v", p.NetworkID, p.NodeID, err)
	}
	util.Infof("poller: network %d peer %d wrote %d headers", p.NetworkID, p.NodeID, totalWritten)

	for _, h := range minersNeeded {
		p.MinerIDs.Push(h)
	}
}

func tipHeights(tips []domain.ChainTip) []uint64 {
	out := make([]uint64, len(tips))
	for i, t := range tips {
		out[i] = t.Height
	}
	return out
}

func sortTips(tips []domain.ChainTip) {
	sort.Slice(tips, func(i, j int) bool { return tips[i].Less(tips[j]) })
}

func tipsEqual(a, b []domain.ChainTip) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
