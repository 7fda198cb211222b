// Package headertree implements the in-memory DAG of block headers shared
// across all peers of one network: insertion, the strip_tree collapsing
// algorithm, and fork extraction. It has no dependencies of its own —
// everything else (cache, store, poller) depends on it.
package headertree

import (
	"sort"
	"sync"

	"github.com/tos-network/tos-headerwatch/internal/domain"
)

type node struct {
	id        uint64
	info      domain.HeaderInfo
	hasParent bool
	parent    domain.Hash
	children  []domain.Hash
}

// Tree is the per-network header DAG. Every node is keyed by its block hash;
// edges run from parent to child. The zero value is not usable; use New.
type Tree struct {
	mu     sync.Mutex
	nodes  map[domain.Hash]*node
	nextID uint64
}

// New returns an empty Tree.
func New() *Tree {
	return &Tree{nodes: make(map[domain.Hash]*node)}
}

// InsertHeaders adds any headers not already present and wires parent/child
// edges. It reports whether any node was added. Two passes under one lock:
// nodes first, then edges, so a header whose parent appears later in the
// same batch still gets linked.
func (t *Tree) InsertHeaders(headers []domain.HeaderInfo) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	changed := false
	for _, hi := range headers {
		hash := hi.Header.BlockHash()
		if _, exists := t.nodes[hash]; exists {
			continue
		}
		t.nodes[hash] = &node{id: t.nextID, info: hi}
		t.nextID++
		changed = true
	}

	for _, hi := range headers {
		hash := hi.Header.BlockHash()
		child := t.nodes[hash]
		parentHash := hi.Header.PrevBlockHash()
		if parentHash.IsZero() {
			continue
		}
		parent, ok := t.nodes[parentHash]
		if !ok {
			continue
		}
		t.updateEdge(parentHash, parent, child)
	}

	return changed
}

// updateEdge links parent -> child, a no-op if the edge already exists.
func (t *Tree) updateEdge(parentHash domain.Hash, parent, child *node) {
	if child.hasParent && child.parent == parentHash {
		return
	}
	child.hasParent = true
	child.parent = parentHash
	for _, c := range parent.children {
		if c == child.info.Header.BlockHash() {
			return
		}
	}
	parent.children = append(parent.children, child.info.Header.BlockHash())
}

// Lookup resolves a hash to its stable node id and current HeaderInfo.
func (t *Tree) Lookup(hash domain.Hash) (nodeID uint64, info domain.HeaderInfo, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[hash]
	if !ok {
		return 0, domain.HeaderInfo{}, false
	}
	return n.id, n.info, true
}

// SetMiner sets a node's miner field in place. Reports whether the hash was known.
func (t *Tree) SetMiner(hash domain.Hash, miner string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	n, ok := t.nodes[hash]
	if !ok {
		return false
	}
	n.info.Miner = miner
	return true
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.nodes)
}

func satSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}

// StripTree computes the collapsed view: a recent height window plus a
// bounded set of historically interesting hotspots (forks and tips), each
// widened by a height-of-2 window for visual context, reconnected into one
// tree and assigned stable integer ids.
func (t *Tree) StripTree(maxInterestingHeights int, firstTrackedHeight uint64, tipHeights []uint64) []domain.HeaderInfoJson {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.nodes) == 0 || maxInterestingHeights == 0 {
		return []domain.HeaderInfoJson{}
	}

	heightCount := make(map[uint64]int)
	var maxH uint64
	firstSeen := true
	for _, n := range t.nodes {
		heightCount[n.info.Height]++
		if firstSeen || n.info.Height > maxH {
			maxH = n.info.Height
			firstSeen = false
		}
	}

	windowStart := satSub(maxH, uint64(maxInterestingHeights-1))
	if firstTrackedHeight > windowStart {
		windowStart = firstTrackedHeight
	}

	selected := make(map[uint64]bool)
	for h := range heightCount {
		if h >= windowStart && h <= maxH {
			selected[h] = true
		}
	}

	candidates := make(map[uint64]bool)
	for h, cnt := range heightCount {
		if cnt > 1 {
			candidates[h] = true
		}
	}
	for _, h := range tipHeights {
		candidates[h] = true
	}
	candidates[maxH] = true

	var hotspots []uint64
	for h := range candidates {
		if h < firstTrackedHeight {
			continue
		}
		if _, ok := heightCount[h]; !ok {
			continue
		}
		hotspots = append(hotspots, h)
	}
	sort.Slice(hotspots, func(i, j int) bool { return hotspots[i] > hotspots[j] })

	n := len(hotspots)
	var budget int
	switch {
	case n == 0:
		budget = 0
	case n <= 10:
		budget = n
		if budget > 2 {
			budget = 2
		}
	default:
		budget = n / 5
		if budget < 8 {
			budget = 8
		}
	}
	if budget > n {
		budget = n
	}
	for _, h := range hotspots[:budget] {
		selected[h] = true
	}

	inWindow := func(h uint64) bool {
		if selected[h] {
			return true
		}
		if selected[h+1] || selected[h+2] {
			return true
		}
		if h > 0 && selected[h-1] {
			return true
		}
		return false
	}

	surviving := make(map[domain.Hash]bool)
	for hash, n := range t.nodes {
		if inWindow(n.info.Height) {
			surviving[hash] = true
		}
	}

	type survNode struct {
		hash      domain.Hash
		height    uint64
		hasParent bool
		parent    domain.Hash
		children  []domain.Hash
	}
	survMap := make(map[domain.Hash]*survNode, len(surviving))
	for hash := range surviving {
		n := t.nodes[hash]
		sn := &survNode{hash: hash, height: n.info.Height}
		if n.hasParent && surviving[n.parent] {
			sn.hasParent = true
			sn.parent = n.parent
		}
		survMap[hash] = sn
	}
	for hash, sn := range survMap {
		if sn.hasParent {
			p := survMap[sn.parent]
			p.children = append(p.children, hash)
		}
	}

	var roots []domain.Hash
	for hash, sn := range survMap {
		if !sn.hasParent {
			roots = append(roots, hash)
		}
	}
	sort.Slice(roots, func(i, j int) bool { return survMap[roots[i]].height < survMap[roots[j]].height })

	var maxHeightDescendant func(domain.Hash) domain.Hash
	maxHeightDescendant = func(root domain.Hash) domain.Hash {
		best := root
		bestHeight := survMap[root].height
		var dfs func(domain.Hash)
		dfs = func(h domain.Hash) {
			sn := survMap[h]
			if sn.height > bestHeight {
				bestHeight = sn.height
				best = h
			}
			for _, c := range sn.children {
				dfs(c)
			}
		}
		dfs(root)
		return best
	}

	for i := 1; i < len(roots); i++ {
		attachPoint := maxHeightDescendant(roots[i-1])
		cur := roots[i]
		survMap[cur].hasParent = true
		survMap[cur].parent = attachPoint
		survMap[attachPoint].children = append(survMap[attachPoint].children, cur)
	}

	nodeID := make(map[domain.Hash]uint64, len(survMap))
	order := make([]domain.Hash, 0, len(survMap))
	var nextViewID uint64
	var walk func(domain.Hash)
	walk = func(h domain.Hash) {
		nodeID[h] = nextViewID
		order = append(order, h)
		nextViewID++
		children := append([]domain.Hash(nil), survMap[h].children...)
		sort.Slice(children, func(i, j int) bool { return survMap[children[i]].height < survMap[children[j]].height })
		for _, c := range children {
			walk(c)
		}
	}
	// Reconnection above chains every root under roots[0], so the survivor
	// set is now one tree. Walking anything past roots[0] would re-append
	// nodes already visited through that chain.
	if len(roots) > 0 {
		walk(roots[0])
	}

	result := make([]domain.HeaderInfoJson, 0, len(order))
	for _, h := range order {
		sn := survMap[h]
		n := t.nodes[h]
		prevID := domain.MaxUint64
		if sn.hasParent {
			prevID = nodeID[sn.parent]
		}
		result = append(result, domain.HeaderInfoJson{
			ID:     nodeID[h],
			PrevID: prevID,
			Hash:   h.String(),
			Height: n.info.Height,
			Miner:  n.info.Miner,
		})
	}
	return result
}

// AllHeaders returns a copy of every node's HeaderInfo, in no particular
// order. Used by the miner-ID backfill task to scan the full tree rather
// than a collapsed view.
func (t *Tree) AllHeaders() []domain.HeaderInfo {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.HeaderInfo, 0, len(t.nodes))
	for _, n := range t.nodes {
		out = append(out, n.info)
	}
	return out
}

// RecentForks returns, ascending by height, the last howMany nodes with
// out-degree > 1.
func (t *Tree) RecentForks(howMany int) []domain.Fork {
	t.mu.Lock()
	defer t.mu.Unlock()

	if len(t.nodes) == 0 || howMany <= 0 {
		return []domain.Fork{}
	}

	var forks []domain.Fork
	for _, n := range t.nodes {
		if len(n.children) <= 1 {
			continue
		}
		children := make([]domain.HeaderInfo, 0, len(n.children))
		for _, c := range n.children {
			children = append(children, t.nodes[c].info)
		}
		forks = append(forks, domain.Fork{Common: n.info, Children: children})
	}
	sort.Slice(forks, func(i, j int) bool { return forks[i].Common.Height < forks[j].Common.Height })

	if len(forks) > howMany {
		forks = forks[len(forks)-howMany:]
	}
	return forks
}
