package cache

import (
	"fmt"
	"sort"
	"sync"

	"github.com/tos-network/tos-headerwatch/internal/apperrors"
	"github.com/tos-network/tos-headerwatch/internal/domain"
)

// recentMinersCap bounds the ring that patches miner identifications onto a
// freshly rebuilt stripped view before the store catches up.
const recentMinersCap = 5

type recentMiner struct {
	hash  string
	miner string
}

// Cache holds one network's derived view behind a single mutex.
type Cache struct {
	mu           sync.Mutex
	headerInfos  []domain.HeaderInfoJson
	nodeData     map[uint32]domain.NodeDataJson
	forks        []domain.Fork
	recentMiners []recentMiner
}

func newCache() *Cache {
	return &Cache{nodeData: make(map[uint32]domain.NodeDataJson)}
}

func (c *Cache) apply(u Update) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch v := u.(type) {
	case HeaderMiner:
		for i := range c.headerInfos {
			if c.headerInfos[i].Hash == v.Header.Hash {
				c.headerInfos[i].Miner = v.Header.Miner
				break
			}
		}
		c.pushRecentMiner(v.Header.Hash, v.Header.Miner)

	case HeaderTree:
		infos := make([]domain.HeaderInfoJson, len(v.HeaderInfos))
		copy(infos, v.HeaderInfos)
		c.overlayRecentMiners(infos)
		c.headerInfos = infos
		c.forks = v.Forks

	case NodeTips:
		minHeight := c.minHeaderHeight()
		filtered := make([]domain.ChainTip, 0, len(v.Tips))
		for _, tip := range v.Tips {
			if tip.Height >= minHeight {
				filtered = append(filtered, tip)
			}
		}
		nd := c.nodeData[v.NodeID]
		nd.ID = v.NodeID
		nd.Tips = filtered
		c.nodeData[v.NodeID] = nd

	case NodeReachability:
		nd := c.nodeData[v.NodeID]
		nd.ID = v.NodeID
		nd.Reachable = v.Reachable
		c.nodeData[v.NodeID] = nd

	case NodeVersion:
		nd := c.nodeData[v.NodeID]
		nd.ID = v.NodeID
		nd.Version = v.Version
		c.nodeData[v.NodeID] = nd
	}
}

func (c *Cache) pushRecentMiner(hash, miner string) {
	c.recentMiners = append(c.recentMiners, recentMiner{hash: hash, miner: miner})
	if len(c.recentMiners) > recentMinersCap {
		c.recentMiners = c.recentMiners[len(c.recentMiners)-recentMinersCap:]
	}
}

func (c *Cache) overlayRecentMiners(infos []domain.HeaderInfoJson) {
	for _, rm := range c.recentMiners {
		for i := range infos {
			if infos[i].Hash == rm.hash {
				infos[i].Miner = rm.miner
			}
		}
	}
}

func (c *Cache) minHeaderHeight() uint64 {
	if len(c.headerInfos) == 0 {
		return 0
	}
	min := c.headerInfos[0].Height
	for _, hi := range c.headerInfos[1:] {
		if hi.Height < min {
			min = hi.Height
		}
	}
	return min
}

// Snapshot returns a copy of the current header list and peer status list,
// the latter sorted by node id for deterministic JSON output.
func (c *Cache) Snapshot() ([]domain.HeaderInfoJson, []domain.NodeDataJson) {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos := make([]domain.HeaderInfoJson, len(c.headerInfos))
	copy(infos, c.headerInfos)

	nodes := make([]domain.NodeDataJson, 0, len(c.nodeData))
	for _, nd := range c.nodeData {
		nodes = append(nodes, nd)
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return infos, nodes
}

// Forks returns a copy of the current fork list.
func (c *Cache) Forks() []domain.Fork {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]domain.Fork, len(c.forks))
	copy(out, c.forks)
	return out
}

// Publisher is whatever the Manager notifies after a successful update —
// satisfied by *broadcast.Broadcaster.
type Publisher interface {
	Publish(networkID uint32)
}

// Manager owns the process-wide networks -> Cache map behind one lock,
// matching the teacher's "one map, one mutex" idiom for shared registries.
type Manager struct {
	mu     sync.Mutex
	caches map[uint32]*Cache
	pub    Publisher
}

// NewManager returns a Manager that publishes through pub after each
// successful update.
func NewManager(pub Publisher) *Manager {
	return &Manager{caches: make(map[uint32]*Cache), pub: pub}
}

// Init creates the cache entry for a network at startup, after its tree has
// been loaded from the store. nodes seeds each configured peer's static
// identity (name/description/implementation) so it is present in
// NodeDataJson responses even before its first reachability or tip update
// lands — those later updates only ever touch one field at a time and
// would otherwise leave the rest zero-valued.
func (m *Manager) Init(networkID uint32, headerInfos []domain.HeaderInfoJson, forks []domain.Fork, nodes []domain.NodeDataJson) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := newCache()
	c.headerInfos = headerInfos
	c.forks = forks
	for _, nd := range nodes {
		c.nodeData[nd.ID] = nd
	}
	m.caches[networkID] = c
}

// Get returns the cache for a network, if one was initialised.
func (m *Manager) Get(networkID uint32) (*Cache, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.caches[networkID]
	return c, ok
}

// Apply runs u against networkID's cache under its single-writer critical
// section, then fires one change notification. A missing cache entry is an
// internal invariant violation: every configured network gets a cache at
// startup.
func (m *Manager) Apply(networkID uint32, u Update) error {
	m.mu.Lock()
	c, ok := m.caches[networkID]
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("cache missing network %d: %w", networkID, apperrors.ErrInternalInvariant)
	}
	c.apply(u)
	m.pub.Publish(networkID)
	return nil
}
