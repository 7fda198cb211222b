// Package cache implements the per-network derived view: the stripped
// header list, fork list, per-peer status, and recent-miner overlay ring
// that readers actually see. Mutations arrive as a closed set of Update
// variants applied under one critical section per network.
package cache

import "github.com/tos-network/tos-headerwatch/internal/domain"

// Update is the tagged union of mutations a Cache accepts.
type Update interface {
	isUpdate()
}

// HeaderMiner records that a single header's miner was identified.
type HeaderMiner struct {
	Header domain.HeaderInfoJson
}

// HeaderTree replaces the stripped header list and fork list wholesale,
// typically after a fresh strip_tree/recent_forks computation.
type HeaderTree struct {
	HeaderInfos []domain.HeaderInfoJson
	Forks       []domain.Fork
}

// NodeTips replaces one peer's reported tips.
type NodeTips struct {
	NodeID uint32
	Tips   []domain.ChainTip
}

// NodeReachability flips one peer's reachability flag.
type NodeReachability struct {
	NodeID    uint32
	Reachable bool
}

// NodeVersion sets one peer's reported version string.
type NodeVersion struct {
	NodeID  uint32
	Version string
}

func (HeaderMiner) isUpdate()      {}
func (HeaderTree) isUpdate()       {}
func (NodeTips) isUpdate()         {}
func (NodeReachability) isUpdate() {}
func (NodeVersion) isUpdate()      {}
