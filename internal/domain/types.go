// Package domain holds the data model shared by the header-tree engine, the
// view cache, the RPC client, and the boundary adapters.
package domain

import (
	"encoding/hex"
	"fmt"

	"github.com/zeebo/blake3"
)

// MaxUint64 is the "no parent in this view" / "not applicable" sentinel.
const MaxUint64 = ^uint64(0)

// MaxUint32 is the "lagged; resync" sentinel used by the change broadcaster.
const MaxUint32 = ^uint32(0)

// MinerUnknown is the canonical "not yet identified" miner value. The empty
// string is treated as equivalent to it everywhere a miner field is read.
const MinerUnknown = "Unknown"

// IsMinerUnknown reports whether a miner string means "not yet identified".
// Both "" and "Unknown" are treated as unknown, per the header-tree's
// unknown-miner sentinel convention.
func IsMinerUnknown(miner string) bool {
	return miner == "" || miner == MinerUnknown
}

// Hash is a 32-byte block-header content hash.
type Hash [32]byte

// String renders the hash as lowercase hex.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the zero hash (used to represent "no parent").
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// RawHeaderSize is the fixed encoded width of a RawHeader.
const RawHeaderSize = 80

// RawHeader is an 80-byte fixed-width block header: 4-byte version, 32-byte
// previous-block hash, 32-byte opaque commitment (carried, never validated —
// proof-of-work/consensus validation is out of scope), 4-byte time, 4-byte
// bits, 4-byte nonce.
type RawHeader [RawHeaderSize]byte

// ParseRawHeader validates and wraps an 80-byte encoding.
func ParseRawHeader(b []byte) (RawHeader, error) {
	var h RawHeader
	if len(b) != RawHeaderSize {
		return h, fmt.Errorf("raw header must be %d bytes, got %d", RawHeaderSize, len(b))
	}
	copy(h[:], b)
	return h, nil
}

// BlockHash returns the content hash of the header: Blake3(Blake3(bytes)),
// mirroring the double-hash convention of Bitcoin-style headers while using
// this repository's Blake3-based hashing stack throughout.
func (h RawHeader) BlockHash() Hash {
	first := blake3.Sum256(h[:])
	second := blake3.Sum256(first[:])
	return Hash(second)
}

// PrevBlockHash returns the parent hash encoded at bytes [4:36).
func (h RawHeader) PrevBlockHash() Hash {
	var prev Hash
	copy(prev[:], h[4:36])
	return prev
}

// RawHeader has no height accessor: its 4-byte time field is not a height; height is tracked
// out-of-band in HeaderInfo since it is derived from chain position, not the
// header's own encoding (mirrors the source's separation of height from the
// 80-byte header).

// HeaderInfo pairs a raw header with its chain height and miner annotation.
type HeaderInfo struct {
	Height uint64
	Header RawHeader
	Miner  string
}

// HeaderInfoJson is the collapsed view record returned by strip_tree.
type HeaderInfoJson struct {
	ID     uint64 `json:"id"`
	PrevID uint64 `json:"prev_id"`
	Hash   string `json:"hash"`
	Height uint64 `json:"height"`
	Miner  string `json:"miner"`
}

// UpdateMiner sets the miner field.
func (h *HeaderInfoJson) UpdateMiner(miner string) {
	h.Miner = miner
}

// ChainTipStatus enumerates the state of a reported chain tip.
type ChainTipStatus string

const (
	ChainTipActive       ChainTipStatus = "active"
	ChainTipValidFork    ChainTipStatus = "valid-fork"
	ChainTipValidHeaders ChainTipStatus = "valid-headers"
	ChainTipHeadersOnly  ChainTipStatus = "headers-only"
	ChainTipInvalid      ChainTipStatus = "invalid"
	ChainTipUnknown      ChainTipStatus = "unknown"
)

// ChainTip is the most recent header of a chain branch as reported by a peer.
type ChainTip struct {
	Hash      string         `json:"hash"`
	Height    uint64         `json:"height"`
	BranchLen uint64         `json:"branchlen"`
	Status    ChainTipStatus `json:"status"`
}

// Less orders tips lexicographically by (height, hash, branchlen, status)
// for deterministic sort / equality comparisons.
func (t ChainTip) Less(o ChainTip) bool {
	if t.Height != o.Height {
		return t.Height < o.Height
	}
	if t.Hash != o.Hash {
		return t.Hash < o.Hash
	}
	if t.BranchLen != o.BranchLen {
		return t.BranchLen < o.BranchLen
	}
	return t.Status < o.Status
}

// NodeDataJson is the per-peer status record exposed to readers.
type NodeDataJson struct {
	ID                   uint32     `json:"id"`
	Name                 string     `json:"name"`
	Description          string     `json:"description"`
	Implementation       string     `json:"implementation"`
	Version              string     `json:"version"`
	Tips                 []ChainTip `json:"tips"`
	Reachable            bool       `json:"reachable"`
	LastChangedTimestamp uint64     `json:"last_changed_timestamp"`
}

// NodeInfo is the static identity of a peer, reported once via info().
type NodeInfo struct {
	ID             uint32 `json:"id"`
	Name           string `json:"name"`
	Description    string `json:"description"`
	Implementation string `json:"implementation"`
}

// NewNodeDataJson builds the initial per-peer status record for a fresh cache entry.
func NewNodeDataJson(info NodeInfo, tips []ChainTip, version string, lastChanged uint64, reachable bool) NodeDataJson {
	if tips == nil {
		tips = []ChainTip{}
	}
	return NodeDataJson{
		ID:                   info.ID,
		Name:                 info.Name,
		Description:          info.Description,
		Implementation:       info.Implementation,
		Version:              version,
		Tips:                 tips,
		Reachable:            reachable,
		LastChangedTimestamp: lastChanged,
	}
}

// Fork is a tree node with out-degree > 1: a common ancestor with its
// diverging children.
type Fork struct {
	Common   HeaderInfo   `json:"common"`
	Children []HeaderInfo `json:"children"`
}

// NetworkJson is the public network descriptor served by networks.json.
type NetworkJson struct {
	ID          uint32  `json:"id"`
	Name        string  `json:"name"`
	Description string  `json:"description"`
	NetworkType *string `json:"network_type,omitempty"`
}
