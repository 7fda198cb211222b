// Package headerstore durably persists block headers, emulating the
// relational table of spec.md §4.1 (primary key network+hash+raw_header_bytes,
// INSERT OR IGNORE semantics) over Redis, since no SQL/embedded-KV driver
// appears anywhere in the retrieved example corpus.
package headerstore

import (
	"context"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"

	"github.com/go-redis/redis/v8"
	"github.com/tos-network/tos-headerwatch/internal/apperrors"
	"github.com/tos-network/tos-headerwatch/internal/domain"
	"github.com/tos-network/tos-headerwatch/internal/util"
)

const (
	keyPrefix = "headerwatch:"

	// headers:{network}:{hash} -> hash field set {height, raw, miner}
	keyHeaderPattern = keyPrefix + "headers:%d:%s"
	// headers:{network}:byheight:{height} -> set of hashes at that height
	keyByHeightPattern = keyPrefix + "headers:%d:byheight:%d"
	// headers:*:{hash} glob used by update_miner, unscoped by network
	keyHeaderGlobByHash = keyPrefix + "headers:*:%s"
)

// Store wraps the Redis-backed header table.
type Store struct {
	client *redis.Client
	ctx    context.Context
}

// New connects to Redis and verifies reachability.
func New(addr, password string, db int) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("header store connect: %w: %v", apperrors.ErrStore, err)
	}

	util.Info("Connected to header store at ", addr)
	return &Store{client: client, ctx: ctx}, nil
}

// Close closes the underlying connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Setup is a no-op: Redis hashes and sets are created lazily on first write.
// Kept as an explicit step so startup code reads the same way regardless of
// which store backend is wired in.
func (s *Store) Setup(ctx context.Context) error {
	return nil
}

// Write inserts a batch of headers for a network. Duplicate (hash) entries
// are silently skipped via HSETNX inside a WATCH/MULTI transaction per
// header, matching the table's INSERT OR IGNORE semantics; order within the
// batch does not matter.
func (s *Store) Write(ctx context.Context, network uint32, batch []domain.HeaderInfo) error {
	for _, hi := range batch {
		hash := hi.Header.BlockHash()
		key := fmt.Sprintf(keyHeaderPattern, network, hash.String())
		heightKey := fmt.Sprintf(keyByHeightPattern, network, hi.Height)

		txf := func(tx *redis.Tx) error {
			exists, err := tx.Exists(ctx, key).Result()
			if err != nil {
				return err
			}
			if exists == 1 {
				return nil
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.HSetNX(ctx, key, "height", strconv.FormatUint(hi.Height, 10))
				pipe.HSetNX(ctx, key, "raw_header", hex.EncodeToString(hi.Header[:]))
				miner := hi.Miner
				if domain.IsMinerUnknown(miner) {
					miner = domain.MinerUnknown
				}
				pipe.HSetNX(ctx, key, "miner", miner)
				pipe.SAdd(ctx, heightKey, hash.String())
				return nil
			})
			return err
		}

		if err := s.client.Watch(ctx, txf, key); err != nil {
			return fmt.Errorf("write header %s: %w: %v", hash.String(), apperrors.ErrStore, err)
		}
	}
	return nil
}

// UpdateMiner unconditionally sets the miner field on every row matching
// hash across every network, exactly per spec.md's documented open
// question: scope is intentionally not filtered by network.
func (s *Store) UpdateMiner(ctx context.Context, hash domain.Hash, miner string) error {
	pattern := fmt.Sprintf(keyHeaderGlobByHash, hash.String())
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("update_miner scan: %w: %v", apperrors.ErrStore, err)
		}
		for _, key := range keys {
			if err := s.client.HSet(ctx, key, "miner", miner).Err(); err != nil {
				return fmt.Errorf("update_miner set: %w: %v", apperrors.ErrStore, err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

// LoadTreeInfos selects every header at height >= firstTrackedHeight for a
// network, ascending, for use seeding an in-memory Tree at startup. Headers
// below firstTrackedHeight are intentionally invisible to callers: their
// children appear as roots with no known parent.
func (s *Store) LoadTreeInfos(ctx context.Context, network uint32, firstTrackedHeight uint64) ([]domain.HeaderInfo, error) {
	heights, err := s.knownHeights(ctx, network)
	if err != nil {
		return nil, err
	}

	var out []domain.HeaderInfo
	for _, h := range heights {
		if h < firstTrackedHeight {
			continue
		}
		hashKey := fmt.Sprintf(keyByHeightPattern, network, h)
		hashes, err := s.client.SMembers(ctx, hashKey).Result()
		if err != nil {
			return nil, fmt.Errorf("load_treeinfos smembers: %w: %v", apperrors.ErrStore, err)
		}
		for _, hashStr := range hashes {
			headerKey := fmt.Sprintf(keyHeaderPattern, network, hashStr)
			fields, err := s.client.HGetAll(ctx, headerKey).Result()
			if err != nil {
				return nil, fmt.Errorf("load_treeinfos hgetall: %w: %v", apperrors.ErrStore, err)
			}
			if len(fields) == 0 {
				continue
			}
			rawHex, ok := fields["raw_header"]
			if !ok {
				continue
			}
			rawBytes, err := hex.DecodeString(rawHex)
			if err != nil {
				continue
			}
			raw, err := domain.ParseRawHeader(rawBytes)
			if err != nil {
				continue
			}
			out = append(out, domain.HeaderInfo{
				Height: h,
				Header: raw,
				Miner:  fields["miner"],
			})
		}
	}
	return out, nil
}

func (s *Store) knownHeights(ctx context.Context, network uint32) ([]uint64, error) {
	prefix := fmt.Sprintf(keyPrefix+"headers:%d:byheight:", network)
	pattern := prefix + "*"
	seen := make(map[uint64]bool)
	var cursor uint64
	for {
		keys, next, err := s.client.Scan(ctx, cursor, pattern, 1000).Result()
		if err != nil {
			return nil, fmt.Errorf("load_treeinfos scan: %w: %v", apperrors.ErrStore, err)
		}
		for _, key := range keys {
			hStr := key[len(prefix):]
			h, err := strconv.ParseUint(hStr, 10, 64)
			if err != nil {
				continue
			}
			seen[h] = true
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	heights := make([]uint64, 0, len(seen))
	for h := range seen {
		heights = append(heights, h)
	}
	sort.Slice(heights, func(i, j int) bool { return heights[i] < heights[j] })
	return heights, nil
}
