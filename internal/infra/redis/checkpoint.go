package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/impactwatcher/internal/core/domain"
)

const defaultKeyPrefix = "impactwatcher"

// setIfGreater writes ARGV[1] to KEYS[1] unless the stored value is already
// greater or equal. Returns 1 when written.
var setIfGreater = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur and tonumber(cur) >= tonumber(ARGV[1]) then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
return 1
`)

// CheckpointStore keeps the checkpoint of one chain under two keys:
// <prefix>:<chain>:last_processed_block and <prefix>:<chain>:recovery_marker.
type CheckpointStore struct {
	rdb       *redis.Client
	blockKey  string
	markerKey string
}

func NewCheckpointStore(client *Client, prefix string, chainID domain.ChainID) *CheckpointStore {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &CheckpointStore{
		rdb:       client.rdb,
		blockKey:  fmt.Sprintf("%s:%s:last_processed_block", prefix, chainID),
		markerKey: fmt.Sprintf("%s:%s:recovery_marker", prefix, chainID),
	}
}

func (s *CheckpointStore) GetLastProcessedBlock(ctx context.Context) (uint64, bool, error) {
	val, err := s.rdb.Get(ctx, s.blockKey).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("get %s: %w", s.blockKey, err)
	}
	n, err := strconv.ParseUint(val, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse %s=%q: %w", s.blockKey, val, err)
	}
	return n, true, nil
}

func (s *CheckpointStore) SetLastProcessedBlock(ctx context.Context, n uint64) error {
	if err := setIfGreater.Run(ctx, s.rdb, []string{s.blockKey}, strconv.FormatUint(n, 10)).Err(); err != nil {
		return fmt.Errorf("set %s: %w", s.blockKey, err)
	}
	return nil
}

func (s *CheckpointStore) ResetLastProcessedBlock(ctx context.Context, n uint64) error {
	if err := s.rdb.Set(ctx, s.blockKey, strconv.FormatUint(n, 10), 0).Err(); err != nil {
		return fmt.Errorf("reset %s: %w", s.blockKey, err)
	}
	return nil
}

func (s *CheckpointStore) IsRecoveryMarked(ctx context.Context) (bool, error) {
	n, err := s.rdb.Exists(ctx, s.markerKey).Result()
	if err != nil {
		return false, fmt.Errorf("exists %s: %w", s.markerKey, err)
	}
	return n > 0, nil
}

func (s *CheckpointStore) SetRecoveryMarker(ctx context.Context, on bool) error {
	var err error
	if on {
		err = s.rdb.Set(ctx, s.markerKey, "1", 0).Err()
	} else {
		err = s.rdb.Del(ctx, s.markerKey).Err()
	}
	if err != nil {
		return fmt.Errorf("set %s=%v: %w", s.markerKey, on, err)
	}
	return nil
}
