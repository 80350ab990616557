package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/0xsysr3ll/electledger/config"
	"github.com/0xsysr3ll/electledger/internal/model"
)

const (
	// Redis key layout.
	BallotKey    = "election:ballot"
	VotedKeyFmt  = "election:voted:%d"
	votedFlagVal = "1"
)

// RedisCache is the read-side cache. Two things are cached and nothing else:
// the ballot listing, which is immutable once voting opens, and per-voter
// voted flags, which are written only after a committed vote. Tallies are
// never cached; results must always be derived from vote records.
type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisCache(cfg *config.RedisConfig) (*RedisCache, error) {
	ctx := context.Background()

	client := redis.NewClient(&redis.Options{
		Addr:         cfg.DataAddress,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MaxRetries:   cfg.MaxRetries,
		DialTimeout:  cfg.Timeout,
		ReadTimeout:  cfg.Timeout,
		WriteTimeout: cfg.Timeout,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis data node: %w", err)
	}

	return &RedisCache{client: client, ctx: ctx}, nil
}

// GetBallot returns the cached ballot listing. The second return value is
// false on a cache miss.
func (r *RedisCache) GetBallot() ([]*model.Candidate, bool, error) {
	data, err := r.client.Get(r.ctx, BallotKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("get ballot cache: %w", err)
	}

	var candidates []*model.Candidate
	if err := json.Unmarshal([]byte(data), &candidates); err != nil {
		return nil, false, fmt.Errorf("decode ballot cache: %w", err)
	}

	return candidates, true, nil
}

func (r *RedisCache) SetBallot(candidates []*model.Candidate) error {
	data, err := json.Marshal(candidates)
	if err != nil {
		return fmt.Errorf("encode ballot: %w", err)
	}

	if err := r.client.Set(r.ctx, BallotKey, data, 0).Err(); err != nil {
		return fmt.Errorf("set ballot cache: %w", err)
	}
	return nil
}

// InvalidateBallot drops the cached listing. Called after reconciliation in
// case the candidate set grew.
func (r *RedisCache) InvalidateBallot() error {
	if err := r.client.Del(r.ctx, BallotKey).Err(); err != nil {
		return fmt.Errorf("invalidate ballot cache: %w", err)
	}
	return nil
}

// GetVoted reports whether the voted flag is set for the voter. A missing
// flag means "unknown", not "has not voted"; callers fall through to the
// store.
func (r *RedisCache) GetVoted(userID int64) (bool, error) {
	_, err := r.client.Get(r.ctx, fmt.Sprintf(VotedKeyFmt, userID)).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("get voted flag: %w", err)
	}
	return true, nil
}

// MarkVoted sets the voted flag. Only called after the store has committed
// the vote, so the flag can never be ahead of durable state.
func (r *RedisCache) MarkVoted(userID int64) error {
	key := fmt.Sprintf(VotedKeyFmt, userID)
	if err := r.client.Set(r.ctx, key, votedFlagVal, 0).Err(); err != nil {
		return fmt.Errorf("set voted flag: %w", err)
	}
	return nil
}

func (r *RedisCache) Close() error {
	return r.client.Close()
}
