// pkg/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"quizroom-server/internal/models"
)

const (
	roomTTL        = 24 * time.Hour
	leaderboardTTL = 24 * time.Hour
)

type RedisCache struct {
	client *redis.Client
	ctx    context.Context
}

func NewRedisCache(addr string) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})
	return &RedisCache{
		client: client,
		ctx:    context.Background(),
	}
}

// NewRedisCacheWithClient is used by tests to point the cache at miniredis.
func NewRedisCacheWithClient(client *redis.Client) *RedisCache {
	return &RedisCache{client: client, ctx: context.Background()}
}

func (c *RedisCache) SetRoom(room *models.Room) error {
	data, err := json.Marshal(room)
	if err != nil {
		return err
	}

	key := "room:" + room.Code
	return c.client.Set(c.ctx, key, data, roomTTL).Err()
}

func (c *RedisCache) GetRoom(code string) (*models.Room, error) {
	key := "room:" + code
	data, err := c.client.Get(c.ctx, key).Bytes()
	if err != nil {
		return nil, err
	}

	var room models.Room
	err = json.Unmarshal(data, &room)
	return &room, err
}

// InvalidateRoom drops the cached copy after any mutation so readers fall
// back to the database.
func (c *RedisCache) InvalidateRoom(code string) error {
	return c.client.Del(c.ctx, "room:"+code).Err()
}

func (c *RedisCache) SetLeaderboard(roomCode string, entries []models.LeaderboardEntry) error {
	key := "leaderboard:" + roomCode

	pipe := c.client.Pipeline()
	pipe.Del(c.ctx, key)
	for _, entry := range entries {
		member, err := json.Marshal(entry)
		if err != nil {
			return err
		}
		// Negate time taken so ZRevRange yields score desc, time asc.
		pipe.ZAdd(c.ctx, key, &redis.Z{
			Score:  entry.Score*1e6 - float64(entry.TimeTakenSec),
			Member: string(member),
		})
	}
	pipe.Expire(c.ctx, key, leaderboardTTL)

	_, err := pipe.Exec(c.ctx)
	return err
}

func (c *RedisCache) GetLeaderboard(roomCode string) ([]models.LeaderboardEntry, error) {
	key := "leaderboard:" + roomCode

	results, err := c.client.ZRevRange(c.ctx, key, 0, -1).Result()
	if err != nil {
		return nil, err
	}

	entries := make([]models.LeaderboardEntry, 0, len(results))
	for i, raw := range results {
		var entry models.LeaderboardEntry
		if err := json.Unmarshal([]byte(raw), &entry); err != nil {
			return nil, fmt.Errorf("decode leaderboard entry: %w", err)
		}
		entry.Rank = i + 1
		entries = append(entries, entry)
	}

	return entries, nil
}
