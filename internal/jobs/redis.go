package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/xela07ax/pinch-bridge/internal/infra"
)

// RedisQueue — прод-реализация Queue поверх Redis ZSET:
// member = "hook|args", score = unix-время запуска.
// Задача переживает рестарты процесса (durable by store).
type RedisQueue struct {
	rdb *redis.Client
}

func NewRedisQueue(rdb *redis.Client) *RedisQueue {
	return &RedisQueue{rdb: rdb}
}

func (q *RedisQueue) Schedule(ctx context.Context, hook string, runAt time.Time, args interface{}) error {
	m, err := member(hook, args)
	if err != nil {
		return err
	}
	// NX: повторная постановка не сдвигает время уже висящей задачи
	err = q.rdb.ZAddNX(ctx, infra.RedisKeyJobQueue, redis.Z{
		Score:  float64(runAt.Unix()),
		Member: m,
	}).Err()
	if err != nil {
		return fmt.Errorf("jobs: failed to schedule %s: %w", hook, err)
	}
	return nil
}

func (q *RedisQueue) HasPending(ctx context.Context, hook string, args interface{}) (bool, error) {
	m, err := member(hook, args)
	if err != nil {
		return false, err
	}
	_, err = q.rdb.ZScore(ctx, infra.RedisKeyJobQueue, m).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("jobs: failed to check pending: %w", err)
	}
	return true, nil
}

func (q *RedisQueue) UnscheduleAll(ctx context.Context, hook string) error {
	members, err := q.rdb.ZRangeByScore(ctx, infra.RedisKeyJobQueue, &redis.ZRangeBy{
		Min: "-inf", Max: "+inf",
	}).Result()
	if err != nil {
		return fmt.Errorf("jobs: failed to list queue: %w", err)
	}
	for _, m := range members {
		if h, _, ok := splitMember(m); ok && h == hook {
			if err := q.rdb.ZRem(ctx, infra.RedisKeyJobQueue, m).Err(); err != nil {
				return fmt.Errorf("jobs: failed to unschedule: %w", err)
			}
		}
	}
	return nil
}

// PendingCount — сколько задач хука висит в очереди (дашборд консоли).
func (q *RedisQueue) PendingCount(ctx context.Context, hook string) (int, error) {
	members, err := q.rdb.ZRangeByScore(ctx, infra.RedisKeyJobQueue, &redis.ZRangeBy{
		Min: "-inf", Max: "+inf",
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("jobs: failed to list queue: %w", err)
	}
	count := 0
	for _, m := range members {
		if h, _, ok := splitMember(m); ok && h == hook {
			count++
		}
	}
	return count, nil
}

// claimDue забирает задачи, чье время пришло. ZREM — это и есть захват:
// из двух конкурирующих воркеров задачу исполнит только тот, кто удалил.
func (q *RedisQueue) claimDue(ctx context.Context, now time.Time, limit int) ([]string, error) {
	members, err := q.rdb.ZRangeByScore(ctx, infra.RedisKeyJobQueue, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.Unix(), 10),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, err
	}

	claimed := make([]string, 0, len(members))
	for _, m := range members {
		removed, err := q.rdb.ZRem(ctx, infra.RedisKeyJobQueue, m).Result()
		if err != nil {
			return claimed, err
		}
		if removed > 0 {
			claimed = append(claimed, m)
		}
	}
	return claimed, nil
}
