package matchqueue

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/matey-server/internal/obslog"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	keyQueue = "matey:queue"
	keySeq   = "matey:queue:seq"

	maxTxRetries = 8
)

// Redis keeps the pool in a sorted set scored by arrival order so several server
// processes can share it. Pairing runs in a WATCH transaction on the set.
type Redis struct {
	rdb redis.UniversalClient
}

func NewRedis(rdb redis.UniversalClient) *Redis { return &Redis{rdb: rdb} }

func (q *Redis) FindOpponent(ctx context.Context, userID string) (string, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", false, ErrInvalidUser
	}
	// the score is taken before the transaction; a retry reuses it
	seq, err := q.rdb.Incr(ctx, keySeq).Result()
	if err != nil {
		return "", false, err
	}

	var opponent string
	txf := func(tx *redis.Tx) error {
		opponent = ""
		// oldest two are enough: at most one of them is the caller
		head, err := tx.ZRange(ctx, keyQueue, 0, 1).Result()
		if err != nil && err != redis.Nil {
			return err
		}
		for _, id := range head {
			if id != userID {
				opponent = id
				break
			}
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.ZRem(ctx, keyQueue, userID)
			if opponent != "" {
				pipe.ZRem(ctx, keyQueue, opponent)
				return nil
			}
			pipe.ZAdd(ctx, keyQueue, redis.Z{Score: float64(seq), Member: userID})
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err = q.rdb.Watch(ctx, txf, keyQueue)
		if err == nil {
			if opponent != "" {
				obslog.L().Info("queue_match", zap.String("user_id", userID), zap.String("opponent_id", opponent))
			}
			return opponent, opponent != "", nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return "", false, err
		}
	}
	obslog.L().Warn("queue_contention", zap.String("user_id", userID), zap.Int("retries", maxTxRetries))
	return "", false, ErrContention
}

func (q *Redis) Cancel(ctx context.Context, userID string) error {
	return q.rdb.ZRem(ctx, keyQueue, strings.TrimSpace(userID)).Err()
}

func (q *Redis) Waiting(ctx context.Context) ([]string, error) {
	ids, err := q.rdb.ZRange(ctx, keyQueue, 0, -1).Result()
	if err == redis.Nil {
		return nil, nil
	}
	return ids, err
}
