// Package redisstore persists game sessions as JSON documents in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/park285/matey-server/internal/game"
	"github.com/redis/go-redis/v9"
)

const DefaultTTL = 24 * time.Hour

var ErrNilSession = errors.New("nil session")

type Store struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// New wraps rdb. ttl <= 0 means DefaultTTL.
func New(rdb redis.UniversalClient, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Open connects to a redis:// or rediss:// URL and pings it.
func Open(ctx context.Context, rawURL string) (*redis.Client, error) {
	if strings.TrimSpace(rawURL) == "" {
		return nil, fmt.Errorf("REDIS_URL required")
	}
	opts, err := ParseURL(rawURL)
	if err != nil {
		return nil, err
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return rdb, nil
}

// ParseURL accepts redis://[:password@]host:port[/db].
func ParseURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return nil, err
	}
	if u.Scheme != "redis" && u.Scheme != "rediss" {
		return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
	db := 0
	if p := strings.TrimPrefix(u.Path, "/"); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid redis db %q", p)
		}
		db = n
	}
	pass, _ := u.User.Password()
	return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}

func gameKey(id string) string        { return "matey:game:" + strings.TrimSpace(id) }
func idxUserKey(userID string) string { return "matey:index:user:" + strings.TrimSpace(userID) }

// Save writes the document and indexes both players in one transaction.
func (s *Store) Save(ctx context.Context, g *game.Session) (*game.Session, error) {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return nil, ErrNilSession
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	pipe := s.rdb.TxPipeline()
	s.write(ctx, pipe, g, raw)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

// SaveIf is Save guarded by WATCH on the game key. The stored game must still be in
// progress with prevMoves moves, or game.ErrConflict is returned and nothing is written.
func (s *Store) SaveIf(ctx context.Context, g *game.Session, prevMoves int) (*game.Session, error) {
	if g == nil || strings.TrimSpace(g.ID) == "" {
		return nil, ErrNilSession
	}
	raw, err := json.Marshal(g)
	if err != nil {
		return nil, err
	}
	key := gameKey(g.ID)
	err = s.rdb.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, key).Bytes()
		if err == redis.Nil {
			return game.ErrGameNotFound
		}
		if err != nil {
			return err
		}
		var stored game.Session
		if err := json.Unmarshal(cur, &stored); err != nil {
			return fmt.Errorf("decode game %s: %w", g.ID, err)
		}
		if stored.Status != game.StatusInProgress || len(stored.MovesUCI) != prevMoves {
			return game.ErrConflict
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.write(ctx, pipe, g, raw)
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		return nil, game.ErrConflict
	}
	if err != nil {
		return nil, err
	}
	return g.Clone(), nil
}

func (s *Store) write(ctx context.Context, pipe redis.Pipeliner, g *game.Session, raw []byte) {
	pipe.Set(ctx, gameKey(g.ID), raw, s.ttl)
	for _, uid := range []string{g.WhitePlayerID, g.BlackPlayerID} {
		if strings.TrimSpace(uid) == "" {
			continue
		}
		pipe.SAdd(ctx, idxUserKey(uid), g.ID)
		pipe.Expire(ctx, idxUserKey(uid), s.ttl)
	}
}

func (s *Store) FindActive(ctx context.Context, id string) (*game.Session, error) {
	g, err := s.Find(ctx, id)
	if err != nil || g == nil {
		return nil, err
	}
	if g.Status != game.StatusInProgress {
		return nil, nil
	}
	return g, nil
}

// Find loads a game in any status; (nil, nil) when expired or absent.
func (s *Store) Find(ctx context.Context, id string) (*game.Session, error) {
	raw, err := s.rdb.Get(ctx, gameKey(id)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var g game.Session
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("decode game %s: %w", id, err)
	}
	return &g, nil
}

// ActiveByUser returns the user's most recently updated in-progress game.
func (s *Store) ActiveByUser(ctx context.Context, userID string) (*game.Session, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, nil
	}
	ids, err := s.rdb.SMembers(ctx, idxUserKey(userID)).Result()
	if err != nil {
		return nil, err
	}
	var list []*game.Session
	for _, id := range ids {
		g, gerr := s.FindActive(ctx, id)
		if gerr == nil && g != nil {
			list = append(list, g)
		}
	}
	if len(list) == 0 {
		return nil, nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list[0], nil
}
