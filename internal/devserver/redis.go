package devserver

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/jawaracloud/akim-queue/pkg/models"
)

const (
	keyEntries   = "akim_queue:entries"    // hash: id -> entry JSON
	keyBySession = "akim_queue:by_session" // hash: session id -> id
	keySeq       = "akim_queue:seq"
	keyNextID    = "akim_queue:next_id"
)

// RedisStore keeps queue entries in redis so several dev-server instances
// can share one queue. Mutations are read-modify-write without
// transactions; last write wins, which is fine for a development backend.
type RedisStore struct {
	client *redis.Client
}

// NewRedisStore connects and pings.
func NewRedisStore(addr string) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(context.Background()).Err(); err != nil {
		return nil, err
	}
	return &RedisStore{client: client}, nil
}

// joinScript claims both counters and writes the entry only when the
// session is not already indexed.
var joinScript = redis.NewScript(`
	local existing = redis.call('HGET', KEYS[2], ARGV[1])
	if existing then return {0, existing} end
	local id = redis.call('INCR', KEYS[3])
	local seq = redis.call('INCR', KEYS[4])
	redis.call('HSET', KEYS[2], ARGV[1], id)
	return {1, id, seq}
`)

func (s *RedisStore) Join(ctx context.Context, sessionID string) (models.QueueItem, error) {
	res, err := joinScript.Run(ctx, s.client,
		[]string{keyEntries, keyBySession, keyNextID, keySeq}, sessionID).Int64Slice()
	if err != nil {
		return models.QueueItem{}, err
	}

	if res[0] == 0 {
		item, err := s.ByID(ctx, res[1])
		if err != nil {
			return models.QueueItem{}, err
		}
		return item, ErrAlreadyJoined
	}

	item := models.QueueItem{
		ID:             res[1],
		SequenceNumber: res[2],
		SessionID:      sessionID,
		Status:         models.StatusWaiting,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.write(ctx, item); err != nil {
		return models.QueueItem{}, err
	}
	return item, nil
}

func (s *RedisStore) write(ctx context.Context, item models.QueueItem) error {
	data, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return s.client.HSet(ctx, keyEntries, idField(item.ID), data).Err()
}

func idField(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *RedisStore) ByID(ctx context.Context, id int64) (models.QueueItem, error) {
	data, err := s.client.HGet(ctx, keyEntries, idField(id)).Result()
	if err == redis.Nil {
		return models.QueueItem{}, ErrNotFound
	}
	if err != nil {
		return models.QueueItem{}, err
	}
	var item models.QueueItem
	if err := json.Unmarshal([]byte(data), &item); err != nil {
		return models.QueueItem{}, err
	}
	return item, nil
}

func (s *RedisStore) BySession(ctx context.Context, sessionID string) (models.QueueItem, error) {
	idStr, err := s.client.HGet(ctx, keyBySession, sessionID).Result()
	if err == redis.Nil {
		return models.QueueItem{}, ErrNotFound
	}
	if err != nil {
		return models.QueueItem{}, err
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		return models.QueueItem{}, err
	}
	return s.ByID(ctx, id)
}

// List loads every entry and sorts in Go. The whole queue for one akim
// meeting is small; keeping this simple beats a Lua pipeline.
func (s *RedisStore) List(ctx context.Context) ([]models.QueueItem, error) {
	raw, err := s.client.HGetAll(ctx, keyEntries).Result()
	if err != nil {
		return nil, err
	}
	out := make([]models.QueueItem, 0, len(raw))
	for _, data := range raw {
		var item models.QueueItem
		if err := json.Unmarshal([]byte(data), &item); err != nil {
			continue
		}
		out = append(out, item)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SequenceNumber < out[j].SequenceNumber })
	return out, nil
}

func (s *RedisStore) Update(ctx context.Context, id int64, mutate func(*models.QueueItem)) (models.QueueItem, error) {
	item, err := s.ByID(ctx, id)
	if err != nil {
		return models.QueueItem{}, err
	}
	mutate(&item)
	if err := s.write(ctx, item); err != nil {
		return models.QueueItem{}, err
	}
	return item, nil
}

func (s *RedisStore) WaitingAhead(ctx context.Context, sequence int64) (int64, error) {
	items, err := s.List(ctx)
	if err != nil {
		return 0, err
	}
	var n int64
	for _, item := range items {
		if item.Status == models.StatusWaiting && item.SequenceNumber < sequence {
			n++
		}
	}
	return n, nil
}
