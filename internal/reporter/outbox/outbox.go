// Package outbox retries failed reports from a redis list, a bounded number
// of times.
package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/clawdbot/callnode/internal/api"
	"github.com/clawdbot/callnode/internal/reporter"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrEmpty is returned by Store.Pop when nothing is waiting.
var ErrEmpty = errors.New("outbox empty")

// Store is a FIFO: Push adds at the newest end, Pop takes the oldest and
// Requeue puts an entry back in front of everything else.
type Store interface {
	Push(ctx context.Context, data []byte) error
	Requeue(ctx context.Context, data []byte) error
	Pop(ctx context.Context) ([]byte, error)
	Len(ctx context.Context) (int64, error)
}

type RedisStore struct {
	client redis.Cmdable
	key    string
}

func NewRedisStore(client redis.Cmdable, key string) *RedisStore {
	if key == "" {
		key = "callnode:outbox"
	}
	return &RedisStore{client: client, key: key}
}

func (s *RedisStore) Push(ctx context.Context, data []byte) error {
	return s.client.LPush(ctx, s.key, data).Err()
}

func (s *RedisStore) Requeue(ctx context.Context, data []byte) error {
	return s.client.RPush(ctx, s.key, data).Err()
}

func (s *RedisStore) Pop(ctx context.Context) ([]byte, error) {
	data, err := s.client.RPop(ctx, s.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	return data, err
}

func (s *RedisStore) Len(ctx context.Context) (int64, error) {
	return s.client.LLen(ctx, s.key).Result()
}

type Config struct {
	MaxAttempts int
	Interval    time.Duration
	// Batch caps how many entries one drain replays.
	Batch int
}

type Outbox struct {
	store  Store
	sender reporter.Sender
	worker reporter.Worker
	logger *zap.Logger
	cfg    Config
}

func New(store Store, sender reporter.Sender, worker reporter.Worker, logger *zap.Logger, cfg Config) *Outbox {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Second
	}
	if cfg.Batch <= 0 {
		cfg.Batch = 32
	}
	return &Outbox{store: store, sender: sender, worker: worker, logger: logger, cfg: cfg}
}

// Push implements reporter.Spool. Entries that used up their attempts are
// dropped here.
func (o *Outbox) Push(ctx context.Context, entry *reporter.Entry) error {
	data, ok, err := o.encode(entry)
	if !ok || err != nil {
		return err
	}
	return o.store.Push(ctx, data)
}

func (o *Outbox) encode(entry *reporter.Entry) ([]byte, bool, error) {
	if entry.Attempts >= o.cfg.MaxAttempts {
		o.logger.Warn("report abandoned", zap.String("callId", entry.CallID), zap.String("id", entry.ID), zap.Int("attempts", entry.Attempts))
		return nil, false, nil
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Run schedules a drain on the worker every interval until ctx is done.
func (o *Outbox) Run(ctx context.Context) {
	ticker := time.NewTicker(o.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !o.worker.Enqueue(o.Drain) {
				o.logger.Debug("outbox drain skipped: worker busy")
			}
		}
	}
}

// Drain replays up to one batch of waiting entries, oldest first.
func (o *Outbox) Drain(ctx context.Context) error {
	for i := 0; i < o.cfg.Batch; i++ {
		data, err := o.store.Pop(ctx)
		if errors.Is(err, ErrEmpty) {
			return nil
		}
		if err != nil {
			return err
		}
		var entry reporter.Entry
		if err := json.Unmarshal(data, &entry); err != nil {
			o.logger.Warn("outbox entry discarded", zap.Error(err))
			continue
		}
		entry.Attempts++
		err = entry.Send(ctx, o.sender)
		if err == nil {
			o.logger.Info("report delivered from outbox", zap.String("callId", entry.CallID), zap.Int("attempts", entry.Attempts))
			continue
		}
		if !api.IsTemporary(err) {
			o.logger.Warn("report rejected", zap.String("callId", entry.CallID), zap.Error(err))
			continue
		}
		data, ok, err := o.encode(&entry)
		if err != nil {
			return err
		}
		if ok {
			if err := o.store.Requeue(ctx, data); err != nil {
				return err
			}
		}
		// The rest of the batch would hit the same failure.
		return nil
	}
	return nil
}
