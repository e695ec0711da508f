package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisKey = "chatbat:journal"

// RedisJournal stores the journal as one Redis hash with a field per class.
// It lets streaming processes on several hosts share one journal while the
// message log stays wherever the writers put it.
type RedisJournal struct {
	client *redis.Client
	key    string
	now    func() time.Time
}

// NewRedisJournal connects to redisURL and verifies the connection.
func NewRedisJournal(ctx context.Context, redisURL, key string) (*RedisJournal, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	if key == "" {
		key = defaultRedisKey
	}
	return &RedisJournal{client: client, key: key, now: time.Now}, nil
}

// Publish replaces the class field. The read of the previous time and the
// write run under WATCH so concurrent publishers keep times increasing.
func (j *RedisJournal) Publish(ctx context.Context, class Class, p Payload) error {
	if err := checkClass(class); err != nil {
		return err
	}

	txf := func(tx *redis.Tx) error {
		prev, _, err := j.read(ctx, tx, class)
		if err != nil {
			return err
		}
		data, err := json.Marshal(Record{Time: nextTime(j.now(), prev.Time), Payload: p})
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, j.key, string(class), data)
			return nil
		})
		return err
	}

	for attempt := 0; attempt < 5; attempt++ {
		err := j.client.Watch(ctx, txf, j.key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return fmt.Errorf("publish %s: %w", class, err)
		}
		return nil
	}
	return fmt.Errorf("publish %s: %w", class, redis.TxFailedErr)
}

// Poll returns the record of class if it is newer than since.
func (j *RedisJournal) Poll(ctx context.Context, class Class, since int64) (Record, bool, error) {
	if err := checkClass(class); err != nil {
		return Record{}, false, err
	}
	rec, ok, err := j.read(ctx, j.client, class)
	if err != nil {
		return Record{}, false, err
	}
	rec, fired := pollRecord(rec, ok, since)
	return rec, fired, nil
}

// Close closes the Redis connection.
func (j *RedisJournal) Close() error {
	return j.client.Close()
}

type hashGetter interface {
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

// read fetches one class field. A missing or undecodable field reads as absent.
func (j *RedisJournal) read(ctx context.Context, c hashGetter, class Class) (Record, bool, error) {
	data, err := c.HGet(ctx, j.key, string(class)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}
	var rec Record
	if err := json.Unmarshal(data, &rec); err != nil {
		return Record{}, false, nil
	}
	return rec, true, nil
}
