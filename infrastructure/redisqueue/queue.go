package redisqueue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"crosspost/domain/model"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	backendName  = "redis"
	pollInterval = 100 * time.Millisecond
)

// KEYS: pending, inflight, receives, msgs. ARGV: visible-at (ms).
var receiveScript = redis.NewScript(`
local id = redis.call('LPOP', KEYS[1])
if not id then return false end
local n = redis.call('HINCRBY', KEYS[3], id, 1)
redis.call('ZADD', KEYS[2], ARGV[1], id)
local body = redis.call('HGET', KEYS[4], id)
return {id, n, body}
`)

// KEYS: inflight, pending, dead, receives. ARGV: now (ms), max receive count.
var reclaimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  local n = tonumber(redis.call('HGET', KEYS[4], id) or '0')
  if n >= tonumber(ARGV[2]) then
    redis.call('RPUSH', KEYS[3], id)
  else
    redis.call('RPUSH', KEYS[2], id)
  end
end
return #ids
`)

// KEYS: inflight, receives, msgs. ARGV: id, receive count held by the caller.
var ackScript = redis.NewScript(`
if not redis.call('ZSCORE', KEYS[1], ARGV[1]) then return 0 end
if redis.call('HGET', KEYS[2], ARGV[1]) ~= ARGV[2] then return 0 end
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[2], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)

// Queue keeps message bodies in a hash and ids in a pending list. Received
// ids sit in a sorted set scored by the time they become visible again.
type Queue struct {
	rdb        redis.UniversalClient
	visibility time.Duration
	maxReceive int
	now        func() time.Time

	pendingKey  string
	inflightKey string
	receivesKey string
	msgsKey     string
	deadKey     string
}

func NewQueue(rdb redis.UniversalClient, name string, visibility time.Duration, maxReceive int) *Queue {
	if maxReceive <= 0 {
		maxReceive = 10
	}
	prefix := "crosspost:queue:" + name + ":"
	return &Queue{
		rdb:         rdb,
		visibility:  visibility,
		maxReceive:  maxReceive,
		now:         time.Now,
		pendingKey:  prefix + "pending",
		inflightKey: prefix + "inflight",
		receivesKey: prefix + "receives",
		msgsKey:     prefix + "msgs",
		deadKey:     prefix + "dead",
	}
}

func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func (q *Queue) Enqueue(ctx context.Context, item model.WorkItem) error {
	body, err := item.Encode()
	if err != nil {
		return err
	}
	id := uuid.NewString()
	_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, q.msgsKey, id, body)
		p.RPush(ctx, q.pendingKey, id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", item.Destination, err)
	}
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, maxWait time.Duration) (*model.Delivery, error) {
	deadline := time.Now().Add(maxWait)
	for {
		d, err := q.tryReceive(ctx)
		if err != nil || d != nil {
			return d, err
		}
		if !time.Now().Before(deadline) {
			return nil, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (q *Queue) tryReceive(ctx context.Context) (*model.Delivery, error) {
	if err := q.reclaim(ctx); err != nil {
		return nil, err
	}
	visibleAt := q.now().Add(q.visibility).UnixMilli()
	res, err := receiveScript.Run(ctx, q.rdb,
		[]string{q.pendingKey, q.inflightKey, q.receivesKey, q.msgsKey}, visibleAt).Slice()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("receive: %w", err)
	}
	if len(res) < 3 {
		return nil, fmt.Errorf("receive: unexpected reply %v", res)
	}
	id, _ := res[0].(string)
	receives, _ := res[1].(int64)
	body, _ := res[2].(string)
	item, err := model.DecodeWorkItem([]byte(body))
	if err != nil {
		// leave it in flight; reclaim dead-letters it after maxReceive
		return nil, err
	}
	return &model.Delivery{ID: id, Item: item, DeliveryCount: int(receives), Handle: receives}, nil
}

func (q *Queue) reclaim(ctx context.Context) error {
	err := reclaimScript.Run(ctx, q.rdb,
		[]string{q.inflightKey, q.pendingKey, q.deadKey, q.receivesKey},
		q.now().UnixMilli(), q.maxReceive).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("reclaim: %w", err)
	}
	return nil
}

func (q *Queue) Ack(ctx context.Context, d *model.Delivery) error {
	receives, ok := d.Handle.(int64)
	if !ok {
		return fmt.Errorf("ack %s: foreign delivery handle", d.ID)
	}
	n, err := ackScript.Run(ctx, q.rdb, []string{q.inflightKey, q.receivesKey, q.msgsKey},
		d.ID, strconv.FormatInt(receives, 10)).Int()
	if err != nil {
		return fmt.Errorf("ack %s: %w", d.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("ack %s: lock lost", d.ID)
	}
	return nil
}

// Release is a no-op: the id stays in flight until its visibility timeout lapses.
func (q *Queue) Release(ctx context.Context, d *model.Delivery) error { return nil }

func (q *Queue) DrainDeadLetters(ctx context.Context, max int, fn func(*model.DeadLetter) error) (int, error) {
	if err := q.reclaim(ctx); err != nil {
		return 0, err
	}
	if max <= 0 {
		max = 100
	}
	ids, err := q.rdb.LRange(ctx, q.deadKey, 0, int64(max-1)).Result()
	if err != nil {
		return 0, err
	}
	drained := 0
	for _, id := range ids {
		body, err := q.rdb.HGet(ctx, q.msgsKey, id).Result()
		if err != nil && !errors.Is(err, redis.Nil) {
			return drained, err
		}
		receives, _ := q.rdb.HGet(ctx, q.receivesKey, id).Int()
		dl := &model.DeadLetter{
			MessageID:     id,
			Backend:       backendName,
			Body:          body,
			DeliveryCount: receives,
			Reason:        "max receive count exceeded",
		}
		if item, err := model.DecodeWorkItem([]byte(body)); err == nil {
			dl.RequestID = item.RequestID
			dl.Destination = string(item.Destination)
		}
		if err := fn(dl); err != nil {
			return drained, err
		}
		_, err = q.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
			p.LRem(ctx, q.deadKey, 1, id)
			p.HDel(ctx, q.msgsKey, id)
			p.HDel(ctx, q.receivesKey, id)
			return nil
		})
		if err != nil {
			return drained, err
		}
		drained++
	}
	return drained, nil
}

func (q *Queue) Close(ctx context.Context) error { return nil }

// Stats reports pending, in-flight and dead-lettered message counts.
func (q *Queue) Stats(ctx context.Context) (pending, inflight, dead int64, err error) {
	cmds, err := q.rdb.Pipelined(ctx, func(p redis.Pipeliner) error {
		p.LLen(ctx, q.pendingKey)
		p.ZCard(ctx, q.inflightKey)
		p.LLen(ctx, q.deadKey)
		return nil
	})
	if err != nil {
		return 0, 0, 0, err
	}
	return cmds[0].(*redis.IntCmd).Val(), cmds[1].(*redis.IntCmd).Val(), cmds[2].(*redis.IntCmd).Val(), nil
}
