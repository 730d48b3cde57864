package inmemory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"crosspost/domain/model"
)

const pollInterval = 10 * time.Millisecond

type message struct {
	id        string
	item      model.WorkItem
	receives  int
	visibleAt time.Time
}

// Queue mimics a managed queue: a received message is hidden for the
// visibility timeout, reappears unless acked, and moves to the dead-letter
// list once it has been received maxReceive times without an ack.
type Queue struct {
	mu         sync.Mutex
	seq        int
	pending    []*message
	inflight   map[string]*message
	dead       []*message
	visibility time.Duration
	maxReceive int
	now        func() time.Time
}

func NewQueue(visibility time.Duration, maxReceive int) *Queue {
	if maxReceive <= 0 {
		maxReceive = 10
	}
	return &Queue{
		inflight:   make(map[string]*message),
		visibility: visibility,
		maxReceive: maxReceive,
		now:        time.Now,
	}
}

func (q *Queue) WithClock(now func() time.Time) *Queue {
	q.now = now
	return q
}

func (q *Queue) Enqueue(ctx context.Context, item model.WorkItem) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.seq++
	q.pending = append(q.pending, &message{id: strconv.Itoa(q.seq), item: item})
	return nil
}

func (q *Queue) Dequeue(ctx context.Context, maxWait time.Duration) (*model.Delivery, error) {
	deadline := time.Now().Add(maxWait)
	for {
		if d := q.tryReceive(); d != nil {
			return d, nil
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

func (q *Queue) tryReceive() *model.Delivery {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.reclaimLocked()
	if len(q.pending) == 0 {
		return nil
	}
	m := q.pending[0]
	q.pending = q.pending[1:]
	m.receives++
	m.visibleAt = q.now().Add(q.visibility)
	q.inflight[m.id] = m
	return &model.Delivery{ID: m.id, Item: m.item, DeliveryCount: m.receives, Handle: m.receives}
}

// reclaimLocked returns expired in-flight messages to the queue or dead-letters them.
func (q *Queue) reclaimLocked() {
	now := q.now()
	for id, m := range q.inflight {
		if now.Before(m.visibleAt) {
			continue
		}
		delete(q.inflight, id)
		if m.receives >= q.maxReceive {
			q.dead = append(q.dead, m)
			continue
		}
		q.pending = append(q.pending, m)
	}
}

func (q *Queue) Ack(ctx context.Context, d *model.Delivery) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	m, ok := q.inflight[d.ID]
	if !ok || m.receives != d.Handle {
		return fmt.Errorf("ack %s: lock lost", d.ID)
	}
	delete(q.inflight, d.ID)
	return nil
}

// Release is a no-op: the message reappears when its visibility timeout lapses.
func (q *Queue) Release(ctx context.Context, d *model.Delivery) error { return nil }

func (q *Queue) DrainDeadLetters(ctx context.Context, max int, fn func(*model.DeadLetter) error) (int, error) {
	q.mu.Lock()
	q.reclaimLocked()
	batch := q.dead
	if max > 0 && len(batch) > max {
		batch = batch[:max]
	}
	batch = append([]*message(nil), batch...)
	q.mu.Unlock()

	drained := 0
	for _, m := range batch {
		body, _ := m.item.Encode()
		err := fn(&model.DeadLetter{
			MessageID:     m.id,
			Backend:       "memory",
			RequestID:     m.item.RequestID,
			Destination:   string(m.item.Destination),
			Body:          string(body),
			DeliveryCount: m.receives,
			Reason:        "max receive count exceeded",
		})
		if err != nil {
			return drained, err
		}
		q.mu.Lock()
		for i, dm := range q.dead {
			if dm == m {
				q.dead = append(q.dead[:i], q.dead[i+1:]...)
				break
			}
		}
		q.mu.Unlock()
		drained++
	}
	return drained, nil
}

func (q *Queue) Close(ctx context.Context) error { return nil }

// Stats reports pending, in-flight and dead-lettered message counts.
func (q *Queue) Stats() (pending, inflight, dead int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending), len(q.inflight), len(q.dead)
}
