package jobs

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
)

// Broker is a Redis list used as a FIFO queue: LPUSH to publish, BRPOP to
// consume.
type Broker struct {
	rdb   redis.Cmdable
	queue string
	store *Store
	log   *logger.Logger
}

func NewBroker(rdb redis.Cmdable, queue string, store *Store, log *logger.Logger) *Broker {
	if queue == "" {
		queue = "gifmill:queue"
	}
	return &Broker{rdb: rdb, queue: queue, store: store, log: log.WithComponent("broker")}
}

// Publish registers msg and all of its linked stages as PENDING and pushes
// msg. Any Redis failure is reported as CodeQueueUnavailable.
func (b *Broker) Publish(ctx context.Context, msg Message) error {
	kinds := map[string]Kind{}
	collectKinds(msg, kinds)
	if err := b.store.Register(ctx, kinds, msg.ids()...); err != nil {
		b.log.FromContext(ctx).Error("task registration failed", "task_id", msg.ID, "error", err.Error())
		return errors.QueueUnavailable(err)
	}
	return b.push(ctx, msg)
}

// push enqueues msg without touching its record.
func (b *Broker) push(ctx context.Context, msg Message) error {
	msg.EnqueuedAt = time.Now().UTC()
	raw, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "jobs.Broker", "encode message")
	}
	if err := b.rdb.LPush(ctx, b.queue, raw).Err(); err != nil {
		b.log.FromContext(ctx).Error("publish failed", "task_id", msg.ID, "kind", string(msg.Kind), "error", err.Error())
		return errors.QueueUnavailable(err)
	}
	b.log.FromContext(ctx).Debug("task published", "task_id", msg.ID, "kind", string(msg.Kind))
	return nil
}

// Pop blocks up to timeout for the next message. It returns nil, nil when
// the queue stayed empty.
func (b *Broker) Pop(ctx context.Context, timeout time.Duration) (*Message, error) {
	res, err := b.rdb.BRPop(ctx, timeout, b.queue).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, err
	}
	if len(res) < 2 {
		return nil, nil
	}
	var msg Message
	if err := json.Unmarshal([]byte(res[1]), &msg); err != nil {
		return nil, errors.Wrap(err, "jobs.Broker", "decode message")
	}
	return &msg, nil
}

// Depth is the number of queued messages.
func (b *Broker) Depth(ctx context.Context) (int64, error) {
	return b.rdb.LLen(ctx, b.queue).Result()
}

func (b *Broker) Ping(ctx context.Context) error {
	return b.rdb.Ping(ctx).Err()
}

func collectKinds(m Message, into map[string]Kind) {
	into[m.ID] = m.Kind
	for _, l := range m.Link {
		collectKinds(l, into)
	}
}
