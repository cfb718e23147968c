package jobs

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"gifmill/internal/pkg/errors"
)

const (
	taskKeyPrefix  = "gifmill:task:"
	chordKeyPrefix = "gifmill:chord:"
)

func taskKey(id string) string { return taskKeyPrefix + id }

// Store keeps task records as Redis hashes. Every write refreshes the TTL,
// so a record expires RESULT_TTL after its last change.
type Store struct {
	rdb redis.Cmdable
	ttl time.Duration
}

func NewStore(rdb redis.Cmdable, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Store{rdb: rdb, ttl: ttl}
}

// Register marks ids PENDING before anything is published, so a client
// polling right after submission never sees "unknown".
func (s *Store) Register(ctx context.Context, kind map[string]Kind, ids ...string) error {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		for _, id := range ids {
			p.HSet(ctx, taskKey(id), "state", string(StatePending), "kind", string(kind[id]), "updated_at", now)
			p.Expire(ctx, taskKey(id), s.ttl)
		}
		return nil
	})
	return err
}

func (s *Store) write(ctx context.Context, id string, fields ...any) error {
	fields = append(fields, "updated_at", time.Now().UTC().Format(time.RFC3339Nano))
	_, err := s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, taskKey(id), fields...)
		p.Expire(ctx, taskKey(id), s.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrapf(err, "jobs.Store", "write task %s", id)
	}
	return nil
}

// Started marks a task picked up by a worker.
func (s *Store) Started(ctx context.Context, id string) error {
	return s.write(ctx, id, "state", string(StateStarted))
}

// Progress stores an intermediate payload.
func (s *Store) Progress(ctx context.Context, id string, progress map[string]any) error {
	raw, err := json.Marshal(progress)
	if err != nil {
		return err
	}
	return s.write(ctx, id, "state", string(StateProgress), "progress", string(raw))
}

func (s *Store) Succeed(ctx context.Context, id string, res Result) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	return s.write(ctx, id, "state", string(StateSuccess), "result", string(raw))
}

func (s *Store) Fail(ctx context.Context, id string, f Failure) error {
	raw, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return s.write(ctx, id, "state", string(StateFailure), "failure", string(raw))
}

// Get returns the record for id, or nil when it does not exist (never
// submitted or expired).
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	vals, err := s.rdb.HGetAll(ctx, taskKey(id)).Result()
	if err != nil {
		if stderrors.Is(err, redis.Nil) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "jobs.Store", "read task %s", id)
	}
	if len(vals) == 0 {
		return nil, nil
	}

	rec := &Record{ID: id, Kind: Kind(vals["kind"]), State: State(vals["state"])}
	if t, err := time.Parse(time.RFC3339Nano, vals["updated_at"]); err == nil {
		rec.UpdatedAt = t
	}
	if raw := vals["result"]; raw != "" {
		var r Result
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			return nil, errors.Wrapf(err, "jobs.Store", "decode result of %s", id)
		}
		rec.Result = &r
	}
	if raw := vals["failure"]; raw != "" {
		var f Failure
		if err := json.Unmarshal([]byte(raw), &f); err != nil {
			return nil, errors.Wrapf(err, "jobs.Store", "decode failure of %s", id)
		}
		rec.Failure = &f
	}
	if raw := vals["progress"]; raw != "" {
		_ = json.Unmarshal([]byte(raw), &rec.Progress)
	}
	return rec, nil
}
