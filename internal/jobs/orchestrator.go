package jobs

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"gifmill/internal/media"
	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
)

// UploadsDir is the directory under the upload root holding per-job
// working directories.
const UploadsDir = "user_uploads"

// NewWorkDir creates <root>/user_uploads/<uuid>.
func NewWorkDir(root string) (string, error) {
	dir := filepath.Join(root, UploadsDir, NewID())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", errors.Wrap(err, "jobs.NewWorkDir", "create working directory")
	}
	return dir, nil
}

func chordKey(id string) string { return chordKeyPrefix + id }

// Orchestrator submits single tasks, chains and chords, and moves them
// forward as stages finish.
type Orchestrator struct {
	broker *Broker
	store  *Store
	rdb    redis.Cmdable
	root   string
	ttl    time.Duration
	log    *logger.Logger
}

func NewOrchestrator(rdb redis.Cmdable, broker *Broker, store *Store, root string, log *logger.Logger) *Orchestrator {
	return &Orchestrator{
		broker: broker,
		store:  store,
		rdb:    rdb,
		root:   root,
		ttl:    store.ttl,
		log:    log.WithComponent("orchestrator"),
	}
}

// Store exposes the task records.
func (o *Orchestrator) Store() *Store { return o.store }

// Submit publishes a single task and returns its handle.
func (o *Orchestrator) Submit(ctx context.Context, t Task) (string, error) {
	msg, err := newMessage(t)
	if err != nil {
		return "", err
	}
	if err := o.broker.Publish(ctx, msg); err != nil {
		return "", err
	}
	return msg.ID, nil
}

// SubmitChain runs stages in order, feeding each stage's output to the next
// as its first input. The returned handle is the last stage's.
func (o *Orchestrator) SubmitChain(ctx context.Context, stages ...Task) (string, error) {
	if len(stages) == 0 {
		return "", errors.Internal("empty chain")
	}
	msgs := make([]Message, len(stages))
	for i, t := range stages {
		m, err := newMessage(t)
		if err != nil {
			return "", err
		}
		msgs[i] = m
	}
	head := msgs[0]
	head.Link = msgs[1:]
	if err := o.broker.Publish(ctx, head); err != nil {
		return "", err
	}
	return msgs[len(msgs)-1].ID, nil
}

// SubmitChord runs header tasks in parallel and publishes callback with
// their output paths, in header order, once all of them succeed. The
// returned handle is the callback's.
func (o *Orchestrator) SubmitChord(ctx context.Context, header []Task, callback Task) (string, error) {
	if len(header) == 0 {
		return "", errors.Internal("empty chord header")
	}
	chordID := NewID()
	cb, err := newMessage(callback)
	if err != nil {
		return "", err
	}

	kinds := map[string]Kind{cb.ID: cb.Kind}
	ids := []string{cb.ID}
	msgs := make([]Message, len(header))
	for i, t := range header {
		m, err := newMessage(t)
		if err != nil {
			return "", err
		}
		m.Chord = &ChordRef{ID: chordID, Index: i}
		msgs[i] = m
		kinds[m.ID] = m.Kind
		ids = append(ids, m.ID)
	}
	if err := o.store.Register(ctx, kinds, ids...); err != nil {
		return "", errors.QueueUnavailable(err)
	}

	cbRaw, err := json.Marshal(cb)
	if err != nil {
		return "", err
	}
	_, err = o.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, chordKey(chordID), "remaining", len(msgs), "total", len(msgs), "callback", string(cbRaw))
		p.Expire(ctx, chordKey(chordID), o.ttl)
		return nil
	})
	if err != nil {
		return "", errors.QueueUnavailable(err)
	}

	for _, m := range msgs {
		if err := o.broker.push(ctx, m); err != nil {
			return "", err
		}
	}
	o.log.FromContext(ctx).Info("chord submitted", "chord_id", chordID, "header", len(msgs), "callback_id", cb.ID)
	return cb.ID, nil
}

// Advance is called after msg stored SUCCESS with res. It publishes the next
// chain stage or, for chord headers, counts the chord down.
func (o *Orchestrator) Advance(ctx context.Context, msg Message, res Result) error {
	if len(msg.Link) > 0 {
		if res.Kind != ResultValue {
			return errors.Internalf("chain stage %s produced a %s result", msg.ID, res.Kind)
		}
		next := msg.Link[0]
		next.Link = append(next.Link, msg.Link[1:]...)
		next.Inputs = append([]string{o.abs(res.Path)}, next.Inputs...)
		return o.broker.push(ctx, next)
	}
	if msg.Chord != nil {
		return o.chordDone(ctx, *msg.Chord, res)
	}
	return nil
}

func (o *Orchestrator) chordDone(ctx context.Context, ref ChordRef, res Result) error {
	key := chordKey(ref.ID)
	_, err := o.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.HSet(ctx, key+":results", strconv.Itoa(ref.Index), o.abs(res.Path))
		p.Expire(ctx, key+":results", o.ttl)
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "jobs.chordDone", "store chord result")
	}
	remaining, err := o.rdb.HIncrBy(ctx, key, "remaining", -1).Result()
	if err != nil {
		return errors.Wrap(err, "jobs.chordDone", "count chord down")
	}
	if remaining != 0 {
		return nil
	}
	if n, err := o.rdb.Exists(ctx, key+":failed").Result(); err == nil && n > 0 {
		return nil
	}

	cb, err := o.chordCallback(ctx, ref.ID)
	if err != nil {
		return err
	}
	results, err := o.rdb.HGetAll(ctx, key+":results").Result()
	if err != nil {
		return errors.Wrap(err, "jobs.chordDone", "read chord results")
	}
	cb.Inputs = append(orderedResults(results), cb.Inputs...)
	o.log.FromContext(ctx).Info("chord complete, publishing callback", "chord_id", ref.ID, "callback_id", cb.ID, "inputs", len(results))
	return o.broker.push(ctx, cb)
}

func (o *Orchestrator) chordCallback(ctx context.Context, chordID string) (Message, error) {
	raw, err := o.rdb.HGet(ctx, chordKey(chordID), "callback").Result()
	if err != nil {
		return Message{}, errors.Wrap(err, "jobs.chordCallback", "read chord callback")
	}
	var cb Message
	if err := json.Unmarshal([]byte(raw), &cb); err != nil {
		return Message{}, errors.Wrap(err, "jobs.chordCallback", "decode chord callback")
	}
	return cb, nil
}

func orderedResults(results map[string]string) []string {
	idx := make([]int, 0, len(results))
	byIdx := make(map[int]string, len(results))
	for k, v := range results {
		i, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		idx = append(idx, i)
		byIdx[i] = v
	}
	sort.Ints(idx)
	out := make([]string, 0, len(idx))
	for _, i := range idx {
		out = append(out, byIdx[i])
	}
	return out
}

// Abort propagates a failure of msg to everything waiting on it: the
// remaining chain stages and, once per chord, the chord callback.
func (o *Orchestrator) Abort(ctx context.Context, msg Message, f Failure) {
	log := o.log.FromContext(ctx)
	for _, l := range msg.Link {
		for _, id := range l.ids() {
			if err := o.store.Fail(ctx, id, f); err != nil {
				log.Warn("failed to mark downstream stage", "task_id", id, "error", err.Error())
			}
		}
	}
	if msg.Chord == nil {
		return
	}

	key := chordKey(msg.Chord.ID)
	first, err := o.rdb.SetNX(ctx, key+":failed", msg.ID, o.ttl).Result()
	if err != nil || !first {
		return
	}
	cb, err := o.chordCallback(ctx, msg.Chord.ID)
	if err != nil {
		log.Warn("chord callback lookup failed", "chord_id", msg.Chord.ID, "error", err.Error())
		return
	}
	if err := o.store.Fail(ctx, cb.ID, f); err != nil {
		log.Warn("failed to mark chord callback", "task_id", cb.ID, "error", err.Error())
	}
}

// RouteResize picks the resize path for a fetched file: GIFs are resized
// directly, videos are converted first. The result defers to the submitted
// task.
func (o *Orchestrator) RouteResize(ctx context.Context, input string, args RouteResizeArgs) (Result, error) {
	cls, err := media.Classify(input)
	if err != nil {
		return Result{}, errors.NotFound("input file", filepath.Base(input))
	}

	var id string
	switch cls {
	case media.GIFInput:
		id, err = o.Submit(ctx, Task{Kind: KindResize, Inputs: []string{input}, Args: args.Resize})
	case media.VideoInput:
		conv := args.Convert
		if conv.Duration <= 0 {
			conv.Duration = 10
		}
		if conv.FPS <= 0 {
			conv.FPS = 10
		}
		if conv.Width <= 0 || conv.Height <= 0 {
			conv.Width, conv.Height = args.Resize.Width, args.Resize.Height
		}
		if conv.OutputDir == "" {
			conv.OutputDir = args.Resize.OutputDir
		}
		resize := args.Resize
		resize.InputType = media.InputVideo
		id, err = o.SubmitChain(ctx,
			Task{Kind: KindConvertVideo, Inputs: []string{input}, Args: conv},
			Task{Kind: KindResize, Args: resize},
		)
	default:
		_ = os.Remove(input)
		return Result{}, errors.Validation("Unsupported file type for resize.")
	}
	if err != nil {
		return Result{}, err
	}
	o.log.FromContext(ctx).Info("resize routed", "class", string(cls), "sub_task_id", id)
	return Deferred(id), nil
}

// OrchestrateFromURLs downloads every URL into a shared directory and
// builds a GIF from the downloads, in URL order.
func (o *Orchestrator) OrchestrateFromURLs(ctx context.Context, args OrchestrateArgs) (Result, error) {
	if len(args.URLs) == 0 {
		return Result{}, errors.Validation("No image URLs provided.")
	}
	dir, err := NewWorkDir(o.root)
	if err != nil {
		return Result{}, err
	}

	header := make([]Task, len(args.URLs))
	for i, u := range args.URLs {
		header[i] = Task{Kind: KindFetch, Args: FetchArgs{URL: u, Dir: dir, MaxBytes: args.MaxBytes}}
	}
	create := args.Create
	create.OutputDir = dir

	cbID, err := o.SubmitChord(ctx, header, Task{Kind: KindCreateFromImages, Args: create})
	if err != nil {
		return Result{}, err
	}
	return Deferred(cbID), nil
}

func (o *Orchestrator) abs(rel string) string {
	if filepath.IsAbs(rel) {
		return rel
	}
	return filepath.Join(o.root, filepath.FromSlash(rel))
}
