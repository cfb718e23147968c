package status

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
)

func newStore(t *testing.T) (*jobs.Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return jobs.NewStore(rdb, time.Hour), mr
}

func register(t *testing.T, s *jobs.Store, ids ...string) {
	t.Helper()
	kinds := map[string]jobs.Kind{}
	for _, id := range ids {
		kinds[id] = jobs.KindResize
	}
	if err := s.Register(context.Background(), kinds, ids...); err != nil {
		t.Fatal(err)
	}
}

func TestStateMapping(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name   string
		apply  func(s *jobs.Store, id string) error
		state  State
		status string
	}{
		{"pending", func(*jobs.Store, string) error { return nil }, Pending, "Pending..."},
		{"started", func(s *jobs.Store, id string) error { return s.Started(ctx, id) }, Running, "Processing..."},
		{"progress", func(s *jobs.Store, id string) error {
			return s.Progress(ctx, id, map[string]any{"progress": 40.0})
		}, Running, "Processing..."},
		{"success", func(s *jobs.Store, id string) error {
			return s.Succeed(ctx, id, jobs.Value("user_uploads/a/out.gif"))
		}, Succeeded, "Task completed!"},
		{"failure", func(s *jobs.Store, id string) error {
			return s.Fail(ctx, id, jobs.Failure{Kind: jobs.FailureProcessing, Message: "ffmpeg exited 1"})
		}, Failed, "Task failed!"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newStore(t)
			id := jobs.NewID()
			register(t, store, id)
			if err := tt.apply(store, id); err != nil {
				t.Fatal(err)
			}
			st, err := NewResolver(store, logger.Discard()).Resolve(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if st.State != tt.state || st.Status != tt.status {
				t.Errorf("got %s %q, want %s %q", st.State, st.Status, tt.state, tt.status)
			}
		})
	}
}

func TestUnknownHandle(t *testing.T) {
	store, _ := newStore(t)
	st, err := NewResolver(store, logger.Discard()).Resolve(context.Background(), "never-submitted")
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Unknown || st.Status != "Unknown state" {
		t.Errorf("got %+v", st)
	}
}

func TestProgressPayload(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	id := jobs.NewID()
	register(t, store, id)
	if err := store.Progress(ctx, id, map[string]any{"status": "Encoding frames", "progress": 60.0}); err != nil {
		t.Fatal(err)
	}
	st, err := NewResolver(store, logger.Discard()).Resolve(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	if st.Status != "Encoding frames" || st.Progress["progress"] != 60.0 {
		t.Errorf("got %+v", st)
	}
}

func TestFailureMessages(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		failure jobs.Failure
		want    string
	}{
		{jobs.Failure{Kind: jobs.FailureValidation, Message: "Width must be positive."}, "Width must be positive."},
		{jobs.Failure{Kind: jobs.FailureFetch, Message: errors.FetchFailedMessage}, errors.FetchFailedMessage},
		{jobs.Failure{Kind: jobs.FailureProcessing, Message: "exit status 1: /srv/uploads/x"}, GenericFailure},
		{jobs.Failure{Kind: jobs.FailureInternal, Message: "nil pointer"}, GenericFailure},
	}
	for _, tt := range tests {
		t.Run(string(tt.failure.Kind), func(t *testing.T) {
			store, _ := newStore(t)
			id := jobs.NewID()
			register(t, store, id)
			if err := store.Fail(ctx, id, tt.failure); err != nil {
				t.Fatal(err)
			}
			st, err := NewResolver(store, logger.Discard()).Resolve(ctx, id)
			if err != nil {
				t.Fatal(err)
			}
			if st.Error != tt.want {
				t.Errorf("Error = %q, want %q", st.Error, tt.want)
			}
		})
	}
}

func TestFollowsDeferredResults(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	route, callback := jobs.NewID(), jobs.NewID()
	register(t, store, route, callback)

	if err := store.Succeed(ctx, route, jobs.Deferred(callback)); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(store, logger.Discard())

	st, err := r.Resolve(ctx, route)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Pending {
		t.Errorf("state follows the target, got %s", st.State)
	}

	res := jobs.Value("user_uploads/j/resized_1.gif")
	res.Secondary = &media.Secondary{Status: media.SecondaryFailed, Error: "source has no audio stream"}
	res.Meta = map[string]any{"width": 100.0}
	if err := store.Succeed(ctx, callback, res); err != nil {
		t.Fatal(err)
	}
	st, err = r.Resolve(ctx, route)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Succeeded || st.Result != res.Path {
		t.Fatalf("got %+v", st)
	}
	if st.Secondary == nil || st.Secondary.Status != media.SecondaryFailed || st.Meta["width"] != 100.0 {
		t.Errorf("secondary/meta not carried: %+v", st)
	}
}

func TestDeferredTargetFailure(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)
	a, b := jobs.NewID(), jobs.NewID()
	register(t, store, a, b)
	_ = store.Succeed(ctx, a, jobs.Deferred(b))
	_ = store.Fail(ctx, b, jobs.Failure{Kind: jobs.FailureValidation, Message: "Unsupported file type for resize."})

	st, err := NewResolver(store, logger.Discard()).Resolve(ctx, a)
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Failed || st.Error != "Unsupported file type for resize." {
		t.Errorf("got %+v", st)
	}
}

func TestHopLimit(t *testing.T) {
	ctx := context.Background()
	store, _ := newStore(t)

	ids := make([]string, MaxHops+2)
	for i := range ids {
		ids[i] = jobs.NewID()
	}
	register(t, store, ids...)
	for i := 0; i < len(ids)-1; i++ {
		if err := store.Succeed(ctx, ids[i], jobs.Deferred(ids[i+1])); err != nil {
			t.Fatal(err)
		}
	}
	if err := store.Succeed(ctx, ids[len(ids)-1], jobs.Value("user_uploads/x/out.gif")); err != nil {
		t.Fatal(err)
	}
	r := NewResolver(store, logger.Discard())

	// exactly MaxHops deferrals resolve
	st, err := r.Resolve(ctx, ids[1])
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Succeeded {
		t.Errorf("%d hops should resolve, got %+v", MaxHops, st)
	}

	st, err = r.Resolve(ctx, ids[0])
	if err != nil {
		t.Fatal(err)
	}
	if st.State != Failed || st.Error != GenericFailure {
		t.Errorf("too many hops should fail, got %+v", st)
	}
}

func TestStoreDown(t *testing.T) {
	store, mr := newStore(t)
	mr.Close()
	_, err := NewResolver(store, logger.Discard()).Resolve(context.Background(), "x")
	if !errors.IsCode(err, errors.CodeUnavailable) {
		t.Errorf("expected unavailable, got %v", err)
	}
}

type stalledRecords struct{}

func (stalledRecords) Get(ctx context.Context, _ string) (*jobs.Record, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func TestStoreDeadline(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := NewResolver(stalledRecords{}, logger.Discard()).Resolve(ctx, "x")
	if !errors.IsCode(err, errors.CodeTimeout) {
		t.Errorf("expected timeout, got %v", err)
	}
}
