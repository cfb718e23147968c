// Package status turns task records into the client-facing status
// vocabulary, following deferred results to the task that holds the
// artifact.
package status

import (
	"context"

	"gifmill/internal/jobs"
	"gifmill/internal/media"
	"gifmill/internal/pkg/errors"
	"gifmill/internal/pkg/logger"
)

// MaxHops bounds how many deferred results are followed.
const MaxHops = 5

// State is the client-facing task state.
type State string

const (
	Pending   State = "pending"
	Running   State = "running"
	Succeeded State = "succeeded"
	Failed    State = "failed"
	Unknown   State = "unknown"
)

// GenericFailure is shown for every failure whose message is not public.
const GenericFailure = "An unknown error occurred during processing."

var statusText = map[State]string{
	Pending:   "Pending...",
	Running:   "Processing...",
	Succeeded: "Task completed!",
	Failed:    "Task failed!",
	Unknown:   "Unknown state",
}

// Status is the body of GET /task-status/{id}.
type Status struct {
	State     State            `json:"state"`
	Status    string           `json:"status"`
	Progress  map[string]any   `json:"progress,omitempty"`
	Result    string           `json:"result,omitempty"`
	Secondary *media.Secondary `json:"secondary,omitempty"`
	Meta      map[string]any   `json:"meta,omitempty"`
	Error     string           `json:"error,omitempty"`
	RawState  string           `json:"raw_state,omitempty"`
}

// Records is the read side of the task store.
type Records interface {
	Get(ctx context.Context, id string) (*jobs.Record, error)
}

type Resolver struct {
	records Records
	log     *logger.Logger
}

func NewResolver(records Records, log *logger.Logger) *Resolver {
	return &Resolver{records: records, log: log.WithComponent("status")}
}

// Resolve reports the state of id. Missing records are Unknown, not errors;
// an error is returned only when the store itself cannot be read.
func (r *Resolver) Resolve(ctx context.Context, id string) (Status, error) {
	log := r.log.FromContext(ctx).WithTaskID(id)
	current := id
	for hop := 0; ; hop++ {
		rec, err := r.records.Get(ctx, current)
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return Status{}, errors.Timeout("status.Resolve", err)
			}
			return Status{}, errors.Unavailable("task store", err)
		}
		if rec == nil {
			if current != id {
				log.Warn("deferred task record missing", "target_id", current, "hops", hop)
			}
			return newStatus(Unknown, ""), nil
		}

		if rec.State == jobs.StateSuccess && rec.Result != nil && rec.Result.Kind == jobs.ResultDeferred {
			if hop+1 > MaxHops {
				log.Error("deferred result chain too deep", "hops", hop+1, "last_id", current)
				st := newStatus(Failed, string(rec.State))
				st.Error = GenericFailure
				return st, nil
			}
			log.Debug("following deferred result", "from_id", current, "target_id", rec.Result.JobID)
			current = rec.Result.JobID
			continue
		}
		return r.fromRecord(ctx, rec), nil
	}
}

func (r *Resolver) fromRecord(ctx context.Context, rec *jobs.Record) Status {
	switch rec.State {
	case jobs.StatePending:
		return newStatus(Pending, string(rec.State))
	case jobs.StateStarted:
		return newStatus(Running, string(rec.State))
	case jobs.StateProgress:
		st := newStatus(Running, string(rec.State))
		st.Progress = rec.Progress
		if text, ok := rec.Progress["status"].(string); ok && text != "" {
			st.Status = text
		}
		return st
	case jobs.StateSuccess:
		st := newStatus(Succeeded, string(rec.State))
		if rec.Result != nil {
			st.Result = rec.Result.Path
			st.Secondary = rec.Result.Secondary
			st.Meta = rec.Result.Meta
		}
		return st
	case jobs.StateFailure:
		st := newStatus(Failed, string(rec.State))
		st.Error = GenericFailure
		if f := rec.Failure; f != nil {
			if f.Public() && f.Message != "" {
				st.Error = f.Message
			} else {
				r.log.FromContext(ctx).Error("task failed", "task_id", rec.ID, "kind", string(rec.Kind), "failure_kind", string(f.Kind), "error", f.Message)
			}
		}
		return st
	default:
		return newStatus(Unknown, string(rec.State))
	}
}

func newStatus(s State, raw string) Status {
	return Status{State: s, Status: statusText[s], RawState: raw}
}
