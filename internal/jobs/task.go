// Package jobs owns the Redis task queue, the per-task state records and the
// composition of tasks into chains and chords.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"gifmill/internal/media"
	"gifmill/internal/pkg/errors"
)

// Kind names a task handler on the worker.
type Kind string

const (
	KindFetch               Kind = "fetch"
	KindConvertVideo        Kind = "convert-video"
	KindCreateFromImages    Kind = "create-from-images"
	KindResize              Kind = "resize"
	KindCrop                Kind = "crop"
	KindOptimize            Kind = "optimize"
	KindReverse             Kind = "reverse"
	KindAddText             Kind = "add-text"
	KindAddTextLayers       Kind = "add-text-layers"
	KindOrchestrateFromURLs Kind = "orchestrate-from-urls"
	KindRouteResize         Kind = "route-resize"
)

// State is the native state kept in the task record.
type State string

const (
	StatePending  State = "PENDING"
	StateStarted  State = "STARTED"
	StateProgress State = "PROGRESS"
	StateSuccess  State = "SUCCESS"
	StateFailure  State = "FAILURE"
)

// Task is what callers submit: a kind, its input files and typed args.
type Task struct {
	Kind   Kind
	Inputs []string
	Args   any
}

// ChordRef ties a header task to its chord.
type ChordRef struct {
	ID    string `json:"id"`
	Index int    `json:"index"`
}

// Message is the queue wire format.
type Message struct {
	ID     string          `json:"id"`
	Kind   Kind            `json:"kind"`
	Inputs []string        `json:"inputs,omitempty"`
	Args   json.RawMessage `json:"args,omitempty"`
	// Link holds the remaining chain stages, already registered as PENDING.
	Link       []Message `json:"link,omitempty"`
	Chord      *ChordRef `json:"chord,omitempty"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// NewID returns a fresh task handle.
func NewID() string { return uuid.NewString() }

func newMessage(t Task) (Message, error) {
	msg := Message{ID: NewID(), Kind: t.Kind, Inputs: t.Inputs}
	if t.Args != nil {
		raw, err := json.Marshal(t.Args)
		if err != nil {
			return Message{}, fmt.Errorf("encode %s args: %w", t.Kind, err)
		}
		msg.Args = raw
	}
	return msg, nil
}

// DecodeArgs unmarshals the message args into v.
func (m Message) DecodeArgs(v any) error {
	if len(m.Args) == 0 {
		return nil
	}
	if err := json.Unmarshal(m.Args, v); err != nil {
		return errors.Wrapf(err, "jobs.DecodeArgs", "decode %s args", m.Kind)
	}
	return nil
}

// ids lists the message and every linked stage.
func (m Message) ids() []string {
	out := []string{m.ID}
	for _, l := range m.Link {
		out = append(out, l.ids()...)
	}
	return out
}

// ResultKind tags Result.
type ResultKind string

const (
	ResultValue    ResultKind = "value"
	ResultDeferred ResultKind = "deferred"
)

// Result is either a concrete artifact (value) or a pointer to the task
// whose result stands in for this one (deferred).
type Result struct {
	Kind      ResultKind       `json:"kind"`
	Path      string           `json:"path,omitempty"`
	JobID     string           `json:"job_id,omitempty"`
	Secondary *media.Secondary `json:"secondary,omitempty"`
	Meta      map[string]any   `json:"meta,omitempty"`
}

// Value wraps a path relative to the upload root.
func Value(path string) Result { return Result{Kind: ResultValue, Path: path} }

// Deferred points at another task.
func Deferred(jobID string) Result { return Result{Kind: ResultDeferred, JobID: jobID} }

// FailureKind decides how much of a failure a client may see.
type FailureKind string

const (
	FailureValidation FailureKind = "validation"
	FailureFetch      FailureKind = "fetch"
	FailureProcessing FailureKind = "processing"
	FailureInternal   FailureKind = "internal"
)

type Failure struct {
	Kind    FailureKind `json:"kind"`
	Message string      `json:"message"`
}

// Public reports whether Message may be shown verbatim.
func (f Failure) Public() bool {
	return f.Kind == FailureValidation || f.Kind == FailureFetch
}

// FailureFrom classifies err. Validation and fetch failures keep their
// client message; the rest keep the full error text for the logs.
func FailureFrom(err error) Failure {
	var e *errors.Error
	if errors.As(err, &e) {
		switch e.Code {
		case errors.CodeValidation, errors.CodeBadRequest:
			return Failure{Kind: FailureValidation, Message: e.Message}
		case errors.CodeFetchFailed:
			return Failure{Kind: FailureFetch, Message: e.Message}
		case errors.CodeProcessing, errors.CodeOutputInvalid, errors.CodeNotFound, errors.CodeTimeout:
			return Failure{Kind: FailureProcessing, Message: err.Error()}
		}
	}
	return Failure{Kind: FailureInternal, Message: err.Error()}
}

// Record is the stored view of a task.
type Record struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind,omitempty"`
	State     State          `json:"state"`
	Result    *Result        `json:"result,omitempty"`
	Failure   *Failure       `json:"failure,omitempty"`
	Progress  map[string]any `json:"progress,omitempty"`
	UpdatedAt time.Time      `json:"updated_at"`
}
