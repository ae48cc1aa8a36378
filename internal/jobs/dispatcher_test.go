package jobs

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"

	logx "govbot/pkg/logx"
)

type recordingHandler struct {
	name string
	err  error
	got  []Job
}

func (h *recordingHandler) Name() string { return h.name }

func (h *recordingHandler) Run(_ context.Context, job Job) error {
	h.got = append(h.got, job)
	return h.err
}

func TestDispatchKnownHandler(t *testing.T) {
	h := &recordingHandler{name: "ping"}
	d := NewDispatcher(logx.Nop(), h)

	job := Job{ID: uuid.New(), Name: "ping"}
	if err := d.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}
	if len(h.got) != 1 || h.got[0].ID != job.ID {
		t.Fatalf("handler did not receive the job: %+v", h.got)
	}
}

func TestDispatchPropagatesHandlerError(t *testing.T) {
	want := errors.New("boom")
	h := &recordingHandler{name: "ping", err: want}
	d := NewDispatcher(logx.Nop(), h)

	if err := d.Dispatch(context.Background(), Job{ID: uuid.New(), Name: "ping"}); !errors.Is(err, want) {
		t.Fatalf("Dispatch error = %v, want %v", err, want)
	}
}

func TestDispatchUnknownNameIsNoop(t *testing.T) {
	h := &recordingHandler{name: "ping"}
	d := NewDispatcher(logx.Nop(), h)

	if err := d.Dispatch(context.Background(), Job{ID: uuid.New(), Name: "retired_job"}); err != nil {
		t.Fatalf("unknown job name should not error, got %v", err)
	}
	if len(h.got) != 0 {
		t.Fatalf("handler should not have been invoked")
	}
}
