package queue

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"pg-job-queue/internal/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRegistryResolve(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler("ok", func(context.Context, models.Job) error { return nil })

	if !r.Known("ok") {
		t.Fatalf("registered type should be known")
	}
	if r.Known("missing") {
		t.Fatalf("unregistered type should not be known")
	}
	if _, err := r.Resolve("missing"); err == nil {
		t.Fatalf("resolving an unknown type should fail")
	}
	if _, err := r.Resolve("ok"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
}

func TestRegistryIgnoresBadRegistrations(t *testing.T) {
	r := NewRegistry()
	r.Register("", func() (Handler, error) { return nil, nil })
	r.Register("x", nil)
	r.RegisterHandler("y", nil)
	if r.Known("") || r.Known("x") || r.Known("y") {
		t.Fatalf("invalid registrations should be ignored")
	}
}

func TestExecuteCapturesPanic(t *testing.T) {
	r := NewRegistry()
	r.RegisterHandler("boom", func(context.Context, models.Job) error {
		panic("slice index out of range")
	})
	e := NewExecutor(r, discardLogger())

	err := e.Execute(context.Background(), models.Job{JobType: "boom"})
	if err == nil {
		t.Fatalf("panic should surface as an error")
	}
	if !strings.Contains(err.Error(), "handler panic") {
		t.Fatalf("error lacks panic marker: %v", err)
	}
}

func TestExecuteFactoryFailure(t *testing.T) {
	r := NewRegistry()
	r.Register("broken", func() (Handler, error) {
		return nil, errors.New("dependency missing")
	})
	e := NewExecutor(r, discardLogger())

	if err := e.Execute(context.Background(), models.Job{JobType: "broken"}); err == nil {
		t.Fatalf("factory failure should be an execution failure")
	}
}

func TestExecuteSync(t *testing.T) {
	var got []byte
	r := NewRegistry()
	r.RegisterHandler("record", func(_ context.Context, job models.Job) error {
		got = append([]byte(nil), job.Payload...)
		return nil
	})
	r.RegisterHandler("fail", func(context.Context, models.Job) error {
		return errors.New("nope")
	})
	e := NewExecutor(r, discardLogger())

	if !e.ExecuteSync(context.Background(), "record", []byte(`{"k":1}`)) {
		t.Fatalf("ExecuteSync should report success")
	}
	if string(got) != `{"k":1}` {
		t.Fatalf("payload not handed to handler verbatim: %q", got)
	}
	if e.ExecuteSync(context.Background(), "fail", nil) {
		t.Fatalf("ExecuteSync should report handler failure")
	}
	if e.ExecuteSync(context.Background(), "missing", nil) {
		t.Fatalf("ExecuteSync should report resolution failure")
	}
}
