package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/nidhogg/overseer/internal/plan"
	"go.uber.org/zap"
)

// verifierFunc adapts a function to the Verifier interface.
type verifierFunc func(ctx context.Context, task plan.Task, out *WorkerOutput) (Verdict, error)

func (f verifierFunc) Judge(ctx context.Context, task plan.Task, out *WorkerOutput) (Verdict, error) {
	return f(ctx, task, out)
}

func newTestGate(v Verifier) *reviewGate {
	return &reviewGate{verifier: v, maxRetries: DefaultMaxRetries, logger: zap.NewNop()}
}

var reviewTask = plan.Task{ID: "t1", Worker: plan.WorkerSales, Description: "reply to user"}

func TestReviewApproveResetsRetries(t *testing.T) {
	gate := newTestGate(verifierFunc(func(context.Context, plan.Task, *WorkerOutput) (Verdict, error) {
		return Verdict{Approve: true}, nil
	}))

	dec := gate.review(context.Background(), reviewTask, &WorkerOutput{TaskID: "t1", Text: "ok"}, nil, 1)
	if dec.status != TaskApproved {
		t.Fatalf("got %s, want approved", dec.status)
	}
	if dec.retries != 0 {
		t.Errorf("got retries %d, want 0 after approval", dec.retries)
	}
	if dec.critique != "" {
		t.Errorf("critique not cleared: %q", dec.critique)
	}
}

func TestReviewRejectIncrementsRetries(t *testing.T) {
	gate := newTestGate(verifierFunc(func(context.Context, plan.Task, *WorkerOutput) (Verdict, error) {
		return Verdict{Approve: false, Critique: "price does not match evidence"}, nil
	}))

	dec := gate.review(context.Background(), reviewTask, &WorkerOutput{TaskID: "t1", Text: "wrong"}, nil, 0)
	if dec.status != TaskReviewing {
		t.Fatalf("got %s, want reviewing", dec.status)
	}
	if dec.retries != 1 {
		t.Errorf("got retries %d, want 1", dec.retries)
	}
	if dec.critique != "price does not match evidence" {
		t.Errorf("critique lost: %q", dec.critique)
	}
}

func TestReviewBudgetExhaustedFailsTask(t *testing.T) {
	gate := newTestGate(verifierFunc(func(context.Context, plan.Task, *WorkerOutput) (Verdict, error) {
		return Verdict{Approve: false, Critique: "still wrong"}, nil
	}))

	dec := gate.review(context.Background(), reviewTask, &WorkerOutput{TaskID: "t1"}, nil, DefaultMaxRetries-1)
	if dec.status != TaskFailed {
		t.Fatalf("got %s, want failed", dec.status)
	}
	if dec.retries != DefaultMaxRetries {
		t.Errorf("got retries %d, want %d", dec.retries, DefaultMaxRetries)
	}
	if dec.critique != "still wrong" {
		t.Errorf("terminal critique not preserved: %q", dec.critique)
	}
}

func TestReviewExecutorErrorIsImplicitReject(t *testing.T) {
	called := false
	gate := newTestGate(verifierFunc(func(context.Context, plan.Task, *WorkerOutput) (Verdict, error) {
		called = true
		return Verdict{Approve: true}, nil
	}))

	dec := gate.review(context.Background(), reviewTask, nil, errors.New("worker timed out"), 0)
	if called {
		t.Error("verifier must not be consulted for an execution failure")
	}
	if dec.status != TaskReviewing || dec.retries != 1 {
		t.Errorf("got %s/%d, want reviewing/1", dec.status, dec.retries)
	}
}

func TestReviewVerifierErrorFailsClosed(t *testing.T) {
	gate := newTestGate(verifierFunc(func(context.Context, plan.Task, *WorkerOutput) (Verdict, error) {
		return Verdict{}, errors.New("judge unavailable")
	}))

	dec := gate.review(context.Background(), reviewTask, &WorkerOutput{TaskID: "t1"}, nil, 0)
	if dec.status != TaskReviewing {
		t.Fatalf("got %s, want reviewing (never approve unverified output)", dec.status)
	}
}

func TestReviewCalledWithoutEvidence(t *testing.T) {
	var sawOutput *WorkerOutput
	gate := newTestGate(verifierFunc(func(_ context.Context, _ plan.Task, out *WorkerOutput) (Verdict, error) {
		sawOutput = out
		return Verdict{Approve: true}, nil
	}))

	out := &WorkerOutput{TaskID: "t1", Text: "hello"} // no evidence attached
	dec := gate.review(context.Background(), reviewTask, out, nil, 0)
	if sawOutput == nil {
		t.Fatal("verifier skipped for evidence-free output")
	}
	if dec.status != TaskApproved {
		t.Errorf("got %s, want approved", dec.status)
	}
}

func TestReviewTimeoutRejects(t *testing.T) {
	gate := newTestGate(verifierFunc(func(ctx context.Context, _ plan.Task, _ *WorkerOutput) (Verdict, error) {
		<-ctx.Done()
		return Verdict{}, ctx.Err()
	}))
	gate.timeout = 10 * time.Millisecond

	dec := gate.review(context.Background(), reviewTask, &WorkerOutput{TaskID: "t1"}, nil, 0)
	if dec.status != TaskReviewing || dec.retries != 1 {
		t.Errorf("got %s/%d, want reviewing/1", dec.status, dec.retries)
	}
}
