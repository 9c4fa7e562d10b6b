package jobs

import (
	"context"
	"testing"
	"time"
)

func TestReconcileJobDisabledReturnsImmediately(t *testing.T) {
	job := NewReconcileJob(nil, 0)

	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("disabled job did not return")
	}
}

func TestReconcileJobStop(t *testing.T) {
	job := NewReconcileJob(nil, 60)

	done := make(chan struct{})
	go func() {
		job.Start(context.Background())
		close(done)
	}()

	job.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop")
	}
}

func TestReconcileJobContextCancel(t *testing.T) {
	job := NewReconcileJob(nil, 60)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	go func() {
		job.Start(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job did not stop on context cancel")
	}
}
