package pipeline

import (
	"context"
	"slices"
	"testing"
	"time"

	"github.com/dgallion1/quizgest/internal/netcheck"
)

type countingPruner struct {
	calls  int
	maxAge time.Duration
}

func (p *countingPruner) Prune(maxAge time.Duration) (int, error) {
	p.calls++
	p.maxAge = maxAge
	return 0, nil
}

func TestOrchestrator_QueueFull(t *testing.T) {
	h := newHarness(1, netcheck.Always{}, reply{text: batchOne})
	o := NewOrchestrator(OrchestratorConfig{MaxQueueSize: 1, JobTTL: time.Hour}, h.worker, nil, discardLogger())

	first := NewJob("a.pdf", "", []byte("%PDF-1.4"))
	if err := o.Submit(first); err != nil {
		t.Fatalf("first submit: %v", err)
	}
	second := NewJob("b.pdf", "", []byte("%PDF-1.4"))
	if err := o.Submit(second); err == nil {
		t.Fatal("expected queue full error")
	}

	snap := second.Snapshot()
	if snap.Status != StatusError || snap.Message != MsgUnexpectedFailed {
		t.Errorf("rejected job = %s %q", snap.Status, snap.Message)
	}
	if !slices.Contains(snap.Progress.Errors, "queue_full") {
		t.Errorf("errors = %v", snap.Progress.Errors)
	}
	if o.QueueDepth() != 1 {
		t.Errorf("queue depth = %d, want 1", o.QueueDepth())
	}
	if o.GetJob(second.ID) == nil {
		t.Error("rejected job should still be retrievable")
	}
}

func TestOrchestrator_RunsJob(t *testing.T) {
	h := newHarness(3, netcheck.Always{}, reply{text: batchOne}, reply{text: batchTwo})
	o := NewOrchestrator(OrchestratorConfig{WorkerCount: 2, JobTTL: time.Hour}, h.worker, nil, discardLogger())
	o.Start(context.Background())
	defer o.Stop()

	job := NewJob("paper.pdf", "", []byte("%PDF-1.4"))
	updates, cancel := job.Subscribe()
	defer cancel()
	if err := o.Submit(job); err != nil {
		t.Fatalf("submit: %v", err)
	}

	var last JobSnapshot
	timeout := time.After(5 * time.Second)
	for done := false; !done; {
		select {
		case snap, ok := <-updates:
			if !ok {
				done = true
				break
			}
			last = snap
		case <-timeout:
			t.Fatal("job did not finish")
		}
	}
	if last.Status != StatusSuccess {
		t.Fatalf("status = %s (%q)", last.Status, last.Message)
	}
	if got := o.GetJob(job.ID); got != job {
		t.Error("GetJob returned a different job")
	}
	if o.Model() == nil {
		t.Error("Model() = nil")
	}
}

func TestOrchestrator_CleanupPrunes(t *testing.T) {
	h := newHarness(1, netcheck.Always{})
	p := &countingPruner{}
	o := NewOrchestrator(OrchestratorConfig{JobTTL: time.Hour}, h.worker, p, discardLogger())

	o.cleanup()
	if p.calls != 1 {
		t.Fatalf("prune calls = %d", p.calls)
	}
	if p.maxAge != 24*time.Hour {
		t.Errorf("max age = %v", p.maxAge)
	}
}
