package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/dgallion1/quizgest/internal/extract"
)

type instantTimer struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (t *instantTimer) After(d time.Duration) <-chan time.Time {
	t.mu.Lock()
	t.delays = append(t.delays, d)
	t.mu.Unlock()
	c := make(chan time.Time, 1)
	c <- time.Now()
	return c
}

type reply struct {
	text string
	err  error
}

// scriptedGenerator returns replies in order, repeating the last one.
type scriptedGenerator struct {
	mu      sync.Mutex
	replies []reply
	calls   int
	prompts []*extract.Prompt
	onCall  func(call int)
}

func (g *scriptedGenerator) Model() string { return "scripted" }

func (g *scriptedGenerator) Generate(_ context.Context, p *extract.Prompt) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, p)
	if g.onCall != nil {
		g.onCall(g.calls)
	}
	i := min(g.calls, len(g.replies)-1)
	g.calls++
	return g.replies[i].text, g.replies[i].err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestModel(gen extract.Generator) (*ModelClient, *instantTimer) {
	timer := &instantTimer{}
	m := NewModelClient(gen, DefaultRetryPolicy(), extract.NewLLMStats(time.Hour), discardLogger())
	m.timer = timer
	return m, timer
}

var overloaded = &extract.RetryableError{StatusCode: 503, Message: "overloaded"}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}
	for n, w := range want {
		if got := p.Backoff(uint(n)); got != w {
			t.Errorf("Backoff(%d) = %v, want %v", n, got, w)
		}
	}
}

func TestSubmit_SucceedsFirstTry(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{text: `{"questions":[]}`}}}
	m, timer := newTestModel(gen)

	text, ok, err := m.Submit(context.Background(), &extract.Prompt{})
	if err != nil || !ok || text != `{"questions":[]}` {
		t.Fatalf("unexpected result %q ok=%v err=%v", text, ok, err)
	}
	if gen.calls != 1 || len(timer.delays) != 0 {
		t.Errorf("expected one call without waiting, got %d calls %v", gen.calls, timer.delays)
	}
	if s := m.Stats().Snapshot(); s.OK != 1 {
		t.Errorf("expected one ok sample, got %+v", s)
	}
}

func TestSubmit_RecoversAfterOverload(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{err: overloaded}, {text: "ok"}}}
	m, timer := newTestModel(gen)

	text, ok, err := m.Submit(context.Background(), &extract.Prompt{})
	if err != nil || !ok || text != "ok" {
		t.Fatalf("unexpected result %q ok=%v err=%v", text, ok, err)
	}
	if gen.calls != 2 {
		t.Errorf("expected 2 calls, got %d", gen.calls)
	}
	if len(timer.delays) != 1 || timer.delays[0] != 2*time.Second {
		t.Errorf("expected a single 2s wait, got %v", timer.delays)
	}
}

func TestSubmit_ExhaustedOverloadSkips(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{err: overloaded}}}
	m, timer := newTestModel(gen)

	text, ok, err := m.Submit(context.Background(), &extract.Prompt{})
	if err != nil {
		t.Fatalf("exhausted overload should not be an error, got %v", err)
	}
	if ok || text != "" {
		t.Errorf("expected skipped batch, got %q ok=%v", text, ok)
	}
	if gen.calls != 3 {
		t.Errorf("expected exactly 3 attempts, got %d", gen.calls)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second}
	if len(timer.delays) != len(want) {
		t.Fatalf("expected waits %v, got %v", want, timer.delays)
	}
	for i := range want {
		if timer.delays[i] != want[i] {
			t.Errorf("wait %d: got %v, want %v", i, timer.delays[i], want[i])
		}
	}
	if s := m.Stats().Snapshot(); s.Overloaded != 3 {
		t.Errorf("expected 3 overloaded samples, got %+v", s)
	}
}

func TestSubmit_FailsFastOnOtherErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"unreachable", extract.ErrUnreachable},
		{"stopped", &extract.StoppedError{Reason: "SAFETY"}},
		{"plain", errors.New("bad request")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gen := &scriptedGenerator{replies: []reply{{err: tt.err}}}
			m, timer := newTestModel(gen)

			_, ok, err := m.Submit(context.Background(), &extract.Prompt{})
			if !errors.Is(err, tt.err) {
				t.Errorf("expected %v, got %v", tt.err, err)
			}
			if ok {
				t.Error("expected ok=false")
			}
			if gen.calls != 1 || len(timer.delays) != 0 {
				t.Errorf("expected a single attempt, got %d calls, waits %v", gen.calls, timer.delays)
			}
		})
	}
}

func TestSubmit_CancelledContext(t *testing.T) {
	gen := &scriptedGenerator{replies: []reply{{err: overloaded}}}
	m, _ := newTestModel(gen)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, ok, err := m.Submit(ctx, &extract.Prompt{})
	if ok {
		t.Error("expected ok=false on cancelled context")
	}
	if err == nil {
		t.Error("expected an error on cancelled context")
	}
}
