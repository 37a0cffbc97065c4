package pipeline

import (
	"context"
	"errors"
	"image"
	"iter"
	"strings"
	"sync"
	"testing"

	"github.com/dgallion1/quizgest/internal/exam"
	"github.com/dgallion1/quizgest/internal/extract"
	"github.com/dgallion1/quizgest/internal/netcheck"
	"github.com/dgallion1/quizgest/internal/render"
)

type fakeDoc struct {
	pages  []exam.Page
	failAt int // 1-based page that fails to render; 0 for none
	closed bool
}

func newFakeDoc(n int) *fakeDoc {
	d := &fakeDoc{}
	for i := range n {
		d.pages = append(d.pages, exam.Page{
			Number:    i + 1,
			Image:     image.NewRGBA(image.Rect(0, 0, 200, 300)),
			TextLayer: "text of page",
		})
	}
	return d
}

func (d *fakeDoc) NumPages() int { return len(d.pages) }
func (d *fakeDoc) Close() error  { d.closed = true; return nil }

func (d *fakeDoc) Pages(ctx context.Context) iter.Seq2[exam.Page, error] {
	return func(yield func(exam.Page, error) bool) {
		for _, p := range d.pages {
			if p.Number == d.failAt {
				yield(exam.Page{}, &render.DocumentError{Op: "render", Page: p.Number, Err: errors.New("corrupt")})
				return
			}
			if !yield(p, nil) {
				return
			}
		}
	}
}

type fakeChecker struct{ err error }

func (c fakeChecker) Check(context.Context) error { return c.err }

type fakeRecognizer struct {
	mu    sync.Mutex
	fail  map[int]bool
	calls int
}

func (r *fakeRecognizer) Name() string { return "fake" }

func (r *fakeRecognizer) Recognize(_ context.Context, p exam.Page) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.fail[p.Number] {
		return "", errors.New("ocr engine crashed")
	}
	return "ocr of page", nil
}

type memCrops struct {
	mu    sync.Mutex
	saved []image.Image
}

func (m *memCrops) Save(img image.Image) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved = append(m.saved, img)
	return "mem://crop", nil
}

type harness struct {
	doc    *fakeDoc
	gen    *scriptedGenerator
	ocr    *fakeRecognizer
	crops  *memCrops
	opened bool
	worker *Worker
}

func newHarness(pages int, checker netcheck.Checker, replies ...reply) *harness {
	h := &harness{
		doc:   newFakeDoc(pages),
		gen:   &scriptedGenerator{replies: replies},
		ocr:   &fakeRecognizer{fail: map[int]bool{}},
		crops: &memCrops{},
	}
	model, _ := newTestModel(h.gen)
	h.worker = NewWorker(Deps{
		Checker:    checker,
		Recognizer: h.ocr,
		Model:      model,
		Healer:     extract.NewHealer(h.crops, discardLogger()),
		BatchSize:  2,
		Log:        discardLogger(),
		Open: func([]byte, string) (PageSource, error) {
			h.opened = true
			return h.doc, nil
		},
	})
	return h
}

func runJob(h *harness) JobSnapshot {
	job := NewJob("paper.pdf", "", []byte("%PDF-1.4"))
	h.worker.Process(context.Background(), job)
	return job.Snapshot()
}

const (
	batchOne = "```json\n" + `{"questions":[
		{"questionNumber":2,"pageNumber":2,"questionText":"Second?","options":["a","b","c","d"],"correctAnswerIndex":0,"contains_latex":false,"is_diagram":false},
		{"questionNumber":1,"pageNumber":1,"questionText":"First?","options":["a","b","c","d"],"correctAnswerIndex":1,"contains_latex":false,"is_diagram":true,"boundingBox":{"x":10,"y":10,"width":50,"height":50}}
	]}` + "\n```"
	batchTwo = `{"questions":[
		{"questionNumber":2,"pageNumber":2,"questionText":"  Second?  ","options":["w","x","y","z"],"correctAnswerIndex":3,"contains_latex":false,"is_diagram":false},
		{"questionNumber":3,"pageNumber":3,"questionText":"Third: $\frac{1}{2}$?","options":["a","b","c","d"],"correctAnswerIndex":2,"contains_latex":true,"is_diagram":false}
	]}`
)

func TestWorker_Success(t *testing.T) {
	h := newHarness(3, netcheck.Always{}, reply{text: batchOne}, reply{text: batchTwo})
	snap := runJob(h)

	if snap.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%q) errors=%v", snap.Status, snap.Message, snap.Progress.Errors)
	}
	if snap.Progress.TotalPages != 3 || snap.Progress.PagesRecognized != 3 {
		t.Errorf("unexpected page progress %+v", snap.Progress)
	}
	if snap.Progress.TotalBatches != 2 || snap.Progress.BatchesProcessed != 2 {
		t.Errorf("unexpected batch progress %+v", snap.Progress)
	}
	if snap.Summary == nil || snap.Summary.Total != 3 {
		t.Fatalf("expected 3 questions after dedup, got %+v", snap.Summary)
	}
	if !h.doc.closed {
		t.Error("document not closed")
	}
	if len(h.crops.saved) != 1 {
		t.Errorf("expected one diagram crop, got %d", len(h.crops.saved))
	}
}

func TestWorker_DedupAndOrder(t *testing.T) {
	h := newHarness(3, netcheck.Always{}, reply{text: batchOne}, reply{text: batchTwo})
	job := NewJob("paper.pdf", "", []byte("%PDF-1.4"))
	h.worker.Process(context.Background(), job)

	qs := job.Questions()
	if len(qs) != 3 {
		t.Fatalf("expected 3 questions, got %d", len(qs))
	}
	for i, want := range []int{1, 2, 3} {
		if qs[i].QuestionNumber != want {
			t.Errorf("position %d: got question %d, want %d", i, qs[i].QuestionNumber, want)
		}
	}
	// First occurrence of the duplicated question wins.
	if qs[1].CorrectAnswerIndex != 0 || qs[1].Options[0] != "a" {
		t.Errorf("expected first occurrence kept, got %+v", qs[1])
	}
	if qs[0].QuestionImage != "mem://crop" {
		t.Errorf("expected diagram reference, got %q", qs[0].QuestionImage)
	}
	if !strings.Contains(qs[2].QuestionText, `\frac`) {
		t.Errorf("expected LaTeX to survive healing, got %q", qs[2].QuestionText)
	}
	if job.FileData() != nil {
		t.Error("file data should be released after processing")
	}
}

func TestWorker_PromptsCarryContextPage(t *testing.T) {
	h := newHarness(3, netcheck.Always{}, reply{text: batchOne}, reply{text: batchTwo})
	runJob(h)

	if len(h.gen.prompts) != 2 {
		t.Fatalf("expected 2 prompts, got %d", len(h.gen.prompts))
	}
	if got := h.gen.prompts[0].ImageCount(); got != 2 {
		t.Errorf("first batch: expected 2 images, got %d", got)
	}
	// Second batch: page 2 as context plus page 3.
	if got := h.gen.prompts[1].ImageCount(); got != 2 {
		t.Errorf("second batch: expected 2 images, got %d", got)
	}
}

func TestWorker_RecognizesAllPagesBeforeFirstBatch(t *testing.T) {
	h := newHarness(3, netcheck.Always{}, reply{text: batchOne}, reply{text: batchTwo})
	recognized := -1
	h.gen.onCall = func(call int) {
		if call == 0 {
			h.ocr.mu.Lock()
			recognized = h.ocr.calls
			h.ocr.mu.Unlock()
		}
	}
	runJob(h)

	if recognized != 3 {
		t.Errorf("expected all 3 pages recognized before the first model call, got %d", recognized)
	}
	if h.gen.calls != 2 {
		t.Errorf("expected 2 batches, got %d calls", h.gen.calls)
	}
}

func TestWorker_SkipsOverloadedBatch(t *testing.T) {
	h := newHarness(3, netcheck.Always{},
		reply{err: overloaded}, reply{err: overloaded}, reply{err: overloaded},
		reply{text: batchTwo},
	)
	snap := runJob(h)

	if snap.Status != StatusSuccess {
		t.Fatalf("expected success, got %s (%q)", snap.Status, snap.Message)
	}
	if snap.Progress.BatchesSkipped != 1 || snap.Progress.BatchesProcessed != 1 {
		t.Errorf("unexpected batch progress %+v", snap.Progress)
	}
	if snap.Summary.Total != 2 {
		t.Errorf("expected 2 questions from the surviving batch, got %d", snap.Summary.Total)
	}
	if h.gen.calls != 4 {
		t.Errorf("expected 3 attempts then 1, got %d calls", h.gen.calls)
	}
}

func TestWorker_EmptyResult(t *testing.T) {
	h := newHarness(1, netcheck.Always{}, reply{text: `{"questions":[]}`})
	snap := runJob(h)

	if snap.Status != StatusError || snap.Message != MsgEmptyResult {
		t.Errorf("expected empty-result error, got %s %q", snap.Status, snap.Message)
	}
}

func TestWorker_AllBatchesOverloaded(t *testing.T) {
	h := newHarness(1, netcheck.Always{}, reply{err: overloaded})
	snap := runJob(h)

	if snap.Status != StatusError || snap.Message != MsgEmptyResult {
		t.Errorf("expected empty-result error, got %s %q", snap.Status, snap.Message)
	}
}

func TestWorker_NoConnectivity(t *testing.T) {
	h := newHarness(2, fakeChecker{err: netcheck.ErrNoConnectivity}, reply{text: batchOne})
	snap := runJob(h)

	if snap.Status != StatusError || snap.Message != MsgNoConnectivity {
		t.Errorf("expected connectivity error, got %s %q", snap.Status, snap.Message)
	}
	if h.opened {
		t.Error("document must not be opened without connectivity")
	}
	if h.gen.calls != 0 {
		t.Errorf("model must not be called, got %d calls", h.gen.calls)
	}
}

func TestWorker_FailFastOnStop(t *testing.T) {
	h := newHarness(3, netcheck.Always{}, reply{err: &extract.StoppedError{Reason: "SAFETY"}})
	snap := runJob(h)

	if snap.Status != StatusError || snap.Message != "The AI stopped processing. Reason: SAFETY" {
		t.Errorf("expected stopped message, got %s %q", snap.Status, snap.Message)
	}
	if h.gen.calls != 1 {
		t.Errorf("expected no further batches after a stop, got %d calls", h.gen.calls)
	}
}

func TestWorker_RenderFailure(t *testing.T) {
	h := newHarness(3, netcheck.Always{}, reply{text: batchOne})
	h.doc.failAt = 2
	snap := runJob(h)

	if snap.Status != StatusError || !strings.HasPrefix(snap.Message, "could not read document") {
		t.Errorf("expected document error, got %s %q", snap.Status, snap.Message)
	}
	if h.gen.calls != 0 {
		t.Errorf("model must not be called, got %d calls", h.gen.calls)
	}
}

func TestWorker_OCRFailureDegrades(t *testing.T) {
	h := newHarness(3, netcheck.Always{}, reply{text: batchOne}, reply{text: batchTwo})
	h.ocr.fail[2] = true
	snap := runJob(h)

	if snap.Status != StatusSuccess {
		t.Fatalf("ocr failure should not fail the run, got %s %q", snap.Status, snap.Message)
	}
	if len(snap.Progress.Errors) != 1 || !strings.Contains(snap.Progress.Errors[0], "page 2") {
		t.Errorf("expected the ocr failure recorded, got %v", snap.Progress.Errors)
	}
}

type panickingGenerator struct{}

func (panickingGenerator) Model() string { return "panic" }
func (panickingGenerator) Generate(context.Context, *extract.Prompt) (string, error) {
	panic("boom")
}

func TestWorker_RecoversPanic(t *testing.T) {
	h := newHarness(1, netcheck.Always{}, reply{})
	model, _ := newTestModel(panickingGenerator{})
	h.worker.deps.Model = model
	snap := runJob(h)

	if snap.Status != StatusError || snap.Message != MsgUnexpectedFailed {
		t.Errorf("expected unexpected-error state, got %s %q", snap.Status, snap.Message)
	}
}
