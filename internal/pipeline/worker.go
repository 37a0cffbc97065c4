package pipeline

import (
	"context"
	"fmt"
	"image"
	"iter"
	"log/slog"

	"github.com/dgallion1/quizgest/internal/batch"
	"github.com/dgallion1/quizgest/internal/exam"
	"github.com/dgallion1/quizgest/internal/extract"
	"github.com/dgallion1/quizgest/internal/netcheck"
	"github.com/dgallion1/quizgest/internal/ocr"
	"github.com/dgallion1/quizgest/internal/render"
)

// PageSource yields the rendered pages of one document.
type PageSource interface {
	NumPages() int
	Pages(ctx context.Context) iter.Seq2[exam.Page, error]
	Close() error
}

// Deps are the collaborators a Worker drives.
type Deps struct {
	Checker    netcheck.Checker
	Recognizer ocr.Recognizer
	Model      *ModelClient
	Healer     *extract.Healer
	Render     render.Options
	BatchSize  int
	Log        *slog.Logger

	// Open defaults to render.Open.
	Open func(data []byte, name string) (PageSource, error)
}

// Worker converts one uploaded document into questions.
type Worker struct {
	deps Deps
	log  *slog.Logger
}

func NewWorker(deps Deps) *Worker {
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	if deps.Checker == nil {
		deps.Checker = netcheck.Always{}
	}
	if deps.Recognizer == nil {
		deps.Recognizer = ocr.TextLayer{}
	}
	if deps.BatchSize <= 0 {
		deps.BatchSize = batch.DefaultSize
	}
	if deps.Open == nil {
		opts := deps.Render
		if opts.Log == nil {
			opts.Log = deps.Log
		}
		deps.Open = func(data []byte, name string) (PageSource, error) {
			return render.Open(data, name, opts)
		}
	}
	return &Worker{deps: deps, log: deps.Log}
}

// Process runs the job to a terminal state. It never panics.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID, "filename", job.Filename)
	defer job.ReleaseFileData()
	defer func() {
		if r := recover(); r != nil {
			log.Error("worker panic", "panic", r)
			job.AddError(fmt.Sprintf("panic: %v", r))
			job.Fail(MsgUnexpectedFailed)
		}
	}()

	job.SetStatus(StatusLoading, PhaseNetwork)
	questions, err := w.run(ctx, job, log)
	if err != nil {
		log.Error("extraction failed", "error", err)
		job.AddError(err.Error())
		job.Fail(Message(err))
		return
	}
	log.Info("extraction complete", "questions", len(questions))
	job.Succeed(questions)
}

func (w *Worker) run(ctx context.Context, job *Job, log *slog.Logger) ([]exam.Question, error) {
	if err := w.deps.Checker.Check(ctx); err != nil {
		return nil, err
	}

	job.SetPhase(PhaseRendering)
	doc, err := w.deps.Open(job.FileData(), job.Filename)
	if err != nil {
		return nil, err
	}
	defer doc.Close()
	job.SetTotalPages(doc.NumPages())

	pages, err := w.recognize(ctx, job, doc, log)
	if err != nil {
		return nil, err
	}
	// Page images are only needed until the last crop.
	defer clear(pages)

	job.SetPhase(PhaseExtracting)
	batches := batch.Plan(pages, w.deps.BatchSize)
	job.SetTotalBatches(len(batches))
	log.Info("planned batches", "pages", len(pages), "batches", len(batches), "model", w.deps.Model.Model())

	var all []exam.Question
	for _, b := range batches {
		qs, err := w.extractBatch(ctx, b, log)
		if err != nil {
			return nil, err
		}
		if qs == nil {
			job.BatchSkipped()
			continue
		}
		job.BatchDone(len(qs))
		all = append(all, qs...)
	}

	result := exam.Aggregate(all)
	if len(result) == 0 {
		return nil, ErrEmptyResult
	}
	return result, nil
}

// recognize renders every page and attaches its text. An OCR failure
// leaves the page without text rather than failing the run.
func (w *Worker) recognize(ctx context.Context, job *Job, doc PageSource, log *slog.Logger) ([]exam.Page, error) {
	pages := make([]exam.Page, 0, doc.NumPages())
	for page, err := range doc.Pages(ctx) {
		if err != nil {
			return nil, err
		}
		if len(pages) == 0 {
			job.SetPhase(PhaseRecognizing)
		}
		text, err := w.deps.Recognizer.Recognize(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Warn("ocr failed, continuing without text",
				"page", page.Number, "recognizer", w.deps.Recognizer.Name(), "error", err)
			job.AddError(fmt.Sprintf("page %d ocr: %s", page.Number, err))
			text = ""
		}
		page.OCRText = text
		pages = append(pages, page)
		job.IncrPagesRecognized()
	}
	return pages, nil
}

// extractBatch returns nil, nil when the model stayed overloaded.
func (w *Worker) extractBatch(ctx context.Context, b batch.Batch, log *slog.Logger) ([]exam.Question, error) {
	first, last := b.PageRange()
	log = log.With("batch", b.Index, "first_page", first, "last_page", last)

	prompt, err := extract.BuildBatchPrompt(b)
	if err != nil {
		return nil, fmt.Errorf("build prompt for batch %d: %w", b.Index, err)
	}
	raw, ok, err := w.deps.Model.Submit(ctx, prompt)
	if err != nil {
		return nil, fmt.Errorf("batch %d: %w", b.Index, err)
	}
	if !ok {
		log.Warn("batch skipped")
		return nil, nil
	}

	images := make(map[int]image.Image, len(b.Pages)+1)
	for _, p := range b.All() {
		images[p.Number] = p.Image
	}
	qs := w.deps.Healer.Heal(raw, func(page int) (image.Image, bool) {
		img, ok := images[page]
		return img, ok && img != nil
	})
	log.Info("batch extracted", "questions", len(qs))
	if qs == nil {
		qs = []exam.Question{}
	}
	return qs, nil
}
