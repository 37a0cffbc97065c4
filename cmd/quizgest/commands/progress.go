package commands

import (
	"fmt"
	"io"

	"github.com/dgallion1/quizgest/internal/pipeline"
	"github.com/schollz/progressbar/v3"
)

// progressView renders job snapshots as a single progress bar. Page
// recognition and batch extraction each count as one step.
type progressView struct {
	bar *progressbar.ProgressBar
	max int64
}

func newProgressView(w io.Writer) *progressView {
	bar := progressbar.NewOptions64(
		-1,
		progressbar.OptionSetWidth(40),
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("queued"),
		progressbar.OptionShowCount(),
		progressbar.OptionSpinnerType(14),
		progressbar.OptionSetRenderBlankState(true),
		progressbar.OptionOnCompletion(func() {
			fmt.Fprint(w, "\n")
		}),
	)
	return &progressView{bar: bar, max: -1}
}

// steps returns completed and total steps for snap; total is -1 until
// the page count is known.
func steps(snap pipeline.JobSnapshot) (done, total int64) {
	p := snap.Progress
	if p.TotalPages == 0 {
		return 0, -1
	}
	total = int64(p.TotalPages)
	if p.TotalBatches > 0 {
		total += int64(p.TotalBatches)
	} else {
		// Batches are not planned yet; assume at least one.
		total++
	}
	done = int64(p.PagesRecognized + p.BatchesProcessed + p.BatchesSkipped)
	return min(done, total), total
}

func (v *progressView) update(snap pipeline.JobSnapshot) {
	done, total := steps(snap)
	if total != v.max {
		v.bar.ChangeMax64(total)
		v.max = total
	}
	v.bar.Describe(describe(snap))
	if total > 0 {
		_ = v.bar.Set64(done)
	}
}

func (v *progressView) finish() {
	_ = v.bar.Finish()
}

func describe(snap pipeline.JobSnapshot) string {
	p := snap.Progress
	switch snap.Phase {
	case pipeline.PhaseRecognizing:
		return fmt.Sprintf("reading pages %d/%d", p.PagesRecognized, p.TotalPages)
	case pipeline.PhaseExtracting:
		return fmt.Sprintf("extracting batch %d/%d", min(p.BatchesProcessed+p.BatchesSkipped+1, p.TotalBatches), p.TotalBatches)
	case "":
		return string(snap.Status)
	default:
		return snap.Phase
	}
}
