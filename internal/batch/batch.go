package batch

import "github.com/dgallion1/quizgest/internal/exam"

// DefaultSize is the number of new pages per batch.
const DefaultSize = 15

// Batch is a run of consecutive pages sent to the model together.
type Batch struct {
	Index int
	// Context is the last page of the previous batch, repeated read-only
	// so questions spanning a page break can be resolved. Nil for the first batch.
	Context *exam.Page
	Pages   []exam.Page
}

// All returns the pages in prompt order: context page first, if any.
func (b Batch) All() []exam.Page {
	if b.Context == nil {
		return b.Pages
	}
	all := make([]exam.Page, 0, len(b.Pages)+1)
	all = append(all, *b.Context)
	return append(all, b.Pages...)
}

// PageRange returns the first and last new page numbers.
func (b Batch) PageRange() (first, last int) {
	if len(b.Pages) == 0 {
		return 0, 0
	}
	return b.Pages[0].Number, b.Pages[len(b.Pages)-1].Number
}

// Plan splits pages into consecutive chunks of at most size pages. Every
// batch after the first carries the previous chunk's last page as context.
func Plan(pages []exam.Page, size int) []Batch {
	if size <= 0 {
		size = DefaultSize
	}
	var batches []Batch
	for start := 0; start < len(pages); start += size {
		end := min(start+size, len(pages))
		b := Batch{Index: len(batches), Pages: pages[start:end:end]}
		if start > 0 {
			b.Context = &pages[start-1]
		}
		batches = append(batches, b)
	}
	return batches
}
