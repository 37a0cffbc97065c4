package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/dgallion1/quizgest/internal/exam"
	"github.com/gen2brain/go-fitz"
	pdflib "github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultDPI renders at 2x the 72pt native page size.
const DefaultDPI = 144

// DocumentError reports an unreadable input document. It aborts the run.
type DocumentError struct {
	Op   string
	Page int // 0 when not page specific
	Err  error
}

func (e *DocumentError) Error() string {
	if e.Page > 0 {
		return fmt.Sprintf("could not read document: %s page %d: %v", e.Op, e.Page, e.Err)
	}
	return fmt.Sprintf("could not read document: %s: %v", e.Op, e.Err)
}

func (e *DocumentError) Unwrap() error { return e.Err }

// Options controls rendering.
type Options struct {
	DPI      float64
	MaxPages int // 0 means unlimited
	Log      *slog.Logger
}

// Document is an opened PDF or image ready for rasterization.
type Document struct {
	Name string

	doc      *fitz.Document
	dpi      float64
	numPages int
	text     []string // embedded text layer, indexed by page-1
	log      *slog.Logger
}

var supportedTypes = map[string]bool{
	"application/pdf": true,
	"image/png":       true,
	"image/jpeg":      true,
}

var supportedExts = map[string]bool{
	".pdf":  true,
	".png":  true,
	".jpg":  true,
	".jpeg": true,
}

// IsSupportedExtension checks if a filename has an accepted extension.
func IsSupportedExtension(filename string) bool {
	return supportedExts[strings.ToLower(filepath.Ext(filename))]
}

// Open validates data and prepares it for rendering. The caller must Close it.
func Open(data []byte, name string, opts Options) (*Document, error) {
	if opts.DPI <= 0 {
		opts.DPI = DefaultDPI
	}
	if opts.Log == nil {
		opts.Log = slog.Default()
	}
	if len(data) == 0 {
		return nil, &DocumentError{Op: "open", Err: errors.New("empty document")}
	}
	kind := http.DetectContentType(data)
	if !supportedTypes[kind] {
		return nil, &DocumentError{Op: "open", Err: fmt.Errorf("unsupported content type %s", kind)}
	}

	isPDF := kind == "application/pdf"
	if isPDF {
		if n, err := api.PageCount(bytes.NewReader(data), nil); err != nil {
			opts.Log.Debug("pdf preflight failed, deferring to renderer", "name", name, "error", err)
		} else if opts.MaxPages > 0 && n > opts.MaxPages {
			return nil, &DocumentError{Op: "open", Err: fmt.Errorf("document has %d pages, limit is %d", n, opts.MaxPages)}
		}
	}

	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return nil, &DocumentError{Op: "open", Err: err}
	}
	n := doc.NumPage()
	if n <= 0 {
		doc.Close()
		return nil, &DocumentError{Op: "open", Err: errors.New("document has no pages")}
	}
	if opts.MaxPages > 0 && n > opts.MaxPages {
		doc.Close()
		return nil, &DocumentError{Op: "open", Err: fmt.Errorf("document has %d pages, limit is %d", n, opts.MaxPages)}
	}

	d := &Document{
		Name:     name,
		doc:      doc,
		dpi:      opts.DPI,
		numPages: n,
		log:      opts.Log,
	}
	if isPDF {
		d.text = readTextLayer(data, n, opts.Log)
	}
	return d, nil
}

// NumPages returns the page count.
func (d *Document) NumPages() int { return d.numPages }

// Pages lazily renders each page in order. Iteration stops at the first
// failure, which is yielded as a *DocumentError.
func (d *Document) Pages(ctx context.Context) iter.Seq2[exam.Page, error] {
	return func(yield func(exam.Page, error) bool) {
		for i := range d.numPages {
			if err := ctx.Err(); err != nil {
				yield(exam.Page{}, err)
				return
			}
			img, err := d.doc.ImageDPI(i, d.dpi)
			if err != nil {
				yield(exam.Page{}, &DocumentError{Op: "render", Page: i + 1, Err: err})
				return
			}
			page := exam.Page{
				Number:    i + 1,
				Image:     img,
				TextLayer: d.pageText(i),
			}
			if !yield(page, nil) {
				return
			}
		}
	}
}

func (d *Document) pageText(i int) string {
	if i < len(d.text) && d.text[i] != "" {
		return d.text[i]
	}
	if d.text == nil {
		return ""
	}
	text, err := d.doc.Text(i)
	if err != nil {
		d.log.Debug("text layer fallback failed", "page", i+1, "error", err)
		return ""
	}
	return strings.TrimSpace(text)
}

// Close releases the native document handle.
func (d *Document) Close() error {
	if d.doc == nil {
		return nil
	}
	err := d.doc.Close()
	d.doc = nil
	return err
}

// readTextLayer extracts each page's embedded text. Scanned documents
// typically have none; failures leave the affected pages empty.
func readTextLayer(data []byte, numPages int, log *slog.Logger) (texts []string) {
	texts = make([]string, numPages)
	defer func() {
		if r := recover(); r != nil {
			log.Warn("text layer extraction panicked", "panic", r)
		}
	}()

	reader, err := pdflib.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		log.Debug("no readable text layer", "error", err)
		return texts
	}
	for i := 1; i <= min(reader.NumPage(), numPages); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		texts[i-1] = strings.TrimSpace(text)
	}
	return texts
}
