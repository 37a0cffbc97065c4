// Package ocr turns page rasters into text.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"
	"time"
	"unicode"

	"github.com/avast/retry-go/v4"
	"github.com/dgallion1/quizgest/internal/exam"
	"github.com/dgallion1/quizgest/internal/extract"
)

// Recognizer returns the text visible on a page.
type Recognizer interface {
	Recognize(ctx context.Context, page exam.Page) (string, error)
	Name() string
}

// TextLayer returns the page's embedded text without looking at pixels.
type TextLayer struct{}

func (TextLayer) Name() string { return "textlayer" }

func (TextLayer) Recognize(_ context.Context, page exam.Page) (string, error) {
	return page.TextLayer, nil
}

// Tiered prefers the embedded text layer and falls back to pixel OCR when
// the layer has fewer than MinChars non-space characters.
type Tiered struct {
	Fallback Recognizer
	MinChars int
}

func (t *Tiered) Name() string { return "textlayer+" + t.Fallback.Name() }

func (t *Tiered) Recognize(ctx context.Context, page exam.Page) (string, error) {
	if countNonSpace(page.TextLayer) >= max(t.MinChars, 1) {
		return page.TextLayer, nil
	}
	return t.Fallback.Recognize(ctx, page)
}

func countNonSpace(s string) int {
	n := 0
	for _, r := range s {
		if !unicode.IsSpace(r) {
			n++
		}
	}
	return n
}

// Retrying retries transient failures of Next with doubling delays.
type Retrying struct {
	Next     Recognizer
	Attempts uint
	Delay    time.Duration
	Log      *slog.Logger

	timer retry.Timer
}

func (r *Retrying) Name() string { return r.Next.Name() }

func (r *Retrying) Recognize(ctx context.Context, page exam.Page) (string, error) {
	attempts := r.Attempts
	if attempts == 0 {
		attempts = 3
	}
	delay := r.Delay
	if delay <= 0 {
		delay = 2 * time.Second
	}
	log := r.Log
	if log == nil {
		log = slog.Default()
	}

	opts := []retry.Option{
		retry.Context(ctx),
		retry.Attempts(attempts),
		retry.Delay(delay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(extract.IsRetryable),
		retry.OnRetry(func(n uint, err error) {
			log.Warn("ocr transient failure", "recognizer", r.Next.Name(), "page", page.Number, "attempt", n+1, "error", err)
		}),
	}
	if r.timer != nil {
		opts = append(opts, retry.WithTimer(r.timer))
	}
	return retry.DoWithData(func() (string, error) {
		return r.Next.Recognize(ctx, page)
	}, opts...)
}

func encodePNG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("page has no image")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

func clean(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "\r\n", "\n"))
}
