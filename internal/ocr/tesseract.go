package ocr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/dgallion1/quizgest/internal/exam"
)

// Tesseract runs the tesseract executable on the page PNG.
type Tesseract struct {
	Path     string // defaults to "tesseract" on PATH
	Language string // defaults to "eng"
}

func (t *Tesseract) Name() string { return "tesseract" }

func (t *Tesseract) Recognize(ctx context.Context, page exam.Page) (string, error) {
	data, err := encodePNG(page.Image)
	if err != nil {
		return "", err
	}
	path := t.Path
	if path == "" {
		path = "tesseract"
	}
	lang := t.Language
	if lang == "" {
		lang = "eng"
	}

	cmd := exec.CommandContext(ctx, path, "stdin", "stdout", "-l", lang)
	cmd.Stdin = bytes.NewReader(data)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		return "", fmt.Errorf("tesseract page %d: %w: %s", page.Number, err, strings.TrimSpace(stderr.String()))
	}
	return clean(string(out)), nil
}
