package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"strings"

	"github.com/dgallion1/quizgest/internal/batch"
)

// ExtractionPrompt is the fixed instruction block that opens every batch.
var ExtractionPrompt = strings.Join([]string{
	"You are an expert AI system that analyzes a batch of test paper pages and extracts all questions into a single, structured JSON object.",
	"",
	"**GOLDEN RULE FOR JSON:** Your output MUST be a single, perfectly valid JSON object.",
	`- A double quote character (") inside a JSON string value MUST be escaped with a backslash (\").`,
	`- A backslash character (\) inside a JSON string value MUST be escaped with another backslash (\\).`,
	"",
	"**CRITICAL RULES:**",
	"1.  **Find Correct Answer:** The correct answer is marked with a green checkmark icon (✓). Use this visual clue from the IMAGE to set the 0-based `correctAnswerIndex`. If no checkmark is visible, use -1.",
	"2.  **Handle Math for MathJax:** Convert ALL mathematical notation into valid LaTeX. Use single dollar signs `$` for inline math and double dollar signs `$$` for display math.",
	"3.  **Handle Missing Options:** You MUST provide exactly four options. If you find fewer, generate plausible but incorrect options to fill the remaining slots.",
	"4.  **Diagrams vs. Text:**",
	`    - A question is a "diagram" ONLY if it contains a circuit, graph, or chart.`,
	"    - If it is a diagram, set `\"is_diagram\": true` and provide a `boundingBox`.",
	"    - If it is NOT a diagram, set `\"is_diagram\": false` and DO NOT provide a `boundingBox`.",
	"5.  **Page Number:** For every question, you MUST correctly report its `pageNumber`.",
	`6.  **No Nulls:** You MUST NOT use ` + "`null`" + ` values. Use an empty string "" for missing text.`,
	"",
	"**JSON OUTPUT SPECIFICATION:**",
	`- "questionNumber": (Integer)`,
	`- "pageNumber": (Integer)`,
	`- "questionText": (String)`,
	`- "options": (Array of 4 Strings)`,
	`- "correctAnswerIndex": (Integer)`,
	`- "contains_latex": (Boolean)`,
	`- "is_diagram": (Boolean)`,
	`- "boundingBox": (Object, optional) - ONLY if ` + "`is_diagram`" + ` is true.`,
	"",
	"Now, process the entire sequence of images and text provided.",
}, "\n")

// Part is one element of a multimodal prompt: either text or an image.
type Part struct {
	Text     string
	Image    []byte
	MIMEType string
}

// IsImage reports whether the part carries image bytes.
func (p Part) IsImage() bool { return len(p.Image) > 0 }

// Prompt is an ordered multimodal message.
type Prompt struct {
	Parts []Part
}

// ImageCount returns the number of image parts.
func (p *Prompt) ImageCount() int {
	n := 0
	for _, part := range p.Parts {
		if part.IsImage() {
			n++
		}
	}
	return n
}

// OCRHeader labels the recognized text that follows each page image.
func OCRHeader(page int) string {
	return fmt.Sprintf("--- OCR TEXT FOR PAGE %d ---\n", page)
}

const jpegQuality = 90

// BuildBatchPrompt creates the instruction block followed by an
// (image, OCR text) pair for every page in the batch, context page first.
func BuildBatchPrompt(b batch.Batch) (*Prompt, error) {
	pages := b.All()
	p := &Prompt{Parts: make([]Part, 0, 1+2*len(pages))}
	p.Parts = append(p.Parts, Part{Text: ExtractionPrompt})
	for _, page := range pages {
		img, err := encodeJPEG(page.Image)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", page.Number, err)
		}
		p.Parts = append(p.Parts,
			Part{Image: img, MIMEType: "image/jpeg"},
			Part{Text: OCRHeader(page.Number) + page.OCRText},
		)
	}
	return p, nil
}

func encodeJPEG(img image.Image) ([]byte, error) {
	if img == nil {
		return nil, fmt.Errorf("missing page image")
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
