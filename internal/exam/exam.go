package exam

import (
	"image"
	"sort"
	"strings"
)

// OptionCount is the number of answer options every question carries.
const OptionCount = 4

// Page is one rendered page of the source document.
type Page struct {
	Number    int         // 1-based, contiguous
	OCRText   string      // Recognized text (may be empty)
	TextLayer string      // Embedded text layer, if the source had one
	Image     image.Image // Raster at render scale; owned by the run
}

// BoundingBox is a diagram region in page raster pixels.
type BoundingBox struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// Fits reports whether the box lies entirely inside a w×h raster.
func (b BoundingBox) Fits(w, h int) bool {
	return b.Width > 0 && b.Height > 0 &&
		b.X >= 0 && b.Y >= 0 &&
		b.X+b.Width <= w && b.Y+b.Height <= h
}

// Rect returns the box as an image.Rectangle offset by origin.
func (b BoundingBox) Rect(origin image.Point) image.Rectangle {
	return image.Rect(b.X, b.Y, b.X+b.Width, b.Y+b.Height).Add(origin)
}

// Question is one extracted multiple-choice question.
type Question struct {
	QuestionNumber     int          `json:"questionNumber"`
	PageNumber         int          `json:"pageNumber"`
	QuestionText       string       `json:"questionText,omitempty"`
	QuestionImage      string       `json:"questionImage,omitempty"`
	Options            []string     `json:"options"`
	CorrectAnswerIndex int          `json:"correctAnswerIndex"`
	BoundingBox        *BoundingBox `json:"boundingBox,omitempty"`
	ContainsLatex      bool         `json:"contains_latex"`
	IsDiagram          bool         `json:"is_diagram"`
}

// NeedsReview reports whether a human has to look at the question before use:
// no answer was detected, or at least one option is blank.
func NeedsReview(q Question) bool {
	if q.CorrectAnswerIndex == -1 {
		return true
	}
	for _, o := range q.Options {
		if strings.TrimSpace(o) == "" {
			return true
		}
	}
	return false
}

// Summary counts questions by review state.
type Summary struct {
	Total       int `json:"total"`
	Ready       int `json:"ready"`
	NeedsReview int `json:"needs_review"`
}

func Summarize(qs []Question) Summary {
	s := Summary{Total: len(qs)}
	for _, q := range qs {
		if NeedsReview(q) {
			s.NeedsReview++
		}
	}
	s.Ready = s.Total - s.NeedsReview
	return s
}

// Aggregate de-duplicates questions by trimmed text, keeping the first
// occurrence, then stable-sorts by (page, question number).
func Aggregate(qs []Question) []Question {
	seen := make(map[string]struct{}, len(qs))
	out := make([]Question, 0, len(qs))
	for _, q := range qs {
		key := strings.TrimSpace(q.QuestionText)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, q)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PageNumber != out[j].PageNumber {
			return out[i].PageNumber < out[j].PageNumber
		}
		return out[i].QuestionNumber < out[j].QuestionNumber
	})
	return out
}
