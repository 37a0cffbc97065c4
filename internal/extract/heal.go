package extract

import (
	"encoding/json"
	"fmt"
	"image"
	"image/draw"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/dgallion1/quizgest/internal/exam"
)

// ImageLookup returns the source raster for a page number.
type ImageLookup func(page int) (image.Image, bool)

// CropStore persists a cropped diagram and returns a reference to it.
type CropStore interface {
	Save(img image.Image) (string, error)
}

// Healer turns raw model output into questions, isolating faults to the
// smallest unit: a bad payload costs one batch, a bad entry costs one question.
type Healer struct {
	store CropStore
	log   *slog.Logger
}

func NewHealer(store CropStore, log *slog.Logger) *Healer {
	if log == nil {
		log = slog.Default()
	}
	return &Healer{store: store, log: log}
}

// StripCodeFences removes Markdown code fences anywhere in the text.
func StripCodeFences(s string) string {
	s = strings.ReplaceAll(s, "```json", "")
	s = strings.ReplaceAll(s, "```", "")
	return strings.TrimSpace(s)
}

// SanitizeLatex doubles every backslash that starts a run of ASCII letters
// and is not itself preceded by a backslash, so LaTeX control sequences
// such as \frac survive JSON decoding. Already doubled sequences are left
// alone, which makes the operation idempotent.
//
// JSON escapes that happen to be letters (\n, \t, é) are doubled too
// and decode as literal text.
func SanitizeLatex(s string) string {
	var sb strings.Builder
	sb.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '\\' && (i == 0 || s[i-1] != '\\') && i+1 < len(s) && isASCIILetter(s[i+1]) {
			sb.WriteString(`\\`)
			j := i + 1
			for j < len(s) && isASCIILetter(s[j]) {
				j++
			}
			sb.WriteString(s[i+1 : j])
			i = j - 1
			continue
		}
		sb.WriteByte(c)
	}
	return sb.String()
}

func isASCIILetter(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// Heal parses a batch response. It never fails: an unparsable payload
// yields no questions and a malformed entry is skipped.
func (h *Healer) Heal(raw string, lookup ImageLookup) []exam.Question {
	entries, err := questionEntries(SanitizeLatex(StripCodeFences(raw)))
	if err != nil {
		h.log.Warn("unparsable model payload, batch yields no questions",
			"error", err, "excerpt", truncate(raw, 300))
		return nil
	}

	schema, err := questionSchema()
	if err != nil {
		h.log.Error("question schema unavailable", "error", err)
		return nil
	}

	questions := make([]exam.Question, 0, len(entries))
	for i, entry := range entries {
		var doc any
		if err := json.Unmarshal(entry, &doc); err != nil {
			h.log.Warn("skipping malformed question", "index", i, "error", err)
			continue
		}
		if err := schema.Validate(doc); err != nil {
			h.log.Warn("skipping malformed question", "index", i, "error", err)
			continue
		}
		q, err := questionFromMap(doc.(map[string]any))
		if err != nil {
			h.log.Warn("skipping malformed question", "index", i, "error", err)
			continue
		}
		h.attachCrop(&q, lookup)
		questions = append(questions, q)
	}
	return questions
}

// questionEntries locates the "questions" array. A missing array is an
// empty batch; anything else that does not decode is an error.
func questionEntries(payload string) ([]json.RawMessage, error) {
	var top struct {
		Questions json.RawMessage `json:"questions"`
	}
	if err := json.Unmarshal([]byte(payload), &top); err != nil {
		candidate := extractJSONObject(payload)
		if candidate == "" {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
		if err2 := json.Unmarshal([]byte(candidate), &top); err2 != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if len(top.Questions) == 0 {
		return nil, nil
	}
	var entries []json.RawMessage
	if err := json.Unmarshal(top.Questions, &entries); err != nil {
		return nil, fmt.Errorf("questions is not an array: %w", err)
	}
	return entries, nil
}

// extractJSONObject returns the outermost {...} span, for payloads wrapped
// in prose.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return ""
	}
	return s[start : end+1]
}

func questionFromMap(m map[string]any) (exam.Question, error) {
	var q exam.Question
	var err error

	if q.QuestionNumber, err = intField(m, "questionNumber", 0); err != nil {
		return q, err
	}
	if q.PageNumber, err = intField(m, "pageNumber", 0); err != nil {
		return q, err
	}
	if q.CorrectAnswerIndex, err = intField(m, "correctAnswerIndex", -1); err != nil {
		return q, err
	}
	if q.ContainsLatex, err = boolField(m, "contains_latex"); err != nil {
		return q, err
	}
	if q.IsDiagram, err = boolField(m, "is_diagram"); err != nil {
		return q, err
	}
	if v, ok := m["questionText"]; ok && v != nil {
		q.QuestionText = scalarText(v)
	}

	q.Options = make([]string, exam.OptionCount)
	if raw, ok := m["options"].([]any); ok {
		for i := 0; i < len(raw) && i < exam.OptionCount; i++ {
			if raw[i] != nil {
				q.Options[i] = scalarText(raw[i])
			}
		}
	}

	if box, ok := m["boundingBox"].(map[string]any); ok && q.IsDiagram {
		var b exam.BoundingBox
		if b.X, err = intField(box, "x", 0); err != nil {
			return q, err
		}
		if b.Y, err = intField(box, "y", 0); err != nil {
			return q, err
		}
		if b.Width, err = intField(box, "width", 0); err != nil {
			return q, err
		}
		if b.Height, err = intField(box, "height", 0); err != nil {
			return q, err
		}
		q.BoundingBox = &b
	}
	return q, nil
}

func intField(m map[string]any, key string, def int) (int, error) {
	switch v := m[key].(type) {
	case nil:
		return def, nil
	case float64:
		if v != math.Trunc(v) || math.Abs(v) > math.MaxInt32 {
			return 0, fmt.Errorf("%s: %v is not an integer", key, v)
		}
		return int(v), nil
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return 0, fmt.Errorf("%s: %q is not an integer", key, v)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}

func boolField(m map[string]any, key string) (bool, error) {
	switch v := m[key].(type) {
	case nil:
		return false, nil
	case bool:
		return v, nil
	case string:
		switch v {
		case "true":
			return true, nil
		case "false":
			return false, nil
		}
		return false, fmt.Errorf("%s: %q is not a boolean", key, v)
	default:
		return false, fmt.Errorf("%s: unexpected type %T", key, v)
	}
}

func scalarText(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprint(v)
	}
}

func (h *Healer) attachCrop(q *exam.Question, lookup ImageLookup) {
	if !q.IsDiagram || q.BoundingBox == nil || lookup == nil || h.store == nil {
		return
	}
	src, ok := lookup(q.PageNumber)
	if !ok || src == nil {
		h.log.Debug("no source image for diagram", "page", q.PageNumber, "question", q.QuestionNumber)
		return
	}
	bounds := src.Bounds()
	if !q.BoundingBox.Fits(bounds.Dx(), bounds.Dy()) {
		h.log.Info("diagram box outside page raster, not cropping",
			"page", q.PageNumber, "question", q.QuestionNumber,
			"box", *q.BoundingBox, "raster_w", bounds.Dx(), "raster_h", bounds.Dy())
		return
	}
	ref, err := h.store.Save(crop(src, q.BoundingBox.Rect(bounds.Min)))
	if err != nil {
		h.log.Warn("saving diagram crop failed", "page", q.PageNumber, "question", q.QuestionNumber, "error", err)
		return
	}
	q.QuestionImage = ref
}

func crop(src image.Image, r image.Rectangle) image.Image {
	if s, ok := src.(interface {
		SubImage(image.Rectangle) image.Image
	}); ok {
		return s.SubImage(r)
	}
	dst := image.NewRGBA(image.Rect(0, 0, r.Dx(), r.Dy()))
	draw.Draw(dst, dst.Bounds(), src, r.Min, draw.Src)
	return dst
}
