package export

import (
	"fmt"
	"io"

	"github.com/dgallion1/quizgest/internal/exam"
	"github.com/fumiama/go-docx"
)

// Resolver maps a question image reference to a local file.
type Resolver func(ref string) (path string, ok bool)

// DOCX writes the questions as a Word document. Diagrams are embedded when
// resolve finds them on disk; otherwise the reference is written as text.
func DOCX(w io.Writer, title string, qs []exam.Question, resolve Resolver) error {
	doc := docx.New().WithDefaultTheme()

	doc.AddParagraph().AddText(title).Size("36").Bold()
	s := exam.Summarize(qs)
	doc.AddParagraph().AddText(fmt.Sprintf("%d questions, %d ready, %d need review", s.Total, s.Ready, s.NeedsReview)).Color("666666")

	for _, q := range qs {
		head := doc.AddParagraph()
		head.AddText(fmt.Sprintf("Question %d (page %d)", q.QuestionNumber, q.PageNumber)).Bold().Size("26")
		if exam.NeedsReview(q) {
			head.AddText("  Needs review").Color("B8860B")
		}

		if q.QuestionText != "" {
			doc.AddParagraph().AddText(q.QuestionText)
		}

		if q.QuestionImage != "" {
			if err := addDiagram(doc, q.QuestionImage, resolve); err != nil {
				return fmt.Errorf("question %d: %w", q.QuestionNumber, err)
			}
		}

		for i, opt := range q.Options {
			run := doc.AddParagraph().AddText(fmt.Sprintf("%s. %s", optionLetter(i), opt))
			if i == q.CorrectAnswerIndex {
				run.Bold().Color("1A7F37")
			}
		}
		doc.AddParagraph()
	}

	if _, err := doc.WriteTo(w); err != nil {
		return fmt.Errorf("write docx: %w", err)
	}
	return nil
}

func addDiagram(doc *docx.Docx, ref string, resolve Resolver) error {
	if resolve != nil {
		if path, ok := resolve(ref); ok {
			if _, err := doc.AddParagraph().AddInlineDrawingFrom(path); err != nil {
				return fmt.Errorf("embed diagram: %w", err)
			}
			return nil
		}
	}
	doc.AddParagraph().AddText("Diagram: " + ref).Color("666666")
	return nil
}

func optionLetter(i int) string {
	return string(rune('A' + i))
}
