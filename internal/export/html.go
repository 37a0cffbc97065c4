// Package export writes extracted questions as documents.
package export

import (
	"bytes"
	"fmt"
	"html"
	"html/template"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/dgallion1/quizgest/internal/exam"
	"github.com/yuin/goldmark"
)

// mathSpan matches display math before inline math so $$..$$ is not split.
var mathSpan = regexp.MustCompile(`\$\$[\s\S]+?\$\$|\\\[[\s\S]+?\\\]|\\\([\s\S]+?\\\)|\$[^$\n]+?\$`)

const mathToken = "QZMATHSPAN"

// protectMath swaps math spans for inert tokens so markdown leaves them
// alone (underscores and asterisks are common in TeX).
func protectMath(s string) (string, []string) {
	var spans []string
	out := mathSpan.ReplaceAllStringFunc(s, func(m string) string {
		spans = append(spans, m)
		return mathToken + strconv.Itoa(len(spans)-1) + "Z"
	})
	return out, spans
}

func restoreMath(s string, spans []string) string {
	if len(spans) == 0 {
		return s
	}
	pairs := make([]string, 0, 2*len(spans))
	for i, span := range spans {
		pairs = append(pairs, mathToken+strconv.Itoa(i)+"Z", html.EscapeString(span))
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

type renderer struct {
	md goldmark.Markdown
}

func (r renderer) block(s string) (template.HTML, error) {
	protected, spans := protectMath(s)
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(protected), &buf); err != nil {
		return "", fmt.Errorf("render markdown: %w", err)
	}
	return template.HTML(restoreMath(buf.String(), spans)), nil
}

// inline renders s without the wrapping paragraph.
func (r renderer) inline(s string) (template.HTML, error) {
	h, err := r.block(s)
	if err != nil {
		return "", err
	}
	out := strings.TrimSpace(string(h))
	if strings.HasPrefix(out, "<p>") && strings.HasSuffix(out, "</p>") && strings.Count(out, "<p>") == 1 {
		out = out[len("<p>") : len(out)-len("</p>")]
	}
	return template.HTML(out), nil
}

type htmlOption struct {
	HTML    template.HTML
	Correct bool
}

type htmlQuestion struct {
	Number      int
	Page        int
	Text        template.HTML
	Image       template.URL
	Options     []htmlOption
	NeedsReview bool
}

type htmlPage struct {
	Title     string
	Summary   exam.Summary
	Questions []htmlQuestion
}

var pageTmpl = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<title>{{.Title}}</title>
<script>
window.MathJax = {
  tex: {
    inlineMath: [['$', '$'], ['\\(', '\\)']],
    displayMath: [['$$', '$$'], ['\\[', '\\]']],
    processEscapes: true
  }
};
</script>
<script id="MathJax-script" async src="https://cdn.jsdelivr.net/npm/mathjax@3/es5/tex-mml-chtml.js"></script>
<style>
body { font-family: sans-serif; max-width: 50rem; margin: 2rem auto; padding: 0 1rem; }
.question { border-bottom: 1px solid #ddd; padding: 1rem 0; }
.question img { max-width: 100%; border: 1px solid #ccc; }
.options li.correct { font-weight: bold; color: #1a7f37; }
.review { background: #fff3cd; color: #8a6d00; font-size: 0.8rem; padding: 0.1rem 0.4rem; border-radius: 0.2rem; }
.page { color: #777; font-size: 0.8rem; font-weight: normal; }
</style>
</head>
<body>
<h1>{{.Title}}</h1>
<p class="summary">{{.Summary.Total}} questions, {{.Summary.Ready}} ready, {{.Summary.NeedsReview}} need review</p>
{{range .Questions}}
<section class="question" id="q-{{.Page}}-{{.Number}}">
<h2>Question {{.Number}} <span class="page">page {{.Page}}</span>{{if .NeedsReview}} <span class="review">Needs review</span>{{end}}</h2>
<div class="text">{{.Text}}</div>
{{- if .Image}}
<img src="{{.Image}}" alt="Diagram for question {{.Number}}">
{{- end}}
<ol class="options" type="A">
{{- range .Options}}
<li{{if .Correct}} class="correct"{{end}}>{{.HTML}}</li>
{{- end}}
</ol>
</section>
{{- end}}
</body>
</html>
`))

// HTML writes a standalone page that typesets the questions with MathJax.
func HTML(w io.Writer, title string, qs []exam.Question) error {
	r := renderer{md: goldmark.New()}
	page := htmlPage{
		Title:     title,
		Summary:   exam.Summarize(qs),
		Questions: make([]htmlQuestion, 0, len(qs)),
	}
	for _, q := range qs {
		text, err := r.block(q.QuestionText)
		if err != nil {
			return fmt.Errorf("question %d: %w", q.QuestionNumber, err)
		}
		hq := htmlQuestion{
			Number:      q.QuestionNumber,
			Page:        q.PageNumber,
			Text:        text,
			NeedsReview: exam.NeedsReview(q),
		}
		// References come from our own crop store.
		if q.QuestionImage != "" {
			hq.Image = template.URL(q.QuestionImage)
		}
		for i, opt := range q.Options {
			oh, err := r.inline(opt)
			if err != nil {
				return fmt.Errorf("question %d option %d: %w", q.QuestionNumber, i, err)
			}
			hq.Options = append(hq.Options, htmlOption{
				HTML:    oh,
				Correct: i == q.CorrectAnswerIndex,
			})
		}
		page.Questions = append(page.Questions, hq)
	}
	if err := pageTmpl.Execute(w, page); err != nil {
		return fmt.Errorf("write html: %w", err)
	}
	return nil
}
