package export

import (
	"archive/zip"
	"bytes"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fumiama/go-docx"
)

func docxParagraphs(t *testing.T, data []byte) []string {
	t.Helper()
	doc, err := docx.Parse(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("parse docx: %v", err)
	}
	var out []string
	for _, item := range doc.Document.Body.Items {
		para, ok := item.(*docx.Paragraph)
		if !ok {
			continue
		}
		var sb strings.Builder
		for _, child := range para.Children {
			run, ok := child.(*docx.Run)
			if !ok {
				continue
			}
			for _, rc := range run.Children {
				if txt, ok := rc.(*docx.Text); ok {
					sb.WriteString(txt.Text)
				}
			}
		}
		if s := strings.TrimSpace(sb.String()); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func writePNG(t *testing.T, dir string) string {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 20, 20))
	img.Set(5, 5, color.RGBA{B: 255, A: 255})
	path := filepath.Join(dir, "q_img_test.png")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDOCX_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := DOCX(&buf, "Algebra Midterm", sampleQuestions(), nil); err != nil {
		t.Fatalf("DOCX: %v", err)
	}
	paras := docxParagraphs(t, buf.Bytes())
	joined := strings.Join(paras, "\n")

	for _, want := range []string{
		"Algebra Midterm",
		"2 questions, 1 ready, 1 need review",
		"Question 1 (page 1)",
		"Solve $x_1 + x_2 = 3$ for **x**",
		"C. $3$",
		"Question 2 (page 2)",
		"D. triangle",
		"Diagram: https://quiz.example.com/images/q_img_1.png",
	} {
		if !strings.Contains(joined, want) {
			t.Errorf("document missing %q\n%s", want, joined)
		}
	}
}

func TestDOCX_EmbedsResolvedDiagram(t *testing.T) {
	path := writePNG(t, t.TempDir())
	resolve := func(ref string) (string, bool) {
		return path, strings.HasSuffix(ref, "q_img_1.png")
	}

	var buf bytes.Buffer
	if err := DOCX(&buf, "Quiz", sampleQuestions(), resolve); err != nil {
		t.Fatalf("DOCX: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	if err != nil {
		t.Fatalf("open docx zip: %v", err)
	}
	media := 0
	for _, f := range zr.File {
		if strings.HasPrefix(f.Name, "word/media/") {
			media++
		}
	}
	if media != 1 {
		t.Errorf("expected 1 embedded image, got %d", media)
	}
	if strings.Contains(strings.Join(docxParagraphs(t, buf.Bytes()), "\n"), "Diagram:") {
		t.Error("resolved diagram should not fall back to a text reference")
	}
}

func TestDOCX_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := DOCX(&buf, "Empty", nil, nil); err != nil {
		t.Fatalf("DOCX: %v", err)
	}
	paras := docxParagraphs(t, buf.Bytes())
	if len(paras) != 2 || paras[0] != "Empty" {
		t.Errorf("expected title and summary only, got %q", paras)
	}
}
