package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/dgallion1/quizgest/internal/app"
	"github.com/dgallion1/quizgest/internal/exam"
	"github.com/dgallion1/quizgest/internal/export"
	"github.com/dgallion1/quizgest/internal/pipeline"
	"github.com/dgallion1/quizgest/internal/render"
	"github.com/spf13/cobra"
)

var (
	outPath   string
	htmlPath  string
	docxPath  string
	title     string
	batchSize int
	noBar     bool
)

var extractCmd = &cobra.Command{
	Use:   "extract FILE",
	Short: "Extract multiple-choice questions from a PDF or page image",
	Long: `Extract renders every page of FILE, reads its text, and sends overlapping
batches of pages to the configured model. Questions are written as JSON to
stdout (or --out); --html and --docx write printable copies.`,
	Args: cobra.ExactArgs(1),
	RunE: runExtract,
}

func init() {
	extractCmd.Flags().StringVarP(&outPath, "out", "o", "", "write questions JSON here instead of stdout")
	extractCmd.Flags().StringVar(&htmlPath, "html", "", "also write an HTML page (MathJax) here")
	extractCmd.Flags().StringVar(&docxPath, "docx", "", "also write a Word document here")
	extractCmd.Flags().StringVar(&title, "title", "", "document title for exports (default: file name)")
	extractCmd.Flags().IntVar(&batchSize, "batch-size", 0, "pages per model request (default from config)")
	extractCmd.Flags().BoolVar(&noBar, "no-progress", false, "disable the progress bar")
	rootCmd.AddCommand(extractCmd)
}

func runExtract(cmd *cobra.Command, args []string) error {
	path := args[0]
	if !render.IsSupportedExtension(path) {
		return fmt.Errorf("unsupported file type: %s", filepath.Ext(path))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if batchSize > 0 {
		cfg.BatchSize = batchSize
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, cliLogger(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	name := filepath.Base(path)
	docTitle := title
	if docTitle == "" {
		docTitle = strings.TrimSuffix(name, filepath.Ext(name))
	}
	job := pipeline.NewJob(name, docTitle, data)

	updates, cancel := job.Subscribe()
	defer cancel()
	go a.Worker.Process(ctx, job)

	var view *progressView
	if !noBar {
		view = newProgressView(cmd.ErrOrStderr())
	}
	var final pipeline.JobSnapshot
	for snap := range updates {
		if view != nil {
			view.update(snap)
		}
		final = snap
	}
	if view != nil {
		view.finish()
	}

	if final.Status != pipeline.StatusSuccess {
		if final.Message == "" {
			return errors.New(pipeline.MsgUnexpectedFailed)
		}
		return errors.New(final.Message)
	}

	qs := job.Questions()
	if err := writeOutputs(cmd.OutOrStdout(), docTitle, qs, a.Cache.Resolve); err != nil {
		return err
	}
	printSummary(cmd.ErrOrStderr(), final)
	return nil
}

func writeOutputs(stdout io.Writer, docTitle string, qs []exam.Question, resolve export.Resolver) error {
	if err := writeFile(outPath, stdout, func(w io.Writer) error {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(qs)
	}); err != nil {
		return fmt.Errorf("write questions: %w", err)
	}
	if htmlPath != "" {
		if err := writeFile(htmlPath, nil, func(w io.Writer) error {
			return export.HTML(w, docTitle, qs)
		}); err != nil {
			return err
		}
	}
	if docxPath != "" {
		if err := writeFile(docxPath, nil, func(w io.Writer) error {
			return export.DOCX(w, docTitle, qs, resolve)
		}); err != nil {
			return err
		}
	}
	return nil
}

// writeFile writes to path, or to fallback when path is empty.
func writeFile(path string, fallback io.Writer, write func(io.Writer) error) error {
	if path == "" {
		return write(fallback)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return fmt.Errorf("%s: %w", path, err)
	}
	return f.Close()
}

func printSummary(w io.Writer, snap pipeline.JobSnapshot) {
	if snap.Summary == nil {
		return
	}
	s := snap.Summary
	fmt.Fprintf(w, "%d questions (%d ready, %d need review) from %d pages",
		s.Total, s.Ready, s.NeedsReview, snap.Progress.TotalPages)
	if n := snap.Progress.BatchesSkipped; n > 0 {
		fmt.Fprintf(w, "; %d batch(es) skipped, model overloaded", n)
	}
	fmt.Fprintln(w)
}
