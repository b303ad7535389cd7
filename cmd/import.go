package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/pipeline"
)

// ErrImportFailures is returned with --fail-on-error when any URL failed.
var ErrImportFailures = errors.New("some URLs failed to import")

type importFlags struct {
	file        string
	concurrency int
	failOnError bool
	jsonOutput  bool
}

func newImportCmd() *cobra.Command {
	var flags importFlags
	cmd := &cobra.Command{
		Use:   "import [urls...]",
		Short: "Import a batch of URLs and print progress",
		Long: `Scrapes the given URLs (and those listed in --file, one per line) and
prints one progress line per finished URL followed by the batch summary.
Ctrl-C cancels the batch.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, args, flags)
		},
	}
	cmd.Flags().StringVarP(&flags.file, "file", "f", "", "read URLs from a file, one per line ('-' for stdin)")
	cmd.Flags().IntVarP(&flags.concurrency, "concurrency", "c", 0, "parallel scrapes (0 uses the configured default)")
	cmd.Flags().BoolVar(&flags.failOnError, "fail-on-error", false, "exit non-zero when any URL fails")
	cmd.Flags().BoolVar(&flags.jsonOutput, "json", false, "print NDJSON instead of text")
	return cmd
}

func runImport(cmd *cobra.Command, args []string, flags importFlags) error {
	urls := append([]string(nil), args...)
	if flags.file != "" {
		fromFile, err := readURLFile(cmd.InOrStdin(), flags.file)
		if err != nil {
			return err
		}
		urls = append(urls, fromFile...)
	}

	cfg, err := configFrom(cmd.Context())
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(ctx, cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize application services: %w", err)
	}
	defer func() {
		_ = app.Close(context.WithoutCancel(ctx))
	}()

	out := cmd.OutOrStdout()
	enc := json.NewEncoder(out)
	res, err := app.Import(ctx, urls, pipeline.Options{Concurrency: flags.concurrency}, func(evt importer.ProgressEvent) {
		if flags.jsonOutput {
			_ = enc.Encode(evt)
			return
		}
		fmt.Fprintln(out, formatEvent(evt))
	})
	if err != nil {
		return fmt.Errorf("import: %w", err)
	}

	if flags.jsonOutput {
		_ = enc.Encode(struct {
			BatchID   string `json:"batch_id"`
			Message   string `json:"message"`
			ReportURI string `json:"report_uri,omitempty"`
			importer.BatchSummary
		}{res.BatchID.String(), res.Summary.Message(), res.ReportURI, res.Summary})
	} else {
		for _, f := range res.Summary.Failures {
			fmt.Fprintf(out, "  failed %s (%s) %s\n", f.URL, f.Reason, f.Message)
		}
		fmt.Fprintln(out, res.Summary.Message())
		if res.ReportURI != "" {
			fmt.Fprintln(out, "report:", res.ReportURI)
		}
	}

	if flags.failOnError && res.Summary.Failed > 0 {
		return ErrImportFailures
	}
	return nil
}

func formatEvent(evt importer.ProgressEvent) string {
	prefix := fmt.Sprintf("[%d/%d]", evt.Completed, evt.Total)
	if evt.Status == importer.StatusSuccess {
		title := ""
		if evt.Draft != nil && evt.Draft.Title != "" {
			title = " " + evt.Draft.Title
		}
		return fmt.Sprintf("%s ok %s%s", prefix, evt.URL, title)
	}
	line := fmt.Sprintf("%s %s %s", prefix, evt.Reason, evt.URL)
	if evt.Message != "" {
		line += ": " + evt.Message
	}
	return line
}

// readURLFile reads one URL per line, skipping blanks and # comments.
func readURLFile(stdin io.Reader, path string) ([]string, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open url file: %w", err)
		}
		defer f.Close()
		r = f
	}
	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read url file: %w", err)
	}
	return urls, nil
}
