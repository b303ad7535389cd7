package cmd

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/readlater-importer/internal/config"
	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/pipeline"
	"github.com/JakeFAU/readlater-importer/internal/service"
)

type fakeApp struct {
	urls   []string
	opts   pipeline.Options
	events []importer.ProgressEvent
	result service.Result
	closed bool
}

func (f *fakeApp) Run(context.Context) error { return nil }

func (f *fakeApp) Import(
	_ context.Context,
	urls []string,
	opts pipeline.Options,
	onEvent func(importer.ProgressEvent),
) (service.Result, error) {
	f.urls = urls
	f.opts = opts
	for _, evt := range f.events {
		onEvent(evt)
	}
	return f.result, nil
}

func (f *fakeApp) Close(context.Context) error {
	f.closed = true
	return nil
}

// useFakeApp swaps the package-level factory; callers must not run in parallel.
func useFakeApp(t *testing.T, app *fakeApp) {
	t.Helper()
	orig := newApp
	newApp = func(context.Context, config.Config) (App, error) { return app, nil }
	t.Cleanup(func() { newApp = orig })
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func failingResult() service.Result {
	return service.Result{
		BatchID: uuid.MustParse("01890000-0000-7000-8000-0000000000bb"),
		Summary: importer.BatchSummary{
			Total: 2, Succeeded: 1, Failed: 1,
			Failures: []importer.FailureEntry{{URL: "https://b.com/", Reason: importer.KindTimeout, Message: "slow"}},
		},
		ReportURI: "file:///tmp/r.json",
	}
}

func TestImportCommandPrintsProgress(t *testing.T) {
	draft := importer.ItemDraft{URL: "https://a.com/", Title: "Alpha"}
	app := &fakeApp{
		events: []importer.ProgressEvent{
			{Completed: 1, Total: 2, URL: "https://a.com/", Status: importer.StatusSuccess, Draft: &draft},
			{Completed: 2, Total: 2, URL: "https://b.com/", Status: importer.StatusError, Reason: importer.KindTimeout, Message: "slow"},
		},
		result: failingResult(),
	}
	useFakeApp(t, app)

	out, err := execute(t, "", "import", "--concurrency", "3", "https://a.com", "https://b.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://a.com", "https://b.com"}, app.urls)
	require.Equal(t, 3, app.opts.Concurrency)
	require.True(t, app.closed)

	require.Contains(t, out, "[1/2] ok https://a.com/ Alpha")
	require.Contains(t, out, "[2/2] Timeout https://b.com/: slow")
	require.Contains(t, out, "Imported with some errors. Success: 1, Failed: 1")
	require.Contains(t, out, "report: file:///tmp/r.json")
}

func TestImportCommandFailOnError(t *testing.T) {
	useFakeApp(t, &fakeApp{result: failingResult()})

	_, err := execute(t, "", "import", "--fail-on-error", "https://a.com")
	require.ErrorIs(t, err, ErrImportFailures)
}

func TestImportCommandReadsFileAndStdin(t *testing.T) {
	app := &fakeApp{result: service.Result{Summary: importer.BatchSummary{Total: 3, Succeeded: 3}}}
	useFakeApp(t, app)

	path := filepath.Join(t.TempDir(), "urls.txt")
	require.NoError(t, os.WriteFile(path, []byte("# reading list\nhttps://a.com\n\n  https://b.com  \n"), 0o600))

	out, err := execute(t, "", "import", "--file", path, "https://c.com")
	require.NoError(t, err)
	require.Equal(t, []string{"https://c.com", "https://a.com", "https://b.com"}, app.urls)
	require.Contains(t, out, "Successfully imported 3 URLs!")

	_, err = execute(t, "https://d.com\n", "import", "-f", "-")
	require.NoError(t, err)
	require.Equal(t, []string{"https://d.com"}, app.urls)
}

func TestImportCommandJSONOutput(t *testing.T) {
	useFakeApp(t, &fakeApp{
		events: []importer.ProgressEvent{{Completed: 1, Total: 1, URL: "https://a.com/", Status: importer.StatusSuccess}},
		result: service.Result{Summary: importer.BatchSummary{Total: 1, Succeeded: 1}},
	})

	out, err := execute(t, "", "import", "--json", "https://a.com")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	require.Contains(t, lines[0], `"status":"success"`)
	require.Contains(t, lines[1], `"message":"Successfully imported 1 URLs!"`)
}

func TestRootRejectsMissingConfigFile(t *testing.T) {
	useFakeApp(t, &fakeApp{})

	_, err := execute(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "import", "https://a.com")
	require.ErrorContains(t, err, "load config")
}
