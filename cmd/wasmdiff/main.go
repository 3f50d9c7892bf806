package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wasmdiff/harness/engine"
	"github.com/wasmdiff/harness/harness"
)

var (
	matchStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#90EE90"))

	mismatchStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#FF6B6B"))

	inconclusiveStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("#FFD700"))

	pathStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#87CEEB"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#666666"))
)

func main() {
	var (
		wasmFile    = flag.String("wasm", "", "Path to a wasm module to run differentially")
		corpusDir   = flag.String("corpus", "", "Directory of .wasm modules to run")
		entry       = flag.String("entry", harness.DefaultEntryExport, "Entry export to invoke")
		runOnly     = flag.Bool("run-only", false, "Compiled path only, print the i32 result")
		verbose     = flag.Bool("v", false, "Verbose logging")
		interactive = flag.Bool("i", false, "Interactive corpus browser")
	)
	flag.Parse()

	if !term.IsTerminal(int(os.Stdout.Fd())) {
		lipgloss.SetColorProfile(termenv.Ascii) // plain output when piped
	}

	log := zap.NewNop()
	if *verbose {
		var err error
		log, err = zap.NewDevelopment()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		engine.SetLogger(log)
	}

	if *wasmFile == "" && *corpusDir == "" {
		fmt.Fprintln(os.Stderr, "Usage: wasmdiff -wasm <file.wasm> [-entry name] [-run-only]")
		fmt.Fprintln(os.Stderr, "       wasmdiff -corpus <dir> [-entry name]")
		fmt.Fprintln(os.Stderr, "       wasmdiff -corpus <dir> -i  (interactive browser)")
		os.Exit(1)
	}

	ctx := context.Background()
	h := harness.New(ctx, harness.Config{Logger: log, EntryExport: *entry})
	defer h.Close(ctx)

	if *interactive {
		if *corpusDir == "" {
			fmt.Fprintln(os.Stderr, "Error: -i requires -corpus")
			os.Exit(1)
		}
		if err := runInteractive(h, *corpusDir); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	var err error
	switch {
	case *wasmFile != "":
		err = runOne(ctx, h, *wasmFile, *runOnly)
	default:
		err = runCorpus(ctx, h, *corpusDir)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runOne(ctx context.Context, h *harness.Harness, path string, runOnly bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	if runOnly {
		fmt.Printf("%s: %d\n", pathStyle.Render(path), h.CompileAndRun(ctx, data))
		return nil
	}

	report, err := h.RunDifferential(ctx, data)
	if err != nil {
		return fmt.Errorf("run %s: %w", path, err)
	}
	printReport(path, report)
	if report.Verdict == harness.VerdictMismatch {
		os.Exit(2)
	}
	return nil
}

func runCorpus(ctx context.Context, h *harness.Harness, dir string) error {
	files, err := corpusFiles(dir)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no .wasm files in %s", dir)
	}

	var mismatches int
	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read file: %w", err)
		}
		report, err := h.RunDifferential(ctx, data)
		if err != nil {
			fmt.Printf("%s %s\n", inconclusiveStyle.Render("undecodable"), pathStyle.Render(path))
			continue
		}
		printReport(path, report)
		if report.Verdict == harness.VerdictMismatch {
			mismatches++
		}
	}

	fmt.Printf("\n%d modules, %d mismatches\n", len(files), mismatches)
	if mismatches > 0 {
		os.Exit(2)
	}
	return nil
}

func corpusFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read corpus dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".wasm") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	sort.Strings(files)
	return files, nil
}

func printReport(path string, report *harness.Report) {
	verdict := renderVerdict(report.Verdict)
	detail := describeReport(report)
	fmt.Printf("%s %s  %s\n", verdict, pathStyle.Render(path), helpStyle.Render(detail))
}

func renderVerdict(v harness.Verdict) string {
	switch v {
	case harness.VerdictMatch:
		return matchStyle.Render("match       ")
	case harness.VerdictMismatch:
		return mismatchStyle.Render("MISMATCH    ")
	default:
		return inconclusiveStyle.Render("inconclusive")
	}
}

func describeReport(report *harness.Report) string {
	var parts []string
	parts = append(parts, "ref="+report.Reference.String())
	if report.CompiledRan {
		parts = append(parts, fmt.Sprintf("compiled=(%d, raised=%t)",
			report.CompiledValue, report.CompiledRaised))
	}
	if report.Reason != "" {
		parts = append(parts, report.Reason)
	}
	return strings.Join(parts, " ")
}
