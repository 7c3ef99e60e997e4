// Command extract runs the line-item extraction pipeline on one OCR document
// JSON file and writes the result to stdout or a file.
// Usage: go run ./cmd/extract [--no-model] [--format json|csv|xlsx] [-o out] <document.json|->
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"smartmetal/internal/config"
	"smartmetal/internal/domain"
	"smartmetal/internal/export"
	_ "smartmetal/internal/llm/claude"
	_ "smartmetal/internal/llm/gemini"
	_ "smartmetal/internal/llm/openai"
	"smartmetal/internal/logger"
	"smartmetal/internal/normalize"
	"smartmetal/internal/service"
)

// Exit codes.
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
	exitGate  = 3
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

type options struct {
	noModel bool
	format  string
	output  string
	ref     string
	tables  bool
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	var opts options
	fs := pflag.NewFlagSet("extract", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVar(&opts.noModel, "no-model", false, "run the deterministic pipeline only")
	fs.StringVarP(&opts.format, "format", "f", "json", "output format: json, csv or xlsx")
	fs.StringVarP(&opts.output, "output", "o", "", "output file (default stdout)")
	fs.StringVar(&opts.ref, "ref", "", "document reference recorded with the result (default input path)")
	fs.BoolVar(&opts.tables, "tables", false, "include the table scoring report in json output")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	if fs.NArg() != 1 {
		fmt.Fprintln(stderr, "Error: exactly one input document is required (use - for stdin)")
		fs.PrintDefaults()
		return exitUsage
	}
	input := fs.Arg(0)
	if opts.ref == "" && input != "-" {
		opts.ref = input
	}

	var exportFormat domain.ExportFormat
	if opts.format != "json" {
		f, err := export.ParseFormat(opts.format)
		if err != nil {
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitUsage
		}
		exportFormat = f
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "Error: loading config: %v\n", err)
		return exitError
	}
	// Logs go to stderr so stdout stays clean for the result.
	lg, err := logger.New(&cfg.Log)
	if err != nil {
		fmt.Fprintf(stderr, "Error: initializing logger: %v\n", err)
		return exitError
	}
	defer func() { _ = lg.Sync() }()

	doc, err := readDocument(input, stdin)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	var normalizer service.Normalizer
	if !opts.noModel {
		n, err := normalize.NewFromConfig(cfg, lg)
		switch {
		case errors.Is(err, domain.ErrNoModelBackends):
			lg.Warn("no model backends configured; running raw-only")
		case err != nil:
			fmt.Fprintf(stderr, "Error: %v\n", err)
			return exitError
		default:
			normalizer = n
		}
	}

	svc := service.NewExtractionService(&cfg.Extraction, normalizer, nil, nil, nil, lg)
	out, err := svc.Extract(ctx, &service.ExtractInput{
		Document:    doc,
		DocumentRef: opts.ref,
		SkipModel:   opts.noModel,
	})
	if err != nil {
		var gate *domain.CompletenessGateError
		if errors.As(err, &gate) {
			fmt.Fprintf(stderr, "Error: %v\nThe document needs manual review.\n", err)
			return exitGate
		}
		lg.Error("extraction failed", zap.String("kind", domain.ErrorKind(err)), zap.Error(err))
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitError
	}

	var buf bytes.Buffer
	if exportFormat == "" {
		err = writeJSON(&buf, out, opts.tables)
	} else {
		err = export.Write(&buf, out.Result, exportFormat)
	}
	if err != nil {
		fmt.Fprintf(stderr, "Error: rendering output: %v\n", err)
		return exitError
	}

	if opts.output == "" {
		if _, err := stdout.Write(buf.Bytes()); err != nil {
			return exitError
		}
		return exitOK
	}
	if err := os.WriteFile(opts.output, buf.Bytes(), 0o644); err != nil {
		fmt.Fprintf(stderr, "Error: writing %s: %v\n", opts.output, err)
		return exitError
	}
	lg.Info("result written",
		zap.String("path", opts.output),
		zap.Int("items", len(out.Result.LineItems)),
		zap.Float64("coverage", out.Result.Confidence.CoverageRatio),
	)
	return exitOK
}

func readDocument(path string, stdin io.Reader) (*domain.Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("reading document: %w", err)
	}
	var doc domain.Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidDocument, err)
	}
	return &doc, nil
}

func writeJSON(w io.Writer, out *service.ExtractOutput, withTables bool) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if withTables {
		return enc.Encode(out)
	}
	return enc.Encode(out.Result)
}
