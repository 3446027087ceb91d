// Command topphrases prints the K most frequent phrases of a file whose
// lines are delimiter-separated phrase lists.
//
// Results are written as `count<delim>phrase` lines in rank order, or as
// JSON with -format json. Logs go to stderr.
//
// Usage:
//
//	topphrases -input queries.txt [-k 100] [-delimiter '|'] [-chunk 100000]
//	           [-config configs/development.yaml] [-output top.txt] [-format lines|json]
//
// An input of "-" reads standard input.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Adithya-Monish-Kumar-K/top-phrases/internal/pipeline"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/top-phrases/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdin, os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("topphrases", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "path to config file (defaults are used when empty)")
	input := fs.String("input", "", `input file, or "-" for stdin`)
	k := fs.Int("k", 0, "number of phrases to report (overrides pipeline.topK)")
	delimiter := fs.String("delimiter", "", "phrase delimiter (overrides pipeline.delimiter)")
	chunk := fs.Int("chunk", 0, "records per aggregation window and sort chunk (overrides pipeline.chunkRecordLimit)")
	output := fs.String("output", "", "write results to this file instead of stdout")
	format := fs.String("format", "lines", "output format: lines or json")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *input == "" {
		fmt.Fprintln(stderr, "topphrases: -input is required")
		fs.Usage()
		return 2
	}
	if *format != "lines" && *format != "json" {
		fmt.Fprintf(stderr, "topphrases: unknown -format %q\n", *format)
		return 2
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(stderr, "failed to load config: %v\n", err)
		return 1
	}
	logger.Setup(stderr, cfg.Logging.Level, cfg.Logging.Format)

	pcfg := cfg.Pipeline
	if *chunk != 0 {
		pcfg.ChunkRecordLimit = *chunk
	}
	p, err := pipeline.New(pcfg, nil)
	if err == nil {
		p, err = p.WithOverrides(*k, *delimiter)
	}
	if err != nil {
		fmt.Fprintf(stderr, "invalid settings: %v\n", err)
		return 2
	}

	var res pipeline.Result
	if *input == "-" {
		res, err = p.Run(ctx, stdin)
	} else {
		res, err = p.RunFile(ctx, *input)
	}
	if err != nil {
		slog.Error("run failed", "stage", apperrors.StageOf(err), "error", err)
		fmt.Fprintf(stderr, "topphrases: %v\n", err)
		return 1
	}

	if err := writeOutput(*output, *format, stdout, res, p.Config().Delimiter); err != nil {
		fmt.Fprintf(stderr, "topphrases: writing results: %v\n", err)
		return 1
	}
	return 0
}

func writeOutput(path, format string, stdout io.Writer, res pipeline.Result, delim string) (err error) {
	w := stdout
	if path != "" {
		f, createErr := os.Create(path)
		if createErr != nil {
			return createErr
		}
		defer func() {
			err = errors.Join(err, f.Close())
		}()
		w = f
	}
	if format == "json" {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	return pipeline.WriteResult(w, res.Phrases, delim)
}
