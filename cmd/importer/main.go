// Command importer loads a product file into draft products from the shell.
//
// Without -mapping or -auto-map it only analyzes the file and prints the
// detected settings and guessed mapping, so a mapping file can be written
// from its output. The report or analysis is printed to stdout as JSON;
// logs go to stderr.
//
//	importer -file products.csv -auto-map -user anna
//	importer -file cennik.xlsx -sheet 1 -mapping mapping.json
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
	"path/filepath"
	"syscall"

	"github.com/JonMunkholm/draftimport/internal/config"
	"github.com/JonMunkholm/draftimport/internal/core"
	"github.com/JonMunkholm/draftimport/internal/database"
	"github.com/JonMunkholm/draftimport/internal/logging"
	"github.com/joho/godotenv"
)

// Exit codes
const (
	exitOK    = 0
	exitError = 1
	exitUsage = 2
)

type options struct {
	file      string
	mapping   string
	autoMap   bool
	delimiter string
	encoding  string
	sheet     int
	user      string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		fmt.Fprintln(stderr, err)
		return exitUsage
	}

	// A missing .env is fine; the environment may already be set.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	logging.SetupWriter(stderr, cfg.Logging.Level, cfg.Logging.Format)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := execute(ctx, cfg, opts, stdout); err != nil {
		slog.Error("import failed", "file", opts.file, "error", err)
		fmt.Fprintln(stderr, core.FormatUserError(err))
		return exitError
	}
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	fs := flag.NewFlagSet("importer", flag.ContinueOnError)
	fs.SetOutput(stderr)

	opts := &options{}
	fs.StringVar(&opts.file, "file", "", "CSV, XLSX or XLS file to import (required)")
	fs.StringVar(&opts.mapping, "mapping", "", "JSON file mapping source headers to fields")
	fs.BoolVar(&opts.autoMap, "auto-map", false, "commit using the auto-accepted mapping guesses")
	fs.StringVar(&opts.delimiter, "delimiter", "", `CSV delimiter, one character or "tab" (default: detect)`)
	fs.StringVar(&opts.encoding, "encoding", "", "CSV encoding, e.g. windows-1250 (default: detect)")
	fs.IntVar(&opts.sheet, "sheet", 0, "spreadsheet sheet index, 0-based")
	fs.StringVar(&opts.user, "user", "", "user the import is attributed to")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	if opts.file == "" {
		return nil, errors.New("-file is required")
	}
	if opts.mapping != "" && opts.autoMap {
		return nil, errors.New("-mapping and -auto-map are mutually exclusive")
	}
	if opts.sheet < 0 {
		return nil, errors.New("-sheet must be >= 0")
	}
	if opts.encoding != "" {
		if _, err := core.Decoder(opts.encoding); err != nil {
			return nil, fmt.Errorf("-encoding: %w", err)
		}
	}
	return opts, nil
}

// readOptions converts the flags into reader overrides.
func (o *options) readOptions() (core.ReadOptions, error) {
	ro := core.ReadOptions{
		FileName:   filepath.Base(o.file),
		Encoding:   o.encoding,
		SheetIndex: o.sheet,
	}
	switch d := []rune(o.delimiter); {
	case o.delimiter == "":
	case o.delimiter == "tab" || o.delimiter == `\t`:
		ro.Delimiter = '\t'
	case len(d) == 1:
		ro.Delimiter = d[0]
	default:
		return ro, fmt.Errorf("-delimiter must be one character, got %q", o.delimiter)
	}
	return ro, nil
}

func loadMapping(path string) (core.ColumnMapping, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read mapping: %w", err)
	}
	var m core.ColumnMapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("invalid column mapping file %s: %w", path, err)
	}
	return m, nil
}

func execute(ctx context.Context, cfg *config.Config, opts *options, stdout io.Writer) error {
	read, err := opts.readOptions()
	if err != nil {
		return err
	}

	var mapping core.ColumnMapping
	if opts.mapping != "" {
		if mapping, err = loadMapping(opts.mapping); err != nil {
			return err
		}
	}

	data, err := os.ReadFile(opts.file)
	if err != nil {
		return fmt.Errorf("%w: read %s: %w", core.ErrIO, opts.file, err)
	}

	pool, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.Migrate {
		if err := database.Migrate(ctx, pool); err != nil {
			return err
		}
	}

	service := core.NewService(database.NewStore(pool), cfg.ServiceOptions())
	ctx = core.ContextWithImportedBy(ctx, opts.user)

	if mapping == nil && !opts.autoMap {
		analysis, err := service.Analyze(ctx, data, read, nil)
		if err != nil {
			return err
		}
		return printJSON(stdout, analysis)
	}

	report, err := service.Import(ctx, core.TabularImport{
		FileName: read.FileName,
		Data:     data,
		Read:     read,
		Mapping:  mapping,
	})
	if err != nil {
		return err
	}

	slog.Info("import finished",
		"session_id", report.SessionID,
		"created", report.Created,
		"skipped", report.Skipped,
		"failed", report.Failed,
		"duration", report.Duration.String(),
	)
	return printJSON(stdout, report)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
