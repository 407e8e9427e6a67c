package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/disintegration/imaging"
	"github.com/peterbourgon/ff/v4"
	"github.com/peterbourgon/ff/v4/ffhelp"

	"github.com/ironsheep/omr-grader/internal/ocr"
	"github.com/ironsheep/omr-grader/internal/omr"
	"github.com/ironsheep/omr-grader/internal/pipeline"
	"github.com/ironsheep/omr-grader/internal/scoring"
	"github.com/ironsheep/omr-grader/internal/server"
	"github.com/ironsheep/omr-grader/internal/store"
	"github.com/ironsheep/omr-grader/internal/template"
)

// Version information - set by ldflags during build
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const usage = `omr-grader - grade photographed multiple-choice answer sheets

Usage:
  omr-grader serve [flags]                       MCP server over stdin/stdout
  omr-grader grade --template T --input P [flags] grade a sheet or a directory
  omr-grader results --db D [--run R [--sheet S]] list or show stored results
  omr-grader results --db D --run R --delete      delete a stored run

Environment variables use the OMR_GRADER_ prefix, e.g. OMR_GRADER_TEMPLATE.
OMR_GRADER_LOG_LEVEL=debug enables debug logging.`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	switch os.Args[1] {
	case "--version", "-v", "version":
		fmt.Printf("omr-grader %s\n", Version)
		fmt.Printf("  Build time: %s\n", BuildTime)
		fmt.Printf("  Git commit: %s\n", GitCommit)
		return
	case "--help", "-h", "help":
		fmt.Println(usage)
		return
	case "serve", "grade", "results":
	default:
		fmt.Fprintf(os.Stderr, "%s\n\nerror: unknown command %q\n", usage, os.Args[1])
		os.Exit(2)
	}
	mode := os.Args[1]

	defaults := pipeline.DefaultConfig()
	fs := ff.NewFlagSet("omr-grader " + mode)
	var (
		_            = fs.StringLong("config", "", "Config file of 'flag value' lines")
		templatePath = fs.StringLong("template", "", "Sheet template JSON file")
		keyPath      = fs.StringLong("key", "", "Answer key CSV file (omit to skip scoring)")
		input        = fs.StringLong("input", "", "Sheet image or directory of sheet images (grade)")
		alphabet     = fs.StringLong("alphabet", scoring.DefaultAlphabet, "Choice letters in order")
		dbPath       = fs.StringLong("db", "", "bbolt results database (optional)")
		frameOut     = fs.StringLong("frame-out", "", "Write the rectified frame of a single sheet to this file")
		workers      = fs.IntLong("workers", defaults.Workers, "Sheets graded concurrently")
		timeout      = fs.DurationLong("timeout", defaults.SheetTimeout, "Per-sheet time budget")
		frameWidth   = fs.IntLong("frame-width", defaults.Rectify.FrameWidth, "Canonical frame width")
		frameHeight  = fs.IntLong("frame-height", defaults.Rectify.FrameHeight, "Canonical frame height")
		procHeight   = fs.IntLong("processing-height", defaults.Locate.ProcessingHeight, "Height sheets are resized to before edge detection")
		policy       = fs.StringLong("policy", "global", "Binarization policy: 'global' or 'adaptive'")
		tie          = fs.StringLong("tie", "first", "Tie policy: 'first' or 'unanswered'")
		minInk       = fs.IntLong("min-ink", defaults.Decide.MinInk, "Minimum inked pixels for a mark")
		scanRadius   = fs.IntLong("scan-radius", defaults.Decide.ScanRadius, "Bubble scan radius in frame pixels")
		useOCR       = fs.BoolLong("ocr", "Read the template's OCR regions with Tesseract")
		ocrLang      = fs.StringLong("ocr-lang", "eng", "Tesseract language")
		tessdata     = fs.StringLong("tessdata", "", "Tesseract language data directory")
		logLevel     = fs.StringLong("log-level", "info", "Log level: debug, info, warn or error")
		runID        = fs.StringLong("run", "", "Stored run to show or delete (results)")
		sheetID      = fs.StringLong("sheet", "", "Stored sheet of --run to show (results)")
		deleteRun    = fs.BoolLong("delete", "Delete --run and its records (results)")
	)

	if err := ff.Parse(fs, os.Args[2:],
		ff.WithEnvVarPrefix("OMR_GRADER"),
		ff.WithConfigFileFlag("config"),
		ff.WithConfigFileParser(ff.PlainParser),
	); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", ffhelp.Flags(fs))
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	// stdout carries the MCP protocol or JSON results
	var level slog.Level
	if err := level.UnmarshalText([]byte(*logLevel)); err != nil {
		fmt.Fprintf(os.Stderr, "error: invalid log level %q\n", *logLevel)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	slog.Debug("omr-grader starting", "version", Version, "built", BuildTime, "commit", GitCommit, "mode", mode)

	cfg := defaults
	cfg.Workers = *workers
	cfg.SheetTimeout = *timeout
	cfg.Rectify.FrameWidth = *frameWidth
	cfg.Rectify.FrameHeight = *frameHeight
	cfg.Locate.ProcessingHeight = *procHeight
	cfg.Decide.MinInk = *minInk
	cfg.Decide.ScanRadius = *scanRadius

	var err error
	if cfg.Decide.Policy, err = omr.ParsePolicy(*policy); err != nil {
		slog.Error("Invalid binarization policy", "error", err)
		os.Exit(1)
	}
	if cfg.Decide.Tie, err = omr.ParseTiePolicy(*tie); err != nil {
		slog.Error("Invalid tie policy", "error", err)
		os.Exit(1)
	}

	opts := []pipeline.Option{pipeline.WithLogger(logger)}
	if *useOCR {
		reader := ocr.NewReader(ocr.Config{Language: *ocrLang, TessdataPrefix: *tessdata, Scale: ocr.DefaultConfig().Scale})
		info := reader.Info()
		if !info.Available {
			slog.Warn("Tesseract is not available; OCR fields will be reported as warnings")
		} else {
			slog.Info("OCR enabled", "tesseract", info.Version, "language", info.Language)
		}
		opts = append(opts, pipeline.WithTextReader(reader))
	}

	grader, err := pipeline.NewGrader(cfg, opts...)
	if err != nil {
		slog.Error("Failed to configure grader", "error", err)
		os.Exit(1)
	}

	var db *store.BoltStore
	if *dbPath != "" {
		db, err = store.Open(*dbPath)
		if err != nil {
			slog.Error("Failed to open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "serve":
		err = serve(grader, db, *alphabet, logger)
	case "results":
		err = results(db, resultsArgs{runID: *runID, sheetID: *sheetID, delete: *deleteRun})
	case "grade":
		err = grade(ctx, grader, db, gradeArgs{
			templatePath: *templatePath,
			keyPath:      *keyPath,
			input:        *input,
			alphabet:     *alphabet,
			frameOut:     *frameOut,
		})
	}
	if err != nil {
		slog.Error("omr-grader failed", "mode", mode, "error", err)
		stop()
		if db != nil {
			db.Close()
		}
		os.Exit(1)
	}
}

func serve(grader *pipeline.Grader, db *store.BoltStore, alphabet string, logger *slog.Logger) error {
	opts := []server.Option{server.WithAlphabet(alphabet), server.WithLogger(logger)}
	if db != nil {
		opts = append(opts, server.WithStore(db))
	}
	server.Version = Version

	srv, err := server.New(grader, opts...)
	if err != nil {
		return err
	}
	slog.Debug("serving MCP on stdio")
	return srv.Run()
}

type gradeArgs struct {
	templatePath string
	keyPath      string
	input        string
	alphabet     string
	frameOut     string
}

// grade grades a single sheet or every sheet in a directory and prints the
// outcome, or the batch summary, as JSON on stdout.
func grade(ctx context.Context, grader *pipeline.Grader, db *store.BoltStore, a gradeArgs) error {
	if a.templatePath == "" || a.input == "" {
		return errors.New("--template and --input are required")
	}

	layout, err := template.LoadFile(a.templatePath)
	if err != nil {
		return err
	}
	var key scoring.AnswerKey
	if a.keyPath != "" {
		if key, err = scoring.LoadAnswerKey(a.keyPath, a.alphabet); err != nil {
			return err
		}
	}

	st, err := os.Stat(a.input)
	if err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	var sheets []pipeline.Sheet
	if st.IsDir() {
		if sheets, err = pipeline.SheetsFromDir(a.input); err != nil {
			return err
		}
	} else {
		sheets = []pipeline.Sheet{{ID: filepath.Base(a.input), Path: a.input}}
	}

	var sink pipeline.Sink
	if db != nil {
		sink = db
	}
	batch, err := grader.RunBatch(ctx, sheets, layout, key, sink)
	if batch == nil {
		return err
	}
	if err != nil {
		slog.Warn("Failed to store some sheet results", "run", batch.RunID, "error", err)
	}
	if db != nil {
		if err := db.SaveRun(store.RunFromBatch(batch, a.templatePath)); err != nil {
			slog.Warn("Failed to store run summary", "run", batch.RunID, "error", err)
		}
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	if st.IsDir() {
		return enc.Encode(batch)
	}

	out := batch.Outcomes[0]
	if out.Err != nil {
		return fmt.Errorf("failed to grade %s: %w", out.Path, out.Err)
	}
	if a.frameOut != "" {
		if err := imaging.Save(out.Result.Frame, a.frameOut); err != nil {
			return fmt.Errorf("failed to save frame: %w", err)
		}
		slog.Info("Wrote rectified frame", "path", a.frameOut)
	}
	return enc.Encode(out)
}

type resultsArgs struct {
	runID   string
	sheetID string
	delete  bool
}

// results prints stored runs, one run with its records, or one sheet record
// as JSON on stdout, or deletes a run.
func results(db *store.BoltStore, a resultsArgs) error {
	if db == nil {
		return errors.New("--db is required")
	}
	if (a.sheetID != "" || a.delete) && a.runID == "" {
		return errors.New("--sheet and --delete need --run")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	switch {
	case a.delete:
		if _, err := db.GetRun(a.runID); err != nil {
			return err
		}
		if err := db.DeleteRun(a.runID); err != nil {
			return err
		}
		slog.Info("Deleted run", "run", a.runID)
		return nil
	case a.sheetID != "":
		rec, err := db.GetRecord(a.runID, a.sheetID)
		if err != nil {
			return err
		}
		return enc.Encode(rec)
	case a.runID != "":
		run, err := db.GetRun(a.runID)
		if err != nil {
			return err
		}
		records, err := db.ListRecords(a.runID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return err
		}
		return enc.Encode(map[string]interface{}{"run": run, "records": records})
	default:
		runs, err := db.ListRuns()
		if err != nil {
			return err
		}
		return enc.Encode(map[string]interface{}{"runs": runs})
	}
}
