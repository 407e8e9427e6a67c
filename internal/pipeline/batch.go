package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	omrimg "github.com/ironsheep/omr-grader/internal/imaging"
	"github.com/ironsheep/omr-grader/internal/scoring"
	"github.com/ironsheep/omr-grader/internal/template"
)

// ErrDuplicateSheet is returned when two sheets of a batch share an ID.
var ErrDuplicateSheet = errors.New("duplicate sheet id")

// Sheet is one input of a batch.
type Sheet struct {
	// ID names the sheet within the run. It must be unique.
	ID string `json:"id"`

	// Path is the image or PDF file to grade.
	Path string `json:"path"`
}

// SheetOutcome is the result of one sheet of a batch. Exactly one of
// Result and Err is set.
type SheetOutcome struct {
	SheetID    string       `json:"sheet_id"`
	Path       string       `json:"path"`
	Result     *SheetResult `json:"result,omitempty"`
	Err        error        `json:"-"`
	Error      string       `json:"error,omitempty"`
	DurationMS int64        `json:"duration_ms"`
	Finished   time.Time    `json:"finished"`
}

// Sink receives each outcome as soon as its sheet finishes.
// Implementations must be safe for concurrent use.
type Sink interface {
	SaveOutcome(runID string, o *SheetOutcome) error
}

// Batch summarizes one run.
type Batch struct {
	RunID    string    `json:"run_id"`
	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`
	Sheets   int       `json:"sheets"`
	Graded   int       `json:"graded"`
	Failed   int       `json:"failed"`

	// Scored counts graded sheets that carry a score report. MeanScore
	// averages over those only and is omitted when no sheet was scored.
	Scored    int     `json:"scored"`
	MeanScore float64 `json:"mean_score,omitempty"`

	Outcomes []*SheetOutcome `json:"outcomes"`
}

// SupportedExtensions lists the file extensions SheetsFromDir picks up.
var SupportedExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".bmp", ".tif", ".tiff", ".heic", ".heif", ".pdf"}

// SheetsFromDir lists the supported files directly inside dir, sorted by
// name. Each sheet's ID is its file name.
func SheetsFromDir(dir string) ([]Sheet, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet directory: %w", err)
	}

	var sheets []Sheet
	for _, e := range entries {
		if e.IsDir() || !supported(e.Name()) {
			continue
		}
		sheets = append(sheets, Sheet{ID: e.Name(), Path: filepath.Join(dir, e.Name())})
	}
	sort.Slice(sheets, func(i, j int) bool { return sheets[i].ID < sheets[j].ID })
	return sheets, nil
}

func supported(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, s := range SupportedExtensions {
		if ext == s {
			return true
		}
	}
	return false
}

// RunBatch grades sheets concurrently against one layout and key.
//
// At most Config.Workers sheets run at once. Each sheet gets its own
// Config.SheetTimeout budget; a timeout (ErrSheetTimeout) or failure is
// recorded on that sheet's outcome and never stops the others. Outcomes
// keep the order of sheets. layout and key are only read.
//
// sink may be nil. Sink errors do not fail sheets; they are joined and
// returned with the completed batch.
func (g *Grader) RunBatch(ctx context.Context, sheets []Sheet, layout *template.Layout, key scoring.AnswerKey, sink Sink) (*Batch, error) {
	seen := make(map[string]bool, len(sheets))
	for _, s := range sheets {
		if seen[s.ID] {
			return nil, fmt.Errorf("%q: %w", s.ID, ErrDuplicateSheet)
		}
		seen[s.ID] = true
	}

	batch := &Batch{
		RunID:    uuid.NewString(),
		Started:  time.Now().UTC(),
		Sheets:   len(sheets),
		Outcomes: make([]*SheetOutcome, len(sheets)),
	}
	g.logger.Info("batch started", "run", batch.RunID, "sheets", len(sheets), "workers", g.cfg.Workers)

	sinkErrs := make([]error, len(sheets))

	var eg errgroup.Group
	eg.SetLimit(g.cfg.Workers)
	for i, sheet := range sheets {
		eg.Go(func() error {
			start := time.Now()
			res, err := g.gradeWithTimeout(ctx, sheet, layout, key)

			out := &SheetOutcome{
				SheetID:    sheet.ID,
				Path:       sheet.Path,
				Result:     res,
				Err:        err,
				DurationMS: time.Since(start).Milliseconds(),
				Finished:   time.Now().UTC(),
			}
			if err != nil {
				out.Error = err.Error()
				g.logger.Warn("sheet failed", "run", batch.RunID, "sheet", sheet.ID, "error", err)
			} else {
				g.logger.Info("sheet graded", "run", batch.RunID, "sheet", sheet.ID, "warnings", len(res.Warnings))
			}
			batch.Outcomes[i] = out

			if sink != nil {
				if err := sink.SaveOutcome(batch.RunID, out); err != nil {
					sinkErrs[i] = fmt.Errorf("failed to save sheet %s: %w", sheet.ID, err)
				}
			}
			return nil
		})
	}
	_ = eg.Wait()

	var total float64
	for _, out := range batch.Outcomes {
		if out.Err != nil {
			batch.Failed++
			continue
		}
		batch.Graded++
		if out.Result.Report != nil {
			batch.Scored++
			total += out.Result.Report.Score
		}
	}
	if batch.Scored > 0 {
		batch.MeanScore = total / float64(batch.Scored)
	}
	batch.Finished = time.Now().UTC()

	g.logger.Info("batch finished", "run", batch.RunID, "graded", batch.Graded, "failed", batch.Failed)
	return batch, errors.Join(sinkErrs...)
}

// gradeWithTimeout loads and grades one sheet within the sheet budget. It
// runs on the caller's goroutine, so the worker slot stays held until the
// stages have observed the deadline and returned.
func (g *Grader) gradeWithTimeout(ctx context.Context, sheet Sheet, layout *template.Layout, key scoring.AnswerKey) (*SheetResult, error) {
	ctx, cancel := context.WithTimeout(ctx, g.cfg.SheetTimeout)
	defer cancel()

	img, err := loadSheet(sheet.Path)
	if err != nil {
		return nil, err
	}
	res, err := g.GradeSheet(ctx, img, layout, key)
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("sheet %s exceeded %s: %w", sheet.ID, g.cfg.SheetTimeout, ErrSheetTimeout)
	}
	return res, err
}

// loadSheet decodes a sheet file without caching it.
func loadSheet(path string) (image.Image, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}
	img, _, err := omrimg.Decode(data, filepath.Ext(path))
	if err != nil {
		return nil, err
	}
	return img, nil
}
