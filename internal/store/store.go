package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.etcd.io/bbolt"

	"github.com/ironsheep/omr-grader/internal/pipeline"
)

const (
	runsBucket   = "runs"
	sheetsBucket = "sheets"
)

// ErrNotFound is returned when a run or sheet record does not exist.
var ErrNotFound = errors.New("not found")

// Run is the stored summary of a batch.
type Run struct {
	ID        string    `json:"id"`
	Template  string    `json:"template,omitempty"`
	Started   time.Time `json:"started"`
	Finished  time.Time `json:"finished"`
	Sheets    int       `json:"sheets"`
	Graded    int       `json:"graded"`
	Failed    int       `json:"failed"`
	Scored    int       `json:"scored"`
	MeanScore float64   `json:"mean_score,omitempty"`
}

// Record is the stored result of one sheet.
type Record struct {
	RunID      string            `json:"run_id"`
	SheetID    string            `json:"sheet_id"`
	Path       string            `json:"path"`
	Answers    []int             `json:"answers,omitempty"`
	StudentID  string            `json:"student_id,omitempty"`
	Correct    int               `json:"correct"`
	Graded     int               `json:"graded"`
	KeySize    int               `json:"key_size"`
	Results    []bool            `json:"results,omitempty"`
	Score      float64           `json:"score"`
	Fields     map[string]string `json:"fields,omitempty"`
	Warnings   []string          `json:"warnings,omitempty"`
	Error      string            `json:"error,omitempty"`
	DurationMS int64             `json:"duration_ms"`
	Finished   time.Time         `json:"finished"`
}

// RunFromBatch summarizes a finished batch.
func RunFromBatch(b *pipeline.Batch, templatePath string) *Run {
	return &Run{
		ID:        b.RunID,
		Template:  templatePath,
		Started:   b.Started,
		Finished:  b.Finished,
		Sheets:    b.Sheets,
		Graded:    b.Graded,
		Failed:    b.Failed,
		Scored:    b.Scored,
		MeanScore: b.MeanScore,
	}
}

// RecordFromOutcome flattens a sheet outcome into a record.
func RecordFromOutcome(runID string, o *pipeline.SheetOutcome) *Record {
	rec := &Record{
		RunID:      runID,
		SheetID:    o.SheetID,
		Path:       o.Path,
		Error:      o.Error,
		DurationMS: o.DurationMS,
		Finished:   o.Finished,
	}
	if o.Err != nil && rec.Error == "" {
		rec.Error = o.Err.Error()
	}

	res := o.Result
	if res == nil {
		return rec
	}
	if res.Decision != nil {
		rec.Answers = res.Decision.Answers
	}
	rec.StudentID = res.StudentID
	rec.Warnings = res.Warnings
	if r := res.Report; r != nil {
		rec.Correct = r.Correct
		rec.Graded = r.Graded
		rec.KeySize = r.KeySize
		rec.Results = r.Results
		rec.Score = r.Score
	}
	if len(res.Fields) > 0 {
		rec.Fields = make(map[string]string, len(res.Fields))
		for name, f := range res.Fields {
			rec.Fields[name] = f.Text
		}
	}
	return rec
}

// BoltStore persists runs and sheet records in a bbolt database.
//
// Records live in one nested bucket per run, keyed by sheet ID, so sheets of
// concurrent batches never overwrite each other.
type BoltStore struct {
	db *bbolt.DB
}

// Open opens or creates the database at path.
func Open(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening boltdb: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(runsBucket)); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists([]byte(sheetsBucket)); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// SaveOutcome stores one sheet outcome. It implements pipeline.Sink.
func (s *BoltStore) SaveOutcome(runID string, o *pipeline.SheetOutcome) error {
	return s.SaveRecord(RecordFromOutcome(runID, o))
}

// SaveRecord stores a record under its run and sheet ID.
func (s *BoltStore) SaveRecord(rec *Record) error {
	if rec.RunID == "" || rec.SheetID == "" {
		return fmt.Errorf("record needs a run id and a sheet id")
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		run, err := tx.Bucket([]byte(sheetsBucket)).CreateBucketIfNotExists([]byte(rec.RunID))
		if err != nil {
			return fmt.Errorf("creating run bucket: %w", err)
		}
		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("marshaling record: %w", err)
		}
		return run.Put([]byte(rec.SheetID), data)
	})
}

// GetRecord retrieves one sheet record.
func (s *BoltStore) GetRecord(runID, sheetID string) (*Record, error) {
	var rec *Record
	err := s.db.View(func(tx *bbolt.Tx) error {
		run := tx.Bucket([]byte(sheetsBucket)).Bucket([]byte(runID))
		if run == nil {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		data := run.Get([]byte(sheetID))
		if data == nil {
			return fmt.Errorf("sheet %s in run %s: %w", sheetID, runID, ErrNotFound)
		}
		return json.Unmarshal(data, &rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// ListRecords returns a run's records ordered by sheet ID.
func (s *BoltStore) ListRecords(runID string) ([]*Record, error) {
	records := make([]*Record, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		run := tx.Bucket([]byte(sheetsBucket)).Bucket([]byte(runID))
		if run == nil {
			return fmt.Errorf("run %s: %w", runID, ErrNotFound)
		}
		return run.ForEach(func(k, v []byte) error {
			var rec Record
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("unmarshaling record: %w", err)
			}
			records = append(records, &rec)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// SaveRun stores a run summary.
func (s *BoltStore) SaveRun(run *Run) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		data, err := json.Marshal(run)
		if err != nil {
			return fmt.Errorf("marshaling run: %w", err)
		}
		return tx.Bucket([]byte(runsBucket)).Put([]byte(run.ID), data)
	})
}

// GetRun retrieves a run summary.
func (s *BoltStore) GetRun(id string) (*Run, error) {
	var run *Run
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket([]byte(runsBucket)).Get([]byte(id))
		if data == nil {
			return fmt.Errorf("run %s: %w", id, ErrNotFound)
		}
		return json.Unmarshal(data, &run)
	})
	if err != nil {
		return nil, err
	}
	return run, nil
}

// ListRuns returns all run summaries, most recent first.
func (s *BoltStore) ListRuns() ([]*Run, error) {
	runs := make([]*Run, 0)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket([]byte(runsBucket)).ForEach(func(k, v []byte) error {
			var run Run
			if err := json.Unmarshal(v, &run); err != nil {
				return fmt.Errorf("unmarshaling run: %w", err)
			}
			runs = append(runs, &run)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(runs, func(i, j int) bool { return runs[i].Started.After(runs[j].Started) })
	return runs, nil
}

// DeleteRun removes a run summary and all of its records.
func (s *BoltStore) DeleteRun(id string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket([]byte(runsBucket)).Delete([]byte(id)); err != nil {
			return err
		}
		err := tx.Bucket([]byte(sheetsBucket)).DeleteBucket([]byte(id))
		if errors.Is(err, bbolt.ErrBucketNotFound) {
			return nil
		}
		return err
	})
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}
