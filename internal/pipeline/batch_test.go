package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ironsheep/omr-grader/internal/detection"
	"github.com/ironsheep/omr-grader/internal/scoring"
	"github.com/ironsheep/omr-grader/internal/template"
)

// memorySink collects outcomes keyed by run and sheet.
type memorySink struct {
	mu       sync.Mutex
	outcomes map[string]*SheetOutcome
	err      error
}

func newMemorySink() *memorySink {
	return &memorySink{outcomes: make(map[string]*SheetOutcome)}
}

func (m *memorySink) SaveOutcome(runID string, o *SheetOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	m.outcomes[runID+"/"+o.SheetID] = o
	return nil
}

var _ = Describe("RunBatch", func() {
	var (
		grader *Grader
		layout *template.Layout
		key    scoring.AnswerKey
		dir    string
		sheets []Sheet
		sink   *memorySink
		batch  *Batch
		err    error
	)

	BeforeEach(func() {
		var gerr error
		grader, gerr = NewGrader(testConfig())
		Expect(gerr).NotTo(HaveOccurred())

		layout = testLayout()
		answers := make([]int, 20)
		key = make(scoring.AnswerKey, 20)
		for q := range answers {
			answers[q] = q % 4
			key[q] = q % 4
		}

		dir = GinkgoT().TempDir()
		writePNG(filepath.Join(dir, "a-good.png"), sheetImage(layout, answers, "1234"))
		writePNG(filepath.Join(dir, "b-desk.png"), blankDesk())
		Expect(os.WriteFile(filepath.Join(dir, "c-corrupt.jpg"), []byte("not an image"), 0o600)).To(Succeed())
		Expect(os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o600)).To(Succeed())

		var serr error
		sheets, serr = SheetsFromDir(dir)
		Expect(serr).NotTo(HaveOccurred())

		sink = newMemorySink()
	})

	JustBeforeEach(func() {
		batch, err = grader.RunBatch(context.Background(), sheets, layout, key, sink)
	})

	When("the batch mixes good and bad sheets", func() {
		It("should not return an error", func() {
			Expect(err).NotTo(HaveOccurred())
		})

		It("should only pick up image files", func() {
			Expect(sheets).To(HaveLen(3))
			Expect(sheets[0].ID).To(Equal("a-good.png"))
		})

		It("should keep outcomes in input order", func() {
			Expect(batch.Outcomes).To(HaveLen(3))
			for i, out := range batch.Outcomes {
				Expect(out.SheetID).To(Equal(sheets[i].ID))
			}
		})

		It("should grade the good sheet", func() {
			good := batch.Outcomes[0]
			Expect(good.Err).NotTo(HaveOccurred())
			Expect(good.Result.Report.Score).To(BeNumerically("~", 10, 1e-9))
			Expect(good.Result.StudentID).To(Equal("1234"))
		})

		It("should isolate each failure", func() {
			Expect(errors.Is(batch.Outcomes[1].Err, detection.ErrDocumentNotFound)).To(BeTrue())
			Expect(batch.Outcomes[2].Err).To(HaveOccurred())
			Expect(batch.Outcomes[2].Error).NotTo(BeEmpty())
		})

		It("should summarize the run", func() {
			Expect(batch.RunID).NotTo(BeEmpty())
			Expect(batch.Sheets).To(Equal(3))
			Expect(batch.Graded).To(Equal(1))
			Expect(batch.Failed).To(Equal(2))
			Expect(batch.Scored).To(Equal(1))
			Expect(batch.MeanScore).To(BeNumerically("~", 10, 1e-9))
		})

		It("should hand every outcome to the sink under the run id", func() {
			Expect(sink.outcomes).To(HaveLen(3))
			Expect(sink.outcomes).To(HaveKey(batch.RunID + "/a-good.png"))
		})
	})

	When("the sheet budget is exhausted", func() {
		BeforeEach(func() {
			cfg := testConfig()
			cfg.SheetTimeout = time.Nanosecond
			var gerr error
			grader, gerr = NewGrader(cfg)
			Expect(gerr).NotTo(HaveOccurred())
			sheets = sheets[:1]
		})

		It("should record ErrSheetTimeout on the sheet", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(errors.Is(batch.Outcomes[0].Err, ErrSheetTimeout)).To(BeTrue())
			Expect(batch.Failed).To(Equal(1))
		})
	})

	When("every sheet of a batch times out", func() {
		var before int

		BeforeEach(func() {
			cfg := testConfig()
			cfg.SheetTimeout = time.Nanosecond
			cfg.Workers = 1
			var gerr error
			grader, gerr = NewGrader(cfg)
			Expect(gerr).NotTo(HaveOccurred())

			good := sheets[0]
			sheets = nil
			for i := 0; i < 8; i++ {
				sheets = append(sheets, Sheet{ID: good.ID + "-" + string(rune('a'+i)), Path: good.Path})
			}
			before = runtime.NumGoroutine()
		})

		It("should leave no grading work running after it returns", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.Failed).To(Equal(8))
			for _, out := range batch.Outcomes {
				Expect(errors.Is(out.Err, ErrSheetTimeout)).To(BeTrue())
			}
			// one worker may still be unwinding after Wait
			Expect(runtime.NumGoroutine()).To(BeNumerically("<=", before+1))
		})
	})

	When("no answer key is supplied", func() {
		BeforeEach(func() {
			key = nil
		})

		It("should grade without scoring", func() {
			Expect(batch.Graded).To(Equal(1))
			Expect(batch.Scored).To(BeZero())
			Expect(batch.MeanScore).To(BeZero())
			Expect(batch.Outcomes[0].Result.Report).To(BeNil())
		})
	})

	When("the sink fails", func() {
		BeforeEach(func() {
			sink.err = errors.New("disk full")
		})

		It("should still grade every sheet", func() {
			Expect(err).To(MatchError(ContainSubstring("disk full")))
			Expect(batch.Graded).To(Equal(1))
		})
	})

	When("two sheets share an id", func() {
		BeforeEach(func() {
			sheets = append(sheets, sheets[0])
		})

		It("should refuse to start", func() {
			Expect(errors.Is(err, ErrDuplicateSheet)).To(BeTrue())
			Expect(batch).To(BeNil())
		})
	})

	When("there are no sheets", func() {
		BeforeEach(func() {
			sheets = nil
		})

		It("should return an empty batch", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(batch.Sheets).To(BeZero())
			Expect(batch.MeanScore).To(BeZero())
		})
	})
})

var _ = Describe("SheetsFromDir", func() {
	It("should fail for a missing directory", func() {
		_, err := SheetsFromDir(filepath.Join(GinkgoT().TempDir(), "missing"))
		Expect(err).To(HaveOccurred())
	})
})
