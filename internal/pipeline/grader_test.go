package pipeline

import (
	"context"
	"errors"
	"image"
	"strings"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/ironsheep/omr-grader/internal/detection"
	"github.com/ironsheep/omr-grader/internal/ocr"
	"github.com/ironsheep/omr-grader/internal/omr"
	"github.com/ironsheep/omr-grader/internal/scoring"
	"github.com/ironsheep/omr-grader/internal/template"
)

// fakeText records the regions it was asked to read.
type fakeText struct {
	regions map[string]image.Rectangle
	err     error
}

func (f *fakeText) ReadFields(img image.Image, regions map[string]image.Rectangle) (map[string]ocr.Field, error) {
	f.regions = regions
	if f.err != nil {
		return nil, f.err
	}
	fields := make(map[string]ocr.Field, len(regions))
	for name := range regions {
		fields[name] = ocr.Field{Name: name, Raw: "Ada", Text: ocr.CleanField(name, "ada")}
	}
	return fields, nil
}

var _ = Describe("Grader", func() {
	var (
		grader  *Grader
		layout  *template.Layout
		answers []int
		key     scoring.AnswerKey
	)

	BeforeEach(func() {
		var err error
		grader, err = NewGrader(testConfig())
		Expect(err).NotTo(HaveOccurred())

		layout = testLayout()
		answers = make([]int, 20)
		key = make(scoring.AnswerKey, 20)
		for q := range answers {
			answers[q] = (q * 3) % 4
			key[q] = answers[q]
		}
	})

	Describe("GradeSheet", func() {
		var (
			img    image.Image
			result *SheetResult
			err    error
		)

		JustBeforeEach(func() {
			result, err = grader.GradeSheet(context.Background(), img, layout, key)
		})

		When("every answer matches the key", func() {
			BeforeEach(func() {
				img = sheetImage(layout, answers, "2024")
			})

			It("should not return an error", func() {
				Expect(err).NotTo(HaveOccurred())
			})

			It("should produce the canonical frame", func() {
				Expect(result.Frame.Bounds().Dx()).To(Equal(frameW))
				Expect(result.Frame.Bounds().Dy()).To(Equal(frameH))
			})

			It("should decide every question", func() {
				Expect(result.Decision.Answers).To(Equal(omr.AnswerVector(answers)))
			})

			It("should score 10 with all-true results", func() {
				Expect(result.Report.Score).To(BeNumerically("~", 10, 1e-9))
				Expect(result.Report.Correct).To(Equal(20))
				Expect(result.Report.Results).NotTo(ContainElement(false))
			})

			It("should read the student id", func() {
				Expect(result.StudentID).To(Equal("2024"))
			})

			It("should have no warnings", func() {
				Expect(result.Warnings).To(BeEmpty())
			})

			It("should order the corners from top-left", func() {
				Expect(result.Corners[0].X).To(BeNumerically("~", sheetOffset, 4))
				Expect(result.Corners[0].Y).To(BeNumerically("~", sheetOffset, 4))
				Expect(result.Corners[2].X).To(BeNumerically("~", sheetOffset+frameW, 4))
			})
		})

		When("some questions are wrong or blank", func() {
			BeforeEach(func() {
				marked := append([]int(nil), answers...)
				marked[0] = (answers[0] + 1) % 4
				marked[1] = omr.Unanswered
				img = sheetImage(layout, marked, "")
			})

			It("should count only the matching answers", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Decision.Answers[1]).To(Equal(omr.Unanswered))
				Expect(result.Report.Correct).To(Equal(18))
				Expect(result.Report.Score).To(BeNumerically("~", 9, 1e-9))
			})

			It("should mark unreadable id digits", func() {
				Expect(result.StudentID).To(Equal("????"))
			})
		})

		When("the key is empty", func() {
			BeforeEach(func() {
				img = sheetImage(layout, answers, "")
				key = scoring.AnswerKey{}
			})

			It("should still grade with a warning", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Report.Score).To(BeZero())
				Expect(result.Warnings).To(ContainElement(ContainSubstring("answer key is empty")))
			})
		})

		When("no key is supplied", func() {
			BeforeEach(func() {
				img = sheetImage(layout, answers, "")
				key = nil
			})

			It("should skip scoring", func() {
				Expect(err).NotTo(HaveOccurred())
				Expect(result.Report).To(BeNil())
				Expect(result.Decision.Answers).To(HaveLen(20))
			})
		})

		When("there is no sheet in the image", func() {
			BeforeEach(func() {
				img = blankDesk()
			})

			It("should return ErrDocumentNotFound", func() {
				Expect(errors.Is(err, detection.ErrDocumentNotFound)).To(BeTrue())
				Expect(result).To(BeNil())
			})
		})

		When("the template frame differs from the configured frame", func() {
			BeforeEach(func() {
				img = sheetImage(layout, answers, "")
				var perr error
				layout, perr = template.Parse(strings.NewReader(strings.Replace(testTemplate, `"width": 500`, `"width": 1000`, 1)))
				Expect(perr).NotTo(HaveOccurred())
			})

			It("should return ErrInvalidTemplate", func() {
				Expect(errors.Is(err, template.ErrInvalidTemplate)).To(BeTrue())
			})
		})
	})

	Describe("GradeSheet with a cancelled context", func() {
		It("should stop before locating", func() {
			ctx, cancel := context.WithCancel(context.Background())
			cancel()

			_, err := grader.GradeSheet(ctx, sheetImage(layout, answers, ""), layout, key)
			Expect(errors.Is(err, context.Canceled)).To(BeTrue())
		})
	})

	Describe("text regions", func() {
		var text *fakeText

		BeforeEach(func() {
			text = &fakeText{}
			var err error
			grader, err = NewGrader(testConfig(), WithTextReader(text))
			Expect(err).NotTo(HaveOccurred())

			withRegions := strings.Replace(testTemplate, `"name": "pipeline-test",`,
				`"name": "pipeline-test", "ocr_regions": {"student_name": [0, 0, 300, 40]},`, 1)
			layout, err = template.Parse(strings.NewReader(withRegions))
			Expect(err).NotTo(HaveOccurred())
		})

		It("should read the template's regions from the outside image", func() {
			result, err := grader.GradeSheet(context.Background(), sheetImage(layout, answers, ""), layout, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(text.regions).To(HaveKeyWithValue("student_name", image.Rect(0, 0, 300, 40)))
			Expect(result.Fields["student_name"].Text).To(Equal("Ada"))
		})

		It("should record reader failures as warnings", func() {
			text.err = errors.New("tesseract unavailable")
			result, err := grader.GradeSheet(context.Background(), sheetImage(layout, answers, ""), layout, key)
			Expect(err).NotTo(HaveOccurred())
			Expect(result.Warnings).To(ContainElement(ContainSubstring("tesseract unavailable")))
		})
	})

	Describe("NewGrader", func() {
		It("should reject an invalid configuration", func() {
			cfg := testConfig()
			cfg.Workers = 0
			_, err := NewGrader(cfg)
			Expect(err).To(HaveOccurred())
		})
	})
})
