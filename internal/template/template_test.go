package template

import (
	"errors"
	"image"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
)

const anchorTemplate = `{
  "name": "midterm",
  "frame": {"width": 1000, "height": 1400},
  "anchor_blocks": [
    {"start": [100, 100], "end": [250, 1050], "questions": 20, "choices": 4},
    {"start": [400, 100], "end": [550, 1050], "questions": 20, "choices": 4}
  ],
  "student_id": {"start": [700, 100], "end": [900, 370], "questions": 5},
  "ocr_regions": {"info_block": [40, 20, 900, 120], "student_name": [40, 150, 400, 60]}
}`

// writeTemplate writes a template into a temp directory and returns its path.
func writeTemplate(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "template.json")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("failed to write template: %v", err)
	}
	return path
}

func TestParse_AnchorBlocks(t *testing.T) {
	layout, err := Parse(strings.NewReader(anchorTemplate))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if layout.Name != "midterm" {
		t.Errorf("Name: got %q", layout.Name)
	}
	if layout.Frame != image.Pt(1000, 1400) {
		t.Errorf("Frame: got %v", layout.Frame)
	}
	if layout.Answers.NumQuestions() != 40 {
		t.Errorf("answer questions: got %d, want 40", layout.Answers.NumQuestions())
	}

	if layout.StudentID == nil {
		t.Fatal("StudentID missing")
	}
	if layout.StudentID.NumQuestions() != 5 || layout.StudentID.NumChoices(0) != 10 {
		t.Errorf("student id shape: got %dx%d, want 5x10",
			layout.StudentID.NumQuestions(), layout.StudentID.NumChoices(0))
	}

	r, ok := layout.OCRRegion("info_block")
	if !ok || r != image.Rect(40, 20, 940, 140) {
		t.Errorf("info_block: got %v %v", r, ok)
	}
	names := layout.OCRRegionNames()
	if len(names) != 2 || names[0] != "info_block" || names[1] != "student_name" {
		t.Errorf("OCRRegionNames: got %v", names)
	}
}

func TestParse_LegacyBubbleAnchors(t *testing.T) {
	body := `{"bubble_anchors": [[100, 100], [250, 1050], [400, 100], [550, 1050]]}`

	layout, err := Parse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if layout.Answers.NumQuestions() != 40 || layout.Answers.NumChoices(39) != 4 {
		t.Errorf("shape: got %d questions x %d choices, want 40x4",
			layout.Answers.NumQuestions(), layout.Answers.NumChoices(39))
	}
	if layout.StudentID != nil {
		t.Error("StudentID should be nil when not declared")
	}
	if layout.Frame != (image.Point{}) {
		t.Errorf("Frame: got %v, want zero", layout.Frame)
	}
}

func TestParse_ExplicitGrid(t *testing.T) {
	body := `{"grid": [[[10, 10], [30, 10]], [[10, 40], [30, 40], [50, 40]]]}`

	layout, err := Parse(strings.NewReader(body))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if p, _ := layout.Answers.Bubble(1, 2); p != image.Pt(50, 40) {
		t.Errorf("Bubble(1,2): got %v", p)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"no bubbles", `{"name": "empty"}`},
		{"two variants", `{"grid": [[[1, 1]]], "bubble_anchors": [[0, 0], [10, 10]]}`},
		{"odd anchors", `{"bubble_anchors": [[0, 0], [10, 10], [20, 20]]}`},
		{"zero questions", `{"anchor_blocks": [{"start": [0, 0], "end": [10, 10], "questions": 0, "choices": 4}]}`},
		{"empty grid question", `{"grid": [[[1, 1]], []]}`},
		{"bad frame", `{"frame": {"width": 0, "height": 10}, "grid": [[[1, 1]]]}`},
		{"bad ocr region", `{"grid": [[[1, 1]]], "ocr_regions": {"name": [0, 0, 0, 10]}}`},
		{"bad student id", `{"grid": [[[1, 1]]], "student_id": {"start": [0, 0], "end": [1, 1], "questions": 0}}`},
		{"unknown field", `{"grid": [[[1, 1]]], "bubbles": 3}`},
		{"not json", `grid`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.body))
			if !errors.Is(err, ErrInvalidTemplate) {
				t.Errorf("got %v, want ErrInvalidTemplate", err)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := writeTemplate(t, anchorTemplate)

	layout, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}
	if layout.Answers.NumQuestions() != 40 {
		t.Errorf("questions: got %d, want 40", layout.Answers.NumQuestions())
	}

	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.json")); err == nil {
		t.Error("LoadFile should fail for a missing file")
	}
}

func TestCache(t *testing.T) {
	cache := NewCache()
	path := writeTemplate(t, anchorTemplate)

	first, err := cache.Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	second, err := cache.Load(path)
	if err != nil {
		t.Fatalf("second Load failed: %v", err)
	}
	if first != second {
		t.Error("second Load did not return the cached layout")
	}

	cache.Evict(path)
	third, _ := cache.Load(path)
	if third == first {
		t.Error("Load after Evict should rebuild the layout")
	}

	cache.Clear()
	cache.mu.RLock()
	count := len(cache.layouts)
	cache.mu.RUnlock()
	if count != 0 {
		t.Errorf("Clear left %d layouts", count)
	}
}

func TestCache_FailuresNotCached(t *testing.T) {
	cache := NewCache()
	path := writeTemplate(t, `{"name": "broken"}`)

	if _, err := cache.Load(path); !errors.Is(err, ErrInvalidTemplate) {
		t.Fatalf("got %v, want ErrInvalidTemplate", err)
	}

	if err := os.WriteFile(path, []byte(anchorTemplate), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Load(path); err != nil {
		t.Errorf("fixed template should load: %v", err)
	}
}

func TestCache_ConcurrentAccess(t *testing.T) {
	cache := NewCache()
	path := writeTemplate(t, anchorTemplate)

	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := cache.Load(path); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		t.Errorf("concurrent Load error: %v", err)
	}
}
