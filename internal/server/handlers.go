package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"

	"github.com/ironsheep/omr-grader/internal/detection"
	omrimg "github.com/ironsheep/omr-grader/internal/imaging"
	"github.com/ironsheep/omr-grader/internal/pipeline"
	"github.com/ironsheep/omr-grader/internal/scoring"
	"github.com/ironsheep/omr-grader/internal/store"
	"github.com/ironsheep/omr-grader/internal/template"
)

// ToolCallParams represents the parameters for a tools/call MCP request.
type ToolCallParams struct {
	// Name is the tool to invoke (e.g., "sheet_grade", "template_grid").
	Name string `json:"name"`

	// Arguments contains the tool-specific parameters as JSON.
	Arguments json.RawMessage `json:"arguments"`
}

// handleToolsCall processes a tools/call request and executes the specified tool.
//
// The response wraps the tool result in MCP's content format:
//
//	{
//	  "content": [{"type": "text", "text": "<JSON result>"}]
//	}
//
// Tool execution errors return a JSON-RPC error response with code -32000.
func (s *Server) handleToolsCall(req *MCPRequest) *MCPResponse {
	var params ToolCallParams
	if err := json.Unmarshal(req.Params, &params); err != nil {
		return s.errorResponse(req.ID, -32602, "Invalid params", err.Error())
	}

	result, err := s.executeTool(params.Name, params.Arguments)
	if err != nil {
		s.logger.Debug("tool failed", "tool", params.Name, "error", err)
		return s.errorResponse(req.ID, -32000, "Tool execution failed", err.Error())
	}

	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"content": []map[string]interface{}{
				{
					"type": "text",
					"text": mustMarshalJSON(result),
				},
			},
		},
	}
}

// executeTool dispatches tool execution to the appropriate handler function.
//
// Each tool handler:
//  1. Unmarshals arguments from JSON
//  2. Applies default values for optional parameters
//  3. Loads images and templates from their caches
//  4. Calls the appropriate pipeline stage
//  5. Returns the result or error
func (s *Server) executeTool(name string, args json.RawMessage) (interface{}, error) {
	switch name {
	// Image Inspection
	case "image_info":
		return s.handleImageInfo(args)
	case "image_crop":
		return s.handleImageCrop(args)
	case "image_edge_detect":
		return s.handleImageEdgeDetect(args)

	// Sheet Geometry
	case "sheet_locate":
		return s.handleSheetLocate(args)
	case "sheet_rectify":
		return s.handleSheetRectify(args)

	// Templates and Keys
	case "template_grid":
		return s.handleTemplateGrid(args)
	case "answer_key_load":
		return s.handleAnswerKeyLoad(args)

	// Grading
	case "sheet_grade":
		return s.handleSheetGrade(args)
	case "sheet_grade_batch":
		return s.handleSheetGradeBatch(args)

	// Stored Results
	case "results_list":
		return s.handleResultsList(args)
	case "results_get":
		return s.handleResultsGet(args)
	case "results_delete":
		return s.handleResultsDelete(args)

	default:
		return nil, fmt.Errorf("unknown tool: %s", name)
	}
}

// errorResponse creates a JSON-RPC error response with the given details.
func (s *Server) errorResponse(id interface{}, code int, message, data string) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error: &MCPError{
			Code:    code,
			Message: message,
			Data:    data,
		},
	}
}

// mustMarshalJSON converts a value to pretty-printed JSON string.
// Panics are suppressed; on marshal failure, returns an empty string.
func mustMarshalJSON(v interface{}) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

// encodedImage is an image returned inline to the client.
type encodedImage struct {
	Width       int    `json:"width"`
	Height      int    `json:"height"`
	ImageBase64 string `json:"image_base64"`
	MimeType    string `json:"mime_type"`
}

func encodeImage(img image.Image) (*encodedImage, error) {
	data, err := omrimg.EncodePNGBase64(img)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	return &encodedImage{
		Width:       img.Bounds().Dx(),
		Height:      img.Bounds().Dy(),
		ImageBase64: data,
		MimeType:    "image/png",
	}, nil
}

// === Image Inspection Handlers ===

type imageInfoArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleImageInfo(args json.RawMessage) (interface{}, error) {
	var a imageInfoArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	return omrimg.Info(a.Path)
}

type imageCropArgs struct {
	Path  string  `json:"path"`
	X1    int     `json:"x1"`
	Y1    int     `json:"y1"`
	X2    int     `json:"x2"`
	Y2    int     `json:"y2"`
	Scale float64 `json:"scale"`
}

func (s *Server) handleImageCrop(args json.RawMessage) (interface{}, error) {
	var a imageCropArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Scale == 0 {
		a.Scale = 1.0
	}
	img, err := s.images.Load(a.Path)
	if err != nil {
		return nil, err
	}
	cropped, err := omrimg.CropRegion(img, image.Rect(a.X1, a.Y1, a.X2, a.Y2), a.Scale)
	if err != nil {
		return nil, err
	}
	return encodeImage(cropped)
}

type imageEdgeDetectArgs struct {
	Path          string `json:"path"`
	ThresholdLow  int    `json:"threshold_low"`
	ThresholdHigh int    `json:"threshold_high"`
}

func (s *Server) handleImageEdgeDetect(args json.RawMessage) (interface{}, error) {
	var a imageEdgeDetectArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	edge := s.grader.Config().Locate.Edge
	if a.ThresholdLow == 0 {
		a.ThresholdLow = edge.ThresholdLow
	}
	if a.ThresholdHigh == 0 {
		a.ThresholdHigh = edge.ThresholdHigh
	}
	img, err := s.images.Load(a.Path)
	if err != nil {
		return nil, err
	}
	return omrimg.EdgeDetect(img, a.ThresholdLow, a.ThresholdHigh)
}

// === Sheet Geometry Handlers ===

// sheetContext bounds single-sheet tools by the grader's per-sheet budget.
func (s *Server) sheetContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.grader.Config().SheetTimeout)
}

type sheetPathArgs struct {
	Path string `json:"path"`
}

func (s *Server) handleSheetLocate(args json.RawMessage) (interface{}, error) {
	var a sheetPathArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.images.Load(a.Path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.sheetContext()
	defer cancel()
	return s.locator.Locate(ctx, img)
}

type sheetRectifyArgs struct {
	Path           string `json:"path"`
	IncludeOutside bool   `json:"include_outside"`
}

// sheetRectifyResult is the rectified frame plus the geometry that produced it.
type sheetRectifyResult struct {
	Corners    detection.Quad `json:"corners"`
	WarpWidth  int            `json:"warp_width"`
	WarpHeight int            `json:"warp_height"`
	Frame      *encodedImage  `json:"frame"`
	Outside    *encodedImage  `json:"outside,omitempty"`
}

func (s *Server) handleSheetRectify(args json.RawMessage) (interface{}, error) {
	var a sheetRectifyArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	img, err := s.images.Load(a.Path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.sheetContext()
	defer cancel()

	loc, err := s.locator.Locate(ctx, img)
	if err != nil {
		return nil, err
	}
	rect, err := s.rectifier.Rectify(ctx, img, loc.Quad)
	if err != nil {
		return nil, err
	}

	result := &sheetRectifyResult{
		Corners:    rect.Corners,
		WarpWidth:  rect.WarpWidth,
		WarpHeight: rect.WarpHeight,
	}
	if result.Frame, err = encodeImage(rect.Frame); err != nil {
		return nil, err
	}
	if a.IncludeOutside {
		if result.Outside, err = encodeImage(rect.Outside); err != nil {
			return nil, err
		}
	}
	return result, nil
}

// === Template and Key Handlers ===

type templateGridArgs struct {
	Template       string `json:"template"`
	IncludeBubbles bool   `json:"include_bubbles"`
}

// gridSummary describes one expanded bubble grid.
type gridSummary struct {
	Questions int             `json:"questions"`
	Choices   []int           `json:"choices"`
	Bounds    [4]int          `json:"bounds"`
	Bubbles   [][]image.Point `json:"bubbles,omitempty"`
}

// templateGridResult is the expanded layout of a template. OCRRegions uses
// the template's [x, y, width, height] form.
type templateGridResult struct {
	Name       string            `json:"name,omitempty"`
	Frame      *image.Point      `json:"frame,omitempty"`
	Answers    *gridSummary      `json:"answers"`
	StudentID  *gridSummary      `json:"student_id,omitempty"`
	OCRRegions map[string][4]int `json:"ocr_regions,omitempty"`
}

func summarizeGrid(g *template.BubbleGrid, includeBubbles bool) *gridSummary {
	if g == nil {
		return nil
	}
	b := g.Bounds()
	summary := &gridSummary{
		Questions: g.NumQuestions(),
		Choices:   make([]int, g.NumQuestions()),
		Bounds:    [4]int{b.Min.X, b.Min.Y, b.Max.X, b.Max.Y},
	}
	for q := range summary.Choices {
		summary.Choices[q] = g.NumChoices(q)
	}
	if includeBubbles {
		summary.Bubbles = g.Rows()
	}
	return summary
}

func (s *Server) handleTemplateGrid(args json.RawMessage) (interface{}, error) {
	var a templateGridArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	layout, err := s.templates.Load(a.Template)
	if err != nil {
		return nil, err
	}

	result := &templateGridResult{
		Name:      layout.Name,
		Answers:   summarizeGrid(layout.Answers, a.IncludeBubbles),
		StudentID: summarizeGrid(layout.StudentID, a.IncludeBubbles),
	}
	if layout.Frame != (image.Point{}) {
		frame := layout.Frame
		result.Frame = &frame
	}
	if regions := layout.OCRRegions(); len(regions) > 0 {
		result.OCRRegions = make(map[string][4]int, len(regions))
		for name, r := range regions {
			result.OCRRegions[name] = [4]int{r.Min.X, r.Min.Y, r.Dx(), r.Dy()}
		}
	}
	return result, nil
}

type answerKeyLoadArgs struct {
	Path     string `json:"path"`
	Alphabet string `json:"alphabet"`
}

// answerKeyResult is a parsed answer key with its letters.
type answerKeyResult struct {
	Size     int      `json:"size"`
	Alphabet string   `json:"alphabet"`
	Key      []int    `json:"key"`
	Letters  []string `json:"letters"`
	Invalid  int      `json:"invalid"`
}

func (s *Server) handleAnswerKeyLoad(args json.RawMessage) (interface{}, error) {
	var a answerKeyLoadArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Alphabet == "" {
		a.Alphabet = s.alphabet
	}
	key, err := scoring.LoadAnswerKey(a.Path, a.Alphabet)
	if err != nil {
		return nil, err
	}

	invalid := 0
	for _, k := range key {
		if k == scoring.Invalid {
			invalid++
		}
	}
	return &answerKeyResult{
		Size:     len(key),
		Alphabet: a.Alphabet,
		Key:      key,
		Letters:  key.Letters(a.Alphabet),
		Invalid:  invalid,
	}, nil
}

// === Grading Handlers ===

type sheetGradeArgs struct {
	Path         string `json:"path"`
	Template     string `json:"template"`
	AnswerKey    string `json:"answer_key"`
	Alphabet     string `json:"alphabet"`
	IncludeFrame bool   `json:"include_frame"`
}

// sheetGradeResult is a graded sheet with the answers spelled as letters.
type sheetGradeResult struct {
	*pipeline.SheetResult
	Letters []string      `json:"letters"`
	Image   *encodedImage `json:"frame_image,omitempty"`
}

// loadKey loads the answer key at path, or returns nil when path is empty.
func (s *Server) loadKey(path, alphabet string) (scoring.AnswerKey, error) {
	if path == "" {
		return nil, nil
	}
	return scoring.LoadAnswerKey(path, alphabet)
}

func (s *Server) handleSheetGrade(args json.RawMessage) (interface{}, error) {
	var a sheetGradeArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Alphabet == "" {
		a.Alphabet = s.alphabet
	}

	layout, err := s.templates.Load(a.Template)
	if err != nil {
		return nil, err
	}
	key, err := s.loadKey(a.AnswerKey, a.Alphabet)
	if err != nil {
		return nil, err
	}
	img, err := s.images.Load(a.Path)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.sheetContext()
	defer cancel()

	res, err := s.grader.GradeSheet(ctx, img, layout, key)
	if err != nil {
		return nil, err
	}

	result := &sheetGradeResult{
		SheetResult: res,
		Letters:     scoring.AnswerKey(res.Decision.Answers).Letters(a.Alphabet),
	}
	if a.IncludeFrame {
		if result.Image, err = encodeImage(res.Frame); err != nil {
			return nil, err
		}
	}
	return result, nil
}

type sheetGradeBatchArgs struct {
	Dir       string `json:"dir"`
	Template  string `json:"template"`
	AnswerKey string `json:"answer_key"`
	Alphabet  string `json:"alphabet"`
}

func (s *Server) handleSheetGradeBatch(args json.RawMessage) (interface{}, error) {
	var a sheetGradeBatchArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if a.Alphabet == "" {
		a.Alphabet = s.alphabet
	}

	layout, err := s.templates.Load(a.Template)
	if err != nil {
		return nil, err
	}
	key, err := s.loadKey(a.AnswerKey, a.Alphabet)
	if err != nil {
		return nil, err
	}
	sheets, err := pipeline.SheetsFromDir(a.Dir)
	if err != nil {
		return nil, err
	}

	batch, err := s.grader.RunBatch(context.Background(), sheets, layout, key, s.sink)
	if batch == nil {
		return nil, err
	}
	if err != nil {
		// The sheets were graded; only persistence failed.
		s.logger.Warn("failed to store batch outcomes", "run", batch.RunID, "error", err)
	}
	if s.results != nil {
		if err := s.results.SaveRun(store.RunFromBatch(batch, a.Template)); err != nil {
			s.logger.Warn("failed to store run summary", "run", batch.RunID, "error", err)
		}
	}
	return batch, nil
}

// === Stored Result Handlers ===

var errNoResultStore = errors.New("no results database configured (start the server with --db)")

type resultsListArgs struct {
	RunID string `json:"run_id"`
}

// runResults is one stored run with its sheet records.
type runResults struct {
	Run     *store.Run      `json:"run"`
	Records []*store.Record `json:"records"`
}

func (s *Server) handleResultsList(args json.RawMessage) (interface{}, error) {
	var a resultsListArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if s.results == nil {
		return nil, errNoResultStore
	}

	if a.RunID == "" {
		runs, err := s.results.ListRuns()
		if err != nil {
			return nil, err
		}
		return map[string]interface{}{"runs": runs}, nil
	}

	run, err := s.results.GetRun(a.RunID)
	if err != nil {
		return nil, err
	}
	records, err := s.results.ListRecords(a.RunID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}
	if records == nil {
		records = []*store.Record{}
	}
	return &runResults{Run: run, Records: records}, nil
}

type resultsGetArgs struct {
	RunID   string `json:"run_id"`
	SheetID string `json:"sheet_id"`
}

func (s *Server) handleResultsGet(args json.RawMessage) (interface{}, error) {
	var a resultsGetArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if s.results == nil {
		return nil, errNoResultStore
	}
	return s.results.GetRecord(a.RunID, a.SheetID)
}

func (s *Server) handleResultsDelete(args json.RawMessage) (interface{}, error) {
	var a resultsListArgs
	if err := json.Unmarshal(args, &a); err != nil {
		return nil, err
	}
	if s.results == nil {
		return nil, errNoResultStore
	}
	if a.RunID == "" {
		return nil, fmt.Errorf("run_id is required")
	}
	if _, err := s.results.GetRun(a.RunID); err != nil {
		return nil, err
	}
	if err := s.results.DeleteRun(a.RunID); err != nil {
		return nil, err
	}
	return map[string]interface{}{"deleted": a.RunID}, nil
}
