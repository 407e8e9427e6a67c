package server

// Tool represents an MCP tool definition
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"inputSchema"`
}

func pathProperty(description string) map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": description,
	}
}

// GetToolDefinitions returns all available tools
func GetToolDefinitions() []Tool {
	return []Tool{
		// Image Inspection
		{
			Name:        "image_info",
			Description: "Decode a sheet image (PNG, JPEG, GIF, BMP, TIFF, HEIC or the first page of a PDF) and return its dimensions, format and file size.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the image file"),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "image_crop",
			Description: "Crop a rectangular region from an image and return it as base64-encoded PNG. Use this to inspect individual bubbles or handwritten fields.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the image file"),
					"x1": map[string]interface{}{
						"type":        "integer",
						"description": "Left edge X coordinate (0-based)",
					},
					"y1": map[string]interface{}{
						"type":        "integer",
						"description": "Top edge Y coordinate (0-based)",
					},
					"x2": map[string]interface{}{
						"type":        "integer",
						"description": "Right edge X coordinate (exclusive)",
					},
					"y2": map[string]interface{}{
						"type":        "integer",
						"description": "Bottom edge Y coordinate (exclusive)",
					},
					"scale": map[string]interface{}{
						"type":        "number",
						"description": "Scale factor for output (default 1.0, use 2.0 to zoom in)",
						"default":     1.0,
					},
				},
				"required": []string{"path", "x1", "y1", "x2", "y2"},
			},
		},
		{
			Name:        "image_edge_detect",
			Description: "Run the Canny edge detector used to find the sheet outline and return the edge map as base64-encoded PNG. Useful for diagnosing sheets that fail to locate.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the image file"),
					"threshold_low": map[string]interface{}{
						"type":        "integer",
						"description": "Lower hysteresis threshold (default: the grader's configured value, 75)",
					},
					"threshold_high": map[string]interface{}{
						"type":        "integer",
						"description": "Upper hysteresis threshold (default: the grader's configured value, 200)",
					},
				},
				"required": []string{"path"},
			},
		},

		// Sheet Geometry
		{
			Name:        "sheet_locate",
			Description: "Find the answer sheet in a photo. Returns the four corners of the largest convex quadrilateral outline in original image coordinates, its area and how many candidates were seen.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the sheet image"),
				},
				"required": []string{"path"},
			},
		},
		{
			Name:        "sheet_rectify",
			Description: "Locate the sheet and warp it into the canonical frame that template coordinates refer to. Returns the ordered corners and the frame as base64-encoded PNG.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the sheet image"),
					"include_outside": map[string]interface{}{
						"type":        "boolean",
						"description": "Also return the original image with the sheet blacked out (default: false)",
						"default":     false,
					},
				},
				"required": []string{"path"},
			},
		},

		// Templates and Keys
		{
			Name:        "template_grid",
			Description: "Load a sheet template and expand it into bubble grids. Returns question and choice counts, grid bounds and OCR regions, optionally with every bubble center.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"template": pathProperty("Absolute path to the template JSON file"),
					"include_bubbles": map[string]interface{}{
						"type":        "boolean",
						"description": "Include every bubble center in frame coordinates (default: false)",
						"default":     false,
					},
				},
				"required": []string{"template"},
			},
		},
		{
			Name:        "answer_key_load",
			Description: "Parse an answer key CSV of (question, letter) rows. Returns the choice indices, their letters and the number of unusable entries.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path": pathProperty("Absolute path to the answer key CSV"),
					"alphabet": map[string]interface{}{
						"type":        "string",
						"description": "Choice letters in order (default: \"ABCD\")",
					},
				},
				"required": []string{"path"},
			},
		},

		// Grading
		{
			Name:        "sheet_grade",
			Description: "Grade one answer sheet: locate, rectify, decide every bubble and score against the answer key. Returns answers, student ID, score report, OCR fields and warnings.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"path":       pathProperty("Absolute path to the sheet image"),
					"template":   pathProperty("Absolute path to the template JSON file"),
					"answer_key": pathProperty("Absolute path to the answer key CSV (omit to decide answers without scoring)"),
					"alphabet": map[string]interface{}{
						"type":        "string",
						"description": "Choice letters in order (default: \"ABCD\")",
					},
					"include_frame": map[string]interface{}{
						"type":        "boolean",
						"description": "Return the rectified frame as base64-encoded PNG (default: false)",
						"default":     false,
					},
				},
				"required": []string{"path", "template"},
			},
		},
		{
			Name:        "sheet_grade_batch",
			Description: "Grade every sheet image in a directory concurrently. Failed sheets are reported individually and never stop the batch. Returns the run summary and per-sheet outcomes.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"dir":        pathProperty("Absolute path to the directory of sheet images"),
					"template":   pathProperty("Absolute path to the template JSON file"),
					"answer_key": pathProperty("Absolute path to the answer key CSV (omit to decide answers without scoring)"),
					"alphabet": map[string]interface{}{
						"type":        "string",
						"description": "Choice letters in order (default: \"ABCD\")",
					},
				},
				"required": []string{"dir", "template"},
			},
		},

		// Stored Results
		{
			Name:        "results_list",
			Description: "List stored grading runs, most recent first. With run_id, return that run's summary and every stored sheet record. Requires a results database.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"run_id": map[string]interface{}{
						"type":        "string",
						"description": "Run to expand (omit to list all runs)",
					},
				},
				"required": []string{},
			},
		},
		{
			Name:        "results_get",
			Description: "Return the stored record of one sheet: answers, student ID, score, OCR fields, warnings or error.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"run_id": map[string]interface{}{
						"type":        "string",
						"description": "Run the sheet was graded in",
					},
					"sheet_id": map[string]interface{}{
						"type":        "string",
						"description": "Sheet ID (the file name for directory batches)",
					},
				},
				"required": []string{"run_id", "sheet_id"},
			},
		},
		{
			Name:        "results_delete",
			Description: "Delete a stored run and all of its sheet records.",
			InputSchema: map[string]interface{}{
				"type": "object",
				"properties": map[string]interface{}{
					"run_id": map[string]interface{}{
						"type":        "string",
						"description": "Run to delete",
					},
				},
				"required": []string{"run_id"},
			},
		},
	}
}
