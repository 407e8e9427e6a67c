// Package server implements the MCP (Model Context Protocol) server for the
// answer sheet grader.
//
// It exposes the grading pipeline and its individual stages as JSON-RPC 2.0
// tools, so an MCP client can grade sheets and diagnose the ones that fail.
//
// # Protocol
//
// The server communicates over stdio using JSON-RPC 2.0:
//   - Input: JSON-RPC requests on stdin (one per line)
//   - Output: JSON-RPC responses on stdout
//
// Supported MCP methods:
//   - initialize: Protocol handshake
//   - tools/list: Enumerate available tools
//   - tools/call: Execute a tool with arguments
//   - ping: Health check
//
// # Available Tools
//
// Image Inspection:
//   - image_info: Decode an image and report its size and format
//   - image_crop: Extract a region as base64 PNG
//   - image_edge_detect: Canny edge map used by sheet location
//
// Sheet Geometry:
//   - sheet_locate: Find the sheet outline
//   - sheet_rectify: Warp the sheet into the canonical frame
//
// Templates and Keys:
//   - template_grid: Expand a template into bubble grids
//   - answer_key_load: Parse an answer key CSV
//
// Grading:
//   - sheet_grade: Grade one sheet
//   - sheet_grade_batch: Grade a directory of sheets concurrently
//
// Stored Results (need WithStore):
//   - results_list: List stored runs, or one run's sheet records
//   - results_get: One stored sheet record
//   - results_delete: Remove a stored run
//
// # Caching
//
// Decoded images and parsed templates are cached by path for the lifetime of
// the server process. Answer keys are small and re-read on every call.
//
// # Error Handling
//
// Tool execution errors are returned as JSON-RPC error responses with:
//   - code: -32000 (tool execution failure) or standard JSON-RPC codes
//   - message: Human-readable error description
//   - data: The Go error string
//
// # Usage
//
//	grader, err := pipeline.NewGrader(pipeline.DefaultConfig())
//	if err != nil {
//	    return err
//	}
//	srv, err := server.New(grader)
//	if err != nil {
//	    return err
//	}
//	return srv.Run()
package server
