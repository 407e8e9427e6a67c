package server

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/ironsheep/omr-grader/internal/detection"
	omrimg "github.com/ironsheep/omr-grader/internal/imaging"
	"github.com/ironsheep/omr-grader/internal/pipeline"
	"github.com/ironsheep/omr-grader/internal/rectify"
	"github.com/ironsheep/omr-grader/internal/scoring"
	"github.com/ironsheep/omr-grader/internal/store"
	"github.com/ironsheep/omr-grader/internal/template"
)

// Version is reported in the initialize handshake.
var Version = "0.1.0"

// Server handles MCP protocol communication
type Server struct {
	images    *omrimg.Loader
	templates *template.Cache
	grader    *pipeline.Grader
	locator   *detection.Locator
	rectifier *rectify.Rectifier
	sink      pipeline.Sink
	results   ResultStore
	alphabet  string
	logger    *slog.Logger
}

// Option customizes a Server.
type Option func(*Server)

// ResultStore keeps graded runs and reads them back. *store.BoltStore
// implements it.
type ResultStore interface {
	pipeline.Sink
	SaveRun(run *store.Run) error
	GetRun(id string) (*store.Run, error)
	ListRuns() ([]*store.Run, error)
	GetRecord(runID, sheetID string) (*store.Record, error)
	ListRecords(runID string) ([]*store.Record, error)
	DeleteRun(id string) error
}

// WithSink hands every sheet graded by sheet_grade_batch to sink.
func WithSink(sink pipeline.Sink) Option {
	return func(s *Server) {
		s.sink = sink
	}
}

// WithStore persists sheet_grade_batch runs in st and enables the results
// tools.
func WithStore(st ResultStore) Option {
	return func(s *Server) {
		s.sink = st
		s.results = st
	}
}

// WithAlphabet sets the default answer key alphabet. The default is
// scoring.DefaultAlphabet.
func WithAlphabet(alphabet string) Option {
	return func(s *Server) {
		s.alphabet = alphabet
	}
}

// WithLogger sets the server logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		s.logger = l
	}
}

// MCPRequest represents an incoming JSON-RPC request
type MCPRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      interface{}     `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// MCPResponse represents an outgoing JSON-RPC response
type MCPResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      interface{} `json:"id"`
	Result  interface{} `json:"result,omitempty"`
	Error   *MCPError   `json:"error,omitempty"`
}

// MCPError represents a JSON-RPC error
type MCPError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// New creates a server that grades with grader.
//
// The locate and rectify tools reuse the grader's stage configuration, so
// they report exactly what sheet_grade would see.
func New(grader *pipeline.Grader, opts ...Option) (*Server, error) {
	cfg := grader.Config()
	locator, err := detection.NewLocator(cfg.Locate)
	if err != nil {
		return nil, fmt.Errorf("failed to create locator: %w", err)
	}
	rectifier, err := rectify.NewRectifier(cfg.Rectify)
	if err != nil {
		return nil, fmt.Errorf("failed to create rectifier: %w", err)
	}

	s := &Server{
		images:    omrimg.NewLoader(),
		templates: template.NewCache(),
		grader:    grader,
		locator:   locator,
		rectifier: rectifier,
		alphabet:  scoring.DefaultAlphabet,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run starts the MCP server, reading from stdin and writing to stdout
func (s *Server) Run() error {
	return s.Serve(os.Stdin, os.Stdout)
}

// Serve handles newline-delimited JSON-RPC requests from r until EOF,
// writing one response per line to w.
func (s *Server) Serve(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	// Increase buffer size for large requests
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	encoder := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req MCPRequest
		if err := json.Unmarshal(line, &req); err != nil {
			s.logger.Warn("failed to parse request", "error", err)
			continue
		}

		resp := s.handleRequest(&req)
		if resp != nil {
			if err := encoder.Encode(resp); err != nil {
				s.logger.Error("failed to encode response", "method", req.Method, "error", err)
			}
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("scanner error: %w", err)
	}

	return nil
}

// handleRequest routes requests to appropriate handlers
func (s *Server) handleRequest(req *MCPRequest) *MCPResponse {
	switch req.Method {
	case "initialize":
		return s.handleInitialize(req)
	case "notifications/initialized":
		// Client acknowledgment, no response needed
		return nil
	case "tools/list":
		return s.handleToolsList(req)
	case "tools/call":
		return s.handleToolsCall(req)
	case "ping":
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Result:  map[string]interface{}{},
		}
	default:
		return &MCPResponse{
			JSONRPC: "2.0",
			ID:      req.ID,
			Error: &MCPError{
				Code:    -32601,
				Message: fmt.Sprintf("Method not found: %s", req.Method),
			},
		}
	}
}

// handleInitialize responds to the initialize request
func (s *Server) handleInitialize(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"protocolVersion": "2024-11-05",
			"capabilities": map[string]interface{}{
				"tools": map[string]interface{}{},
			},
			"serverInfo": map[string]interface{}{
				"name":    "omr-grader",
				"version": Version,
			},
		},
	}
}

// handleToolsList returns the available tools
func (s *Server) handleToolsList(req *MCPRequest) *MCPResponse {
	return &MCPResponse{
		JSONRPC: "2.0",
		ID:      req.ID,
		Result: map[string]interface{}{
			"tools": GetToolDefinitions(),
		},
	}
}
