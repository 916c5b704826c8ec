package server

import (
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/google/uuid"

	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

// StatusClientClosedRequest reports a call cancelled by its client.
const StatusClientClosedRequest = 499

// StatusForKind maps an error kind to the HTTP status of a /call response.
func StatusForKind(kind string) int {
	switch kind {
	case "":
		return http.StatusOK
	case tool.KindInvalidRequest:
		return http.StatusBadRequest
	case tool.KindUnknownTool:
		return http.StatusNotFound
	case tool.KindInvalidArguments:
		return http.StatusUnprocessableEntity
	case tool.KindCancelled:
		return StatusClientClosedRequest
	case tool.KindProcessTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusBadGateway
	}
}

// handleCall dispatches one request envelope.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		if isMaxBytesError(err) {
			writeJSON(w, http.StatusRequestEntityTooLarge, dispatch.ErrorResponse(nil,
				tool.NewToolError(tool.KindInvalidRequest, "request body exceeds size limit", err)))
			return
		}
		writeJSON(w, http.StatusBadRequest, dispatch.ErrorResponse(nil,
			tool.NewToolError(tool.KindInvalidRequest, "reading request body: "+err.Error(), err)))
		return
	}

	req, err := dispatch.DecodeRequest(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, dispatch.ErrorResponse(req.ID, err))
		return
	}
	if req.ID == nil {
		req.ID = uuid.NewString()
	}
	if strings.TrimSpace(req.Tool) == "" {
		writeJSON(w, http.StatusBadRequest, dispatch.ErrorResponse(req.ID,
			tool.NewToolError(tool.KindInvalidRequest, "tool is required", nil)))
		return
	}

	resp := s.engine.Dispatch(dispatch.WithTransport(r.Context(), TransportHTTP), req)
	status := http.StatusOK
	if resp.Error != nil {
		status = StatusForKind(resp.Error.Kind)
	}
	writeJSON(w, status, resp)
}

// handleHealth reports liveness plus admission counters.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.engine.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"tools":     s.engine.Registry().Len(),
		"executing": stats.Executing,
		"queued":    stats.Queued,
		"limit":     stats.Limit,
	})
}

// toolView is the public rendering of a tool definition.
type toolView struct {
	Name         string             `json:"name"`
	Description  string             `json:"description,omitempty"`
	Category     string             `json:"category,omitempty"`
	TimeoutMS    int                `json:"timeout_ms,omitempty"`
	InputSchema  *jsonschema.Schema `json:"input_schema"`
	OutputSchema *jsonschema.Schema `json:"output_schema,omitempty"`
}

func newToolView(def tool.Definition, detailed bool) toolView {
	view := toolView{
		Name:        def.Name,
		Description: def.Description,
		Category:    def.Category,
		TimeoutMS:   def.TimeoutMS,
		InputSchema: def.Input.JSONSchema(),
	}
	if detailed {
		view.OutputSchema = def.Output.JSONSchema()
	}
	return view
}

// handleListTools returns the catalogue, optionally filtered by ?category=.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	category := strings.TrimSpace(r.URL.Query().Get("category"))
	defs := s.engine.Registry().List()
	views := make([]toolView, 0, len(defs))
	for _, def := range defs {
		if category != "" && def.Category != category {
			continue
		}
		views = append(views, newToolView(def, false))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGetTool returns one tool with its input and output schemas.
func (s *Server) handleGetTool(w http.ResponseWriter, r *http.Request) {
	def, err := s.engine.Registry().Lookup(r.PathValue("name"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, apiError{Error: *dispatch.ErrorResponse(nil, err).Error})
		return
	}
	writeJSON(w, http.StatusOK, newToolView(def, true))
}

// handleSearchTools ranks tools against ?q=.
func (s *Server) handleSearchTools(w http.ResponseWriter, r *http.Request) {
	if s.index == nil {
		writeError(w, http.StatusNotImplemented, "SEARCH_DISABLED", "catalogue search is not configured")
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, tool.KindInvalidRequest, fmt.Sprintf("invalid limit %q", raw))
			return
		}
		limit = n
	}
	hits, err := s.index.Search(r.URL.Query().Get("q"), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "SEARCH_ERROR", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, hits)
}
