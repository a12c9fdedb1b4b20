package main

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/nlquery/nlquery-go/internal/statemachine"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

// mcpHandler exposes the query machine as an MCP-compatible tool surface:
// a tool discovery endpoint plus a single execution endpoint, both plain
// JSON over HTTP rather than a binary MCP transport.
type mcpHandler struct {
	machine *statemachine.Machine
}

func newMCPHandler(machine *statemachine.Machine) http.Handler {
	return &mcpHandler{machine: machine}
}

func (h *mcpHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if r.URL.Path == "/mcp/tools" && r.Method == http.MethodGet {
		h.handleToolDiscovery(w, r)
		return
	}

	if r.URL.Path == "/mcp/tools/execute" && r.Method == http.MethodPost {
		h.handleToolExecution(w, r)
		return
	}

	http.Error(w, "Not found", http.StatusNotFound)
}

func (h *mcpHandler) handleToolDiscovery(w http.ResponseWriter, r *http.Request) {
	tools := []map[string]any{
		{
			"name":        "query.run",
			"description": "Answer a natural-language question against a connected database and return the generated SQL, an explanation, and the result set",
			"inputSchema": map[string]any{
				"type": "object",
				"properties": map[string]any{
					"connection": map[string]any{
						"type":        "object",
						"description": "ConnectionHandle identifying the target database",
					},
					"question": map[string]any{
						"type":        "string",
						"description": "The natural-language question to translate into SQL",
					},
					"read_only": map[string]any{
						"type":        "boolean",
						"description": "Reject any generated statement containing INSERT, UPDATE, DELETE, DROP, ALTER, CREATE, TRUNCATE, GRANT or REVOKE",
					},
				},
				"required": []string{"connection", "question"},
			},
		},
	}

	json.NewEncoder(w).Encode(map[string]any{"tools": tools})
}

func (h *mcpHandler) handleToolExecution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ToolName  string         `json:"tool_name"`
		Arguments map[string]any `json:"arguments"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request: %v", err), http.StatusBadRequest)
		return
	}
	if req.ToolName != "query.run" {
		http.Error(w, fmt.Sprintf("unknown tool: %s", req.ToolName), http.StatusNotFound)
		return
	}

	argsJSON, err := json.Marshal(req.Arguments)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid arguments: %v", err), http.StatusBadRequest)
		return
	}

	var params struct {
		Connection connectionRequest `json:"connection"`
		Question   string            `json:"question"`
		ReadOnly   bool              `json:"read_only"`
	}
	if err := json.Unmarshal(argsJSON, &params); err != nil {
		http.Error(w, fmt.Sprintf("invalid arguments: %v", err), http.StatusBadRequest)
		return
	}
	if params.Question == "" {
		http.Error(w, "question is required", http.StatusBadRequest)
		return
	}

	result, err := h.machine.Run(r.Context(), params.Connection.toHandle(), params.Question, nlquery.RunOptions{
		ReadOnly: params.ReadOnly,
	})
	if err != nil {
		http.Error(w, fmt.Sprintf("query execution failed: %v", err), http.StatusUnprocessableEntity)
		return
	}

	json.NewEncoder(w).Encode(map[string]any{
		"success": true,
		"result":  result,
	})
}
