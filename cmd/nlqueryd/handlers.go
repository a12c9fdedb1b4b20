package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/nlquery/nlquery-go/internal/config"
	"github.com/nlquery/nlquery-go/pkg/nlquery"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"time": time.Now().Format(time.RFC3339),
	})
}

// connectionRequest is the wire shape of a ConnectionHandle.
type connectionRequest struct {
	Dialect nlquery.Dialect `json:"dialect"`
	Host string `json:"host,omitempty"`
	Port int `json:"port,omitempty"`
	Database string `json:"database,omitempty"`
	SID string `json:"sid,omitempty"`
	ServiceName string `json:"service_name,omitempty"`
	FilePath string `json:"file_path,omitempty"`
	User string `json:"user,omitempty"`
}

func (req connectionRequest) toHandle() nlquery.ConnectionHandle {
	return nlquery.ConnectionHandle{
		Dialect: req.Dialect,
		Host: req.Host,
		Port: req.Port,
		Database: req.Database,
		SID: req.SID,
		ServiceName: req.ServiceName,
		FilePath: req.FilePath,
		User: req.User,
	}
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestResponse(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	handle := req.toHandle()
	if err := s.adapter.Connect(r.Context(), handle); err != nil {
		writeErrorResponse(w, http.StatusBadGateway, fmt.Sprintf("connect failed: %v", err))
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]any{
		"connection_id": handle.ConnectionID(),
	})
}

func (s *Server) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	var req connectionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestResponse(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}

	handle := req.toHandle()
	s.schema.Disconnect(handle)
	writeJSONResponse(w, http.StatusOK, map[string]any{"disconnected": handle.ConnectionID()})
}

// runQueryRequest is the wire shape of run(handle, question, options).
type runQueryRequest struct {
	Connection connectionRequest `json:"connection"`
	Question string `json:"question"`
	MaxAttempts int `json:"max_attempts,omitempty"`
	ReadOnly bool `json:"read_only,omitempty"`
	TableSubset []string `json:"table_subset,omitempty"`
}

func (s *Server) handleRunQuery(w http.ResponseWriter, r *http.Request) {
	var req runQueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeBadRequestResponse(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if req.Question == "" {
		writeBadRequestResponse(w, "question is required")
		return
	}

	result, err := s.machine.Run(r.Context(), req.Connection.toHandle(), req.Question, nlquery.RunOptions{
		MaxAttempts: req.MaxAttempts,
		ReadOnly: req.ReadOnly,
		TableSubset: req.TableSubset,
	})
	if err != nil {
		var runErr *nlquery.RunError
		if errors.As(err, &runErr) {
			writeJSONResponse(w, http.StatusUnprocessableEntity, runErr)
			return
		}
		writeInternalServerErrorResponse(w, err.Error())
		return
	}

	writeJSONResponse(w, http.StatusOK, result)
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSONResponse(w, http.StatusOK, s.reload.Current())
}

func (s *Server) handleReloadConfig(w http.ResponseWriter, r *http.Request) {
	var partial config.Document
	if err := json.NewDecoder(r.Body).Decode(&partial); err != nil {
		writeBadRequestResponse(w, fmt.Sprintf("invalid request body: %v", err))
		return
	}
	if err := s.reload.Apply(partial); err != nil {
		writeInternalServerErrorResponse(w, err.Error())
		return
	}
	writeJSONResponse(w, http.StatusOK, s.reload.Current())
}
