package main

import (
	"context"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/nlquery/nlquery-go/internal/applog"
	"github.com/nlquery/nlquery-go/internal/dbadapter"
	"github.com/nlquery/nlquery-go/internal/reload"
	"github.com/nlquery/nlquery-go/internal/schema"
	"github.com/nlquery/nlquery-go/internal/statemachine"
)

// Server wires the HTTP and MCP surfaces to the shared query machine.
type Server struct {
	router *mux.Router
	mcpServer http.Handler

	adapter *dbadapter.Adapter
	schema *schema.Store
	machine *statemachine.Machine
	reload *reload.Coordinator

	log *applog.Logger
}

func NewServer(adapter *dbadapter.Adapter, schemaStore *schema.Store, machine *statemachine.Machine, coordinator *reload.Coordinator) *Server {
	s := &Server{
		router: mux.NewRouter(),
		adapter: adapter,
		schema: schemaStore,
		machine: machine,
		reload: coordinator,
		log: applog.New("http"),
	}
	s.mcpServer = newMCPHandler(machine)
	s.setupRoutes()
	return s
}

// Shutdown drains the state machine's in-flight retrieval-record calls
// before the process exits.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.machine.Shutdown(ctx)
}
